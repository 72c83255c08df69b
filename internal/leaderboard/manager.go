package leaderboard

import (
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/lijuuu/ContestLivescoreService/internal/model"
	"github.com/lijuuu/ContestLivescoreService/internal/rate"
	"github.com/lijuuu/ContestLivescoreService/internal/snapshot"
)

// Leaderboard is an immutable ranked view of one contest. Entries must not be mutated.
type Leaderboard struct {
	Contest     string
	Version     uint64
	GeneratedAt time.Time
	Entries     []model.LeaderboardEntry
	index       map[string]int
}

// Entry looks up a station by callsign.
func (l *Leaderboard) Entry(callsign string) (model.LeaderboardEntry, bool) {
	if l == nil {
		return model.LeaderboardEntry{}, false
	}
	i, ok := l.index[callsign]
	if !ok {
		return model.LeaderboardEntry{}, false
	}
	return l.Entries[i], true
}

func (l *Leaderboard) Len() int {
	if l == nil {
		return 0
	}
	return len(l.Entries)
}

// Record converts the leaderboard for archives and caches.
func (l *Leaderboard) Record() model.LeaderboardRecord {
	return model.LeaderboardRecord{
		Contest:     l.Contest,
		Version:     l.Version,
		GeneratedAt: l.GeneratedAt,
		Entries:     l.Entries,
	}
}

// LeaderboardManager materializes and publishes one leaderboard per contest.
// Published versions are swapped atomically; readers never observe a partial board.
type LeaderboardManager struct {
	store *snapshot.Store
	rates *rate.Calculator
	now   func() time.Time

	boards  map[string]*atomic.Pointer[Leaderboard]
	MU      sync.RWMutex
	version atomic.Uint64
}

func NewLeaderboardManager(store *snapshot.Store, rates *rate.Calculator) *LeaderboardManager {
	return &LeaderboardManager{
		store:  store,
		rates:  rates,
		now:    time.Now,
		boards: make(map[string]*atomic.Pointer[Leaderboard]),
	}
}

func (lm *LeaderboardManager) slot(contest string) *atomic.Pointer[Leaderboard] {
	lm.MU.RLock()
	p, ok := lm.boards[contest]
	lm.MU.RUnlock()
	if ok {
		return p
	}

	lm.MU.Lock()
	defer lm.MU.Unlock()
	if p, ok = lm.boards[contest]; !ok {
		p = &atomic.Pointer[Leaderboard]{}
		lm.boards[contest] = p
	}
	return p
}

// Current returns the latest published leaderboard of a contest.
func (lm *LeaderboardManager) Current(contest string) (*Leaderboard, bool) {
	lm.MU.RLock()
	p, ok := lm.boards[contest]
	lm.MU.RUnlock()
	if !ok {
		return nil, false
	}
	board := p.Load()
	return board, board != nil
}

// Materialize rebuilds the contest leaderboard from the store and publishes it.
// Calls for the same contest must be serialized by the caller.
func (lm *LeaderboardManager) Materialize(contest string) *Leaderboard {
	calls := lm.store.Stations(contest)
	entries := make([]model.LeaderboardEntry, 0, len(calls))
	for _, call := range calls {
		entry, ok := lm.buildEntry(model.StationKey{Contest: contest, Callsign: call})
		if ok {
			entries = append(entries, entry)
		}
	}

	Rank(entries)

	board := &Leaderboard{
		Contest:     contest,
		Version:     lm.version.Add(1),
		GeneratedAt: lm.now(),
		Entries:     entries,
		index:       make(map[string]int, len(entries)),
	}
	for i, e := range entries {
		board.index[e.Callsign] = i
	}

	lm.slot(contest).Store(board)
	return board
}

func (lm *LeaderboardManager) buildEntry(key model.StationKey) (model.LeaderboardEntry, bool) {
	latest, ok := lm.store.Latest(key)
	if !ok {
		return model.LeaderboardEntry{}, false
	}
	reached, _ := lm.store.ScoreReachedAt(key)
	bands := lm.store.Bands(key)
	rates := lm.rates.Station(key, bands)

	entry := model.LeaderboardEntry{
		Callsign:    key.Callsign,
		Category:    latest.Profile.Category,
		Power:       latest.Profile.Power,
		Assisted:    latest.Profile.Assisted,
		DXCC:        latest.Profile.DXCC,
		Continent:   latest.Profile.Continent,
		CQZone:      latest.Profile.CQZone,
		IARUZone:    latest.Profile.IARUZone,
		Score:       latest.Score,
		BandData:    make(map[string]int, len(bands)),
		BandMults:   make(map[string]int, len(bands)),
		TotalQSOs:   latest.TotalQSOs(),
		Multipliers: latest.TotalMultipliers(),
		LastUpdate:  latest.At,
		Rate60:      rates.Long,
		Rate15:      rates.Short,
		TotalRate60: rates.TotalLong,
		TotalRate15: rates.TotalShort,
		ReachedAt:   reached,
	}
	for _, b := range bands {
		c := latest.Bands[b]
		entry.BandData[b] = c.QSOs
		entry.BandMults[b] = c.Multipliers
	}
	return entry, true
}

// Rank sorts entries by score, then by who reached the score first, then by callsign,
// and assigns 1-based positions.
func Rank(entries []model.LeaderboardEntry) {
	sort.SliceStable(entries, func(i, j int) bool {
		a, b := entries[i], entries[j]
		if a.Score != b.Score {
			return a.Score > b.Score
		}
		if !a.ReachedAt.Equal(b.ReachedAt) {
			return a.ReachedAt.Before(b.ReachedAt)
		}
		return a.Callsign < b.Callsign
	})
	for i := range entries {
		entries[i].Position = i + 1
	}
}

// CleanupLeaderboard drops the published leaderboard of a contest.
func (lm *LeaderboardManager) CleanupLeaderboard(contest string) {
	lm.MU.Lock()
	defer lm.MU.Unlock()
	delete(lm.boards, contest)
}
