package snapshot

import (
	"sort"
	"sync"
	"time"

	"github.com/lijuuu/ContestLivescoreService/internal/model"
)

// AppendResult reports how an appended snapshot was handled.
type AppendResult struct {
	// Duplicate is set when an identical snapshot was already stored. Nothing changed.
	Duplicate bool
	// OutOfOrder is set when a cumulative figure went down relative to its neighbour.
	OutOfOrder bool
	// Created is set for the first snapshot of a station.
	Created bool
}

// BandPoint is one band sample of a station's history.
type BandPoint struct {
	At   time.Time `json:"at"`
	QSOs int       `json:"qsos"`
}

type series struct {
	snaps     []model.Snapshot
	bands     []string
	reachedAt time.Time
}

type contestShard struct {
	mu       sync.RWMutex
	stations map[string]*series
	// expired is set once the shard is unlinked from the store
	expired bool
}

// Store keeps the time-ordered snapshot history of every station, sharded by contest.
type Store struct {
	mu       sync.RWMutex
	contests map[string]*contestShard
}

func NewStore() *Store {
	return &Store{
		contests: make(map[string]*contestShard),
	}
}

func (s *Store) shard(contest string, create bool) *contestShard {
	s.mu.RLock()
	sh, ok := s.contests[contest]
	s.mu.RUnlock()
	if ok || !create {
		return sh
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if sh, ok = s.contests[contest]; !ok {
		sh = &contestShard{stations: make(map[string]*series)}
		s.contests[contest] = sh
	}
	return sh
}

func (s *Store) series(key model.StationKey) (*contestShard, *series) {
	sh := s.shard(key.Contest, false)
	if sh == nil {
		return nil, nil
	}
	sh.mu.RLock()
	defer sh.mu.RUnlock()
	return sh, sh.stations[key.Callsign]
}

// Append stores snap at its timestamp position. It never fails.
func (s *Store) Append(snap model.Snapshot) AppendResult {
	sh := s.shard(snap.Key.Contest, true)
	sh.mu.Lock()
	for sh.expired {
		sh.mu.Unlock()
		sh = s.shard(snap.Key.Contest, true)
		sh.mu.Lock()
	}
	defer sh.mu.Unlock()

	sr, ok := sh.stations[snap.Key.Callsign]
	if !ok {
		sr = &series{}
		sh.stations[snap.Key.Callsign] = sr
	}
	return sr.insert(snap, !ok)
}

func (sr *series) insert(snap model.Snapshot, created bool) AppendResult {
	res := AppendResult{Created: created}

	idx := sort.Search(len(sr.snaps), func(i int) bool {
		return sr.snaps[i].At.After(snap.At)
	})

	for i := idx - 1; i >= 0 && sr.snaps[i].At.Equal(snap.At); i-- {
		if sr.snaps[i].SameTotals(snap) {
			res.Duplicate = true
			return res
		}
	}

	if idx > 0 && snap.Regresses(sr.snaps[idx-1]) {
		res.OutOfOrder = true
	}
	if idx < len(sr.snaps) && sr.snaps[idx].Regresses(snap) {
		res.OutOfOrder = true
	}

	appended := idx == len(sr.snaps)
	sr.snaps = append(sr.snaps, model.Snapshot{})
	copy(sr.snaps[idx+1:], sr.snaps[idx:])
	sr.snaps[idx] = snap

	sr.addBands(snap)

	switch {
	case len(sr.snaps) == 1:
		sr.reachedAt = snap.At
	case appended && !res.OutOfOrder:
		if snap.Score > sr.snaps[idx-1].Score {
			sr.reachedAt = snap.At
		}
	default:
		sr.rescanReached()
	}
	return res
}

func (sr *series) addBands(snap model.Snapshot) {
	for band := range snap.Bands {
		known := false
		for _, b := range sr.bands {
			if b == band {
				known = true
				break
			}
		}
		if !known {
			sr.bands = append(sr.bands, band)
			model.SortBands(sr.bands)
		}
	}
}

// rescanReached finds the first snapshot whose score is at least the latest score.
func (sr *series) rescanReached() {
	latest := sr.snaps[len(sr.snaps)-1].Score
	for _, sn := range sr.snaps {
		if sn.Score >= latest {
			sr.reachedAt = sn.At
			return
		}
	}
}

// at returns the latest snapshot at or before t, falling back to the earliest one.
func (sr *series) at(t time.Time) model.Snapshot {
	idx := sort.Search(len(sr.snaps), func(i int) bool {
		return sr.snaps[i].At.After(t)
	})
	if idx == 0 {
		return sr.snaps[0]
	}
	return sr.snaps[idx-1]
}

// Latest returns the newest snapshot of a station.
func (s *Store) Latest(key model.StationKey) (model.Snapshot, bool) {
	sh, sr := s.series(key)
	if sr == nil {
		return model.Snapshot{}, false
	}
	sh.mu.RLock()
	defer sh.mu.RUnlock()
	return sr.snaps[len(sr.snaps)-1], true
}

// SnapshotAt returns the nearest snapshot at or before t, or the earliest one
// when t precedes the whole history.
func (s *Store) SnapshotAt(key model.StationKey, t time.Time) (model.Snapshot, bool) {
	sh, sr := s.series(key)
	if sr == nil {
		return model.Snapshot{}, false
	}
	sh.mu.RLock()
	defer sh.mu.RUnlock()
	return sr.at(t), true
}

// CountAt is SnapshotAt narrowed to one band.
func (s *Store) CountAt(key model.StationKey, band string, t time.Time) (BandPoint, bool) {
	snap, ok := s.SnapshotAt(key, t)
	if !ok {
		return BandPoint{}, false
	}
	return BandPoint{At: snap.At, QSOs: snap.QSOs(band)}, true
}

// History returns the band samples at or after since in ascending time order.
func (s *Store) History(key model.StationKey, band string, since time.Time) []BandPoint {
	sh, sr := s.series(key)
	if sr == nil {
		return nil
	}
	sh.mu.RLock()
	defer sh.mu.RUnlock()

	idx := sort.Search(len(sr.snaps), func(i int) bool {
		return !sr.snaps[i].At.Before(since)
	})
	out := make([]BandPoint, 0, len(sr.snaps)-idx)
	for _, sn := range sr.snaps[idx:] {
		out = append(out, BandPoint{At: sn.At, QSOs: sn.QSOs(band)})
	}
	return out
}

// Snapshots returns full snapshots at or after since in ascending time order.
func (s *Store) Snapshots(key model.StationKey, since time.Time) []model.Snapshot {
	sh, sr := s.series(key)
	if sr == nil {
		return nil
	}
	sh.mu.RLock()
	defer sh.mu.RUnlock()

	idx := sort.Search(len(sr.snaps), func(i int) bool {
		return !sr.snaps[i].At.Before(since)
	})
	out := make([]model.Snapshot, len(sr.snaps)-idx)
	copy(out, sr.snaps[idx:])
	return out
}

// Len returns the number of stored snapshots of a station.
func (s *Store) Len(key model.StationKey) int {
	sh, sr := s.series(key)
	if sr == nil {
		return 0
	}
	sh.mu.RLock()
	defer sh.mu.RUnlock()
	return len(sr.snaps)
}

// Bands returns every band the station has ever reported, in display order.
func (s *Store) Bands(key model.StationKey) []string {
	sh, sr := s.series(key)
	if sr == nil {
		return nil
	}
	sh.mu.RLock()
	defer sh.mu.RUnlock()
	return append([]string(nil), sr.bands...)
}

// ScoreReachedAt returns when the station first reached its current score.
func (s *Store) ScoreReachedAt(key model.StationKey) (time.Time, bool) {
	sh, sr := s.series(key)
	if sr == nil {
		return time.Time{}, false
	}
	sh.mu.RLock()
	defer sh.mu.RUnlock()
	return sr.reachedAt, true
}

// Stations returns the callsigns seen in a contest, sorted.
func (s *Store) Stations(contest string) []string {
	sh := s.shard(contest, false)
	if sh == nil {
		return nil
	}
	sh.mu.RLock()
	defer sh.mu.RUnlock()

	out := make([]string, 0, len(sh.stations))
	for call := range sh.stations {
		out = append(out, call)
	}
	sort.Strings(out)
	return out
}

// Contests returns the contests that have at least one snapshot, sorted.
func (s *Store) Contests() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]string, 0, len(s.contests))
	for name := range s.contests {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

func (s *Store) HasContest(contest string) bool {
	return s.shard(contest, false) != nil
}

// Restore bulk-loads previously persisted snapshots, for example on warm start.
// It returns the number of snapshots that were not already present.
func (s *Store) Restore(snaps []model.Snapshot) int {
	added := 0
	for _, snap := range snaps {
		if res := s.Append(snap); !res.Duplicate {
			added++
		}
	}
	return added
}

// Prune drops snapshots older than before. It keeps the newest snapshot at or
// before the cut so rate windows still find a base sample, and never leaves a
// station with fewer than two snapshots so a defined rate stays defined.
func (s *Store) Prune(before time.Time) int {
	s.mu.RLock()
	shards := make([]*contestShard, 0, len(s.contests))
	for _, sh := range s.contests {
		shards = append(shards, sh)
	}
	s.mu.RUnlock()

	removed := 0
	for _, sh := range shards {
		sh.mu.Lock()
		for _, sr := range sh.stations {
			idx := sort.Search(len(sr.snaps), func(i int) bool {
				return !sr.snaps[i].At.Before(before)
			})
			drop := min(idx-1, len(sr.snaps)-2)
			if drop <= 0 {
				continue
			}
			sr.snaps = append([]model.Snapshot(nil), sr.snaps[drop:]...)
			removed += drop
		}
		sh.mu.Unlock()
	}
	return removed
}

// ExpireContest removes a contest whose newest snapshot is older than before.
// It reports whether the contest was removed.
func (s *Store) ExpireContest(contest string, before time.Time) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	sh, ok := s.contests[contest]
	if !ok {
		return false
	}
	sh.mu.Lock()
	defer sh.mu.Unlock()
	if !sh.newest().Before(before) {
		return false
	}
	sh.expired = true
	delete(s.contests, contest)
	return true
}

// newest is the latest snapshot time in the shard. Callers hold sh.mu.
func (sh *contestShard) newest() time.Time {
	var at time.Time
	for _, sr := range sh.stations {
		if n := len(sr.snaps); n > 0 && sr.snaps[n-1].At.After(at) {
			at = sr.snaps[n-1].At
		}
	}
	return at
}
