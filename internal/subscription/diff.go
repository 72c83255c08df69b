package subscription

import (
	"maps"
	"sort"

	"github.com/lijuuu/ContestLivescoreService/internal/model"
)

// Diff compares a subscriber's baseline with a fresh view. It returns reinit when a
// baseline station left the view, in which case a full init must be sent instead.
func Diff(base, next []model.LeaderboardEntry) (changes []model.EntryPatch, reinit bool) {
	old := make(map[string]model.LeaderboardEntry, len(base))
	for _, e := range base {
		old[e.Callsign] = e
	}

	seen := 0
	for _, e := range next {
		prev, ok := old[e.Callsign]
		if !ok {
			changes = append(changes, fullPatch(e))
			continue
		}
		seen++
		if p, changed := patch(prev, e); changed {
			changes = append(changes, p)
		}
	}
	if seen < len(old) {
		return nil, true
	}
	return changes, false
}

func fullPatch(e model.LeaderboardEntry) model.EntryPatch {
	p := model.EntryPatch{Callsign: e.Callsign}
	p.New = true
	p.Position = ptr(e.Position)
	p.Category = ptr(e.Category)
	p.Power = ptr(e.Power)
	p.Assisted = ptr(e.Assisted)
	p.DXCC = ptr(e.DXCC)
	p.Continent = ptr(e.Continent)
	p.CQZone = ptr(e.CQZone)
	p.IARUZone = ptr(e.IARUZone)
	p.Score = ptr(e.Score)
	p.BandData = orEmpty(e.BandData)
	p.BandMults = orEmpty(e.BandMults)
	p.TotalQSOs = ptr(e.TotalQSOs)
	p.Multipliers = ptr(e.Multipliers)
	p.LastUpdate = ptr(e.LastUpdate)
	p.Rate60 = orEmpty(e.Rate60)
	p.Rate15 = orEmpty(e.Rate15)
	p.TotalRate60 = ptr(e.TotalRate60)
	p.TotalRate15 = ptr(e.TotalRate15)
	p.Comparison = e.Comparison
	p.Monitored = ptr(e.Monitored)
	return p
}

func patch(a, b model.LeaderboardEntry) (model.EntryPatch, bool) {
	p := model.EntryPatch{Callsign: b.Callsign}
	changed := false
	set := func(differs bool, apply func()) {
		if differs {
			apply()
			changed = true
		}
	}

	set(a.Position != b.Position, func() { p.Position = ptr(b.Position) })
	set(a.Category != b.Category, func() { p.Category = ptr(b.Category) })
	set(a.Power != b.Power, func() { p.Power = ptr(b.Power) })
	set(a.Assisted != b.Assisted, func() { p.Assisted = ptr(b.Assisted) })
	set(a.DXCC != b.DXCC, func() { p.DXCC = ptr(b.DXCC) })
	set(a.Continent != b.Continent, func() { p.Continent = ptr(b.Continent) })
	set(a.CQZone != b.CQZone, func() { p.CQZone = ptr(b.CQZone) })
	set(a.IARUZone != b.IARUZone, func() { p.IARUZone = ptr(b.IARUZone) })
	set(a.Score != b.Score, func() { p.Score = ptr(b.Score) })
	set(!maps.Equal(a.BandData, b.BandData), func() { p.BandData = orEmpty(b.BandData) })
	set(!maps.Equal(a.BandMults, b.BandMults), func() { p.BandMults = orEmpty(b.BandMults) })
	set(a.TotalQSOs != b.TotalQSOs, func() { p.TotalQSOs = ptr(b.TotalQSOs) })
	set(a.Multipliers != b.Multipliers, func() { p.Multipliers = ptr(b.Multipliers) })
	set(!a.LastUpdate.Equal(b.LastUpdate), func() { p.LastUpdate = ptr(b.LastUpdate) })
	set(!maps.Equal(a.Rate60, b.Rate60), func() { p.Rate60 = orEmpty(b.Rate60) })
	set(!maps.Equal(a.Rate15, b.Rate15), func() { p.Rate15 = orEmpty(b.Rate15) })
	set(a.TotalRate60 != b.TotalRate60, func() { p.TotalRate60 = ptr(b.TotalRate60) })
	set(a.TotalRate15 != b.TotalRate15, func() { p.TotalRate15 = ptr(b.TotalRate15) })
	set(!maps.Equal(a.Comparison, b.Comparison), func() { p.Comparison = orEmpty(b.Comparison) })
	set(a.Monitored != b.Monitored, func() { p.Monitored = ptr(b.Monitored) })
	return p, changed
}

// ApplyDelta rebuilds the next view from a baseline and the changes of one update.
// The result is ordered by position.
func ApplyDelta(base []model.LeaderboardEntry, changes []model.EntryPatch) []model.LeaderboardEntry {
	byCall := make(map[string]int, len(base))
	out := make([]model.LeaderboardEntry, 0, len(base)+len(changes))
	for _, e := range base {
		byCall[e.Callsign] = len(out)
		out = append(out, e.Clone())
	}

	for _, p := range changes {
		i, ok := byCall[p.Callsign]
		if !ok {
			byCall[p.Callsign] = len(out)
			out = append(out, model.LeaderboardEntry{Callsign: p.Callsign})
			i = len(out) - 1
		}
		merge(&out[i], p)
	}

	sort.SliceStable(out, func(i, j int) bool { return out[i].Position < out[j].Position })
	return out
}

func merge(e *model.LeaderboardEntry, p model.EntryPatch) {
	assign(&e.Position, p.Position)
	assign(&e.Category, p.Category)
	assign(&e.Power, p.Power)
	assign(&e.Assisted, p.Assisted)
	assign(&e.DXCC, p.DXCC)
	assign(&e.Continent, p.Continent)
	assign(&e.CQZone, p.CQZone)
	assign(&e.IARUZone, p.IARUZone)
	assign(&e.Score, p.Score)
	assign(&e.TotalQSOs, p.TotalQSOs)
	assign(&e.Multipliers, p.Multipliers)
	assign(&e.LastUpdate, p.LastUpdate)
	assign(&e.TotalRate60, p.TotalRate60)
	assign(&e.TotalRate15, p.TotalRate15)
	assign(&e.Monitored, p.Monitored)
	if p.BandData != nil {
		e.BandData = maps.Clone(p.BandData)
	}
	if p.BandMults != nil {
		e.BandMults = maps.Clone(p.BandMults)
	}
	if p.Rate60 != nil {
		e.Rate60 = maps.Clone(p.Rate60)
	}
	if p.Rate15 != nil {
		e.Rate15 = maps.Clone(p.Rate15)
	}
	if p.Comparison != nil {
		e.Comparison = maps.Clone(p.Comparison)
	}
	if p.Monitored != nil && *p.Monitored {
		e.Comparison = nil
	}
}

func assign[T any](dst *T, v *T) {
	if v != nil {
		*dst = *v
	}
}

func ptr[T any](v T) *T {
	return &v
}

func orEmpty[K comparable, V any](m map[K]V) map[K]V {
	if m == nil {
		return map[K]V{}
	}
	return m
}
