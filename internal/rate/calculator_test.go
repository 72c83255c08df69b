package rate

import (
	"math/rand"
	"testing"
	"time"

	"github.com/lijuuu/ContestLivescoreService/internal/model"
	"github.com/lijuuu/ContestLivescoreService/internal/snapshot"
)

var t0 = time.Date(2026, 11, 28, 0, 0, 0, 0, time.UTC)

var key = model.StationKey{Contest: "CQWW", Callsign: "ABC"}

func appendAt(s *snapshot.Store, minute int, bands map[string]int) {
	counts := make(map[string]model.BandCount, len(bands))
	total := 0
	for b, q := range bands {
		counts[b] = model.BandCount{QSOs: q}
		total += q
	}
	s.Append(model.Snapshot{
		Key:   key,
		Score: int64(total),
		Bands: counts,
		At:    t0.Add(time.Duration(minute) * time.Minute),
	})
}

func TestShortWindowScenario(t *testing.T) {
	store := snapshot.NewStore()
	appendAt(store, 0, map[string]int{"40": 10})
	appendAt(store, 15, map[string]int{"40": 25})

	calc := NewCalculator(store, 0, 0)
	rates := calc.Station(key, []string{"40"})

	if got := rates.Short["40"]; got != model.RateOf(60) {
		t.Errorf("rate15 = %+v, want 60", got)
	}
	// the long window falls back to the earliest sample and still scales by 60/60
	if got := rates.Long["40"]; got != model.RateOf(15) {
		t.Errorf("rate60 = %+v, want 15", got)
	}
	if got := rates.TotalShort; got != model.RateOf(60) {
		t.Errorf("total rate15 = %+v, want 60", got)
	}
}

func TestSingleSnapshotRateUndefined(t *testing.T) {
	store := snapshot.NewStore()
	appendAt(store, 0, map[string]int{"40": 10})

	calc := NewCalculator(store, 0, 0)
	rates := calc.Station(key, []string{"40"})
	if rates.Short["40"].Valid || rates.Long["40"].Valid || rates.TotalLong.Valid {
		t.Errorf("rates defined with one snapshot: %+v", rates)
	}
	if r := calc.Band(key, "40", time.Hour, t0); r.Valid {
		t.Errorf("Band defined with one snapshot: %+v", r)
	}
}

func TestRegressionClampsToZero(t *testing.T) {
	store := snapshot.NewStore()
	appendAt(store, 0, map[string]int{"40": 30})
	appendAt(store, 10, map[string]int{"40": 20})

	rates := NewCalculator(store, 0, 0).Station(key, []string{"40"})
	if got := rates.Short["40"]; got != model.RateOf(0) {
		t.Errorf("rate15 = %+v, want 0", got)
	}
}

func TestMissingBandCountsAsZero(t *testing.T) {
	store := snapshot.NewStore()
	appendAt(store, 0, map[string]int{"40": 10})
	appendAt(store, 15, map[string]int{"40": 10, "20": 5})

	rates := NewCalculator(store, 0, 0).Station(key, []string{"40", "20"})
	if got := rates.Short["20"]; got != model.RateOf(20) {
		t.Errorf("20m rate15 = %+v, want 20", got)
	}
	if got := rates.Short["40"]; got != model.RateOf(0) {
		t.Errorf("40m rate15 = %+v, want 0", got)
	}
}

func TestLongWindowMatchesCountDifference(t *testing.T) {
	rng := rand.New(rand.NewSource(7))
	store := snapshot.NewStore()

	count := 0
	minute := 0
	for i := 0; i < 200; i++ {
		minute += 1 + rng.Intn(9)
		count += rng.Intn(6)
		appendAt(store, minute, map[string]int{"20": count})
	}

	calc := NewCalculator(store, time.Hour, 15*time.Minute)
	for m := 120; m <= minute; m += 7 {
		now := t0.Add(time.Duration(m) * time.Minute)
		cur, _ := store.CountAt(key, "20", now)
		base, _ := store.CountAt(key, "20", now.Add(-time.Hour))

		got := calc.Band(key, "20", time.Hour, now)
		if !got.Valid {
			t.Fatalf("rate undefined at minute %d", m)
		}
		if want := cur.QSOs - base.QSOs; got.Value != want {
			t.Errorf("minute %d: rate60 = %d, want %d", m, got.Value, want)
		}
		if got.Value < 0 {
			t.Errorf("minute %d: negative rate %d", m, got.Value)
		}
	}
}

func TestDuplicateAppendDoesNotChangeRates(t *testing.T) {
	store := snapshot.NewStore()
	appendAt(store, 0, map[string]int{"40": 10})
	appendAt(store, 15, map[string]int{"40": 25})
	calc := NewCalculator(store, 0, 0)
	before := calc.Station(key, []string{"40"})

	appendAt(store, 15, map[string]int{"40": 25})
	after := calc.Station(key, []string{"40"})
	if before.Short["40"] != after.Short["40"] || before.Long["40"] != after.Long["40"] {
		t.Errorf("rates changed after duplicate: %+v -> %+v", before, after)
	}
}
