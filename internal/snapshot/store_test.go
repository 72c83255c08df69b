package snapshot

import (
	"testing"
	"time"

	"github.com/lijuuu/ContestLivescoreService/internal/model"
)

var t0 = time.Date(2026, 11, 28, 0, 0, 0, 0, time.UTC)

func snap(call string, minute int, score int64, bands map[string]int) model.Snapshot {
	counts := make(map[string]model.BandCount, len(bands))
	for b, q := range bands {
		counts[b] = model.BandCount{QSOs: q}
	}
	return model.Snapshot{
		Key:   model.StationKey{Contest: "CQWW", Callsign: call},
		Score: score,
		Bands: counts,
		At:    t0.Add(time.Duration(minute) * time.Minute),
	}
}

func TestAppendKeepsTimeOrder(t *testing.T) {
	s := NewStore()
	key := model.StationKey{Contest: "CQWW", Callsign: "K1ABC"}

	if res := s.Append(snap("K1ABC", 10, 20, map[string]int{"40": 20})); !res.Created {
		t.Error("first append not reported as created")
	}
	s.Append(snap("K1ABC", 30, 40, map[string]int{"40": 40}))
	res := s.Append(snap("K1ABC", 20, 30, map[string]int{"40": 30}))
	if res.OutOfOrder || res.Duplicate {
		t.Errorf("late but consistent insert flagged: %+v", res)
	}

	hist := s.History(key, "40", time.Time{})
	want := []int{20, 30, 40}
	if len(hist) != len(want) {
		t.Fatalf("history len = %d, want %d", len(hist), len(want))
	}
	for i, p := range hist {
		if p.QSOs != want[i] {
			t.Errorf("history[%d] = %d, want %d", i, p.QSOs, want[i])
		}
		if i > 0 && !hist[i-1].At.Before(p.At) {
			t.Errorf("history not ascending at %d", i)
		}
	}

	since := s.History(key, "40", t0.Add(20*time.Minute))
	if len(since) != 2 || since[0].QSOs != 30 {
		t.Errorf("history since 20m = %+v", since)
	}
}

func TestAppendDuplicateIsNoop(t *testing.T) {
	s := NewStore()
	key := model.StationKey{Contest: "CQWW", Callsign: "K1ABC"}
	first := snap("K1ABC", 0, 10, map[string]int{"40": 10})

	s.Append(first)
	res := s.Append(first)
	if !res.Duplicate {
		t.Fatal("identical snapshot not reported as duplicate")
	}
	if n := s.Len(key); n != 1 {
		t.Errorf("len = %d, want 1", n)
	}
}

func TestAppendFlagsRegression(t *testing.T) {
	s := NewStore()
	key := model.StationKey{Contest: "CQWW", Callsign: "K1ABC"}

	s.Append(snap("K1ABC", 0, 100, map[string]int{"40": 10, "20": 5}))
	res := s.Append(snap("K1ABC", 5, 90, map[string]int{"40": 8, "20": 5}))
	if !res.OutOfOrder {
		t.Error("band regression not flagged")
	}
	if n := s.Len(key); n != 2 {
		t.Errorf("regressing snapshot not stored, len = %d", n)
	}

	latest, _ := s.Latest(key)
	if latest.QSOs("40") != 8 {
		t.Errorf("latest 40m = %d, want 8", latest.QSOs("40"))
	}
}

func TestCountAtNearestPreceding(t *testing.T) {
	s := NewStore()
	key := model.StationKey{Contest: "CQWW", Callsign: "K1ABC"}
	s.Append(snap("K1ABC", 10, 10, map[string]int{"40": 10}))
	s.Append(snap("K1ABC", 25, 25, map[string]int{"40": 25}))
	s.Append(snap("K1ABC", 40, 30, map[string]int{"40": 30, "20": 2}))

	tests := []struct {
		name   string
		minute int
		band   string
		want   int
	}{
		{"before history falls back to earliest", 0, "40", 10},
		{"exact sample", 25, "40", 25},
		{"between samples", 39, "40", 25},
		{"after history", 90, "40", 30},
		{"band missing at sample", 30, "20", 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p, ok := s.CountAt(key, tt.band, t0.Add(time.Duration(tt.minute)*time.Minute))
			if !ok {
				t.Fatal("station not found")
			}
			if p.QSOs != tt.want {
				t.Errorf("CountAt = %d, want %d", p.QSOs, tt.want)
			}
		})
	}

	if _, ok := s.CountAt(model.StationKey{Contest: "CQWW", Callsign: "NOPE"}, "40", t0); ok {
		t.Error("unknown station reported a count")
	}
}

func TestScoreReachedAt(t *testing.T) {
	s := NewStore()
	key := model.StationKey{Contest: "CQWW", Callsign: "K1ABC"}

	s.Append(snap("K1ABC", 0, 10, map[string]int{"40": 10}))
	s.Append(snap("K1ABC", 5, 20, map[string]int{"40": 20}))
	s.Append(snap("K1ABC", 10, 20, map[string]int{"40": 20, "20": 0}))

	got, _ := s.ScoreReachedAt(key)
	if want := t0.Add(5 * time.Minute); !got.Equal(want) {
		t.Errorf("reached at %v, want %v", got, want)
	}

	// a regression forces a rescan against the new latest score
	s.Append(snap("K1ABC", 15, 10, map[string]int{"40": 10}))
	got, _ = s.ScoreReachedAt(key)
	if !got.Equal(t0) {
		t.Errorf("after regression reached at %v, want %v", got, t0)
	}
}

func TestContestsAndStations(t *testing.T) {
	s := NewStore()
	s.Append(snap("W1AW", 0, 1, nil))
	s.Append(snap("K1ABC", 0, 1, nil))
	other := snap("DL1XX", 0, 1, nil)
	other.Key.Contest = "ARRL DX"
	s.Append(other)

	contests := s.Contests()
	if len(contests) != 2 || contests[0] != "ARRL DX" || contests[1] != "CQWW" {
		t.Errorf("contests = %v", contests)
	}
	stations := s.Stations("CQWW")
	if len(stations) != 2 || stations[0] != "K1ABC" {
		t.Errorf("stations = %v", stations)
	}
	if s.HasContest("IARU") {
		t.Error("unknown contest reported present")
	}
}

func TestBandsAccumulate(t *testing.T) {
	s := NewStore()
	key := model.StationKey{Contest: "CQWW", Callsign: "K1ABC"}
	s.Append(snap("K1ABC", 0, 1, map[string]int{"20": 1}))
	s.Append(snap("K1ABC", 1, 2, map[string]int{"40": 1}))

	bands := s.Bands(key)
	if len(bands) != 2 || bands[0] != "40" || bands[1] != "20" {
		t.Errorf("bands = %v", bands)
	}
}

func TestPruneKeepsBaseSample(t *testing.T) {
	s := NewStore()
	key := model.StationKey{Contest: "CQWW", Callsign: "K1ABC"}
	for m := 0; m <= 50; m += 10 {
		s.Append(snap("K1ABC", m, int64(m), map[string]int{"40": m}))
	}

	removed := s.Prune(t0.Add(35 * time.Minute))
	if removed != 3 {
		t.Errorf("removed = %d, want 3", removed)
	}
	p, _ := s.CountAt(key, "40", t0.Add(35*time.Minute))
	if p.QSOs != 30 {
		t.Errorf("base sample after prune = %d, want 30", p.QSOs)
	}
}

func TestExpireContestDropsIdleContest(t *testing.T) {
	s := NewStore()
	s.Append(snap("K1ABC", 0, 1, map[string]int{"40": 1}))
	s.Append(model.Snapshot{
		Key:   model.StationKey{Contest: "WPX", Callsign: "W1AW"},
		Score: 5,
		Bands: map[string]model.BandCount{"20": {QSOs: 5}},
		At:    t0.Add(3 * time.Hour),
	})

	cut := t0.Add(time.Hour)
	if s.ExpireContest("WPX", cut) {
		t.Error("active contest expired")
	}
	if !s.ExpireContest("CQWW", cut) {
		t.Fatal("idle contest not expired")
	}
	if s.ExpireContest("CQWW", cut) {
		t.Error("contest expired twice")
	}
	if s.HasContest("CQWW") || !s.HasContest("WPX") {
		t.Errorf("contests after expire = %v", s.Contests())
	}

	// a late submission starts the contest over
	s.Append(snap("K1ABC", 5, 2, map[string]int{"40": 2}))
	if n := s.Len(model.StationKey{Contest: "CQWW", Callsign: "K1ABC"}); n != 1 {
		t.Errorf("len after re-create = %d, want 1", n)
	}
}
