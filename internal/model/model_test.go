package model

import (
	"encoding/json"
	"testing"
	"time"
)

func TestRateEncodesUndefinedAsNull(t *testing.T) {
	out, err := json.Marshal(map[string]Rate{"40": {}, "20": RateOf(60)})
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	if string(out) != `{"20":60,"40":null}` {
		t.Errorf("got %s", out)
	}

	var back map[string]Rate
	if err := json.Unmarshal(out, &back); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if back["40"].Valid {
		t.Error("null rate decoded as valid")
	}
	if back["20"] != RateOf(60) {
		t.Errorf("20m rate = %+v", back["20"])
	}
}

func TestSnapshotRegresses(t *testing.T) {
	prev := Snapshot{Score: 100, Bands: map[string]BandCount{"40": {QSOs: 10}, "20": {QSOs: 5}}}

	tests := []struct {
		name string
		next Snapshot
		want bool
	}{
		{"growth", Snapshot{Score: 120, Bands: map[string]BandCount{"40": {QSOs: 12}, "20": {QSOs: 5}}}, false},
		{"new band", Snapshot{Score: 120, Bands: map[string]BandCount{"40": {QSOs: 10}, "20": {QSOs: 5}, "15": {QSOs: 1}}}, false},
		{"band drop", Snapshot{Score: 120, Bands: map[string]BandCount{"40": {QSOs: 9}, "20": {QSOs: 6}}}, true},
		{"band missing", Snapshot{Score: 120, Bands: map[string]BandCount{"40": {QSOs: 10}}}, true},
		{"score drop", Snapshot{Score: 90, Bands: map[string]BandCount{"40": {QSOs: 10}, "20": {QSOs: 5}}}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.next.Regresses(prev); got != tt.want {
				t.Errorf("Regresses = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestSubmissionSnapshotNormalizesBands(t *testing.T) {
	at := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	sub := Submission{
		Contest:  " CQ WW ",
		Callsign: "k1abc",
		Power:    "high",
		Bands: map[string]BandCount{
			"40m":  {QSOs: 10, Points: 30, Multipliers: 4},
			"20M":  {QSOs: 3},
			"70cm": {QSOs: 1},
			"":     {QSOs: 99},
		},
	}
	snap := sub.Snapshot(at)

	if snap.Key != (StationKey{Contest: "CQ WW", Callsign: "K1ABC"}) {
		t.Errorf("key = %+v", snap.Key)
	}
	if snap.Profile.Power != "HIGH" {
		t.Errorf("power = %q", snap.Profile.Power)
	}
	if snap.QSOs("40") != 10 || snap.QSOs("20") != 3 || snap.QSOs("70cm") != 1 {
		t.Errorf("bands = %+v", snap.Bands)
	}
	if snap.TotalQSOs() != 14 {
		t.Errorf("total = %d, want 14", snap.TotalQSOs())
	}
	if !snap.At.Equal(at) {
		t.Errorf("at = %v", snap.At)
	}
}

func TestSortBands(t *testing.T) {
	bands := []string{"6", "10", "160", "40", "30", "20"}
	SortBands(bands)
	want := []string{"160", "40", "20", "10", "30", "6"}
	for i := range want {
		if bands[i] != want[i] {
			t.Fatalf("order = %v, want %v", bands, want)
		}
	}
}
