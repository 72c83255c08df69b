package model

import (
	"sort"
	"strings"
	"time"
)

// StationKey identifies a station within one contest.
type StationKey struct {
	Contest  string `json:"contest"`
	Callsign string `json:"callsign"`
}

func (k StationKey) String() string {
	return k.Contest + "/" + k.Callsign
}

// NewStationKey normalizes the callsign the way it is stored and compared.
func NewStationKey(contest, callsign string) StationKey {
	return StationKey{
		Contest:  strings.TrimSpace(contest),
		Callsign: strings.ToUpper(strings.TrimSpace(callsign)),
	}
}

// Profile is the operating class and classification of a station as last reported.
type Profile struct {
	Category    string `json:"category"`
	Power       string `json:"power"`
	Assisted    bool   `json:"assisted"`
	Transmitter string `json:"transmitter,omitempty"`
	Operators   string `json:"ops,omitempty"`
	Club        string `json:"club,omitempty"`
	Section     string `json:"section,omitempty"`
	DXCC        string `json:"dxcc"`
	Continent   string `json:"continent"`
	CQZone      string `json:"cqZone"`
	IARUZone    string `json:"iaruZone"`
}

// BandCount is the cumulative total on one band.
type BandCount struct {
	QSOs        int `json:"qsos"`
	Points      int `json:"points"`
	Multipliers int `json:"multipliers"`
}

// Snapshot is one cumulative report of a station, stamped by the server on arrival.
type Snapshot struct {
	Key     StationKey           `json:"key"`
	Profile Profile              `json:"profile"`
	Score   int64                `json:"score"`
	Bands   map[string]BandCount `json:"bands"`
	At      time.Time            `json:"at"`
}

// QSOs returns the cumulative QSO count on band, zero when the band was not reported.
func (s Snapshot) QSOs(band string) int {
	return s.Bands[band].QSOs
}

func (s Snapshot) TotalQSOs() int {
	total := 0
	for _, b := range s.Bands {
		total += b.QSOs
	}
	return total
}

func (s Snapshot) TotalMultipliers() int {
	total := 0
	for _, b := range s.Bands {
		total += b.Multipliers
	}
	return total
}

func (s Snapshot) TotalPoints() int {
	total := 0
	for _, b := range s.Bands {
		total += b.Points
	}
	return total
}

// SameTotals reports whether both snapshots carry identical cumulative figures.
func (s Snapshot) SameTotals(o Snapshot) bool {
	if s.Score != o.Score || len(s.Bands) != len(o.Bands) {
		return false
	}
	for band, c := range s.Bands {
		if oc, ok := o.Bands[band]; !ok || oc != c {
			return false
		}
	}
	return true
}

// Regresses reports whether any figure of s is below the same figure of prev.
func (s Snapshot) Regresses(prev Snapshot) bool {
	if s.Score < prev.Score {
		return true
	}
	for band, pc := range prev.Bands {
		c := s.Bands[band]
		if c.QSOs < pc.QSOs || c.Multipliers < pc.Multipliers {
			return true
		}
	}
	return false
}

// BandOrder is the display order of the HF contest bands; other bands sort after them.
var BandOrder = []string{"160", "80", "40", "20", "15", "10"}

// SortBands orders band identifiers by BandOrder, then lexically.
func SortBands(bands []string) {
	rank := func(b string) int {
		for i, known := range BandOrder {
			if known == b {
				return i
			}
		}
		return len(BandOrder)
	}
	sort.Slice(bands, func(i, j int) bool {
		ri, rj := rank(bands[i]), rank(bands[j])
		if ri != rj {
			return ri < rj
		}
		return bands[i] < bands[j]
	})
}
