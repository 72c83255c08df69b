package model

import (
	"bytes"
	"strconv"
	"time"
)

// Rate is a QSO rate in QSOs per hour. The zero value is an undefined rate and encodes as null.
type Rate struct {
	Value int
	Valid bool
}

func RateOf(v int) Rate {
	return Rate{Value: v, Valid: true}
}

func (r Rate) MarshalJSON() ([]byte, error) {
	if !r.Valid {
		return []byte("null"), nil
	}
	return strconv.AppendInt(nil, int64(r.Value), 10), nil
}

func (r *Rate) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if bytes.Equal(data, []byte("null")) {
		*r = Rate{}
		return nil
	}
	v, err := strconv.Atoi(string(data))
	if err != nil {
		return err
	}
	*r = RateOf(v)
	return nil
}

// Comparison of a station's recent band rate against the monitored station.
type Comparison string

const (
	Better    Comparison = "better"
	Worse     Comparison = "worse"
	Equal     Comparison = "equal"
	Undefined Comparison = "undefined"
)

// LeaderboardEntry is one ranked station as it is served to subscribers.
type LeaderboardEntry struct {
	Position    int                   `json:"position"`
	Callsign    string                `json:"callsign"`
	Category    string                `json:"category"`
	Power       string                `json:"power"`
	Assisted    bool                  `json:"assisted"`
	DXCC        string                `json:"dxcc"`
	Continent   string                `json:"continent"`
	CQZone      string                `json:"cqZone"`
	IARUZone    string                `json:"iaruZone"`
	Score       int64                 `json:"score"`
	BandData    map[string]int        `json:"bandData"`
	BandMults   map[string]int        `json:"bandMults"`
	TotalQSOs   int                   `json:"totalQsos"`
	Multipliers int                   `json:"multipliers"`
	LastUpdate  time.Time             `json:"lastUpdate"`
	Rate60      map[string]Rate       `json:"rate60"`
	Rate15      map[string]Rate       `json:"rate15"`
	TotalRate60 Rate                  `json:"totalRate60"`
	TotalRate15 Rate                  `json:"totalRate15"`
	Comparison  map[string]Comparison `json:"comparison,omitempty"`
	Monitored   bool                  `json:"monitored,omitempty"`

	// ReachedAt is when the current score was first reached. It only orders ties.
	ReachedAt time.Time `json:"-"`
}

// Profile returns the classification part of the entry.
func (e LeaderboardEntry) Profile() Profile {
	return Profile{
		Category:  e.Category,
		Power:     e.Power,
		Assisted:  e.Assisted,
		DXCC:      e.DXCC,
		Continent: e.Continent,
		CQZone:    e.CQZone,
		IARUZone:  e.IARUZone,
	}
}

// Clone returns a deep copy so views never share maps with a published leaderboard.
func (e LeaderboardEntry) Clone() LeaderboardEntry {
	c := e
	c.BandData = cloneMap(e.BandData)
	c.BandMults = cloneMap(e.BandMults)
	c.Rate60 = cloneMap(e.Rate60)
	c.Rate15 = cloneMap(e.Rate15)
	c.Comparison = cloneMap(e.Comparison)
	return c
}

func cloneMap[K comparable, V any](m map[K]V) map[K]V {
	if m == nil {
		return nil
	}
	out := make(map[K]V, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

// EntryPatch carries the fields of one station that differ from the subscriber's baseline.
// New stations carry every field.
type EntryPatch struct {
	Callsign    string                `json:"callsign"`
	New         bool                  `json:"new,omitempty"`
	Position    *int                  `json:"position,omitempty"`
	Category    *string               `json:"category,omitempty"`
	Power       *string               `json:"power,omitempty"`
	Assisted    *bool                 `json:"assisted,omitempty"`
	DXCC        *string               `json:"dxcc,omitempty"`
	Continent   *string               `json:"continent,omitempty"`
	CQZone      *string               `json:"cqZone,omitempty"`
	IARUZone    *string               `json:"iaruZone,omitempty"`
	Score       *int64                `json:"score,omitempty"`
	BandData    map[string]int        `json:"bandData,omitempty"`
	BandMults   map[string]int        `json:"bandMults,omitempty"`
	TotalQSOs   *int                  `json:"totalQsos,omitempty"`
	Multipliers *int                  `json:"multipliers,omitempty"`
	LastUpdate  *time.Time            `json:"lastUpdate,omitempty"`
	Rate60      map[string]Rate       `json:"rate60,omitempty"`
	Rate15      map[string]Rate       `json:"rate15,omitempty"`
	TotalRate60 *Rate                 `json:"totalRate60,omitempty"`
	TotalRate15 *Rate                 `json:"totalRate15,omitempty"`
	Comparison  map[string]Comparison `json:"comparison,omitempty"`
	Monitored   *bool                 `json:"monitored,omitempty"`
}

// LeaderboardRecord is a materialized leaderboard as handed to archives and caches.
type LeaderboardRecord struct {
	Contest     string             `json:"contest" bson:"contest"`
	Version     uint64             `json:"version" bson:"version"`
	GeneratedAt time.Time          `json:"generatedAt" bson:"generated_at"`
	Entries     []LeaderboardEntry `json:"entries" bson:"entries"`
}
