package model

import (
	"strings"
	"time"
)

// Submission is the canonical form of one score report from a logging program.
type Submission struct {
	Contest     string               `json:"contest"`
	Callsign    string               `json:"callsign"`
	Category    string               `json:"category"`
	Power       string               `json:"power"`
	Assisted    bool                 `json:"assisted"`
	Transmitter string               `json:"transmitter,omitempty"`
	Operators   string               `json:"ops,omitempty"`
	Club        string               `json:"club,omitempty"`
	Section     string               `json:"section,omitempty"`
	DXCC        string               `json:"dxcc,omitempty"`
	Continent   string               `json:"continent,omitempty"`
	CQZone      string               `json:"cq_zone,omitempty"`
	IARUZone    string               `json:"iaru_zone,omitempty"`
	Score       int64                `json:"score"`
	Bands       map[string]BandCount `json:"bands"`
	SubmittedAt *time.Time           `json:"submitted_at,omitempty"`
}

// Snapshot converts the submission into a snapshot stamped at.
func (s Submission) Snapshot(at time.Time) Snapshot {
	bands := make(map[string]BandCount, len(s.Bands))
	for id, c := range s.Bands {
		band := NormalizeBand(id)
		if band == "" {
			continue
		}
		prev := bands[band]
		bands[band] = BandCount{
			QSOs:        prev.QSOs + c.QSOs,
			Points:      prev.Points + c.Points,
			Multipliers: prev.Multipliers + c.Multipliers,
		}
	}
	return Snapshot{
		Key: NewStationKey(s.Contest, s.Callsign),
		Profile: Profile{
			Category:    strings.TrimSpace(s.Category),
			Power:       strings.ToUpper(strings.TrimSpace(s.Power)),
			Assisted:    s.Assisted,
			Transmitter: s.Transmitter,
			Operators:   s.Operators,
			Club:        s.Club,
			Section:     strings.ToUpper(strings.TrimSpace(s.Section)),
			DXCC:        strings.TrimSpace(s.DXCC),
			Continent:   strings.ToUpper(strings.TrimSpace(s.Continent)),
			CQZone:      strings.TrimSpace(s.CQZone),
			IARUZone:    strings.TrimSpace(s.IARUZone),
		},
		Score: s.Score,
		Bands: bands,
		At:    at,
	}
}

// NormalizeBand maps "40m", "40M" and "40" to "40".
func NormalizeBand(id string) string {
	id = strings.ToLower(strings.TrimSpace(id))
	if strings.HasSuffix(id, "cm") {
		return id
	}
	return strings.TrimSuffix(id, "m")
}
