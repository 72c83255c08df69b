// Package filter scopes a contest leaderboard to the stations a subscriber asked for.
package filter

import (
	"strings"

	"github.com/lijuuu/ContestLivescoreService/internal/leaderboard"
	"github.com/lijuuu/ContestLivescoreService/internal/model"
)

type Type string

const (
	None      Type = "none"
	DXCC      Type = "dxcc"
	CQZone    Type = "cq_zone"
	IARUZone  Type = "iaru_zone"
	Continent Type = "continent"
	Category  Type = "category"
)

var types = map[string]Type{
	"none":      None,
	"dxcc":      DXCC,
	"cq_zone":   CQZone,
	"cq":        CQZone,
	"iaru_zone": IARUZone,
	"iaru":      IARUZone,
	"itu":       IARUZone,
	"continent": Continent,
	"category":  Category,
}

// Filter is a parsed subscriber filter.
type Filter struct {
	Type  Type   `json:"type"`
	Value string `json:"value"`
}

// Parse never fails. Unknown types become None and match every station.
func Parse(typ, value string) Filter {
	t, ok := types[strings.ToLower(strings.TrimSpace(typ))]
	if !ok {
		t = None
	}
	return Filter{Type: t, Value: strings.TrimSpace(value)}
}

// Known reports whether typ names a supported filter type.
func Known(typ string) bool {
	_, ok := types[strings.ToLower(strings.TrimSpace(typ))]
	return ok
}

func (f Filter) String() string {
	if f.Type == None || f.Value == "" {
		return string(None)
	}
	return string(f.Type) + "=" + f.Value
}

// Matches reports whether a station with profile p is visible under f.
func (f Filter) Matches(p model.Profile) bool {
	if f.Value == "" {
		return true
	}
	switch f.Type {
	case DXCC:
		return strings.EqualFold(p.DXCC, f.Value)
	case CQZone:
		return sameZone(p.CQZone, f.Value)
	case IARUZone:
		return sameZone(p.IARUZone, f.Value)
	case Continent:
		return strings.EqualFold(p.Continent, f.Value)
	case Category:
		return strings.EqualFold(p.Category, f.Value)
	default:
		return true
	}
}

// Matches is the free-function form used by transports that only hold raw strings.
func Matches(p model.Profile, filterType, filterValue string) bool {
	return Parse(filterType, filterValue).Matches(p)
}

func sameZone(a, b string) bool {
	return strings.EqualFold(trimZone(a), trimZone(b))
}

func trimZone(z string) string {
	z = strings.TrimSpace(z)
	trimmed := strings.TrimLeft(z, "0")
	if trimmed == "" && z != "" {
		return "0"
	}
	return trimmed
}

// Apply returns copies of the matching entries renumbered 1..n in leaderboard order.
func Apply(entries []model.LeaderboardEntry, f Filter) []model.LeaderboardEntry {
	out := make([]model.LeaderboardEntry, 0, len(entries))
	for _, e := range entries {
		if !f.Matches(e.Profile()) {
			continue
		}
		c := e.Clone()
		c.Position = len(out) + 1
		out = append(out, c)
	}
	return out
}

// View builds what one subscriber sees: the filtered board annotated against the
// monitored callsign. A category filter without a value takes the monitored station's category.
func View(board *leaderboard.Leaderboard, f Filter, monitored string) []model.LeaderboardEntry {
	if board == nil {
		return []model.LeaderboardEntry{}
	}
	mon, found := board.Entry(monitored)
	if f.Type == Category && f.Value == "" && found {
		f.Value = mon.Category
	}
	view := Apply(board.Entries, f)
	leaderboard.Annotate(view, mon, found)
	return view
}
