package leaderboard

import "github.com/lijuuu/ContestLivescoreService/internal/model"

// Annotate marks the monitored station and compares every other station's recent
// band rate against it. entries are modified in place; pass copies of published entries.
func Annotate(entries []model.LeaderboardEntry, monitored model.LeaderboardEntry, found bool) {
	for i := range entries {
		e := &entries[i]
		if found && e.Callsign == monitored.Callsign {
			e.Monitored = true
			e.Comparison = nil
			continue
		}
		e.Monitored = false
		e.Comparison = make(map[string]model.Comparison, len(e.Rate15))
		for band, r := range e.Rate15 {
			if !found {
				e.Comparison[band] = model.Undefined
				continue
			}
			e.Comparison[band] = compare(r, monitored.Rate15[band])
		}
	}
}

func compare(station, monitored model.Rate) model.Comparison {
	if !station.Valid || !monitored.Valid {
		return model.Undefined
	}
	switch {
	case station.Value > monitored.Value:
		return model.Better
	case station.Value < monitored.Value:
		return model.Worse
	default:
		return model.Equal
	}
}
