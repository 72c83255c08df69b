package service

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/lijuuu/ContestLivescoreService/internal/filter"
	"github.com/lijuuu/ContestLivescoreService/internal/leaderboard"
	"github.com/lijuuu/ContestLivescoreService/internal/model"
)

type ContestSummary struct {
	Contest   string    `json:"contest"`
	Stations  int       `json:"stations"`
	Version   uint64    `json:"version"`
	UpdatedAt time.Time `json:"updatedAt"`
}

type StationSummary struct {
	Callsign   string    `json:"callsign"`
	Category   string    `json:"category"`
	Score      int64     `json:"score"`
	TotalQSOs  int       `json:"totalQsos"`
	LastUpdate time.Time `json:"lastUpdate"`
}

// Classification is what the filter selector needs to know about one station.
type Classification struct {
	Contest   string  `json:"contest"`
	Callsign  string  `json:"callsign"`
	Category  string  `json:"category"`
	Power     string  `json:"power"`
	Assisted  bool    `json:"assisted"`
	DXCC      string  `json:"dxcc"`
	Continent string  `json:"continent"`
	CQZone    string  `json:"cqZone"`
	IARUZone  string  `json:"iaruZone"`
	Club      string  `json:"club,omitempty"`
	Section   string  `json:"section,omitempty"`
	Position  int     `json:"position"`
	Filters   Filters `json:"filters"`
}

// Filters lists the filter values that would include the station.
type Filters struct {
	DXCC      string `json:"dxcc"`
	CQZone    string `json:"cq_zone"`
	IARUZone  string `json:"iaru_zone"`
	Continent string `json:"continent"`
	Category  string `json:"category"`
}

// LeaderboardView is a one-shot filtered leaderboard.
type LeaderboardView struct {
	Contest     string                   `json:"contest"`
	Version     uint64                   `json:"version"`
	GeneratedAt time.Time                `json:"generatedAt"`
	Callsign    string                   `json:"callsign,omitempty"`
	FilterType  string                   `json:"filterType"`
	FilterValue string                   `json:"filterValue"`
	Stations    []model.LeaderboardEntry `json:"stations"`
}

// Current returns the published leaderboard of a contest.
func (s *ContestService) Current(contest string) (*leaderboard.Leaderboard, bool) {
	return s.boards.Current(contest)
}

// HasContest reports whether a contest has a published leaderboard.
func (s *ContestService) HasContest(contest string) bool {
	_, ok := s.boards.Current(contest)
	return ok
}

// Contests lists every contest with a published leaderboard.
func (s *ContestService) Contests() []ContestSummary {
	names := s.store.Contests()
	out := make([]ContestSummary, 0, len(names))
	for _, name := range names {
		board, ok := s.boards.Current(name)
		if !ok {
			continue
		}
		out = append(out, ContestSummary{
			Contest:   name,
			Stations:  board.Len(),
			Version:   board.Version,
			UpdatedAt: board.GeneratedAt,
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Contest < out[j].Contest })
	return out
}

// Stations lists the stations of a contest alphabetically.
func (s *ContestService) Stations(contest string) ([]StationSummary, error) {
	board, ok := s.boards.Current(contest)
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrContestNotFound, contest)
	}
	out := make([]StationSummary, 0, board.Len())
	for _, e := range board.Entries {
		out = append(out, StationSummary{
			Callsign:   e.Callsign,
			Category:   e.Category,
			Score:      e.Score,
			TotalQSOs:  e.TotalQSOs,
			LastUpdate: e.LastUpdate,
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Callsign < out[j].Callsign })
	return out, nil
}

// Station returns the classification of one station.
func (s *ContestService) Station(contest, callsign string) (Classification, error) {
	board, ok := s.boards.Current(contest)
	if !ok {
		return Classification{}, fmt.Errorf("%w: %q", ErrContestNotFound, contest)
	}
	key := model.NewStationKey(contest, callsign)
	entry, ok := board.Entry(key.Callsign)
	if !ok {
		return Classification{}, fmt.Errorf("%w: %s in %q", ErrStationNotFound, key.Callsign, contest)
	}

	c := Classification{
		Contest:   contest,
		Callsign:  entry.Callsign,
		Category:  entry.Category,
		Power:     entry.Power,
		Assisted:  entry.Assisted,
		DXCC:      entry.DXCC,
		Continent: entry.Continent,
		CQZone:    entry.CQZone,
		IARUZone:  entry.IARUZone,
		Position:  entry.Position,
		Filters: Filters{
			DXCC:      entry.DXCC,
			CQZone:    entry.CQZone,
			IARUZone:  entry.IARUZone,
			Continent: entry.Continent,
			Category:  entry.Category,
		},
	}
	if latest, ok := s.store.Latest(key); ok {
		c.Club = latest.Profile.Club
		c.Section = latest.Profile.Section
	}
	return c, nil
}

// Leaderboard renders the filtered view a subscriber with the same parameters would
// receive as its init.
func (s *ContestService) Leaderboard(contest, callsign, filterType, filterValue string) (LeaderboardView, error) {
	board, ok := s.boards.Current(contest)
	if !ok {
		return LeaderboardView{}, fmt.Errorf("%w: %q", ErrContestNotFound, contest)
	}
	f := filter.Parse(filterType, filterValue)
	monitored := strings.ToUpper(strings.TrimSpace(callsign))
	return LeaderboardView{
		Contest:     contest,
		Version:     board.Version,
		GeneratedAt: board.GeneratedAt,
		Callsign:    monitored,
		FilterType:  string(f.Type),
		FilterValue: f.Value,
		Stations:    filter.View(board, f, monitored),
	}, nil
}
