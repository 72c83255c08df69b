package model

import "time"

type EventType string

const (
	EventLeaderboardUpdated EventType = "leaderboard_updated"
	EventContestOpened      EventType = "contest_opened"
)

// Event is an in-process notification sent to a contest's broadcast loop.
type Event struct {
	Type    EventType `json:"type"`
	Contest string    `json:"contest"`
	Version uint64    `json:"version"`
	At      time.Time `json:"at"`
}

// Stream message types sent to subscribers.
const (
	StreamInit   = "init"
	StreamUpdate = "update"
)

// InitMessage is a full filtered leaderboard view.
type InitMessage struct {
	Type           string             `json:"type"`
	SubscriptionID string             `json:"subscriptionId"`
	Contest        string             `json:"contest"`
	Callsign       string             `json:"callsign"`
	FilterType     string             `json:"filterType"`
	FilterValue    string             `json:"filterValue"`
	Timestamp      time.Time          `json:"timestamp"`
	NextUpdate     time.Time          `json:"nextUpdate"`
	Stations       []LeaderboardEntry `json:"stations"`
}

// UpdateMessage carries only the stations that changed since the last push.
type UpdateMessage struct {
	Type           string       `json:"type"`
	SubscriptionID string       `json:"subscriptionId"`
	Contest        string       `json:"contest"`
	Timestamp      time.Time    `json:"timestamp"`
	NextUpdate     time.Time    `json:"nextUpdate"`
	Changes        []EntryPatch `json:"changes"`
}
