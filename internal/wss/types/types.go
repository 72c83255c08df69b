package wsstypes

import (
	"github.com/lijuuu/ContestLivescoreService/internal/broadcaster"
	"github.com/lijuuu/ContestLivescoreService/internal/wss/broadcasts"
)

type State struct {
	Broadcaster *broadcaster.Broadcaster
}

type WsContext struct {
	Conn      *broadcasts.Conn
	Payload   map[string]any
	RequestID string
	State     *State
}

type WsMessage struct {
	Type    string         `json:"type"`
	Payload map[string]any `json:"payload"`
}

type SubscribePayload struct {
	Contest     string `json:"contest"`
	Callsign    string `json:"callsign"`
	FilterType  string `json:"filterType"`
	FilterValue string `json:"filterValue"`
}

type SubscriptionPayload struct {
	SubscriptionID string `json:"subscriptionId"`
}

// client messages
const (
	SUBSCRIBE   = "SUBSCRIBE"
	RESUME      = "RESUME"
	UNSUBSCRIBE = "UNSUBSCRIBE"
	PING_SERVER = "PING_SERVER"
)

// server messages besides the init and update stream
const (
	PONG_SERVER         = "PONG_SERVER"
	SUBSCRIPTION_CLOSED = "SUBSCRIPTION_CLOSED"
	ERROR               = "ERROR"
)

// error codes
const (
	CONTEST_NOT_FOUND    = "CONTEST_NOT_FOUND"
	INVALID_PAYLOAD      = "INVALID_PAYLOAD"
	UNKNOWN_SUBSCRIPTION = "UNKNOWN_SUBSCRIPTION"
	UNKNOWN_EVENT        = "UNKNOWN_EVENT"
)
