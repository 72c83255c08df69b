package wsshandler

import (
	"errors"

	"github.com/goccy/go-json"

	"github.com/lijuuu/ContestLivescoreService/internal/broadcaster"
	"github.com/lijuuu/ContestLivescoreService/internal/logging"
	"github.com/lijuuu/ContestLivescoreService/internal/subscription"
	"github.com/lijuuu/ContestLivescoreService/internal/wss/broadcasts"
	wsstypes "github.com/lijuuu/ContestLivescoreService/internal/wss/types"
)

func decode(payload map[string]any, v any) error {
	raw, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	return json.Unmarshal(raw, v)
}

// SubscribeHandler opens a leaderboard stream on the connection. The client receives an
// init message carrying the subscription id it needs to resume later.
func SubscribeHandler(ctx *wsstypes.WsContext) error {
	log := logging.With("wss")

	var payload wsstypes.SubscribePayload
	if err := decode(ctx.Payload, &payload); err != nil {
		log.Warn().Str("request_id", ctx.RequestID).Err(err).Msg("invalid subscribe payload")
		return ctx.Conn.SendErrorWithType(wsstypes.SUBSCRIBE, wsstypes.INVALID_PAYLOAD, "Invalid payload format", nil)
	}
	if payload.Contest == "" {
		return ctx.Conn.SendErrorWithType(wsstypes.SUBSCRIBE, wsstypes.INVALID_PAYLOAD, "Contest is required", nil)
	}

	stream := ctx.Conn.NewStream()
	sub, err := ctx.State.Broadcaster.Open(broadcaster.OpenRequest{
		Contest:     payload.Contest,
		Callsign:    payload.Callsign,
		FilterType:  payload.FilterType,
		FilterValue: payload.FilterValue,
	}, stream)
	if errors.Is(err, broadcaster.ErrContestNotFound) {
		log.Info().
			Str("request_id", ctx.RequestID).
			Str("contest", payload.Contest).
			Msg("subscribe to unknown contest")
		return ctx.Conn.SendErrorWithType(wsstypes.SUBSCRIBE, wsstypes.CONTEST_NOT_FOUND, "Contest not found", map[string]any{
			"contest": payload.Contest,
		})
	}
	if err != nil {
		return err
	}

	ctx.Conn.Attach(stream, sub)
	go watchClose(ctx.Conn, sub)

	log.Info().
		Str("request_id", ctx.RequestID).
		Str("subscription_id", sub.ID).
		Str("remote", ctx.Conn.RemoteAddr()).
		Msg("subscription streaming on websocket")
	return nil
}

// watchClose reports a server side close to the client while the connection lives.
func watchClose(conn *broadcasts.Conn, sub *subscription.Subscription) {
	select {
	case <-sub.Done():
		broadcasts.BroadcastSubscriptionClosed(conn, wsstypes.SUBSCRIPTION_CLOSED, sub.ID, sub.Contest)
	case <-conn.Done():
	}
}
