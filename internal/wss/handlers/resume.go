package wsshandler

import (
	"github.com/lijuuu/ContestLivescoreService/internal/logging"
	wsstypes "github.com/lijuuu/ContestLivescoreService/internal/wss/types"
)

// ResumeHandler reattaches a subscription after a reconnect. A fresh init follows.
func ResumeHandler(ctx *wsstypes.WsContext) error {
	var payload wsstypes.SubscriptionPayload
	if err := decode(ctx.Payload, &payload); err != nil || payload.SubscriptionID == "" {
		return ctx.Conn.SendErrorWithType(wsstypes.RESUME, wsstypes.INVALID_PAYLOAD, "Subscription ID is required", nil)
	}

	stream := ctx.Conn.NewStream()
	sub, err := ctx.State.Broadcaster.Resume(payload.SubscriptionID, stream)
	if err != nil {
		logging.Info().
			Str("request_id", ctx.RequestID).
			Str("subscription_id", payload.SubscriptionID).
			Err(err).
			Msg("resume rejected")
		return ctx.Conn.SendErrorWithType(wsstypes.RESUME, wsstypes.UNKNOWN_SUBSCRIPTION, "Subscription expired or unknown", map[string]any{
			"subscriptionId": payload.SubscriptionID,
		})
	}

	ctx.Conn.Attach(stream, sub)
	go watchClose(ctx.Conn, sub)
	return nil
}

// UnsubscribeHandler closes a subscription.
func UnsubscribeHandler(ctx *wsstypes.WsContext) error {
	var payload wsstypes.SubscriptionPayload
	if err := decode(ctx.Payload, &payload); err != nil || payload.SubscriptionID == "" {
		return ctx.Conn.SendErrorWithType(wsstypes.UNSUBSCRIBE, wsstypes.INVALID_PAYLOAD, "Subscription ID is required", nil)
	}

	if err := ctx.State.Broadcaster.Unsubscribe(payload.SubscriptionID); err != nil {
		return ctx.Conn.SendErrorWithType(wsstypes.UNSUBSCRIBE, wsstypes.UNKNOWN_SUBSCRIPTION, "Subscription expired or unknown", map[string]any{
			"subscriptionId": payload.SubscriptionID,
		})
	}
	return nil
}
