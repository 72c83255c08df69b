package wss

import (
	"errors"
	"fmt"

	"github.com/lijuuu/ContestLivescoreService/internal/logging"
	wsstypes "github.com/lijuuu/ContestLivescoreService/internal/wss/types"
)

var ErrUnknownEvent = errors.New("unknown event type")

// WsHandlerType defines the signature for a WebSocket event handler
type WsHandlerType func(*wsstypes.WsContext) error

type Dispatcher struct {
	handlers map[string]WsHandlerType
}

func NewDispatcher() *Dispatcher {
	return &Dispatcher{
		handlers: make(map[string]WsHandlerType),
	}
}

func (d *Dispatcher) Register(event string, handler WsHandlerType) {
	logging.Debug().Str("event", event).Msg("registering websocket handler")
	d.handlers[event] = handler
}

func (d *Dispatcher) Dispatch(event string, ctx *wsstypes.WsContext) error {
	handler, ok := d.handlers[event]
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownEvent, event)
	}

	err := handler(ctx)
	if err != nil {
		logging.Warn().
			Str("request_id", ctx.RequestID).
			Str("event", event).
			Err(err).
			Msg("websocket handler failed")
	}
	return err
}
