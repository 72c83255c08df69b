package wsshandler

import (
	"time"

	"github.com/lijuuu/ContestLivescoreService/internal/wss/broadcasts"
	wsstypes "github.com/lijuuu/ContestLivescoreService/internal/wss/types"
)

func PingHandler(ctx *wsstypes.WsContext) error {
	return broadcasts.SendSuccess(ctx.Conn, wsstypes.PONG_SERVER, "pong", map[string]any{
		"time": time.Now(),
	})
}
