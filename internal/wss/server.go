// Package wss streams leaderboard subscriptions over WebSocket.
package wss

import (
	"errors"
	"net/http"
	"time"

	"github.com/goccy/go-json"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/lijuuu/ContestLivescoreService/internal/logging"
	"github.com/lijuuu/ContestLivescoreService/internal/wss/broadcasts"
	wsshandler "github.com/lijuuu/ContestLivescoreService/internal/wss/handlers"
	wsstypes "github.com/lijuuu/ContestLivescoreService/internal/wss/types"
)

const (
	pongWait       = 60 * time.Second
	pingPeriod     = pongWait * 9 / 10
	maxMessageSize = 4096
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// NewDefaultDispatcher registers every client message the server understands.
func NewDefaultDispatcher() *Dispatcher {
	d := NewDispatcher()
	d.Register(wsstypes.SUBSCRIBE, wsshandler.SubscribeHandler)
	d.Register(wsstypes.RESUME, wsshandler.ResumeHandler)
	d.Register(wsstypes.UNSUBSCRIBE, wsshandler.UnsubscribeHandler)
	d.Register(wsstypes.PING_SERVER, wsshandler.PingHandler)
	return d
}

// WsHandler upgrades the request and serves client messages until the socket closes.
// A contest query parameter subscribes right away.
func WsHandler(dispatcher *Dispatcher, state *wsstypes.State, writeTimeout time.Duration) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		log := logging.With("wss")

		ws, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			log.Warn().Err(err).Msg("websocket upgrade failed")
			return
		}
		conn := broadcasts.NewConn(ws, writeTimeout)
		defer cleanupConnection(conn)
		log.Debug().Str("remote", conn.RemoteAddr()).Msg("websocket connection established")

		ws.SetReadLimit(maxMessageSize)
		ws.SetReadDeadline(time.Now().Add(pongWait))
		ws.SetPongHandler(func(string) error {
			return ws.SetReadDeadline(time.Now().Add(pongWait))
		})
		go keepAlive(conn)

		if q := r.URL.Query(); q.Get("contest") != "" {
			handle(dispatcher, state, conn, wsstypes.WsMessage{
				Type: wsstypes.SUBSCRIBE,
				Payload: map[string]any{
					"contest":     q.Get("contest"),
					"callsign":    q.Get("callsign"),
					"filterType":  q.Get("filter_type"),
					"filterValue": q.Get("filter_value"),
				},
			})
		}

		for {
			_, msg, err := ws.ReadMessage()
			if err != nil {
				if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
					log.Debug().Err(err).Str("remote", conn.RemoteAddr()).Msg("websocket read failed")
				}
				return
			}
			ws.SetReadDeadline(time.Now().Add(pongWait))

			var wsMsg wsstypes.WsMessage
			if err := json.Unmarshal(msg, &wsMsg); err != nil {
				conn.SendErrorWithType(wsstypes.ERROR, wsstypes.INVALID_PAYLOAD, "Invalid message format", nil)
				continue
			}
			conn.Touch()
			handle(dispatcher, state, conn, wsMsg)
		}
	}
}

func handle(dispatcher *Dispatcher, state *wsstypes.State, conn *broadcasts.Conn, msg wsstypes.WsMessage) {
	ctx := &wsstypes.WsContext{
		Conn:      conn,
		Payload:   msg.Payload,
		RequestID: uuid.New().String(),
		State:     state,
	}
	if err := dispatcher.Dispatch(msg.Type, ctx); errors.Is(err, ErrUnknownEvent) {
		conn.SendErrorWithType(msg.Type, wsstypes.UNKNOWN_EVENT, "Unknown event type", nil)
	}
}

func keepAlive(conn *broadcasts.Conn) {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()
	for {
		select {
		case <-conn.Done():
			return
		case <-ticker.C:
			if err := conn.Ping(); err != nil {
				conn.Close()
				return
			}
		}
	}
}

// cleanupConnection hands every subscription on the socket over to its reconnect
// grace period and closes the socket.
func cleanupConnection(conn *broadcasts.Conn) {
	for stream, sub := range conn.Subscriptions() {
		sub.TransportLost(stream)
	}
	conn.Close()
	logging.Debug().Str("remote", conn.RemoteAddr()).Msg("websocket connection closed")
}
