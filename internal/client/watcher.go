// Package client follows a leaderboard subscription over WebSocket and keeps a local
// copy of the filtered view.
package client

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/goccy/go-json"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/lijuuu/ContestLivescoreService/internal/logging"
	"github.com/lijuuu/ContestLivescoreService/internal/model"
	"github.com/lijuuu/ContestLivescoreService/internal/subscription"
	wsstypes "github.com/lijuuu/ContestLivescoreService/internal/wss/types"
)

var ErrContestNotFound = errors.New("contest not found")

type Config struct {
	// URL is the server's /ws endpoint.
	URL         string
	Contest     string
	Callsign    string
	FilterType  string
	FilterValue string

	PingInterval   time.Duration
	BackoffInitial time.Duration
	BackoffMax     time.Duration
	MaxRetries     uint64
}

// Watcher keeps one subscription alive across disconnects. After a reconnect it
// resumes with its subscription id and falls back to a new subscription when the
// server no longer knows it.
type Watcher struct {
	cfg    Config
	onView func(View)
	log    zerolog.Logger

	mu             sync.Mutex
	subscriptionID string
	view           []model.LeaderboardEntry
}

// View is the local leaderboard after an init or update was applied.
type View struct {
	SubscriptionID string
	Full           bool
	NextUpdate     time.Time
	Stations       []model.LeaderboardEntry
}

type frame struct {
	Type           string                   `json:"type"`
	Status         string                   `json:"status"`
	Code           string                   `json:"code"`
	Message        string                   `json:"message"`
	SubscriptionID string                   `json:"subscriptionId"`
	NextUpdate     time.Time                `json:"nextUpdate"`
	Stations       []model.LeaderboardEntry `json:"stations"`
	Changes        []model.EntryPatch       `json:"changes"`
}

func NewWatcher(cfg Config, onView func(View)) *Watcher {
	if cfg.PingInterval <= 0 {
		cfg.PingInterval = time.Minute
	}
	if cfg.BackoffInitial <= 0 {
		cfg.BackoffInitial = time.Second
	}
	if cfg.BackoffMax <= 0 {
		cfg.BackoffMax = 30 * time.Second
	}
	if cfg.MaxRetries == 0 {
		cfg.MaxRetries = 10
	}
	if onView == nil {
		onView = func(View) {}
	}
	return &Watcher{
		cfg:    cfg,
		onView: onView,
		log:    logging.With("watch").With().Str("contest", cfg.Contest).Logger(),
	}
}

// SubscriptionID returns the id of the current subscription, empty before the first init.
func (w *Watcher) SubscriptionID() string {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.subscriptionID
}

// Stations returns a copy of the local view.
func (w *Watcher) Stations() []model.LeaderboardEntry {
	w.mu.Lock()
	defer w.mu.Unlock()
	out := make([]model.LeaderboardEntry, len(w.view))
	for i, e := range w.view {
		out[i] = e.Clone()
	}
	return out
}

// Run streams until ctx is cancelled, the contest is unknown or reconnects are exhausted.
func (w *Watcher) Run(ctx context.Context) error {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = w.cfg.BackoffInitial
	b.MaxInterval = w.cfg.BackoffMax
	b.MaxElapsedTime = 0
	policy := backoff.WithContext(backoff.WithMaxRetries(b, w.cfg.MaxRetries), ctx)

	return backoff.RetryNotify(func() error {
		streamed, err := w.session(ctx)
		if errors.Is(err, ErrContestNotFound) || ctx.Err() != nil {
			return backoff.Permanent(err)
		}
		if streamed {
			// a session that got data earns a fresh retry budget
			policy.Reset()
		}
		return err
	}, policy, func(err error, wait time.Duration) {
		w.log.Warn().Err(err).Dur("retry_in", wait).Msg("watch connection lost")
	})
}

// session runs one connection. It reports whether any stream data arrived.
func (w *Watcher) session(ctx context.Context) (bool, error) {
	ws, _, err := websocket.DefaultDialer.DialContext(ctx, w.cfg.URL, nil)
	if err != nil {
		return false, fmt.Errorf("failed to dial %s: %w", w.cfg.URL, err)
	}
	defer ws.Close()

	var writeMu sync.Mutex
	write := func(msgType string, payload map[string]any) error {
		raw, err := json.Marshal(wsstypes.WsMessage{Type: msgType, Payload: payload})
		if err != nil {
			return err
		}
		writeMu.Lock()
		defer writeMu.Unlock()
		return ws.WriteMessage(websocket.TextMessage, raw)
	}

	if id := w.SubscriptionID(); id != "" {
		err = write(wsstypes.RESUME, map[string]any{"subscriptionId": id})
	} else {
		err = write(wsstypes.SUBSCRIBE, w.subscribePayload())
	}
	if err != nil {
		return false, err
	}

	sessionCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	go func() {
		ticker := time.NewTicker(w.cfg.PingInterval)
		defer ticker.Stop()
		for {
			select {
			case <-sessionCtx.Done():
				ws.Close()
				return
			case <-ticker.C:
				if err := write(wsstypes.PING_SERVER, nil); err != nil {
					return
				}
			}
		}
	}()

	streamed := false
	for {
		_, raw, err := ws.ReadMessage()
		if err != nil {
			if ctx.Err() != nil {
				return streamed, ctx.Err()
			}
			return streamed, fmt.Errorf("read failed: %w", err)
		}

		var f frame
		if err := json.Unmarshal(raw, &f); err != nil {
			w.log.Debug().Err(err).Msg("skipping undecodable frame")
			continue
		}

		switch f.Type {
		case model.StreamInit:
			streamed = true
			w.apply(f, true)
		case model.StreamUpdate:
			streamed = true
			w.apply(f, false)
		case wsstypes.SUBSCRIBE:
			if f.Code == wsstypes.CONTEST_NOT_FOUND {
				return streamed, fmt.Errorf("%w: %s", ErrContestNotFound, w.cfg.Contest)
			}
		case wsstypes.RESUME:
			if f.Code == wsstypes.UNKNOWN_SUBSCRIPTION {
				w.log.Info().Msg("subscription expired, subscribing again")
				w.reset()
				if err := write(wsstypes.SUBSCRIBE, w.subscribePayload()); err != nil {
					return streamed, err
				}
			}
		case wsstypes.SUBSCRIPTION_CLOSED:
			w.reset()
			return streamed, errors.New("subscription closed by server")
		}
	}
}

func (w *Watcher) subscribePayload() map[string]any {
	return map[string]any{
		"contest":     w.cfg.Contest,
		"callsign":    w.cfg.Callsign,
		"filterType":  w.cfg.FilterType,
		"filterValue": w.cfg.FilterValue,
	}
}

func (w *Watcher) apply(f frame, full bool) {
	w.mu.Lock()
	if full {
		w.subscriptionID = f.SubscriptionID
		w.view = f.Stations
	} else {
		w.view = subscription.ApplyDelta(w.view, f.Changes)
	}
	v := View{
		SubscriptionID: w.subscriptionID,
		Full:           full,
		NextUpdate:     f.NextUpdate,
		Stations:       w.view,
	}
	w.mu.Unlock()

	w.onView(v)
}

func (w *Watcher) reset() {
	w.mu.Lock()
	w.subscriptionID = ""
	w.view = nil
	w.mu.Unlock()
}

// WebSocketURL turns an http(s) base address into the /ws endpoint.
func WebSocketURL(base string) (string, error) {
	u, err := url.Parse(base)
	if err != nil {
		return "", fmt.Errorf("invalid server address %q: %w", base, err)
	}
	switch u.Scheme {
	case "http", "":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	}
	if u.Path == "" || u.Path == "/" {
		u.Path = "/ws"
	}
	return u.String(), nil
}
