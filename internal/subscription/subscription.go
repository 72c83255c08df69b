// Package subscription runs one long-lived leaderboard stream per client.
package subscription

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/lijuuu/ContestLivescoreService/internal/filter"
	"github.com/lijuuu/ContestLivescoreService/internal/leaderboard"
	"github.com/lijuuu/ContestLivescoreService/internal/logging"
	"github.com/lijuuu/ContestLivescoreService/internal/metrics"
	"github.com/lijuuu/ContestLivescoreService/internal/model"
)

var (
	ErrTransport = errors.New("subscription transport failed")
	ErrClosed    = errors.New("subscription closed")
)

const maxReconnectAttempts = 10

type State int32

const (
	Connecting State = iota
	Streaming
	Degraded
	Closed
)

func (s State) String() string {
	switch s {
	case Connecting:
		return "connecting"
	case Streaming:
		return "streaming"
	case Degraded:
		return "degraded"
	case Closed:
		return "closed"
	default:
		return fmt.Sprintf("state(%d)", int32(s))
	}
}

// Transport delivers stream messages to one client.
type Transport interface {
	Send(ctx context.Context, msg any) error
	Close() error
}

// Reconnector is implemented by transports that can re-establish themselves.
// Other transports wait for the client to resume with its subscription id.
type Reconnector interface {
	Reconnect(ctx context.Context) error
}

// Source hands out the latest published leaderboard of a contest.
type Source interface {
	Current(contest string) (*leaderboard.Leaderboard, bool)
}

type Config struct {
	MinInterval    time.Duration
	IdleTimeout    time.Duration
	SendTimeout    time.Duration
	ReconnectGrace time.Duration
	BackoffInitial time.Duration
	BackoffMax     time.Duration
	Now            func() time.Time
}

func DefaultConfig() Config {
	return Config{
		MinInterval:    2 * time.Minute,
		IdleTimeout:    30 * time.Minute,
		SendTimeout:    10 * time.Second,
		ReconnectGrace: 2 * time.Minute,
		BackoffInitial: time.Second,
		BackoffMax:     30 * time.Second,
		Now:            time.Now,
	}
}

type Subscription struct {
	ID       string
	Contest  string
	Callsign string
	Filter   filter.Filter

	cfg Config
	src Source

	mu           sync.Mutex
	state        State
	transport    Transport
	baseline     []model.LeaderboardEntry
	baseVersion  uint64
	lastPush     time.Time
	lastActivity time.Time
	degradedAt   time.Time
	reconnecting bool

	wake        chan time.Time
	resume      chan Transport
	lost        chan Transport
	reconnected chan reconnectResult

	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}
}

func New(id, contest, callsign string, f filter.Filter, t Transport, src Source, cfg Config) *Subscription {
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if cfg.SendTimeout <= 0 {
		cfg.SendTimeout = DefaultConfig().SendTimeout
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Subscription{
		ID:           id,
		Contest:      contest,
		Callsign:     callsign,
		Filter:       f,
		cfg:          cfg,
		src:          src,
		state:        Connecting,
		transport:    t,
		lastActivity: cfg.Now(),
		wake:         make(chan time.Time, 1),
		resume:       make(chan Transport, 1),
		lost:         make(chan Transport, 1),
		reconnected:  make(chan reconnectResult, 1),
		ctx:          ctx,
		cancel:       cancel,
		done:         make(chan struct{}),
	}
}

func (s *Subscription) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Done is closed once the subscription reached Closed and released its resources.
func (s *Subscription) Done() <-chan struct{} {
	return s.done
}

// Notify wakes the subscription for one evaluation at now. Ticks that arrive while one
// is pending are dropped.
func (s *Subscription) Notify(now time.Time) {
	select {
	case s.wake <- now:
	default:
	}
}

// Touch records client activity for the idle timeout.
func (s *Subscription) Touch() {
	s.mu.Lock()
	s.lastActivity = s.cfg.Now()
	s.mu.Unlock()
}

// Resume attaches a new transport after a disconnect. The client receives a fresh init.
func (s *Subscription) Resume(t Transport) error {
	select {
	case <-s.done:
		return ErrClosed
	default:
	}
	select {
	case s.resume <- t:
		return nil
	case <-s.done:
		return ErrClosed
	}
}

// TransportLost reports that t failed outside of a send, e.g. its read side closed.
func (s *Subscription) TransportLost(t Transport) {
	select {
	case s.lost <- t:
	case <-s.done:
	default:
	}
}

// Close unsubscribes. Any in-flight push is cancelled.
func (s *Subscription) Close() {
	s.cancel()
}

// Run drives the state machine until the subscription closes or ctx is cancelled.
func (s *Subscription) Run(ctx context.Context) {
	defer close(s.done)

	log := logging.With("subscription").With().
		Str("subscription_id", s.ID).
		Str("contest", s.Contest).
		Str("callsign", s.Callsign).
		Str("filter", s.Filter.String()).
		Logger()

	metrics.ActiveSubscriptions.Inc()
	defer metrics.ActiveSubscriptions.Dec()

	s.attach(s.transportRef(), s.cfg.Now())

	for {
		var reason string
		select {
		case <-ctx.Done():
			reason = "shutdown"
		case <-s.ctx.Done():
			reason = "unsubscribed"
		case now := <-s.wake:
			reason = s.tick(now)
		case t := <-s.resume:
			log.Info().Msg("client resumed subscription")
			s.attach(t, s.cfg.Now())
		case t := <-s.lost:
			if t == s.transportRef() {
				s.degrade(ErrTransport)
			}
		case res := <-s.reconnected:
			if res.transport != s.transportRef() {
				// the client resumed on another transport meanwhile
				break
			}
			s.mu.Lock()
			s.reconnecting = false
			s.mu.Unlock()
			if err := res.err; err != nil {
				reason = "reconnect failed"
				log.Warn().Err(err).Msg("transport reconnect gave up")
				break
			}
			s.attach(s.transportRef(), s.cfg.Now())
		}

		if reason != "" {
			s.shutdown()
			log.Info().Str("reason", reason).Msg("subscription closed")
			return
		}
	}
}

func (s *Subscription) transportRef() Transport {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.transport
}

// tick evaluates timeouts and pushes when due. A non-empty result closes the subscription.
func (s *Subscription) tick(now time.Time) string {
	s.mu.Lock()
	state := s.state
	idle := s.cfg.IdleTimeout > 0 && now.Sub(s.lastActivity) >= s.cfg.IdleTimeout
	expired := !s.reconnecting && now.Sub(s.degradedAt) >= s.cfg.ReconnectGrace
	s.mu.Unlock()

	switch state {
	case Degraded:
		if expired {
			return "reconnect grace expired"
		}
	case Streaming:
		if idle {
			return "idle timeout"
		}
		s.maybePush(now)
	}
	return ""
}

func (s *Subscription) maybePush(now time.Time) {
	board, ok := s.src.Current(s.Contest)
	if !ok {
		return
	}

	s.mu.Lock()
	due := board.Version > s.baseVersion && now.Sub(s.lastPush) >= s.cfg.MinInterval
	base := s.baseline
	s.mu.Unlock()
	if !due {
		return
	}

	view := filter.View(board, s.Filter, s.Callsign)
	changes, reinit := Diff(base, view)
	if reinit {
		s.pushInit(board, view, now)
		return
	}
	if len(changes) == 0 {
		s.mu.Lock()
		s.baseVersion = board.Version
		s.mu.Unlock()
		return
	}

	msg := model.UpdateMessage{
		Type:           model.StreamUpdate,
		SubscriptionID: s.ID,
		Contest:        s.Contest,
		Timestamp:      now,
		NextUpdate:     now.Add(s.cfg.MinInterval),
		Changes:        changes,
	}
	if err := s.send(msg); err != nil {
		s.degrade(err)
		return
	}
	metrics.Pushes.WithLabelValues(model.StreamUpdate).Inc()

	s.mu.Lock()
	s.baseline = view
	s.baseVersion = board.Version
	s.lastPush = now
	s.mu.Unlock()
}

// attach makes t the active transport and sends a full init.
func (s *Subscription) attach(t Transport, now time.Time) {
	s.mu.Lock()
	if s.state == Closed {
		s.mu.Unlock()
		return
	}
	old := s.transport
	s.transport = t
	s.state = Connecting
	s.reconnecting = false
	s.baseline = nil
	s.baseVersion = 0
	s.lastActivity = now
	s.mu.Unlock()

	if old != nil && old != t {
		old.Close()
	}

	board, _ := s.src.Current(s.Contest)
	s.pushInit(board, filter.View(board, s.Filter, s.Callsign), now)
}

func (s *Subscription) pushInit(board *leaderboard.Leaderboard, view []model.LeaderboardEntry, now time.Time) {
	msg := model.InitMessage{
		Type:           model.StreamInit,
		SubscriptionID: s.ID,
		Contest:        s.Contest,
		Callsign:       s.Callsign,
		FilterType:     string(s.Filter.Type),
		FilterValue:    s.Filter.Value,
		Timestamp:      now,
		NextUpdate:     now.Add(s.cfg.MinInterval),
		Stations:       view,
	}
	if err := s.send(msg); err != nil {
		s.degrade(err)
		return
	}
	metrics.Pushes.WithLabelValues(model.StreamInit).Inc()

	var version uint64
	if board != nil {
		version = board.Version
	}
	s.mu.Lock()
	s.state = Streaming
	s.baseline = view
	s.baseVersion = version
	s.lastPush = now
	s.mu.Unlock()
}

func (s *Subscription) send(msg any) error {
	t := s.transportRef()
	if t == nil {
		return ErrTransport
	}
	ctx, cancel := context.WithTimeout(s.ctx, s.cfg.SendTimeout)
	defer cancel()
	if err := t.Send(ctx, msg); err != nil {
		metrics.PushFailures.Inc()
		return fmt.Errorf("%w: %v", ErrTransport, err)
	}
	return nil
}

// degrade drops the baseline and starts recovery.
func (s *Subscription) degrade(err error) {
	s.mu.Lock()
	if s.state == Closed || s.state == Degraded {
		s.mu.Unlock()
		return
	}
	s.state = Degraded
	s.baseline = nil
	s.baseVersion = 0
	s.degradedAt = s.cfg.Now()
	t := s.transport
	r, canReconnect := t.(Reconnector)
	s.reconnecting = canReconnect
	s.mu.Unlock()

	logging.Warn().
		Err(err).
		Str("subscription_id", s.ID).
		Bool("reconnect", canReconnect).
		Msg("subscription degraded")

	if canReconnect {
		go s.reconnect(t, r)
		return
	}
	if t != nil {
		t.Close()
	}
}

func (s *Subscription) reconnect(t Transport, r Reconnector) {
	b := backoff.NewExponentialBackOff()
	if s.cfg.BackoffInitial > 0 {
		b.InitialInterval = s.cfg.BackoffInitial
	}
	if s.cfg.BackoffMax > 0 {
		b.MaxInterval = s.cfg.BackoffMax
	}
	b.MaxElapsedTime = s.cfg.ReconnectGrace

	err := backoff.Retry(func() error {
		return r.Reconnect(s.ctx)
	}, backoff.WithContext(backoff.WithMaxRetries(b, maxReconnectAttempts), s.ctx))

	select {
	case s.reconnected <- reconnectResult{transport: t, err: err}:
	case <-s.ctx.Done():
	}
}

// reconnectResult reports the outcome of reconnecting one transport.
type reconnectResult struct {
	transport Transport
	err       error
}

func (s *Subscription) shutdown() {
	s.cancel()

	s.mu.Lock()
	s.state = Closed
	s.baseline = nil
	t := s.transport
	s.transport = nil
	s.mu.Unlock()

	if t != nil {
		t.Close()
	}
}
