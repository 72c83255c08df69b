// Package broadcaster opens subscriptions and drives them from one shared ticker per contest.
package broadcaster

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/lijuuu/ContestLivescoreService/internal/filter"
	"github.com/lijuuu/ContestLivescoreService/internal/logging"
	"github.com/lijuuu/ContestLivescoreService/internal/state"
	"github.com/lijuuu/ContestLivescoreService/internal/subscription"
)

var (
	ErrContestNotFound     = errors.New("contest not found")
	ErrUnknownSubscription = errors.New("unknown subscription")
)

// Source is the leaderboard side the broadcaster reads from.
type Source interface {
	subscription.Source
	HasContest(contest string) bool
}

type Config struct {
	TickInterval time.Duration
	Subscription subscription.Config
}

func DefaultConfig() Config {
	return Config{
		TickInterval: 5 * time.Second,
		Subscription: subscription.DefaultConfig(),
	}
}

// OpenRequest is what a client asks for when it starts streaming.
type OpenRequest struct {
	Contest     string `json:"contest"`
	Callsign    string `json:"callsign"`
	FilterType  string `json:"filterType"`
	FilterValue string `json:"filterValue"`
}

type Broadcaster struct {
	src   Source
	state *state.LocalStateManager
	cfg   Config

	mu sync.Mutex
	// loops maps a contest to the Done channel of the state its loop serves.
	loops map[string]<-chan struct{}

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func New(src Source, st *state.LocalStateManager, cfg Config) *Broadcaster {
	if cfg.TickInterval <= 0 {
		cfg.TickInterval = DefaultConfig().TickInterval
	}
	if cfg.Subscription.Now == nil {
		cfg.Subscription.Now = time.Now
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Broadcaster{
		src:    src,
		state:  st,
		cfg:    cfg,
		loops:  make(map[string]<-chan struct{}),
		ctx:    ctx,
		cancel: cancel,
	}
}

// Open starts a subscription on t. It fails fast when the contest has no stations.
func (b *Broadcaster) Open(req OpenRequest, t subscription.Transport) (*subscription.Subscription, error) {
	contest := strings.TrimSpace(req.Contest)
	if contest == "" || !b.src.HasContest(contest) {
		return nil, fmt.Errorf("%w: %q", ErrContestNotFound, contest)
	}
	if req.FilterType != "" && !filter.Known(req.FilterType) {
		logging.Debug().Str("filter_type", req.FilterType).Msg("unknown filter type, streaming unfiltered")
	}

	sub := subscription.New(
		uuid.NewString(),
		contest,
		strings.ToUpper(strings.TrimSpace(req.Callsign)),
		filter.Parse(req.FilterType, req.FilterValue),
		t,
		b.src,
		b.cfg.Subscription,
	)
	b.state.AddSubscription(sub)
	b.ensureLoop(contest)

	b.wg.Add(1)
	go func() {
		defer b.wg.Done()
		sub.Run(b.ctx)
		b.state.RemoveSubscription(contest, sub.ID)
	}()

	logging.Info().
		Str("subscription_id", sub.ID).
		Str("contest", contest).
		Str("callsign", sub.Callsign).
		Str("filter", sub.Filter.String()).
		Msg("subscription opened")
	return sub, nil
}

// Resume reattaches a client to its subscription after a reconnect.
func (b *Broadcaster) Resume(id string, t subscription.Transport) (*subscription.Subscription, error) {
	sub, ok := b.state.GetSubscription(id)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownSubscription, id)
	}
	if err := sub.Resume(t); err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrUnknownSubscription, id, err)
	}
	return sub, nil
}

// Unsubscribe closes a subscription.
func (b *Broadcaster) Unsubscribe(id string) error {
	sub, ok := b.state.GetSubscription(id)
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownSubscription, id)
	}
	sub.Close()
	return nil
}

// Lookup returns a live subscription by id.
func (b *Broadcaster) Lookup(id string) (*subscription.Subscription, bool) {
	return b.state.GetSubscription(id)
}

func (b *Broadcaster) ensureLoop(contest string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if done, ok := b.loops[contest]; ok {
		select {
		case <-done:
			// the contest was cleaned up; its loop is exiting
		default:
			return
		}
	}
	st := b.state.GetContestState(contest)
	b.loops[contest] = st.Done

	b.wg.Add(1)
	go func() {
		defer b.wg.Done()
		b.loop(contest, st)
	}()
}

// loop is the single scheduler of a contest. Every tick and every leaderboard
// event wakes all of the contest's subscriptions.
func (b *Broadcaster) loop(contest string, st *state.ContestLocalState) {
	ticker := time.NewTicker(b.cfg.TickInterval)
	defer ticker.Stop()

	for {
		select {
		case <-b.ctx.Done():
			return
		case <-st.Done:
			b.mu.Lock()
			if b.loops[contest] == st.Done {
				delete(b.loops, contest)
			}
			b.mu.Unlock()
			return
		case <-ticker.C:
			b.fanout(contest, b.cfg.Subscription.Now())
		case <-st.EventChan:
			b.fanout(contest, b.cfg.Subscription.Now())
		}
	}
}

func (b *Broadcaster) fanout(contest string, now time.Time) {
	for _, sub := range b.state.GetAllSubscriptions(contest) {
		sub.Notify(now)
	}
}

// Tick wakes every subscription of a contest at now.
func (b *Broadcaster) Tick(contest string, now time.Time) {
	b.fanout(contest, now)
}

// Serve runs until ctx is cancelled and then closes every subscription.
func (b *Broadcaster) Serve(ctx context.Context) error {
	<-ctx.Done()
	b.Stop()
	return ctx.Err()
}

func (b *Broadcaster) Stop() {
	b.cancel()
	b.wg.Wait()
}

func (b *Broadcaster) String() string {
	return "broadcaster"
}
