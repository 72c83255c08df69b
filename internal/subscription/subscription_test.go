package subscription

import (
	"context"
	"errors"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/lijuuu/ContestLivescoreService/internal/filter"
	"github.com/lijuuu/ContestLivescoreService/internal/leaderboard"
	"github.com/lijuuu/ContestLivescoreService/internal/logging"
	"github.com/lijuuu/ContestLivescoreService/internal/model"
	"github.com/lijuuu/ContestLivescoreService/internal/rate"
	"github.com/lijuuu/ContestLivescoreService/internal/snapshot"
)

func init() {
	logging.Init(logging.Config{Level: "error", Output: io.Discard})
}

type fakeTransport struct {
	mu       sync.Mutex
	msgs     chan any
	failNext int
	closed   bool
}

func newFakeTransport() *fakeTransport {
	return &fakeTransport{msgs: make(chan any, 32)}
}

func (f *fakeTransport) Send(_ context.Context, msg any) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return errors.New("use of closed connection")
	}
	if f.failNext > 0 {
		f.failNext--
		return errors.New("broken pipe")
	}
	f.msgs <- msg
	return nil
}

func (f *fakeTransport) Close() error {
	f.mu.Lock()
	f.closed = true
	f.mu.Unlock()
	return nil
}

func (f *fakeTransport) fail(n int) {
	f.mu.Lock()
	f.failNext = n
	f.mu.Unlock()
}

func (f *fakeTransport) isClosed() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.closed
}

type reconnectingTransport struct {
	*fakeTransport
	mu       sync.Mutex
	attempts int
}

func (r *reconnectingTransport) Reconnect(context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.attempts++
	if r.attempts < 3 {
		return errors.New("dial refused")
	}
	return nil
}

func (r *reconnectingTransport) Close() error { return nil }

// stuckTransport fails every reconnect once released.
type stuckTransport struct {
	*fakeTransport
	release chan struct{}
}

func (s *stuckTransport) Reconnect(ctx context.Context) error {
	select {
	case <-s.release:
		return errors.New("dial refused")
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *stuckTransport) Close() error { return nil }

type clock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *clock) Set(t time.Time) {
	c.mu.Lock()
	c.now = t
	c.mu.Unlock()
}

type fixture struct {
	store *snapshot.Store
	lm    *leaderboard.LeaderboardManager
	clock *clock
	cfg   Config
}

func newFixture() *fixture {
	store := snapshot.NewStore()
	c := &clock{now: t0}
	cfg := DefaultConfig()
	cfg.Now = c.Now
	cfg.BackoffInitial = time.Millisecond
	cfg.BackoffMax = 5 * time.Millisecond
	return &fixture{
		store: store,
		lm:    leaderboard.NewLeaderboardManager(store, rate.NewCalculator(store, 0, 0)),
		clock: c,
		cfg:   cfg,
	}
}

func (fx *fixture) submit(call, zone string, minute int, qsos int) {
	fx.store.Append(model.Snapshot{
		Key:     model.StationKey{Contest: "CQWW", Callsign: call},
		Profile: model.Profile{CQZone: zone},
		Score:   int64(qsos),
		Bands:   map[string]model.BandCount{"40": {QSOs: qsos}},
		At:      t0.Add(time.Duration(minute) * time.Minute),
	})
	fx.lm.Materialize("CQWW")
}

func (fx *fixture) start(t *testing.T, tr Transport, f filter.Filter) *Subscription {
	t.Helper()
	sub := New("sub-1", "CQWW", "W1AW", f, tr, fx.lm, fx.cfg)
	ctx, cancel := context.WithCancel(context.Background())
	go sub.Run(ctx)
	t.Cleanup(func() {
		cancel()
		<-sub.Done()
	})
	return sub
}

func receive(t *testing.T, tr *fakeTransport) any {
	t.Helper()
	select {
	case msg := <-tr.msgs:
		return msg
	case <-time.After(2 * time.Second):
		t.Fatal("no message received")
		return nil
	}
}

func expectNothing(t *testing.T, tr *fakeTransport) {
	t.Helper()
	select {
	case msg := <-tr.msgs:
		t.Fatalf("unexpected message %+v", msg)
	case <-time.After(50 * time.Millisecond):
	}
}

func waitState(t *testing.T, sub *Subscription, want State) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if sub.State() == want {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("state = %s, want %s", sub.State(), want)
}

func TestInitThenDeltaAfterMinInterval(t *testing.T) {
	fx := newFixture()
	fx.submit("W1AW", "5", 0, 10)
	fx.submit("K1ABC", "5", 0, 20)

	tr := newFakeTransport()
	sub := fx.start(t, tr, filter.Parse("none", ""))

	init, ok := receive(t, tr).(model.InitMessage)
	if !ok {
		t.Fatal("first message is not an init")
	}
	if len(init.Stations) != 2 || init.SubscriptionID != "sub-1" {
		t.Errorf("init = %+v", init)
	}
	if !init.NextUpdate.Equal(t0.Add(2 * time.Minute)) {
		t.Errorf("next update = %v", init.NextUpdate)
	}
	waitState(t, sub, Streaming)

	// unchanged leaderboard version: nothing to send
	sub.Notify(t0.Add(3 * time.Minute))
	expectNothing(t, tr)

	fx.submit("W1AW", "5", 15, 25)

	sub.Notify(t0.Add(time.Minute))
	expectNothing(t, tr)

	sub.Notify(t0.Add(2 * time.Minute))
	upd, ok := receive(t, tr).(model.UpdateMessage)
	if !ok {
		t.Fatal("expected an update")
	}
	var w1aw *model.EntryPatch
	for i := range upd.Changes {
		if upd.Changes[i].Callsign == "W1AW" {
			w1aw = &upd.Changes[i]
		}
		if p := upd.Changes[i]; p.Callsign == "K1ABC" {
			// only its position moved
			if p.Position == nil || *p.Position != 2 || p.Score != nil || p.BandData != nil {
				t.Errorf("K1ABC patch = %+v", p)
			}
		}
	}
	if w1aw == nil || w1aw.Score == nil || *w1aw.Score != 25 {
		t.Fatalf("W1AW patch = %+v", w1aw)
	}
	if w1aw.Position == nil || *w1aw.Position != 1 {
		t.Errorf("W1AW position patch = %v", w1aw.Position)
	}

	// materialized again without visible change
	fx.lm.Materialize("CQWW")
	sub.Notify(t0.Add(10 * time.Minute))
	expectNothing(t, tr)
}

func TestStationLeavingViewSendsInit(t *testing.T) {
	fx := newFixture()
	fx.submit("DL1XX", "14", 0, 10)
	fx.submit("F5AB", "14", 0, 5)

	tr := newFakeTransport()
	sub := fx.start(t, tr, filter.Parse("cq_zone", "14"))
	receive(t, tr)
	waitState(t, sub, Streaming)

	fx.submit("F5AB", "15", 5, 6)
	sub.Notify(t0.Add(5 * time.Minute))

	init, ok := receive(t, tr).(model.InitMessage)
	if !ok {
		t.Fatal("removal did not produce an init")
	}
	if len(init.Stations) != 1 || init.Stations[0].Callsign != "DL1XX" {
		t.Errorf("stations = %+v", init.Stations)
	}
}

func TestDegradedThenResumeGetsFreshInit(t *testing.T) {
	fx := newFixture()
	fx.submit("W1AW", "5", 0, 10)

	tr := newFakeTransport()
	sub := fx.start(t, tr, filter.Parse("none", ""))
	receive(t, tr)
	waitState(t, sub, Streaming)

	// the update is lost on the wire
	fx.submit("W1AW", "5", 10, 20)
	tr.fail(1)
	sub.Notify(t0.Add(5 * time.Minute))
	waitState(t, sub, Degraded)
	if !tr.isClosed() {
		t.Error("failed transport not closed")
	}

	tr2 := newFakeTransport()
	if err := sub.Resume(tr2); err != nil {
		t.Fatalf("resume: %v", err)
	}
	init, ok := receive(t, tr2).(model.InitMessage)
	if !ok {
		t.Fatal("resume did not produce an init")
	}
	if init.Stations[0].Score != 20 {
		t.Errorf("init carries stale score %d", init.Stations[0].Score)
	}
	waitState(t, sub, Streaming)
}

func TestReconnectGraceExpires(t *testing.T) {
	fx := newFixture()
	fx.submit("W1AW", "5", 0, 10)

	tr := newFakeTransport()
	sub := fx.start(t, tr, filter.Parse("none", ""))
	receive(t, tr)
	waitState(t, sub, Streaming)

	sub.TransportLost(tr)
	waitState(t, sub, Degraded)

	sub.Notify(t0.Add(time.Minute))
	time.Sleep(20 * time.Millisecond)
	if sub.State() != Degraded {
		t.Fatalf("closed before grace, state = %s", sub.State())
	}

	sub.Notify(t0.Add(fx.cfg.ReconnectGrace))
	select {
	case <-sub.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("subscription not closed after grace")
	}
	if sub.State() != Closed {
		t.Errorf("state = %s", sub.State())
	}
	if err := sub.Resume(newFakeTransport()); !errors.Is(err, ErrClosed) {
		t.Errorf("resume after close = %v", err)
	}
}

func TestReconnectorRecoversWithBackoff(t *testing.T) {
	fx := newFixture()
	fx.submit("W1AW", "5", 0, 10)

	tr := &reconnectingTransport{fakeTransport: newFakeTransport()}
	sub := fx.start(t, tr, filter.Parse("none", ""))
	receive(t, tr.fakeTransport)
	waitState(t, sub, Streaming)

	fx.submit("W1AW", "5", 10, 20)
	tr.fail(1)
	sub.Notify(t0.Add(5 * time.Minute))

	init, ok := receive(t, tr.fakeTransport).(model.InitMessage)
	if !ok {
		t.Fatal("reconnect did not produce an init")
	}
	if init.Stations[0].Score != 20 {
		t.Errorf("score = %d", init.Stations[0].Score)
	}
	waitState(t, sub, Streaming)

	tr.mu.Lock()
	attempts := tr.attempts
	tr.mu.Unlock()
	if attempts != 3 {
		t.Errorf("reconnect attempts = %d, want 3", attempts)
	}
}

func TestFailedReconnectAfterResumeIsIgnored(t *testing.T) {
	fx := newFixture()
	fx.submit("W1AW", "5", 0, 10)

	tr := &stuckTransport{fakeTransport: newFakeTransport(), release: make(chan struct{})}
	sub := fx.start(t, tr, filter.Parse("none", ""))
	receive(t, tr.fakeTransport)
	waitState(t, sub, Streaming)

	fx.submit("W1AW", "5", 10, 20)
	tr.fail(1)
	sub.Notify(t0.Add(5 * time.Minute))
	waitState(t, sub, Degraded)

	next := newFakeTransport()
	if err := sub.Resume(next); err != nil {
		t.Fatalf("resume: %v", err)
	}
	if _, ok := receive(t, next).(model.InitMessage); !ok {
		t.Fatal("resume did not produce an init")
	}
	waitState(t, sub, Streaming)

	close(tr.release)
	time.Sleep(200 * time.Millisecond)
	select {
	case <-sub.Done():
		t.Fatal("stale reconnect failure closed the resumed subscription")
	default:
	}
	if sub.State() != Streaming {
		t.Errorf("state = %s, want streaming", sub.State())
	}
}

func TestIdleTimeoutCloses(t *testing.T) {
	fx := newFixture()
	fx.cfg.IdleTimeout = 10 * time.Minute
	fx.submit("W1AW", "5", 0, 10)

	tr := newFakeTransport()
	sub := fx.start(t, tr, filter.Parse("none", ""))
	receive(t, tr)
	waitState(t, sub, Streaming)

	fx.clock.Set(t0.Add(5 * time.Minute))
	sub.Touch()
	sub.Notify(t0.Add(12 * time.Minute))
	time.Sleep(20 * time.Millisecond)
	if sub.State() != Streaming {
		t.Fatalf("closed despite activity, state = %s", sub.State())
	}

	sub.Notify(t0.Add(15 * time.Minute))
	select {
	case <-sub.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("idle subscription not closed")
	}
	if !tr.isClosed() {
		t.Error("transport left open")
	}
}

func TestCloseReleasesTransport(t *testing.T) {
	fx := newFixture()
	fx.submit("W1AW", "5", 0, 10)

	tr := newFakeTransport()
	sub := fx.start(t, tr, filter.Parse("none", ""))
	receive(t, tr)

	sub.Close()
	select {
	case <-sub.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("Close did not stop the subscription")
	}
	if sub.State() != Closed || !tr.isClosed() {
		t.Errorf("state = %s closed = %v", sub.State(), tr.isClosed())
	}
}
