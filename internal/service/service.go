// Package service is the ingestion entry point of the livescore engine. Each contest
// gets one worker that appends snapshots, coalesces bursts and materializes the
// contest leaderboard once per drained batch.
package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/lijuuu/ContestLivescoreService/internal/callsign"
	"github.com/lijuuu/ContestLivescoreService/internal/leaderboard"
	"github.com/lijuuu/ContestLivescoreService/internal/logging"
	"github.com/lijuuu/ContestLivescoreService/internal/metrics"
	"github.com/lijuuu/ContestLivescoreService/internal/model"
	"github.com/lijuuu/ContestLivescoreService/internal/rate"
	"github.com/lijuuu/ContestLivescoreService/internal/snapshot"
	"github.com/lijuuu/ContestLivescoreService/internal/state"
)

var (
	ErrMalformedSnapshot = errors.New("malformed snapshot")
	ErrContestNotFound   = errors.New("contest not found")
	ErrStationNotFound   = errors.New("station not found")
	ErrClosed            = errors.New("service closed")
)

// Notifier receives ingestion results for the sinks. Implementations must not block.
type Notifier interface {
	SnapshotAppended(snap model.Snapshot)
	LeaderboardMaterialized(board *leaderboard.Leaderboard)
}

type nopNotifier struct{}

func (nopNotifier) SnapshotAppended(model.Snapshot)                 {}
func (nopNotifier) LeaderboardMaterialized(*leaderboard.Leaderboard) {}

type Config struct {
	QueueSize   int
	MaxBatch    int
	Retention   time.Duration
	LongWindow  time.Duration
	ShortWindow time.Duration
	Now         func() time.Time
}

func DefaultConfig() Config {
	return Config{
		QueueSize:   1024,
		MaxBatch:    256,
		Retention:   72 * time.Hour,
		LongWindow:  rate.DefaultLongWindow,
		ShortWindow: rate.DefaultShortWindow,
		Now:         time.Now,
	}
}

type ContestService struct {
	store    *snapshot.Store
	rates    *rate.Calculator
	boards   *leaderboard.LeaderboardManager
	classify *callsign.Table
	state    *state.LocalStateManager
	notifier Notifier
	cfg      Config

	mu      sync.Mutex
	workers map[string]*worker

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewContestService wires the store, rate calculator and materializer. classify and
// notifier may be nil.
func NewContestService(st *state.LocalStateManager, classify *callsign.Table, notifier Notifier, cfg Config) *ContestService {
	def := DefaultConfig()
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = def.QueueSize
	}
	if cfg.MaxBatch <= 0 {
		cfg.MaxBatch = def.MaxBatch
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if notifier == nil {
		notifier = nopNotifier{}
	}
	if st == nil {
		st = state.NewLocalStateManager()
	}

	store := snapshot.NewStore()
	rates := rate.NewCalculator(store, cfg.LongWindow, cfg.ShortWindow)
	ctx, cancel := context.WithCancel(context.Background())
	return &ContestService{
		store:    store,
		rates:    rates,
		boards:   leaderboard.NewLeaderboardManager(store, rates),
		classify: classify,
		state:    st,
		notifier: notifier,
		cfg:      cfg,
		workers:  make(map[string]*worker),
		ctx:      ctx,
		cancel:   cancel,
	}
}

// Submit validates a submission, stamps it with the server time and queues it on the
// contest's worker. It blocks while the queue is full.
func (s *ContestService) Submit(ctx context.Context, sub model.Submission) (model.Snapshot, error) {
	if err := validate(sub); err != nil {
		metrics.SubmissionsRejected.Inc()
		return model.Snapshot{}, err
	}

	snap := sub.Snapshot(s.cfg.Now())
	if s.classify != nil {
		snap.Profile = s.classify.Classify(snap.Key.Callsign, snap.Profile)
	}

	if err := s.enqueue(ctx, job{snap: snap}); err != nil {
		return model.Snapshot{}, err
	}
	return snap, nil
}

func validate(sub model.Submission) error {
	if strings.TrimSpace(sub.Contest) == "" {
		return fmt.Errorf("%w: contest is required", ErrMalformedSnapshot)
	}
	if strings.TrimSpace(sub.Callsign) == "" {
		return fmt.Errorf("%w: callsign is required", ErrMalformedSnapshot)
	}
	return nil
}

// Sync returns once every submission queued for contest before the call has been
// appended and materialized.
func (s *ContestService) Sync(ctx context.Context, contest string) error {
	done := make(chan struct{})
	if err := s.enqueue(ctx, job{contest: contest, done: done}); err != nil {
		return err
	}
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-s.ctx.Done():
		return ErrClosed
	}
}

func (s *ContestService) enqueue(ctx context.Context, j job) error {
	contest := j.contest
	if contest == "" {
		contest = j.snap.Key.Contest
	}
	w, err := s.worker(contest)
	if err != nil {
		return err
	}

	select {
	case w.queue <- j:
		metrics.IngestQueueDepth.WithLabelValues(contest).Set(float64(len(w.queue)))
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-s.ctx.Done():
		return ErrClosed
	}
}

func (s *ContestService) worker(contest string) (*worker, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.ctx.Err() != nil {
		return nil, ErrClosed
	}
	if w, ok := s.workers[contest]; ok {
		return w, nil
	}

	w := &worker{
		contest: contest,
		queue:   make(chan job, s.cfg.QueueSize),
		svc:     s,
		log:     logging.With("ingest").With().Str("contest", contest).Logger(),
	}
	s.workers[contest] = w

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		w.run(s.ctx)
	}()
	w.log.Info().Msg("ingestion worker started")
	return w, nil
}

// Restore loads persisted snapshots, for example on warm start, and materializes
// every contest they touch.
func (s *ContestService) Restore(snaps []model.Snapshot) int {
	added := s.store.Restore(snaps)
	contests := make(map[string]bool)
	for _, snap := range snaps {
		contests[snap.Key.Contest] = true
	}
	for contest := range contests {
		// the worker serializes materialization, so go through it
		if err := s.Sync(s.ctx, contest); err != nil {
			logging.Warn().Err(err).Str("contest", contest).Msg("restore sync failed")
		}
	}
	logging.Info().Int("snapshots", added).Int("contests", len(contests)).Msg("snapshots restored")
	return added
}

// Prune drops history older than the retention window. A contest with no snapshot
// inside the window is dropped entirely: its leaderboard is unpublished and its
// subscriptions are closed.
func (s *ContestService) Prune(now time.Time) int {
	if s.cfg.Retention <= 0 {
		return 0
	}
	cut := now.Add(-s.cfg.Retention)
	removed := s.store.Prune(cut)
	if removed > 0 {
		logging.Debug().Int("snapshots", removed).Msg("pruned snapshot history")
	}

	for _, contest := range s.store.Contests() {
		s.expire(contest, cut)
	}
	return removed
}

// expire drops a contest idle since before cut. It runs under the contest worker's
// lock so a batch in flight cannot republish the leaderboard.
func (s *ContestService) expire(contest string, cut time.Time) {
	s.mu.Lock()
	w := s.workers[contest]
	s.mu.Unlock()
	if w != nil {
		w.mu.Lock()
		defer w.mu.Unlock()
	}

	if !s.store.ExpireContest(contest, cut) {
		return
	}
	s.boards.CleanupLeaderboard(contest)
	s.state.CleanupContest(contest)
	metrics.LeaderboardStations.DeleteLabelValues(contest)
	logging.Info().Str("contest", contest).Msg("contest expired")
}

// RunPruner prunes on every interval until ctx is cancelled.
func (s *ContestService) RunPruner(ctx context.Context, interval time.Duration) error {
	if interval <= 0 {
		<-ctx.Done()
		return ctx.Err()
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			s.Prune(s.cfg.Now())
		}
	}
}

// Serve blocks until ctx is cancelled and then stops every worker. A service closed
// directly stays parked so the supervisor does not restart it.
func (s *ContestService) Serve(ctx context.Context) error {
	select {
	case <-ctx.Done():
		s.Close()
	case <-s.ctx.Done():
		<-ctx.Done()
	}
	return ctx.Err()
}

func (s *ContestService) Close() {
	s.mu.Lock()
	s.cancel()
	s.mu.Unlock()
	s.wg.Wait()
}

func (s *ContestService) String() string {
	return "contest-service"
}

// Store exposes the snapshot history.
func (s *ContestService) Store() *snapshot.Store {
	return s.store
}

// Healthy reports whether the service still accepts submissions.
func (s *ContestService) Healthy() bool {
	return s.ctx.Err() == nil
}
