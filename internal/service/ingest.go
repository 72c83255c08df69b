package service

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/lijuuu/ContestLivescoreService/internal/leaderboard"
	"github.com/lijuuu/ContestLivescoreService/internal/metrics"
	"github.com/lijuuu/ContestLivescoreService/internal/model"
)

// job is either a snapshot to append or, when done is set, a barrier.
type job struct {
	snap    model.Snapshot
	contest string
	done    chan struct{}
}

type worker struct {
	contest string
	queue   chan job
	svc     *ContestService
	log     zerolog.Logger

	// mu is held for a whole batch; expiry takes it to stay out of a materialization.
	mu sync.Mutex
}

func (w *worker) run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case j := <-w.queue:
			batch := w.drain(j)
			metrics.IngestQueueDepth.WithLabelValues(w.contest).Set(float64(len(w.queue)))
			w.process(batch)
		}
	}
}

// drain collects whatever is already queued behind first, up to the batch limit.
func (w *worker) drain(first job) []job {
	batch := []job{first}
	for len(batch) < w.svc.cfg.MaxBatch {
		select {
		case j := <-w.queue:
			batch = append(batch, j)
		default:
			return batch
		}
	}
	return batch
}

func (w *worker) process(batch []job) {
	w.mu.Lock()
	defer w.mu.Unlock()

	var appended []model.Snapshot
	var barriers []chan struct{}

	for _, j := range batch {
		if j.done != nil {
			barriers = append(barriers, j.done)
			continue
		}
		if w.append(j.snap) {
			appended = append(appended, j.snap)
		}
	}
	if n := len(batch) - len(barriers); n > 0 {
		metrics.IngestBatchSize.Observe(float64(n))
	}

	// barriers also materialize so a warm start publishes its restored history
	if len(appended) > 0 || len(barriers) > 0 {
		if board, ok := w.materialize(); ok {
			for _, snap := range appended {
				w.svc.notifier.SnapshotAppended(snap)
			}
			w.svc.notifier.LeaderboardMaterialized(board)
			w.svc.state.SendEvent(w.contest, model.Event{
				Type:    model.EventLeaderboardUpdated,
				Contest: w.contest,
				Version: board.Version,
				At:      board.GeneratedAt,
			})
		}
	}

	for _, done := range barriers {
		close(done)
	}
}

func (w *worker) append(snap model.Snapshot) bool {
	res := w.svc.store.Append(snap)
	switch {
	case res.Duplicate:
		metrics.SnapshotsAppended.WithLabelValues("duplicate").Inc()
		w.log.Debug().Str("callsign", snap.Key.Callsign).Msg("duplicate snapshot ignored")
		return false
	case res.OutOfOrder:
		metrics.SnapshotsAppended.WithLabelValues("out_of_order").Inc()
		w.log.Warn().
			Str("callsign", snap.Key.Callsign).
			Int64("score", snap.Score).
			Time("at", snap.At).
			Msg("snapshot regresses, stored as out of order")
	default:
		metrics.SnapshotsAppended.WithLabelValues("ok").Inc()
	}
	if res.Created {
		w.log.Info().Str("callsign", snap.Key.Callsign).Msg("new station")
	}
	return true
}

// materialize rebuilds the leaderboard. A panic only loses this pass; the previous
// version stays published.
func (w *worker) materialize() (board *leaderboard.Leaderboard, ok bool) {
	defer func() {
		if r := recover(); r != nil {
			w.log.Error().Interface("panic", r).Msg("leaderboard materialization panicked")
			board, ok = nil, false
		}
	}()

	start := time.Now()
	board = w.svc.boards.Materialize(w.contest)
	metrics.MaterializeDuration.Observe(time.Since(start).Seconds())
	metrics.LeaderboardStations.WithLabelValues(w.contest).Set(float64(board.Len()))
	w.log.Debug().Uint64("version", board.Version).Int("stations", board.Len()).Msg("leaderboard materialized")
	return board, true
}
