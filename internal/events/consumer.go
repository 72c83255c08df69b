package events

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/goccy/go-json"
	"github.com/rs/zerolog"
	gobreaker "github.com/sony/gobreaker/v2"

	"github.com/lijuuu/ContestLivescoreService/internal/logging"
	"github.com/lijuuu/ContestLivescoreService/internal/metrics"
	"github.com/lijuuu/ContestLivescoreService/internal/model"
)

// SnapshotSink stores or forwards appended snapshots.
type SnapshotSink interface {
	Name() string
	SaveSnapshot(ctx context.Context, snap model.Snapshot) error
}

// LeaderboardSink stores or forwards materialized leaderboards.
type LeaderboardSink interface {
	Name() string
	SaveLeaderboard(ctx context.Context, record model.LeaderboardRecord) error
}

type BreakerConfig struct {
	// FailureThreshold is the number of consecutive failures that opens the circuit.
	FailureThreshold uint32
	// Timeout is how long the circuit stays open before a trial request.
	Timeout time.Duration
	// WriteTimeout bounds one sink write.
	WriteTimeout time.Duration
}

func DefaultBreakerConfig() BreakerConfig {
	return BreakerConfig{
		FailureThreshold: 5,
		Timeout:          30 * time.Second,
		WriteTimeout:     5 * time.Second,
	}
}

// NewCircuitBreaker builds the breaker guarding one sink and mirrors its state into metrics.
func NewCircuitBreaker(name string, cfg BreakerConfig) *gobreaker.CircuitBreaker[any] {
	log := logging.With("breaker")
	settings := gobreaker.Settings{
		Name:        name,
		MaxRequests: 1,
		Timeout:     cfg.Timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= cfg.FailureThreshold
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			metrics.CircuitState.WithLabelValues(name).Set(float64(to))
			log.Warn().Str("sink", name).Str("from", from.String()).Str("to", to.String()).Msg("circuit breaker state changed")
		},
	}
	metrics.CircuitState.WithLabelValues(name).Set(0)
	return gobreaker.NewCircuitBreaker[any](settings)
}

// Consumer feeds one topic into one sink. Failed writes are logged and dropped; the
// consumer never applies back pressure to the bus.
type Consumer struct {
	name    string
	topic   string
	bus     *Bus
	breaker *gobreaker.CircuitBreaker[any]
	cfg     BreakerConfig
	handle  func(ctx context.Context, payload []byte) error
	log     zerolog.Logger
}

func NewSnapshotConsumer(bus *Bus, sink SnapshotSink, cfg BreakerConfig) *Consumer {
	c := newConsumer(bus, TopicSnapshotAppended, sink.Name(), cfg)
	c.handle = func(ctx context.Context, payload []byte) error {
		var snap model.Snapshot
		if err := json.Unmarshal(payload, &snap); err != nil {
			return fmt.Errorf("decode snapshot: %w", err)
		}
		return sink.SaveSnapshot(ctx, snap)
	}
	return c
}

// NewLeaderboardConsumer skips versions older than the last one written for a contest,
// since the bus does not guarantee delivery order.
func NewLeaderboardConsumer(bus *Bus, sink LeaderboardSink, cfg BreakerConfig) *Consumer {
	c := newConsumer(bus, TopicLeaderboardMaterialized, sink.Name(), cfg)
	var mu sync.Mutex
	latest := make(map[string]uint64)

	c.handle = func(ctx context.Context, payload []byte) error {
		var record model.LeaderboardRecord
		if err := json.Unmarshal(payload, &record); err != nil {
			return fmt.Errorf("decode leaderboard: %w", err)
		}
		mu.Lock()
		stale := record.Version <= latest[record.Contest]
		mu.Unlock()
		if stale {
			return nil
		}
		if err := sink.SaveLeaderboard(ctx, record); err != nil {
			return err
		}
		mu.Lock()
		if record.Version > latest[record.Contest] {
			latest[record.Contest] = record.Version
		}
		mu.Unlock()
		return nil
	}
	return c
}

func newConsumer(bus *Bus, topic, name string, cfg BreakerConfig) *Consumer {
	def := DefaultBreakerConfig()
	if cfg.FailureThreshold == 0 {
		cfg.FailureThreshold = def.FailureThreshold
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = def.Timeout
	}
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = def.WriteTimeout
	}
	return &Consumer{
		name:    name,
		topic:   topic,
		bus:     bus,
		breaker: NewCircuitBreaker(name, cfg),
		cfg:     cfg,
		log:     logging.With("sink").With().Str("sink", name).Str("topic", topic).Logger(),
	}
}

// Serve consumes until ctx is cancelled.
func (c *Consumer) Serve(ctx context.Context) error {
	messages, err := c.bus.Subscribe(ctx, c.topic)
	if err != nil {
		return fmt.Errorf("subscribe to %s: %w", c.topic, err)
	}
	c.log.Info().Msg("sink consumer started")

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case msg, ok := <-messages:
			if !ok {
				return nil
			}
			c.process(ctx, msg)
		}
	}
}

func (c *Consumer) process(ctx context.Context, msg *message.Message) {
	defer msg.Ack()

	_, err := c.breaker.Execute(func() (any, error) {
		wctx, cancel := context.WithTimeout(ctx, c.cfg.WriteTimeout)
		defer cancel()
		return nil, c.handle(wctx, msg.Payload)
	})
	if err == nil {
		return
	}

	metrics.SinkErrors.WithLabelValues(c.name).Inc()
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		c.log.Debug().Str("contest", msg.Metadata.Get(metadataContest)).Msg("circuit open, event dropped")
		return
	}
	c.log.Error().Err(err).Str("contest", msg.Metadata.Get(metadataContest)).Msg("sink write failed")
}

func (c *Consumer) String() string {
	return "sink:" + c.name
}
