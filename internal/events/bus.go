// Package events carries ingestion results from the contest workers to the sinks over
// an in-process watermill pub/sub. Publishing never blocks a worker.
package events

import (
	"context"
	"fmt"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"
	"github.com/goccy/go-json"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/lijuuu/ContestLivescoreService/internal/leaderboard"
	"github.com/lijuuu/ContestLivescoreService/internal/logging"
	"github.com/lijuuu/ContestLivescoreService/internal/model"
)

const (
	TopicSnapshotAppended        = "snapshot.appended"
	TopicLeaderboardMaterialized = "leaderboard.materialized"
)

const (
	metadataContest = "contest"
	metadataVersion = "version"
)

type Bus struct {
	pubsub *gochannel.GoChannel
	log    zerolog.Logger
}

// NewBus creates the bus. buffer is the per-subscriber output buffer.
func NewBus(buffer int64) *Bus {
	if buffer <= 0 {
		buffer = 256
	}
	pubsub := gochannel.NewGoChannel(
		gochannel.Config{
			OutputChannelBuffer:            buffer,
			BlockPublishUntilSubscriberAck: false,
		},
		watermill.NewSlogLogger(logging.NewSlogLogger("watermill")),
	)
	return &Bus{
		pubsub: pubsub,
		log:    logging.With("events"),
	}
}

// SnapshotAppended publishes one stored snapshot.
func (b *Bus) SnapshotAppended(snap model.Snapshot) {
	msg, err := newMessage(snap)
	if err != nil {
		b.log.Error().Err(err).Str("contest", snap.Key.Contest).Msg("failed to encode snapshot event")
		return
	}
	msg.Metadata.Set(metadataContest, snap.Key.Contest)
	b.publish(TopicSnapshotAppended, msg)
}

// LeaderboardMaterialized publishes a new leaderboard version.
func (b *Bus) LeaderboardMaterialized(board *leaderboard.Leaderboard) {
	if board == nil {
		return
	}
	msg, err := newMessage(board.Record())
	if err != nil {
		b.log.Error().Err(err).Str("contest", board.Contest).Msg("failed to encode leaderboard event")
		return
	}
	msg.Metadata.Set(metadataContest, board.Contest)
	msg.Metadata.Set(metadataVersion, fmt.Sprint(board.Version))
	b.publish(TopicLeaderboardMaterialized, msg)
}

func newMessage(v any) (*message.Message, error) {
	payload, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	return message.NewMessage(uuid.NewString(), payload), nil
}

func (b *Bus) publish(topic string, msg *message.Message) {
	if err := b.pubsub.Publish(topic, msg); err != nil {
		b.log.Warn().Err(err).Str("topic", topic).Msg("failed to publish event")
	}
}

func (b *Bus) Subscribe(ctx context.Context, topic string) (<-chan *message.Message, error) {
	return b.pubsub.Subscribe(ctx, topic)
}

func (b *Bus) Close() error {
	return b.pubsub.Close()
}
