// Package distribute publishes every appended snapshot to NATS for live consumers
// outside this service.
package distribute

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/goccy/go-json"
	"github.com/nats-io/nats.go"

	"github.com/lijuuu/ContestLivescoreService/internal/logging"
	"github.com/lijuuu/ContestLivescoreService/internal/model"
)

const DefaultSubjectPrefix = "contest.live.v1"

// Record is the compact message published per snapshot.
type Record struct {
	Contest     string                     `json:"contest"`
	Callsign    string                     `json:"callsign"`
	Category    string                     `json:"category,omitempty"`
	Score       int64                      `json:"score"`
	QSOs        int                        `json:"qsos"`
	Multipliers int                        `json:"mults"`
	Bands       map[string]model.BandCount `json:"bands"`
	At          int64                      `json:"ts"`
}

type Publisher struct {
	nc     *nats.Conn
	prefix string
}

// Connect dials NATS with bounded reconnects.
func Connect(url, prefix string) (*Publisher, error) {
	log := logging.With("nats")
	nc, err := nats.Connect(url,
		nats.Name("contest-livescore"),
		nats.MaxReconnects(10),
		nats.ReconnectWait(time.Second),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				log.Warn().Err(err).Msg("nats disconnected")
			}
		}),
		nats.ReconnectHandler(func(c *nats.Conn) {
			log.Info().Str("url", c.ConnectedUrl()).Msg("nats reconnected")
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to nats: %w", err)
	}
	return NewPublisher(nc, prefix), nil
}

func NewPublisher(nc *nats.Conn, prefix string) *Publisher {
	if prefix == "" {
		prefix = DefaultSubjectPrefix
	}
	return &Publisher{nc: nc, prefix: strings.TrimSuffix(prefix, ".")}
}

func (p *Publisher) Name() string {
	return "nats"
}

// Subject returns contest.live.v1.<contest>.<callsign> with characters NATS treats
// as separators or wildcards replaced by underscores.
func (p *Publisher) Subject(contest, callsign string) string {
	return p.prefix + "." + token(contest) + "." + token(callsign)
}

var tokenReplacer = strings.NewReplacer(" ", "_", "/", "_", ".", "_", "*", "_", ">", "_")

func token(s string) string {
	return tokenReplacer.Replace(strings.TrimSpace(s))
}

// SaveSnapshot publishes the snapshot. The context only bounds the call; publishing
// itself is buffered by the NATS client.
func (p *Publisher) SaveSnapshot(ctx context.Context, snap model.Snapshot) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	data, err := json.Marshal(Record{
		Contest:     snap.Key.Contest,
		Callsign:    snap.Key.Callsign,
		Category:    snap.Profile.Category,
		Score:       snap.Score,
		QSOs:        snap.TotalQSOs(),
		Multipliers: snap.TotalMultipliers(),
		Bands:       snap.Bands,
		At:          snap.At.Unix(),
	})
	if err != nil {
		return fmt.Errorf("failed to marshal record: %w", err)
	}
	if err := p.nc.Publish(p.Subject(snap.Key.Contest, snap.Key.Callsign), data); err != nil {
		return fmt.Errorf("failed to publish record: %w", err)
	}
	return nil
}

func (p *Publisher) Close() {
	if err := p.nc.Drain(); err != nil {
		p.nc.Close()
	}
}
