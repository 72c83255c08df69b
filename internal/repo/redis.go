package repo

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/goccy/go-json"
	"github.com/redis/go-redis/v9"

	"github.com/lijuuu/ContestLivescoreService/internal/model"
)

const leaderboardKeyPrefix = "livescore:leaderboard:"

// RedisRepository caches the latest leaderboard of every contest for readers outside
// this process.
type RedisRepository struct {
	client *redis.Client
	ttl    time.Duration
}

func NewRedisRepository(client *redis.Client, ttl time.Duration) *RedisRepository {
	return &RedisRepository{
		client: client,
		ttl:    ttl,
	}
}

func (r *RedisRepository) Name() string {
	return "redis"
}

func leaderboardKey(contest string) string {
	return leaderboardKeyPrefix + contest
}

// SaveLeaderboard stores a leaderboard under its contest key
func (r *RedisRepository) SaveLeaderboard(ctx context.Context, record model.LeaderboardRecord) error {
	data, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("failed to marshal leaderboard: %w", err)
	}
	return r.client.Set(ctx, leaderboardKey(record.Contest), data, r.ttl).Err()
}

// GetLeaderboard retrieves a cached leaderboard
func (r *RedisRepository) GetLeaderboard(ctx context.Context, contest string) (model.LeaderboardRecord, error) {
	var record model.LeaderboardRecord
	data, err := r.client.Get(ctx, leaderboardKey(contest)).Bytes()
	if errors.Is(err, redis.Nil) {
		return record, fmt.Errorf("leaderboard %q: %w", contest, ErrNotFound)
	}
	if err != nil {
		return record, fmt.Errorf("failed to get leaderboard: %w", err)
	}
	if err := json.Unmarshal(data, &record); err != nil {
		return record, fmt.Errorf("failed to unmarshal leaderboard: %w", err)
	}
	return record, nil
}
