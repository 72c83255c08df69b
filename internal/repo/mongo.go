package repo

import (
	"context"
	"errors"
	"fmt"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/lijuuu/ContestLivescoreService/internal/model"
)

var ErrNotFound = errors.New("not found")

// MongoRepository archives the latest materialized leaderboard of every contest.
type MongoRepository struct {
	leaderboards *mongo.Collection
}

func NewMongoRepository(client *mongo.Client, dbName string) *MongoRepository {
	return &MongoRepository{
		leaderboards: client.Database(dbName).Collection("leaderboards"),
	}
}

func (r *MongoRepository) Name() string {
	return "mongo"
}

// EnsureIndexes creates the unique contest index.
func (r *MongoRepository) EnsureIndexes(ctx context.Context) error {
	_, err := r.leaderboards.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys:    bson.D{{Key: "contest", Value: 1}},
		Options: options.Index().SetUnique(true),
	})
	if err != nil {
		return fmt.Errorf("failed to create leaderboard index: %w", err)
	}
	return nil
}

// SaveLeaderboard replaces the archived leaderboard of a contest unless a newer
// version is already stored.
func (r *MongoRepository) SaveLeaderboard(ctx context.Context, record model.LeaderboardRecord) error {
	filter := bson.M{
		"contest": record.Contest,
		"version": bson.M{"$lt": record.Version},
	}
	_, err := r.leaderboards.ReplaceOne(ctx, filter, record, options.Replace().SetUpsert(true))
	if mongo.IsDuplicateKeyError(err) {
		// a newer version won the race
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to archive leaderboard %q: %w", record.Contest, err)
	}
	return nil
}

// GetLeaderboard returns the archived leaderboard of a contest
func (r *MongoRepository) GetLeaderboard(ctx context.Context, contest string) (model.LeaderboardRecord, error) {
	var record model.LeaderboardRecord
	err := r.leaderboards.FindOne(ctx, bson.M{"contest": contest}).Decode(&record)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return record, fmt.Errorf("leaderboard %q: %w", contest, ErrNotFound)
	}
	if err != nil {
		return record, fmt.Errorf("failed to get leaderboard %q: %w", contest, err)
	}
	return record, nil
}
