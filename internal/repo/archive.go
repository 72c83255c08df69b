package repo

import (
	"context"
	"errors"
	"fmt"

	"github.com/lijuuu/ContestLivescoreService/internal/model"
)

type LeaderboardReader interface {
	GetLeaderboard(ctx context.Context, contest string) (model.LeaderboardRecord, error)
}

// Archive reads a stored leaderboard from the first reader that has it, usually the
// Redis cache before the Mongo archive.
type Archive []LeaderboardReader

func (a Archive) GetLeaderboard(ctx context.Context, contest string) (model.LeaderboardRecord, error) {
	var errs []error
	for _, r := range a {
		record, err := r.GetLeaderboard(ctx, contest)
		if err == nil {
			return record, nil
		}
		if !errors.Is(err, ErrNotFound) {
			errs = append(errs, err)
		}
	}
	if len(errs) > 0 {
		return model.LeaderboardRecord{}, errors.Join(errs...)
	}
	return model.LeaderboardRecord{}, fmt.Errorf("leaderboard %q: %w", contest, ErrNotFound)
}
