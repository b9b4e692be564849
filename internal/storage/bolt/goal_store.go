package bolt

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"github.com/goodtune/detoxmine/internal/storage"
	"go.etcd.io/bbolt"
)

type goalStore struct {
	db *bbolt.DB
}

func (s *goalStore) Get(ctx context.Context, id string) (*storage.Goal, error) {
	return getBucketValue[storage.Goal](ctx, s.db, bucketGoals, id)
}

func (s *goalStore) List(ctx context.Context) ([]storage.Goal, error) {
	goals, err := listBucket[storage.Goal](ctx, s.db, bucketGoals)
	if err != nil {
		return nil, err
	}
	sort.Slice(goals, func(i, j int) bool {
		return goals[i].CreatedAt.Before(goals[j].CreatedAt)
	})
	return goals, nil
}

func (s *goalStore) ListActive(ctx context.Context) ([]storage.Goal, error) {
	goals, err := s.List(ctx)
	if err != nil {
		return nil, err
	}
	active := make([]storage.Goal, 0, len(goals))
	for _, goal := range goals {
		if goal.Status == storage.GoalActive {
			active = append(active, goal)
		}
	}
	return active, nil
}

func (s *goalStore) Upsert(ctx context.Context, goal storage.Goal) error {
	if goal.ID == "" {
		return fmt.Errorf("goal id is required")
	}
	return putBucketValue(ctx, s.db, bucketGoals, goal.ID, goal)
}

// GetProfile returns the stored profile, or a zero profile before the first
// goal is finalized.
func (s *goalStore) GetProfile(ctx context.Context) (*storage.Profile, error) {
	profile, err := getBucketValue[storage.Profile](ctx, s.db, bucketProfile, profileKey)
	if errors.Is(err, storage.ErrNotFound) {
		return &storage.Profile{}, nil
	}
	return profile, err
}

func (s *goalStore) PutProfile(ctx context.Context, profile storage.Profile) error {
	return putBucketValue(ctx, s.db, bucketProfile, profileKey, profile)
}
