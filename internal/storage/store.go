package storage

import (
	"context"
	"errors"
)

// ErrNotFound is returned when a record is missing from storage.
var ErrNotFound = errors.New("storage: record not found")

// Store represents the root storage interface.
type Store interface {
	Close() error
	Snapshots() SnapshotStore
	Goals() GoalStore
}

// SnapshotStore keeps the latest usage snapshot per local date.
type SnapshotStore interface {
	Put(ctx context.Context, snapshot DailySnapshot) error
	Get(ctx context.Context, date string) (*DailySnapshot, error)
	List(ctx context.Context, fromDate, toDate string) ([]DailySnapshot, error)
	DeleteBefore(ctx context.Context, cutoffDate string) (int, error)
}

// GoalStore manages detox goals and the owner's profile.
type GoalStore interface {
	Get(ctx context.Context, id string) (*Goal, error)
	List(ctx context.Context) ([]Goal, error)
	ListActive(ctx context.Context) ([]Goal, error)
	Upsert(ctx context.Context, goal Goal) error
	GetProfile(ctx context.Context) (*Profile, error)
	PutProfile(ctx context.Context, profile Profile) error
}
