package bolt

import (
	"bytes"
	"context"
	"fmt"
	"time"

	"github.com/goodtune/detoxmine/internal/storage"
	lru "github.com/hashicorp/golang-lru/v2"
	"go.etcd.io/bbolt"
)

type snapshotStore struct {
	db    *bbolt.DB
	cache *lru.Cache[string, storage.DailySnapshot]
}

func (s *snapshotStore) Put(ctx context.Context, snapshot storage.DailySnapshot) error {
	if _, err := time.Parse(storage.DateLayout, snapshot.Date); err != nil {
		return fmt.Errorf("invalid snapshot date %q: %w", snapshot.Date, err)
	}
	if err := putBucketValue(ctx, s.db, bucketSnapshots, snapshot.Date, snapshot); err != nil {
		return err
	}
	s.cache.Add(snapshot.Date, snapshot)
	return nil
}

func (s *snapshotStore) Get(ctx context.Context, date string) (*storage.DailySnapshot, error) {
	if cached, ok := s.cache.Get(date); ok {
		return &cached, nil
	}
	snapshot, err := getBucketValue[storage.DailySnapshot](ctx, s.db, bucketSnapshots, date)
	if err != nil {
		return nil, err
	}
	s.cache.Add(date, *snapshot)
	return snapshot, nil
}

// List returns snapshots with fromDate <= date <= toDate in date order. Dates
// share a fixed-width layout so byte order is chronological.
func (s *snapshotStore) List(ctx context.Context, fromDate, toDate string) ([]storage.DailySnapshot, error) {
	snapshots := make([]storage.DailySnapshot, 0)
	return snapshots, s.db.View(func(tx *bbolt.Tx) error {
		b := tx.Bucket([]byte(bucketSnapshots))
		if b == nil {
			return nil
		}
		c := b.Cursor()
		last := []byte(toDate)
		for k, v := c.Seek([]byte(fromDate)); k != nil && bytes.Compare(k, last) <= 0; k, v = c.Next() {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			var snapshot storage.DailySnapshot
			if err := unmarshal(v, &snapshot); err != nil {
				return err
			}
			snapshots = append(snapshots, snapshot)
		}
		return nil
	})
}

func (s *snapshotStore) DeleteBefore(ctx context.Context, cutoffDate string) (int, error) {
	if _, err := time.Parse(storage.DateLayout, cutoffDate); err != nil {
		return 0, fmt.Errorf("invalid cutoff date: %w", err)
	}
	deleted := make([]string, 0)
	err := s.db.Update(func(tx *bbolt.Tx) error {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		b := tx.Bucket([]byte(bucketSnapshots))
		if b == nil {
			return nil
		}
		cutoff := []byte(cutoffDate)
		c := b.Cursor()
		for k, _ := c.First(); k != nil && bytes.Compare(k, cutoff) < 0; k, _ = c.Next() {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			deleted = append(deleted, string(k))
			if err := c.Delete(); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	for _, date := range deleted {
		s.cache.Remove(date)
	}
	return len(deleted), nil
}
