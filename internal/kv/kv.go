// Package kv stores interval books in an embedded pebble database.
//
// Layout, one keyspace per interval:
//
//	interval/<id>/order/<seq>  JSON models.Order
//	interval/<id>/result       JSON models.ClearingResult
//
// <id> is the interval id with its sign bit flipped, zero padded, so
// negative intervals still sort before positive ones.
package kv

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"github.com/cockroachdb/pebble"

	"github.com/xtrntr/marketplace/internal/book"
	"github.com/xtrntr/marketplace/internal/models"
)

// Store is a marketplace store on top of pebble
type Store struct {
	db *pebble.DB
	// mu serializes check-then-write in Commit
	mu sync.Mutex
}

// Open opens or creates the database in dir
func Open(dir string) (*Store, error) {
	db, err := pebble.Open(dir, &pebble.Options{})
	if err != nil {
		return nil, fmt.Errorf("failed to open pebble at %s: %w", dir, err)
	}
	return &Store{db: db}, nil
}

// Close closes the database
func (s *Store) Close() error {
	return s.db.Close()
}

func intervalPrefix(id int64) string {
	return fmt.Sprintf("interval/%020d/", uint64(id)^(1<<63))
}

func orderKey(id int64, seq int) []byte {
	return []byte(fmt.Sprintf("%sorder/%010d", intervalPrefix(id), seq))
}

func resultKey(id int64) []byte {
	return []byte(intervalPrefix(id) + "result")
}

func (s *Store) has(key []byte) (bool, error) {
	_, closer, err := s.db.Get(key)
	if errors.Is(err, pebble.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	closer.Close()
	return true, nil
}

func (s *Store) Status(ctx context.Context, intervalID int64) (models.IntervalStatus, error) {
	cleared, err := s.has(resultKey(intervalID))
	if err != nil {
		return "", fmt.Errorf("failed to read result key: %w", err)
	}
	if cleared {
		return models.StatusCleared, nil
	}
	return models.StatusOpen, nil
}

func (s *Store) Book(ctx context.Context, intervalID int64) (*book.Book, error) {
	b := book.New(intervalID)

	prefix := intervalPrefix(intervalID) + "order/"
	iter, err := s.db.NewIter(&pebble.IterOptions{
		LowerBound: []byte(prefix),
		UpperBound: []byte(prefix + "~"),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create iterator: %w", err)
	}
	defer iter.Close()

	for iter.First(); iter.Valid(); iter.Next() {
		var o models.Order
		if err := json.Unmarshal(iter.Value(), &o); err != nil {
			return nil, fmt.Errorf("failed to decode order %s: %w", iter.Key(), err)
		}
		b.Append(o)
	}
	if err := iter.Error(); err != nil {
		return nil, fmt.Errorf("failed to scan orders: %w", err)
	}

	val, closer, err := s.db.Get(resultKey(intervalID))
	switch {
	case errors.Is(err, pebble.ErrNotFound):
		return b, nil
	case err != nil:
		return nil, fmt.Errorf("failed to read result: %w", err)
	}
	defer closer.Close()

	var r models.ClearingResult
	if err := json.Unmarshal(val, &r); err != nil {
		return nil, fmt.Errorf("failed to decode result: %w", err)
	}
	b.Result = &r
	return b, nil
}

func (s *Store) Commit(ctx context.Context, m book.Mutation) error {
	if err := m.Validate(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	sealed, err := s.has(resultKey(m.IntervalID))
	if err != nil {
		return fmt.Errorf("failed to read result key: %w", err)
	}
	if sealed {
		return book.ErrSealed
	}

	batch := s.db.NewBatch()
	defer batch.Close()

	if m.Order != nil {
		key := orderKey(m.IntervalID, m.Order.Seq)
		exists, err := s.has(key)
		if err != nil {
			return fmt.Errorf("failed to read order key: %w", err)
		}
		if exists {
			return fmt.Errorf("order seq %d already taken in interval %d", m.Order.Seq, m.IntervalID)
		}
		val, err := json.Marshal(m.Order)
		if err != nil {
			return fmt.Errorf("failed to encode order: %w", err)
		}
		if err := batch.Set(key, val, nil); err != nil {
			return err
		}
	} else {
		val, err := json.Marshal(m.Result)
		if err != nil {
			return fmt.Errorf("failed to encode result: %w", err)
		}
		if err := batch.Set(resultKey(m.IntervalID), val, nil); err != nil {
			return err
		}
	}

	if err := batch.Commit(pebble.Sync); err != nil {
		return fmt.Errorf("failed to commit batch: %w", err)
	}
	return nil
}
