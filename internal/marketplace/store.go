package marketplace

import (
	"context"
	"sync"

	"github.com/xtrntr/marketplace/internal/book"
	"github.com/xtrntr/marketplace/internal/models"
)

// Store owns the interval books. Intervals that were never written read back
// as empty OPEN books.
type Store interface {
	// Status returns the lifecycle state without loading orders
	Status(ctx context.Context, intervalID int64) (models.IntervalStatus, error)
	// Book returns a private copy of the interval's book
	Book(ctx context.Context, intervalID int64) (*book.Book, error)
	// Commit applies a staged mutation atomically
	Commit(ctx context.Context, m book.Mutation) error
}

// MemoryStore keeps books in process memory
type MemoryStore struct {
	mu    sync.RWMutex
	books map[int64]*book.Book
}

// NewMemoryStore creates an empty in-memory store
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{books: make(map[int64]*book.Book)}
}

func (s *MemoryStore) Status(ctx context.Context, intervalID int64) (models.IntervalStatus, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if b, ok := s.books[intervalID]; ok {
		return b.Status(), nil
	}
	return models.StatusOpen, nil
}

func (s *MemoryStore) Book(ctx context.Context, intervalID int64) (*book.Book, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if b, ok := s.books[intervalID]; ok {
		return b.Clone(), nil
	}
	return book.New(intervalID), nil
}

func (s *MemoryStore) Commit(ctx context.Context, m book.Mutation) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	b, ok := s.books[m.IntervalID]
	if !ok {
		b = book.New(m.IntervalID)
	}
	if err := b.Apply(m); err != nil {
		return err
	}
	s.books[m.IntervalID] = b
	return nil
}

