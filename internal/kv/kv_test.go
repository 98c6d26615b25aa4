package kv

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xtrntr/marketplace/internal/book"
	"github.com/xtrntr/marketplace/internal/exchange"
	"github.com/xtrntr/marketplace/internal/marketplace"
	"github.com/xtrntr/marketplace/internal/models"
	"github.com/xtrntr/marketplace/internal/period"
)

var _ marketplace.Store = (*Store)(nil)

func openStore(t *testing.T, dir string) *Store {
	t.Helper()
	s, err := Open(dir)
	require.NoError(t, err)
	return s
}

func order(interval int64, seq int, kind models.Kind, amount, price uint64) *models.Order {
	return &models.Order{
		ID:          uuid.New(),
		IntervalID:  interval,
		Seq:         seq,
		Kind:        kind,
		Sender:      "alice",
		Amount:      amount,
		Price:       price,
		SubmittedAt: time.Date(2024, 1, 1, 0, 0, seq, 0, time.UTC),
	}
}

func TestStore_CommitAndReload(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	s := openStore(t, dir)

	require.NoError(t, s.Commit(ctx, book.Mutation{IntervalID: 5, Order: order(5, 1, models.Bid, 5, 100)}))
	require.NoError(t, s.Commit(ctx, book.Mutation{IntervalID: 5, Order: order(5, 2, models.Ask, 5, 100)}))
	require.NoError(t, s.Commit(ctx, book.Mutation{IntervalID: 6, Order: order(6, 1, models.Ask, 1, 1)}))

	b, err := s.Book(ctx, 5)
	require.NoError(t, err)
	result := exchange.Clear(5, b.Bids(), b.Asks())
	require.NoError(t, s.Commit(ctx, book.Mutation{IntervalID: 5, Result: &result}))
	require.NoError(t, s.Close())

	// everything survives a reopen
	s = openStore(t, dir)
	defer s.Close()

	status, err := s.Status(ctx, 5)
	require.NoError(t, err)
	assert.Equal(t, models.StatusCleared, status)

	b, err = s.Book(ctx, 5)
	require.NoError(t, err)
	assert.Len(t, b.Bids(), 1)
	assert.Len(t, b.Asks(), 1)
	assert.Equal(t, models.Ask, b.Asks()[0].Kind)
	require.NotNil(t, b.Result)
	assert.Equal(t, uint64(5), b.Result.ClearedQuantity)
	assert.NoError(t, exchange.Verify(b))

	other, err := s.Book(ctx, 6)
	require.NoError(t, err)
	assert.Equal(t, 1, other.Len())
	assert.Nil(t, other.Result)
}

func TestStore_SealedInterval(t *testing.T) {
	ctx := context.Background()
	s := openStore(t, t.TempDir())
	defer s.Close()

	result := models.ClearingResult{IntervalID: 1}
	require.NoError(t, s.Commit(ctx, book.Mutation{IntervalID: 1, Result: &result}))

	assert.ErrorIs(t, s.Commit(ctx, book.Mutation{IntervalID: 1, Result: &result}), book.ErrSealed)
	assert.ErrorIs(t, s.Commit(ctx, book.Mutation{IntervalID: 1, Order: order(1, 1, models.Bid, 1, 1)}), book.ErrSealed)

	b, err := s.Book(ctx, 1)
	require.NoError(t, err)
	assert.Zero(t, b.Len())
}

func TestStore_DuplicateSeq(t *testing.T) {
	ctx := context.Background()
	s := openStore(t, t.TempDir())
	defer s.Close()

	require.NoError(t, s.Commit(ctx, book.Mutation{IntervalID: 0, Order: order(0, 1, models.Bid, 1, 1)}))
	assert.Error(t, s.Commit(ctx, book.Mutation{IntervalID: 0, Order: order(0, 1, models.Ask, 1, 1)}))
}

func TestStore_NegativeIntervalsStayApart(t *testing.T) {
	ctx := context.Background()
	s := openStore(t, t.TempDir())
	defer s.Close()

	require.NoError(t, s.Commit(ctx, book.Mutation{IntervalID: -1, Order: order(-1, 1, models.Bid, 1, 1)}))
	require.NoError(t, s.Commit(ctx, book.Mutation{IntervalID: 1, Order: order(1, 1, models.Bid, 1, 1)}))

	for _, id := range []int64{-1, 1} {
		b, err := s.Book(ctx, id)
		require.NoError(t, err)
		assert.Equal(t, 1, b.Len(), "interval %d", id)
	}

	status, err := s.Status(ctx, 0)
	require.NoError(t, err)
	assert.Equal(t, models.StatusOpen, status)
}

func TestStore_OrdersComeBackInSubmissionOrder(t *testing.T) {
	ctx := context.Background()
	s := openStore(t, t.TempDir())
	defer s.Close()

	// seq 10 must not sort before seq 9
	for seq := 1; seq <= 12; seq++ {
		require.NoError(t, s.Commit(ctx, book.Mutation{IntervalID: 2, Order: order(2, seq, models.Bid, 1, uint64(seq))}))
	}
	b, err := s.Book(ctx, 2)
	require.NoError(t, err)
	for i, o := range b.Bids() {
		assert.Equal(t, i+1, o.Seq)
	}
}

func TestStore_BacksMarketplace(t *testing.T) {
	ctx := context.Background()
	s := openStore(t, t.TempDir())
	defer s.Close()

	anchor := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	now := anchor.Add(time.Minute)
	schedule := period.Schedule{Anchor: anchor, Phases: []period.Phase{
		{Period: period.Bidding, Duration: 10 * time.Minute},
		{Period: period.Clearing, Duration: 5 * time.Minute},
	}}
	m, err := marketplace.New(schedule, s, marketplace.WithClock(marketplace.ClockFunc(func() time.Time { return now })))
	require.NoError(t, err)

	_, _, err = m.SubmitBid(ctx, marketplace.Call{Sender: "alice"}, 0, 5, 100)
	require.NoError(t, err)
	_, _, err = m.SubmitAsk(ctx, marketplace.Call{Sender: "bob"}, 0, 5, 100)
	require.NoError(t, err)

	now = anchor.Add(11 * time.Minute)
	result, _, err := m.ClearInterval(ctx, marketplace.Call{Sender: "bob"}, 0)
	require.NoError(t, err)
	assert.Equal(t, uint64(5), result.ClearedQuantity)
	assert.Equal(t, uint64(100), result.ClearingPrice)

	_, _, err = m.ClearInterval(ctx, marketplace.Call{Sender: "bob"}, 0)
	assert.ErrorIs(t, err, marketplace.ErrWrongPeriod)
	assert.NoError(t, m.Verify(ctx, 0))
}
