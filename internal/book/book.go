package book

import (
	"errors"
	"fmt"

	"github.com/xtrntr/marketplace/internal/models"
)

// ErrSealed is returned when a mutation targets an interval that already has a result
var ErrSealed = errors.New("interval already cleared")

// Book holds the bids and asks accumulated for one interval
type Book struct {
	IntervalID int64
	bids       []models.Order
	asks       []models.Order
	Result     *models.ClearingResult
}

// New creates an empty book for an interval
func New(intervalID int64) *Book {
	return &Book{IntervalID: intervalID}
}

// Status derives the interval state from the presence of a result
func (b *Book) Status() models.IntervalStatus {
	if b.Result != nil {
		return models.StatusCleared
	}
	return models.StatusOpen
}

// Append adds an order to the sequence for its kind
func (b *Book) Append(order models.Order) {
	if order.Kind == models.Bid {
		b.bids = append(b.bids, order)
	} else {
		b.asks = append(b.asks, order)
	}
}

// Bids returns the bids in submission order
func (b *Book) Bids() []models.Order {
	return append([]models.Order(nil), b.bids...)
}

// Asks returns the asks in submission order
func (b *Book) Asks() []models.Order {
	return append([]models.Order(nil), b.asks...)
}

// Len is the number of orders of both kinds
func (b *Book) Len() int {
	return len(b.bids) + len(b.asks)
}

// NextSeq is the sequence number the next accepted order receives
func (b *Book) NextSeq() int {
	return b.Len() + 1
}

// Clone returns a deep copy
func (b *Book) Clone() *Book {
	c := &Book{
		IntervalID: b.IntervalID,
		bids:       b.Bids(),
		asks:       b.Asks(),
	}
	if b.Result != nil {
		r := *b.Result
		r.Fills = append([]models.Fill(nil), b.Result.Fills...)
		c.Result = &r
	}
	return c
}

// Mutation is a staged change to one interval. Exactly one of Order and
// Result is set.
type Mutation struct {
	IntervalID int64
	Order      *models.Order
	Result     *models.ClearingResult
}

// Validate checks the mutation is well formed
func (m Mutation) Validate() error {
	switch {
	case m.Order == nil && m.Result == nil:
		return errors.New("empty mutation")
	case m.Order != nil && m.Result != nil:
		return errors.New("mutation sets both order and result")
	case m.Order != nil && m.Order.IntervalID != m.IntervalID:
		return fmt.Errorf("order for interval %d staged on interval %d", m.Order.IntervalID, m.IntervalID)
	case m.Result != nil && m.Result.IntervalID != m.IntervalID:
		return fmt.Errorf("result for interval %d staged on interval %d", m.Result.IntervalID, m.IntervalID)
	}
	return nil
}

// Apply commits a staged mutation onto the book
func (b *Book) Apply(m Mutation) error {
	if err := m.Validate(); err != nil {
		return err
	}
	if m.IntervalID != b.IntervalID {
		return fmt.Errorf("mutation for interval %d applied to interval %d", m.IntervalID, b.IntervalID)
	}
	if b.Result != nil {
		return ErrSealed
	}
	if m.Order != nil {
		b.Append(*m.Order)
		return nil
	}
	r := *m.Result
	b.Result = &r
	return nil
}
