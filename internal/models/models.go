package models

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Participant represents a registered market participant
type Participant struct {
	ID           int       `json:"id"`
	Name         string    `json:"name"`
	PasswordHash string    `json:"-"`
	CreatedAt    time.Time `json:"created_at"`
}

// Kind tells bids and asks apart
type Kind int

const (
	Bid Kind = iota + 1
	Ask
)

func (k Kind) String() string {
	switch k {
	case Bid:
		return "bid"
	case Ask:
		return "ask"
	default:
		return "unknown"
	}
}

// ParseKind parses "bid" or "ask"
func ParseKind(s string) (Kind, bool) {
	switch s {
	case "bid":
		return Bid, true
	case "ask":
		return Ask, true
	}
	return 0, false
}

func (k Kind) MarshalText() ([]byte, error) {
	return []byte(k.String()), nil
}

func (k *Kind) UnmarshalText(b []byte) error {
	parsed, ok := ParseKind(string(b))
	if !ok {
		return fmt.Errorf("unknown order kind %q", b)
	}
	*k = parsed
	return nil
}

// Order represents a bid or ask submitted for one interval
type Order struct {
	ID          uuid.UUID `json:"id"`
	IntervalID  int64     `json:"interval_id"`
	Seq         int       `json:"seq"` // submission order within the interval, shared by both kinds
	Kind        Kind      `json:"kind"`
	Sender      string    `json:"sender"`
	Amount      uint64    `json:"amount"`
	Price       uint64    `json:"price"` // unit price
	SubmittedAt time.Time `json:"submitted_at"`
}

// Fill is one matched pair inside a clearing
type Fill struct {
	BidID    uuid.UUID `json:"bid_id"`
	AskID    uuid.UUID `json:"ask_id"`
	Buyer    string    `json:"buyer"`
	Seller   string    `json:"seller"`
	Quantity uint64    `json:"quantity"`
}

// ClearingResult is produced once per interval and never changes afterwards
type ClearingResult struct {
	IntervalID      int64     `json:"interval_id"`
	ClearingPrice   uint64    `json:"clearing_price"`
	ClearedQuantity uint64    `json:"cleared_quantity"`
	Fills           []Fill    `json:"fills"`
	ClearedBy       string    `json:"cleared_by,omitempty"`
	ClearedAt       time.Time `json:"cleared_at"`
}

// IntervalStatus is the lifecycle state of an interval
type IntervalStatus string

const (
	StatusOpen    IntervalStatus = "OPEN"
	StatusCleared IntervalStatus = "CLEARED"
)

var (
	// ErrNameTaken is returned when registering a participant name twice
	ErrNameTaken = errors.New("participant name already taken")
	// ErrParticipantNotFound is returned by participant lookups that match nothing
	ErrParticipantNotFound = errors.New("participant not found")
)
