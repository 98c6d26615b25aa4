package marketplace

import "math"

// MaxQuantity bounds prices and the summed amount of each side of an
// interval, so cleared quantities never overflow and fit a BIGINT column.
const MaxQuantity uint64 = math.MaxInt64

// Error is just a basic error.
type Error string

// Error satisfies the error interface.
func (e Error) Error() string {
	return string(e)
}

const (
	// ErrWrongPeriod covers submitting outside BIDDING, clearing outside
	// CLEARING, and clearing an interval that is already cleared.
	ErrWrongPeriod   = Error("wrong period")
	ErrInvalidAmount = Error("amount must be positive")
	// ErrOutOfRange is returned for a price above MaxQuantity, or an order that
	// would lift its side's total for the interval above MaxQuantity.
	ErrOutOfRange = Error("amount or price out of range")
	ErrNoSender      = Error("call has no sender")
)
