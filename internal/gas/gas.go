package gas

import "fmt"

// Error is a basic error type for the meter's sentinels
type Error string

func (e Error) Error() string {
	return string(e)
}

const ErrOutOfGas = Error("out of gas")

const (
	GasCall         uint64 = 100
	GasPeriodCheck  uint64 = 5
	GasStatusRead   uint64 = 20
	GasOrderRead    uint64 = 4
	GasSortPerOrder uint64 = 6
	GasMatchStep    uint64 = 3
	GasStorageWrite uint64 = 200
	GasFillWrite    uint64 = 40
)

// DefaultLimit is used when a caller does not name a budget
const DefaultLimit uint64 = 1_000_000

// Meter tracks the gas a single call consumes against its limit
type Meter struct {
	limit uint64
	used  uint64
}

// NewMeter returns a meter with the given budget
func NewMeter(limit uint64) *Meter {
	return &Meter{limit: limit}
}

// Consume charges amount. When the budget cannot cover it the meter is
// drained and ErrOutOfGas is returned.
func (m *Meter) Consume(amount uint64, what string) error {
	if m.limit-m.used < amount {
		m.used = m.limit
		return fmt.Errorf("%s needs %d: %w", what, amount, ErrOutOfGas)
	}
	m.used += amount
	return nil
}

// Used is the gas charged so far
func (m *Meter) Used() uint64 { return m.used }

// Limit is the call's budget
func (m *Meter) Limit() uint64 { return m.limit }

// Remaining is what would be refunded if the call stopped now
func (m *Meter) Remaining() uint64 { return m.limit - m.used }
