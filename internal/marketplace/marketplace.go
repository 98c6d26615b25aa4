// Package marketplace is the entry point for every call into the auction.
//
// A Marketplace evaluates its guards (the interval's period and whether it
// was already cleared) before it touches the order book or runs the clearing
// engine. Each call is metered: a call rejected by a guard is charged only for
// the checks it made, and the rest of its budget is reported as refunded.
// Mutations are staged as a single book.Mutation and committed only after
// every guard and the meter have passed, so a failed call leaves no trace.
package marketplace

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/xtrntr/marketplace/internal/book"
	"github.com/xtrntr/marketplace/internal/exchange"
	"github.com/xtrntr/marketplace/internal/feed"
	"github.com/xtrntr/marketplace/internal/gas"
	"github.com/xtrntr/marketplace/internal/metrics"
	"github.com/xtrntr/marketplace/internal/models"
	"github.com/xtrntr/marketplace/internal/period"
)

// Clock supplies the reference time guards are evaluated against
type Clock interface {
	Now() time.Time
}

// ClockFunc adapts a function to Clock
type ClockFunc func() time.Time

func (f ClockFunc) Now() time.Time { return f() }

// Call identifies who is calling and the gas they are willing to spend
type Call struct {
	Sender   string
	GasLimit uint64 // zero means the marketplace default
}

// Receipt reports what a call was charged
type Receipt struct {
	Sender   string `json:"sender"`
	GasLimit uint64 `json:"gas_limit"`
	GasUsed  uint64 `json:"gas_used"`
}

// Refund is the unused part of the budget returned to the caller
func (r Receipt) Refund() uint64 {
	return r.GasLimit - r.GasUsed
}

// Marketplace runs the period-gated double auction over a Store
type Marketplace struct {
	schedule   period.Schedule
	store      Store
	clock      Clock
	logger     zerolog.Logger
	metrics    *metrics.Metrics
	publisher  feed.Publisher
	defaultGas uint64

	// mu linearizes staging and commit of mutating calls. Events are
	// published after it is released.
	mu sync.Mutex
}

// Option configures a Marketplace
type Option func(*Marketplace)

func WithClock(c Clock) Option { return func(m *Marketplace) { m.clock = c } }

func WithLogger(l zerolog.Logger) Option { return func(m *Marketplace) { m.logger = l } }

func WithMetrics(mt *metrics.Metrics) Option { return func(m *Marketplace) { m.metrics = mt } }

func WithPublisher(p feed.Publisher) Option { return func(m *Marketplace) { m.publisher = p } }

func WithDefaultGasLimit(limit uint64) Option { return func(m *Marketplace) { m.defaultGas = limit } }

// New creates a marketplace over store
func New(schedule period.Schedule, store Store, opts ...Option) (*Marketplace, error) {
	if err := schedule.Validate(); err != nil {
		return nil, fmt.Errorf("invalid schedule: %w", err)
	}
	if store == nil {
		return nil, errors.New("store is required")
	}
	m := &Marketplace{
		schedule:   schedule,
		store:      store,
		clock:      ClockFunc(time.Now),
		logger:     zerolog.Nop(),
		metrics:    metrics.NopMetrics(),
		publisher:  feed.Nop{},
		defaultGas: gas.DefaultLimit,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m, nil
}

// Schedule returns the cycle configuration
func (m *Marketplace) Schedule() period.Schedule {
	return m.schedule
}

// SubmitBid records a buy order for intervalID
func (m *Marketplace) SubmitBid(ctx context.Context, call Call, intervalID int64, amount, price uint64) (models.Order, Receipt, error) {
	return m.submit(ctx, call, models.Bid, intervalID, amount, price)
}

// SubmitAsk records a sell order for intervalID
func (m *Marketplace) SubmitAsk(ctx context.Context, call Call, intervalID int64, amount, price uint64) (models.Order, Receipt, error) {
	return m.submit(ctx, call, models.Ask, intervalID, amount, price)
}

func (m *Marketplace) submit(ctx context.Context, call Call, kind models.Kind, intervalID int64, amount, price uint64) (models.Order, Receipt, error) {
	op := "submit_" + kind.String()
	meter := gas.NewMeter(m.gasLimit(call))

	m.mu.Lock()
	order, err := m.stageOrder(ctx, meter, call, kind, intervalID, amount, price)
	m.mu.Unlock()

	receipt := m.finish(op, call, meter, err)
	if err != nil {
		m.logger.Debug().Err(err).Str("op", op).Str("sender", call.Sender).
			Int64("interval", intervalID).Uint64("gas_used", receipt.GasUsed).Msg("call rejected")
		return models.Order{}, receipt, err
	}

	m.logger.Debug().Str("op", op).Str("sender", call.Sender).Int64("interval", intervalID).
		Int("seq", order.Seq).Uint64("amount", amount).Uint64("price", price).Msg("order accepted")
	m.publish(ctx, feed.Event{Type: feed.OrderAccepted, IntervalID: intervalID, Order: &order, At: order.SubmittedAt})
	return order, receipt, nil
}

func (m *Marketplace) stageOrder(ctx context.Context, meter *gas.Meter, call Call, kind models.Kind, intervalID int64, amount, price uint64) (models.Order, error) {
	if err := meter.Consume(gas.GasCall, "call"); err != nil {
		return models.Order{}, err
	}
	if call.Sender == "" {
		return models.Order{}, ErrNoSender
	}
	if amount == 0 {
		return models.Order{}, ErrInvalidAmount
	}
	if amount > MaxQuantity || price > MaxQuantity {
		return models.Order{}, ErrOutOfRange
	}

	now := m.clock.Now()
	if err := m.guard(ctx, meter, intervalID, now, period.Bidding); err != nil {
		return models.Order{}, err
	}

	b, err := m.store.Book(ctx, intervalID)
	if err != nil {
		return models.Order{}, fmt.Errorf("failed to load interval %d: %w", intervalID, err)
	}
	if err := meter.Consume(gas.GasOrderRead*uint64(b.Len()), "order read"); err != nil {
		return models.Order{}, err
	}
	if sideTotal(b, kind) > MaxQuantity-amount {
		return models.Order{}, fmt.Errorf("interval %d %s total would exceed %d: %w", intervalID, kind, MaxQuantity, ErrOutOfRange)
	}

	order := models.Order{
		ID:          uuid.New(),
		IntervalID:  intervalID,
		Seq:         b.NextSeq(),
		Kind:        kind,
		Sender:      call.Sender,
		Amount:      amount,
		Price:       price,
		SubmittedAt: now,
	}
	if err := meter.Consume(gas.GasStorageWrite, "order write"); err != nil {
		return models.Order{}, err
	}
	if err := m.store.Commit(ctx, book.Mutation{IntervalID: intervalID, Order: &order}); err != nil {
		return models.Order{}, fmt.Errorf("failed to commit order: %w", err)
	}
	return order, nil
}

// sideTotal sums the amounts already on one side of b. Each side is kept at or
// below MaxQuantity, so the sum cannot wrap.
func sideTotal(b *book.Book, kind models.Kind) uint64 {
	orders := b.Bids()
	if kind == models.Ask {
		orders = b.Asks()
	}
	var total uint64
	for _, o := range orders {
		total += o.Amount
	}
	return total
}

// ClearInterval computes and records the clearing result of intervalID
func (m *Marketplace) ClearInterval(ctx context.Context, call Call, intervalID int64) (models.ClearingResult, Receipt, error) {
	const op = "clear"
	meter := gas.NewMeter(m.gasLimit(call))

	m.mu.Lock()
	result, err := m.stageClearing(ctx, meter, call, intervalID)
	m.mu.Unlock()

	receipt := m.finish(op, call, meter, err)
	if err != nil {
		m.logger.Debug().Err(err).Str("op", op).Str("sender", call.Sender).
			Int64("interval", intervalID).Uint64("gas_used", receipt.GasUsed).Msg("call rejected")
		return models.ClearingResult{}, receipt, err
	}

	m.metrics.ClearedQuantity.Add(float64(result.ClearedQuantity))
	m.logger.Info().Str("sender", call.Sender).Int64("interval", intervalID).
		Uint64("price", result.ClearingPrice).Uint64("quantity", result.ClearedQuantity).
		Int("fills", len(result.Fills)).Uint64("gas_used", receipt.GasUsed).Msg("interval cleared")
	m.publish(ctx, feed.Event{Type: feed.IntervalCleared, IntervalID: intervalID, Result: &result, At: result.ClearedAt})
	return result, receipt, nil
}

func (m *Marketplace) stageClearing(ctx context.Context, meter *gas.Meter, call Call, intervalID int64) (models.ClearingResult, error) {
	if err := meter.Consume(gas.GasCall, "call"); err != nil {
		return models.ClearingResult{}, err
	}
	if call.Sender == "" {
		return models.ClearingResult{}, ErrNoSender
	}

	now := m.clock.Now()
	if err := m.guard(ctx, meter, intervalID, now, period.Clearing); err != nil {
		return models.ClearingResult{}, err
	}

	b, err := m.store.Book(ctx, intervalID)
	if err != nil {
		return models.ClearingResult{}, fmt.Errorf("failed to load interval %d: %w", intervalID, err)
	}
	if err := meter.Consume(gas.GasOrderRead*uint64(b.Len()), "order read"); err != nil {
		return models.ClearingResult{}, err
	}
	if err := meter.Consume(exchange.Cost(b.Len()), "clearing"); err != nil {
		return models.ClearingResult{}, err
	}

	result := exchange.Clear(intervalID, b.Bids(), b.Asks())
	result.ClearedBy = call.Sender
	result.ClearedAt = now

	write := gas.GasStorageWrite + gas.GasFillWrite*uint64(len(result.Fills))
	if err := meter.Consume(write, "result write"); err != nil {
		return models.ClearingResult{}, err
	}
	if err := m.store.Commit(ctx, book.Mutation{IntervalID: intervalID, Result: &result}); err != nil {
		return models.ClearingResult{}, fmt.Errorf("failed to commit clearing result: %w", err)
	}
	return result, nil
}

// guard checks that intervalID is live in the wanted period and still open.
// It runs before any order is loaded.
func (m *Marketplace) guard(ctx context.Context, meter *gas.Meter, intervalID int64, now time.Time, want period.Period) error {
	if err := meter.Consume(gas.GasPeriodCheck, "period check"); err != nil {
		return err
	}
	got, live := m.schedule.PeriodOf(intervalID, now)
	if !live {
		return fmt.Errorf("interval %d is not the current interval %d, need %s: %w",
			intervalID, m.schedule.IntervalAt(now), want, ErrWrongPeriod)
	}
	if got != want {
		return fmt.Errorf("interval %d is in %s, need %s: %w", intervalID, got, want, ErrWrongPeriod)
	}

	if err := meter.Consume(gas.GasStatusRead, "status read"); err != nil {
		return err
	}
	status, err := m.store.Status(ctx, intervalID)
	if err != nil {
		return fmt.Errorf("failed to read interval %d status: %w", intervalID, err)
	}
	if status != models.StatusOpen {
		return fmt.Errorf("interval %d is %s: %w", intervalID, status, ErrWrongPeriod)
	}
	return nil
}

func (m *Marketplace) gasLimit(call Call) uint64 {
	if call.GasLimit == 0 {
		return m.defaultGas
	}
	return call.GasLimit
}

func (m *Marketplace) finish(op string, call Call, meter *gas.Meter, err error) Receipt {
	receipt := Receipt{Sender: call.Sender, GasLimit: meter.Limit(), GasUsed: meter.Used()}
	m.metrics.ObserveCall(op, outcome(err), receipt.GasUsed)
	return receipt
}

func outcome(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, ErrWrongPeriod):
		return "wrong_period"
	case errors.Is(err, gas.ErrOutOfGas):
		return "out_of_gas"
	case errors.Is(err, ErrInvalidAmount), errors.Is(err, ErrOutOfRange), errors.Is(err, ErrNoSender):
		return "invalid"
	default:
		return "error"
	}
}

func (m *Marketplace) publish(ctx context.Context, ev feed.Event) {
	if err := m.publisher.Publish(ctx, ev); err != nil {
		m.metrics.PublishFailures.Inc()
		m.logger.Warn().Err(err).Str("event", string(ev.Type)).Int64("interval", ev.IntervalID).Msg("failed to publish event")
	}
}

// Position reports the current interval and period
func (m *Marketplace) Position() period.Position {
	return m.schedule.At(m.clock.Now())
}

// Status returns the lifecycle state of intervalID
func (m *Marketplace) Status(ctx context.Context, intervalID int64) (models.IntervalStatus, error) {
	return m.store.Status(ctx, intervalID)
}

// Book returns the accumulated orders and result of intervalID
func (m *Marketplace) Book(ctx context.Context, intervalID int64) (*book.Book, error) {
	return m.store.Book(ctx, intervalID)
}

// Result returns the clearing result of intervalID, or exchange.ErrNotCleared
func (m *Marketplace) Result(ctx context.Context, intervalID int64) (models.ClearingResult, error) {
	b, err := m.store.Book(ctx, intervalID)
	if err != nil {
		return models.ClearingResult{}, err
	}
	if b.Result == nil {
		return models.ClearingResult{}, exchange.ErrNotCleared
	}
	return *b.Result, nil
}

// Verify recomputes the clearing of intervalID from its stored orders and
// checks it against the recorded result
func (m *Marketplace) Verify(ctx context.Context, intervalID int64) error {
	b, err := m.store.Book(ctx, intervalID)
	if err != nil {
		return err
	}
	return exchange.Verify(b)
}
