// Package feed fans marketplace events out to observers: websocket clients
// connected to the server and, optionally, a Kafka topic.
package feed

import (
	"context"
	"errors"
	"time"

	"github.com/xtrntr/marketplace/internal/models"
	"github.com/xtrntr/marketplace/internal/period"
)

// EventType names what happened
type EventType string

const (
	OrderAccepted   EventType = "order_accepted"
	IntervalCleared EventType = "interval_cleared"
	PeriodTick      EventType = "period_tick"
)

// Event is the payload every publisher receives
type Event struct {
	Type       EventType              `json:"type"`
	IntervalID int64                  `json:"interval_id"`
	Order      *models.Order          `json:"order,omitempty"`
	Result     *models.ClearingResult `json:"result,omitempty"`
	Position   *period.Position       `json:"position,omitempty"`
	At         time.Time              `json:"at"`
}

// Publisher delivers events. Publishing happens after state is committed, so
// an error never undoes the call that produced the event.
type Publisher interface {
	Publish(ctx context.Context, ev Event) error
}

// Nop drops every event
type Nop struct{}

func (Nop) Publish(context.Context, Event) error { return nil }

// Multi publishes to each publisher in turn and joins their errors
type Multi []Publisher

func (m Multi) Publish(ctx context.Context, ev Event) error {
	var errs []error
	for _, p := range m {
		if err := p.Publish(ctx, ev); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
