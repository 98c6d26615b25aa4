// Package period derives the trading period from wall-clock time.
//
// Nothing here is stored. A Schedule describes one repeating cycle as an
// ordered list of phases, and every lookup recomputes the position from the
// anchor, so two callers asking about the same instant always agree.
package period

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// Period is a named phase inside the repeating cycle
type Period int

const (
	Bidding Period = iota + 1
	Clearing
	Settlement
	Idle
)

var periodNames = map[Period]string{
	Bidding:    "BIDDING",
	Clearing:   "CLEARING",
	Settlement: "SETTLEMENT",
	Idle:       "IDLE",
}

// All lists every known period in cycle order
var All = []Period{Bidding, Clearing, Settlement, Idle}

func (p Period) String() string {
	if name, ok := periodNames[p]; ok {
		return name
	}
	return "UNKNOWN"
}

func (p Period) MarshalText() ([]byte, error) {
	return []byte(p.String()), nil
}

func (p *Period) UnmarshalText(b []byte) error {
	parsed, err := ParsePeriod(string(b))
	if err != nil {
		return err
	}
	*p = parsed
	return nil
}

// ParsePeriod parses a period name, ignoring case
func ParsePeriod(s string) (Period, error) {
	upper := strings.ToUpper(strings.TrimSpace(s))
	for p, name := range periodNames {
		if name == upper {
			return p, nil
		}
	}
	return 0, fmt.Errorf("unknown period %q", s)
}

// Phase is one segment of the cycle
type Phase struct {
	Period   Period
	Duration time.Duration
}

// Schedule is the cycle configuration: an anchor and the ordered phases
type Schedule struct {
	Anchor time.Time
	Phases []Phase
}

// Position is where an instant falls inside the schedule
type Position struct {
	IntervalID  int64     `json:"interval_id"`
	Period      Period    `json:"period"`
	PeriodStart time.Time `json:"period_start"`
	PeriodEnd   time.Time `json:"period_end"`
}

// Validate checks that the schedule can be evaluated
func (s Schedule) Validate() error {
	if len(s.Phases) == 0 {
		return errors.New("schedule has no phases")
	}
	seen := make(map[Period]int)
	for i, ph := range s.Phases {
		if _, ok := periodNames[ph.Period]; !ok {
			return fmt.Errorf("phase %d has unknown period", i)
		}
		if ph.Duration <= 0 {
			return fmt.Errorf("phase %d (%s) must have a positive duration", i, ph.Period)
		}
		seen[ph.Period]++
	}
	for _, required := range []Period{Bidding, Clearing} {
		if seen[required] != 1 {
			return fmt.Errorf("schedule must contain %s exactly once, found %d", required, seen[required])
		}
	}
	return nil
}

// CycleLength is the sum of all phase durations
func (s Schedule) CycleLength() time.Duration {
	var total time.Duration
	for _, ph := range s.Phases {
		total += ph.Duration
	}
	return total
}

// split returns the interval index and the offset into that interval's cycle.
// Division floors so instants before the anchor land in negative intervals.
func (s Schedule) split(t time.Time) (int64, time.Duration) {
	cycle := s.CycleLength()
	elapsed := t.Sub(s.Anchor)
	id := int64(elapsed / cycle)
	offset := elapsed % cycle
	if offset < 0 {
		offset += cycle
		id--
	}
	return id, offset
}

// IntervalAt returns the interval whose cycle contains t
func (s Schedule) IntervalAt(t time.Time) int64 {
	id, _ := s.split(t)
	return id
}

// PeriodAt returns the period t falls in
func (s Schedule) PeriodAt(t time.Time) Period {
	return s.At(t).Period
}

// At returns the full position of t
func (s Schedule) At(t time.Time) Position {
	id, offset := s.split(t)
	start := s.IntervalStart(id)
	var walked time.Duration
	for _, ph := range s.Phases {
		if offset < walked+ph.Duration {
			return Position{
				IntervalID:  id,
				Period:      ph.Period,
				PeriodStart: start.Add(walked),
				PeriodEnd:   start.Add(walked + ph.Duration),
			}
		}
		walked += ph.Duration
	}
	// offset < cycle length, so the loop always returns for a valid schedule
	last := s.Phases[len(s.Phases)-1]
	return Position{
		IntervalID:  id,
		Period:      last.Period,
		PeriodStart: start.Add(walked - last.Duration),
		PeriodEnd:   start.Add(walked),
	}
}

// PeriodOf reports the period interval id is in at t. The second return is
// false when t lies outside the interval's own cycle.
func (s Schedule) PeriodOf(id int64, t time.Time) (Period, bool) {
	pos := s.At(t)
	if pos.IntervalID != id {
		return 0, false
	}
	return pos.Period, true
}

// IntervalStart returns the instant interval id begins
func (s Schedule) IntervalStart(id int64) time.Time {
	return s.Anchor.Add(time.Duration(id) * s.CycleLength())
}

// PhaseStart returns when period p begins inside interval id
func (s Schedule) PhaseStart(id int64, p Period) (time.Time, bool) {
	start := s.IntervalStart(id)
	var walked time.Duration
	for _, ph := range s.Phases {
		if ph.Period == p {
			return start.Add(walked), true
		}
		walked += ph.Duration
	}
	return time.Time{}, false
}
