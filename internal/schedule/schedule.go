// Package schedule iterates the occurrences of a single recurring event.
//
// All arithmetic runs in whole minutes with floor division, so cursors
// before the reference zero (negative durations) resolve into the
// previous period instead of being truncated toward zero.
package schedule

import (
	"iter"
	"time"

	"github.com/samber/mo"

	"metacal/internal/model"
)

// Iter is a cursor over the occurrences of one EventSchedule. The
// cursor is the only mutable state. An Iter is not safe for concurrent
// use; separate iterators over the same schedule are independent.
type Iter struct {
	schedule model.EventSchedule
	cursor   time.Duration
}

// New returns an iterator positioned at start (time since the reference
// zero, usually UTC midnight). Invalid schedules are rejected.
func New(s model.EventSchedule, start time.Duration) (*Iter, error) {
	if err := s.Validate(); err != nil {
		return nil, err
	}
	return &Iter{schedule: s, cursor: start}, nil
}

// Schedule returns the schedule being iterated.
func (it *Iter) Schedule() model.EventSchedule {
	return it.schedule
}

// Cursor returns the current position.
func (it *Iter) Cursor() time.Duration {
	return it.cursor
}

// SetTime moves the cursor to d, discarding any prior advancement.
func (it *Iter) SetTime(d time.Duration) *Iter {
	it.cursor = d
	return it
}

// WithTime moves the cursor to the UTC time of day of t.
func (it *Iter) WithTime(t time.Time) *Iter {
	return it.SetTime(TimeOfDay(t))
}

// FastForward moves the cursor by d, which may be negative.
func (it *Iter) FastForward(d time.Duration) *Iter {
	it.cursor += d
	return it
}

// Now returns the occurrence covering the cursor, if any. It does not
// move the cursor.
func (it *Iter) Now() mo.Option[model.EventInstance] {
	return ActiveAt(it.schedule, it.cursor)
}

// Next advances the cursor to the start of the next occurrence and
// returns it. The sequence is infinite and strictly increasing.
func (it *Iter) Next() model.EventInstance {
	inst := NextAt(it.schedule, it.cursor)
	it.cursor = inst.Start
	return inst
}

// Take returns the next n occurrences.
func (it *Iter) Take(n int) []model.EventInstance {
	if n <= 0 {
		return nil
	}
	out := make([]model.EventInstance, 0, n)
	for range n {
		out = append(out, it.Next())
	}
	return out
}

// All yields occurrences until the consumer stops ranging.
func (it *Iter) All() iter.Seq[model.EventInstance] {
	return func(yield func(model.EventInstance) bool) {
		for {
			if !yield(it.Next()) {
				return
			}
		}
	}
}

// NextAt computes the occurrence Next would return for a cursor at
// cursor, without any iterator state. A cursor sitting exactly on a
// start resolves to the following period's start.
func NextAt(s model.EventSchedule, cursor time.Duration) model.EventInstance {
	offset, freq := minutes(s.Offset), minutes(s.Frequency)
	period, inPeriod := split(minutes(cursor), freq)

	start := offset
	if inPeriod >= offset {
		start += freq
	}
	return model.EventInstance{
		Schedule: s,
		Start:    time.Duration(start+period*freq) * time.Minute,
	}
}

// ActiveAt returns the occurrence whose [start, start+length) window
// contains cursor, if any.
func ActiveAt(s model.EventSchedule, cursor time.Duration) mo.Option[model.EventInstance] {
	offset, freq, length := minutes(s.Offset), minutes(s.Frequency), minutes(s.Length)
	period, inPeriod := split(minutes(cursor), freq)

	if inPeriod < offset || inPeriod >= offset+length {
		return mo.None[model.EventInstance]()
	}
	return mo.Some(model.EventInstance{
		Schedule: s,
		Start:    time.Duration(offset+period*freq) * time.Minute,
	})
}

// TimeOfDay returns the time elapsed since UTC midnight of t's day.
func TimeOfDay(t time.Time) time.Duration {
	t = t.UTC()
	return time.Duration(t.Hour())*time.Hour +
		time.Duration(t.Minute())*time.Minute +
		time.Duration(t.Second())*time.Second
}

// split returns floor(m/freq) and the non-negative remainder.
func split(m, freq int64) (period, inPeriod int64) {
	period = floorDiv(m, freq)
	return period, m - period*freq
}

func minutes(d time.Duration) int64 {
	return floorDiv(int64(d), int64(time.Minute))
}

func floorDiv(a, b int64) int64 {
	q := a / b
	if (a%b != 0) && ((a < 0) != (b < 0)) {
		q--
	}
	return q
}
