// Package meta merges the schedules of a meta into one time-ordered
// stream of occurrences sharing a single cursor.
package meta

import (
	"iter"
	"slices"
	"time"

	"github.com/samber/mo"

	"metacal/internal/model"
	"metacal/internal/schedule"
)

// Iter walks every member schedule of a meta in start-time order. The
// member list is copied on construction and never written afterwards.
type Iter struct {
	meta      model.Meta
	schedules []model.EventSchedule
	cursor    time.Duration
}

// New returns an iterator over m positioned at start.
func New(m model.Meta, start time.Duration) (*Iter, error) {
	if err := m.Validate(); err != nil {
		return nil, err
	}
	return &Iter{
		meta:      m,
		schedules: slices.Clone(m.Schedules),
		cursor:    start,
	}, nil
}

// FromSchedules builds an anonymous meta from a plain schedule list.
func FromSchedules(schedules []model.EventSchedule, start time.Duration) (*Iter, error) {
	return New(model.Meta{Key: "adhoc", Schedules: schedules}, start)
}

// Meta returns the meta being iterated.
func (it *Iter) Meta() model.Meta {
	return it.meta
}

// Cursor returns the shared cursor.
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
	return it.SetTime(schedule.TimeOfDay(t))
}

// FastForward moves the cursor by d, which may be negative.
func (it *Iter) FastForward(d time.Duration) *Iter {
	it.cursor += d
	return it
}

// Now reports the first member, in list order, that is active at the
// cursor. Overlapping members after it are not reported.
func (it *Iter) Now() mo.Option[model.EventInstance] {
	for _, s := range it.schedules {
		if active := schedule.ActiveAt(s, it.cursor); active.IsPresent() {
			return active
		}
	}
	return mo.None[model.EventInstance]()
}

// Next returns the soonest upcoming occurrence across all members and
// moves the cursor to its start. Exact ties go to the member listed
// first; the other tied members are passed over, since the cursor now
// sits on their start and Next is strictly after the cursor.
func (it *Iter) Next() model.EventInstance {
	best := schedule.NextAt(it.schedules[0], it.cursor)
	for _, s := range it.schedules[1:] {
		if cand := schedule.NextAt(s, it.cursor); cand.Start < best.Start {
			best = cand
		}
	}
	it.cursor = best.Start
	return best
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
