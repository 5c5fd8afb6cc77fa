package model

import (
	"errors"
	"fmt"
	"time"
)

var (
	// ErrInvalidSchedule is wrapped by every schedule validation failure.
	ErrInvalidSchedule = errors.New("invalid event schedule")
	// ErrEmptyMeta is returned for a meta without any schedules.
	ErrEmptyMeta = errors.New("meta has no schedules")
)

// EventSchedule describes one recurring meta event on the 24-hour UTC
// cycle. It is immutable once constructed and may be shared freely
// between iterators.
type EventSchedule struct {
	// Name is a display label. It is not unique within a catalog.
	Name string

	// Offset is the time since UTC 00:00 at which the first occurrence
	// of a period starts.
	Offset time.Duration

	// Frequency is the period after which the pattern repeats.
	Frequency time.Duration

	// Length is how long each occurrence stays active.
	Length time.Duration
}

// Validate rejects schedules the engines cannot iterate: every duration
// must be whole minutes and Offset must lie inside the first period.
func (s EventSchedule) Validate() error {
	if s.Frequency < time.Minute {
		return fmt.Errorf("%w: %q: frequency must be at least 1m, got %s", ErrInvalidSchedule, s.Name, s.Frequency)
	}
	if s.Length <= 0 {
		return fmt.Errorf("%w: %q: length must be positive, got %s", ErrInvalidSchedule, s.Name, s.Length)
	}
	if s.Offset < 0 {
		return fmt.Errorf("%w: %q: offset must not be negative, got %s", ErrInvalidSchedule, s.Name, s.Offset)
	}
	for _, f := range []struct {
		field string
		d     time.Duration
	}{{"offset", s.Offset}, {"frequency", s.Frequency}, {"length", s.Length}} {
		if f.d%time.Minute != 0 {
			return fmt.Errorf("%w: %q: %s must be whole minutes, got %s", ErrInvalidSchedule, s.Name, f.field, f.d)
		}
	}
	if s.Offset >= s.Frequency {
		return fmt.Errorf("%w: %q: offset %s must be below frequency %s", ErrInvalidSchedule, s.Name, s.Offset, s.Frequency)
	}
	return nil
}

func (s EventSchedule) String() string {
	return fmt.Sprintf("%s: offset: %s, freq: %dm, len: %dm",
		s.Name, FormatClock(s.Offset), int64(s.Frequency/time.Minute), int64(s.Length/time.Minute))
}

// EventInstance is a single occurrence of an EventSchedule. Start is
// relative to the caller's reference zero (usually UTC midnight) and
// may lie outside [0, 24h).
type EventInstance struct {
	Schedule EventSchedule
	Start    time.Duration
}

// End returns the exclusive end of the occurrence.
func (e EventInstance) End() time.Duration {
	return e.Start + e.Schedule.Length
}

// Contains reports whether t falls inside [Start, End).
func (e EventInstance) Contains(t time.Duration) bool {
	return e.Start <= t && t < e.End()
}

// At maps the occurrence onto a concrete instant given the reference zero.
func (e EventInstance) At(anchor time.Time) time.Time {
	return anchor.Add(e.Start)
}

// Occurrence anchors the instance to a concrete day for the given meta.
func (e EventInstance) Occurrence(m Meta, anchor time.Time) Occurrence {
	start := e.At(anchor).UTC()
	return Occurrence{
		MetaKey:  m.Key,
		MetaName: m.Name,
		Category: m.Category,
		Name:     e.Schedule.Name,
		Start:    start,
		End:      start.Add(e.Schedule.Length),
	}
}

func (e EventInstance) String() string {
	return fmt.Sprintf("%s, start: %d", e.Schedule, int64(e.Start/time.Minute))
}

// Meta is a named, categorized group of schedules that are iterated
// together as one timeline.
type Meta struct {
	// Key is the catalog lookup key (e.g. "world_bosses").
	Key      string
	Name     string
	Category string

	Schedules []EventSchedule
}

// Validate checks the key, that the meta is not empty and every schedule.
func (m Meta) Validate() error {
	if m.Key == "" {
		return errors.New("meta key is empty")
	}
	if len(m.Schedules) == 0 {
		return fmt.Errorf("%w: %s", ErrEmptyMeta, m.Key)
	}
	for i, s := range m.Schedules {
		if err := s.Validate(); err != nil {
			return fmt.Errorf("meta %s: event %d: %w", m.Key, i, err)
		}
	}
	return nil
}

// Occurrence represents a single concrete instance of a meta event
// anchored to a UTC day.
type Occurrence struct {
	MetaKey  string
	MetaName string
	Category string

	// Name is the event's display label.
	Name string

	// Start / End are in UTC.
	Start time.Time
	End   time.Time
}

// FormatClock renders an offset from midnight as HH:MM, appending a
// "(+Nd)" / "(-Nd)" day marker when it falls outside the reference day.
func FormatClock(d time.Duration) string {
	mins := int64(d / time.Minute)
	if d < 0 && d%time.Minute != 0 {
		mins--
	}
	day := mins / 1440
	rem := mins % 1440
	if rem < 0 {
		rem += 1440
		day--
	}
	clock := fmt.Sprintf("%02d:%02d", rem/60, rem%60)
	switch {
	case day > 0:
		return fmt.Sprintf("%s (+%dd)", clock, day)
	case day < 0:
		return fmt.Sprintf("%s (%dd)", clock, day)
	}
	return clock
}
