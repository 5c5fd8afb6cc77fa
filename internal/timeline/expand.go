// Package timeline anchors engine offsets to concrete UTC days: window
// expansion for calendars and APIs, and point-in-time status snapshots.
package timeline

import (
	"errors"
	"slices"
	"time"

	"github.com/samber/mo"

	appLog "metacal/internal/log"
	"metacal/internal/meta"
	"metacal/internal/model"
	"metacal/internal/schedule"
)

const (
	defaultMaxOccurrences = 5000
)

// ExpandConfig controls window expansion.
type ExpandConfig struct {
	// RangeStart / RangeEnd define the half-open window [RangeStart, RangeEnd).
	RangeStart time.Time
	RangeEnd   time.Time

	// MaxOccurrences caps the occurrences produced per meta. If zero,
	// defaultMaxOccurrences is used.
	MaxOccurrences int
}

// ExpandResult wraps the expanded occurrences and the metas that hit
// the cap.
type ExpandResult struct {
	Occurrences []model.Occurrence
	Truncated   []string
}

// Expand lists, for every meta, the occurrence already running at
// RangeStart (if any) and every occurrence starting inside the window,
// sorted by start time.
func Expand(metas []model.Meta, cfg ExpandConfig) (ExpandResult, error) {
	var result ExpandResult

	if cfg.RangeEnd.Before(cfg.RangeStart) {
		return result, errors.New("expand: RangeEnd is before RangeStart")
	}
	if cfg.MaxOccurrences <= 0 {
		cfg.MaxOccurrences = defaultMaxOccurrences
	}

	anchor, cursor := Anchor(cfg.RangeStart)
	end := cfg.RangeEnd.Sub(anchor)

	all := make([]model.Occurrence, 0)
	for _, m := range metas {
		// Start one minute early so occurrences beginning exactly at
		// RangeStart are emitted by the engine rather than skipped.
		it, err := meta.New(m, cursor.Truncate(time.Minute)-time.Minute)
		if err != nil {
			return result, err
		}

		occ := make([]model.Occurrence, 0)
		for _, s := range m.Schedules {
			if active, ok := schedule.ActiveAt(s, cursor).Get(); ok && active.Start < cursor {
				occ = append(occ, active.Occurrence(m, anchor))
			}
		}
		for inst := range it.All() {
			if inst.Start >= end {
				break
			}
			if inst.Start < cursor {
				continue
			}
			if len(occ) >= cfg.MaxOccurrences {
				result.Truncated = append(result.Truncated, m.Key)
				appLog.Error("expand: truncated occurrences for meta due to cap",
					errors.New("max occurrences reached"),
					"meta", m.Key,
					"cap", cfg.MaxOccurrences,
				)
				break
			}
			occ = append(occ, inst.Occurrence(m, anchor))
		}
		all = append(all, occ...)
	}

	slices.SortStableFunc(all, func(a, b model.Occurrence) int {
		return a.Start.Compare(b.Start)
	})
	result.Occurrences = all
	return result, nil
}

// Status is a point-in-time view of one meta.
type Status struct {
	Meta     model.Meta
	At       time.Time
	Active   mo.Option[model.Occurrence]
	Upcoming []model.Occurrence
}

// StatusAt reports what m is doing at t and its next upcoming occurrences.
func StatusAt(m model.Meta, t time.Time, upcoming int) (Status, error) {
	anchor, cursor := Anchor(t)
	it, err := meta.New(m, cursor)
	if err != nil {
		return Status{}, err
	}

	st := Status{Meta: m, At: t.UTC(), Active: mo.None[model.Occurrence]()}
	if active, ok := it.Now().Get(); ok {
		st.Active = mo.Some(active.Occurrence(m, anchor))
	}
	for _, inst := range it.Take(upcoming) {
		st.Upcoming = append(st.Upcoming, inst.Occurrence(m, anchor))
	}
	return st, nil
}

// Anchor splits t into its UTC midnight and the offset into that day.
func Anchor(t time.Time) (time.Time, time.Duration) {
	t = t.UTC()
	midnight := time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
	return midnight, t.Sub(midnight)
}
