// Package ics converts metas to and from iCalendar. Every schedule maps
// to one recurring VEVENT whose RRULE carries the period.
package ics

import (
	"fmt"
	"io"
	"time"

	ical "github.com/arran4/golang-ical"
	"github.com/google/uuid"
	"github.com/teambition/rrule-go"

	"metacal/internal/model"
)

const productID = "-//metacal//Meta Event Schedule//EN"

// uidSpace namespaces the deterministic event UIDs.
var uidSpace = uuid.NewSHA1(uuid.NameSpaceURL, []byte("https://metacal.invalid/events"))

// ExportOptions controls calendar generation.
type ExportOptions struct {
	// Day anchors offsets: DTSTART is the UTC midnight of Day plus the
	// schedule offset. Zero means the current UTC day.
	Day time.Time

	// Name is written as X-WR-CALNAME when non-empty.
	Name string
}

// RuleFor returns the RRULE value for s using the coarsest unit that
// divides the frequency exactly.
func RuleFor(s model.EventSchedule) string {
	opt := rrule.ROption{Freq: rrule.MINUTELY, Interval: int(s.Frequency / time.Minute)}
	switch {
	case s.Frequency%(24*time.Hour) == 0:
		opt.Freq, opt.Interval = rrule.DAILY, int(s.Frequency/(24*time.Hour))
	case s.Frequency%time.Hour == 0:
		opt.Freq, opt.Interval = rrule.HOURLY, int(s.Frequency/time.Hour)
	}
	if opt.Interval == 1 {
		opt.Interval = 0
	}
	return opt.RRuleString()
}

// Export builds a calendar with one recurring event per schedule.
func Export(metas []model.Meta, opts ExportOptions) *ical.Calendar {
	day := opts.Day
	if day.IsZero() {
		day = time.Now()
	}
	day = day.UTC()
	anchor := time.Date(day.Year(), day.Month(), day.Day(), 0, 0, 0, 0, time.UTC)

	cal := ical.NewCalendar()
	cal.SetProductId(productID)
	cal.SetMethod(ical.MethodPublish)
	if opts.Name != "" {
		cal.SetXWRCalName(opts.Name)
	}

	for _, m := range metas {
		for i, s := range m.Schedules {
			start := anchor.Add(s.Offset)

			ev := cal.AddEvent(eventUID(m, i, s))
			ev.SetDtStampTime(anchor)
			ev.SetStartAt(start)
			ev.SetEndAt(start.Add(s.Length))
			ev.SetSummary(s.Name)
			ev.SetDescription(m.Name)
			if m.Category != "" {
				ev.AddCategory(m.Category)
			}
			ev.AddRrule(RuleFor(s))
		}
	}
	return cal
}

// WriteCalendar serializes Export(metas, opts) to w.
func WriteCalendar(w io.Writer, metas []model.Meta, opts ExportOptions) error {
	if err := Export(metas, opts).SerializeTo(w); err != nil {
		return fmt.Errorf("serialize calendar: %w", err)
	}
	return nil
}

// eventUID is stable across exports of the same schedule.
func eventUID(m model.Meta, i int, s model.EventSchedule) string {
	name := fmt.Sprintf("%s/%d/%s/%d", m.Key, i, s.Name, int64(s.Offset/time.Minute))
	return uuid.NewSHA1(uidSpace, []byte(name)).String() + "@metacal"
}
