package ics

import (
	"bytes"
	"errors"
	"fmt"
	"time"

	ical "github.com/arran4/golang-ical"
	"github.com/teambition/rrule-go"

	appLog "metacal/internal/log"
	"metacal/internal/model"
)

// ErrNoSchedules is returned when a calendar holds no importable events.
var ErrNoSchedules = errors.New("no periodic events in calendar")

// ParseSchedules reads every periodic VEVENT in body as a schedule.
//
//   - Offset is the DTSTART time of day in UTC, reduced into the first
//     period.
//   - Frequency is INTERVAL times the FREQ unit (DAILY, HOURLY or MINUTELY).
//   - Length is DTEND - DTSTART.
//
// Events without an RRULE, with a coarser FREQ, or bounded by COUNT,
// UNTIL or BY* parts are logged and skipped.
func ParseSchedules(body []byte) ([]model.EventSchedule, error) {
	if len(body) == 0 {
		return nil, errors.New("empty ICS body")
	}

	cal, err := ical.ParseCalendar(bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("parse calendar: %w", err)
	}

	out := make([]model.EventSchedule, 0)
	for _, ev := range cal.Events() {
		s, err := scheduleFromEvent(ev)
		if err != nil {
			appLog.Warn("ics: skipping event", "uid", ev.Id(), "reason", err.Error())
			continue
		}
		out = append(out, s)
	}

	appLog.Debug("ics parse completed", "events", len(cal.Events()), "schedules", len(out))
	return out, nil
}

// ParseMeta wraps ParseSchedules into a validated meta. An empty name
// defaults to key.
func ParseMeta(key, name, category string, body []byte) (model.Meta, error) {
	schedules, err := ParseSchedules(body)
	if err != nil {
		return model.Meta{}, err
	}
	if len(schedules) == 0 {
		return model.Meta{}, ErrNoSchedules
	}
	if name == "" {
		name = key
	}
	m := model.Meta{Key: key, Name: name, Category: category, Schedules: schedules}
	if err := m.Validate(); err != nil {
		return model.Meta{}, err
	}
	return m, nil
}

func scheduleFromEvent(ev *ical.VEvent) (model.EventSchedule, error) {
	var s model.EventSchedule
	if p := ev.GetProperty(ical.ComponentPropertySummary); p != nil {
		s.Name = p.Value
	}

	start, err := ev.GetStartAt()
	if err != nil {
		return s, fmt.Errorf("dtstart: %w", err)
	}
	end, err := ev.GetEndAt()
	if err != nil {
		return s, fmt.Errorf("dtend: %w", err)
	}

	prop := ev.GetProperty(ical.ComponentPropertyRrule)
	if prop == nil {
		return s, errors.New("not recurring")
	}
	freq, err := frequencyOf(prop.Value)
	if err != nil {
		return s, err
	}

	start = start.UTC()
	midnight := time.Date(start.Year(), start.Month(), start.Day(), 0, 0, 0, 0, time.UTC)
	s.Offset = start.Sub(midnight) % freq
	s.Frequency = freq
	s.Length = end.Sub(start)

	if err := s.Validate(); err != nil {
		return s, err
	}
	return s, nil
}

func frequencyOf(rule string) (time.Duration, error) {
	opt, err := rrule.StrToROption(rule)
	if err != nil {
		return 0, fmt.Errorf("rrule %q: %w", rule, err)
	}
	if opt.Count != 0 || !opt.Until.IsZero() || filtered(opt) {
		return 0, fmt.Errorf("rrule %q: bounded or filtered rules are not periodic", rule)
	}

	var unit time.Duration
	switch opt.Freq {
	case rrule.DAILY:
		unit = 24 * time.Hour
	case rrule.HOURLY:
		unit = time.Hour
	case rrule.MINUTELY:
		unit = time.Minute
	default:
		return 0, fmt.Errorf("rrule %q: unsupported FREQ=%s", rule, opt.Freq)
	}

	interval := opt.Interval
	if interval == 0 {
		interval = 1
	}
	return time.Duration(interval) * unit, nil
}

func filtered(opt *rrule.ROption) bool {
	return len(opt.Bysetpos) > 0 || len(opt.Bymonth) > 0 || len(opt.Bymonthday) > 0 ||
		len(opt.Byyearday) > 0 || len(opt.Byweekno) > 0 || len(opt.Byweekday) > 0 ||
		len(opt.Byhour) > 0 || len(opt.Byminute) > 0 || len(opt.Bysecond) > 0 ||
		len(opt.Byeaster) > 0
}
