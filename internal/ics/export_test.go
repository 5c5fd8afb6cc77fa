package ics

import (
	"bytes"
	"testing"
	"time"

	ical "github.com/arran4/golang-ical"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"metacal/internal/catalog"
	"metacal/internal/model"
)

var day = time.Date(2024, 3, 1, 15, 4, 5, 0, time.UTC)

func meta(t *testing.T, key string) model.Meta {
	t.Helper()
	c, err := catalog.Default()
	require.NoError(t, err)
	m, ok := c.Lookup(key)
	require.True(t, ok, key)
	return m
}

func TestRuleFor(t *testing.T) {
	tests := map[time.Duration]string{
		time.Minute:      "FREQ=MINUTELY",
		20 * time.Minute: "FREQ=MINUTELY;INTERVAL=20",
		90 * time.Minute: "FREQ=MINUTELY;INTERVAL=90",
		time.Hour:        "FREQ=HOURLY",
		2 * time.Hour:    "FREQ=HOURLY;INTERVAL=2",
		24 * time.Hour:   "FREQ=DAILY",
		48 * time.Hour:   "FREQ=DAILY;INTERVAL=2",
		30 * time.Hour:   "FREQ=HOURLY;INTERVAL=30",
	}
	for freq, want := range tests {
		t.Run(freq.String(), func(t *testing.T) {
			s := model.EventSchedule{Name: "x", Frequency: freq, Length: time.Minute}
			assert.Equal(t, want, RuleFor(s))
		})
	}
}

func TestExportEvents(t *testing.T) {
	wb := meta(t, "world_bosses")
	cal := Export([]model.Meta{wb}, ExportOptions{Day: day, Name: "World Bosses"})

	events := cal.Events()
	require.Len(t, events, len(wb.Schedules))

	wurm := events[5]
	start, err := wurm.GetStartAt()
	require.NoError(t, err)
	assert.Equal(t, time.Date(2024, 3, 1, 1, 15, 0, 0, time.UTC), start)

	end, err := wurm.GetEndAt()
	require.NoError(t, err)
	assert.Equal(t, 15*time.Minute, end.Sub(start))

	assert.Equal(t, "Great Jungle Wurm", wurm.GetProperty(ical.ComponentPropertySummary).Value)
	assert.Equal(t, "World Bosses", wurm.GetProperty(ical.ComponentPropertyDescription).Value)
	assert.Equal(t, "core_tyria", wurm.GetProperty(ical.ComponentPropertyCategories).Value)
	assert.Equal(t, "FREQ=HOURLY;INTERVAL=2", wurm.GetProperty(ical.ComponentPropertyRrule).Value)

	out := cal.Serialize()
	assert.Contains(t, out, "METHOD:PUBLISH")
	assert.Contains(t, out, "X-WR-CALNAME:World Bosses")
}

func TestExportUIDsAreStable(t *testing.T) {
	wb := meta(t, "world_bosses")

	first := Export([]model.Meta{wb}, ExportOptions{Day: day}).Events()
	second := Export([]model.Meta{wb}, ExportOptions{Day: day.AddDate(0, 1, 0)}).Events()
	require.Len(t, second, len(first))

	seen := make(map[string]bool)
	for i := range first {
		assert.Equal(t, first[i].Id(), second[i].Id())
		assert.False(t, seen[first[i].Id()], "duplicate uid %s", first[i].Id())
		seen[first[i].Id()] = true
	}
}

func TestExportImportRoundTrip(t *testing.T) {
	for _, key := range []string{"world_bosses", "dry_top", "hard_world_bosses"} {
		t.Run(key, func(t *testing.T) {
			m := meta(t, key)

			var buf bytes.Buffer
			require.NoError(t, WriteCalendar(&buf, []model.Meta{m}, ExportOptions{Day: day}))

			got, err := ParseMeta(m.Key, m.Name, m.Category, buf.Bytes())
			require.NoError(t, err)
			assert.Equal(t, m, got)
		})
	}
}
