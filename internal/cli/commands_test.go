package cli

import (
	"encoding/json"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"testing"
	"time"

	"github.com/sebdah/goldie/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"metacal/internal/catalog"
	"metacal/internal/config"
)

func golden(t *testing.T) *goldie.Goldie {
	t.Helper()
	return goldie.New(t,
		goldie.WithFixtureDir("testdata/golden"),
		goldie.WithNameSuffix(".golden"),
	)
}

func freezeClock(t *testing.T, at time.Time) {
	t.Helper()
	prev := now
	now = func() time.Time { return at }
	t.Cleanup(func() { now = prev })
}

func TestNextGolden(t *testing.T) {
	out, err := execute(t, "next", "world_bosses", "--at", "08:41", "-n", "5")
	require.NoError(t, err)
	golden(t).Assert(t, "next_world_bosses", []byte(out))

	out, err = execute(t, "next", "world_bosses", "--at", "23:50", "-n", "2")
	require.NoError(t, err)
	golden(t).Assert(t, "next_world_bosses_rollover", []byte(out))
}

func TestNextUsesClockAndConfigDefault(t *testing.T) {
	freezeClock(t, time.Date(2024, 3, 1, 8, 41, 30, 0, time.UTC))

	out, err := execute(t, "next", "world_bosses")
	require.NoError(t, err)
	lines := strings.Split(strings.TrimSpace(out), "\n")
	assert.Len(t, lines, config.DefaultConfig().Upcoming)
	assert.Equal(t, "08:45  Fire Elemental", lines[0])
}

func TestNextJSON(t *testing.T) {
	out, err := execute(t, "--format", "json", "next", "dry_top", "--at", "10:50", "-n", "2")
	require.NoError(t, err)

	var view nextView
	require.NoError(t, json.Unmarshal([]byte(out), &view))
	assert.Equal(t, "dry_top", view.Meta)
	assert.Equal(t, "10:50", view.At)
	assert.Equal(t, []instanceView{
		{Name: "Crash Site", Start: "11:00", End: "11:40", StartMinutes: 660, LengthMinutes: 40},
		{Name: "Sandstorm", Start: "11:40", End: "12:00", StartMinutes: 700, LengthMinutes: 20},
	}, view.Occurrences)
}

func TestNextErrors(t *testing.T) {
	_, err := execute(t, "next", "atlantis")
	assert.ErrorIs(t, err, catalog.ErrUnknownMeta)

	_, err = execute(t, "next", "world_bosses", "-n", "501")
	assert.Error(t, err)

	_, err = execute(t, "next", "world_bosses", "--at", "25:00")
	assert.Error(t, err)

	_, err = execute(t, "next")
	assert.Error(t, err)
}

func TestNow(t *testing.T) {
	out, err := execute(t, "now", "world_bosses", "--at", "08:50")
	require.NoError(t, err)
	assert.Equal(t, "08:45  Fire Elemental (until 09:00)\n", out)

	out, err = execute(t, "now", "hard_world_bosses", "--at", "00:45")
	require.NoError(t, err)
	assert.Equal(t, "nothing active\n", out)

	out, err = execute(t, "--format", "json", "now", "hard_world_bosses", "--at", "00:45")
	require.NoError(t, err)
	var view nowView
	require.NoError(t, json.Unmarshal([]byte(out), &view))
	assert.Nil(t, view.Active)
}

func TestList(t *testing.T) {
	out, err := execute(t, "list")
	require.NoError(t, err)
	lines := strings.Split(strings.TrimSpace(out), "\n")
	require.Len(t, lines, 27)
	assert.True(t, strings.HasPrefix(lines[0], "day_and_night"))
	assert.Contains(t, out, "World Bosses")

	out, err = execute(t, "--format", "json", "list")
	require.NoError(t, err)
	var views []metaView
	require.NoError(t, json.Unmarshal([]byte(out), &views))
	require.Len(t, views, 27)
	assert.Equal(t, metaView{Key: "dry_top", Name: "Dry Top", Category: "living_world_season2", Events: 2},
		views[slices.IndexFunc(views, func(v metaView) bool { return v.Key == "dry_top" })])
}

func TestListWithConfigCatalog(t *testing.T) {
	dir := t.TempDir()
	catPath := filepath.Join(dir, "catalog.yaml")
	require.NoError(t, os.WriteFile(catPath, []byte(`
metas:
  - key: standup
    name: Standup
    category: work
    events:
      - { name: Daily, offset: "09:30", frequency: 24h, length: 15m }
`), 0o600))

	cfg := config.DefaultConfig()
	cfg.Catalog = catPath
	cfgPath := filepath.Join(dir, "config.yaml")
	require.NoError(t, cfg.Save(cfgPath))

	out, err := execute(t, "--config", cfgPath, "list")
	require.NoError(t, err)
	assert.Equal(t, 1, strings.Count(out, "\n"))
	assert.Contains(t, out, "standup")

	out, err = execute(t, "--config", cfgPath, "next", "standup", "--at", "10:00", "-n", "1")
	require.NoError(t, err)
	assert.Equal(t, "09:30 (+1d)  Daily\n", out)
}

func TestICSExport(t *testing.T) {
	out, err := execute(t, "ics", "dry_top", "--date", "2024-03-01")
	require.NoError(t, err)
	assert.Contains(t, out, "BEGIN:VCALENDAR")
	assert.Contains(t, out, "DTSTART:20240301T004000Z")
	assert.Contains(t, out, "X-WR-CALNAME:Dry Top")

	path := filepath.Join(t.TempDir(), "metas.ics")
	out, err = execute(t, "ics", "-o", path, "--date", "2024-03-01", "dry_top", "world_bosses")
	require.NoError(t, err)
	assert.Empty(t, out)

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, 12, strings.Count(string(data), "BEGIN:VEVENT"))

	_, err = execute(t, "ics", "--date", "March", "dry_top")
	assert.Error(t, err)

	_, err = execute(t, "ics", "atlantis")
	assert.ErrorIs(t, err, catalog.ErrUnknownMeta)
}

func TestImport(t *testing.T) {
	out, err := execute(t, "import", "testdata/tangled_depths.ics",
		"--key", "tangled_depths", "--name", "Tangled Depths", "--category", "heart_of_thorns")
	require.NoError(t, err)

	cat, err := catalog.Parse([]byte(out))
	require.NoError(t, err)
	m, ok := cat.Lookup("tangled_depths")
	require.True(t, ok)
	assert.Equal(t, "Tangled Depths", m.Name)
	require.Len(t, m.Schedules, 2)
	assert.Equal(t, "Chak Gerent", m.Schedules[0].Name)
	assert.Equal(t, 30*time.Minute, m.Schedules[0].Offset)
	assert.Equal(t, 2*time.Hour, m.Schedules[1].Frequency)

	_, err = execute(t, "import", "testdata/tangled_depths.ics")
	assert.Error(t, err)

	_, err = execute(t, "import", "testdata/missing.ics", "--key", "x")
	assert.Error(t, err)
}
