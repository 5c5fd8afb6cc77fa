// Package watch re-evaluates a set of metas on a cron schedule and logs
// when their events start and end.
package watch

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	appLog "metacal/internal/log"
	"metacal/internal/model"
	"metacal/internal/timeline"
)

// parser accepts standard 5-field expressions and descriptors such as
// "@hourly" or "@every 30s".
var parser = cron.NewParser(
	cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor,
)

// Option configures a Watcher.
type Option func(*Watcher)

// WithUpcoming sets how many upcoming occurrences each status carries.
func WithUpcoming(n int) Option {
	return func(w *Watcher) {
		if n > 0 {
			w.upcoming = n
		}
	}
}

// WithClock replaces time.Now, mainly for tests.
func WithClock(now func() time.Time) Option {
	return func(w *Watcher) {
		if now != nil {
			w.clock = now
		}
	}
}

// WithNotify registers a hook called with every status on each tick.
func WithNotify(fn func(timeline.Status)) Option {
	return func(w *Watcher) {
		w.notify = fn
	}
}

// Watcher tracks the active event of each meta between ticks.
type Watcher struct {
	spec     string
	schedule cron.Schedule
	metas    []model.Meta

	upcoming int
	clock    func() time.Time
	notify   func(timeline.Status)

	mu     sync.Mutex
	active map[string]model.Occurrence
}

// New validates spec and metas and returns an idle Watcher.
func New(spec string, metas []model.Meta, opts ...Option) (*Watcher, error) {
	sched, err := parser.Parse(spec)
	if err != nil {
		return nil, fmt.Errorf("watch schedule %q: %w", spec, err)
	}
	if len(metas) == 0 {
		return nil, errors.New("watch: no metas selected")
	}
	for _, m := range metas {
		if err := m.Validate(); err != nil {
			return nil, err
		}
	}

	w := &Watcher{
		spec:     spec,
		schedule: sched,
		metas:    metas,
		upcoming: 1,
		clock:    time.Now,
		active:   make(map[string]model.Occurrence),
	}
	for _, opt := range opts {
		opt(w)
	}
	return w, nil
}

// NextRun returns the first scheduled tick after t.
func (w *Watcher) NextRun(t time.Time) time.Time {
	return w.schedule.Next(t)
}

// Tick evaluates every meta at now and logs start/end transitions
// relative to the previous tick.
func (w *Watcher) Tick(now time.Time) []timeline.Status {
	w.mu.Lock()
	defer w.mu.Unlock()

	statuses := make([]timeline.Status, 0, len(w.metas))
	for _, m := range w.metas {
		st, err := timeline.StatusAt(m, now, w.upcoming)
		if err != nil {
			appLog.Error("watch: status failed", err, "meta", m.Key)
			continue
		}
		w.transition(m, st)
		if w.notify != nil {
			w.notify(st)
		}
		statuses = append(statuses, st)
	}
	return statuses
}

func (w *Watcher) transition(m model.Meta, st timeline.Status) {
	prev, hadPrev := w.active[m.Key]
	cur, hasCur := st.Active.Get()

	if hadPrev && (!hasCur || !sameOccurrence(prev, cur)) {
		appLog.Info("meta event ended", "meta", m.Key, "event", prev.Name,
			"start", prev.Start.Format(time.RFC3339))
		delete(w.active, m.Key)
	}
	if hasCur && (!hadPrev || !sameOccurrence(prev, cur)) {
		appLog.Info("meta event started", "meta", m.Key, "event", cur.Name,
			"start", cur.Start.Format(time.RFC3339), "end", cur.End.Format(time.RFC3339))
		w.active[m.Key] = cur
	}
}

func sameOccurrence(a, b model.Occurrence) bool {
	return a.Name == b.Name && a.Start.Equal(b.Start)
}

// Run ticks once immediately and then on the cron schedule until ctx is
// cancelled. It waits for a running tick before returning.
func (w *Watcher) Run(ctx context.Context) error {
	c := cron.New(cron.WithParser(parser), cron.WithLocation(time.UTC))
	if _, err := c.AddFunc(w.spec, func() { w.Tick(w.clock()) }); err != nil {
		return fmt.Errorf("watch schedule %q: %w", w.spec, err)
	}

	now := w.clock()
	appLog.Info("watch started", "schedule", w.spec, "metas", len(w.metas),
		"next_run", w.NextRun(now).UTC().Format(time.RFC3339))
	w.Tick(now)

	c.Start()
	<-ctx.Done()
	<-c.Stop().Done()

	appLog.Info("watch stopped")
	return nil
}
