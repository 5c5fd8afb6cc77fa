// Package catalog loads the static meta catalog: the named groups of
// recurring events and their timings. The engines consume it read-only.
package catalog

import (
	"bytes"
	_ "embed"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	appLog "metacal/internal/log"
	"metacal/internal/model"
)

//go:embed catalog.yaml
var builtin []byte

var (
	// ErrUnknownMeta is returned by Select for keys missing from the catalog.
	ErrUnknownMeta = errors.New("unknown meta")
	// ErrDuplicateKey rejects a catalog that registers a key twice.
	ErrDuplicateKey = errors.New("duplicate meta key")
)

// Document is the on-disk YAML layout.
type Document struct {
	Metas []MetaEntry `yaml:"metas"`
}

// MetaEntry is one meta and its events as written in the YAML file.
type MetaEntry struct {
	Key      string       `yaml:"key"`
	Name     string       `yaml:"name"`
	Category string       `yaml:"category"`
	Events   []EventEntry `yaml:"events"`
}

// EventEntry keeps timings as text: Offset is "HH:MM" (or a Go duration),
// Frequency and Length are Go durations such as "2h" or "15m".
type EventEntry struct {
	Name      string `yaml:"name"`
	Offset    string `yaml:"offset"`
	Frequency string `yaml:"frequency"`
	Length    string `yaml:"length"`
}

// Catalog is an immutable, validated set of metas.
type Catalog struct {
	metas []model.Meta
	byKey map[string]int
}

// Default returns the built-in catalog.
func Default() (*Catalog, error) {
	return Parse(builtin)
}

// Load reads a catalog file; an empty path selects the built-in catalog.
func Load(path string) (*Catalog, error) {
	if path == "" {
		return Default()
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read catalog: %w", err)
	}
	c, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("catalog %s: %w", path, err)
	}
	appLog.Debug("catalog: loaded", "path", path, "metas", c.Len())
	return c, nil
}

// Parse decodes and validates a YAML catalog. Any invalid entry rejects
// the whole document.
func Parse(data []byte) (*Catalog, error) {
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)

	var doc Document
	if err := dec.Decode(&doc); err != nil {
		return nil, fmt.Errorf("decode catalog: %w", err)
	}

	metas := make([]model.Meta, 0, len(doc.Metas))
	for _, entry := range doc.Metas {
		m, err := entry.toMeta()
		if err != nil {
			return nil, err
		}
		metas = append(metas, m)
	}
	return New(metas)
}

// New builds a catalog from already-constructed metas.
func New(metas []model.Meta) (*Catalog, error) {
	c := &Catalog{
		metas: make([]model.Meta, 0, len(metas)),
		byKey: make(map[string]int, len(metas)),
	}
	for _, m := range metas {
		if err := m.Validate(); err != nil {
			return nil, err
		}
		if _, dup := c.byKey[m.Key]; dup {
			return nil, fmt.Errorf("%w: %s", ErrDuplicateKey, m.Key)
		}
		c.byKey[m.Key] = len(c.metas)
		c.metas = append(c.metas, m)
	}
	return c, nil
}

// Lookup returns the meta registered under key.
func (c *Catalog) Lookup(key string) (model.Meta, bool) {
	i, ok := c.byKey[key]
	if !ok {
		return model.Meta{}, false
	}
	return c.metas[i], true
}

// Select resolves keys in order. An empty list selects every meta.
func (c *Catalog) Select(keys []string) ([]model.Meta, error) {
	if len(keys) == 0 {
		return c.Metas(), nil
	}
	out := make([]model.Meta, 0, len(keys))
	var unknown []string
	for _, k := range keys {
		m, ok := c.Lookup(k)
		if !ok {
			unknown = append(unknown, k)
			continue
		}
		out = append(out, m)
	}
	if len(unknown) > 0 {
		return nil, fmt.Errorf("%w: %s", ErrUnknownMeta, strings.Join(unknown, ", "))
	}
	return out, nil
}

// Metas returns every meta in document order.
func (c *Catalog) Metas() []model.Meta {
	out := make([]model.Meta, len(c.metas))
	copy(out, c.metas)
	return out
}

// Keys returns every key in document order.
func (c *Catalog) Keys() []string {
	keys := make([]string, len(c.metas))
	for i, m := range c.metas {
		keys[i] = m.Key
	}
	return keys
}

// Len returns the number of metas.
func (c *Catalog) Len() int {
	return len(c.metas)
}

// MarshalMetas renders metas in the catalog YAML layout.
func MarshalMetas(metas []model.Meta) ([]byte, error) {
	doc := Document{Metas: make([]MetaEntry, 0, len(metas))}
	for _, m := range metas {
		entry := MetaEntry{Key: m.Key, Name: m.Name, Category: m.Category}
		for _, s := range m.Schedules {
			entry.Events = append(entry.Events, EventEntry{
				Name:      s.Name,
				Offset:    formatOffset(s.Offset),
				Frequency: formatDuration(s.Frequency),
				Length:    formatDuration(s.Length),
			})
		}
		doc.Metas = append(doc.Metas, entry)
	}
	return yaml.Marshal(doc)
}

func (e MetaEntry) toMeta() (model.Meta, error) {
	m := model.Meta{Key: e.Key, Name: e.Name, Category: e.Category}
	for i, ev := range e.Events {
		s, err := ev.toSchedule()
		if err != nil {
			return model.Meta{}, fmt.Errorf("meta %s: event %d (%s): %w", e.Key, i, ev.Name, err)
		}
		m.Schedules = append(m.Schedules, s)
	}
	return m, nil
}

func (e EventEntry) toSchedule() (model.EventSchedule, error) {
	offset, err := parseOffset(e.Offset)
	if err != nil {
		return model.EventSchedule{}, err
	}
	freq, err := time.ParseDuration(e.Frequency)
	if err != nil {
		return model.EventSchedule{}, fmt.Errorf("frequency: %w", err)
	}
	length, err := time.ParseDuration(e.Length)
	if err != nil {
		return model.EventSchedule{}, fmt.Errorf("length: %w", err)
	}
	return model.EventSchedule{Name: e.Name, Offset: offset, Frequency: freq, Length: length}, nil
}

func parseOffset(s string) (time.Duration, error) {
	s = strings.TrimSpace(s)
	if !strings.Contains(s, ":") {
		d, err := time.ParseDuration(s)
		if err != nil {
			return 0, fmt.Errorf("offset: %w", err)
		}
		return d, nil
	}
	t, err := time.Parse("15:04", s)
	if err != nil {
		return 0, fmt.Errorf("offset %q: want HH:MM", s)
	}
	return time.Duration(t.Hour())*time.Hour + time.Duration(t.Minute())*time.Minute, nil
}

// formatOffset writes time-of-day offsets as HH:MM and anything past a
// day as a duration.
func formatOffset(d time.Duration) string {
	if d >= 0 && d < 24*time.Hour && d%time.Minute == 0 {
		return model.FormatClock(d)
	}
	return formatDuration(d)
}

func formatDuration(d time.Duration) string {
	switch {
	case d%time.Hour == 0:
		return fmt.Sprintf("%dh", d/time.Hour)
	case d%time.Minute == 0:
		return fmt.Sprintf("%dm", d/time.Minute)
	}
	return d.String()
}
