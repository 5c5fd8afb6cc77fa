package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"time"

	"metacal/internal/catalog"
	"metacal/internal/model"
)

// OutputFormatter handles JSON vs text output for CLI commands.
type OutputFormatter struct {
	Format string
	Writer io.Writer
}

// Emit writes v as indented JSON, or calls text for the text format.
func (f *OutputFormatter) Emit(v any, text func(w io.Writer) error) error {
	if f.Format == "json" {
		enc := json.NewEncoder(f.Writer)
		enc.SetIndent("", "  ")
		return enc.Encode(v)
	}
	return text(f.Writer)
}

// instanceView is the JSON shape of an engine occurrence. Start and End
// are clock strings relative to the reference day.
type instanceView struct {
	Name          string `json:"name"`
	Start         string `json:"start"`
	End           string `json:"end"`
	StartMinutes  int64  `json:"start_minutes"`
	LengthMinutes int64  `json:"length_minutes"`
}

func toInstanceView(inst model.EventInstance) instanceView {
	return instanceView{
		Name:          inst.Schedule.Name,
		Start:         model.FormatClock(inst.Start),
		End:           model.FormatClock(inst.End()),
		StartMinutes:  int64(inst.Start / time.Minute),
		LengthMinutes: int64(inst.Schedule.Length / time.Minute),
	}
}

type metaView struct {
	Key      string `json:"key"`
	Name     string `json:"name"`
	Category string `json:"category"`
	Events   int    `json:"events"`
}

// writeInstances prints one "HH:MM  Name" line per occurrence.
func writeInstances(w io.Writer, insts []model.EventInstance) error {
	for _, inst := range insts {
		if _, err := fmt.Fprintf(w, "%s  %s\n", model.FormatClock(inst.Start), inst.Schedule.Name); err != nil {
			return err
		}
	}
	return nil
}

// parseClock reads a --at value: "HH:MM" (or "HH:MM:SS") since UTC midnight.
func parseClock(s string) (time.Duration, error) {
	layout := "15:04"
	if strings.Count(s, ":") == 2 {
		layout = "15:04:05"
	}
	t, err := time.Parse(layout, s)
	if err != nil {
		return 0, fmt.Errorf("invalid time %q: want HH:MM", s)
	}
	return time.Duration(t.Hour())*time.Hour +
		time.Duration(t.Minute())*time.Minute +
		time.Duration(t.Second())*time.Second, nil
}

func lookupMeta(cat *catalog.Catalog, key string) (model.Meta, error) {
	m, ok := cat.Lookup(key)
	if !ok {
		return model.Meta{}, fmt.Errorf("%w: %s", catalog.ErrUnknownMeta, key)
	}
	return m, nil
}
