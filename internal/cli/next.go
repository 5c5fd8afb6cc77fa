package cli

import (
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"

	"metacal/internal/meta"
	"metacal/internal/model"
	"metacal/internal/schedule"
)

const maxNext = 500

// NewNextCommand creates the next command.
func NewNextCommand(rootOpts *RootOptions) *cobra.Command {
	var (
		at    string
		count int
	)

	cmd := &cobra.Command{
		Use:   "next <meta>",
		Short: "Show the next occurrences of a meta",
		Long: `Show the next occurrences of a meta, strictly after the given
time of day (UTC). Without --at the current UTC time is used.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runNext(rootOpts, cmd, args[0], at, count)
		},
	}

	cmd.Flags().StringVar(&at, "at", "", "time of day in UTC (HH:MM)")
	cmd.Flags().IntVarP(&count, "count", "n", 0, "number of occurrences (default: config upcoming)")

	return cmd
}

type nextView struct {
	Meta        string         `json:"meta"`
	At          string         `json:"at"`
	Occurrences []instanceView `json:"occurrences"`
}

func runNext(opts *RootOptions, cmd *cobra.Command, key, at string, count int) error {
	cfg, cat, err := opts.load()
	if err != nil {
		return err
	}
	m, err := lookupMeta(cat, key)
	if err != nil {
		return err
	}
	if count == 0 {
		count = cfg.Upcoming
	}
	if count < 1 || count > maxNext {
		return fmt.Errorf("--count must be in 1..%d, got %d", maxNext, count)
	}

	cursor, err := cursorFor(at)
	if err != nil {
		return err
	}
	it, err := meta.New(m, cursor)
	if err != nil {
		return err
	}
	insts := it.Take(count)

	view := nextView{Meta: m.Key, At: model.FormatClock(cursor), Occurrences: make([]instanceView, 0, len(insts))}
	for _, inst := range insts {
		view.Occurrences = append(view.Occurrences, toInstanceView(inst))
	}
	return opts.formatter(cmd).Emit(view, func(w io.Writer) error {
		return writeInstances(w, insts)
	})
}

// NewNowCommand creates the now command.
func NewNowCommand(rootOpts *RootOptions) *cobra.Command {
	var at string

	cmd := &cobra.Command{
		Use:   "now <meta>",
		Short: "Show the event of a meta active at a time of day",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runNow(rootOpts, cmd, args[0], at)
		},
	}

	cmd.Flags().StringVar(&at, "at", "", "time of day in UTC (HH:MM)")

	return cmd
}

type nowView struct {
	Meta   string        `json:"meta"`
	At     string        `json:"at"`
	Active *instanceView `json:"active"`
}

func runNow(opts *RootOptions, cmd *cobra.Command, key, at string) error {
	_, cat, err := opts.load()
	if err != nil {
		return err
	}
	m, err := lookupMeta(cat, key)
	if err != nil {
		return err
	}
	cursor, err := cursorFor(at)
	if err != nil {
		return err
	}
	it, err := meta.New(m, cursor)
	if err != nil {
		return err
	}

	view := nowView{Meta: m.Key, At: model.FormatClock(cursor)}
	active, ok := it.Now().Get()
	if ok {
		v := toInstanceView(active)
		view.Active = &v
	}
	return opts.formatter(cmd).Emit(view, func(w io.Writer) error {
		if !ok {
			_, err := fmt.Fprintln(w, "nothing active")
			return err
		}
		_, err := fmt.Fprintf(w, "%s  %s (until %s)\n",
			model.FormatClock(active.Start), active.Schedule.Name, model.FormatClock(active.End()))
		return err
	})
}

// cursorFor parses --at, or reads the current UTC time of day.
func cursorFor(at string) (time.Duration, error) {
	if at == "" {
		return schedule.TimeOfDay(now()), nil
	}
	return parseClock(at)
}
