package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"metacal/internal/catalog"
	"metacal/internal/ics"
	appLog "metacal/internal/log"
	"metacal/internal/model"
)

// NewICSCommand creates the ics command.
func NewICSCommand(rootOpts *RootOptions) *cobra.Command {
	var (
		output string
		date   string
	)

	cmd := &cobra.Command{
		Use:   "ics [meta...]",
		Short: "Export metas as an iCalendar file",
		Long: `Export metas as iCalendar with one recurring event per schedule.
Without arguments every meta in the catalog is exported.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runICS(rootOpts, cmd, args, output, date)
		},
	}

	cmd.Flags().StringVarP(&output, "output", "o", "", "output file (default: stdout)")
	cmd.Flags().StringVar(&date, "date", "", "anchor day YYYY-MM-DD (default: today, UTC)")

	return cmd
}

func runICS(opts *RootOptions, cmd *cobra.Command, keys []string, output, date string) error {
	_, cat, err := opts.load()
	if err != nil {
		return err
	}
	metas, err := cat.Select(keys)
	if err != nil {
		return err
	}

	day := now()
	if date != "" {
		day, err = time.Parse(time.DateOnly, date)
		if err != nil {
			return fmt.Errorf("invalid --date %q: want YYYY-MM-DD", date)
		}
	}

	exportOpts := ics.ExportOptions{Day: day, Name: calendarName(metas)}
	if output == "" {
		return ics.WriteCalendar(cmd.OutOrStdout(), metas, exportOpts)
	}

	f, err := os.Create(output)
	if err != nil {
		return err
	}
	if err := ics.WriteCalendar(f, metas, exportOpts); err != nil {
		f.Close()
		return err
	}
	if err := f.Close(); err != nil {
		return err
	}
	appLog.Info("calendar written", "path", output, "metas", len(metas))
	return nil
}

func calendarName(metas []model.Meta) string {
	if len(metas) == 1 {
		return metas[0].Name
	}
	return "Meta Events"
}

// NewImportCommand creates the import command.
func NewImportCommand(rootOpts *RootOptions) *cobra.Command {
	var key, name, category string

	cmd := &cobra.Command{
		Use:   "import <file.ics|url>",
		Short: "Convert an iCalendar file into a catalog entry",
		Long: `Read periodic events from an iCalendar file or http(s) URL and
print them as a catalog YAML document. Events that do not repeat on a
DAILY, HOURLY or MINUTELY rule are skipped.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runImport(cmd, args[0], key, name, category)
		},
	}

	cmd.Flags().StringVar(&key, "key", "", "catalog key of the new meta (required)")
	cmd.Flags().StringVar(&name, "name", "", "display name (default: key)")
	cmd.Flags().StringVar(&category, "category", "", "category")
	_ = cmd.MarkFlagRequired("key")

	return cmd
}

func runImport(cmd *cobra.Command, source, key, name, category string) error {
	if key == "" {
		return errors.New("--key must not be empty")
	}
	body, err := readSource(cmd.Context(), source)
	if err != nil {
		return err
	}

	m, err := ics.ParseMeta(key, name, category, body)
	if err != nil {
		return fmt.Errorf("import %s: %w", source, err)
	}
	data, err := catalog.MarshalMetas([]model.Meta{m})
	if err != nil {
		return err
	}
	_, err = cmd.OutOrStdout().Write(data)
	return err
}

func readSource(ctx context.Context, source string) ([]byte, error) {
	if strings.HasPrefix(source, "http://") || strings.HasPrefix(source, "https://") {
		if ctx == nil {
			ctx = context.Background()
		}
		return ics.NewFetcher(nil).Fetch(ctx, source)
	}
	if source == "-" {
		return io.ReadAll(os.Stdin)
	}
	return os.ReadFile(source)
}
