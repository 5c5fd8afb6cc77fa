// Package cli wires the metacal commands onto cobra.
package cli

import (
	"fmt"
	"slices"
	"time"

	"github.com/spf13/cobra"

	"metacal/internal/catalog"
	"metacal/internal/config"
	appLog "metacal/internal/log"
)

// RootOptions holds global flags for all commands.
type RootOptions struct {
	ConfigPath string
	LogLevel   string
	Format     string // "json" | "text"
}

// ValidFormats defines the allowed output formats.
var ValidFormats = []string{"text", "json"}

// now is the clock used when --at is not given.
var now = time.Now

// NewRootCommand creates the root command for the metacal CLI.
func NewRootCommand() *cobra.Command {
	opts := &RootOptions{}

	cmd := &cobra.Command{
		Use:   "metacal",
		Short: "metacal - periodic meta event schedules",
		Long: `Compute when recurring meta events happen on the 24-hour UTC cycle.

Schedules repeat every frequency starting at an offset from UTC midnight.
Metas group schedules into one timeline that can be listed, exported as
iCalendar, served over HTTP or watched on a cron schedule.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if !slices.Contains(ValidFormats, opts.Format) {
				return fmt.Errorf("invalid format %q: must be one of %v", opts.Format, ValidFormats)
			}
			if opts.LogLevel != "" {
				level, err := appLog.ParseLevel(opts.LogLevel)
				if err != nil {
					return err
				}
				appLog.SetLevel(level)
			}
			return nil
		},
	}

	cmd.PersistentFlags().StringVar(&opts.ConfigPath, "config", "", "path to config file (empty: built-in defaults)")
	cmd.PersistentFlags().StringVar(&opts.LogLevel, "log-level", "", "log level (debug|info|warn|error), overrides config")
	cmd.PersistentFlags().StringVar(&opts.Format, "format", "text", "output format (json|text)")

	cmd.AddCommand(NewListCommand(opts))
	cmd.AddCommand(NewNextCommand(opts))
	cmd.AddCommand(NewNowCommand(opts))
	cmd.AddCommand(NewICSCommand(opts))
	cmd.AddCommand(NewImportCommand(opts))
	cmd.AddCommand(NewServeCommand(opts))
	cmd.AddCommand(NewWatchCommand(opts))

	return cmd
}

// loadConfig reads the config file, or returns defaults when no path is
// set. The config log level applies unless --log-level was given.
func (o *RootOptions) loadConfig() (*config.Config, error) {
	cfg := config.DefaultConfig()
	if o.ConfigPath != "" {
		loaded, err := config.Load(o.ConfigPath)
		if err != nil {
			return nil, fmt.Errorf("load config: %w", err)
		}
		cfg = loaded
	}
	if o.LogLevel == "" {
		level, err := appLog.ParseLevel(cfg.LogLevel)
		if err != nil {
			appLog.Warn("ignoring invalid config log level", "log_level", cfg.LogLevel)
		} else {
			appLog.SetLevel(level)
		}
	}
	return cfg, nil
}

// load returns the config and the catalog it points at.
func (o *RootOptions) load() (*config.Config, *catalog.Catalog, error) {
	cfg, err := o.loadConfig()
	if err != nil {
		return nil, nil, err
	}
	cat, err := catalog.Load(cfg.Catalog)
	if err != nil {
		return nil, nil, err
	}
	appLog.Debug("catalog loaded", "path", cfg.Catalog, "metas", cat.Len())
	return cfg, cat, nil
}

func (o *RootOptions) formatter(cmd *cobra.Command) *OutputFormatter {
	return &OutputFormatter{Format: o.Format, Writer: cmd.OutOrStdout()}
}
