package cli

import (
	"github.com/spf13/cobra"

	"metacal/internal/watch"
	"metacal/internal/web"
)

// NewServeCommand creates the serve command.
func NewServeCommand(rootOpts *RootOptions) *cobra.Command {
	var listen string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the HTTP API until interrupted",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, cat, err := rootOpts.load()
			if err != nil {
				return err
			}
			if listen != "" {
				cfg.Listen = listen
			}

			return web.StartServer(cmd.Context(), cfg, cat)
		},
	}

	cmd.Flags().StringVar(&listen, "listen", "", "HTTP listen address (overrides config if set)")

	return cmd
}

// NewWatchCommand creates the watch command.
func NewWatchCommand(rootOpts *RootOptions) *cobra.Command {
	var spec string

	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Log meta event transitions on a cron schedule until interrupted",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, cat, err := rootOpts.load()
			if err != nil {
				return err
			}
			if spec != "" {
				cfg.WatchCron = spec
			}
			metas, err := cat.Select(cfg.Metas)
			if err != nil {
				return err
			}

			w, err := watch.New(cfg.WatchCron, metas, watch.WithUpcoming(cfg.Upcoming))
			if err != nil {
				return err
			}

			return w.Run(cmd.Context())
		},
	}

	cmd.Flags().StringVar(&spec, "cron", "", "cron schedule (overrides config watch_cron)")

	return cmd
}
