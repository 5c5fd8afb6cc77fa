package cli

import (
	"fmt"
	"io"
	"text/tabwriter"

	"github.com/spf13/cobra"
)

// NewListCommand creates the list command.
func NewListCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List the metas in the catalog",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runList(rootOpts, cmd)
		},
	}
}

func runList(opts *RootOptions, cmd *cobra.Command) error {
	_, cat, err := opts.load()
	if err != nil {
		return err
	}

	metas := cat.Metas()
	views := make([]metaView, 0, len(metas))
	for _, m := range metas {
		views = append(views, metaView{Key: m.Key, Name: m.Name, Category: m.Category, Events: len(m.Schedules)})
	}

	return opts.formatter(cmd).Emit(views, func(w io.Writer) error {
		tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
		for _, v := range views {
			fmt.Fprintf(tw, "%s\t%s\t%s\t%d\n", v.Key, v.Name, v.Category, v.Events)
		}
		return tw.Flush()
	})
}
