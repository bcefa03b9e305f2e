package main

import (
	"io"

	"github.com/spf13/cobra"

	"github.com/JonMunkholm/sampleuploader/internal/core"
)

func newBatchesCommand(g *globalFlags, stdout, stderr io.Writer) *cobra.Command {
	var (
		q      core.BatchQuery
		status string
	)
	cmd := &cobra.Command{
		Use:   "batches",
		Short: "Show import batch history, newest first",
		Args:  cobra.NoArgs,
		RunE: func(c *cobra.Command, _ []string) error {
			switch s := core.BatchStatus(status); s {
			case "", core.BatchSucceeded, core.BatchFailed:
				q.Status = s
			default:
				return &core.ParamError{Param: "status", Msg: "must be succeeded or failed"}
			}

			app, err := g.open(c.Context(), stderr)
			if err != nil {
				return err
			}
			defer app.Close()

			entries, err := app.Store.ListBatches(c.Context(), q)
			if err != nil {
				return err
			}
			return printJSON(stdout, entries)
		},
	}

	flags := cmd.Flags()
	flags.StringVar(&q.Format, "format", "", "only batches of this format")
	flags.StringVar(&q.Workspace, "workspace", "", "only batches for this workspace")
	flags.StringVar(&status, "status", "", "succeeded or failed")
	flags.IntVar(&q.Limit, "limit", core.DefaultHistoryLimit, "maximum entries")
	flags.IntVar(&q.Offset, "offset", 0, "entries to skip")
	return cmd
}
