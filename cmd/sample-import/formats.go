package main

import (
	"fmt"
	"io"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"
)

func newFormatsCommand(g *globalFlags, stdout, stderr io.Writer) *cobra.Command {
	return &cobra.Command{
		Use:   "formats",
		Short: "List the configured file formats",
		Args:  cobra.NoArgs,
		RunE: func(c *cobra.Command, _ []string) error {
			app, err := g.open(c.Context(), stderr)
			if err != nil {
				return err
			}
			defer app.Close()

			tw := tabwriter.NewWriter(stdout, 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "FORMAT\tCOLUMNS\tDATE COLUMNS")
			for _, name := range app.Formats.Names() {
				spec, _ := app.Formats.Get(name)
				fmt.Fprintf(tw, "%s\t%d\t%s\n", spec.Name, len(spec.Columns), strings.Join(spec.DateColumns, ","))
			}
			return tw.Flush()
		},
	}
}
