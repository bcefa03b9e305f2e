package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/JonMunkholm/sampleuploader/internal/core"
)

type runFlags struct {
	file        string
	workspace   string
	format      string
	headerRow   int
	description string
	existingSet string
	existing    string
	setName     string
	token       string
}

func newRunCommand(g *globalFlags, stdout, stderr io.Writer) *cobra.Command {
	f := &runFlags{}
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Import one sample file",
		Long: `
Imports every row of a sample file and prints the batch result as JSON.
Rows that match an existing sample by name are saved as a new version only
when their metadata changed.
`,
		Args: cobra.NoArgs,
		RunE: func(c *cobra.Command, _ []string) error {
			p, err := f.params(c)
			if err != nil {
				return err
			}

			ctx := c.Context()
			if f.token != "" {
				ctx = core.ContextWithToken(ctx, f.token)
			}
			app, err := g.open(ctx, stderr)
			if err != nil {
				return err
			}
			defer app.Close()

			res, err := app.Run(ctx, p)
			if err != nil {
				return fmt.Errorf("%s\n%w", core.FormatUserError(err), err)
			}
			return printJSON(stdout, res)
		},
	}

	flags := cmd.Flags()
	flags.StringVarP(&f.file, "file", "f", "", "sample file (csv, tsv, xls or xlsx)")
	flags.StringVarP(&f.workspace, "workspace", "w", "", "workspace the samples belong to")
	flags.StringVar(&f.format, "format", "", "file format name, see the formats command")
	flags.IntVar(&f.headerRow, "header-row", 0, "0-based row holding the column headers")
	flags.StringVar(&f.description, "description", "", "description stored with every sample")
	flags.StringVar(&f.existingSet, "existing-set", "", "reference of a saved sample set to version against")
	flags.StringVar(&f.existing, "existing", "", "JSON file holding existing samples to version against")
	flags.StringVar(&f.setName, "set-name", "", "save the result as a sample set with this name")
	flags.StringVar(&f.token, "token", "", "sample service token for this run")
	_ = cmd.MarkFlagRequired("file")
	_ = cmd.MarkFlagRequired("workspace")
	_ = cmd.MarkFlagRequired("format")
	return cmd
}

func (f *runFlags) params(c *cobra.Command) (core.Params, error) {
	p := core.Params{
		SampleFile:    f.file,
		WorkspaceName: f.workspace,
		FileFormat:    f.format,
		Description:   f.description,
		SampleSetRef:  f.existingSet,
		SetName:       f.setName,
	}
	if c.Flags().Changed("header-row") {
		row := f.headerRow
		p.HeaderRowIndex = &row
	}
	if f.existing != "" {
		raw, err := os.ReadFile(f.existing)
		if err != nil {
			return p, err
		}
		if err := json.Unmarshal(raw, &p.ExistingSamples); err != nil {
			return p, fmt.Errorf("read %s: %w", f.existing, err)
		}
	}
	return p, nil
}
