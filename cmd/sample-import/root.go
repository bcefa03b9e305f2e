package main

import (
	"context"
	"encoding/json"
	"io"
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/JonMunkholm/sampleuploader/internal/application"
	"github.com/JonMunkholm/sampleuploader/internal/config"
	"github.com/JonMunkholm/sampleuploader/internal/logging"
)

// globalFlags override the matching environment variables.
type globalFlags struct {
	envFile    string
	storeKind  string
	storeDSN   string
	formatsDir string
	mode       string
	serviceURL string
	logLevel   string
}

func (g *globalFlags) overrides() map[string]string {
	m := map[string]string{}
	set := func(key, val string) {
		if val != "" {
			m[key] = val
		}
	}
	set("STORE_DRIVER", g.storeKind)
	set("STORE_DSN", g.storeDSN)
	set("FORMATS_DIR", g.formatsDir)
	set("SAMPLE_SERVICE_MODE", g.mode)
	set("SAMPLE_SERVICE_URL", g.serviceURL)
	set("LOG_LEVEL", g.logLevel)
	return m
}

// loadConfig reads the environment, with flags taking precedence.
func (g *globalFlags) loadConfig(getenv func(string) string) (*config.Config, error) {
	over := g.overrides()
	return config.LoadFrom(func(key string) string {
		if v, ok := over[key]; ok {
			return v
		}
		return getenv(key)
	})
}

// open loads configuration and builds the application. Logs go to stderr
// so stdout stays machine-readable.
func (g *globalFlags) open(ctx context.Context, stderr io.Writer) (*application.App, error) {
	if g.envFile != "" {
		if err := godotenv.Load(g.envFile); err != nil {
			return nil, err
		}
	}
	cfg, err := g.loadConfig(os.Getenv)
	if err != nil {
		return nil, err
	}
	logging.SetupWriter(stderr, cfg.Logging.Level, cfg.Logging.Format)
	return application.New(ctx, cfg)
}

// NewRootCommand returns the sample-import command tree.
func NewRootCommand(stdin io.Reader, stdout, stderr io.Writer) *cobra.Command {
	g := &globalFlags{}
	rc := &cobra.Command{
		Use:   "sample-import",
		Short: "Import geoscience sample metadata from spreadsheets",
		Long: `
Reads a sample spreadsheet in one of the configured formats, normalizes its
columns and saves every row as a sample, versioning samples that already
exist. Configuration comes from the environment (see .env.example); the
flags below override it.
`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	pf := rc.PersistentFlags()
	pf.StringVar(&g.envFile, "env-file", "", "read environment variables from this file first")
	pf.StringVar(&g.storeKind, "store", "", "store driver: memory, postgres or sqlite")
	pf.StringVar(&g.storeDSN, "dsn", "", "postgres URL or sqlite file path")
	pf.StringVar(&g.formatsDir, "config-dir", "", "directory holding the format templates")
	pf.StringVar(&g.mode, "mode", "", "sample service mode: local or remote")
	pf.StringVar(&g.serviceURL, "service-url", "", "sample service URL for remote mode")
	pf.StringVar(&g.logLevel, "log-level", "", "debug, info, warn or error")

	rc.AddCommand(newRunCommand(g, stdout, stderr))
	rc.AddCommand(newFormatsCommand(g, stdout, stderr))
	rc.AddCommand(newBatchesCommand(g, stdout, stderr))

	rc.SetIn(stdin)
	rc.SetOut(stdout)
	rc.SetErr(stderr)
	return rc
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
