// Package application assembles the importer and its collaborators from
// configuration. Both the HTTP server and the command-line tool start here.
package application

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/JonMunkholm/sampleuploader/internal/config"
	"github.com/JonMunkholm/sampleuploader/internal/core"
	"github.com/JonMunkholm/sampleuploader/internal/metrics"
	"github.com/JonMunkholm/sampleuploader/internal/sampleservice"
	"github.com/JonMunkholm/sampleuploader/internal/schema"
	"github.com/JonMunkholm/sampleuploader/internal/staging"
	"github.com/JonMunkholm/sampleuploader/internal/store"
	"github.com/JonMunkholm/sampleuploader/internal/web"
)

// App holds everything a batch needs.
type App struct {
	Config   *config.Config
	Store    store.Store
	Service  core.SampleService
	Remote   *sampleservice.Client // nil in local mode
	Formats  *schema.Registry
	Stager   *staging.Resolver
	Importer *core.Importer
	Limiter  *core.BatchLimiter
}

// New opens the store, loads the format templates and builds the importer.
// The caller must Close the returned App.
func New(ctx context.Context, cfg *config.Config) (*App, error) {
	st, err := store.Open(ctx, store.Config{
		Driver:          cfg.Store.Driver,
		DSN:             cfg.Store.DSN,
		MaxConns:        int32(cfg.Store.MaxConns),
		MinConns:        int32(cfg.Store.MinConns),
		MaxConnLifetime: cfg.Store.MaxConnLifetime,
		MaxConnIdleTime: cfg.Store.MaxConnIdleTime,
	})
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}
	slog.Info("store opened", "driver", cfg.Store.Driver)

	app := &App{Config: cfg, Store: st, Service: st}
	if err := app.init(ctx); err != nil {
		_ = st.Close()
		return nil, err
	}
	return app, nil
}

func (a *App) init(ctx context.Context) error {
	cfg := a.Config

	if cfg.Service.Mode == config.ServiceRemote {
		a.Remote = sampleservice.New(cfg.Service.URL, cfg.Service.Token, cfg.Service.Timeout)
		a.Service = a.Remote
		slog.Info("using remote sample service", "url", cfg.Service.URL)
	}

	fetcher := schema.NewFetcher(
		cfg.Formats.Dir,
		cfg.Formats.DirectURL,
		cfg.Formats.ReleaseURL,
		cfg.Formats.GitHubToken,
		cfg.Formats.FetchTimeout,
	)
	formats, err := schema.LoadRegistry(ctx, fetcher, cfg.Formats.FormatFiles())
	if err != nil {
		return fmt.Errorf("load formats: %w", err)
	}
	onto, err := schema.LoadOntologies(ctx, fetcher, cfg.Formats.OntologyFile)
	if err != nil {
		return fmt.Errorf("load ontologies: %w", err)
	}
	unitRe, err := cfg.Formats.CompileUnitRegex()
	if err != nil {
		return fmt.Errorf("unit regex: %w", err)
	}
	a.Formats = formats
	slog.Info("formats loaded", "formats", formats.Names(), "ontologies", len(onto))

	a.Stager = &staging.Resolver{Dir: cfg.Upload.StagingDir}
	if cfg.Upload.S3Bucket != "" {
		client, err := staging.NewS3Client(ctx, staging.S3Config{
			Bucket:    cfg.Upload.S3Bucket,
			Region:    cfg.Upload.S3Region,
			Endpoint:  cfg.Upload.S3Endpoint,
			PathStyle: cfg.Upload.S3PathStyle,
		})
		if err != nil {
			return fmt.Errorf("staging bucket: %w", err)
		}
		a.Stager.S3 = client
		a.Stager.Bucket = cfg.Upload.S3Bucket
	}

	a.Limiter = core.NewBatchLimiter(cfg.Upload.MaxConcurrent, cfg.Upload.MaxWaitTime)
	a.Importer = &core.Importer{
		Formats:          formats,
		Service:          a.Service,
		Sets:             a.Store,
		History:          a.Store,
		Verifiers:        core.NewVerifierRegistry(onto),
		Stager:           a.Stager,
		UnitRegex:        unitRe,
		Observer:         metrics.Observer{},
		DefaultHeaderRow: cfg.Upload.DefaultHeaderRow,
	}
	return nil
}

// StartJanitor sweeps old staged uploads until ctx is cancelled.
func (a *App) StartJanitor(ctx context.Context) {
	a.Stager.StartJanitor(ctx, staging.JanitorConfig{
		MaxAge:        a.Config.Upload.StagingMaxAge,
		CheckInterval: a.Config.Upload.JanitorInterval,
	})
}

// ServerDeps returns the HTTP server's collaborators.
func (a *App) ServerDeps() web.Deps {
	health := map[string]web.HealthCheck{"store": a.Store.Ping}
	if a.Remote != nil {
		health["sample_service"] = a.Remote.Status
	}
	// HTTP callers only reach staged uploads and the staging bucket.
	uploads := a.Stager.Confine()
	im := *a.Importer
	im.Stager = uploads

	return web.Deps{
		Importer: &im,
		Limiter:  a.Limiter,
		Formats:  a.Formats,
		Sets:     a.Store,
		History:  a.Store,
		Uploads:  uploads,
		Health:   health,
	}
}

// Run executes one batch under the batch limiter and upload timeout.
func (a *App) Run(ctx context.Context, p core.Params) (*core.Result, error) {
	ctx, cancel := context.WithTimeout(ctx, a.Config.Upload.Timeout)
	defer cancel()

	var res *core.Result
	err := a.Limiter.Do(ctx, func(ctx context.Context) error {
		var err error
		res, err = a.Importer.Run(ctx, p)
		return err
	})
	return res, err
}

// Close releases the store.
func (a *App) Close() error {
	if a.Store == nil {
		return errors.New("application not initialized")
	}
	return a.Store.Close()
}
