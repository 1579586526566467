package main

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"quill/internal/analysis"
	"quill/internal/config"
	"quill/internal/feature"
	"quill/internal/logx"
	"quill/internal/modules/nolint"
	"quill/internal/modules/trimspace"
)

var errUnknownModule = errors.New("unknown module")

// catalog maps module names accepted in [modules].enabled to constructors.
var catalog = map[string]func(cfg config.Config, log zerolog.Logger) feature.Module{
	nolint.Name: func(cfg config.Config, log zerolog.Logger) feature.Module {
		return nolint.New(nolint.Options{
			Marker:     cfg.Modules.NoLint.Marker,
			Annotation: cfg.Modules.NoLint.Annotation,
		}, log)
	},
	trimspace.Name: func(_ config.Config, log zerolog.Logger) feature.Module {
		return trimspace.New(log)
	},
}

// app is the module host shared by every subcommand.
type app struct {
	cfg      config.Config
	log      zerolog.Logger
	metrics  *prometheus.Registry
	registry *feature.Registry
	engine   *analysis.Engine
	quiet    bool
	cleanup  []func()
}

type appKey struct{}

func withApp(ctx context.Context, a *app) context.Context {
	return context.WithValue(ctx, appKey{}, a)
}

func appFrom(ctx context.Context) (*app, error) {
	a, ok := ctx.Value(appKey{}).(*app)
	if !ok || a == nil {
		return nil, errors.New("module host is not initialized")
	}
	return a, nil
}

func (a *app) close() {
	for i := len(a.cleanup) - 1; i >= 0; i-- {
		a.cleanup[i]()
	}
	a.cleanup = nil
}

func newApp(cmd *cobra.Command) (*app, error) {
	flags := cmd.Root().PersistentFlags()
	cfgPath, err := flags.GetString("config")
	if err != nil {
		return nil, fmt.Errorf("failed to get config flag: %w", err)
	}
	logLevel, err := flags.GetString("log-level")
	if err != nil {
		return nil, fmt.Errorf("failed to get log-level flag: %w", err)
	}
	quiet, err := flags.GetBool("quiet")
	if err != nil {
		return nil, fmt.Errorf("failed to get quiet flag: %w", err)
	}

	wd, err := os.Getwd()
	if err != nil {
		return nil, fmt.Errorf("failed to get working directory: %w", err)
	}
	cfg, err := config.Resolve(cfgPath, wd)
	if err != nil {
		return nil, err
	}
	switch {
	case logLevel != "":
		cfg.Log.Level = logLevel
	case quiet:
		cfg.Log.Level = "warn"
	}

	log, err := logx.New(os.Stderr, logx.Options{
		Level:   cfg.Log.Level,
		JSON:    cfg.Log.Format == "json",
		NoColor: !isTerminal(os.Stderr),
		App:     "quill",
	})
	if err != nil {
		return nil, err
	}
	if cfg.Path != "" {
		log.Debug().Str("path", cfg.Path).Msg("configuration loaded")
	}

	reg := prometheus.NewRegistry()
	registry := feature.NewRegistry(
		feature.WithLogger(log),
		feature.WithMetrics(feature.NewMetrics(reg)),
	)
	// Rejected modules are reported and skipped; the host keeps running
	// with the rest.
	if err := registry.RegisterAll(buildModules(cfg, log)...); err != nil {
		log.Warn().Err(err).Msg("some modules were not installed")
	}
	registry.Seal()

	engine := analysis.NewEngine(analysis.Options{
		MaxLineLength:  cfg.Analysis.MaxLineLength,
		MaxDiagnostics: cfg.Analysis.MaxDiagnostics,
		SuppressMarker: cfg.Modules.NoLint.Marker,
		CacheSalt:      registry.Fingerprint(),
	}, openCache(cfg, log), log)

	return &app{
		cfg:      cfg,
		log:      log,
		metrics:  reg,
		registry: registry,
		engine:   engine,
		quiet:    quiet,
	}, nil
}

func buildModules(cfg config.Config, log zerolog.Logger) []feature.Module {
	mods := make([]feature.Module, 0, len(cfg.Modules.Enabled))
	for _, name := range cfg.Modules.Enabled {
		ctor, ok := catalog[name]
		if !ok {
			log.Error().Err(&feature.ConfigError{Module: name, Err: errUnknownModule}).Msg("module skipped")
			continue
		}
		mods = append(mods, ctor(cfg, log))
	}
	return mods
}

func openCache(cfg config.Config, log zerolog.Logger) *analysis.PreambleCache {
	if cfg.Analysis.NoCache {
		return analysis.NewMemoryCache()
	}
	cache, err := analysis.OpenPreambleCache(cfg.Analysis.CacheDir)
	if err != nil {
		log.Warn().Err(err).Msg("preamble cache unavailable, keeping it in memory")
		return analysis.NewMemoryCache()
	}
	return cache
}
