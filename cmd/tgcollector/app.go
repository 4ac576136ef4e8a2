package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/spf13/cobra"

	"github.com/MikeSquared-Agency/tgcollector/internal/collector"
	"github.com/MikeSquared-Agency/tgcollector/internal/config"
	"github.com/MikeSquared-Agency/tgcollector/internal/hermes"
	"github.com/MikeSquared-Agency/tgcollector/internal/logging"
	"github.com/MikeSquared-Agency/tgcollector/internal/pipeline"
	"github.com/MikeSquared-Agency/tgcollector/internal/selector"
	"github.com/MikeSquared-Agency/tgcollector/internal/store"
	"github.com/MikeSquared-Agency/tgcollector/internal/transport"
	"github.com/MikeSquared-Agency/tgcollector/internal/transport/webpreview"
)

// runFlags are shared by run and serve.
type runFlags struct {
	debug        bool
	dryRun       bool
	chat         string
	maxChats     int
	includeUsers bool
	noKeywords   bool
	useCache     bool
	saveCache    bool
	cacheFile    string
	delay        time.Duration
	maxMessages  int
	debugSample  bool
}

func addRunFlags(cmd *cobra.Command, f *runFlags) {
	fs := cmd.Flags()
	fs.BoolVar(&f.debug, "debug", false, "enable verbose logging")
	fs.BoolVar(&f.dryRun, "dry-run", false, "collect but do not write files or touch the store")
	fs.StringVar(&f.chat, "chat", "", "collect only this channel (username, t.me link or id)")
	fs.IntVar(&f.maxChats, "max-chats", 0, "max channels to collect, 0 for no limit")
	fs.BoolVar(&f.includeUsers, "include-users", false, "also include direct conversations")
	fs.BoolVar(&f.noKeywords, "no-keywords", false, "do not filter channels by keyword")
	fs.BoolVar(&f.useCache, "use-cache", false, "load the channel selection from the cache file")
	fs.BoolVar(&f.saveCache, "save-cache", false, "save the channel selection to the cache file")
	fs.StringVar(&f.cacheFile, "cache-file", "selected_chats.json", "channel selection cache path")
	fs.DurationVar(&f.delay, "delay", 0, "pause between channels, e.g. 1.5s")
	fs.IntVar(&f.maxMessages, "max-messages", 0, "max messages inspected per channel, 0 for no limit")
	fs.BoolVar(&f.debugSample, "debug-sample", false, "log every inspected message timestamp (very verbose)")
}

// loadConfig reads the environment and applies any flags the user set.
func loadConfig(cmd *cobra.Command, f *runFlags) (config.Config, error) {
	cfg, err := config.Load(envFile)
	if err != nil {
		return config.Config{}, err
	}
	if f == nil {
		return cfg, cfg.Validate()
	}

	fs := cmd.Flags()
	if f.debug {
		cfg.LogLevel = "debug"
	}
	if fs.Changed("max-chats") {
		cfg.MaxChannels = f.maxChats
	}
	if fs.Changed("delay") {
		cfg.Delay = f.delay
	}
	if fs.Changed("max-messages") {
		cfg.MaxMessages = f.maxMessages
	}
	if fs.Changed("cache-file") {
		cfg.CachePath = f.cacheFile
	}
	if f.chat != "" && len(cfg.Channels) == 0 {
		cfg.Channels = []string{f.chat}
	}
	return cfg, cfg.Validate()
}

func newLogger(cfg config.Config) (*slog.Logger, io.Closer) {
	return logging.New(logging.Options{
		Level:  cfg.LogLevel,
		Format: cfg.LogFormat,
		File:   cfg.LogFile,
	})
}

func newTransport(cfg config.Config, logger *slog.Logger) *webpreview.Client {
	return webpreview.New(webpreview.Config{
		BaseURL:  cfg.BaseURL,
		Channels: cfg.Channels,
		Timeout:  cfg.HTTPTimeout,
	}, logger)
}

// app is a fully wired pipeline plus its optional sinks.
type app struct {
	cfg    config.Config
	logger *slog.Logger
	unique *store.UniqueStore
	runner *pipeline.Runner
	mirror *store.Store
	hermes *hermes.Client

	closers []func()
}

func (a *app) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
}

func newApp(ctx context.Context, cmd *cobra.Command, f *runFlags) (*app, error) {
	cfg, err := loadConfig(cmd, f)
	if err != nil {
		return nil, err
	}

	logger, logCloser := newLogger(cfg)
	a := &app{
		cfg:     cfg,
		logger:  logger,
		closers: []func(){func() { logCloser.Close() }},
	}

	tr := newTransport(cfg, logger)
	coll := collector.New(tr, logger, collector.Options{
		MaxMessages: cfg.MaxMessages,
		Trace:       f.debugSample,
	})
	a.unique = store.NewUniqueStore(cfg.StorePath)

	policy := selector.DefaultPolicy()
	policy.IncludeDirectUsers = f.includeUsers
	policy.MaxSelected = cfg.MaxChannels
	if f.noKeywords {
		policy = policy.WithKeywords()
	}

	var chat transport.ChannelID
	if f.chat != "" {
		chat = transport.ChannelID(webpreview.Username(f.chat))
	}

	a.runner = pipeline.NewRunner(pipeline.Config{
		Window:     cfg.Window,
		Delay:      cfg.Delay,
		DryRun:     f.dryRun,
		Chat:       chat,
		Policy:     policy,
		UseCache:   f.useCache,
		SaveCache:  f.saveCache,
		CachePath:  cfg.CachePath,
		RawPath:    cfg.RawPath,
		ReportPath: cfg.ReportPath,
	}, tr, coll, a.unique, logger)

	// Postgres mirror and NATS are optional; the text store stays authoritative.
	if cfg.DatabaseURL != "" && !f.dryRun {
		db, err := store.New(ctx, cfg.DatabaseURL)
		if err != nil {
			logger.Warn("database unavailable, running without mirror", "error", err)
		} else {
			a.mirror = db
			a.closers = append(a.closers, db.Close)
			a.runner.WithMirror(db)
			logger.Info("database connected")
		}
	}
	if cfg.NatsURL != "" {
		hc, err := hermes.NewClient(ctx, cfg.NatsURL, cfg.NatsToken, logger)
		if err != nil {
			logger.Warn("NATS unavailable, running without events", "error", err)
		} else {
			a.hermes = hc
			a.closers = append(a.closers, hc.Close)
			a.runner.WithPublisher(hc)
			logger.Info("NATS connected", "url", cfg.NatsURL)
		}
	}

	return a, nil
}

var runOpts runFlags

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run one collection pass and exit",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		a, err := newApp(ctx, cmd, &runOpts)
		if err != nil {
			return err
		}
		defer a.Close()

		a.logger.Info("tgcollector starting",
			"version", version,
			"channels", len(a.cfg.Channels),
			"window", a.cfg.Window.String(),
			"dry_run", runOpts.dryRun,
		)
		sum, err := a.runner.Run(ctx)
		if err != nil {
			if ctx.Err() != nil {
				a.logger.Warn("interrupted, run aborted")
			} else {
				a.logger.Error("run failed", "error", err)
			}
			return err
		}
		fmt.Fprint(cmd.OutOrStdout(), sum.String())
		return nil
	},
}

func init() {
	addRunFlags(runCmd, &runOpts)
}
