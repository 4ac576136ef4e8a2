// Package pipeline runs one collection pass: select channels, collect the
// window's messages, write the sinks and merge extracted configs into the
// unique store.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/MikeSquared-Agency/tgcollector/internal/collector"
	"github.com/MikeSquared-Agency/tgcollector/internal/extractor"
	"github.com/MikeSquared-Agency/tgcollector/internal/hermes"
	"github.com/MikeSquared-Agency/tgcollector/internal/selector"
	"github.com/MikeSquared-Agency/tgcollector/internal/store"
	"github.com/MikeSquared-Agency/tgcollector/internal/transport"
)

// Config holds the per-run options.
type Config struct {
	Window time.Duration
	Delay  time.Duration // pause between channels
	DryRun bool

	// Chat, when set, replaces selection with a single channel.
	Chat   transport.ChannelID
	Policy selector.Policy

	UseCache  bool
	SaveCache bool
	CachePath string

	RawPath    string
	ReportPath string
}

// Publisher sends run events. *hermes.Client satisfies it.
type Publisher interface {
	Publish(subject string, data any) error
}

// Mirror copies newly stored configs elsewhere. *store.Store satisfies it.
type Mirror interface {
	WriteConfigs(ctx context.Context, runID uuid.UUID, uris []string) (int, error)
}

// Runner orchestrates a collection run. Channels are processed one at a
// time; the transport is a shared rate-limited endpoint.
type Runner struct {
	cfg       Config
	transport transport.Transport
	collector *collector.Collector
	store     *store.UniqueStore
	mirror    Mirror
	publisher Publisher
	logger    *slog.Logger

	now   func() time.Time
	sleep func(ctx context.Context, d time.Duration) error
}

// NewRunner creates a runner. Mirror and publisher are optional.
func NewRunner(cfg Config, t transport.Transport, c *collector.Collector, s *store.UniqueStore, logger *slog.Logger) *Runner {
	if cfg.Window <= 0 {
		cfg.Window = collector.DefaultWindow
	}
	return &Runner{
		cfg:       cfg,
		transport: t,
		collector: c,
		store:     s,
		logger:    logger,
		now:       time.Now,
		sleep:     sleepCtx,
	}
}

// WithMirror sets the store mirror.
func (r *Runner) WithMirror(m Mirror) *Runner {
	r.mirror = m
	return r
}

// WithPublisher sets the event publisher.
func (r *Runner) WithPublisher(p Publisher) *Runner {
	r.publisher = p
	return r
}

// Run executes one pass. Channel-level failures are logged and skipped; an
// authentication failure, a corrupt store or cancellation end the run with
// an error. On cancellation nothing further is written.
func (r *Runner) Run(ctx context.Context) (*Summary, error) {
	sum := &Summary{
		RunID:     uuid.New(),
		StartedAt: r.now().UTC(),
		DryRun:    r.cfg.DryRun,
	}
	logger := r.logger.With("run_id", sum.RunID.String())

	if err := r.transport.Authenticate(ctx); err != nil {
		return nil, fmt.Errorf("authenticate: %w", err)
	}
	logger.Info("transport ready")

	targets, err := r.resolveTargets(ctx, logger, sum)
	if err != nil {
		return nil, err
	}

	window, err := collector.Trailing(r.now(), r.cfg.Window)
	if err != nil {
		return nil, err
	}
	sum.Window = window
	logger.Info("collecting messages",
		"window_start", window.Start.Format(time.RFC3339),
		"window_end", window.End.Format(time.RFC3339),
		"channels", len(targets),
	)

	var records []collector.Record
	for i, t := range targets {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		recs, err := r.collectOne(ctx, t, window)
		switch {
		case err == nil:
		case ctx.Err() != nil:
			return nil, ctx.Err()
		case errors.Is(err, collector.ErrRateLimited):
			sum.Skipped++
			logger.Warn("channel skipped for this run", "chat_id", t.ID, "reason", "rate_limited", "error", err)
		default:
			sum.Skipped++
			logger.Warn("channel skipped for this run", "chat_id", t.ID, "reason", "access_error", "error", err)
		}

		logger.Info("channel collected",
			"index", i+1,
			"of", len(targets),
			"chat", t.Name,
			"messages", len(recs),
		)
		records = append(records, recs...)

		if i < len(targets)-1 && r.cfg.Delay > 0 {
			if err := r.sleep(ctx, r.cfg.Delay); err != nil {
				return nil, err
			}
		}
	}
	sum.Messages = len(records)
	logger.Info("collection finished", "messages", len(records))

	if r.cfg.DryRun {
		logger.Info("dry run: skipping sinks and store merge")
		r.finish(logger, sum)
		return sum, nil
	}

	raw := FormatRawText(records)
	if err := writeFile(r.cfg.RawPath, raw); err != nil {
		return nil, fmt.Errorf("write raw text: %w", err)
	}
	if err := writeFile(r.cfg.ReportPath, FormatReport(records, r.now())); err != nil {
		return nil, fmt.Errorf("write report: %w", err)
	}

	candidates := extractor.Extract(raw)
	res, err := r.store.MergeAndPersist(ctx, candidates)
	if err != nil {
		return nil, fmt.Errorf("merge configs: %w", err)
	}
	sum.NewConfigs = res.New
	sum.TotalConfigs = res.Total
	logger.Info("configs merged",
		"candidates", len(candidates),
		"new", res.New,
		"total", res.Total,
		"store", r.store.Path(),
	)

	if r.mirror != nil && len(res.Added) > 0 {
		if n, err := r.mirror.WriteConfigs(ctx, sum.RunID, res.Added); err != nil {
			logger.Warn("mirror write failed", "error", err)
		} else {
			logger.Info("configs mirrored", "inserted", n)
		}
	}
	if r.publisher != nil && len(res.Added) > 0 {
		ev := hermes.ConfigsDiscovered{RunID: sum.RunID.String(), URIs: res.Added}
		if err := r.publisher.Publish(hermes.SubjectConfigsDiscovered, ev); err != nil {
			logger.Warn("failed to publish discovered configs", "error", err)
		}
	}

	r.finish(logger, sum)
	return sum, nil
}

func (r *Runner) finish(logger *slog.Logger, sum *Summary) {
	sum.FinishedAt = r.now().UTC()
	logger.Info("run complete",
		"channels_scanned", sum.Scanned,
		"channels_matched", sum.Matched,
		"channels_selected", sum.Selected,
		"channels_skipped", sum.Skipped,
		"messages", sum.Messages,
		"new_configs", sum.NewConfigs,
		"total_configs", sum.TotalConfigs,
		"dry_run", sum.DryRun,
	)
	if r.publisher != nil {
		if err := r.publisher.Publish(hermes.SubjectRunCompleted, sum.Event()); err != nil {
			logger.Warn("failed to publish run summary", "error", err)
		}
	}
}

// target is a channel to collect. Descriptor is nil until resolved.
type target struct {
	ID   transport.ChannelID
	Name string
	desc *transport.Descriptor
}

// resolveTargets picks the channel list: explicit override, then a cached
// selection, then a fresh selection.
func (r *Runner) resolveTargets(ctx context.Context, logger *slog.Logger, sum *Summary) ([]target, error) {
	if r.cfg.Chat != "" {
		logger.Info("overriding channels", "chat_id", r.cfg.Chat)
		sum.Selected = 1
		return []target{{ID: r.cfg.Chat, Name: string(r.cfg.Chat)}}, nil
	}

	if r.cfg.UseCache && r.cfg.CachePath != "" {
		ids, ok, err := selector.LoadCache(r.cfg.CachePath)
		switch {
		case err != nil:
			logger.Warn("failed to load channel cache, selecting afresh", "path", r.cfg.CachePath, "error", err)
		case ok && len(ids) > 0:
			logger.Info("using cached channel selection", "path", r.cfg.CachePath, "channels", len(ids))
			sum.Selected = len(ids)
			targets := make([]target, len(ids))
			for i, id := range ids {
				targets[i] = target{ID: id, Name: string(id)}
			}
			return targets, nil
		}
	}

	channels, err := r.transport.ListChannels(ctx)
	if err != nil {
		return nil, fmt.Errorf("list channels: %w", err)
	}
	res := selector.Select(channels, r.cfg.Policy)
	sum.Scanned, sum.Matched, sum.Selected = res.Scanned, res.Matched, res.Selected
	logger.Info("channels selected",
		"scanned", res.Scanned,
		"matched", res.Matched,
		"selected", res.Selected,
	)

	if r.cfg.SaveCache && r.cfg.CachePath != "" {
		if err := selector.SaveCache(r.cfg.CachePath, res.IDs); err != nil {
			logger.Warn("could not save channel cache", "path", r.cfg.CachePath, "error", err)
		} else {
			logger.Info("saved channel selection", "path", r.cfg.CachePath)
		}
	}

	byID := make(map[transport.ChannelID]transport.Descriptor, len(channels))
	for _, ch := range channels {
		byID[ch.ID] = ch
	}
	targets := make([]target, 0, len(res.IDs))
	for _, id := range res.IDs {
		d := byID[id]
		targets = append(targets, target{ID: id, Name: d.Name, desc: &d})
	}
	return targets, nil
}

// collectOne resolves the channel if needed and collects its window.
func (r *Runner) collectOne(ctx context.Context, t target, w collector.Window) ([]collector.Record, error) {
	var desc transport.Descriptor
	if t.desc != nil {
		desc = *t.desc
	} else {
		d, err := r.transport.Resolve(ctx, t.ID)
		if err != nil {
			var rl *transport.RateLimitError
			if errors.As(err, &rl) {
				if serr := r.sleep(ctx, rl.Wait); serr != nil {
					return nil, serr
				}
				return nil, fmt.Errorf("%w: resolve %s after %s", collector.ErrRateLimited, t.ID, rl.Wait)
			}
			return nil, fmt.Errorf("%w: resolve %s: %w", collector.ErrChannelAccess, t.ID, err)
		}
		desc = d
	}
	return r.collector.Collect(ctx, desc, w)
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(d):
		return nil
	}
}
