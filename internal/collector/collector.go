// Package collector walks a channel's history backwards and keeps the
// messages that fall inside a time window.
package collector

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/MikeSquared-Agency/tgcollector/internal/transport"
)

var (
	// ErrRateLimited marks a channel skipped after honouring a backoff.
	ErrRateLimited = errors.New("collector: rate limited")
	// ErrChannelAccess marks a channel skipped after a transport failure.
	ErrChannelAccess = errors.New("collector: channel access failed")
)

// Record is an in-window message with its links flattened into Text.
type Record struct {
	ChannelID   transport.ChannelID
	ChannelName string
	MessageID   int64
	Time        time.Time
	Text        string
}

// Options tune a Collector.
type Options struct {
	// MaxMessages caps how many messages are inspected per channel; 0 means no cap.
	MaxMessages int
	// Trace logs every inspected message at debug level.
	Trace bool
	// Sleep waits out rate limits. Defaults to a context-aware timer.
	Sleep func(ctx context.Context, d time.Duration) error
}

// Collector gathers in-window records from one channel at a time.
type Collector struct {
	transport transport.Transport
	logger    *slog.Logger
	opts      Options
}

// New returns a Collector reading from t.
func New(t transport.Transport, logger *slog.Logger, opts Options) *Collector {
	if opts.Sleep == nil {
		opts.Sleep = sleep
	}
	return &Collector{transport: t, logger: logger, opts: opts}
}

// Collect returns the channel's messages inside w, newest first.
//
// The transport yields messages newest to oldest, so the walk stops at the
// first message older than w.Start. If a transport breaks that ordering,
// in-window messages after the first older one are missed.
//
// A rate limit is waited out and the channel is then abandoned for this run;
// the error wraps ErrRateLimited. Any other transport failure wraps
// ErrChannelAccess. In both cases no records are returned.
func (c *Collector) Collect(ctx context.Context, ch transport.Descriptor, w Window) ([]Record, error) {
	var (
		records []Record
		scanned int
	)

	for msg, err := range c.transport.Messages(ctx, ch.ID) {
		if err != nil {
			return nil, c.fail(ctx, ch, err)
		}
		scanned++

		if c.opts.Trace {
			c.logger.Debug("inspect message",
				"chat", ch.Name,
				"msg_id", msg.ID,
				"msg_time", msg.Time.UTC().Format(time.RFC3339),
			)
		}

		if err := msg.Validate(); err != nil {
			c.logger.Debug("skipping invalid message", "chat", ch.Name, "error", err)
		} else {
			t := msg.Time.UTC()
			if t.Before(w.Start) {
				break
			}
			if t.Before(w.End) {
				if text := Flatten(msg); text != "" {
					records = append(records, Record{
						ChannelID:   ch.ID,
						ChannelName: ch.Name,
						MessageID:   msg.ID,
						Time:        t,
						Text:        text,
					})
				}
			}
		}

		if c.opts.MaxMessages > 0 && scanned >= c.opts.MaxMessages {
			c.logger.Debug("message cap reached", "chat", ch.Name, "cap", c.opts.MaxMessages)
			break
		}
	}

	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return records, nil
}

func (c *Collector) fail(ctx context.Context, ch transport.Descriptor, err error) error {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}

	var rl *transport.RateLimitError
	if errors.As(err, &rl) {
		c.logger.Warn("rate limited, waiting then skipping channel",
			"chat", ch.Name,
			"chat_id", ch.ID,
			"wait", rl.Wait.String(),
		)
		if serr := c.opts.Sleep(ctx, rl.Wait); serr != nil {
			return serr
		}
		return fmt.Errorf("%w: %s after %s", ErrRateLimited, ch.ID, rl.Wait)
	}

	return fmt.Errorf("%w: %s: %w", ErrChannelAccess, ch.ID, err)
}

// Flatten joins the body with each link annotation on its own line, in
// attachment order. A message without body text flattens to "", links
// included.
func Flatten(msg transport.Message) string {
	if strings.TrimSpace(msg.Body) == "" {
		return ""
	}
	var b strings.Builder
	b.WriteString(msg.Body)
	for _, e := range msg.Entities {
		b.WriteByte('\n')
		b.WriteString(e.URL)
	}
	return strings.TrimSpace(b.String())
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
