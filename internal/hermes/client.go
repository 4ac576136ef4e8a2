package hermes

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/nats-io/nats.go"
)

const (
	// SubjectRunCompleted carries a RunCompleted after every finished run.
	SubjectRunCompleted = "collector.run.completed"
	// SubjectConfigsDiscovered carries the URIs a run added to the store.
	SubjectConfigsDiscovered = "collector.configs.discovered"
)

// RunCompleted summarises one collection run.
type RunCompleted struct {
	RunID           string    `json:"run_id"`
	StartedAt       time.Time `json:"started_at"`
	FinishedAt      time.Time `json:"finished_at"`
	WindowStart     time.Time `json:"window_start"`
	WindowEnd       time.Time `json:"window_end"`
	ChannelsScanned int       `json:"channels_scanned"`
	ChannelsMatched int       `json:"channels_matched"`
	Channels        int       `json:"channels"`
	ChannelsSkipped int       `json:"channels_skipped"`
	Messages        int       `json:"messages"`
	NewConfigs      int       `json:"new_configs"`
	TotalConfigs    int       `json:"total_configs"`
	DryRun          bool      `json:"dry_run"`
}

// ConfigsDiscovered lists URIs first seen in a run.
type ConfigsDiscovered struct {
	RunID string   `json:"run_id"`
	URIs  []string `json:"uris"`
}

type Client struct {
	conn   *nats.Conn
	logger *slog.Logger
}

func NewClient(ctx context.Context, url, token string, logger *slog.Logger) (*Client, error) {
	opts := []nats.Option{
		nats.Name("tgcollector"),
		nats.RetryOnFailedConnect(true),
		nats.MaxReconnects(60),
		nats.ReconnectWait(2 * time.Second),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				logger.Warn("nats disconnected", "error", err)
			}
		}),
		nats.ReconnectHandler(func(_ *nats.Conn) {
			logger.Info("nats reconnected")
		}),
	}
	if token != "" {
		opts = append(opts, nats.Token(token))
	}

	nc, err := nats.Connect(url, opts...)
	if err != nil {
		return nil, fmt.Errorf("nats connect: %w", err)
	}

	return &Client{conn: nc, logger: logger}, nil
}

func (c *Client) Publish(subject string, data any) error {
	payload, err := json.Marshal(data)
	if err != nil {
		return fmt.Errorf("marshal payload: %w", err)
	}
	return c.conn.Publish(subject, payload)
}

// Close flushes pending publishes before closing the connection.
func (c *Client) Close() {
	if err := c.conn.FlushTimeout(2 * time.Second); err != nil {
		c.logger.Warn("nats flush failed", "error", err)
	}
	c.conn.Close()
}
