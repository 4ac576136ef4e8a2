// Package webpreview reads public channels through Telegram's web preview
// pages (https://t.me/s/<username>). No account is needed, so only public
// channels can be collected.
package webpreview

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"log/slog"
	"net/http"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"

	"github.com/MikeSquared-Agency/tgcollector/internal/transport"
)

const (
	DefaultBaseURL    = "https://t.me"
	defaultUserAgent  = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36"
	defaultRetryAfter = 30 * time.Second
)

// Config configures a Client.
type Config struct {
	BaseURL   string
	Channels  []string // usernames or t.me links
	UserAgent string
	Timeout   time.Duration
}

// Client implements transport.Transport over the web preview.
type Client struct {
	http      *http.Client
	baseURL   string
	userAgent string
	channels  []transport.ChannelID
	logger    *slog.Logger
}

var _ transport.Transport = (*Client)(nil)

// New returns a Client. Empty fields in cfg take the package defaults.
func New(cfg Config, logger *slog.Logger) *Client {
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	if cfg.UserAgent == "" {
		cfg.UserAgent = defaultUserAgent
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 15 * time.Second
	}

	c := &Client{
		http:      &http.Client{Timeout: cfg.Timeout},
		baseURL:   strings.TrimSuffix(cfg.BaseURL, "/"),
		userAgent: cfg.UserAgent,
		logger:    logger,
	}
	for _, ch := range cfg.Channels {
		if name := Username(ch); name != "" {
			c.channels = append(c.channels, transport.ChannelID(name))
		}
	}
	return c
}

// Username extracts the channel username from a bare name, "@name" or a
// t.me link such as https://t.me/name or https://t.me/s/name.
func Username(ref string) string {
	ref = strings.TrimSpace(ref)
	ref = strings.TrimSuffix(ref, "/")
	if i := strings.LastIndex(ref, "/"); i >= 0 {
		ref = ref[i+1:]
	}
	return strings.TrimPrefix(ref, "@")
}

// Authenticate checks that the preview endpoint is reachable. The web
// preview has no login, so an unreachable endpoint is the only way to fail.
func (c *Client) Authenticate(ctx context.Context) error {
	req, err := c.newRequest(ctx, c.baseURL+"/")
	if err != nil {
		return fmt.Errorf("%w: %w", transport.ErrUnauthorized, err)
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %w", transport.ErrUnauthorized, err)
	}
	resp.Body.Close()
	if resp.StatusCode >= 500 {
		return fmt.Errorf("%w: %s returned %d", transport.ErrUnauthorized, c.baseURL, resp.StatusCode)
	}
	return nil
}

// ListChannels resolves every configured channel. A channel whose page
// cannot be fetched is still listed, named by its username.
func (c *Client) ListChannels(ctx context.Context) ([]transport.Descriptor, error) {
	out := make([]transport.Descriptor, 0, len(c.channels))
	for _, id := range c.channels {
		d, err := c.Resolve(ctx, id)
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			var rl *transport.RateLimitError
			if errors.As(err, &rl) {
				return nil, err
			}
			c.logger.Warn("could not resolve channel title", "chat_id", id, "error", err)
			d = transport.Descriptor{ID: id, Name: string(id), Kind: transport.KindGroupOrChannel}
		}
		out = append(out, d)
	}
	return out, nil
}

// Resolve fetches the newest page of a channel to read its title.
func (c *Client) Resolve(ctx context.Context, id transport.ChannelID) (transport.Descriptor, error) {
	doc, err := c.fetch(ctx, id, 0)
	if err != nil {
		return transport.Descriptor{}, err
	}
	name := strings.TrimSpace(doc.Find(".tgme_channel_info_header_title").First().Text())
	if name == "" {
		name = string(id)
	}
	return transport.Descriptor{ID: id, Name: name, Kind: transport.KindGroupOrChannel}, nil
}

// Messages pages backwards with ?before=<id>. Each page lists messages
// oldest first; they are re-sorted so the sequence is newest to oldest.
func (c *Client) Messages(ctx context.Context, id transport.ChannelID) iter.Seq2[transport.Message, error] {
	return func(yield func(transport.Message, error) bool) {
		var before int64
		for {
			doc, err := c.fetch(ctx, id, before)
			if err != nil {
				yield(transport.Message{}, err)
				return
			}
			page := c.parseMessages(doc, id)
			if len(page) == 0 {
				return
			}

			oldest := page[len(page)-1].ID
			for _, m := range page {
				if before > 0 && m.ID >= before {
					continue
				}
				if !yield(m, nil) {
					return
				}
			}
			if oldest <= 1 || (before > 0 && oldest >= before) {
				return
			}
			before = oldest
		}
	}
}

func (c *Client) newRequest(ctx context.Context, u string) (*http.Request, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("User-Agent", c.userAgent)
	return req, nil
}

func (c *Client) pageURL(id transport.ChannelID, before int64) string {
	u := c.baseURL + "/s/" + url.PathEscape(string(id))
	if before > 0 {
		u += "?before=" + strconv.FormatInt(before, 10)
	}
	return u
}

func (c *Client) fetch(ctx context.Context, id transport.ChannelID, before int64) (*goquery.Document, error) {
	req, err := c.newRequest(ctx, c.pageURL(id, before))
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch %s: %w", id, err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusTooManyRequests:
		return nil, &transport.RateLimitError{Wait: retryAfter(resp.Header.Get("Retry-After"), time.Now())}
	case resp.StatusCode != http.StatusOK:
		return nil, fmt.Errorf("fetch %s: unexpected status %d", id, resp.StatusCode)
	}

	doc, err := goquery.NewDocumentFromReader(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("parse %s: %w", id, err)
	}
	return doc, nil
}

// parseMessages returns the page's valid messages sorted newest first.
func (c *Client) parseMessages(doc *goquery.Document, id transport.ChannelID) []transport.Message {
	var msgs []transport.Message
	doc.Find(".tgme_widget_message[data-post]").Each(func(_ int, s *goquery.Selection) {
		m, err := parseMessage(s)
		if err == nil {
			err = m.Validate()
		}
		if err != nil {
			c.logger.Debug("skipping unparseable message", "chat_id", id, "error", err)
			return
		}
		msgs = append(msgs, m)
	})
	sort.SliceStable(msgs, func(i, j int) bool { return msgs[i].ID > msgs[j].ID })
	return msgs
}

func parseMessage(s *goquery.Selection) (transport.Message, error) {
	post, _ := s.Attr("data-post")
	i := strings.LastIndex(post, "/")
	if i < 0 {
		return transport.Message{}, fmt.Errorf("malformed data-post %q", post)
	}
	id, err := strconv.ParseInt(post[i+1:], 10, 64)
	if err != nil {
		return transport.Message{}, fmt.Errorf("data-post %q: %w", post, err)
	}

	m := transport.Message{ID: id}
	if dt, ok := s.Find(".tgme_widget_message_date time[datetime]").First().Attr("datetime"); ok {
		if m.Time, err = time.Parse(time.RFC3339, dt); err != nil {
			return transport.Message{}, fmt.Errorf("message %d: datetime %q: %w", id, dt, err)
		}
	}

	text := s.Find(".tgme_widget_message_text").First()
	if text.Length() == 0 {
		return m, nil
	}
	text.Find("br").ReplaceWithHtml("\n")
	m.Body = strings.TrimSpace(text.Text())

	text.Find("a[href]").Each(func(_ int, a *goquery.Selection) {
		href, _ := a.Attr("href")
		u, err := url.Parse(href)
		if err != nil || !u.IsAbs() {
			return
		}
		kind := transport.EntityTextURL
		if strings.TrimSpace(a.Text()) == href {
			kind = transport.EntityPlainURL
		}
		m.Entities = append(m.Entities, transport.Entity{Kind: kind, URL: href})
	})
	return m, nil
}

// retryAfter interprets a Retry-After header given in seconds or as an HTTP date.
func retryAfter(v string, now time.Time) time.Duration {
	v = strings.TrimSpace(v)
	if v == "" {
		return defaultRetryAfter
	}
	if secs, err := strconv.Atoi(v); err == nil && secs >= 0 {
		return time.Duration(secs) * time.Second
	}
	if t, err := http.ParseTime(v); err == nil {
		if d := t.Sub(now); d > 0 {
			return d.Round(time.Second)
		}
		return 0
	}
	return defaultRetryAfter
}
