package collector

import (
	"context"
	"errors"
	"io"
	"iter"
	"log/slog"
	"testing"
	"time"

	"github.com/MikeSquared-Agency/tgcollector/internal/transport"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// fakeTransport yields msgs in slice order, then err if set.
type fakeTransport struct {
	msgs     []transport.Message
	err      error
	yielded  int
	channels []transport.Descriptor
}

func (f *fakeTransport) Authenticate(ctx context.Context) error { return nil }

func (f *fakeTransport) ListChannels(ctx context.Context) ([]transport.Descriptor, error) {
	return f.channels, nil
}

func (f *fakeTransport) Resolve(ctx context.Context, id transport.ChannelID) (transport.Descriptor, error) {
	return transport.Descriptor{ID: id, Name: string(id)}, nil
}

func (f *fakeTransport) Messages(ctx context.Context, id transport.ChannelID) iter.Seq2[transport.Message, error] {
	return func(yield func(transport.Message, error) bool) {
		for _, m := range f.msgs {
			f.yielded++
			if !yield(m, nil) {
				return
			}
		}
		if f.err != nil {
			yield(transport.Message{}, f.err)
		}
	}
}

var base = time.Date(2026, 2, 11, 12, 0, 0, 0, time.UTC)

func msgAt(id int64, offset time.Duration, body string) transport.Message {
	return transport.Message{ID: id, Time: base.Add(offset), Body: body}
}

func testWindow(t *testing.T) Window {
	t.Helper()
	w, err := NewWindow(base.Add(-24*time.Hour), base)
	if err != nil {
		t.Fatal(err)
	}
	return w
}

var testChannel = transport.Descriptor{ID: "v2ray_free", Name: "Free V2Ray"}

func TestCollect_EarlyStop(t *testing.T) {
	ft := &fakeTransport{msgs: []transport.Message{
		msgAt(8, time.Hour, "future, skipped"),
		msgAt(7, 0, "at end, excluded"),
		msgAt(6, -time.Minute, "in window 1"),
		msgAt(5, -12*time.Hour, "in window 2"),
		msgAt(4, -24*time.Hour, "at start, included"),
		msgAt(3, -24*time.Hour-time.Second, "too old, stop here"),
		msgAt(2, -30*time.Hour, "never inspected"),
		msgAt(1, -40*time.Hour, "never inspected"),
	}}

	c := New(ft, discardLogger(), Options{})
	records, err := c.Collect(context.Background(), testChannel, testWindow(t))
	if err != nil {
		t.Fatalf("Collect failed: %v", err)
	}

	wantIDs := []int64{6, 5, 4}
	if len(records) != len(wantIDs) {
		t.Fatalf("expected %d records, got %d", len(wantIDs), len(records))
	}
	for i, id := range wantIDs {
		if records[i].MessageID != id {
			t.Errorf("record[%d].MessageID = %d, want %d", i, records[i].MessageID, id)
		}
		if records[i].ChannelID != testChannel.ID || records[i].ChannelName != testChannel.Name {
			t.Errorf("record[%d] has wrong channel: %+v", i, records[i])
		}
	}
	if ft.yielded != 6 {
		t.Errorf("expected scan to stop after 6 messages, inspected %d", ft.yielded)
	}
}

func TestCollect_FlattensEntities(t *testing.T) {
	m := msgAt(1, -time.Hour, "grab these")
	m.Entities = []transport.Entity{
		{Kind: transport.EntityTextURL, URL: "vless://hidden@h:443"},
		{Kind: transport.EntityPlainURL, URL: "https://example.com"},
	}
	ft := &fakeTransport{msgs: []transport.Message{m}}

	records, err := New(ft, discardLogger(), Options{}).Collect(context.Background(), testChannel, testWindow(t))
	if err != nil {
		t.Fatal(err)
	}
	if len(records) != 1 {
		t.Fatalf("expected 1 record, got %d", len(records))
	}
	want := "grab these\nvless://hidden@h:443\nhttps://example.com"
	if records[0].Text != want {
		t.Errorf("Text = %q, want %q", records[0].Text, want)
	}
}

func TestFlatten_LinksNeedBody(t *testing.T) {
	links := []transport.Entity{{Kind: transport.EntityTextURL, URL: "vless://hidden@h:443"}}

	tests := []struct {
		name string
		body string
		want string
	}{
		{"empty body drops links", "", ""},
		{"blank body drops links", " \n ", ""},
		{"body keeps links", "see", "see\nvless://hidden@h:443"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Flatten(transport.Message{ID: 1, Time: base, Body: tt.body, Entities: links})
			if got != tt.want {
				t.Errorf("Flatten = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestCollect_SkipsEmptyAndInvalid(t *testing.T) {
	ft := &fakeTransport{msgs: []transport.Message{
		msgAt(3, -time.Hour, "   "),
		{ID: 2, Body: "no timestamp"},
		msgAt(1, -2*time.Hour, "kept"),
	}}

	records, err := New(ft, discardLogger(), Options{}).Collect(context.Background(), testChannel, testWindow(t))
	if err != nil {
		t.Fatal(err)
	}
	if len(records) != 1 || records[0].MessageID != 1 {
		t.Errorf("expected only message 1, got %+v", records)
	}
}

func TestCollect_MaxMessages(t *testing.T) {
	ft := &fakeTransport{msgs: []transport.Message{
		msgAt(4, -time.Hour, "a"),
		msgAt(3, -2*time.Hour, "b"),
		msgAt(2, -3*time.Hour, "c"),
		msgAt(1, -4*time.Hour, "d"),
	}}

	records, err := New(ft, discardLogger(), Options{MaxMessages: 2}).Collect(context.Background(), testChannel, testWindow(t))
	if err != nil {
		t.Fatal(err)
	}
	if len(records) != 2 {
		t.Errorf("expected 2 records, got %d", len(records))
	}
	if ft.yielded != 2 {
		t.Errorf("expected 2 messages inspected, got %d", ft.yielded)
	}
}

func TestCollect_RateLimitWaitsThenSkips(t *testing.T) {
	ft := &fakeTransport{
		msgs: []transport.Message{msgAt(1, -time.Hour, "collected before limit")},
		err:  &transport.RateLimitError{Wait: 17 * time.Second},
	}

	var slept []time.Duration
	opts := Options{Sleep: func(ctx context.Context, d time.Duration) error {
		slept = append(slept, d)
		return nil
	}}

	records, err := New(ft, discardLogger(), opts).Collect(context.Background(), testChannel, testWindow(t))
	if !errors.Is(err, ErrRateLimited) {
		t.Fatalf("expected ErrRateLimited, got %v", err)
	}
	if records != nil {
		t.Errorf("expected no records after rate limit, got %d", len(records))
	}
	if len(slept) != 1 || slept[0] != 17*time.Second {
		t.Errorf("expected a single 17s wait, got %v", slept)
	}
}

func TestCollect_RateLimitWaitCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	ft := &fakeTransport{err: &transport.RateLimitError{Wait: time.Hour}}
	_, err := New(ft, discardLogger(), Options{}).Collect(ctx, testChannel, testWindow(t))
	if !errors.Is(err, context.Canceled) {
		t.Errorf("expected context.Canceled, got %v", err)
	}
}

func TestCollect_TransportError(t *testing.T) {
	ft := &fakeTransport{err: errors.New("channel is private")}

	records, err := New(ft, discardLogger(), Options{}).Collect(context.Background(), testChannel, testWindow(t))
	if !errors.Is(err, ErrChannelAccess) {
		t.Fatalf("expected ErrChannelAccess, got %v", err)
	}
	if records != nil {
		t.Errorf("expected no records, got %v", records)
	}
}

func TestNewWindow(t *testing.T) {
	if _, err := NewWindow(base, base); err == nil {
		t.Error("expected error for empty window")
	}
	if _, err := NewWindow(base, base.Add(-time.Second)); err == nil {
		t.Error("expected error for inverted window")
	}

	loc := time.FixedZone("IRST", 3*3600+1800)
	w, err := Trailing(base.In(loc), DefaultWindow)
	if err != nil {
		t.Fatal(err)
	}
	if w.End.Location() != time.UTC || w.Start.Location() != time.UTC {
		t.Error("expected window bounds in UTC")
	}
	if !w.End.Equal(base) || !w.Start.Equal(base.Add(-24*time.Hour)) {
		t.Errorf("unexpected window %s", w)
	}
	if !w.Contains(w.Start) || w.Contains(w.End) {
		t.Error("window must be half-open")
	}
}
