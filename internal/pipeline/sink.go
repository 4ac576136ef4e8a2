package pipeline

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/MikeSquared-Agency/tgcollector/internal/collector"
)

var rule = strings.Repeat("=", 70)

// FormatRawText joins record texts, each followed by a blank line.
func FormatRawText(records []collector.Record) string {
	var sb strings.Builder
	for _, r := range records {
		sb.WriteString(r.Text)
		sb.WriteString("\n\n")
	}
	return sb.String()
}

// FormatReport renders the human-readable per-message report.
func FormatReport(records []collector.Record, generated time.Time) string {
	var sb strings.Builder
	sb.WriteString("=== Message Report ===\n")
	fmt.Fprintf(&sb, "Generated (UTC): %s\n", generated.UTC().Format(time.RFC3339))
	fmt.Fprintf(&sb, "Messages: %d\n", len(records))
	sb.WriteString(rule + "\n\n")
	for _, r := range records {
		fmt.Fprintf(&sb, "Chat: %s | chat_id=%s\n", r.ChannelName, r.ChannelID)
		fmt.Fprintf(&sb, "Message ID: %d\n", r.MessageID)
		fmt.Fprintf(&sb, "Date (UTC): %s\n", r.Time.UTC().Format(time.RFC3339))
		sb.WriteString("Content:\n")
		sb.WriteString(r.Text + "\n")
		sb.WriteString(rule + "\n\n")
	}
	return sb.String()
}

// writeFile replaces path with data, creating parent directories.
func writeFile(path, data string) error {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("mkdir: %w", err)
		}
	}
	return os.WriteFile(path, []byte(data), 0o644)
}
