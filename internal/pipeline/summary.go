package pipeline

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/MikeSquared-Agency/tgcollector/internal/collector"
	"github.com/MikeSquared-Agency/tgcollector/internal/hermes"
)

// Summary describes a finished run.
type Summary struct {
	RunID      uuid.UUID
	StartedAt  time.Time
	FinishedAt time.Time
	Window     collector.Window
	DryRun     bool

	Scanned  int // channels enumerated by the selector
	Matched  int // channels passing the policy before the cap stopped the scan
	Selected int // channels chosen for collection
	Skipped  int // channels abandoned after a rate limit or access error

	Messages     int
	NewConfigs   int
	TotalConfigs int
}

// Event converts the summary to its published form.
func (s *Summary) Event() hermes.RunCompleted {
	return hermes.RunCompleted{
		RunID:           s.RunID.String(),
		StartedAt:       s.StartedAt,
		FinishedAt:      s.FinishedAt,
		WindowStart:     s.Window.Start,
		WindowEnd:       s.Window.End,
		ChannelsScanned: s.Scanned,
		ChannelsMatched: s.Matched,
		Channels:        s.Selected,
		ChannelsSkipped: s.Skipped,
		Messages:        s.Messages,
		NewConfigs:      s.NewConfigs,
		TotalConfigs:    s.TotalConfigs,
		DryRun:          s.DryRun,
	}
}

// String renders the summary for terminal output.
func (s *Summary) String() string {
	var sb strings.Builder
	sb.WriteString("\n=== Collection Summary ===\n")
	fmt.Fprintf(&sb, "Run: %s\n", s.RunID)
	fmt.Fprintf(&sb, "Window (UTC): %s\n", s.Window)
	fmt.Fprintf(&sb, "Channels scanned/matched/selected: %d/%d/%d\n", s.Scanned, s.Matched, s.Selected)
	fmt.Fprintf(&sb, "Channels skipped: %d\n", s.Skipped)
	fmt.Fprintf(&sb, "Messages collected: %d\n", s.Messages)
	if s.DryRun {
		sb.WriteString("Mode: DRY RUN (no files written, store untouched)\n")
	} else {
		fmt.Fprintf(&sb, "New configs: %d\n", s.NewConfigs)
		fmt.Fprintf(&sb, "Total unique configs: %d\n", s.TotalConfigs)
	}
	fmt.Fprintf(&sb, "Duration: %s\n", s.FinishedAt.Sub(s.StartedAt).Round(time.Millisecond))
	return sb.String()
}
