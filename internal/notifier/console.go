package notifier

import (
	"context"
	"fmt"
	"log"
	"strings"

	"github.com/opsmetric-team/opsmetric/internal/model"
)

// ConsoleNotifier prints digests to the console (useful for testing).
type ConsoleNotifier struct{}

// NewConsoleNotifier creates a new console notifier.
func NewConsoleNotifier() *ConsoleNotifier {
	return &ConsoleNotifier{}
}

// Name returns the notifier name.
func (c *ConsoleNotifier) Name() string {
	return "console"
}

// Send prints the digest to the console.
func (c *ConsoleNotifier) Send(ctx context.Context, digest *model.Digest) error {
	var sb strings.Builder

	sb.WriteString("\n")
	sb.WriteString("═══════════════════════════════════════════════════════════════\n")
	sb.WriteString("                      OPSMETRIC KPI DIGEST                     \n")
	sb.WriteString("═══════════════════════════════════════════════════════════════\n")
	sb.WriteString(fmt.Sprintf("Report ID:  %s\n", digest.ReqID))
	sb.WriteString(fmt.Sprintf("Generated:  %s\n", digest.GeneratedAt.Format("2006-01-02 15:04:05")))
	sb.WriteString(fmt.Sprintf("Country:    %s\n", digest.Country))
	sb.WriteString(fmt.Sprintf("Week:       %s\n", digest.Week))
	sb.WriteString("───────────────────────────────────────────────────────────────\n")

	for _, r := range digest.Results {
		value := FormatValue(r)
		sb.WriteString(fmt.Sprintf("  %-34s %12s  (%d records)\n", r.Name, value, r.RecordCount))
	}

	sb.WriteString("═══════════════════════════════════════════════════════════════\n")

	log.Print(sb.String())
	return nil
}

// FormatValue renders a KPI value for display; undefined results render as
// an explicit n/a rather than a zero.
func FormatValue(r *model.KPIResult) string {
	if !r.Defined {
		return "n/a"
	}
	if r.Aggregation == "ratio" {
		return fmt.Sprintf("%.1f%%", r.Value)
	}
	if r.Value == float64(int64(r.Value)) {
		return fmt.Sprintf("%d", int64(r.Value))
	}
	return fmt.Sprintf("%.2f", r.Value)
}
