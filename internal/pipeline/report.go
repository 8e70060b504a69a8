package pipeline

import (
	"fmt"
	"strings"
	"time"

	"sluice/internal/record"
)

// Report is the end-of-run summary printed by the CLI.
type Report struct {
	Key          string
	RunID        string
	StartOffset  int64
	Read         int64
	Encoded      int64
	Skipped      int64
	DeadLettered int64
	Delivered    int64
	Batches      int
	Acked        int
	Retried      int
	Failed       int
	Undelivered  []record.Range
	Checkpoint   int64
	Stopped      bool
	Duration     time.Duration
}

// Complete reports whether every record read was delivered or skipped.
func (r Report) Complete() bool { return len(r.Undelivered) == 0 }

func (r Report) String() string {
	var b strings.Builder
	fmt.Fprintf(&b, "run %s (%s) in %s\n", r.RunID, r.Key, r.Duration.Round(time.Millisecond))
	fmt.Fprintf(&b, "  records:    read=%d encoded=%d skipped=%d dead_lettered=%d delivered=%d\n",
		r.Read, r.Encoded, r.Skipped, r.DeadLettered, r.Delivered)
	fmt.Fprintf(&b, "  batches:    total=%d acked=%d retried=%d failed=%d\n",
		r.Batches, r.Acked, r.Retried, r.Failed)
	fmt.Fprintf(&b, "  checkpoint: %d (started at offset %d)\n", r.Checkpoint, r.StartOffset)
	if r.Stopped {
		b.WriteString("  stopped before the input was exhausted\n")
	}
	if len(r.Undelivered) > 0 {
		parts := make([]string, len(r.Undelivered))
		for i, rg := range r.Undelivered {
			parts[i] = rg.String()
		}
		fmt.Fprintf(&b, "  undelivered: %s\n", strings.Join(parts, ","))
	}
	return b.String()
}
