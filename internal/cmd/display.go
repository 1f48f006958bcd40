package cmd

import (
	"encoding/json"
	"fmt"
	"io"
	"time"

	"github.com/fclairamb/agentstate/internal/history"
	"github.com/fclairamb/agentstate/internal/learning"
	"github.com/fclairamb/agentstate/internal/queue"
)

const (
	day = 24 * time.Hour

	// Length of abbreviated commit hashes.
	shortHashLen = 7
)

// printJSON writes value as indented JSON.
func printJSON(w io.Writer, value any) error {
	data, err := json.MarshalIndent(value, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal output: %w", err)
	}

	//nolint:forbidigo // CLI user output function
	_, err = fmt.Fprintf(w, "%s\n", data)
	return err
}

// displayQueueItems displays queue items, one per line.
//
//nolint:forbidigo // CLI user output function
func displayQueueItems(w io.Writer, items []queue.Item) {
	if len(items) == 0 {
		fmt.Fprintln(w, "Queue is empty.")
		return
	}

	now := time.Now()
	counts := make(map[queue.Status]int)
	for _, item := range items {
		counts[item.Status]++
		fmt.Fprintf(w, "  #%d [%s] %s (attempts: %d, updated %s)\n",
			item.ID,
			item.Status,
			item.Type,
			item.Attempts,
			formatAge(item.UpdatedAt, now))
	}

	fmt.Fprintf(w, "\n%d items: %d pending, %d in progress, %d done\n",
		len(items),
		counts[queue.StatusPending],
		counts[queue.StatusInProgress],
		counts[queue.StatusDone])
}

// displayVariantStats displays per-variant statistics of an experiment.
//
//nolint:forbidigo // CLI user output function
func displayVariantStats(w io.Writer, experiment string, stats []learning.VariantStats) {
	if len(stats) == 0 {
		fmt.Fprintf(w, "No outcomes recorded for %s.\n", experiment)
		return
	}

	fmt.Fprintf(w, "Experiment %s:\n", experiment)
	for _, s := range stats {
		fmt.Fprintf(w, "  %s: %d runs, %d successes (%.1f%%), mean score %.3f\n",
			s.Variant,
			s.Count,
			s.Successes,
			s.SuccessRate*100,
			s.MeanScore)
	}
}

// displaySnapshots displays history snapshots, most recent first.
//
//nolint:forbidigo // CLI user output function
func displaySnapshots(w io.Writer, snapshots []history.Snapshot) {
	if len(snapshots) == 0 {
		fmt.Fprintln(w, "No snapshots recorded yet.")
		return
	}

	now := time.Now()
	for _, snap := range snapshots {
		hash := snap.Hash
		if len(hash) > shortHashLen {
			hash = hash[:shortHashLen]
		}
		fmt.Fprintf(w, "  %s %s (%s)\n", hash, snap.Message, formatAge(snap.When, now))
	}
}

// formatAge renders how long before now t happened, in a compact form such as
// "5m ago" or "3d ago". Times after now (clock skew between writers) are
// rendered as "in 5m".
func formatAge(t, now time.Time) string {
	if t.IsZero() {
		return "never"
	}

	age := now.Sub(t)
	if age < 0 {
		return "in " + compactDuration(-age)
	}
	if age < time.Minute {
		return "just now"
	}
	return compactDuration(age) + " ago"
}

// compactDuration keeps only the largest unit of d.
func compactDuration(d time.Duration) string {
	switch {
	case d < time.Minute:
		return fmt.Sprintf("%ds", int(d/time.Second))
	case d < time.Hour:
		return fmt.Sprintf("%dm", int(d/time.Minute))
	case d < day:
		return fmt.Sprintf("%dh", int(d/time.Hour))
	default:
		return fmt.Sprintf("%dd", int(d/day))
	}
}
