package commands

import (
	"errors"
	"fmt"
	"io"
	"sort"
	"time"

	"github.com/home-assistant-libs/shelly-go/pkg/protolog"
)

// traceStats aggregates counters over a whole trace.
type traceStats struct {
	Total    int
	ByLayer  map[string]int
	ByKind   map[string]int
	ByDevice map[string]int
	First    time.Time
	Last     time.Time
}

func collectStats(path string) (*traceStats, error) {
	reader, err := protolog.NewReader(path)
	if err != nil {
		return nil, err
	}
	defer reader.Close()

	stats := &traceStats{
		ByLayer:  make(map[string]int),
		ByKind:   make(map[string]int),
		ByDevice: make(map[string]int),
	}

	for {
		event, err := reader.Next()
		if errors.Is(err, io.EOF) {
			return stats, nil
		}
		if err != nil {
			return nil, err
		}

		stats.Total++
		stats.ByLayer[event.Layer.String()]++
		stats.ByKind[event.Category.String()]++
		if event.Device != "" {
			stats.ByDevice[event.Device]++
		}

		if stats.First.IsZero() || event.Timestamp.Before(stats.First) {
			stats.First = event.Timestamp
		}
		if event.Timestamp.After(stats.Last) {
			stats.Last = event.Timestamp
		}
	}
}

// Stats prints aggregate counters for the trace.
func Stats(w io.Writer, path string) error {
	stats, err := collectStats(path)
	if err != nil {
		return err
	}

	fmt.Fprintf(w, "Events: %d\n", stats.Total)
	if stats.Total == 0 {
		return nil
	}

	fmt.Fprintf(w, "Span:   %s .. %s (%s)\n",
		stats.First.UTC().Format(time.RFC3339),
		stats.Last.UTC().Format(time.RFC3339),
		stats.Last.Sub(stats.First).Round(time.Millisecond))

	printCounters(w, "By layer", stats.ByLayer)
	printCounters(w, "By category", stats.ByKind)
	if len(stats.ByDevice) > 0 {
		printCounters(w, "By device", stats.ByDevice)
	}
	return nil
}

func printCounters(w io.Writer, title string, counters map[string]int) {
	keys := make([]string, 0, len(counters))
	for k := range counters {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	fmt.Fprintf(w, "%s:\n", title)
	for _, k := range keys {
		fmt.Fprintf(w, "  %-12s %d\n", k, counters[k])
	}
}
