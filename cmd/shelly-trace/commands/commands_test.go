package commands

import (
	"bufio"
	"bytes"
	"encoding/json"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/home-assistant-libs/shelly-go/pkg/protolog"
)

func writeTrace(t *testing.T, events []protolog.Event) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "test.slog")

	logger, err := protolog.NewFileLogger(path)
	if err != nil {
		t.Fatalf("creating trace: %v", err)
	}
	for _, e := range events {
		logger.Log(e)
	}
	logger.Close()

	return path
}

func sampleEvents() []protolog.Event {
	base := time.Date(2026, 3, 14, 12, 0, 0, 0, time.UTC)
	return []protolog.Event{
		{
			Timestamp: base,
			Device:    "shellyplus1-a8032ab12345",
			Direction: protolog.DirectionOut,
			Layer:     protolog.LayerWS,
			Category:  protolog.CategoryFrame,
			Frame:     &protolog.FrameEvent{Method: "Switch.Set", ID: 3, Size: 80},
		},
		{
			Timestamp: base.Add(time.Second),
			Device:    "shelly1-c0ffee",
			Direction: protolog.DirectionIn,
			Layer:     protolog.LayerCoIoT,
			Category:  protolog.CategoryFrame,
			Frame:     &protolog.FrameEvent{Size: 212},
		},
		{
			Timestamp: base.Add(2 * time.Second),
			Device:    "shellyplus1-a8032ab12345",
			Layer:     protolog.LayerWS,
			Category:  protolog.CategoryState,
			State:     &protolog.StateChangeEvent{From: "ready", To: "disconnected"},
		},
	}
}

func TestViewAllEvents(t *testing.T) {
	path := writeTrace(t, sampleEvents())

	var buf bytes.Buffer
	if err := View(&buf, path, ViewOptions{}); err != nil {
		t.Fatalf("View failed: %v", err)
	}

	out := buf.String()
	for _, want := range []string{"Switch.Set", "COIOT", "ready -> disconnected"} {
		if !strings.Contains(out, want) {
			t.Errorf("output missing %q:\n%s", want, out)
		}
	}
}

func TestViewLayerFilter(t *testing.T) {
	path := writeTrace(t, sampleEvents())

	var buf bytes.Buffer
	if err := View(&buf, path, ViewOptions{Layer: "coiot"}); err != nil {
		t.Fatalf("View failed: %v", err)
	}

	out := buf.String()
	if strings.Contains(out, "Switch.Set") {
		t.Errorf("WS event leaked through coiot filter:\n%s", out)
	}
	if !strings.Contains(out, "COIOT") {
		t.Errorf("expected CoIoT event in output:\n%s", out)
	}
}

func TestViewUnknownLayer(t *testing.T) {
	path := writeTrace(t, sampleEvents())

	if err := View(&bytes.Buffer{}, path, ViewOptions{Layer: "zigbee"}); err == nil {
		t.Error("View accepted unknown layer")
	}
}

func TestExportJSONL(t *testing.T) {
	path := writeTrace(t, sampleEvents())

	var buf bytes.Buffer
	if err := Export(&buf, path, ""); err != nil {
		t.Fatalf("Export failed: %v", err)
	}

	scanner := bufio.NewScanner(&buf)
	lines := 0
	for scanner.Scan() {
		var record map[string]any
		if err := json.Unmarshal(scanner.Bytes(), &record); err != nil {
			t.Fatalf("line %d is not valid JSON: %v", lines+1, err)
		}
		if _, ok := record["layer"]; !ok {
			t.Errorf("line %d missing layer field", lines+1)
		}
		lines++
	}
	if lines != 3 {
		t.Errorf("exported %d lines, want 3", lines)
	}
}

func TestExportDeviceFilter(t *testing.T) {
	path := writeTrace(t, sampleEvents())

	var buf bytes.Buffer
	if err := Export(&buf, path, "shelly1-c0ffee"); err != nil {
		t.Fatalf("Export failed: %v", err)
	}

	out := strings.TrimSpace(buf.String())
	if strings.Count(out, "\n") != 0 || out == "" {
		t.Errorf("expected exactly one line, got:\n%s", out)
	}
	if strings.Contains(out, "shellyplus1") {
		t.Errorf("foreign device leaked through filter:\n%s", out)
	}
}

func TestStats(t *testing.T) {
	path := writeTrace(t, sampleEvents())

	stats, err := collectStats(path)
	if err != nil {
		t.Fatalf("collectStats failed: %v", err)
	}

	if stats.Total != 3 {
		t.Errorf("Total = %d, want 3", stats.Total)
	}
	if stats.ByLayer["WS"] != 2 || stats.ByLayer["COIOT"] != 1 {
		t.Errorf("ByLayer = %v", stats.ByLayer)
	}
	if stats.ByKind["FRAME"] != 2 || stats.ByKind["STATE"] != 1 {
		t.Errorf("ByKind = %v", stats.ByKind)
	}
	if stats.ByDevice["shellyplus1-a8032ab12345"] != 2 {
		t.Errorf("ByDevice = %v", stats.ByDevice)
	}
	if got := stats.Last.Sub(stats.First); got != 2*time.Second {
		t.Errorf("span = %v, want 2s", got)
	}
}

func TestStatsEmptyTrace(t *testing.T) {
	path := writeTrace(t, nil)

	var buf bytes.Buffer
	if err := Stats(&buf, path); err != nil {
		t.Fatalf("Stats failed: %v", err)
	}
	if !strings.Contains(buf.String(), "Events: 0") {
		t.Errorf("unexpected output:\n%s", buf.String())
	}
}
