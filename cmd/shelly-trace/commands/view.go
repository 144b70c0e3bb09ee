// Package commands implements the shelly-trace CLI commands.
package commands

import (
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/home-assistant-libs/shelly-go/pkg/protolog"
)

// ViewOptions selects which events the view command prints. Empty
// fields match everything.
type ViewOptions struct {
	Layer     string
	Direction string
	Device    string
}

func (o ViewOptions) filter() (protolog.Filter, error) {
	filter := protolog.Filter{Device: o.Device}

	if o.Layer != "" {
		layer, err := parseLayer(o.Layer)
		if err != nil {
			return filter, err
		}
		filter.Layer = &layer
	}
	if o.Direction != "" {
		dir, err := parseDirection(o.Direction)
		if err != nil {
			return filter, err
		}
		filter.Direction = &dir
	}
	return filter, nil
}

func parseLayer(s string) (protolog.Layer, error) {
	switch strings.ToLower(s) {
	case "ws":
		return protolog.LayerWS, nil
	case "ble":
		return protolog.LayerBLE, nil
	case "coiot":
		return protolog.LayerCoIoT, nil
	case "http":
		return protolog.LayerHTTP, nil
	default:
		return 0, fmt.Errorf("unknown layer %q (ws, ble, coiot, http)", s)
	}
}

func parseDirection(s string) (protolog.Direction, error) {
	switch strings.ToLower(s) {
	case "in":
		return protolog.DirectionIn, nil
	case "out":
		return protolog.DirectionOut, nil
	default:
		return 0, fmt.Errorf("unknown direction %q (in, out)", s)
	}
}

// View prints the trace in human-readable form.
func View(w io.Writer, path string, opts ViewOptions) error {
	filter, err := opts.filter()
	if err != nil {
		return err
	}

	reader, err := protolog.NewFilteredReader(path, filter)
	if err != nil {
		return err
	}
	defer reader.Close()

	for {
		event, err := reader.Next()
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return err
		}
		formatEvent(w, event)
	}
}

// formatEvent writes one event as a header line plus indented details.
func formatEvent(w io.Writer, event protolog.Event) {
	ts := event.Timestamp.UTC().Format("2006-01-02T15:04:05.000000Z")

	device := event.Device
	if device == "" {
		device = "-"
	}

	var label string
	switch {
	case event.Frame != nil:
		label = "Frame"
	case event.State != nil:
		label = "State"
	case event.Error != nil:
		label = "Error"
	default:
		label = "Unknown"
	}

	fmt.Fprintf(w, "%s [%s] %-3s %s %s\n",
		ts, device, event.Direction, event.Layer, label)

	switch {
	case event.Frame != nil:
		if event.Frame.Method != "" {
			fmt.Fprintf(w, "  Method: %s\n", event.Frame.Method)
		}
		if event.Frame.ID != 0 {
			fmt.Fprintf(w, "  ID: %d\n", event.Frame.ID)
		}
		if event.Frame.Size != 0 {
			fmt.Fprintf(w, "  Size: %d bytes\n", event.Frame.Size)
		}
	case event.State != nil:
		if event.State.From != "" {
			fmt.Fprintf(w, "  Transition: %s -> %s\n", event.State.From, event.State.To)
		} else {
			fmt.Fprintf(w, "  Transition: %s\n", event.State.To)
		}
		if event.State.Reason != "" {
			fmt.Fprintf(w, "  Reason: %s\n", event.State.Reason)
		}
	case event.Error != nil:
		fmt.Fprintf(w, "  Message: %s\n", event.Error.Message)
		if event.Error.Code != nil {
			fmt.Fprintf(w, "  Code: %d\n", *event.Error.Code)
		}
		if event.Error.Context != "" {
			fmt.Fprintf(w, "  Context: %s\n", event.Error.Context)
		}
	}

	fmt.Fprintln(w)
}
