package commands

import (
	"encoding/json"
	"errors"
	"io"
	"time"

	"github.com/home-assistant-libs/shelly-go/pkg/protolog"
)

// exportRecord is the JSONL shape of one event.
type exportRecord struct {
	Timestamp time.Time                  `json:"ts"`
	Device    string                     `json:"device,omitempty"`
	Direction string                     `json:"direction"`
	Layer     string                     `json:"layer"`
	Category  string                     `json:"category"`
	Frame     *protolog.FrameEvent       `json:"frame,omitempty"`
	State     *protolog.StateChangeEvent `json:"state,omitempty"`
	Error     *protolog.ErrorEvent       `json:"error,omitempty"`
}

// Export writes the trace as one JSON object per line, optionally
// restricted to a single device.
func Export(w io.Writer, path, device string) error {
	reader, err := protolog.NewFilteredReader(path, protolog.Filter{Device: device})
	if err != nil {
		return err
	}
	defer reader.Close()

	enc := json.NewEncoder(w)
	for {
		event, err := reader.Next()
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return err
		}

		record := exportRecord{
			Timestamp: event.Timestamp,
			Device:    event.Device,
			Direction: event.Direction.String(),
			Layer:     event.Layer.String(),
			Category:  event.Category.String(),
			Frame:     event.Frame,
			State:     event.State,
			Error:     event.Error,
		}
		if err := enc.Encode(record); err != nil {
			return err
		}
	}
}
