package device

import (
	"encoding/json"
	"errors"
	"testing"
)

func decodeDoc(t *testing.T, raw string) map[string]any {
	t.Helper()
	var doc map[string]any
	if err := json.Unmarshal([]byte(raw), &doc); err != nil {
		t.Fatalf("bad fixture: %v", err)
	}
	return doc
}

func TestKindOf(t *testing.T) {
	tests := []struct {
		desc string
		want BlockKind
	}{
		{"relay_0", BlockRelay},
		{"relay_1", BlockRelay},
		{"roller_0", BlockRoller},
		{"light_2", BlockLight},
		{"emeter_0", BlockEmeter},
		{"sensor_0", BlockSensor},
		{"device", BlockDevice},
		{"RELAY_0", BlockRelay},
		{"frobnicator_0", BlockUnknown},
		{"", BlockUnknown},
	}

	for _, tt := range tests {
		t.Run(tt.desc, func(t *testing.T) {
			if got := KindOf(tt.desc); got != tt.want {
				t.Errorf("KindOf(%q) = %v, want %v", tt.desc, got, tt.want)
			}
		})
	}
}

func TestParseDescription(t *testing.T) {
	doc := decodeDoc(t, `{
		"blk": [
			{"I": 1, "D": "relay_0"},
			{"I": 2, "D": "device"}
		],
		"sen": [
			{"I": 111, "T": "P", "D": "power", "U": "W", "L": 1},
			{"I": 112, "T": "S", "D": "output", "L": 1},
			{"I": 115, "T": "S", "D": "overtemp", "L": [2, 1]}
		]
	}`)

	blocks, err := ParseDescription(doc)
	if err != nil {
		t.Fatalf("ParseDescription() error = %v", err)
	}
	if len(blocks) != 2 {
		t.Fatalf("got %d blocks, want 2", len(blocks))
	}

	relay := blocks[0]
	if relay.ID != 1 || relay.Kind != BlockRelay {
		t.Errorf("block 0 = %+v, want relay id 1", relay)
	}
	if len(relay.Sensors) != 2 {
		t.Fatalf("relay sensors = %d, want 2", len(relay.Sensors))
	}
	if relay.Sensors[0].ID != 111 || relay.Sensors[0].Unit != "W" {
		t.Errorf("sensor 111 = %+v", relay.Sensors[0])
	}

	dev := blocks[1]
	if dev.Kind != BlockDevice {
		t.Errorf("block 1 kind = %v, want device", dev.Kind)
	}
	// List-valued link attaches to the first listed block.
	if len(dev.Sensors) != 1 || dev.Sensors[0].ID != 115 {
		t.Errorf("device sensors = %+v, want only 115", dev.Sensors)
	}
}

func TestParseDescriptionInvalid(t *testing.T) {
	tests := []struct {
		name string
		raw  string
	}{
		{"missing blk", `{"sen": []}`},
		{"blk not a list", `{"blk": 5}`},
		{"blk entry without id", `{"blk": [{"D": "relay_0"}]}`},
		{"malformed sen entry", `{"blk": [{"I": 1, "D": "relay_0"}], "sen": [7]}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseDescription(decodeDoc(t, tt.raw))
			if !errors.Is(err, ErrInvalidDescription) {
				t.Errorf("error = %v, want ErrInvalidDescription", err)
			}
		})
	}
}

func TestParseStatus(t *testing.T) {
	doc := decodeDoc(t, `{"G": [[0, 111, 23.5], [0, 112, 1], [0, 118, "mireds"]]}`)

	values, err := ParseStatus(doc)
	if err != nil {
		t.Fatalf("ParseStatus() error = %v", err)
	}
	if len(values) != 3 {
		t.Fatalf("got %d values, want 3", len(values))
	}
	if values[111] != 23.5 {
		t.Errorf("values[111] = %v", values[111])
	}
	if values[118] != "mireds" {
		t.Errorf("values[118] = %v", values[118])
	}
}

func TestParseStatusInvalid(t *testing.T) {
	tests := []struct {
		name string
		raw  string
	}{
		{"missing G", `{"blk": []}`},
		{"short triple", `{"G": [[0, 111]]}`},
		{"non-numeric id", `{"G": [[0, "x", 1]]}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseStatus(decodeDoc(t, tt.raw))
			if !errors.Is(err, ErrInvalidDescription) {
				t.Errorf("error = %v, want ErrInvalidDescription", err)
			}
		})
	}
}
