package device

import (
	"errors"
	"fmt"
	"strings"
)

// ErrInvalidDescription indicates a CoIoT device description that does
// not follow the documented blk/sen structure.
var ErrInvalidDescription = errors.New("invalid device description")

// BlockKind is the closed set of block categories a CoIoT description
// can announce. Unknown descriptions map to BlockUnknown rather than
// failing, since firmware adds block types over time.
type BlockKind uint8

const (
	BlockUnknown BlockKind = iota
	BlockDevice
	BlockRelay
	BlockRoller
	BlockLight
	BlockEmeter
	BlockSensor
)

// blockKinds maps the description prefix of a block (the part before
// the underscore, e.g. "relay" in "relay_0") to its kind.
var blockKinds = map[string]BlockKind{
	"device": BlockDevice,
	"relay":  BlockRelay,
	"roller": BlockRoller,
	"light":  BlockLight,
	"emeter": BlockEmeter,
	"sensor": BlockSensor,
}

func (k BlockKind) String() string {
	switch k {
	case BlockDevice:
		return "device"
	case BlockRelay:
		return "relay"
	case BlockRoller:
		return "roller"
	case BlockLight:
		return "light"
	case BlockEmeter:
		return "emeter"
	case BlockSensor:
		return "sensor"
	default:
		return "unknown"
	}
}

// KindOf resolves a block description like "relay_0" to its kind.
func KindOf(description string) BlockKind {
	prefix, _, _ := strings.Cut(description, "_")
	return blockKinds[strings.ToLower(prefix)]
}

// Block is one functional block of a generation 1 device.
type Block struct {
	ID          int
	Kind        BlockKind
	Description string
	Sensors     []Sensor
}

// Sensor is one value slot within a block, identified by the ID used
// in CoIoT status reports.
type Sensor struct {
	ID          int
	Type        string
	Description string
	Unit        string
	BlockID     int
}

// ParseDescription decodes a CoIoT /cit/d payload into blocks with
// their attached sensors.
func ParseDescription(doc map[string]any) ([]Block, error) {
	rawBlocks, ok := doc["blk"].([]any)
	if !ok {
		return nil, fmt.Errorf("%w: missing blk list", ErrInvalidDescription)
	}

	byID := make(map[int]*Block, len(rawBlocks))
	order := make([]int, 0, len(rawBlocks))
	for _, rb := range rawBlocks {
		entry, ok := rb.(map[string]any)
		if !ok {
			return nil, fmt.Errorf("%w: malformed blk entry", ErrInvalidDescription)
		}
		id, ok := intField(entry, "I")
		if !ok {
			return nil, fmt.Errorf("%w: blk entry without id", ErrInvalidDescription)
		}
		desc, _ := entry["D"].(string)
		byID[id] = &Block{ID: id, Kind: KindOf(desc), Description: desc}
		order = append(order, id)
	}

	if rawSensors, ok := doc["sen"].([]any); ok {
		for _, rs := range rawSensors {
			entry, ok := rs.(map[string]any)
			if !ok {
				return nil, fmt.Errorf("%w: malformed sen entry", ErrInvalidDescription)
			}
			id, ok := intField(entry, "I")
			if !ok {
				return nil, fmt.Errorf("%w: sen entry without id", ErrInvalidDescription)
			}
			sensor := Sensor{ID: id}
			sensor.Type, _ = entry["T"].(string)
			sensor.Description, _ = entry["D"].(string)
			sensor.Unit, _ = entry["U"].(string)

			// L links the sensor to its block; it may be a single id or
			// a list, in which case the sensor belongs to the first.
			switch link := entry["L"].(type) {
			case float64:
				sensor.BlockID = int(link)
			case []any:
				if len(link) > 0 {
					if v, ok := link[0].(float64); ok {
						sensor.BlockID = int(v)
					}
				}
			}

			if blk, ok := byID[sensor.BlockID]; ok {
				blk.Sensors = append(blk.Sensors, sensor)
			}
		}
	}

	blocks := make([]Block, 0, len(order))
	for _, id := range order {
		blocks = append(blocks, *byID[id])
	}
	return blocks, nil
}

// ParseStatus decodes a CoIoT /cit/s payload, a "G" list of
// [channel, sensor id, value] triples, into a sensor id to value map.
func ParseStatus(doc map[string]any) (map[int]any, error) {
	raw, ok := doc["G"].([]any)
	if !ok {
		return nil, fmt.Errorf("%w: missing G list", ErrInvalidDescription)
	}

	values := make(map[int]any, len(raw))
	for _, rt := range raw {
		triple, ok := rt.([]any)
		if !ok || len(triple) != 3 {
			return nil, fmt.Errorf("%w: malformed G triple", ErrInvalidDescription)
		}
		id, ok := triple[1].(float64)
		if !ok {
			return nil, fmt.Errorf("%w: non-numeric sensor id", ErrInvalidDescription)
		}
		values[int(id)] = triple[2]
	}
	return values, nil
}

func intField(entry map[string]any, key string) (int, bool) {
	v, ok := entry[key].(float64)
	if !ok {
		return 0, false
	}
	return int(v), true
}
