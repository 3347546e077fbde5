// Package canonical holds the pure field-normalization rules shared by the
// decode and routing layers: node identifiers, coordinate scaling, hardware
// model resolution and signal-field precedence.
package canonical

import (
	"fmt"
	"strconv"
	"strings"

	meshtasticpb "buf.build/gen/go/meshtastic/protobufs/protocolbuffers/go/meshtastic"
)

const coordinateScale = 1e7

// NodeIDFromInt renders a numeric node id in its canonical form:
// "!" followed by eight lowercase hex digits. Negative ids have no
// canonical form and yield the empty string.
func NodeIDFromInt(num int64) string {
	if num < 0 {
		return ""
	}
	return fmt.Sprintf("!%08x", uint32(num))
}

// NodeID normalizes any historical node-id representation. Integers and
// all-digit strings become the canonical "!xxxxxxxx" form; strings already
// prefixed with "!" and any other non-numeric strings pass through
// unchanged; everything else yields the empty string. Idempotent.
func NodeID(value any) string {
	switch v := value.(type) {
	case nil:
		return ""
	case string:
		if v == "" {
			return ""
		}
		if strings.HasPrefix(v, "!") {
			return v
		}
		if isAllDigits(v) {
			if num, err := strconv.ParseInt(v, 10, 64); err == nil {
				return NodeIDFromInt(num)
			}
		}
		return v
	case int:
		return NodeIDFromInt(int64(v))
	case int32:
		return NodeIDFromInt(int64(v))
	case int64:
		return NodeIDFromInt(v)
	case uint32:
		return NodeIDFromInt(int64(v))
	case uint64:
		return NodeIDFromInt(int64(uint32(v)))
	case float64:
		// JSON numbers arrive as float64.
		return NodeIDFromInt(int64(v))
	default:
		return ""
	}
}

// NumericNodeID parses a canonical "!xxxxxxxx" id back to its numeric form.
func NumericNodeID(id string) (uint32, bool) {
	trimmed := strings.TrimSpace(id)
	if trimmed == "" {
		return 0, false
	}
	trimmed = strings.TrimPrefix(trimmed, "!")
	value, err := strconv.ParseUint(trimmed, 16, 32)
	if err != nil {
		return 0, false
	}
	return uint32(value), true
}

// ScalePosition reconciles the two coordinate conventions. Already-decimal
// lat/lon win; otherwise the scaled-integer fields are divided by 1e7.
// Each coordinate resolves independently, so one may stay absent.
func ScalePosition(latI, lonI *int64, lat, lon *float64) (*float64, *float64) {
	outLat := lat
	if outLat == nil && latI != nil {
		v := float64(*latI) / coordinateScale
		outLat = &v
	}
	outLon := lon
	if outLon == nil && lonI != nil {
		v := float64(*lonI) / coordinateScale
		outLon = &v
	}
	return outLat, outLon
}

// HardwareModel resolves a hardware-model field to its symbolic name.
// Strings pass through; enum numbers resolve through the wire-schema name
// table, falling back to the stringified number for unknown enumerators.
func HardwareModel(value any) string {
	switch v := value.(type) {
	case nil:
		return ""
	case string:
		return v
	case int:
		return hardwareModelName(int32(v))
	case int32:
		return hardwareModelName(v)
	case int64:
		return hardwareModelName(int32(v))
	case float64:
		return hardwareModelName(int32(v))
	case meshtasticpb.HardwareModel:
		return hardwareModelName(int32(v))
	default:
		return fmt.Sprintf("%v", v)
	}
}

func hardwareModelName(value int32) string {
	if name, ok := meshtasticpb.HardwareModel_name[value]; ok {
		return name
	}
	return strconv.FormatInt(int64(value), 10)
}

// PickSignal applies the envelope-over-packet precedence used for RSSI and
// SNR: the envelope-level reading wins whenever both are present.
func PickSignal(envelope, packet *float64) *float64 {
	if envelope != nil {
		return envelope
	}
	return packet
}

func isAllDigits(s string) bool {
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return len(s) > 0
}
