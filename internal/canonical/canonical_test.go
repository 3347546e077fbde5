package canonical

import (
	"math"
	"testing"

	meshtasticpb "buf.build/gen/go/meshtastic/protobufs/protocolbuffers/go/meshtastic"
)

func TestNodeIDForms(t *testing.T) {
	tests := []struct {
		name  string
		input any
		want  string
	}{
		{"int", 305419896, "!12345678"},
		{"int64", int64(0xAB), "!000000ab"},
		{"json number", float64(305419896), "!12345678"},
		{"digit string", "305419896", "!12345678"},
		{"already canonical", "!12345678", "!12345678"},
		{"opaque string", "gateway-7", "gateway-7"},
		{"empty string", "", ""},
		{"nil", nil, ""},
		{"negative", int64(-1), ""},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			if got := NodeID(tc.input); got != tc.want {
				t.Fatalf("NodeID(%v) = %q, want %q", tc.input, got, tc.want)
			}
		})
	}
}

func TestNodeIDIdempotent(t *testing.T) {
	once := NodeID(305419896)
	twice := NodeID(once)
	if once != twice {
		t.Fatalf("canonical form not idempotent: %q -> %q", once, twice)
	}
}

func TestNumericNodeIDRoundTrip(t *testing.T) {
	num, ok := NumericNodeID("!12345678")
	if !ok || num != 0x12345678 {
		t.Fatalf("NumericNodeID = %d, %v", num, ok)
	}
	if _, ok := NumericNodeID("not-hex"); ok {
		t.Fatal("expected parse failure for non-hex id")
	}
}

func TestScalePositionScaledIntegers(t *testing.T) {
	latI := int64(377749900)
	lonI := int64(-1224194200)
	lat, lon := ScalePosition(&latI, &lonI, nil, nil)
	if lat == nil || lon == nil {
		t.Fatal("expected both coordinates resolved")
	}
	if math.Abs(*lat-37.77499) > 1e-9 || math.Abs(*lon-(-122.41942)) > 1e-9 {
		t.Fatalf("unexpected coordinates: %f, %f", *lat, *lon)
	}
}

func TestScalePositionDecimalWins(t *testing.T) {
	latI := int64(10)
	decimal := 51.5
	lat, lon := ScalePosition(&latI, nil, &decimal, nil)
	if lat == nil || *lat != 51.5 {
		t.Fatalf("decimal latitude should win, got %v", lat)
	}
	if lon != nil {
		t.Fatalf("longitude should stay absent, got %v", *lon)
	}
}

func TestHardwareModelResolution(t *testing.T) {
	if got := HardwareModel("T1000E"); got != "T1000E" {
		t.Fatalf("string model changed: %q", got)
	}
	want := meshtasticpb.HardwareModel_name[int32(meshtasticpb.HardwareModel_TBEAM)]
	if got := HardwareModel(float64(meshtasticpb.HardwareModel_TBEAM)); got != want {
		t.Fatalf("enum model = %q, want %q", got, want)
	}
	if got := HardwareModel(int64(99999)); got != "99999" {
		t.Fatalf("unknown enumerator should stringify, got %q", got)
	}
	if got := HardwareModel(nil); got != "" {
		t.Fatalf("absent model should be empty, got %q", got)
	}
}

func TestPickSignalPrecedence(t *testing.T) {
	env := -90.0
	pkt := -120.0
	if got := PickSignal(&env, &pkt); got == nil || *got != -90.0 {
		t.Fatalf("envelope value should win, got %v", got)
	}
	if got := PickSignal(nil, &pkt); got == nil || *got != -120.0 {
		t.Fatalf("packet value should apply when envelope absent, got %v", got)
	}
	if got := PickSignal(nil, nil); got != nil {
		t.Fatalf("expected nil, got %v", *got)
	}
}
