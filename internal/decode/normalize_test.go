package decode_test

import (
	"testing"
	"time"

	"github.com/meshwatch/meshcollect/internal/decode"
)

var normalizeTime = time.Unix(1700000200, 0).UTC()

func TestNormalizeGatewayAliasPrecedence(t *testing.T) {
	fields := map[string]any{
		"viaMqtt":    "!11111111",
		"sender":     "!22222222",
		"gateway_id": "!33333333",
	}
	pkt := decode.Normalize(fields, "t", normalizeTime)
	if pkt.GatewayID != "!11111111" {
		t.Fatalf("expected viaMqtt to win, got %q", pkt.GatewayID)
	}

	delete(fields, "viaMqtt")
	pkt = decode.Normalize(fields, "t", normalizeTime)
	if pkt.GatewayID != "!22222222" {
		t.Fatalf("expected sender next, got %q", pkt.GatewayID)
	}
}

func TestNormalizeSignalPrecedence(t *testing.T) {
	fields := map[string]any{
		"rssi":   float64(-70),
		"rxRssi": float64(-95),
		"snr":    float64(11.25),
		"rxSnr":  float64(3.5),
	}
	pkt := decode.Normalize(fields, "t", normalizeTime)
	if pkt.RSSI == nil || *pkt.RSSI != -70 {
		t.Fatalf("expected envelope rssi to win, got %v", pkt.RSSI)
	}
	if pkt.SNR == nil || *pkt.SNR != 11.25 {
		t.Fatalf("expected envelope snr to win, got %v", pkt.SNR)
	}

	delete(fields, "rssi")
	delete(fields, "snr")
	pkt = decode.Normalize(fields, "t", normalizeTime)
	if pkt.RSSI == nil || *pkt.RSSI != -95 {
		t.Fatalf("expected packet rssi fallback, got %v", pkt.RSSI)
	}
	if pkt.SNR == nil || *pkt.SNR != 3.5 {
		t.Fatalf("expected packet snr fallback, got %v", pkt.SNR)
	}
}

func TestNormalizeSnakeCaseSpellings(t *testing.T) {
	fields := map[string]any{
		"from":       float64(305419896),
		"channel_id": "Private",
		"hop_limit":  float64(5),
		"rx_time":    float64(1700000000),
	}
	pkt := decode.Normalize(fields, "t", normalizeTime)
	if pkt.From != "!12345678" {
		t.Fatalf("expected canonical from, got %q", pkt.From)
	}
	if pkt.ChannelID != "Private" {
		t.Fatalf("expected channel_id alias, got %q", pkt.ChannelID)
	}
	if pkt.HopLimit == nil || *pkt.HopLimit != 5 {
		t.Fatalf("expected hop_limit alias, got %v", pkt.HopLimit)
	}
	if pkt.RxTime == nil || pkt.RxTime.Unix() != 1700000000 {
		t.Fatalf("expected rx_time alias, got %v", pkt.RxTime)
	}
}

func TestNormalizeTextRequiresTextPort(t *testing.T) {
	fields := map[string]any{
		"decoded": map[string]any{
			"portnum": float64(3),
			"payload": "not a text payload",
		},
	}
	pkt := decode.Normalize(fields, "t", normalizeTime)
	if pkt.Text != "" {
		t.Fatalf("expected no text for non-text port, got %q", pkt.Text)
	}

	fields["decoded"].(map[string]any)["portnum"] = float64(1)
	pkt = decode.Normalize(fields, "t", normalizeTime)
	if pkt.Text != "not a text payload" {
		t.Fatalf("expected payload as text on text port, got %q", pkt.Text)
	}
}

func TestNormalizeUserFallsBackToSender(t *testing.T) {
	fields := map[string]any{
		"from": float64(305419896),
		"decoded": map[string]any{
			"user": map[string]any{
				"longName": "Trail Node",
				"hwModel":  "TBEAM",
			},
		},
	}
	pkt := decode.Normalize(fields, "t", normalizeTime)
	if pkt.User == nil {
		t.Fatal("expected user info")
	}
	if pkt.User.NodeID != "!12345678" {
		t.Fatalf("expected sender fallback, got %q", pkt.User.NodeID)
	}
	if pkt.User.DisplayName != "Trail Node" {
		t.Fatalf("expected long name display, got %q", pkt.User.DisplayName)
	}
	if pkt.User.HWModel != "TBEAM" {
		t.Fatalf("expected hw model passthrough, got %q", pkt.User.HWModel)
	}
}

func TestNormalizePositionDecimalWins(t *testing.T) {
	fields := map[string]any{
		"position": map[string]any{
			"latitude":    float64(55.75),
			"latitude_i":  float64(377749900),
			"longitude_i": float64(-1224194200),
		},
	}
	pkt := decode.Normalize(fields, "t", normalizeTime)
	if pkt.Position == nil {
		t.Fatal("expected position")
	}
	if pkt.Position.Latitude == nil || *pkt.Position.Latitude != 55.75 {
		t.Fatalf("expected decimal latitude to win, got %v", pkt.Position.Latitude)
	}
	if pkt.Position.Longitude == nil || *pkt.Position.Longitude != -122.41942 {
		t.Fatalf("expected scaled longitude, got %v", pkt.Position.Longitude)
	}
}

func TestNormalizeNonPositionPayloadIgnored(t *testing.T) {
	fields := map[string]any{
		"payload": map[string]any{"air_util_tx": float64(3.1)},
	}
	pkt := decode.Normalize(fields, "t", normalizeTime)
	if pkt.Position != nil {
		t.Fatalf("expected no position for telemetry-shaped payload, got %+v", pkt.Position)
	}
}

func TestNormalizeBatteryFromDeviceMetrics(t *testing.T) {
	fields := map[string]any{
		"deviceMetrics": map[string]any{"voltage": float64(3.87)},
	}
	pkt := decode.Normalize(fields, "t", normalizeTime)
	if pkt.Battery == nil || *pkt.Battery != 3.87 {
		t.Fatalf("expected battery voltage, got %v", pkt.Battery)
	}
}
