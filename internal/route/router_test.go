package route_test

import (
	"context"
	"testing"
	"time"

	"github.com/meshwatch/meshcollect/internal/decode"
	"github.com/meshwatch/meshcollect/internal/route"
	"github.com/meshwatch/meshcollect/internal/storage"
)

func basePacket() decode.Packet {
	return decode.Packet{
		Topic:      "msh/US/2/e/LongFast/!abcdef12",
		ReceivedAt: time.Unix(1700000300, 0).UTC(),
		Raw:        map[string]any{"topic": "msh/US/2/e/LongFast/!abcdef12"},
	}
}

func TestHandleTextMessage(t *testing.T) {
	rec := newRecorder()
	r := route.New(rec)

	pkt := basePacket()
	pkt.From = "!12345678"
	pkt.Text = "on my way"
	pkt.ChannelID = "LongFast"
	pkt.GatewayID = "!abcdef12"

	if err := r.Handle(context.Background(), pkt); err != nil {
		t.Fatalf("handle: %v", err)
	}

	if len(rec.messages) != 1 {
		t.Fatalf("expected one message, got %d", len(rec.messages))
	}
	msg := rec.messages[0]
	if msg.NodeID != "!12345678" || msg.Body != "on my way" {
		t.Fatalf("unexpected message record: %+v", msg)
	}
	if len(msg.Raw) == 0 {
		t.Fatal("expected raw payload JSON on the message record")
	}
	if len(rec.positions) != 0 || len(rec.raws) != 0 {
		t.Fatalf("text must not reach other handlers: %+v", rec)
	}
	if len(rec.devices) != 1 || rec.devices[0].nodeID != "!12345678" {
		t.Fatalf("expected sender identity upsert, got %+v", rec.devices)
	}
	if len(rec.gateways) != 1 || rec.gateways[0] != "!abcdef12" {
		t.Fatalf("expected gateway upsert, got %+v", rec.gateways)
	}
}

func TestHandleTextPortWithoutBodyDropped(t *testing.T) {
	rec := newRecorder()
	r := route.New(rec)

	port := int32(1)
	pkt := basePacket()
	pkt.From = "!12345678"
	pkt.PortNum = &port

	if err := r.Handle(context.Background(), pkt); err != nil {
		t.Fatalf("handle: %v", err)
	}
	if len(rec.messages) != 0 {
		t.Fatalf("empty-body message must not be persisted, got %+v", rec.messages)
	}
	if len(rec.positions) != 0 || len(rec.raws) != 0 {
		t.Fatalf("expected silent drop, got %+v", rec)
	}
	if len(rec.devices) != 0 {
		t.Fatalf("dropped message must not create device rows, got %+v", rec.devices)
	}
}

func TestHandleTextWithoutSenderDropped(t *testing.T) {
	rec := newRecorder()
	r := route.New(rec)

	pkt := basePacket()
	pkt.Text = "anonymous"

	if err := r.Handle(context.Background(), pkt); err != nil {
		t.Fatalf("handle: %v", err)
	}
	if len(rec.messages) != 0 || len(rec.positions) != 0 || len(rec.raws) != 0 {
		t.Fatalf("expected nothing persisted, got %+v", rec)
	}
	if len(rec.devices) != 0 {
		t.Fatalf("no sender means no identity, got %+v", rec.devices)
	}
}

func TestHandleTextWinsOverPosition(t *testing.T) {
	rec := newRecorder()
	r := route.New(rec)

	lat := 37.77499
	pkt := basePacket()
	pkt.From = "!12345678"
	pkt.Text = "both payloads"
	pkt.Position = &decode.PositionInfo{Latitude: &lat}

	if err := r.Handle(context.Background(), pkt); err != nil {
		t.Fatalf("handle: %v", err)
	}
	if len(rec.messages) != 1 || len(rec.positions) != 0 {
		t.Fatalf("expected text to take precedence: %+v", rec)
	}
}

func TestHandlePosition(t *testing.T) {
	rec := newRecorder()
	r := route.New(rec)

	lat, lon := 37.77499, -122.41942
	battery := 3.92
	pkt := basePacket()
	pkt.From = "!12345678"
	pkt.ChannelID = "LongFast"
	pkt.Position = &decode.PositionInfo{Latitude: &lat, Longitude: &lon}
	pkt.Battery = &battery

	if err := r.Handle(context.Background(), pkt); err != nil {
		t.Fatalf("handle: %v", err)
	}
	if len(rec.positions) != 1 {
		t.Fatalf("expected one position, got %d", len(rec.positions))
	}
	pos := rec.positions[0]
	if pos.NodeID != "!12345678" {
		t.Fatalf("unexpected node id %q", pos.NodeID)
	}
	if pos.Lat == nil || *pos.Lat != lat || pos.Lon == nil || *pos.Lon != lon {
		t.Fatalf("coordinates lost: %+v", pos)
	}
	if pos.BatteryV == nil || *pos.BatteryV != battery {
		t.Fatalf("battery lost: %+v", pos.BatteryV)
	}
}

func TestHandlersPreferRadioTimestamp(t *testing.T) {
	rec := newRecorder()
	r := route.New(rec)

	rx := time.Unix(1600000000, 0).UTC()
	lat := 37.77499

	pos := basePacket()
	pos.From = "!12345678"
	pos.RxTime = &rx
	pos.Position = &decode.PositionInfo{Latitude: &lat}
	if err := r.Handle(context.Background(), pos); err != nil {
		t.Fatalf("handle position: %v", err)
	}
	if len(rec.positions) != 1 || !rec.positions[0].TS.Equal(rx) {
		t.Fatalf("position TS must be the radio timestamp, got %+v", rec.positions)
	}

	msg := basePacket()
	msg.From = "!12345678"
	msg.RxTime = &rx
	msg.Text = "timestamped"
	if err := r.Handle(context.Background(), msg); err != nil {
		t.Fatalf("handle text: %v", err)
	}
	if len(rec.messages) != 1 || !rec.messages[0].TS.Equal(rx) {
		t.Fatalf("message TS must be the radio timestamp, got %+v", rec.messages)
	}

	// Without a radio timestamp the receive time applies.
	late := basePacket()
	late.From = "!12345678"
	late.Position = &decode.PositionInfo{Latitude: &lat}
	if err := r.Handle(context.Background(), late); err != nil {
		t.Fatalf("handle position: %v", err)
	}
	if !rec.positions[1].TS.Equal(late.ReceivedAt) {
		t.Fatalf("expected receive-time fallback, got %v", rec.positions[1].TS)
	}
}

func TestHandleShellForSenderDistinctFromIdentity(t *testing.T) {
	rec := newRecorder()
	r := route.New(rec)

	pkt := basePacket()
	pkt.From = "!11111111"
	pkt.Text = "relayed nodeinfo"
	pkt.User = &decode.UserInfo{NodeID: "!22222222", DisplayName: "Ridge Relay"}

	if err := r.Handle(context.Background(), pkt); err != nil {
		t.Fatalf("handle: %v", err)
	}
	if len(rec.devices) != 2 {
		t.Fatalf("expected identity and sender-shell upserts, got %+v", rec.devices)
	}
	if rec.devices[0].nodeID != "!22222222" || rec.devices[0].displayName != "Ridge Relay" {
		t.Fatalf("unexpected identity upsert: %+v", rec.devices[0])
	}
	if rec.devices[1].nodeID != "!11111111" || rec.devices[1].displayName != "" {
		t.Fatalf("expected field-less sender shell, got %+v", rec.devices[1])
	}
	if len(rec.messages) != 1 {
		t.Fatalf("expected message persisted, got %+v", rec.messages)
	}
}

func TestHandleIdentityPrefersUserInfo(t *testing.T) {
	rec := newRecorder()
	r := route.New(rec)

	pkt := basePacket()
	pkt.From = "!12345678"
	pkt.User = &decode.UserInfo{
		NodeID:      "!87654321",
		DisplayName: "Summit Repeater",
		HWModel:     "RAK4631",
	}

	if err := r.Handle(context.Background(), pkt); err != nil {
		t.Fatalf("handle: %v", err)
	}
	if len(rec.devices) != 1 {
		t.Fatalf("expected one device upsert, got %d", len(rec.devices))
	}
	dev := rec.devices[0]
	if dev.nodeID != "!87654321" || dev.displayName != "Summit Repeater" || dev.hwModel != "RAK4631" {
		t.Fatalf("unexpected device upsert: %+v", dev)
	}
}

func TestHandleUnroutedArchivesRaw(t *testing.T) {
	rec := newRecorder()
	r := route.New(rec)

	port := int32(67)
	pkt := basePacket()
	pkt.From = "!12345678"
	pkt.PortNum = &port
	pkt.Raw = map[string]any{"decoded": map[string]any{"portnum": float64(67)}}

	if err := r.Handle(context.Background(), pkt); err != nil {
		t.Fatalf("handle: %v", err)
	}
	if len(rec.raws) != 1 {
		t.Fatalf("expected raw archive, got %+v", rec)
	}
	if rec.raws[0].topic != pkt.Topic {
		t.Fatalf("archive topic mismatch: %q", rec.raws[0].topic)
	}
	if len(rec.devices) != 0 {
		t.Fatalf("unrouted packets must not create device rows, got %+v", rec.devices)
	}
}

func TestArchiveRaw(t *testing.T) {
	rec := newRecorder()
	r := route.New(rec)

	if err := r.ArchiveRaw(context.Background(), "msh/t", []byte{0x01, 0x02}); err != nil {
		t.Fatalf("archive raw: %v", err)
	}
	if len(rec.raws) != 1 || len(rec.raws[0].payload) != 2 {
		t.Fatalf("expected verbatim archive, got %+v", rec.raws)
	}
}

// --- recording gateway ---

type deviceUpsert struct {
	nodeID      string
	displayName string
	hwModel     string
}

type rawArchive struct {
	topic   string
	payload []byte
}

type recorder struct {
	devices   []deviceUpsert
	gateways  []string
	positions []storage.PositionRecord
	messages  []storage.MessageRecord
	raws      []rawArchive
}

func newRecorder() *recorder { return &recorder{} }

func (r *recorder) UpsertDevice(_ context.Context, nodeID, displayName, hwModel string) error {
	r.devices = append(r.devices, deviceUpsert{nodeID, displayName, hwModel})
	return nil
}

func (r *recorder) UpsertGateway(_ context.Context, gatewayID string) error {
	r.gateways = append(r.gateways, gatewayID)
	return nil
}

func (r *recorder) SavePosition(_ context.Context, rec storage.PositionRecord) error {
	r.positions = append(r.positions, rec)
	return nil
}

func (r *recorder) SaveMessage(_ context.Context, rec storage.MessageRecord) error {
	r.messages = append(r.messages, rec)
	return nil
}

func (r *recorder) SaveRaw(_ context.Context, topic string, payload []byte) error {
	r.raws = append(r.raws, rawArchive{topic: topic, payload: payload})
	return nil
}
