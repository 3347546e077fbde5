// Package testutil provides protobuf payload builders shared by the decode
// and pipeline tests.
package testutil

import (
	"testing"

	meshtasticpb "buf.build/gen/go/meshtastic/protobufs/protocolbuffers/go/meshtastic"
	"google.golang.org/protobuf/proto"
)

// BytesRepeating creates a slice filled with a repeated byte.
func BytesRepeating(b byte, count int) []byte {
	buf := make([]byte, count)
	for i := range buf {
		buf[i] = b
	}
	return buf
}

// BuildServiceEnvelope marshals a service envelope with common defaults used in tests.
func BuildServiceEnvelope(t testing.TB, data *meshtasticpb.Data) []byte {
	t.Helper()
	env := &meshtasticpb.ServiceEnvelope{
		ChannelId: "LongFast",
		GatewayId: "!abcdef12",
		Packet: &meshtasticpb.MeshPacket{
			Id:       123,
			From:     0x12345678,
			To:       0xFFFFFFFF,
			RxTime:   1700000000,
			RxRssi:   -92,
			RxSnr:    6.5,
			HopLimit: 3,
			PayloadVariant: &meshtasticpb.MeshPacket_Decoded{
				Decoded: data,
			},
		},
	}
	payload, err := proto.Marshal(env)
	if err != nil {
		t.Fatalf("marshal service envelope: %v", err)
	}
	return payload
}

// BuildBareMeshPacket marshals a packet with no surrounding envelope.
func BuildBareMeshPacket(t testing.TB, data *meshtasticpb.Data) []byte {
	t.Helper()
	pkt := &meshtasticpb.MeshPacket{
		Id:   456,
		From: 0x12345678,
		To:   0xFFFFFFFF,
		PayloadVariant: &meshtasticpb.MeshPacket_Decoded{
			Decoded: data,
		},
	}
	payload, err := proto.Marshal(pkt)
	if err != nil {
		t.Fatalf("marshal mesh packet: %v", err)
	}
	return payload
}

// BuildTextMessageData returns a text message payload.
func BuildTextMessageData() *meshtasticpb.Data {
	return &meshtasticpb.Data{
		Portnum: meshtasticpb.PortNum_TEXT_MESSAGE_APP,
		Payload: []byte("hello mesh"),
	}
}

// BuildPositionData creates a POSITION payload around downtown San Francisco.
func BuildPositionData(t testing.TB) *meshtasticpb.Data {
	t.Helper()
	position := &meshtasticpb.Position{
		LatitudeI:   proto.Int32(377749900),
		LongitudeI:  proto.Int32(-1224194200),
		Altitude:    proto.Int32(16),
		GroundSpeed: proto.Uint32(3),
		GroundTrack: proto.Uint32(18000000),
		PDOP:        150,
	}
	payload, err := proto.Marshal(position)
	if err != nil {
		t.Fatalf("marshal position: %v", err)
	}
	return &meshtasticpb.Data{
		Portnum: meshtasticpb.PortNum_POSITION_APP,
		Payload: payload,
	}
}

// BuildUserData produces a NODEINFO payload carrying device identity.
func BuildUserData(t testing.TB) *meshtasticpb.Data {
	t.Helper()
	user := &meshtasticpb.User{
		Id:        "!12345678",
		LongName:  "Test Node",
		ShortName: "TN",
		HwModel:   meshtasticpb.HardwareModel_HELTEC_V3,
	}
	payload, err := proto.Marshal(user)
	if err != nil {
		t.Fatalf("marshal user: %v", err)
	}
	return &meshtasticpb.Data{
		Portnum: meshtasticpb.PortNum_NODEINFO_APP,
		Payload: payload,
	}
}
