// Package decode turns raw MQTT payloads into normalized packets through an
// ordered chain of decode attempts that never fails outward: any input that
// defeats every attempt is reported as ErrUndecodable so the caller can
// archive the original bytes verbatim.
package decode

import (
	"context"
	"errors"
	"strings"

	meshtasticpb "buf.build/gen/go/meshtastic/protobufs/protocolbuffers/go/meshtastic"
	"google.golang.org/protobuf/encoding/protowire"
	"google.golang.org/protobuf/proto"

	"github.com/meshwatch/meshcollect/internal/mqtt"
)

// ErrUndecodable marks input that produced no structured content on any
// attempt. It is the only error Decode returns.
var ErrUndecodable = errors.New("decode: payload not decodable")

// Decoder converts raw MQTT messages into normalized packets.
type Decoder interface {
	Decode(ctx context.Context, msg mqtt.Message) (Packet, error)
}

// MeshDecoder implements the three-format decode chain: JSON branch topics
// go through the JSON parser, everything else through the binary attempts.
type MeshDecoder struct{}

// NewMeshDecoder constructs the production decoder.
func NewMeshDecoder() MeshDecoder {
	return MeshDecoder{}
}

// Decode probes the payload and normalizes the first usable result.
func (d MeshDecoder) Decode(_ context.Context, msg mqtt.Message) (Packet, error) {
	var fields map[string]any
	if strings.Contains(msg.Topic, "/json/") {
		fields = decodeJSON(msg.Payload, msg.Topic)
	} else {
		fields = decodeBinary(msg.Payload, msg.Topic)
	}
	if fields == nil {
		return Packet{}, ErrUndecodable
	}
	return Normalize(fields, msg.Topic, msg.Time), nil
}

// binaryInput is prepared once per message and handed to every attempt.
type binaryInput struct {
	payload []byte
	topic   string
	// envelope is non-nil when the payload unmarshalled as a ServiceEnvelope;
	// unknown holds its length-delimited unknown fields, where legacy
	// envelope variants carry the opaque data / inline decoded payloads.
	envelope *meshtasticpb.ServiceEnvelope
	unknown  [][]byte
}

type binaryAttempt struct {
	name string
	run  func(in binaryInput) map[string]any
}

// binaryAttempts is the precedence order of the binary decode chain. Each
// attempt is isolated: a parse failure only disqualifies that attempt.
var binaryAttempts = []binaryAttempt{
	{name: "envelope inline packet", run: decodeEnvelopePacket},
	{name: "envelope opaque data", run: decodeEnvelopeOpaqueData},
	{name: "envelope-level decoded", run: decodeEnvelopeDecoded},
	{name: "bare mesh packet", run: decodeBarePacket},
}

func decodeBinary(payload []byte, topic string) map[string]any {
	if len(payload) == 0 {
		return nil
	}

	in := binaryInput{payload: payload, topic: topic}
	var env meshtasticpb.ServiceEnvelope
	if err := proto.Unmarshal(payload, &env); err == nil {
		in.envelope = &env
		in.unknown = lengthDelimitedFields(env.ProtoReflect().GetUnknown())
	}

	for _, attempt := range binaryAttempts {
		if fields := attempt.run(in); fields != nil {
			return fields
		}
	}
	return nil
}

func decodeEnvelopePacket(in binaryInput) map[string]any {
	if in.envelope == nil {
		return nil
	}
	pkt := in.envelope.GetPacket()
	if !usableMeshPacket(pkt) {
		return nil
	}
	return mapMeshPacket(pkt, in.envelope, in.topic)
}

func decodeEnvelopeOpaqueData(in binaryInput) map[string]any {
	if in.envelope == nil {
		return nil
	}
	for _, raw := range in.unknown {
		var pkt meshtasticpb.MeshPacket
		if err := proto.Unmarshal(raw, &pkt); err != nil {
			continue
		}
		if usableMeshPacket(&pkt) {
			return mapMeshPacket(&pkt, in.envelope, in.topic)
		}
	}
	return nil
}

func decodeEnvelopeDecoded(in binaryInput) map[string]any {
	if in.envelope == nil {
		return nil
	}
	for _, raw := range in.unknown {
		var data meshtasticpb.Data
		if err := proto.Unmarshal(raw, &data); err != nil {
			continue
		}
		if usableData(&data) {
			return mapEnvelopeData(&data, in.envelope, in.topic)
		}
	}
	return nil
}

func decodeBarePacket(in binaryInput) map[string]any {
	var pkt meshtasticpb.MeshPacket
	if err := proto.Unmarshal(in.payload, &pkt); err != nil {
		return nil
	}
	if !usableMeshPacket(&pkt) {
		return nil
	}
	// No envelope: gateway id and envelope metadata stay absent.
	return mapMeshPacket(&pkt, nil, in.topic)
}

// usableMeshPacket separates real packets from the empty messages that
// arbitrary bytes can legally unmarshal into.
func usableMeshPacket(pkt *meshtasticpb.MeshPacket) bool {
	if pkt == nil {
		return false
	}
	return pkt.GetFrom() != 0 || pkt.GetId() != 0 || pkt.GetDecoded() != nil || len(pkt.GetEncrypted()) > 0
}

func usableData(data *meshtasticpb.Data) bool {
	if data == nil {
		return false
	}
	return data.GetPortnum() != meshtasticpb.PortNum_UNKNOWN_APP && len(data.GetPayload()) > 0
}

// lengthDelimitedFields collects the values of all length-delimited unknown
// fields from a raw field buffer.
func lengthDelimitedFields(b []byte) [][]byte {
	var out [][]byte
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return out
		}
		b = b[n:]
		if typ == protowire.BytesType {
			value, m := protowire.ConsumeBytes(b)
			if m < 0 {
				return out
			}
			out = append(out, value)
			b = b[m:]
			continue
		}
		m := protowire.ConsumeFieldValue(num, typ, b)
		if m < 0 {
			return out
		}
		b = b[m:]
	}
	return out
}
