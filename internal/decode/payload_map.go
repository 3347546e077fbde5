package decode

import (
	"strings"

	meshtasticpb "buf.build/gen/go/meshtastic/protobufs/protocolbuffers/go/meshtastic"
	"google.golang.org/protobuf/proto"

	"github.com/meshwatch/meshcollect/internal/canonical"
)

// The binary decoders do not fill Packet directly: they map protobuf
// structures into the same intermediate payload map the JSON branch parses
// into, so a single Normalizer serves all three wire formats. Keys follow
// the historical JSON convention (camelCase, "viaMqtt" for the gateway id).

func mapMeshPacket(pkt *meshtasticpb.MeshPacket, env *meshtasticpb.ServiceEnvelope, topic string) map[string]any {
	fields := map[string]any{
		"topic":   topic,
		"decoded": mapData(pkt.GetDecoded()),
	}

	if from := pkt.GetFrom(); from != 0 {
		fields["from"] = canonical.NodeIDFromInt(int64(from))
	}
	if to := pkt.GetTo(); to != 0 {
		fields["to"] = canonical.NodeIDFromInt(int64(to))
	}
	if id := pkt.GetId(); id != 0 {
		fields["id"] = int64(id)
	}
	if rxTime := pkt.GetRxTime(); rxTime != 0 {
		fields["rxTime"] = int64(rxTime)
	}
	if hopLimit := pkt.GetHopLimit(); hopLimit != 0 {
		fields["hopLimit"] = int64(hopLimit)
	}

	// Radio metrics live on the packet; the envelope carries none in the
	// current schema. Packet-level spellings keep the envelope-over-packet
	// precedence rule meaningful once both sources coexist in one payload.
	if rssi := pkt.GetRxRssi(); rssi != 0 {
		fields["rxRssi"] = int64(rssi)
	}
	if snr := pkt.GetRxSnr(); snr != 0 {
		fields["rxSnr"] = float64(snr)
	}

	if env.GetChannelId() != "" {
		fields["channel"] = env.GetChannelId()
	} else if ch := pkt.GetChannel(); ch != 0 {
		fields["channel"] = int64(ch)
	}
	if gw := env.GetGatewayId(); gw != "" {
		fields["viaMqtt"] = gw
	}

	return fields
}

func mapEnvelopeData(data *meshtasticpb.Data, env *meshtasticpb.ServiceEnvelope, topic string) map[string]any {
	fields := map[string]any{
		"topic":   topic,
		"decoded": mapData(data),
	}
	if env.GetChannelId() != "" {
		fields["channel"] = env.GetChannelId()
	}
	if gw := env.GetGatewayId(); gw != "" {
		fields["viaMqtt"] = gw
	}
	return fields
}

// mapData extracts portnum-keyed content from a Data message. Every parse
// failure leaves the corresponding key absent; nothing raises.
func mapData(data *meshtasticpb.Data) map[string]any {
	decoded := map[string]any{}
	if data == nil {
		return decoded
	}

	portnum := data.GetPortnum()
	decoded["portnum"] = int64(portnum)

	switch portnum {
	case meshtasticpb.PortNum_TEXT_MESSAGE_APP:
		if text := lossyString(data.GetPayload()); text != "" {
			decoded["text"] = text
		}
	case meshtasticpb.PortNum_POSITION_APP:
		if pos := decodePositionBytes(data.GetPayload()); pos != nil {
			decoded["position"] = pos
		}
	case meshtasticpb.PortNum_NODEINFO_APP:
		if user := decodeUserBytes(data.GetPayload()); user != nil {
			decoded["user"] = user
		}
	}

	return decoded
}

func decodePositionBytes(payload []byte) map[string]any {
	if len(payload) == 0 {
		return nil
	}
	var pos meshtasticpb.Position
	if err := proto.Unmarshal(payload, &pos); err != nil {
		return nil
	}
	fields := map[string]any{}
	if latI := pos.GetLatitudeI(); latI != 0 {
		fields["latitude_i"] = int64(latI)
	}
	if lonI := pos.GetLongitudeI(); lonI != 0 {
		fields["longitude_i"] = int64(lonI)
	}
	if alt := pos.GetAltitude(); alt != 0 {
		fields["altitude"] = int64(alt)
	}
	if speed := pos.GetGroundSpeed(); speed != 0 {
		fields["groundSpeed"] = int64(speed)
	}
	if track := pos.GetGroundTrack(); track != 0 {
		// ground_track is degrees * 1e-5 on the wire.
		fields["heading"] = float64(track) * 1e-5
	}
	if pdop := pos.GetPDOP(); pdop != 0 {
		fields["pdop"] = float64(pdop)
	}
	if hdop := pos.GetHDOP(); hdop != 0 {
		fields["hAccuracy"] = float64(hdop)
	}
	if len(fields) == 0 {
		return nil
	}
	return fields
}

func decodeUserBytes(payload []byte) map[string]any {
	if len(payload) == 0 {
		return nil
	}
	var user meshtasticpb.User
	if err := proto.Unmarshal(payload, &user); err != nil {
		return nil
	}
	if user.GetId() == "" && user.GetLongName() == "" && user.GetShortName() == "" && user.GetHwModel() == 0 {
		return nil
	}
	fields := map[string]any{}
	if id := user.GetId(); id != "" {
		fields["id"] = id
	}
	if long := user.GetLongName(); long != "" {
		fields["longName"] = long
	}
	if short := user.GetShortName(); short != "" {
		fields["shortName"] = short
	}
	if hw := user.GetHwModel(); hw != 0 {
		fields["hwModel"] = canonical.HardwareModel(hw)
	}
	return fields
}

// lossyString converts payload bytes to text, replacing invalid UTF-8
// sequences instead of rejecting the message.
func lossyString(payload []byte) string {
	if len(payload) == 0 {
		return ""
	}
	return strings.ToValidUTF8(string(payload), "�")
}
