package decode

import (
	"strconv"
	"time"

	meshtasticpb "buf.build/gen/go/meshtastic/protobufs/protocolbuffers/go/meshtastic"

	"github.com/meshwatch/meshcollect/internal/canonical"
)

// Alias tables: one canonical field, all historical spellings per source
// format. Lookup order is precedence order.
var (
	gatewayAliases  = []string{"viaMqtt", "sender", "gatewayId", "gateway_id"}
	channelAliases  = []string{"channel", "channelId", "channel_id"}
	hopLimitAliases = []string{"hopLimit", "hop_limit"}
	rxTimeAliases   = []string{"rxTime", "rx_time"}

	// Envelope-level readings win over packet-level ones (see
	// canonical.PickSignal); the spellings identify the level.
	rssiEnvelopeAliases = []string{"rssi"}
	rssiPacketAliases   = []string{"rxRssi", "rx_rssi"}
	snrEnvelopeAliases  = []string{"snr"}
	snrPacketAliases    = []string{"rxSnr", "rx_snr"}

	latitudeAliases  = []string{"latitude", "lat"}
	longitudeAliases = []string{"longitude", "lon"}
	altitudeAliases  = []string{"altitude", "alt"}
	speedAliases     = []string{"groundSpeed", "ground_speed", "speed"}
	accuracyAliases  = []string{"pdop", "hAccuracy", "hdop"}

	longNameAliases  = []string{"longName", "long_name"}
	shortNameAliases = []string{"shortName", "short_name"}
	hwModelAliases   = []string{"hwModel", "hw_model"}
	userIDAliases    = []string{"id", "node_id", "nodeId"}

	positionShapeKeys = []string{"latitude", "longitude", "lat", "lon", "latitude_i", "longitude_i"}
)

// Normalize maps a decoded payload, whatever its source format, into the
// canonical Packet shape. Every extraction failure leaves the field absent.
func Normalize(fields map[string]any, topic string, receivedAt time.Time) Packet {
	decoded := asMap(fields["decoded"])

	pkt := Packet{
		Topic:      topic,
		ReceivedAt: receivedAt,
		From:       canonical.NodeID(firstValue(fields, "from")),
		To:         canonical.NodeID(firstValue(fields, "to")),
		ChannelID:  scalarString(firstValue(fields, channelAliases...)),
		MsgID:      scalarString(firstValue(fields, "id")),
		GatewayID:  canonical.NodeID(firstValue(fields, gatewayAliases...)),
		Raw:        fields,
	}

	if num := numberPtr(decoded, "portnum"); num != nil {
		port := int32(*num)
		pkt.PortNum = &port
	}

	if seq := numberPtr(decoded, "id"); seq != nil {
		v := int64(*seq)
		pkt.SeqNo = &v
	} else if seq := numberPtr(fields, "id"); seq != nil {
		v := int64(*seq)
		pkt.SeqNo = &v
	}

	if ts := firstNumber(fields, rxTimeAliases...); ts != nil && *ts > 0 {
		sec := int64(*ts)
		nsec := int64((*ts - float64(sec)) * 1e9)
		t := time.Unix(sec, nsec).UTC()
		pkt.RxTime = &t
	}

	if rssi := canonical.PickSignal(firstNumber(fields, rssiEnvelopeAliases...), firstNumber(fields, rssiPacketAliases...)); rssi != nil {
		v := int64(*rssi)
		pkt.RSSI = &v
	}
	pkt.SNR = canonical.PickSignal(firstNumber(fields, snrEnvelopeAliases...), firstNumber(fields, snrPacketAliases...))

	if hop := firstNumber(fields, hopLimitAliases...); hop != nil {
		v := int64(*hop)
		pkt.HopLimit = &v
	}

	pkt.Text = extractText(fields, decoded, pkt.PortNum)
	pkt.User = extractUser(fields, decoded)
	pkt.Position = extractPosition(fields, decoded)

	if metrics := asMap(firstValue(fields, "deviceMetrics", "device_metrics")); metrics != nil {
		pkt.Battery = numberPtr(metrics, "voltage")
	}

	return pkt
}

func extractText(fields, decoded map[string]any, portnum *int32) string {
	if text, ok := decoded["text"].(string); ok && text != "" {
		return text
	}
	if portnum == nil || *portnum != int32(meshtasticpb.PortNum_TEXT_MESSAGE_APP) {
		return ""
	}
	if payload, ok := decoded["payload"].(string); ok {
		return lossyString([]byte(payload))
	}
	return ""
}

// extractUser probes every historical alias that may hold an identity
// structure, decoded level before top level.
func extractUser(fields, decoded map[string]any) *UserInfo {
	candidates := []any{
		decoded["user"],
		decoded["nodeInfo"],
		decoded["nodeinfo"],
		fields["user"],
		fields["nodeInfo"],
		fields["nodeinfo"],
	}

	for _, candidate := range candidates {
		user := asMap(candidate)
		if user == nil {
			continue
		}
		info := &UserInfo{
			LongName:  scalarString(firstValue(user, longNameAliases...)),
			ShortName: scalarString(firstValue(user, shortNameAliases...)),
			HWModel:   canonical.HardwareModel(firstValue(user, hwModelAliases...)),
		}
		info.NodeID = canonical.NodeID(firstValue(user, userIDAliases...))
		if info.NodeID == "" {
			info.NodeID = canonical.NodeID(firstValue(fields, "from"))
		}
		info.DisplayName = info.LongName
		if info.DisplayName == "" {
			info.DisplayName = info.ShortName
		}
		return info
	}
	return nil
}

// extractPosition tries each position-bearing location in precedence order
// and normalizes the first candidate that looks like a position record.
func extractPosition(fields, decoded map[string]any) *PositionInfo {
	candidates := []any{
		decoded["position"],
		decoded["payload"],
		fields["position"],
		fields["payload"],
	}

	for _, candidate := range candidates {
		pos := asMap(candidate)
		if !looksLikePosition(pos) {
			continue
		}
		return normalizePosition(pos)
	}
	return nil
}

func looksLikePosition(pos map[string]any) bool {
	if pos == nil {
		return false
	}
	for _, key := range positionShapeKeys {
		if _, ok := pos[key]; ok {
			return true
		}
	}
	return false
}

func normalizePosition(pos map[string]any) *PositionInfo {
	lat, lon := canonical.ScalePosition(
		intPtr(pos, "latitude_i", "latitudeI"),
		intPtr(pos, "longitude_i", "longitudeI"),
		numberPtr(pos, "latitude"),
		numberPtr(pos, "longitude"),
	)
	if lat == nil {
		lat = numberPtr(pos, "lat")
	}
	if lon == nil {
		lon = numberPtr(pos, "lon")
	}

	return &PositionInfo{
		Latitude:  lat,
		Longitude: lon,
		Altitude:  firstNumber(pos, altitudeAliases...),
		Speed:     firstNumber(pos, speedAliases...),
		Heading:   numberPtr(pos, "heading"),
		Accuracy:  firstNumber(pos, accuracyAliases...),
	}
}

// --- payload map access helpers ---

func asMap(value any) map[string]any {
	m, _ := value.(map[string]any)
	return m
}

func firstValue(m map[string]any, keys ...string) any {
	for _, key := range keys {
		if value, ok := m[key]; ok && value != nil {
			return value
		}
	}
	return nil
}

func firstNumber(m map[string]any, keys ...string) *float64 {
	for _, key := range keys {
		if v := numberPtr(m, key); v != nil {
			return v
		}
	}
	return nil
}

func numberPtr(m map[string]any, key string) *float64 {
	if m == nil {
		return nil
	}
	switch v := m[key].(type) {
	case float64:
		return &v
	case int64:
		f := float64(v)
		return &f
	case int:
		f := float64(v)
		return &f
	case int32:
		f := float64(v)
		return &f
	default:
		return nil
	}
}

func intPtr(m map[string]any, keys ...string) *int64 {
	if v := firstNumber(m, keys...); v != nil {
		i := int64(*v)
		return &i
	}
	return nil
}

func scalarString(value any) string {
	switch v := value.(type) {
	case string:
		return v
	case float64:
		if v == float64(int64(v)) {
			return strconv.FormatInt(int64(v), 10)
		}
		return strconv.FormatFloat(v, 'f', -1, 64)
	case int64:
		return strconv.FormatInt(v, 10)
	case int:
		return strconv.Itoa(v)
	default:
		return ""
	}
}
