package decode

import "time"

// Packet is the canonical, source-format-independent shape every inbound
// message is normalized into. Exactly one routing decision consumes it.
// Optional fields are pointers (numeric) or empty strings; Raw keeps the
// original payload structure verbatim for audit.
type Packet struct {
	Topic      string
	ReceivedAt time.Time

	From      string
	To        string
	ChannelID string
	MsgID     string
	SeqNo     *int64
	RxTime    *time.Time
	RSSI      *int64
	SNR       *float64
	HopLimit  *int64
	GatewayID string
	PortNum   *int32

	Text     string
	User     *UserInfo
	Position *PositionInfo
	Battery  *float64

	Raw map[string]any
}

// UserInfo carries a device-identity announcement.
type UserInfo struct {
	NodeID      string
	LongName    string
	ShortName   string
	HWModel     string
	DisplayName string
}

// PositionInfo carries a normalized position fix.
type PositionInfo struct {
	Latitude  *float64
	Longitude *float64
	Altitude  *float64
	Speed     *float64
	Heading   *float64
	Accuracy  *float64
}

// HasText reports whether the packet should be dispatched as a text message.
func (p Packet) HasText(textPort int32) bool {
	if p.Text != "" {
		return true
	}
	return p.PortNum != nil && *p.PortNum == textPort
}
