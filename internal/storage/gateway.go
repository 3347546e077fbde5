// Package storage implements the persistence gateway consumed by the
// routing layer: merge-upserts for devices and gateways, append-only rows
// for positions, messages and raw archives.
package storage

import (
	"context"
	"time"
)

// PositionRecord is one append-only position fix.
type PositionRecord struct {
	NodeID    string
	TS        time.Time
	Lat       *float64
	Lon       *float64
	Alt       *float64
	Speed     *float64
	Heading   *float64
	Accuracy  *float64
	BatteryV  *float64
	RSSI      *int64
	SNR       *float64
	SeqNo     *int64
	HopLimit  *int64
	GatewayID string
	ChannelID string
	MsgID     string
	Raw       []byte
}

// MessageRecord is one append-only text message.
type MessageRecord struct {
	NodeID    string
	TS        time.Time
	ToNode    string
	ChannelID string
	Body      string
	RxTime    *time.Time
	RSSI      *int64
	SNR       *float64
	HopLimit  *int64
	MsgID     string
	SeqNo     *int64
	GatewayID string
	Raw       []byte
}

// Gateway is the persistence surface the router and pipeline depend on.
// Implementations never deduplicate: repeated identical records produce
// independent rows.
type Gateway interface {
	// UpsertDevice merge-upserts a device row: non-empty incoming fields
	// overwrite, empty fields preserve the stored value, last_seen always
	// advances, first_seen is set only on insert.
	UpsertDevice(ctx context.Context, nodeID, displayName, hwModel string) error
	UpsertGateway(ctx context.Context, gatewayID string) error
	SavePosition(ctx context.Context, rec PositionRecord) error
	SaveMessage(ctx context.Context, rec MessageRecord) error
	// SaveRaw archives undecodable payload bytes verbatim under their topic.
	SaveRaw(ctx context.Context, topic string, payload []byte) error
}

// NopGateway drops everything (useful for tests and early bootstrap).
type NopGateway struct{}

func (NopGateway) UpsertDevice(context.Context, string, string, string) error { return nil }
func (NopGateway) UpsertGateway(context.Context, string) error                { return nil }
func (NopGateway) SavePosition(context.Context, PositionRecord) error         { return nil }
func (NopGateway) SaveMessage(context.Context, MessageRecord) error           { return nil }
func (NopGateway) SaveRaw(context.Context, string, []byte) error              { return nil }
