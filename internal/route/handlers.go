package route

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/meshwatch/meshcollect/internal/decode"
	"github.com/meshwatch/meshcollect/internal/storage"
)

// handleText persists one text message. The body and a resolvable sender are
// both required; a packet missing either is dropped silently.
func (r *Router) handleText(ctx context.Context, pkt decode.Packet) error {
	if pkt.Text == "" {
		r.logger.Debug("text port without body dropped", slog.String("topic", pkt.Topic))
		return nil
	}
	if pkt.From == "" {
		r.logger.Debug("text without sender dropped", slog.String("topic", pkt.Topic))
		return nil
	}

	r.upsertShell(ctx, pkt.From)

	rec := storage.MessageRecord{
		NodeID:    pkt.From,
		TS:        eventTime(pkt),
		ToNode:    pkt.To,
		ChannelID: pkt.ChannelID,
		Body:      pkt.Text,
		RxTime:    pkt.RxTime,
		RSSI:      pkt.RSSI,
		SNR:       pkt.SNR,
		HopLimit:  pkt.HopLimit,
		MsgID:     pkt.MsgID,
		SeqNo:     pkt.SeqNo,
		GatewayID: pkt.GatewayID,
		Raw:       rawJSON(pkt),
	}
	if err := r.gateway.SaveMessage(ctx, rec); err != nil {
		return fmt.Errorf("route: save message: %w", err)
	}
	r.metrics.IncTextStored()
	return nil
}

// handlePosition persists one position fix, again keyed on the sender.
func (r *Router) handlePosition(ctx context.Context, pkt decode.Packet) error {
	if pkt.From == "" {
		r.logger.Debug("position without sender dropped", slog.String("topic", pkt.Topic))
		return nil
	}

	r.upsertShell(ctx, pkt.From)

	rec := storage.PositionRecord{
		NodeID:    pkt.From,
		TS:        eventTime(pkt),
		Lat:       pkt.Position.Latitude,
		Lon:       pkt.Position.Longitude,
		Alt:       pkt.Position.Altitude,
		Speed:     pkt.Position.Speed,
		Heading:   pkt.Position.Heading,
		Accuracy:  pkt.Position.Accuracy,
		BatteryV:  pkt.Battery,
		RSSI:      pkt.RSSI,
		SNR:       pkt.SNR,
		SeqNo:     pkt.SeqNo,
		HopLimit:  pkt.HopLimit,
		GatewayID: pkt.GatewayID,
		ChannelID: pkt.ChannelID,
		MsgID:     pkt.MsgID,
		Raw:       rawJSON(pkt),
	}
	if err := r.gateway.SavePosition(ctx, rec); err != nil {
		return fmt.Errorf("route: save position: %w", err)
	}
	r.metrics.IncPositionStored()
	return nil
}

// eventTime is the radio timestamp when the packet carries one, the receive
// time otherwise.
func eventTime(pkt decode.Packet) time.Time {
	if pkt.RxTime != nil {
		return *pkt.RxTime
	}
	return pkt.ReceivedAt
}
