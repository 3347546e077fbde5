// Package route dispatches normalized packets to their handlers: identity
// extraction and gateway tracking run for every packet, then exactly one of
// the text, position or raw-archive paths takes the payload.
package route

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	meshtasticpb "buf.build/gen/go/meshtastic/protobufs/protocolbuffers/go/meshtastic"

	"github.com/meshwatch/meshcollect/internal/decode"
	"github.com/meshwatch/meshcollect/internal/observability"
	"github.com/meshwatch/meshcollect/internal/storage"
)

// Router routes decoded packets into the persistence gateway.
type Router struct {
	gateway storage.Gateway
	logger  *slog.Logger
	metrics *observability.Metrics
}

// Option configures the router.
type Option func(*Router)

// WithLogger injects a structured logger.
func WithLogger(logger *slog.Logger) Option {
	return func(r *Router) {
		if logger != nil {
			r.logger = logger
		}
	}
}

// WithMetrics attaches metrics instrumentation.
func WithMetrics(metrics *observability.Metrics) Option {
	return func(r *Router) {
		if metrics != nil {
			r.metrics = metrics
		}
	}
}

// New constructs a router writing through the given gateway.
func New(gateway storage.Gateway, opts ...Option) *Router {
	r := &Router{
		gateway: gateway,
		logger:  slog.Default(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Handle processes one packet. Identity and gateway bookkeeping happen for
// every packet regardless of which payload handler runs; a packet that fits
// no handler is archived verbatim so nothing observed is lost.
func (r *Router) Handle(ctx context.Context, pkt decode.Packet) error {
	r.ingestIdentity(ctx, pkt)
	r.ingestGateway(ctx, pkt)

	switch {
	case pkt.HasText(int32(meshtasticpb.PortNum_TEXT_MESSAGE_APP)):
		return r.handleText(ctx, pkt)
	case pkt.Position != nil:
		return r.handlePosition(ctx, pkt)
	default:
		return r.archiveUnrouted(ctx, pkt)
	}
}

// ArchiveRaw stores payload bytes that defeated the decode chain.
func (r *Router) ArchiveRaw(ctx context.Context, topic string, payload []byte) error {
	if err := r.gateway.SaveRaw(ctx, topic, payload); err != nil {
		return fmt.Errorf("route: archive raw: %w", err)
	}
	r.metrics.IncRawArchived()
	return nil
}

// ingestIdentity merge-upserts device identity when the packet announces
// one: a node id plus at least one of display name or hardware model. A bare
// sender id is not an identity; the payload handlers create that shell row
// themselves. Failures are logged, not returned: identity is best effort and
// must never block the payload write.
func (r *Router) ingestIdentity(ctx context.Context, pkt decode.Packet) {
	if pkt.User == nil {
		return
	}
	if pkt.User.DisplayName == "" && pkt.User.HWModel == "" {
		return
	}
	nodeID := pkt.User.NodeID
	if nodeID == "" {
		nodeID = pkt.From
	}
	if nodeID == "" {
		return
	}
	if err := r.gateway.UpsertDevice(ctx, nodeID, pkt.User.DisplayName, pkt.User.HWModel); err != nil {
		r.logger.Warn("device upsert failed",
			slog.String("node_id", nodeID), slog.Any("error", err))
		return
	}
	r.metrics.IncDeviceUpsert()
}

// upsertShell guarantees the sender's device row exists before an append
// references it. Field-less, so COALESCE keeps any identity already stored.
func (r *Router) upsertShell(ctx context.Context, nodeID string) {
	if err := r.gateway.UpsertDevice(ctx, nodeID, "", ""); err != nil {
		r.logger.Warn("device shell upsert failed",
			slog.String("node_id", nodeID), slog.Any("error", err))
		return
	}
	r.metrics.IncDeviceUpsert()
}

func (r *Router) ingestGateway(ctx context.Context, pkt decode.Packet) {
	if pkt.GatewayID == "" {
		return
	}
	if err := r.gateway.UpsertGateway(ctx, pkt.GatewayID); err != nil {
		r.logger.Warn("gateway upsert failed",
			slog.String("gateway_id", pkt.GatewayID), slog.Any("error", err))
		return
	}
	r.metrics.IncGatewayUpsert()
}

func (r *Router) archiveUnrouted(ctx context.Context, pkt decode.Packet) error {
	payload := rawJSON(pkt)
	if payload == nil {
		payload = []byte("{}")
	}
	return r.ArchiveRaw(ctx, pkt.Topic, payload)
}

func rawJSON(pkt decode.Packet) []byte {
	if pkt.Raw == nil {
		return nil
	}
	data, err := json.Marshal(pkt.Raw)
	if err != nil {
		return nil
	}
	return data
}
