// Package pipeline wires the MQTT stream through the decoder into the
// router with a single sequential consumer.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/meshwatch/meshcollect/internal/decode"
	"github.com/meshwatch/meshcollect/internal/mqtt"
	"github.com/meshwatch/meshcollect/internal/observability"
)

// Client abstracts the MQTT client behaviour required by the pipeline.
type Client interface {
	Start(ctx context.Context) error
	Stop()
	Messages() <-chan mqtt.Message
	Errors() <-chan error
}

// Sink consumes decoded packets and archives undecodable payloads.
type Sink interface {
	Handle(ctx context.Context, pkt decode.Packet) error
	ArchiveRaw(ctx context.Context, topic string, payload []byte) error
}

// Pipeline connects the MQTT client, decoder and sink. Messages are consumed
// one at a time so writes reach storage in arrival order; per-message
// failures are reported and never stop the stream.
type Pipeline struct {
	client  Client
	decoder decode.Decoder
	sink    Sink
	logger  *slog.Logger
	metrics *observability.Metrics
	errCh   chan error
	wg      sync.WaitGroup
}

// Option configures the pipeline.
type Option func(*Pipeline)

// WithLogger injects a structured logger.
func WithLogger(logger *slog.Logger) Option {
	return func(p *Pipeline) {
		if logger != nil {
			p.logger = logger
		}
	}
}

// WithMetrics attaches metrics instrumentation.
func WithMetrics(metrics *observability.Metrics) Option {
	return func(p *Pipeline) {
		if metrics != nil {
			p.metrics = metrics
		}
	}
}

// New creates a pipeline instance.
func New(client Client, decoder decode.Decoder, sink Sink, opts ...Option) *Pipeline {
	p := &Pipeline{
		client:  client,
		decoder: decoder,
		sink:    sink,
		logger:  slog.Default(),
		errCh:   make(chan error, 32),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Errors exposes asynchronous processing errors.
func (p *Pipeline) Errors() <-chan error {
	return p.errCh
}

// Run starts the pipeline and blocks until the context is cancelled or the client stops.
func (p *Pipeline) Run(ctx context.Context) error {
	if p.client == nil {
		return fmt.Errorf("pipeline: client is nil")
	}
	if p.decoder == nil {
		return fmt.Errorf("pipeline: decoder is nil")
	}
	if p.sink == nil {
		return fmt.Errorf("pipeline: sink is nil")
	}

	if err := p.client.Start(ctx); err != nil {
		return fmt.Errorf("pipeline: start client: %w", err)
	}

	p.wg.Add(2)
	go p.consume(ctx)
	go p.forwardClientErrors(ctx)

	<-ctx.Done()
	p.client.Stop()
	p.wg.Wait()
	close(p.errCh)

	return nil
}

func (p *Pipeline) consume(ctx context.Context) {
	defer p.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-p.client.Messages():
			if !ok {
				return
			}
			p.process(ctx, msg)
		}
	}
}

func (p *Pipeline) process(ctx context.Context, msg mqtt.Message) {
	p.metrics.IncMessagesReceived()

	pkt, err := p.decoder.Decode(ctx, msg)
	if errors.Is(err, decode.ErrUndecodable) {
		p.metrics.IncDecodeFailures()
		if err := p.sink.ArchiveRaw(ctx, msg.Topic, msg.Payload); err != nil {
			p.publishErr(fmt.Errorf("pipeline: archive raw: %w", err))
		}
		return
	}
	if err != nil {
		p.metrics.IncDecodeFailures()
		p.publishErr(fmt.Errorf("pipeline: decode: %w", err))
		return
	}

	if err := p.sink.Handle(ctx, pkt); err != nil {
		p.logger.Warn("packet handling failed",
			slog.String("topic", msg.Topic), slog.Any("error", err))
		p.publishErr(fmt.Errorf("pipeline: handle: %w", err))
	}
}

func (p *Pipeline) forwardClientErrors(ctx context.Context) {
	defer p.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case err, ok := <-p.client.Errors():
			if !ok {
				return
			}
			p.publishErr(fmt.Errorf("pipeline: mqtt: %w", err))
		}
	}
}

func (p *Pipeline) publishErr(err error) {
	if err == nil {
		return
	}
	p.metrics.IncPipelineErrors()
	select {
	case p.errCh <- err:
	default:
	}
}
