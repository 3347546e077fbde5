package pipeline_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/meshwatch/meshcollect/internal/decode"
	"github.com/meshwatch/meshcollect/internal/mqtt"
	"github.com/meshwatch/meshcollect/internal/pipeline"
)

func TestPipelineHandsPacketsToSink(t *testing.T) {
	client := newStubClient()
	sink := newStubSink()
	p := pipeline.New(client, stubDecoder{}, sink)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		if err := p.Run(ctx); err != nil {
			t.Errorf("pipeline run error: %v", err)
		}
		close(done)
	}()

	<-client.started

	client.messages <- mqtt.Message{Topic: "msh/US/e/LongFast/!abcd", Payload: []byte("data")}

	select {
	case pkt := <-sink.handled:
		if pkt.Topic != "msh/US/e/LongFast/!abcd" {
			t.Fatalf("unexpected topic %q", pkt.Topic)
		}
	case <-time.After(500 * time.Millisecond):
		t.Fatal("expected packet to reach sink")
	}

	cancel()
	client.closeChannels()
	<-done
}

func TestPipelineArchivesUndecodable(t *testing.T) {
	client := newStubClient()
	sink := newStubSink()
	p := pipeline.New(client, failingDecoder{}, sink)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		if err := p.Run(ctx); err != nil {
			t.Errorf("pipeline run error: %v", err)
		}
		close(done)
	}()

	<-client.started

	client.messages <- mqtt.Message{Topic: "msh/US/e/LongFast/!abcd", Payload: []byte{0xFF, 0x00}}

	select {
	case raw := <-sink.archived:
		if raw.topic != "msh/US/e/LongFast/!abcd" {
			t.Fatalf("unexpected topic %q", raw.topic)
		}
		if len(raw.payload) != 2 || raw.payload[0] != 0xFF {
			t.Fatalf("payload not preserved verbatim: %v", raw.payload)
		}
	case <-time.After(500 * time.Millisecond):
		t.Fatal("expected undecodable payload to be archived")
	}

	select {
	case pkt := <-sink.handled:
		t.Fatalf("unexpected handled packet %+v", pkt)
	default:
	}

	cancel()
	client.closeChannels()
	<-done
}

func TestPipelineSurvivesSinkErrors(t *testing.T) {
	client := newStubClient()
	sink := newStubSink()
	sink.handleErr = errors.New("disk full")
	p := pipeline.New(client, stubDecoder{}, sink)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		if err := p.Run(ctx); err != nil {
			t.Errorf("pipeline run error: %v", err)
		}
		close(done)
	}()

	<-client.started

	client.messages <- mqtt.Message{Topic: "msh/first"}
	<-sink.handled

	select {
	case err := <-p.Errors():
		if err == nil {
			t.Fatal("expected handler error to be forwarded")
		}
	case <-time.After(500 * time.Millisecond):
		t.Fatal("expected handler error on the error channel")
	}

	// A failed handler must not stop the stream.
	client.messages <- mqtt.Message{Topic: "msh/second"}
	select {
	case <-sink.handled:
	case <-time.After(500 * time.Millisecond):
		t.Fatal("expected pipeline to keep consuming after a handler error")
	}

	cancel()
	client.closeChannels()
	<-done
}

func TestPipelineForwardsClientErrors(t *testing.T) {
	client := newStubClient()
	sink := newStubSink()
	p := pipeline.New(client, stubDecoder{}, sink)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		if err := p.Run(ctx); err != nil {
			t.Errorf("pipeline run error: %v", err)
		}
		close(done)
	}()

	<-client.started

	client.errs <- errors.New("mqtt failure")

	select {
	case err := <-p.Errors():
		if err == nil || err.Error() == "" {
			t.Fatalf("expected forwarded error, got %v", err)
		}
	case <-time.After(500 * time.Millisecond):
		t.Fatal("expected error to be forwarded")
	}

	cancel()
	client.closeChannels()
	<-done
}

// --- test doubles ---

type stubClient struct {
	messages chan mqtt.Message
	errs     chan error
	started  chan struct{}
	stopOnce sync.Once
}

func newStubClient() *stubClient {
	return &stubClient{
		messages: make(chan mqtt.Message, 1),
		errs:     make(chan error, 1),
		started:  make(chan struct{}),
	}
}

func (s *stubClient) Start(context.Context) error {
	s.stopOnce = sync.Once{}
	closeChan(s.started)
	return nil
}

func (s *stubClient) Stop() {
	s.closeChannels()
}

func (s *stubClient) closeChannels() {
	s.stopOnce.Do(func() {
		closeChan(s.messages)
		closeChan(s.errs)
	})
}

func (s *stubClient) Messages() <-chan mqtt.Message { return s.messages }
func (s *stubClient) Errors() <-chan error          { return s.errs }

type stubDecoder struct{}

func (stubDecoder) Decode(_ context.Context, msg mqtt.Message) (decode.Packet, error) {
	return decode.Packet{
		Topic:      msg.Topic,
		ReceivedAt: msg.Time,
	}, nil
}

type failingDecoder struct{}

func (failingDecoder) Decode(context.Context, mqtt.Message) (decode.Packet, error) {
	return decode.Packet{}, decode.ErrUndecodable
}

type archivedRaw struct {
	topic   string
	payload []byte
}

type stubSink struct {
	handled   chan decode.Packet
	archived  chan archivedRaw
	handleErr error
}

func newStubSink() *stubSink {
	return &stubSink{
		handled:  make(chan decode.Packet, 4),
		archived: make(chan archivedRaw, 4),
	}
}

func (s *stubSink) Handle(_ context.Context, pkt decode.Packet) error {
	s.handled <- pkt
	return s.handleErr
}

func (s *stubSink) ArchiveRaw(_ context.Context, topic string, payload []byte) error {
	s.archived <- archivedRaw{topic: topic, payload: append([]byte(nil), payload...)}
	return nil
}

func closeChan[T any](ch chan T) {
	defer func() { _ = recover() }()
	close(ch)
}
