package sink

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/nats-io/nats.go"
	"go.opentelemetry.io/otel/propagation"

	"github.com/swarmguard/traceflow/internal/hashutil"
	"github.com/swarmguard/traceflow/internal/trace"
)

// NATSSink publishes each event to /svc/<status>/<node>. It degrades
// gracefully: if the broker is unreachable at construction time, callers
// get an error and the sink is simply left disabled rather than the engine
// failing to start.
type NATSSink struct {
	mu sync.Mutex
	nc *nats.Conn
}

// NewNATSSink connects to url with a short timeout. A connection failure is
// returned to the caller so it can omit the sink entirely.
func NewNATSSink(url string) (*NATSSink, error) {
	nc, err := nats.Connect(url, nats.Timeout(3*time.Second), nats.MaxReconnects(5))
	if err != nil {
		return nil, fmt.Errorf("sink: nats connect: %w", err)
	}
	return &NATSSink{nc: nc}, nil
}

// Write publishes event's canonical JSON to /svc/<status>/<node>, carrying
// the current trace context in NATS headers so a subscriber can continue
// the span.
func (s *NATSSink) Write(ctx context.Context, event trace.Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.nc == nil || s.nc.IsClosed() {
		return fmt.Errorf("sink: nats connection closed")
	}
	payload, err := hashutil.Canonical(event)
	if err != nil {
		return err
	}
	subject := fmt.Sprintf("/svc/%s/%s", event.Status, event.NodeName)
	msg := nats.NewMsg(subject)
	msg.Data = payload
	propagation.TraceContext{}.Inject(ctx, propagation.HeaderCarrier(msg.Header))
	return s.nc.PublishMsg(msg)
}

// Close drains and closes the NATS connection. Idempotent.
func (s *NATSSink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.nc == nil {
		return nil
	}
	if !s.nc.IsClosed() {
		if err := s.nc.Drain(); err != nil {
			s.nc.Close()
			s.nc = nil
			return err
		}
	}
	s.nc = nil
	return nil
}
