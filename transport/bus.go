// Package transport carries the protocol's primary external contract: typed
// events fanned out to subscribers (indexers, relayers), plus the in-process
// binding between the registry and its voucher hub for standalone mode.
package transport

import (
	"context"
	"crypto/ed25519"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.uber.org/zap"

	"github.com/qanchornet/qanchor/logging"
)

var (
	publishedMetric = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "qanchor",
		Subsystem: "transport",
		Name:      "events_published_total",
		Help:      "Number of events published on the bus",
	}, []string{"unit", "kind"})

	droppedMetric = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "qanchor",
		Subsystem: "transport",
		Name:      "events_dropped_total",
		Help:      "Number of events dropped on full subscriber buffers",
	}, []string{"unit"})
)

const defaultSubscriberBuffer = 64

type busOption func(*Bus)

// WithIdentity makes the bus sign every envelope with the service identity
// key before fan-out.
func WithIdentity(key ed25519.PrivateKey) busOption {
	return func(b *Bus) {
		b.key = key
	}
}

// WithSubscriberBuffer sets the per-subscriber channel capacity.
func WithSubscriberBuffer(n int) busOption {
	return func(b *Bus) {
		b.buffer = n
	}
}

// Bus is an in-memory pub/sub event feed. Publishing never blocks: a
// subscriber that cannot keep up loses events (and only that subscriber) --
// a deliberate slow-indexer policy, since protocol calls must not wait on
// observers.
type Bus struct {
	key    ed25519.PrivateKey
	buffer int

	mu      sync.Mutex
	seq     uint64
	subs    map[int]*subscriber
	nextSub int
	closed  bool
}

type subscriber struct {
	kinds map[Kind]struct{}
	ch    chan Envelope
}

func (s *subscriber) wants(kind Kind) bool {
	if len(s.kinds) == 0 {
		return true
	}
	_, ok := s.kinds[kind]
	return ok
}

func NewBus(opts ...busOption) *Bus {
	b := &Bus{
		buffer: defaultSubscriberBuffer,
		subs:   make(map[int]*subscriber),
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Subscribe registers a new subscriber for the given kinds (all kinds when
// none are named). The returned cancel function drops the subscription and
// closes the channel; the channel is also closed when the bus shuts down.
func (b *Bus) Subscribe(kinds ...Kind) (<-chan Envelope, func()) {
	sub := &subscriber{ch: make(chan Envelope, b.buffer)}
	if len(kinds) > 0 {
		sub.kinds = make(map[Kind]struct{}, len(kinds))
		for _, k := range kinds {
			sub.kinds[k] = struct{}{}
		}
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		close(sub.ch)
		return sub.ch, func() {}
	}
	id := b.nextSub
	b.nextSub++
	b.subs[id] = sub

	return sub.ch, func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		if s, ok := b.subs[id]; ok {
			delete(b.subs, id)
			close(s.ch)
		}
	}
}

// Close shuts the bus down and closes all subscriber channels. Publishing
// afterwards is a no-op.
func (b *Bus) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	b.closed = true
	for id, sub := range b.subs {
		delete(b.subs, id)
		close(sub.ch)
	}
}

// Emitter binds a unit name to the bus. Units hold an Emitter and publish
// through it; a nil Emitter swallows events, so units run without a bus in
// isolated tests.
type Emitter struct {
	bus  *Bus
	unit string
}

func (b *Bus) Emitter(unit string) *Emitter {
	return &Emitter{bus: b, unit: unit}
}

// Publish wraps event in an envelope and fans it out. Failures to encode or
// sign are logged and the event is skipped; protocol state was already
// committed by the caller and must not be rolled back over feed trouble.
func (e *Emitter) Publish(ctx context.Context, kind Kind, event any) {
	if e == nil || e.bus == nil {
		return
	}
	e.bus.publish(ctx, e.unit, kind, event)
}

func (b *Bus) publish(ctx context.Context, unit string, kind Kind, event any) {
	env := Envelope{
		ID:    uuid.New(),
		Unit:  unit,
		Time:  time.Now(),
		Kind:  kind,
		Event: event,
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	b.seq++
	env.Seq = b.seq

	if b.key != nil {
		if err := env.seal(b.key); err != nil {
			logging.FromContext(ctx).Error(
				"failed to sign event envelope - skipping publish",
				zap.String("unit", unit),
				zap.String("kind", string(kind)),
				zap.Error(err),
			)
			return
		}
	}

	publishedMetric.WithLabelValues(unit, string(kind)).Inc()
	for _, sub := range b.subs {
		if !sub.wants(kind) {
			continue
		}
		select {
		case sub.ch <- env:
		default:
			droppedMetric.WithLabelValues(unit).Inc()
			logging.FromContext(ctx).Warn(
				"subscriber can't keep up - dropping event",
				zap.String("unit", unit),
				zap.String("kind", string(kind)),
				zap.Uint64("seq", env.Seq),
			)
		}
	}
}
