package openwebnet

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"golang.org/x/sync/errgroup"

	"go.openwebnet.dev/gateway/catalog"
)

// ErrUnknownGateway is returned when a caller names a gateway the Manager
// wasn't configured with.
var ErrUnknownGateway = fmt.Errorf("openwebnet: unknown gateway")

// outgoingQueueSize bounds each gateway's MessageReady queue. Unlike the
// incoming Bus (spec §4.8, explicitly unbounded/non-blocking), the spec
// places no such requirement on the outgoing direction, so a generously
// sized buffered channel is enough to decouple callers from worker
// scheduling jitter without unbounded memory growth.
const outgoingQueueSize = 256

// Manager owns one Worker per configured Gateway and the shared incoming
// notification Bus they all publish to (spec §4.9, adapted from the
// teacher's CallHomeServer: a small options-configured supervisor owning a
// set of per-peer workers and exposing channel-based client-facing APIs).
type Manager struct {
	bus     *Bus
	lookup  catalog.Lookup
	metrics *Metrics
	log     *slog.Logger

	mu       sync.Mutex
	gateways map[string]Gateway
	outbox   map[string]chan Notification
}

// ManagerOption configures a Manager at construction time.
type ManagerOption func(*Manager)

// WithLookup supplies the device definition catalog consulted at worker
// startup (spec §6). Without one, DefaultCapabilities(proto) is used.
func WithLookup(lookup catalog.Lookup) ManagerOption {
	return func(m *Manager) { m.lookup = lookup }
}

// WithMetrics attaches Prometheus instrumentation to every Worker the
// Manager starts.
func WithMetrics(metrics *Metrics) ManagerOption {
	return func(m *Manager) { m.metrics = metrics }
}

// WithLogger attaches a structured logger to every Worker and Session the
// Manager starts. Without one, slog.Default is used.
func WithLogger(logger *slog.Logger) ManagerOption {
	return func(m *Manager) { m.log = logger }
}

// NewManager returns a Manager configured with gateways. It does not start
// any workers; call Run for that.
func NewManager(gateways []Gateway, opts ...ManagerOption) *Manager {
	m := &Manager{
		bus:      NewBus(),
		gateways: make(map[string]Gateway, len(gateways)),
		outbox:   make(map[string]chan Notification, len(gateways)),
	}
	for _, gw := range gateways {
		m.gateways[gw.Name] = gw
		m.outbox[gw.Name] = make(chan Notification, outgoingQueueSize)
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Run starts one Worker per configured gateway and blocks until ctx is
// canceled or a worker returns a non-cancellation error, at which point
// every other worker is stopped too (spec §5: the stop token "propagates to
// every worker, session, and send SM in a tree").
func (m *Manager) Run(ctx context.Context) error {
	m.mu.Lock()
	workers := make([]*Worker, 0, len(m.gateways))
	for name, gw := range m.gateways {
		caps := m.capabilitiesFor(gw)
		workers = append(workers, NewWorker(gw, caps, m.outbox[name], m.bus, m.metrics, m.log))
	}
	m.mu.Unlock()

	g, ctx := errgroup.WithContext(ctx)
	for _, worker := range workers {
		worker := worker
		g.Go(func() error { return worker.Run(ctx) })
	}
	return g.Wait()
}

func (m *Manager) capabilitiesFor(gw Gateway) catalog.CapabilitySet {
	if m.lookup != nil && gw.Brand != "" && gw.Model != "" {
		if def, ok := m.lookup.Lookup(catalog.Key{Brand: gw.Brand, Model: gw.Model}); ok {
			return def.Capabilities
		}
	}
	return catalog.DefaultCapabilities(toCatalogProtocol(gw.Protocol))
}

// toCatalogProtocol converts the core's Protocol to the catalog package's
// mirrored enum (see catalog.Protocol's doc comment for why they're
// distinct types).
func toCatalogProtocol(p Protocol) catalog.Protocol {
	switch p {
	case Scs:
		return catalog.Scs
	case Zigbee:
		return catalog.Zigbee
	default:
		return catalog.Nitoo
	}
}

// Send enqueues a MessageReady notification for gateway's worker to pick up
// (spec §6: "the core consumes MessageReady{gateway, message, options,
// transaction}"). It returns ErrUnknownGateway if gateway isn't configured.
func (m *Manager) Send(gateway string, msg Message, opts TransmissionOption) (Transaction, error) {
	m.mu.Lock()
	ch, ok := m.outbox[gateway]
	m.mu.Unlock()
	if !ok {
		return Transaction{}, ErrUnknownGateway
	}

	txn := NewTransaction()
	ch <- readyNotification(gateway, msg, opts, txn)
	return txn, nil
}

// Subscribe registers a consumer of the Manager's incoming notification
// stream (spec §4.8), optionally filtered to one gateway.
func (m *Manager) Subscribe(gateway string) (<-chan Notification, func()) {
	return m.bus.Subscribe(gateway)
}
