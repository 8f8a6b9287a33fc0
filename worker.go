package openwebnet

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"

	"go.openwebnet.dev/gateway/catalog"
	"go.openwebnet.dev/gateway/transport"
	"go.openwebnet.dev/gateway/transport/serial"
	"go.openwebnet.dev/gateway/transport/tcp"
)

// pollInterval is how often an idle ad-hoc command slot checks whether it
// has been idle long enough to close its session (spec §4.6 step 5).
const pollInterval = 500 * time.Millisecond

// Worker is the per-gateway supervisor (spec §4.6): a shared Generic and/or
// Event session, plus a pool of ad-hoc Command sessions bounded by
// GatewayOptions.MaxConcurrentCommandSessions.
type Worker struct {
	gw       Gateway
	caps     catalog.CapabilitySet
	metrics  *Metrics
	outgoing <-chan Notification
	incoming *Bus
	log      *slog.Logger
}

// NewWorker returns a Worker for gw. outgoing delivers MessageReady
// notifications addressed to gw; incoming is where MessageReceived and
// terminal notifications are published (spec §4.6: "one outgoing
// notification reader, one incoming notification writer"). logger may be
// nil, in which case slog.Default is used.
func NewWorker(gw Gateway, caps catalog.CapabilitySet, outgoing <-chan Notification, incoming *Bus, metrics *Metrics, logger *slog.Logger) *Worker {
	if logger == nil {
		logger = slog.Default()
	}
	return &Worker{gw: gw, caps: caps, outgoing: outgoing, incoming: incoming, metrics: metrics, log: logger}
}

// Run blocks until ctx is canceled, supervising every session this
// gateway's capabilities call for with an errgroup so any one of them
// failing doesn't leave the others running unsupervised.
func (w *Worker) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)

	if w.caps.Has(catalog.GenericSession) {
		g.Go(func() error { return w.runShared(ctx, GenericKind) })
	}
	if w.caps.Has(catalog.EventSession) {
		g.Go(func() error { return w.runShared(ctx, EventKind) })
	}
	if w.caps.Has(catalog.CommandSession) && w.gw.Options.MaxConcurrentCommandSessions > 0 {
		g.Go(func() error { return w.runCommandPool(ctx) })
	}

	return g.Wait()
}

// dial opens a fresh Transport for the gateway's configured medium.
func (w *Worker) dial(ctx context.Context) (transport.Transport, error) {
	switch w.gw.Transport.Kind {
	case TCP:
		addr := fmt.Sprintf("%s:%d", w.gw.Transport.TCP.Host, w.gw.Transport.TCP.Port)
		return tcp.Dial(ctx, addr)
	case Serial:
		ss := w.gw.Transport.Serial
		return serial.Open(serial.Settings{
			Device:   ss.Device,
			BaudRate: ss.BaudRate,
			DataBits: ss.DataBits,
			Parity:   ss.Parity,
			StopBits: ss.StopBits,
		})
	default:
		return nil, fmt.Errorf("openwebnet: gateway %s: unknown transport kind", w.gw.Name)
	}
}

// openSession dials a transport and negotiates a new Session of kind,
// retrying per the gateway's session resilience policy until it succeeds
// or ctx is done (spec §4.7 session policy, §4.6 step 1/2).
func (w *Worker) openSession(ctx context.Context, kind SessionKind) (*Session, error) {
	policy := w.gw.Options.SessionResilience
	for attempt := 0; ; attempt++ {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}

		tr, err := w.dial(ctx)
		if err == nil {
			s := NewSession(w.gw.Name, w.gw.Protocol, kind, w.gw.Password, tr, w.log)
			negCtx, cancel := context.WithTimeout(ctx, w.gw.Options.ConnectionNegotiationTimeout)
			err = s.Negotiate(negCtx)
			cancel()
			if err == nil {
				w.metrics.observeState(w.gw.Name, kind, Open)
				return s, nil
			}
			_ = s.Close()
		}

		w.log.Warn("session open attempt failed", "gateway", w.gw.Name, "session_kind", kind, "attempt", attempt, "error", err)
		w.metrics.observeReopen(w.gw.Name, kind)

		select {
		case <-time.After(policy.Backoff(attempt)):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
}

// runShared supervises the single long-lived Generic or Event session for
// this gateway (spec §4.6 "Shared-session worker"), reopening it per the
// session resilience policy whenever it faults.
func (w *Worker) runShared(ctx context.Context, kind SessionKind) error {
	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}

		s, err := w.openSession(ctx, kind)
		if err != nil {
			return err
		}

		faulted := make(chan struct{})
		s.Subscribe(
			func(msg Message) {
				w.incoming.Publish(terminalNotification(MessageReceived, w.gw.Name, msg, s.ID(), Transaction{}))
			},
			func(err error) {
				w.log.Error("session faulted", "gateway", w.gw.Name, "session_kind", kind, "session_id", s.ID(), "error", err)
			},
			func() { close(faulted) },
		)
		s.Connect()
		w.metrics.observeState(w.gw.Name, kind, Open)

		if kind == GenericKind {
			w.serveOutgoing(ctx, s, faulted)
		} else {
			select {
			case <-ctx.Done():
				_ = s.Close()
				return ctx.Err()
			case <-faulted:
			}
		}

		w.metrics.observeState(w.gw.Name, kind, Faulted)
	}
}

// serveOutgoing drains MessageReady notifications into sends on s until s
// faults or ctx is canceled (spec §4.6 step 3).
func (w *Worker) serveOutgoing(ctx context.Context, s *Session, faulted <-chan struct{}) {
	for {
		select {
		case <-ctx.Done():
			_ = s.Close()
			return
		case <-faulted:
			return
		case n, ok := <-w.outgoing:
			if !ok {
				_ = s.Close()
				return
			}
			if w.handleReady(ctx, s, n) {
				// Session-fatal error: stop serving on this session and
				// let runShared reopen a fresh one.
				return
			}
		}
	}
}

// handleReady sends one MessageReady notification's message and publishes
// the resulting terminal notification. It reports whether the session
// should be abandoned (a session-fatal error occurred).
func (w *Worker) handleReady(ctx context.Context, s *Session, n Notification) bool {
	medium := n.Message.Media
	onRetry := func(kind SendErrorKind) { w.metrics.observeRetry(w.gw.Name, w.gw.Protocol, kind) }
	result, sendErr := Send(ctx, s, w.gw.Options, w.gw.Options.OutgoingMessageResilience, medium, n.Message, n.Options, onRetry)

	if sendErr == nil {
		w.metrics.observeSend(w.gw.Name, w.gw.Protocol, "sent")
		w.incoming.Publish(terminalNotification(MessageSent, w.gw.Name, n.Message, s.ID(), n.Txn))
		for _, reply := range result.Replies {
			w.incoming.Publish(terminalNotification(MessageReceived, w.gw.Name, reply, s.ID(), Transaction{}))
		}
		return false
	}

	w.metrics.observeSend(w.gw.Name, w.gw.Protocol, sendErr.Kind.String())
	if kind, ok := terminalKindForError(sendErr.Kind); ok {
		w.incoming.Publish(terminalNotification(kind, w.gw.Name, n.Message, s.ID(), n.Txn))
	}
	return sendErr.SessionFatal
}

// runCommandPool supervises the ad-hoc Command session pool (spec §4.6
// "Ad-hoc command worker"): slots are spawned per notification, bounded by
// a semaphore at max_concurrent_command_sessions, rather than as a fixed
// set of persistent goroutines, since sessions here are genuinely ad-hoc.
func (w *Worker) runCommandPool(ctx context.Context) error {
	sem := semaphore.NewWeighted(int64(w.gw.Options.MaxConcurrentCommandSessions))
	g, ctx := errgroup.WithContext(ctx)

	for {
		select {
		case <-ctx.Done():
			return g.Wait()
		case n, ok := <-w.outgoing:
			if !ok {
				return g.Wait()
			}
			if err := sem.Acquire(ctx, 1); err != nil {
				return g.Wait()
			}
			g.Go(func() error {
				defer sem.Release(1)
				w.runCommandSlot(ctx, n)
				return nil
			})
		}
	}
}

// runCommandSlot opens one ad-hoc Command session, sends first, then
// opportunistically drains further MessageReady notifications on the same
// session until it has been idle for CommandSessionLifetime (spec §4.6
// steps 2-6).
func (w *Worker) runCommandSlot(ctx context.Context, first Notification) {
	s, err := w.openSession(ctx, CommandKind)
	if err != nil {
		return
	}
	s.Subscribe(
		func(msg Message) {
			w.incoming.Publish(terminalNotification(MessageReceived, w.gw.Name, msg, s.ID(), Transaction{}))
		},
		func(err error) {
			w.log.Error("command session faulted", "gateway", w.gw.Name, "session_id", s.ID(), "error", err)
		},
		func() {},
	)
	s.Connect()
	defer func() {
		_ = s.Close()
		w.metrics.observeState(w.gw.Name, CommandKind, Closed)
	}()

	if w.handleReady(ctx, s, first) {
		return
	}

	lastActivity := time.Now()
	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if time.Since(lastActivity) >= w.gw.Options.CommandSessionLifetime {
				return
			}
		case n, ok := <-w.outgoing:
			if !ok {
				return
			}
			if w.handleReady(ctx, s, n) {
				return
			}
			lastActivity = time.Now()
		}
	}
}
