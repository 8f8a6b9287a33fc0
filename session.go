package openwebnet

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"sync"
	"sync/atomic"

	"go.openwebnet.dev/gateway/transport"
)

// SessionKind selects which of the three session roles a Session plays
// (spec §3/§4.4).
type SessionKind int

const (
	GenericKind SessionKind = iota
	CommandKind
	EventKind
)

func (k SessionKind) String() string {
	switch k {
	case GenericKind:
		return "generic"
	case CommandKind:
		return "command"
	case EventKind:
		return "event"
	default:
		return "unknown"
	}
}

// SessionState is a Session's place in the state machine from spec §4.4.
type SessionState int

const (
	Negotiating SessionState = iota
	Open
	Closing
	Closed
	Faulted
)

func (s SessionState) String() string {
	switch s {
	case Negotiating:
		return "negotiating"
	case Open:
		return "open"
	case Closing:
		return "closing"
	case Closed:
		return "closed"
	case Faulted:
		return "faulted"
	default:
		return "unknown"
	}
}

var nextSessionID atomic.Uint64

// Session owns one transport, multiplexing a single serialized send at a
// time with an always-running reader that delivers unsolicited frames to a
// subscriber (spec §4.4). Exactly one goroutine ever reads the transport.
type Session struct {
	id       uint64
	gateway  string
	proto    Protocol
	kind     SessionKind
	password string
	tr       transport.Transport
	log      *slog.Logger

	mu      sync.Mutex
	state   SessionState
	pending chan Message // non-nil only while a send is collecting replies

	onMessage  func(Message)
	onError    func(error)
	onComplete func()

	sendMu sync.Mutex // held from beginSend to endSend: one send at a time

	closing   atomic.Bool // set by Close before tearing down the transport
	closeOnce sync.Once
}

// NewSession wraps tr as a not-yet-negotiated Session. password is ignored
// for protocols/gateways that never challenge for auth. gateway names the
// owning Gateway for logging; logger may be nil, in which case slog.Default
// is used.
func NewSession(gateway string, proto Protocol, kind SessionKind, password string, tr transport.Transport, logger *slog.Logger) *Session {
	if logger == nil {
		logger = slog.Default()
	}
	return &Session{
		id:       nextSessionID.Add(1),
		gateway:  gateway,
		proto:    proto,
		kind:     kind,
		password: password,
		tr:       tr,
		log:      logger,
		state:    Negotiating,
	}
}

// ID returns the session's monotonic local identity (spec §3: "a monotonic
// identity"; unlike NETCONF this protocol has no server-assigned session-id
// to report, so this is locally generated and used for logging/metrics).
func (s *Session) ID() uint64 { return s.id }

func (s *Session) State() SessionState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

func (s *Session) setState(state SessionState) {
	s.mu.Lock()
	s.state = state
	s.mu.Unlock()
}

// Negotiate performs the handshake: await the initial ACK, send the
// session-type selector, and complete authentication if the gateway
// challenges for it (spec §4.4). It must be called before Connect, and the
// whole exchange is bound by ctx (callers derive ctx with
// GatewayOptions.ConnectionNegotiationTimeout).
func (s *Session) Negotiate(ctx context.Context) error {
	first, err := s.recvFrame(ctx)
	if err != nil {
		s.setState(Faulted)
		return fmt.Errorf("openwebnet: awaiting initial ack: %w", err)
	}
	if !first.Equal(ackFrame) {
		s.setState(Faulted)
		return fmt.Errorf("openwebnet: unexpected frame awaiting initial ack: %s", first)
	}

	selector := "0"
	if s.kind == EventKind {
		selector = "1"
	}
	if err := s.sendFrame(newFrame(field("99"), field(selector))); err != nil {
		s.setState(Faulted)
		return err
	}

	reply, err := s.recvFrame(ctx)
	if err != nil {
		s.setState(Faulted)
		return fmt.Errorf("openwebnet: awaiting session-type ack: %w", err)
	}

	switch {
	case reply.Equal(ackFrame):
		s.setState(Open)
		return nil
	case reply.Equal(nackFrame):
		s.setState(Faulted)
		return &AuthError{Kind: AuthenticationInvalid}
	case isAuthChallenge(reply):
		if err := s.authenticate(ctx, reply); err != nil {
			s.setState(Faulted)
			return err
		}
		s.setState(Open)
		return nil
	default:
		s.setState(Faulted)
		return fmt.Errorf("openwebnet: unexpected frame awaiting session-type ack: %s", reply)
	}
}

// isAuthChallenge reports whether f is the two-field "*98*N##" auth
// challenge (spec §4.4).
func isAuthChallenge(f Frame) bool {
	return len(f.Fields) == 2 && len(f.Fields[0]) == 1 && f.Fields[0][0] == "98" && len(f.Fields[1]) == 1
}

// authenticate completes the handshake challenge named by challenge (spec
// §4.4). The exact digest wire shapes are a best-effort reconstruction of
// the publicly documented OPEN password scheme -- see auth.go's package
// comment and DESIGN.md for the Open Question this resolves.
func (s *Session) authenticate(ctx context.Context, challenge Frame) error {
	if s.password == "" {
		return &AuthError{Kind: AuthenticationRequired}
	}

	switch challenge.Fields[1][0] {
	case "1":
		nonceFrame, err := s.recvFrame(ctx)
		if err != nil {
			return fmt.Errorf("openwebnet: awaiting auth nonce: %w", err)
		}
		digest, err := legacyOpenDigest(s.password, digitsOf(nonceFrame))
		if err != nil {
			return err
		}
		if err := s.sendFrame(newFrame(field("", digest))); err != nil {
			return err
		}
		return s.expectAuthAck(ctx)

	case "2":
		clientNonce, err := randomDigits(8)
		if err != nil {
			return fmt.Errorf("openwebnet: generating client nonce: %w", err)
		}
		if err := s.sendFrame(newFrame(field("", clientNonce))); err != nil {
			return err
		}
		serverFrame, err := s.recvFrame(ctx)
		if err != nil {
			return fmt.Errorf("openwebnet: awaiting server nonce: %w", err)
		}
		digest := hmacDigest(HMACSHA1, s.password, []byte(clientNonce), []byte(digitsOf(serverFrame)))
		if err := s.sendFrame(newFrame(field("", digitsFromBytes(digest)))); err != nil {
			return err
		}
		return s.expectAuthAck(ctx)

	default:
		return &AuthError{Kind: AuthenticationMethodUnsupported}
	}
}

func (s *Session) expectAuthAck(ctx context.Context) error {
	reply, err := s.recvFrame(ctx)
	if err != nil {
		return fmt.Errorf("openwebnet: awaiting auth result: %w", err)
	}
	switch {
	case reply.Equal(ackFrame):
		return nil
	case reply.Equal(nackFrame):
		return &AuthError{Kind: AuthenticationInvalid}
	default:
		return fmt.Errorf("openwebnet: unexpected frame awaiting auth result: %s", reply)
	}
}

// digitsOf concatenates every parameter of every field in f, used to
// recover a raw nonce/challenge value carried in a non-command frame.
func digitsOf(f Frame) string {
	var out []byte
	for _, field := range f.Fields {
		for _, p := range field {
			out = append(out, p...)
		}
	}
	return string(out)
}

func randomDigits(n int) (string, error) {
	out := make([]byte, n)
	for i := range out {
		d, err := rand.Int(rand.Reader, big.NewInt(10))
		if err != nil {
			return "", err
		}
		out[i] = byte('0' + d.Int64())
	}
	return string(out), nil
}

// recvFrame reads and parses exactly one frame, respecting ctx cancellation.
// It is only used directly during Negotiate, before Connect starts the
// shared reader loop.
func (s *Session) recvFrame(ctx context.Context) (Frame, error) {
	type result struct {
		f   Frame
		err error
	}
	ch := make(chan result, 1)
	go func() {
		raw, err := s.tr.Recv()
		if err != nil {
			ch <- result{err: err}
			return
		}
		f, err := ParseFrame(raw)
		ch <- result{f: f, err: err}
	}()

	select {
	case r := <-ch:
		return r.f, r.err
	case <-ctx.Done():
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return Frame{}, ErrNegotiationTimeout
		}
		return Frame{}, ctx.Err()
	}
}

func (s *Session) sendFrame(f Frame) error {
	if err := s.tr.Send(f.Serialize()); err != nil {
		return fmt.Errorf("openwebnet: write frame: %w", err)
	}
	return nil
}

// Subscribe registers the session's single broadcast sink for messages not
// claimed by an in-flight send's reply collector (spec §4.4). It must be
// called before Connect.
func (s *Session) Subscribe(onMessage func(Message), onError func(error), onComplete func()) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onMessage = onMessage
	s.onError = onError
	s.onComplete = onComplete
}

// Connect activates the reader; before Connect no inbound frames are
// delivered (spec §4.4).
func (s *Session) Connect() {
	go s.recvLoop()
}

// recvLoop is the session's one reader task. Frames are routed to whichever
// send is currently collecting replies, or to the subscriber when none is.
func (s *Session) recvLoop() {
	for {
		raw, err := s.tr.Recv()
		if err != nil {
			s.finish(err)
			return
		}
		f, err := ParseFrame(raw)
		if err != nil {
			s.log.Warn("dropping unparseable frame", "gateway", s.gateway, "session_id", s.id, "error", err)
			continue
		}
		msg := Classify(f, s.proto, Received)

		s.mu.Lock()
		p := s.pending
		s.mu.Unlock()

		if p != nil {
			p <- msg
			continue
		}
		if cb := s.onMessage; cb != nil {
			cb(msg)
		}
	}
}

func (s *Session) finish(err error) {
	closing := s.closing.Load()

	s.mu.Lock()
	if !closing {
		s.state = Faulted
	}
	if p := s.pending; p != nil {
		close(p)
		s.pending = nil
	}
	onError, onComplete := s.onError, s.onComplete
	s.mu.Unlock()

	if !closing && !errors.Is(err, transport.ErrClosed) {
		if onError != nil {
			onError(err)
		}
	}
	if onComplete != nil {
		onComplete()
	}
	_ = s.tr.Close()
}

// beginSend installs ch as the pending reply collector, serializing sends
// (spec §4.4: "no two concurrent sends on one session"). It returns
// ErrSessionClosed if the session isn't Open.
func (s *Session) beginSend(ch chan Message) error {
	s.sendMu.Lock()
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != Open {
		s.sendMu.Unlock()
		return ErrSessionClosed
	}
	s.pending = ch
	return nil
}

func (s *Session) endSend() {
	s.mu.Lock()
	s.pending = nil
	s.mu.Unlock()
	s.sendMu.Unlock()
}

// Close transitions the session to Closing and tears down the transport.
// It is idempotent.
func (s *Session) Close() error {
	var err error
	s.closeOnce.Do(func() {
		s.closing.Store(true)
		s.mu.Lock()
		s.state = Closing
		s.mu.Unlock()
		err = s.tr.Close()
		s.mu.Lock()
		s.state = Closed
		s.mu.Unlock()
	})
	return err
}
