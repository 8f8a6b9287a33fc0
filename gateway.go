package openwebnet

import "time"

// TransportKind selects which physical medium a Gateway is reached over.
type TransportKind int

const (
	TCP TransportKind = iota
	Serial
)

// TCPEndpoint addresses a gateway reachable over a TCP socket.
type TCPEndpoint struct {
	Host string
	Port int
}

// SerialSettings addresses a gateway reachable over a local serial port.
type SerialSettings struct {
	Device   string
	BaudRate int
	DataBits int
	Parity   string // "N", "E", "O"
	StopBits float64
}

// TransportDescriptor names the physical medium and its connection
// parameters for one Gateway. Exactly one of TCP/Serial is meaningful,
// selected by Kind.
type TransportDescriptor struct {
	Kind   TransportKind
	TCP    TCPEndpoint
	Serial SerialSettings
}

// GatewayOptions holds the timings and policies recognized for a Gateway
// (spec §3). Zero-valued fields are filled in by DefaultGatewayOptions.
type GatewayOptions struct {
	ActionValidationTimeout         time.Duration
	CommandSessionLifetime          time.Duration
	ConnectionNegotiationTimeout    time.Duration
	EnableSupervisionMode           bool
	FrameAckTimeout                 time.Duration
	MaxConcurrentCommandSessions    int
	MultipleDimensionReplyTimeout   time.Duration
	MultipleStatusReplyTimeout      time.Duration
	OutgoingMessageProcessingTimeout time.Duration
	PostSendingDelay                time.Duration
	UniqueDimensionReplyTimeout     time.Duration
	UniqueStatusReplyTimeout        time.Duration

	OutgoingMessageResilience OutgoingPolicy
	SessionResilience         SessionPolicy
}

// DefaultGatewayOptions returns the recognized configuration keys with
// reasonable defaults for protocol proto. Command-session pooling defaults
// to 0 (no pool) for protocols without a Command session kind.
func DefaultGatewayOptions(proto Protocol) GatewayOptions {
	opts := GatewayOptions{
		ActionValidationTimeout:          3 * time.Second,
		CommandSessionLifetime:           30 * time.Second,
		ConnectionNegotiationTimeout:     5 * time.Second,
		FrameAckTimeout:                  3 * time.Second,
		MultipleDimensionReplyTimeout:    2 * time.Second,
		MultipleStatusReplyTimeout:       2 * time.Second,
		OutgoingMessageProcessingTimeout: 10 * time.Second,
		PostSendingDelay:                 100 * time.Millisecond,
		UniqueDimensionReplyTimeout:      2 * time.Second,
		UniqueStatusReplyTimeout:         2 * time.Second,
		OutgoingMessageResilience:        DefaultOutgoingPolicy(),
		SessionResilience:                DefaultSessionPolicy(),
	}

	switch proto {
	case Scs:
		opts.MaxConcurrentCommandSessions = 3
	default: // Nitoo, Zigbee: no dedicated Command session kind to pool
		opts.MaxConcurrentCommandSessions = 0
	}
	return opts
}

// Gateway is the immutable descriptor of one OpenWebNet gateway (spec §3).
type Gateway struct {
	Name      string
	Protocol  Protocol
	Transport TransportDescriptor
	Password  string // SCS only; empty means no authentication configured
	Options   GatewayOptions

	// Brand/Model key a lookup into the device definition catalog (spec
	// §6); leave empty to fall back to catalog.DefaultCapabilities(Protocol).
	Brand string
	Model string
}
