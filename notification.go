package openwebnet

import "github.com/google/uuid"

// Transaction correlates a MessageReady notification with its eventual
// terminal notification (spec §3). Callers mint one with NewTransaction
// before publishing a MessageReady.
type Transaction = uuid.UUID

// NewTransaction generates a fresh, caller-owned transaction id.
func NewTransaction() Transaction { return uuid.New() }

// TransmissionOption is a bit in the options set a caller attaches to an
// outgoing message (spec §3).
type TransmissionOption uint8

const (
	IgnoreAckValidation TransmissionOption = 1 << iota
	RequireActionValidation
	DisablePostSendingDelay
	DisallowRetransmissions
)

// Has reports whether opt is set in the receiver.
func (o TransmissionOption) Has(opt TransmissionOption) bool {
	return o&opt != 0
}

// NotificationKind tags the variant carried by a Notification.
type NotificationKind int

const (
	MessageReady NotificationKind = iota
	MessageSent
	MessageReceived
	InvalidActionNotif
	InvalidFrameNotif
	NoActionReceivedNotif
	NoAcknowledgmentReceivedNotif
	GatewayBusyNotif
)

func (k NotificationKind) String() string {
	switch k {
	case MessageReady:
		return "message-ready"
	case MessageSent:
		return "message-sent"
	case MessageReceived:
		return "message-received"
	case InvalidActionNotif:
		return "invalid-action"
	case InvalidFrameNotif:
		return "invalid-frame"
	case NoActionReceivedNotif:
		return "no-action-received"
	case NoAcknowledgmentReceivedNotif:
		return "no-acknowledgment-received"
	case GatewayBusyNotif:
		return "gateway-busy"
	default:
		return "unknown"
	}
}

// Notification is the tagged variant exchanged on the Bus (spec §3). Every
// notification carries the owning gateway's name. MessageReady additionally
// carries Options and Transaction; the terminal variants carry the SessionID
// that produced (or failed to produce) the outcome, when known.
type Notification struct {
	Kind      NotificationKind
	Gateway   string
	Message   Message
	Options   TransmissionOption
	Txn       Transaction
	SessionID uint64
}

func readyNotification(gateway string, msg Message, opts TransmissionOption, txn Transaction) Notification {
	return Notification{Kind: MessageReady, Gateway: gateway, Message: msg, Options: opts, Txn: txn}
}

func terminalNotification(kind NotificationKind, gateway string, msg Message, sessionID uint64, txn Transaction) Notification {
	return Notification{Kind: kind, Gateway: gateway, Message: msg, SessionID: sessionID, Txn: txn}
}

// terminalKindForError maps a *SendError to the terminal notification kind
// it produces (spec §7 table). Errors outside this table
// (NoStatusReceived/NoDimensionReceived after resilience exhaustion) have no
// notification variant: Worker.handleReady publishes no terminal
// notification for them and records the error kind only as the result label
// of openwebnet_sends_total.
func terminalKindForError(kind SendErrorKind) (NotificationKind, bool) {
	switch kind {
	case KindInvalidFrame:
		return InvalidFrameNotif, true
	case KindGatewayBusy:
		return GatewayBusyNotif, true
	case KindNoAcknowledgmentReceived:
		return NoAcknowledgmentReceivedNotif, true
	case KindInvalidAction:
		return InvalidActionNotif, true
	case KindNoActionReceived:
		return NoActionReceivedNotif, true
	default:
		return 0, false
	}
}
