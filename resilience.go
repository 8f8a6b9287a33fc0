package openwebnet

import "time"

// sendContext is the pure input to OutgoingPolicy's decision function (spec
// §9 GLOSSARY: "Dynamic retry context keyed by string" is rejected in favor
// of this typed, pass-by-value struct -- see REDESIGN FLAGS).
type sendContext struct {
	Protocol Protocol
	Medium   Medium
	Kind     SendErrorKind
	Options  TransmissionOption
	Attempt  int // 0 on the first attempt
}

// OutgoingPolicy wraps one outgoing-message send attempt with a retry
// decision and a delay schedule (spec §4.7). It is a pure function of
// (error kind, protocol, medium, options, attempt) -- grounded on the
// shape of bearlytools-claw's rpc/retry.Policy, adapted from a single
// max-attempts count to the protocol/medium/error-kind-scoped table the
// spec requires.
type OutgoingPolicy struct {
	// delay returns how long to wait before the attempt'th retry.
	delay func(attempt int, delayDisabled bool) time.Duration

	// shouldRetry reports whether ctx's failed attempt should be retried.
	shouldRetry func(ctx sendContext) bool
}

// DefaultOutgoingPolicy implements the retry table from spec §4.7.
func DefaultOutgoingPolicy() OutgoingPolicy {
	return OutgoingPolicy{
		delay:       outgoingDelay,
		shouldRetry: outgoingShouldRetry,
	}
}

// Delay returns the wait before the attempt'th retry; delayDisabled selects
// the schedule used when DisablePostSendingDelay is set.
func (p OutgoingPolicy) Delay(attempt int, delayDisabled bool) time.Duration {
	return p.delay(attempt, delayDisabled)
}

// ShouldRetry reports whether ctx's failed attempt should be retried.
func (p OutgoingPolicy) ShouldRetry(ctx sendContext) bool {
	return p.shouldRetry(ctx)
}

func outgoingDelay(attempt int, delayDisabled bool) time.Duration {
	// Two 3-step schedules differing only in whether
	// DisablePostSendingDelay was set (spec §4.7).
	disabled := [...]time.Duration{200 * time.Millisecond, 500 * time.Millisecond, time.Second}
	normal := [...]time.Duration{100 * time.Millisecond, 300 * time.Millisecond, 800 * time.Millisecond}

	schedule := normal
	if delayDisabled {
		schedule = disabled
	}
	if attempt >= len(schedule) {
		attempt = len(schedule) - 1
	}
	if attempt < 0 {
		attempt = 0
	}
	return schedule[attempt]
}

func outgoingShouldRetry(ctx sendContext) bool {
	switch {
	case ctx.Protocol == Nitoo && ctx.Kind == KindInvalidFrame:
		return ctx.Attempt < 3
	case ctx.Protocol == Zigbee && (ctx.Kind == KindInvalidFrame || ctx.Kind == KindGatewayBusy):
		return ctx.Attempt < 2
	case ctx.Protocol == Scs && ctx.Kind == KindInvalidFrame:
		return ctx.Attempt < 1
	case isNoReplyKind(ctx.Kind) && (ctx.Medium == Powerline || ctx.Medium == Radio):
		return !ctx.Options.Has(DisallowRetransmissions) && ctx.Attempt < 2
	case ctx.Medium == Bus && (ctx.Kind == KindInvalidFrame || ctx.Kind == KindGatewayBusy):
		return !ctx.Options.Has(DisallowRetransmissions) && ctx.Attempt < 1
	default:
		return false
	}
}

func isNoReplyKind(k SendErrorKind) bool {
	switch k {
	case KindNoActionReceived, KindNoDimensionReceived, KindNoStatusReceived:
		return true
	default:
		return false
	}
}

// SessionPolicy governs how a worker reopens a session after it faults
// (spec §4.7). Cancellation (via context) stops the loop immediately and is
// the caller's responsibility, not the policy's.
type SessionPolicy struct {
	backoff func(attempt int) time.Duration
}

// DefaultSessionPolicy implements the fixed reopen schedule from spec §4.7:
// 1s (attempts 0-1), 5s (2-3), 10s (4-5), 30s (6-9), 60s thereafter.
func DefaultSessionPolicy() SessionPolicy {
	return SessionPolicy{backoff: sessionBackoff}
}

// Backoff returns how long a worker should wait before the attempt'th
// session reopen.
func (p SessionPolicy) Backoff(attempt int) time.Duration {
	return p.backoff(attempt)
}

func sessionBackoff(attempt int) time.Duration {
	switch {
	case attempt < 0:
		return time.Second
	case attempt <= 1:
		return time.Second
	case attempt <= 3:
		return 5 * time.Second
	case attempt <= 5:
		return 10 * time.Second
	case attempt <= 9:
		return 30 * time.Second
	default:
		return 60 * time.Second
	}
}
