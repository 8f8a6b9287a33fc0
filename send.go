package openwebnet

import (
	"context"
	"fmt"
	"time"
)

// SendResult carries whatever reply messages a send collected (spec §4.5
// stage 4). It is empty for BusCommand/DimensionSet, which have no reply
// collection stage.
type SendResult struct {
	Replies []Message
}

// Send runs the send state machine (spec §4.5) for msg on session s,
// retrying per policy's outgoing-message table (spec §4.7) until it
// succeeds, policy says to stop, or ctx is done. medium is the target
// device's physical carrier, used by the policy alongside s.proto. onRetry,
// if non-nil, is called once per retry with the error kind that triggered
// it (used by Worker to report openwebnet_send_retries_total).
func Send(ctx context.Context, s *Session, opts GatewayOptions, policy OutgoingPolicy, medium Medium, msg Message, txOpts TransmissionOption, onRetry func(SendErrorKind)) (SendResult, *SendError) {
	attempt := 0
	for {
		result, sendErr := s.sendOnce(ctx, opts, msg, txOpts)
		if sendErr == nil {
			return result, nil
		}

		sctx := sendContext{Protocol: s.proto, Medium: medium, Kind: sendErr.Kind, Options: txOpts, Attempt: attempt}
		if !policy.ShouldRetry(sctx) {
			return result, sendErr
		}
		if onRetry != nil {
			onRetry(sendErr.Kind)
		}

		select {
		case <-time.After(policy.Delay(attempt, txOpts.Has(DisablePostSendingDelay))):
		case <-ctx.Done():
			return result, newSendError(sendErr.Kind, sendErr.SessionFatal, ctx.Err())
		}
		attempt++
	}
}

// sendOnce performs exactly one pass through the send state machine's
// stages (spec §4.5): serialize+write, frame-ack, action validation
// (Nitoo), reply collection, post-sending delay, all bounded by
// opts.OutgoingMessageProcessingTimeout.
func (s *Session) sendOnce(ctx context.Context, opts GatewayOptions, msg Message, txOpts TransmissionOption) (SendResult, *SendError) {
	ctx, cancel := context.WithTimeout(ctx, opts.OutgoingMessageProcessingTimeout)
	defer cancel()

	collector := make(chan Message, 16)
	if err := s.beginSend(collector); err != nil {
		return SendResult{}, newSendError(KindNoAcknowledgmentReceived, true, err)
	}
	defer s.endSend()

	if err := s.sendFrame(msg.Frame); err != nil {
		return SendResult{}, newSendError(KindNoAcknowledgmentReceived, true, err)
	}

	if !txOpts.Has(IgnoreAckValidation) {
		if sendErr := s.awaitFrameAck(ctx, collector, opts.FrameAckTimeout); sendErr != nil {
			return SendResult{}, sendErr
		}
	}

	if s.proto == Nitoo && txOpts.Has(RequireActionValidation) {
		if sendErr := s.awaitActionValidation(ctx, collector, msg, opts.ActionValidationTimeout); sendErr != nil {
			return SendResult{}, sendErr
		}
	}

	var replies []Message
	switch msg.Type {
	case StatusRequest:
		broadcast := msg.Address.Broadcast()
		timeout := opts.UniqueStatusReplyTimeout
		if broadcast {
			timeout = opts.MultipleStatusReplyTimeout
		}
		var sendErr *SendError
		replies, sendErr = s.collectReplies(ctx, collector, msg, broadcast, timeout, KindNoStatusReceived)
		if sendErr != nil {
			return SendResult{}, sendErr
		}
	case DimensionRequest:
		broadcast := msg.Address.Broadcast()
		timeout := opts.UniqueDimensionReplyTimeout
		if broadcast {
			timeout = opts.MultipleDimensionReplyTimeout
		}
		var sendErr *SendError
		replies, sendErr = s.collectReplies(ctx, collector, msg, broadcast, timeout, KindNoDimensionReceived)
		if sendErr != nil {
			return SendResult{}, sendErr
		}
	}

	if s.proto == Nitoo && !txOpts.Has(DisablePostSendingDelay) {
		select {
		case <-time.After(opts.PostSendingDelay):
		case <-ctx.Done():
			return SendResult{Replies: replies}, newSendError(KindNoAcknowledgmentReceived, false, ctx.Err())
		}
	}

	return SendResult{Replies: replies}, nil
}

func (s *Session) awaitFrameAck(ctx context.Context, collector chan Message, timeout time.Duration) *SendError {
	select {
	case reply, ok := <-collector:
		if !ok {
			return newSendError(KindNoAcknowledgmentReceived, true, ErrSessionClosed)
		}
		switch reply.Type {
		case Ack:
			return nil
		case Nack:
			return newSendError(KindInvalidFrame, false, nil)
		case BusyNack:
			return newSendError(KindGatewayBusy, false, nil)
		default:
			return newSendError(KindNoAcknowledgmentReceived, true, fmt.Errorf("unexpected frame awaiting ack: %s", reply.Frame))
		}
	case <-time.After(timeout):
		return newSendError(KindNoAcknowledgmentReceived, true, nil)
	case <-ctx.Done():
		return newSendError(KindNoAcknowledgmentReceived, true, ctx.Err())
	}
}

// diagnosticValid / diagnosticInvalid are the WHAT values the action
// validation stage watches for (spec §4.5 stage 3).
const (
	diagnosticValid   = "72"
	diagnosticInvalid = "73"
)

func (s *Session) awaitActionValidation(ctx context.Context, collector chan Message, req Message, timeout time.Duration) *SendError {
	deadline := time.After(timeout)
	for {
		select {
		case reply, ok := <-collector:
			if !ok {
				return newSendError(KindNoActionReceived, true, ErrSessionClosed)
			}
			if reply.Type == BusCommand && req.Address.InScope(reply.Address) {
				switch reply.What {
				case diagnosticValid:
					return nil
				case diagnosticInvalid:
					return newSendError(KindInvalidAction, false, nil)
				}
			}
			s.forwardUnsolicited(reply)
		case <-deadline:
			return newSendError(KindNoActionReceived, false, nil)
		case <-ctx.Done():
			return newSendError(KindNoActionReceived, false, ctx.Err())
		}
	}
}

// collectReplies gathers reply messages matching req (spec §4.5 reply
// matching rule, Message.Matches). For a unique (non-broadcast) request it
// returns as soon as one match arrives. For a broadcast request it collects
// until timeout passes with no new match (quiescence), per spec §4.5 stage 4.
func (s *Session) collectReplies(ctx context.Context, collector chan Message, req Message, broadcast bool, timeout time.Duration, errKind SendErrorKind) ([]Message, *SendError) {
	var out []Message
	deadline := time.After(timeout)
	for {
		select {
		case reply, ok := <-collector:
			if !ok {
				return out, newSendError(errKind, true, ErrSessionClosed)
			}
			if req.Matches(reply) {
				out = append(out, reply)
				if !broadcast {
					return out, nil
				}
				deadline = time.After(timeout) // quiescence: reset only on a new match
				continue
			}
			s.forwardUnsolicited(reply)
		case <-deadline:
			if len(out) == 0 {
				return nil, newSendError(errKind, false, nil)
			}
			return out, nil
		case <-ctx.Done():
			if len(out) == 0 {
				return nil, newSendError(errKind, false, ctx.Err())
			}
			return out, nil
		}
	}
}

// forwardUnsolicited hands reply to the session's subscriber, the way the
// send SM routes frames that don't belong to the current stage back to the
// broadcast sink (spec §4.5: "routes unmatched frames to the session's
// broadcast subscriber").
func (s *Session) forwardUnsolicited(reply Message) {
	s.mu.Lock()
	cb := s.onMessage
	s.mu.Unlock()
	if cb != nil {
		cb(reply)
	}
}
