package openwebnet

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"go.openwebnet.dev/gateway/transport"
)

func openTestSession(t *testing.T, proto Protocol) (*Session, *transport.FakeTransport) {
	t.Helper()
	tr := transport.NewFakeTransport()
	tr.QueueRecv("*#*1##")
	tr.QueueRecv("*#*1##")
	s := NewSession("gw", proto, GenericKind, "", tr, nil)
	require.NoError(t, s.Negotiate(context.Background()))
	s.Subscribe(func(Message) {}, func(error) {}, func() {})
	s.Connect()
	return s, tr
}

func TestSend_BusCommand_AckedOnce(t *testing.T) {
	s, tr := openTestSession(t, Scs)
	opts := DefaultGatewayOptions(Scs)

	addr := Address{Kind: ScsLightPointPointToPoint, ScsValue: "21"}
	msg := NewBusCommand(Scs, "1", "0", addr)

	go func() {
		time.Sleep(10 * time.Millisecond)
		tr.QueueRecv("*#*1##")
	}()

	result, sendErr := Send(context.Background(), s, opts, opts.OutgoingMessageResilience, Bus, msg, 0, nil)
	require.Nil(t, sendErr)
	assert.Empty(t, result.Replies)
}

func TestSend_BusCommand_NackedRetriesOnceThenFails(t *testing.T) {
	s, tr := openTestSession(t, Scs)
	opts := DefaultGatewayOptions(Scs)
	opts.FrameAckTimeout = time.Second

	addr := Address{Kind: ScsLightPointPointToPoint, ScsValue: "21"}
	msg := NewBusCommand(Scs, "1", "0", addr)

	var retries []SendErrorKind
	onRetry := func(kind SendErrorKind) { retries = append(retries, kind) }

	go func() {
		// Scs+InvalidFrame is retried exactly once (spec §4.7): nack both
		// the original attempt and the single retry, which is sent after
		// the 100ms first-retry delay.
		time.Sleep(5 * time.Millisecond)
		tr.QueueRecv("*#*0##")
		time.Sleep(150 * time.Millisecond)
		tr.QueueRecv("*#*0##")
	}()

	_, sendErr := Send(context.Background(), s, opts, opts.OutgoingMessageResilience, Bus, msg, 0, onRetry)
	require.NotNil(t, sendErr)
	assert.Equal(t, KindInvalidFrame, sendErr.Kind)
	assert.Equal(t, []SendErrorKind{KindInvalidFrame}, retries)
	assert.Len(t, tr.Sent(), 3) // session-type selector, original attempt, one retry
}

func TestSend_StatusRequest_CollectsUniqueReply(t *testing.T) {
	s, tr := openTestSession(t, Scs)
	opts := DefaultGatewayOptions(Scs)

	addr := Address{Kind: ScsLightPointPointToPoint, ScsValue: "21"}
	msg := NewStatusRequest(Scs, "1", addr)

	go func() {
		time.Sleep(5 * time.Millisecond)
		tr.QueueRecv("*#*1##")  // frame ack
		tr.QueueRecv("*1*0*21##") // status reply
	}()

	result, sendErr := Send(context.Background(), s, opts, opts.OutgoingMessageResilience, Bus, msg, 0, nil)
	require.Nil(t, sendErr)
	require.Len(t, result.Replies, 1)
	assert.Equal(t, BusCommand, result.Replies[0].Type)
}

func TestSend_NoAcknowledgment_FailsWithoutRetry(t *testing.T) {
	s, _ := openTestSession(t, Scs)
	opts := DefaultGatewayOptions(Scs)
	opts.FrameAckTimeout = 5 * time.Millisecond
	opts.OutgoingMessageProcessingTimeout = 500 * time.Millisecond

	addr := Address{Kind: ScsLightPointPointToPoint, ScsValue: "21"}
	msg := NewBusCommand(Scs, "1", "0", addr)

	var retries []SendErrorKind
	onRetry := func(kind SendErrorKind) { retries = append(retries, kind) }

	_, sendErr := Send(context.Background(), s, opts, opts.OutgoingMessageResilience, Bus, msg, 0, onRetry)
	require.NotNil(t, sendErr)
	assert.Equal(t, KindNoAcknowledgmentReceived, sendErr.Kind)
	assert.True(t, sendErr.SessionFatal)
	// Bus medium has no retry rule for no-acknowledgment, so no retries fire.
	assert.Empty(t, retries)
}

func TestSession_CollectReplies_UniqueTimeoutNotResetByUnrelatedFrames(t *testing.T) {
	s, _ := openTestSession(t, Scs)
	req := NewStatusRequest(Scs, "1", Address{Kind: ScsLightPointPointToPoint, ScsValue: "21"})
	unrelated := Classify(mustParse("*2*0*22##"), Scs, Received) // different Who/Address: never matches req

	collector := make(chan Message, 10)
	for i := 0; i < 10; i++ {
		collector <- unrelated
	}
	go func() {
		for i := 0; i < 10; i++ {
			time.Sleep(8 * time.Millisecond)
			collector <- unrelated
		}
	}()

	start := time.Now()
	_, sendErr := s.collectReplies(context.Background(), collector, req, false, 20*time.Millisecond, KindNoStatusReceived)
	elapsed := time.Since(start)

	require.NotNil(t, sendErr)
	assert.Equal(t, KindNoStatusReceived, sendErr.Kind)
	assert.Less(t, elapsed, 60*time.Millisecond, "unique reply timeout must not be pushed back by unrelated frames")
}

func TestSend_NitooActionValidation(t *testing.T) {
	s, tr := openTestSession(t, Nitoo)
	opts := DefaultGatewayOptions(Nitoo)
	opts.PostSendingDelay = time.Millisecond

	addr := Address{Kind: NitooUnit, DeviceID: "112233", UnitID: "1"}
	msg := NewBusCommand(Nitoo, "1", "0", addr)

	go func() {
		time.Sleep(5 * time.Millisecond)
		tr.QueueRecv("*#*1##")          // frame ack
		tr.QueueRecv("*1*72*112233#1##") // action-valid diagnostic
	}()

	_, sendErr := Send(context.Background(), s, opts, opts.OutgoingMessageResilience, Bus, msg, RequireActionValidation, nil)
	require.Nil(t, sendErr)
}
