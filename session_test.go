package openwebnet

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"go.openwebnet.dev/gateway/transport"
)

func TestSession_Negotiate_PlainOpen(t *testing.T) {
	tr := transport.NewFakeTransport()
	tr.QueueRecv("*#*1##") // initial ack
	tr.QueueRecv("*#*1##") // session-type ack

	s := NewSession("gw", Nitoo, GenericKind, "", tr, nil)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, s.Negotiate(ctx))

	assert.Equal(t, Open, s.State())
	require.Len(t, tr.Sent(), 1)
	assert.Equal(t, "*99*0##", tr.Sent()[0])
}

func TestSession_Negotiate_EventKindSendsSelector1(t *testing.T) {
	tr := transport.NewFakeTransport()
	tr.QueueRecv("*#*1##")
	tr.QueueRecv("*#*1##")

	s := NewSession("gw", Nitoo, EventKind, "", tr, nil)
	require.NoError(t, s.Negotiate(context.Background()))
	require.Len(t, tr.Sent(), 1)
	assert.Equal(t, "*99*1##", tr.Sent()[0])
}

func TestSession_Negotiate_RejectedBySessionTypeNack(t *testing.T) {
	tr := transport.NewFakeTransport()
	tr.QueueRecv("*#*1##")
	tr.QueueRecv("*#*0##")

	s := NewSession("gw", Nitoo, GenericKind, "", tr, nil)
	err := s.Negotiate(context.Background())
	require.Error(t, err)
	var authErr *AuthError
	require.ErrorAs(t, err, &authErr)
	assert.Equal(t, AuthenticationInvalid, authErr.Kind)
	assert.Equal(t, Faulted, s.State())
}

func TestSession_Negotiate_LegacyDigestChallenge(t *testing.T) {
	tr := transport.NewFakeTransport()
	tr.QueueRecv("*#*1##")     // initial ack
	tr.QueueRecv("*98*1##")    // auth method 1 challenge
	tr.QueueRecv("*#12345##")  // nonce
	tr.QueueRecv("*#*1##")     // auth result ack

	s := NewSession("gw", Scs, CommandKind, "10203", tr, nil)
	require.NoError(t, s.Negotiate(context.Background()))
	assert.Equal(t, Open, s.State())

	sent := tr.Sent()
	require.Len(t, sent, 2)
	assert.Equal(t, "*99*0##", sent[0])
	// sent[1] is the computed digest "*#<digest>##": one field, digit-only
	// parameters.
	f, err := ParseFrame([]byte(sent[1]))
	require.NoError(t, err)
	assert.Len(t, f.Fields, 1)
}

func TestSession_Negotiate_NoPasswordConfiguredFailsAuth(t *testing.T) {
	tr := transport.NewFakeTransport()
	tr.QueueRecv("*#*1##")
	tr.QueueRecv("*98*2##")

	s := NewSession("gw", Scs, CommandKind, "", tr, nil)
	err := s.Negotiate(context.Background())
	require.Error(t, err)
	var authErr *AuthError
	require.ErrorAs(t, err, &authErr)
	assert.Equal(t, AuthenticationRequired, authErr.Kind)
}

func TestSession_Negotiate_TimesOut(t *testing.T) {
	tr := transport.NewFakeTransport() // never queues anything

	s := NewSession("gw", Nitoo, GenericKind, "", tr, nil)
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	err := s.Negotiate(ctx)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrNegotiationTimeout)
	assert.Equal(t, Faulted, s.State())
}

func TestSession_RecvLoop_RoutesToSubscriberWhenIdle(t *testing.T) {
	tr := transport.NewFakeTransport()
	tr.QueueRecv("*#*1##")
	tr.QueueRecv("*#*1##")

	s := NewSession("gw", Scs, EventKind, "", tr, nil)
	require.NoError(t, s.Negotiate(context.Background()))

	received := make(chan Message, 1)
	s.Subscribe(func(msg Message) { received <- msg }, func(error) {}, func() {})
	s.Connect()

	tr.QueueRecv("*1*0*21##")

	select {
	case msg := <-received:
		assert.Equal(t, BusCommand, msg.Type)
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for unsolicited message")
	}
}

func TestSession_Close_IsIdempotent(t *testing.T) {
	tr := transport.NewFakeTransport()
	s := NewSession("gw", Nitoo, GenericKind, "", tr, nil)
	require.NoError(t, s.Close())
	require.NoError(t, s.Close())
	assert.Equal(t, Closed, s.State())
}

func TestSession_Close_WhileRecvLoopActiveEndsClosedNotFaulted(t *testing.T) {
	tr := transport.NewFakeTransport()
	s := NewSession("gw", Nitoo, GenericKind, "", tr, nil)
	s.setState(Open)

	var onErrorCalled bool
	s.Subscribe(func(Message) {}, func(error) { onErrorCalled = true }, func() {})
	s.Connect()

	require.NoError(t, s.Close())
	assert.Equal(t, Closed, s.State())
	assert.False(t, onErrorCalled, "a deliberate Close must not be reported through onError")
}

func TestSession_BeginSend_RejectsWhenNotOpen(t *testing.T) {
	tr := transport.NewFakeTransport()
	s := NewSession("gw", Nitoo, GenericKind, "", tr, nil)
	err := s.beginSend(make(chan Message))
	assert.ErrorIs(t, err, ErrSessionClosed)
}
