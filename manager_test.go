package openwebnet

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"go.openwebnet.dev/gateway/catalog"
)

func TestManager_Send_UnknownGateway(t *testing.T) {
	m := NewManager(nil)
	_, err := m.Send("missing", Message{}, 0)
	assert.ErrorIs(t, err, ErrUnknownGateway)
}

func TestManager_Send_EnqueuesReadyNotification(t *testing.T) {
	gw := Gateway{Name: "living-room", Protocol: Scs, Options: DefaultGatewayOptions(Scs)}
	m := NewManager([]Gateway{gw})

	addr := Address{Kind: ScsLightPointPointToPoint, ScsValue: "21"}
	msg := NewBusCommand(Scs, "1", "0", addr)

	txn, err := m.Send("living-room", msg, IgnoreAckValidation)
	require.NoError(t, err)

	m.mu.Lock()
	ch := m.outbox["living-room"]
	m.mu.Unlock()

	select {
	case n := <-ch:
		assert.Equal(t, MessageReady, n.Kind)
		assert.Equal(t, "living-room", n.Gateway)
		assert.Equal(t, IgnoreAckValidation, n.Options)
		assert.Equal(t, txn, n.Txn)
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for enqueued notification")
	}
}

func TestManager_CapabilitiesFor_FallsBackToDefaults(t *testing.T) {
	m := NewManager(nil)
	caps := m.capabilitiesFor(Gateway{Protocol: Zigbee})
	assert.Equal(t, catalog.DefaultCapabilities(catalog.Zigbee), caps)
}

func TestManager_CapabilitiesFor_UsesCatalogWhenConfigured(t *testing.T) {
	def := catalog.Definition{
		Brand:        "BTicino",
		Model:        "F455",
		Capabilities: catalog.CapabilitySet(catalog.GenericSession | catalog.EventSession),
	}
	lookup := catalog.StaticLookup{{Brand: "BTicino", Model: "F455"}: def}
	m := NewManager(nil, WithLookup(lookup))

	caps := m.capabilitiesFor(Gateway{Protocol: Nitoo, Brand: "BTicino", Model: "F455"})
	assert.Equal(t, def.Capabilities, caps)
}

func TestToCatalogProtocol(t *testing.T) {
	assert.Equal(t, catalog.Scs, toCatalogProtocol(Scs))
	assert.Equal(t, catalog.Nitoo, toCatalogProtocol(Nitoo))
	assert.Equal(t, catalog.Zigbee, toCatalogProtocol(Zigbee))
}

func TestManager_Subscribe_ReceivesPublishedNotifications(t *testing.T) {
	m := NewManager(nil)
	ch, cancel := m.Subscribe("living-room")
	defer cancel()

	m.bus.Publish(Notification{Gateway: "living-room", Kind: MessageSent})

	select {
	case n := <-ch:
		assert.Equal(t, MessageSent, n.Kind)
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for subscribed notification")
	}
}
