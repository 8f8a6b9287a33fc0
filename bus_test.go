package openwebnet

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBus_FiltersByGateway(t *testing.T) {
	bus := NewBus()
	chA, cancelA := bus.Subscribe("gw-a")
	defer cancelA()
	chAll, cancelAll := bus.Subscribe("")
	defer cancelAll()

	bus.Publish(Notification{Gateway: "gw-a", Kind: MessageSent})
	bus.Publish(Notification{Gateway: "gw-b", Kind: MessageSent})

	select {
	case n := <-chA:
		assert.Equal(t, "gw-a", n.Gateway)
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for gw-a notification")
	}

	select {
	case n := <-chA:
		t.Fatalf("unexpected second notification on filtered subscriber: %+v", n)
	case <-time.After(50 * time.Millisecond):
	}

	seen := 0
	for seen < 2 {
		select {
		case <-chAll:
			seen++
		case <-time.After(time.Second):
			t.Fatal("timed out waiting for unfiltered notifications")
		}
	}
	assert.Equal(t, 2, seen)
}

func TestBus_CancelClosesChannel(t *testing.T) {
	bus := NewBus()
	ch, cancel := bus.Subscribe("gw-a")
	cancel()
	cancel() // idempotent

	select {
	case _, ok := <-ch:
		assert.False(t, ok)
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for channel close")
	}
}

func TestBus_PublishDoesNotBlockOnSlowSubscriber(t *testing.T) {
	bus := NewBus()
	_, cancel := bus.Subscribe("")
	defer cancel()

	done := make(chan struct{})
	go func() {
		for i := 0; i < 1000; i++ {
			bus.Publish(Notification{Gateway: "gw-a"})
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Publish blocked despite no one draining the subscriber")
	}
}

func TestBus_PreservesOrder(t *testing.T) {
	bus := NewBus()
	ch, cancel := bus.Subscribe("gw-a")
	defer cancel()

	for i := 0; i < 10; i++ {
		bus.Publish(Notification{Gateway: "gw-a", Message: Message{Who: string(rune('0' + i))}})
	}

	for i := 0; i < 10; i++ {
		select {
		case n := <-ch:
			require.Equal(t, string(rune('0'+i)), n.Message.Who)
		case <-time.After(time.Second):
			t.Fatal("timed out waiting for ordered notification")
		}
	}
}
