package broadcast

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestPublishDeliversToAllSubscribers(t *testing.T) {
	h := NewHub[int]()
	a := h.Subscribe()
	b := h.Subscribe()
	defer a.Unsubscribe()
	defer b.Unsubscribe()

	n := h.Publish(42)
	require.Equal(t, 2, n)

	require.Equal(t, 42, <-a.C())
	require.Equal(t, 42, <-b.C())
}

func TestPublishDropsForFullSubscriberBuffer(t *testing.T) {
	h := NewHub[int]()
	sub := h.Subscribe()
	defer sub.Unsubscribe()

	for i := 0; i < defaultBuffer; i++ {
		h.Publish(i)
	}

	// Buffer is now full; one more publish must drop rather than block.
	done := make(chan struct{})
	go func() {
		h.Publish(9999)
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Publish blocked on a full subscriber buffer")
	}
}

func TestUnsubscribeStopsDelivery(t *testing.T) {
	h := NewHub[int]()
	sub := h.Subscribe()
	sub.Unsubscribe()

	require.Equal(t, 0, h.Publish(1))
	require.Equal(t, 0, h.Subscribers())
}

func TestSubscribersCount(t *testing.T) {
	h := NewHub[string]()
	require.Equal(t, 0, h.Subscribers())

	a := h.Subscribe()
	require.Equal(t, 1, h.Subscribers())

	b := h.Subscribe()
	require.Equal(t, 2, h.Subscribers())

	a.Unsubscribe()
	require.Equal(t, 1, h.Subscribers())
	b.Unsubscribe()
}
