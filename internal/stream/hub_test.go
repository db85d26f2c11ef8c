package stream

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPublish_DeliversToOwnerOnly(t *testing.T) {
	h := NewHub(4)
	subA := h.Subscribe("alice")
	subB := h.Subscribe("bob")
	defer h.Unsubscribe(subA)
	defer h.Unsubscribe(subB)

	h.Publish("alice", Event{Action: ActionInsert, Table: TableNotifications, Record: "n1"})

	select {
	case ev := <-subA.C:
		assert.Equal(t, ActionInsert, ev.Action)
		assert.Equal(t, "n1", ev.Record)
		assert.False(t, ev.Timestamp.IsZero())
	default:
		t.Fatal("alice did not receive the event")
	}

	select {
	case <-subB.C:
		t.Fatal("bob received alice's event")
	default:
	}
}

func TestPublish_MultipleSubscribers(t *testing.T) {
	h := NewHub(4)
	s1 := h.Subscribe("alice")
	s2 := h.Subscribe("alice")
	defer h.Unsubscribe(s1)
	defer h.Unsubscribe(s2)

	h.Publish("alice", Event{Action: ActionUpdate, Table: TableConnections})

	require.Len(t, s1.C, 1)
	require.Len(t, s2.C, 1)
}

func TestPublish_FullBufferDoesNotBlock(t *testing.T) {
	h := NewHub(2)
	sub := h.Subscribe("alice")
	defer h.Unsubscribe(sub)

	// Third publish overflows the buffer and must be dropped, not block.
	for i := 0; i < 3; i++ {
		h.Publish("alice", Event{Action: ActionInsert, Table: TableNotifications, Record: i})
	}

	assert.Len(t, sub.C, 2)
	assert.Equal(t, 0, (<-sub.C).Record)
	assert.Equal(t, 1, (<-sub.C).Record)
}

func TestUnsubscribe_ClosesChannel(t *testing.T) {
	h := NewHub(4)
	sub := h.Subscribe("alice")
	h.Unsubscribe(sub)

	_, open := <-sub.C
	assert.False(t, open)
	assert.Equal(t, 0, h.SubscriberCount("alice"))

	// Unsubscribing twice is a no-op.
	h.Unsubscribe(sub)
}

func TestPublish_NoSubscribers(t *testing.T) {
	h := NewHub(4)
	// Must not panic or block.
	h.Publish("nobody", Event{Action: ActionDelete, Table: TableConnections})
}
