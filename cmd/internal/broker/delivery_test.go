package broker

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestDeliverySenderPreDelivered(t *testing.T) {
	t.Parallel()

	tr := NewLocalDeliveryTracker()
	now := time.Now().UTC()

	tr.CreateRecords("m1", "alice", []string{"alice", "bob"}, now)

	require.False(t, tr.MarkDelivered("m1", "alice", now), "sender starts delivered")
	require.False(t, tr.MarkRead("m1", "alice", now), "sender starts read")

	require.Empty(t, tr.Pending("alice"))
	require.Len(t, tr.Pending("bob"), 1)
}

func TestDeliveryMarkIdempotent(t *testing.T) {
	t.Parallel()

	tr := NewLocalDeliveryTracker()
	now := time.Now().UTC()
	tr.CreateRecords("m1", "alice", []string{"alice", "bob"}, now)

	require.True(t, tr.MarkDelivered("m1", "bob", now))
	require.False(t, tr.MarkDelivered("m1", "bob", now), "second mark is a no-op")

	require.True(t, tr.MarkRead("m1", "bob", now))
	require.False(t, tr.MarkRead("m1", "bob", now))
}

func TestDeliveryReadImpliesDelivered(t *testing.T) {
	t.Parallel()

	tr := NewLocalDeliveryTracker()
	now := time.Now().UTC()
	tr.CreateRecords("m1", "alice", []string{"alice", "bob"}, now)

	// Read before any delivered mark must set delivered too.
	require.True(t, tr.MarkRead("m1", "bob", now))
	require.False(t, tr.MarkDelivered("m1", "bob", now))
	require.Empty(t, tr.Pending("bob"))
}

func TestDeliveryUnknownRecordNoOp(t *testing.T) {
	t.Parallel()

	tr := NewLocalDeliveryTracker()
	now := time.Now().UTC()

	require.False(t, tr.MarkDelivered("missing", "bob", now))
	require.False(t, tr.MarkRead("missing", "bob", now))
	require.Empty(t, tr.Pending("bob"))
}

func TestDeliveryPendingBacklog(t *testing.T) {
	t.Parallel()

	tr := NewLocalDeliveryTracker()
	now := time.Now().UTC()

	tr.CreateRecords("m1", "alice", []string{"alice", "bob"}, now)
	tr.CreateRecords("m2", "carol", []string{"carol", "bob"}, now)
	tr.CreateRecords("m3", "alice", []string{"alice", "bob"}, now)

	tr.MarkDelivered("m2", "bob", now)

	pending := tr.Pending("bob")
	require.Len(t, pending, 2)

	senders := map[string]string{}
	for _, p := range pending {
		senders[p.MessageID] = p.SenderID
	}
	require.Equal(t, map[string]string{"m1": "alice", "m3": "alice"}, senders)
}

func TestDeliveryCreateRecordsIdempotent(t *testing.T) {
	t.Parallel()

	tr := NewLocalDeliveryTracker()
	now := time.Now().UTC()

	tr.CreateRecords("m1", "alice", []string{"alice", "bob"}, now)
	require.True(t, tr.MarkDelivered("m1", "bob", now))

	// Re-creating must not reset bob's state.
	tr.CreateRecords("m1", "alice", []string{"alice", "bob"}, now)
	require.False(t, tr.MarkDelivered("m1", "bob", now))
}
