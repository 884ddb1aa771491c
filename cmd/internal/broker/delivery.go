package broker

import (
	"sync"
	"time"
)

// PendingDelivery is one undelivered (message, recipient) record, with the
// sender id needed to route the delivered receipt once it flushes.
type PendingDelivery struct {
	MessageID string
	SenderID  string
}

// DeliveryTracker maintains per-(message, user) delivery/read state.
//
// Transitions are monotonic and idempotent: once delivered or read, a record
// never reverts, and re-marking is a silent no-op. For recipients other than
// the sender, read implies delivered. The sender's own record is created
// already delivered and read.
type DeliveryTracker interface {
	CreateRecords(messageID, senderID string, participantIDs []string, now time.Time)
	MarkDelivered(messageID, userID string, now time.Time) (changed bool)
	MarkRead(messageID, userID string, now time.Time) (changed bool)
	Pending(userID string) []PendingDelivery
}

type deliveryRecord struct {
	senderID    string
	delivered   bool
	read        bool
	deliveredAt time.Time
	readAt      time.Time
}

type deliveryKey struct {
	messageID string
	userID    string
}

// LocalDeliveryTracker is the process-local DeliveryTracker.
type LocalDeliveryTracker struct {
	mu      sync.Mutex
	records map[deliveryKey]*deliveryRecord
	// byUser indexes record keys per recipient for the pending-backlog query.
	byUser map[string]map[string]struct{}
}

// NewLocalDeliveryTracker constructs an empty tracker.
func NewLocalDeliveryTracker() *LocalDeliveryTracker {
	return &LocalDeliveryTracker{
		records: make(map[deliveryKey]*deliveryRecord),
		byUser:  make(map[string]map[string]struct{}),
	}
}

// CreateRecords creates exactly one record per participant for a new message.
// The sender's record is pre-delivered and pre-read; everyone else starts
// undelivered and unread.
func (t *LocalDeliveryTracker) CreateRecords(messageID, senderID string, participantIDs []string, now time.Time) {
	t.mu.Lock()
	defer t.mu.Unlock()

	for _, uid := range participantIDs {
		key := deliveryKey{messageID: messageID, userID: uid}
		if _, exists := t.records[key]; exists {
			continue
		}

		rec := &deliveryRecord{senderID: senderID}
		if uid == senderID {
			rec.delivered = true
			rec.read = true
			rec.deliveredAt = now
			rec.readAt = now
		}
		t.records[key] = rec

		msgs, ok := t.byUser[uid]
		if !ok {
			msgs = make(map[string]struct{})
			t.byUser[uid] = msgs
		}
		msgs[messageID] = struct{}{}
	}
}

// MarkDelivered flips delivered if currently false. Already-true is a no-op.
func (t *LocalDeliveryTracker) MarkDelivered(messageID, userID string, now time.Time) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	rec := t.records[deliveryKey{messageID: messageID, userID: userID}]
	if rec == nil || rec.delivered {
		return false
	}
	rec.delivered = true
	rec.deliveredAt = now
	return true
}

// MarkRead flips read if currently false, setting delivered as well so the
// read-implies-delivered invariant holds for non-senders.
func (t *LocalDeliveryTracker) MarkRead(messageID, userID string, now time.Time) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	rec := t.records[deliveryKey{messageID: messageID, userID: userID}]
	if rec == nil || rec.read {
		return false
	}
	rec.read = true
	rec.readAt = now
	if !rec.delivered {
		rec.delivered = true
		rec.deliveredAt = now
	}
	return true
}

// Pending returns every undelivered record for the user, used to flush
// backlogged delivery receipts when their first connection comes online.
func (t *LocalDeliveryTracker) Pending(userID string) []PendingDelivery {
	t.mu.Lock()
	defer t.mu.Unlock()

	var out []PendingDelivery
	for msgID := range t.byUser[userID] {
		rec := t.records[deliveryKey{messageID: msgID, userID: userID}]
		if rec != nil && !rec.delivered {
			out = append(out, PendingDelivery{MessageID: msgID, SenderID: rec.senderID})
		}
	}
	return out
}
