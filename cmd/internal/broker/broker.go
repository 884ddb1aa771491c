package broker

import (
	"log/slog"
	"sync"

	v1 "github.com/sathwiksgjois/AuraChat---Advanced-AI-powered-Chat-System/shared/contracts/chat/v1"
)

// RoomGroup names the publish-subscribe group for one room.
func RoomGroup(roomID string) string { return "room:" + roomID }

// UserGroup names the cross-room group for one user's live connections.
func UserGroup(userID string) string { return "user:" + userID }

// GroupBroker owns named groups and provides join/leave/fan-out semantics.
//
// Delivery contract: Send reaches every handle joined at the moment of the call,
// at most once per handle; handles joining concurrently may or may not receive
// it. Sending to an unknown or empty group is a no-op.
type GroupBroker struct {
	log     *slog.Logger
	metrics *Metrics

	mu     sync.Mutex
	groups map[string]*group
	// joined tracks which groups each connection is in, so disconnect can
	// leave all of them without the caller keeping its own list.
	joined map[string]map[string]struct{}
}

// NewGroupBroker constructs a GroupBroker. metrics may be nil.
func NewGroupBroker(log *slog.Logger, metrics *Metrics) *GroupBroker {
	return &GroupBroker{
		log:     log,
		metrics: metrics,
		groups:  make(map[string]*group),
		joined:  make(map[string]map[string]struct{}),
	}
}

// Join adds a client to the named group, creating the group if needed.
func (b *GroupBroker) Join(name string, client *Client) {
	if client == nil || client.ConnID == "" || name == "" {
		return
	}

	b.mu.Lock()
	g, ok := b.groups[name]
	if !ok {
		g = newGroup(b.log, name)
		b.groups[name] = g
	}
	j, ok := b.joined[client.ConnID]
	if !ok {
		j = make(map[string]struct{}, 2)
		b.joined[client.ConnID] = j
	}
	j[name] = struct{}{}
	b.mu.Unlock()

	g.join(client)
}

// Leave removes a connection from the named group.
// Leaving a group the connection never joined is a no-op.
func (b *GroupBroker) Leave(name, connID string) {
	b.mu.Lock()
	g := b.groups[name]
	if j := b.joined[connID]; j != nil {
		delete(j, name)
		if len(j) == 0 {
			delete(b.joined, connID)
		}
	}
	b.mu.Unlock()

	if g != nil && g.leave(connID) {
		b.pruneEmpty(name)
	}
}

// LeaveAll removes a connection from every group it joined and signals the
// client to shut down. This is the one cleanup guaranteed on disconnect.
func (b *GroupBroker) LeaveAll(client *Client) {
	if client == nil {
		return
	}

	b.mu.Lock()
	names := make([]string, 0, len(b.joined[client.ConnID]))
	for name := range b.joined[client.ConnID] {
		names = append(names, name)
	}
	delete(b.joined, client.ConnID)
	groups := make([]*group, 0, len(names))
	for _, name := range names {
		if g := b.groups[name]; g != nil {
			groups = append(groups, g)
		}
	}
	b.mu.Unlock()

	for i, g := range groups {
		if g.leave(client.ConnID) {
			b.pruneEmpty(names[i])
		}
	}

	client.Close()
}

// Send encodes event and fans it out to every current member of the group.
func (b *GroupBroker) Send(name string, event any) {
	frame, err := v1.Encode(event)
	if err != nil {
		b.log.Error("broker.send.encode_fail", "group", name, "err", err)
		return
	}

	b.mu.Lock()
	g := b.groups[name]
	b.mu.Unlock()

	if g == nil {
		return
	}
	g.broadcast(frame)
	if b.metrics != nil {
		b.metrics.EventsFannedOut.Inc()
	}
}

// GroupSize reports current membership, mainly for tests and debug endpoints.
func (b *GroupBroker) GroupSize(name string) int {
	b.mu.Lock()
	g := b.groups[name]
	b.mu.Unlock()
	if g == nil {
		return 0
	}
	return g.size()
}

// pruneEmpty drops a group that lost its last member, unless a concurrent
// join re-populated it in the meantime.
func (b *GroupBroker) pruneEmpty(name string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if g := b.groups[name]; g != nil && g.size() == 0 {
		delete(b.groups, name)
	}
}
