package broker

import (
	"log/slog"
	"sync"
)

// group is an in-memory membership + broadcast fanout primitive.
//
// Concurrency guarantees:
// - join/leave are safe under concurrent broadcast.
// - broadcast never blocks (drops under backpressure).
// - broadcast is panic-safe because Client.Send is never closed by the server.
type group struct {
	log  *slog.Logger
	name string

	mu      sync.RWMutex
	members map[string]*Client
}

func newGroup(log *slog.Logger, name string) *group {
	return &group{
		log:     log,
		name:    name,
		members: make(map[string]*Client),
	}
}

func (g *group) join(client *Client) {
	if g == nil || client == nil || client.ConnID == "" {
		return
	}

	g.mu.Lock()
	g.members[client.ConnID] = client
	g.mu.Unlock()

	g.log.Debug("group.member.join", "group", g.name, "conn_id", client.ConnID)
}

// leave removes a client from membership and reports whether the group is now empty.
func (g *group) leave(connID string) bool {
	if g == nil || connID == "" {
		return false
	}

	g.mu.Lock()
	delete(g.members, connID)
	empty := len(g.members) == 0
	g.mu.Unlock()

	g.log.Debug("group.member.leave", "group", g.name, "conn_id", connID)
	return empty
}

// broadcast fanouts a pre-encoded frame to all members.
// Non-blocking: if a member queue is full or the client is shutting down, it is dropped.
func (g *group) broadcast(frame []byte) {
	if g == nil {
		return
	}

	g.mu.RLock()
	defer g.mu.RUnlock()

	for _, m := range g.members {
		if m == nil {
			continue
		}

		select {
		case <-m.Done():
			// Skip clients that are shutting down.
			continue
		default:
		}

		select {
		case m.Send <- frame:
		default:
			// Drop rather than block the whole group.
			g.log.Warn("group.broadcast.drop", "group", g.name, "conn_id", m.ConnID)
		}
	}
}

func (g *group) size() int {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return len(g.members)
}
