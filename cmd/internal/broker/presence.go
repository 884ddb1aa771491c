package broker

import "sync"

// PresenceStore tracks live connection counts per user and derives
// online/offline transitions.
//
// The broker only needs the transition edges: Connect reports whether this is
// the user's first live connection, Disconnect whether it was the last. All
// state here is process-local; multi-node deployments swap in an externally
// coordinated implementation.
type PresenceStore interface {
	Connect(userID string) (first bool)
	Disconnect(userID string) (last bool)
	IsOnline(userID string) bool
	Online() []string
}

// LocalPresence is the process-local PresenceStore.
type LocalPresence struct {
	mu     sync.Mutex
	counts map[string]int
}

// NewLocalPresence constructs an empty presence registry.
func NewLocalPresence() *LocalPresence {
	return &LocalPresence{counts: make(map[string]int)}
}

// Connect increments the user's connection count atomically.
func (p *LocalPresence) Connect(userID string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.counts[userID]++
	return p.counts[userID] == 1
}

// Disconnect decrements the user's connection count atomically.
// A disconnect for an untracked user reports last=false and leaves no state.
func (p *LocalPresence) Disconnect(userID string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()

	n, ok := p.counts[userID]
	if !ok {
		return false
	}
	n--
	if n <= 0 {
		delete(p.counts, userID)
		return true
	}
	p.counts[userID] = n
	return false
}

// IsOnline reports whether the user has at least one live connection.
func (p *LocalPresence) IsOnline(userID string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.counts[userID] > 0
}

// Online returns the ids of all currently online users.
func (p *LocalPresence) Online() []string {
	p.mu.Lock()
	defer p.mu.Unlock()

	out := make([]string, 0, len(p.counts))
	for id := range p.counts {
		out = append(out, id)
	}
	return out
}
