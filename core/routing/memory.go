// Package routing decides which live agent session an inbound operator reply
// belongs to, and relays it there. The resolution chain is strictly ordered:
// explicit tag, semantic classification, sticky last-routed, sticky
// last-notification-source, default-label fallback.
package routing

import (
	"sync"

	"github.com/adalundhe/courier/core/directory"
)

// Memory holds the daemon's only mutable routing state: the session a reply
// was last routed to, and the session whose turn completion most recently
// triggered an away notification. The two slots are guarded independently so
// the RPC path and the reply path never serialize on each other.
//
// Neither slot is persisted. Both may reference a session that has since
// died; readers must re-validate liveness against the directory.
type Memory struct {
	routedMu   sync.Mutex
	lastRouted *directory.AgentAddress

	sourceMu   sync.Mutex
	lastSource *directory.AgentAddress
}

// NewMemory returns an empty Memory.
func NewMemory() *Memory {
	return &Memory{}
}

// SetLastRouted records the session a reply was just routed to.
// Last write wins.
func (m *Memory) SetLastRouted(addr directory.AgentAddress) {
	m.routedMu.Lock()
	defer m.routedMu.Unlock()
	m.lastRouted = &addr
}

// LastRouted returns a snapshot of the last-routed slot.
func (m *Memory) LastRouted() (directory.AgentAddress, bool) {
	m.routedMu.Lock()
	defer m.routedMu.Unlock()
	if m.lastRouted == nil {
		return directory.AgentAddress{}, false
	}
	return *m.lastRouted, true
}

// SetLastNotificationSource records the session whose turn completion most
// recently produced an away notification. Last write wins.
func (m *Memory) SetLastNotificationSource(addr directory.AgentAddress) {
	m.sourceMu.Lock()
	defer m.sourceMu.Unlock()
	m.lastSource = &addr
}

// LastNotificationSource returns a snapshot of the notification-source slot.
func (m *Memory) LastNotificationSource() (directory.AgentAddress, bool) {
	m.sourceMu.Lock()
	defer m.sourceMu.Unlock()
	if m.lastSource == nil {
		return directory.AgentAddress{}, false
	}
	return *m.lastSource, true
}

// Reset clears both slots. Test use only.
func (m *Memory) Reset() {
	m.routedMu.Lock()
	m.lastRouted = nil
	m.routedMu.Unlock()

	m.sourceMu.Lock()
	m.lastSource = nil
	m.sourceMu.Unlock()
}
