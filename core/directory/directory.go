// Package directory provides discovery of live agent sessions and text relay
// into them. The rest of the daemon depends only on the Directory interface;
// the tmux implementation is one transport among possible future ones.
package directory

// AgentAddress identifies one live agent session. TargetID is the
// transport-specific identifier (a tmux pane id such as "%3") and is stable
// for the session's lifetime. Label is human-readable and may change when a
// session is renamed or moved; it is never part of identity.
type AgentAddress struct {
	TargetID string
	Label    string
}

// SameTarget reports whether two addresses refer to the same session.
// Labels are deliberately ignored.
func (a AgentAddress) SameTarget(other AgentAddress) bool {
	return a.TargetID == other.TargetID
}

// Directory enumerates live agent sessions and relays text into them.
type Directory interface {
	// Discover returns the currently live agent sessions. Addresses are
	// constructed fresh on every call and never cached by implementations.
	Discover() []AgentAddress

	// IsAlive reports whether the addressed session still exists and is
	// still running the expected agent program.
	IsAlive(addr AgentAddress) bool

	// Relay injects text into the addressed session. Best-effort: an error
	// means the transport call itself failed, not that the agent ignored it.
	Relay(addr AgentAddress, text string) error
}

// SessionLocator resolves which terminal session the operator is attached to
// and which session a given target belongs to. Used by the notifier to skip
// notifications when the operator is already looking at the pane.
type SessionLocator interface {
	// ActiveSession returns the session the operator's client is attached to.
	ActiveSession() (string, bool)

	// PaneSession returns the session that the given target belongs to.
	PaneSession(targetID string) (string, bool)
}
