package directory

import (
	"log/slog"
	"os/exec"
	"strings"
	"unicode"
)

// ProcessMatcher decides whether a pane's current command is an agent
// program. Injected so the heuristic can be replaced without touching
// discovery; the default matches the semver-shaped process name that the
// Claude Code node runtime reports.
type ProcessMatcher func(command string) bool

// SemverProcess matches process names that are purely digits separated by
// dots with at least three parts, e.g. "16.20.1".
// TODO: replace with explicit session registration via the turn-complete RPC.
func SemverProcess(command string) bool {
	parts := strings.Split(command, ".")
	if len(parts) < 3 {
		return false
	}
	for _, p := range parts {
		if p == "" {
			return false
		}
		for i := 0; i < len(p); i++ {
			if p[i] < '0' || p[i] > '9' {
				return false
			}
		}
	}
	return true
}

const paneFormat = "#{pane_id}|#{session_name}:#{window_index}.#{pane_index}|#{pane_current_command}"

// TmuxDirectory discovers agent sessions by scanning tmux panes and relays
// text with send-keys.
type TmuxDirectory struct {
	matcher ProcessMatcher
	logger  *slog.Logger
}

// NewTmuxDirectory creates a TmuxDirectory. A nil matcher falls back to
// SemverProcess; a nil logger falls back to slog.Default().
func NewTmuxDirectory(matcher ProcessMatcher, logger *slog.Logger) *TmuxDirectory {
	if matcher == nil {
		matcher = SemverProcess
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &TmuxDirectory{matcher: matcher, logger: logger}
}

func (d *TmuxDirectory) Discover() []AgentAddress {
	out, err := exec.Command("tmux", "list-panes", "-a", "-F", paneFormat).Output()
	if err != nil {
		d.logger.Warn("tmux list-panes failed", "error", err)
		return nil
	}
	return parsePanes(string(out), d.matcher)
}

func (d *TmuxDirectory) IsAlive(addr AgentAddress) bool {
	out, err := exec.Command("tmux",
		"display-message", "-t", addr.TargetID, "-p", "#{pane_current_command}").Output()
	if err != nil {
		return false
	}
	return d.matcher(strings.TrimSpace(string(out)))
}

// Relay sends text as literal keystrokes followed by Enter. The -l flag
// prevents shell interpretation but raw bytes still reach the pane, so
// control characters are stripped first.
func (d *TmuxDirectory) Relay(addr AgentAddress, text string) error {
	safe := StripControl(text)
	if err := exec.Command("tmux", "send-keys", "-t", addr.TargetID, "-l", safe).Run(); err != nil {
		d.logger.Warn("tmux send-keys failed", "target", addr.TargetID, "error", err)
		return err
	}
	if err := exec.Command("tmux", "send-keys", "-t", addr.TargetID, "Enter").Run(); err != nil {
		d.logger.Warn("tmux send-keys Enter failed", "target", addr.TargetID, "error", err)
		return err
	}
	return nil
}

// ActiveSession returns the session the tmux client is currently attached to.
func (d *TmuxDirectory) ActiveSession() (string, bool) {
	return tmuxDisplay("display-message", "-p", "#{session_name}")
}

// PaneSession returns the session that the given pane belongs to.
func (d *TmuxDirectory) PaneSession(targetID string) (string, bool) {
	return tmuxDisplay("display-message", "-t", targetID, "-p", "#{session_name}")
}

func tmuxDisplay(args ...string) (string, bool) {
	out, err := exec.Command("tmux", args...).Output()
	if err != nil {
		return "", false
	}
	s := strings.TrimSpace(string(out))
	if s == "" {
		return "", false
	}
	return s, true
}

// parsePanes converts tmux list-panes output (paneFormat lines) into
// addresses, keeping only panes whose current command satisfies the matcher.
func parsePanes(out string, matcher ProcessMatcher) []AgentAddress {
	var addrs []AgentAddress
	for _, line := range strings.Split(out, "\n") {
		parts := strings.SplitN(line, "|", 3)
		if len(parts) != 3 {
			continue
		}
		if !matcher(strings.TrimSpace(parts[2])) {
			continue
		}
		addrs = append(addrs, AgentAddress{
			TargetID: parts[0],
			Label:    sanitizeLabel(parts[1]),
		})
	}
	return addrs
}

// sanitizeLabel keeps printable ASCII and collapses whitespace runs. Session
// names come from the operator and occasionally carry escape garbage.
func sanitizeLabel(label string) string {
	var b strings.Builder
	for _, r := range label {
		if r >= '!' && r <= '~' || r == ' ' {
			b.WriteRune(r)
		}
	}
	return strings.Join(strings.Fields(b.String()), " ")
}

// StripControl removes ANSI CSI escape sequences and control characters
// except newline.
func StripControl(text string) string {
	var b strings.Builder
	b.Grow(len(text))
	runes := []rune(text)
	for i := 0; i < len(runes); i++ {
		r := runes[i]
		if r == '\x1b' {
			if i+1 < len(runes) && runes[i+1] == '[' {
				i++
				for i+1 < len(runes) {
					i++
					c := runes[i]
					if c >= 'a' && c <= 'z' || c >= 'A' && c <= 'Z' {
						break
					}
				}
			}
			continue
		}
		if r != '\n' && unicode.IsControl(r) {
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}
