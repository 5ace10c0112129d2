package notify

import (
	"context"
	"log/slog"
	"os/exec"
	"strings"
	"unicode"
)

// ScreenLockPresence probes the macOS console lock state. Errors count as
// unlocked: when in doubt, speak at the desk rather than text a phone.
type ScreenLockPresence struct{}

func (ScreenLockPresence) ScreenLocked() bool {
	out, err := exec.Command("bash", "-c",
		"ioreg -n Root -d1 -a | plutil -extract IOConsoleLocked raw -").Output()
	if err != nil {
		return false
	}
	return strings.TrimSpace(string(out)) == "true"
}

// CommandSpeaker speaks through a text-to-speech command such as say(1).
type CommandSpeaker struct {
	Command string
	Voice   string
	Args    []string
}

func (s CommandSpeaker) Speak(message string) error {
	args := append([]string{}, s.Args...)
	if s.Voice != "" {
		args = append(args, "-v", s.Voice)
	}
	args = append(args, message)
	return exec.Command(s.Command, args...).Run()
}

// ScriptMessenger delivers text messages through the macOS Messages app via
// osascript.
type ScriptMessenger struct {
	Recipient string
	Logger    *slog.Logger
}

func (m ScriptMessenger) Send(ctx context.Context, text string) error {
	if m.Logger != nil {
		m.Logger.Info("sending message", "text", text)
	}
	script := `tell application "Messages" to send "` + escapeAppleScript(text) +
		`" to buddy "` + escapeAppleScript(m.Recipient) + `"`
	return exec.CommandContext(ctx, "osascript", "-e", script).Run()
}

// escapeAppleScript makes a string safe inside an AppleScript double-quoted
// literal passed via osascript -e: control characters and the AppleScript
// line-continuation character are dropped, backslashes and quotes escaped.
func escapeAppleScript(text string) string {
	var b strings.Builder
	b.Grow(len(text))
	for _, r := range text {
		if r == '\n' || r == '\r' || r == '¬' || unicode.IsControl(r) {
			continue
		}
		switch r {
		case '\\':
			b.WriteString(`\\`)
		case '"':
			b.WriteString(`\"`)
		default:
			b.WriteRune(r)
		}
	}
	return b.String()
}
