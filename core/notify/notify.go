// Package notify turns TurnCompleted facts into human notifications. The
// channel depends on operator presence: speech synthesis when at the desk,
// a text message when the screen is locked. Every delivery is best-effort;
// failures are logged and never propagate into the event pipeline.
package notify

import (
	"context"
	"log/slog"
	"strings"

	"github.com/adalundhe/courier/core/classify"
	"github.com/adalundhe/courier/core/directory"
	"github.com/adalundhe/courier/core/store"
)

// OutboundPrefix marks every text message the daemon sends. The tailer
// excludes rows carrying it so the daemon never ingests its own output.
const OutboundPrefix = "🤖"

// awayBodyLimit caps how much of the assistant message goes into a text
// message.
const awayBodyLimit = 280

// Presence reports whether the operator is away from the desk.
type Presence interface {
	ScreenLocked() bool
}

// Speaker is the at-desk notification channel.
type Speaker interface {
	Speak(message string) error
}

// Messenger is the away notification channel, delivering to the configured
// operator recipient.
type Messenger interface {
	Send(ctx context.Context, text string) error
}

// Notifier chooses and drives the notification channel for completed turns.
type Notifier struct {
	Speaker    Speaker
	Messenger  Messenger
	Presence   Presence
	Sessions   directory.SessionLocator // nil disables the attached-session skip
	Summarizer classify.Summarizer      // nil falls back to a fixed summary

	// LastOutgoing returns the most recent outgoing text on the away
	// channel, for duplicate suppression. nil disables suppression.
	LastOutgoing func(ctx context.Context) (string, bool)

	// SkipWhenAttached suppresses notifications for turns whose session the
	// operator is currently attached to.
	SkipWhenAttached bool

	Logger *slog.Logger
}

// Notify delivers a notification for one completed turn. It returns the
// source agent address when the away channel was chosen and a message
// actually went out, so the caller can update routing memory; otherwise nil.
func (n *Notifier) Notify(ctx context.Context, turn store.TurnCompleted) *directory.AgentAddress {
	logger := n.logger()

	if n.SkipWhenAttached && n.Sessions != nil {
		active, okActive := n.Sessions.ActiveSession()
		pane, okPane := n.Sessions.PaneSession(turn.SessionID)
		if okActive && okPane && active == pane {
			logger.Info("notification skipped, operator attached to session", "session", pane)
			return nil
		}
	}

	if n.Presence != nil && n.Presence.ScreenLocked() {
		return n.notifyAway(ctx, turn)
	}
	n.notifyAtDesk(ctx, turn)
	return nil
}

func (n *Notifier) notifyAtDesk(ctx context.Context, turn store.TurnCompleted) {
	summary := "Work complete"
	if n.Summarizer != nil {
		if s, err := n.Summarizer.Summarize(ctx, turn.LastUserPrompt); err == nil {
			summary = s
		} else {
			n.logger().Warn("summary failed, using fallback", "error", err)
		}
	}

	message := summary + " on " + turn.MainContext + " and waiting for further instructions"
	if n.Speaker == nil {
		return
	}
	if err := n.Speaker.Speak(message); err != nil {
		n.logger().Warn("speech notification failed", "error", err)
		return
	}
	n.logger().Info("speech notification sent")
}

func (n *Notifier) notifyAway(ctx context.Context, turn store.TurnCompleted) *directory.AgentAddress {
	logger := n.logger()
	if n.Messenger == nil {
		logger.Warn("away channel not configured")
		return nil
	}

	body := strings.ReplaceAll(truncateRunes(turn.AssistantMessage, awayBodyLimit), "\n", " ")
	main, question := SplitBody(body)
	message := "[" + turn.SessionLabel + "] " + main + " (" + turn.MainContext + ")"

	if n.isDuplicate(ctx, message) {
		logger.Info("away notification skipped, duplicate of last outgoing")
		return nil
	}

	if err := n.Messenger.Send(ctx, OutboundPrefix+" "+message); err != nil {
		logger.Warn("away notification failed", "error", err)
		return nil
	}
	logger.Info("away notification sent", "session", turn.SessionLabel)

	// A trailing question gets its own message so it is not lost in a long
	// summary on a phone lock screen.
	if question != "" {
		if err := n.Messenger.Send(ctx, OutboundPrefix+" "+question); err != nil {
			logger.Warn("away question failed", "error", err)
		}
	}

	return &directory.AgentAddress{TargetID: turn.SessionID, Label: turn.SessionLabel}
}

// isDuplicate compares the candidate message against the most recent
// outgoing text, ignoring the outbound marker.
func (n *Notifier) isDuplicate(ctx context.Context, message string) bool {
	if n.LastOutgoing == nil {
		return false
	}
	last, ok := n.LastOutgoing(ctx)
	if !ok {
		return false
	}
	last = strings.TrimSpace(strings.TrimPrefix(strings.TrimSpace(last), OutboundPrefix))
	return last == strings.TrimSpace(message)
}

func (n *Notifier) logger() *slog.Logger {
	if n.Logger != nil {
		return n.Logger
	}
	return slog.Default()
}

// SplitBody separates a trailing question from the main body, so the
// question can be sent as its own message. A body that is nothing but a
// question is left whole.
func SplitBody(body string) (main, question string) {
	qPos := strings.LastIndex(body, "?")
	if qPos < 0 {
		return strings.TrimSpace(body), ""
	}
	sentenceStart := 0
	if dot := strings.LastIndex(body[:qPos], "."); dot >= 0 {
		sentenceStart = dot + 1
	}
	q := strings.TrimSpace(body[sentenceStart : qPos+1])
	m := strings.TrimSpace(body[:sentenceStart])
	if m == "" || q == "" {
		return strings.TrimSpace(body), ""
	}
	return m, q
}

func truncateRunes(s string, n int) string {
	runes := []rune(s)
	if len(runes) <= n {
		return s
	}
	return string(runes[:n])
}
