package routing

import (
	"context"
	"log/slog"
	"strings"

	"github.com/adalundhe/courier/core/classify"
	"github.com/adalundhe/courier/core/directory"
)

// DefaultFallbackLabel is the conventional primary-agent label substring used
// by the last resolution strategy when nothing else matches.
const DefaultFallbackLabel = "my-agent"

// Resolver maps an inbound reply to exactly one live session. It is purely
// decisional: it never relays, never mutates Memory, and so tests cover every
// strategy with fakes. Callers short-circuit on an empty session list before
// invoking it.
type Resolver struct {
	memory        *Memory
	classifier    classify.Classifier
	fallbackLabel string
	logger        *slog.Logger
}

// NewResolver creates a Resolver. classifier may be nil, which disables the
// semantic strategy. An empty fallbackLabel falls back to
// DefaultFallbackLabel; a nil logger falls back to slog.Default().
func NewResolver(memory *Memory, classifier classify.Classifier, fallbackLabel string, logger *slog.Logger) *Resolver {
	if fallbackLabel == "" {
		fallbackLabel = DefaultFallbackLabel
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Resolver{
		memory:        memory,
		classifier:    classifier,
		fallbackLabel: fallbackLabel,
		logger:        logger,
	}
}

// Resolve picks the target session for a reply, first success wins:
//
//  1. exact tag match (case-sensitive)
//  2. case-insensitive substring tag match; a tag matching nothing fails
//     immediately, because a wrong explicit tag must surface as an error
//     rather than reroute silently
//  3. semantic classification, only when untagged and more than one
//     candidate; classifier failure or "none" falls through
//  4. sticky last-routed session, matched by target identity
//  5. sticky last-notification-source session
//  6. first session whose label contains the fallback label
//
// The returned body is the tag-stripped body, except when the classifier
// supplies a cleaned version.
func (r *Resolver) Resolve(ctx context.Context, tag string, hasTag bool, body string, sessions []directory.AgentAddress) (directory.AgentAddress, string, bool) {
	labels := make([]string, len(sessions))
	for i, s := range sessions {
		labels[i] = s.Label
	}
	r.logger.Info("resolving session", "available", labels, "tagged", hasTag)

	if hasTag {
		for _, s := range sessions {
			if s.Label == tag {
				r.logger.Info("resolved via exact tag match", "session", s.Label)
				return s, body, true
			}
		}
		tagLower := strings.ToLower(tag)
		for _, s := range sessions {
			if strings.Contains(strings.ToLower(s.Label), tagLower) {
				r.logger.Info("resolved via tag substring match", "session", s.Label)
				return s, body, true
			}
		}
		r.logger.Info("no session matched tag", "tag", tag)
		return directory.AgentAddress{}, "", false
	}

	if s, cleaned, ok := r.semanticResolve(ctx, body, sessions); ok {
		r.logger.Info("resolved via semantic match", "session", s.Label)
		return s, cleaned, true
	}

	if last, ok := r.memory.LastRouted(); ok {
		for _, s := range sessions {
			if s.SameTarget(last) {
				r.logger.Info("resolved via last routed session", "session", s.Label)
				return s, body, true
			}
		}
		r.logger.Info("last routed session no longer alive", "session", last.Label)
	}

	if last, ok := r.memory.LastNotificationSource(); ok {
		for _, s := range sessions {
			if s.SameTarget(last) {
				r.logger.Info("resolved via last notification source", "session", s.Label)
				return s, body, true
			}
		}
		r.logger.Info("last notification source no longer alive", "session", last.Label)
	}

	fallback := strings.ToLower(r.fallbackLabel)
	for _, s := range sessions {
		if strings.Contains(strings.ToLower(s.Label), fallback) {
			r.logger.Info("resolved via fallback label", "session", s.Label)
			return s, body, true
		}
	}

	r.logger.Info("resolution failed, no matching session")
	return directory.AgentAddress{}, "", false
}

// semanticResolve delegates to the classifier and matches its answer against
// the live labels with the same exact-then-substring rule as tag matching,
// extended to both substring directions since models sometimes echo a
// shortened or padded label.
func (r *Resolver) semanticResolve(ctx context.Context, body string, sessions []directory.AgentAddress) (directory.AgentAddress, string, bool) {
	if r.classifier == nil || len(sessions) <= 1 {
		return directory.AgentAddress{}, "", false
	}

	labels := make([]string, len(sessions))
	for i, s := range sessions {
		labels[i] = s.Label
	}
	match, err := r.classifier.Classify(ctx, body, labels)
	if err != nil {
		r.logger.Info("classifier unavailable, falling through", "error", err)
		return directory.AgentAddress{}, "", false
	}
	if match == nil {
		r.logger.Info("classifier found no routing intent")
		return directory.AgentAddress{}, "", false
	}

	answer := strings.ToLower(match.Label)
	for _, s := range sessions {
		label := strings.ToLower(s.Label)
		if s.Label == match.Label ||
			strings.Contains(answer, label) ||
			strings.Contains(label, answer) {
			return s, match.Cleaned, true
		}
	}
	r.logger.Info("classifier answer matched no live session", "answer", match.Label)
	return directory.AgentAddress{}, "", false
}
