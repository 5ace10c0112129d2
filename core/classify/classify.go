// Package classify provides the optional LLM-backed capabilities the daemon
// leans on: deciding whether an untagged reply carries explicit routing
// intent, and producing short turn summaries for spoken notifications.
// Both are treated as slow and unreliable; every caller has a fallback.
package classify

import "context"

// Match is a classifier's opinion about an untagged message: the session
// label it addresses and the message body with the routing phrase removed.
type Match struct {
	Label   string
	Cleaned string
}

// Classifier decides whether a message body contains explicit routing intent
// toward one of the candidate labels. A nil *Match with a nil error means
// "no routing intent"; any error means "no opinion" and is never fatal.
type Classifier interface {
	Classify(ctx context.Context, body string, labels []string) (*Match, error)
}

// Summarizer produces a short human summary of a completed turn.
type Summarizer interface {
	Summarize(ctx context.Context, lastUserPrompt string) (string, error)
}
