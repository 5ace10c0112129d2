package routing

import (
	"context"
	"log/slog"
	"strings"

	"github.com/adalundhe/courier/core/directory"
)

// RelayPrefix marks text relayed into an agent session as coming from the
// operator's phone.
const RelayPrefix = "📱 "

// Replier sends an in-band status message back to the operator, on the same
// channel the reply arrived on. Best-effort.
type Replier interface {
	Reply(ctx context.Context, text string) error
}

// Router wires the resolver to the real world: it discovers live sessions,
// resolves the reply, relays it, updates Memory, and confirms (or reports
// failure) back to the operator.
type Router struct {
	directory directory.Directory
	resolver  *Resolver
	memory    *Memory
	replier   Replier
	logger    *slog.Logger
}

// NewRouter creates a Router. A nil logger falls back to slog.Default().
func NewRouter(dir directory.Directory, resolver *Resolver, memory *Memory, replier Replier, logger *slog.Logger) *Router {
	if logger == nil {
		logger = slog.Default()
	}
	return &Router{
		directory: dir,
		resolver:  resolver,
		memory:    memory,
		replier:   replier,
		logger:    logger,
	}
}

// Route handles one inbound operator reply end to end. All failure modes are
// reported to the operator in-band; Route itself never returns an error.
func (r *Router) Route(ctx context.Context, text string) {
	r.logger.Info("routing reply", "text", text)
	tag, body, hasTag := ParseTag(text)

	sessions := r.directory.Discover()
	if len(sessions) == 0 {
		r.reply(ctx, "No active agent sessions found.")
		return
	}

	target, cleaned, ok := r.resolver.Resolve(ctx, tag, hasTag, body, sessions)
	if !ok {
		available := joinLabels(sessions, directory.AgentAddress{})
		if hasTag {
			r.reply(ctx, "No session matching '"+tag+"'. Available: "+available)
		} else {
			r.reply(ctx, "No active session found. Available: "+available)
		}
		return
	}

	// The session list is a snapshot; re-check before injecting keystrokes.
	if !r.directory.IsAlive(target) {
		available := joinLabels(sessions, target)
		r.reply(ctx, "Session "+target.Label+" is no longer active. Available: "+available)
		return
	}

	r.logger.Info("relaying reply", "target", target.TargetID, "label", target.Label)
	if err := r.directory.Relay(target, RelayPrefix+cleaned); err != nil {
		r.logger.Warn("relay failed", "target", target.TargetID, "error", err)
	}
	r.memory.SetLastRouted(target)
	r.reply(ctx, "✓ Delivered to ["+target.Label+"]")
}

func (r *Router) reply(ctx context.Context, text string) {
	if err := r.replier.Reply(ctx, text); err != nil {
		r.logger.Warn("operator reply failed", "error", err)
	}
}

// joinLabels lists session labels, omitting exclude when it has an identity.
func joinLabels(sessions []directory.AgentAddress, exclude directory.AgentAddress) string {
	var labels []string
	for _, s := range sessions {
		if exclude.TargetID != "" && s.SameTarget(exclude) {
			continue
		}
		labels = append(labels, s.Label)
	}
	return strings.Join(labels, ", ")
}
