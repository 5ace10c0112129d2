// Package projector is the single consumer of the fact log. It replays
// committed facts in order and dispatches each to the side of the daemon
// that reacts to it: completed turns become notifications, operator replies
// get routed back into an agent session.
package projector

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/adalundhe/courier/core/directory"
	"github.com/adalundhe/courier/core/routing"
	"github.com/adalundhe/courier/core/store"
)

// ConsumerName is the checkpoint identity of the daemon's fact consumer.
const ConsumerName = "courier.projector"

// TurnNotifier notifies the operator about a completed turn. A non-nil
// return is the agent the notification originated from.
type TurnNotifier interface {
	Notify(ctx context.Context, turn store.TurnCompleted) *directory.AgentAddress
}

// ReplyRouter routes one operator reply to an agent session.
type ReplyRouter interface {
	Route(ctx context.Context, text string)
}

// Runner delivers facts past a named checkpoint.
type Runner interface {
	Run(ctx context.Context, consumer string, handler func(context.Context, store.Fact) error) error
}

// Projector dispatches facts to the notifier and the router.
type Projector struct {
	store    Runner
	notifier TurnNotifier
	router   ReplyRouter
	memory   *routing.Memory
	logger   *slog.Logger
}

// New creates a Projector. A nil logger falls back to slog.Default().
func New(st Runner, notifier TurnNotifier, router ReplyRouter, memory *routing.Memory, logger *slog.Logger) *Projector {
	if logger == nil {
		logger = slog.Default()
	}
	return &Projector{
		store:    st,
		notifier: notifier,
		router:   router,
		memory:   memory,
		logger:   logger,
	}
}

// Run consumes the fact log until ctx is cancelled.
func (p *Projector) Run(ctx context.Context) error {
	return p.store.Run(ctx, ConsumerName, p.Handle)
}

// Handle dispatches one fact. Unknown kinds are logged and skipped so a log
// written by a newer build does not wedge an older one.
func (p *Projector) Handle(ctx context.Context, fact store.Fact) error {
	switch fact.Kind {
	case store.KindTurnCompleted:
		var turn store.TurnCompleted
		if err := json.Unmarshal(fact.Payload, &turn); err != nil {
			return fmt.Errorf("decode %s: %w", fact.Kind, err)
		}
		if source := p.notifier.Notify(ctx, turn); source != nil {
			p.memory.SetLastNotificationSource(*source)
		}
	case store.KindReplyReceived:
		var reply store.ReplyReceived
		if err := json.Unmarshal(fact.Payload, &reply); err != nil {
			return fmt.Errorf("decode %s: %w", fact.Kind, err)
		}
		p.router.Route(ctx, reply.Text)
	default:
		p.logger.Warn("skipping fact of unknown kind", "kind", fact.Kind, "id", fact.ID)
	}
	return nil
}
