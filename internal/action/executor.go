// Package action performs the side effects produced by event handlers.
package action

import (
	"context"
	"fmt"
	"log/slog"

	"matrixbot/internal/domain"
	"matrixbot/internal/metrics"
)

// Executor runs actions against the messaging platform. Actions for one
// event run in order; a failed action is logged and the rest still run.
type Executor struct {
	messenger domain.Messenger
	limiter   *Limiter
	logger    *slog.Logger
}

func NewExecutor(messenger domain.Messenger, logger *slog.Logger) *Executor {
	return &Executor{messenger: messenger, logger: logger}
}

// WithLimiter paces every action through l. A nil l disables pacing.
func (e *Executor) WithLimiter(l *Limiter) *Executor {
	e.limiter = l
	return e
}

// Execute runs actions in order and returns how many failed.
func (e *Executor) Execute(ctx context.Context, actions []domain.Action) int {
	failed := 0
	for _, a := range actions {
		if err := e.limiter.Wait(ctx); err != nil {
			failed++
			e.logger.Warn("action dropped while throttled", "action", a.Kind, "room", a.Room, "err", err)
			continue
		}
		if err := e.execute(ctx, a); err != nil {
			failed++
			metrics.ActionFailures.Inc()
			e.logger.Error("action failed",
				"action", a.Kind,
				"room", a.Room,
				"user", a.User,
				"kind", domain.KindOf(err),
				"err", err,
			)
		}
	}
	return failed
}

func (e *Executor) execute(ctx context.Context, a domain.Action) error {
	switch a.Kind {
	case domain.ActionSendText:
		return e.messenger.SendText(ctx, a.Room, a.Body, a.HTML)
	case domain.ActionInviteMember:
		return e.messenger.InviteMember(ctx, a.Room, a.User)
	case domain.ActionKickMember:
		return e.messenger.KickMember(ctx, a.Room, a.User, a.Reason)
	case domain.ActionLeaveRoom:
		return e.messenger.LeaveRoom(ctx, a.Room)
	default:
		return fmt.Errorf("unsupported action kind %d", a.Kind)
	}
}
