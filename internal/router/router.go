// Package router dispatches sync events by kind: text to commands or the
// free-text hook, invites to the join handler, and membership changes to
// room notices.
package router

import (
	"context"
	"fmt"
	"log/slog"
	"runtime/debug"
	"strings"

	"matrixbot/internal/action"
	"matrixbot/internal/command"
	"matrixbot/internal/domain"
	"matrixbot/internal/metrics"
)

// DefaultInviteAttempts bounds how many times an invite is joined before it
// is dropped.
const DefaultInviteAttempts = 3

// FreeTextHandler receives unprefixed text from group rooms.
type FreeTextHandler func(ctx context.Context, event domain.Event) []domain.Action

// Config holds configuration for creating a Router.
type Config struct {
	Messenger domain.Messenger
	Commands  *command.Registry
	Executor  *action.Executor

	// SelfID is the bot's own user ID; its messages are never handled.
	SelfID string
	Prefix string
	// AgentID is the automated peer whose departure is announced. Empty
	// disables the notice.
	AgentID        string
	InviteAttempts int

	// FreeText handles unprefixed group-room text. Nil logs and ignores it.
	FreeText FreeTextHandler
	Logger   *slog.Logger
}

type Router struct {
	messenger      domain.Messenger
	commands       *command.Registry
	executor       *action.Executor
	selfID         string
	prefix         string
	agentID        string
	inviteAttempts int
	freeText       FreeTextHandler
	logger         *slog.Logger
}

func New(cfg Config) *Router {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	attempts := cfg.InviteAttempts
	if attempts <= 0 {
		attempts = DefaultInviteAttempts
	}
	r := &Router{
		messenger:      cfg.Messenger,
		commands:       cfg.Commands,
		executor:       cfg.Executor,
		selfID:         cfg.SelfID,
		prefix:         cfg.Prefix,
		agentID:        cfg.AgentID,
		inviteAttempts: attempts,
		freeText:       cfg.FreeText,
		logger:         logger,
	}
	if r.freeText == nil {
		r.freeText = r.ignoreFreeText
	}
	return r
}

// Route handles one event. A panicking handler is recovered and logged so
// the rest of the batch still runs.
func (r *Router) Route(ctx context.Context, event domain.Event) {
	defer func() {
		if p := recover(); p != nil {
			metrics.HandlerPanics.Inc()
			r.logger.Error("event handler panicked",
				"event_id", event.ID,
				"kind", event.Kind,
				"room", event.Room.ID,
				"panic", fmt.Sprint(p),
				"stack", string(debug.Stack()),
			)
		}
	}()

	metrics.EventsRouted.Inc()

	switch event.Kind {
	case domain.KindTextMessage:
		r.handleText(ctx, event)
	case domain.KindRoomInvite:
		r.handleInvite(ctx, event)
	case domain.KindMembershipChange:
		r.handleMembership(ctx, event)
	default:
		r.logger.Debug("ignoring event", "kind", event.Kind, "event_id", event.ID)
	}
}

func (r *Router) handleText(ctx context.Context, event domain.Event) {
	if event.Sender == r.selfID {
		return
	}

	r.logger.Debug("message received",
		"room", event.Room.ID,
		"room_name", event.Room.Name,
		"sender", event.Sender,
		"direct", event.Room.Direct,
	)

	body := event.Body
	hasPrefix := strings.HasPrefix(body, r.prefix)
	if !hasPrefix && !event.Room.Direct {
		r.executor.Execute(ctx, r.freeText(ctx, event))
		return
	}
	if hasPrefix {
		body = body[len(r.prefix):]
	}

	cmd := r.commands.Parse(body)
	metrics.CommandsTotal(cmd.Kind.String()).Inc()
	actions := r.commands.Dispatch(ctx, cmd, command.Request{
		Room:    event.Room,
		Sender:  event.Sender,
		EventID: event.ID,
	})
	r.executor.Execute(ctx, actions)
}

// handleInvite joins the invited room, trying up to inviteAttempts times
// back to back. After the last failure the invite is dropped.
func (r *Router) handleInvite(ctx context.Context, event domain.Event) {
	room := event.Room.ID
	r.logger.Debug("got invite", "room", room, "inviter", event.Inviter)

	for attempt := 1; attempt <= r.inviteAttempts; attempt++ {
		err := r.messenger.JoinRoom(ctx, room)
		if err == nil {
			return
		}
		r.logger.Warn("error joining room",
			"room", room,
			"attempt", attempt,
			"kind", domain.KindOf(err),
			"err", err,
		)
		if ctx.Err() != nil {
			break
		}
	}

	metrics.InviteJoinFailures.Inc()
	r.logger.Error("giving up on invite", "room", room, "inviter", event.Inviter, "attempts", r.inviteAttempts)
}

func (r *Router) handleMembership(ctx context.Context, event domain.Event) {
	r.logger.Debug("membership change",
		"room", event.Room.ID,
		"membership", event.Membership,
		"actor", event.Actor,
		"target", event.Target,
	)

	var actions []domain.Action
	switch {
	case event.Membership == domain.MembershipJoin && event.Actor != r.selfID:
		actions = append(actions, domain.SendText(event.Room.ID, "Welcome "+event.Actor))
	case event.Membership == domain.MembershipLeave && r.agentID != "" && event.Actor == r.agentID:
		actions = append(actions, domain.SendText(event.Room.ID, fmt.Sprintf("Agent %s rejected the invitation", event.Actor)))
	}
	r.executor.Execute(ctx, actions)
}

func (r *Router) ignoreFreeText(_ context.Context, event domain.Event) []domain.Action {
	r.logger.Debug("ignoring free text", "room", event.Room.ID, "sender", event.Sender)
	return nil
}
