package router

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"testing"
	"time"

	"matrixbot/internal/action"
	"matrixbot/internal/command"
	"matrixbot/internal/domain"
)

const (
	selfID  = "@bot:localhost"
	agentID = "@agent1:localhost"
	prefix  = "!bot "
)

// stubMessenger records outbound calls; joinErr makes every join fail.
type stubMessenger struct {
	joins   []string
	sent    []domain.Action
	other   []string
	joinErr error
}

func (m *stubMessenger) Sync(context.Context, string, time.Duration) (domain.Batch, error) {
	return domain.Batch{}, nil
}
func (m *stubMessenger) JoinRoom(_ context.Context, room string) error {
	m.joins = append(m.joins, room)
	return m.joinErr
}
func (m *stubMessenger) InviteMember(_ context.Context, room, user string) error {
	m.other = append(m.other, "invite "+user)
	return nil
}
func (m *stubMessenger) KickMember(_ context.Context, room, user, reason string) error {
	m.other = append(m.other, "kick "+user)
	return nil
}
func (m *stubMessenger) SendText(_ context.Context, room, body, html string) error {
	m.sent = append(m.sent, domain.SendRichText(room, body, html))
	return nil
}
func (m *stubMessenger) LeaveRoom(_ context.Context, room string) error {
	m.other = append(m.other, "leave "+room)
	return nil
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

// newTestRouter wires a router with the builtin commands.
func newTestRouter(m *stubMessenger, freeText FreeTextHandler) *Router {
	commands := command.NewRegistry(testLogger())
	command.RegisterBuiltins(commands, command.BuiltinConfig{
		Prefix:     prefix,
		AgentID:    agentID,
		KickReason: "Removed on request",
		Farewell:   "Goodbye, everyone",
		Logger:     testLogger(),
	})
	return New(Config{
		Messenger: m,
		Commands:  commands,
		Executor:  action.NewExecutor(m, testLogger()),
		SelfID:    selfID,
		Prefix:    prefix,
		AgentID:   agentID,
		FreeText:  freeText,
		Logger:    testLogger(),
	})
}

func textEvent(sender, body string, direct bool) domain.Event {
	room := domain.RoomContext{ID: "!room:localhost", Name: "Ops", Direct: direct}
	if direct {
		room.Name = ""
	}
	return domain.Event{Kind: domain.KindTextMessage, ID: "$e", Sender: sender, Room: room, Body: body}
}

func TestSelfMessagesSuppressed(t *testing.T) {
	m := &stubMessenger{}
	freeTextCalls := 0
	r := newTestRouter(m, func(context.Context, domain.Event) []domain.Action {
		freeTextCalls++
		return nil
	})

	r.Route(context.Background(), textEvent(selfID, "!bot echo loop", false))
	r.Route(context.Background(), textEvent(selfID, "echo loop", true))
	r.Route(context.Background(), textEvent(selfID, "chatter", false))

	if len(m.sent) != 0 || freeTextCalls != 0 {
		t.Fatalf("expected self messages to be dropped, got sent=%v freeText=%d", m.sent, freeTextCalls)
	}
}

func TestGroupRoomPrefixGating(t *testing.T) {
	m := &stubMessenger{}
	var freeText []string
	r := newTestRouter(m, func(_ context.Context, e domain.Event) []domain.Action {
		freeText = append(freeText, e.Body)
		return nil
	})

	// Group room without prefix: free text, no command.
	r.Route(context.Background(), textEvent("@alice:localhost", "echo hi", false))
	if len(m.sent) != 0 {
		t.Fatalf("expected no command reply in group room without prefix, got %v", m.sent)
	}
	if len(freeText) != 1 || freeText[0] != "echo hi" {
		t.Fatalf("expected free-text hook to receive the message, got %v", freeText)
	}

	// Group room with prefix: command.
	r.Route(context.Background(), textEvent("@alice:localhost", "!bot echo hi", false))
	if len(m.sent) != 1 || m.sent[0].Body != "hi" {
		t.Fatalf("expected echo reply, got %v", m.sent)
	}

	// Direct room without prefix: command.
	r.Route(context.Background(), textEvent("@alice:localhost", "echo hi", true))
	if len(m.sent) != 2 || m.sent[1].Body != "hi" {
		t.Fatalf("expected echo reply in direct room, got %v", m.sent)
	}
	if len(freeText) != 1 {
		t.Fatalf("expected direct-room text to skip the free-text hook, got %v", freeText)
	}
}

func TestFreeTextActionsExecuted(t *testing.T) {
	m := &stubMessenger{}
	r := newTestRouter(m, func(_ context.Context, e domain.Event) []domain.Action {
		return []domain.Action{domain.SendText(e.Room.ID, "heard you")}
	})

	r.Route(context.Background(), textEvent("@alice:localhost", "hello there", false))
	if len(m.sent) != 1 || m.sent[0].Body != "heard you" {
		t.Fatalf("expected free-text reply, got %v", m.sent)
	}
}

func TestDefaultFreeTextIsNoop(t *testing.T) {
	m := &stubMessenger{}
	r := newTestRouter(m, nil)

	r.Route(context.Background(), textEvent("@alice:localhost", "hello there", false))
	if len(m.sent) != 0 || len(m.other) != 0 {
		t.Fatalf("expected no side effects, got sent=%v other=%v", m.sent, m.other)
	}
}

func TestUnknownCommandInDirectRoom(t *testing.T) {
	m := &stubMessenger{}
	r := newTestRouter(m, nil)

	r.Route(context.Background(), textEvent("@alice:localhost", "frobnicate", true))
	if len(m.sent) != 1 || m.sent[0].Body != command.UnknownReply("frobnicate") {
		t.Fatalf("expected unknown-command reply, got %v", m.sent)
	}
}

func TestPrefixOnlyIsUnknownCommand(t *testing.T) {
	m := &stubMessenger{}
	r := newTestRouter(m, nil)

	r.Route(context.Background(), textEvent("@alice:localhost", "!bot ", false))
	if len(m.sent) != 1 || m.sent[0].Body != command.UnknownReply("") {
		t.Fatalf("expected unknown-command reply, got %v", m.sent)
	}
}

func TestLeaveCommand(t *testing.T) {
	m := &stubMessenger{}
	r := newTestRouter(m, nil)

	r.Route(context.Background(), textEvent("@alice:localhost", "!bot leave", false))
	if len(m.sent) != 1 || m.sent[0].Body != "Goodbye, everyone" {
		t.Fatalf("expected farewell, got %v", m.sent)
	}
	if len(m.other) != 1 || m.other[0] != "leave !room:localhost" {
		t.Fatalf("expected leave after farewell, got %v", m.other)
	}
}

func TestInviteJoinedOnce(t *testing.T) {
	m := &stubMessenger{}
	r := newTestRouter(m, nil)

	r.Route(context.Background(), domain.Event{
		Kind:    domain.KindRoomInvite,
		Room:    domain.RoomContext{ID: "!new:localhost"},
		Inviter: "@alice:localhost",
	})
	if len(m.joins) != 1 || m.joins[0] != "!new:localhost" {
		t.Fatalf("expected a single join, got %v", m.joins)
	}
}

func TestInviteRetryBound(t *testing.T) {
	m := &stubMessenger{joinErr: errors.New("join refused")}
	r := newTestRouter(m, nil)

	r.Route(context.Background(), domain.Event{
		Kind: domain.KindRoomInvite,
		Room: domain.RoomContext{ID: "!new:localhost"},
	})
	if len(m.joins) != DefaultInviteAttempts {
		t.Fatalf("expected %d join attempts, got %d", DefaultInviteAttempts, len(m.joins))
	}
	if len(m.sent) != 0 {
		t.Fatalf("expected join failures to stay out of the room, got %v", m.sent)
	}
}

func TestInviteAttemptsConfigurable(t *testing.T) {
	m := &stubMessenger{joinErr: errors.New("join refused")}
	r := New(Config{
		Messenger:      m,
		Commands:       command.NewRegistry(testLogger()),
		Executor:       action.NewExecutor(m, testLogger()),
		SelfID:         selfID,
		Prefix:         prefix,
		InviteAttempts: 5,
		Logger:         testLogger(),
	})

	r.Route(context.Background(), domain.Event{Kind: domain.KindRoomInvite, Room: domain.RoomContext{ID: "!x"}})
	if len(m.joins) != 5 {
		t.Fatalf("expected 5 join attempts, got %d", len(m.joins))
	}
}

func memberEvent(membership domain.Membership, actor string) domain.Event {
	return domain.Event{
		Kind:       domain.KindMembershipChange,
		Room:       domain.RoomContext{ID: "!room:localhost"},
		Sender:     actor,
		Membership: membership,
		Actor:      actor,
		Target:     actor,
	}
}

func TestMembershipNotices(t *testing.T) {
	m := &stubMessenger{}
	r := newTestRouter(m, nil)
	ctx := context.Background()

	r.Route(ctx, memberEvent(domain.MembershipJoin, "@carol:localhost"))
	r.Route(ctx, memberEvent(domain.MembershipJoin, selfID))
	r.Route(ctx, memberEvent(domain.MembershipLeave, agentID))
	r.Route(ctx, memberEvent(domain.MembershipLeave, "@carol:localhost"))
	r.Route(ctx, memberEvent(domain.MembershipBan, "@carol:localhost"))

	if len(m.sent) != 2 {
		t.Fatalf("expected 2 notices, got %v", m.sent)
	}
	if m.sent[0].Body != "Welcome @carol:localhost" {
		t.Errorf("unexpected welcome %q", m.sent[0].Body)
	}
	if m.sent[1].Body != "Agent @agent1:localhost rejected the invitation" {
		t.Errorf("unexpected peer notice %q", m.sent[1].Body)
	}
}

func TestReplayedJoinWelcomesAgain(t *testing.T) {
	m := &stubMessenger{}
	r := newTestRouter(m, nil)

	event := memberEvent(domain.MembershipJoin, "@carol:localhost")
	r.Route(context.Background(), event)
	r.Route(context.Background(), event)

	if len(m.sent) != 2 || m.sent[0].Body != m.sent[1].Body {
		t.Fatalf("expected a welcome per delivery, got %v", m.sent)
	}
}

func TestHandlerPanicRecovered(t *testing.T) {
	m := &stubMessenger{}
	r := newTestRouter(m, func(context.Context, domain.Event) []domain.Action {
		panic("boom")
	})

	r.Route(context.Background(), textEvent("@alice:localhost", "chatter", false))

	// The router keeps working after a panic.
	r.Route(context.Background(), textEvent("@alice:localhost", "!bot echo ok", false))
	if len(m.sent) != 1 || m.sent[0].Body != "ok" {
		t.Fatalf("expected router to keep handling events, got %v", m.sent)
	}
}
