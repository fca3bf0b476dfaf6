package command

import (
	"context"
	"log/slog"
	"os"
	"strings"
	"testing"

	"matrixbot/internal/domain"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

func newTestRegistry() *Registry {
	r := NewRegistry(testLogger())
	RegisterBuiltins(r, BuiltinConfig{
		Prefix:     "!bot ",
		AgentID:    "@agent1:localhost",
		KickReason: "Removed on request",
		Farewell:   "Goodbye, everyone",
		Logger:     testLogger(),
	})
	return r
}

var testReq = Request{Room: domain.RoomContext{ID: "!room:localhost"}, Sender: "@alice:localhost"}

func run(t *testing.T, r *Registry, text string) []domain.Action {
	t.Helper()
	return r.Dispatch(context.Background(), r.Parse(text), testReq)
}

func singleText(t *testing.T, actions []domain.Action) domain.Action {
	t.Helper()
	if len(actions) != 1 {
		t.Fatalf("expected 1 action, got %d: %+v", len(actions), actions)
	}
	if actions[0].Kind != domain.ActionSendText {
		t.Fatalf("expected send_text, got %s", actions[0].Kind)
	}
	if actions[0].Room != testReq.Room.ID {
		t.Fatalf("expected room %s, got %s", testReq.Room.ID, actions[0].Room)
	}
	return actions[0]
}

func TestParse_SplitsOnWhitespace(t *testing.T) {
	r := newTestRegistry()
	cmd := r.Parse("echo  a  b")
	if cmd.Kind != KindEcho {
		t.Fatalf("expected echo, got %s", cmd.Kind)
	}
	if len(cmd.Args) != 2 || cmd.Args[0] != "a" || cmd.Args[1] != "b" {
		t.Fatalf("expected [a b], got %q", cmd.Args)
	}
}

func TestParse_ExactCaseSensitiveMatch(t *testing.T) {
	r := newTestRegistry()
	for _, text := range []string{"Echo hi", "ECHO", "echoes", "ech", "help!"} {
		if cmd := r.Parse(text); cmd.Kind != KindUnknown {
			t.Errorf("%q: expected unknown, got %s", text, cmd.Kind)
		}
	}
}

func TestParse_Empty(t *testing.T) {
	r := newTestRegistry()
	for _, text := range []string{"", "   ", "\t\n"} {
		cmd := r.Parse(text)
		if cmd.Kind != KindUnknown || cmd.Name != "" || len(cmd.Args) != 0 {
			t.Errorf("%q: expected empty unknown command, got %+v", text, cmd)
		}
	}
}

func TestEcho_JoinsArgs(t *testing.T) {
	r := newTestRegistry()
	action := singleText(t, run(t, r, "echo  a  b"))
	if action.Body != "a b" {
		t.Fatalf("expected %q, got %q", "a b", action.Body)
	}
}

func TestEcho_NoArgs(t *testing.T) {
	r := newTestRegistry()
	action := singleText(t, run(t, r, "echo"))
	if action.Body != "" {
		t.Fatalf("expected empty body, got %q", action.Body)
	}
}

func TestUnknownCommand(t *testing.T) {
	r := newTestRegistry()
	action := singleText(t, run(t, r, "frobnicate now"))
	if !strings.Contains(action.Body, "frobnicate") {
		t.Fatalf("expected reply to contain the command, got %q", action.Body)
	}
	if action.Body != "Unknown command 'frobnicate now'. Try the 'help' command for more information." {
		t.Fatalf("unexpected reply %q", action.Body)
	}
}

func TestUnknownCommand_EmptyBody(t *testing.T) {
	r := newTestRegistry()
	action := singleText(t, run(t, r, ""))
	if action.Body != UnknownReply("") {
		t.Fatalf("unexpected reply %q", action.Body)
	}
}

func TestAgentAndKick(t *testing.T) {
	r := newTestRegistry()

	actions := run(t, r, "agent extra args ignored")
	if len(actions) != 1 || actions[0].Kind != domain.ActionInviteMember || actions[0].User != "@agent1:localhost" {
		t.Fatalf("unexpected agent actions: %+v", actions)
	}

	actions = run(t, r, "kick")
	if len(actions) != 1 || actions[0].Kind != domain.ActionKickMember {
		t.Fatalf("unexpected kick actions: %+v", actions)
	}
	if actions[0].User != "@agent1:localhost" || actions[0].Reason != "Removed on request" {
		t.Fatalf("unexpected kick target or reason: %+v", actions[0])
	}
}

func TestAgentWithoutPeer(t *testing.T) {
	r := NewRegistry(testLogger())
	RegisterBuiltins(r, BuiltinConfig{Prefix: "!bot ", Logger: testLogger()})
	if actions := run(t, r, "agent"); len(actions) != 0 {
		t.Fatalf("expected no actions without an agent, got %+v", actions)
	}
}

func TestLeave_FarewellThenLeave(t *testing.T) {
	r := newTestRegistry()
	actions := run(t, r, "leave")
	if len(actions) != 2 {
		t.Fatalf("expected 2 actions, got %d", len(actions))
	}
	if actions[0].Kind != domain.ActionSendText || actions[0].Body != "Goodbye, everyone" {
		t.Fatalf("expected farewell first, got %+v", actions[0])
	}
	if actions[1].Kind != domain.ActionLeaveRoom || actions[1].Room != testReq.Room.ID {
		t.Fatalf("expected leave second, got %+v", actions[1])
	}
}

func TestHelpTopics(t *testing.T) {
	r := newTestRegistry()

	overview := singleText(t, run(t, r, "help"))
	if !strings.Contains(overview.Body, "Help menu") || !strings.Contains(overview.Body, "!bot help") {
		t.Errorf("unexpected overview %q", overview.Body)
	}
	if !strings.Contains(overview.HTML, "<b>Help menu:</b>") {
		t.Errorf("expected html overview, got %q", overview.HTML)
	}

	listing := singleText(t, run(t, r, "help commands"))
	for _, name := range []string{"!bot echo", "!bot agent", "!bot kick", "!bot leave", "!bot help"} {
		if !strings.Contains(listing.Body, name) {
			t.Errorf("expected listing to mention %q, got %q", name, listing.Body)
		}
	}

	rules := singleText(t, run(t, r, "help rules"))
	if rules.Body != RulesReply {
		t.Errorf("expected %q, got %q", RulesReply, rules.Body)
	}

	missing := singleText(t, run(t, r, "help frobnicate"))
	if missing.Body != "We don't have help for **frobnicate**!" {
		t.Errorf("unexpected reply %q", missing.Body)
	}
}

func TestRegister_CustomHandler(t *testing.T) {
	r := newTestRegistry()
	var got Command
	r.Register(KindEcho, "say", func(_ context.Context, cmd Command, req Request) []domain.Action {
		got = cmd
		return nil
	})

	run(t, r, "say hi there")
	if got.Name != "say" || len(got.Args) != 2 {
		t.Fatalf("expected custom handler to receive the command, got %+v", got)
	}

	names := r.Names()
	if len(names) != 6 || names[0] != "agent" || names[len(names)-1] != "say" {
		t.Fatalf("unexpected names %v", names)
	}
}
