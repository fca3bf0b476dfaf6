package action

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"testing"
	"time"

	"matrixbot/internal/clock"
	"matrixbot/internal/domain"
)

// recordingMessenger records every outbound call and fails those listed in failOn.
type recordingMessenger struct {
	calls  []string
	failOn map[string]bool
}

func (m *recordingMessenger) record(call string) error {
	m.calls = append(m.calls, call)
	if m.failOn[call] {
		return errors.New(call + " rejected")
	}
	return nil
}

func (m *recordingMessenger) Sync(context.Context, string, time.Duration) (domain.Batch, error) {
	return domain.Batch{}, nil
}
func (m *recordingMessenger) JoinRoom(_ context.Context, room string) error {
	return m.record("join " + room)
}
func (m *recordingMessenger) InviteMember(_ context.Context, room, user string) error {
	return m.record("invite " + room + " " + user)
}
func (m *recordingMessenger) KickMember(_ context.Context, room, user, reason string) error {
	return m.record("kick " + room + " " + user + " " + reason)
}
func (m *recordingMessenger) SendText(_ context.Context, room, body, html string) error {
	return m.record("send " + room + " " + body)
}
func (m *recordingMessenger) LeaveRoom(_ context.Context, room string) error {
	return m.record("leave " + room)
}

var _ domain.Messenger = (*recordingMessenger)(nil)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

func TestExecute_InOrder(t *testing.T) {
	m := &recordingMessenger{}
	e := NewExecutor(m, testLogger())

	failed := e.Execute(context.Background(), []domain.Action{
		domain.SendText("!r", "bye"),
		domain.InviteMember("!r", "@a"),
		domain.KickMember("!r", "@a", "because"),
		domain.LeaveRoom("!r"),
	})
	if failed != 0 {
		t.Fatalf("expected 0 failures, got %d", failed)
	}

	want := []string{"send !r bye", "invite !r @a", "kick !r @a because", "leave !r"}
	if len(m.calls) != len(want) {
		t.Fatalf("expected %d calls, got %v", len(want), m.calls)
	}
	for i := range want {
		if m.calls[i] != want[i] {
			t.Errorf("call %d: expected %q, got %q", i, want[i], m.calls[i])
		}
	}
}

func TestExecute_FailuresAreIndependent(t *testing.T) {
	m := &recordingMessenger{failOn: map[string]bool{"send !r bye": true}}
	e := NewExecutor(m, testLogger())

	failed := e.Execute(context.Background(), []domain.Action{
		domain.SendText("!r", "bye"),
		domain.LeaveRoom("!r"),
	})
	if failed != 1 {
		t.Fatalf("expected 1 failure, got %d", failed)
	}
	if len(m.calls) != 2 || m.calls[1] != "leave !r" {
		t.Fatalf("expected leave to run after the failed send, got %v", m.calls)
	}
}

func TestExecute_UnsupportedKind(t *testing.T) {
	m := &recordingMessenger{}
	e := NewExecutor(m, testLogger())

	if failed := e.Execute(context.Background(), []domain.Action{{Kind: 99}}); failed != 1 {
		t.Fatalf("expected unsupported action to count as failed, got %d", failed)
	}
	if len(m.calls) != 0 {
		t.Fatalf("expected no calls, got %v", m.calls)
	}
}

func TestExecute_Empty(t *testing.T) {
	e := NewExecutor(&recordingMessenger{}, testLogger())
	if failed := e.Execute(context.Background(), nil); failed != 0 {
		t.Fatalf("expected 0, got %d", failed)
	}
}

func TestExecute_ThrottledByLimiter(t *testing.T) {
	m := &recordingMessenger{}
	clk := clock.Fake(time.Unix(1000, 0))
	e := NewExecutor(m, testLogger()).WithLimiter(NewLimiter(2, 60, clk))

	actions := []domain.Action{
		domain.SendText("!r", "one"),
		domain.SendText("!r", "two"),
		domain.SendText("!r", "three"),
	}
	if failed := e.Execute(context.Background(), actions); failed != 0 {
		t.Fatalf("expected no failures, got %d", failed)
	}
	if len(m.calls) != 3 {
		t.Fatalf("expected all actions to run, got %v", m.calls)
	}
	waits := clk.Waits()
	if len(waits) != 1 || waits[0] != time.Second {
		t.Fatalf("expected one 1s wait after the burst, got %v", waits)
	}
}

func TestExecute_ThrottleCancelled(t *testing.T) {
	m := &recordingMessenger{}
	clk := clock.Fake(time.Unix(1000, 0))
	e := NewExecutor(m, testLogger()).WithLimiter(NewLimiter(1, 60, clk))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	// The first token is free; the second waits and sees the cancelled context.
	failed := e.Execute(ctx, []domain.Action{domain.SendText("!r", "a"), domain.SendText("!r", "b")})
	if len(m.calls) != 1 {
		t.Fatalf("expected only the burst action to run, got %v", m.calls)
	}
	if failed != 1 {
		t.Fatalf("expected the throttled action to count as failed, got %d", failed)
	}
}

func TestNewLimiter_DisabledIsNil(t *testing.T) {
	if NewLimiter(0, 60, nil) != nil || NewLimiter(5, 0, nil) != nil {
		t.Fatal("expected non-positive settings to disable the limiter")
	}
	var l *Limiter
	if err := l.Wait(context.Background()); err != nil {
		t.Fatalf("expected nil limiter to never block, got %v", err)
	}
}
