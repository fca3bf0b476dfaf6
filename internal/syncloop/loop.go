// Package syncloop drives the bot: it long-polls /sync from the persisted
// cursor, routes each batch and then advances the cursor.
//
// The cursor is saved only after every event of a batch has been routed. A
// crash between routing and saving replays that batch on restart, so
// delivery is at least once and handlers must tolerate repeats. Failed
// syncs are retried with the same cursor after a capped exponential backoff.
package syncloop

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"matrixbot/internal/clock"
	"matrixbot/internal/domain"
	"matrixbot/internal/metrics"
)

// State is the loop's position in its cycle.
type State int32

const (
	StateIdle State = iota
	StateRequesting
	StateDispatching
	StateFailed
	StateBackoff
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateRequesting:
		return "requesting"
	case StateDispatching:
		return "dispatching"
	case StateFailed:
		return "failed"
	case StateBackoff:
		return "backoff"
	default:
		return fmt.Sprintf("state(%d)", int32(s))
	}
}

const (
	DefaultTimeout        = 30 * time.Second
	DefaultInitialBackoff = 2 * time.Second
	DefaultMaxBackoff     = 15 * time.Second
)

// Syncer performs one long-poll sync.
type Syncer interface {
	Sync(ctx context.Context, since string, timeout time.Duration) (domain.Batch, error)
}

// CursorStore persists the sync token.
type CursorStore interface {
	Load(ctx context.Context) (string, error)
	Save(ctx context.Context, token string) error
}

// EventRouter handles one event. It must not panic out; the loop does not
// recover on its behalf.
type EventRouter interface {
	Route(ctx context.Context, event domain.Event)
}

// Config holds configuration for creating a Loop.
type Config struct {
	Syncer Syncer
	Cursor CursorStore
	Router EventRouter

	// Timeout is the long-poll wait passed to each sync. Default 30s.
	Timeout time.Duration
	// InitialBackoff is the first retry delay after a failed sync. It
	// doubles per consecutive failure up to MaxBackoff. Defaults 2s and 15s.
	InitialBackoff time.Duration
	MaxBackoff     time.Duration

	// Clock schedules retries. If nil, clock.Real() is used.
	Clock  clock.Clock
	Logger *slog.Logger
}

// Loop is the sync state machine. Only the goroutine calling Run or
// RunOnce mutates it; State and Cursor may be read concurrently.
type Loop struct {
	syncer         Syncer
	cursorStore    CursorStore
	router         EventRouter
	timeout        time.Duration
	initialBackoff time.Duration
	maxBackoff     time.Duration
	clock          clock.Clock
	logger         *slog.Logger

	state   atomic.Int32
	mu      sync.Mutex // guards cursor for concurrent readers
	cursor  string
	backoff time.Duration
}

// NewLoop builds a loop positioned at the persisted cursor. It fails when
// the cursor cannot be loaded, since no safe starting point is known.
func NewLoop(ctx context.Context, cfg Config) (*Loop, error) {
	if cfg.Syncer == nil || cfg.Cursor == nil || cfg.Router == nil {
		return nil, fmt.Errorf("syncloop: Syncer, Cursor and Router are required")
	}

	l := &Loop{
		syncer:         cfg.Syncer,
		cursorStore:    cfg.Cursor,
		router:         cfg.Router,
		timeout:        cfg.Timeout,
		initialBackoff: cfg.InitialBackoff,
		maxBackoff:     cfg.MaxBackoff,
		clock:          cfg.Clock,
		logger:         cfg.Logger,
	}
	if l.timeout <= 0 {
		l.timeout = DefaultTimeout
	}
	if l.initialBackoff <= 0 {
		l.initialBackoff = DefaultInitialBackoff
	}
	if l.maxBackoff <= 0 {
		l.maxBackoff = DefaultMaxBackoff
	}
	if l.maxBackoff < l.initialBackoff {
		l.maxBackoff = l.initialBackoff
	}
	if l.clock == nil {
		l.clock = clock.Real()
	}
	if l.logger == nil {
		l.logger = slog.Default()
	}

	cursor, err := l.cursorStore.Load(ctx)
	if err != nil {
		return nil, fmt.Errorf("load sync cursor: %w", err)
	}
	l.cursor = cursor
	l.backoff = l.initialBackoff

	if cursor == "" {
		l.logger.Info("no sync cursor, performing initial sync")
	} else {
		l.logger.Info("resuming from saved sync cursor", "cursor", cursor)
	}
	return l, nil
}

// State returns the current state.
func (l *Loop) State() State { return State(l.state.Load()) }

// Cursor returns the in-memory cursor the next sync will start from.
func (l *Loop) Cursor() string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.cursor
}

func (l *Loop) setState(s State) { l.state.Store(int32(s)) }

// Run syncs until ctx is cancelled and then returns nil. Sync failures are
// never fatal.
func (l *Loop) Run(ctx context.Context) error {
	l.logger.Info("sync loop started", "timeout", l.timeout)
	for ctx.Err() == nil {
		l.RunOnce(ctx)
	}
	l.setState(StateIdle)
	l.logger.Info("sync loop stopped", "cursor", l.Cursor())
	return nil
}

// RunOnce performs one cycle: a sync, then either routing the batch and
// advancing the cursor, or waiting out the backoff after a failure. The
// sync error, if any, is returned after the wait.
func (l *Loop) RunOnce(ctx context.Context) error {
	since := l.Cursor()

	l.setState(StateRequesting)
	metrics.SyncRequests.Inc()
	started := l.clock.Now()
	batch, err := l.syncer.Sync(ctx, since, l.timeout)
	metrics.SyncLatency.Observe(l.clock.Now().Sub(started).Seconds())

	if err != nil {
		if ctx.Err() != nil {
			// Shutdown interrupted the long poll.
			l.setState(StateIdle)
			return err
		}
		l.fail(ctx, err)
		return err
	}

	l.backoff = l.initialBackoff
	metrics.BackoffSeconds.Set(0)

	// A batch is handled to the end even if shutdown starts meanwhile:
	// the cursor moves past every event in it. Shutdown waits at most for
	// the handlers of one batch.
	dispatchCtx := context.WithoutCancel(ctx)

	l.setState(StateDispatching)
	metrics.BatchSize.Observe(float64(len(batch.Events)))
	for _, event := range batch.Events {
		l.router.Route(dispatchCtx, event)
	}

	l.advance(dispatchCtx, batch.Next)
	l.setState(StateIdle)
	return nil
}

// fail logs a sync error and sleeps for the current backoff, then doubles
// it for the next failure.
func (l *Loop) fail(ctx context.Context, err error) {
	l.setState(StateFailed)
	metrics.SyncFailures.Inc()

	delay := l.backoff
	l.logger.Warn("sync failed, retrying",
		"err", err,
		"kind", domain.KindOf(err),
		"cursor", l.Cursor(),
		"backoff", delay,
	)

	l.setState(StateBackoff)
	metrics.BackoffSeconds.Set(int64(delay / time.Second))
	select {
	case <-ctx.Done():
	case <-l.clock.After(delay):
	}

	l.backoff = min(l.backoff*2, l.maxBackoff)
}

// advance records next as the cursor once its batch has been routed. ctx
// must not be cancelled by shutdown. An
// empty or unchanged token leaves the cursor alone. A failed save is logged
// and the in-memory cursor still moves on; a restart before the next
// successful save replays from the older persisted token.
func (l *Loop) advance(ctx context.Context, next string) {
	if next == "" {
		l.logger.Warn("sync returned no next cursor, keeping current position")
		return
	}
	if next == l.Cursor() {
		return
	}

	if err := l.cursorStore.Save(ctx, next); err != nil {
		metrics.CursorSaveFailures.Inc()
		l.logger.Error("failed to save sync cursor", "err", err, "cursor", next)
	} else {
		metrics.CursorSaves.Inc()
	}

	l.mu.Lock()
	l.cursor = next
	l.mu.Unlock()
}
