// Package command parses command text into a typed Command and dispatches it
// to the handler registered for its kind.
package command

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"

	"matrixbot/internal/domain"
)

// Kind identifies a command. Parsing resolves the name to a Kind once, so
// handlers never compare command strings.
type Kind int

const (
	KindUnknown Kind = iota
	KindEcho
	KindAgent
	KindKick
	KindLeave
	KindHelp
)

func (k Kind) String() string {
	switch k {
	case KindEcho:
		return "echo"
	case KindAgent:
		return "agent"
	case KindKick:
		return "kick"
	case KindLeave:
		return "leave"
	case KindHelp:
		return "help"
	default:
		return "unknown"
	}
}

// Command is a parsed command line with the prefix already stripped.
type Command struct {
	Kind Kind
	Name string   // first token as typed
	Args []string // remaining tokens, in order
	Raw  string   // full command text
}

// Request is the context a command was issued in.
type Request struct {
	Room    domain.RoomContext
	Sender  string
	EventID string
}

// Handler turns a command into the actions to perform. Handlers do not touch
// the network themselves.
type Handler func(ctx context.Context, cmd Command, req Request) []domain.Action

// Registry maps command names to kinds and kinds to handlers.
type Registry struct {
	mu       sync.RWMutex
	kinds    map[string]Kind
	handlers map[Kind]Handler
	logger   *slog.Logger
}

func NewRegistry(logger *slog.Logger) *Registry {
	return &Registry{
		kinds:    make(map[string]Kind),
		handlers: make(map[Kind]Handler),
		logger:   logger,
	}
}

// Register binds name to kind and kind to h. Registering a kind again
// replaces its handler.
func (r *Registry) Register(kind Kind, name string, h Handler) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.kinds[name] = kind
	r.handlers[kind] = h
	r.logger.Debug("registered command", "name", name, "kind", kind)
}

// Parse splits text on whitespace and resolves the first token by exact,
// case-sensitive match. Text that is empty or names no registered command
// parses as KindUnknown.
func (r *Registry) Parse(text string) Command {
	fields := strings.Fields(text)
	cmd := Command{Kind: KindUnknown, Raw: text}
	if len(fields) == 0 {
		return cmd
	}
	cmd.Name = fields[0]
	if len(fields) > 1 {
		cmd.Args = fields[1:]
	}

	r.mu.RLock()
	defer r.mu.RUnlock()
	if kind, ok := r.kinds[cmd.Name]; ok {
		cmd.Kind = kind
	}
	return cmd
}

// Dispatch runs the handler for cmd.Kind, or the unknown-command reply when
// none is registered.
func (r *Registry) Dispatch(ctx context.Context, cmd Command, req Request) []domain.Action {
	r.mu.RLock()
	h, ok := r.handlers[cmd.Kind]
	r.mu.RUnlock()

	if !ok || cmd.Kind == KindUnknown {
		r.logger.Debug("unknown command", "room", req.Room.ID, "sender", req.Sender, "text", cmd.Raw)
		return []domain.Action{domain.SendText(req.Room.ID, UnknownReply(cmd.Raw))}
	}

	r.logger.Debug("dispatching command", "room", req.Room.ID, "sender", req.Sender, "command", cmd.Kind, "args", len(cmd.Args))
	return h(ctx, cmd, req)
}

// Names returns the registered command names in sorted order.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.kinds))
	for name := range r.kinds {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// UnknownReply is the text sent for unrecognized commands.
func UnknownReply(raw string) string {
	return fmt.Sprintf("Unknown command '%s'. Try the 'help' command for more information.", raw)
}
