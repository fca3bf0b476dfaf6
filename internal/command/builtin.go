package command

import (
	"context"
	"fmt"
	"html"
	"log/slog"
	"strings"

	"matrixbot/internal/domain"
)

// BuiltinConfig parameterizes the baseline command set.
type BuiltinConfig struct {
	// Prefix is shown in help texts, e.g. "!bot ".
	Prefix string
	// AgentID is the automated peer invited by "agent" and removed by "kick".
	AgentID    string
	KickReason string
	Farewell   string
	Logger     *slog.Logger
}

// RulesReply is the answer to "help rules".
const RulesReply = "There are no rules here!"

// NoHelpReply is the answer to "help <topic>" for an unknown topic.
func NoHelpReply(topic string) string {
	return fmt.Sprintf("We don't have help for **%s**!", topic)
}

// RegisterBuiltins adds echo, agent, kick, leave and help to r.
func RegisterBuiltins(r *Registry, cfg BuiltinConfig) {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	b := &builtins{cfg: cfg, logger: logger}

	r.Register(KindEcho, "echo", b.echo)
	r.Register(KindAgent, "agent", b.agent)
	r.Register(KindKick, "kick", b.kick)
	r.Register(KindLeave, "leave", b.leave)
	r.Register(KindHelp, "help", b.help)
}

type builtins struct {
	cfg    BuiltinConfig
	logger *slog.Logger
}

// echo replies with the arguments joined by single spaces, so runs of
// whitespace in the input collapse.
func (b *builtins) echo(_ context.Context, cmd Command, req Request) []domain.Action {
	return []domain.Action{domain.SendText(req.Room.ID, strings.Join(cmd.Args, " "))}
}

func (b *builtins) agent(_ context.Context, _ Command, req Request) []domain.Action {
	if b.cfg.AgentID == "" {
		b.logger.Warn("agent command ignored: no agent configured", "room", req.Room.ID)
		return nil
	}
	return []domain.Action{domain.InviteMember(req.Room.ID, b.cfg.AgentID)}
}

func (b *builtins) kick(_ context.Context, _ Command, req Request) []domain.Action {
	if b.cfg.AgentID == "" {
		b.logger.Warn("kick command ignored: no agent configured", "room", req.Room.ID)
		return nil
	}
	return []domain.Action{domain.KickMember(req.Room.ID, b.cfg.AgentID, b.cfg.KickReason)}
}

func (b *builtins) leave(_ context.Context, _ Command, req Request) []domain.Action {
	return []domain.Action{
		domain.SendText(req.Room.ID, b.cfg.Farewell),
		domain.LeaveRoom(req.Room.ID),
	}
}

func (b *builtins) help(_ context.Context, cmd Command, req Request) []domain.Action {
	if len(cmd.Args) == 0 {
		menu := b.menu([][2]string{
			{"help [commands|rules]", "Help on commands"},
			{"help", "This menu"},
		})
		return []domain.Action{domain.SendRichText(req.Room.ID,
			"Help menu:\n"+menu,
			"<b>Help menu:</b><br /><pre><code>"+html.EscapeString(menu)+"</code></pre>",
		)}
	}

	switch topic := cmd.Args[0]; topic {
	case "rules":
		return []domain.Action{domain.SendText(req.Room.ID, RulesReply)}
	case "commands":
		menu := b.menu([][2]string{
			{"echo <text>", "Prints the text you entered"},
			{"agent", "Invites the agent"},
			{"kick", "Removes the agent"},
			{"leave", "Bot leaves the room"},
			{"help [topic]", "Help on commands"},
		})
		return []domain.Action{domain.SendText(req.Room.ID, "Available commands:\n"+menu)}
	default:
		return []domain.Action{domain.SendText(req.Room.ID, NoHelpReply(topic))}
	}
}

// menu renders usage lines with the prefix and aligned descriptions.
func (b *builtins) menu(entries [][2]string) string {
	width := 0
	for _, e := range entries {
		if n := len(b.cfg.Prefix) + len(e[0]); n > width {
			width = n
		}
	}
	var sb strings.Builder
	for _, e := range entries {
		fmt.Fprintf(&sb, "  %-*s  - %s\n", width, b.cfg.Prefix+e[0], e[1])
	}
	return sb.String()
}
