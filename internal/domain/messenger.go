package domain

import (
	"context"
	"time"
)

// Messenger is the messaging-platform client consumed by the bot core.
type Messenger interface {
	// Sync long-polls for events after since, waiting up to timeout.
	Sync(ctx context.Context, since string, timeout time.Duration) (Batch, error)
	JoinRoom(ctx context.Context, roomID string) error
	InviteMember(ctx context.Context, roomID, userID string) error
	KickMember(ctx context.Context, roomID, userID, reason string) error
	// SendText posts a message; html may be empty.
	SendText(ctx context.Context, roomID, body, html string) error
	LeaveRoom(ctx context.Context, roomID string) error
}
