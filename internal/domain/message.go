package domain

import "time"

// EventKind discriminates the Event union.
type EventKind int

const (
	KindTextMessage EventKind = iota + 1
	KindRoomInvite
	KindMembershipChange
)

func (k EventKind) String() string {
	switch k {
	case KindTextMessage:
		return "text_message"
	case KindRoomInvite:
		return "room_invite"
	case KindMembershipChange:
		return "membership_change"
	default:
		return "unknown"
	}
}

// Membership is the state carried by an m.room.member event.
type Membership string

const (
	MembershipJoin   Membership = "join"
	MembershipLeave  Membership = "leave"
	MembershipInvite Membership = "invite"
	MembershipBan    Membership = "ban"
	MembershipKnock  Membership = "knock"
)

// RoomContext identifies a room and whether commands there need the prefix.
type RoomContext struct {
	ID   string
	Name string
	// Direct is true for ad-hoc conversations (no name, no canonical alias).
	// Unprefixed text in a direct room is still treated as a command.
	Direct bool
}

// Event is one inbound item of a sync batch. Only the fields for Kind are set.
type Event struct {
	Kind      EventKind
	ID        string
	Sender    string
	Room      RoomContext
	Timestamp time.Time

	Body string // KindTextMessage

	Inviter string // KindRoomInvite

	Membership Membership // KindMembershipChange
	Actor      string     // sender of the member event
	Target     string     // state key: whose membership changed
}

// Batch is the result of one long-poll sync call.
type Batch struct {
	Events []Event
	Next   string
}
