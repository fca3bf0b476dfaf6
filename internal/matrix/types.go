package matrix

import "encoding/json"

// Event is a Matrix event as delivered by /sync. Content is decoded lazily
// per event type.
type Event struct {
	EventID        string          `json:"event_id"`
	Type           string          `json:"type"`
	Sender         string          `json:"sender"`
	OriginServerTS int64           `json:"origin_server_ts"`
	StateKey       *string         `json:"state_key,omitempty"`
	Content        json.RawMessage `json:"content"`
}

// SyncResponse is the subset of the /sync response the bot consumes.
type SyncResponse struct {
	NextBatch string       `json:"next_batch"`
	Rooms     RoomsSection `json:"rooms"`
}

// RoomsSection contains per-room sync data grouped by membership state.
type RoomsSection struct {
	Join   map[string]JoinedRoom  `json:"join,omitempty"`
	Invite map[string]InvitedRoom `json:"invite,omitempty"`
	Leave  map[string]LeftRoom    `json:"leave,omitempty"`
}

type JoinedRoom struct {
	Timeline TimelineSection `json:"timeline"`
	State    StateSection    `json:"state"`
}

type InvitedRoom struct {
	InviteState StateSection `json:"invite_state"`
}

type LeftRoom struct {
	Timeline TimelineSection `json:"timeline"`
	State    StateSection    `json:"state"`
}

type TimelineSection struct {
	Events    []Event `json:"events"`
	PrevBatch string  `json:"prev_batch"`
	Limited   bool    `json:"limited"`
}

type StateSection struct {
	Events []Event `json:"events"`
}

// MessageContent is the content of an m.room.message event.
type MessageContent struct {
	MsgType       string `json:"msgtype"`
	Body          string `json:"body"`
	Format        string `json:"format,omitempty"`
	FormattedBody string `json:"formatted_body,omitempty"`
}

// MemberContent is the content of an m.room.member state event.
type MemberContent struct {
	Membership  string `json:"membership"`
	DisplayName string `json:"displayname,omitempty"`
}

type nameContent struct {
	Name string `json:"name"`
}

type canonicalAliasContent struct {
	Alias string `json:"alias"`
}

type InviteRequest struct {
	UserID string `json:"user_id"`
}

type KickRequest struct {
	UserID string `json:"user_id"`
	Reason string `json:"reason,omitempty"`
}

type SendEventResponse struct {
	EventID string `json:"event_id"`
}

type WhoAmIResponse struct {
	UserID   string `json:"user_id"`
	DeviceID string `json:"device_id,omitempty"`
}

type ServerVersionsResponse struct {
	Versions         []string        `json:"versions"`
	UnstableFeatures map[string]bool `json:"unstable_features,omitempty"`
}

const (
	eventTypeMessage        = "m.room.message"
	eventTypeMember         = "m.room.member"
	eventTypeName           = "m.room.name"
	eventTypeCanonicalAlias = "m.room.canonical_alias"

	msgTypeText = "m.text"
	formatHTML  = "org.matrix.custom.html"
)
