package domain

// ActionKind discriminates the Action union.
type ActionKind int

const (
	ActionSendText ActionKind = iota + 1
	ActionInviteMember
	ActionKickMember
	ActionLeaveRoom
)

func (k ActionKind) String() string {
	switch k {
	case ActionSendText:
		return "send_text"
	case ActionInviteMember:
		return "invite_member"
	case ActionKickMember:
		return "kick_member"
	case ActionLeaveRoom:
		return "leave_room"
	default:
		return "unknown"
	}
}

// Action is an outbound side effect produced by a handler.
type Action struct {
	Kind   ActionKind
	Room   string
	Body   string // SendText
	HTML   string // SendText, optional formatted body
	User   string // InviteMember, KickMember
	Reason string // KickMember
}

func SendText(room, body string) Action {
	return Action{Kind: ActionSendText, Room: room, Body: body}
}

// SendRichText is SendText with an HTML formatted body alongside the plain one.
func SendRichText(room, body, html string) Action {
	return Action{Kind: ActionSendText, Room: room, Body: body, HTML: html}
}

func InviteMember(room, user string) Action {
	return Action{Kind: ActionInviteMember, Room: room, User: user}
}

func KickMember(room, user, reason string) Action {
	return Action{Kind: ActionKickMember, Room: room, User: user, Reason: reason}
}

func LeaveRoom(room string) Action {
	return Action{Kind: ActionLeaveRoom, Room: room}
}
