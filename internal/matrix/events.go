package matrix

import (
	"encoding/json"
	"log/slog"
	"sort"
	"sync"
	"time"

	"matrixbot/internal/domain"
)

// roomInfo is the state that decides whether a room is a group or a direct
// conversation.
type roomInfo struct {
	name  string
	alias string
}

// roomTracker accumulates room names and canonical aliases across syncs.
// A room with neither is treated as direct.
type roomTracker struct {
	mu    sync.Mutex
	rooms map[string]*roomInfo
}

func newRoomTracker() *roomTracker {
	return &roomTracker{rooms: make(map[string]*roomInfo)}
}

func (t *roomTracker) forget(roomID string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.rooms, roomID)
}

func (t *roomTracker) context(roomID string) domain.RoomContext {
	t.mu.Lock()
	defer t.mu.Unlock()
	info := t.rooms[roomID]
	if info == nil {
		return domain.RoomContext{ID: roomID, Direct: true}
	}
	name := info.name
	if name == "" {
		name = info.alias
	}
	return domain.RoomContext{
		ID:     roomID,
		Name:   name,
		Direct: info.name == "" && info.alias == "",
	}
}

// observe folds a state event into the tracker. Non-state events and
// unrelated types are ignored.
func (t *roomTracker) observe(roomID string, event Event, logger *slog.Logger) {
	if event.StateKey == nil || *event.StateKey != "" {
		return
	}
	switch event.Type {
	case eventTypeName:
		var content nameContent
		if err := json.Unmarshal(event.Content, &content); err != nil {
			logger.Debug("ignoring malformed room name", "room", roomID, "err", err)
			return
		}
		t.update(roomID, func(info *roomInfo) { info.name = content.Name })
	case eventTypeCanonicalAlias:
		var content canonicalAliasContent
		if err := json.Unmarshal(event.Content, &content); err != nil {
			logger.Debug("ignoring malformed canonical alias", "room", roomID, "err", err)
			return
		}
		t.update(roomID, func(info *roomInfo) { info.alias = content.Alias })
	}
}

func (t *roomTracker) update(roomID string, apply func(*roomInfo)) {
	t.mu.Lock()
	defer t.mu.Unlock()
	info := t.rooms[roomID]
	if info == nil {
		info = &roomInfo{}
		t.rooms[roomID] = info
	}
	apply(info)
}

// convert flattens a sync response into domain events. Joined rooms come
// first, then left rooms, then invites; rooms within each group are ordered
// by ID and events keep timeline order. State is observed before the
// timeline so a room renamed in this batch is classified with its new name.
func (t *roomTracker) convert(response *SyncResponse, selfID string, logger *slog.Logger) []domain.Event {
	var events []domain.Event

	for _, roomID := range sortedKeys(response.Rooms.Join) {
		room := response.Rooms.Join[roomID]
		for _, event := range room.State.Events {
			t.observe(roomID, event, logger)
		}
		events = t.appendTimeline(events, roomID, room.Timeline.Events, logger)
	}

	for _, roomID := range sortedKeys(response.Rooms.Leave) {
		room := response.Rooms.Leave[roomID]
		for _, event := range room.State.Events {
			t.observe(roomID, event, logger)
		}
		events = t.appendTimeline(events, roomID, room.Timeline.Events, logger)
	}

	for _, roomID := range sortedKeys(response.Rooms.Invite) {
		room := response.Rooms.Invite[roomID]
		invite := domain.Event{Kind: domain.KindRoomInvite}
		for _, event := range room.InviteState.Events {
			t.observe(roomID, event, logger)
			if event.Type == eventTypeMember && event.StateKey != nil && *event.StateKey == selfID {
				invite.ID = event.EventID
				invite.Sender = event.Sender
				invite.Inviter = event.Sender
				invite.Timestamp = timestamp(event.OriginServerTS)
			}
		}
		invite.Room = t.context(roomID)
		events = append(events, invite)
	}

	return events
}

func (t *roomTracker) appendTimeline(events []domain.Event, roomID string, timeline []Event, logger *slog.Logger) []domain.Event {
	for _, event := range timeline {
		t.observe(roomID, event, logger)

		switch event.Type {
		case eventTypeMessage:
			var content MessageContent
			if err := json.Unmarshal(event.Content, &content); err != nil {
				logger.Debug("skipping malformed message", "room", roomID, "event_id", event.EventID, "err", err)
				continue
			}
			if content.MsgType != msgTypeText {
				continue
			}
			events = append(events, domain.Event{
				Kind:      domain.KindTextMessage,
				ID:        event.EventID,
				Sender:    event.Sender,
				Room:      t.context(roomID),
				Timestamp: timestamp(event.OriginServerTS),
				Body:      content.Body,
			})

		case eventTypeMember:
			if event.StateKey == nil {
				continue
			}
			var content MemberContent
			if err := json.Unmarshal(event.Content, &content); err != nil {
				logger.Debug("skipping malformed member event", "room", roomID, "event_id", event.EventID, "err", err)
				continue
			}
			events = append(events, domain.Event{
				Kind:       domain.KindMembershipChange,
				ID:         event.EventID,
				Sender:     event.Sender,
				Room:       t.context(roomID),
				Timestamp:  timestamp(event.OriginServerTS),
				Membership: domain.Membership(content.Membership),
				Actor:      event.Sender,
				Target:     *event.StateKey,
			})
		}
	}
	return events
}

func timestamp(ms int64) time.Time {
	if ms == 0 {
		return time.Time{}
	}
	return time.UnixMilli(ms)
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
