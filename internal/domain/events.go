package domain

import "encoding/json"

// EventKind classifies a GatewayEvent.
type EventKind string

const (
	// EventMessageObserved carries a full message object, either freshly
	// created or re-delivered during backfill.
	EventMessageObserved EventKind = "message_observed"
	// EventMessageEdited carries a partial message object; only the keys
	// present changed.
	EventMessageEdited EventKind = "message_edited"
	// EventMessageDeleted carries only the message/room/guild IDs.
	EventMessageDeleted EventKind = "message_deleted"
	// EventRoomChanged signals a room became visible or changed shape and
	// may need a history pass.
	EventRoomChanged EventKind = "room_changed"
	// EventGuildChanged signals a guild-wide change (join, availability,
	// role or permission update) that may open new rooms to the archive.
	EventGuildChanged EventKind = "guild_changed"
)

// GatewayEvent is the single unit the gateway hands to the archive loop.
// FromSelf marks deliveries that originate from this process's own
// outbound sends; the router skips those so audit notices are never
// re-archived as history.
type GatewayEvent struct {
	Kind      EventKind
	GuildID   int64
	RoomID    int64
	MessageID int64
	Payload   json.RawMessage
	FromSelf  bool

	// Room is the resolved room for EventRoomChanged. Nil means the
	// gateway could not resolve it; the scheduler then queues the room
	// unconditionally rather than dropping the signal.
	Room *Room

	// Reason names the trigger for room/guild events, for logs only.
	Reason string
}

// Room is a text channel or thread the archive can observe.
type Room struct {
	ID             int64
	GuildID        int64
	Name           string
	CanReadHistory bool
}
