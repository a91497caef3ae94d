package domain

import "encoding/json"

// Topic change bus topic
type Topic string

const (
	// TopicRooms room changes
	TopicRooms Topic = "rooms"
	// TopicMessages message changes
	TopicMessages Topic = "messages"
	// TopicProfiles profile changes
	TopicProfiles Topic = "profiles"
	// TopicTypingIndicators typing indicator changes
	TopicTypingIndicators Topic = "typing_indicators"
)

// Topics every topic the engine may subscribe to
var Topics = []Topic{TopicRooms, TopicMessages, TopicProfiles, TopicTypingIndicators}

// EntityKind kind of the changed entity
type EntityKind string

const (
	// EntityRoom room
	EntityRoom EntityKind = "room"
	// EntityMessage message
	EntityMessage EntityKind = "message"
	// EntityProfile profile
	EntityProfile EntityKind = "profile"
	// EntityTypingIndicator typing indicator
	EntityTypingIndicator EntityKind = "typing_indicator"
)

// ChangeKind kind of change
type ChangeKind string

const (
	// ChangeInsert row inserted
	ChangeInsert ChangeKind = "insert"
	// ChangeUpdate row updated
	ChangeUpdate ChangeKind = "update"
	// ChangeDelete row deleted
	ChangeDelete ChangeKind = "delete"
	// ChangeAny matches every kind in a filter
	ChangeAny ChangeKind = "any"
)

// ChangeEvent invalidation hint from the authority.
// Record may be partial or missing and is never trusted as complete.
type ChangeEvent struct {
	Topic  Topic           `json:"topic"`
	Entity EntityKind      `json:"entity"`
	Change ChangeKind      `json:"change"`
	RoomID string          `json:"room_id,omitempty"`
	UserID string          `json:"user_id,omitempty"`
	Record json.RawMessage `json:"record,omitempty"`
}

// Filter scopes a subscription, zero value matches everything
type Filter struct {
	Change ChangeKind
	RoomID string
}

// Matches report whether evt passes the filter
func (f Filter) Matches(evt ChangeEvent) bool {
	if f.Change != "" && f.Change != ChangeAny && f.Change != evt.Change {
		return false
	}
	if f.RoomID != "" && f.RoomID != evt.RoomID {
		return false
	}
	return true
}

// EntityOf topic -> entity kind
func EntityOf(topic Topic) EntityKind {
	switch topic {
	case TopicRooms:
		return EntityRoom
	case TopicMessages:
		return EntityMessage
	case TopicProfiles:
		return EntityProfile
	default:
		return EntityTypingIndicator
	}
}

// DecodeMessage best-effort decode of a message record
func (e ChangeEvent) DecodeMessage() (Message, bool) {
	var m Message
	if len(e.Record) == 0 {
		return m, false
	}
	if err := json.Unmarshal(e.Record, &m); err != nil {
		return m, false
	}
	return m, m.Complete()
}
