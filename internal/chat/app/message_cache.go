package app

import (
	"sort"

	"chat_sync_service/internal/chat/domain"
)

// MessageCache ordered message log of the selected room.
// Order is created_at ascending, id ascending on ties.
type MessageCache struct {
	roomID   string
	messages []domain.Message
	ids      map[string]struct{}
}

// NewMessageCache create MessageCache
func NewMessageCache() *MessageCache {
	return &MessageCache{ids: map[string]struct{}{}}
}

// RoomID room the cache currently holds
func (c *MessageCache) RoomID() string {
	return c.roomID
}

// Reset drop everything and hold roomID
func (c *MessageCache) Reset(roomID string) {
	c.roomID = roomID
	c.messages = nil
	c.ids = map[string]struct{}{}
}

// Load replace the log with a full fetch of roomID.
// Messages already merged from events but missing from the fetch are kept,
// the log is append-only so a fetch that raced an insert cannot retract it.
func (c *MessageCache) Load(roomID string, msgs []domain.Message) {
	if roomID != c.roomID {
		c.Reset(roomID)
	}

	fetched := make(map[string]struct{}, len(msgs))
	merged := make([]domain.Message, 0, len(msgs)+len(c.messages))
	for _, m := range msgs {
		if m.RoomID != roomID {
			continue
		}
		if _, dup := fetched[m.ID]; dup {
			continue
		}
		fetched[m.ID] = struct{}{}
		m.Author = nil
		merged = append(merged, m)
	}
	for _, m := range c.messages {
		if _, ok := fetched[m.ID]; !ok {
			fetched[m.ID] = struct{}{}
			merged = append(merged, m)
		}
	}

	sort.SliceStable(merged, func(i, j int) bool {
		return merged[i].Before(merged[j])
	})
	c.messages = merged
	c.ids = fetched
}

// ApplyInsert merge one message at its ordered position.
// Returns false when the id is already cached or the room differs.
func (c *MessageCache) ApplyInsert(m domain.Message) bool {
	if m.RoomID != c.roomID {
		return false
	}
	if _, ok := c.ids[m.ID]; ok {
		return false
	}

	i := sort.Search(len(c.messages), func(i int) bool {
		return m.Before(c.messages[i])
	})
	c.messages = append(c.messages, domain.Message{})
	copy(c.messages[i+1:], c.messages[i:])
	c.messages[i] = m
	c.ids[m.ID] = struct{}{}
	return true
}

// Messages copy of the log
func (c *MessageCache) Messages() []domain.Message {
	out := make([]domain.Message, len(c.messages))
	copy(out, c.messages)
	return out
}

// MissingAuthors distinct user ids of messages without a resolved author
func (c *MessageCache) MissingAuthors() []string {
	seen := map[string]struct{}{}
	var ids []string
	for _, m := range c.messages {
		if m.Author != nil {
			continue
		}
		if _, ok := seen[m.UserID]; ok {
			continue
		}
		seen[m.UserID] = struct{}{}
		ids = append(ids, m.UserID)
	}
	return ids
}

// AttachAuthors set the author of every unresolved message lookup knows.
// A message keeps the author it was first given.
func (c *MessageCache) AttachAuthors(lookup func(userID string) (domain.Author, bool)) int {
	n := 0
	for i := range c.messages {
		if c.messages[i].Author != nil {
			continue
		}
		if a, ok := lookup(c.messages[i].UserID); ok {
			author := a
			c.messages[i].Author = &author
			n++
		}
	}
	return n
}

// AttachFallback give unresolved messages of userIDs the fallback author
func (c *MessageCache) AttachFallback(userIDs []string) int {
	failed := make(map[string]struct{}, len(userIDs))
	for _, id := range userIDs {
		failed[id] = struct{}{}
	}
	n := 0
	for i := range c.messages {
		if c.messages[i].Author != nil {
			continue
		}
		if _, ok := failed[c.messages[i].UserID]; ok {
			c.messages[i].Author = domain.FallbackAuthor()
			n++
		}
	}
	return n
}
