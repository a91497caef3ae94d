package app

import (
	"sort"
	"time"

	"chat_sync_service/internal/chat/domain"
)

// TypingState local typing state
type TypingState int

const (
	// TypingIdle no typing published
	TypingIdle TypingState = iota
	// TypingActive is_typing=true published, inactivity timer armed
	TypingActive
)

func (s TypingState) String() string {
	if s == TypingActive {
		return "typing"
	}
	return "idle"
}

// scheduleFunc run fn once after d, the returned func cancels it
type scheduleFunc func(d time.Duration, fn func()) (cancel func())

// TypingCoordinator local typing state machine of the selected room and
// the remote typing view of that room. Not safe for concurrent use,
// timer callbacks must be delivered on the owner's goroutine.
type TypingCoordinator struct {
	userID   string
	roomID   string
	state    TypingState
	idle     time.Duration
	schedule scheduleFunc
	publish  func(roomID string, isTyping bool)

	cancelTimer func()
	timerToken  uint64

	remote []domain.TypingIndicator
	fence  fence
}

// NewTypingCoordinator create TypingCoordinator.
// publish must not block, it is called from the owner's goroutine.
func NewTypingCoordinator(userID string, idle time.Duration, schedule scheduleFunc, publish func(roomID string, isTyping bool)) *TypingCoordinator {
	return &TypingCoordinator{
		userID:   userID,
		idle:     idle,
		schedule: schedule,
		publish:  publish,
	}
}

// State current local state
func (c *TypingCoordinator) State() TypingState {
	return c.state
}

// RoomID room the coordinator is bound to
func (c *TypingCoordinator) RoomID() string {
	return c.roomID
}

// Keystroke Idle -> Typing publishes true, Typing -> Typing only re-arms the timer
func (c *TypingCoordinator) Keystroke() {
	if c.roomID == "" {
		return
	}
	if c.state == TypingIdle {
		c.state = TypingActive
		c.publish(c.roomID, true)
	}
	c.armTimer()
}

// MessageSent Typing -> Idle publishing false immediately
func (c *TypingCoordinator) MessageSent() {
	c.clear()
}

// Set explicit typing flag, true behaves as a keystroke
func (c *TypingCoordinator) Set(isTyping bool) {
	if isTyping {
		c.Keystroke()
		return
	}
	c.clear()
}

// SwitchRoom bind to roomID in Idle. A pending true on the old room is
// cleared best-effort.
func (c *TypingCoordinator) SwitchRoom(roomID string) {
	c.clear()
	c.roomID = roomID
	c.remote = nil
}

// Stop cancel the timer and clear a pending true
func (c *TypingCoordinator) Stop() {
	c.clear()
}

func (c *TypingCoordinator) clear() {
	c.stopTimer()
	if c.state == TypingActive {
		c.state = TypingIdle
		c.publish(c.roomID, false)
	}
}

func (c *TypingCoordinator) armTimer() {
	c.stopTimer()
	token := c.timerToken
	c.cancelTimer = c.schedule(c.idle, func() {
		c.onTimer(token)
	})
}

func (c *TypingCoordinator) stopTimer() {
	c.timerToken++
	if c.cancelTimer != nil {
		c.cancelTimer()
		c.cancelTimer = nil
	}
}

// onTimer a cancelled timer can still fire once it has been queued,
// the token tells it apart from the live one
func (c *TypingCoordinator) onTimer(token uint64) {
	if token != c.timerToken {
		return
	}
	c.cancelTimer = nil
	if c.state == TypingActive {
		c.state = TypingIdle
		c.publish(c.roomID, false)
	}
}

func (c *TypingCoordinator) beginRemote() uint64 {
	return c.fence.next()
}

// applyRemote replace the remote view with rows of the bound room that
// are typing and not from self, one row per user (latest updated_at)
func (c *TypingCoordinator) applyRemote(seq uint64, rows []domain.TypingIndicator) bool {
	if !c.fence.accept(seq) {
		return false
	}
	c.remote = filterRemoteTyping(c.roomID, c.userID, rows)
	return true
}

// Remote copy of the remote typing view
func (c *TypingCoordinator) Remote() []domain.TypingIndicator {
	return append([]domain.TypingIndicator(nil), c.remote...)
}

func filterRemoteTyping(roomID, self string, rows []domain.TypingIndicator) []domain.TypingIndicator {
	latest := map[string]domain.TypingIndicator{}
	for _, r := range rows {
		if r.RoomID != roomID || r.UserID == self || r.UserID == "" {
			continue
		}
		if prev, ok := latest[r.UserID]; ok && !r.UpdatedAt.After(prev.UpdatedAt) {
			continue
		}
		latest[r.UserID] = r
	}

	out := make([]domain.TypingIndicator, 0, len(latest))
	for _, r := range latest {
		if r.IsTyping {
			out = append(out, r)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].UpdatedAt.Equal(out[j].UpdatedAt) {
			return out[i].UpdatedAt.Before(out[j].UpdatedAt)
		}
		return out[i].UserID < out[j].UserID
	})
	return out
}
