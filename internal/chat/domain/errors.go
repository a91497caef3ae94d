package domain

import (
	"errors"
	"fmt"
)

var (
	// ErrValidation rejected before any write
	ErrValidation = errors.New("validation error")
	// ErrWriteFailure durable-store write rejected, nothing mutated locally
	ErrWriteFailure = errors.New("write failure")
	// ErrFetchFailure read failed, previous snapshot retained
	ErrFetchFailure = errors.New("fetch failure")
	// ErrChannelDropped notification transport lost
	ErrChannelDropped = errors.New("channel dropped")
	// ErrNotFound lookup miss
	ErrNotFound = errors.New("not found")

	// ErrEmptyContent message content empty after trim
	ErrEmptyContent = fmt.Errorf("%w: message content is empty", ErrValidation)
	// ErrNoRoomSelected send without a selected room
	ErrNoRoomSelected = fmt.Errorf("%w: no room selected", ErrValidation)
	// ErrEngineClosed operation after teardown
	ErrEngineClosed = errors.New("sync engine closed")
)

// NoticeKind side-channel notice kind
type NoticeKind string

const (
	// NoticeFetchFailure background read failed
	NoticeFetchFailure NoticeKind = "fetch_failure"
	// NoticeChannelDropped change bus lost
	NoticeChannelDropped NoticeKind = "channel_dropped"
	// NoticeWriteFailure background write (typing, status) failed
	NoticeWriteFailure NoticeKind = "write_failure"
)

// Notice non-fatal failure reported outside the call path
type Notice struct {
	Kind   NoticeKind `json:"kind"`
	Op     string     `json:"op"`
	RoomID string     `json:"room_id,omitempty"`
	Err    error      `json:"-"`
}

// Error implement error
func (n Notice) Error() string {
	if n.Err == nil {
		return fmt.Sprintf("%s: %s", n.Kind, n.Op)
	}
	return fmt.Sprintf("%s: %s: %v", n.Kind, n.Op, n.Err)
}

// Unwrap expose the cause
func (n Notice) Unwrap() error {
	return n.Err
}
