package domain

// Action websocket request action
type Action string

const (
	// SelectRoom websocket action select_room
	SelectRoom Action = "select_room"
	// SendMessage websocket action send_message
	SendMessage Action = "send_message"
	// Keystroke websocket action keystroke
	Keystroke Action = "keystroke"
	// SetTyping websocket action set_typing
	SetTyping Action = "set_typing"
	// GetSnapshot websocket action snapshot
	GetSnapshot Action = "snapshot"

	// NotifySnapshot pushed after every cache change
	NotifySnapshot Action = "notify_snapshot"
	// NotifyNotice pushed on background failures
	NotifyNotice Action = "notify_notice"
)

// WSRequest websocket Request
type WSRequest struct {
	Action   string `json:"action"`
	RoomID   string `json:"room_id"`
	Content  string `json:"content"`
	IsTyping bool   `json:"is_typing"`
}

// WSResponse websocket Response
type WSResponse struct {
	Action  string                 `json:"action"`
	Success bool                   `json:"success"`
	Payload map[string]interface{} `json:"payload,omitempty"`
	Error   string                 `json:"error,omitempty"`
}
