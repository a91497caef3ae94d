package app

import (
	"context"
	"testing"

	"chat_sync_service/internal/chat/domain"
	"chat_sync_service/pkg/config"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExecAction(t *testing.T) {
	f := newFixture(t)
	e, _ := f.startedEngine(t, "alice")
	h := NewChatWebsocketHandler(f.store, f.bus, config.SyncConfig{})
	ctx := context.Background()

	tests := []struct {
		name    string
		msg     string
		success bool
		errLike string
	}{
		{name: "send", msg: `{"action":"send_message","content":" hello "}`, success: true},
		{name: "blank send", msg: `{"action":"send_message","content":"  "}`, errLike: domain.ErrValidation.Error()},
		{name: "keystroke", msg: `{"action":"keystroke"}`, success: true},
		{name: "set typing", msg: `{"action":"set_typing","is_typing":false}`, success: true},
		{name: "select room", msg: `{"action":"select_room","room_id":"r0"}`, success: true},
		{name: "select blank", msg: `{"action":"select_room","room_id":""}`, errLike: domain.ErrValidation.Error()},
		{name: "unknown", msg: `{"action":"dance"}`, errLike: "unknown action"},
		{name: "bad json", msg: `{`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp := h.execAction(ctx, e, []byte(tt.msg))
			assert.Equal(t, tt.success, resp.Success)
			if tt.errLike != "" {
				assert.Contains(t, resp.Error, tt.errLike)
			}
		})
	}

	require.Equal(t, 1, f.fs.insertCount())
	resp := h.execAction(ctx, e, []byte(`{"action":"snapshot"}`))
	require.True(t, resp.Success)
	snap, ok := resp.Payload["snapshot"].(Snapshot)
	require.True(t, ok)
	assert.Equal(t, "r0", snap.SelectedRoomID)
}

func TestWSListener_CoalescesSnapshots(t *testing.T) {
	l := newWSListener()
	l.OnSnapshot(Snapshot{Generation: 1})
	l.OnSnapshot(Snapshot{Generation: 2})
	l.OnSnapshot(Snapshot{Generation: 3})

	s := <-l.snapshots
	assert.Equal(t, uint64(3), s.Generation)
	select {
	case <-l.snapshots:
		t.Fatal("only the latest snapshot is kept")
	default:
	}
}

func TestNoticeResponse(t *testing.T) {
	resp := noticeResponse(domain.Notice{Kind: domain.NoticeFetchFailure, Op: "list messages", RoomID: "r1", Err: errBoom})
	assert.Equal(t, string(domain.NotifyNotice), resp.Action)
	assert.False(t, resp.Success)
	assert.Equal(t, "boom", resp.Error)
	assert.Equal(t, "r1", resp.Payload["room_id"])
}
