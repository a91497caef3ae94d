package app

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"chat_sync_service/internal/chat/changebus"
	"chat_sync_service/internal/chat/domain"
	"chat_sync_service/internal/chat/repository"
	"chat_sync_service/pkg/config"
	errprocess "chat_sync_service/pkg/err"
	"chat_sync_service/pkg/logger"
	"chat_sync_service/pkg/middlewares"

	"github.com/gofiber/websocket/v2"
	"go.uber.org/zap"
)

const (
	pingInterval = 30 * time.Second
	writeWait    = 10 * time.Second
	noticeBuffer = 32
	replyBuffer  = 16
)

// ChatWebsocketHandler websocket gateway, one sync engine per connection
type ChatWebsocketHandler struct {
	store repository.Store
	bus   changebus.Bus
	cfg   config.SyncConfig
}

// NewChatWebsocketHandler create ChatWebsocketHandler
func NewChatWebsocketHandler(store repository.Store, bus changebus.Bus, cfg config.SyncConfig) *ChatWebsocketHandler {
	return &ChatWebsocketHandler{
		store: store,
		bus:   bus,
		cfg:   cfg.WithDefaults(),
	}
}

// wsListener engine listener feeding the connection writer.
// Snapshots coalesce, only the latest unsent one is kept.
type wsListener struct {
	snapshots chan Snapshot
	notices   chan domain.Notice
}

func newWSListener() *wsListener {
	return &wsListener{
		snapshots: make(chan Snapshot, 1),
		notices:   make(chan domain.Notice, noticeBuffer),
	}
}

func (l *wsListener) OnSnapshot(s Snapshot) {
	select {
	case l.snapshots <- s:
		return
	default:
	}
	select {
	case <-l.snapshots:
	default:
	}
	select {
	case l.snapshots <- s:
	default:
	}
}

func (l *wsListener) OnNotice(n domain.Notice) {
	select {
	case l.notices <- n:
	default:
		logger.Log.Warn("websocket notice dropped", zap.String("kind", string(n.Kind)), zap.String("op", n.Op))
	}
}

// HandleConnection 是 WebSocket 連線的進入點
func (h *ChatWebsocketHandler) HandleConnection(ctx context.Context, conn *websocket.Conn) {
	userID, _ := conn.Locals(middlewares.TokenUserID).(string)
	defer conn.Close()

	if userID == "" {
		h.writeJSON(conn, errorResponse("", errprocess.Set("websocket connection without user")))
		return
	}
	log := logger.Log.With(zap.String("user_id", userID))
	log.Info("websocket connected")

	connCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	listener := newWSListener()
	engine := NewSyncEngine(userID, h.store, h.bus, listener, WithConfig(h.cfg))
	defer engine.Teardown()

	if err := engine.Start(connCtx); err != nil {
		h.writeJSON(conn, errorResponse("start", errprocess.Wrap("sync engine start", err, zap.String("user_id", userID))))
		return
	}

	//server發出ping之後client連線正常會回pong
	conn.SetPongHandler(func(appData string) error {
		log.Debug("received pong")
		return nil
	})

	//client發出close, fiber 在 read 時回傳 err
	conn.SetCloseHandler(func(code int, text string) error {
		log.Info("websocket close frame", zap.Int("code", code))
		return nil
	})

	replies := make(chan domain.WSResponse, replyBuffer)
	writerDone := make(chan struct{})
	go h.writeLoop(connCtx, conn, listener, replies, writerDone)

	for {
		mt, message, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsCloseError(err,
				websocket.CloseNormalClosure,
				websocket.CloseGoingAway,
				websocket.CloseNoStatusReceived,
			) {
				log.Info("websocket closed")
			} else {
				//直接斷線 1006
				log.Warn("websocket read error", zap.Error(err))
			}
			break
		}
		if mt != websocket.TextMessage {
			h.reply(connCtx, replies, writerDone, errorResponse("", errors.New("unsupported message type")))
			continue
		}
		h.reply(connCtx, replies, writerDone, h.execAction(connCtx, engine, message))
	}

	cancel()
	<-writerDone
}

func (h *ChatWebsocketHandler) reply(ctx context.Context, replies chan<- domain.WSResponse, writerDone <-chan struct{}, resp domain.WSResponse) {
	select {
	case replies <- resp:
	case <-writerDone:
	case <-ctx.Done():
	}
}

// writeLoop 單一 goroutine 負責所有寫入
func (h *ChatWebsocketHandler) writeLoop(ctx context.Context, conn *websocket.Conn, l *wsListener, replies <-chan domain.WSResponse, done chan<- struct{}) {
	defer close(done)
	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()

	for {
		var err error
		select {
		case s := <-l.snapshots:
			err = h.writeJSON(conn, snapshotResponse(domain.NotifySnapshot, s))
		case n := <-l.notices:
			err = h.writeJSON(conn, noticeResponse(n))
		case resp := <-replies:
			err = h.writeJSON(conn, resp)
		case <-ticker.C:
			err = conn.WriteControl(websocket.PingMessage, []byte("ping"), time.Now().Add(writeWait))
		case <-ctx.Done():
			return
		}
		if err != nil {
			logger.Log.Warn("websocket write", zap.Error(err))
			conn.Close()
			return
		}
	}
}

func (h *ChatWebsocketHandler) execAction(ctx context.Context, engine *SyncEngine, msg []byte) domain.WSResponse {
	var req domain.WSRequest
	if err := json.Unmarshal(msg, &req); err != nil {
		return errorResponse("", err)
	}

	var err error
	switch domain.Action(req.Action) {
	//切換聊天室
	case domain.SelectRoom:
		err = engine.SelectRoom(req.RoomID)

	//傳送訊息, 成功後由 messages 訂閱回傳
	case domain.SendMessage:
		sendCtx, cancel := context.WithTimeout(ctx, h.cfg.FetchTimeout)
		err = engine.Send(sendCtx, req.Content)
		cancel()

	case domain.Keystroke:
		err = engine.OnKeystroke()

	case domain.SetTyping:
		err = engine.SetTyping(req.IsTyping)

	case domain.GetSnapshot:
		return snapshotResponse(domain.GetSnapshot, engine.Snapshot())

	default:
		err = errors.New("unknown action")
	}

	if err != nil {
		logger.Log.Warn("websocket action", zap.String("user_id", engine.UserID()), zap.String("action", req.Action), zap.Error(err))
		return errorResponse(req.Action, err)
	}
	return domain.WSResponse{Action: req.Action, Success: true}
}

// writeJSON - 發送 JSON 給前端
func (h *ChatWebsocketHandler) writeJSON(conn *websocket.Conn, resp domain.WSResponse) error {
	b, err := json.Marshal(resp)
	if err != nil {
		return err
	}
	if err := conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
		return err
	}
	return conn.WriteMessage(websocket.TextMessage, b)
}

func errorResponse(action string, err error) domain.WSResponse {
	return domain.WSResponse{Action: action, Success: false, Error: err.Error()}
}

func snapshotResponse(action domain.Action, s Snapshot) domain.WSResponse {
	return domain.WSResponse{
		Action:  string(action),
		Success: true,
		Payload: map[string]interface{}{"snapshot": s},
	}
}

func noticeResponse(n domain.Notice) domain.WSResponse {
	payload := map[string]interface{}{
		"kind": n.Kind,
		"op":   n.Op,
	}
	if n.RoomID != "" {
		payload["room_id"] = n.RoomID
	}
	resp := domain.WSResponse{Action: string(domain.NotifyNotice), Success: false, Payload: payload}
	if n.Err != nil {
		resp.Error = n.Err.Error()
	}
	return resp
}
