package app

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"chat_sync_service/internal/chat/changebus"
	"chat_sync_service/internal/chat/domain"
	"chat_sync_service/internal/chat/repository"
	"chat_sync_service/pkg"
	"chat_sync_service/pkg/config"
	"chat_sync_service/pkg/logger"

	"go.uber.org/zap"
)

// Snapshot read-only view handed to the presentation layer
type Snapshot struct {
	Loading        bool                     `json:"loading"`
	Rooms          []domain.Room            `json:"rooms"`
	SelectedRoomID string                   `json:"selected_room_id,omitempty"`
	SelectedRoom   *domain.Room             `json:"selected_room,omitempty"`
	Messages       []domain.Message         `json:"messages"`
	Online         []domain.Profile         `json:"online"`
	Typing         []domain.TypingIndicator `json:"typing"`
	Generation     uint64                   `json:"generation"`
}

// Listener receives snapshots and notices on the engine's event loop.
// Implementations must not block and must not call back into the engine
// synchronously.
type Listener interface {
	OnSnapshot(s Snapshot)
	OnNotice(n domain.Notice)
}

type nopListener struct{}

func (nopListener) OnSnapshot(Snapshot)    {}
func (nopListener) OnNotice(domain.Notice) {}

// Option configure SyncEngine
type Option func(*SyncEngine)

// WithConfig timeouts and queue size
func WithConfig(cfg config.SyncConfig) Option {
	return func(e *SyncEngine) {
		e.cfg = cfg.WithDefaults()
	}
}

// WithScheduler replace the timer used by the typing auto-clear
func WithScheduler(s func(d time.Duration, fn func()) (cancel func())) Option {
	return func(e *SyncEngine) {
		e.schedule = s
	}
}

// WithNow replace the clock used to stamp writes
func WithNow(now func() time.Time) Option {
	return func(e *SyncEngine) {
		e.now = now
	}
}

// SyncEngine keeps one viewer's local view of rooms, messages, presence and
// typing consistent with the store. Every cache is owned by a single event
// loop goroutine; store and bus I/O runs on workers that post results back
// to the loop.
type SyncEngine struct {
	userID   string
	store    repository.Store
	bus      changebus.Bus
	listener Listener
	cfg      config.SyncConfig
	now      func() time.Time
	schedule func(d time.Duration, fn func()) (cancel func())
	log      *logger.LogInfo

	queue    chan func()
	quit     chan struct{}
	loopDone chan struct{}
	ctx      context.Context
	cancel   context.CancelFunc
	wg       sync.WaitGroup

	started      atomic.Bool
	teardownOnce sync.Once
	snapshot     atomic.Value

	writer *typingWriter

	// event loop state
	directory  *RoomDirectory
	messages   *MessageCache
	resolver   *ProfileResolver
	presence   *PresenceTracker
	typing     *TypingCoordinator
	selected   string
	generation uint64
	globalSubs []changebus.Subscription
	roomSubs   []changebus.Subscription
	loadRooms  bool
	loadOnline bool
	dropped    bool
	closed     bool
}

// NewSyncEngine create SyncEngine for userID. The event loop starts
// immediately, Start binds it to the store and the bus.
func NewSyncEngine(userID string, store repository.Store, bus changebus.Bus, listener Listener, opts ...Option) *SyncEngine {
	e := &SyncEngine{
		userID:   userID,
		store:    store,
		bus:      bus,
		listener: listener,
		cfg:      config.SyncConfig{}.WithDefaults(),
		now:      time.Now,
		loopDone: make(chan struct{}),
		quit:     make(chan struct{}),
	}
	if e.listener == nil {
		e.listener = nopListener{}
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.schedule == nil {
		e.schedule = e.afterFunc
	}

	e.log = logger.Log.With(zap.String("user_id", userID))
	e.queue = make(chan func(), e.cfg.QueueSize)
	e.ctx, e.cancel = context.WithCancel(context.Background())

	e.directory = NewRoomDirectory(store.Rooms)
	e.messages = NewMessageCache()
	e.resolver = NewProfileResolver()
	e.presence = NewPresenceTracker(userID, store.Profiles)
	e.writer = newTypingWriter(store.Typing, e.cfg.FetchTimeout, e.cfg.QueueSize, e.onTypingWriteError)
	e.typing = NewTypingCoordinator(userID, e.cfg.TypingIdleTimeout, e.schedule, e.publishTyping)
	e.snapshot.Store(Snapshot{})

	go e.run()
	return e
}

// UserID viewer bound to the engine
func (e *SyncEngine) UserID() string {
	return e.userID
}

func (e *SyncEngine) run() {
	defer close(e.loopDone)
	for {
		select {
		case fn := <-e.queue:
			fn()
		case <-e.quit:
			return
		}
	}
}

// post queue fn on the loop, false once the loop is gone
func (e *SyncEngine) post(fn func()) bool {
	select {
	case e.queue <- fn:
		return true
	case <-e.quit:
		return false
	}
}

// call run fn on the loop and wait for its result
func (e *SyncEngine) call(fn func() error) error {
	res := make(chan error, 1)
	ok := e.post(func() {
		if e.closed {
			res <- domain.ErrEngineClosed
			return
		}
		res <- fn()
	})
	if !ok {
		return domain.ErrEngineClosed
	}
	select {
	case err := <-res:
		return err
	case <-e.loopDone:
		return domain.ErrEngineClosed
	}
}

// goWork run fn on a worker with the fetch timeout. Loop only.
func (e *SyncEngine) goWork(fn func(ctx context.Context)) {
	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		ctx, cancel := context.WithTimeout(e.ctx, e.cfg.FetchTimeout)
		defer cancel()
		fn(ctx)
	}()
}

func (e *SyncEngine) afterFunc(d time.Duration, fn func()) func() {
	t := time.AfterFunc(d, func() {
		e.post(fn)
	})
	return func() { t.Stop() }
}

// Start subscribe the global topics, fetch rooms and presence and mark the
// viewer online
func (e *SyncEngine) Start(ctx context.Context) error {
	if !e.started.CompareAndSwap(false, true) {
		return errors.New("sync engine already started")
	}

	subs, err := e.subscribeGlobal(ctx)
	if err != nil {
		return err
	}

	err = e.call(func() error {
		e.globalSubs = subs
		e.loadRooms, e.loadOnline = true, true
		e.refreshRooms()
		e.refreshPresence()
		e.setStatus(domain.StatusOnline)
		e.publishSnapshot()
		return nil
	})
	if err != nil {
		unsubscribeAll(subs)
		return err
	}
	e.log.Info("sync engine started")
	return nil
}

func (e *SyncEngine) subscribeGlobal(ctx context.Context) ([]changebus.Subscription, error) {
	rooms, err := e.bus.Subscribe(ctx, domain.TopicRooms, domain.Filter{Change: domain.ChangeAny}, e.onRoomEvent, e.onDrop)
	if err != nil {
		return nil, fmt.Errorf("%w: subscribe %s: %w", domain.ErrChannelDropped, domain.TopicRooms, err)
	}
	profiles, err := e.bus.Subscribe(ctx, domain.TopicProfiles, domain.Filter{Change: domain.ChangeAny}, e.onProfileEvent, e.onDrop)
	if err != nil {
		unsubscribeAll([]changebus.Subscription{rooms})
		return nil, fmt.Errorf("%w: subscribe %s: %w", domain.ErrChannelDropped, domain.TopicProfiles, err)
	}
	return []changebus.Subscription{rooms, profiles}, nil
}

// SelectRoom switch the selected room. Selecting the current room is a no-op.
func (e *SyncEngine) SelectRoom(roomID string) error {
	if pkg.IsBlank(roomID) {
		return fmt.Errorf("%w: room id is empty", domain.ErrValidation)
	}
	return e.call(func() error {
		e.selectRoom(roomID)
		return nil
	})
}

// Send validate and write a message to the selected room. The message is not
// appended locally, it shows up through the messages subscription.
func (e *SyncEngine) Send(ctx context.Context, content string) error {
	trimmed, err := domain.ValidateContent(content)
	if err != nil {
		return err
	}

	var roomID string
	if err := e.call(func() error {
		roomID = e.selected
		return nil
	}); err != nil {
		return err
	}
	if roomID == "" {
		return domain.ErrNoRoomSelected
	}

	if _, err := e.store.Messages.Insert(ctx, domain.NewMessage{
		RoomID:  roomID,
		UserID:  e.userID,
		Content: trimmed,
	}); err != nil {
		e.log.Error("send message", zap.String("room_id", roomID), zap.Error(err))
		return fmt.Errorf("%w: insert message: %w", domain.ErrWriteFailure, err)
	}

	e.post(func() {
		if !e.closed && e.typing.RoomID() == roomID {
			e.typing.MessageSent()
		}
	})
	return nil
}

// OnKeystroke local keystroke in the selected room
func (e *SyncEngine) OnKeystroke() error {
	return e.call(func() error {
		e.typing.Keystroke()
		return nil
	})
}

// SetTyping explicit typing flag, false clears immediately
func (e *SyncEngine) SetTyping(isTyping bool) error {
	return e.call(func() error {
		e.typing.Set(isTyping)
		return nil
	})
}

// Snapshot latest published snapshot
func (e *SyncEngine) Snapshot() Snapshot {
	return e.snapshot.Load().(Snapshot)
}

// Reconnect drop every subscription and subscribe again, then refetch all
// caches. Used by the caller after a ChannelDropped notice.
func (e *SyncEngine) Reconnect(ctx context.Context) error {
	if !e.started.Load() {
		return errors.New("sync engine not started")
	}

	var old []changebus.Subscription
	if err := e.call(func() error {
		old = append(append(old, e.globalSubs...), e.roomSubs...)
		e.globalSubs, e.roomSubs = nil, nil
		return nil
	}); err != nil {
		return err
	}
	unsubscribeAll(old)

	subs, err := e.subscribeGlobal(ctx)
	if err != nil {
		return err
	}
	err = e.call(func() error {
		e.globalSubs = subs
		e.dropped = false
		e.resolver.Reset()
		e.refreshRooms()
		e.refreshPresence()
		if e.selected != "" {
			e.switchRoom(e.selected)
		}
		e.setStatus(domain.StatusOnline)
		return nil
	})
	if err != nil {
		unsubscribeAll(subs)
		return err
	}
	e.log.Info("sync engine reconnected")
	return nil
}

// Teardown release every subscription, cancel timers and set the viewer
// offline. Safe to call more than once and before Start.
func (e *SyncEngine) Teardown() {
	e.teardownOnce.Do(func() {
		var subs []changebus.Subscription
		_ = e.call(func() error {
			e.closed = true
			e.typing.Stop()
			subs = append(append(subs, e.globalSubs...), e.roomSubs...)
			e.globalSubs, e.roomSubs = nil, nil
			return nil
		})
		close(e.quit)
		<-e.loopDone

		unsubscribeAll(subs)
		e.writer.Close()
		e.cancel()
		e.wg.Wait()

		if e.started.Load() {
			ctx, cancel := context.WithTimeout(context.Background(), e.cfg.StatusTimeout)
			defer cancel()
			if err := e.presence.SetStatus(ctx, domain.StatusOffline, e.now()); err != nil {
				e.log.Warn("set status offline", zap.Error(err))
			}
		}
		e.log.Info("sync engine teardown")
	})
}

// selectRoom loop only
func (e *SyncEngine) selectRoom(roomID string) {
	if roomID == e.selected {
		return
	}
	e.switchRoom(roomID)
}

// switchRoom bump the generation, drop the old room's state and subscribe
// the new room before fetching it. Loop only.
func (e *SyncEngine) switchRoom(roomID string) {
	e.generation++
	gen := e.generation

	e.typing.SwitchRoom(roomID)
	e.selected = roomID
	e.messages.Reset(roomID)

	if old := e.roomSubs; len(old) > 0 {
		e.roomSubs = nil
		e.goWork(func(context.Context) { unsubscribeAll(old) })
	}
	e.publishSnapshot()

	e.goWork(func(ctx context.Context) {
		subs, err := e.subscribeRoom(ctx, gen, roomID)
		ok := e.post(func() {
			if e.closed || gen != e.generation {
				if len(subs) > 0 {
					e.goWork(func(context.Context) { unsubscribeAll(subs) })
				}
				return
			}
			if err != nil {
				e.channelDropped(domain.TopicMessages, err)
			} else {
				e.roomSubs = subs
			}
			e.loadRoom()
			e.refreshTyping()
		})
		if !ok {
			unsubscribeAll(subs)
		}
	})
}

func (e *SyncEngine) subscribeRoom(ctx context.Context, gen uint64, roomID string) ([]changebus.Subscription, error) {
	msgs, err := e.bus.Subscribe(ctx, domain.TopicMessages,
		domain.Filter{Change: domain.ChangeInsert, RoomID: roomID},
		func(evt domain.ChangeEvent) {
			e.post(func() { e.onMessageEvent(gen, evt) })
		}, e.onDrop)
	if err != nil {
		return nil, fmt.Errorf("%w: subscribe %s: %w", domain.ErrChannelDropped, domain.TopicMessages, err)
	}
	typing, err := e.bus.Subscribe(ctx, domain.TopicTypingIndicators,
		domain.Filter{Change: domain.ChangeAny, RoomID: roomID},
		func(evt domain.ChangeEvent) {
			e.post(func() {
				if gen == e.generation && !e.closed {
					e.refreshTyping()
				}
			})
		}, e.onDrop)
	if err != nil {
		unsubscribeAll([]changebus.Subscription{msgs})
		return nil, fmt.Errorf("%w: subscribe %s: %w", domain.ErrChannelDropped, domain.TopicTypingIndicators, err)
	}
	return []changebus.Subscription{msgs, typing}, nil
}

func (e *SyncEngine) onRoomEvent(domain.ChangeEvent) {
	e.post(func() {
		if !e.closed {
			e.refreshRooms()
		}
	})
}

func (e *SyncEngine) onProfileEvent(evt domain.ChangeEvent) {
	e.post(func() {
		if e.closed {
			return
		}
		if evt.UserID != "" {
			e.resolver.Forget(evt.UserID)
		} else {
			e.resolver.Reset()
		}
		e.refreshPresence()
	})
}

// onMessageEvent merge a complete insert record, refetch the room otherwise
func (e *SyncEngine) onMessageEvent(gen uint64, evt domain.ChangeEvent) {
	if e.closed || gen != e.generation {
		return
	}
	msg, ok := evt.DecodeMessage()
	if !ok || msg.RoomID != e.selected {
		e.log.Debug("incomplete message event, refetching room", zap.String("room_id", e.selected))
		e.loadRoom()
		return
	}
	msg.Author = nil
	if e.messages.ApplyInsert(msg) {
		e.resolveAuthors()
		e.publishSnapshot()
	}
}

func (e *SyncEngine) onDrop(topic domain.Topic, err error) {
	e.post(func() {
		e.channelDropped(topic, err)
	})
}

// channelDropped report the drop and give up the online status once
func (e *SyncEngine) channelDropped(topic domain.Topic, err error) {
	if e.closed {
		return
	}
	e.notice(domain.NoticeChannelDropped, "subscribe "+string(topic), e.selected, err)
	if e.dropped {
		return
	}
	e.dropped = true
	e.setStatus(domain.StatusOffline)
}

func (e *SyncEngine) refreshRooms() {
	seq := e.directory.begin()
	e.goWork(func(ctx context.Context) {
		rooms, err := e.directory.ListRooms(ctx)
		e.post(func() {
			if e.closed {
				return
			}
			e.loadRooms = false
			if err != nil {
				e.notice(domain.NoticeFetchFailure, "list rooms", "", err)
				e.publishSnapshot()
				return
			}
			if e.directory.apply(seq, rooms) && e.selected == "" {
				if def := PickDefault(rooms); def != nil {
					e.selectRoom(def.ID)
				}
			}
			e.publishSnapshot()
		})
	})
}

func (e *SyncEngine) refreshPresence() {
	seq := e.presence.begin()
	e.goWork(func(ctx context.Context) {
		profiles, err := e.presence.ListOnline(ctx)
		e.post(func() {
			if e.closed {
				return
			}
			e.loadOnline = false
			if err != nil {
				e.notice(domain.NoticeFetchFailure, "list online", "", err)
				e.publishSnapshot()
				return
			}
			e.presence.apply(seq, profiles)
			e.publishSnapshot()
		})
	})
}

// loadRoom full fetch of the selected room, fenced by the generation
func (e *SyncEngine) loadRoom() {
	gen, roomID := e.generation, e.selected
	if roomID == "" {
		return
	}
	e.goWork(func(ctx context.Context) {
		msgs, err := e.store.Messages.ListByRoom(ctx, roomID)
		e.post(func() {
			if e.closed || gen != e.generation {
				return
			}
			if err != nil {
				e.notice(domain.NoticeFetchFailure, "list messages", roomID,
					fmt.Errorf("%w: %w", domain.ErrFetchFailure, err))
				return
			}
			e.messages.Load(roomID, msgs)
			e.resolveAuthors()
			e.publishSnapshot()
		})
	})
}

// resolveAuthors attach memoized authors and look up the rest on a worker
func (e *SyncEngine) resolveAuthors() {
	e.messages.AttachAuthors(e.resolver.Lookup)
	ids := e.resolver.claim(e.messages.MissingAuthors())
	if len(ids) == 0 {
		return
	}
	gen := e.generation
	e.goWork(func(ctx context.Context) {
		res := lookupAuthors(ctx, e.store.Profiles, ids)
		e.post(func() {
			e.resolver.settle(ids)
			for id, a := range res.resolved {
				e.resolver.Store(id, a)
			}
			if e.closed {
				return
			}
			changed := e.messages.AttachAuthors(e.resolver.Lookup) > 0
			if len(res.failed) > 0 {
				e.log.Warn("profile lookup", zap.Strings("user_ids", res.failed), zap.Error(res.err))
				if gen == e.generation {
					changed = e.messages.AttachFallback(res.failed) > 0 || changed
				}
			}
			// ids that showed up while this lookup was in flight
			e.resolveAuthors()
			if changed {
				e.publishSnapshot()
			}
		})
	})
}

// refreshTyping fetch the remote typing view of the selected room
func (e *SyncEngine) refreshTyping() {
	gen, roomID := e.generation, e.selected
	if roomID == "" {
		return
	}
	seq := e.typing.beginRemote()
	known := e.resolver.Known()
	e.goWork(func(ctx context.Context) {
		rows, err := e.store.Typing.ListTyping(ctx, roomID, e.userID)
		var res authorLookup
		if err == nil {
			var missing []string
			for _, r := range rows {
				if _, ok := known[r.UserID]; !ok {
					missing = append(missing, r.UserID)
				}
			}
			res = lookupAuthors(ctx, e.store.Profiles, missing)
			for i := range rows {
				if a, ok := known[rows[i].UserID]; ok {
					rows[i].DisplayName = a.DisplayName
				} else if a, ok := res.resolved[rows[i].UserID]; ok {
					rows[i].DisplayName = a.DisplayName
				} else {
					rows[i].DisplayName = domain.UnknownUser
				}
			}
		}
		e.post(func() {
			for id, a := range res.resolved {
				e.resolver.Store(id, a)
			}
			if e.closed || gen != e.generation {
				return
			}
			if err != nil {
				e.notice(domain.NoticeFetchFailure, "list typing", roomID,
					fmt.Errorf("%w: %w", domain.ErrFetchFailure, err))
				return
			}
			if e.typing.applyRemote(seq, rows) {
				e.publishSnapshot()
			}
		})
	})
}

// publishTyping hand a typing flag to the serial writer. Loop only.
func (e *SyncEngine) publishTyping(roomID string, isTyping bool) {
	if roomID == "" {
		return
	}
	ind := domain.TypingIndicator{
		RoomID:    roomID,
		UserID:    e.userID,
		IsTyping:  isTyping,
		UpdatedAt: e.now(),
	}
	if !e.writer.enqueue(ind) {
		e.log.Warn("typing write dropped", zap.String("room_id", roomID), zap.Bool("is_typing", isTyping))
	}
}

func (e *SyncEngine) onTypingWriteError(ind domain.TypingIndicator, err error) {
	e.post(func() {
		if !e.closed {
			e.notice(domain.NoticeWriteFailure, "upsert typing", ind.RoomID,
				fmt.Errorf("%w: %w", domain.ErrWriteFailure, err))
		}
	})
}

// setStatus best-effort status write, failure is reported and not retried
func (e *SyncEngine) setStatus(status domain.ProfileStatus) {
	at := e.now()
	e.goWork(func(context.Context) {
		ctx, cancel := context.WithTimeout(e.ctx, e.cfg.StatusTimeout)
		defer cancel()
		if err := e.presence.SetStatus(ctx, status, at); err != nil {
			e.post(func() {
				if !e.closed {
					e.notice(domain.NoticeWriteFailure, "set status "+string(status), "", err)
				}
			})
		}
	})
}

func (e *SyncEngine) notice(kind domain.NoticeKind, op, roomID string, err error) {
	n := domain.Notice{Kind: kind, Op: op, RoomID: roomID, Err: err}
	e.log.Warn("sync notice",
		zap.String("kind", string(kind)),
		zap.String("op", op),
		zap.String("room_id", roomID),
		zap.Error(err),
	)
	e.listener.OnNotice(n)
}

func (e *SyncEngine) publishSnapshot() {
	s := Snapshot{
		Loading:        e.loadRooms || e.loadOnline,
		Rooms:          e.directory.Rooms(),
		SelectedRoomID: e.selected,
		SelectedRoom:   e.directory.Find(e.selected),
		Messages:       e.messages.Messages(),
		Online:         e.presence.Online(),
		Typing:         e.typing.Remote(),
		Generation:     e.generation,
	}
	e.snapshot.Store(s)
	e.listener.OnSnapshot(s)
}

func unsubscribeAll(subs []changebus.Subscription) {
	for _, s := range subs {
		if s == nil {
			continue
		}
		if err := s.Unsubscribe(); err != nil {
			logger.Log.Warn("unsubscribe", zap.String("topic", string(s.Topic())), zap.Error(err))
		}
	}
}
