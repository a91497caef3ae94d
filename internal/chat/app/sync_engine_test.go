package app

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"chat_sync_service/internal/chat/changebus"
	"chat_sync_service/internal/chat/domain"
	"chat_sync_service/internal/chat/repository"
	"chat_sync_service/pkg/config"
	"chat_sync_service/pkg/logger"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

const (
	waitFor = 2 * time.Second
	tickFor = 5 * time.Millisecond
)

type engineFixture struct {
	fs    *fakeStore
	bus   *changebus.MemoryBus
	store repository.Store
}

func newFixture(t *testing.T) *engineFixture {
	logger.SetNewNop()
	fs := newFakeStore()
	bus := changebus.NewMemoryBus()
	t.Cleanup(func() { bus.Close() })

	fs.addRoom("r0", "Random", t0)
	fs.addRoom("r1", "General", t0.Add(time.Minute))
	fs.addProfile("alice", "Alice", domain.StatusOffline)
	fs.addProfile("bob", "Bob", domain.StatusOffline)

	return &engineFixture{fs: fs, bus: bus, store: repository.NewPublishingStore(fs.store(), bus)}
}

func (f *engineFixture) engine(t *testing.T, userID string, opts ...Option) (*SyncEngine, *recordingListener) {
	l := &recordingListener{}
	base := []Option{
		WithNow(f.fs.now),
		WithConfig(config.SyncConfig{
			TypingIdleTimeout: 2 * time.Second,
			FetchTimeout:      2 * time.Second,
			StatusTimeout:     time.Second,
		}),
	}
	e := NewSyncEngine(userID, f.store, f.bus, l, append(base, opts...)...)
	t.Cleanup(e.Teardown)
	return e, l
}

// started engine with General selected and its room subscriptions live
func (f *engineFixture) startedEngine(t *testing.T, userID string, opts ...Option) (*SyncEngine, *recordingListener) {
	e, l := f.engine(t, userID, opts...)
	require.NoError(t, e.Start(context.Background()))
	require.Eventually(t, func() bool {
		s := e.Snapshot()
		return !s.Loading && s.SelectedRoomID == "r1" && f.fs.calls("messages:r1") > 0
	}, waitFor, tickFor)
	return e, l
}

func TestSyncEngine_StartSelectsGeneralAndResolvesAuthors(t *testing.T) {
	f := newFixture(t)
	f.fs.addMessage(domain.Message{ID: "m1", RoomID: "r1", UserID: "bob", Content: "hey", CreatedAt: t0})
	f.fs.addMessage(domain.Message{ID: "m2", RoomID: "r1", UserID: "ghost", Content: "boo", CreatedAt: t0.Add(time.Second)})

	e, _ := f.startedEngine(t, "alice")

	require.Eventually(t, func() bool {
		msgs := e.Snapshot().Messages
		return len(msgs) == 2 && msgs[0].Author != nil && msgs[1].Author != nil
	}, waitFor, tickFor)

	s := e.Snapshot()
	require.NotNil(t, s.SelectedRoom)
	assert.Equal(t, "General", s.SelectedRoom.Name)
	assert.Equal(t, []string{"r0", "r1"}, []string{s.Rooms[0].ID, s.Rooms[1].ID})
	assert.Equal(t, "Bob", s.Messages[0].DisplayName())
	assert.Equal(t, domain.UnknownUser, s.Messages[1].DisplayName())

	// session start 設定 online
	require.Eventually(t, func() bool {
		online := e.Snapshot().Online
		return len(online) == 1 && online[0].UserID == "alice"
	}, waitFor, tickFor)
	assert.Equal(t, domain.StatusOnline, f.fs.statusOf("alice"))
}

func TestSyncEngine_NoRoomsSelectsNothing(t *testing.T) {
	logger.SetNewNop()
	fs := newFakeStore()
	bus := changebus.NewMemoryBus()
	defer bus.Close()
	store := repository.NewPublishingStore(fs.store(), bus)

	e := NewSyncEngine("alice", store, bus, nil, WithNow(fs.now))
	defer e.Teardown()
	require.NoError(t, e.Start(context.Background()))

	require.Eventually(t, func() bool { return !e.Snapshot().Loading }, waitFor, tickFor)
	assert.Empty(t, e.Snapshot().SelectedRoomID)

	// room 建立後自動選擇
	require.NoError(t, store.Rooms.CreateRoom(context.Background(), &domain.Room{ID: "r9", Name: "Lobby"}))
	require.Eventually(t, func() bool { return e.Snapshot().SelectedRoomID == "r9" }, waitFor, tickFor)
}

func TestSyncEngine_SendOrderAcrossViewers(t *testing.T) {
	f := newFixture(t)
	a, _ := f.startedEngine(t, "alice")
	b, _ := f.startedEngine(t, "bob")

	require.NoError(t, a.Send(context.Background(), "hello"))
	f.fs.tick(time.Second)
	require.NoError(t, b.Send(context.Background(), "  hi  "))

	for _, e := range []*SyncEngine{a, b} {
		e := e
		require.Eventually(t, func() bool {
			return assert.ObjectsAreEqual([]string{"hello", "hi"}, contents(e.Snapshot().Messages))
		}, waitFor, tickFor)
	}
	msgs := a.Snapshot().Messages
	assert.Equal(t, "alice", msgs[0].UserID)
	assert.Equal(t, "bob", msgs[1].UserID)
	require.Eventually(t, func() bool {
		msgs := a.Snapshot().Messages
		return msgs[0].Author != nil && msgs[1].Author != nil
	}, waitFor, tickFor)
	assert.Equal(t, "Bob", a.Snapshot().Messages[1].DisplayName())
}

func TestSyncEngine_SendValidationNoWrite(t *testing.T) {
	logger.SetNewNop()
	msgRepo := new(MockMessageRepository)
	store := repository.Store{
		Rooms:    new(MockRoomRepository),
		Messages: msgRepo,
		Profiles: new(MockProfileRepository),
		Typing:   new(MockTypingRepository),
	}
	e := NewSyncEngine("alice", store, changebus.NewMemoryBus(), nil)
	defer e.Teardown()

	for _, content := range []string{"", "   ", "\n\t"} {
		err := e.Send(context.Background(), content)
		assert.ErrorIs(t, err, domain.ErrValidation)
		assert.ErrorIs(t, err, domain.ErrEmptyContent)
	}

	err := e.Send(context.Background(), "hello")
	assert.ErrorIs(t, err, domain.ErrNoRoomSelected)
	assert.ErrorIs(t, err, domain.ErrValidation)

	assert.ErrorIs(t, e.SelectRoom(""), domain.ErrValidation)
	msgRepo.AssertNotCalled(t, "Insert", mock.Anything, mock.Anything)
}

func TestSyncEngine_SendWriteFailure(t *testing.T) {
	f := newFixture(t)
	msgRepo := new(MockMessageRepository)
	msgRepo.On("ListByRoom", mock.Anything, "r1").Return([]domain.Message{}, nil)
	msgRepo.On("Insert", mock.Anything, domain.NewMessage{RoomID: "r1", UserID: "alice", Content: "hi"}).Return(nil, errBoom).Once()

	store := f.store
	store.Messages = msgRepo
	l := &recordingListener{}
	e := NewSyncEngine("alice", store, f.bus, l, WithNow(f.fs.now))
	defer e.Teardown()
	require.NoError(t, e.Start(context.Background()))
	require.Eventually(t, func() bool { return e.Snapshot().SelectedRoomID == "r1" }, waitFor, tickFor)

	err := e.Send(context.Background(), "  hi ")
	assert.ErrorIs(t, err, domain.ErrWriteFailure)
	assert.ErrorIs(t, err, errBoom)
	assert.Empty(t, e.Snapshot().Messages)
	msgRepo.AssertExpectations(t)
}

// A 的 fetch 在切到 B 之後才回來，結果必須丟棄
func TestSyncEngine_RoomSwitchFencesStaleFetch(t *testing.T) {
	f := newFixture(t)
	f.fs.addRoom("ra", "A", t0.Add(2*time.Minute))
	f.fs.addRoom("rb", "B", t0.Add(3*time.Minute))
	f.fs.addMessage(domain.Message{ID: "a1", RoomID: "ra", UserID: "bob", Content: "from A", CreatedAt: t0})
	f.fs.addMessage(domain.Message{ID: "b1", RoomID: "rb", UserID: "bob", Content: "from B", CreatedAt: t0})

	e, _ := f.startedEngine(t, "alice")
	releaseA := f.fs.gate("ra")
	defer releaseA()

	require.NoError(t, e.SelectRoom("ra"))
	require.Eventually(t, func() bool { return f.fs.calls("messages:ra") == 1 }, waitFor, tickFor)
	require.NoError(t, e.SelectRoom("rb"))

	require.Eventually(t, func() bool {
		s := e.Snapshot()
		return s.SelectedRoomID == "rb" && assert.ObjectsAreEqual([]string{"from B"}, contents(s.Messages))
	}, waitFor, tickFor)

	releaseA()
	require.Never(t, func() bool {
		for _, m := range e.Snapshot().Messages {
			if m.RoomID == "ra" {
				return true
			}
		}
		return false
	}, 200*time.Millisecond, tickFor)

	s := e.Snapshot()
	assert.Equal(t, "rb", s.SelectedRoomID)
	assert.GreaterOrEqual(t, s.Generation, uint64(3))
	require.Eventually(t, func() bool { return f.bus.Subscribers(domain.TopicMessages) == 1 }, waitFor, tickFor)
}

func TestSyncEngine_SelectSameRoomNoop(t *testing.T) {
	f := newFixture(t)
	e, _ := f.startedEngine(t, "alice")
	gen := e.Snapshot().Generation

	require.NoError(t, e.SelectRoom("r1"))
	assert.Equal(t, gen, e.Snapshot().Generation)
}

func TestSyncEngine_TypingAutoClearExactlyOnce(t *testing.T) {
	f := newFixture(t)
	e, _ := f.startedEngine(t, "alice", WithConfig(config.SyncConfig{
		TypingIdleTimeout: 50 * time.Millisecond,
		FetchTimeout:      2 * time.Second,
	}))

	require.NoError(t, e.OnKeystroke())
	require.NoError(t, e.OnKeystroke())
	require.NoError(t, e.OnKeystroke())

	require.Eventually(t, func() bool {
		return assert.ObjectsAreEqual([]bool{true, false}, f.fs.typingWritesOf("alice"))
	}, waitFor, tickFor)
	time.Sleep(150 * time.Millisecond)
	assert.Equal(t, []bool{true, false}, f.fs.typingWritesOf("alice"))
}

func TestSyncEngine_SendClearsTyping(t *testing.T) {
	f := newFixture(t)
	e, _ := f.startedEngine(t, "alice")

	require.NoError(t, e.OnKeystroke())
	require.NoError(t, e.Send(context.Background(), "done"))

	require.Eventually(t, func() bool {
		return assert.ObjectsAreEqual([]bool{true, false}, f.fs.typingWritesOf("alice"))
	}, waitFor, tickFor)
}

func TestSyncEngine_RemoteTypingExcludesSelf(t *testing.T) {
	f := newFixture(t)
	alice, _ := f.startedEngine(t, "alice")
	bob, _ := f.startedEngine(t, "bob")
	require.Eventually(t, func() bool { return f.bus.Subscribers(domain.TopicTypingIndicators) == 2 }, waitFor, tickFor)

	require.NoError(t, alice.OnKeystroke())
	require.NoError(t, bob.OnKeystroke())

	require.Eventually(t, func() bool {
		typing := alice.Snapshot().Typing
		return len(typing) == 1 && typing[0].UserID == "bob" && typing[0].DisplayName == "Bob"
	}, waitFor, tickFor)
	require.Eventually(t, func() bool {
		typing := bob.Snapshot().Typing
		return len(typing) == 1 && typing[0].UserID == "alice"
	}, waitFor, tickFor)

	require.NoError(t, bob.SetTyping(false))
	require.Eventually(t, func() bool { return len(alice.Snapshot().Typing) == 0 }, waitFor, tickFor)
}

// (online, t0) 之後 (offline, t0+100ms)：較晚送出的 fetch 勝出
func TestSyncEngine_PresenceLastWriteWins(t *testing.T) {
	f := newFixture(t)
	e, _ := f.startedEngine(t, "alice")
	require.Eventually(t, func() bool {
		return f.listOnlineCount() == 2 && presenceApplied(e) == 2
	}, waitFor, tickFor)

	release := make(chan struct{})
	var releaseOnce sync.Once
	unblock := func() { releaseOnce.Do(func() { close(release) }) }
	defer unblock()

	f.fs.mu.Lock()
	stale := f.fs.listOnlineN + 1
	f.fs.onListOnline = func(call int) {
		if call == stale {
			<-release
		}
	}
	f.fs.mu.Unlock()

	ctx := context.Background()
	t1 := t0.Add(time.Second)
	require.NoError(t, f.store.Profiles.UpdateStatus(ctx, "bob", domain.StatusOnline, t1))
	require.Eventually(t, func() bool { return f.listOnlineCount() == stale }, waitFor, tickFor)
	require.NoError(t, f.store.Profiles.UpdateStatus(ctx, "bob", domain.StatusOffline, t1.Add(100*time.Millisecond)))

	// 較新的 fetch 先套用，再放行舊的
	require.Eventually(t, func() bool { return presenceApplied(e) == uint64(stale+1) }, waitFor, tickFor)
	unblock()

	require.Never(t, func() bool {
		for _, p := range e.Snapshot().Online {
			if p.UserID == "bob" {
				return true
			}
		}
		return false
	}, 200*time.Millisecond, tickFor)
	assert.Equal(t, domain.StatusOffline, f.fs.statusOf("bob"))

	// 較舊的 online 寫入不會覆蓋
	require.NoError(t, f.store.Profiles.UpdateStatus(ctx, "bob", domain.StatusOnline, t1))
	assert.Equal(t, domain.StatusOffline, f.fs.statusOf("bob"))
}

func (f *engineFixture) listOnlineCount() int {
	f.fs.mu.Lock()
	defer f.fs.mu.Unlock()
	return f.fs.listOnlineN
}

// presenceApplied sequence of the last applied presence fetch, read on the loop
func presenceApplied(e *SyncEngine) uint64 {
	var applied uint64
	_ = e.call(func() error {
		applied = e.presence.fence.applied
		return nil
	})
	return applied
}

func TestSyncEngine_IncompleteEventRefetches(t *testing.T) {
	f := newFixture(t)
	e, _ := f.startedEngine(t, "alice")
	require.Eventually(t, func() bool { return f.bus.Subscribers(domain.TopicMessages) == 1 }, waitFor, tickFor)
	before := f.fs.calls("messages:r1")

	f.fs.addMessage(domain.Message{ID: "x1", RoomID: "r1", UserID: "bob", Content: "quiet", CreatedAt: t0})
	require.NoError(t, f.bus.Publish(context.Background(), domain.ChangeEvent{
		Topic:  domain.TopicMessages,
		Change: domain.ChangeInsert,
		RoomID: "r1",
	}))

	require.Eventually(t, func() bool {
		return assert.ObjectsAreEqual([]string{"quiet"}, contents(e.Snapshot().Messages))
	}, waitFor, tickFor)
	assert.Greater(t, f.fs.calls("messages:r1"), before)
}

func TestSyncEngine_AuthorFailureFallsBackUntilReload(t *testing.T) {
	f := newFixture(t)
	f.fs.mu.Lock()
	f.fs.profileErr["bob"] = errBoom
	f.fs.mu.Unlock()
	f.fs.addMessage(domain.Message{ID: "m1", RoomID: "r1", UserID: "bob", Content: "hey", CreatedAt: t0})

	e, _ := f.startedEngine(t, "alice")
	require.Eventually(t, func() bool {
		msgs := e.Snapshot().Messages
		return len(msgs) == 1 && msgs[0].Author != nil
	}, waitFor, tickFor)
	assert.Equal(t, domain.UnknownUser, e.Snapshot().Messages[0].DisplayName())

	f.fs.mu.Lock()
	delete(f.fs.profileErr, "bob")
	f.fs.mu.Unlock()

	// 完整重新載入後才重新解析
	require.NoError(t, f.bus.Publish(context.Background(), domain.ChangeEvent{
		Topic:  domain.TopicMessages,
		Change: domain.ChangeInsert,
		RoomID: "r1",
	}))
	require.Eventually(t, func() bool {
		msgs := e.Snapshot().Messages
		return len(msgs) == 1 && msgs[0].DisplayName() == "Bob"
	}, waitFor, tickFor)
}

func TestSyncEngine_FetchFailureKeepsSnapshot(t *testing.T) {
	f := newFixture(t)
	e, l := f.startedEngine(t, "alice")
	rooms := e.Snapshot().Rooms

	f.fs.mu.Lock()
	f.fs.listRoomsErr = errBoom
	f.fs.mu.Unlock()
	require.NoError(t, f.bus.Publish(context.Background(), domain.ChangeEvent{Topic: domain.TopicRooms, Change: domain.ChangeUpdate}))

	require.Eventually(t, func() bool { return len(l.noticesOf(domain.NoticeFetchFailure)) == 1 }, waitFor, tickFor)
	n := l.noticesOf(domain.NoticeFetchFailure)[0]
	assert.ErrorIs(t, n, domain.ErrFetchFailure)
	assert.ErrorIs(t, n, errBoom)
	assert.Equal(t, rooms, e.Snapshot().Rooms)
}

func TestSyncEngine_ChannelDroppedGoesOfflineAndReconnects(t *testing.T) {
	f := newFixture(t)
	e, l := f.startedEngine(t, "alice")
	require.Eventually(t, func() bool { return f.fs.statusOf("alice") == domain.StatusOnline }, waitFor, tickFor)

	f.fs.tick(time.Second)
	f.bus.Drop(domain.TopicProfiles, errors.New("connection reset"))

	require.Eventually(t, func() bool { return len(l.noticesOf(domain.NoticeChannelDropped)) == 1 }, waitFor, tickFor)
	assert.ErrorIs(t, l.noticesOf(domain.NoticeChannelDropped)[0], domain.ErrChannelDropped)
	require.Eventually(t, func() bool { return f.fs.statusOf("alice") == domain.StatusOffline }, waitFor, tickFor)

	// engine 仍可操作
	require.NoError(t, e.OnKeystroke())
	assert.Equal(t, "r1", e.Snapshot().SelectedRoomID)

	f.fs.tick(time.Second)
	require.NoError(t, e.Reconnect(context.Background()))
	require.Eventually(t, func() bool { return f.fs.statusOf("alice") == domain.StatusOnline }, waitFor, tickFor)
	assert.Equal(t, 1, f.bus.Subscribers(domain.TopicProfiles))
	assert.Equal(t, 1, f.bus.Subscribers(domain.TopicRooms))
	require.Eventually(t, func() bool { return f.bus.Subscribers(domain.TopicMessages) == 1 }, waitFor, tickFor)
}

func TestSyncEngine_TeardownIdempotent(t *testing.T) {
	f := newFixture(t)
	e, _ := f.startedEngine(t, "alice")
	require.Eventually(t, func() bool { return f.bus.Subscribers(domain.TopicTypingIndicators) == 1 }, waitFor, tickFor)
	require.NoError(t, e.OnKeystroke())

	f.fs.tick(time.Second)
	e.Teardown()
	e.Teardown()

	assert.Equal(t, domain.StatusOffline, f.fs.statusOf("alice"))
	assert.Equal(t, []bool{true, false}, f.fs.typingWritesOf("alice"))
	for _, topic := range domain.Topics {
		assert.Equal(t, 0, f.bus.Subscribers(topic), topic)
	}

	assert.ErrorIs(t, e.SelectRoom("r0"), domain.ErrEngineClosed)
	assert.ErrorIs(t, e.OnKeystroke(), domain.ErrEngineClosed)
	assert.ErrorIs(t, e.Send(context.Background(), "late"), domain.ErrEngineClosed)
	assert.Equal(t, 0, f.fs.insertCount())
	assert.Equal(t, "r1", e.Snapshot().SelectedRoomID)
}

func TestSyncEngine_TeardownBeforeStart(t *testing.T) {
	f := newFixture(t)
	e, _ := f.engine(t, "alice")

	e.Teardown()
	assert.ErrorIs(t, e.Start(context.Background()), domain.ErrEngineClosed)
	assert.Equal(t, domain.StatusOffline, f.fs.statusOf("alice"))
	for _, topic := range domain.Topics {
		assert.Equal(t, 0, f.bus.Subscribers(topic), topic)
	}
}
