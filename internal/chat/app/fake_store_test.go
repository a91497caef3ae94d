package app

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"chat_sync_service/internal/chat/domain"
	"chat_sync_service/internal/chat/repository"
)

// fakeStore in-memory authority with the durable store's ordering and
// conflict rules, wrapped by repository.NewPublishingStore in tests
type fakeStore struct {
	mu       sync.Mutex
	clock    time.Time
	seq      int
	rooms    []domain.Room
	messages map[string][]domain.Message
	profiles map[string]domain.Profile
	typing   map[string]domain.TypingIndicator

	statusWrites []statusWrite
	typingWrites []domain.TypingIndicator
	inserts      []domain.NewMessage
	listCalls    map[string]int

	roomGates     map[string]chan struct{}
	onListOnline  func(call int)
	listOnlineN   int
	profileErr    map[string]error
	listRoomsErr  error
	listByRoomErr error
}

type statusWrite struct {
	userID string
	status domain.ProfileStatus
	at     time.Time
}

var t0 = time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

func newFakeStore() *fakeStore {
	return &fakeStore{
		clock:      t0,
		messages:   map[string][]domain.Message{},
		profiles:   map[string]domain.Profile{},
		typing:     map[string]domain.TypingIndicator{},
		listCalls:  map[string]int{},
		roomGates:  map[string]chan struct{}{},
		profileErr: map[string]error{},
	}
}

func (s *fakeStore) store() repository.Store {
	return repository.Store{Rooms: s, Messages: s, Profiles: s, Typing: s}
}

// tick advance the fake clock and return the new time
func (s *fakeStore) tick(d time.Duration) time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.clock = s.clock.Add(d)
	return s.clock
}

func (s *fakeStore) now() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.clock
}

func (s *fakeStore) addRoom(id, name string, at time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rooms = append(s.rooms, domain.Room{ID: id, Name: name, Kind: domain.RoomKindPublic, CreatedAt: at, UpdatedAt: at})
}

func (s *fakeStore) addProfile(userID, name string, status domain.ProfileStatus) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := name
	s.profiles[userID] = domain.Profile{ID: "p-" + userID, UserID: userID, DisplayName: &n, Status: status, CreatedAt: t0, UpdatedAt: t0}
}

func (s *fakeStore) addMessage(m domain.Message) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.messages[m.RoomID] = append(s.messages[m.RoomID], m)
}

// gate block ListByRoom of roomID until the returned func is called
func (s *fakeStore) gate(roomID string) func() {
	ch := make(chan struct{})
	s.mu.Lock()
	s.roomGates[roomID] = ch
	s.mu.Unlock()
	var once sync.Once
	return func() { once.Do(func() { close(ch) }) }
}

func (s *fakeStore) calls(op string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.listCalls[op]
}

func (s *fakeStore) statusOf(userID string) domain.ProfileStatus {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.profiles[userID].Status
}

func (s *fakeStore) typingWritesOf(userID string) []bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []bool
	for _, w := range s.typingWrites {
		if w.UserID == userID {
			out = append(out, w.IsTyping)
		}
	}
	return out
}

func (s *fakeStore) insertCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.inserts)
}

func (s *fakeStore) ListRooms(ctx context.Context) ([]domain.Room, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.listCalls["rooms"]++
	if s.listRoomsErr != nil {
		return nil, s.listRoomsErr
	}
	out := append([]domain.Room(nil), s.rooms...)
	sort.SliceStable(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (s *fakeStore) CreateRoom(ctx context.Context, room *domain.Room) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if room.ID == "" {
		s.seq++
		room.ID = fmt.Sprintf("room-%d", s.seq)
	}
	room.CreatedAt, room.UpdatedAt = s.clock, s.clock
	s.rooms = append(s.rooms, *room)
	return nil
}

func (s *fakeStore) FindByName(ctx context.Context, name string) (*domain.Room, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, r := range s.rooms {
		if r.Name == name {
			room := r
			return &room, nil
		}
	}
	return nil, domain.ErrNotFound
}

func (s *fakeStore) ListByRoom(ctx context.Context, roomID string) ([]domain.Message, error) {
	s.mu.Lock()
	s.listCalls["messages:"+roomID]++
	gate := s.roomGates[roomID]
	err := s.listByRoomErr
	out := append([]domain.Message(nil), s.messages[roomID]...)
	s.mu.Unlock()

	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if err != nil {
		return nil, err
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Before(out[j]) })
	return out, nil
}

func (s *fakeStore) Insert(ctx context.Context, in domain.NewMessage) (*domain.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.inserts = append(s.inserts, in)
	s.seq++
	m := domain.Message{
		ID:        fmt.Sprintf("m%06d", s.seq),
		RoomID:    in.RoomID,
		UserID:    in.UserID,
		Content:   in.Content,
		CreatedAt: s.clock,
	}
	s.messages[in.RoomID] = append(s.messages[in.RoomID], m)
	return &m, nil
}

func (s *fakeStore) FindByUserID(ctx context.Context, userID string) (*domain.Profile, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.profileErr[userID]; err != nil {
		return nil, err
	}
	p, ok := s.profiles[userID]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return &p, nil
}

func (s *fakeStore) ListOnline(ctx context.Context) ([]domain.Profile, error) {
	s.mu.Lock()
	s.listOnlineN++
	call := s.listOnlineN
	hook := s.onListOnline
	var out []domain.Profile
	for _, p := range s.profiles {
		if p.Status == domain.StatusOnline {
			out = append(out, p)
		}
	}
	s.mu.Unlock()

	sort.Slice(out, func(i, j int) bool {
		if out[i].Name() != out[j].Name() {
			return out[i].Name() < out[j].Name()
		}
		return out[i].UserID < out[j].UserID
	})
	if hook != nil {
		hook(call)
	}
	return out, nil
}

// UpdateStatus last-write-wins on updated_at
func (s *fakeStore) UpdateStatus(ctx context.Context, userID string, status domain.ProfileStatus, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.statusWrites = append(s.statusWrites, statusWrite{userID: userID, status: status, at: at})
	p, ok := s.profiles[userID]
	if !ok {
		return domain.ErrNotFound
	}
	if at.Before(p.UpdatedAt) {
		return nil
	}
	p.Status, p.UpdatedAt = status, at
	s.profiles[userID] = p
	return nil
}

func (s *fakeStore) Upsert(ctx context.Context, ind domain.TypingIndicator) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.typingWrites = append(s.typingWrites, ind)
	s.typing[ind.RoomID+"/"+ind.UserID] = ind
	return nil
}

func (s *fakeStore) ListTyping(ctx context.Context, roomID, excludeUserID string) ([]domain.TypingIndicator, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []domain.TypingIndicator
	for _, t := range s.typing {
		if t.RoomID == roomID && t.IsTyping && t.UserID != excludeUserID {
			out = append(out, t)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UpdatedAt.Before(out[j].UpdatedAt) })
	return out, nil
}

// recordingListener collects everything the engine reports
type recordingListener struct {
	mu        sync.Mutex
	snapshots int
	last      Snapshot
	notices   []domain.Notice
}

func (l *recordingListener) OnSnapshot(s Snapshot) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.snapshots++
	l.last = s
}

func (l *recordingListener) OnNotice(n domain.Notice) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.notices = append(l.notices, n)
}

func (l *recordingListener) noticesOf(kind domain.NoticeKind) []domain.Notice {
	l.mu.Lock()
	defer l.mu.Unlock()
	var out []domain.Notice
	for _, n := range l.notices {
		if n.Kind == kind {
			out = append(out, n)
		}
	}
	return out
}

var errBoom = errors.New("boom")

func contents(msgs []domain.Message) []string {
	out := make([]string, 0, len(msgs))
	for _, m := range msgs {
		out = append(out, m.Content)
	}
	return out
}
