package memorystate

import (
	"sort"
	"sync"

	"classroom-whiteboard/internal/domain"
	"classroom-whiteboard/internal/repository"

	"github.com/sirupsen/logrus"
)

// DefaultActionLogCap 操作日志默认保留条数
const DefaultActionLogCap = 500

// room 是单个房间的内部状态，只在持有 store 锁时访问
type room struct {
	members  map[string]*domain.Member
	order    []string // 成员加入顺序
	snapshot domain.Snapshot
	log      []domain.Operation
	blocked  map[string]bool
}

func newRoom() *room {
	return &room{
		members:  make(map[string]*domain.Member),
		snapshot: domain.EmptySnapshot(),
		blocked:  make(map[string]bool),
	}
}

func (r *room) removeMember(userID string) {
	delete(r.members, userID)
	for i, id := range r.order {
		if id == userID {
			r.order = append(r.order[:i], r.order[i+1:]...)
			break
		}
	}
}

// RoomStore 是 repository.RoomStore 的进程内实现
type RoomStore struct {
	mu     sync.RWMutex
	rooms  map[string]*room
	logCap int
}

// NewRoomStore 创建 RoomStore，logCap <= 0 时使用默认值
func NewRoomStore(logCap int) *RoomStore {
	if logCap <= 0 {
		logCap = DefaultActionLogCap
	}
	return &RoomStore{
		rooms:  make(map[string]*room),
		logCap: logCap,
	}
}

var _ repository.RoomStore = (*RoomStore)(nil)

func (s *RoomStore) Join(roomID string, member domain.Member) repository.JoinResult {
	s.mu.Lock()
	defer s.mu.Unlock()

	var res repository.JoinResult
	r, ok := s.rooms[roomID]
	if !ok {
		r = newRoom()
		s.rooms[roomID] = r
		res.Created = true
		logrus.WithField("room_id", roomID).Info("Room created on first join")
	}

	if prev, exists := r.members[member.ID]; exists {
		if prev.ConnID != member.ConnID {
			res.Replaced = prev.ConnID
		}
	} else {
		r.order = append(r.order, member.ID)
	}

	m := member
	m.IsBlocked = m.Role == domain.RoleStudent && r.blocked[m.ID]
	r.members[m.ID] = &m

	res.Snapshot = r.snapshot.Clone()
	res.Blocked = m.IsBlocked
	return res
}

func (s *RoomStore) RecordOperation(roomID string, op domain.Operation) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	r, ok := s.rooms[roomID]
	if !ok {
		return repository.ErrRoomNotFound
	}
	r.log = append(r.log, op)
	if over := len(r.log) - s.logCap; over > 0 {
		// 丢弃最旧的记录，复制一份避免底层数组无限增长
		r.log = append([]domain.Operation(nil), r.log[over:]...)
	}
	if op.Kind == domain.OpClear {
		r.snapshot = domain.EmptySnapshot()
	}
	return nil
}

func (s *RoomStore) SetSnapshot(roomID string, snapshot domain.Snapshot) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	r, ok := s.rooms[roomID]
	if !ok {
		return repository.ErrRoomNotFound
	}
	r.snapshot = snapshot.Dedup().Clone()
	return nil
}

func (s *RoomStore) ResetCanvas(roomID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	r, ok := s.rooms[roomID]
	if !ok {
		return repository.ErrRoomNotFound
	}
	r.snapshot = domain.EmptySnapshot()
	r.log = nil
	return nil
}

func (s *RoomStore) SetBlocked(roomID, userID string, blocked bool) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	r, ok := s.rooms[roomID]
	if !ok {
		return false, repository.ErrRoomNotFound
	}
	if blocked {
		r.blocked[userID] = true
	} else {
		delete(r.blocked, userID)
	}
	if m, exists := r.members[userID]; exists {
		m.IsBlocked = blocked && m.Role == domain.RoleStudent
	}
	return blocked, nil
}

func (s *RoomStore) Leave(roomID, userID, connID string) (repository.Departure, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	dep := repository.Departure{RoomID: roomID, UserID: userID}
	r, ok := s.rooms[roomID]
	if !ok {
		return dep, repository.ErrRoomNotFound
	}
	m, exists := r.members[userID]
	if !exists || (connID != "" && m.ConnID != connID) {
		return dep, repository.ErrMemberNotFound
	}
	r.removeMember(userID)
	if len(r.members) == 0 {
		delete(s.rooms, roomID)
		dep.Destroyed = true
		logrus.WithField("room_id", roomID).Info("Room destroyed, last member left")
	}
	return dep, nil
}

func (s *RoomStore) LeaveConn(connID string) []repository.Departure {
	s.mu.Lock()
	defer s.mu.Unlock()

	var deps []repository.Departure
	for roomID, r := range s.rooms {
		removed := false
		for _, userID := range append([]string(nil), r.order...) {
			if r.members[userID].ConnID != connID {
				continue
			}
			r.removeMember(userID)
			deps = append(deps, repository.Departure{RoomID: roomID, UserID: userID})
			removed = true
		}
		if removed && len(r.members) == 0 {
			delete(s.rooms, roomID)
			deps[len(deps)-1].Destroyed = true
			logrus.WithField("room_id", roomID).Info("Room destroyed after disconnect")
		}
	}
	sort.Slice(deps, func(i, j int) bool { return deps[i].RoomID < deps[j].RoomID })
	return deps
}

func (s *RoomStore) Delete(roomID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, ok := s.rooms[roomID]
	delete(s.rooms, roomID)
	return ok
}

func (s *RoomStore) Member(roomID, userID string) (domain.Member, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	r, ok := s.rooms[roomID]
	if !ok {
		return domain.Member{}, repository.ErrRoomNotFound
	}
	m, ok := r.members[userID]
	if !ok {
		return domain.Member{}, repository.ErrMemberNotFound
	}
	return *m, nil
}

func (s *RoomStore) Members(roomID string) []domain.Member {
	s.mu.RLock()
	defer s.mu.RUnlock()

	r, ok := s.rooms[roomID]
	if !ok {
		return nil
	}
	out := make([]domain.Member, 0, len(r.order))
	for _, id := range r.order {
		out = append(out, *r.members[id])
	}
	return out
}

func (s *RoomStore) Snapshot(roomID string) (domain.Snapshot, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	r, ok := s.rooms[roomID]
	if !ok {
		return domain.Snapshot{}, repository.ErrRoomNotFound
	}
	return r.snapshot.Clone(), nil
}

func (s *RoomStore) ActionLog(roomID string) []domain.Operation {
	s.mu.RLock()
	defer s.mu.RUnlock()

	r, ok := s.rooms[roomID]
	if !ok {
		return nil
	}
	return append([]domain.Operation(nil), r.log...)
}

func (s *RoomStore) ActiveRoomIDs() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()

	ids := make([]string, 0, len(s.rooms))
	for id := range s.rooms {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}
