package repository

import "classroom-whiteboard/internal/domain"

// JoinResult 是加入房间后返回给加入者的信息
type JoinResult struct {
	Snapshot domain.Snapshot // 当前快照，可能为空
	Blocked  bool            // 该用户是否处于禁用状态
	Created  bool            // 本次加入是否新建了房间
	Replaced string          // 同一用户之前持有的连接 ID (多标签页重复加入)
}

// Departure 描述一次离开
type Departure struct {
	RoomID    string
	UserID    string
	Destroyed bool // 离开后房间为空并被销毁
}

// RoomStore 是服务端每个房间的权威可变状态：成员、快照、操作日志和禁用集合。
// 房间在第一个成员加入时创建，最后一个成员离开时销毁；读取方法一律返回副本。
type RoomStore interface {
	// Join 不存在则创建房间，插入或覆盖成员条目。
	Join(roomID string, member domain.Member) JoinResult

	// RecordOperation 追加到操作日志；CLEAR 会把快照重置为空。快照不会被增量修改。
	RecordOperation(roomID string, op domain.Operation) error

	// SetSnapshot 整体替换快照，后写者胜出。
	SetSnapshot(roomID string, snapshot domain.Snapshot) error

	// ResetCanvas 清空快照和操作日志。
	ResetCanvas(roomID string) error

	// SetBlocked 修改禁用集合和成员标志，返回新的值。
	SetBlocked(roomID, userID string, blocked bool) (bool, error)

	// Leave 移除成员 (仅当该条目仍属于 connID)；房间变空时销毁。
	Leave(roomID, userID, connID string) (Departure, error)

	// LeaveConn 连接断开时从所有房间移除它持有的成员条目。
	LeaveConn(connID string) []Departure

	// Delete 无条件删除房间，返回房间是否存在。
	Delete(roomID string) bool

	// Member 查询成员。
	Member(roomID, userID string) (domain.Member, error)

	// Members 按加入顺序返回成员列表。
	Members(roomID string) []domain.Member

	// Snapshot 返回快照副本。
	Snapshot(roomID string) (domain.Snapshot, error)

	// ActionLog 返回操作日志副本。
	ActionLog(roomID string) []domain.Operation

	// ActiveRoomIDs 返回当前存活的房间。
	ActiveRoomIDs() []string
}
