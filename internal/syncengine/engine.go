package syncengine

import (
	"context"
	"slices"
	"sync"

	"github.com/sirupsen/logrus"
	"github.com/zoobzio/clockz"

	"classroom-whiteboard/internal/domain"
)

// Emitter 把本地产生的操作和快照发送出去。
// Engine 持有锁时调用它，实现方不能同步回调 Engine，也不应长时间阻塞。
type Emitter interface {
	EmitOperation(op domain.Operation) error
	EmitSnapshot(snapshot domain.Snapshot) error
}

type nopEmitter struct{}

func (nopEmitter) EmitOperation(domain.Operation) error { return nil }
func (nopEmitter) EmitSnapshot(domain.Snapshot) error   { return nil }

// Options 是 Engine 的可选依赖
type Options struct {
	Loader       domain.ImageLoader
	Scheduler    FrameScheduler
	Emitter      Emitter
	Clock        Clock
	Tools        map[Tool]ToolHandler
	HistoryLimit int
}

// 单个对象的应用状态
type queueState int

const (
	stateIdle queueState = iota
	stateQueued
	stateDraining
	stateDecoding
)

// objectQueue 是同一对象尚未应用的远端操作，按到达顺序排列
type objectQueue struct {
	state queueState
	ops   []domain.Operation
}

// Engine 是单个客户端的同步状态：本地对象集合、待应用队列、权限和撤销历史。
// 所有状态由 mu 保护；帧回调和解码完成都通过同一把锁重新进入。
type Engine struct {
	mu sync.Mutex

	userID  string
	role    domain.Role
	blocked bool

	objects map[string]*domain.DrawableObject
	order   []string // 叠放顺序
	pending map[string]*objectQueue

	history *History
	tools   *ToolMachine

	loader    domain.ImageLoader
	scheduler FrameScheduler
	emitter   Emitter
	clock     Clock
	lastTS    int64

	ctx    context.Context
	cancel context.CancelFunc
}

// NewEngine 为本地用户创建同步引擎
func NewEngine(userID string, role domain.Role, opts Options) *Engine {
	if opts.Scheduler == nil {
		opts.Scheduler = NewFrameScheduler(clockz.RealClock, DefaultFrameInterval)
	}
	if opts.Emitter == nil {
		opts.Emitter = nopEmitter{}
	}
	if opts.Clock == nil {
		opts.Clock = clockz.RealClock
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Engine{
		userID:    userID,
		role:      role,
		objects:   make(map[string]*domain.DrawableObject),
		pending:   make(map[string]*objectQueue),
		history:   NewHistory(opts.HistoryLimit),
		tools:     NewToolMachine(opts.Tools),
		loader:    opts.Loader,
		scheduler: opts.Scheduler,
		emitter:   opts.Emitter,
		clock:     opts.Clock,
		ctx:       ctx,
		cancel:    cancel,
	}
}

// Close 取消进行中的图片解码
func (e *Engine) Close() {
	e.cancel()
}

// UserID 本地用户
func (e *Engine) UserID() string { return e.userID }

// Tools 返回工具状态机
func (e *Engine) Tools() *ToolMachine { return e.tools }

func (e *Engine) logCtx() *logrus.Entry {
	return logrus.WithFields(logrus.Fields{"component": "syncengine", "user_id": e.userID})
}

// ===== 远端操作 =====

// ApplyRemote 接收一个远端操作。自己发出的操作直接丢弃；
// CLEAR 立即生效，其余操作进入对象队列，在下一帧按到达顺序应用。
// 返回 false 表示操作被丢弃。
func (e *Engine) ApplyRemote(op domain.Operation) bool {
	e.mu.Lock()
	defer e.mu.Unlock()

	if op.AuthorID == e.userID {
		e.logCtx().WithField("kind", op.Kind).Debug("Dropping self-authored operation")
		return false
	}
	if op.Kind == domain.OpClear {
		e.clearLocked()
		return true
	}
	if !op.Kind.TargetsObject() || op.ObjectID == "" {
		return false
	}

	q, ok := e.pending[op.ObjectID]
	if !ok {
		q = &objectQueue{}
		e.pending[op.ObjectID] = q
	}
	q.ops = append(q.ops, op)
	if q.state == stateIdle {
		q.state = stateQueued
		id := op.ObjectID
		e.scheduler.Schedule(func() { e.drain(id, q) })
	}
	return true
}

func (e *Engine) drain(id string, q *objectQueue) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.drainLocked(id, q)
}

// drainLocked 依次应用队列中的操作。遇到需要加载像素的 ADD 时暂停，
// 解码完成后从同一位置继续。
func (e *Engine) drainLocked(id string, q *objectQueue) {
	// 快照或 CLEAR 已经替换了队列
	if e.pending[id] != q || q.state == stateDecoding {
		return
	}
	q.state = stateDraining
	for len(q.ops) > 0 {
		op := q.ops[0]
		q.ops = q.ops[1:]
		switch op.Kind {
		case domain.OpAdd:
			if e.beginAdd(id, q, op.Object) {
				return
			}
		case domain.OpModify:
			e.applyModify(id, op.Object)
		case domain.OpRemove:
			e.removeLocked(id)
		}
	}
	q.state = stateIdle
	delete(e.pending, id)
}

// beginAdd 解码并加入对象。需要异步解码时返回 true，队列保持 Decoding 状态。
func (e *Engine) beginAdd(id string, q *objectQueue, p domain.Payload) bool {
	if p == nil || p.ID() != id {
		e.logCtx().WithField("object_id", id).Debug("Skipping ADD with mismatched payload")
		return false
	}
	// 重复的 ADD 先移除旧副本，解码失败时对象不可见
	e.removeLocked(id)
	if !p.Type().NeedsPixels() {
		obj, err := domain.Decode(e.ctx, p, nil)
		if err != nil {
			e.logCtx().WithField("object_id", id).WithError(err).Warn("Skipping undecodable object")
			return false
		}
		e.materialize(obj)
		return false
	}

	q.state = stateDecoding
	payload := p.Clone()
	go func() {
		obj, err := domain.Decode(e.ctx, payload, e.loader)

		e.mu.Lock()
		defer e.mu.Unlock()
		if e.pending[id] != q {
			return
		}
		if err != nil {
			e.logCtx().WithField("object_id", id).WithError(err).Warn("Skipping object whose pixels failed to load")
		} else {
			e.materialize(obj)
		}
		q.state = stateDraining
		e.drainLocked(id, q)
	}()
	return true
}

// materialize 加入对象。同 id 已存在时原位替换，否则放到最上层。
func (e *Engine) materialize(obj *domain.DrawableObject) {
	if obj.OwnerID == unownedMarker {
		obj.OwnerID = ""
	}
	obj.Interaction = e.permissionFor(obj)
	if _, ok := e.objects[obj.ID]; !ok {
		e.order = append(e.order, obj.ID)
	}
	e.objects[obj.ID] = obj
}

// materializeAt 把不存在的对象插回 order 的 idx 位置，idx 越界时放到最上层
func (e *Engine) materializeAt(obj *domain.DrawableObject, idx int) {
	if _, ok := e.objects[obj.ID]; !ok && idx >= 0 && idx < len(e.order) {
		e.order = slices.Insert(e.order, idx, obj.ID)
		e.objects[obj.ID] = obj
	}
	e.materialize(obj)
}

func (e *Engine) indexLocked(id string) int {
	return slices.Index(e.order, id)
}

// applyModify 合并字段，id / ownerId / type 始终保留本地副本的值
func (e *Engine) applyModify(id string, p domain.Payload) {
	obj, ok := e.objects[id]
	if !ok {
		return
	}
	mergeAttrs(obj, p)
	obj.Interaction = e.permissionFor(obj)
}

func mergeAttrs(obj *domain.DrawableObject, attrs map[string]any) {
	if obj.Attrs == nil {
		obj.Attrs = make(map[string]any, len(attrs))
	}
	for k, v := range attrs {
		switch k {
		case "id", "ownerId", "type":
			continue
		}
		obj.Attrs[k] = v
	}
	domain.NormalizeColors(obj)
}

func (e *Engine) removeLocked(id string) bool {
	if _, ok := e.objects[id]; !ok {
		return false
	}
	delete(e.objects, id)
	for i, v := range e.order {
		if v == id {
			e.order = append(e.order[:i], e.order[i+1:]...)
			break
		}
	}
	return true
}

func (e *Engine) clearLocked() {
	e.objects = make(map[string]*domain.DrawableObject)
	e.order = nil
	e.pending = make(map[string]*objectQueue)
}

// ApplySnapshot 用完整快照替换本地状态，丢弃所有待应用的操作
func (e *Engine) ApplySnapshot(s domain.Snapshot) {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.clearLocked()
	for _, p := range s.Dedup().Objects {
		id := p.ID()
		if id == "" {
			continue
		}
		if p.OwnerID() == "" {
			// 快照里的无主对象只有导师可以操作
			p = p.Clone()
			p["ownerId"] = unownedMarker
		}
		q := &objectQueue{state: stateDraining, ops: []domain.Operation{{Kind: domain.OpAdd, ObjectID: id, Object: p}}}
		e.pending[id] = q
		e.drainLocked(id, q)
	}
}

// 解码要求 ownerId 非空，无主对象解码期间使用的占位值
const unownedMarker = "\x00unowned"

// ===== 权限 =====

// HandlePermissionChange 处理 student-permission-change。只有本地用户的变化会影响本地状态。
func (e *Engine) HandlePermissionChange(userID string, blocked bool) {
	if userID != e.userID {
		return
	}
	e.mu.Lock()
	e.blocked = blocked
	e.applyPermissionsLocked()
	e.mu.Unlock()

	e.tools.SetBlocked(blocked)
}

// Blocked 本地用户是否被禁用
func (e *Engine) Blocked() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.blocked
}

func (e *Engine) applyPermissionsLocked() {
	for _, obj := range e.objects {
		obj.Interaction = e.permissionFor(obj)
	}
}

// permissionFor 被禁用时不可交互；导师或所有者完全可交互；否则可见可选中但锁定变换
func (e *Engine) permissionFor(obj *domain.DrawableObject) domain.Interaction {
	switch {
	case e.blocked:
		return domain.NonInteractive()
	case e.role == domain.RoleTutor || obj.OwnerID == e.userID:
		return domain.FullyInteractive()
	default:
		return domain.ReadOnly()
	}
}

func (e *Engine) canMutate(obj *domain.DrawableObject) error {
	if e.blocked {
		return ErrActionBlocked
	}
	if e.role != domain.RoleTutor && obj.OwnerID != e.userID {
		return ErrNotOwner
	}
	return nil
}

// ===== 本地修改 =====

func (e *Engine) now() int64 {
	ts := e.clock.Now().UnixMilli()
	if ts <= e.lastTS {
		ts = e.lastTS + 1
	}
	e.lastTS = ts
	return ts
}

func (e *Engine) emit(op domain.Operation) {
	if err := e.emitter.EmitOperation(op); err != nil {
		e.logCtx().WithError(err).WithField("kind", op.Kind).Warn("Failed to emit operation")
	}
}

// AddLocal 加入本地创建的对象并广播 ADD。id 为空时自动生成，ownerId 总是本地用户。
func (e *Engine) AddLocal(obj *domain.DrawableObject) (domain.Operation, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.blocked {
		return domain.Operation{}, ErrActionBlocked
	}

	obj = obj.Clone()
	obj.OwnerID = e.userID
	obj.Source = domain.SourceLocal
	if obj.ID == "" {
		obj.ID = domain.NewObjectID(e.userID, e.clock.Now())
	}
	domain.NormalizeColors(obj)
	e.materialize(obj)
	e.history.Push(Entry{Kind: domain.OpAdd, ObjectID: obj.ID, Index: e.indexLocked(obj.ID), After: obj.Clone()})

	op := domain.Operation{Kind: domain.OpAdd, ObjectID: obj.ID, Object: domain.Encode(obj), AuthorID: e.userID, Timestamp: e.now()}
	e.emit(op)
	return op, nil
}

// ModifyLocal 修改本地对象并广播包含完整对象的 MODIFY
func (e *Engine) ModifyLocal(id string, attrs map[string]any) (domain.Operation, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	obj, ok := e.objects[id]
	if !ok {
		return domain.Operation{}, ErrUnknownObject
	}
	if err := e.canMutate(obj); err != nil {
		return domain.Operation{}, err
	}

	before := obj.Clone()
	mergeAttrs(obj, attrs)
	obj.Source = domain.SourceLocal
	e.history.Push(Entry{Kind: domain.OpModify, ObjectID: id, Index: e.indexLocked(id), Before: before, After: obj.Clone()})

	op := domain.Operation{Kind: domain.OpModify, ObjectID: id, Object: domain.Encode(obj), AuthorID: e.userID, Timestamp: e.now()}
	e.emit(op)
	return op, nil
}

// RemoveLocal 删除本地对象并广播 REMOVE
func (e *Engine) RemoveLocal(id string) (domain.Operation, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	obj, ok := e.objects[id]
	if !ok {
		return domain.Operation{}, ErrUnknownObject
	}
	if err := e.canMutate(obj); err != nil {
		return domain.Operation{}, err
	}

	idx := e.indexLocked(id)
	e.removeLocked(id)
	e.history.Push(Entry{Kind: domain.OpRemove, ObjectID: id, Index: idx, Before: obj.Clone()})

	op := domain.Operation{Kind: domain.OpRemove, ObjectID: id, AuthorID: e.userID, Timestamp: e.now()}
	e.emit(op)
	return op, nil
}

// ClearLocal 清空画布和撤销历史并广播 CLEAR
func (e *Engine) ClearLocal() (domain.Operation, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.blocked {
		return domain.Operation{}, ErrActionBlocked
	}

	e.clearLocked()
	e.history.Reset()

	op := domain.Operation{Kind: domain.OpClear, AuthorID: e.userID, Timestamp: e.now()}
	e.emit(op)
	return op, nil
}

// ===== 撤销 / 重做 =====

// Undo 撤销最近一次本地修改并广播完整快照。栈为空时返回 false。
func (e *Engine) Undo() (bool, error) {
	return e.step(e.history.PopUndo, true)
}

// Redo 重做最近一次撤销并广播完整快照。栈为空时返回 false。
func (e *Engine) Redo() (bool, error) {
	return e.step(e.history.PopRedo, false)
}

func (e *Engine) step(pop func() (Entry, bool), reverse bool) (bool, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.blocked {
		return false, ErrActionBlocked
	}
	entry, ok := pop()
	if !ok {
		return false, nil
	}

	target := entry.After
	if reverse {
		target = entry.Before
	}
	if target == nil {
		e.removeLocked(entry.ObjectID)
	} else {
		e.materializeAt(target.Clone(), entry.Index)
	}

	snap := e.snapshotLocked()
	if err := e.emitter.EmitSnapshot(snap); err != nil {
		e.logCtx().WithError(err).Warn("Failed to emit snapshot after undo/redo")
	}
	return true, nil
}

// ===== 读取 =====

func (e *Engine) snapshotLocked() domain.Snapshot {
	s := domain.Snapshot{Objects: make([]domain.Payload, 0, len(e.order))}
	for _, id := range e.order {
		s.Objects = append(s.Objects, domain.Encode(e.objects[id]))
	}
	return s
}

// Snapshot 按叠放顺序编码所有本地对象
func (e *Engine) Snapshot() domain.Snapshot {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.snapshotLocked()
}

// Object 返回对象副本
func (e *Engine) Object(id string) (*domain.DrawableObject, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	obj, ok := e.objects[id]
	if !ok {
		return nil, false
	}
	return obj.Clone(), true
}

// Len 本地对象数量
func (e *Engine) Len() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.objects)
}

// Pending 某个对象尚未应用的操作数
func (e *Engine) Pending(id string) int {
	e.mu.Lock()
	defer e.mu.Unlock()
	if q, ok := e.pending[id]; ok {
		return len(q.ops)
	}
	return 0
}

// HistoryLen 撤销栈和重做栈的长度
func (e *Engine) HistoryLen() (undo, redo int) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.history.Len()
}
