package memorystate_test

import (
	"errors"
	"sync"
	"testing"

	"classroom-whiteboard/internal/domain"
	memorystate "classroom-whiteboard/internal/infra/state/memory"
	"classroom-whiteboard/internal/repository"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func tutor(id, conn string) domain.Member {
	return domain.Member{ID: id, Name: "T-" + id, Role: domain.RoleTutor, ConnID: conn}
}

func student(id, conn string) domain.Member {
	return domain.Member{ID: id, Name: "S-" + id, Role: domain.RoleStudent, ConnID: conn}
}

func rect(id, owner string) domain.Payload {
	return domain.Payload{"id": id, "ownerId": owner, "type": "rect"}
}

func TestJoin_CreatesRoomWithEmptySnapshot(t *testing.T) {
	store := memorystate.NewRoomStore(0)

	res := store.Join("r1", tutor("a", "c1"))

	assert.True(t, res.Created)
	assert.True(t, res.Snapshot.IsEmpty())
	assert.False(t, res.Blocked)
	assert.Equal(t, []string{"r1"}, store.ActiveRoomIDs())
}

func TestJoin_ReturnsSnapshotAndBlockedFlag(t *testing.T) {
	// Arrange
	store := memorystate.NewRoomStore(0)
	store.Join("r1", tutor("a", "c1"))
	store.Join("r1", student("b", "c2"))
	require.NoError(t, store.SetSnapshot("r1", domain.Snapshot{Objects: []domain.Payload{rect("r1-obj-1", "a")}}))
	_, err := store.SetBlocked("r1", "b", true)
	require.NoError(t, err)
	_, err = store.Leave("r1", "b", "c2")
	require.NoError(t, err)

	// Act: 被禁用的学生重新加入
	res := store.Join("r1", student("b", "c3"))

	// Assert
	assert.False(t, res.Created)
	assert.True(t, res.Blocked)
	require.Equal(t, 1, res.Snapshot.Len())
	assert.Equal(t, "r1-obj-1", res.Snapshot.Objects[0].ID())
	m, err := store.Member("r1", "b")
	require.NoError(t, err)
	assert.True(t, m.IsBlocked)
	assert.Equal(t, "c3", m.ConnID)
}

func TestJoin_OverwritesMemberAndReportsReplacedConn(t *testing.T) {
	store := memorystate.NewRoomStore(0)
	store.Join("r1", student("b", "c1"))

	res := store.Join("r1", domain.Member{ID: "b", Name: "Renamed", Role: domain.RoleStudent, ConnID: "c2"})

	assert.Equal(t, "c1", res.Replaced)
	members := store.Members("r1")
	require.Len(t, members, 1)
	assert.Equal(t, "Renamed", members[0].Name)
}

func TestRecordOperation_ClearResetsSnapshot(t *testing.T) {
	store := memorystate.NewRoomStore(0)
	store.Join("r1", tutor("a", "c1"))
	require.NoError(t, store.SetSnapshot("r1", domain.Snapshot{Objects: []domain.Payload{rect("o1", "a"), rect("o2", "a")}}))

	require.NoError(t, store.RecordOperation("r1", domain.Operation{Kind: domain.OpAdd, ObjectID: "o3", Object: rect("o3", "a"), AuthorID: "a"}))
	snap, err := store.Snapshot("r1")
	require.NoError(t, err)
	assert.Equal(t, 2, snap.Len(), "ADD 不会增量修改快照")

	require.NoError(t, store.RecordOperation("r1", domain.Operation{Kind: domain.OpClear, AuthorID: "a"}))
	snap, err = store.Snapshot("r1")
	require.NoError(t, err)
	assert.True(t, snap.IsEmpty())
	assert.Len(t, store.ActionLog("r1"), 2)
}

func TestRecordOperation_LogIsCapped(t *testing.T) {
	store := memorystate.NewRoomStore(3)
	store.Join("r1", tutor("a", "c1"))

	for i := 0; i < 5; i++ {
		require.NoError(t, store.RecordOperation("r1", domain.Operation{Kind: domain.OpRemove, ObjectID: string(rune('a' + i)), AuthorID: "a"}))
	}

	log := store.ActionLog("r1")
	require.Len(t, log, 3)
	assert.Equal(t, "c", log[0].ObjectID)
	assert.Equal(t, "e", log[2].ObjectID)
}

func TestRecordOperation_UnknownRoom(t *testing.T) {
	store := memorystate.NewRoomStore(0)

	err := store.RecordOperation("nope", domain.Operation{Kind: domain.OpClear})

	assert.True(t, errors.Is(err, repository.ErrRoomNotFound))
}

func TestSetSnapshot_LastWriterWins(t *testing.T) {
	store := memorystate.NewRoomStore(0)
	store.Join("r1", tutor("a", "c1"))

	require.NoError(t, store.SetSnapshot("r1", domain.Snapshot{Objects: []domain.Payload{rect("o1", "a")}}))
	require.NoError(t, store.SetSnapshot("r1", domain.Snapshot{Objects: []domain.Payload{rect("o2", "b")}}))

	snap, _ := store.Snapshot("r1")
	require.Equal(t, 1, snap.Len())
	assert.Equal(t, "o2", snap.Objects[0].ID())
}

func TestSnapshot_ReturnsCopy(t *testing.T) {
	store := memorystate.NewRoomStore(0)
	store.Join("r1", tutor("a", "c1"))
	require.NoError(t, store.SetSnapshot("r1", domain.Snapshot{Objects: []domain.Payload{rect("o1", "a")}}))

	snap, _ := store.Snapshot("r1")
	snap.Objects[0]["ownerId"] = "mallory"

	again, _ := store.Snapshot("r1")
	assert.Equal(t, "a", again.Objects[0].OwnerID())
}

func TestResetCanvas(t *testing.T) {
	store := memorystate.NewRoomStore(0)
	store.Join("r1", tutor("a", "c1"))
	require.NoError(t, store.SetSnapshot("r1", domain.Snapshot{Objects: []domain.Payload{rect("o1", "a")}}))
	require.NoError(t, store.RecordOperation("r1", domain.Operation{Kind: domain.OpAdd, ObjectID: "o1", AuthorID: "a"}))

	require.NoError(t, store.ResetCanvas("r1"))

	snap, _ := store.Snapshot("r1")
	assert.True(t, snap.IsEmpty())
	assert.Empty(t, store.ActionLog("r1"))
}

func TestLeave_DestroysEmptyRoom(t *testing.T) {
	store := memorystate.NewRoomStore(0)
	store.Join("r1", tutor("a", "c1"))
	store.Join("r1", student("b", "c2"))

	dep, err := store.Leave("r1", "b", "c2")
	require.NoError(t, err)
	assert.False(t, dep.Destroyed)

	dep, err = store.Leave("r1", "a", "c1")
	require.NoError(t, err)
	assert.True(t, dep.Destroyed)
	assert.Empty(t, store.ActiveRoomIDs())
	_, err = store.Snapshot("r1")
	assert.True(t, errors.Is(err, repository.ErrRoomNotFound))
}

func TestLeave_StaleConnectionIgnored(t *testing.T) {
	store := memorystate.NewRoomStore(0)
	store.Join("r1", student("b", "c1"))
	store.Join("r1", student("b", "c2"))

	_, err := store.Leave("r1", "b", "c1")

	assert.True(t, errors.Is(err, repository.ErrMemberNotFound))
	assert.Len(t, store.Members("r1"), 1)
}

func TestLeaveConn_RemovesFromAllRooms(t *testing.T) {
	store := memorystate.NewRoomStore(0)
	store.Join("r1", tutor("a", "c1"))
	store.Join("r1", student("b", "c2"))
	store.Join("r2", student("b", "c2"))

	deps := store.LeaveConn("c2")

	require.Len(t, deps, 2)
	assert.Equal(t, "r1", deps[0].RoomID)
	assert.False(t, deps[0].Destroyed)
	assert.Equal(t, "r2", deps[1].RoomID)
	assert.True(t, deps[1].Destroyed)
	assert.Equal(t, []string{"r1"}, store.ActiveRoomIDs())
}

func TestSetBlocked_TutorNeverFlagged(t *testing.T) {
	store := memorystate.NewRoomStore(0)
	store.Join("r1", tutor("a", "c1"))

	v, err := store.SetBlocked("r1", "a", true)
	require.NoError(t, err)
	assert.True(t, v)

	m, _ := store.Member("r1", "a")
	assert.False(t, m.IsBlocked)
}

func TestDelete(t *testing.T) {
	store := memorystate.NewRoomStore(0)
	store.Join("r1", tutor("a", "c1"))
	store.Join("r1", student("b", "c2"))

	assert.True(t, store.Delete("r1"))
	assert.False(t, store.Delete("r1"))
	assert.Nil(t, store.Members("r1"))
}

func TestConcurrentAccess(t *testing.T) {
	store := memorystate.NewRoomStore(50)
	store.Join("r1", tutor("a", "c0"))

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			id := string(rune('b' + i))
			store.Join("r1", student(id, "c-"+id))
			_ = store.RecordOperation("r1", domain.Operation{Kind: domain.OpAdd, ObjectID: id, AuthorID: id})
			_, _ = store.Snapshot("r1")
			_ = store.Members("r1")
		}(i)
	}
	wg.Wait()

	assert.Len(t, store.Members("r1"), 21)
	assert.Len(t, store.ActionLog("r1"), 20)
}
