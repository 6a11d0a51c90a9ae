package domain_test

import (
	"encoding/json"
	"errors"
	"testing"

	"classroom-whiteboard/internal/domain"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseOpKind(t *testing.T) {
	cases := map[string]domain.OpKind{
		"ADD":           domain.OpAdd,
		"modify":        domain.OpModify,
		"add-object":    domain.OpAdd,
		"modify-object": domain.OpModify,
		"remove-object": domain.OpRemove,
		"clear":         domain.OpClear,
		"CLEAR":         domain.OpClear,
	}
	for in, want := range cases {
		got, ok := domain.ParseOpKind(in)
		assert.True(t, ok, in)
		assert.Equal(t, want, got, in)
	}

	_, ok := domain.ParseOpKind("rotate")
	assert.False(t, ok)
}

func TestDrawAction_ToOperation(t *testing.T) {
	raw := `{"type":"MODIFY","data":{"objectId":"o1","json":{"id":"o1","ownerId":"a","type":"rect","left":5}},"userId":"b","timestamp":42}`
	var action domain.DrawAction
	require.NoError(t, json.Unmarshal([]byte(raw), &action))

	op, err := action.ToOperation()

	require.NoError(t, err)
	assert.Equal(t, domain.OpModify, op.Kind)
	assert.Equal(t, "o1", op.ObjectID)
	assert.Equal(t, "b", op.AuthorID)
	assert.Equal(t, int64(42), op.Timestamp)
	assert.Equal(t, 5.0, op.Object["left"])
}

func TestDrawAction_ToOperation_Invalid(t *testing.T) {
	cases := []domain.DrawAction{
		{Type: "ADD", UserID: "u"},
		{Type: "ADD", Data: domain.DrawData{JSON: domain.Payload{"type": "rect"}}},
		{Type: "MODIFY", Data: domain.DrawData{JSON: domain.Payload{"id": "x"}}},
		{Type: "REMOVE"},
		{Type: "SPIN"},
	}
	for _, c := range cases {
		_, err := c.ToOperation()
		assert.True(t, errors.Is(err, domain.ErrInvalidOperation), c.Type)
	}
}

func TestNewDrawAction_Shapes(t *testing.T) {
	obj := domain.Payload{"id": "o1", "ownerId": "a", "type": "rect"}

	add := domain.NewDrawAction(domain.Operation{Kind: domain.OpAdd, ObjectID: "o1", Object: obj, AuthorID: "a"})
	rm := domain.NewDrawAction(domain.Operation{Kind: domain.OpRemove, ObjectID: "o1", AuthorID: "a"})
	clr := domain.NewDrawAction(domain.Operation{Kind: domain.OpClear, AuthorID: "a"})

	assert.Equal(t, "", add.Data.ObjectID)
	assert.Equal(t, "o1", add.Data.JSON.ID())
	assert.Equal(t, "o1", rm.Data.ObjectID)
	assert.Nil(t, rm.Data.JSON)
	b, err := json.Marshal(clr)
	require.NoError(t, err)
	assert.JSONEq(t, `{"type":"CLEAR","data":{},"userId":"a","timestamp":0}`, string(b))
}

func TestSnapshot_Dedup(t *testing.T) {
	s := domain.Snapshot{Objects: []domain.Payload{
		{"id": "a", "v": 1.0},
		{"id": "b"},
		{"v": 3.0},
		{"id": "a", "v": 2.0},
	}}

	d := s.Dedup()

	require.Equal(t, 2, d.Len())
	assert.Equal(t, "b", d.Objects[0].ID())
	assert.Equal(t, 2.0, d.Objects[1]["v"])
}

func TestSnapshotRecord_StateRoundTrip(t *testing.T) {
	rec := &domain.SnapshotRecord{RoomID: "abc1234"}
	s := domain.Snapshot{Objects: []domain.Payload{{"id": "a", "ownerId": "u", "type": "rect"}}}

	require.NoError(t, rec.SetState(s))
	got, err := rec.ParseState()

	require.NoError(t, err)
	assert.Equal(t, 1, rec.ObjectCount)
	assert.Equal(t, "a", got.Objects[0].ID())
}
