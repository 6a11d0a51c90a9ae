package domain_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"classroom-whiteboard/internal/domain"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEncodeDecode_PreservesIdentity(t *testing.T) {
	// Arrange
	obj := &domain.DrawableObject{
		ID:      "tutor-1-1700000000000-abc123def",
		OwnerID: "tutor-1",
		Type:    domain.ObjectRect,
		Attrs:   map[string]any{"left": 10.0, "top": 20.0, "width": 100.0, "height": 50.0, "fill": "#ff0000"},
	}

	// Act
	payload := domain.Encode(obj)
	decoded, err := domain.Decode(context.Background(), payload, nil)

	// Assert
	require.NoError(t, err)
	assert.Equal(t, obj.ID, decoded.ID)
	assert.Equal(t, obj.OwnerID, decoded.OwnerID)
	assert.Equal(t, domain.ObjectRect, decoded.Type)
	assert.Equal(t, 100.0, decoded.Float("width"))
	assert.Equal(t, "#ff0000", decoded.String("fill"))
	assert.Equal(t, domain.SourceRemote, decoded.Source)
	_, hasID := decoded.Attrs["id"]
	assert.False(t, hasID, "身份字段不应混入 Attrs")
}

func TestEncode_DoesNotAliasAttrs(t *testing.T) {
	obj := &domain.DrawableObject{ID: "a", OwnerID: "u", Type: domain.ObjectPath,
		Attrs: map[string]any{"path": []any{[]any{"M", 0.0, 0.0}}}}

	payload := domain.Encode(obj)
	payload["path"].([]any)[0] = "changed"

	assert.NotEqual(t, "changed", obj.Attrs["path"].([]any)[0])
}

func TestDecode_MissingIdentity(t *testing.T) {
	_, err := domain.Decode(context.Background(), domain.Payload{"type": "rect", "ownerId": "u"}, nil)
	assert.True(t, errors.Is(err, domain.ErrInvalidObject))

	_, err = domain.Decode(context.Background(), domain.Payload{"type": "rect", "id": "x"}, nil)
	assert.True(t, errors.Is(err, domain.ErrInvalidObject))
}

func TestDecode_UnknownType(t *testing.T) {
	_, err := domain.Decode(context.Background(), domain.Payload{"id": "x", "ownerId": "u", "type": "hexagon"}, nil)
	assert.True(t, errors.Is(err, domain.ErrUnsupportedType))
}

func TestDecode_ColorDefaults(t *testing.T) {
	tests := []struct {
		name   string
		typ    string
		attrs  map[string]any
		key    string
		expect any
		absent bool
	}{
		{name: "hex kept", typ: "rect", attrs: map[string]any{"fill": "#00ff00"}, key: "fill", expect: "#00ff00"},
		{name: "rgb kept", typ: "rect", attrs: map[string]any{"stroke": "rgb(255, 0, 0)"}, key: "stroke", expect: "rgb(255, 0, 0)"},
		{name: "named kept", typ: "circle", attrs: map[string]any{"fill": "red"}, key: "fill", expect: "red"},
		{name: "transparent kept", typ: "rect", attrs: map[string]any{"fill": "transparent"}, key: "fill", expect: "transparent"},
		{name: "garbage replaced", typ: "rect", attrs: map[string]any{"fill": "not-a-colour"}, key: "fill", expect: domain.DefaultColor},
		{name: "wrong type replaced", typ: "rect", attrs: map[string]any{"stroke": 42.0}, key: "stroke", expect: domain.DefaultColor},
		{name: "path stroke required", typ: "path", attrs: map[string]any{}, key: "stroke", expect: domain.DefaultColor},
		{name: "text fill required", typ: "text", attrs: map[string]any{"text": "x²"}, key: "fill", expect: domain.DefaultColor},
		{name: "rect fill optional", typ: "rect", attrs: map[string]any{}, key: "fill", absent: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := domain.Payload{"id": "o1", "ownerId": "u1", "type": tt.typ}
			for k, v := range tt.attrs {
				p[k] = v
			}

			obj, err := domain.Decode(context.Background(), p, nil)

			require.NoError(t, err)
			v, ok := obj.Attrs[tt.key]
			if tt.absent {
				assert.False(t, ok)
				return
			}
			assert.Equal(t, tt.expect, v)
		})
	}
}

func TestDecode_ImageUsesLoader(t *testing.T) {
	// Arrange
	var gotSrc string
	loader := domain.ImageLoaderFunc(func(ctx context.Context, src string) (*domain.PixelData, error) {
		gotSrc = src
		return &domain.PixelData{Width: 2, Height: 2, Bytes: make([]byte, 16)}, nil
	})
	p := domain.Payload{"id": "img-1", "ownerId": "u1", "type": "image", "src": "data:image/png;base64,AAAA"}

	// Act
	obj, err := domain.Decode(context.Background(), p, loader)

	// Assert
	require.NoError(t, err)
	assert.Equal(t, "data:image/png;base64,AAAA", gotSrc)
	require.NotNil(t, obj.Pixels)
	assert.Equal(t, 2, obj.Pixels.Width)
}

func TestDecode_ImageLoaderFailure(t *testing.T) {
	loader := domain.ImageLoaderFunc(func(ctx context.Context, src string) (*domain.PixelData, error) {
		return nil, errors.New("corrupt png")
	})
	p := domain.Payload{"id": "pg-3", "ownerId": "u1", "type": "pdf-page", "src": "blob:1", "page": 3.0}

	obj, err := domain.Decode(context.Background(), p, loader)

	assert.Nil(t, obj)
	assert.True(t, errors.Is(err, domain.ErrDecodeFailed))
}

func TestDecode_ImageWithoutLoader(t *testing.T) {
	p := domain.Payload{"id": "img-1", "ownerId": "u1", "type": "image", "src": "x"}

	_, err := domain.Decode(context.Background(), p, nil)

	assert.True(t, errors.Is(err, domain.ErrDecodeFailed))
}

func TestNewObjectID_Format(t *testing.T) {
	now := time.UnixMilli(1700000000123)

	id := domain.NewObjectID("student-7", now)

	assert.Regexp(t, `^student-7-1700000000123-[0-9a-f]{9}$`, id)
	assert.NotEqual(t, id, domain.NewObjectID("student-7", now))
}
