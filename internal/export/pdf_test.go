package export

import (
	"bytes"
	"testing"

	"classroom-whiteboard/internal/domain"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWritePDF_RendersSnapshot(t *testing.T) {
	// Arrange
	snap := domain.Snapshot{Objects: []domain.Payload{
		{"id": "a-1", "ownerId": "a", "type": "rect", "left": 10.0, "top": 10.0, "width": 100.0, "height": 50.0, "stroke": "red", "fill": "#00ff00"},
		{"id": "a-2", "ownerId": "a", "type": "circle", "left": 200.0, "top": 40.0, "radius": 30.0, "stroke": "rgb(0, 0, 255)"},
		{"id": "a-3", "ownerId": "a", "type": "arrow", "x1": 0.0, "y1": 0.0, "x2": 120.0, "y2": 80.0, "stroke": "#333"},
		{"id": "a-4", "ownerId": "a", "type": "path", "path": []any{
			[]any{"M", 1.0, 1.0}, []any{"Q", 5.0, 5.0, 10.0, 10.0}, []any{"L", 20.0, 4.0},
		}, "stroke": "black"},
		{"id": "a-5", "ownerId": "a", "type": "text", "left": 50.0, "top": 300.0, "text": "x = 1\ny = 2", "fontSize": 24.0},
		{"id": "broken", "type": "rect"},
	}}
	var buf bytes.Buffer

	// Act
	err := WritePDF(&buf, "room123", snap)

	// Assert
	require.NoError(t, err)
	assert.True(t, bytes.HasPrefix(buf.Bytes(), []byte("%PDF-")))
}

func TestWritePDF_EmptySnapshot(t *testing.T) {
	var buf bytes.Buffer

	require.NoError(t, WritePDF(&buf, "room123", domain.EmptySnapshot()))
	assert.NotZero(t, buf.Len())
}

func TestParseColor(t *testing.T) {
	cases := []struct {
		in      string
		want    rgb
		visible bool
	}{
		{"#ff0000", rgb{255, 0, 0}, true},
		{"#0f0", rgb{0, 255, 0}, true},
		{"rgb(1, 2, 3)", rgb{1, 2, 3}, true},
		{"rgba(10,20,30,0.5)", rgb{10, 20, 30}, true},
		{"rgba(10,20,30,0)", rgb{}, false},
		{"Blue", rgb{0, 0, 255}, true},
		{"transparent", rgb{}, false},
		{"", rgb{}, false},
		{"hsl(0, 100%, 50%)", rgb{}, true},
	}
	for _, tc := range cases {
		t.Run(tc.in, func(t *testing.T) {
			got, visible := parseColor(tc.in)
			assert.Equal(t, tc.want, got)
			assert.Equal(t, tc.visible, visible)
		})
	}
}
