package client

import (
	"bytes"
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"image"
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"
	"io"
	"net/http"
	"net/url"
	"strings"

	"classroom-whiteboard/internal/domain"
	"classroom-whiteboard/internal/dto"

	_ "golang.org/x/image/bmp"
	"golang.org/x/image/draw"
	_ "golang.org/x/image/webp"
)

// ErrUnsupportedSource src 既不是 data: URL 也不是 http(s) 地址
var ErrUnsupportedSource = errors.New("client: unsupported image source")

// Loader 解码 image / pdf-page 对象的 src。支持 data: URL 和 http(s) 地址，
// 格式覆盖 png / jpeg / gif / webp / bmp。
type Loader struct {
	HTTPClient *http.Client
}

var _ domain.ImageLoader = (*Loader)(nil)

// Load 获取并解压像素，输出为 RGBA
func (l *Loader) Load(ctx context.Context, src string) (*domain.PixelData, error) {
	raw, err := l.fetch(ctx, src)
	if err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	img, _, err := image.Decode(bytes.NewReader(raw))
	if err != nil {
		return nil, fmt.Errorf("client: decode image: %w", err)
	}
	b := img.Bounds()
	rgba := image.NewRGBA(image.Rect(0, 0, b.Dx(), b.Dy()))
	draw.Draw(rgba, rgba.Bounds(), img, b.Min, draw.Src)
	return &domain.PixelData{Width: b.Dx(), Height: b.Dy(), Bytes: rgba.Pix}, nil
}

func (l *Loader) fetch(ctx context.Context, src string) ([]byte, error) {
	switch {
	case strings.HasPrefix(src, "data:"):
		return decodeDataURL(src)
	case strings.HasPrefix(src, "http://"), strings.HasPrefix(src, "https://"):
		return l.download(ctx, src)
	}
	return nil, ErrUnsupportedSource
}

func decodeDataURL(src string) ([]byte, error) {
	comma := strings.IndexByte(src, ',')
	if comma < 0 {
		return nil, fmt.Errorf("%w: malformed data url", ErrUnsupportedSource)
	}
	meta, data := src[len("data:"):comma], src[comma+1:]
	if strings.HasSuffix(meta, ";base64") {
		raw, err := base64.StdEncoding.DecodeString(data)
		if err != nil {
			return nil, fmt.Errorf("client: decode base64 image: %w", err)
		}
		return raw, nil
	}
	s, err := url.PathUnescape(data)
	if err != nil {
		return nil, fmt.Errorf("client: unescape data url: %w", err)
	}
	return []byte(s), nil
}

func (l *Loader) download(ctx context.Context, src string) ([]byte, error) {
	hc := l.HTTPClient
	if hc == nil {
		hc = http.DefaultClient
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, src, nil)
	if err != nil {
		return nil, err
	}
	resp, err := hc.Do(req)
	if err != nil {
		return nil, fmt.Errorf("client: fetch image: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("client: fetch image: unexpected status %d", resp.StatusCode)
	}
	return io.ReadAll(io.LimitReader(resp.Body, dto.MaxImageBytes))
}
