package domain

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/go-playground/validator/v10"
	"golang.org/x/image/colornames"
)

// DefaultColor 颜色缺失或无法识别时的替代值
const DefaultColor = "#000000"

// Payload 是对象在传输层的纯数据形式 (即 JSON 对象)
type Payload map[string]any

// ID 返回负载中的对象 ID
func (p Payload) ID() string {
	s, _ := p["id"].(string)
	return s
}

// OwnerID 返回负载中的所有者 ID
func (p Payload) OwnerID() string {
	s, _ := p["ownerId"].(string)
	return s
}

// Type 返回负载中的对象类型
func (p Payload) Type() ObjectType {
	s, _ := p["type"].(string)
	return ObjectType(s)
}

// Clone 深拷贝负载
func (p Payload) Clone() Payload {
	return Payload(cloneAttrs(p))
}

// PixelData 是 image / pdf-page 解码后的像素数据
type PixelData struct {
	Width  int
	Height int
	Bytes  []byte
}

// ImageLoader 负责获取并解压 image / pdf-page 的像素数据。
// 加载可能很慢，也可能失败；失败时对象不会出现在画布上。
type ImageLoader interface {
	Load(ctx context.Context, src string) (*PixelData, error)
}

// ImageLoaderFunc 让普通函数满足 ImageLoader
type ImageLoaderFunc func(ctx context.Context, src string) (*PixelData, error)

func (f ImageLoaderFunc) Load(ctx context.Context, src string) (*PixelData, error) {
	return f(ctx, src)
}

// 需要做颜色校验的属性
var colorAttrs = []string{"stroke", "fill", "color", "backgroundColor"}

// requiredColors 某些类型缺失颜色时也要补默认值
var requiredColors = map[ObjectType][]string{
	ObjectPath:  {"stroke"},
	ObjectLine:  {"stroke"},
	ObjectArrow: {"stroke"},
	ObjectText:  {"fill"},
}

var (
	validateOnce sync.Once
	validate     *validator.Validate
)

func colorValidator() *validator.Validate {
	validateOnce.Do(func() {
		validate = validator.New()
	})
	return validate
}

// IsRecognizedColor 判断颜色字符串是否为可识别格式:
// 十六进制、rgb()/rgba()/hsl()/hsla()、CSS 颜色名或 transparent
func IsRecognizedColor(s string) bool {
	s = strings.TrimSpace(s)
	if s == "" {
		return false
	}
	lower := strings.ToLower(s)
	if lower == "transparent" {
		return true
	}
	if _, ok := colornames.Map[lower]; ok {
		return true
	}
	return colorValidator().Var(lower, "hexcolor|rgb|rgba|hsl|hsla") == nil
}

// Encode 把对象编码为传输安全的负载，至少包含 id / ownerId / type
func Encode(obj *DrawableObject) Payload {
	p := make(Payload, len(obj.Attrs)+3)
	for k, v := range obj.Attrs {
		p[k] = cloneValue(v)
	}
	p["id"] = obj.ID
	p["ownerId"] = obj.OwnerID
	p["type"] = string(obj.Type)
	return p
}

// Decode 从负载重建对象，id 与 ownerId 原样保留。
// image / pdf-page 会调用 loader 加载像素数据，这一步可能阻塞，调用方应在后台执行；
// 返回错误时调用方应跳过该对象。
func Decode(ctx context.Context, p Payload, loader ImageLoader) (*DrawableObject, error) {
	id, owner, typ := p.ID(), p.OwnerID(), p.Type()
	if id == "" || owner == "" {
		return nil, fmt.Errorf("%w: missing id or ownerId", ErrInvalidObject)
	}
	if !typ.Valid() {
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedType, typ)
	}

	obj := &DrawableObject{
		ID:      id,
		OwnerID: owner,
		Type:    typ,
		Attrs:   make(map[string]any, len(p)),
		Source:  SourceRemote,
	}
	for k, v := range p {
		switch k {
		case "id", "ownerId", "type":
			continue
		}
		obj.Attrs[k] = cloneValue(v)
	}
	NormalizeColors(obj)

	if typ.NeedsPixels() {
		src := obj.String("src")
		if src == "" || loader == nil {
			return nil, fmt.Errorf("%w: %s %s has no pixel source", ErrDecodeFailed, typ, id)
		}
		px, err := loader.Load(ctx, src)
		if err != nil {
			return nil, fmt.Errorf("%w: %s %s: %v", ErrDecodeFailed, typ, id, err)
		}
		obj.Pixels = px
	}
	return obj, nil
}

// NormalizeColors 把无法识别的颜色替换为 DefaultColor，并为必需颜色补默认值
func NormalizeColors(obj *DrawableObject) {
	if obj.Attrs == nil {
		obj.Attrs = make(map[string]any)
	}
	for _, key := range colorAttrs {
		v, ok := obj.Attrs[key]
		if !ok || v == nil {
			continue
		}
		s, isStr := v.(string)
		if !isStr || !IsRecognizedColor(s) {
			obj.Attrs[key] = DefaultColor
		}
	}
	for _, key := range requiredColors[obj.Type] {
		if v, ok := obj.Attrs[key]; !ok || v == nil {
			obj.Attrs[key] = DefaultColor
		}
	}
}
