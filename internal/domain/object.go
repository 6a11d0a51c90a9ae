package domain

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// ObjectType 是可绘制对象的类型判别字段
type ObjectType string

const (
	ObjectPath         ObjectType = "path"
	ObjectRect         ObjectType = "rect"
	ObjectCircle       ObjectType = "circle"
	ObjectLine         ObjectType = "line"
	ObjectArrow        ObjectType = "arrow"
	ObjectText         ObjectType = "text"
	ObjectImage        ObjectType = "image"
	ObjectPDFPage      ObjectType = "pdf-page"
	ObjectLaserPointer ObjectType = "laser-pointer"
)

// Valid 判断类型是否在已知集合内
func (t ObjectType) Valid() bool {
	switch t {
	case ObjectPath, ObjectRect, ObjectCircle, ObjectLine, ObjectArrow,
		ObjectText, ObjectImage, ObjectPDFPage, ObjectLaserPointer:
		return true
	}
	return false
}

// NeedsPixels 表示解码时需要异步加载像素数据 (image / pdf-page)
func (t ObjectType) NeedsPixels() bool {
	return t == ObjectImage || t == ObjectPDFPage
}

// Source 标记对象是本地创建还是从远端操作应用而来，仅用于抑制回声，不会被传输
type Source int

const (
	SourceLocal Source = iota
	SourceRemote
)

// Interaction 是本地权限策略计算出的交互标志，不参与序列化
type Interaction struct {
	Selectable bool
	Evented    bool
	// 变换锁：为 true 时禁止对应操作
	LockMovement bool
	LockRotation bool
	LockScaling  bool
}

// FullyInteractive 可选中、可移动、可旋转、可缩放
func FullyInteractive() Interaction {
	return Interaction{Selectable: true, Evented: true}
}

// ReadOnly 可见可选中，但所有变换锁都启用
func ReadOnly() Interaction {
	return Interaction{Selectable: true, Evented: true, LockMovement: true, LockRotation: true, LockScaling: true}
}

// NonInteractive 完全不可交互
func NonInteractive() Interaction {
	return Interaction{LockMovement: true, LockRotation: true, LockScaling: true}
}

// DrawableObject 是白板上一个可绘制对象的规范表示。
// ID 与 OwnerID 在创建后不可变。
type DrawableObject struct {
	ID      string         `json:"id"`
	OwnerID string         `json:"ownerId"`
	Type    ObjectType     `json:"type"`
	Attrs   map[string]any `json:"-"` // 类型相关的几何/样式属性

	Source      Source      `json:"-"`
	Interaction Interaction `json:"-"`
	// Pixels 由 ImageLoader 为 image / pdf-page 填充
	Pixels *PixelData `json:"-"`
}

// Clone 返回对象的深拷贝 (Attrs 会被复制一层)
func (o *DrawableObject) Clone() *DrawableObject {
	if o == nil {
		return nil
	}
	c := *o
	c.Attrs = cloneAttrs(o.Attrs)
	return &c
}

// Attr 读取一个属性
func (o *DrawableObject) Attr(key string) (any, bool) {
	v, ok := o.Attrs[key]
	return v, ok
}

// Float 读取数值型属性，JSON 解码后的数字都是 float64
func (o *DrawableObject) Float(key string) float64 {
	switch v := o.Attrs[key].(type) {
	case float64:
		return v
	case float32:
		return float64(v)
	case int:
		return float64(v)
	case int64:
		return float64(v)
	}
	return 0
}

// String 读取字符串属性
func (o *DrawableObject) String(key string) string {
	s, _ := o.Attrs[key].(string)
	return s
}

// NewObjectID 生成 {ownerId}-{毫秒时间戳}-{随机串} 形式的对象 ID
func NewObjectID(ownerID string, now time.Time) string {
	random := strings.ReplaceAll(uuid.NewString(), "-", "")[:9]
	return fmt.Sprintf("%s-%d-%s", ownerID, now.UnixMilli(), random)
}

func cloneAttrs(in map[string]any) map[string]any {
	if in == nil {
		return nil
	}
	out := make(map[string]any, len(in))
	for k, v := range in {
		out[k] = cloneValue(v)
	}
	return out
}

func cloneValue(v any) any {
	switch t := v.(type) {
	case map[string]any:
		return cloneAttrs(t)
	case []any:
		out := make([]any, len(t))
		for i := range t {
			out[i] = cloneValue(t[i])
		}
		return out
	default:
		return v
	}
}
