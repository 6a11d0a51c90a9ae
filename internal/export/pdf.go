package export

import (
	"fmt"
	"io"
	"math"
	"strconv"
	"strings"

	"classroom-whiteboard/internal/domain"

	"github.com/jung-kurt/gofpdf"
	"github.com/sirupsen/logrus"
	"golang.org/x/image/colornames"
)

// 画布像素到毫米的换算比例，约 1100px 宽的画布可以放进 A4 横版
const pxToMM = 0.25

const arrowHeadPx = 15.0

type rgb struct{ r, g, b int }

// WritePDF 把快照渲染为单页矢量 PDF 写入 w。
// 无法解码的对象会被跳过，image / pdf-page 只绘制占位框。
func WritePDF(w io.Writer, roomID string, snap domain.Snapshot) error {
	pdf := gofpdf.New("L", "mm", "A4", "")
	pdf.SetTitle("Whiteboard "+roomID, true)
	pdf.SetAutoPageBreak(false, 0)
	pdf.AddPage()
	pdf.SetLineCapStyle("round")
	pdf.SetLineJoinStyle("round")

	rendered := 0
	for _, p := range snap.Objects {
		obj, err := toObject(p)
		if err != nil {
			logrus.WithFields(logrus.Fields{"room_id": roomID, "object_id": p.ID()}).WithError(err).Debug("Skipping object in PDF export")
			continue
		}
		if drawObject(pdf, obj) {
			rendered++
		}
	}

	logrus.WithFields(logrus.Fields{"room_id": roomID, "objects": rendered}).Debug("Snapshot rendered to PDF")
	if err := pdf.Output(w); err != nil {
		return fmt.Errorf("render pdf for room %s: %w", roomID, err)
	}
	return nil
}

// toObject 只做结构化解码，不加载像素
func toObject(p domain.Payload) (*domain.DrawableObject, error) {
	id, owner, typ := p.ID(), p.OwnerID(), p.Type()
	if id == "" || owner == "" {
		return nil, domain.ErrInvalidObject
	}
	if !typ.Valid() {
		return nil, domain.ErrUnsupportedType
	}
	obj := &domain.DrawableObject{ID: id, OwnerID: owner, Type: typ, Attrs: make(map[string]any, len(p))}
	for k, v := range p {
		obj.Attrs[k] = v
	}
	domain.NormalizeColors(obj)
	return obj, nil
}

func drawObject(pdf *gofpdf.Fpdf, obj *domain.DrawableObject) bool {
	stroke, hasStroke := parseColor(obj.String("stroke"))
	fill, hasFill := parseColor(obj.String("fill"))
	width := obj.Float("strokeWidth")
	if width <= 0 {
		width = 1
	}
	pdf.SetLineWidth(width * pxToMM)
	pdf.SetDrawColor(stroke.r, stroke.g, stroke.b)
	pdf.SetFillColor(fill.r, fill.g, fill.b)
	style := drawStyle(hasStroke, hasFill)

	left, top := obj.Float("left")*pxToMM, obj.Float("top")*pxToMM
	sx, sy := scale(obj, "scaleX"), scale(obj, "scaleY")

	switch obj.Type {
	case domain.ObjectRect:
		pdf.Rect(left, top, obj.Float("width")*sx*pxToMM, obj.Float("height")*sy*pxToMM, style)
	case domain.ObjectCircle:
		rx, ry := obj.Float("radius")*sx*pxToMM, obj.Float("radius")*sy*pxToMM
		pdf.Ellipse(left+rx, top+ry, rx, ry, 0, style)
	case domain.ObjectLine:
		x1, y1, x2, y2 := endpoints(obj)
		pdf.Line(x1, y1, x2, y2)
	case domain.ObjectArrow:
		x1, y1, x2, y2 := endpoints(obj)
		pdf.Line(x1, y1, x2, y2)
		angle := math.Atan2(y2-y1, x2-x1)
		head := arrowHeadPx * pxToMM
		for _, d := range []float64{-math.Pi / 6, math.Pi / 6} {
			pdf.Line(x2, y2, x2-head*math.Cos(angle+d), y2-head*math.Sin(angle+d))
		}
	case domain.ObjectPath:
		if !drawPath(pdf, obj.Attrs["path"]) {
			return false
		}
	case domain.ObjectText:
		size := obj.Float("fontSize")
		if size <= 0 {
			size = 20
		}
		// 像素字号换算为点
		pt := size * sy * pxToMM * 72 / 25.4
		pdf.SetFont("Helvetica", "", pt)
		pdf.SetTextColor(fill.r, fill.g, fill.b)
		for i, line := range strings.Split(obj.String("text"), "\n") {
			pdf.Text(left, top+float64(i+1)*size*sy*pxToMM, line)
		}
	case domain.ObjectImage, domain.ObjectPDFPage:
		w, h := obj.Float("width")*sx*pxToMM, obj.Float("height")*sy*pxToMM
		if w <= 0 || h <= 0 {
			return false
		}
		pdf.SetDrawColor(160, 160, 160)
		pdf.SetDashPattern([]float64{2, 1}, 0)
		pdf.Rect(left, top, w, h, "D")
		pdf.SetDashPattern([]float64{}, 0)
	default:
		// laser-pointer 等瞬时对象不导出
		return false
	}
	return true
}

func drawStyle(stroke, fill bool) string {
	switch {
	case stroke && fill:
		return "FD"
	case fill:
		return "F"
	default:
		return "D"
	}
}

func scale(obj *domain.DrawableObject, key string) float64 {
	if _, ok := obj.Attr(key); !ok {
		return 1
	}
	if v := obj.Float(key); v > 0 {
		return v
	}
	return 1
}

func endpoints(obj *domain.DrawableObject) (x1, y1, x2, y2 float64) {
	return obj.Float("x1") * pxToMM, obj.Float("y1") * pxToMM, obj.Float("x2") * pxToMM, obj.Float("y2") * pxToMM
}

// drawPath 支持 fabric 路径指令 M / L / Q / C / Z
func drawPath(pdf *gofpdf.Fpdf, raw any) bool {
	cmds, ok := raw.([]any)
	if !ok || len(cmds) == 0 {
		return false
	}
	started := false
	for _, c := range cmds {
		seg, ok := c.([]any)
		if !ok || len(seg) == 0 {
			continue
		}
		op, _ := seg[0].(string)
		n := numbers(seg[1:])
		switch strings.ToUpper(op) {
		case "M":
			if len(n) >= 2 {
				pdf.MoveTo(n[0], n[1])
				started = true
			}
		case "L":
			if started && len(n) >= 2 {
				pdf.LineTo(n[0], n[1])
			}
		case "Q":
			if started && len(n) >= 4 {
				pdf.CurveTo(n[0], n[1], n[2], n[3])
			}
		case "C":
			if started && len(n) >= 6 {
				pdf.CurveBezierCubicTo(n[0], n[1], n[2], n[3], n[4], n[5])
			}
		case "Z":
			if started {
				pdf.ClosePath()
			}
		}
	}
	if !started {
		return false
	}
	pdf.DrawPath("D")
	return true
}

func numbers(in []any) []float64 {
	out := make([]float64, 0, len(in))
	for _, v := range in {
		f, ok := v.(float64)
		if !ok {
			return out
		}
		out = append(out, f*pxToMM)
	}
	return out
}

// parseColor 解析 #rgb / #rrggbb / rgb() / rgba() / CSS 颜色名。
// transparent 与空串返回 false，表示不绘制。hsl 形式按黑色处理。
func parseColor(s string) (rgb, bool) {
	s = strings.ToLower(strings.TrimSpace(s))
	switch {
	case s == "" || s == "transparent":
		return rgb{}, false
	case strings.HasPrefix(s, "#"):
		return parseHex(s[1:]), true
	case strings.HasPrefix(s, "rgb"):
		open, end := strings.IndexByte(s, '('), strings.IndexByte(s, ')')
		if open < 0 || end < open {
			return rgb{}, true
		}
		parts := strings.Split(s[open+1:end], ",")
		if len(parts) < 3 {
			return rgb{}, true
		}
		if len(parts) == 4 && strings.TrimSpace(parts[3]) == "0" {
			return rgb{}, false
		}
		var c [3]int
		for i := 0; i < 3; i++ {
			v, err := strconv.Atoi(strings.TrimSpace(parts[i]))
			if err != nil {
				return rgb{}, true
			}
			c[i] = clamp(v)
		}
		return rgb{c[0], c[1], c[2]}, true
	}
	if named, ok := colornames.Map[s]; ok {
		return rgb{int(named.R), int(named.G), int(named.B)}, true
	}
	return rgb{}, true
}

func parseHex(h string) rgb {
	if len(h) == 3 || len(h) == 4 {
		h = string([]byte{h[0], h[0], h[1], h[1], h[2], h[2]})
	}
	if len(h) < 6 {
		return rgb{}
	}
	v, err := strconv.ParseUint(h[:6], 16, 32)
	if err != nil {
		return rgb{}
	}
	return rgb{int(v >> 16 & 0xff), int(v >> 8 & 0xff), int(v & 0xff)}
}

func clamp(v int) int {
	if v < 0 {
		return 0
	}
	if v > 255 {
		return 255
	}
	return v
}
