package syncengine

import (
	"math"
	"sync"
	"time"

	"github.com/zoobzio/clockz"
	"golang.org/x/time/rate"
)

// 光标/激光笔广播的默认节流参数
const (
	DefaultCursorMinDelta    = 2.0
	DefaultCursorMinInterval = 30 * time.Millisecond
)

// CursorThrottle 限制光标位置的广播频率：位移不足 minDelta 或距上次不足 minInterval 都不发送
type CursorThrottle struct {
	mu       sync.Mutex
	clock    Clock
	limiter  *rate.Limiter
	minDelta float64
	lastX    float64
	lastY    float64
	sent     bool
}

// NewCursorThrottle 创建节流器。clock 为 nil 时使用 clockz.RealClock。
func NewCursorThrottle(clock Clock, minDelta float64, minInterval time.Duration) *CursorThrottle {
	if clock == nil {
		clock = clockz.RealClock
	}
	if minDelta < 0 {
		minDelta = 0
	}
	if minInterval <= 0 {
		minInterval = DefaultCursorMinInterval
	}
	return &CursorThrottle{
		clock:    clock,
		limiter:  rate.NewLimiter(rate.Every(minInterval), 1),
		minDelta: minDelta,
	}
}

// Allow 判断该位置是否应该发送，返回 true 时记为已发送
func (t *CursorThrottle) Allow(x, y float64) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.sent && math.Hypot(x-t.lastX, y-t.lastY) < t.minDelta {
		return false
	}
	if !t.limiter.AllowN(t.clock.Now(), 1) {
		return false
	}
	t.lastX, t.lastY, t.sent = x, y, true
	return true
}
