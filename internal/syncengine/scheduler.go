package syncengine

import (
	"time"

	"github.com/zoobzio/clockz"
)

// DefaultFrameInterval 约等于 60fps 的一帧
const DefaultFrameInterval = 16 * time.Millisecond

// FrameScheduler 把回调推迟到下一帧执行
type FrameScheduler interface {
	Schedule(fn func())
}

// Clock 只需要读取当前时间，clockz.RealClock 满足该接口
type Clock interface {
	Now() time.Time
}

type clockScheduler struct {
	clock clockz.Clock
	frame time.Duration
}

// NewFrameScheduler 基于 clockz 的帧调度器。frame <= 0 时使用 DefaultFrameInterval。
func NewFrameScheduler(clock clockz.Clock, frame time.Duration) FrameScheduler {
	if clock == nil {
		clock = clockz.RealClock
	}
	if frame <= 0 {
		frame = DefaultFrameInterval
	}
	return &clockScheduler{clock: clock, frame: frame}
}

func (s *clockScheduler) Schedule(fn func()) {
	wait := s.clock.After(s.frame)
	go func() {
		<-wait
		fn()
	}()
}
