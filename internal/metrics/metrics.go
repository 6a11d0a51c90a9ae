package metrics

import (
	"fmt"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const (
	namespace   = "whiteboard"
	eventLabel  = "event"
	reasonLabel = "reason"
	kindLabel   = "kind"
)

// 丢弃原因
const (
	ReasonBlocked       = "blocked"
	ReasonNotMember     = "not_member"
	ReasonNotTutor      = "not_tutor"
	ReasonMalformed     = "malformed"
	ReasonAuthorSpoofed = "author_mismatch"
	ReasonWrongRoom     = "wrong_room"
)

// Metrics 中继层的 Prometheus 指标。nil 接收者上的方法都是空操作，方便测试时不注入。
type Metrics struct {
	registry *prometheus.Registry

	framesReceived    *prometheus.CounterVec
	framesDelivered   *prometheus.CounterVec
	framesDropped     *prometheus.CounterVec
	operations        *prometheus.CounterVec
	activeRooms       prometheus.Gauge
	activeConns       prometheus.Gauge
	sendQueueOverrun  prometheus.Counter
	snapshotsArchived prometheus.Counter
}

// New 创建独立 registry 上的指标集合
func New() (*Metrics, error) {
	reg := prometheus.NewRegistry()
	if err := reg.Register(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{})); err != nil {
		return nil, fmt.Errorf("register process collector: %w", err)
	}
	if err := reg.Register(collectors.NewGoCollector()); err != nil {
		return nil, fmt.Errorf("register go collector: %w", err)
	}

	return &Metrics{
		registry: reg,
		framesReceived: promauto.With(reg).NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "relay",
			Name:      "frames_received_total",
			Help:      "Inbound websocket frames by event name.",
		}, []string{eventLabel}),
		framesDelivered: promauto.With(reg).NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "relay",
			Name:      "frames_delivered_total",
			Help:      "Outbound frames queued to members by event name.",
		}, []string{eventLabel}),
		framesDropped: promauto.With(reg).NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "relay",
			Name:      "frames_dropped_total",
			Help:      "Inbound frames dropped by the permission gate.",
		}, []string{eventLabel, reasonLabel}),
		operations: promauto.With(reg).NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "relay",
			Name:      "operations_recorded_total",
			Help:      "Draw operations appended to room action logs.",
		}, []string{kindLabel}),
		activeRooms: promauto.With(reg).NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "rooms",
			Name:      "active",
			Help:      "Rooms currently held in memory.",
		}),
		activeConns: promauto.With(reg).NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "hub",
			Name:      "connections",
			Help:      "Open websocket connections.",
		}),
		sendQueueOverrun: promauto.With(reg).NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "hub",
			Name:      "send_queue_overrun_total",
			Help:      "Messages skipped because a client's send buffer was full.",
		}),
		snapshotsArchived: promauto.With(reg).NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "snapshots",
			Name:      "archived_total",
			Help:      "Room snapshots written to the database.",
		}),
	}, nil
}

// Handler 返回 /metrics 的 HTTP handler
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Registry 测试时读取指标
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

func (m *Metrics) FrameReceived(event string) {
	if m == nil {
		return
	}
	m.framesReceived.WithLabelValues(event).Inc()
}

func (m *Metrics) FrameDelivered(event string, n int) {
	if m == nil || n <= 0 {
		return
	}
	m.framesDelivered.WithLabelValues(event).Add(float64(n))
}

func (m *Metrics) FrameDropped(event, reason string) {
	if m == nil {
		return
	}
	m.framesDropped.WithLabelValues(event, reason).Inc()
}

func (m *Metrics) OperationRecorded(kind string) {
	if m == nil {
		return
	}
	m.operations.WithLabelValues(kind).Inc()
}

func (m *Metrics) SetActiveRooms(n int) {
	if m == nil {
		return
	}
	m.activeRooms.Set(float64(n))
}

func (m *Metrics) SetConnections(n int) {
	if m == nil {
		return
	}
	m.activeConns.Set(float64(n))
}

func (m *Metrics) SendQueueOverrun() {
	if m == nil {
		return
	}
	m.sendQueueOverrun.Inc()
}

func (m *Metrics) SnapshotArchived() {
	if m == nil {
		return
	}
	m.snapshotsArchived.Inc()
}
