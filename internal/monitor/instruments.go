package monitor

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"postpilot/internal/retry"
)

// Instruments groups the Prometheus metrics exported by the engine.
// Registered once at startup via NewInstruments; a custom registry keeps
// tests isolated from global state.
type Instruments struct {
	PublishesTotal  *prometheus.CounterVec
	PublishDuration *prometheus.HistogramVec
	QueueDepth      prometheus.Gauge
	Healthy         prometheus.Gauge
}

// NewInstruments registers all instruments with reg and returns them.
func NewInstruments(reg prometheus.Registerer) *Instruments {
	inst := &Instruments{
		PublishesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "postpilot_publishes_total",
			Help: "Publish attempts by target and result (success or failure kind).",
		}, []string{"target", "result"}),

		PublishDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "postpilot_publish_duration_seconds",
			Help:    "Publish attempt latency from dispatch to completion.",
			Buckets: prometheus.DefBuckets,
		}, []string{"target"}),

		QueueDepth: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "postpilot_queue_depth",
			Help: "Items currently indexed in the post queue.",
		}),

		Healthy: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "postpilot_healthy",
			Help: "1 when the engine passes its health check, 0 otherwise.",
		}),
	}

	reg.MustRegister(
		inst.PublishesTotal,
		inst.PublishDuration,
		inst.QueueDepth,
		inst.Healthy,
	)
	return inst
}

func (i *Instruments) observeSuccess(target string, d time.Duration) {
	i.PublishesTotal.WithLabelValues(target, "success").Inc()
	i.PublishDuration.WithLabelValues(target).Observe(d.Seconds())
}

func (i *Instruments) observeFailure(target string, kind retry.Kind, d time.Duration) {
	i.PublishesTotal.WithLabelValues(target, string(kind)).Inc()
	i.PublishDuration.WithLabelValues(target).Observe(d.Seconds())
}

func (i *Instruments) setHealthy(ok bool) {
	if ok {
		i.Healthy.Set(1)
	} else {
		i.Healthy.Set(0)
	}
}

// SetQueueDepth is called by the scheduler after each drain.
func (i *Instruments) SetQueueDepth(n int) {
	if i == nil {
		return
	}
	i.QueueDepth.Set(float64(n))
}
