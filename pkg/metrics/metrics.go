package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Task metrics
	TasksTotal = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "purser_tasks_total",
			Help: "Total number of task documents by kind and stage",
		},
		[]string{"kind", "stage"},
	)

	TaskTransitionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "purser_task_transitions_total",
			Help: "Total number of task stage transitions by kind and stage",
		},
		[]string{"kind", "stage"},
	)

	TasksExpiredTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "purser_tasks_expired_total",
			Help: "Total number of task documents removed by the expiration sweep",
		},
	)

	CallbackFailuresTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "purser_callback_failures_total",
			Help: "Total number of callback notifications that could not be delivered",
		},
	)

	// Reservation metrics
	ReservedInstances = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "purser_reserved_instances",
			Help: "Currently reserved instances by placement",
		},
		[]string{"placement"},
	)

	ReservationRejectionsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "purser_reservation_rejections_total",
			Help: "Total number of reservations rejected by quota",
		},
	)

	// Control loop metrics
	ControlLoopCyclesTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "purser_control_loop_cycles_total",
			Help: "Total number of redeploy control loop cycles",
		},
	)

	ControlLoopDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "purser_control_loop_duration_seconds",
			Help:    "Redeploy control loop cycle duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
	)

	RedeploysTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "purser_redeploys_total",
			Help: "Total number of redeploy requests issued by the control loop",
		},
	)

	// API metrics
	APIRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "purser_api_requests_total",
			Help: "Total number of API requests by method and status",
		},
		[]string{"method", "status"},
	)
)

func init() {
	prometheus.MustRegister(TasksTotal)
	prometheus.MustRegister(TaskTransitionsTotal)
	prometheus.MustRegister(TasksExpiredTotal)
	prometheus.MustRegister(CallbackFailuresTotal)
	prometheus.MustRegister(ReservedInstances)
	prometheus.MustRegister(ReservationRejectionsTotal)
	prometheus.MustRegister(ControlLoopCyclesTotal)
	prometheus.MustRegister(ControlLoopDuration)
	prometheus.MustRegister(RedeploysTotal)
	prometheus.MustRegister(APIRequestsTotal)
}

// Handler returns the Prometheus HTTP handler
func Handler() http.Handler {
	return promhttp.Handler()
}

// Timer measures a duration for histogram observation
type Timer struct {
	start time.Time
}

// NewTimer starts a new timer
func NewTimer() *Timer {
	return &Timer{start: time.Now()}
}

// ObserveDuration records the elapsed time on the histogram
func (t *Timer) ObserveDuration(h prometheus.Histogram) {
	h.Observe(time.Since(t.start).Seconds())
}
