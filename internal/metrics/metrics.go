package metrics

import "github.com/prometheus/client_golang/prometheus"

// Set holds every collector the console exports.
type Set struct {
	StockAdjustments     *prometheus.CounterVec // kind, mode
	ReconcileSkipped     *prometheus.CounterVec // reason
	ReconcileErrors      prometheus.Counter
	Transitions          *prometheus.CounterVec // to
	TransitionsRejected  *prometheus.CounterVec // reason
	OutOfBandTransitions prometheus.Counter
	Notifications        *prometheus.CounterVec // type
	SurfaceFailures      *prometheus.CounterVec // surface
	JournalEvents        *prometheus.CounterVec // event_type
	DoubleDeductions     prometheus.Counter
	HTTPRequests         *prometheus.CounterVec // method, path, status
	HTTPRequestDuration  *prometheus.HistogramVec
	WebsocketConnections prometheus.Gauge
}

// New builds the collectors and registers them with reg.
func New(reg prometheus.Registerer) *Set {
	s := &Set{
		StockAdjustments: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "stock_adjustments_total",
			Help: "Stock deductions and restorations applied by this console",
		}, []string{"kind", "mode"}),
		ReconcileSkipped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "reconcile_skipped_total",
			Help: "Reconciliation attempts skipped, by reason",
		}, []string{"reason"}),
		ReconcileErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "reconcile_errors_total",
			Help: "Reconciliation writes that failed",
		}),
		Transitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "order_transitions_total",
			Help: "Order status transitions written by this console",
		}, []string{"to"}),
		TransitionsRejected: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "order_transitions_rejected_total",
			Help: "Order status transitions rejected before any write",
		}, []string{"reason"}),
		OutOfBandTransitions: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "out_of_band_transitions_total",
			Help: "Observed status changes that are not edges of the order graph",
		}),
		Notifications: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "notifications_total",
			Help: "Notifications recorded in the session inbox",
		}, []string{"type"}),
		SurfaceFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "notification_surface_failures_total",
			Help: "Toast, tone or haptic calls that failed",
		}, []string{"surface"}),
		JournalEvents: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "journal_events_total",
			Help: "Envelopes persisted by the journal worker",
		}, []string{"event_type"}),
		DoubleDeductions: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "double_deductions_total",
			Help: "Orders whose stock was deducted more than once without a restore",
		}),
		HTTPRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP requests",
		}, []string{"method", "path", "status"}),
		HTTPRequestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "Duration of HTTP requests.",
			Buckets: prometheus.DefBuckets,
		}, []string{"method", "path", "status"}),
		WebsocketConnections: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "websocket_connections",
			Help: "Open console websocket connections",
		}),
	}
	if reg != nil {
		reg.MustRegister(
			s.StockAdjustments, s.ReconcileSkipped, s.ReconcileErrors,
			s.Transitions, s.TransitionsRejected, s.OutOfBandTransitions,
			s.Notifications, s.SurfaceFailures,
			s.JournalEvents, s.DoubleDeductions,
			s.HTTPRequests, s.HTTPRequestDuration, s.WebsocketConnections,
		)
	}
	return s
}

// NewUnregistered is for tests and tools that never expose /metrics.
func NewUnregistered() *Set { return New(nil) }
