package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/ostendo-io/wawagardenbar-app-sub003/internal/domain"
)

const namespace = "wawa"

// Recorder owns a private registry so tests and multiple runtimes never collide.
type Recorder struct {
	registry *prometheus.Registry

	orderTransitions *prometheus.CounterVec
	reconcile        *prometheus.CounterVec
	pointsAppends    *prometheus.CounterVec
	gatewayCalls     *prometheus.CounterVec
	httpInFlight     prometheus.Gauge
	httpDuration     *prometheus.HistogramVec
}

func NewRecorder() *Recorder {
	r := &Recorder{
		registry: prometheus.NewRegistry(),
		orderTransitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "orders",
			Name:      "transitions_total",
			Help:      "Order status transitions applied.",
		}, []string{"from", "to"}),
		reconcile: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "payments",
			Name:      "reconcile_total",
			Help:      "Payment reconciliation outcomes by signal source.",
		}, []string{"source", "outcome"}),
		pointsAppends: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "points",
			Name:      "ledger_appends_total",
			Help:      "Points ledger entries appended.",
		}, []string{"type"}),
		gatewayCalls: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "gateway",
			Name:      "calls_total",
			Help:      "Outbound payment gateway attempts.",
		}, []string{"operation", "outcome"}),
		httpInFlight: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "inflight_requests",
			Help:      "Current number of in-flight HTTP requests.",
		}),
		httpDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "Duration of HTTP requests.",
			Buckets:   prometheus.ExponentialBuckets(0.005, 2, 10),
		}, []string{"method", "route", "status"}),
	}
	r.registry.MustRegister(
		r.orderTransitions,
		r.reconcile,
		r.pointsAppends,
		r.gatewayCalls,
		r.httpInFlight,
		r.httpDuration,
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		collectors.NewGoCollector(),
	)
	return r
}

func (r *Recorder) OrderTransition(from, to domain.OrderStatus) {
	r.orderTransitions.WithLabelValues(string(from), string(to)).Inc()
}

func (r *Recorder) ReconcileOutcome(source, outcome string) {
	r.reconcile.WithLabelValues(source, outcome).Inc()
}

func (r *Recorder) PointsAppend(txType domain.PointsTxType) {
	r.pointsAppends.WithLabelValues(string(txType)).Inc()
}

func (r *Recorder) GatewayCall(operation, outcome string) {
	r.gatewayCalls.WithLabelValues(operation, outcome).Inc()
}

// RegisterGaugeFunc exposes a value sampled at scrape time.
func (r *Recorder) RegisterGaugeFunc(subsystem, name, help string, fn func() float64) {
	r.registry.MustRegister(prometheus.NewGaugeFunc(prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: subsystem,
		Name:      name,
		Help:      help,
	}, fn))
}

func (r *Recorder) Handler() http.Handler {
	return promhttp.HandlerFor(r.registry, promhttp.HandlerOpts{})
}

func (r *Recorder) Gatherer() prometheus.Gatherer { return r.registry }

// Middleware records request durations labelled by the matched chi route pattern.
func (r *Recorder) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, req.ProtoMajor)
		start := time.Now()
		r.httpInFlight.Inc()
		defer func() {
			r.httpInFlight.Dec()
			route := "unmatched"
			if rctx := chi.RouteContext(req.Context()); rctx != nil {
				if pattern := rctx.RoutePattern(); pattern != "" {
					route = pattern
				}
			}
			status := ww.Status()
			if status == 0 {
				status = http.StatusOK
			}
			r.httpDuration.WithLabelValues(req.Method, route, strconv.Itoa(status)).Observe(time.Since(start).Seconds())
		}()
		next.ServeHTTP(ww, req)
	})
}
