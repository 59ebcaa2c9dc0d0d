package observability

import (
	"fmt"
	"math"
	"math/big"
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

type gatewayMetrics struct {
	requests  *prometheus.CounterVec
	errors    *prometheus.CounterVec
	latency   *prometheus.HistogramVec
	throttles *prometheus.CounterVec
}

// VaultMetrics bundles collectors tracking ledger flows.
type VaultMetrics struct {
	deposits    prometheus.Counter
	withdrawals prometheus.Counter
	amounts     *prometheus.CounterVec
	principal   prometheus.Gauge
}

// SessionMetrics bundles collectors tracking session lifecycle activity.
type SessionMetrics struct {
	transitions *prometheus.CounterVec
	settled     *prometheus.CounterVec
	active      prometheus.Gauge
}

var (
	gatewayMetricsOnce sync.Once
	gatewayRegistry    *gatewayMetrics

	vaultMetricsOnce sync.Once
	vaultRegistry    *VaultMetrics

	sessionMetricsOnce sync.Once
	sessionRegistry    *SessionMetrics
)

// GatewayMetrics returns the lazily-initialised registry used to record HTTP
// gateway activity.
func GatewayMetrics() *gatewayMetrics {
	gatewayMetricsOnce.Do(func() {
		gatewayRegistry = &gatewayMetrics{
			requests: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "streamvault",
				Subsystem: "gateway",
				Name:      "requests_total",
				Help:      "Total gateway requests segmented by route and outcome.",
			}, []string{"route", "outcome"}),
			errors: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "streamvault",
				Subsystem: "gateway",
				Name:      "errors_total",
				Help:      "Total gateway errors segmented by route and status code.",
			}, []string{"route", "status"}),
			latency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
				Namespace: "streamvault",
				Subsystem: "gateway",
				Name:      "request_duration_seconds",
				Help:      "Latency distribution for gateway handlers.",
				Buckets:   prometheus.DefBuckets,
			}, []string{"route"}),
			throttles: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "streamvault",
				Subsystem: "gateway",
				Name:      "throttles_total",
				Help:      "Count of requests rejected due to throttling policies.",
			}, []string{"route", "reason"}),
		}
		prometheus.MustRegister(
			gatewayRegistry.requests,
			gatewayRegistry.errors,
			gatewayRegistry.latency,
			gatewayRegistry.throttles,
		)
	})
	return gatewayRegistry
}

// Observe records the outcome of a gateway request. The status code should be
// the HTTP status that was ultimately written to the response writer.
func (m *gatewayMetrics) Observe(route string, status int, duration time.Duration) {
	if m == nil {
		return
	}
	if route == "" {
		route = "unknown"
	}
	outcome := "success"
	if status >= 400 {
		outcome = "error"
	}
	m.requests.WithLabelValues(route, outcome).Inc()
	if status >= 400 {
		m.errors.WithLabelValues(route, fmt.Sprintf("%d", status)).Inc()
	}
	m.latency.WithLabelValues(route).Observe(duration.Seconds())
}

// RecordThrottle increments the throttle counter for the supplied route and
// reason. Reasons should be stable strings such as "rate_limit" so dashboards
// and alerts remain consistent.
func (m *gatewayMetrics) RecordThrottle(route, reason string) {
	if m == nil {
		return
	}
	if route == "" {
		route = "unknown"
	}
	if reason == "" {
		reason = "unspecified"
	}
	m.throttles.WithLabelValues(route, reason).Inc()
}

// Vault exposes the metrics registry for ledger operations.
func Vault() *VaultMetrics {
	vaultMetricsOnce.Do(func() {
		vaultRegistry = &VaultMetrics{
			deposits: prometheus.NewCounter(prometheus.CounterOpts{
				Namespace: "streamvault",
				Subsystem: "vault",
				Name:      "deposits_total",
				Help:      "Count of completed deposits.",
			}),
			withdrawals: prometheus.NewCounter(prometheus.CounterOpts{
				Namespace: "streamvault",
				Subsystem: "vault",
				Name:      "withdrawals_total",
				Help:      "Count of completed withdrawals.",
			}),
			amounts: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "streamvault",
				Subsystem: "vault",
				Name:      "flow_units_total",
				Help:      "Cumulative flow in integer units segmented by direction and bucket.",
			}, []string{"direction", "bucket"}),
			principal: prometheus.NewGauge(prometheus.GaugeOpts{
				Namespace: "streamvault",
				Subsystem: "vault",
				Name:      "total_principal",
				Help:      "Current total principal held across all positions.",
			}),
		}
		prometheus.MustRegister(
			vaultRegistry.deposits,
			vaultRegistry.withdrawals,
			vaultRegistry.amounts,
			vaultRegistry.principal,
		)
	})
	return vaultRegistry
}

// RecordDeposit updates deposit collectors after a committed deposit.
func (m *VaultMetrics) RecordDeposit(amount, totalPrincipal *big.Int) {
	if m == nil {
		return
	}
	m.deposits.Inc()
	m.amounts.WithLabelValues("in", "principal").Add(bigToFloat(amount))
	m.principal.Set(bigToFloat(totalPrincipal))
}

// RecordWithdrawal updates withdrawal collectors with the yield/principal split
// of a committed withdrawal.
func (m *VaultMetrics) RecordWithdrawal(fromYield, fromPrincipal, totalPrincipal *big.Int) {
	if m == nil {
		return
	}
	m.withdrawals.Inc()
	m.amounts.WithLabelValues("out", "yield").Add(bigToFloat(fromYield))
	m.amounts.WithLabelValues("out", "principal").Add(bigToFloat(fromPrincipal))
	m.principal.Set(bigToFloat(totalPrincipal))
}

// Session exposes the metrics registry for session lifecycle activity.
func Session() *SessionMetrics {
	sessionMetricsOnce.Do(func() {
		sessionRegistry = &SessionMetrics{
			transitions: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "streamvault",
				Subsystem: "session",
				Name:      "transitions_total",
				Help:      "Count of session lifecycle transitions segmented by kind.",
			}, []string{"transition"}),
			settled: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "streamvault",
				Subsystem: "session",
				Name:      "settled_units_total",
				Help:      "Cumulative settled charges segmented by funding bucket.",
			}, []string{"bucket"}),
			active: prometheus.NewGauge(prometheus.GaugeOpts{
				Namespace: "streamvault",
				Subsystem: "session",
				Name:      "active",
				Help:      "Number of sessions currently playing or paused.",
			}),
		}
		prometheus.MustRegister(
			sessionRegistry.transitions,
			sessionRegistry.settled,
			sessionRegistry.active,
		)
	})
	return sessionRegistry
}

// RecordTransition increments the transition counter and adjusts the active
// gauge for start (+1) and stop (-1) transitions.
func (m *SessionMetrics) RecordTransition(transition string) {
	if m == nil {
		return
	}
	transition = strings.TrimSpace(transition)
	if transition == "" {
		transition = "unknown"
	}
	m.transitions.WithLabelValues(transition).Inc()
	switch transition {
	case "start":
		m.active.Inc()
	case "stop":
		m.active.Dec()
	}
}

// RecordSettlement records the yield/principal split of a settled charge.
func (m *SessionMetrics) RecordSettlement(fromYield, fromPrincipal *big.Int) {
	if m == nil {
		return
	}
	m.settled.WithLabelValues("yield").Add(bigToFloat(fromYield))
	m.settled.WithLabelValues("principal").Add(bigToFloat(fromPrincipal))
}

func bigToFloat(value *big.Int) float64 {
	if value == nil {
		return 0
	}
	floatVal, acc := new(big.Float).SetInt(value).Float64()
	if acc != big.Exact {
		// Guard against NaN/Inf when conversion fails.
		if math.IsNaN(floatVal) || math.IsInf(floatVal, 0) {
			return 0
		}
	}
	return floatVal
}
