// Package metrics exposes Prometheus collectors for the custody
// subsystem. All collectors live in a private registry so tests can
// create isolated instances.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "walletguard"

// Registry bundles every collector the service emits.
type Registry struct {
	registry *prometheus.Registry

	ChallengesIssued *prometheus.CounterVec
	Unlocks          *prometheus.CounterVec
	SecretMigrations *prometheus.CounterVec
	HeadlessAccesses *prometheus.CounterVec
	EmergencyStops   prometheus.Counter
	MnemonicReveals  *prometheus.CounterVec
	PolicyChecks     *prometheus.CounterVec
	RequestDuration  *prometheus.HistogramVec
	sessionsActive   prometheus.GaugeFunc
}

// NewRegistry creates a Registry. sessionCount is polled on scrape for
// the live session gauge; pass nil to omit it.
func NewRegistry(sessionCount func() int) *Registry {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)

	r := &Registry{
		registry: reg,

		ChallengesIssued: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "auth",
			Name:      "challenges_issued_total",
			Help:      "Signing challenges issued, by purpose.",
		}, []string{"purpose"}),

		Unlocks: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "auth",
			Name:      "unlocks_total",
			Help:      "Wallet unlock attempts, by result.",
		}, []string{"result"}),

		SecretMigrations: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "custody",
			Name:      "master_secret_migrations_total",
			Help:      "Master Secret storage format transitions, by outcome.",
		}, []string{"outcome"}),

		HeadlessAccesses: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "execution",
			Name:      "headless_accesses_total",
			Help:      "Headless Master Secret accesses, by result.",
		}, []string{"result"}),

		EmergencyStops: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "execution",
			Name:      "emergency_stops_total",
			Help:      "Emergency stops triggered.",
		}),

		MnemonicReveals: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "vault",
			Name:      "mnemonic_reveals_total",
			Help:      "Mnemonic reveal attempts, by result.",
		}, []string{"result"}),

		PolicyChecks: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "policy",
			Name:      "verifications_total",
			Help:      "Policy HMAC verifications, by result.",
		}, []string{"result"}),

		RequestDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "HTTP request latency, by route and status class.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"route", "status"}),
	}

	if sessionCount != nil {
		r.sessionsActive = factory.NewGaugeFunc(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "custody",
			Name:      "sessions_active",
			Help:      "Unlocked sessions currently held in memory.",
		}, func() float64 { return float64(sessionCount()) })
	}

	return r
}

// Handler returns the scrape endpoint for this registry.
func (r *Registry) Handler() http.Handler {
	return promhttp.HandlerFor(r.registry, promhttp.HandlerOpts{})
}

// ObserveRequest records one HTTP request.
func (r *Registry) ObserveRequest(route, status string, elapsed time.Duration) {
	r.RequestDuration.WithLabelValues(route, status).Observe(elapsed.Seconds())
}

// Result label values shared by the counters above.
const (
	ResultSuccess     = "success"
	ResultFailure     = "failure"
	ResultRateLimited = "rate_limited"
	ResultDenied      = "denied"

	OutcomeReencrypted = "reencrypted"
	OutcomeRepaired    = "repaired"
	OutcomeRegenerated = "regenerated"
)
