package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// HTTP boundary metrics
	APIRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "nebula_api_requests_total",
			Help: "Total number of HTTP requests by method, route, and status",
		},
		[]string{"method", "route", "status"},
	)

	APIRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "nebula_api_request_duration_seconds",
			Help:    "HTTP request duration in seconds by route",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"route"},
	)

	// Authority / token pipeline metrics
	SAMLAuthAttemptsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "nebula_saml_auth_attempts_total",
			Help: "Total number of SAML handshake completions by outcome",
		},
		[]string{"outcome"},
	)

	TokensMintedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "nebula_tokens_minted_total",
			Help: "Total number of signed tokens minted",
		},
	)

	JWKSRefreshTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "nebula_jwks_refresh_total",
			Help: "Total number of cached-remote JWKS refresh attempts by outcome",
		},
		[]string{"outcome"},
	)

	// Workspace lifecycle metrics
	WorkspacesTotal = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "nebula_workspaces_total",
			Help: "Total number of registered workspaces",
		},
	)

	MachineIdentitiesIssuedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "nebula_machine_identities_issued_total",
			Help: "Total number of machine identities issued",
		},
	)

	// Secret/Path/Policy domain metrics
	SecretOperationsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "nebula_secret_operations_total",
			Help: "Total number of secret use-case invocations by operation and outcome",
		},
		[]string{"operation", "outcome"},
	)

	PathOperationsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "nebula_path_operations_total",
			Help: "Total number of path use-case invocations by operation and outcome",
		},
		[]string{"operation", "outcome"},
	)

	PolicyEvaluationsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "nebula_policy_evaluations_total",
			Help: "Total number of policy expression evaluations by result",
		},
		[]string{"result"},
	)

	// Migration orchestrator metrics
	MigrationRunsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "nebula_migration_runs_total",
			Help: "Total number of schema migration runs by schema kind and outcome",
		},
		[]string{"kind", "outcome"},
	)
)

func init() {
	prometheus.MustRegister(APIRequestsTotal)
	prometheus.MustRegister(APIRequestDuration)
	prometheus.MustRegister(SAMLAuthAttemptsTotal)
	prometheus.MustRegister(TokensMintedTotal)
	prometheus.MustRegister(JWKSRefreshTotal)
	prometheus.MustRegister(WorkspacesTotal)
	prometheus.MustRegister(MachineIdentitiesIssuedTotal)
	prometheus.MustRegister(SecretOperationsTotal)
	prometheus.MustRegister(PathOperationsTotal)
	prometheus.MustRegister(PolicyEvaluationsTotal)
	prometheus.MustRegister(MigrationRunsTotal)
}

// Handler returns the Prometheus HTTP handler.
func Handler() http.Handler {
	return promhttp.Handler()
}

// Timer is a helper for timing operations.
type Timer struct {
	start time.Time
}

// NewTimer creates a new timer.
func NewTimer() *Timer {
	return &Timer{start: time.Now()}
}

// ObserveDuration records the duration to a histogram.
func (t *Timer) ObserveDuration(histogram prometheus.Histogram) {
	duration := time.Since(t.start).Seconds()
	histogram.Observe(duration)
}

// ObserveDurationVec records the duration to a histogram vec with labels.
func (t *Timer) ObserveDurationVec(histogram prometheus.ObserverVec, labels ...string) {
	duration := time.Since(t.start).Seconds()
	histogram.WithLabelValues(labels...).Observe(duration)
}

// Duration returns the elapsed time since timer started.
func (t *Timer) Duration() time.Duration {
	return time.Since(t.start)
}
