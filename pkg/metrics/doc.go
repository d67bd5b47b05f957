/*
Package metrics provides Prometheus metrics collection and exposition for
Nebula's HTTP API, SAML handshake, token issuance, and workspace registry.

Metrics are registered at package init via prometheus.MustRegister and
exposed for scraping through Handler(), mounted by internal/httpapi at
/metrics. API request counts and latencies are recorded by httpapi's
requestMetrics middleware; the domain counters for SAML attempts, tokens
minted, machine identities and secret/path operations are incremented
where those operations happen. JWKSRefreshTotal, PolicyEvaluationsTotal
and MigrationRunsTotal are registered and exposed, but no code path
increments them.

WorkspacesTotal is the one gauge with no natural place to update on the
request path: Collector polls the workspace count on a fixed interval and
sets it, started once at process startup and stopped at shutdown.

HealthChecker (health.go) tracks readiness of a small set of named
components (database, jwks, saml) independent of the Prometheus registry,
backing the /health, /ready, and /live endpoints.
*/
package metrics
