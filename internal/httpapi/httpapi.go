// Package httpapi is the HTTP composition boundary: chi routing, bearer-
// token authentication middleware, and thin JSON handlers translating wire
// requests into pkg/app facade calls. Routing shapes and JSON envelopes
// are this package's own design, not a contract fixed elsewhere; the
// domain semantics live entirely in the use-cases it calls.
package httpapi

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/boris-cremit/nebula/pkg/app"
	"github.com/boris-cremit/nebula/pkg/apperr"
	"github.com/boris-cremit/nebula/pkg/log"
	"github.com/boris-cremit/nebula/pkg/metrics"
	"github.com/boris-cremit/nebula/pkg/token"
	"github.com/boris-cremit/nebula/pkg/types"
)

type ctxKey int

const claimCtxKey ctxKey = iota

// NewRouter builds the complete HTTP handler for the server process.
func NewRouter(application *app.Application) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(requestMetrics)

	r.Get("/.well-known/jwks.json", wellKnownJWKS(application))
	r.Get("/health", func(w http.ResponseWriter, r *http.Request) { metrics.HealthHandler()(w, r) })
	r.Get("/ready", func(w http.ResponseWriter, r *http.Request) { metrics.ReadyHandler()(w, r) })
	r.Get("/live", func(w http.ResponseWriter, r *http.Request) { metrics.LivenessHandler()(w, r) })
	r.Handle("/metrics", metrics.Handler())

	r.Get("/login/saml", beginSAML(application))
	r.Post("/callback/saml", completeSAML(application))

	r.Group(func(r chi.Router) {
		r.Use(authenticate(application))

		r.Route("/workspaces", func(r chi.Router) {
			r.Route("/{name}", func(r chi.Router) {
				r.Post("/identities", issueMachineIdentity(application))

				r.Get("/paths", listPaths(application))
				r.Get("/paths/*", getPath(application))
				r.Post("/paths", registerPath(application))
				r.Put("/paths/*", updatePath(application))
				r.Delete("/paths/*", deletePath(application))

				r.Get("/policies", listPolicies(application))
				r.Post("/policies", registerPolicy(application))
				r.Put("/policies/{id}", updatePolicy(application))
				r.Delete("/policies/{id}", deletePolicy(application))

				r.Get("/parameters", listParameters(application))
				r.Get("/parameters/{key}", getParameter(application))
				r.Put("/parameters/{key}", setParameter(application))
				r.Delete("/parameters/{key}", deleteParameter(application))

				r.Get("/secrets/{identifier}", getSecret(application))
				r.Put("/secrets/{identifier}", setSecret(application))
				r.Post("/secrets/{identifier}", updateSecret(application))
				r.Delete("/secrets/{identifier}", deleteSecret(application))
			})
		})
	})

	return r
}

func requestMetrics(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		timer := metrics.NewTimer()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		route := chi.RouteContext(r.Context()).RoutePattern()
		if route == "" {
			route = r.URL.Path
		}
		timer.ObserveDurationVec(metrics.APIRequestDuration, route)
		metrics.APIRequestsTotal.WithLabelValues(r.Method, route, strconv.Itoa(ww.Status())).Inc()
	})
}

// authenticate validates the bearer token against the current JWKS
// discovery result and attaches the resulting NebulaClaim to the request
// context. Every workspace-scoped route runs behind this middleware.
func authenticate(application *app.Application) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			header := r.Header.Get("Authorization")
			compact, ok := strings.CutPrefix(header, "Bearer ")
			if !ok || compact == "" {
				writeError(w, apperr.New(apperr.KindAccessDenied, "missing bearer token"))
				return
			}

			keys, err := application.Discovery.Discover(r.Context())
			if err != nil {
				writeError(w, apperr.Anyhow(err))
				return
			}

			claim, err := token.Verify(r.Context(), compact, keys)
			if err != nil {
				writeError(w, apperr.New(apperr.KindAccessDenied, "invalid token"))
				return
			}

			ctx := context.WithValue(r.Context(), claimCtxKey, claim)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func claimFromContext(r *http.Request) types.NebulaClaim {
	claim, _ := r.Context().Value(claimCtxKey).(types.NebulaClaim)
	return claim
}

func workspaceParam(r *http.Request) string {
	return chi.URLParam(r, "name")
}

func pathParam(r *http.Request) string {
	p := chi.URLParam(r, "*")
	if !strings.HasPrefix(p, "/") {
		p = "/" + p
	}
	return p
}

func wellKnownJWKS(application *app.Application) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		set, err := application.Minter.JWKS()
		if err != nil {
			writeError(w, apperr.Anyhow(err))
			return
		}
		writeJSON(w, http.StatusOK, set)
	}
}

func beginSAML(application *app.Application) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		redirectURL, _, err := application.SAML.BeginAuth()
		if err != nil {
			writeError(w, err)
			return
		}
		http.Redirect(w, r, redirectURL, http.StatusFound)
	}
}

func completeSAML(application *app.Application) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := r.ParseForm(); err != nil {
			writeError(w, apperr.New(apperr.KindInvalidSecretIdentifier, "malformed form body"))
			return
		}

		claim, err := application.SAML.CompleteAuth(r.FormValue("SAMLResponse"), r.FormValue("RelayState"))
		if err != nil {
			metrics.SAMLAuthAttemptsTotal.WithLabelValues("failure").Inc()
			writeError(w, err)
			return
		}
		metrics.SAMLAuthAttemptsTotal.WithLabelValues("success").Inc()

		compact, err := application.Minter.Mint(claim)
		if err != nil {
			writeError(w, err)
			return
		}
		metrics.TokensMintedTotal.Inc()

		writeJSON(w, http.StatusOK, map[string]string{"token": compact})
	}
}

func issueMachineIdentity(application *app.Application) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		claim := claimFromContext(r)
		if claim.Role != types.RoleAdmin {
			writeError(w, apperr.New(apperr.KindAccessDenied, "only an admin claim may issue machine identities"))
			return
		}

		var body struct {
			Gid        string            `json:"gid"`
			Role       types.Role        `json:"role"`
			Attributes map[string]string `json:"attributes"`
		}
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			writeError(w, apperr.New(apperr.KindInvalidSecretIdentifier, "malformed body"))
			return
		}

		facade, err := application.EnsureWorkspace(r.Context(), workspaceParam(r))
		if err != nil {
			writeError(w, err)
			return
		}
		tx, err := facade.Begin(r.Context())
		if err != nil {
			writeError(w, err)
			return
		}
		defer tx.Rollback(r.Context())

		issued := types.NebulaClaim{Gid: body.Gid, WorkspaceName: facade.Name(), Role: body.Role, Attributes: body.Attributes}
		compact, err := facade.Authority().IssueMachineIdentity(r.Context(), tx, issued)
		if err != nil {
			writeError(w, err)
			return
		}
		if err := tx.Commit(r.Context()); err != nil {
			writeError(w, err)
			return
		}
		metrics.MachineIdentitiesIssuedTotal.Inc()

		writeJSON(w, http.StatusCreated, map[string]string{"token": compact})
	}
}

func listPaths(application *app.Application) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		facade, err := application.EnsureWorkspace(r.Context(), workspaceParam(r))
		if err != nil {
			writeError(w, err)
			return
		}
		tx, err := facade.Begin(r.Context())
		if err != nil {
			writeError(w, err)
			return
		}
		defer tx.Rollback(r.Context())

		paths, err := facade.Path().GetAll(r.Context(), tx)
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, paths)
	}
}

func getPath(application *app.Application) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		facade, err := application.EnsureWorkspace(r.Context(), workspaceParam(r))
		if err != nil {
			writeError(w, err)
			return
		}
		tx, err := facade.Begin(r.Context())
		if err != nil {
			writeError(w, err)
			return
		}
		defer tx.Rollback(r.Context())

		p, err := facade.Path().Get(r.Context(), tx, pathParam(r))
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, p)
	}
}

func registerPath(application *app.Application) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var body struct {
			Path      string   `json:"path"`
			PolicyIDs []string `json:"policy_ids"`
		}
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			writeError(w, apperr.New(apperr.KindInvalidPath, "malformed body"))
			return
		}

		claim := claimFromContext(r)
		facade, err := application.EnsureWorkspace(r.Context(), workspaceParam(r))
		if err != nil {
			writeError(w, err)
			return
		}
		tx, err := facade.Begin(r.Context())
		if err != nil {
			writeError(w, err)
			return
		}
		defer tx.Rollback(r.Context())

		p, err := facade.Path().Register(r.Context(), tx, body.Path, body.PolicyIDs, claim)
		if err != nil {
			metrics.PathOperationsTotal.WithLabelValues("register", "failure").Inc()
			writeError(w, err)
			return
		}
		if err := tx.Commit(r.Context()); err != nil {
			writeError(w, err)
			return
		}
		metrics.PathOperationsTotal.WithLabelValues("register", "success").Inc()
		writeJSON(w, http.StatusCreated, p)
	}
}

func updatePath(application *app.Application) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var body struct {
			NewPath   *string  `json:"new_path"`
			PolicyIDs []string `json:"policy_ids"`
		}
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			writeError(w, apperr.New(apperr.KindInvalidPath, "malformed body"))
			return
		}

		claim := claimFromContext(r)
		facade, err := application.EnsureWorkspace(r.Context(), workspaceParam(r))
		if err != nil {
			writeError(w, err)
			return
		}
		tx, err := facade.Begin(r.Context())
		if err != nil {
			writeError(w, err)
			return
		}
		defer tx.Rollback(r.Context())

		if err := facade.Path().Update(r.Context(), tx, pathParam(r), body.NewPath, body.PolicyIDs, claim); err != nil {
			metrics.PathOperationsTotal.WithLabelValues("update", "failure").Inc()
			writeError(w, err)
			return
		}
		if err := tx.Commit(r.Context()); err != nil {
			writeError(w, err)
			return
		}
		metrics.PathOperationsTotal.WithLabelValues("update", "success").Inc()
		w.WriteHeader(http.StatusNoContent)
	}
}

func deletePath(application *app.Application) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		claim := claimFromContext(r)
		facade, err := application.EnsureWorkspace(r.Context(), workspaceParam(r))
		if err != nil {
			writeError(w, err)
			return
		}
		tx, err := facade.Begin(r.Context())
		if err != nil {
			writeError(w, err)
			return
		}
		defer tx.Rollback(r.Context())

		if err := facade.Path().Delete(r.Context(), tx, pathParam(r), claim); err != nil {
			metrics.PathOperationsTotal.WithLabelValues("delete", "failure").Inc()
			writeError(w, err)
			return
		}
		if err := tx.Commit(r.Context()); err != nil {
			writeError(w, err)
			return
		}
		metrics.PathOperationsTotal.WithLabelValues("delete", "success").Inc()
		w.WriteHeader(http.StatusNoContent)
	}
}

func listPolicies(application *app.Application) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		facade, err := application.EnsureWorkspace(r.Context(), workspaceParam(r))
		if err != nil {
			writeError(w, err)
			return
		}
		tx, err := facade.Begin(r.Context())
		if err != nil {
			writeError(w, err)
			return
		}
		defer tx.Rollback(r.Context())

		policies, err := facade.Policy().List(r.Context(), tx)
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, policies)
	}
}

func registerPolicy(application *app.Application) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var body struct {
			Name       string `json:"name"`
			Expression string `json:"expression"`
		}
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			writeError(w, apperr.New(apperr.KindInvalidExpression, "malformed body"))
			return
		}

		facade, err := application.EnsureWorkspace(r.Context(), workspaceParam(r))
		if err != nil {
			writeError(w, err)
			return
		}
		tx, err := facade.Begin(r.Context())
		if err != nil {
			writeError(w, err)
			return
		}
		defer tx.Rollback(r.Context())

		p, err := facade.Policy().Register(r.Context(), tx, body.Name, body.Expression)
		if err != nil {
			writeError(w, err)
			return
		}
		if err := tx.Commit(r.Context()); err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusCreated, p)
	}
}

func updatePolicy(application *app.Application) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var body struct {
			Name       *string `json:"name"`
			Expression *string `json:"expression"`
		}
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			writeError(w, apperr.New(apperr.KindInvalidExpression, "malformed body"))
			return
		}

		facade, err := application.EnsureWorkspace(r.Context(), workspaceParam(r))
		if err != nil {
			writeError(w, err)
			return
		}
		tx, err := facade.Begin(r.Context())
		if err != nil {
			writeError(w, err)
			return
		}
		defer tx.Rollback(r.Context())

		id := chi.URLParam(r, "id")
		if body.Name != nil {
			if err := facade.Policy().UpdateName(r.Context(), tx, id, *body.Name); err != nil {
				writeError(w, err)
				return
			}
		}
		if body.Expression != nil {
			if err := facade.Policy().UpdateExpression(r.Context(), tx, id, *body.Expression); err != nil {
				writeError(w, err)
				return
			}
		}
		if err := tx.Commit(r.Context()); err != nil {
			writeError(w, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}

func deletePolicy(application *app.Application) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		facade, err := application.EnsureWorkspace(r.Context(), workspaceParam(r))
		if err != nil {
			writeError(w, err)
			return
		}
		tx, err := facade.Begin(r.Context())
		if err != nil {
			writeError(w, err)
			return
		}
		defer tx.Rollback(r.Context())

		if err := facade.Policy().Delete(r.Context(), tx, chi.URLParam(r, "id")); err != nil {
			writeError(w, err)
			return
		}
		if err := tx.Commit(r.Context()); err != nil {
			writeError(w, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}

func listParameters(application *app.Application) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		facade, err := application.EnsureWorkspace(r.Context(), workspaceParam(r))
		if err != nil {
			writeError(w, err)
			return
		}
		tx, err := facade.Begin(r.Context())
		if err != nil {
			writeError(w, err)
			return
		}
		defer tx.Rollback(r.Context())

		params, err := facade.Parameter().GetAll(r.Context(), tx)
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, params)
	}
}

func getParameter(application *app.Application) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		facade, err := application.EnsureWorkspace(r.Context(), workspaceParam(r))
		if err != nil {
			writeError(w, err)
			return
		}
		tx, err := facade.Begin(r.Context())
		if err != nil {
			writeError(w, err)
			return
		}
		defer tx.Rollback(r.Context())

		p, err := facade.Parameter().Get(r.Context(), tx, chi.URLParam(r, "key"))
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, p)
	}
}

func setParameter(application *app.Application) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var body struct {
			Value string `json:"value"`
			Path  string `json:"path"`
		}
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			writeError(w, apperr.New(apperr.KindParameterNotExists, "malformed body"))
			return
		}

		claim := claimFromContext(r)
		facade, err := application.EnsureWorkspace(r.Context(), workspaceParam(r))
		if err != nil {
			writeError(w, err)
			return
		}
		tx, err := facade.Begin(r.Context())
		if err != nil {
			writeError(w, err)
			return
		}
		defer tx.Rollback(r.Context())

		if err := facade.Parameter().Set(r.Context(), tx, chi.URLParam(r, "key"), body.Value, body.Path, claim); err != nil {
			writeError(w, err)
			return
		}
		if err := tx.Commit(r.Context()); err != nil {
			writeError(w, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}

func deleteParameter(application *app.Application) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		claim := claimFromContext(r)
		facade, err := application.EnsureWorkspace(r.Context(), workspaceParam(r))
		if err != nil {
			writeError(w, err)
			return
		}
		tx, err := facade.Begin(r.Context())
		if err != nil {
			writeError(w, err)
			return
		}
		defer tx.Rollback(r.Context())

		if err := facade.Parameter().Delete(r.Context(), tx, chi.URLParam(r, "key"), claim); err != nil {
			writeError(w, err)
			return
		}
		if err := tx.Commit(r.Context()); err != nil {
			writeError(w, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}

func getSecret(application *app.Application) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		claim := claimFromContext(r)
		facade, err := application.EnsureWorkspace(r.Context(), workspaceParam(r))
		if err != nil {
			writeError(w, err)
			return
		}
		tx, err := facade.Begin(r.Context())
		if err != nil {
			writeError(w, err)
			return
		}
		defer tx.Rollback(r.Context())

		secretUseCase, err := facade.Secret(r.Context())
		if err != nil {
			writeError(w, err)
			return
		}

		plaintext, err := secretUseCase.Get(r.Context(), tx, chi.URLParam(r, "identifier"), claim)
		if err != nil {
			metrics.SecretOperationsTotal.WithLabelValues("get", "failure").Inc()
			writeError(w, err)
			return
		}
		metrics.SecretOperationsTotal.WithLabelValues("get", "success").Inc()
		writeJSON(w, http.StatusOK, map[string]string{"value": string(plaintext)})
	}
}

func setSecret(application *app.Application) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var body struct {
			Value     string   `json:"value"`
			Path      string   `json:"path"`
			PolicyIDs []string `json:"policy_ids"`
		}
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			writeError(w, apperr.New(apperr.KindInvalidSecretIdentifier, "malformed body"))
			return
		}

		claim := claimFromContext(r)
		facade, err := application.EnsureWorkspace(r.Context(), workspaceParam(r))
		if err != nil {
			writeError(w, err)
			return
		}
		tx, err := facade.Begin(r.Context())
		if err != nil {
			writeError(w, err)
			return
		}
		defer tx.Rollback(r.Context())

		secretUseCase, err := facade.Secret(r.Context())
		if err != nil {
			writeError(w, err)
			return
		}

		identifier := chi.URLParam(r, "identifier")
		if err := secretUseCase.Set(r.Context(), tx, identifier, body.Path, []byte(body.Value), body.PolicyIDs, claim); err != nil {
			metrics.SecretOperationsTotal.WithLabelValues("set", "failure").Inc()
			writeError(w, err)
			return
		}
		if err := tx.Commit(r.Context()); err != nil {
			writeError(w, err)
			return
		}
		metrics.SecretOperationsTotal.WithLabelValues("set", "success").Inc()
		w.WriteHeader(http.StatusCreated)
	}
}

func updateSecret(application *app.Application) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var body struct {
			Value string `json:"value"`
		}
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			writeError(w, apperr.New(apperr.KindInvalidSecretIdentifier, "malformed body"))
			return
		}

		claim := claimFromContext(r)
		facade, err := application.EnsureWorkspace(r.Context(), workspaceParam(r))
		if err != nil {
			writeError(w, err)
			return
		}
		tx, err := facade.Begin(r.Context())
		if err != nil {
			writeError(w, err)
			return
		}
		defer tx.Rollback(r.Context())

		secretUseCase, err := facade.Secret(r.Context())
		if err != nil {
			writeError(w, err)
			return
		}

		if err := secretUseCase.Update(r.Context(), tx, chi.URLParam(r, "identifier"), []byte(body.Value), claim); err != nil {
			metrics.SecretOperationsTotal.WithLabelValues("update", "failure").Inc()
			writeError(w, err)
			return
		}
		if err := tx.Commit(r.Context()); err != nil {
			writeError(w, err)
			return
		}
		metrics.SecretOperationsTotal.WithLabelValues("update", "success").Inc()
		w.WriteHeader(http.StatusNoContent)
	}
}

func deleteSecret(application *app.Application) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		claim := claimFromContext(r)
		facade, err := application.EnsureWorkspace(r.Context(), workspaceParam(r))
		if err != nil {
			writeError(w, err)
			return
		}
		tx, err := facade.Begin(r.Context())
		if err != nil {
			writeError(w, err)
			return
		}
		defer tx.Rollback(r.Context())

		secretUseCase, err := facade.Secret(r.Context())
		if err != nil {
			writeError(w, err)
			return
		}

		if err := secretUseCase.Delete(r.Context(), tx, chi.URLParam(r, "identifier"), claim); err != nil {
			metrics.SecretOperationsTotal.WithLabelValues("delete", "failure").Inc()
			writeError(w, err)
			return
		}
		if err := tx.Commit(r.Context()); err != nil {
			writeError(w, err)
			return
		}
		metrics.SecretOperationsTotal.WithLabelValues("delete", "success").Inc()
		w.WriteHeader(http.StatusNoContent)
	}
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func writeError(w http.ResponseWriter, err error) {
	ae, ok := err.(*apperr.Error)
	if !ok {
		ae = apperr.Anyhow(err)
	}
	if ae.Kind == apperr.KindAnyhow {
		log.WithComponent("httpapi").Error().Err(err).Msg("infrastructure error")
	}
	writeJSON(w, ae.StatusCode(), map[string]string{"error": string(ae.Kind), "message": ae.Error()})
}
