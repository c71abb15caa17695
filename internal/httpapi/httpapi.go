package httpapi

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/go-chi/httprate"
	"github.com/unrolled/secure"

	"butik/backend/internal/domain"
	"butik/backend/internal/fulfillment"
	"butik/backend/internal/metrics"
	"butik/backend/internal/service"
)

const (
	maxJSONBody        = 1 << 20
	loginAttemptsLimit = 5
)

type Options struct {
	AllowedOrigin  string
	RequestTimeout time.Duration
	Production     bool
	Metrics        *metrics.Metrics
	Logger         *slog.Logger
}

type API struct {
	service *service.Service
	auth    *AuthManager
	opts    Options
	logger  *slog.Logger
	secure  *secure.Secure
	router  http.Handler
}

func New(svc *service.Service, auth *AuthManager, opts Options) *API {
	if opts.RequestTimeout <= 0 {
		opts.RequestTimeout = 15 * time.Second
	}
	if strings.TrimSpace(opts.AllowedOrigin) == "" {
		opts.AllowedOrigin = "*"
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	a := &API{
		service: svc,
		auth:    auth,
		opts:    opts,
		logger:  logger.With(slog.String("component", "httpapi")),
		secure: secure.New(secure.Options{
			FrameDeny:             true,
			ContentTypeNosniff:    true,
			BrowserXssFilter:      true,
			ReferrerPolicy:        "strict-origin-when-cross-origin",
			ContentSecurityPolicy: "default-src 'none'; frame-ancestors 'none'",
			SSLRedirect:           opts.Production,
			SSLProxyHeaders:       map[string]string{"X-Forwarded-Proto": "https"},
		}),
	}
	a.router = a.routes()
	return a
}

// Handler returns the router built once in New, so rate limiter state is
// shared across callers.
func (a *API) Handler() http.Handler {
	return a.router
}

func (a *API) routes() http.Handler {
	r := chi.NewRouter()
	r.Use(
		middleware.RequestID,
		middleware.Recoverer,
		a.opts.Metrics.Middleware,
		a.secureHeaders,
		cors.Handler(cors.Options{
			AllowedOrigins: []string{a.opts.AllowedOrigin},
			AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
			AllowedHeaders: []string{"Content-Type", "Authorization"},
			MaxAge:         300,
		}),
		limitJSONBody,
		a.logRequests,
	)
	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		writeError(w, http.StatusNotFound, errors.New("route not found"))
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		writeMethodNotAllowed(w)
	})

	r.Get("/healthz", a.handleHealth)
	r.Method(http.MethodGet, "/metrics", a.opts.Metrics.Handler())

	r.Route("/api/v1", func(r chi.Router) {
		r.With(httprate.Limit(loginAttemptsLimit, time.Minute,
			httprate.WithKeyFuncs(httprate.KeyByIP),
			httprate.WithLimitHandler(func(w http.ResponseWriter, r *http.Request) {
				writeError(w, http.StatusTooManyRequests, errors.New("too many login attempts"))
			}),
		)).Post("/auth/login", a.handleLogin)

		r.Group(func(r chi.Router) {
			r.Use(a.requireAuth(domain.RoleAdmin))
			r.Use(middleware.Timeout(a.opts.RequestTimeout))

			r.Post("/orders/{orderID}/accept", a.handleAcceptOrder)
			r.Post("/orders/{orderID}/decline", a.handleDeclineOrder)
			r.Post("/sales", a.handleDirectSale)
			r.Get("/products/{productID}/sales", a.handleListSales)
			r.Get("/transactions", a.handleListTransactions)
			r.Get("/transactions/{hash}", a.handleGetTransaction)
			r.Post("/transactions/{hash}/revert", a.handleRevertTransaction)
			r.Get("/balance", a.handleBalance)
			r.Get("/balance/reconcile", a.handleReconcile)
			r.Get("/audit-logs", a.handleAuditLogs)
		})
	})

	return r
}

func (a *API) requireAuth(roles ...string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			authorization := strings.TrimSpace(r.Header.Get("Authorization"))
			if !strings.HasPrefix(strings.ToLower(authorization), "bearer ") {
				writeError(w, http.StatusUnauthorized, errors.New("missing bearer token"))
				return
			}

			token := strings.TrimSpace(authorization[len("Bearer "):])
			actor, err := a.auth.ParseToken(token)
			if err != nil {
				writeError(w, http.StatusUnauthorized, err)
				return
			}

			if len(roles) > 0 && !isRoleAllowed(actor.Role, roles) {
				writeError(w, http.StatusForbidden, errors.New("forbidden role"))
				return
			}

			next.ServeHTTP(w, r.WithContext(service.WithActor(r.Context(), actor)))
		})
	}
}

func isRoleAllowed(role string, allowed []string) bool {
	for _, allow := range allowed {
		if role == allow {
			return true
		}
	}
	return false
}

func (a *API) secureHeaders(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if err := a.secure.Process(w, r); err != nil {
			a.logger.Warn("secure headers blocked request", slog.Any("error", err))
			return
		}
		next.ServeHTTP(w, r)
	})
}

func limitJSONBody(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodPost && r.Body != nil {
			r.Body = http.MaxBytesReader(w, r.Body, maxJSONBody)
		}
		next.ServeHTTP(w, r)
	})
}

func (a *API) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		startedAt := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		a.logger.Info("request",
			slog.String("method", r.Method),
			slog.String("path", r.URL.Path),
			slog.Int("status", ww.Status()),
			slog.Duration("elapsed", time.Since(startedAt)),
			slog.String("request_id", middleware.GetReqID(r.Context())),
		)
	})
}

func (a *API) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"ok": true,
		"at": time.Now().UTC().Format(time.RFC3339),
	})
}

func (a *API) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req domain.LoginRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	resp, err := a.auth.Login(r.Context(), req)
	if err != nil {
		writeError(w, http.StatusUnauthorized, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (a *API) handleAcceptOrder(w http.ResponseWriter, r *http.Request) {
	decision, err := a.service.AcceptOrder(r.Context(), chi.URLParam(r, "orderID"))
	if err != nil {
		a.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, decision)
}

func (a *API) handleDeclineOrder(w http.ResponseWriter, r *http.Request) {
	decision, err := a.service.DeclineOrder(r.Context(), chi.URLParam(r, "orderID"))
	if err != nil {
		a.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, decision)
}

func (a *API) handleDirectSale(w http.ResponseWriter, r *http.Request) {
	var req domain.DirectSaleRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	receipt, err := a.service.RecordDirectSale(r.Context(), req)
	if err != nil {
		a.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, receipt)
}

func (a *API) handleRevertTransaction(w http.ResponseWriter, r *http.Request) {
	var req domain.RevertTransactionRequest
	// The body is optional; an empty reason is recorded as "unspecified".
	if err := decodeJSON(r, &req); err != nil && !errors.Is(err, io.EOF) {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	req.TransactionHash = chi.URLParam(r, "hash")

	resp, err := a.service.RevertTransaction(r.Context(), req)
	if err != nil {
		a.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (a *API) handleGetTransaction(w http.ResponseWriter, r *http.Request) {
	detail, err := a.service.GetTransaction(r.Context(), chi.URLParam(r, "hash"))
	if err != nil {
		a.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, detail)
}

func (a *API) handleListSales(w http.ResponseWriter, r *http.Request) {
	sales, err := a.service.ListSales(r.Context(), chi.URLParam(r, "productID"))
	if err != nil {
		a.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"sales": sales})
}

func (a *API) handleListTransactions(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()
	includeDeleted, _ := strconv.ParseBool(query.Get("include_deleted"))

	entries, err := a.service.ListTransactions(r.Context(), domain.BalanceTransactionFilter{
		ProductID:      query.Get("product_id"),
		OrderID:        query.Get("order_id"),
		IncludeDeleted: includeDeleted,
		Limit:          parsePositiveLimit(query.Get("limit"), 100, 500),
	})
	if err != nil {
		a.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"transactions": entries})
}

func (a *API) handleBalance(w http.ResponseWriter, r *http.Request) {
	balance, err := a.service.GetBalance(r.Context())
	if err != nil {
		a.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, balance)
}

func (a *API) handleReconcile(w http.ResponseWriter, r *http.Request) {
	report, err := a.service.Reconcile(r.Context())
	if err != nil {
		a.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, report)
}

func (a *API) handleAuditLogs(w http.ResponseWriter, r *http.Request) {
	date := r.URL.Query().Get("date")
	limit := parsePositiveLimit(r.URL.Query().Get("limit"), 100, 500)

	logs, err := a.service.ListAuditLogs(r.Context(), date, limit)
	if err != nil {
		a.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"logs": logs})
}

func (a *API) writeServiceError(w http.ResponseWriter, err error) {
	status := statusForError(err)
	if status >= http.StatusInternalServerError {
		a.logger.Error("request failed", slog.Int("status", status), slog.Any("error", err))
	}
	writeError(w, status, err)
}

// statusForError maps engine error kinds onto HTTP. Transient failures get
// 503 so clients know the whole call can be retried.
func statusForError(err error) int {
	if errors.Is(err, service.ErrForbidden) {
		return http.StatusForbidden
	}
	switch fulfillment.KindOf(err) {
	case fulfillment.KindValidation:
		return http.StatusBadRequest
	case fulfillment.KindNotFound:
		return http.StatusNotFound
	case fulfillment.KindStock, fulfillment.KindAlreadyProcessed:
		return http.StatusConflict
	case fulfillment.KindIntegrity:
		return http.StatusUnprocessableEntity
	case fulfillment.KindTransient:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func decodeJSON(r *http.Request, dest any) error {
	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()
	return decoder.Decode(dest)
}

func parsePositiveLimit(raw string, fallback int, max int) int {
	limit := fallback
	trimmed := strings.TrimSpace(raw)
	if trimmed != "" {
		if parsed, err := strconv.Atoi(trimmed); err == nil && parsed > 0 {
			limit = parsed
		}
	}
	if max > 0 && limit > max {
		return max
	}
	return limit
}

func writeMethodNotAllowed(w http.ResponseWriter) {
	writeError(w, http.StatusMethodNotAllowed, errors.New("method not allowed"))
}

func writeError(w http.ResponseWriter, status int, err error) {
	// 5xx bodies stay generic; callers log the cause.
	msg := err.Error()
	if status >= 500 {
		msg = "internal server error"
	}
	if status == http.StatusServiceUnavailable {
		msg = "temporarily unavailable, retry the request"
	}
	writeJSON(w, status, map[string]any{
		"error": msg,
	})
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}
