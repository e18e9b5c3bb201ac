package api

import (
	"context"
	_ "embed"
	"fmt"
	"log/slog"
	"net/http"
	"net/netip"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-openapi/runtime/middleware"

	"github.com/keynest/keynest/apikey"
	"github.com/keynest/keynest/internal/metrics"
	"github.com/keynest/keynest/secretcipher"
	"github.com/keynest/keynest/storage"
)

// DefaultMaxBodyBytes bounds JSON request bodies.
const DefaultMaxBodyBytes = 64 * 1024

// API holds the dependencies needed by the REST handlers.
type API struct {
	repo           storage.Repository
	cipher         *secretcipher.Cipher
	logger         *slog.Logger
	audit          *auditLogger
	revealLimiter  *revealRateLimiter
	ipLimiter      *ipRateLimiter
	metrics        metrics.CipherMetrics
	metricsHandler http.Handler
	trustedProxies []netip.Prefix
	maxBodyBytes   int64
	alertFn        AlertFunc
	webhookURL     string
	webhookHeader  string
}

//go:embed openapi.yaml
var openapiSpec []byte

// Option configures the API instance.
type Option func(*API)

// WithLogger sets the structured logger for service and audit events.
// If not set, a default JSON logger writing to stderr is used.
func WithLogger(logger *slog.Logger) Option {
	return func(a *API) {
		a.logger = logger
	}
}

// WithCipher sets the cipher used to protect new and rotated keys.
func WithCipher(c *secretcipher.Cipher) Option {
	return func(a *API) {
		a.cipher = c
	}
}

// WithMetrics records cipher operations to m and serves h at /metrics.
// h may be nil to record without exposing an endpoint.
func WithMetrics(m metrics.CipherMetrics, h http.Handler) Option {
	return func(a *API) {
		a.metrics = m
		a.metricsHandler = h
	}
}

// WithIPRateLimit sets the per-client token bucket applied to
// cipher-heavy routes. A non-positive rps disables it.
func WithIPRateLimit(rps float64, burst int) Option {
	return func(a *API) {
		if rps <= 0 {
			a.ipLimiter = nil
			return
		}
		a.ipLimiter = newIPRateLimiter(rps, burst)
	}
}

// WithTrustedProxies configures the CIDR ranges whose forwarding headers
// are honored when resolving the client IP. A bare IP is treated as a
// single-host prefix.
func WithTrustedProxies(cidrs []string) (Option, error) {
	prefixes := make([]netip.Prefix, 0, len(cidrs))
	for _, raw := range cidrs {
		raw = strings.TrimSpace(raw)
		if raw == "" {
			continue
		}
		if !strings.Contains(raw, "/") {
			addr, err := netip.ParseAddr(raw)
			if err != nil {
				return nil, fmt.Errorf("invalid trusted proxy %q: %w", raw, err)
			}
			prefixes = append(prefixes, netip.PrefixFrom(addr, addr.BitLen()))
			continue
		}
		prefix, err := netip.ParsePrefix(raw)
		if err != nil {
			return nil, fmt.Errorf("invalid trusted proxy %q: %w", raw, err)
		}
		prefixes = append(prefixes, prefix.Masked())
	}
	return func(a *API) {
		a.trustedProxies = prefixes
	}, nil
}

// WithMaxBodyBytes overrides DefaultMaxBodyBytes.
func WithMaxBodyBytes(n int64) Option {
	return func(a *API) {
		a.maxBodyBytes = n
	}
}

// WithAlertFunc registers a callback for anomaly alerts. Alerts are always
// logged at warn level and forwarded to the audit webhook when one is set.
func WithAlertFunc(fn AlertFunc) Option {
	return func(a *API) {
		a.alertFn = fn
	}
}

// WithAuditWebhook forwards every audit event as JSON to url. authHeader is
// optional and uses the "Name: value" form. Call Close to drain the queue.
func WithAuditWebhook(url, authHeader string) Option {
	return func(a *API) {
		a.webhookURL = url
		a.webhookHeader = authHeader
	}
}

// New creates a new API instance.
func New(repo storage.Repository, opts ...Option) *API {
	a := &API{
		repo:          repo,
		cipher:        secretcipher.New(),
		revealLimiter: newRevealRateLimiter(),
		ipLimiter:     newIPRateLimiter(defaultIPRate, defaultIPBurst),
		metrics:       metrics.NoOp{},
		maxBodyBytes:  DefaultMaxBodyBytes,
	}
	for _, opt := range opts {
		opt(a)
	}
	if a.logger == nil {
		a.logger = slog.New(slog.NewJSONHandler(os.Stderr, nil))
	}
	a.audit = newAuditLogger(a.logger)
	if a.webhookURL != "" {
		a.audit.webhook = newAuditWebhook(a.webhookURL, a.webhookHeader, a.logger)
	}
	a.audit.alerts = newAlertCollector(a.dispatchAlert)
	return a
}

func (a *API) dispatchAlert(evt AlertEvent) {
	a.logger.Warn("security alert",
		"component", "alerts",
		"type", string(evt.Type),
		"message", evt.Message,
		"count", evt.Count,
		"threshold", evt.Threshold,
	)
	if a.audit.webhook != nil {
		a.audit.webhook.enqueue(webhookEvent{
			Event:     "alert_" + string(evt.Type),
			Timestamp: evt.Timestamp.UTC().Format(time.RFC3339),
			Attrs: map[string]string{
				"message":   evt.Message,
				"count":     strconv.Itoa(evt.Count),
				"threshold": strconv.Itoa(evt.Threshold),
			},
		})
	}
	if a.alertFn != nil {
		a.alertFn(evt)
	}
}

// Close drains the audit webhook queue. It is safe to call when no webhook
// is configured.
func (a *API) Close() {
	if a.audit.webhook != nil {
		a.audit.webhook.close()
	}
}

// Router returns a chi.Router with all API routes mounted.
func (a *API) Router() chi.Router {
	r := chi.NewRouter()

	r.Get("/openapi.yaml", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/yaml")
		w.Write(openapiSpec)
	})

	r.Handle("/docs*", middleware.SwaggerUI(middleware.SwaggerUIOpts{
		SpecURL: "/api/v1/openapi.yaml",
		Path:    "api/v1/docs",
	}, nil))

	r.Handle("/redoc*", middleware.Redoc(middleware.RedocOpts{
		SpecURL: "/api/v1/openapi.yaml",
		Path:    "api/v1/redoc",
	}, nil))

	if a.metricsHandler != nil {
		r.Handle("/metrics", a.metricsHandler)
	}

	r.With(a.RateLimitMiddleware).Get("/passphrase", a.SuggestPassphrase)

	r.Route("/workspaces/{workspaceID}", func(r chi.Router) {
		r.Delete("/", a.DeleteWorkspace)
		r.Get("/keys", a.ListKeys)
		r.With(a.RateLimitMiddleware).Post("/keys", a.CreateKey)
		r.Get("/keys/{keyID}", a.GetKey)
		r.Patch("/keys/{keyID}", a.UpdateKey)
		r.Delete("/keys/{keyID}", a.DeleteKey)

		r.Group(func(r chi.Router) {
			r.Use(a.RateLimitMiddleware)
			r.Post("/keys/{keyID}/reveal", a.RevealKey)
			r.Post("/keys/{keyID}/rotate", a.RotateKey)
			r.Post("/keys/{keyID}/passphrase", a.ChangePassphrase)
		})
	})

	return r
}

func (a *API) workspace(r *http.Request) *apikey.Workspace {
	return apikey.New(chi.URLParam(r, "workspaceID"), a.repo,
		apikey.WithCipher(a.cipher),
		apikey.WithLogger(a.logger),
	)
}

// RunSweeper drops expired reveal-lockout state every interval until ctx is
// canceled.
func (a *API) RunSweeper(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			a.revealLimiter.sweep()
		}
	}
}
