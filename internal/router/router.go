package router

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/ovaphlow/pitchfork/service-identity-go/internal/account"
	"github.com/ovaphlow/pitchfork/service-identity-go/internal/identity/repo"
)

// loggingResponseWriter captures status and size.
type loggingResponseWriter struct {
	http.ResponseWriter
	status int
	size   int
}

func (lrw *loggingResponseWriter) WriteHeader(code int) {
	lrw.status = code
	lrw.ResponseWriter.WriteHeader(code)
}

func (lrw *loggingResponseWriter) Write(b []byte) (int, error) {
	if lrw.status == 0 {
		lrw.status = http.StatusOK
	}
	n, err := lrw.ResponseWriter.Write(b)
	lrw.size += n
	return n, err
}

// LoggingMiddleware logs every request at debug level.
func LoggingMiddleware(logger *zap.SugaredLogger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			lrw := &loggingResponseWriter{ResponseWriter: w}
			next.ServeHTTP(lrw, r)
			dur := time.Since(start)
			status := lrw.status
			if status == 0 {
				status = http.StatusOK
			}
			logger.Debugw("http request",
				"method", r.Method,
				"path", r.URL.Path,
				"route", r.Pattern,
				"remote", r.RemoteAddr,
				"status", status,
				"duration_ms", float64(dur.Microseconds())/1000.0,
				"size", lrw.size,
			)
		})
	}
}

// SecurityHeadersMiddleware sets common HTTP security headers. Account
// responses carry tokens, so they are also marked as not cacheable.
func SecurityHeadersMiddleware() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			h := w.Header()
			h.Set("X-Content-Type-Options", "nosniff")
			h.Set("X-Frame-Options", "DENY")
			h.Set("Referrer-Policy", "no-referrer")
			h.Set("Content-Security-Policy", "default-src 'none'; frame-ancestors 'none'")
			if strings.HasPrefix(r.URL.Path, "/identity/account/") {
				h.Set("Cache-Control", "no-store")
			}
			if r.TLS != nil {
				h.Set("Strict-Transport-Security", "max-age=31536000; includeSubDomains")
			}

			next.ServeHTTP(w, r)
		})
	}
}

// Options carries what the routes need beyond the database handle.
type Options struct {
	Account account.Config
	// Repo options applied to every request-scoped context, e.g. repo.WithSchema.
	Repo []repo.Option
}

// RegisterRoutes mounts health, readiness, metrics and account handlers on an http.ServeMux.
func RegisterRoutes(logger *zap.SugaredLogger, db *sqlx.DB, opts Options) http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /identity/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	mux.HandleFunc("GET /identity/ready", func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		if err := db.PingContext(ctx); err != nil {
			logger.Warnw("readiness ping failed", "err", err)
			http.Error(w, "database unavailable", http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ready"))
	})

	mux.Handle("GET /metrics", promhttp.Handler())

	accountHandler := account.NewHandler(db, opts.Account, logger, opts.Repo...)
	mux.HandleFunc("POST /identity/account/register", accountHandler.Register)
	mux.HandleFunc("POST /identity/account/login", accountHandler.Login)
	mux.HandleFunc("POST /identity/account/login/2fa", accountHandler.LoginTwoFactor)
	mux.HandleFunc("POST /identity/account/login/recovery", accountHandler.LoginRecovery)
	mux.HandleFunc("POST /identity/account/refresh", accountHandler.Refresh)
	mux.HandleFunc("POST /identity/account/logout", accountHandler.SignOut)
	mux.HandleFunc("POST /identity/account/authenticator", accountHandler.EnableAuthenticator)
	mux.HandleFunc("GET /identity/account/me", accountHandler.Me)

	// logging outermost so it sees the final status
	return LoggingMiddleware(logger)(SecurityHeadersMiddleware()(Instrument(mux)))
}
