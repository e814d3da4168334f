package api

import (
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"github.com/warp/rental-ledger/auth"
	"github.com/warp/rental-ledger/logger"
)

// requestLogger attaches a request-scoped logger to the context and logs
// one line per request once the handler returns.
func requestLogger(base *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)

			log := base.With(zap.String("request_id", middleware.GetReqID(r.Context())))
			r = r.WithContext(logger.WithContext(r.Context(), log))

			defer func() {
				status := ww.Status()
				if status == 0 {
					status = http.StatusOK
				}
				fields := []zap.Field{
					zap.String("method", r.Method),
					zap.String("path", r.URL.Path),
					zap.Int("status", status),
					zap.Int("bytes", ww.BytesWritten()),
					zap.Duration("duration", time.Since(start)),
				}
				switch {
				case status >= 500:
					log.Error("request completed", fields...)
				case status >= 400:
					log.Warn("request completed", fields...)
				default:
					log.Info("request completed", fields...)
				}
			}()

			next.ServeHTTP(ww, r)
		})
	}
}

// authenticate requires a valid bearer token and stores the principal in the
// request context.
func authenticate(tokens *auth.JWT) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			header := r.Header.Get("Authorization")
			token, ok := strings.CutPrefix(header, "Bearer ")
			if !ok || strings.TrimSpace(token) == "" {
				writeError(w, http.StatusUnauthorized, codeUnauthorized, "missing bearer token", nil)
				return
			}

			p, err := tokens.Parse(strings.TrimSpace(token))
			if err != nil {
				writeError(w, http.StatusUnauthorized, codeUnauthorized, err.Error(), nil)
				return
			}

			ctx := auth.WithPrincipal(r.Context(), p)
			ctx = logger.WithContext(ctx, logger.FromContext(ctx).With(zap.String("user_id", p.UserID)))
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// requireCapability rejects callers whose role lacks capability c.
func requireCapability(gate *auth.Gate, c auth.Capability) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			p, ok := auth.PrincipalFrom(r.Context())
			if !ok {
				writeError(w, http.StatusUnauthorized, codeUnauthorized, "not authenticated", nil)
				return
			}
			if err := gate.Check(p, c); err != nil {
				writeError(w, http.StatusForbidden, codeForbidden, err.Error(), nil)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
