package api

import (
	"net/http"
	"strings"
	"time"

	"github.com/labstack/echo/v4"
	"go.uber.org/zap"

	"github.com/okoshkin/teamup/internal/auth"
	"github.com/okoshkin/teamup/pkg/logger"
)

const claimsContextKey = "token_claims"

func ZapLoggerMiddleware(l *zap.Logger) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			start := time.Now()

			req := c.Request()
			res := c.Response()

			requestID := c.Response().Header().Get(echo.HeaderXRequestID)

			reqLogger := l.With(
				zap.String("request_id", requestID),
			)

			c.Set("logger", reqLogger)

			ctx := logger.WithLogger(req.Context(), reqLogger)
			c.SetRequest(req.WithContext(ctx))

			err := next(c)

			latency := time.Since(start)

			fields := []zap.Field{
				zap.String("method", req.Method),
				zap.String("uri", req.RequestURI),
				zap.String("remote_ip", c.RealIP()),
				zap.Int("status", res.Status),
				zap.Duration("latency", latency),
				zap.Int64("bytes_in", req.ContentLength),
				zap.Int64("bytes_out", res.Size),
			}

			if err != nil {
				fields = append(fields, zap.Error(err))
				reqLogger.Error("request failed", fields...)
			} else {
				reqLogger.Info("request completed", fields...)
			}

			return err
		}
	}
}

// AuthMiddleware verifies the bearer token and admits only the listed
// token types. Claims land in the echo context for handlers.
func AuthMiddleware(types ...auth.TokenType) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			header := c.Request().Header.Get(echo.HeaderAuthorization)
			token, ok := strings.CutPrefix(header, "Bearer ")
			if !ok || token == "" {
				return echo.NewHTTPError(http.StatusUnauthorized, "missing bearer token")
			}

			claims, valid := auth.IsValidToken(token)
			if !valid {
				return echo.NewHTTPError(http.StatusUnauthorized, "invalid token")
			}

			allowed := false
			for _, t := range types {
				if claims.Type == t {
					allowed = true
					break
				}
			}
			if !allowed {
				return echo.NewHTTPError(http.StatusForbidden, "insufficient token type")
			}

			c.Set(claimsContextKey, claims)
			return next(c)
		}
	}
}

func ClaimsFromContext(c echo.Context) *auth.TokenClaims {
	if claims, ok := c.Get(claimsContextKey).(*auth.TokenClaims); ok {
		return claims
	}
	return &auth.TokenClaims{}
}

func GetLoggerFromContext(c echo.Context) *zap.Logger {
	if l, ok := c.Get("logger").(*zap.Logger); ok {
		return l
	}
	return zap.NewNop()
}
