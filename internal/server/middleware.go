package server

import (
	"context"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/planmeet/planmeet/internal/apperr"
	"github.com/planmeet/planmeet/internal/identity"
)

const timeISO8601 = "2006-01-02T15:04:05.000Z0700"

var sensitiveHeaders = map[string]bool{
	"authorization": true,
	"cookie":        true,
	"token":         true,
	"session":       true,
}

// RequestLog logs one line per request with method, path, status and latency.
func RequestLog(logger *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		path := c.Request.URL.Path
		if raw := c.Request.URL.RawQuery; raw != "" {
			path = path + "?" + raw
		}

		headers := make(map[string]string)
		for k := range c.Request.Header {
			if sensitiveHeaders[strings.ToLower(k)] {
				continue
			}
			headers[k] = c.GetHeader(k)
		}

		c.Next()

		fields := []zap.Field{
			zap.Int("status", c.Writer.Status()),
			zap.String("method", c.Request.Method),
			zap.String("path", path),
			zap.Any("headers", headers),
			zap.Int("size", c.Writer.Size()),
			zap.String("clientIP", c.ClientIP()),
			zap.String("start", start.Format(timeISO8601)),
			zap.Duration("latency", time.Since(start)),
		}
		if a, ok := ActorFrom(c); ok {
			fields = append(fields, zap.String("actor", a.Subject))
		}
		if errs := c.Errors.ByType(gin.ErrorTypePrivate).String(); errs != "" {
			fields = append(fields, zap.String("error", errs))
		}
		logger.Info("request", fields...)
	}
}

// Metrics records request counts and latencies.
type Metrics struct {
	requests *prometheus.CounterVec
	latency  *prometheus.HistogramVec
}

// NewMetrics registers the request collectors for service on reg.
func NewMetrics(reg prometheus.Registerer, service string) *Metrics {
	m := &Metrics{
		requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace:   "planmeet",
			Name:        "http_requests_total",
			Help:        "HTTP requests by route and status.",
			ConstLabels: prometheus.Labels{"service": service},
		}, []string{"method", "route", "status"}),
		latency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace:   "planmeet",
			Name:        "http_request_duration_seconds",
			Help:        "HTTP request latency by route.",
			ConstLabels: prometheus.Labels{"service": service},
			Buckets:     prometheus.DefBuckets,
		}, []string{"method", "route"}),
	}
	reg.MustRegister(m.requests, m.latency)
	return m
}

// Middleware observes every request.
func (m *Metrics) Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		route := c.FullPath()
		if route == "" {
			route = "unmatched"
		}
		m.requests.WithLabelValues(c.Request.Method, route, strconv.Itoa(c.Writer.Status())).Inc()
		m.latency.WithLabelValues(c.Request.Method, route).Observe(time.Since(start).Seconds())
	}
}

// CORS answers the browser front-end. Preflight requests stop here.
func CORS(origins []string) gin.HandlerFunc {
	allowAll := len(origins) == 0
	allowed := make(map[string]bool, len(origins))
	for _, o := range origins {
		if o == "*" {
			allowAll = true
		}
		allowed[o] = true
	}
	return func(c *gin.Context) {
		origin := c.GetHeader("Origin")
		if origin != "" && (allowAll || allowed[origin]) {
			if allowAll {
				c.Header("Access-Control-Allow-Origin", "*")
			} else {
				c.Header("Access-Control-Allow-Origin", origin)
				c.Header("Vary", "Origin")
			}
			c.Header("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE")
			c.Header("Access-Control-Allow-Headers", "Content-Type, Authorization")
		}
		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}
		c.Next()
	}
}

// ActorReader turns a bearer credential into an Actor.
type ActorReader interface {
	Read(ctx context.Context, credential string) (identity.Actor, error)
}

// Authenticate rejects requests without a readable bearer credential and
// stores the caller's Actor for the handlers.
func Authenticate(reader ActorReader) gin.HandlerFunc {
	return func(c *gin.Context) {
		token := identity.ExtractBearer(c.GetHeader("Authorization"))
		if token == "" {
			WriteError(c, apperr.Unauthenticated("authenticate", "missing bearer credential"))
			return
		}
		actor, err := reader.Read(c.Request.Context(), token)
		if err != nil {
			WriteError(c, err)
			return
		}
		c.Request = c.Request.WithContext(identity.WithActor(c.Request.Context(), actor))
		c.Next()
	}
}

// ActorFrom returns the Actor Authenticate stored in the request context.
func ActorFrom(c *gin.Context) (identity.Actor, bool) {
	return identity.FromContext(c.Request.Context())
}

// RequireAdmin lets only administrators through. It must run after
// Authenticate.
func RequireAdmin() gin.HandlerFunc {
	return func(c *gin.Context) {
		a, ok := ActorFrom(c)
		if !ok {
			WriteError(c, apperr.Unauthenticated("authorize", "missing actor"))
			return
		}
		if !a.IsAdmin {
			WriteError(c, apperr.Forbidden("authorize", "administrator role required"))
			return
		}
		c.Next()
	}
}
