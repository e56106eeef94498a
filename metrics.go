package storefront

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
)

// Verification metrics only distinguish valid from invalid so that the
// failing sub-check is never observable from outside.
var (
	webhookVerifications = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "storefront_webhook_verifications_total",
			Help: "Payment webhook signature verifications",
		},
		[]string{"result"},
	)

	reviewTokenVerifications = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "storefront_review_token_verifications_total",
			Help: "Review link token verifications",
		},
		[]string{"result"},
	)

	reviewTokensIssued = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "storefront_review_tokens_issued_total",
		Help: "Review link tokens issued",
	})

	emailsSent = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "storefront_emails_sent_total",
			Help: "Transactional emails by outcome",
		},
		[]string{"kind", "status"},
	)

	httpRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "storefront_http_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"handler", "method", "status"},
	)
)

func init() {
	prometheus.MustRegister(
		webhookVerifications,
		reviewTokenVerifications,
		reviewTokensIssued,
		emailsSent,
		httpRequestDuration,
	)
}

func resultLabel(ok bool) string {
	if ok {
		return "valid"
	}
	return "invalid"
}

// instrumentHandler records request duration for a named route.
func instrumentHandler(name string, handler http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		wrapped := &statusRecorder{ResponseWriter: w, statusCode: http.StatusOK}
		handler(wrapped, r)
		httpRequestDuration.
			WithLabelValues(name, r.Method, strconv.Itoa(wrapped.statusCode)).
			Observe(time.Since(start).Seconds())
	}
}

type statusRecorder struct {
	http.ResponseWriter
	statusCode int
}

func (rw *statusRecorder) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

// ServeMetrics runs a Prometheus handler on addr until ctx is done. An empty
// addr disables it.
func ServeMetrics(ctx context.Context, addr string, logger zerolog.Logger) {
	if addr == "" {
		return
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	go func() {
		<-ctx.Done()
		_ = srv.Shutdown(context.Background())
	}()
	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error().Err(err).Str("addr", addr).Msg("Metrics server failed")
		}
	}()
}
