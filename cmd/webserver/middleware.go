package main

import (
	"net/http"
	"strconv"
	"time"

	"questionbank"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

var (
	requestCounter = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "qbank_http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "endpoint", "status"},
	)

	requestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "qbank_http_request_duration_seconds",
			Help:    "Duration of HTTP requests",
			Buckets: []float64{0.05, 0.1, 0.5, 1, 5, 30},
		},
		[]string{"method", "endpoint"},
	)

	importedQuestions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "qbank_imported_questions_total",
			Help: "Questions imported, by source and outcome",
		},
		[]string{"source", "outcome"},
	)
)

func init() {
	prometheus.MustRegister(requestCounter, requestDuration, importedQuestions)
}

func recordImport(source string, result questionbank.ImportResult) {
	importedQuestions.WithLabelValues(source, "success").Add(float64(result.Success))
	importedQuestions.WithLabelValues(source, "failed").Add(float64(result.Failed))
	importedQuestions.WithLabelValues(source, "skipped").Add(float64(result.Skipped))
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

// observe logs every request and feeds the request metrics. Endpoints are
// labelled by route pattern to keep label cardinality bounded.
func observe(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)

		elapsed := time.Since(start)
		endpoint := r.Pattern
		if endpoint == "" {
			endpoint = "unmatched"
		}
		requestCounter.WithLabelValues(r.Method, endpoint, strconv.Itoa(rec.status)).Inc()
		requestDuration.WithLabelValues(r.Method, endpoint).Observe(elapsed.Seconds())

		questionbank.Log.Info("request",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", rec.status),
			zap.Duration("latency", elapsed),
		)
	})
}

// limitAI throttles handlers that call the AI endpoint. The store is single
// user, so one limiter covers every client.
func limitAI(limiter *rate.Limiter, next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if !limiter.Allow() {
			writeFail(w, http.StatusTooManyRequests, "请求过于频繁，请稍后再试")
			return
		}
		next(w, r)
	}
}
