package httpmetrics

import (
	"fmt"
	"net/http"
	"time"

	"github.com/spendlog/backend/internal/observability/metrics"
)

type Collector struct {
	appName string
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

func New(appName string) *Collector {
	return &Collector{
		appName: appName,
	}
}

func (c *Collector) Wrap(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		method := r.Method
		path := NormalizePath(r.URL.Path)

		metrics.AuthRequestsTotal.WithLabelValues(c.appName, method, path).Inc()
		metrics.AuthRequestsInFlight.Inc()

		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)

		elapsed := time.Since(start)
		statusClass := fmt.Sprintf("%dxx", rec.status/100)

		metrics.AuthRequestsInFlight.Dec()
		metrics.AuthRequestDurationSeconds.WithLabelValues(c.appName, method, path, statusClass).Observe(elapsed.Seconds())
	})
}
