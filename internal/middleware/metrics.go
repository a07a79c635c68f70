package middleware

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/hitoshi/mealdash/internal/metrics"
)

// unmatchedRoute はルーティングされなかったリクエストのラベル。
// パスをそのままラベルにするとカーディナリティが無制限になるため固定値にまとめる。
const unmatchedRoute = "unmatched"

// NewMetricsMiddleware はステータスコードとレイテンシを記録するミドルウェアを返す。
// レイテンシのラベルには実パスではなくchiのルートパターンを使う。
func NewMetricsMiddleware(collector metrics.MetricsCollector) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			rec := newStatusRecorder(w)

			next.ServeHTTP(rec, r)

			route := unmatchedRoute
			if rctx := chi.RouteContext(r.Context()); rctx != nil {
				if pattern := rctx.RoutePattern(); pattern != "" {
					route = pattern
				}
			}

			collector.RecordHTTPStatus(rec.statusCode)
			collector.RecordRequestLatency(r.Method, route, time.Since(start))
		})
	}
}
