package server

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"
)

// RouterOptions
//
// Ops 가 true 이면 /health, /metrics 를 추가로 노출한다 (서버 모드).
// Lambda(ALB) 모드에서는 /orders 만 노출한다.
type RouterOptions struct {
	Ops      bool
	Gatherer prometheus.Gatherer
}

// NewRouter
//
// 엔드포인트:
//   - POST /orders : 주문 수집 (핵심)
//   - GET /health  : ALB Target Group health check (Ops)
//   - GET /metrics : Prometheus scrape (Ops)
//
// 그 외 경로/메서드는 모두 404 {"error":"not found"}.
func NewRouter(h *Handler, opts RouterOptions) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(accessLog)

	r.NotFound(h.HandleNotFound)
	r.MethodNotAllowed(h.HandleNotFound)

	r.Post("/orders", h.HandleOrders)

	if opts.Ops {
		r.Get("/health", func(w http.ResponseWriter, _ *http.Request) {
			// ALB 는 단순 문자열로도 health 판단 가능
			_, _ = w.Write([]byte("ok"))
		})

		gatherer := opts.Gatherer
		if gatherer == nil {
			gatherer = prometheus.DefaultGatherer
		}
		r.Get("/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}).ServeHTTP)
	}

	return r
}

// accessLog 는 요청 한 건당 debug 로그 한 줄을 남긴다.
func accessLog(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		log.Debug().
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", ww.Status()).
			Int("bytes", ww.BytesWritten()).
			Str("ip", clientIP(r)).
			Dur("elapsed", time.Since(start)).
			Msg("http request")
	})
}
