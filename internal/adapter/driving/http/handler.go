package http

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/time/rate"

	"github.com/Wyydra/yacall/internal/adapter/driven/gateway/ws"
	"github.com/Wyydra/yacall/internal/core/port"
)

type Handler struct {
	Store   port.SignalingChannel
	Hub     *ws.Hub
	Metrics *Metrics

	registry *prometheus.Registry
	limiter  *rate.Limiter
}

type Options struct {
	// RateLimit is the sustained number of store requests per second across
	// all clients. Zero disables limiting.
	RateLimit float64
	Burst     int
}

func NewHandler(store port.SignalingChannel, hub *ws.Hub, opts Options) *Handler {
	reg := prometheus.NewRegistry()
	h := &Handler{
		Store:    store,
		Hub:      hub,
		registry: reg,
		Metrics:  NewMetrics(reg, func() float64 { return float64(hub.Count()) }),
	}
	if opts.RateLimit > 0 {
		burst := opts.Burst
		if burst <= 0 {
			burst = int(opts.RateLimit)
		}
		h.limiter = rate.NewLimiter(rate.Limit(opts.RateLimit), burst)
	}
	return h
}

func (h *Handler) NewRouter() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	})
	r.Handle("/metrics", promhttp.HandlerFor(h.registry, promhttp.HandlerOpts{}))

	r.Route("/calls", func(r chi.Router) {
		r.Use(h.rateLimit)
		r.Post("/", h.createCall)
		r.Route("/{callID}", func(r chi.Router) {
			r.Get("/", h.getCall)
			r.Put("/offer", h.setOffer)
			r.Put("/answer", h.setAnswer)
			r.Get("/watch", h.watchCall)
			r.Post("/candidates/{side}", h.appendCandidate)
			r.Get("/candidates/{side}/watch", h.watchCandidates)
		})
	})

	return r
}

func (h *Handler) rateLimit(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if h.limiter != nil && !h.limiter.Allow() {
			h.Metrics.RateLimited.Inc()
			writeError(w, http.StatusTooManyRequests, "rate limit exceeded")
			return
		}
		next.ServeHTTP(w, r)
	})
}
