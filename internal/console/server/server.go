package server

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/xela07ax/agent-orchestrator/internal/console/handler"
	"github.com/xela07ax/agent-orchestrator/internal/engine"
	"github.com/xela07ax/agent-orchestrator/internal/infra"
)

type ControlServer struct {
	router  *chi.Mux
	logger  *zap.Logger
	cfg     infra.ServerConfig
	limiter *rate.Limiter
	metrics prometheus.Gatherer

	agentHandler  *handler.AgentHandler  // /agents
	streamHandler *handler.StreamHandler // /ws/agents
}

// NewControlServer собирает роутер control plane со всеми зависимостями
func NewControlServer(
	cfg infra.ServerConfig,
	logger *zap.Logger,
	gatherer prometheus.Gatherer,
	agentH *handler.AgentHandler,
	streamH *handler.StreamHandler,
) *ControlServer {
	var limiter *rate.Limiter
	if cfg.RateLimit > 0 {
		limiter = rate.NewLimiter(rate.Limit(cfg.RateLimit), cfg.RateBurst)
	}

	s := &ControlServer{
		router:        chi.NewRouter(),
		logger:        logger.Named("control-api"),
		cfg:           cfg,
		limiter:       limiter,
		metrics:       gatherer,
		agentHandler:  agentH,
		streamHandler: streamH,
	}

	s.routes()
	return s
}

func (s *ControlServer) routes() {
	r := s.router

	// --- 1. Глобальные инфраструктурные Middleware ---
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(engine.TracingMiddleware)
	r.Use(engine.RequestLogger(s.logger))
	r.Use(middleware.Recoverer)

	// --- 2. Служебные роуты (без лимита) ---
	r.Get("/health", s.agentHandler.Health)
	r.Handle("/metrics", promhttp.HandlerFor(s.metrics, promhttp.HandlerOpts{}))

	// Стрим живет долго, лимит на него не распространяется
	r.Get("/ws/agents/{id}", s.streamHandler.Stream)

	// --- 3. Control plane ---
	r.Group(func(r chi.Router) {
		if s.limiter != nil {
			r.Use(engine.RateLimitMiddleware(s.limiter))
		}

		r.Route("/agents", func(r chi.Router) {
			r.Post("/deploy", s.agentHandler.Deploy)
			r.Route("/{id}", func(r chi.Router) {
				r.Post("/execute", s.agentHandler.Execute)
				r.Get("/status", s.agentHandler.Status)
				r.Post("/control", s.agentHandler.Control)
			})
		})
	})
}

// ServeHTTP позволяет использовать ControlServer как стандартный http.Handler
func (s *ControlServer) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}
