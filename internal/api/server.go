package api

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/formflow/formflow/internal/domain"
)

// Server represents the HTTP API server.
type Server struct {
	router  *chi.Mux
	handler *Handler
	limiter *RateLimiter
	server  *http.Server
	config  domain.ServerConfig
}

// NewServer creates a new API server.
func NewServer(cfg *domain.Config, svc Services, version string) *Server {
	if svc.Nonces == nil {
		svc.Nonces = NewNonceIssuer(cfg.Security.NonceSecret, cfg.Security.NonceTTL)
	}
	handler := NewHandler(svc, version)
	limiter := NewRateLimiter(cfg.RateLimit.RequestsPerMinute, cfg.RateLimit.Burst)
	router := chi.NewRouter()

	router.Use(CORSMiddleware)
	router.Use(RecoverMiddleware)
	router.Use(TracingMiddleware)
	router.Use(LoggingMiddleware)
	router.Use(ProxyHeadersMiddleware(trustedProxies(cfg.Server.TrustedProxies)))
	router.Use(middleware.Compress(5))

	router.Get("/health", handler.Health)
	router.Get("/ready", handler.Ready)

	router.Route("/forms/{id}", func(r chi.Router) {
		r.Use(SessionMiddleware(cfg.Session.CookieName, cfg.Session.TTL))

		r.Get("/variation", handler.GetVariation)
		r.Get("/slots", handler.GetSlots)

		r.Group(func(r chi.Router) {
			r.Use(limiter.Middleware)

			r.Post("/logic", handler.EvaluateLogic)
			r.Post("/submit", handler.Submit)
			r.Post("/waitlist", handler.JoinWaitlist)
			r.Post("/conversion", handler.RecordConversion)
		})
	})

	router.Route("/admin", func(r chi.Router) {
		r.Use(AdminAuthMiddleware(cfg.Security.AdminToken))

		r.Get("/nonce", handler.IssueNonce)
		r.Post("/ajax", handler.Ajax)
	})

	return &Server{
		router:  router,
		handler: handler,
		limiter: limiter,
		config:  cfg.Server,
	}
}

// trustedProxies drops entries config validation would have rejected.
func trustedProxies(cidrs []string) []*net.IPNet {
	var nets []*net.IPNet
	for _, c := range cidrs {
		if n, err := ParseTrustedProxies([]string{c}); err == nil {
			nets = append(nets, n...)
		}
	}
	return nets
}

// Start starts the HTTP server.
func (s *Server) Start() error {
	addr := fmt.Sprintf("%s:%d", s.config.Host, s.config.Port)

	s.server = &http.Server{
		Addr:         addr,
		Handler:      s.router,
		ReadTimeout:  time.Duration(s.config.ReadTimeout) * time.Second,
		WriteTimeout: time.Duration(s.config.WriteTimeout) * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	return s.server.ListenAndServe()
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.server == nil {
		return nil
	}
	return s.server.Shutdown(ctx)
}

// Router returns the Chi router for testing.
func (s *Server) Router() *chi.Mux {
	return s.router
}

// Handler returns the handler for testing.
func (s *Server) Handler() *Handler {
	return s.handler
}
