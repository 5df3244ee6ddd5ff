// Package gateway is the HTTP/WebSocket surface in front of a tasks
// node: task submission and read-back for producers, worker/pool
// introspection for operators, and a live event feed over WebSocket —
// none of it sits on the claim/resolve path Workers drive directly.
package gateway

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"

	"github.com/riftborne/treequeue/internal/config"
	"github.com/riftborne/treequeue/internal/events"
	"github.com/riftborne/treequeue/internal/gateway/handlers"
	gwmiddleware "github.com/riftborne/treequeue/internal/gateway/middleware"
	"github.com/riftborne/treequeue/internal/gateway/websocket"
	"github.com/riftborne/treequeue/internal/pool"
	"github.com/riftborne/treequeue/internal/record"
	"github.com/riftborne/treequeue/internal/rtdb"
)

// Server is the gateway's chi router plus the WebSocket hub it starts
// and stops alongside the HTTP listener.
type Server struct {
	router       *chi.Mux
	cfg          config.GatewayConfig
	taskHandler  *handlers.TaskHandler
	adminHandler *handlers.AdminHandler
	wsHub        *websocket.Hub
	wsHandler    *websocket.Handler
	publisher    events.Publisher
}

// NewServer builds a Server fronting store, scoped to spec for task
// submission, and reporting on pools for admin introspection.
// publisher may be nil, in which case the WebSocket endpoint never
// receives anything but still accepts connections.
func NewServer(cfg config.GatewayConfig, store *rtdb.Store, spec record.Spec, publisher events.Publisher, pools ...*pool.Pool) *Server {
	wsHub := websocket.NewHub(publisher)

	s := &Server{
		router:       chi.NewRouter(),
		cfg:          cfg,
		taskHandler:  handlers.NewTaskHandler(store, spec),
		adminHandler: handlers.NewAdminHandler(store, pools...),
		wsHub:        wsHub,
		wsHandler:    websocket.NewHandler(wsHub),
		publisher:    publisher,
	}

	s.setupMiddleware()
	s.setupRoutes()
	return s
}

func (s *Server) setupMiddleware() {
	s.router.Use(chimiddleware.RequestID)
	s.router.Use(chimiddleware.RealIP)
	s.router.Use(gwmiddleware.RequestLogger())
	s.router.Use(chimiddleware.Recoverer)
	s.router.Use(chimiddleware.Heartbeat("/health"))
}

func (s *Server) setupRoutes() {
	s.router.Route("/api/v1", func(r chi.Router) {
		r.Use(chimiddleware.AllowContentType("application/json"))
		if s.cfg.RateLimitRPS > 0 {
			r.Use(gwmiddleware.ClientRateLimit(s.cfg.RateLimitRPS))
		}
		if s.cfg.Auth.Enabled {
			authCfg := &gwmiddleware.AuthConfig{
				Enabled:   true,
				JWTSecret: s.cfg.Auth.JWTSecret,
				APIKeys:   apiKeySet(s.cfg.Auth.APIKeys),
			}
			r.Use(gwmiddleware.Auth(authCfg))
		}

		r.Route("/tasks", func(r chi.Router) {
			r.Post("/", s.taskHandler.Create)
			r.Get("/", s.taskHandler.List)
			r.Get("/{taskID}", s.taskHandler.Get)
			r.Delete("/{taskID}", s.taskHandler.Cancel)
		})
	})

	s.router.Route("/admin", func(r chi.Router) {
		r.Use(chimiddleware.AllowContentType("application/json"))
		r.Get("/health", s.adminHandler.HealthCheck)
		r.Get("/pools", s.adminHandler.GetPools)
		r.Get("/workers", s.adminHandler.ListWorkers)
		r.Get("/workers/{ownerID}", s.adminHandler.GetWorker)
		r.Get("/tasks", s.adminHandler.TasksByState)
	})

	s.router.Get("/ws", s.wsHandler.ServeWS)
}

func apiKeySet(keys []string) map[string]bool {
	out := make(map[string]bool, len(keys))
	for _, k := range keys {
		out[k] = true
	}
	return out
}

// Start starts the WebSocket hub's dispatch loop.
func (s *Server) Start(ctx context.Context) {
	go s.wsHub.Run(ctx)
}

// Stop tears down the WebSocket hub.
func (s *Server) Stop() {
	s.wsHub.Stop()
}

// Router returns the chi router, mostly for tests.
func (s *Server) Router() *chi.Mux { return s.router }

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}
