package http

import (
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"go.uber.org/zap"

	"uno/room"
)

type Server struct {
	router   *mux.Router
	handlers *Handlers
}

func NewServer(manager *room.Manager, logger *zap.Logger) *Server {
	router := mux.NewRouter()
	handlers := NewHandlers(manager, logger)

	server := &Server{
		router:   router,
		handlers: handlers,
	}

	server.setupRoutes(logger)
	return server
}

func (s *Server) setupRoutes(logger *zap.Logger) {
	s.router.Use(LoggingMiddleware(logger))
	s.router.Use(SecurityHeadersMiddleware)
	s.router.Use(CORSMiddleware)

	// Room allocation is cheap to request and unauthenticated, so it gets
	// a per-IP limiter.
	createLimiter := NewRateLimiter(10.0/60.0, 5)

	s.router.Handle("/api/rooms", createLimiter.Middleware(http.HandlerFunc(s.handlers.CreateRoom))).Methods("POST")
	s.router.HandleFunc("/api/health", s.handlers.Health).Methods("GET")

	s.router.HandleFunc("/ws/room/{roomId}", s.handlers.HandleWebSocket)

	s.router.PathPrefix("/api/").HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "not found"})
	})
}

func (s *Server) GetHTTPServer(addr string) *http.Server {
	return &http.Server{
		Addr:              addr,
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       120 * time.Second,
	}
}
