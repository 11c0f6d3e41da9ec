// Package httpserver exposes the control plane API over HTTP.
package httpserver

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/MrSnakeDoc/stackpilot/internal/config"
	"github.com/MrSnakeDoc/stackpilot/internal/httpserver/deps"
	"github.com/MrSnakeDoc/stackpilot/internal/httpserver/mw"
	"github.com/MrSnakeDoc/stackpilot/internal/httpserver/routes"
	"github.com/MrSnakeDoc/stackpilot/internal/logger"
)

type Server struct {
	srv *http.Server
	log logger.Logger
}

// New builds the router and the underlying http.Server. Nothing listens
// until Start is called.
func New(cfg *config.Config, log logger.Logger, d deps.Deps) *Server {
	r := chi.NewRouter()
	r.Use(
		middleware.GetHead,
		middleware.RequestID,
		middleware.Recoverer,
		middleware.Timeout(cfg.RequestTimeout),
		mw.Log(log),
		mw.SecurityHeaders(),
	)
	r.NotFound(jsonStatus(http.StatusNotFound))
	r.MethodNotAllowed(jsonStatus(http.StatusMethodNotAllowed))

	routes.RegisterAll(r, d)

	return &Server{
		log: log,
		srv: &http.Server{
			Addr:              cfg.ListenPort,
			Handler:           r,
			ReadHeaderTimeout: 5 * time.Second,
			ReadTimeout:       15 * time.Second,
			WriteTimeout:      cfg.RequestTimeout + 5*time.Second,
			IdleTimeout:       2 * time.Minute,
			MaxHeaderBytes:    64 << 10,
		},
	}
}

// Handler returns the root router.
func (s *Server) Handler() http.Handler { return s.srv.Handler }

// Start listens and serves until Stop is called. A clean shutdown
// returns nil.
func (s *Server) Start() error {
	ln, err := net.Listen("tcp", s.srv.Addr)
	if err != nil {
		return err
	}
	s.log.Info("http server listening", logger.String("addr", ln.Addr().String()))

	if err := s.srv.Serve(ln); !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Stop drains in-flight requests until ctx expires.
func (s *Server) Stop(ctx context.Context) error {
	s.log.Info("http server draining")
	return s.srv.Shutdown(ctx)
}

func jsonStatus(status int) http.HandlerFunc {
	body, _ := json.Marshal(map[string]any{"success": false, "error": http.StatusText(status)})
	return func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_, _ = w.Write(body)
	}
}
