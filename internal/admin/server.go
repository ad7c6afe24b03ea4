package admin

import (
	"context"
	"errors"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	log "github.com/sirupsen/logrus"

	"github.com/inthespace/tunneller/internal/config"
	"github.com/inthespace/tunneller/internal/event"
	"github.com/inthespace/tunneller/internal/monitor"
	"github.com/inthespace/tunneller/internal/tunnel"
)

// Server is the local web admin: a REST surface over the config store and the
// agent, plus a websocket event feed. It binds loopback only.
type Server struct {
	cfg   *config.Store
	agent *tunnel.Agent
	stats *monitor.Stats
	bus   *event.Bus

	httpSrv *http.Server
	ln      net.Listener
	port    int
}

func New(cfg *config.Store, agent *tunnel.Agent, stats *monitor.Stats, bus *event.Bus) *Server {
	return &Server{cfg: cfg, agent: agent, stats: stats, bus: bus}
}

// Start listens on the configured admin port. With adminAutoPort, a taken
// port falls back to an ephemeral one instead of failing startup.
func (s *Server) Start() error {
	snapshot := s.cfg.Snapshot()

	ln, err := net.Listen("tcp", net.JoinHostPort("127.0.0.1", strconv.Itoa(snapshot.AdminPort)))
	if err != nil {
		if !snapshot.AdminAutoPort {
			return err
		}
		ln, err = net.Listen("tcp", "127.0.0.1:0")
		if err != nil {
			return err
		}
	}
	s.ln = ln
	s.port = ln.Addr().(*net.TCPAddr).Port

	s.httpSrv = &http.Server{
		Handler:           s.routes(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		if err := s.httpSrv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Errorf("admin server: %v", err)
		}
	}()

	log.Infof("web admin started at http://127.0.0.1:%d", s.port)
	return nil
}

func (s *Server) Stop() error {
	if s.httpSrv == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	err := s.httpSrv.Shutdown(ctx)
	log.Info("web admin stopped")
	return err
}

// Port returns the bound port (useful with adminAutoPort).
func (s *Server) Port() int { return s.port }

func (s *Server) routes() http.Handler {
	r := chi.NewRouter()

	r.Route("/api", func(r chi.Router) {
		r.Get("/routes", s.getRoutes)
		r.Post("/routes", s.addRoute)
		r.Put("/routes/{index}", s.updateRoute)
		r.Delete("/routes/{index}", s.deleteRoute)

		r.Post("/client/start", s.startClient)
		r.Post("/client/stop", s.stopClient)
		r.Get("/status", s.getStatus)

		r.Get("/config", s.getConfig)
		r.Put("/config/domain", s.updateDomain)
		r.Put("/config/signal", s.updateSignal)
		r.Put("/config/mode", s.updateMode)

		r.Get("/stats", s.getStats)
		r.Get("/events", s.serveEvents)
	})

	return r
}
