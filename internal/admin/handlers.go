package admin

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/render"

	"github.com/inthespace/tunneller/internal/config"
	"github.com/inthespace/tunneller/internal/router"
)

func apiError(w http.ResponseWriter, r *http.Request, status int, err error) {
	render.Status(r, status)
	render.JSON(w, r, render.M{"error": err.Error()})
}

func (s *Server) getRoutes(w http.ResponseWriter, r *http.Request) {
	render.JSON(w, r, s.cfg.Rules())
}

func (s *Server) addRoute(w http.ResponseWriter, r *http.Request) {
	var rule router.Rule
	if err := render.DecodeJSON(r.Body, &rule); err != nil {
		apiError(w, r, http.StatusBadRequest, err)
		return
	}
	if err := s.cfg.AddRule(rule); err != nil {
		apiError(w, r, http.StatusBadRequest, err)
		return
	}
	render.Status(r, http.StatusCreated)
	render.JSON(w, r, rule.Normalized())
}

func (s *Server) updateRoute(w http.ResponseWriter, r *http.Request) {
	index, err := strconv.Atoi(chi.URLParam(r, "index"))
	if err != nil {
		apiError(w, r, http.StatusBadRequest, err)
		return
	}
	var rule router.Rule
	if err := render.DecodeJSON(r.Body, &rule); err != nil {
		apiError(w, r, http.StatusBadRequest, err)
		return
	}
	if err := rule.Normalized().Validate(); err != nil {
		apiError(w, r, http.StatusBadRequest, err)
		return
	}
	if err := s.cfg.UpdateRule(index, rule); err != nil {
		apiError(w, r, http.StatusNotFound, err)
		return
	}
	render.JSON(w, r, rule.Normalized())
}

func (s *Server) deleteRoute(w http.ResponseWriter, r *http.Request) {
	index, err := strconv.Atoi(chi.URLParam(r, "index"))
	if err != nil {
		apiError(w, r, http.StatusBadRequest, err)
		return
	}
	if err := s.cfg.RemoveRule(index); err != nil {
		apiError(w, r, http.StatusNotFound, err)
		return
	}
	render.NoContent(w, r)
}

func (s *Server) startClient(w http.ResponseWriter, r *http.Request) {
	if s.agent.IsRunning() {
		render.Status(r, http.StatusBadRequest)
		render.JSON(w, r, render.M{"error": "client is already running"})
		return
	}
	s.agent.Connect()
	render.JSON(w, r, render.M{"success": true, "message": "client started"})
}

func (s *Server) stopClient(w http.ResponseWriter, r *http.Request) {
	if !s.agent.IsRunning() {
		render.Status(r, http.StatusBadRequest)
		render.JSON(w, r, render.M{"error": "client is not running"})
		return
	}
	s.agent.Disconnect()
	render.JSON(w, r, render.M{"success": true, "message": "client stopped"})
}

func (s *Server) getStatus(w http.ResponseWriter, r *http.Request) {
	snapshot := s.cfg.Snapshot()
	status := render.M{
		"running":    s.agent.IsRunning(),
		"routeCount": len(snapshot.Routes),
		"domain":     snapshot.FullDomain(),
		"mode":       snapshot.Mode.String(),
	}
	if age, ok := s.agent.HeartbeatAge(); ok {
		status["heartbeatAge"] = age.Round(time.Millisecond).String()
		status["heartbeatStale"] = age > 30*time.Second
	}
	render.JSON(w, r, status)
}

func (s *Server) getConfig(w http.ResponseWriter, r *http.Request) {
	snapshot := s.cfg.Snapshot()
	render.JSON(w, r, render.M{
		"domain":     snapshot.Domain,
		"signalHost": snapshot.SignalHost,
		"signalPort": snapshot.SignalPort,
		"dataPort":   snapshot.DataPort,
		"mode":       snapshot.Mode.String(),
	})
}

func (s *Server) updateDomain(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Domain string `json:"domain"`
	}
	if err := render.DecodeJSON(r.Body, &body); err != nil {
		apiError(w, r, http.StatusBadRequest, err)
		return
	}
	if err := s.cfg.SetDomain(body.Domain); err != nil {
		apiError(w, r, http.StatusBadRequest, err)
		return
	}
	render.JSON(w, r, render.M{"success": true, "domain": s.cfg.FullDomain()})
}

func (s *Server) updateSignal(w http.ResponseWriter, r *http.Request) {
	var body struct {
		SignalHost string `json:"signalHost"`
		SignalPort int    `json:"signalPort"`
		DataPort   int    `json:"dataPort"`
	}
	if err := render.DecodeJSON(r.Body, &body); err != nil {
		apiError(w, r, http.StatusBadRequest, err)
		return
	}
	if err := s.cfg.SetSignal(body.SignalHost, body.SignalPort, body.DataPort); err != nil {
		apiError(w, r, http.StatusBadRequest, err)
		return
	}
	render.JSON(w, r, render.M{"success": true, "message": "signal configuration updated"})
}

func (s *Server) updateMode(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Mode string `json:"mode"`
	}
	if err := render.DecodeJSON(r.Body, &body); err != nil {
		apiError(w, r, http.StatusBadRequest, err)
		return
	}
	mode, err := config.ParseMode(body.Mode)
	if err != nil {
		apiError(w, r, http.StatusBadRequest, err)
		return
	}
	s.cfg.SetMode(mode)
	render.JSON(w, r, render.M{"success": true, "mode": mode.String()})
}

func (s *Server) getStats(w http.ResponseWriter, r *http.Request) {
	render.JSON(w, r, render.M{
		"totalConnections":  s.stats.TotalConnections(),
		"activeConnections": s.stats.ActiveConnections(),
		"routes":            s.stats.Snapshot(),
	})
}
