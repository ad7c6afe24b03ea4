package tunnel

import (
	"net"
	"strconv"

	log "github.com/sirupsen/logrus"

	"github.com/inthespace/tunneller/internal/config"
	"github.com/inthespace/tunneller/internal/monitor"
	"github.com/inthespace/tunneller/internal/netio"
	"github.com/inthespace/tunneller/internal/router"
)

// handleTunnel services one CONNECT announcement: open the data channel,
// pair it with the waiting user socket, then hand off by mode. Errors here
// are terminal for this request only.
func (a *Agent) handleTunnel(requestID, host string, dataPort int, fullDomain string) {
	logger := log.WithField("request", requestID)
	if !a.IsRunning() {
		return
	}

	addr := net.JoinHostPort(host, strconv.Itoa(dataPort))
	conn, err := net.DialTimeout("tcp", addr, dialTimeout)
	if err != nil {
		logger.Errorf("data channel dial failed: %v", err)
		return
	}
	a.tracker.RegisterSocket(conn)
	// Track the task too: cancelling closes the socket, which unblocks
	// whatever read or copy this goroutine is sitting in.
	task := a.tracker.RegisterTask(func() { _ = conn.Close() })
	defer func() {
		a.tracker.UnregisterTask(task)
		a.tracker.UnregisterSocket(conn)
		_ = conn.Close()
	}()

	// Handshake pairs this socket with the user socket held by the relay.
	if _, err := conn.Write([]byte("REGISTER " + fullDomain + " " + requestID + "\n")); err != nil {
		logger.Errorf("data channel handshake failed: %v", err)
		return
	}

	switch a.cfg.Mode() {
	case config.ModeRaw:
		a.serveRaw(logger, conn)
	default:
		a.serveRouting(logger, requestID, conn)
	}
}

// serveRaw splices the data channel straight to the raw target.
func (a *Agent) serveRaw(logger *log.Entry, client net.Conn) {
	host, port := a.cfg.RawTarget()
	addr := net.JoinHostPort(host, strconv.Itoa(port))
	logger.Infof("raw mode: forwarding to %s", addr)

	target, err := net.DialTimeout("tcp", addr, dialTimeout)
	if err != nil {
		logger.Errorf("raw target dial failed: %v", err)
		return
	}
	a.tracker.RegisterSocket(target)
	defer a.tracker.UnregisterSocket(target)

	netio.PipeConnBuffer(client, target, a.cfg.BufferSize())
}

// serveRouting parses the request head, looks it up against the published
// snapshot and hands off to the matching route handler.
func (a *Agent) serveRouting(logger *log.Entry, requestID string, client net.Conn) {
	head, err := router.ReadHead(client)
	if err != nil {
		logger.Errorf("invalid http request: %v", err)
		return
	}
	logger.Infof("%s %s", head.Method, head.Path)

	rule, ok := a.table.Load().Lookup(head.Path)
	if !ok {
		logger.Errorf("no route found for %s", head.Path)
		return
	}

	var stats *monitor.Stats
	if a.cfg.MonitoringEnabled() {
		stats = a.stats
	}
	handler := router.NewHandler(rule, router.HandlerOptions{
		Stats:                stats,
		Tracker:              a.tracker,
		ForceConnectionClose: a.cfg.ForceConnectionClose(),
		BufferSize:           a.cfg.BufferSize(),
		DialTimeout:          dialTimeout,
	})
	handler.Serve(requestID, client, head)
}
