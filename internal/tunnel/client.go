package tunnel

import (
	"bufio"
	"net"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"

	"github.com/inthespace/tunneller/internal/config"
	"github.com/inthespace/tunneller/internal/connmgr"
	"github.com/inthespace/tunneller/internal/event"
	"github.com/inthespace/tunneller/internal/monitor"
	"github.com/inthespace/tunneller/internal/router"
)

const dialTimeout = 10 * time.Second

// Agent keeps the control channel to the relay alive and services the data
// channels it announces.
//
// One long-lived goroutine runs the signal loop; every CONNECT spawns an
// independent per-request goroutine that lives until both pipe directions
// finish.
type Agent struct {
	cfg     *config.Store
	tracker *connmgr.Manager
	stats   *monitor.Stats
	bus     *event.Bus

	table atomic.Pointer[router.Table]

	mu      sync.Mutex
	running bool
	stop    chan struct{}

	lastHeartbeat atomic.Int64
}

func NewAgent(cfg *config.Store, tracker *connmgr.Manager, stats *monitor.Stats, bus *event.Bus) *Agent {
	a := &Agent{
		cfg:     cfg,
		tracker: tracker,
		stats:   stats,
		bus:     bus,
	}
	a.rebuildTable()
	cfg.SetRoutesChangedListener(a.onRoutesChanged)
	return a
}

func (a *Agent) onRoutesChanged() {
	a.rebuildTable()
	if a.bus != nil {
		a.bus.Publish(event.Event{Type: event.RoutesChanged})
	}
}

// rebuildTable publishes a freshly sorted snapshot. Requests in flight keep
// whatever snapshot they already loaded.
func (a *Agent) rebuildTable() {
	t := router.NewTable(a.cfg.Rules())
	a.table.Store(t)
	for _, r := range t.Rules() {
		log.Debugf("route %s", r)
	}
}

// Table returns the currently published routing snapshot.
func (a *Agent) Table() *router.Table {
	return a.table.Load()
}

// Connect starts the control loop. It returns immediately; the loop dials in
// the background and reconnects per configuration.
func (a *Agent) Connect() {
	a.mu.Lock()
	if a.running {
		a.mu.Unlock()
		log.Info("client already running")
		return
	}
	a.running = true
	stop := make(chan struct{})
	a.stop = stop
	a.mu.Unlock()

	if a.bus != nil {
		a.bus.Publish(event.Event{Type: event.ClientStarted})
	}
	go a.run(stop)
	log.Info("client started")
}

// Disconnect stops the control loop and closes every tracked resource. Safe
// to call from any state.
func (a *Agent) Disconnect() {
	a.mu.Lock()
	if !a.running {
		a.mu.Unlock()
		log.Info("client not running")
		return
	}
	a.running = false
	stop := a.stop
	a.stop = nil
	a.mu.Unlock()

	log.Info("shutting down client")
	close(stop)
	a.tracker.CloseAll()
	if a.bus != nil {
		a.bus.Publish(event.Event{Type: event.ClientStopped})
	}
	log.Info("client shutdown complete")
}

func (a *Agent) IsRunning() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.running
}

// HeartbeatAge reports the time since the last PING, or false when no
// heartbeat has arrived in this process.
func (a *Agent) HeartbeatAge() (time.Duration, bool) {
	ns := a.lastHeartbeat.Load()
	if ns == 0 {
		return 0, false
	}
	return time.Since(time.Unix(0, ns)), true
}

// run cycles DIALING -> REGISTERED -> RETRYING until Disconnect.
func (a *Agent) run(stop chan struct{}) {
	attempt := 0
	for a.IsRunning() {
		attempt++
		registered, err := a.runSession()
		if registered {
			attempt = 0
		}
		if !a.IsRunning() {
			break
		}
		if err != nil {
			log.Errorf("signal connection failed: %v", err)
		}
		if !a.cfg.AutoReconnect() {
			log.Error("auto-reconnect disabled, stopping")
			break
		}

		n := attempt
		if n < 1 {
			n = 1
		}
		delay := RetryDelay(n)
		log.Warnf("retrying in %s (attempt %d)", delay, n)
		select {
		case <-stop:
			return
		case <-time.After(delay):
		}
	}

	a.mu.Lock()
	a.running = false
	a.mu.Unlock()
	log.Info("client stopped")
}

// runSession dials the signal server, registers, and services command lines
// until the connection ends. Disconnect interrupts the blocking read by
// closing the tracked socket. registered reports whether the REGISTER line
// was written, which resets the backoff counter.
func (a *Agent) runSession() (registered bool, err error) {
	host, signalPort, dataPort := a.cfg.SignalAddr()
	fullDomain := a.cfg.FullDomain()
	addr := net.JoinHostPort(host, strconv.Itoa(signalPort))

	sessionLog := log.WithField("session", shortID())
	sessionLog.Infof("connecting to signal server %s", addr)

	conn, err := net.DialTimeout("tcp", addr, dialTimeout)
	if err != nil {
		return false, err
	}
	if tcp, ok := conn.(*net.TCPConn); ok {
		// Detect half-open connections so a dead relay triggers a reconnect.
		_ = tcp.SetKeepAlive(true)
	}
	a.tracker.SetSignalSocket(conn)
	defer func() {
		a.tracker.UnregisterSocket(conn)
		_ = conn.Close()
	}()

	if _, err := conn.Write([]byte("REGISTER " + fullDomain + "\n")); err != nil {
		return false, err
	}
	sessionLog.Infof("registered as %s", fullDomain)
	registered = true

	reader := bufio.NewReader(conn)
	for a.IsRunning() {
		line, err := reader.ReadString('\n')
		if err != nil {
			sessionLog.Info("signal connection ended")
			return registered, nil
		}
		line = strings.TrimSuffix(line, "\n")
		line = strings.TrimSuffix(line, "\r")
		if line == "" {
			continue
		}

		switch {
		case line == "PING":
			a.lastHeartbeat.Store(time.Now().UnixNano())
			if _, err := conn.Write([]byte("PONG\n")); err != nil {
				return registered, err
			}
			if a.bus != nil {
				a.bus.Publish(event.Event{Type: event.Heartbeat})
			}
			sessionLog.Debug("heartbeat PING <-> PONG")

		case strings.HasPrefix(line, "CONNECT "):
			parts := strings.Split(line, " ")
			if len(parts) < 2 || parts[1] == "" {
				sessionLog.Errorf("invalid CONNECT command: %q", line)
				continue
			}
			requestID := parts[1]
			sessionLog.WithField("request", requestID).Info("received CONNECT")
			if a.bus != nil {
				a.bus.Publish(event.Event{Type: event.Connect, RequestID: requestID})
			}
			go a.handleTunnel(requestID, host, dataPort, fullDomain)

		default:
			sessionLog.Infof("unknown command: %q", line)
		}
	}
	return registered, nil
}

func shortID() string {
	id := uuid.NewString()
	return id[:8]
}
