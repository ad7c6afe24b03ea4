package tunnel

import (
	"bufio"
	"fmt"
	"io"
	"net"
	"strings"
	"testing"
	"time"

	"github.com/inthespace/tunneller/internal/config"
	"github.com/inthespace/tunneller/internal/connmgr"
	"github.com/inthespace/tunneller/internal/event"
	"github.com/inthespace/tunneller/internal/monitor"
	"github.com/inthespace/tunneller/internal/router"
)

// fakeRelay stands in for the remote relay: a signal listener plus a data
// listener that records every data-channel handshake line.
type fakeRelay struct {
	signalLn net.Listener
	dataLn   net.Listener

	signalConns chan net.Conn
	handshakes  chan string
	dataConns   chan net.Conn
}

func startFakeRelay(t *testing.T) *fakeRelay {
	t.Helper()
	signalLn, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen signal: %v", err)
	}
	dataLn, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen data: %v", err)
	}
	fr := &fakeRelay{
		signalLn:    signalLn,
		dataLn:      dataLn,
		signalConns: make(chan net.Conn, 4),
		handshakes:  make(chan string, 64),
		dataConns:   make(chan net.Conn, 64),
	}
	t.Cleanup(func() {
		_ = signalLn.Close()
		_ = dataLn.Close()
	})

	go func() {
		for {
			c, err := signalLn.Accept()
			if err != nil {
				return
			}
			fr.signalConns <- c
		}
	}()
	go func() {
		for {
			c, err := dataLn.Accept()
			if err != nil {
				return
			}
			go func(c net.Conn) {
				line, err := bufio.NewReader(c).ReadString('\n')
				if err != nil {
					_ = c.Close()
					return
				}
				fr.handshakes <- strings.TrimSuffix(line, "\n")
				fr.dataConns <- c
			}(c)
		}
	}()
	return fr
}

func (fr *fakeRelay) ports() (signalPort, dataPort int) {
	return fr.signalLn.Addr().(*net.TCPAddr).Port, fr.dataLn.Addr().(*net.TCPAddr).Port
}

func (fr *fakeRelay) acceptSignal(t *testing.T) (net.Conn, *bufio.Reader) {
	t.Helper()
	select {
	case c := <-fr.signalConns:
		t.Cleanup(func() { _ = c.Close() })
		return c, bufio.NewReader(c)
	case <-time.After(5 * time.Second):
		t.Fatalf("agent did not dial the signal port")
		return nil, nil
	}
}

func readLine(t *testing.T, r *bufio.Reader) string {
	t.Helper()
	line, err := r.ReadString('\n')
	if err != nil {
		t.Fatalf("read line: %v", err)
	}
	return strings.TrimSuffix(line, "\n")
}

func newTestAgent(t *testing.T, fr *fakeRelay, mutate func(*config.Config)) (*Agent, *config.Store, *connmgr.Manager, *event.Bus) {
	t.Helper()
	signalPort, dataPort := fr.ports()
	cfg := config.Config{
		Domain:        "demo.tun",
		SignalHost:    "127.0.0.1",
		SignalPort:    signalPort,
		DataPort:      dataPort,
		Mode:          config.ModeRaw,
		RawTargetHost: "127.0.0.1",
		RawTargetPort: 1, // unused unless a test serves raw traffic
	}
	if mutate != nil {
		mutate(&cfg)
	}
	store := config.NewStore(cfg)
	tracker := connmgr.NewManager()
	bus := event.NewBus()
	agent := NewAgent(store, tracker, monitor.NewStats(), bus)
	t.Cleanup(agent.Disconnect)
	return agent, store, tracker, bus
}

func TestAgentRegistersAndAnswersPing(t *testing.T) {
	fr := startFakeRelay(t)
	agent, _, _, bus := newTestAgent(t, fr, nil)

	events, cancel := bus.Subscribe()
	t.Cleanup(cancel)

	agent.Connect()
	conn, r := fr.acceptSignal(t)

	if got := readLine(t, r); got != "REGISTER demo.tun" {
		t.Fatalf("register line = %q", got)
	}

	if _, err := conn.Write([]byte("PING\n")); err != nil {
		t.Fatalf("write ping: %v", err)
	}
	if got := readLine(t, r); got != "PONG" {
		t.Fatalf("ping answered with %q", got)
	}
	if _, ok := agent.HeartbeatAge(); !ok {
		t.Fatalf("heartbeat not recorded")
	}

	deadline := time.After(5 * time.Second)
	for {
		select {
		case ev := <-events:
			if ev.Type == event.Heartbeat {
				return
			}
		case <-deadline:
			t.Fatalf("heartbeat event not published")
		}
	}
}

func TestAgentIgnoresUnknownCommands(t *testing.T) {
	fr := startFakeRelay(t)
	agent, _, _, _ := newTestAgent(t, fr, nil)

	agent.Connect()
	conn, r := fr.acceptSignal(t)
	readLine(t, r) // REGISTER

	if _, err := conn.Write([]byte("\nWHATEVER x y\nPING\n")); err != nil {
		t.Fatalf("write: %v", err)
	}
	// Still alive and answering after the unknown line.
	if got := readLine(t, r); got != "PONG" {
		t.Fatalf("got %q, want PONG", got)
	}
}

func TestAgentConcurrentConnects(t *testing.T) {
	fr := startFakeRelay(t)
	agent, _, _, _ := newTestAgent(t, fr, nil)

	agent.Connect()
	conn, r := fr.acceptSignal(t)
	readLine(t, r) // REGISTER

	const n = 50
	var lines strings.Builder
	for i := 0; i < n; i++ {
		fmt.Fprintf(&lines, "CONNECT req-%02d\n", i)
	}
	if _, err := conn.Write([]byte(lines.String())); err != nil {
		t.Fatalf("write connects: %v", err)
	}

	want := make(map[string]bool, n)
	for i := 0; i < n; i++ {
		want[fmt.Sprintf("REGISTER demo.tun req-%02d", i)] = true
	}
	for i := 0; i < n; i++ {
		select {
		case hs := <-fr.handshakes:
			if !want[hs] {
				t.Fatalf("unexpected handshake %q", hs)
			}
			delete(want, hs)
		case <-time.After(5 * time.Second):
			t.Fatalf("missing %d handshakes", len(want))
		}
	}
}

func TestAgentRoutingEndToEnd(t *testing.T) {
	backendLn, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen backend: %v", err)
	}
	t.Cleanup(func() { _ = backendLn.Close() })

	received := make(chan []byte, 1)
	const reply = "HTTP/1.1 200 OK\r\nContent-Length: 0\r\n\r\n"
	go func() {
		c, err := backendLn.Accept()
		if err != nil {
			return
		}
		defer c.Close()
		_ = c.SetDeadline(time.Now().Add(5 * time.Second))
		raw, _ := io.ReadAll(c)
		received <- raw
		_, _ = c.Write([]byte(reply))
	}()

	fr := startFakeRelay(t)
	agent, _, _, _ := newTestAgent(t, fr, func(c *config.Config) {
		c.Mode = config.ModeRouting
		c.Routes = []router.Rule{{
			PathPattern: "/api/*",
			TargetHost:  "127.0.0.1",
			TargetPort:  backendLn.Addr().(*net.TCPAddr).Port,
			Priority:    1,
		}}
	})

	agent.Connect()
	conn, r := fr.acceptSignal(t)
	readLine(t, r) // REGISTER

	if _, err := conn.Write([]byte("CONNECT r1\n")); err != nil {
		t.Fatalf("write connect: %v", err)
	}

	var dataConn net.Conn
	select {
	case hs := <-fr.handshakes:
		if hs != "REGISTER demo.tun r1" {
			t.Fatalf("handshake = %q", hs)
		}
		dataConn = <-fr.dataConns
	case <-time.After(5 * time.Second):
		t.Fatalf("no data channel opened")
	}
	t.Cleanup(func() { _ = dataConn.Close() })

	request := "GET /api/users HTTP/1.1\r\nHost: x\r\n\r\n"
	if _, err := dataConn.Write([]byte(request)); err != nil {
		t.Fatalf("write request: %v", err)
	}
	_ = dataConn.(*net.TCPConn).CloseWrite()

	_ = dataConn.SetReadDeadline(time.Now().Add(5 * time.Second))
	resp, err := io.ReadAll(dataConn)
	if err != nil {
		t.Fatalf("read response: %v", err)
	}
	if string(resp) != reply {
		t.Fatalf("response = %q, want %q", resp, reply)
	}

	select {
	case raw := <-received:
		if string(raw) != request {
			t.Fatalf("backend saw %q, want %q", raw, request)
		}
	case <-time.After(5 * time.Second):
		t.Fatalf("backend received nothing")
	}
}

func TestAgentTableSwapsOnRuleChange(t *testing.T) {
	fr := startFakeRelay(t)
	agent, store, _, _ := newTestAgent(t, fr, func(c *config.Config) {
		c.Routes = []router.Rule{{PathPattern: "/a/*", TargetHost: "h", TargetPort: 1, Priority: 1}}
	})

	before := agent.Table()
	if _, ok := before.Lookup("/b"); ok {
		t.Fatalf("unexpected match before edit")
	}

	if err := store.AddRule(router.Rule{PathPattern: "/b/*", TargetHost: "h2", TargetPort: 2, Priority: 1}); err != nil {
		t.Fatalf("add rule: %v", err)
	}

	// The listener fired synchronously: the published snapshot already knows /b,
	// while the snapshot taken before the edit is untouched.
	if _, ok := agent.Table().Lookup("/b"); !ok {
		t.Fatalf("new table missing /b")
	}
	if _, ok := before.Lookup("/b"); ok {
		t.Fatalf("old snapshot mutated")
	}
}

func TestAgentDisconnectTearsDown(t *testing.T) {
	fr := startFakeRelay(t)
	agent, _, tracker, _ := newTestAgent(t, fr, nil)

	agent.Connect()
	conn, r := fr.acceptSignal(t)
	readLine(t, r) // REGISTER

	agent.Disconnect()

	if agent.IsRunning() {
		t.Fatalf("still running after Disconnect")
	}
	if s, c, k := tracker.Counts(); s != 0 || c != 0 || k != 0 {
		t.Fatalf("tracker not empty: %d/%d/%d", s, c, k)
	}

	// The relay observes the socket closing.
	_ = conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	if _, err := r.ReadString('\n'); err == nil {
		t.Fatalf("signal socket still open")
	}

	// Disconnect from IDLE is a no-op.
	agent.Disconnect()
}

func TestAgentDoesNotReconnectWhenDisabled(t *testing.T) {
	fr := startFakeRelay(t)
	agent, _, _, _ := newTestAgent(t, fr, nil) // AutoReconnect false

	agent.Connect()
	conn, r := fr.acceptSignal(t)
	readLine(t, r) // REGISTER
	_ = conn.Close()

	deadline := time.Now().Add(3 * time.Second)
	for agent.IsRunning() {
		if time.Now().After(deadline) {
			t.Fatalf("agent still running after server close with reconnect disabled")
		}
		time.Sleep(10 * time.Millisecond)
	}

	select {
	case <-fr.signalConns:
		t.Fatalf("agent reconnected despite autoReconnect=false")
	case <-time.After(200 * time.Millisecond):
	}
}
