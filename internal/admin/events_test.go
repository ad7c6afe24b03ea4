package admin

import (
	"fmt"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/inthespace/tunneller/internal/event"
)

func TestEventStream(t *testing.T) {
	srv, _, _ := startTestServer(t)

	url := fmt.Sprintf("ws://127.0.0.1:%d/api/events", srv.Port())
	conn, resp, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial events: %v", err)
	}
	if resp != nil {
		_ = resp.Body.Close()
	}
	t.Cleanup(func() { _ = conn.Close() })

	// The handler subscribes shortly after the upgrade; keep publishing until
	// one delivery lands.
	stop := make(chan struct{})
	defer close(stop)
	go func() {
		tick := time.NewTicker(50 * time.Millisecond)
		defer tick.Stop()
		for {
			select {
			case <-stop:
				return
			case <-tick.C:
				srv.bus.Publish(event.Event{Type: event.Heartbeat})
			}
		}
	}()

	got := event.Event{}
	_ = conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	if err := conn.ReadJSON(&got); err != nil {
		t.Fatalf("read event: %v", err)
	}
	if got.Type != event.Heartbeat {
		t.Fatalf("event type = %q", got.Type)
	}
	if got.Time.IsZero() {
		t.Fatalf("event time not stamped")
	}
}
