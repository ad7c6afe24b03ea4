package connmgr

import (
	"io"
	"net"
	"sync"

	log "github.com/sirupsen/logrus"
)

// Manager tracks every socket, stream and background task the agent owns so
// that a disconnect can tear all of them down in one call.
//
// Registration is safe concurrently with CloseAll. A registration that races
// the snapshot may be missed; the owning goroutine always cleans its own
// resource on exit, so nothing leaks.
type Manager struct {
	mu sync.Mutex

	sockets   map[net.Conn]struct{}
	closers   map[io.Closer]struct{}
	cancels   map[*taskHandle]struct{}
	signalSoc net.Conn
}

type taskHandle struct {
	cancel func()
}

// TaskHandle identifies a registered background task.
type TaskHandle = taskHandle

func NewManager() *Manager {
	return &Manager{
		sockets: make(map[net.Conn]struct{}),
		closers: make(map[io.Closer]struct{}),
		cancels: make(map[*taskHandle]struct{}),
	}
}

func (m *Manager) RegisterSocket(c net.Conn) {
	if c == nil {
		return
	}
	m.mu.Lock()
	m.sockets[c] = struct{}{}
	m.mu.Unlock()
}

func (m *Manager) UnregisterSocket(c net.Conn) {
	if c == nil {
		return
	}
	m.mu.Lock()
	delete(m.sockets, c)
	m.mu.Unlock()
}

func (m *Manager) RegisterCloser(c io.Closer) {
	if c == nil {
		return
	}
	m.mu.Lock()
	m.closers[c] = struct{}{}
	m.mu.Unlock()
}

func (m *Manager) UnregisterCloser(c io.Closer) {
	if c == nil {
		return
	}
	m.mu.Lock()
	delete(m.closers, c)
	m.mu.Unlock()
}

// RegisterTask records a cancel function for a background task. The returned
// handle must be passed to UnregisterTask when the task exits on its own.
func (m *Manager) RegisterTask(cancel func()) *TaskHandle {
	if cancel == nil {
		return nil
	}
	h := &taskHandle{cancel: cancel}
	m.mu.Lock()
	m.cancels[h] = struct{}{}
	m.mu.Unlock()
	return h
}

func (m *Manager) UnregisterTask(h *TaskHandle) {
	if h == nil {
		return
	}
	m.mu.Lock()
	delete(m.cancels, h)
	m.mu.Unlock()
}

// SetSignalSocket registers the control-channel socket. It is tracked like any
// other socket and additionally remembered so SignalSocket can return it.
func (m *Manager) SetSignalSocket(c net.Conn) {
	m.mu.Lock()
	m.signalSoc = c
	if c != nil {
		m.sockets[c] = struct{}{}
	}
	m.mu.Unlock()
}

func (m *Manager) SignalSocket() net.Conn {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.signalSoc
}

// Counts reports the tracked resource counts.
func (m *Manager) Counts() (sockets, closers, tasks int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.sockets), len(m.closers), len(m.cancels)
}

// CloseAll closes every tracked socket and closer, cancels every tracked task,
// then clears the sets. Called on disconnect.
func (m *Manager) CloseAll() {
	m.mu.Lock()
	sockets := make([]net.Conn, 0, len(m.sockets))
	for c := range m.sockets {
		sockets = append(sockets, c)
	}
	closers := make([]io.Closer, 0, len(m.closers))
	for c := range m.closers {
		closers = append(closers, c)
	}
	tasks := make([]*taskHandle, 0, len(m.cancels))
	for h := range m.cancels {
		tasks = append(tasks, h)
	}
	m.sockets = make(map[net.Conn]struct{})
	m.closers = make(map[io.Closer]struct{})
	m.cancels = make(map[*taskHandle]struct{})
	m.signalSoc = nil
	m.mu.Unlock()

	log.WithFields(log.Fields{
		"sockets": len(sockets),
		"closers": len(closers),
		"tasks":   len(tasks),
	}).Debug("closing all tracked resources")

	for _, c := range sockets {
		_ = c.Close()
	}
	for _, c := range closers {
		_ = c.Close()
	}
	for _, h := range tasks {
		h.cancel()
	}
}
