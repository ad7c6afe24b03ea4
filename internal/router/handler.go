package router

import (
	"bytes"
	"net"
	"strings"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/inthespace/tunneller/internal/connmgr"
	"github.com/inthespace/tunneller/internal/monitor"
	"github.com/inthespace/tunneller/internal/netio"
)

// HandlerOptions carries the per-process collaborators and toggles a handler
// reads at request time.
type HandlerOptions struct {
	// Stats receives per-pattern accounting; nil disables monitoring.
	Stats *monitor.Stats
	// Tracker registers the backend socket for teardown on disconnect.
	Tracker *connmgr.Manager
	// ForceConnectionClose strips hop-by-hop keep-alive headers and injects
	// Connection: close.
	ForceConnectionClose bool
	// BufferSize sizes the two copy pipes; <= 0 uses the default.
	BufferSize int
	// DialTimeout bounds the backend dial and TLS handshake.
	DialTimeout time.Duration
}

// Handler forwards requests matched by one rule. Handlers share nothing with
// each other beyond the collaborators in HandlerOptions.
type Handler struct {
	rule Rule
	opts HandlerOptions
}

func NewHandler(rule Rule, opts HandlerOptions) *Handler {
	return &Handler{rule: rule, opts: opts}
}

func (h *Handler) Rule() Rule { return h.rule }

func (h *Handler) Matches(path string) bool { return h.rule.Matches(path) }

// Serve forwards one parsed request to the rule's backend and shuffles bytes
// both ways until both directions finish. Any error is terminal for this request
// only.
func (h *Handler) Serve(requestID string, client net.Conn, head *Head) {
	logger := log.WithFields(log.Fields{
		"request": requestID,
		"pattern": h.rule.PathPattern,
		"target":  h.rule.Target(),
	})
	logger.Infof("routing %s %s", head.Method, head.Path)

	if h.opts.Stats != nil {
		h.opts.Stats.RecordConnection(h.rule.PathPattern)
		defer h.opts.Stats.CompleteConnection(h.rule.PathPattern)
	}

	backend, err := dialBackend(h.rule.Target(), h.rule.UseSSL, h.opts.DialTimeout)
	if err != nil {
		logger.Errorf("backend dial failed: %v", err)
		_ = client.Close()
		return
	}
	if h.rule.UseSSL {
		logger.Debug("tls handshake completed")
	}
	if h.opts.Tracker != nil {
		h.opts.Tracker.RegisterSocket(backend)
		defer h.opts.Tracker.UnregisterSocket(backend)
	}

	if err := h.writeHead(backend, head); err != nil {
		logger.Errorf("forward head failed: %v", err)
		_ = backend.Close()
		_ = client.Close()
		return
	}

	// Replay any body bytes that arrived with the head, then splice.
	netio.PipeConnBuffer(netio.NewPreBufferedConn(client, head.Body()), backend, h.opts.BufferSize)
}

// writeHead emits the rewritten request line, the filtered original headers,
// the injected headers and the blank line.
func (h *Handler) writeHead(backend net.Conn, head *Head) error {
	var out bytes.Buffer

	effectivePath := h.rule.RewritePath(head.Path)
	out.WriteString(head.Method)
	out.WriteByte(' ')
	out.WriteString(effectivePath)
	out.WriteByte(' ')
	out.WriteString(head.Version)
	out.WriteString("\r\n")

	end := head.HeaderEnd
	if end < 0 {
		end = len(head.Raw)
	}
	if end > head.FirstLineEnd {
		for _, line := range bytes.Split(head.Raw[head.FirstLineEnd:end], []byte("\r\n")) {
			if len(line) == 0 {
				continue
			}
			if h.skipHeader(line) {
				continue
			}
			out.Write(line)
			out.WriteString("\r\n")
		}
	}

	if h.rule.ForwardHost {
		out.WriteString("Host: " + h.rule.TargetHost + "\r\n")
		if original, ok := head.Headers["host"]; ok {
			out.WriteString("X-Forwarded-Host: " + original + "\r\n")
		}
	}
	if h.opts.ForceConnectionClose {
		out.WriteString("Connection: close\r\n")
	}
	out.WriteString("\r\n")

	_, err := backend.Write(out.Bytes())
	return err
}

func (h *Handler) skipHeader(line []byte) bool {
	colon := bytes.IndexByte(line, ':')
	if colon <= 0 {
		return false
	}
	name := strings.ToLower(string(line[:colon]))
	if h.rule.ForwardHost && name == "host" {
		return true
	}
	if h.opts.ForceConnectionClose {
		switch name {
		case "connection", "keep-alive", "proxy-connection":
			return true
		}
	}
	return false
}
