package router

import (
	"crypto/tls"
	"net"
	"time"
)

// dialBackend opens the backend connection for a rule. With useSSL the
// connection is wrapped in TLS that trusts any certificate — backends are
// local or internal services with self-signed certs — and the handshake is
// forced before the connection is used.
func dialBackend(addr string, useSSL bool, timeout time.Duration) (net.Conn, error) {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	raw, err := net.DialTimeout("tcp", addr, timeout)
	if err != nil {
		return nil, err
	}
	if !useSSL {
		return raw, nil
	}

	tlsConn := tls.Client(raw, &tls.Config{
		InsecureSkipVerify: true,
	})
	_ = tlsConn.SetDeadline(time.Now().Add(timeout))
	if err := tlsConn.Handshake(); err != nil {
		_ = raw.Close()
		return nil, err
	}
	_ = tlsConn.SetDeadline(time.Time{})
	return tlsConn, nil
}
