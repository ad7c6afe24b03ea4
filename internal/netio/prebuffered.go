package netio

import (
	"net"

	"github.com/inthespace/tunneller/pkg/connutil"
)

// NewPreBufferedConn returns a net.Conn that replays preRead before reading from conn.
//
// The routing path reads the request head off the data socket before the copy
// loops start; whatever body bytes arrived with the head are pushed back here so
// the downstream pipe still sees a complete stream.
func NewPreBufferedConn(conn net.Conn, preRead []byte) net.Conn {
	if conn == nil || len(preRead) == 0 {
		return conn
	}
	buf := make([]byte, len(preRead))
	copy(buf, preRead)
	return &preBufferedConn{Conn: conn, buf: buf}
}

type preBufferedConn struct {
	net.Conn
	buf []byte
}

func (c *preBufferedConn) Read(p []byte) (int, error) {
	if len(c.buf) > 0 {
		n := copy(p, c.buf)
		c.buf = c.buf[n:]
		if len(c.buf) == 0 {
			c.buf = nil
		}
		return n, nil
	}
	return c.Conn.Read(p)
}

// Half-close passes through to the underlying conn so piped peers still see
// EOF at the right time.

func (c *preBufferedConn) CloseWrite() error { return connutil.TryCloseWrite(c.Conn) }

func (c *preBufferedConn) CloseRead() error { return connutil.TryCloseRead(c.Conn) }
