package netio

import (
	"io"
	"net"
	"sync"

	"github.com/inthespace/tunneller/pkg/connutil"
)

// DefaultBufferSize is the copy buffer used by each pipe direction.
const DefaultBufferSize = 8192

var bufferPool = sync.Pool{
	New: func() any {
		return make([]byte, DefaultBufferSize)
	},
}

// PipeConn copies data bidirectionally between a and b, then closes both.
//
// Each direction half-closes its peer on EOF so the other copier drains the
// remaining bytes instead of being cut off.
func PipeConn(a, b net.Conn) {
	PipeConnBuffer(a, b, 0)
}

// PipeConnBuffer is PipeConn with an explicit per-direction buffer size.
// Sizes <= 0 fall back to DefaultBufferSize.
func PipeConnBuffer(a, b net.Conn, bufSize int) {
	var wg sync.WaitGroup
	wg.Add(2)

	go func() {
		defer wg.Done()
		copyOneWay(a, b, bufSize)
		_ = connutil.TryCloseWrite(a)
		_ = connutil.TryCloseRead(b)
	}()

	go func() {
		defer wg.Done()
		copyOneWay(b, a, bufSize)
		_ = connutil.TryCloseWrite(b)
		_ = connutil.TryCloseRead(a)
	}()

	wg.Wait()
	_ = a.Close()
	_ = b.Close()
}

func copyOneWay(dst io.Writer, src io.Reader, bufSize int) {
	if bufSize > 0 && bufSize != DefaultBufferSize {
		_, _ = io.CopyBuffer(dst, src, make([]byte, bufSize))
		return
	}
	buf := bufferPool.Get().([]byte)
	defer bufferPool.Put(buf)
	_, _ = io.CopyBuffer(dst, src, buf)
}
