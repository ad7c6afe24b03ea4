package router

import (
	"bytes"
	"errors"
	"io"
	"strings"
)

// MaxHeadSize bounds the single-shot request head buffer. A head that does not
// fit is dropped; the agent is not a general HTTP normalizer.
const MaxHeadSize = 8192

var (
	// ErrNoRequestLine means the stream ended before a CRLF was seen.
	ErrNoRequestLine = errors.New("no request line received")
	// ErrHeadTooLarge means the buffer filled before the request line ended.
	ErrHeadTooLarge = errors.New("request head exceeds buffer")
	// ErrBadRequestLine means the first line did not split into method, path
	// and version.
	ErrBadRequestLine = errors.New("malformed request line")
)

// Head is the parsed front of one HTTP/1.x request.
//
// Raw holds every byte read so far, which may extend past the header block
// into the body. Offsets index into Raw.
type Head struct {
	Method  string
	Path    string
	Version string

	// Headers maps lowercased names to the last value seen.
	Headers map[string]string

	Raw []byte
	// FirstLineEnd is the offset just past the CRLF terminating the request line.
	FirstLineEnd int
	// HeaderEnd is the offset of the "\r\n\r\n" boundary, or -1 when the
	// buffer does not yet contain it.
	HeaderEnd int
}

// Body returns the buffered bytes past the header block, if any.
func (h *Head) Body() []byte {
	if h.HeaderEnd < 0 {
		return nil
	}
	start := h.HeaderEnd + 4
	if start >= len(h.Raw) {
		return nil
	}
	return h.Raw[start:]
}

// ReadHead reads the start of a request from r into a MaxHeadSize buffer.
//
// It returns as soon as the request line is complete; whatever else the reads
// pulled in stays in Raw. The caller streams the rest of the request later.
func ReadHead(r io.Reader) (*Head, error) {
	buf := make([]byte, MaxHeadSize)
	total := 0
	crlf := -1

	for total < len(buf) {
		n, err := r.Read(buf[total:])
		if n > 0 {
			scanFrom := total - 1
			if scanFrom < 0 {
				scanFrom = 0
			}
			total += n
			if i := bytes.Index(buf[scanFrom:total], []byte("\r\n")); i >= 0 {
				crlf = scanFrom + i
				break
			}
		}
		if err != nil {
			if crlf < 0 {
				return nil, ErrNoRequestLine
			}
			break
		}
	}
	if crlf < 0 {
		if total >= len(buf) {
			return nil, ErrHeadTooLarge
		}
		return nil, ErrNoRequestLine
	}

	parts := strings.Split(string(buf[:crlf]), " ")
	if len(parts) != 3 || parts[0] == "" || parts[1] == "" || parts[2] == "" {
		return nil, ErrBadRequestLine
	}

	h := &Head{
		Method:       parts[0],
		Path:         parts[1],
		Version:      parts[2],
		Raw:          buf[:total],
		FirstLineEnd: crlf + 2,
		HeaderEnd:    -1,
	}
	if i := bytes.Index(buf[:total], []byte("\r\n\r\n")); i >= 0 {
		h.HeaderEnd = i
	}
	h.Headers = parseHeaders(h.Raw, h.FirstLineEnd, h.HeaderEnd)
	return h, nil
}

// parseHeaders folds complete header lines between the request line and the
// header-block end (or the end of the buffer when the boundary has not arrived
// yet). Duplicates fold last-wins; names are lowercased.
func parseHeaders(raw []byte, from, headerEnd int) map[string]string {
	headers := make(map[string]string)

	end := headerEnd
	if end < 0 {
		// Only complete lines: an unterminated tail is not a header yet.
		if i := bytes.LastIndex(raw, []byte("\r\n")); i >= from {
			end = i
		} else {
			return headers
		}
	}
	if end <= from {
		return headers
	}

	for _, line := range bytes.Split(raw[from:end], []byte("\r\n")) {
		if len(line) == 0 {
			continue
		}
		colon := bytes.IndexByte(line, ':')
		if colon <= 0 {
			continue
		}
		name := strings.ToLower(string(line[:colon]))
		value := strings.TrimSpace(string(line[colon+1:]))
		headers[name] = value
	}
	return headers
}
