package upstream

import (
	"fmt"
	"io"
	"net/http"
)

// Response is a fully buffered upstream answer. It is returned for every
// round-trip that produced an HTTP status line, including structured error
// responses (4xx/5xx with a body) - those are relayed back unchanged, so
// they are data here, not Go errors.
type Response struct {
	Status int
	Header http.Header
	Body   []byte
}

// OK reports whether the upstream answered with a 2xx status
func (r *Response) OK() bool {
	return r.Status >= 200 && r.Status < 300
}

// Stream is an upstream answer whose body is handed over unread so the
// caller can pipe it through without buffering. The caller owns Body and
// must close it.
type Stream struct {
	Status int
	Header http.Header
	Body   io.ReadCloser
}

// OK reports whether the upstream answered with a 2xx status
func (s *Stream) OK() bool {
	return s.Status >= 200 && s.Status < 300
}

// TransportError marks a call that failed before any upstream response
// existed: timeout, refused connection, DNS failure, protocol error.
// Every such failure becomes a synthesized 502 at the HTTP surface.
type TransportError struct {
	Op  string
	Err error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("upstream %s: %v", e.Op, e.Err)
}

func (e *TransportError) Unwrap() error {
	return e.Err
}
