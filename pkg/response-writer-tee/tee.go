package tee

import (
	"bytes"
	"fmt"
	"net/http"
	"time"
)

// ResponseSaver records the final response written to it so it can be replayed
// from its HTTP/1.1 wire form. When it wraps another http.ResponseWriter, every
// write is passed through as well.
//
// Informational (1xx) responses are passed through but never recorded: the
// status and headers saved are those of the first non-1xx WriteHeader call.
type ResponseSaver struct {
	next   http.ResponseWriter
	header http.Header

	// final status and a snapshot of the headers sent with it
	status int
	sent   http.Header
	body   bytes.Buffer

	err       error
	StartedAt time.Time
}

// NewResponseSaver returns a ResponseSaver passing writes through to next.
// next may be nil, in which case the response is only recorded.
func NewResponseSaver(next http.ResponseWriter) *ResponseSaver {
	return &ResponseSaver{
		next:      next,
		header:    http.Header{},
		StartedAt: time.Now(),
	}
}

func (t *ResponseSaver) Header() http.Header {
	return t.header
}

func (t *ResponseSaver) WriteHeader(code int) {
	if informational(code) {
		copied := t.forwardHeader(code)
		// the wrapped writer keeps 1xx headers in its map otherwise
		for _, k := range copied {
			t.next.Header().Del(k)
		}
		return
	}
	if t.status != 0 {
		return
	}
	t.status = code
	t.sent = t.header.Clone()
	t.forwardHeader(code)
}

func (t *ResponseSaver) Write(p []byte) (int, error) {
	if t.status == 0 {
		t.WriteHeader(http.StatusOK)
	}
	if t.next != nil {
		t.next.Write(p)
	}
	return t.body.Write(p)
}

// Fail marks the response as failed, e.g. when the upstream could not be reached.
func (t *ResponseSaver) Fail(err error) {
	t.err = err
}

func (t *ResponseSaver) Err() error {
	return t.err
}

// StatusCode is the final status written so far, or 0.
func (t *ResponseSaver) StatusCode() int {
	return t.status
}

// Response returns the recorded response as HTTP/1.1 wire bytes.
// It is empty if nothing final was written.
func (t *ResponseSaver) Response() []byte {
	if t.status == 0 {
		return nil
	}
	out := &bytes.Buffer{}
	writeStatusLine(out, t.status)
	t.sent.Write(out)
	out.WriteString("\r\n")
	out.Write(t.body.Bytes())
	return out.Bytes()
}

// forwardHeader sends the current headers and code to the wrapped writer and
// returns the header keys it copied.
func (t *ResponseSaver) forwardHeader(code int) []string {
	if t.next == nil {
		return nil
	}
	dst := t.next.Header()
	keys := make([]string, 0, len(t.header))
	for k, vv := range t.header {
		keys = append(keys, k)
		for _, v := range vv {
			dst.Add(k, v)
		}
	}
	t.next.WriteHeader(code)
	return keys
}

func informational(code int) bool {
	return code >= 100 && code < 200 && code != http.StatusSwitchingProtocols
}

func writeStatusLine(b *bytes.Buffer, code int) {
	text := http.StatusText(code)
	if text == "" {
		text = "status code " + fmt.Sprint(code)
	}
	fmt.Fprintf(b, "HTTP/1.1 %03d %s\r\n", code, text)
}
