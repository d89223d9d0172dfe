package server

import (
	"io"
	"net"
	"net/http"
	"strconv"

	"github.com/valyala/bytebufferpool"
)

// ResponseWriter collects one response in a pooled buffer. Nothing reaches
// the connection until the handler chain returns, so the head can carry
// an exact Content-Length.
//
// Every response is sent with "Connection: close".
type ResponseWriter struct {
	status int

	// Name/value pairs in insertion order
	headers []string

	body *bytebufferpool.ByteBuffer
	done bool
}

// NewResponseWriter returns an empty ResponseWriter. Call Release when the
// response has been written.
func NewResponseWriter() *ResponseWriter {
	return &ResponseWriter{body: bytebufferpool.Get()}
}

// Release returns the body buffer to the pool. The writer is unusable
// afterwards.
func (w *ResponseWriter) Release() {
	if w.body != nil {
		bytebufferpool.Put(w.body)
		w.body = nil
	}
}

// reset discards everything written so far.
func (w *ResponseWriter) reset() {
	w.status = 0
	w.headers = w.headers[:0]
	w.body.Reset()
	w.done = false
}

// Status returns the status code, or 0 if none has been set.
func (w *ResponseWriter) Status() int { return w.status }

// AddHeader appends a response header. Content-Length and Connection are
// always written by the server and are ignored here.
func (w *ResponseWriter) AddHeader(name, value string) {
	switch http.CanonicalHeaderKey(name) {
	case "Content-Length", "Connection":
		return
	}
	w.headers = append(w.headers, name, value)
}

// WriteHeader sets the status code. Only the first call has effect.
func (w *ResponseWriter) WriteHeader(code int) {
	if w.status == 0 {
		w.status = code
	}
}

// Write appends to the response body, defaulting the status to 200.
func (w *ResponseWriter) Write(p []byte) (int, error) {
	w.WriteHeader(http.StatusOK)
	return w.body.Write(p)
}

// WriteString appends s to the response body, defaulting the status to 200.
func (w *ResponseWriter) WriteString(s string) (int, error) {
	w.WriteHeader(http.StatusOK)
	return w.body.WriteString(s)
}

// Finish marks the response complete. Handlers later in the chain are
// skipped.
func (w *ResponseWriter) Finish() { w.done = true }

// Done reports whether a handler finished the response.
func (w *ResponseWriter) Done() bool { return w.done }

// Len returns the current body length.
func (w *ResponseWriter) Len() int { return w.body.Len() }

// WriteTo writes the status line, headers and body to dst.
func (w *ResponseWriter) WriteTo(dst io.Writer) (int64, error) {
	status := w.status
	if status == 0 {
		status = http.StatusOK
	}

	head := bytebufferpool.Get()
	defer bytebufferpool.Put(head)

	head.B = append(head.B, "HTTP/1.1 "...)
	head.B = strconv.AppendInt(head.B, int64(status), 10)
	head.B = append(head.B, ' ')
	head.B = append(head.B, statusText(status)...)
	head.B = append(head.B, "\r\n"...)
	for i := 0; i+1 < len(w.headers); i += 2 {
		head.B = append(head.B, w.headers[i]...)
		head.B = append(head.B, ": "...)
		head.B = append(head.B, w.headers[i+1]...)
		head.B = append(head.B, "\r\n"...)
	}
	head.B = append(head.B, "Content-Length: "...)
	head.B = strconv.AppendInt(head.B, int64(w.body.Len()), 10)
	head.B = append(head.B, "\r\nConnection: close\r\n\r\n"...)

	bufs := net.Buffers{head.B, w.body.B}
	return bufs.WriteTo(dst)
}

func statusText(code int) string {
	if text := http.StatusText(code); text != "" {
		return text
	}
	return "Unknown"
}
