package server

import (
	"bufio"
	"context"
	"errors"
	"io"
	"net"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/valyala/fasthttp/fasthttputil"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest"
	"go.uber.org/zap/zaptest/observer"

	"github.com/yourusername/gallop/pkg/gallop/http11"
	"github.com/yourusername/gallop/pkg/gallop/router"
)

func envHandler(w *ResponseWriter, r *Request) {
	w.AddHeader("Content-Type", "text/plain")
	w.WriteString(r.Env[KeyScriptName] + "|" + r.Env[KeyPathInfo] + "|" + r.Env[http11.KeyQueryString])
	w.Finish()
}

func testRoutes(t *testing.T) *router.Classifier[Handler] {
	t.Helper()
	c := router.NewClassifier[Handler]()
	require.NoError(t, c.Register("/", HandlerFunc(envHandler), false))
	require.NoError(t, c.Register("/api", HandlerFunc(envHandler), false))
	require.NoError(t, c.Register("/panic", HandlerFunc(func(w *ResponseWriter, r *Request) {
		w.WriteString("partial")
		panic("boom")
	}), false))
	return c
}

type testServer struct {
	srv  *Server
	ln   *fasthttputil.InmemoryListener
	reg  *prometheus.Registry
	done chan error
}

func startServer(t *testing.T, cfg Config, routes Resolver) *testServer {
	t.Helper()
	ts := &testServer{
		ln:   fasthttputil.NewInmemoryListener(),
		reg:  prometheus.NewRegistry(),
		done: make(chan error, 1),
	}
	cfg.Logger = zaptest.NewLogger(t).Sugar()
	cfg.Metrics = NewMetrics(ts.reg)
	ts.srv = New(cfg, routes)

	ctx, cancel := context.WithCancel(context.Background())
	go func() { ts.done <- ts.srv.Serve(ctx, ts.ln) }()

	t.Cleanup(func() {
		cancel()
		select {
		case err := <-ts.done:
			assert.NoError(t, err)
		case <-time.After(5 * time.Second):
			t.Error("Serve did not return after cancel")
		}
	})
	return ts
}

// roundTrip writes each chunk in turn and parses the response.
func (ts *testServer) roundTrip(t *testing.T, chunks ...string) *http.Response {
	t.Helper()
	raw := ts.rawRoundTrip(t, chunks...)
	resp, err := http.ReadResponse(bufio.NewReader(strings.NewReader(raw)), nil)
	require.NoError(t, err, "raw response: %q", raw)
	return resp
}

// rawRoundTrip writes each chunk in turn and reads until the server closes
// the connection.
func (ts *testServer) rawRoundTrip(t *testing.T, chunks ...string) string {
	t.Helper()
	conn, err := ts.ln.Dial()
	require.NoError(t, err)
	defer conn.Close()

	for _, c := range chunks {
		_, err := conn.Write([]byte(c))
		require.NoError(t, err)
	}

	raw, err := io.ReadAll(conn)
	require.NoError(t, err)
	return string(raw)
}

func readBody(t *testing.T, resp *http.Response) string {
	t.Helper()
	b, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return string(b)
}

func (ts *testServer) counter(t *testing.T, name, label, value string) float64 {
	t.Helper()
	families, err := ts.reg.Gather()
	require.NoError(t, err)
	for _, mf := range families {
		if mf.GetName() != name {
			continue
		}
		for _, m := range mf.GetMetric() {
			if hasLabel(m, label, value) {
				return m.GetCounter().GetValue()
			}
		}
	}
	return 0
}

func hasLabel(m *dto.Metric, name, value string) bool {
	for _, lp := range m.GetLabel() {
		if lp.GetName() == name && lp.GetValue() == value {
			return true
		}
	}
	return false
}

func TestServeRoutes(t *testing.T) {
	ts := startServer(t, DefaultConfig(), testRoutes(t))

	tests := []struct {
		name string
		req  string
		want string
	}{
		{"mounted prefix", "GET /api/users?page=2 HTTP/1.1\r\nHost: x\r\n\r\n", "/api|/users|page=2"},
		{"exact prefix", "GET /api HTTP/1.1\r\n\r\n", "/api||"},
		{"root mount", "GET /index.html HTTP/1.1\r\n\r\n", "|/index.html|"},
		{"root itself", "GET / HTTP/1.0\r\n\r\n", "|/|"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp := ts.roundTrip(t, tt.req)
			assert.Equal(t, http.StatusOK, resp.StatusCode)
			assert.True(t, resp.Close, "response does not close the connection")
			assert.Equal(t, "text/plain", resp.Header.Get("Content-Type"))
			assert.Equal(t, tt.want, readBody(t, resp))
		})
	}

	raw := ts.rawRoundTrip(t, "GET / HTTP/1.1\r\n\r\n")
	assert.Equal(t, "HTTP/1.1 200 OK\r\nContent-Type: text/plain\r\nContent-Length: 3\r\nConnection: close\r\n\r\n|/|", raw)

	assert.Equal(t, uint64(len(tests)+1), ts.srv.Stats().TotalRequests.Load())
	assert.Equal(t, float64(len(tests)+1), ts.counter(t, "gallop_requests_total", "outcome", OutcomeOK))
}

func TestServeChunkedHead(t *testing.T) {
	cfg := DefaultConfig()
	cfg.ReadBufferSize = 8
	ts := startServer(t, cfg, testRoutes(t))

	resp := ts.roundTrip(t,
		"GE", "T /api/lo", "ng/path?q", "=1 HTTP/1", ".1\r\nX-Long-Header: ",
		strings.Repeat("v", 100), "\r\n", "\r", "\n",
	)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "/api|/long/path|q=1", readBody(t, resp))
}

func TestServeErrors(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Limits = http11.Limits{MaxRequestURI: 64, MaxFieldValue: 32}

	routes := router.NewClassifier[Handler]()
	require.NoError(t, routes.Register("/api", HandlerFunc(envHandler), false))
	require.NoError(t, routes.Register("/panic", HandlerFunc(func(w *ResponseWriter, r *Request) {
		w.WriteString("partial")
		panic("boom")
	}), false))
	ts := startServer(t, cfg, routes)

	tests := []struct {
		name   string
		req    string
		status int
	}{
		{"no route", "GET /missing HTTP/1.1\r\n\r\n", http.StatusNotFound},
		{"malformed", "GET / HTTP/1.1\nHost: x\r\n\r\n", http.StatusBadRequest},
		{"bad method", "G@T / HTTP/1.1\r\n\r\n", http.StatusBadRequest},
		{"uri too long", "GET /api/" + strings.Repeat("a", 64) + " HTTP/1.1\r\n\r\n", http.StatusRequestURITooLong},
		{"value too long", "GET /api HTTP/1.1\r\nX-Big: " + strings.Repeat("b", 33) + "\r\n\r\n", http.StatusRequestHeaderFieldsTooLarge},
		{"handler panic", "GET /panic HTTP/1.1\r\n\r\n", http.StatusInternalServerError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp := ts.roundTrip(t, tt.req)
			assert.Equal(t, tt.status, resp.StatusCode)
			assert.Equal(t, http.StatusText(tt.status), readBody(t, resp))
		})
	}

	assert.Equal(t, uint64(4), ts.srv.Stats().ParseErrors.Load())
	assert.Equal(t, uint64(1), ts.srv.Stats().NotFound.Load())
	assert.Equal(t, float64(2), ts.counter(t, "gallop_parse_errors_total", "kind", "malformed"))
	assert.Equal(t, float64(1), ts.counter(t, "gallop_limit_exceeded_total", "field", "REQUEST_URI"))
	assert.Equal(t, float64(1), ts.counter(t, "gallop_limit_exceeded_total", "field", "FIELD_VALUE"))
	assert.Equal(t, float64(1), ts.counter(t, "gallop_requests_total", "outcome", OutcomeHandlerFail))
}

func TestHandlerChain(t *testing.T) {
	var calls []string
	routes := router.NewClassifier[Handler]()
	require.NoError(t, routes.Register("/files", HandlerFunc(func(w *ResponseWriter, r *Request) {
		calls = append(calls, "dir")
		w.WriteString("listing")
		w.Finish()
	}), false))
	require.NoError(t, routes.Register("/files", HandlerFunc(func(w *ResponseWriter, r *Request) {
		calls = append(calls, "log")
	}), false))
	require.NoError(t, routes.Register("/files", HandlerFunc(func(w *ResponseWriter, r *Request) {
		calls = append(calls, "auth")
		w.AddHeader("X-Auth", "checked")
		if v, _ := r.Header("X-Deny"); v == "yes" {
			w.WriteHeader(http.StatusForbidden)
			w.Finish()
		}
	}), true))

	ts := startServer(t, DefaultConfig(), routes)

	resp := ts.roundTrip(t, "GET /files/a HTTP/1.1\r\n\r\n")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "checked", resp.Header.Get("X-Auth"))
	assert.Equal(t, "listing", readBody(t, resp))
	assert.Equal(t, []string{"auth", "dir"}, calls)

	calls = nil
	resp = ts.roundTrip(t, "GET /files/a HTTP/1.1\r\nX-Deny: yes\r\n\r\n")
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)
	assert.Equal(t, []string{"auth"}, calls)
}

func TestRequestEnv(t *testing.T) {
	got := make(chan *Request, 1)
	routes := router.NewClassifier[Handler]()
	require.NoError(t, routes.Register("/upload", HandlerFunc(func(w *ResponseWriter, r *Request) {
		got <- r
	}), false))
	ts := startServer(t, DefaultConfig(), routes)

	resp := ts.roundTrip(t, "POST /upload/x HTTP/1.1\r\nContent-Length: 5\r\nX-Trace: a\r\nX-Trace: b\r\n\r\nhello")
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	r := <-got
	assert.NotEmpty(t, r.ID)
	assert.Equal(t, "POST", r.Method())
	assert.Equal(t, "/upload/x", r.Path())
	assert.Equal(t, "5", r.Env["CONTENT_LENGTH"])
	assert.Equal(t, "a, b", r.Env["HTTP_X_TRACE"])
	assert.Equal(t, ServerSoftware, r.Env[KeyServerSoftware])
	assert.Equal(t, "HTTP/1.1", r.Env[http11.KeyServerProtocol])
	assert.NotEmpty(t, r.Env[KeyRemoteAddr])
	assert.Equal(t, "hello", string(r.Body))
}

func TestAbortedHead(t *testing.T) {
	ts := startServer(t, DefaultConfig(), testRoutes(t))

	conn, err := ts.ln.Dial()
	require.NoError(t, err)
	_, err = conn.Write([]byte("GET /api HTTP/1.1\r\nHo"))
	require.NoError(t, err)
	require.NoError(t, conn.Close())

	require.Eventually(t, func() bool {
		return ts.counter(t, "gallop_requests_total", "outcome", OutcomeAborted) == 1
	}, 5*time.Second, 10*time.Millisecond)
	assert.Equal(t, uint64(0), ts.srv.Stats().TotalRequests.Load())
}

func TestShutdown(t *testing.T) {
	ln := fasthttputil.NewInmemoryListener()
	srv := New(Config{Logger: zaptest.NewLogger(t).Sugar()}, testRoutes(t))

	done := make(chan error, 1)
	go func() { done <- srv.Serve(context.Background(), ln) }()

	require.Eventually(t, func() bool { return srv.Addr() != nil }, 5*time.Second, 10*time.Millisecond)

	// A half-sent head keeps one connection in flight until it is forced.
	conn, err := ln.Dial()
	require.NoError(t, err)
	defer conn.Close()
	_, err = conn.Write([]byte("GET / HTTP/1.1\r\n"))
	require.NoError(t, err)
	require.Eventually(t, func() bool {
		return srv.Stats().ActiveConnections.Load() == 1
	}, 5*time.Second, 10*time.Millisecond)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	assert.ErrorIs(t, srv.Shutdown(ctx), context.DeadlineExceeded)
	assert.Equal(t, int64(0), srv.Stats().ActiveConnections.Load())

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("Serve did not return after Shutdown")
	}

	assert.ErrorIs(t, srv.Shutdown(context.Background()), ErrServerClosed)
	assert.ErrorIs(t, srv.Serve(context.Background(), fasthttputil.NewInmemoryListener()), ErrServerClosed)
}

func TestMaxConns(t *testing.T) {
	cfg := DefaultConfig()
	cfg.MaxConns = 1
	ts := startServer(t, cfg, testRoutes(t))

	held, err := ts.ln.Dial()
	require.NoError(t, err)
	_, err = held.Write([]byte("GET /api HTTP/1.1\r\n"))
	require.NoError(t, err)
	require.Eventually(t, func() bool {
		return ts.srv.Stats().ActiveConnections.Load() == 1
	}, 5*time.Second, 10*time.Millisecond)

	// Dial blocks until the listener accepts, so run the second client on
	// its own goroutine.
	second := make(chan string, 1)
	go func() {
		conn, err := ts.ln.Dial()
		if err != nil {
			second <- err.Error()
			return
		}
		defer conn.Close()
		conn.Write([]byte("GET /api/two HTTP/1.1\r\n\r\n"))
		raw, _ := io.ReadAll(conn)
		second <- string(raw)
	}()

	select {
	case <-second:
		t.Fatal("second connection served while the cap was reached")
	case <-time.After(100 * time.Millisecond):
	}

	_, err = held.Write([]byte("\r\n"))
	require.NoError(t, err)
	_, err = io.ReadAll(held)
	require.NoError(t, err)
	held.Close()

	select {
	case raw := <-second:
		assert.True(t, strings.HasSuffix(raw, "\r\n\r\n/api|/two|"), "response = %q", raw)
	case <-time.After(5 * time.Second):
		t.Fatal("second connection was never served")
	}
	assert.Equal(t, uint64(2), ts.srv.Stats().TotalConnections.Load())
}

func TestStatusForParseError(t *testing.T) {
	tests := []struct {
		err  error
		want int
	}{
		{http11.ErrMalformedRequest, http.StatusBadRequest},
		{&http11.LimitError{Field: http11.LimitRequestURI}, http.StatusRequestURITooLong},
		{&http11.LimitError{Field: http11.LimitRequestPath}, http.StatusRequestURITooLong},
		{&http11.LimitError{Field: http11.LimitQueryString}, http.StatusRequestURITooLong},
		{&http11.LimitError{Field: http11.LimitFragment}, http.StatusRequestURITooLong},
		{&http11.LimitError{Field: http11.LimitFieldName}, http.StatusRequestHeaderFieldsTooLarge},
		{&http11.LimitError{Field: http11.LimitFieldValue}, http.StatusRequestHeaderFieldsTooLarge},
		{&http11.LimitError{Field: http11.LimitHeader}, http.StatusRequestHeaderFieldsTooLarge},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, statusForParseError(tt.err), "err = %v", tt.err)
	}
}

func TestTrackAfterShutdown(t *testing.T) {
	srv := New(Config{Logger: zaptest.NewLogger(t).Sugar()}, testRoutes(t))
	require.NoError(t, srv.Shutdown(context.Background()))

	client, conn := net.Pipe()
	defer client.Close()
	defer conn.Close()

	assert.False(t, srv.trackConnection(conn))
	assert.Zero(t, srv.Stats().TotalConnections.Load())
	assert.Zero(t, srv.Stats().ActiveConnections.Load())

	// Nothing was added to the wait group, so this returns at once.
	waited := make(chan struct{})
	go func() {
		srv.wg.Wait()
		close(waited)
	}()
	select {
	case <-waited:
	case <-time.After(5 * time.Second):
		t.Fatal("connection tracked after Shutdown")
	}
}

var errNoDeadline = errors.New("deadlines not supported")

// noDeadlineConn fails every deadline call.
type noDeadlineConn struct {
	net.Conn
}

func (noDeadlineConn) SetReadDeadline(time.Time) error  { return errNoDeadline }
func (noDeadlineConn) SetWriteDeadline(time.Time) error { return errNoDeadline }

func TestDeadlineErrorsLogged(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)
	log := zap.New(core).Sugar()
	srv := New(Config{Logger: log}, testRoutes(t))

	client, server := net.Pipe()
	defer client.Close()
	conn := noDeadlineConn{server}

	go client.Write([]byte("GET / HTTP/1.1\r\n\r\n"))
	req, err := srv.readRequest(conn, "req-1", log)
	require.NoError(t, err)
	require.NotNil(t, req)
	assert.Equal(t, "/", req.Path())

	w := NewResponseWriter()
	defer w.Release()
	w.WriteString("ok")

	got := make(chan string, 1)
	go func() {
		b, _ := io.ReadAll(client)
		got <- string(b)
	}()
	srv.writeResponse(conn, log, w)
	server.Close()

	assert.True(t, strings.HasSuffix(<-got, "\r\n\r\nok"))
	assert.Equal(t, 1, logs.FilterMessage("set read deadline failed").Len())
	assert.Equal(t, 1, logs.FilterMessage("set write deadline failed").Len())
}
