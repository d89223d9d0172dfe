package server

import (
	"errors"
	"io"
	"net"
	"net/http"
	"slices"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/yourusername/gallop/pkg/gallop/http11"
)

func (s *Server) serveConn(conn net.Conn) {
	defer s.wg.Done()
	defer s.untrackConnection(conn)
	defer conn.Close()

	id := uuid.NewString()
	log := s.log.With("request_id", id, "remote", conn.RemoteAddr().String())

	req, err := s.readRequest(conn, id, log)
	if err != nil {
		s.rejectRequest(conn, log, err)
		return
	}
	if req == nil {
		return
	}
	s.stats.TotalRequests.Add(1)

	path := req.Env[http11.KeyRequestPath]
	m, ok := s.routes.Resolve(path)
	if !ok {
		s.stats.NotFound.Add(1)
		s.metrics.recordOutcome(OutcomeNotFound)
		log.Debugw("no route", "path", path)
		s.writeStatus(conn, log, http.StatusNotFound)
		return
	}

	scriptName := m.ScriptName
	if scriptName == "/" {
		scriptName = ""
	}
	req.Env[KeyScriptName] = scriptName
	req.Env[KeyPathInfo] = m.PathInfo

	w := NewResponseWriter()
	defer w.Release()

	outcome := OutcomeOK
	if !s.runChain(w, req, m.Handlers, log) {
		outcome = OutcomeHandlerFail
		w.reset()
		writeStatusBody(w, http.StatusInternalServerError)
	}
	s.metrics.recordOutcome(outcome)
	s.writeResponse(conn, log, w)

	log.Debugw("request served",
		"method", req.Method(),
		"path", path,
		"script_name", scriptName,
		"status", w.Status(),
	)
}

// readRequest reads until the parser reports a complete head. It returns
// a nil request without error when the peer goes away first.
func (s *Server) readRequest(conn net.Conn, id string, log *zap.SugaredLogger) (*Request, error) {
	if s.cfg.ReadTimeout > 0 {
		if err := conn.SetReadDeadline(time.Now().Add(s.cfg.ReadTimeout)); err != nil {
			log.Debugw("set read deadline failed", "err", err)
		}
	}

	p := http11.NewParser(s.cfg.Limits)
	env := http11.Env{}

	// Offsets held by the parser are absolute, so growing the buffer by
	// reallocation keeps them valid.
	buf := make([]byte, 0, s.cfg.ReadBufferSize)
	nread := 0

	for !p.IsFinished() {
		if len(buf) == cap(buf) {
			buf = slices.Grow(buf, s.cfg.ReadBufferSize)
		}
		n, rerr := conn.Read(buf[len(buf):cap(buf)])
		if n > 0 {
			buf = buf[:len(buf)+n]
			s.stats.BytesRead.Add(uint64(n))

			var perr error
			nread, perr = p.Execute(env, buf, nread)
			if perr != nil {
				return nil, perr
			}
			continue
		}
		if rerr != nil {
			if len(buf) > 0 || !errors.Is(rerr, io.EOF) {
				s.metrics.recordOutcome(OutcomeAborted)
				log.Debugw("connection closed before head completed",
					"read", len(buf),
					"err", rerr,
				)
			}
			return nil, nil
		}
	}

	s.metrics.observeHead(nread)

	env[KeyRemoteAddr] = conn.RemoteAddr().String()
	env[KeyServerSoftware] = ServerSoftware
	env[KeyGatewayInterface] = "CGI/1.2"

	return &Request{ID: id, Env: env, Body: p.Body()}, nil
}

// runChain calls handlers in order until one finishes the response. It
// reports false if a handler panicked.
func (s *Server) runChain(w *ResponseWriter, req *Request, handlers []Handler, log *zap.SugaredLogger) (ok bool) {
	defer func() {
		if r := recover(); r != nil {
			log.Errorw("handler panic", "panic", r, "path", req.Path())
			ok = false
		}
	}()
	for _, h := range handlers {
		h.Process(w, req)
		if w.Done() {
			break
		}
	}
	return true
}

func (s *Server) rejectRequest(conn net.Conn, log *zap.SugaredLogger, err error) {
	s.stats.ParseErrors.Add(1)
	s.metrics.recordParseError(err)

	status := statusForParseError(err)
	if status == http.StatusBadRequest {
		s.metrics.recordOutcome(OutcomeBadRequest)
	} else {
		s.metrics.recordOutcome(OutcomeTooLarge)
	}
	log.Infow("request rejected", "status", status, "err", err)
	s.writeStatus(conn, log, status)
}

// statusForParseError maps a parser error to a response status. Oversized
// request-line elements get 414 and oversized header fields get 431.
func statusForParseError(err error) int {
	le, ok := http11.IsLimitError(err)
	if !ok {
		return http.StatusBadRequest
	}
	switch le.Field {
	case http11.LimitFieldName, http11.LimitFieldValue, http11.LimitHeader:
		return http.StatusRequestHeaderFieldsTooLarge
	default:
		return http.StatusRequestURITooLong
	}
}

func writeStatusBody(w *ResponseWriter, status int) {
	w.WriteHeader(status)
	w.AddHeader("Content-Type", "text/plain; charset=utf-8")
	w.WriteString(statusText(status))
}

func (s *Server) writeStatus(conn net.Conn, log *zap.SugaredLogger, status int) {
	w := NewResponseWriter()
	defer w.Release()
	writeStatusBody(w, status)
	s.writeResponse(conn, log, w)
}

func (s *Server) writeResponse(conn net.Conn, log *zap.SugaredLogger, w *ResponseWriter) {
	if s.cfg.WriteTimeout > 0 {
		if err := conn.SetWriteDeadline(time.Now().Add(s.cfg.WriteTimeout)); err != nil {
			log.Debugw("set write deadline failed", "err", err)
		}
	}
	n, err := w.WriteTo(conn)
	s.stats.BytesWritten.Add(uint64(n))
	if err != nil {
		log.Debugw("write failed", "err", err)
	}
}
