package server

import (
	"github.com/yourusername/gallop/pkg/gallop/http11"
	"github.com/yourusername/gallop/pkg/gallop/router"
)

// CGI-style keys the server adds to every request Env
const (
	KeyScriptName       = "SCRIPT_NAME"
	KeyPathInfo         = "PATH_INFO"
	KeyRemoteAddr       = "REMOTE_ADDR"
	KeyServerSoftware   = "SERVER_SOFTWARE"
	KeyGatewayInterface = "GATEWAY_INTERFACE"
)

// ServerSoftware is the SERVER_SOFTWARE value.
const ServerSoftware = "gallop"

// Request is a parsed request head handed to handlers.
type Request struct {
	// ID identifies the request in logs
	ID string

	// Env holds the parsed head plus the SCRIPT_NAME/PATH_INFO split
	Env http11.Env

	// Body holds body bytes that arrived together with the head. The
	// server does not read further; it is empty for most GET requests.
	Body []byte
}

// Method returns REQUEST_METHOD.
func (r *Request) Method() string { return r.Env[http11.KeyRequestMethod] }

// Path returns REQUEST_PATH.
func (r *Request) Path() string { return r.Env[http11.KeyRequestPath] }

// Header returns the value of a request header by its wire name.
func (r *Request) Header(name string) (string, bool) { return r.Env.Header(name) }

// Handler processes one request. A handler that has produced the complete
// response calls w.Finish to stop the rest of the chain.
type Handler interface {
	Process(w *ResponseWriter, r *Request)
}

// HandlerFunc adapts a function to Handler.
type HandlerFunc func(w *ResponseWriter, r *Request)

// Process calls f(w, r).
func (f HandlerFunc) Process(w *ResponseWriter, r *Request) { f(w, r) }

// Resolver maps a request path to its handler chain. *router.Table and
// *router.Classifier both satisfy it.
type Resolver interface {
	Resolve(uri string) (router.Match[Handler], bool)
}
