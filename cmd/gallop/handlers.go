package main

import (
	"fmt"

	"github.com/goccy/go-json"
	"go.uber.org/zap"

	"github.com/yourusername/gallop/pkg/gallop/router"
	"github.com/yourusername/gallop/pkg/gallop/server"
)

// defaultRoutes are served when no routes file is configured.
var defaultRoutes = []router.Route{
	{Prefix: "/", Handler: "hello"},
	{Prefix: "/env", Handler: "env"},
	{Prefix: "/env", Handler: "log", InFront: true},
}

// envHandler dumps the request environment as JSON.
func envHandler(w *server.ResponseWriter, r *server.Request) {
	b, err := json.MarshalIndent(r.Env, "", "  ")
	if err != nil {
		w.WriteHeader(500)
		w.WriteString(err.Error())
		w.Finish()
		return
	}
	w.AddHeader("Content-Type", "application/json")
	w.Write(b)
	w.Finish()
}

func helloHandler(w *server.ResponseWriter, r *server.Request) {
	w.AddHeader("Content-Type", "text/plain; charset=utf-8")
	fmt.Fprintf(w, "Hello from %s\n", r.Env[server.KeyPathInfo])
	w.Finish()
}

// logHandler records the request and lets the chain continue.
func logHandler(log *zap.SugaredLogger) server.HandlerFunc {
	return func(w *server.ResponseWriter, r *server.Request) {
		log.Infow("request",
			"request_id", r.ID,
			"method", r.Method(),
			"path", r.Path(),
		)
	}
}

// lookupHandler resolves handler names used in route files.
func lookupHandler(log *zap.SugaredLogger) router.LookupFunc[server.Handler] {
	handlers := map[string]server.Handler{
		"env":   server.HandlerFunc(envHandler),
		"hello": server.HandlerFunc(helloHandler),
		"log":   logHandler(log),
	}
	return func(name string) (server.Handler, error) {
		h, ok := handlers[name]
		if !ok {
			return nil, fmt.Errorf("%w: %s", router.ErrUnknownHandler, name)
		}
		return h, nil
	}
}
