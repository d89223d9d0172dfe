// Package router maps request paths to handler chains by longest
// registered prefix.
package router

import (
	"fmt"
	"slices"
	"sync"

	"github.com/yourusername/gallop/pkg/gallop/tst"
)

// Match is the result of resolving a request path.
type Match[H any] struct {
	// ScriptName is the registered prefix that matched
	ScriptName string

	// PathInfo is the rest of the path after ScriptName. For a handler
	// mounted at "/" it is the whole path.
	PathInfo string

	// Handlers is the chain registered at ScriptName, in call order
	Handlers []H
}

type route[H any] struct {
	uri      string
	handlers []H
}

// Classifier resolves paths against registered URI prefixes. Handlers
// registered at the same URI form a chain.
//
// Thread-safety: safe for concurrent use. Resolve takes a read lock;
// Register and Unregister take the write lock.
type Classifier[H any] struct {
	mu   sync.RWMutex
	tree *tst.Tree[*route[H]]
}

// NewClassifier creates an empty Classifier.
func NewClassifier[H any](opts ...tst.Option) *Classifier[H] {
	return &Classifier[H]{tree: tst.New[*route[H]](opts...)}
}

// Register adds h to the chain at uri. The first registration creates the
// chain; later ones append to it, or prepend when inFront is set.
func (c *Classifier[H]) Register(uri string, h H, inFront bool) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	key := []byte(uri)
	if r, ok := c.tree.Get(key); ok {
		if inFront {
			r.handlers = append([]H{h}, r.handlers...)
		} else {
			r.handlers = append(r.handlers, h)
		}
		return nil
	}

	if err := c.tree.Insert(key, &route[H]{uri: uri, handlers: []H{h}}); err != nil {
		return fmt.Errorf("router: register %q: %w", uri, err)
	}
	return nil
}

// Unregister removes the whole chain at uri and returns it.
func (c *Classifier[H]) Unregister(uri string) ([]H, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	r, ok := c.tree.Delete([]byte(uri))
	if !ok {
		return nil, false
	}
	return r.handlers, true
}

// Resolve finds the chain registered at the longest prefix of uri.
func (c *Classifier[H]) Resolve(uri string) (Match[H], bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	r, n, ok := c.tree.Search([]byte(uri))
	if !ok {
		return Match[H]{}, false
	}

	m := Match[H]{
		ScriptName: r.uri,
		PathInfo:   uri[n:],
		Handlers:   slices.Clone(r.handlers),
	}
	if r.uri == "/" {
		m.PathInfo = uri
	}
	return m, true
}

// URIs returns the registered URIs in byte order.
func (c *Classifier[H]) URIs() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()

	uris := make([]string, 0, c.tree.Len())
	c.tree.Walk(func(_ []byte, r *route[H]) bool {
		uris = append(uris, r.uri)
		return true
	})
	return uris
}

// Len returns the number of registered URIs.
func (c *Classifier[H]) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.tree.Len()
}
