// Package tst implements a ternary search tree keyed on byte strings, with
// longest-registered-prefix lookup. Nodes live in an index-based arena of
// fixed-width slabs and are recycled through a free list.
//
// The first key byte selects one of 256 roots. Below a root each level is a
// binary search tree of discriminator bytes; a match descends to the next
// level through middle. The end of a key is a node with value 0, which
// orders before every real byte. Keys therefore may not contain NUL.
//
// A Tree is not safe for concurrent mutation. Concurrent Search, Get and
// Walk calls on a tree that is no longer modified are safe.
package tst

import "bytes"

// Tree maps byte-string keys to payloads of type T.
type Tree[T any] struct {
	head  [256]nodeID
	arena arena[T]
	count int
}

type options struct {
	slabWidth int
	maxNodes  int
}

// Option configures a Tree.
type Option func(*options)

// WithSlabWidth sets how many nodes the arena adds when it grows.
func WithSlabWidth(n int) Option {
	return func(o *options) { o.slabWidth = n }
}

// WithMaxNodes caps the number of live nodes. Inserts that would exceed
// the cap fail with ErrAllocation. Zero means no cap.
func WithMaxNodes(n int) Option {
	return func(o *options) { o.maxNodes = n }
}

// New returns an empty Tree.
func New[T any](opts ...Option) *Tree[T] {
	o := options{slabWidth: DefaultSlabWidth}
	for _, opt := range opts {
		opt(&o)
	}
	t := &Tree[T]{arena: newArena[T](o.slabWidth, o.maxNodes)}
	for i := range t.head {
		t.head[i] = nilNode
	}
	return t
}

// Len returns the number of stored keys.
func (t *Tree[T]) Len() int { return t.count }

// Nodes returns the number of live nodes.
func (t *Tree[T]) Nodes() int { return t.arena.live }

// Cap returns the number of node slots the arena holds, live or free.
func (t *Tree[T]) Cap() int { return t.arena.capacity() }

// Insert stores v under key. If key is already present it returns
// ErrDuplicateKey and keeps the stored payload.
func (t *Tree[T]) Insert(key []byte, v T) error {
	_, _, err := t.insert(key, v, false)
	return err
}

// Replace stores v under key, overwriting any stored payload. It returns
// the previous payload and whether one existed.
func (t *Tree[T]) Replace(key []byte, v T) (T, bool, error) {
	return t.insert(key, v, true)
}

func (t *Tree[T]) insert(key []byte, v T, replace bool) (old T, replaced bool, err error) {
	if len(key) == 0 {
		return old, false, ErrEmptyKey
	}
	if bytes.IndexByte(key, 0) >= 0 {
		return old, false, ErrInvalidKey
	}

	rest := key[1:]
	link := &t.head[key[0]]
	i := 0
	for *link != nilNode {
		n := t.arena.at(*link)
		c := byteAt(rest, i)
		switch {
		case c == n.value:
			if c == 0 {
				if !replace {
					return old, false, ErrDuplicateKey
				}
				old = n.payload
				n.payload = v
				return old, true, nil
			}
			i++
			link = &n.middle
		case c < n.value:
			link = &n.left
		default:
			link = &n.right
		}
	}

	// One node per remaining byte plus the terminator. Reserving first
	// keeps a failed insert from leaving a partial chain behind.
	if err := t.arena.reserve(len(rest) - i + 1); err != nil {
		return old, false, err
	}
	for ; ; i++ {
		c := byteAt(rest, i)
		id := t.arena.alloc(c)
		*link = id
		n := t.arena.at(id)
		if c == 0 {
			n.payload = v
			break
		}
		link = &n.middle
	}
	t.count++
	return old, false, nil
}

// Search returns the payload of the longest stored key that is a prefix of
// key, together with that key's length.
func (t *Tree[T]) Search(key []byte) (T, int, bool) {
	var (
		best    T
		bestLen int
		found   bool
	)
	if len(key) == 0 {
		return best, 0, false
	}

	rest := key[1:]
	level := t.head[key[0]]
	for i := 0; level != nilNode; i++ {
		// The terminator is the smallest value, so if this level ends a
		// key it is the leftmost node.
		if end := t.arena.at(t.leftmost(level)); end.value == 0 {
			best, bestLen, found = end.payload, i+1, true
		}
		if i == len(rest) {
			break
		}
		id := t.find(level, rest[i])
		if id == nilNode {
			break
		}
		level = t.arena.at(id).middle
	}
	return best, bestLen, found
}

// Get returns the payload stored under exactly key.
func (t *Tree[T]) Get(key []byte) (T, bool) {
	v, n, ok := t.Search(key)
	if !ok || n != len(key) {
		var zero T
		return zero, false
	}
	return v, true
}

// Delete removes key and returns its payload. Nodes used only by key go
// back to the arena's free list.
func (t *Tree[T]) Delete(key []byte) (T, bool) {
	var zero T
	if len(key) == 0 || bytes.IndexByte(key, 0) >= 0 {
		return zero, false
	}

	rest := key[1:]
	link := &t.head[key[0]]

	// cutLink/cutID track the deepest node on the path that shares its
	// level with another node. Everything below it belongs to key alone.
	var (
		cutLink *nodeID
		cutID   = nilNode
	)
	isRoot := true
	for i := 0; *link != nilNode; {
		id := *link
		n := t.arena.at(id)
		c := byteAt(rest, i)
		switch {
		case c == n.value:
			if i == 0 || !isRoot || n.left != nilNode || n.right != nilNode {
				cutLink, cutID = link, id
			}
			if c == 0 {
				payload := n.payload
				t.unlink(cutLink, cutID)
				t.count--
				return payload, true
			}
			i++
			link = &n.middle
			isRoot = true
		case c < n.value:
			link = &n.left
			isRoot = false
		default:
			link = &n.right
			isRoot = false
		}
	}
	return zero, false
}

// unlink removes id, reached through link, from its level and frees id
// with the middle chain hanging below it.
func (t *Tree[T]) unlink(link *nodeID, id nodeID) {
	n := t.arena.at(id)
	switch {
	case n.left == nilNode:
		*link = n.right
	case n.right == nilNode:
		*link = n.left
	default:
		// Promote the right subtree and hang the left one below its
		// smallest node.
		t.arena.at(t.leftmost(n.right)).left = n.left
		*link = n.right
	}

	for id != nilNode {
		n := t.arena.at(id)
		next := nilNode
		if n.value != 0 {
			next = n.middle
		}
		t.arena.release(id)
		id = next
	}
}

// Walk calls fn for every stored key in byte order until fn returns false.
// The key slice is only valid during the call.
func (t *Tree[T]) Walk(fn func(key []byte, v T) bool) {
	key := make([]byte, 0, 64)
	for c := range t.head {
		if t.head[c] == nilNode {
			continue
		}
		if !t.walk(t.head[c], append(key[:0], byte(c)), fn) {
			return
		}
	}
}

func (t *Tree[T]) walk(id nodeID, key []byte, fn func([]byte, T) bool) bool {
	if id == nilNode {
		return true
	}
	n := t.arena.at(id)
	if !t.walk(n.left, key, fn) {
		return false
	}
	if n.value == 0 {
		if !fn(key, n.payload) {
			return false
		}
	} else if !t.walk(n.middle, append(key, n.value), fn) {
		return false
	}
	return t.walk(n.right, key, fn)
}

// find returns the node with value c in the level rooted at id.
func (t *Tree[T]) find(id nodeID, c byte) nodeID {
	for id != nilNode {
		n := t.arena.at(id)
		switch {
		case c == n.value:
			return id
		case c < n.value:
			id = n.left
		default:
			id = n.right
		}
	}
	return nilNode
}

func (t *Tree[T]) leftmost(id nodeID) nodeID {
	for {
		l := t.arena.at(id).left
		if l == nilNode {
			return id
		}
		id = l
	}
}

// byteAt returns rest[i], or 0 once the key is exhausted.
func byteAt(rest []byte, i int) byte {
	if i < len(rest) {
		return rest[i]
	}
	return 0
}
