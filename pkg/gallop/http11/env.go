package http11

import (
	"github.com/valyala/bytebufferpool"
)

// Env is the CGI-style request environment filled by Parser.Execute.
//
// Request-line elements use the Key* constants. Header fields use their
// folded name: common fields map to interned keys, everything else becomes
// "HTTP_" + folded name. A repeated field keeps one entry whose values are
// joined with ", ".
type Env map[string]string

// Header returns the value of the header field with the given wire name,
// for example "Content-Type" or "X-Forwarded-For".
func (e Env) Header(name string) (string, bool) {
	bb := bytebufferpool.Get()
	defer bytebufferpool.Put(bb)
	bb.B = NormalizeHeaderName(bb.B, []byte(name))
	v, ok := e[FieldKey(bb.B)]
	return v, ok
}

// FieldKey returns the env key for a folded header field name.
func FieldKey(folded []byte) string {
	if key, ok := CommonFieldKey(folded); ok {
		return key
	}
	bb := bytebufferpool.Get()
	bb.B = append(bb.B, headerPrefix...)
	bb.B = append(bb.B, folded...)
	key := bb.String()
	bytebufferpool.Put(bb)
	return key
}

// addField stores value under key, appending to an existing value with ", ".
func (e Env) addField(key string, value []byte) {
	prev, ok := e[key]
	if !ok {
		e[key] = string(value)
		return
	}
	bb := bytebufferpool.Get()
	bb.B = append(bb.B, prev...)
	bb.B = append(bb.B, ", "...)
	bb.B = append(bb.B, value...)
	e[key] = bb.String()
	bytebufferpool.Put(bb)
}
