// Package http11 implements an incremental, resumable HTTP/1.1 request-head
// scanner and the CGI-style environment builder layered on top of it.
//
// The Scanner is a hand-written state machine that reports spans into the
// caller's buffer. The Parser drives a Scanner, materializes the spans into
// an Env and enforces the configured length limits.
package http11

// Default element size limits, in bytes.
const (
	DefaultMaxFieldName   = 256
	DefaultMaxFieldValue  = 80 * 1024
	DefaultMaxRequestURI  = 12 * 1024
	DefaultMaxFragment    = 1024
	DefaultMaxRequestPath = 8 * 1024
	DefaultMaxQueryString = 10 * 1024
	DefaultMaxHeader      = 112 * 1024
)

// Env keys for the request line.
const (
	KeyRequestMethod  = "REQUEST_METHOD"
	KeyRequestURI     = "REQUEST_URI"
	KeyRequestPath    = "REQUEST_PATH"
	KeyQueryString    = "QUERY_STRING"
	KeyFragment       = "FRAGMENT"
	KeyServerProtocol = "SERVER_PROTOCOL"
)

// headerPrefix is prepended to folded header names that are not common fields.
const headerPrefix = "HTTP_"

// maxMethodLen is the longest method token the scanner accepts.
const maxMethodLen = 20

// Common request fields, already folded. These resolve to interned keys so
// the usual headers never allocate a synthetic one.
var commonFieldNames = [...]string{
	"ACCEPT",
	"ACCEPT_CHARSET",
	"ACCEPT_ENCODING",
	"ACCEPT_LANGUAGE",
	"ALLOW",
	"AUTHORIZATION",
	"CACHE_CONTROL",
	"CONNECTION",
	"CONTENT_ENCODING",
	"CONTENT_LENGTH",
	"CONTENT_TYPE",
	"COOKIE",
	"DATE",
	"EXPECT",
	"FROM",
	"HOST",
	"IF_MATCH",
	"IF_MODIFIED_SINCE",
	"IF_NONE_MATCH",
	"IF_RANGE",
	"IF_UNMODIFIED_SINCE",
	"KEEP_ALIVE",
	"MAX_FORWARDS",
	"PRAGMA",
	"PROXY_AUTHORIZATION",
	"RANGE",
	"REFERER",
	"TE",
	"TRAILER",
	"TRANSFER_ENCODING",
	"UPGRADE",
	"USER_AGENT",
	"VIA",
	"X_FORWARDED_FOR",
	"X_REAL_IP",
	"WARNING",
}

// rawFieldNames are common fields whose env key carries no HTTP_ prefix.
var rawFieldNames = map[string]bool{
	"CONTENT_LENGTH": true,
	"CONTENT_TYPE":   true,
}

// commonFields maps a folded field name to its env key. Built once, read-only.
var commonFields = func() map[string]string {
	m := make(map[string]string, len(commonFieldNames))
	for _, name := range commonFieldNames {
		if rawFieldNames[name] {
			m[name] = name
			continue
		}
		m[name] = headerPrefix + name
	}
	return m
}()

// CommonFieldKey returns the interned env key for a folded field name if the
// name is one of the common request fields.
func CommonFieldKey(folded []byte) (string, bool) {
	// The string conversion in a map index does not allocate.
	key, ok := commonFields[string(folded)]
	return key, ok
}
