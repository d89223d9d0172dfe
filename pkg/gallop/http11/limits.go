package http11

// Limits holds the maximum size, in bytes, of each request-head element.
// A zero field means the package default.
type Limits struct {
	// MaxFieldName caps a single header field name
	MaxFieldName int `json:"max_field_name"`

	// MaxFieldValue caps a single header field value after trimming
	MaxFieldValue int `json:"max_field_value"`

	// MaxRequestURI caps the whole request-URI, excluding the fragment
	MaxRequestURI int `json:"max_request_uri"`

	// MaxFragment caps the "#fragment" part
	MaxFragment int `json:"max_fragment"`

	// MaxRequestPath caps the path part of the request-URI
	MaxRequestPath int `json:"max_request_path"`

	// MaxQueryString caps the part after '?'
	MaxQueryString int `json:"max_query_string"`

	// MaxHeader caps the total number of bytes consumed for one request head
	MaxHeader int `json:"max_header"`
}

// DefaultLimits returns the default element limits.
func DefaultLimits() Limits {
	return Limits{
		MaxFieldName:   DefaultMaxFieldName,
		MaxFieldValue:  DefaultMaxFieldValue,
		MaxRequestURI:  DefaultMaxRequestURI,
		MaxFragment:    DefaultMaxFragment,
		MaxRequestPath: DefaultMaxRequestPath,
		MaxQueryString: DefaultMaxQueryString,
		MaxHeader:      DefaultMaxHeader,
	}
}

// WithDefaults returns l with every non-positive field replaced by its default.
func (l Limits) WithDefaults() Limits {
	d := DefaultLimits()
	if l.MaxFieldName <= 0 {
		l.MaxFieldName = d.MaxFieldName
	}
	if l.MaxFieldValue <= 0 {
		l.MaxFieldValue = d.MaxFieldValue
	}
	if l.MaxRequestURI <= 0 {
		l.MaxRequestURI = d.MaxRequestURI
	}
	if l.MaxFragment <= 0 {
		l.MaxFragment = d.MaxFragment
	}
	if l.MaxRequestPath <= 0 {
		l.MaxRequestPath = d.MaxRequestPath
	}
	if l.MaxQueryString <= 0 {
		l.MaxQueryString = d.MaxQueryString
	}
	if l.MaxHeader <= 0 {
		l.MaxHeader = d.MaxHeader
	}
	return l
}

// limitFor returns the limit that applies to f.
func (l *Limits) limitFor(f LimitField) int {
	switch f {
	case LimitFieldName:
		return l.MaxFieldName
	case LimitFieldValue:
		return l.MaxFieldValue
	case LimitRequestURI:
		return l.MaxRequestURI
	case LimitFragment:
		return l.MaxFragment
	case LimitRequestPath:
		return l.MaxRequestPath
	case LimitQueryString:
		return l.MaxQueryString
	default:
		return l.MaxHeader
	}
}

// check returns a *LimitError if n exceeds the limit for f.
func (l *Limits) check(f LimitField, n int) error {
	if limit := l.limitFor(f); n > limit {
		return &LimitError{Field: f, Length: n, Max: limit}
	}
	return nil
}
