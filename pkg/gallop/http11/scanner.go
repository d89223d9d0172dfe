package http11

import "fmt"

// Span is an offset/length pair into the buffer passed to Scanner.Execute.
type Span struct {
	Off int
	Len int
}

// End returns the offset one past the last byte of the span.
func (s Span) End() int { return s.Off + s.Len }

// Bytes returns the span's bytes. The result aliases buf.
func (s Span) Bytes(buf []byte) []byte { return buf[s.Off : s.Off+s.Len] }

// ElementFunc receives a request-line element or the header_done span.
type ElementFunc func(buf []byte, at Span) error

// FieldFunc receives one header field. The name has already been folded in
// place and the value has been trimmed of surrounding spaces and tabs.
type FieldFunc func(buf []byte, name, value Span) error

// Callbacks is the event surface of a Scanner. Nil entries are skipped.
// Returning an error from any callback stops the scan and leaves the
// Scanner in its error state.
type Callbacks struct {
	RequestMethod ElementFunc
	RequestURI    ElementFunc
	RequestPath   ElementFunc
	QueryString   ElementFunc
	Fragment      ElementFunc
	HTTPVersion   ElementFunc
	HeaderField   FieldFunc

	// HeaderDone receives the body offset and the number of bytes after it
	// in the current buffer.
	HeaderDone ElementFunc
}

// Status is the result of Scanner.Finish.
type Status int

const (
	StatusError      Status = -1
	StatusIncomplete Status = 0
	StatusFinished   Status = 1
)

func (s Status) String() string {
	switch s {
	case StatusError:
		return "error"
	case StatusIncomplete:
		return "incomplete"
	case StatusFinished:
		return "finished"
	default:
		return fmt.Sprintf("Status(%d)", int(s))
	}
}

type scanState uint8

const (
	stateStart scanState = iota
	stateMethod
	stateURIStart
	stateStar
	stateScheme
	stateAbsURI
	statePath
	stateQueryStart
	stateQuery
	stateFragmentStart
	stateFragment

	// The five states below match the literal "HTTP/" one byte each.
	stateVersionH
	stateVersionT1
	stateVersionT2
	stateVersionP
	stateVersionSlash

	stateVersionMajorStart
	stateVersionMajor
	stateVersionMinorStart
	stateVersionMinor
	stateRequestLineLF
	stateHeaderStart
	stateHeaderName
	stateHeaderColon
	stateHeaderValue
	stateHeaderLF
	stateEndLF
	stateFinal
	stateError
)

const versionLiteral = "HTTP/"

// Scanner is a resumable state machine over an HTTP/1.1 request head.
//
// All offsets it keeps are absolute positions in one logical buffer. Between
// calls for the same request the caller may only append to that buffer;
// bytes already delivered must stay at the same offsets.
//
// A Scanner is not safe for concurrent use. Use one per connection.
type Scanner struct {
	cb    Callbacks
	state scanState

	mark       int
	fieldStart int
	fieldLen   int
	queryStart int
	bodyStart  int
	nread      int
}

// NewScanner returns a Scanner ready for the first request.
func NewScanner(cb Callbacks) *Scanner {
	s := &Scanner{cb: cb}
	s.Reset()
	return s
}

// Reset prepares the Scanner for a new request. Callbacks are kept. The
// zero Scanner is ready for use and reports no events.
func (s *Scanner) Reset() {
	cb := s.cb
	*s = Scanner{cb: cb, state: stateStart}
}

// HasError reports whether the Scanner reached its error state.
func (s *Scanner) HasError() bool { return s.state == stateError }

// IsFinished reports whether the header terminator has been consumed.
func (s *Scanner) IsFinished() bool { return s.state == stateFinal }

// NRead returns the cumulative number of bytes consumed.
func (s *Scanner) NRead() int { return s.nread }

// BodyStart returns the offset of the first body byte once finished.
func (s *Scanner) BodyStart() int { return s.bodyStart }

// Finish reports the outcome of the bytes seen so far.
func (s *Scanner) Finish() Status {
	switch s.state {
	case stateError:
		return StatusError
	case stateFinal:
		return StatusFinished
	default:
		return StatusIncomplete
	}
}

// Execute scans buf[off:], resuming from the state left by the previous
// call, and returns the cumulative number of bytes consumed.
//
// It stops right after the blank line that ends the head; body bytes are
// never consumed. On an invalid byte it returns ErrMalformedRequest, and it
// keeps returning it until Reset. An error returned by a callback is
// returned unchanged. Once finished, further calls consume nothing.
//
// Allocation behavior: 0 allocs/op; callbacks may allocate.
func (s *Scanner) Execute(buf []byte, off int) (int, error) {
	if off < 0 || off > len(buf) {
		panic(fmt.Sprintf("http11: scan offset %d outside buffer of length %d", off, len(buf)))
	}
	switch s.state {
	case stateError:
		return s.nread, ErrMalformedRequest
	case stateFinal:
		return s.nread, nil
	}

	var err error
	p := off

loop:
	for ; p < len(buf); p++ {
		c := buf[p]

		switch s.state {
		case stateStart:
			if !isMethodByte(c) {
				s.state = stateError
				break loop
			}
			s.mark = p
			s.state = stateMethod

		case stateMethod:
			if c == ' ' {
				s.state = stateURIStart
				if err = s.element(s.cb.RequestMethod, buf, s.mark, p); err != nil {
					break loop
				}
				continue
			}
			if !isMethodByte(c) || p-s.mark >= maxMethodLen {
				s.state = stateError
				break loop
			}

		case stateURIStart:
			s.mark = p
			switch {
			case c == '*':
				s.state = stateStar
			case c == '/':
				s.state = statePath
			case c == ':':
				s.state = stateAbsURI
			case isSchemeByte(c):
				s.state = stateScheme
			default:
				s.state = stateError
				break loop
			}

		case stateStar:
			if c != ' ' && c != '#' {
				s.state = stateError
				break loop
			}
			if err = s.uriDone(buf, p, c); err != nil {
				break loop
			}

		case stateScheme:
			switch {
			case c == ':':
				s.state = stateAbsURI
			case !isSchemeByte(c):
				s.state = stateError
				break loop
			}

		case stateAbsURI:
			switch {
			case c == ' ' || c == '#':
				if err = s.uriDone(buf, p, c); err != nil {
					break loop
				}
			case isInvalidURI(c):
				s.state = stateError
				break loop
			}

		case statePath:
			switch {
			case c == ' ' || c == '#':
				if err = s.element(s.cb.RequestPath, buf, s.mark, p); err != nil {
					break loop
				}
				if err = s.uriDone(buf, p, c); err != nil {
					break loop
				}
			case c == '?':
				s.state = stateQueryStart
				if err = s.element(s.cb.RequestPath, buf, s.mark, p); err != nil {
					break loop
				}
			case isInvalidURI(c):
				s.state = stateError
				break loop
			}

		case stateQueryStart:
			s.queryStart = p
			switch {
			case c == ' ' || c == '#':
				if err = s.queryDone(buf, p, c); err != nil {
					break loop
				}
			case isInvalidURI(c):
				s.state = stateError
				break loop
			default:
				s.state = stateQuery
			}

		case stateQuery:
			switch {
			case c == ' ' || c == '#':
				if err = s.queryDone(buf, p, c); err != nil {
					break loop
				}
			case isInvalidURI(c):
				s.state = stateError
				break loop
			}

		case stateFragmentStart:
			s.mark = p
			switch {
			case c == ' ':
				s.state = stateVersionH
				if err = s.element(s.cb.Fragment, buf, p, p); err != nil {
					break loop
				}
			case isFragmentStop(c):
				s.state = stateError
				break loop
			default:
				s.state = stateFragment
			}

		case stateFragment:
			switch {
			case c == ' ':
				s.state = stateVersionH
				if err = s.element(s.cb.Fragment, buf, s.mark, p); err != nil {
					break loop
				}
			case isFragmentStop(c):
				s.state = stateError
				break loop
			}

		case stateVersionH, stateVersionT1, stateVersionT2, stateVersionP, stateVersionSlash:
			if c != versionLiteral[s.state-stateVersionH] {
				s.state = stateError
				break loop
			}
			if s.state == stateVersionH {
				s.mark = p
			}
			s.state++

		case stateVersionMajorStart, stateVersionMinorStart:
			if !isDigitByte(c) {
				s.state = stateError
				break loop
			}
			s.state++

		case stateVersionMajor:
			switch {
			case c == '.':
				s.state = stateVersionMinorStart
			case !isDigitByte(c):
				s.state = stateError
				break loop
			}

		case stateVersionMinor:
			switch {
			case c == '\r':
				s.state = stateRequestLineLF
				if err = s.element(s.cb.HTTPVersion, buf, s.mark, p); err != nil {
					break loop
				}
			case !isDigitByte(c):
				s.state = stateError
				break loop
			}

		case stateRequestLineLF, stateHeaderLF:
			if c != '\n' {
				s.state = stateError
				break loop
			}
			s.state = stateHeaderStart

		case stateHeaderStart:
			switch {
			case c == '\r':
				s.state = stateEndLF
			case isTokenByte(c):
				s.fieldStart = p
				buf[p] = NormalizeHeaderByte(c)
				s.state = stateHeaderName
			default:
				s.state = stateError
				break loop
			}

		case stateHeaderName:
			switch {
			case c == ':':
				s.fieldLen = p - s.fieldStart
				s.state = stateHeaderColon
			case isTokenByte(c):
				buf[p] = NormalizeHeaderByte(c)
			default:
				s.state = stateError
				break loop
			}

		case stateHeaderColon:
			s.mark = p
			switch {
			case c == ' ':
			case c == '\r':
				if err = s.fieldDone(buf, p); err != nil {
					break loop
				}
			case isCTLByte(c):
				s.state = stateError
				break loop
			default:
				s.state = stateHeaderValue
			}

		case stateHeaderValue:
			switch {
			case c == '\r':
				if err = s.fieldDone(buf, p); err != nil {
					break loop
				}
			case isCTLByte(c):
				s.state = stateError
				break loop
			}

		case stateEndLF:
			if c != '\n' {
				s.state = stateError
				break loop
			}
			s.bodyStart = p + 1
			s.state = stateFinal
			if err = s.element(s.cb.HeaderDone, buf, p+1, len(buf)); err != nil {
				break loop
			}
			p++
			break loop

		default:
			panic(fmt.Sprintf("http11: scanner in unexpected state %d", s.state))
		}
	}

	s.nread += p - off
	if err != nil {
		s.state = stateError
		return s.nread, err
	}
	if s.state == stateError {
		return s.nread, ErrMalformedRequest
	}
	return s.nread, nil
}

// element invokes fn with the span buf[start:end].
func (s *Scanner) element(fn ElementFunc, buf []byte, start, end int) error {
	if fn == nil {
		return nil
	}
	return fn(buf, Span{Off: start, Len: end - start})
}

// uriDone emits the request URI that ends at p. The terminator c selects
// the next state: a space leads to the version, '#' to the fragment.
func (s *Scanner) uriDone(buf []byte, p int, c byte) error {
	if c == '#' {
		s.state = stateFragmentStart
	} else {
		s.state = stateVersionH
	}
	return s.element(s.cb.RequestURI, buf, s.mark, p)
}

// queryDone emits the query string and then the URI, both ending at p.
func (s *Scanner) queryDone(buf []byte, p int, c byte) error {
	if err := s.element(s.cb.QueryString, buf, s.queryStart, p); err != nil {
		return err
	}
	return s.uriDone(buf, p, c)
}

// fieldDone emits the header field whose value ends at the CR at p.
func (s *Scanner) fieldDone(buf []byte, p int) error {
	s.state = stateHeaderLF
	if s.cb.HeaderField == nil {
		return nil
	}
	start, end := trimOWS(buf, s.mark, p)
	return s.cb.HeaderField(buf,
		Span{Off: s.fieldStart, Len: s.fieldLen},
		Span{Off: start, Len: end - start})
}
