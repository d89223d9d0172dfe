package http11

import (
	"errors"
)

// Parser turns the bytes of one request head into an Env.
//
// It owns a Scanner across Execute calls, so a request that arrives in
// several reads is handled by calling Execute again with the grown buffer
// and the count returned by the previous call:
//
//	buf = append(buf, chunk...)
//	n, err := p.Execute(env, buf, n)
//
// Design:
// - Spans are only materialized into strings when an element completes
// - Every element is checked against Limits as soon as it is reported
// - The first error is sticky until Reset
//
// A Parser is not safe for concurrent use.
type Parser struct {
	limits  Limits
	scanner *Scanner

	// Valid only during Execute
	env Env

	body []byte
	err  error
}

// NewParser creates a Parser enforcing limits. Zero fields of limits take
// the package defaults.
func NewParser(limits Limits) *Parser {
	p := &Parser{limits: limits.WithDefaults()}
	p.scanner = NewScanner(Callbacks{
		RequestMethod: p.onRequestMethod,
		RequestURI:    p.onRequestURI,
		RequestPath:   p.onRequestPath,
		QueryString:   p.onQueryString,
		Fragment:      p.onFragment,
		HTTPVersion:   p.onHTTPVersion,
		HeaderField:   p.onHeaderField,
		HeaderDone:    p.onHeaderDone,
	})
	return p
}

// Limits returns the effective limits.
func (p *Parser) Limits() Limits { return p.limits }

// Execute parses data[start:] into env and returns the cumulative number of
// bytes consumed for the current request.
//
// Errors, in order of precedence:
//   - ErrStartPastEnd if start >= len(data)
//   - a *LimitError for an element over its limit
//   - a *LimitError for LimitHeader if the head grew past MaxHeader
//   - ErrMalformedRequest for bytes outside the request grammar
//
// data must be the same append-only buffer for every call of one request.
// Header names are folded in place inside data.
func (p *Parser) Execute(env Env, data []byte, start int) (int, error) {
	if start >= len(data) {
		return p.scanner.NRead(), ErrStartPastEnd
	}
	if p.err != nil {
		return p.scanner.NRead(), p.err
	}
	if env == nil {
		panic("http11: Execute called with nil Env")
	}

	p.env = env
	n, err := p.scanner.Execute(data, start)
	p.env = nil

	if err != nil && !errors.Is(err, ErrMalformedRequest) {
		p.err = err
		return n, err
	}
	if herr := p.limits.check(LimitHeader, n); herr != nil {
		p.err = herr
		return n, herr
	}
	if err != nil {
		p.err = err
		return n, err
	}
	return n, nil
}

// Finish reports whether the head is complete, still incomplete or failed.
func (p *Parser) Finish() Status {
	if p.err != nil {
		return StatusError
	}
	return p.scanner.Finish()
}

// Reset prepares the Parser for the next request.
func (p *Parser) Reset() {
	p.scanner.Reset()
	p.env = nil
	p.body = nil
	p.err = nil
}

// HasError reports whether the current request failed to parse.
func (p *Parser) HasError() bool { return p.err != nil || p.scanner.HasError() }

// IsFinished reports whether the request head has been fully parsed.
func (p *Parser) IsFinished() bool { return p.err == nil && p.scanner.IsFinished() }

// NRead returns the number of bytes consumed for the current request.
func (p *Parser) NRead() int { return p.scanner.NRead() }

// BodyStart returns the offset of the body in the parsed buffer.
func (p *Parser) BodyStart() int { return p.scanner.BodyStart() }

// Body returns the bytes that followed the head in the last buffer passed
// to Execute. The slice aliases that buffer.
func (p *Parser) Body() []byte { return p.body }

func (p *Parser) setElement(key string, f LimitField, buf []byte, at Span) error {
	if err := p.limits.check(f, at.Len); err != nil {
		return err
	}
	p.env[key] = string(at.Bytes(buf))
	return nil
}

func (p *Parser) onRequestMethod(buf []byte, at Span) error {
	p.env[KeyRequestMethod] = string(at.Bytes(buf))
	return nil
}

func (p *Parser) onRequestURI(buf []byte, at Span) error {
	return p.setElement(KeyRequestURI, LimitRequestURI, buf, at)
}

func (p *Parser) onRequestPath(buf []byte, at Span) error {
	return p.setElement(KeyRequestPath, LimitRequestPath, buf, at)
}

func (p *Parser) onQueryString(buf []byte, at Span) error {
	return p.setElement(KeyQueryString, LimitQueryString, buf, at)
}

func (p *Parser) onFragment(buf []byte, at Span) error {
	return p.setElement(KeyFragment, LimitFragment, buf, at)
}

func (p *Parser) onHTTPVersion(buf []byte, at Span) error {
	p.env[KeyServerProtocol] = string(at.Bytes(buf))
	return nil
}

func (p *Parser) onHeaderField(buf []byte, name, value Span) error {
	if err := p.limits.check(LimitFieldName, name.Len); err != nil {
		return err
	}
	if err := p.limits.check(LimitFieldValue, value.Len); err != nil {
		return err
	}
	p.env.addField(FieldKey(name.Bytes(buf)), value.Bytes(buf))
	return nil
}

func (p *Parser) onHeaderDone(buf []byte, at Span) error {
	p.body = at.Bytes(buf)
	return nil
}
