package http11

// Byte classes used by the scanner. A byte may belong to several classes.
const (
	classMethod     uint8 = 1 << iota // A-Z 0-9 $ - _ .
	classToken                        // RFC 7230 tchar
	classScheme                       // A-Z a-z 0-9 + - .
	classURIInvalid                   // never allowed inside a request-URI
	classCTL                          // rejected inside a field value
	classDigit
)

// byteClass is the fixed compatibility table. Field values accept tab and
// every byte from 0x80 to 0xFF.
var byteClass = func() [256]uint8 {
	var t [256]uint8
	for c := 0; c < 256; c++ {
		b := byte(c)
		isUpper := b >= 'A' && b <= 'Z'
		isLower := b >= 'a' && b <= 'z'
		isDigit := b >= '0' && b <= '9'

		if isUpper || isDigit {
			t[c] |= classMethod
		}
		if isUpper || isLower || isDigit {
			t[c] |= classToken | classScheme
		}
		if isDigit {
			t[c] |= classDigit
		}
		if b < 0x20 || b == 0x7f {
			t[c] |= classURIInvalid
			if b != '\t' {
				t[c] |= classCTL
			}
		}
	}
	for _, b := range []byte("$-_.") {
		t[b] |= classMethod
	}
	for _, b := range []byte("!#$%&'*+-.^_`|~") {
		t[b] |= classToken
	}
	for _, b := range []byte("+-.") {
		t[b] |= classScheme
	}
	for _, b := range []byte(`"<>`) {
		t[b] |= classURIInvalid
	}
	return t
}()

func isMethodByte(c byte) bool { return byteClass[c]&classMethod != 0 }
func isTokenByte(c byte) bool { return byteClass[c]&classToken != 0 }
func isSchemeByte(c byte) bool { return byteClass[c]&classScheme != 0 }
func isDigitByte(c byte) bool { return byteClass[c]&classDigit != 0 }
func isCTLByte(c byte) bool { return byteClass[c]&classCTL != 0 }
func isInvalidURI(c byte) bool { return byteClass[c]&classURIInvalid != 0 }
func isOWS(c byte) bool { return c == ' ' || c == '\t' }
func isFragmentStop(c byte) bool { return isInvalidURI(c) || c == '#' }

// NormalizeHeaderByte folds one header-name byte into its env-key form:
// lowercase letters are upper-cased, '-' becomes '_' and a literal '_'
// becomes ',' so that "X_A" and "X-A" never produce the same key.
func NormalizeHeaderByte(c byte) byte {
	switch {
	case c >= 'a' && c <= 'z':
		return c - ('a' - 'A')
	case c == '_':
		return ','
	case c == '-':
		return '_'
	}
	return c
}

// NormalizeHeaderName appends the folded form of name to dst.
func NormalizeHeaderName(dst, name []byte) []byte {
	for _, c := range name {
		dst = append(dst, NormalizeHeaderByte(c))
	}
	return dst
}

// trimOWS returns the sub-span of buf[start:end] without leading and
// trailing spaces and tabs.
func trimOWS(buf []byte, start, end int) (int, int) {
	for start < end && isOWS(buf[start]) {
		start++
	}
	for end > start && isOWS(buf[end-1]) {
		end--
	}
	return start, end
}
