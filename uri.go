package webcore

import "strings"

// Canonicalize strips the scheme/authority and query string from raw, then
// percent-decodes the remaining path. It never fails: malformed escapes
// ("%" not followed by two hex digits) are copied through byte-for-byte
// rather than rejected, matching the original server.c behavior of
// "*dst++ = c" even when c is still '%' — garbage-in, garbage-out is
// preserved here deliberately rather than smoothed over.
//
// Canonicalize is idempotent on already-decoded paths: running it again on
// its own output is a no-op once no "%XX" escapes remain. It is not
// idempotent across double-encoded input ("%2541" decodes once to "%41",
// and only a second pass would decode that to "A"), matching the
// original's single decode pass rather than a fixed-point loop.
func Canonicalize(raw string) string {
	if i := strings.IndexByte(raw, '?'); i >= 0 {
		raw = raw[:i]
	}

	if rest, ok := stripSchemeAuthority(raw); ok {
		raw = rest
	}

	return percentDecodePath(raw)
}

func stripSchemeAuthority(path string) (string, bool) {
	lower := strings.ToLower(path)
	var afterScheme string
	switch {
	case strings.HasPrefix(lower, "http://"):
		afterScheme = path[len("http://"):]
	case strings.HasPrefix(lower, "https://"):
		afterScheme = path[len("https://"):]
	default:
		return path, false
	}
	if i := strings.IndexByte(afterScheme, '/'); i >= 0 {
		return afterScheme[i:], true
	}
	return "/", true
}

func percentDecodePath(path string) string {
	var b strings.Builder
	b.Grow(len(path))
	for i := 0; i < len(path); i++ {
		c := path[i]
		if c == '%' && i+2 < len(path) && isHex(path[i+1]) && isHex(path[i+2]) {
			decoded := unhex(path[i+1])<<4 | unhex(path[i+2])
			if decoded == 0 {
				return b.String()
			}
			b.WriteByte(decoded)
			i += 2
			continue
		}
		b.WriteByte(c)
	}
	return b.String()
}

func isHex(c byte) bool {
	return (c >= '0' && c <= '9') || (c >= 'a' && c <= 'f') || (c >= 'A' && c <= 'F')
}

func unhex(c byte) byte {
	switch {
	case c >= '0' && c <= '9':
		return c - '0'
	case c >= 'a' && c <= 'f':
		return c - 'a' + 10
	default:
		return c - 'A' + 10
	}
}
