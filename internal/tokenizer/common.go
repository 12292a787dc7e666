// Package tokenizer splits document text into index terms.
//
// Terms are runs of ASCII letters, digits, '_' and '-', plus any non-ASCII
// bytes so UTF-8 words stay whole. ASCII letters are lowercased; every
// other byte is a delimiter. A term's position is its ordinal among all
// terms of the document.
package tokenizer

// IsHexDigit returns true if c is a hex digit (0-9 or a-f).
func IsHexDigit(c byte) bool {
	return (c >= '0' && c <= '9') || (c >= 'a' && c <= 'f')
}

// Lowercase converts ASCII uppercase to lowercase.
// Non-uppercase bytes are returned unchanged.
func Lowercase(c byte) byte {
	if c >= 'A' && c <= 'Z' {
		return c + ('a' - 'A')
	}
	return c
}
