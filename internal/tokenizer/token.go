package tokenizer

const (
	minTokenLen = 1
	// DefaultMaxTokenLen bounds a term; longer runs are truncated.
	DefaultMaxTokenLen = 64
)

// IterTokens calls fn for each term in data with its position, counted
// from start. The byte slice passed to fn is reused between calls and
// must not be retained. If fn returns false, iteration stops early. It
// returns the position after the last term, so a following field can
// continue the count.
//
// buf is a reusable buffer for building terms. Pass nil to allocate a
// new one, or a slice with capacity >= maxLen for zero allocations.
// maxLen <= 0 means DefaultMaxTokenLen.
func IterTokens(data, buf []byte, maxLen int, start uint32, fn func(token []byte, pos uint32) bool) uint32 {
	if maxLen <= 0 {
		maxLen = DefaultMaxTokenLen
	}
	current := buf[:0]
	if cap(current) < maxLen {
		current = make([]byte, 0, maxLen)
	}

	pos := start
	emit := func() bool {
		if len(current) < minTokenLen || !isIndexable(current) {
			return true
		}
		ok := fn(current, pos)
		pos++
		return ok
	}

	for _, b := range data {
		if isTokenByte(b) {
			if len(current) < maxLen {
				current = append(current, Lowercase(b))
			}
			continue
		}
		if !emit() {
			return pos
		}
		current = current[:0]
	}
	emit()
	return pos
}

// Tokens returns the terms of data in order, using DefaultMaxTokenLen.
func Tokens(data []byte) []string {
	var tokens []string
	IterTokens(data, nil, DefaultMaxTokenLen, 0, func(tok []byte, _ uint32) bool {
		tokens = append(tokens, string(tok))
		return true
	})
	return tokens
}

// isTokenByte reports whether b belongs to a term.
func isTokenByte(b byte) bool {
	switch {
	case b >= 'a' && b <= 'z':
		return true
	case b >= 'A' && b <= 'Z':
		return true
	case b >= '0' && b <= '9':
		return true
	case b == '_' || b == '-':
		return true
	case b >= 0x80:
		return true
	default:
		return false
	}
}

// isIndexable rejects terms that carry no searchable meaning: runs of
// hyphens and underscores, and canonical UUIDs.
func isIndexable(tok []byte) bool {
	punct := true
	for _, b := range tok {
		if b != '-' && b != '_' {
			punct = false
			break
		}
	}
	return !punct && !isUUID(tok)
}

// isUUID checks if tok matches the canonical UUID format: 8-4-4-4-12 hex digits.
func isUUID(tok []byte) bool {
	if len(tok) != 36 {
		return false
	}
	if tok[8] != '-' || tok[13] != '-' || tok[18] != '-' || tok[23] != '-' {
		return false
	}
	for i, b := range tok {
		if i == 8 || i == 13 || i == 18 || i == 23 {
			continue
		}
		if !IsHexDigit(b) {
			return false
		}
	}
	return true
}
