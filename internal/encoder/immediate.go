package encoder

import (
	"strconv"
	"strings"
)

// parseImmediateToken parses a literal integer: 0x/0X hex, 0b/0B binary,
// otherwise signed decimal.
func parseImmediateToken(tok string) (int64, error) {
	t := strings.TrimSpace(tok)
	sign := int64(1)
	if strings.HasPrefix(t, "-") {
		sign = -1
		t = t[1:]
	} else if strings.HasPrefix(t, "+") {
		t = t[1:]
	}
	lower := strings.ToLower(t)
	var u uint64
	var err error
	switch {
	case strings.HasPrefix(lower, "0x"):
		u, err = strconv.ParseUint(t[2:], 16, 64)
	case strings.HasPrefix(lower, "0b"):
		u, err = strconv.ParseUint(t[2:], 2, 64)
	default:
		u, err = strconv.ParseUint(t, 10, 64)
	}
	if err != nil {
		return 0, err
	}
	return sign * int64(u), nil
}

// looksNumeric reports whether tok could plausibly be an immediate literal
// rather than a label reference, used to classify parse failures as
// UndefinedLabel vs. BadImmediate/SyntaxError.
func looksNumeric(tok string) bool {
	if tok == "" {
		return false
	}
	t := tok
	if t[0] == '-' || t[0] == '+' {
		t = t[1:]
	}
	return t != "" && (t[0] >= '0' && t[0] <= '9')
}

// parseMemOperand splits the "offset(base)" syntax used by loads, stores,
// PREFETCH, and CLFLUSH operands.
func parseMemOperand(tok string) (offset, base string, ok bool) {
	open := strings.IndexByte(tok, '(')
	if open < 0 || !strings.HasSuffix(tok, ")") {
		return "", "", false
	}
	offset = strings.TrimSpace(tok[:open])
	base = strings.TrimSpace(tok[open+1 : len(tok)-1])
	if offset == "" {
		offset = "0"
	}
	return offset, base, true
}
