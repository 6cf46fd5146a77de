package encoder

import (
	"strings"

	"github.com/nanocore-vm/nanocore/internal/isa"
)

// splitDirective separates a directive's name from its argument text.
// rest is already comment-stripped and trimmed.
func splitDirective(rest string) (name, arg string) {
	fields := strings.SplitN(rest, " ", 2)
	name = strings.ToLower(strings.TrimSpace(fields[0]))
	if len(fields) > 1 {
		arg = strings.TrimSpace(fields[1])
	}
	return name, arg
}

// directiveSize computes the byte contribution of a directive for pass-1
// layout: .word emits one word, .byte/.string pack into 32-bit words
// with zero-padding of the final word.
func directiveSize(rest string, lineno int) (uint64, *Error) {
	name, arg := splitDirective(rest)
	switch name {
	case ".word":
		if arg == "" {
			return 0, newErr(BadDirective, lineno, "%s expects a value", name)
		}
		return 4, nil
	case ".byte":
		vals, err := splitCommaList(arg, lineno)
		if err != nil {
			return 0, err
		}
		if len(vals) == 0 {
			return 0, newErr(BadDirective, lineno, ".byte expects at least one value")
		}
		words := (len(vals) + 3) / 4
		return uint64(words) * 4, nil
	case ".string":
		s, _, err := parseQuotedString(arg, lineno)
		if err != nil {
			return 0, err
		}
		n := len(s) + 1 // + NUL terminator
		words := (n + 3) / 4
		return uint64(words) * 4, nil
	default:
		return 0, newErr(BadDirective, lineno, "unknown directive %q", name)
	}
}

// emitDirective produces the directive's bytes for pass 2.
func emitDirective(rest string, symbols map[string]uint64, lineno int) ([]byte, *Error) {
	name, arg := splitDirective(rest)
	switch name {
	case ".word":
		v, err := resolveScalar(arg, symbols, lineno, 32)
		if err != nil {
			return nil, err
		}
		return leU32(uint32(v)), nil
	case ".byte":
		vals, err := splitCommaList(arg, lineno)
		if err != nil {
			return nil, err
		}
		out := make([]byte, 0, (len(vals)+3)/4*4)
		for _, tok := range vals {
			v, err := resolveScalar(tok, symbols, lineno, 8)
			if err != nil {
				return nil, err
			}
			out = append(out, byte(v))
		}
		for len(out)%4 != 0 {
			out = append(out, 0)
		}
		return out, nil
	case ".string":
		s, _, err := parseQuotedString(arg, lineno)
		if err != nil {
			return nil, err
		}
		out := append([]byte(s), 0)
		for len(out)%4 != 0 {
			out = append(out, 0)
		}
		return out, nil
	default:
		return nil, newErr(BadDirective, lineno, "unknown directive %q", name)
	}
}

// splitCommaList splits a .byte argument list on commas and/or whitespace.
func splitCommaList(arg string, lineno int) ([]string, *Error) {
	fields := strings.FieldsFunc(arg, func(r rune) bool {
		return r == ',' || r == ' ' || r == '\t'
	})
	if len(fields) == 0 {
		return nil, newErr(BadDirective, lineno, ".byte expects at least one value")
	}
	return fields, nil
}

// parseQuotedString parses a .string directive's ASCII payload. Bytes
// inside the quotes pass through unmodified; non-ASCII bytes are
// unspecified outside of .string literals, which always pass bytes
// through verbatim.
func parseQuotedString(arg string, lineno int) (string, int, *Error) {
	first := strings.IndexByte(arg, '"')
	if first < 0 {
		return "", 0, newErr(SyntaxError, lineno, "missing opening quote in .string")
	}
	rest := arg[first+1:]
	last := strings.IndexByte(rest, '"')
	if last < 0 {
		return "", 0, newErr(SyntaxError, lineno, "unterminated string literal")
	}
	return rest[:last], first + 1 + last + 1, nil
}

func leU32(v uint32) []byte {
	return []byte{byte(v), byte(v >> 8), byte(v >> 16), byte(v >> 24)}
}

// resolveScalar resolves a .word/.byte argument: a literal integer, or a
// label whose address is substituted.
func resolveScalar(tok string, symbols map[string]uint64, lineno int, bits uint) (int64, *Error) {
	if addr, ok := symbols[tok]; ok {
		return int64(addr), nil
	}
	v, err := parseImmediateToken(tok)
	if err != nil {
		if !looksNumeric(tok) {
			return 0, newErr(UndefinedLabel, lineno, "label %q is not defined", tok)
		}
		return 0, newErr(BadImmediate, lineno, "malformed immediate %q", tok)
	}
	if !isa.FitsSigned(v, bits) && !isa.FitsUnsigned(v, bits) {
		return 0, newErr(BadImmediate, lineno, "%d does not fit in %d bits", v, bits)
	}
	return v, nil
}
