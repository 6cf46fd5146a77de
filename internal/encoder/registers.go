package encoder

import (
	"strconv"
	"strings"
)

// parseIntReg parses an integer register operand: R0-R31, plus the
// aliases ZERO (R0), SP (R30), LR/RA (R31). Generalizes pkg/asm's
// parseRegister (its register table has no aliases; NanoCore adds the
// SP/LR front-end convenience aliases).
func parseIntReg(tok string) (uint32, bool) {
	u := strings.ToUpper(strings.TrimSpace(tok))
	switch u {
	case "ZERO":
		return 0, true
	case "SP":
		return 30, true
	case "LR", "RA":
		return 31, true
	}
	if len(u) >= 2 && u[0] == 'R' {
		if n, err := strconv.Atoi(u[1:]); err == nil && n >= 0 && n < 32 {
			return uint32(n), true
		}
	}
	return 0, false
}

// parseVecReg parses a vector register operand V0-V15.
func parseVecReg(tok string) (uint32, bool) {
	u := strings.ToUpper(strings.TrimSpace(tok))
	if len(u) >= 2 && u[0] == 'V' {
		if n, err := strconv.Atoi(u[1:]); err == nil && n >= 0 && n < 16 {
			return uint32(n), true
		}
	}
	return 0, false
}
