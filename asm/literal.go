package asm

import (
	"strconv"
	"strings"

	"github.com/pkg/errors"

	"stackvm/preprocess"
)

// parseEscapes expands the shared escape set (\n \t \r \0 \\ \" \') inside the
// inner contents of a char or string literal.
func parseEscapes(s string) (string, error) {
	var b strings.Builder
	runes := []rune(s)
	for i := 0; i < len(runes); i++ {
		r := runes[i]
		if r != '\\' {
			b.WriteRune(r)
			continue
		}
		i++
		if i >= len(runes) {
			return "", errors.Wrap(ErrBadEscape, `trailing backslash`)
		}
		switch runes[i] {
		case 'n':
			b.WriteByte('\n')
		case 't':
			b.WriteByte('\t')
		case 'r':
			b.WriteByte('\r')
		case '0':
			b.WriteByte(0)
		case '\\':
			b.WriteByte('\\')
		case '"':
			b.WriteByte('"')
		case '\'':
			b.WriteByte('\'')
		default:
			return "", errors.Wrapf(ErrBadEscape, `\%c`, runes[i])
		}
	}
	return b.String(), nil
}

// parseStringLiteral strips the surrounding quotes from a "..." token and
// expands escapes.
func parseStringLiteral(tok preprocess.Token) (string, error) {
	text := tok.Text
	if len(text) < 2 || text[0] != '"' || text[len(text)-1] != '"' {
		return "", at(tok, ErrParse, "malformed string literal %q", text)
	}
	s, err := parseEscapes(text[1 : len(text)-1])
	if err != nil {
		return "", at(tok, err, "in string literal %q", text)
	}
	return s, nil
}

// parseCharLiteral decodes a 'x' token to its byte value.
func parseCharLiteral(tok preprocess.Token) (byte, error) {
	text := tok.Text
	if len(text) < 3 || text[0] != '\'' || text[len(text)-1] != '\'' {
		return 0, at(tok, ErrParse, "malformed char literal %q", text)
	}
	s, err := parseEscapes(text[1 : len(text)-1])
	if err != nil {
		return 0, at(tok, err, "in char literal %q", text)
	}
	if len(s) != 1 {
		return 0, at(tok, ErrParse, "char literal %q must decode to exactly one byte", text)
	}
	return s[0], nil
}

// parseIntLiteral parses a decimal integer, or a char literal, as a raw
// (unmasked) operand value.
func parseIntLiteral(tok preprocess.Token) (int64, error) {
	if strings.HasPrefix(tok.Text, "'") {
		b, err := parseCharLiteral(tok)
		return int64(b), err
	}
	v, err := strconv.ParseInt(tok.Text, 10, 64)
	if err != nil {
		return 0, at(tok, ErrParse, "expected integer literal, got %q", tok.Text)
	}
	return v, nil
}

// fitsWidth reports whether v is representable, signed or unsigned, in
// bits-many bits.
func fitsWidth(v int64, bits uint) bool {
	if bits >= 64 {
		return true
	}
	maxUnsigned := int64(1)<<bits - 1
	minSigned := -(int64(1) << (bits - 1))
	maxSigned := int64(1)<<(bits-1) - 1
	if v >= 0 && v <= maxUnsigned {
		return true
	}
	return v >= minSigned && v <= maxSigned
}

// parseImmediate parses and range-checks a numeric/char literal against the
// given width, returning its raw bit pattern.
func parseImmediate(tok preprocess.Token, bits uint) (uint64, error) {
	v, err := parseIntLiteral(tok)
	if err != nil {
		return 0, err
	}
	if !fitsWidth(v, bits) {
		return 0, at(tok, ErrBadWidth, "value %d does not fit %d bits", v, bits)
	}
	mask := uint64(1)<<bits - 1
	if bits >= 64 {
		mask = ^uint64(0)
	}
	return uint64(v) & mask, nil
}

// parseSlotIndex parses a locals slot index operand (0..255).
func parseSlotIndex(tok preprocess.Token) (byte, error) {
	v, err := parseIntLiteral(tok)
	if err != nil {
		return 0, err
	}
	if v < 0 || v > 255 {
		return 0, at(tok, ErrBadWidth, "slot index %d out of range", v)
	}
	return byte(v), nil
}
