// Package asm lowers a preprocessed token stream into an image.Image: two
// passes, matching the teacher's layout-then-emit structure in
// CompileSourceFromBuffer, generalized to variable-width instructions and a
// separate data segment.
package asm

import (
	"github.com/pkg/errors"

	"stackvm/preprocess"
)

var (
	// ErrParse covers malformed syntax: unknown directive/mnemonic, missing
	// or extra operands, a token that doesn't parse as the operand kind the
	// opcode expects.
	ErrParse = errors.New("PARSE")
	// ErrUndefLabel is returned when a branch/call/dataptr/.entry target has
	// no matching symbol after layout completes.
	ErrUndefLabel = errors.New("UNDEF_LABEL")
	// ErrDupLabel is returned when a label name is defined more than once.
	ErrDupLabel = errors.New("DUP_LABEL")
	// ErrBadWidth is returned when a numeric immediate doesn't fit the
	// declared operand width.
	ErrBadWidth = errors.New("BAD_WIDTH")
	// ErrBadEscape is returned for an unrecognized backslash escape in a
	// char or string literal.
	ErrBadEscape = errors.New("BAD_ESCAPE")
)

// at wraps err with the token's source location, the way the preprocessor
// wraps directive errors with file:line.
func at(tok preprocess.Token, err error, format string, args ...any) error {
	loc := errors.Wrapf(err, "%s:%d:%d", tok.File, tok.Line, tok.Col)
	if format == "" {
		return loc
	}
	return errors.Wrapf(loc, format, args...)
}
