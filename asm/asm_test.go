package asm

import (
	"errors"
	"testing"

	"stackvm/image"
	"stackvm/preprocess"
	"stackvm/vm"
)

func assert(t *testing.T, cond bool, format string, args ...any) {
	t.Helper()
	if !cond {
		t.Fatalf(format, args...)
	}
}

type memResolver map[string][]string

func (m memResolver) Open(path string) ([]string, string, error) {
	lines, ok := m[path]
	if !ok {
		return nil, "", preprocess.ErrMissingFile
	}
	return lines, path, nil
}

func tokenize(t *testing.T, src string) []preprocess.Token {
	t.Helper()
	tokens, err := preprocess.Process("main.s", memResolver{"main.s": splitLines(src)})
	assert(t, err == nil, "preprocess error: %v", err)
	return tokens
}

func splitLines(src string) []string {
	var lines []string
	cur := ""
	for _, r := range src {
		if r == '\n' {
			lines = append(lines, cur)
			cur = ""
			continue
		}
		cur += string(r)
	}
	if cur != "" {
		lines = append(lines, cur)
	}
	return lines
}

func runImage(t *testing.T, img *image.Image) *vm.VM {
	t.Helper()
	v := vm.New(img)
	err := v.Run()
	assert(t, err == nil, "run error: %v", err)
	assert(t, v.Exited, "expected program to exit")
	return v
}

func TestAssembleArithmetic(t *testing.T) {
	src := `
.entry main

main:
    push.w 2
    push.w 3
    add.w
    ret.w
`
	img, err := Assemble(tokenize(t, src))
	assert(t, err == nil, "assemble error: %v", err)
	v := runImage(t, img)
	assert(t, v.ExitCode == 5, "exit code = %d, want 5", v.ExitCode)
}

func TestAssembleForwardLabelJump(t *testing.T) {
	src := `
.entry main

main:
    push.w 1
    jmp skip
    push.w 99
skip:
    ret.w
`
	img, err := Assemble(tokenize(t, src))
	assert(t, err == nil, "assemble error: %v", err)
	v := runImage(t, img)
	assert(t, v.ExitCode == 1, "exit code = %d, want 1", v.ExitCode)
}

func TestAssembleDataAndDataptr(t *testing.T) {
	src := `
.entry main

.data greeting
    .string "hi"

main:
    push.d 0
    dataptr greeting
    aload.b
    ret.w
`
	img, err := Assemble(tokenize(t, src))
	assert(t, err == nil, "assemble error: %v", err)
	assert(t, len(img.Data) == 3, "data len = %d, want 3 (2 chars + NUL)", len(img.Data))
	v := runImage(t, img)
	assert(t, v.ExitCode == uint32('h'), "exit code = %d, want %d ('h')", v.ExitCode, 'h')
}

func TestAssembleUndefLabel(t *testing.T) {
	src := `
.entry main
main:
    jmp nowhere
    ret.w
`
	_, err := Assemble(tokenize(t, src))
	assert(t, errIsKind(err, ErrUndefLabel), "expected UNDEF_LABEL, got %v", err)
}

func TestAssembleDupLabel(t *testing.T) {
	src := `
.entry main
main:
    ret.w
main:
    ret.w
`
	_, err := Assemble(tokenize(t, src))
	assert(t, errIsKind(err, ErrDupLabel), "expected DUP_LABEL, got %v", err)
}

func TestAssembleBadWidth(t *testing.T) {
	src := `
.entry main
main:
    push.b 300
    ret.w
`
	_, err := Assemble(tokenize(t, src))
	assert(t, errIsKind(err, ErrBadWidth), "expected BAD_WIDTH, got %v", err)
}

func TestAssembleBadEscape(t *testing.T) {
	src := `
.entry main
.data s
    .string "\q"
main:
    ret.w
`
	_, err := Assemble(tokenize(t, src))
	assert(t, errIsKind(err, ErrBadEscape), "expected BAD_ESCAPE, got %v", err)
}

func TestAssembleUnknownMnemonicIsParseError(t *testing.T) {
	src := `
.entry main
main:
    frobnicate
    ret.w
`
	_, err := Assemble(tokenize(t, src))
	assert(t, errIsKind(err, ErrParse), "expected PARSE, got %v", err)
}

func TestAssembleIsIdempotent(t *testing.T) {
	src := `
.entry main

.data msg
    .byte 1
    .word 2
    .string "ok"

main:
    push.w 1
    call helper
    ret.w

helper:
    load.w 0
    ret.w
`
	img1, err := Assemble(tokenize(t, src))
	assert(t, err == nil, "assemble error: %v", err)
	img2, err := Assemble(tokenize(t, src))
	assert(t, err == nil, "assemble error: %v", err)

	assert(t, string(img1.Code) == string(img2.Code), "code differs between runs")
	assert(t, string(img1.Data) == string(img2.Data), "data differs between runs")
	assert(t, len(img1.Symbols) == len(img2.Symbols), "symbol count differs between runs")
	for i := range img1.Symbols {
		assert(t, img1.Symbols[i] == img2.Symbols[i], "symbol %d differs: %+v vs %+v", i, img1.Symbols[i], img2.Symbols[i])
	}
}

func errIsKind(err error, kind error) bool {
	return errors.Is(err, kind)
}
