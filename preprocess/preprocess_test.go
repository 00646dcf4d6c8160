package preprocess

import (
	"strings"
	"testing"
)

type mapResolver map[string][]string

func (m mapResolver) Open(path string) ([]string, string, error) {
	lines, ok := m[path]
	if !ok {
		return nil, "", ErrMissingFile
	}
	return lines, path, nil
}

func tokenText(tokens []Token) []string {
	out := make([]string, len(tokens))
	for i, t := range tokens {
		out[i] = t.Text
	}
	return out
}

func TestIncludeSplice(t *testing.T) {
	files := mapResolver{
		"root.s": {`#include "lib.s"`, `push 1`},
		"lib.s":  {`push 2`},
	}

	tokens, err := Process("root.s", files)
	if err != nil {
		t.Fatalf("process failed: %v", err)
	}

	got := strings.Join(tokenText(tokens), " ")
	want := "push 2 push 1"
	if got != want {
		t.Fatalf("got %q want %q", got, want)
	}
}

func TestCyclicIncludeDetected(t *testing.T) {
	files := mapResolver{
		"a.s": {`#include "b.s"`},
		"b.s": {`#include "a.s"`},
	}

	_, err := Process("a.s", files)
	if err == nil {
		t.Fatal("expected cyclic include error")
	}
	if !strings.Contains(err.Error(), ErrCyclicInclude.Error()) {
		t.Fatalf("expected CYCLIC_INCLUDE, got %v", err)
	}
}

func TestDefineAndReference(t *testing.T) {
	files := mapResolver{
		"root.s": {`#define WIDTH 4`, `push.w @WIDTH`},
	}

	tokens, err := Process("root.s", files)
	if err != nil {
		t.Fatalf("process failed: %v", err)
	}

	got := strings.Join(tokenText(tokens), " ")
	if got != "push.w 4" {
		t.Fatalf("got %q", got)
	}
}

func TestDefineExpressionBody(t *testing.T) {
	files := mapResolver{
		"root.s": {`#define PAIR { 1 2 }`, `push @PAIR`},
	}

	tokens, err := Process("root.s", files)
	if err != nil {
		t.Fatalf("process failed: %v", err)
	}

	got := strings.Join(tokenText(tokens), " ")
	if got != "push 1 2" {
		t.Fatalf("got %q", got)
	}
}

func TestUndefinedMacroTraps(t *testing.T) {
	files := mapResolver{
		"root.s": {`push @MISSING`},
	}

	_, err := Process("root.s", files)
	if err == nil {
		t.Fatal("expected UNDEF_MACRO error")
	}
	if !strings.Contains(err.Error(), ErrUndefMacro.Error()) {
		t.Fatalf("expected UNDEF_MACRO, got %v", err)
	}
}

func TestCommentStripping(t *testing.T) {
	files := mapResolver{
		"root.s": {`push 1 ; this is a comment`, `; whole line comment`, `push 2`},
	}

	tokens, err := Process("root.s", files)
	if err != nil {
		t.Fatalf("process failed: %v", err)
	}

	got := strings.Join(tokenText(tokens), " ")
	if got != "push 1 push 2" {
		t.Fatalf("got %q", got)
	}
}
