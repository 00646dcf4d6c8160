package asm

import (
	"encoding/binary"
	"sort"
	"strings"

	"stackvm/image"
	"stackvm/preprocess"
	"stackvm/vm"
)

// codeInstr is a parsed (but not yet encoded) instruction, recorded during
// layout and encoded once the full symbol table is known.
type codeInstr struct {
	mnemonic preprocess.Token
	op       vm.Opcode
	operand  *preprocess.Token
	offset   uint32
}

type builder struct {
	codeCursor uint32
	dataCursor uint32
	symbols    map[string]image.Symbol
	instrs     []codeInstr
	data       []byte

	entryTok *preprocess.Token

	// dataOpen is true while statements immediately following a `.data LBL`
	// are still eligible to be its sub-directive continuations (spec §4.2:
	// "advances the data cursor by the sum of the following inline
	// sub-directives until the next .data/instruction"). Each sub-directive
	// is its own statement (preprocess.Token.Seq is fresh per source line),
	// so this flag carries the block across statement boundaries instead of
	// requiring every sub-directive to share the .data line's Seq.
	dataOpen bool
}

// Assemble lowers a preprocessed token stream into an image, in two passes
// over the statements grouped by Token.Seq: layout (§4.2 pass 1, recording
// symbols and parsing instruction/data statements) and emission (§4.2 pass
// 2, resolving labels and encoding code bytes). Data bytes need no second
// pass since data sub-directives carry only literal values, never label
// references.
func Assemble(tokens []preprocess.Token) (*image.Image, error) {
	b := &builder{symbols: make(map[string]image.Symbol)}

	for _, stmt := range groupStatements(tokens) {
		if err := b.layoutStatement(stmt); err != nil {
			return nil, err
		}
	}

	code, err := b.emit()
	if err != nil {
		return nil, err
	}

	entryOffset, err := b.resolveEntry()
	if err != nil {
		return nil, err
	}

	return &image.Image{
		EntryOffset: entryOffset,
		Code:        code,
		Data:        b.data,
		Symbols:     b.symbolSlice(),
	}, nil
}

// symbolSlice sorts by name so repeated assemblies of the same source
// produce byte-identical images regardless of Go's randomized map
// iteration order (spec §8 "Idempotence").
func (b *builder) symbolSlice() []image.Symbol {
	out := make([]image.Symbol, 0, len(b.symbols))
	for _, sym := range b.symbols {
		out = append(out, sym)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// groupStatements splits a flat token stream into per-statement slices,
// using Token.Seq exactly as preprocess.Process documents: tokens sharing a
// Seq value came from the same logical source line.
func groupStatements(tokens []preprocess.Token) [][]preprocess.Token {
	var stmts [][]preprocess.Token
	var cur []preprocess.Token
	curSeq := -1
	for _, tok := range tokens {
		if tok.Seq != curSeq {
			if len(cur) > 0 {
				stmts = append(stmts, cur)
			}
			cur = nil
			curSeq = tok.Seq
		}
		cur = append(cur, tok)
	}
	if len(cur) > 0 {
		stmts = append(stmts, cur)
	}
	return stmts
}

func (b *builder) defineLabel(tok preprocess.Token, name string, section image.Section, offset uint32) error {
	if _, exists := b.symbols[name]; exists {
		return at(tok, ErrDupLabel, "label %q already defined", name)
	}
	b.symbols[name] = image.Symbol{Name: name, Section: section, Offset: offset}
	return nil
}

// dataSubDirectives is the set of `.data` continuation directives: they
// carry literal values into the open data block rather than starting a new
// statement kind of their own.
var dataSubDirectives = map[string]bool{
	".byte": true, ".word": true, ".dword": true, ".ascii": true, ".string": true,
}

func (b *builder) layoutStatement(stmt []preprocess.Token) error {
	idx := 0
	if strings.HasSuffix(stmt[idx].Text, ":") {
		name := strings.TrimSuffix(stmt[idx].Text, ":")
		if err := b.defineLabel(stmt[idx], name, image.SectionCode, b.codeCursor); err != nil {
			return err
		}
		idx++
		b.dataOpen = false
		if idx == len(stmt) {
			return nil
		}
	}

	head := stmt[idx]
	switch {
	case head.Text == ".entry":
		b.dataOpen = false
		return b.layoutEntry(stmt[idx:])
	case head.Text == ".data":
		return b.layoutData(stmt[idx:])
	case dataSubDirectives[head.Text]:
		if !b.dataOpen {
			return at(head, ErrParse, "%q outside of a .data block", head.Text)
		}
		return b.layoutDataSub(stmt[idx:])
	case strings.HasPrefix(head.Text, "."):
		b.dataOpen = false
		return at(head, ErrParse, "unknown directive %q", head.Text)
	default:
		b.dataOpen = false
		return b.layoutInstr(stmt[idx:])
	}
}

func (b *builder) layoutEntry(toks []preprocess.Token) error {
	if len(toks) != 2 {
		return at(toks[0], ErrParse, ".entry takes exactly one label operand")
	}
	name := toks[1]
	b.entryTok = &name
	return nil
}

func (b *builder) layoutInstr(toks []preprocess.Token) error {
	mnemonicTok := toks[0]
	op, ok := vm.Lookup(mnemonicTok.Text)
	if !ok {
		return at(mnemonicTok, ErrParse, "unknown mnemonic %q", mnemonicTok.Text)
	}
	info, _ := vm.Info(op)

	rest := toks[1:]
	var operand *preprocess.Token
	if info.Operand == vm.OperandNone {
		if len(rest) != 0 {
			return at(mnemonicTok, ErrParse, "%q takes no operand", mnemonicTok.Text)
		}
	} else {
		if len(rest) != 1 {
			return at(mnemonicTok, ErrParse, "%q requires exactly one operand", mnemonicTok.Text)
		}
		operand = &rest[0]
	}

	size, err := vm.InstrSize(op)
	if err != nil {
		return at(mnemonicTok, ErrParse, "%v", err)
	}

	b.instrs = append(b.instrs, codeInstr{
		mnemonic: mnemonicTok,
		op:       op,
		operand:  operand,
		offset:   b.codeCursor,
	})
	b.codeCursor += size
	return nil
}

// layoutData handles a `.data LBL [sub-directive value]...` statement: it
// defines the label at the current data cursor and opens the data block so
// that sub-directive statements on following source lines keep contributing
// to it (spec §4.2). Any sub-directives given inline on the `.data` line
// itself are also accepted, for compactness.
func (b *builder) layoutData(toks []preprocess.Token) error {
	if len(toks) < 2 {
		return at(toks[0], ErrParse, ".data requires a label")
	}
	labelTok := toks[1]
	if err := b.defineLabel(labelTok, labelTok.Text, image.SectionData, b.dataCursor); err != nil {
		return err
	}
	b.dataOpen = true

	rest := toks[2:]
	for len(rest) > 0 {
		if len(rest) < 2 {
			return at(rest[0], ErrParse, "directive %q missing a value", rest[0].Text)
		}
		if err := b.emitDataSub(rest[0], rest[1]); err != nil {
			return err
		}
		rest = rest[2:]
	}
	return nil
}

// layoutDataSub handles one `.byte/.word/.dword/.ascii/.string V` statement
// that continues the currently open `.data` block.
func (b *builder) layoutDataSub(toks []preprocess.Token) error {
	if len(toks) != 2 {
		return at(toks[0], ErrParse, "directive %q requires exactly one value", toks[0].Text)
	}
	return b.emitDataSub(toks[0], toks[1])
}

// emitDataSub encodes one data sub-directive's literal value and advances
// the data cursor, shared by both the inline and continuation-line forms.
func (b *builder) emitDataSub(sub, val preprocess.Token) error {
	switch sub.Text {
	case ".byte":
		v, err := parseImmediate(val, 8)
		if err != nil {
			return err
		}
		b.data = append(b.data, byte(v))
		b.dataCursor++
	case ".word":
		v, err := parseImmediate(val, 32)
		if err != nil {
			return err
		}
		var buf [4]byte
		binary.LittleEndian.PutUint32(buf[:], uint32(v))
		b.data = append(b.data, buf[:]...)
		b.dataCursor += 4
	case ".dword":
		v, err := parseImmediate(val, 64)
		if err != nil {
			return err
		}
		var buf [8]byte
		binary.LittleEndian.PutUint64(buf[:], v)
		b.data = append(b.data, buf[:]...)
		b.dataCursor += 8
	case ".ascii":
		s, err := parseStringLiteral(val)
		if err != nil {
			return err
		}
		b.data = append(b.data, []byte(s)...)
		b.dataCursor += uint32(len(s))
	case ".string":
		s, err := parseStringLiteral(val)
		if err != nil {
			return err
		}
		b.data = append(b.data, []byte(s)...)
		b.data = append(b.data, 0)
		b.dataCursor += uint32(len(s)) + 1
	default:
		return at(sub, ErrParse, "unknown data sub-directive %q", sub.Text)
	}
	return nil
}

func (b *builder) resolveEntry() (uint32, error) {
	if b.entryTok == nil {
		return 0, nil
	}
	sym, ok := b.symbols[b.entryTok.Text]
	if !ok || sym.Section != image.SectionCode {
		return 0, at(*b.entryTok, ErrUndefLabel, "undefined entry label %q", b.entryTok.Text)
	}
	return sym.Offset, nil
}

func (b *builder) emit() ([]byte, error) {
	code := make([]byte, 0, b.codeCursor)
	for _, ci := range b.instrs {
		var err error
		code, err = b.emitInstr(code, ci)
		if err != nil {
			return nil, err
		}
	}
	return code, nil
}

func (b *builder) emitInstr(code []byte, ci codeInstr) ([]byte, error) {
	info, _ := vm.Info(ci.op)
	code = append(code, byte(ci.op))

	switch info.Operand {
	case vm.OperandNone:
		return code, nil

	case vm.OperandImm:
		v, err := parseImmediate(*ci.operand, uint(info.Width)*8)
		if err != nil {
			return nil, err
		}
		return appendWidth(code, v, info.Width), nil

	case vm.OperandSlotIndex:
		idx, err := parseSlotIndex(*ci.operand)
		if err != nil {
			return nil, err
		}
		return append(code, idx), nil

	case vm.OperandCodeOffset:
		sym, ok := b.symbols[ci.operand.Text]
		if !ok || sym.Section != image.SectionCode {
			return nil, at(*ci.operand, ErrUndefLabel, "undefined code label %q", ci.operand.Text)
		}
		return appendUint32(code, sym.Offset), nil

	case vm.OperandDataOffset:
		sym, ok := b.symbols[ci.operand.Text]
		if !ok || sym.Section != image.SectionData {
			return nil, at(*ci.operand, ErrUndefLabel, "undefined data label %q", ci.operand.Text)
		}
		return appendUint32(code, sym.Offset), nil

	default:
		return nil, at(ci.mnemonic, ErrParse, "unhandled operand kind for %q", ci.mnemonic.Text)
	}
}

func appendWidth(buf []byte, v uint64, w vm.Width) []byte {
	switch w {
	case vm.WidthByte:
		return append(buf, byte(v))
	case vm.WidthWord:
		return appendUint32(buf, uint32(v))
	default:
		var b [8]byte
		binary.LittleEndian.PutUint64(b[:], v)
		return append(buf, b[:]...)
	}
}

func appendUint32(buf []byte, v uint32) []byte {
	var b [4]byte
	binary.LittleEndian.PutUint32(b[:], v)
	return append(buf, b[:]...)
}
