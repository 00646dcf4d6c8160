// Package disasm renders an image's code segment back to readable
// assembly, sharing the VM's decoder (spec.md §9: "keep decoding separate
// from execution so the disassembler can share the decoder") so the
// debugger's `dis` command and `cmd/assemble -dis` never drift from what
// the VM actually executes.
package disasm

import (
	"fmt"
	"strings"

	"stackvm/image"
	"stackvm/vm"
)

// Line is one disassembled instruction, with its resolved symbol name (if
// any branch/call/dataptr target lands on one) for a more readable listing.
type Line struct {
	Offset uint32
	Instr  vm.Instr
	Label  string // non-empty if a symbol is defined at Offset
	Target string // non-empty if the operand resolves to a symbol name
}

// Listing decodes img.Code starting at offset, for at most n instructions
// (n<=0 means until the end of code). A decode error truncates the listing
// rather than propagating, since disassembly is a best-effort view into
// possibly-malformed code.
func Listing(img *image.Image, offset uint32, n int) []Line {
	var lines []Line
	pc := offset
	for n <= 0 || len(lines) < n {
		if pc >= uint32(len(img.Code)) {
			break
		}
		instr, err := vm.Decode(img.Code, pc)
		if err != nil {
			break
		}

		line := Line{Offset: pc, Instr: instr}
		if sym, ok := img.SymbolAt(image.SectionCode, pc); ok {
			line.Label = sym.Name
		}
		if target, ok := targetOffset(instr); ok {
			section := image.SectionCode
			if instr.Op == vm.DataPtr {
				section = image.SectionData
			}
			if sym, ok := img.SymbolAt(section, target); ok {
				line.Target = sym.Name
			}
		}

		lines = append(lines, line)
		pc += instr.Size
	}
	return lines
}

func targetOffset(instr vm.Instr) (uint32, bool) {
	info, ok := vm.Info(instr.Op)
	if !ok {
		return 0, false
	}
	switch info.Operand {
	case vm.OperandCodeOffset, vm.OperandDataOffset:
		return instr.Target, true
	default:
		return 0, false
	}
}

// String renders one listing line as "<offset>: [<label>:] <mnemonic>
// <operand>[ ; <target-symbol>]".
func (l Line) String() string {
	var b strings.Builder
	fmt.Fprintf(&b, "%6d: ", l.Offset)
	if l.Label != "" {
		fmt.Fprintf(&b, "%s: ", l.Label)
	}
	b.WriteString(l.Instr.String())
	if l.Target != "" {
		fmt.Fprintf(&b, "  ; %s", l.Target)
	}
	return b.String()
}

// Format renders a full listing, one line per instruction.
func Format(lines []Line) string {
	var b strings.Builder
	for _, l := range lines {
		b.WriteString(l.String())
		b.WriteByte('\n')
	}
	return b.String()
}
