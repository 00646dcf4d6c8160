package vm

import (
	"encoding/binary"
	"fmt"
)

// Instr is a decoded instruction: opcode plus whichever operand field
// applies, shared verbatim between the dispatch loop and the disassembler
// (spec §9: "keep decoding separate from execution so the disassembler can
// share the decoder").
type Instr struct {
	Op        Opcode
	PC        uint32 // offset of the opcode byte
	Size      uint32 // total encoded size, opcode + operand
	Imm       uint64 // raw little-endian immediate bits (OperandImm)
	SlotIndex uint8  // locals slot index (OperandSlotIndex)
	Target    uint32 // absolute code or data offset (OperandCodeOffset/OperandDataOffset)
}

// Decode reads one instruction from code at pc. It does not itself raise a
// VM.Trap; vm.VM translates a decode error into the appropriate trap kind,
// and disasm ends its listing at one.
func Decode(code []byte, pc uint32) (Instr, error) {
	if pc >= uint32(len(code)) {
		return Instr{}, ErrPCOutOfBounds
	}

	op := Opcode(code[pc])
	info, ok := opTable[op]
	if !ok {
		return Instr{}, ErrBadOpcode
	}

	operandSize, err := OperandSize(op)
	if err != nil {
		return Instr{}, err
	}

	if uint64(pc)+1+uint64(operandSize) > uint64(len(code)) {
		return Instr{}, ErrPCOutOfBounds
	}

	instr := Instr{Op: op, PC: pc, Size: 1 + operandSize}
	operand := code[pc+1 : pc+1+operandSize]

	switch info.Operand {
	case OperandNone:
		// nothing to decode
	case OperandImm:
		instr.Imm = decodeImm(operand, info.Width)
	case OperandSlotIndex:
		instr.SlotIndex = operand[0]
	case OperandCodeOffset, OperandDataOffset:
		instr.Target = binary.LittleEndian.Uint32(operand)
	}

	return instr, nil
}

func decodeImm(b []byte, w Width) uint64 {
	switch w {
	case WidthByte:
		return uint64(b[0])
	case WidthWord:
		return uint64(binary.LittleEndian.Uint32(b))
	case WidthDword:
		return binary.LittleEndian.Uint64(b)
	default:
		return 0
	}
}

// String renders the instruction as its assembler mnemonic plus operand, for
// disassembly listings and trap diagnostics. Branch, call and dataptr
// targets are printed as raw numeric offsets, not label names.
func (in Instr) String() string {
	info, ok := opTable[in.Op]
	if !ok {
		return fmt.Sprintf("?0x%02x?", byte(in.Op))
	}

	switch info.Operand {
	case OperandNone:
		return info.Mnemonic
	case OperandImm:
		return fmt.Sprintf("%s %d", info.Mnemonic, in.Imm)
	case OperandSlotIndex:
		return fmt.Sprintf("%s %d", info.Mnemonic, in.SlotIndex)
	case OperandCodeOffset, OperandDataOffset:
		return fmt.Sprintf("%s %d", info.Mnemonic, in.Target)
	default:
		return info.Mnemonic
	}
}
