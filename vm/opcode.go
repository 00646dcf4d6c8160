package vm

import "fmt"

// Width is the static operand width carried by a stack/locals/heap opcode
// variant, per spec: b=1 byte, w=4 bytes (default), d=8 bytes.
type Width uint8

const (
	WidthNone  Width = 0
	WidthByte  Width = 1
	WidthWord  Width = 4
	WidthDword Width = 8
)

func (w Width) String() string {
	switch w {
	case WidthByte:
		return "b"
	case WidthWord:
		return "w"
	case WidthDword:
		return "d"
	default:
		return "?"
	}
}

// Slots reports how many 4-byte operand-stack/locals slots a value of this
// width occupies: ceil(width/4). A byte value still reserves a full slot
// (zero-extended into its low byte); a dword spans two contiguous slots.
func (w Width) Slots() uint32 {
	switch w {
	case WidthNone:
		return 0
	case WidthDword:
		return 2
	default:
		return 1
	}
}

// Opcode is the one-byte instruction tag. 0 is deliberately unassigned so
// that a zero-initialized or stray code byte traps BAD_OPCODE rather than
// silently behaving like some instruction.
type Opcode byte

const (
	opInvalid Opcode = 0

	PushB Opcode = iota
	PushW
	PushD

	DataPtr

	LoadB
	LoadW
	LoadD
	StoreB
	StoreW
	StoreD

	DupB
	DupW
	DupD
	PopB
	PopW
	PopD

	AddB
	AddW
	AddD
	SubB
	SubW
	SubD
	MulB
	MulW
	MulD
	DivB
	DivW
	DivD

	CmpB
	CmpW
	CmpD

	Jmp
	JmpEq
	JmpNe
	JmpLt
	JmpGt
	JmpLe
	JmpGe

	Call
	Ret
	RetB
	RetW
	RetD

	ALoadB
	ALoadW
	ALoadD
	AStoreB
	AStoreW
	AStoreD

	Alloc
	Free

	System
)

// OperandKind classifies how an opcode's inline operand (if any) is encoded
// by the assembler and decoded by the VM/disassembler.
type OperandKind int

const (
	OperandNone OperandKind = iota
	OperandImm              // width-sized immediate (uint32(Width) bytes)
	OperandSlotIndex        // 1-byte locals slot index
	OperandCodeOffset       // 4-byte absolute code offset (branch/call target)
	OperandDataOffset       // 4-byte data segment offset (dataptr target)
)

// OpInfo is the shared metadata both the assembler's encoder and the VM's
// decoder key off of, so the two always agree (spec §4.5).
type OpInfo struct {
	Mnemonic string
	Width    Width
	Operand  OperandKind
}

var opTable = map[Opcode]OpInfo{
	PushB: {"push.b", WidthByte, OperandImm},
	PushW: {"push.w", WidthWord, OperandImm},
	PushD: {"push.d", WidthDword, OperandImm},

	DataPtr: {"dataptr", WidthNone, OperandDataOffset},

	LoadB:  {"load.b", WidthByte, OperandSlotIndex},
	LoadW:  {"load.w", WidthWord, OperandSlotIndex},
	LoadD:  {"load.d", WidthDword, OperandSlotIndex},
	StoreB: {"store.b", WidthByte, OperandSlotIndex},
	StoreW: {"store.w", WidthWord, OperandSlotIndex},
	StoreD: {"store.d", WidthDword, OperandSlotIndex},

	DupB: {"dup.b", WidthByte, OperandNone},
	DupW: {"dup.w", WidthWord, OperandNone},
	DupD: {"dup.d", WidthDword, OperandNone},
	PopB: {"pop.b", WidthByte, OperandNone},
	PopW: {"pop.w", WidthWord, OperandNone},
	PopD: {"pop.d", WidthDword, OperandNone},

	AddB: {"add.b", WidthByte, OperandNone},
	AddW: {"add.w", WidthWord, OperandNone},
	AddD: {"add.d", WidthDword, OperandNone},
	SubB: {"sub.b", WidthByte, OperandNone},
	SubW: {"sub.w", WidthWord, OperandNone},
	SubD: {"sub.d", WidthDword, OperandNone},
	MulB: {"mul.b", WidthByte, OperandNone},
	MulW: {"mul.w", WidthWord, OperandNone},
	MulD: {"mul.d", WidthDword, OperandNone},
	DivB: {"div.b", WidthByte, OperandNone},
	DivW: {"div.w", WidthWord, OperandNone},
	DivD: {"div.d", WidthDword, OperandNone},

	CmpB: {"cmp.b", WidthByte, OperandNone},
	CmpW: {"cmp.w", WidthWord, OperandNone},
	CmpD: {"cmp.d", WidthDword, OperandNone},

	Jmp:   {"jmp", WidthNone, OperandCodeOffset},
	JmpEq: {"jmp.eq", WidthNone, OperandCodeOffset},
	JmpNe: {"jmp.ne", WidthNone, OperandCodeOffset},
	JmpLt: {"jmp.lt", WidthNone, OperandCodeOffset},
	JmpGt: {"jmp.gt", WidthNone, OperandCodeOffset},
	JmpLe: {"jmp.le", WidthNone, OperandCodeOffset},
	JmpGe: {"jmp.ge", WidthNone, OperandCodeOffset},

	Call: {"call", WidthNone, OperandCodeOffset},
	Ret:  {"ret", WidthNone, OperandNone},
	RetB: {"ret.b", WidthByte, OperandNone},
	RetW: {"ret.w", WidthWord, OperandNone},
	RetD: {"ret.d", WidthDword, OperandNone},

	ALoadB:  {"aload.b", WidthByte, OperandNone},
	ALoadW:  {"aload.w", WidthWord, OperandNone},
	ALoadD:  {"aload.d", WidthDword, OperandNone},
	AStoreB: {"astore.b", WidthByte, OperandNone},
	AStoreW: {"astore.w", WidthWord, OperandNone},
	AStoreD: {"astore.d", WidthDword, OperandNone},

	Alloc: {"alloc", WidthNone, OperandNone},
	Free:  {"free", WidthNone, OperandNone},

	System: {"system", WidthNone, OperandNone},
}

// mnemonicTable maps assembler source spellings (including the default-width
// bare forms from spec §4.5) to opcodes.
var mnemonicTable map[string]Opcode

func init() {
	mnemonicTable = make(map[string]Opcode, len(opTable)*2)
	for op, info := range opTable {
		mnemonicTable[info.Mnemonic] = op
	}

	// Bare mnemonic = .w variant, except `ret`, which is its own distinct
	// zero-value-return opcode (spec §4.3: "0 for plain ret").
	bareDefaults := map[string]Opcode{
		"push":   PushW,
		"load":   LoadW,
		"store":  StoreW,
		"dup":    DupW,
		"pop":    PopW,
		"add":    AddW,
		"sub":    SubW,
		"mul":    MulW,
		"div":    DivW,
		"cmp":    CmpW,
		"aload":  ALoadW,
		"astore": AStoreW,
	}
	for name, op := range bareDefaults {
		mnemonicTable[name] = op
	}
}

// Lookup resolves an assembler mnemonic (e.g. "push.b", "jmp.lt", "ret") to
// its opcode.
func Lookup(mnemonic string) (Opcode, bool) {
	op, ok := mnemonicTable[mnemonic]
	return op, ok
}

// Info returns the shared metadata for an opcode.
func Info(op Opcode) (OpInfo, bool) {
	info, ok := opTable[op]
	return info, ok
}

func (op Opcode) String() string {
	if info, ok := opTable[op]; ok {
		return info.Mnemonic
	}
	return fmt.Sprintf("?0x%02x?", byte(op))
}

// OperandSize returns the number of bytes following the opcode byte for the
// given opcode, used by both the assembler's pass-1 layout and the decoder.
func OperandSize(op Opcode) (uint32, error) {
	info, ok := opTable[op]
	if !ok {
		return 0, ErrBadOpcode
	}

	switch info.Operand {
	case OperandNone:
		return 0, nil
	case OperandImm:
		return uint32(info.Width), nil
	case OperandSlotIndex:
		return 1, nil
	case OperandCodeOffset, OperandDataOffset:
		return 4, nil
	default:
		return 0, ErrBadOpcode
	}
}

// InstrSize returns the total encoded size (opcode byte + operand bytes).
func InstrSize(op Opcode) (uint32, error) {
	opSize, err := OperandSize(op)
	if err != nil {
		return 0, err
	}
	return 1 + opSize, nil
}
