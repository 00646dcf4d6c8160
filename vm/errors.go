package vm

import "github.com/pkg/errors"

// TrapKind identifies the fatal VM-detected condition that halted execution
// (spec §7).
type TrapKind int

const (
	TrapNone TrapKind = iota
	TrapPCOutOfBounds
	TrapStackUnderflow
	TrapBadOpcode
	TrapHeapOutOfBounds
	TrapBadFree
	TrapReadOnlyWrite
	TrapDivideByZero
)

func (k TrapKind) String() string {
	switch k {
	case TrapPCOutOfBounds:
		return "PC_OOB"
	case TrapStackUnderflow:
		return "STACK_UNDERFLOW"
	case TrapBadOpcode:
		return "BAD_OPCODE"
	case TrapHeapOutOfBounds:
		return "HEAP_OOB"
	case TrapBadFree:
		return "BAD_FREE"
	case TrapReadOnlyWrite:
		return "RO_WRITE"
	case TrapDivideByZero:
		return "DIV_ZERO"
	default:
		return "NONE"
	}
}

// sentinel errors identifying trap kinds, wrapped with pc/instruction
// context via pkg/errors as they propagate out of the dispatch loop.
var (
	ErrPCOutOfBounds   = errors.New(TrapPCOutOfBounds.String())
	ErrStackUnderflow  = errors.New(TrapStackUnderflow.String())
	ErrBadOpcode       = errors.New(TrapBadOpcode.String())
	ErrHeapOutOfBounds = errors.New(TrapHeapOutOfBounds.String())
	ErrBadFree         = errors.New(TrapBadFree.String())
	ErrReadOnlyWrite   = errors.New(TrapReadOnlyWrite.String())
	ErrDivideByZero    = errors.New(TrapDivideByZero.String())
)

// Trap is a fatal VM error: a trap kind plus the pc and decoded instruction
// (when available) that triggered it, per spec §7 ("Diagnostics include ...
// pc plus decoded instruction for VM traps").
type Trap struct {
	Kind  TrapKind
	PC    uint32
	Instr string
	cause error
}

func (t *Trap) Error() string {
	if t.Instr != "" {
		return errorf("%s at pc=%d (%s)", t.Kind, t.PC, t.Instr).Error()
	}
	return errorf("%s at pc=%d", t.Kind, t.PC).Error()
}

func (t *Trap) Unwrap() error {
	if t.cause != nil {
		return t.cause
	}
	return sentinelFor(t.Kind)
}

func errorf(format string, args ...any) error {
	return errors.Errorf(format, args...)
}

func sentinelFor(kind TrapKind) error {
	switch kind {
	case TrapPCOutOfBounds:
		return ErrPCOutOfBounds
	case TrapStackUnderflow:
		return ErrStackUnderflow
	case TrapBadOpcode:
		return ErrBadOpcode
	case TrapHeapOutOfBounds:
		return ErrHeapOutOfBounds
	case TrapBadFree:
		return ErrBadFree
	case TrapReadOnlyWrite:
		return ErrReadOnlyWrite
	case TrapDivideByZero:
		return ErrDivideByZero
	default:
		return nil
	}
}

func newTrap(kind TrapKind, pc uint32, instr string) *Trap {
	return &Trap{Kind: kind, PC: pc, Instr: instr, cause: sentinelFor(kind)}
}
