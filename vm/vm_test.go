package vm

import (
	"bytes"
	"encoding/binary"
	"strings"
	"testing"

	"stackvm/image"
)

func assert(t *testing.T, cond bool, format string, args ...any) {
	t.Helper()
	if !cond {
		t.Fatalf(format, args...)
	}
}

// --- tiny program builder, mirroring how the real two-pass assembler will
// lay out code: append in order, patch branch targets once known. ---

type prog struct {
	buf []byte
}

func (p *prog) op(o Opcode) {
	p.buf = append(p.buf, byte(o))
}

func (p *prog) immW(o Opcode, v uint32) {
	p.buf = append(p.buf, byte(o))
	var b [4]byte
	binary.LittleEndian.PutUint32(b[:], v)
	p.buf = append(p.buf, b[:]...)
}

func (p *prog) immD(o Opcode, v uint64) {
	p.buf = append(p.buf, byte(o))
	var b [8]byte
	binary.LittleEndian.PutUint64(b[:], v)
	p.buf = append(p.buf, b[:]...)
}

func (p *prog) immB(o Opcode, v byte) {
	p.buf = append(p.buf, byte(o), v)
}

func (p *prog) slot(o Opcode, idx byte) {
	p.buf = append(p.buf, byte(o), idx)
}

// target emits o with a placeholder 4-byte operand and returns the patch
// position for a later call to patch.
func (p *prog) target(o Opcode) int {
	p.buf = append(p.buf, byte(o), 0, 0, 0, 0)
	return len(p.buf) - 4
}

func (p *prog) here() uint32 { return uint32(len(p.buf)) }

func (p *prog) patch(pos int, target uint32) {
	binary.LittleEndian.PutUint32(p.buf[pos:], target)
}

func newVM(code, data []byte, entry uint32) *VM {
	img := &image.Image{EntryOffset: entry, Code: code, Data: data}
	return New(img)
}

func TestArithmeticExit(t *testing.T) {
	var p prog
	p.immW(PushW, 2)
	p.immW(PushW, 3)
	p.op(AddW)
	p.op(RetW)

	v := newVM(p.buf, nil, 0)
	err := v.Run()
	assert(t, err == nil, "unexpected error: %v", err)
	assert(t, v.Exited, "expected program to exit")
	assert(t, v.ExitCode == 5, "exit code = %d, want 5", v.ExitCode)
}

func TestCallReturnDoublesArgument(t *testing.T) {
	var p prog
	p.immW(PushW, 21)
	callPos := p.target(Call)
	p.op(RetW)

	doubleEntry := p.here()
	p.slot(LoadW, 0)
	p.immW(PushW, 2)
	p.op(MulW)
	p.op(RetW)
	p.patch(callPos, doubleEntry)

	v := newVM(p.buf, nil, 0)
	err := v.Run()
	assert(t, err == nil, "unexpected error: %v", err)
	assert(t, v.Exited, "expected program to exit")
	assert(t, v.ExitCode == 42, "exit code = %d, want 42", v.ExitCode)
}

func TestFibonacciIterative(t *testing.T) {
	var p prog
	// slot0=a, slot1=b, slot2=counter, slot3=tmp
	p.immW(PushW, 0)
	p.slot(StoreW, 0)
	p.immW(PushW, 1)
	p.slot(StoreW, 1)
	p.immW(PushW, 8)
	p.slot(StoreW, 2)

	loopStart := p.here()
	p.slot(LoadW, 2)
	p.immW(PushW, 0)
	p.op(CmpW)
	endPatch := p.target(JmpLe)

	p.slot(LoadW, 0)
	p.slot(LoadW, 1)
	p.op(AddW)
	p.slot(StoreW, 3)
	p.slot(LoadW, 1)
	p.slot(StoreW, 0)
	p.slot(LoadW, 3)
	p.slot(StoreW, 1)
	p.slot(LoadW, 2)
	p.immW(PushW, 1)
	p.op(SubW)
	p.slot(StoreW, 2)
	backPatch := p.target(Jmp)
	p.patch(backPatch, loopStart)

	end := p.here()
	p.patch(endPatch, end)
	p.slot(LoadW, 0)
	p.op(RetW)

	v := newVM(p.buf, nil, 0)
	err := v.Run()
	assert(t, err == nil, "unexpected error: %v", err)
	assert(t, v.Exited, "expected program to exit")
	assert(t, v.ExitCode == 21, "exit code = %d, want 21", v.ExitCode)
}

func TestAllocAndWriteByteToStdout(t *testing.T) {
	var p prog
	p.immD(PushD, 1)
	p.op(Alloc)
	p.slot(StoreD, 0) // slot0 = ptr

	// astore.b: push value, push offset, push ptr
	p.immB(PushB, 'A')
	p.immD(PushD, 0)
	p.slot(LoadD, 0)
	p.op(AStoreB)

	// system WRITE(fd=1, buf=ptr, len=1)
	p.immD(PushD, 1) // len
	p.slot(LoadD, 0) // ptr
	p.immW(PushW, 1) // fd
	p.immW(PushW, SyscallWrite)
	p.op(System)
	p.op(PopW) // discard syscall result
	p.op(Ret)

	var out bytes.Buffer
	v := newVM(p.buf, nil, 0)
	v.Stdout = &out

	err := v.Run()
	assert(t, err == nil, "unexpected error: %v", err)
	assert(t, v.Exited, "expected program to exit")
	assert(t, out.String() == "A", "stdout = %q, want %q", out.String(), "A")
}

func TestDataPtrStringWrite(t *testing.T) {
	data := []byte("Hello, World!\n")

	var p prog
	p.immD(PushD, uint64(len(data))) // len
	dpPos := p.target(DataPtr)       // buf
	p.patch(dpPos, 0)
	p.immW(PushW, 1) // fd
	p.immW(PushW, SyscallWrite)
	p.op(System)
	p.op(PopW)
	p.op(Ret)

	var out bytes.Buffer
	v := newVM(p.buf, data, 0)
	v.Stdout = &out

	err := v.Run()
	assert(t, err == nil, "unexpected error: %v", err)
	assert(t, strings.HasSuffix(out.String(), "Hello, World!\n"), "stdout = %q", out.String())
}

func TestAllocZeroReturnsNullPointer(t *testing.T) {
	var p prog
	p.immD(PushD, 0)
	p.op(Alloc)
	p.immD(PushD, uint64(NullPtr))
	p.op(CmpD)
	p.op(RetW)

	v := newVM(p.buf, nil, 0)
	err := v.Run()
	assert(t, err == nil, "unexpected error: %v", err)
	assert(t, v.ExitCode == 0, "exit code = %d, want 0 (alloc(0) == NullPtr)", v.ExitCode)
}

func TestFreeInvalidPointerTrapsBadFree(t *testing.T) {
	var p prog
	p.immD(PushD, uint64(NullPtr))
	p.op(Free)
	p.op(RetW)

	v := newVM(p.buf, nil, 0)
	err := v.Run()
	assert(t, err != nil, "expected a trap")
	trap, ok := err.(*Trap)
	assert(t, ok, "expected *Trap, got %T", err)
	assert(t, trap.Kind == TrapBadFree, "trap kind = %v, want BAD_FREE", trap.Kind)
}

func TestHeapOutOfBoundsAtOffsetEqualsSize(t *testing.T) {
	var p prog
	p.immD(PushD, 4) // size
	p.op(Alloc)
	p.slot(StoreD, 0)

	p.immB(PushB, 1)
	p.immD(PushD, 4) // offset == size: out of bounds
	p.slot(LoadD, 0)
	p.op(AStoreB)
	p.op(RetW)

	v := newVM(p.buf, nil, 0)
	err := v.Run()
	assert(t, err != nil, "expected a trap")
	trap, ok := err.(*Trap)
	assert(t, ok, "expected *Trap, got %T", err)
	assert(t, trap.Kind == TrapHeapOutOfBounds, "trap kind = %v, want HEAP_OOB", trap.Kind)
}

func TestStackUnderflowOnRetFromEmptyMain(t *testing.T) {
	var p prog
	p.op(RetW)

	v := newVM(p.buf, nil, 0)
	err := v.Run()
	assert(t, err != nil, "expected a trap")
	trap, ok := err.(*Trap)
	assert(t, ok, "expected *Trap, got %T", err)
	assert(t, trap.Kind == TrapStackUnderflow, "trap kind = %v, want STACK_UNDERFLOW", trap.Kind)
}

func TestDivideByZeroTraps(t *testing.T) {
	var p prog
	p.immW(PushW, 10)
	p.immW(PushW, 0)
	p.op(DivW)
	p.op(RetW)

	v := newVM(p.buf, nil, 0)
	err := v.Run()
	assert(t, err != nil, "expected a trap")
	trap, ok := err.(*Trap)
	assert(t, ok, "expected *Trap, got %T", err)
	assert(t, trap.Kind == TrapDivideByZero, "trap kind = %v, want DIV_ZERO", trap.Kind)
}
