package vm

import (
	"encoding/binary"
	"io"
	"os"

	"stackvm/image"
)

// StepHook lets a driver (the debugger) observe execution one instruction at
// a time without the dispatch loop knowing anything about breakpoints or
// single-stepping. A nil Hook costs nothing (spec §9: "use a pre-instruction
// hook interface rather than embedding debug logic in the dispatch loop").
type StepHook interface {
	// Before is called immediately before the instruction at vm.PC executes.
	// Returning true asks Run to stop and return control to the caller
	// without raising an error.
	Before(v *VM) bool
}

// VM executes an assembled image: one call stack of frames sharing a single
// heap (spec §3 "VM state").
type VM struct {
	Image *image.Image
	Heap  *Heap
	Frames []*Frame
	PC     uint32

	Hook StepHook

	Exited   bool
	ExitCode uint32

	Stdin  io.Reader
	Stdout io.Writer
	Stderr io.Writer
}

// New creates a VM ready to run img starting at its entry offset, with an
// empty main frame and the process's standard streams wired for syscalls.
func New(img *image.Image) *VM {
	return &VM{
		Image:  img,
		Heap:   NewHeap(img.Data),
		Frames: []*Frame{NewFrame(0, nil)},
		PC:     img.EntryOffset,
		Stdin:  os.Stdin,
		Stdout: os.Stdout,
		Stderr: os.Stderr,
	}
}

func (v *VM) currentFrame() *Frame {
	return v.Frames[len(v.Frames)-1]
}

// CurrentFrame exposes the top of the call stack, for the debugger's `v`
// (inspect local) command.
func (v *VM) CurrentFrame() *Frame {
	return v.currentFrame()
}

// Run steps the VM until it exits normally, traps, or the hook asks it to
// pause. A nil return with v.Exited false means the hook paused execution.
func (v *VM) Run() error {
	for {
		if v.Hook != nil && v.Hook.Before(v) {
			return nil
		}
		done, err := v.Step()
		if err != nil {
			return err
		}
		if done {
			return nil
		}
	}
}

// Step executes exactly one instruction and reports whether the program has
// now terminated.
func (v *VM) Step() (bool, error) {
	pc := v.PC
	instr, err := Decode(v.Image.Code, pc)
	if err != nil {
		return false, newTrap(kindForDecodeErr(err), pc, "")
	}

	v.PC = pc + instr.Size
	done, err := v.execute(instr)
	if err != nil {
		return false, newTrap(kindForExecErr(err), pc, instr.String())
	}
	return done, nil
}

func kindForDecodeErr(err error) TrapKind {
	if err == ErrBadOpcode {
		return TrapBadOpcode
	}
	return TrapPCOutOfBounds
}

func kindForExecErr(err error) TrapKind {
	switch err {
	case ErrStackUnderflow:
		return TrapStackUnderflow
	case ErrHeapOutOfBounds:
		return TrapHeapOutOfBounds
	case ErrBadFree:
		return TrapBadFree
	case ErrReadOnlyWrite:
		return TrapReadOnlyWrite
	case ErrDivideByZero:
		return TrapDivideByZero
	case ErrBadOpcode:
		return TrapBadOpcode
	default:
		return TrapPCOutOfBounds
	}
}

func widthOf(op Opcode) Width {
	info := opTable[op]
	return info.Width
}

// execute runs the effect of a single decoded instruction against the
// current frame, reporting whether the program terminated.
func (v *VM) execute(in Instr) (bool, error) {
	frame := v.currentFrame()

	switch in.Op {
	case PushB, PushW, PushD:
		frame.Push(widthOf(in.Op), in.Imm)
		return false, nil

	case DataPtr:
		frame.Push(WidthDword, DataPointer(in.Target))
		return false, nil

	case LoadB, LoadW, LoadD:
		w := widthOf(in.Op)
		frame.Push(w, frame.LoadLocal(in.SlotIndex, w))
		return false, nil

	case StoreB, StoreW, StoreD:
		w := widthOf(in.Op)
		val, err := frame.Pop(w)
		if err != nil {
			return false, err
		}
		frame.StoreLocal(in.SlotIndex, w, val)
		return false, nil

	case DupB, DupW, DupD:
		return false, frame.Dup(widthOf(in.Op))

	case PopB, PopW, PopD:
		return false, frame.Drop(widthOf(in.Op))

	case AddB, AddW, AddD:
		return false, v.binaryOp(frame, widthOf(in.Op), func(x, y uint64) (uint64, error) { return x + y, nil })
	case SubB, SubW, SubD:
		return false, v.binaryOp(frame, widthOf(in.Op), func(x, y uint64) (uint64, error) { return x - y, nil })
	case MulB, MulW, MulD:
		return false, v.binaryOp(frame, widthOf(in.Op), func(x, y uint64) (uint64, error) { return x * y, nil })
	case DivB, DivW, DivD:
		w := widthOf(in.Op)
		return false, v.binaryOp(frame, w, func(x, y uint64) (uint64, error) { return signedDiv(x, y, w) })

	case CmpB, CmpW, CmpD:
		return false, v.compare(frame, widthOf(in.Op))

	case Jmp:
		v.PC = in.Target
		return false, nil
	case JmpEq, JmpNe, JmpLt, JmpGt, JmpLe, JmpGe:
		return false, v.condJump(frame, in)

	case Call:
		args := frame.TakeArgs()
		v.Frames = append(v.Frames, NewFrame(v.PC, args))
		v.PC = in.Target
		return false, nil

	case Ret, RetB, RetW, RetD:
		return v.doReturn(frame, widthOf(in.Op))

	case ALoadB, ALoadW, ALoadD:
		return false, v.aload(frame, widthOf(in.Op))
	case AStoreB, AStoreW, AStoreD:
		return false, v.astore(frame, widthOf(in.Op))

	case Alloc:
		size, err := frame.Pop(WidthDword)
		if err != nil {
			return false, err
		}
		frame.Push(WidthDword, v.Heap.Alloc(uint32(size)))
		return false, nil

	case Free:
		ptr, err := frame.Pop(WidthDword)
		if err != nil {
			return false, err
		}
		return false, v.Heap.Free(ptr)

	case System:
		return false, v.syscall(frame)

	default:
		return false, ErrBadOpcode
	}
}

func (v *VM) binaryOp(frame *Frame, w Width, op func(x, y uint64) (uint64, error)) error {
	y, err := frame.Pop(w)
	if err != nil {
		return err
	}
	x, err := frame.Pop(w)
	if err != nil {
		return err
	}
	result, err := op(x, y)
	if err != nil {
		return err
	}
	frame.Push(w, mask(result, w))
	return nil
}

func mask(v uint64, w Width) uint64 {
	switch w {
	case WidthByte:
		return v & 0xFF
	case WidthWord:
		return v & 0xFFFFFFFF
	default:
		return v
	}
}

func signExtend(v uint64, w Width) int64 {
	switch w {
	case WidthByte:
		return int64(int8(v))
	case WidthWord:
		return int64(int32(v))
	default:
		return int64(v)
	}
}

func signedDiv(x, y uint64, w Width) (uint64, error) {
	a, b := signExtend(x, w), signExtend(y, w)
	if b == 0 {
		return 0, ErrDivideByZero
	}
	return uint64(a / b), nil
}

// compare pops (a, b) with b on top, pushes sign(a-b) as a word, per the
// signed two's complement ordering spec §4.3 mandates for comparisons.
func (v *VM) compare(frame *Frame, w Width) error {
	y, err := frame.Pop(w)
	if err != nil {
		return err
	}
	x, err := frame.Pop(w)
	if err != nil {
		return err
	}

	a, b := signExtend(x, w), signExtend(y, w)
	var result int32
	switch {
	case a < b:
		result = -1
	case a > b:
		result = 1
	}
	frame.Push(WidthWord, uint64(uint32(result)))
	return nil
}

func (v *VM) condJump(frame *Frame, in Instr) error {
	raw, err := frame.Pop(WidthWord)
	if err != nil {
		return err
	}
	result := int32(uint32(raw))

	var take bool
	switch in.Op {
	case JmpEq:
		take = result == 0
	case JmpNe:
		take = result != 0
	case JmpLt:
		take = result < 0
	case JmpGt:
		take = result > 0
	case JmpLe:
		take = result <= 0
	case JmpGe:
		take = result >= 0
	}
	if take {
		v.PC = in.Target
	}
	return nil
}

// doReturn pops width.Slots() slots as the return value, tears down the
// current frame, and either hands the value to the caller's operand stack or
// (if this was the outermost frame) terminates the program (spec §4.3
// "ret", §6 "exit value").
func (v *VM) doReturn(frame *Frame, w Width) (bool, error) {
	n := int(w.Slots() * slotBytes)
	if len(frame.Operand) < n {
		return false, ErrStackUnderflow
	}
	rv := make([]byte, n)
	copy(rv, frame.Operand[len(frame.Operand)-n:])

	returnPC := frame.ReturnPC
	v.Frames = v.Frames[:len(v.Frames)-1]

	if len(v.Frames) == 0 {
		v.Exited = true
		if len(rv) >= 4 {
			v.ExitCode = binary.LittleEndian.Uint32(rv[:4])
		}
		return true, nil
	}

	caller := v.currentFrame()
	caller.Operand = append(caller.Operand, rv...)
	v.PC = returnPC
	return false, nil
}

// aload pops (ptr, offset) top-to-bottom and pushes the loaded value (spec
// §4.3 "Heap ptr read").
func (v *VM) aload(frame *Frame, w Width) error {
	ptr, err := frame.Pop(WidthDword)
	if err != nil {
		return err
	}
	offset, err := frame.Pop(WidthDword)
	if err != nil {
		return err
	}
	value, err := v.Heap.Load(ptr, uint32(offset), w)
	if err != nil {
		return err
	}
	frame.Push(w, value)
	return nil
}

// astore pops (ptr, offset, value) top-to-bottom and writes value through the
// heap (spec §4.3 "Heap ptr write").
func (v *VM) astore(frame *Frame, w Width) error {
	ptr, err := frame.Pop(WidthDword)
	if err != nil {
		return err
	}
	offset, err := frame.Pop(WidthDword)
	if err != nil {
		return err
	}
	value, err := frame.Pop(w)
	if err != nil {
		return err
	}
	return v.Heap.Store(ptr, uint32(offset), w, value)
}

// Backtrace returns the return-pc of every frame on the call stack, the top
// frame included, outermost first, for the debugger's `bt` command.
func (v *VM) Backtrace() []uint32 {
	pcs := make([]uint32, 0, len(v.Frames))
	for _, f := range v.Frames {
		pcs = append(pcs, f.ReturnPC)
	}
	return pcs
}
