package vm

import "encoding/binary"

// slotBytes is the fixed width of one locals/operand-stack slot.
const slotBytes = 4

// Frame is a per-call activation record: its own operand stack and locals,
// plus the code offset to resume the caller at (spec §3 "Frame").
type Frame struct {
	ReturnPC uint32
	Locals   []byte
	Operand  []byte
}

// NewFrame creates a frame whose locals are initialized from args (the
// caller's snapshotted operand stack, per spec §4.3 "call"): index 0 of
// locals is the first slot passed.
func NewFrame(returnPC uint32, args []byte) *Frame {
	locals := make([]byte, len(args))
	copy(locals, args)
	return &Frame{ReturnPC: returnPC, Locals: locals}
}

func (f *Frame) ensureLocals(byteLen uint32) {
	if uint32(len(f.Locals)) >= byteLen {
		return
	}
	grown := make([]byte, byteLen)
	copy(grown, f.Locals)
	f.Locals = grown
}

// LoadLocal reads a width-sized value starting at logical slot index idx.
// A dword store/load touches idx and idx+1, per spec §4.5. Reading past the
// current locals length yields zero (uninitialized locals read as zero).
func (f *Frame) LoadLocal(idx uint8, width Width) uint64 {
	byteOff := uint32(idx) * slotBytes
	size := uint32(width)
	f.ensureLocals(byteOff + width.Slots()*slotBytes)

	region := f.Locals[byteOff : byteOff+size]
	switch width {
	case WidthByte:
		return uint64(region[0])
	case WidthWord:
		return uint64(binary.LittleEndian.Uint32(region))
	case WidthDword:
		return binary.LittleEndian.Uint64(region)
	default:
		return 0
	}
}

// StoreLocal writes a width-sized value starting at logical slot index idx.
func (f *Frame) StoreLocal(idx uint8, width Width, value uint64) {
	byteOff := uint32(idx) * slotBytes
	size := uint32(width)
	f.ensureLocals(byteOff + width.Slots()*slotBytes)

	region := f.Locals[byteOff : byteOff+size]
	switch width {
	case WidthByte:
		region[0] = byte(value)
	case WidthWord:
		binary.LittleEndian.PutUint32(region, uint32(value))
	case WidthDword:
		binary.LittleEndian.PutUint64(region, value)
	}
}

// Push places a width-sized value on the operand stack. Values narrower
// than a slot are zero-extended into the low byte of their slot (spec §3
// "Slot").
func (f *Frame) Push(width Width, value uint64) {
	n := width.Slots() * slotBytes
	buf := make([]byte, n)
	switch width {
	case WidthByte:
		buf[0] = byte(value)
	case WidthWord:
		binary.LittleEndian.PutUint32(buf, uint32(value))
	case WidthDword:
		binary.LittleEndian.PutUint64(buf, value)
	}
	f.Operand = append(f.Operand, buf...)
}

// Pop removes and returns the top width-sized value. Trying to pop more
// than is present traps STACK_UNDERFLOW.
func (f *Frame) Pop(width Width) (uint64, error) {
	n := int(width.Slots() * slotBytes)
	if len(f.Operand) < n {
		return 0, ErrStackUnderflow
	}
	region := f.Operand[len(f.Operand)-n:]

	var value uint64
	switch width {
	case WidthByte:
		value = uint64(region[0])
	case WidthWord:
		value = uint64(binary.LittleEndian.Uint32(region))
	case WidthDword:
		value = binary.LittleEndian.Uint64(region)
	}

	f.Operand = f.Operand[:len(f.Operand)-n]
	return value, nil
}

// Dup duplicates the top width-sized value.
func (f *Frame) Dup(width Width) error {
	n := int(width.Slots() * slotBytes)
	if len(f.Operand) < n {
		return ErrStackUnderflow
	}
	top := make([]byte, n)
	copy(top, f.Operand[len(f.Operand)-n:])
	f.Operand = append(f.Operand, top...)
	return nil
}

// Drop discards the top width-sized value without returning it.
func (f *Frame) Drop(width Width) error {
	_, err := f.Pop(width)
	return err
}

// TakeArgs snapshots and clears the operand stack, for the call protocol
// (spec §4.3 step 1-2).
func (f *Frame) TakeArgs() []byte {
	args := f.Operand
	f.Operand = nil
	return args
}
