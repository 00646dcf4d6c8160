// Package debugger is a line-based REPL driving a vm.VM through a
// pre-instruction hook, the way the teacher's RunProgramDebugMode reads a
// command and calls back into single-step execution, generalized from
// line-number breakpoints to code-offset/label breakpoints (spec.md §4.6,
// §6 "Debugger command grammar").
package debugger

import (
	"bufio"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/sirupsen/logrus"

	"stackvm/disasm"
	"stackvm/image"
	"stackvm/vm"
)

const defaultDisasmCount = 16

// Debugger owns a VM instance and a breakpoint set keyed by code offset.
type Debugger struct {
	VM          *vm.VM
	Image       *image.Image
	Breakpoints map[uint32]bool

	out io.Writer
	log *logrus.Logger
}

// New creates a debugger REPL over an already-loaded VM.
func New(v *vm.VM, img *image.Image, out io.Writer, log *logrus.Logger) *Debugger {
	if log == nil {
		log = logrus.New()
	}
	return &Debugger{VM: v, Image: img, Breakpoints: make(map[uint32]bool), out: out, log: log}
}

// Run reads commands from in until `q`, EOF, or the program has exited.
func (d *Debugger) Run(in io.Reader) error {
	scanner := bufio.NewScanner(in)
	for {
		if d.VM.Exited {
			fmt.Fprintf(d.out, "program exited with code %d\n", d.VM.ExitCode)
			return nil
		}
		fmt.Fprint(d.out, "(dbg) ")
		if !scanner.Scan() {
			return scanner.Err()
		}
		line := strings.TrimSpace(scanner.Text())
		quit, err := d.dispatch(line)
		if err != nil {
			fmt.Fprintf(d.out, "%v\n", err)
		}
		if quit {
			return nil
		}
	}
}

func (d *Debugger) dispatch(line string) (quit bool, err error) {
	fields := strings.Fields(line)
	cmd := "s"
	var args []string
	if len(fields) > 0 {
		cmd = fields[0]
		args = fields[1:]
	}

	switch cmd {
	case "s":
		return false, d.step()
	case "c":
		return false, d.cont()
	case "b":
		return false, d.setBreakpoint(args, true)
	case "db":
		return false, d.setBreakpoint(args, false)
	case "dis":
		return false, d.disassemble(args)
	case "v":
		return false, d.printLocal(args)
	case "bt":
		return false, d.backtrace()
	case "q":
		return true, nil
	default:
		fmt.Fprintln(d.out, "usage: s | c | b LBL|OFF | db LBL|OFF | dis [N] | v IDX[.W] | bt | q")
		return false, nil
	}
}

func (d *Debugger) step() error {
	done, err := d.VM.Step()
	if err != nil {
		return err
	}
	if done {
		fmt.Fprintf(d.out, "program exited with code %d\n", d.VM.ExitCode)
		return nil
	}
	d.printCurrentLine()
	return nil
}

// cont steps past the current instruction (so re-stopping at a breakpoint
// we're already paused on doesn't happen immediately), then runs with a
// hook that halts at the next instruction matching a breakpoint.
func (d *Debugger) cont() error {
	done, err := d.VM.Step()
	if err != nil {
		return err
	}
	if done {
		fmt.Fprintf(d.out, "program exited with code %d\n", d.VM.ExitCode)
		return nil
	}

	d.VM.Hook = breakpointHook{d.Breakpoints}
	err = d.VM.Run()
	d.VM.Hook = nil
	if err != nil {
		return err
	}
	if d.VM.Exited {
		fmt.Fprintf(d.out, "program exited with code %d\n", d.VM.ExitCode)
		return nil
	}
	fmt.Fprintf(d.out, "breakpoint at %d\n", d.VM.PC)
	d.printCurrentLine()
	return nil
}

type breakpointHook struct {
	breakpoints map[uint32]bool
}

func (h breakpointHook) Before(v *vm.VM) bool {
	return h.breakpoints[v.PC]
}

func (d *Debugger) printCurrentLine() {
	lines := disasm.Listing(d.Image, d.VM.PC, 1)
	if len(lines) == 1 {
		fmt.Fprintln(d.out, lines[0].String())
	}
}

func (d *Debugger) resolveOffset(arg string) (uint32, error) {
	if sym, ok := d.Image.SymbolByName(arg); ok {
		return sym.Offset, nil
	}
	v, err := strconv.ParseUint(arg, 10, 32)
	if err != nil {
		return 0, fmt.Errorf("not a label or numeric offset: %q", arg)
	}
	return uint32(v), nil
}

func (d *Debugger) setBreakpoint(args []string, set bool) error {
	if len(args) != 1 {
		return fmt.Errorf("usage: b LBL|OFF")
	}
	offset, err := d.resolveOffset(args[0])
	if err != nil {
		return err
	}
	if set {
		d.Breakpoints[offset] = true
		d.log.WithField("offset", offset).Debug("breakpoint set")
	} else {
		delete(d.Breakpoints, offset)
		d.log.WithField("offset", offset).Debug("breakpoint cleared")
	}
	return nil
}

func (d *Debugger) disassemble(args []string) error {
	n := defaultDisasmCount
	if len(args) == 1 {
		v, err := strconv.Atoi(args[0])
		if err != nil {
			return fmt.Errorf("usage: dis [N]")
		}
		n = v
	}
	for _, line := range disasm.Listing(d.Image, d.VM.PC, n) {
		fmt.Fprintln(d.out, line.String())
	}
	return nil
}

func (d *Debugger) printLocal(args []string) error {
	if len(args) != 1 {
		return fmt.Errorf("usage: v IDX[.W]")
	}
	idxText, widthText, _ := strings.Cut(args[0], ".")
	idx, err := strconv.ParseUint(idxText, 10, 8)
	if err != nil {
		return fmt.Errorf("bad slot index %q", idxText)
	}
	width := vm.WidthWord
	if widthText != "" {
		w, ok := widthFromSuffix(widthText)
		if !ok {
			return fmt.Errorf("bad width %q", widthText)
		}
		width = w
	}

	value := d.VM.CurrentFrame().LoadLocal(uint8(idx), width)
	fmt.Fprintf(d.out, "locals[%d].%s = %d\n", idx, width, value)
	return nil
}

func widthFromSuffix(s string) (vm.Width, bool) {
	switch s {
	case "b":
		return vm.WidthByte, true
	case "w":
		return vm.WidthWord, true
	case "d":
		return vm.WidthDword, true
	default:
		return 0, false
	}
}

func (d *Debugger) backtrace() error {
	for i, returnPC := range d.VM.Backtrace() {
		sym, ok := d.Image.SymbolAt(image.SectionCode, returnPC)
		switch {
		case i == 0:
			fmt.Fprintf(d.out, "#%d main\n", i)
		case ok:
			fmt.Fprintf(d.out, "#%d return_pc=%d (%s)\n", i, returnPC, sym.Name)
		default:
			fmt.Fprintf(d.out, "#%d return_pc=%d\n", i, returnPC)
		}
	}
	return nil
}
