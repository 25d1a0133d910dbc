package codegen

import (
	"fmt"

	"sable/internal/ir"
)

// ---------------------------------------------------------------------------
// Call lowering
// ---------------------------------------------------------------------------

// emitCallLike lowers OpCall and OpSyscall under the call site's convention,
// falling back to the surrounding function's when unspecified.
func (c *fnContext) emitCallLike(ins ir.Instruction) error {
	cc := ins.CC
	if cc == ir.CCDefault {
		cc = c.cc
	}
	switch cc {
	case ir.CCSysV:
		return c.emitSysVCall(ins)
	case ir.CCWin64:
		return c.emitWin64Call(ins)
	default:
		return fmt.Errorf("cannot lower call for calling convention %s", cc)
	}
}

func (c *fnContext) emitPush(r PhysReg) {
	fmt.Fprintf(c.b, "push %s\n", r.Name(Reg64))
}

func (c *fnContext) emitPop(r PhysReg) {
	fmt.Fprintf(c.b, "pop %s\n", r.Name(Reg64))
}

// pushCallSaves saves the caller-owned registers a call may clobber and
// marshals arguments into the convention's registers. An argument register
// is saved when it carries an argument or holds a live value; r10 and r11
// are saved only when live. The returned flags drive popCallSaves.
func (c *fnContext) pushCallSaves(argRegs []PhysReg, args []ir.Operand) []bool {
	save := make([]bool, len(argRegs)+2)
	for i, r := range argRegs {
		save[i] = len(args) > i || c.occupied.Has(r)
	}
	save[len(argRegs)] = c.occupied.Has(R10)
	save[len(argRegs)+1] = c.occupied.Has(R11)

	for i, r := range argRegs {
		if !save[i] {
			continue
		}
		c.emitPush(r)
		if i < len(args) {
			c.emitMoveToReg(r, args[i])
		}
	}
	if save[len(argRegs)] {
		c.emitPush(R10)
	}
	if save[len(argRegs)+1] {
		c.emitPush(R11)
	}
	return save
}

// popCallSaves restores what pushCallSaves pushed, in exact reverse order.
func (c *fnContext) popCallSaves(argRegs []PhysReg, save []bool) {
	if save[len(argRegs)+1] {
		c.emitPop(R11)
	}
	if save[len(argRegs)] {
		c.emitPop(R10)
	}
	for i := len(argRegs) - 1; i >= 0; i-- {
		if save[i] {
			c.emitPop(argRegs[i])
		}
	}
}

// emitSysVCall lowers a call under the SysV AMD64 convention: the first six
// integer arguments travel in registers. Calls needing stack arguments are
// rejected outright rather than silently miscompiled.
func (c *fnContext) emitSysVCall(ins ir.Instruction) error {
	if len(ins.Args) > len(sysvArgRegs) {
		return fmt.Errorf("sysv call with %d arguments: stack arguments are not implemented", len(ins.Args))
	}

	save := c.pushCallSaves(sysvArgRegs, ins.Args)

	if ins.Op == ir.OpSyscall {
		c.emitMoveToReg(RAX, ins.A)
		c.b.WriteString("syscall\n")
	} else {
		// Varargs callees read the vector-register argument count from al.
		c.b.WriteString("mov rax, 0\n")
		fmt.Fprintf(c.b, "call %s\n", c.renderOperand(ins.A))
	}

	c.popCallSaves(sysvArgRegs, save)
	if !ins.Dst.IsNone() {
		c.emitMoveFromReg(ins.Dst, RAX)
	}
	return nil
}

// emitWin64Call lowers a call under the Windows x64 convention: four
// register arguments, the rest pushed on the stack and released with a
// single rsp adjustment after the call returns.
func (c *fnContext) emitWin64Call(ins ir.Instruction) error {
	save := c.pushCallSaves(win64ArgRegs, ins.Args)

	for i := len(win64ArgRegs); i < len(ins.Args); i++ {
		if c.immOutOfRange(ins.Args[i]) {
			return fmt.Errorf("64-bit immediate %s is only encodable as a mov into a register", c.renderOperand(ins.Args[i]))
		}
		fmt.Fprintf(c.b, "push %s\n", c.renderOperand(ins.Args[i]))
	}

	if ins.Op == ir.OpSyscall {
		c.emitMoveToReg(RAX, ins.A)
		c.b.WriteString("syscall\n")
	} else {
		fmt.Fprintf(c.b, "call %s\n", c.renderOperand(ins.A))
	}

	if len(ins.Args) > len(win64ArgRegs) {
		fmt.Fprintf(c.b, "add rsp, %d\n", 8*(len(ins.Args)-len(win64ArgRegs)))
	}

	c.popCallSaves(win64ArgRegs, save)
	if !ins.Dst.IsNone() {
		c.emitMoveFromReg(ins.Dst, RAX)
	}
	return nil
}
