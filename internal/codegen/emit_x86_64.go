package codegen

import (
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/samber/lo"

	"sable/internal/ir"
)

// ---------------------------------------------------------------------------
// x86-64 NASM backend
// ---------------------------------------------------------------------------

// EmitX86_64 lowers a unit to x86-64 NASM source for the given target. The
// unit is expected to have passed validation; malformed input that slips
// through surfaces as an error naming the function and instruction.
func EmitX86_64(unit *ir.Unit, target *Target) (string, error) {
	e := &x64Emitter{unit: unit, target: target, b: &strings.Builder{}}
	if err := e.emit(); err != nil {
		return "", err
	}
	return e.b.String(), nil
}

type x64Emitter struct {
	unit   *ir.Unit
	target *Target
	b      *strings.Builder
}

func (e *x64Emitter) emit() error {
	e.b.WriteString("bits 64\ndefault rel\n\n")

	defined := make(map[string]bool)
	for _, fn := range e.unit.Functions {
		if fn.LinkName != "" {
			defined[fn.LinkName] = true
			fmt.Fprintf(e.b, "global %s\n", e.target.Sym(fn.LinkName))
		}
	}

	// Symbol constants not defined in this unit resolve at link time.
	var referenced []string
	for _, fn := range e.unit.Functions {
		for _, c := range fn.Consts {
			if c.Kind == ir.ConstSymbol && !defined[c.Str] {
				referenced = append(referenced, c.Str)
			}
		}
	}
	for _, sym := range lo.Uniq(referenced) {
		fmt.Fprintf(e.b, "extern %s\n", e.target.Sym(sym))
	}

	e.b.WriteString("\nsection .text\n")

	for i, fn := range e.unit.Functions {
		if fn.LinkName == "" {
			// Unnamed functions carry type definitions and constants only.
			continue
		}
		if err := e.emitFunction(i, fn); err != nil {
			return err
		}
	}

	e.emitRodata()
	return nil
}

func (e *x64Emitter) emitFunction(index int, fn *ir.Function) error {
	cc := fn.CallConv
	if cc == ir.CCDefault {
		cc = e.target.DefaultCC
	}

	layout, err := assignRegisters(e.unit, fn, cc)
	if err != nil {
		return fmt.Errorf("%s: %w", fnLabel(fn), err)
	}

	c := &fnContext{
		unit:      e.unit,
		fn:        fn,
		target:    e.target,
		b:         e.b,
		fnIndex:   index,
		cc:        cc,
		slots:     layout.slots,
		frameSize: layout.frameSize,
		occupied:  layout.occupied,
		clobbered: layout.clobbered,
	}

	fmt.Fprintf(e.b, "\n%s:\n", e.target.Sym(fn.LinkName))
	fmt.Fprintf(e.b, "push rbp\nmov rbp, rsp\nsub rsp, %d\n", layout.frameSize)
	for _, r := range layout.clobbered.Ascending() {
		fmt.Fprintf(e.b, "push %s\n", r.Name(Reg64))
	}

	for j := 0; j < len(fn.Instrs); j++ {
		skip, err := c.emitInstruction(j)
		if err != nil {
			return fmt.Errorf("%s: instruction %d (%s): %w", fnLabel(fn), j, fn.Instrs[j].Op, err)
		}
		j += skip
	}
	return nil
}

func fnLabel(fn *ir.Function) string {
	if fn.Name != "" {
		return fn.Name
	}
	return fn.LinkName
}

// ---------------------------------------------------------------------------
// Per-function lowering
// ---------------------------------------------------------------------------

// fnContext carries the state for lowering one function body: its storage
// assignment, resolved calling convention, and position in the unit (label
// and constant names embed the function index).
type fnContext struct {
	unit      *ir.Unit
	fn        *ir.Function
	target    *Target
	b         *strings.Builder
	fnIndex   int
	cc        ir.CallConv
	slots     []Slot
	frameSize uint32
	occupied  RegSet
	clobbered RegSet
}

func regSlot(r PhysReg, k RegKind) Slot {
	return Slot{Kind: k, Store: StorageRegister, Index: uint32(r)}
}

// renderSlot spells a placement as a NASM operand: a sized rbp-relative
// memory reference for stack storage, a register name otherwise.
func (c *fnContext) renderSlot(s Slot) string {
	switch s.Store {
	case StorageLocal:
		return fmt.Sprintf("%s [rbp-%d]", sizeWord(s.Kind), s.Index)
	case StorageParam:
		return fmt.Sprintf("%s [rbp+%d]", sizeWord(s.Kind), s.Index)
	default:
		return PhysReg(s.Index).Name(s.Kind)
	}
}

func (c *fnContext) renderOperand(o ir.Operand) string {
	if o.IsReg() {
		return c.renderSlot(c.slots[o.Index])
	}
	cst := c.fn.Consts[o.Index]
	switch cst.Kind {
	case ir.ConstString:
		return fmt.Sprintf("CONST_%d_%d", c.fnIndex, o.Index)
	case ir.ConstSymbol:
		return c.target.Sym(cst.Str)
	default:
		return strconv.FormatInt(cst.Int, 10)
	}
}

// render8 spells a register operand at byte width, as setcc demands.
func (c *fnContext) render8(o ir.Operand) string {
	s := c.slots[o.Index]
	s.Kind = Reg8
	return c.renderSlot(s)
}

func (c *fnContext) operandKind(o ir.Operand) RegKind {
	return KindOf(c.unit.PrimOf(c.fn.OperandType(o)))
}

func (c *fnContext) isStack(o ir.Operand) bool {
	if !o.IsReg() {
		return false
	}
	st := c.slots[o.Index].Store
	return st == StorageLocal || st == StorageParam
}

func (c *fnContext) inRegister(o ir.Operand) bool {
	return o.IsReg() && c.slots[o.Index].Store == StorageRegister
}

// isInReg reports whether o already lives in physical register r.
func (c *fnContext) isInReg(o ir.Operand, r PhysReg) bool {
	return c.inRegister(o) && PhysReg(c.slots[o.Index].Index) == r
}

// immOutOfRange reports whether o is an integer constant too wide for an
// imm32 field. x86-64 encodes a full 64-bit immediate only in a mov whose
// destination is a register.
func (c *fnContext) immOutOfRange(o ir.Operand) bool {
	if !o.IsConst() {
		return false
	}
	cst := c.fn.Consts[o.Index]
	return cst.Kind == ir.ConstInteger && (cst.Int < math.MinInt32 || cst.Int > math.MaxInt32)
}

// ---------------------------------------------------------------------------
// Moves and two-operand forms
// ---------------------------------------------------------------------------

// emitBinop writes "op dest, src". When both operands sit on the stack the
// source is ferried through rax at the destination's width, since x86 allows
// at most one memory operand per instruction.
func (c *fnContext) emitBinop(op string, dest, src ir.Operand) error {
	if c.immOutOfRange(src) && !(op == "mov" && c.inRegister(dest)) {
		return fmt.Errorf("64-bit immediate %s is only encodable as a mov into a register", c.renderOperand(src))
	}
	if c.isStack(dest) && c.isStack(src) {
		ferry := regSlot(RAX, c.slots[dest.Index].Kind)
		fmt.Fprintf(c.b, "mov %s, %s\n", c.renderSlot(ferry), c.renderOperand(src))
		fmt.Fprintf(c.b, "%s %s, %s\n", op, c.renderOperand(dest), c.renderSlot(ferry))
		return nil
	}
	fmt.Fprintf(c.b, "%s %s, %s\n", op, c.renderOperand(dest), c.renderOperand(src))
	return nil
}

// emitMove copies src into dest, eliding the self-move.
func (c *fnContext) emitMove(dest, src ir.Operand) error {
	if dest == src {
		return nil
	}
	return c.emitBinop("mov", dest, src)
}

// emitMoveToReg parks src in physical register r, rendered at src's width.
// A value already resident in r emits nothing.
func (c *fnContext) emitMoveToReg(r PhysReg, src ir.Operand) {
	if c.isInReg(src, r) {
		return
	}
	fmt.Fprintf(c.b, "mov %s, %s\n", c.renderSlot(regSlot(r, c.operandKind(src))), c.renderOperand(src))
}

// emitMoveFromReg copies physical register r into dest, rendered at dest's
// width. A destination already resident in r emits nothing.
func (c *fnContext) emitMoveFromReg(dest ir.Operand, r PhysReg) {
	if c.isInReg(dest, r) {
		return
	}
	fmt.Fprintf(c.b, "mov %s, %s\n", c.renderOperand(dest), c.renderSlot(regSlot(r, c.operandKind(dest))))
}

// ---------------------------------------------------------------------------
// Loads and stores
// ---------------------------------------------------------------------------

// emitLoad lowers dest = [ptr]. Stack-resident operands route through rax:
// the pointer at its own width, the loaded value at dest's width.
func (c *fnContext) emitLoad(dest, ptr ir.Operand) {
	ptrStack := c.isStack(ptr)
	destStack := c.isStack(dest)
	switch {
	case !ptrStack && !destStack:
		fmt.Fprintf(c.b, "mov %s, [%s]\n", c.renderOperand(dest), c.renderOperand(ptr))
	case ptrStack && destStack:
		pf := regSlot(RAX, c.operandKind(ptr))
		vf := regSlot(RAX, c.operandKind(dest))
		fmt.Fprintf(c.b, "mov %s, %s\n", c.renderSlot(pf), c.renderOperand(ptr))
		fmt.Fprintf(c.b, "mov %s, [%s]\n", c.renderSlot(vf), c.renderSlot(pf))
		fmt.Fprintf(c.b, "mov %s, %s\n", c.renderOperand(dest), c.renderSlot(vf))
	case ptrStack:
		pf := regSlot(RAX, c.operandKind(ptr))
		fmt.Fprintf(c.b, "mov %s, %s\n", c.renderSlot(pf), c.renderOperand(ptr))
		fmt.Fprintf(c.b, "mov %s, [%s]\n", c.renderOperand(dest), c.renderSlot(pf))
	default:
		vf := regSlot(RAX, c.operandKind(dest))
		fmt.Fprintf(c.b, "mov %s, [%s]\n", c.renderSlot(vf), c.renderOperand(ptr))
		fmt.Fprintf(c.b, "mov %s, %s\n", c.renderOperand(dest), c.renderSlot(vf))
	}
}

// emitStore lowers [ptr] = val. The memory reference is sized by the value
// being stored. A stack-resident pointer ferries through rax, a
// stack-resident value through rbx.
func (c *fnContext) emitStore(ptr, val ir.Operand) error {
	if c.immOutOfRange(val) {
		return fmt.Errorf("64-bit immediate %s is only encodable as a mov into a register", c.renderOperand(val))
	}
	size := sizeWord(c.operandKind(val))
	ptrStack := c.isStack(ptr)
	valStack := c.isStack(val)
	switch {
	case !ptrStack && !valStack:
		fmt.Fprintf(c.b, "mov %s [%s], %s\n", size, c.renderOperand(ptr), c.renderOperand(val))
	case ptrStack && valStack:
		pf := regSlot(RAX, c.operandKind(ptr))
		vf := regSlot(RBX, c.operandKind(val))
		fmt.Fprintf(c.b, "mov %s, %s\n", c.renderSlot(pf), c.renderOperand(ptr))
		fmt.Fprintf(c.b, "mov %s, %s\n", c.renderSlot(vf), c.renderOperand(val))
		fmt.Fprintf(c.b, "mov %s [%s], %s\n", size, c.renderSlot(pf), c.renderSlot(vf))
	case valStack:
		vf := regSlot(RAX, c.operandKind(val))
		fmt.Fprintf(c.b, "mov %s, %s\n", c.renderSlot(vf), c.renderOperand(val))
		fmt.Fprintf(c.b, "mov %s [%s], %s\n", size, c.renderOperand(ptr), c.renderSlot(vf))
	default:
		pf := regSlot(RAX, c.operandKind(ptr))
		fmt.Fprintf(c.b, "mov %s, %s\n", c.renderSlot(pf), c.renderOperand(ptr))
		fmt.Fprintf(c.b, "mov %s [%s], %s\n", size, c.renderSlot(pf), c.renderOperand(val))
	}
	return nil
}

// ---------------------------------------------------------------------------
// Arithmetic
// ---------------------------------------------------------------------------

// emitThreeOp lowers dest = lhs op rhs with the two-address idiom: copy lhs
// into dest, then apply op with rhs.
func (c *fnContext) emitThreeOp(op string, ins ir.Instruction) error {
	if err := c.emitMove(ins.Dst, ins.A); err != nil {
		return err
	}
	return c.emitBinop(op, ins.Dst, ins.B)
}

// emitMulOp lowers multiplication. imul rejects memory destinations, so a
// stack-resident dest computes in rax and spills after.
func (c *fnContext) emitMulOp(op string, ins ir.Instruction) error {
	if !c.isStack(ins.Dst) {
		return c.emitThreeOp(op, ins)
	}
	if c.immOutOfRange(ins.B) {
		return fmt.Errorf("64-bit immediate %s is only encodable as a mov into a register", c.renderOperand(ins.B))
	}
	c.emitMoveToReg(RAX, ins.A)
	acc := regSlot(RAX, c.slots[ins.Dst.Index].Kind)
	fmt.Fprintf(c.b, "%s %s, %s\n", op, c.renderSlot(acc), c.renderOperand(ins.B))
	c.emitMoveFromReg(ins.Dst, RAX)
	return nil
}

// ---------------------------------------------------------------------------
// Comparisons
// ---------------------------------------------------------------------------

type condMnemonics struct {
	jump    string // taken when the comparison holds
	jumpNot string // taken when it does not
	set     string
}

var condTable = map[ir.Opcode]condMnemonics{
	ir.OpEq:  {"je", "jne", "sete"},
	ir.OpNeq: {"jne", "je", "setne"},
	ir.OpLt:  {"jl", "jge", "setl"},
	ir.OpLte: {"jle", "jg", "setle"},
	ir.OpGt:  {"jg", "jle", "setg"},
	ir.OpGte: {"jge", "jl", "setge"},
}

// swappedCompare maps a comparison to the one that holds with its operands
// exchanged. cmp rejects an immediate first operand, so "const < x" lowers
// as "x > const".
var swappedCompare = map[ir.Opcode]ir.Opcode{
	ir.OpEq:  ir.OpEq,
	ir.OpNeq: ir.OpNeq,
	ir.OpLt:  ir.OpGt,
	ir.OpLte: ir.OpGte,
	ir.OpGt:  ir.OpLt,
	ir.OpGte: ir.OpLte,
}

// emitCompare lowers a comparison, fusing it with an immediately following
// branch on its result into a single conditional jump. Returns how many
// following instructions were consumed.
func (c *fnContext) emitCompare(index int) (int, error) {
	ins := c.fn.Instrs[index]
	op := ins.Op
	lhs, rhs := ins.A, ins.B
	if lhs.IsConst() {
		op = swappedCompare[op]
		lhs, rhs = rhs, lhs
	}
	cond := condTable[op]

	if err := c.emitBinop("cmp", lhs, rhs); err != nil {
		return 0, err
	}

	if index+1 < len(c.fn.Instrs) {
		next := c.fn.Instrs[index+1]
		if (next.Op == ir.OpBranch || next.Op == ir.OpBranchNot) && next.A == ins.Dst {
			mnemonic := cond.jump
			if next.Op == ir.OpBranchNot {
				mnemonic = cond.jumpNot
			}
			fmt.Fprintf(c.b, "%s label_%d_%d\n", mnemonic, c.fnIndex, next.Target)
			return 1, nil
		}
	}

	// Materialize the result: setcc writes one byte, so wider destinations
	// are zeroed first with a flag-preserving mov.
	if c.slots[ins.Dst.Index].Kind != Reg8 {
		fmt.Fprintf(c.b, "mov %s, 0\n", c.renderOperand(ins.Dst))
	}
	fmt.Fprintf(c.b, "%s %s\n", cond.set, c.render8(ins.Dst))
	return 0, nil
}

// ---------------------------------------------------------------------------
// Casts, branches, returns
// ---------------------------------------------------------------------------

// emitCast converts across register widths by moving through a register
// rendered at each side's width. Same-width casts degenerate to a move. A
// register-resident source reuses its own register as the intermediate.
func (c *fnContext) emitCast(ins ir.Instruction) error {
	if c.operandKind(ins.A) == c.operandKind(ins.Dst) {
		return c.emitMove(ins.Dst, ins.A)
	}
	scratch := RAX
	if c.inRegister(ins.A) {
		scratch = PhysReg(c.slots[ins.A.Index].Index)
	}
	c.emitMoveToReg(scratch, ins.A)
	c.emitMoveFromReg(ins.Dst, scratch)
	return nil
}

func (c *fnContext) emitBranch(ins ir.Instruction) {
	fmt.Fprintf(c.b, "cmp %s, 0\n", c.renderOperand(ins.A))
	mnemonic := "jnz"
	if ins.Op == ir.OpBranchNot {
		mnemonic = "jz"
	}
	fmt.Fprintf(c.b, "%s label_%d_%d\n", mnemonic, c.fnIndex, ins.Target)
}

func (c *fnContext) emitReturn(ins ir.Instruction) {
	if !ins.A.IsNone() {
		c.emitMoveToReg(RAX, ins.A)
	}
	for _, r := range c.clobbered.Descending() {
		fmt.Fprintf(c.b, "pop %s\n", r.Name(Reg64))
	}
	c.b.WriteString("leave\nret\n")
}

// ---------------------------------------------------------------------------
// Instruction dispatch
// ---------------------------------------------------------------------------

// emitInstruction lowers the instruction at index and returns how many
// following instructions were consumed by fusion.
func (c *fnContext) emitInstruction(index int) (int, error) {
	ins := c.fn.Instrs[index]
	switch ins.Op {
	case ir.OpBind:
		// Type declarations synthesize no code.
		return 0, nil
	case ir.OpAdd:
		return 0, c.emitThreeOp("add", ins)
	case ir.OpSub:
		return 0, c.emitThreeOp("sub", ins)
	case ir.OpMul:
		return 0, c.emitMulOp("imul", ins)
	case ir.OpDiv:
		return 0, c.emitThreeOp("idiv", ins)
	case ir.OpBand:
		return 0, c.emitThreeOp("and", ins)
	case ir.OpBor:
		return 0, c.emitThreeOp("or", ins)
	case ir.OpBxor:
		return 0, c.emitThreeOp("xor", ins)
	case ir.OpShl:
		return 0, c.emitThreeOp("shl", ins)
	case ir.OpShr:
		return 0, c.emitThreeOp("shr", ins)
	case ir.OpMove:
		return 0, c.emitMove(ins.Dst, ins.A)
	case ir.OpLoad:
		c.emitLoad(ins.Dst, ins.A)
		return 0, nil
	case ir.OpStore:
		return 0, c.emitStore(ins.A, ins.B)
	case ir.OpEq, ir.OpNeq, ir.OpLt, ir.OpLte, ir.OpGt, ir.OpGte:
		return c.emitCompare(index)
	case ir.OpBranch, ir.OpBranchNot:
		c.emitBranch(ins)
		return 0, nil
	case ir.OpJump:
		fmt.Fprintf(c.b, "jmp label_%d_%d\n", c.fnIndex, ins.Target)
		return 0, nil
	case ir.OpLabel:
		fmt.Fprintf(c.b, "label_%d_%d:\n", c.fnIndex, ins.Target)
		return 0, nil
	case ir.OpCast:
		return 0, c.emitCast(ins)
	case ir.OpCall, ir.OpSyscall:
		return 0, c.emitCallLike(ins)
	case ir.OpReturn:
		c.emitReturn(ins)
		return 0, nil
	default:
		fmt.Fprintf(c.b, "; nyi: %s\n", ins.Op)
		return 0, nil
	}
}

// ---------------------------------------------------------------------------
// Read-only data
// ---------------------------------------------------------------------------

// emitRodata writes the string constant pool. Every function contributes,
// link-named or not, since operands may reference strings from any of them.
func (e *x64Emitter) emitRodata() {
	e.b.WriteString("\nsection .rodata\n")
	for i, fn := range e.unit.Functions {
		for j, cst := range fn.Consts {
			if cst.Kind == ir.ConstString {
				fmt.Fprintf(e.b, "CONST_%d_%d: db %s, 0\n", i, j, nasmQuoteString(cst.Str))
			}
		}
	}
}

// nasmQuoteString renders a string as a NASM db operand list, splitting
// printable runs into quoted segments and everything else into numeric
// bytes.
func nasmQuoteString(s string) string {
	if len(s) == 0 {
		return `""`
	}

	var parts []string
	var current strings.Builder
	inString := false

	flush := func() {
		if inString && current.Len() > 0 {
			parts = append(parts, fmt.Sprintf(`"%s"`, current.String()))
			current.Reset()
			inString = false
		}
	}

	for i := 0; i < len(s); i++ {
		ch := s[i]
		if ch < 32 || ch > 126 || ch == '"' {
			flush()
			parts = append(parts, fmt.Sprintf("%d", ch))
		} else {
			if !inString {
				inString = true
			}
			current.WriteByte(ch)
		}
	}
	flush()

	return strings.Join(parts, ", ")
}
