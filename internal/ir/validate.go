package ir

import (
	"fmt"

	"go.uber.org/multierr"
)

// ---------------------------------------------------------------------------
// Diagnostic severity
// ---------------------------------------------------------------------------

// Severity indicates whether a diagnostic is an error or a warning.
type Severity int

const (
	SeverityError Severity = iota
	SeverityWarning
)

func (s Severity) String() string {
	switch s {
	case SeverityError:
		return "error"
	case SeverityWarning:
		return "warning"
	default:
		return "unknown"
	}
}

// ---------------------------------------------------------------------------
// Diagnostic
// ---------------------------------------------------------------------------

// Diagnostic is a single message produced by unit validation. Instr is the
// index of the offending instruction, or -1 for function-level messages.
type Diagnostic struct {
	Fn       string
	Instr    int
	Message  string
	Severity Severity
}

func (d Diagnostic) Error() string {
	if d.Instr < 0 {
		return fmt.Sprintf("fn %s: %s: %s", d.Fn, d.Severity, d.Message)
	}
	return fmt.Sprintf("fn %s: instr %d: %s: %s", d.Fn, d.Instr, d.Severity, d.Message)
}

// HasErrors returns true if any diagnostic in the slice is an error.
func HasErrors(diags []Diagnostic) bool {
	for _, d := range diags {
		if d.Severity == SeverityError {
			return true
		}
	}
	return false
}

// ---------------------------------------------------------------------------
// Validation
// ---------------------------------------------------------------------------

// Validate checks a unit for the structural properties the code generator
// assumes: operand indices in range, valid type indices, defined branch
// targets, no duplicate labels, non-constant branch conditions, and sane
// parameter counts. It returns every diagnostic found plus the error-severity
// ones folded into a single error (nil when the unit is lowerable).
func Validate(u *Unit) ([]Diagnostic, error) {
	v := &validator{unit: u}
	for _, fn := range u.Functions {
		v.checkFunction(fn)
	}

	var err error
	for _, d := range v.diags {
		if d.Severity == SeverityError {
			err = multierr.Append(err, d)
		}
	}
	return v.diags, err
}

type validator struct {
	unit  *Unit
	fn    *Function
	diags []Diagnostic
}

func (v *validator) errorf(instr int, format string, args ...interface{}) {
	v.diags = append(v.diags, Diagnostic{
		Fn:       v.fnName(),
		Instr:    instr,
		Message:  fmt.Sprintf(format, args...),
		Severity: SeverityError,
	})
}

func (v *validator) warnf(instr int, format string, args ...interface{}) {
	v.diags = append(v.diags, Diagnostic{
		Fn:       v.fnName(),
		Instr:    instr,
		Message:  fmt.Sprintf(format, args...),
		Severity: SeverityWarning,
	})
}

func (v *validator) fnName() string {
	if v.fn.Name != "" {
		return v.fn.Name
	}
	return "_"
}

func (v *validator) checkFunction(fn *Function) {
	v.fn = fn

	if fn.Params > fn.NumRegs() {
		v.errorf(-1, "declares %d parameters but only %d registers", fn.Params, fn.NumRegs())
	}
	for i, t := range fn.RegTypes {
		if int(t) >= len(v.unit.TypeDefs) {
			v.errorf(-1, "register %%%d has invalid type index %d", i, t)
		}
	}
	for i, c := range fn.Consts {
		if int(c.Type) >= len(v.unit.TypeDefs) {
			v.errorf(-1, "constant $%d has invalid type index %d", i, c.Type)
		}
	}

	labels := make(map[uint32]bool)
	for i, ins := range fn.Instrs {
		if ins.Op == OpLabel {
			if labels[ins.Target] {
				v.errorf(i, "duplicate label @%d", ins.Target)
			}
			labels[ins.Target] = true
		}
	}

	hasReturn := false
	for i, ins := range fn.Instrs {
		v.checkOperands(i, ins)

		switch ins.Op {
		case OpBranch, OpBranchNot:
			if ins.A.IsConst() {
				v.errorf(i, "branch condition cannot be a constant")
			}
			if !labels[ins.Target] {
				v.errorf(i, "branch to undefined label @%d", ins.Target)
			}
		case OpJump:
			if !labels[ins.Target] {
				v.errorf(i, "jump to undefined label @%d", ins.Target)
			}
		case OpCall:
			if ins.A.IsConst() && int(ins.A.Index) < len(fn.Consts) {
				if fn.Consts[ins.A.Index].Kind != ConstSymbol {
					v.errorf(i, "call target $%d must be a symbol or register", ins.A.Index)
				}
			}
		case OpSyscall:
			if ins.A.IsConst() && int(ins.A.Index) < len(fn.Consts) {
				if fn.Consts[ins.A.Index].Kind != ConstInteger {
					v.errorf(i, "syscall number $%d must be an integer or register", ins.A.Index)
				}
			}
		case OpReturn:
			hasReturn = true
		}
	}

	if len(fn.Instrs) > 0 && !hasReturn {
		v.warnf(-1, "function has no return instruction")
	}
	if fn.LinkName == "" && len(fn.Instrs) > 0 {
		v.warnf(-1, "unnamed function emits no code")
	}
}

// checkOperands validates every operand field an opcode actually uses.
func (v *validator) checkOperands(i int, ins Instruction) {
	switch ins.Op {
	case OpBind:
		v.checkOperand(i, ins.Dst)
		if int(ins.Type) >= len(v.unit.TypeDefs) {
			v.errorf(i, "bind has invalid type index %d", ins.Type)
		}
	case OpAdd, OpSub, OpMul, OpDiv, OpBand, OpBor, OpBxor, OpShl, OpShr,
		OpEq, OpNeq, OpLt, OpLte, OpGt, OpGte:
		v.checkOperand(i, ins.Dst)
		v.checkOperand(i, ins.A)
		v.checkOperand(i, ins.B)
	case OpMove, OpLoad, OpCast:
		v.checkOperand(i, ins.Dst)
		v.checkOperand(i, ins.A)
	case OpStore:
		v.checkOperand(i, ins.A)
		v.checkOperand(i, ins.B)
	case OpBranch, OpBranchNot:
		v.checkOperand(i, ins.A)
	case OpCall, OpSyscall:
		if !ins.Dst.IsNone() {
			v.checkOperand(i, ins.Dst)
		}
		v.checkOperand(i, ins.A)
		for _, a := range ins.Args {
			v.checkOperand(i, a)
		}
	case OpReturn:
		if !ins.A.IsNone() {
			v.checkOperand(i, ins.A)
		}
	}
}

func (v *validator) checkOperand(i int, o Operand) {
	switch o.Kind {
	case OperandRegister:
		if o.Index >= v.fn.NumRegs() {
			v.errorf(i, "register %%%d out of range (%d registers)", o.Index, v.fn.NumRegs())
		}
	case OperandConstant:
		if int(o.Index) >= len(v.fn.Consts) {
			v.errorf(i, "constant $%d out of range (%d constants)", o.Index, len(v.fn.Consts))
		}
	}
}
