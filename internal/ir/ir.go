// Package ir defines the typed, register-based intermediate representation
// the backend consumes: instructions over virtual registers and constants,
// grouped into functions, grouped into a linkage unit. The IR is produced by
// an external front-end (or the textual reader in internal/irtext) and is
// read-only to the code generator.
package ir

import "fmt"

// ---------------------------------------------------------------------------
// Operands
// ---------------------------------------------------------------------------

// OperandKind tags an Operand as a virtual register, a constant-table
// reference, or absent.
type OperandKind uint8

const (
	OperandNone OperandKind = iota
	OperandRegister
	OperandConstant
)

// Operand is an explicit tagged reference to either a virtual register or an
// entry in the owning function's constant table.
type Operand struct {
	Kind  OperandKind `json:"kind"`
	Index uint32      `json:"index"`
}

// Reg returns an operand referencing virtual register i.
func Reg(i uint32) Operand {
	return Operand{Kind: OperandRegister, Index: i}
}

// Const returns an operand referencing constant-table entry i.
func Const(i uint32) Operand {
	return Operand{Kind: OperandConstant, Index: i}
}

// None returns the absent operand.
func None() Operand {
	return Operand{Kind: OperandNone}
}

// IsReg reports whether the operand is a virtual register.
func (o Operand) IsReg() bool { return o.Kind == OperandRegister }

// IsConst reports whether the operand is a constant reference.
func (o Operand) IsConst() bool { return o.Kind == OperandConstant }

// IsNone reports whether the operand is absent.
func (o Operand) IsNone() bool { return o.Kind == OperandNone }

func (o Operand) String() string {
	switch o.Kind {
	case OperandRegister:
		return fmt.Sprintf("%%%d", o.Index)
	case OperandConstant:
		return fmt.Sprintf("$%d", o.Index)
	default:
		return "_"
	}
}

// ---------------------------------------------------------------------------
// Opcodes
// ---------------------------------------------------------------------------

// Opcode identifies the operation an Instruction performs.
type Opcode uint8

const (
	// OpBind declares a register's type. It synthesizes no code.
	OpBind Opcode = iota

	// Three-operand arithmetic and bitwise ops: Dst = A op B.
	OpAdd
	OpSub
	OpMul
	OpDiv
	OpBand
	OpBor
	OpBxor
	OpShl
	OpShr

	// OpMove copies A into Dst.
	OpMove
	// OpLoad reads through the pointer in A into Dst.
	OpLoad
	// OpStore writes B through the pointer in A.
	OpStore

	// Comparisons: Dst = A cmp B, producing a boolean.
	OpEq
	OpNeq
	OpLt
	OpLte
	OpGt
	OpGte

	// Control flow. Branch ops jump to the label whose id is Target when the
	// condition in A is non-zero (OpBranch) or zero (OpBranchNot).
	OpBranch
	OpBranchNot
	OpJump
	OpLabel

	// OpCast converts A into Dst across primitive widths.
	OpCast

	// OpCall calls A with Args; OpSyscall raises a system call numbered by A.
	OpCall
	OpSyscall

	// OpReturn returns A (when present) to the caller.
	OpReturn
)

var opcodeNames = map[Opcode]string{
	OpBind:      "bind",
	OpAdd:       "add",
	OpSub:       "sub",
	OpMul:       "mul",
	OpDiv:       "div",
	OpBand:      "band",
	OpBor:       "bor",
	OpBxor:      "bxor",
	OpShl:       "shl",
	OpShr:       "shr",
	OpMove:      "mov",
	OpLoad:      "load",
	OpStore:     "store",
	OpEq:        "eq",
	OpNeq:       "neq",
	OpLt:        "lt",
	OpLte:       "lte",
	OpGt:        "gt",
	OpGte:       "gte",
	OpBranch:    "branch",
	OpBranchNot: "branchnot",
	OpJump:      "jump",
	OpLabel:     "label",
	OpCast:      "cast",
	OpCall:      "call",
	OpSyscall:   "syscall",
	OpReturn:    "ret",
}

func (op Opcode) String() string {
	if name, ok := opcodeNames[op]; ok {
		return name
	}
	return fmt.Sprintf("opcode(%d)", uint8(op))
}

// MarshalText renders the opcode mnemonic for JSON dumps.
func (op Opcode) MarshalText() ([]byte, error) {
	return []byte(op.String()), nil
}

// ---------------------------------------------------------------------------
// Calling conventions
// ---------------------------------------------------------------------------

// CallConv selects the ABI a function (or an individual call site) uses.
// CCDefault defers to the target platform's convention.
type CallConv uint8

const (
	CCDefault CallConv = iota
	CCSysV
	CCWin64
)

func (cc CallConv) String() string {
	switch cc {
	case CCSysV:
		return "sysv"
	case CCWin64:
		return "win64"
	default:
		return "default"
	}
}

// MarshalText renders the convention name for JSON dumps.
func (cc CallConv) MarshalText() ([]byte, error) {
	return []byte(cc.String()), nil
}

// CallConvFromName maps a convention name to its CallConv. The second result
// reports whether the name is recognized.
func CallConvFromName(name string) (CallConv, bool) {
	switch name {
	case "sysv":
		return CCSysV, true
	case "win64":
		return CCWin64, true
	case "default":
		return CCDefault, true
	}
	return CCDefault, false
}

// ---------------------------------------------------------------------------
// Instructions
// ---------------------------------------------------------------------------

// Instruction is one opcode-tagged IR operation. Field use per opcode:
//
//	bind                Dst = register, Type = type-table index
//	add … shr, eq … gte Dst = result, A = lhs, B = rhs
//	mov, cast           Dst = destination, A = source
//	load                Dst = destination, A = pointer
//	store               A = pointer, B = value
//	branch, branchnot   A = condition, Target = label id
//	jump, label         Target = label id
//	call                Dst = result (optional), A = callee, Args, CC
//	syscall             Dst = result (optional), A = number, Args, CC
//	ret                 A = value (optional)
type Instruction struct {
	Op     Opcode    `json:"op"`
	Dst    Operand   `json:"dst,omitempty"`
	A      Operand   `json:"a,omitempty"`
	B      Operand   `json:"b,omitempty"`
	Target uint32    `json:"target,omitempty"`
	Args   []Operand `json:"args,omitempty"`
	CC     CallConv  `json:"cc,omitempty"`
	Type   uint32    `json:"type,omitempty"`
}

// ---------------------------------------------------------------------------
// Constants
// ---------------------------------------------------------------------------

// ConstantKind tags a constant-table entry as an integer literal, a string
// destined for the read-only data section, or a reference to an external
// symbol (a call target or global defined outside the unit).
type ConstantKind uint8

const (
	ConstInteger ConstantKind = iota
	ConstString
	ConstSymbol
)

func (k ConstantKind) String() string {
	switch k {
	case ConstString:
		return "string"
	case ConstSymbol:
		return "symbol"
	default:
		return "integer"
	}
}

// MarshalText renders the constant kind for JSON dumps.
func (k ConstantKind) MarshalText() ([]byte, error) {
	return []byte(k.String()), nil
}

// Constant is one entry in a function's constant table. Int holds the value
// for ConstInteger; Str holds the bytes for ConstString and the symbol name
// for ConstSymbol.
type Constant struct {
	Type uint32       `json:"type"`
	Kind ConstantKind `json:"kind"`
	Int  int64        `json:"int,omitempty"`
	Str  string       `json:"str,omitempty"`
}

func (c Constant) String() string {
	switch c.Kind {
	case ConstString:
		return fmt.Sprintf("%q", c.Str)
	case ConstSymbol:
		return c.Str
	default:
		return fmt.Sprintf("%d", c.Int)
	}
}
