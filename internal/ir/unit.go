package ir

import (
	"fmt"
	"strings"

	"go.uber.org/multierr"
)

// ---------------------------------------------------------------------------
// Function
// ---------------------------------------------------------------------------

// Function is one IR function (or unnamed section) within a unit. Virtual
// registers are dense: register i has type table index RegTypes[i], and the
// first Params registers are the function's parameters in order.
type Function struct {
	Name     string        `json:"name"`
	LinkName string        `json:"link,omitempty"`
	CallConv CallConv      `json:"cc"`
	Params   uint32        `json:"params"`
	RegTypes []uint32      `json:"regTypes"`
	Instrs   []Instruction `json:"instrs"`
	Consts   []Constant    `json:"consts,omitempty"`
}

// NumRegs returns the virtual-register count.
func (f *Function) NumRegs() uint32 {
	return uint32(len(f.RegTypes))
}

// OperandType returns the type-table index of an operand: the register's
// bound type, or the constant entry's declared type.
func (f *Function) OperandType(o Operand) uint32 {
	if o.IsConst() {
		return f.Consts[o.Index].Type
	}
	return f.RegTypes[o.Index]
}

// ---------------------------------------------------------------------------
// Unit
// ---------------------------------------------------------------------------

// Unit is a linkage unit: an ordered list of functions sharing one type
// table. It is the whole input to a single lowering pass.
type Unit struct {
	TypeDefs  []TypeDef   `json:"types"`
	Functions []*Function `json:"functions"`
}

// InternType returns the index of the type-table entry matching def, adding
// it when absent. The table is small; a linear scan keeps insertion order
// deterministic.
func (u *Unit) InternType(def TypeDef) uint32 {
	for i, existing := range u.TypeDefs {
		if existing == def {
			return uint32(i)
		}
	}
	u.TypeDefs = append(u.TypeDefs, def)
	return uint32(len(u.TypeDefs) - 1)
}

// PrimOf returns the primitive behind a type-table index.
func (u *Unit) PrimOf(typeIndex uint32) PrimitiveType {
	return u.TypeDefs[typeIndex].Prim
}

// LayoutFor returns the layout of a type-table entry.
func (u *Unit) LayoutFor(typeIndex uint32) TypeLayout {
	return LayoutOf(u.TypeDefs[typeIndex].Prim)
}

// ---------------------------------------------------------------------------
// Linking
// ---------------------------------------------------------------------------

// Merge links several units into one. Type tables are deduplicated and every
// type index in the merged functions is rewritten accordingly. A link name
// defined by more than one function is an error; all such collisions are
// reported together.
func Merge(units ...*Unit) (*Unit, error) {
	merged := &Unit{}
	seen := make(map[string]bool)
	var err error

	for _, unit := range units {
		remap := make([]uint32, len(unit.TypeDefs))
		for i, def := range unit.TypeDefs {
			remap[i] = merged.InternType(def)
		}

		for _, fn := range unit.Functions {
			if fn.LinkName != "" {
				if seen[fn.LinkName] {
					err = multierr.Append(err, fmt.Errorf("duplicate link name %q", fn.LinkName))
					continue
				}
				seen[fn.LinkName] = true
			}
			merged.Functions = append(merged.Functions, remapFunction(fn, remap))
		}
	}

	if err != nil {
		return nil, err
	}
	return merged, nil
}

// remapFunction deep-copies fn with every type-table index rewritten through
// remap. The copy keeps merged units independent of their inputs.
func remapFunction(fn *Function, remap []uint32) *Function {
	out := &Function{
		Name:     fn.Name,
		LinkName: fn.LinkName,
		CallConv: fn.CallConv,
		Params:   fn.Params,
		RegTypes: make([]uint32, len(fn.RegTypes)),
		Instrs:   make([]Instruction, len(fn.Instrs)),
		Consts:   make([]Constant, len(fn.Consts)),
	}
	for i, t := range fn.RegTypes {
		out.RegTypes[i] = remap[t]
	}
	for i, c := range fn.Consts {
		c.Type = remap[c.Type]
		out.Consts[i] = c
	}
	for i, ins := range fn.Instrs {
		if ins.Op == OpBind {
			ins.Type = remap[ins.Type]
		}
		if len(ins.Args) > 0 {
			ins.Args = append([]Operand(nil), ins.Args...)
		}
		out.Instrs[i] = ins
	}
	return out
}

// ---------------------------------------------------------------------------
// Debug dump
// ---------------------------------------------------------------------------

// DebugDump renders the unit in a readable single-string form, one line per
// instruction. Intended for inspection and test failure output, not for
// re-parsing.
func (u *Unit) DebugDump() string {
	var b strings.Builder

	fmt.Fprintf(&b, "unit: %d types, %d functions\n", len(u.TypeDefs), len(u.Functions))
	for i, def := range u.TypeDefs {
		fmt.Fprintf(&b, "type[%d] %s = %s\n", i, def.Name, def.Prim)
	}

	for fi, fn := range u.Functions {
		name := fn.Name
		if name == "" {
			name = "_"
		}
		fmt.Fprintf(&b, "\nfn[%d] %s (link=%s, cc=%s, params=%d, regs=%d)\n",
			fi, name, fn.LinkName, fn.CallConv, fn.Params, fn.NumRegs())
		for ci, c := range fn.Consts {
			fmt.Fprintf(&b, "  const $%d %s %s\n", ci, u.TypeDefs[c.Type].Name, c)
		}
		for ii, ins := range fn.Instrs {
			fmt.Fprintf(&b, "  %3d: %s\n", ii, u.formatInstruction(ins))
		}
	}

	return b.String()
}

func (u *Unit) formatInstruction(ins Instruction) string {
	switch ins.Op {
	case OpBind:
		return fmt.Sprintf("bind %s %s", ins.Dst, u.TypeDefs[ins.Type].Name)
	case OpAdd, OpSub, OpMul, OpDiv, OpBand, OpBor, OpBxor, OpShl, OpShr,
		OpEq, OpNeq, OpLt, OpLte, OpGt, OpGte:
		return fmt.Sprintf("%s %s %s %s", ins.Op, ins.Dst, ins.A, ins.B)
	case OpMove, OpLoad, OpCast:
		return fmt.Sprintf("%s %s %s", ins.Op, ins.Dst, ins.A)
	case OpStore:
		return fmt.Sprintf("store %s %s", ins.A, ins.B)
	case OpBranch, OpBranchNot:
		return fmt.Sprintf("%s %s @%d", ins.Op, ins.A, ins.Target)
	case OpJump:
		return fmt.Sprintf("jump @%d", ins.Target)
	case OpLabel:
		return fmt.Sprintf("label @%d", ins.Target)
	case OpCall, OpSyscall:
		parts := []string{ins.Op.String()}
		if ins.CC != CCDefault {
			parts[0] += ":" + ins.CC.String()
		}
		parts = append(parts, ins.Dst.String(), ins.A.String())
		for _, a := range ins.Args {
			parts = append(parts, a.String())
		}
		return strings.Join(parts, " ")
	case OpReturn:
		if ins.A.IsNone() {
			return "ret"
		}
		return fmt.Sprintf("ret %s", ins.A)
	default:
		return ins.Op.String()
	}
}
