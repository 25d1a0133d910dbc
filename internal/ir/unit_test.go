package ir_test

import (
	"strings"
	"testing"

	"sable/internal/ir"
)

// ---------------------------------------------------------------------------
// Layout and primitives
// ---------------------------------------------------------------------------

func TestLayoutOf(t *testing.T) {
	cases := []struct {
		prim  ir.PrimitiveType
		size  uint32
		align uint32
	}{
		{ir.S8, 1, 1},
		{ir.U8, 1, 1},
		{ir.Boolean, 1, 1},
		{ir.S16, 2, 2},
		{ir.U16, 2, 2},
		{ir.S32, 4, 4},
		{ir.U32, 4, 4},
		{ir.S64, 8, 8},
		{ir.U64, 8, 8},
		{ir.Pointer, 8, 8},
		{ir.F32, 8, 8},
		{ir.F64, 8, 8},
		{ir.Unknown, 1, 1},
	}
	for _, c := range cases {
		got := ir.LayoutOf(c.prim)
		if got.Size != c.size || got.Align != c.align {
			t.Errorf("LayoutOf(%s): got %d/%d, want %d/%d",
				c.prim, got.Size, got.Align, c.size, c.align)
		}
	}
}

func TestPrimitiveFromName(t *testing.T) {
	names := []string{"s8", "u8", "s16", "u16", "s32", "u32", "s64", "u64", "f32", "f64", "bool", "ptr"}
	for _, name := range names {
		prim, ok := ir.PrimitiveFromName(name)
		if !ok {
			t.Errorf("PrimitiveFromName(%q): not recognized", name)
			continue
		}
		if prim.String() != name {
			t.Errorf("PrimitiveFromName(%q).String(): got %q", name, prim.String())
		}
	}
	if _, ok := ir.PrimitiveFromName("widget"); ok {
		t.Error("PrimitiveFromName(\"widget\") should not be recognized")
	}
	if prim, ok := ir.PrimitiveFromName("pointer"); !ok || prim != ir.Pointer {
		t.Errorf("PrimitiveFromName(\"pointer\"): got (%v, %v), want (ptr, true)", prim, ok)
	}
}

// ---------------------------------------------------------------------------
// Operands
// ---------------------------------------------------------------------------

func TestOperandString(t *testing.T) {
	if got := ir.Reg(3).String(); got != "%3" {
		t.Errorf("Reg(3): got %q, want %q", got, "%3")
	}
	if got := ir.Const(7).String(); got != "$7" {
		t.Errorf("Const(7): got %q, want %q", got, "$7")
	}
	if got := ir.None().String(); got != "_" {
		t.Errorf("None(): got %q, want %q", got, "_")
	}
}

func TestOperandPredicates(t *testing.T) {
	if !ir.Reg(0).IsReg() || ir.Reg(0).IsConst() || ir.Reg(0).IsNone() {
		t.Error("Reg(0) predicates wrong")
	}
	if !ir.Const(0).IsConst() || ir.Const(0).IsReg() {
		t.Error("Const(0) predicates wrong")
	}
	if !ir.None().IsNone() {
		t.Error("None() predicates wrong")
	}
}

// ---------------------------------------------------------------------------
// Type interning
// ---------------------------------------------------------------------------

func TestInternTypeDeduplicates(t *testing.T) {
	u := &ir.Unit{}
	a := u.InternType(ir.TypeDef{Name: "s32", Prim: ir.S32})
	b := u.InternType(ir.TypeDef{Name: "ptr", Prim: ir.Pointer})
	c := u.InternType(ir.TypeDef{Name: "s32", Prim: ir.S32})

	if a != c {
		t.Errorf("same def interned twice: got %d and %d", a, c)
	}
	if a == b {
		t.Error("distinct defs share an index")
	}
	if len(u.TypeDefs) != 2 {
		t.Errorf("type table: got %d entries, want 2", len(u.TypeDefs))
	}
}

func TestInternTypeDistinguishesNames(t *testing.T) {
	// A named alias of the same primitive is its own entry.
	u := &ir.Unit{}
	a := u.InternType(ir.TypeDef{Name: "s64", Prim: ir.S64})
	b := u.InternType(ir.TypeDef{Name: "handle", Prim: ir.S64})
	if a == b {
		t.Error("alias collapsed into the primitive entry")
	}
}

// ---------------------------------------------------------------------------
// Merge
// ---------------------------------------------------------------------------

func TestMergeRemapsTypeIndices(t *testing.T) {
	// Two units declaring the same types in opposite orders.
	a := &ir.Unit{
		TypeDefs: []ir.TypeDef{{Name: "s32", Prim: ir.S32}, {Name: "ptr", Prim: ir.Pointer}},
		Functions: []*ir.Function{{
			Name: "first", LinkName: "first",
			RegTypes: []uint32{0, 1},
			Instrs:   []ir.Instruction{{Op: ir.OpReturn, A: ir.Reg(0)}},
		}},
	}
	b := &ir.Unit{
		TypeDefs: []ir.TypeDef{{Name: "ptr", Prim: ir.Pointer}, {Name: "s32", Prim: ir.S32}},
		Functions: []*ir.Function{{
			Name: "second", LinkName: "second",
			RegTypes: []uint32{1},
			Instrs: []ir.Instruction{
				{Op: ir.OpBind, Dst: ir.Reg(0), Type: 1},
				{Op: ir.OpReturn, A: ir.Reg(0)},
			},
			Consts: []ir.Constant{{Type: 0, Kind: ir.ConstSymbol, Str: "puts"}},
		}},
	}

	merged, err := ir.Merge(a, b)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(merged.TypeDefs) != 2 {
		t.Fatalf("merged type table: got %d entries, want 2", len(merged.TypeDefs))
	}
	if len(merged.Functions) != 2 {
		t.Fatalf("merged functions: got %d, want 2", len(merged.Functions))
	}

	second := merged.Functions[1]
	// b's s32 (index 1) must now point at the merged s32 (index 0).
	if second.RegTypes[0] != 0 {
		t.Errorf("register type not remapped: got %d, want 0", second.RegTypes[0])
	}
	if second.Instrs[0].Type != 0 {
		t.Errorf("bind type not remapped: got %d, want 0", second.Instrs[0].Type)
	}
	// b's ptr (index 0) must now point at the merged ptr (index 1).
	if second.Consts[0].Type != 1 {
		t.Errorf("constant type not remapped: got %d, want 1", second.Consts[0].Type)
	}
}

func TestMergeRejectsDuplicateLinkNames(t *testing.T) {
	fn := func() *ir.Function {
		return &ir.Function{Name: "main", LinkName: "main", RegTypes: []uint32{0}}
	}
	a := &ir.Unit{TypeDefs: []ir.TypeDef{{Name: "s32", Prim: ir.S32}}, Functions: []*ir.Function{fn()}}
	b := &ir.Unit{TypeDefs: []ir.TypeDef{{Name: "s32", Prim: ir.S32}}, Functions: []*ir.Function{fn()}}

	_, err := ir.Merge(a, b)
	if err == nil {
		t.Fatal("expected duplicate link name error")
	}
	if !strings.Contains(err.Error(), "duplicate link name") {
		t.Errorf("error should mention duplicate link name, got: %v", err)
	}
}

func TestMergeLeavesInputsUntouched(t *testing.T) {
	a := &ir.Unit{
		TypeDefs: []ir.TypeDef{{Name: "ptr", Prim: ir.Pointer}, {Name: "s32", Prim: ir.S32}},
		Functions: []*ir.Function{{
			Name: "f", LinkName: "f", RegTypes: []uint32{1},
		}},
	}
	b := &ir.Unit{
		TypeDefs: []ir.TypeDef{{Name: "s32", Prim: ir.S32}},
		Functions: []*ir.Function{{
			Name: "g", LinkName: "g", RegTypes: []uint32{0},
		}},
	}
	if _, err := ir.Merge(b, a); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if a.Functions[0].RegTypes[0] != 1 {
		t.Error("merge mutated its input unit")
	}
}

// ---------------------------------------------------------------------------
// Operand types and dump
// ---------------------------------------------------------------------------

func TestOperandType(t *testing.T) {
	fn := &ir.Function{
		RegTypes: []uint32{2, 5},
		Consts:   []ir.Constant{{Type: 7, Kind: ir.ConstInteger, Int: 1}},
	}
	if got := fn.OperandType(ir.Reg(1)); got != 5 {
		t.Errorf("register operand type: got %d, want 5", got)
	}
	if got := fn.OperandType(ir.Const(0)); got != 7 {
		t.Errorf("constant operand type: got %d, want 7", got)
	}
}

func TestDebugDump(t *testing.T) {
	u := &ir.Unit{
		TypeDefs: []ir.TypeDef{{Name: "s32", Prim: ir.S32}},
		Functions: []*ir.Function{{
			Name: "add2", LinkName: "add2", Params: 2,
			RegTypes: []uint32{0, 0, 0},
			Instrs: []ir.Instruction{
				{Op: ir.OpAdd, Dst: ir.Reg(2), A: ir.Reg(0), B: ir.Reg(1)},
				{Op: ir.OpReturn, A: ir.Reg(2)},
			},
			Consts: []ir.Constant{{Type: 0, Kind: ir.ConstInteger, Int: 42}},
		}},
	}
	dump := u.DebugDump()

	for _, want := range []string{
		"fn[0] add2",
		"params=2",
		"add %2 %0 %1",
		"ret %2",
		"const $0 s32 42",
	} {
		if !strings.Contains(dump, want) {
			t.Errorf("dump missing %q:\n%s", want, dump)
		}
	}
}
