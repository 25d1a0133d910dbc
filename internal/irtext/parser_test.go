package irtext

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"sable/internal/ir"
)

func mustParseText(t *testing.T, src string) *ir.Unit {
	t.Helper()
	unit, err := Parse("test.sir", src)
	if err != nil {
		t.Fatalf("parse errors: %v", err)
	}
	return unit
}

func parseExpectError(t *testing.T, src, want string) *ir.Unit {
	t.Helper()
	unit, err := Parse("test.sir", src)
	if err == nil {
		t.Fatalf("expected error containing %q, got none", want)
	}
	if !strings.Contains(err.Error(), want) {
		t.Fatalf("error should contain %q, got: %v", want, err)
	}
	return unit
}

// ---------------------------------------------------------------------------
// Functions and headers
// ---------------------------------------------------------------------------

func TestParseExitProgram(t *testing.T) {
	unit := mustParseText(t, `fn main link=_start
const $0 s64 60
const $1 s64 0
syscall _ $0 $1
ret
end
`)
	if len(unit.Functions) != 1 {
		t.Fatalf("expected 1 function, got %d", len(unit.Functions))
	}
	fn := unit.Functions[0]
	if fn.Name != "main" || fn.LinkName != "_start" {
		t.Errorf("name/link: got %q/%q, want main/_start", fn.Name, fn.LinkName)
	}
	if fn.CallConv != ir.CCDefault {
		t.Errorf("cc: got %s, want default", fn.CallConv)
	}
	if len(fn.Consts) != 2 {
		t.Fatalf("expected 2 constants, got %d", len(fn.Consts))
	}
	if fn.Consts[0].Kind != ir.ConstInteger || fn.Consts[0].Int != 60 {
		t.Errorf("const $0: got %v, want integer 60", fn.Consts[0])
	}
	if len(fn.Instrs) != 2 {
		t.Fatalf("expected 2 instructions, got %d", len(fn.Instrs))
	}
	sc := fn.Instrs[0]
	if sc.Op != ir.OpSyscall || !sc.Dst.IsNone() || sc.A != ir.Const(0) {
		t.Errorf("syscall: got %+v", sc)
	}
	if len(sc.Args) != 1 || sc.Args[0] != ir.Const(1) {
		t.Errorf("syscall args: got %v, want [$1]", sc.Args)
	}
	if fn.Instrs[1].Op != ir.OpReturn || !fn.Instrs[1].A.IsNone() {
		t.Errorf("ret: got %+v", fn.Instrs[1])
	}
}

func TestParseHeaderOptions(t *testing.T) {
	unit := mustParseText(t, `fn sum cc=win64 params=2 link=sum64
bind %0 s64
bind %1 s64
bind %2 s64
add %2 %0 %1
ret %2
end
`)
	fn := unit.Functions[0]
	if fn.Name != "sum" {
		t.Errorf("name: got %q, want sum", fn.Name)
	}
	if fn.CallConv != ir.CCWin64 {
		t.Errorf("cc: got %s, want win64", fn.CallConv)
	}
	if fn.Params != 2 {
		t.Errorf("params: got %d, want 2", fn.Params)
	}
	if fn.LinkName != "sum64" {
		t.Errorf("link: got %q, want sum64", fn.LinkName)
	}
	if fn.NumRegs() != 3 {
		t.Errorf("registers: got %d, want 3", fn.NumRegs())
	}
}

func TestParseAnonymousFunction(t *testing.T) {
	unit := mustParseText(t, `fn _
const $0 ptr "shared data"
end
`)
	fn := unit.Functions[0]
	if fn.Name != "" || fn.LinkName != "" {
		t.Errorf("anonymous function should have no name or link, got %q/%q", fn.Name, fn.LinkName)
	}
	if len(fn.Consts) != 1 || fn.Consts[0].Str != "shared data" {
		t.Errorf("constants: got %v", fn.Consts)
	}
}

func TestParseTypeDeclaration(t *testing.T) {
	unit := mustParseText(t, `type handle u64

fn f link=f
bind %0 handle
ret %0
end
`)
	found := -1
	for i, def := range unit.TypeDefs {
		if def.Name == "handle" && def.Prim == ir.U64 {
			found = i
		}
	}
	if found < 0 {
		t.Fatalf("type table missing handle=u64: %v", unit.TypeDefs)
	}
	fn := unit.Functions[0]
	if fn.RegTypes[0] != uint32(found) {
		t.Errorf("register type: got index %d, want %d", fn.RegTypes[0], found)
	}
	if fn.Instrs[0].Op != ir.OpBind || fn.Instrs[0].Type != uint32(found) {
		t.Errorf("bind instruction: got %+v", fn.Instrs[0])
	}
}

// ---------------------------------------------------------------------------
// Constants
// ---------------------------------------------------------------------------

func TestParseConstantValues(t *testing.T) {
	unit := mustParseText(t, `fn f link=f
const $0 s64 0x2000004
const $1 ptr "hi\n"
const $2 ptr printf
const $3 s32 -7
ret
end
`)
	consts := unit.Functions[0].Consts
	if consts[0].Kind != ir.ConstInteger || consts[0].Int != 0x2000004 {
		t.Errorf("$0: got %v, want integer 0x2000004", consts[0])
	}
	if consts[1].Kind != ir.ConstString || consts[1].Str != "hi\n" {
		t.Errorf("$1: got %v, want string with trailing newline", consts[1])
	}
	if consts[2].Kind != ir.ConstSymbol || consts[2].Str != "printf" {
		t.Errorf("$2: got %v, want symbol printf", consts[2])
	}
	if consts[3].Kind != ir.ConstInteger || consts[3].Int != -7 {
		t.Errorf("$3: got %v, want integer -7", consts[3])
	}
}

func TestParseConstantOutOfOrder(t *testing.T) {
	parseExpectError(t, `fn f link=f
const $1 s64 5
ret
end
`, "constant $1 declared out of order (expected $0)")
}

func TestParseUndeclaredConstant(t *testing.T) {
	parseExpectError(t, `fn f link=f
ret $0
end
`, "constant $0 is not declared")
}

// ---------------------------------------------------------------------------
// Register binding rules
// ---------------------------------------------------------------------------

func TestParseUnboundRegisterUse(t *testing.T) {
	parseExpectError(t, `fn f link=f
bind %0 s64
mov %0 %1
ret
end
`, "register %1 used but never bound")
}

func TestParseSparseBindsRejected(t *testing.T) {
	parseExpectError(t, `fn f link=f
bind %1 s64
ret %1
end
`, "binds must be dense")
}

func TestParseDuplicateBind(t *testing.T) {
	parseExpectError(t, `fn f link=f
bind %0 s64
bind %0 s32
ret
end
`, "register %0 bound twice")
}

// ---------------------------------------------------------------------------
// Instructions
// ---------------------------------------------------------------------------

func TestParseCallConventionSuffix(t *testing.T) {
	unit := mustParseText(t, `fn f link=f
bind %0 s64
bind %1 s64
const $0 ptr callee
call:win64 %1 $0 %0
call _ $0
ret
end
`)
	instrs := unit.Functions[0].Instrs
	site := instrs[2]
	if site.Op != ir.OpCall || site.CC != ir.CCWin64 {
		t.Errorf("call:win64 site: got %+v", site)
	}
	if site.Dst != ir.Reg(1) || site.A != ir.Const(0) {
		t.Errorf("call dst/callee: got %v/%v", site.Dst, site.A)
	}
	if len(site.Args) != 1 || site.Args[0] != ir.Reg(0) {
		t.Errorf("call args: got %v, want [%%0]", site.Args)
	}
	plain := instrs[3]
	if plain.CC != ir.CCDefault || !plain.Dst.IsNone() {
		t.Errorf("plain call should default its convention and drop the result: %+v", plain)
	}
}

func TestParseControlFlowTargets(t *testing.T) {
	unit := mustParseText(t, `fn f link=f
bind %0 bool
label @0
branch %0 @0
branchnot %0 @0
jump @0
ret
end
`)
	instrs := unit.Functions[0].Instrs
	want := []struct {
		op     ir.Opcode
		target uint32
	}{
		{ir.OpBind, 0},
		{ir.OpLabel, 0},
		{ir.OpBranch, 0},
		{ir.OpBranchNot, 0},
		{ir.OpJump, 0},
		{ir.OpReturn, 0},
	}
	if len(instrs) != len(want) {
		t.Fatalf("instruction count: got %d, want %d", len(instrs), len(want))
	}
	for i, w := range want {
		if instrs[i].Op != w.op || instrs[i].Target != w.target {
			t.Errorf("instr[%d]: got %s @%d, want %s @%d",
				i, instrs[i].Op, instrs[i].Target, w.op, w.target)
		}
	}
	if instrs[2].A != ir.Reg(0) {
		t.Errorf("branch condition: got %v, want %%0", instrs[2].A)
	}
}

func TestParseStoreOperands(t *testing.T) {
	unit := mustParseText(t, `fn f link=f
bind %0 ptr
bind %1 s64
store %0 %1
ret
end
`)
	st := unit.Functions[0].Instrs[2]
	if st.Op != ir.OpStore || st.A != ir.Reg(0) || st.B != ir.Reg(1) || !st.Dst.IsNone() {
		t.Errorf("store: got %+v, want A=%%0 B=%%1", st)
	}
}

func TestParseReturnValue(t *testing.T) {
	unit := mustParseText(t, `fn f link=f
bind %0 s64
ret %0
end
`)
	rt := unit.Functions[0].Instrs[1]
	if rt.Op != ir.OpReturn || rt.A != ir.Reg(0) {
		t.Errorf("ret: got %+v, want value %%0", rt)
	}
}

// ---------------------------------------------------------------------------
// Error reporting and recovery
// ---------------------------------------------------------------------------

func TestParseDuplicateLinkName(t *testing.T) {
	parseExpectError(t, `fn main
ret
end

fn other link=main
ret
end
`, `duplicate link name "main"`)
}

func TestParseMissingEnd(t *testing.T) {
	parseExpectError(t, `fn f link=f
ret
`, "missing 'end' for function started at line 1")
}

func TestParseMissingEndBeforeNextFunction(t *testing.T) {
	unit := parseExpectError(t, `fn a
ret
fn b
ret
end
`, `missing 'end' before "fn"`)
	if len(unit.Functions) != 2 {
		t.Errorf("both functions should survive recovery, got %d", len(unit.Functions))
	}
}

func TestParseUnknownInstruction(t *testing.T) {
	parseExpectError(t, `fn f link=f
frobnicate %0
ret
end
`, `unknown instruction "frobnicate"`)
}

func TestParseUnknownCallingConvention(t *testing.T) {
	parseExpectError(t, `fn f cc=fastcall link=f
ret
end
`, `unknown calling convention "fastcall"`)
}

func TestParseTypeShadowingPrimitive(t *testing.T) {
	parseExpectError(t, `type s64 u64
`, `type name "s64" shadows a primitive`)
}

func TestParseCollectsMultipleErrors(t *testing.T) {
	_, err := Parse("test.sir", `fn f link=f
frobnicate %0
ret $3
end
`)
	if err == nil {
		t.Fatal("expected errors")
	}
	msg := err.Error()
	for _, want := range []string{"unknown instruction", "constant $3 is not declared"} {
		if !strings.Contains(msg, want) {
			t.Errorf("combined error should contain %q, got: %v", want, err)
		}
	}
}

func TestParseErrorCarriesPosition(t *testing.T) {
	_, err := Parse("prog.sir", `fn f link=f
frobnicate %0
ret
end
`)
	if err == nil {
		t.Fatal("expected error")
	}
	if !strings.Contains(err.Error(), "prog.sir: line 2") {
		t.Errorf("error should carry file and line, got: %v", err)
	}
}

// ---------------------------------------------------------------------------
// File-level entry points
// ---------------------------------------------------------------------------

func TestParseFilesLinksUnits(t *testing.T) {
	dir := t.TempDir()
	a := filepath.Join(dir, "a.sir")
	b := filepath.Join(dir, "b.sir")
	if err := os.WriteFile(a, []byte("fn main link=_start\nbind %0 s64\nret %0\nend\n"), 0644); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(b, []byte("fn helper\nbind %0 s64\nret %0\nend\n"), 0644); err != nil {
		t.Fatal(err)
	}

	unit, err := ParseFiles(a, b)
	if err != nil {
		t.Fatalf("ParseFiles: %v", err)
	}
	if len(unit.Functions) != 2 {
		t.Fatalf("expected 2 linked functions, got %d", len(unit.Functions))
	}
	if unit.Functions[0].Name != "main" || unit.Functions[1].Name != "helper" {
		t.Errorf("function order: got %q, %q", unit.Functions[0].Name, unit.Functions[1].Name)
	}
	// Both files bind s64; the merged table should hold it once.
	count := 0
	for _, def := range unit.TypeDefs {
		if def.Prim == ir.S64 {
			count++
		}
	}
	if count > 1 {
		t.Errorf("s64 interned %d times after merge, want 1", count)
	}
}

func TestParseFilesReportsDuplicateLinkNames(t *testing.T) {
	dir := t.TempDir()
	a := filepath.Join(dir, "a.sir")
	b := filepath.Join(dir, "b.sir")
	for _, path := range []string{a, b} {
		if err := os.WriteFile(path, []byte("fn main link=_start\nret\nend\n"), 0644); err != nil {
			t.Fatal(err)
		}
	}

	_, err := ParseFiles(a, b)
	if err == nil || !strings.Contains(err.Error(), `duplicate link name "_start"`) {
		t.Errorf("expected duplicate link error, got: %v", err)
	}
}

func TestParseFileMissing(t *testing.T) {
	_, err := ParseFile(filepath.Join(t.TempDir(), "missing.sir"))
	if err == nil || !strings.Contains(err.Error(), "read") {
		t.Errorf("expected read error, got: %v", err)
	}
}
