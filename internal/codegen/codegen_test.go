package codegen

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"sable/internal/ir"
	"sable/internal/irtext"
)

// helper: parse .sir source into a unit, failing the test on any error.
func mustParseIR(t *testing.T, src string) *ir.Unit {
	t.Helper()
	unit, err := irtext.Parse("test.sir", src)
	if err != nil {
		t.Fatalf("parse errors: %v", err)
	}
	return unit
}

// ---------------------------------------------------------------------------
// Target helpers for tests
// ---------------------------------------------------------------------------

func linuxAMD64Target() *Target {
	tgt, _ := ResolveTarget("linux", "amd64")
	return tgt
}

func darwinAMD64Target() *Target {
	tgt, _ := ResolveTarget("darwin", "amd64")
	return tgt
}

func windowsAMD64Target() *Target {
	tgt, _ := ResolveTarget("windows", "amd64")
	return tgt
}

const exitProgram = `fn main link=_start
const $0 s64 60
const $1 s64 0
syscall _ $0 $1
ret
end
`

// ---------------------------------------------------------------------------
// Generate (full pipeline, asm-only)
// ---------------------------------------------------------------------------

func TestGenerateAsmOnlyLinux(t *testing.T) {
	unit := mustParseIR(t, exitProgram)

	opts := DefaultOptions()
	opts.Target = linuxAMD64Target()
	opts.AsmOnly = true
	opts.BuildDir = t.TempDir()

	result, err := Generate(unit, opts)
	if err != nil {
		t.Fatalf("Generate failed: %v", err)
	}
	if result.AsmFile == "" {
		t.Fatal("expected assembly file path")
	}
	if result.ObjFile != "" || result.ExeFile != "" {
		t.Errorf("asm-only run should produce no object or executable, got %q/%q",
			result.ObjFile, result.ExeFile)
	}
	if result.Dump == "" {
		t.Error("expected unit dump")
	}

	content, err := os.ReadFile(result.AsmFile)
	if err != nil {
		t.Fatalf("cannot read emitted assembly: %v", err)
	}
	asm := string(content)
	if !strings.Contains(asm, "bits 64") {
		t.Error("expected NASM bits 64 directive in written file")
	}
	if !strings.Contains(asm, "global _start") {
		t.Error("expected global _start in written file")
	}
}

func TestGenerateAsmOnlyWindows(t *testing.T) {
	unit := mustParseIR(t, `fn main cc=win64 link=main
const $0 ptr ExitProcess
const $1 s64 0
call _ $0 $1
ret
end
`)

	opts := DefaultOptions()
	opts.Target = windowsAMD64Target()
	opts.AsmOnly = true
	opts.BuildDir = t.TempDir()

	result, err := Generate(unit, opts)
	if err != nil {
		t.Fatalf("Generate failed: %v", err)
	}
	if !strings.Contains(result.AsmFile, "windows_x86_64") {
		t.Errorf("expected platform subdirectory in path, got %q", result.AsmFile)
	}
	if _, err := os.Stat(result.AsmFile); err != nil {
		t.Errorf("assembly file should exist: %v", err)
	}
}

func TestGenerateRejectsInvalidUnit(t *testing.T) {
	unit := mustParseIR(t, `fn main link=_start
bind %0 bool
branch %0 @9
ret
end
`)

	opts := DefaultOptions()
	opts.Target = linuxAMD64Target()
	opts.AsmOnly = true
	opts.BuildDir = t.TempDir()

	_, err := Generate(unit, opts)
	if err == nil {
		t.Fatal("expected validation failure for branch to undefined label")
	}
	if !strings.Contains(err.Error(), "invalid unit") {
		t.Errorf("error should name the invalid unit, got: %v", err)
	}
	if !strings.Contains(err.Error(), "undefined label") {
		t.Errorf("error should carry the diagnostic, got: %v", err)
	}
}

func TestGenerateSanitizesOutputName(t *testing.T) {
	unit := mustParseIR(t, exitProgram)

	opts := DefaultOptions()
	opts.Target = linuxAMD64Target()
	opts.AsmOnly = true
	opts.BuildDir = t.TempDir()
	opts.OutputName = "my app.v2"

	result, err := Generate(unit, opts)
	if err != nil {
		t.Fatalf("Generate failed: %v", err)
	}
	if filepath.Base(result.AsmFile) != "my_app_v2.asm" {
		t.Errorf("expected sanitized file name my_app_v2.asm, got %q", filepath.Base(result.AsmFile))
	}
}

func TestGenerateDefaultOutputName(t *testing.T) {
	unit := mustParseIR(t, exitProgram)

	opts := DefaultOptions()
	opts.Target = linuxAMD64Target()
	opts.AsmOnly = true
	opts.BuildDir = t.TempDir()

	result, err := Generate(unit, opts)
	if err != nil {
		t.Fatalf("Generate failed: %v", err)
	}
	if filepath.Base(result.AsmFile) != "out.asm" {
		t.Errorf("expected default name out.asm, got %q", filepath.Base(result.AsmFile))
	}
}

// ---------------------------------------------------------------------------
// Toolchain path derivation
// ---------------------------------------------------------------------------

func TestNewToolchainPathsLinux(t *testing.T) {
	dir := t.TempDir()
	tc := NewToolchain(linuxAMD64Target(), dir, "prog")
	if tc.AsmFile != filepath.Join(dir, "prog.asm") {
		t.Errorf("asm path: got %q", tc.AsmFile)
	}
	if tc.ObjFile != filepath.Join(dir, "prog.o") {
		t.Errorf("obj path: got %q", tc.ObjFile)
	}
	if tc.ExeFile != filepath.Join(dir, "prog") {
		t.Errorf("exe path: got %q", tc.ExeFile)
	}
}

func TestNewToolchainPathsWindows(t *testing.T) {
	dir := t.TempDir()
	tc := NewToolchain(windowsAMD64Target(), dir, "prog")
	if tc.ObjFile != filepath.Join(dir, "prog.obj") {
		t.Errorf("obj path: got %q", tc.ObjFile)
	}
	if tc.ExeFile != filepath.Join(dir, "prog.exe") {
		t.Errorf("exe path: got %q", tc.ExeFile)
	}
}

func TestWriteAssembly(t *testing.T) {
	dir := t.TempDir()
	tc := NewToolchain(linuxAMD64Target(), dir, "prog")
	if err := tc.WriteAssembly("bits 64\n"); err != nil {
		t.Fatalf("WriteAssembly: %v", err)
	}
	content, err := os.ReadFile(filepath.Join(dir, "prog.asm"))
	if err != nil {
		t.Fatalf("reading back: %v", err)
	}
	if string(content) != "bits 64\n" {
		t.Errorf("content round trip: got %q", content)
	}
}
