package codegen

import (
	"fmt"
	"runtime"

	"sable/internal/ir"
)

// ---------------------------------------------------------------------------
// OS / Architecture / Target enums
// ---------------------------------------------------------------------------

// OS represents a target operating system.
type OS int

const (
	OS_Linux  OS = iota
	OS_Darwin    // macOS
	OS_Windows
)

func (o OS) String() string {
	switch o {
	case OS_Linux:
		return "linux"
	case OS_Darwin:
		return "darwin"
	case OS_Windows:
		return "windows"
	default:
		return "unknown"
	}
}

// Arch represents a target CPU architecture. The backend is x86-64 only.
type Arch int

const (
	Arch_x86_64 Arch = iota
)

func (a Arch) String() string {
	switch a {
	case Arch_x86_64:
		return "x86_64"
	default:
		return "unknown"
	}
}

// ObjFormat is the object file format produced by the assembler. String
// returns the matching nasm -f name.
type ObjFormat int

const (
	ObjELF   ObjFormat = iota // Linux
	ObjMachO                  // macOS
	ObjCOFF                   // Windows (PE/COFF)
)

func (f ObjFormat) String() string {
	switch f {
	case ObjELF:
		return "elf64"
	case ObjMachO:
		return "macho64"
	case ObjCOFF:
		return "win64"
	default:
		return "unknown"
	}
}

// ---------------------------------------------------------------------------
// Target — a fully-resolved compilation target
// ---------------------------------------------------------------------------

// Target holds all information about the compilation target: OS,
// architecture, object format, default calling convention, and symbol
// conventions.
type Target struct {
	OS     OS
	Arch   Arch
	ObjFmt ObjFormat

	// DefaultCC is the convention functions and call sites fall back to
	// when they do not name one.
	DefaultCC ir.CallConv

	// SymbolPrefix: macOS Mach-O prepends "_" to global symbols.
	SymbolPrefix string

	// EntryPoint is the linker entry-point symbol (after prefix).
	EntryPoint string
}

// HostTarget returns a Target matching the current Go runtime (GOOS/GOARCH).
func HostTarget() (*Target, error) {
	return ResolveTarget(runtime.GOOS, runtime.GOARCH)
}

// ResolveTarget builds a Target from OS/Arch name strings (same names Go uses).
func ResolveTarget(osName, archName string) (*Target, error) {
	t := &Target{}

	switch osName {
	case "linux":
		t.OS = OS_Linux
	case "darwin":
		t.OS = OS_Darwin
	case "windows":
		t.OS = OS_Windows
	default:
		return nil, fmt.Errorf("unsupported OS: %s", osName)
	}

	switch archName {
	case "amd64", "x86_64":
		t.Arch = Arch_x86_64
	default:
		return nil, fmt.Errorf("unsupported architecture: %s", archName)
	}

	// OS-specific conventions.
	switch t.OS {
	case OS_Darwin:
		t.ObjFmt = ObjMachO
		t.DefaultCC = ir.CCSysV
		t.SymbolPrefix = "_"
		t.EntryPoint = "_main"
	case OS_Linux:
		t.ObjFmt = ObjELF
		t.DefaultCC = ir.CCSysV
		t.SymbolPrefix = ""
		t.EntryPoint = "_start"
	case OS_Windows:
		t.ObjFmt = ObjCOFF
		t.DefaultCC = ir.CCWin64
		t.SymbolPrefix = ""
		t.EntryPoint = "main"
	}

	return t, nil
}

// SupportedTargets lists the os/arch pairs ResolveTarget accepts.
func SupportedTargets() []string {
	return []string{
		"linux/amd64",
		"darwin/amd64",
		"windows/amd64",
	}
}

// ---------------------------------------------------------------------------
// Helper queries
// ---------------------------------------------------------------------------

// FileExtObj returns the platform object file extension (.o or .obj).
func (t *Target) FileExtObj() string {
	if t.OS == OS_Windows {
		return ".obj"
	}
	return ".o"
}

// FileExtExe returns the platform executable extension ("" or ".exe").
func (t *Target) FileExtExe() string {
	if t.OS == OS_Windows {
		return ".exe"
	}
	return ""
}

// FileExtAsm returns the assembly file extension. Output is always NASM.
func (t *Target) FileExtAsm() string {
	return ".asm"
}

// Sym returns a symbol name with the target prefix applied.
func (t *Target) Sym(name string) string {
	return t.SymbolPrefix + name
}

// OSName returns the OS as a lowercase string.
func (t *Target) OSName() string {
	return t.OS.String()
}

// ArchName returns the architecture using Go-style names.
func (t *Target) ArchName() string {
	switch t.Arch {
	case Arch_x86_64:
		return "amd64"
	default:
		return "unknown"
	}
}
