package codegen

import (
	"math/bits"

	"sable/internal/ir"
)

// ---------------------------------------------------------------------------
// Physical registers
// ---------------------------------------------------------------------------

// PhysReg is an x86-64 physical register id. The numbering is the allocator's
// (not the hardware encoding): rax=0, rcx=1, rdx=2, rbx=3, rsi=4, rdi=5,
// rsp=6, rbp=7, then r8 through r15. All four name tables and the xmm table
// are indexed by the same id.
type PhysReg uint8

const (
	RAX PhysReg = iota
	RCX
	RDX
	RBX
	RSI
	RDI
	RSP
	RBP
	R8
	R9
	R10
	R11
	R12
	R13
	R14
	R15
)

// NumGPRegs is the size of the general-purpose register file.
const NumGPRegs = 16

var gpNames64 = [NumGPRegs]string{
	"rax", "rcx", "rdx", "rbx", "rsi", "rdi", "rsp", "rbp",
	"r8", "r9", "r10", "r11", "r12", "r13", "r14", "r15",
}

var gpNames32 = [NumGPRegs]string{
	"eax", "ecx", "edx", "ebx", "esi", "edi", "esp", "ebp",
	"r8d", "r9d", "r10d", "r11d", "r12d", "r13d", "r14d", "r15d",
}

var gpNames16 = [NumGPRegs]string{
	"ax", "cx", "dx", "bx", "si", "di", "sp", "bp",
	"r8w", "r9w", "r10w", "r11w", "r12w", "r13w", "r14w", "r15w",
}

var gpNames8 = [NumGPRegs]string{
	"al", "cl", "dl", "bl", "sil", "dil", "spl", "bpl",
	"r8b", "r9b", "r10b", "r11b", "r12b", "r13b", "r14b", "r15b",
}

var xmmNames = [NumGPRegs]string{
	"xmm0", "xmm1", "xmm2", "xmm3", "xmm4", "xmm5", "xmm6", "xmm7",
	"xmm8", "xmm9", "xmm10", "xmm11", "xmm12", "xmm13", "xmm14", "xmm15",
}

// ---------------------------------------------------------------------------
// Register width classes
// ---------------------------------------------------------------------------

// RegKind is the width class a value occupies when it sits in a register.
type RegKind uint8

const (
	Reg8 RegKind = iota
	Reg16
	Reg32
	Reg64
	Reg2x64 // pair of 64-bit halves; nothing selects into it yet
	RegXMM
)

func (k RegKind) String() string {
	switch k {
	case Reg8:
		return "8"
	case Reg16:
		return "16"
	case Reg32:
		return "32"
	case Reg64:
		return "64"
	case Reg2x64:
		return "2x64"
	case RegXMM:
		return "xmm"
	default:
		return "unknown"
	}
}

// KindOf maps a primitive to its register class. Narrow integers keep their
// width, floats take an xmm register, and everything else (64-bit integers,
// booleans, pointers, unknown) occupies a full 64-bit register.
func KindOf(p ir.PrimitiveType) RegKind {
	switch p {
	case ir.S8, ir.U8:
		return Reg8
	case ir.S16, ir.U16:
		return Reg16
	case ir.S32, ir.U32:
		return Reg32
	case ir.F32, ir.F64:
		return RegXMM
	default:
		return Reg64
	}
}

// Name returns the register's NASM spelling at the given width.
func (r PhysReg) Name(k RegKind) string {
	switch k {
	case Reg64:
		return gpNames64[r]
	case Reg32:
		return gpNames32[r]
	case Reg16:
		return gpNames16[r]
	case Reg8:
		return gpNames8[r]
	default:
		return xmmNames[r]
	}
}

// sizeWord returns the NASM size keyword used when a value of the class
// lives in memory.
func sizeWord(k RegKind) string {
	switch k {
	case Reg8:
		return "byte"
	case Reg16:
		return "word"
	case Reg32:
		return "dword"
	default:
		return "qword"
	}
}

// ---------------------------------------------------------------------------
// RegSet
// ---------------------------------------------------------------------------

// RegSet is a set over the 16 general-purpose registers. The zero value is
// the empty set.
type RegSet uint16

// RegSetOf builds a set from its arguments.
func RegSetOf(regs ...PhysReg) RegSet {
	var s RegSet
	for _, r := range regs {
		s.Add(r)
	}
	return s
}

// Has reports whether r is in the set.
func (s RegSet) Has(r PhysReg) bool { return s&(1<<r) != 0 }

// Add puts r into the set.
func (s *RegSet) Add(r PhysReg) { *s |= 1 << r }

// Remove takes r out of the set.
func (s *RegSet) Remove(r PhysReg) { *s &^= 1 << r }

// Intersect returns the registers present in both sets.
func (s RegSet) Intersect(t RegSet) RegSet { return s & t }

// Empty reports whether no register is in the set.
func (s RegSet) Empty() bool { return s == 0 }

// Full reports whether every general-purpose register is in the set.
func (s RegSet) Full() bool { return s == 1<<NumGPRegs-1 }

// Count returns how many registers are in the set.
func (s RegSet) Count() int { return bits.OnesCount16(uint16(s)) }

// FirstFree returns the lowest-numbered register not in the set, or false
// when the set is full.
func (s RegSet) FirstFree() (PhysReg, bool) {
	if s.Full() {
		return 0, false
	}
	return PhysReg(bits.TrailingZeros16(^uint16(s))), true
}

// Ascending returns the members from lowest id to highest.
func (s RegSet) Ascending() []PhysReg {
	var out []PhysReg
	for i := 0; i < NumGPRegs; i++ {
		if s.Has(PhysReg(i)) {
			out = append(out, PhysReg(i))
		}
	}
	return out
}

// Descending returns the members from highest id to lowest. Epilogues use
// this to pop in exact reverse of the prologue's pushes.
func (s RegSet) Descending() []PhysReg {
	var out []PhysReg
	for i := NumGPRegs - 1; i >= 0; i-- {
		if s.Has(PhysReg(i)) {
			out = append(out, PhysReg(i))
		}
	}
	return out
}
