package codegen

import (
	"fmt"

	"sable/internal/ir"
)

// ---------------------------------------------------------------------------
// Storage assignment
// ---------------------------------------------------------------------------

// Storage says where a virtual register lives for the whole function. The
// allocator never moves a value once placed.
type Storage uint8

const (
	// StorageRegister keeps the value in a physical register.
	StorageRegister Storage = iota
	// StorageLocal spills the value to a stack slot below rbp.
	StorageLocal
	// StorageParam reads the value from the caller's frame above rbp.
	StorageParam
)

// Slot is the placement of one virtual register.
type Slot struct {
	Kind  RegKind
	Store Storage
	// Index is the physical register id for StorageRegister, or the byte
	// offset from rbp (negative side for locals, positive for params).
	Index uint32
}

// frameLayout is the allocator's output for one function.
type frameLayout struct {
	slots     []Slot
	frameSize uint32
	// occupied holds every physical register claimed by a virtual register,
	// parameters included.
	occupied RegSet
	// clobbered is the callee-saved subset of occupied; the prologue pushes
	// exactly these.
	clobbered RegSet
}

var (
	sysvArgRegs  = []PhysReg{RDI, RSI, RDX, RCX, R8, R9}
	win64ArgRegs = []PhysReg{RCX, RDX, R8, R9}

	sysvNonVolatile  = RegSetOf(RBX, R12, R13, R14, R15)
	win64NonVolatile = RegSetOf(RBX, RSI, RDI, R12, R13, R14, R15)

	// reservedRegs are never handed to the allocator: rsp/rbp anchor the
	// frame, rax and rbx serve as scratch for memory-to-memory moves.
	reservedRegs = RegSetOf(RSP, RBP, RAX, RBX)
)

// winShadowSpace is the 32-byte home area Win64 callers owe their callees,
// split across the two stack adjustments the prologue makes.
const winShadowSpace = 16

func nonVolatile(cc ir.CallConv) RegSet {
	if cc == ir.CCWin64 {
		return win64NonVolatile
	}
	return sysvNonVolatile
}

func align(n, a uint32) uint32 {
	return (n + a - 1) / a * a
}

// assignRegisters places every virtual register of fn. Parameters claim
// their ABI registers (or a caller-frame offset once the register window is
// exhausted); the rest take the lowest free register, falling back to stack
// slots when the file runs dry.
func assignRegisters(u *ir.Unit, fn *ir.Function, cc ir.CallConv) (*frameLayout, error) {
	var argRegs []PhysReg
	switch cc {
	case ir.CCSysV:
		argRegs = sysvArgRegs
	case ir.CCWin64:
		argRegs = win64ArgRegs
	default:
		return nil, fmt.Errorf("cannot assign registers for calling convention %s", cc)
	}

	layout := &frameLayout{
		slots: make([]Slot, fn.NumRegs()),
	}
	// assigned seeds the free-list scan with the reserved registers so they
	// are never handed out; occupied records only real claims.
	assigned := reservedRegs

	// Stack slots start past the saved rbp / return address pair.
	var cursor uint32 = 16

	for i := uint32(0); i < fn.NumRegs(); i++ {
		prim := u.PrimOf(fn.RegTypes[i])
		kind := KindOf(prim)
		slot := Slot{Kind: kind}

		switch {
		case i < fn.Params && i < uint32(len(argRegs)):
			r := argRegs[i]
			slot.Store = StorageRegister
			slot.Index = uint32(r)
			assigned.Add(r)
			layout.occupied.Add(r)
		case i < fn.Params:
			// Overflow parameters sit in the caller's frame above the
			// return address.
			slot.Store = StorageParam
			slot.Index = (i-uint32(len(argRegs)))*8 + 16
		default:
			if r, ok := assigned.FirstFree(); ok {
				slot.Store = StorageRegister
				slot.Index = uint32(r)
				assigned.Add(r)
				layout.occupied.Add(r)
			} else {
				lay := u.LayoutFor(fn.RegTypes[i])
				cursor = align(cursor, lay.Align)
				slot.Store = StorageLocal
				slot.Index = cursor
				cursor += lay.Size
			}
		}
		layout.slots[i] = slot
	}

	layout.frameSize = align(cursor, 16)
	if cc == ir.CCWin64 {
		layout.frameSize += winShadowSpace
	}
	layout.clobbered = layout.occupied.Intersect(nonVolatile(cc))
	return layout, nil
}
