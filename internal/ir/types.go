package ir

// ---------------------------------------------------------------------------
// Primitive types
// ---------------------------------------------------------------------------

// PrimitiveType is the machine-level type of a virtual register or constant.
// The set is fixed; the front-end maps its own surface types onto these.
type PrimitiveType uint8

const (
	S8 PrimitiveType = iota
	U8
	S16
	U16
	S32
	U32
	S64
	U64
	F32
	F64
	Boolean
	Pointer
	Unknown
)

func (p PrimitiveType) String() string {
	switch p {
	case S8:
		return "s8"
	case U8:
		return "u8"
	case S16:
		return "s16"
	case U16:
		return "u16"
	case S32:
		return "s32"
	case U32:
		return "u32"
	case S64:
		return "s64"
	case U64:
		return "u64"
	case F32:
		return "f32"
	case F64:
		return "f64"
	case Boolean:
		return "bool"
	case Pointer:
		return "ptr"
	default:
		return "unknown"
	}
}

// MarshalText renders the primitive name for JSON dumps.
func (p PrimitiveType) MarshalText() ([]byte, error) {
	return []byte(p.String()), nil
}

// PrimitiveFromName maps a spelled-out type name back to its PrimitiveType.
// The second result reports whether the name is a known primitive.
func PrimitiveFromName(name string) (PrimitiveType, bool) {
	switch name {
	case "s8":
		return S8, true
	case "u8":
		return U8, true
	case "s16":
		return S16, true
	case "u16":
		return U16, true
	case "s32":
		return S32, true
	case "u32":
		return U32, true
	case "s64":
		return S64, true
	case "u64":
		return U64, true
	case "f32":
		return F32, true
	case "f64":
		return F64, true
	case "bool":
		return Boolean, true
	case "ptr", "pointer":
		return Pointer, true
	}
	return Unknown, false
}

// ---------------------------------------------------------------------------
// Type layout
// ---------------------------------------------------------------------------

// TypeLayout is the size and alignment of a primitive on x86-64, in bytes.
type TypeLayout struct {
	Size  uint32 `json:"size"`
	Align uint32 `json:"align"`
}

// LayoutOf returns the x86-64 layout for a primitive. Every primitive has a
// layout; anything unrecognized falls back to a single byte.
func LayoutOf(p PrimitiveType) TypeLayout {
	switch p {
	case S8, U8, Boolean:
		return TypeLayout{Size: 1, Align: 1}
	case S16, U16:
		return TypeLayout{Size: 2, Align: 2}
	case S32, U32:
		return TypeLayout{Size: 4, Align: 4}
	case S64, U64, Pointer:
		return TypeLayout{Size: 8, Align: 8}
	case F32, F64:
		return TypeLayout{Size: 8, Align: 8}
	default:
		return TypeLayout{Size: 1, Align: 1}
	}
}

// ---------------------------------------------------------------------------
// Type definitions
// ---------------------------------------------------------------------------

// TypeDef is one entry in a unit's type table. Register and constant types
// are indices into that table. Name is the spelling the entry was declared
// under; for implicit entries it is the primitive's own name.
type TypeDef struct {
	Name string        `json:"name"`
	Prim PrimitiveType `json:"prim"`
}
