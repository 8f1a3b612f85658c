// Package objfile implements the C7 object writer and C8 object reader
// of spec.md §4.6/§4.9/§6: a bit-exact little-endian binary format
// serializing the file-stack node DAG, the referenced symbol table, and
// the section table (data + deferred patches), plus a reader for the
// SDCC `.rel` variant that translates bytewise relocations into RPN.
package objfile

import "math"

// Magic is the 8-byte header: 4 ASCII bytes ("RGB9", version char '9')
// followed by the 4-byte little-endian revision, spec.md §6.
const Magic = "RGB9"

// Revision is the only object-file revision this package writes and the
// only one its reader accepts without refusing the file outright.
const Revision = 9

// NoSection is the sentinel section id for a constant (non-Label)
// symbol, spec.md §6's "-1 for constants".
const NoSection = -1

// FloatingAddr / FloatingBank are the sentinel u32 values spec.md §6
// reserves to mean "not fixed" for a section's org/bank fields.
const (
	FloatingAddr = math.MaxUint32
	FloatingBank = math.MaxUint32
)

// RootParent is the sentinel parentId spec.md §6 reserves for a node
// with no parent (the translation unit's root file).
const RootParent = math.MaxUint32

// SymbolType is the object-file visibility of a serialized symbol,
// spec.md §6: distinct from pkg/symbol.Kind, which is the assembler's
// own notion of what a symbol *is* (Equ/Var/Label/...).
type SymbolType byte

const (
	SymLocal SymbolType = iota
	SymImport
	SymExport
)

func (t SymbolType) String() string {
	switch t {
	case SymLocal:
		return "local"
	case SymImport:
		return "import"
	case SymExport:
		return "export"
	default:
		return "unknown"
	}
}

// NodeKind mirrors pkg/fstack.NodeType's wire encoding, spec.md §6:
// "u8 type (0=Rept, 1=File, 2=Macro)".
type NodeKind byte

const (
	NodeRept NodeKind = iota
	NodeFile
	NodeMacro
)

// AssertionSeverity is the severity a patch record's type byte encodes
// when it appears in the assertions list rather than a section's patch
// list, spec.md §6: "each: patch fields as above (patchType encodes
// severity)".
type AssertionSeverity byte

const (
	SeverityWarn AssertionSeverity = iota
	SeverityError
	SeverityFatal
)

func severityByte(s string) AssertionSeverity {
	switch s {
	case "warn":
		return SeverityWarn
	case "fatal":
		return SeverityFatal
	default:
		return SeverityError
	}
}

func (s AssertionSeverity) String() string {
	switch s {
	case SeverityWarn:
		return "warn"
	case SeverityFatal:
		return "fatal"
	default:
		return "error"
	}
}

// Node is the in-memory form of one file-stack DAG entry as read from
// (or about to be written to) an object file, spec.md §3's
// FileStackNode / §6's node record.
type Node struct {
	ParentID   uint32 // RootParent if this is the root
	LineNo     uint32
	Kind       NodeKind
	Name       string   // File/Macro only
	IterCounts []uint32 // Rept only, outermost first
}

// Symbol is the in-memory form of one symbol record, spec.md §6.
type Symbol struct {
	Name      string
	Type      SymbolType
	NodeID    uint32
	LineNo    uint32
	SectionID int32 // NoSection for constants
	Value     int32
}

// Patch is the in-memory form of one patch record, spec.md §3/§6.
type Patch struct {
	NodeID      uint32
	LineNo      uint32
	Offset      uint32
	PCSectionID uint32
	PCOffset    uint32
	Type        byte // section.PatchType, or an AssertionSeverity when under Assertions
	RPN         []byte
}

// Section is the in-memory form of one section record, spec.md §3/§6.
type Section struct {
	Name     string
	NodeID   uint32
	LineNo   uint32
	Size     uint32
	TypeByte byte // high bit Union, next bit Fragment, low 6 bits §3 type enum
	Org      uint32
	Bank     uint32
	Align    uint8
	AlignOfs uint32
	Data     []byte // only present if the type has data
	Patches  []Patch
}

// Assertion is the in-memory form of one assertion record, spec.md §3/§6.
type Assertion struct {
	Patch   Patch
	Message string
}

// HasData reports whether a section's type byte is one of the
// data-bearing types (ROM0/ROMX), mirroring pkg/section.Type.HasData
// without importing pkg/section from this low-level record type.
func (s Section) HasData() bool {
	const lowSixMask = 0x3F
	t := s.TypeByte & lowSixMask
	// pkg/section.TypeROM0 = 3, TypeROMX = 2, per pkg/section/types.go's
	// Type iota ordering (WRAM0, VRAM, ROMX, ROM0, ...).
	return t == 2 || t == 3
}

// IsUnion / IsFragment decode the section type byte's top two bits.
func (s Section) IsUnion() bool    { return s.TypeByte&0x80 != 0 }
func (s Section) IsFragment() bool { return s.TypeByte&0x40 != 0 }

// File is the fully-parsed in-memory form of one object file, the
// reader's output and the writer's input shape, spec.md §4.9.
type File struct {
	Nodes      []Node
	Symbols    []Symbol
	Sections   []Section
	Assertions []Assertion
}
