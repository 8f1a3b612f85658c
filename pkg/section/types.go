// Package section implements the section table of spec.md §3/§4.5: named
// sections with placement constraints, data, and patches.
package section

import "github.com/gbdev/rgbds-go/pkg/fstack"

// Type is the memory region a section belongs to, spec.md §3.
type Type byte

const (
	TypeWRAM0 Type = iota
	TypeVRAM
	TypeROMX
	TypeROM0
	TypeHRAM
	TypeWRAMX
	TypeSRAM
	TypeOAM
	numTypes
)

func (t Type) String() string {
	names := [...]string{"WRAM0", "VRAM", "ROMX", "ROM0", "HRAM", "WRAMX", "SRAM", "OAM"}
	if int(t) < len(names) {
		return names[t]
	}
	return "INVALID"
}

// HasData reports whether a section type carries emitted bytes (ROM0,
// ROMX) as opposed to merely reserving address space (everything else).
func (t Type) HasData() bool { return t == TypeROM0 || t == TypeROMX }

// TypeInfo describes a section type's address window, grounded on the
// original `sectionTypeInfo` table (src/linkdefs.cpp): start address,
// maximum size, and the inclusive range of valid banks.
type TypeInfo struct {
	StartAddr uint32
	Size      uint32
	FirstBank uint32
	LastBank  uint32
}

// TypeInfos is indexed by Type and gives every region's placement window,
// used by both the section size-cap check here and pkg/placement's
// per-(type,bank) free lists.
var TypeInfos = [numTypes]TypeInfo{
	TypeWRAM0: {StartAddr: 0xC000, Size: 0x2000, FirstBank: 0, LastBank: 0},
	TypeVRAM:  {StartAddr: 0x8000, Size: 0x2000, FirstBank: 0, LastBank: 1},
	TypeROMX:  {StartAddr: 0x4000, Size: 0x4000, FirstBank: 1, LastBank: 65535},
	TypeROM0:  {StartAddr: 0x0000, Size: 0x8000, FirstBank: 0, LastBank: 0},
	TypeHRAM:  {StartAddr: 0xFF80, Size: 0x007F, FirstBank: 0, LastBank: 0},
	TypeWRAMX: {StartAddr: 0xD000, Size: 0x1000, FirstBank: 1, LastBank: 7},
	TypeSRAM:  {StartAddr: 0xA000, Size: 0x2000, FirstBank: 0, LastBank: 255},
	TypeOAM:   {StartAddr: 0xFE00, Size: 0x00A0, FirstBank: 0, LastBank: 0},
}

// Modifier is the Union/Fragment/Normal declaration kind, spec.md §3.
type Modifier byte

const (
	Normal Modifier = iota
	Union
	Fragment
)

func (m Modifier) String() string {
	switch m {
	case Union:
		return "union"
	case Fragment:
		return "fragment"
	default:
		return "regular"
	}
}

// PatchType is the write-back width/kind of a Patch, spec.md §3.
type PatchType byte

const (
	PatchByte PatchType = iota
	PatchWord
	PatchLong
	PatchJr
)

// Source is a rendered backtrace location, mirroring pkg/symbol.Source;
// kept as its own type so pkg/section has no dependency on pkg/symbol.
// Node anchors this patch/assertion in the file-stack DAG for object-file
// emission (spec.md §6's per-patch nodeId); may be nil in tests.
type Source struct {
	Description string
	Line        int
	Node        *fstack.Node
}

// Patch is a point in a section's data requiring a link-time value
// substitution, spec.md §3.
type Patch struct {
	Type        PatchType
	Offset      uint32
	PCSection   string
	PCOffset    uint32
	Source      Source
	RPN         []byte
}

// Assertion is a patch whose value is interpreted as a boolean condition,
// spec.md §3.
type Assertion struct {
	Patch    Patch
	Severity string // "warn", "error", "fatal"
	Message  string
}
