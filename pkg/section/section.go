package section

import "fmt"

// Section is a named block of bytes (ROM0/ROMX) or reserved address
// space (everything else), with placement constraints, patches, and
// (for Union/Fragment) multiple contributing members, spec.md §3/§4.5.
type Section struct {
	name       string
	typ        Type
	modifier   Modifier
	constraint Constraint

	size    uint32
	data    []byte
	patches []Patch

	// Bookkeeping for the currently open Union member or Fragment piece.
	memberOffset uint32
	memberSize   uint32

	fragmentPieces    []uint32 // sizes of closed fragment pieces, in order
	unionMemberSizes  []uint32 // sizes of closed union members

	// Filled in by pkg/placement once layout is decided.
	Placed bool
	Org    uint32
	Bank   uint32
}

func newSection(name string, typ Type, modifier Modifier, constraint Constraint) *Section {
	s := &Section{name: name, typ: typ, modifier: modifier, constraint: constraint}
	if typ.HasData() {
		s.data = []byte{}
	}
	return s
}

func (s *Section) Name() string             { return s.name }
func (s *Section) Type() Type                { return s.typ }
func (s *Section) Modifier() Modifier        { return s.modifier }
func (s *Section) Constraint() Constraint    { return s.constraint }
func (s *Section) Size() uint32              { return s.size }
func (s *Section) Data() []byte              { return s.data }
func (s *Section) Patches() []Patch          { return s.patches }
func (s *Section) FragmentPieces() []uint32  { return s.fragmentPieces }
func (s *Section) UnionMemberSizes() []uint32 { return s.unionMemberSizes }

// Emit appends bytes to a ROM-data section's content, returning the
// in-section offset the data was written at. Emitting into a non-ROM
// type is an error, per spec.md §4.5.
func (s *Section) Emit(bytes []byte) (uint32, error) {
	if !s.typ.HasData() {
		return 0, fmt.Errorf("cannot emit data into section %q: type %s has no data", s.name, s.typ)
	}
	offset := s.memberOffset + s.memberSize
	s.data = append(s.data, bytes...)
	s.memberSize += uint32(len(bytes))
	if s.modifier != Union {
		s.size = s.memberOffset + s.memberSize
	} else if s.memberSize > s.size {
		s.size = s.memberSize
	}
	return offset, nil
}

// Reserve advances the section by n bytes (`ds`): a ROM section gets n
// zero bytes appended to its data, any other type only grows in size.
// Returns the in-section offset reserved.
func (s *Section) Reserve(n uint32) uint32 {
	offset := s.memberOffset + s.memberSize
	s.memberSize += n
	if s.typ.HasData() {
		s.data = append(s.data, make([]byte, n)...)
	}
	if s.modifier != Union {
		s.size = s.memberOffset + s.memberSize
	} else if s.memberSize > s.size {
		s.size = s.memberSize
	}
	return offset
}

// AddPatch registers a link-time patch. Patches on sections with no data
// (RAM) are disallowed at emit time, per spec.md §4.8.
func (s *Section) AddPatch(p Patch) error {
	if !s.typ.HasData() {
		return fmt.Errorf("cannot patch section %q: type %s has no data to patch", s.name, s.typ)
	}
	s.patches = append(s.patches, p)
	return nil
}

// nextFragmentPiece closes the current fragment piece and opens a new one
// at the section's current end, spec.md §4.5's "Fragment appends" rule.
func (s *Section) nextFragmentPiece() {
	s.fragmentPieces = append(s.fragmentPieces, s.memberSize)
	s.memberOffset = s.size
	s.memberSize = 0
}

// nextUnionMember closes the current union member (updating the running
// max size) and resets the write cursor to offset 0 for the next member.
func (s *Section) nextUnionMember() {
	s.unionMemberSizes = append(s.unionMemberSizes, s.memberSize)
	if s.memberSize > s.size {
		s.size = s.memberSize
	}
	s.memberOffset = 0
	s.memberSize = 0
}

// NextMember closes the currently open Union member or Fragment piece
// and opens a fresh one at the appropriate cursor position, the action
// a block-form NEXTU (or a repeated FRAGMENT marker) performs on a
// section that is still open, as opposed to FinalizeOpenMember below
// which closes the last member once the block itself ends.
func (s *Section) NextMember() {
	switch s.modifier {
	case Fragment:
		s.nextFragmentPiece()
	case Union:
		s.nextUnionMember()
	}
}

// FinalizeOpenMember closes whatever Union member or Fragment piece is
// still open (called once the section's source block ends), so
// FragmentPieces/UnionMemberSizes reflect the last piece too.
func (s *Section) FinalizeOpenMember() {
	switch s.modifier {
	case Fragment:
		s.fragmentPieces = append(s.fragmentPieces, s.memberSize)
	case Union:
		s.unionMemberSizes = append(s.unionMemberSizes, s.memberSize)
		if s.memberSize > s.size {
			s.size = s.memberSize
		}
	}
}

// CurrentOffset is the in-section offset the next emitted byte would
// land at — the assembler's `@`/PC-within-section bookkeeping.
func (s *Section) CurrentOffset() uint32 { return s.memberOffset + s.memberSize }

// ComputeLoadOffset implements spec.md §4.5's LOAD block offset rule:
// loadOffset = curOffset - newSection.size, so symbols defined inside the
// LOAD block land at the right address within the RAM section even
// though their bytes are emitted into the enclosing ROM section.
func ComputeLoadOffset(curOffset uint32, newSectionSize uint32) int32 {
	return int32(curOffset) - int32(newSectionSize)
}
