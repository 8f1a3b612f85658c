package section

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTable_CreateSection_Fresh(t *testing.T) {
	tbl := NewTable(0xFF)
	s, err := tbl.CreateSection("A", TypeROM0, Normal, Constraint{OrgFixed: true, Org: 0x100})
	require.NoError(t, err)
	assert.Equal(t, "A", s.Name())
	assert.True(t, s.Constraint().OrgFixed)
}

func TestTable_CreateSection_NormalRedeclarationFails(t *testing.T) {
	tbl := NewTable(0xFF)
	_, err := tbl.CreateSection("A", TypeROM0, Normal, Constraint{})
	require.NoError(t, err)

	_, err = tbl.CreateSection("A", TypeROM0, Normal, Constraint{})
	assert.Error(t, err)
}

func TestTable_CreateSection_MismatchedTypeFails(t *testing.T) {
	tbl := NewTable(0xFF)
	_, err := tbl.CreateSection("A", TypeROM0, Fragment, Constraint{})
	require.NoError(t, err)

	_, err = tbl.CreateSection("A", TypeWRAM0, Fragment, Constraint{})
	assert.Error(t, err)
}

func TestTable_CreateSection_ConflictingFixedOrgFails(t *testing.T) {
	tbl := NewTable(0xFF)
	_, err := tbl.CreateSection("A", TypeROM0, Union, Constraint{OrgFixed: true, Org: 0x100})
	require.NoError(t, err)

	_, err = tbl.CreateSection("A", TypeROM0, Union, Constraint{OrgFixed: true, Org: 0x200})
	assert.Error(t, err)
}

func TestUnion_SizeIsMaxOfMembers(t *testing.T) {
	tbl := NewTable(0xFF)
	s, err := tbl.CreateSection("U", TypeWRAM0, Union, Constraint{})
	require.NoError(t, err)

	s.Reserve(2) // Field1
	s, err = tbl.CreateSection("U", TypeWRAM0, Union, Constraint{})
	require.NoError(t, err)
	s.Reserve(4) // Field2
	s.FinalizeOpenMember()

	assert.Equal(t, uint32(4), s.Size())
	assert.Equal(t, []uint32{2, 4}, s.UnionMemberSizes())
}

func TestFragment_ContinuityAndOffsets(t *testing.T) {
	tbl := NewTable(0xFF)
	s, err := tbl.CreateSection("F", TypeROM0, Fragment, Constraint{})
	require.NoError(t, err)
	off1, _ := s.Emit([]byte{0x11, 0x22})

	s, err = tbl.CreateSection("F", TypeROM0, Fragment, Constraint{})
	require.NoError(t, err)
	off2, _ := s.Emit([]byte{0x33})
	s.FinalizeOpenMember()

	assert.Equal(t, uint32(0), off1)
	assert.Equal(t, uint32(2), off2)
	assert.Equal(t, []byte{0x11, 0x22, 0x33}, s.Data())
	assert.Equal(t, uint32(3), s.Size())
}

func TestSection_EmitIntoRAMSectionFails(t *testing.T) {
	s := newSection("W", TypeWRAM0, Normal, Constraint{})
	_, err := s.Emit([]byte{1})
	assert.Error(t, err)
}

func TestSection_AddPatchRejectedOnRAMSection(t *testing.T) {
	s := newSection("W", TypeWRAM0, Normal, Constraint{})
	err := s.AddPatch(Patch{Type: PatchByte})
	assert.Error(t, err)
}

func TestCheckSizes_FlagsOversizedSection(t *testing.T) {
	tbl := NewTable(0xFF)
	s, _ := tbl.CreateSection("Big", TypeHRAM, Normal, Constraint{})
	s.Reserve(TypeInfos[TypeHRAM].Size + 1)

	errs := tbl.CheckSizes()
	require.Len(t, errs, 1)
}

func TestComputeLoadOffset(t *testing.T) {
	assert.Equal(t, int32(10), ComputeLoadOffset(20, 10))
}
