package symbol

import (
	"testing"

	"github.com/gbdev/rgbds-go/pkg/diag"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTable_AddEquAndFindExact(t *testing.T) {
	tbl := NewTable()
	require.NoError(t, tbl.AddEqu("X", 5, Source{Description: "main.asm", Line: 1}))

	sym, ok := tbl.FindExact("X")
	require.True(t, ok)
	assert.Equal(t, KindEqu, sym.Kind())
	assert.Equal(t, int32(5), sym.Value())
}

func TestTable_RedefiningWithoutRedefFails(t *testing.T) {
	tbl := NewTable()
	require.NoError(t, tbl.AddEqu("X", 5, Source{}))

	err := tbl.AddEqu("X", 6, Source{})
	assert.ErrorIs(t, err, diag.ErrAlreadyDefined)
}

func TestTable_RedefEquOverwrites(t *testing.T) {
	tbl := NewTable()
	require.NoError(t, tbl.AddEqu("X", 5, Source{}))
	require.NoError(t, tbl.RedefEqu("X", 6, Source{}))

	sym, _ := tbl.FindExact("X")
	assert.Equal(t, int32(6), sym.Value())
}

func TestTable_RefUpgradesToEqu(t *testing.T) {
	tbl := NewTable()
	_, err := tbl.Ref("X", Source{})
	require.NoError(t, err)

	require.NoError(t, tbl.AddEqu("X", 9, Source{}))
	sym, _ := tbl.FindExact("X")
	assert.Equal(t, KindEqu, sym.Kind())
}

func TestTable_ScopeQualification(t *testing.T) {
	tbl := NewTable()
	require.NoError(t, tbl.AddLabel("Global", "ROM0", 0, false, Source{}))
	require.NoError(t, tbl.AddLocalLabel(".local", "ROM0", 4, false, Source{}))

	direct, ok := tbl.FindExact("Global.local")
	require.True(t, ok)

	scoped, ok := tbl.FindScoped(".local")
	require.True(t, ok)
	assert.Same(t, direct, scoped)
}

func TestTable_PurgeThenReferenceReportsAsPurged(t *testing.T) {
	tbl := NewTable()
	require.NoError(t, tbl.AddEqu("X", 1, Source{}))
	require.NoError(t, tbl.Purge("X"))

	assert.True(t, tbl.IsPurged("X"))
	err := tbl.AddEqu("X", 2, Source{})
	assert.ErrorIs(t, err, diag.ErrPurged)
}

func TestTable_BuiltinCannotBeRedefinedOrPurged(t *testing.T) {
	tbl := NewTable()
	tbl.AddBuiltin("@", func() (int32, bool) { return 0x100, true })

	assert.Error(t, tbl.AddEqu("@", 1, Source{}))
	assert.Error(t, tbl.Purge("@"))
}

func TestTable_AnonLabelsAndBackReferences(t *testing.T) {
	tbl := NewTable()
	first := tbl.AddAnonLabel("ROM0", 0, Source{})
	second := tbl.AddAnonLabel("ROM0", 2, Source{})

	assert.NotEqual(t, first, second)

	name, ok := tbl.MakeAnonLabelName(1, true)
	require.True(t, ok)
	assert.Equal(t, second, name)
}

func TestTable_ExportRequiresLabel(t *testing.T) {
	tbl := NewTable()
	require.NoError(t, tbl.AddEqu("X", 1, Source{}))
	assert.Error(t, tbl.Export("X"))

	require.NoError(t, tbl.AddLabel("Y", "ROM0", 0, false, Source{}))
	assert.NoError(t, tbl.Export("Y"))
}
