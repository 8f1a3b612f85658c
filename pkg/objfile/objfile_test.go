package objfile

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gbdev/rgbds-go/pkg/section"
	"github.com/gbdev/rgbds-go/pkg/symbol"
)

func TestWriteThenRead_RoundTripsAConstant(t *testing.T) {
	symbols := symbol.NewTable()
	require.NoError(t, symbols.AddEqu("VAL", 42, symbol.Source{Description: "test", Line: 1}))
	sections := section.NewTable(0)

	file, err := BuildFile(symbols, sections)
	require.NoError(t, err)

	var buf bytes.Buffer
	require.NoError(t, Write(&buf, file))

	got, err := Read(&buf)
	require.NoError(t, err)
	assert.Len(t, got.Symbols, 0) // VAL was never referenced or exported, so it got no id.
}

func TestWriteThenRead_RoundTripsAnExportedLabel(t *testing.T) {
	symbols := symbol.NewTable()
	sections := section.NewTable(0)

	sect, err := sections.CreateSection("ROM", section.TypeROM0, section.Normal, section.Constraint{})
	require.NoError(t, err)
	_, err = sect.Emit([]byte{0x11, 0x22, 0x33})
	require.NoError(t, err)

	require.NoError(t, symbols.AddLabel("Start", "ROM", 0, true, symbol.Source{Description: "test", Line: 1}))

	file, err := BuildFile(symbols, sections)
	require.NoError(t, err)

	var buf bytes.Buffer
	require.NoError(t, Write(&buf, file))

	got, err := Read(&buf)
	require.NoError(t, err)

	require.Len(t, got.Sections, 1)
	assert.Equal(t, "ROM", got.Sections[0].Name)
	assert.Equal(t, []byte{0x11, 0x22, 0x33}, got.Sections[0].Data)
	assert.True(t, got.Sections[0].HasData())

	require.Len(t, got.Symbols, 1)
	assert.Equal(t, "Start", got.Symbols[0].Name)
	assert.Equal(t, SymExport, got.Symbols[0].Type)
	assert.Equal(t, int32(0), got.Symbols[0].SectionID)
	assert.Equal(t, int32(0), got.Symbols[0].Value)
}

func TestWriteThenRead_RejectsBadMagic(t *testing.T) {
	_, err := Read(bytes.NewReader([]byte("NOPE1234567890")))
	assert.Error(t, err)
}

func TestWriteThenRead_RejectsWrongRevision(t *testing.T) {
	var buf bytes.Buffer
	buf.WriteString(Magic)
	buf.Write([]byte{99, 0, 0, 0}) // revision 99, little-endian
	buf.Write([]byte{0, 0, 0, 0})  // nbSymbols
	buf.Write([]byte{0, 0, 0, 0})  // nbSections
	buf.Write([]byte{0, 0, 0, 0})  // nbNodes

	_, err := Read(&buf)
	assert.Error(t, err)
}

func TestWrite_RootNodeIsWrittenLast(t *testing.T) {
	symbols := symbol.NewTable()
	sections := section.NewTable(0)

	sect, err := sections.CreateSection("ROM", section.TypeROM0, section.Normal, section.Constraint{})
	require.NoError(t, err)
	_, err = sect.Emit([]byte{0xAB})
	require.NoError(t, err)
	require.NoError(t, symbols.AddLabel("Entry", "ROM", 0, true, symbol.Source{Description: "main.asm", Line: 4}))

	file, err := BuildFile(symbols, sections)
	require.NoError(t, err)
	require.NotEmpty(t, file.Nodes)

	root := file.Nodes[len(file.Nodes)-1]
	assert.Equal(t, uint32(RootParent), root.ParentID)
}
