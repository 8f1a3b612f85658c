package mapfile

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gbdev/rgbds-go/pkg/section"
	"github.com/gbdev/rgbds-go/pkg/symbol"
)

func placedROM0(t *testing.T, sections *section.Table, name string, org uint32) *section.Section {
	t.Helper()
	sec, err := sections.CreateSection(name, section.TypeROM0, section.Normal, section.Constraint{})
	require.NoError(t, err)
	sec.Placed = true
	sec.Org = org
	sec.Bank = 0
	_, err = sec.Emit([]byte{0, 0, 0, 0})
	require.NoError(t, err)
	return sec
}

func TestWriteSym_SortsLabelsByBankThenAddress(t *testing.T) {
	symbols := symbol.NewTable()
	sections := section.NewTable(0)

	placedROM0(t, sections, "Second", 0x0200)
	placedROM0(t, sections, "First", 0x0100)

	require.NoError(t, symbols.AddLabel("Start", "Second", 0, true, symbol.Source{}))
	require.NoError(t, symbols.AddLabel("Init", "First", 0, true, symbol.Source{}))
	require.NoError(t, symbols.AddEqu("MAX_LIVES", 3, symbol.Source{}))

	var out strings.Builder
	require.NoError(t, WriteSym(&out, symbols, sections))

	lines := strings.Split(strings.TrimRight(out.String(), "\n"), "\n")
	assert.Equal(t, "; File generated by rgbds-go", lines[0])
	assert.Equal(t, "00:0100 Init", lines[1])
	assert.Equal(t, "00:0200 Start", lines[2])
	assert.Equal(t, "0x3 MAX_LIVES", lines[3])
}

func TestWriteSym_SkipsUnplacedLabels(t *testing.T) {
	symbols := symbol.NewTable()
	sections := section.NewTable(0)

	sec, err := sections.CreateSection("Floating", section.TypeROM0, section.Normal, section.Constraint{})
	require.NoError(t, err)
	require.NoError(t, symbols.AddLabel("Lost", sec.Name(), 0, true, symbol.Source{}))

	var out strings.Builder
	require.NoError(t, WriteSym(&out, symbols, sections))
	assert.NotContains(t, out.String(), "Lost")
}

func TestWriteSym_EscapesIllegalCharacters(t *testing.T) {
	escaped := escapeSymbolName("a b")
	assert.Equal(t, "a\\u0020b", escaped)
}

func TestWriteMap_GroupsBySectionTypeAndBank(t *testing.T) {
	symbols := symbol.NewTable()
	sections := section.NewTable(0)

	placedROM0(t, sections, "Header", 0x0100)
	require.NoError(t, symbols.AddLabel("EntryPoint", "Header", 0, true, symbol.Source{}))

	var out strings.Builder
	require.NoError(t, WriteMap(&out, symbols, sections, false))

	text := out.String()
	assert.Contains(t, text, "ROM0 bank #0:")
	assert.Contains(t, text, `SECTION: $0100-$0103 ($0004 bytes) ["Header"]`)
	assert.Contains(t, text, "$0100 = EntryPoint")
}

func TestWriteMap_NoSymbolsOmitsLabelLines(t *testing.T) {
	symbols := symbol.NewTable()
	sections := section.NewTable(0)

	placedROM0(t, sections, "Header", 0x0100)
	require.NoError(t, symbols.AddLabel("EntryPoint", "Header", 0, true, symbol.Source{}))

	var out strings.Builder
	require.NoError(t, WriteMap(&out, symbols, sections, true))

	assert.NotContains(t, out.String(), "EntryPoint")
	assert.Contains(t, out.String(), "SECTION:")
}
