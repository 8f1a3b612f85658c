package rgblink

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gbdev/rgbds-go/pkg/section"
)

func TestParseScramble_DefaultsToTypeLastBank(t *testing.T) {
	result, err := parseScramble("ROMX")
	require.NoError(t, err)
	assert.Equal(t, uint32(section.TypeInfos[section.TypeROMX].LastBank), result[section.TypeROMX])
}

func TestParseScramble_HonorsExplicitLimit(t *testing.T) {
	result, err := parseScramble("ROMX=4,SRAM=1")
	require.NoError(t, err)
	assert.Equal(t, uint32(4), result[section.TypeROMX])
	assert.Equal(t, uint32(1), result[section.TypeSRAM])
}

func TestParseScramble_EmptySpecIsEmptyMap(t *testing.T) {
	result, err := parseScramble("")
	require.NoError(t, err)
	assert.Empty(t, result)
}

func TestParseScramble_RejectsUnknownRegion(t *testing.T) {
	_, err := parseScramble("VRAM")
	assert.Error(t, err)
}

func TestScrambleRegion(t *testing.T) {
	for _, tc := range []struct {
		name string
		want section.Type
	}{
		{"ROMX", section.TypeROMX},
		{"romx", section.TypeROMX},
		{"WRAMX", section.TypeWRAMX},
		{"SRAM", section.TypeSRAM},
	} {
		typ, ok := scrambleRegion(tc.name)
		assert.True(t, ok)
		assert.Equal(t, tc.want, typ)
	}

	_, ok := scrambleRegion("OAM")
	assert.False(t, ok)
}

func TestRomOffset_ROM0UsesOrgDirectly(t *testing.T) {
	sections := section.NewTable(0)
	sec, err := sections.CreateSection("Header", section.TypeROM0, section.Normal, section.Constraint{})
	require.NoError(t, err)
	sec.Org = 0x150

	assert.Equal(t, uint32(0x150), romOffset(sec))
}

func TestRomOffset_ROMXMapsByBank(t *testing.T) {
	sections := section.NewTable(0)
	sec, err := sections.CreateSection("Bank3", section.TypeROMX, section.Normal, section.Constraint{})
	require.NoError(t, err)
	sec.Bank = 3
	sec.Org = 0x5000

	assert.Equal(t, uint32(0xD000), romOffset(sec))
}

func TestWriteROM_PadsToMinimumSizeByDefault(t *testing.T) {
	sections := section.NewTable(0)
	sec, err := sections.CreateSection("Header", section.TypeROM0, section.Normal, section.Constraint{})
	require.NoError(t, err)
	sec.Placed = true
	sec.Org = 0x100
	_, err = sec.Emit([]byte{0xC3, 0x50, 0x01})
	require.NoError(t, err)

	dir := t.TempDir()
	path := filepath.Join(dir, "out.gb")
	require.NoError(t, writeROM(path, sections, 0xFF, false, false))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Len(t, data, bankSize*2)
	assert.Equal(t, []byte{0xC3, 0x50, 0x01}, data[0x100:0x103])
	assert.Equal(t, byte(0xFF), data[0x103])
}

func TestWriteROM_NoPaddingTrimsToHighWaterMark(t *testing.T) {
	sections := section.NewTable(0)
	sec, err := sections.CreateSection("Header", section.TypeROM0, section.Normal, section.Constraint{})
	require.NoError(t, err)
	sec.Placed = true
	sec.Org = 0x100
	_, err = sec.Emit([]byte{0xC3, 0x50, 0x01})
	require.NoError(t, err)

	dir := t.TempDir()
	path := filepath.Join(dir, "out.gb")
	require.NoError(t, writeROM(path, sections, 0xFF, true, true))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Len(t, data, 0x103)
}

func TestWriteROM_SkipsUnplacedSections(t *testing.T) {
	sections := section.NewTable(0)
	sec, err := sections.CreateSection("Floating", section.TypeROM0, section.Normal, section.Constraint{})
	require.NoError(t, err)
	_, err = sec.Emit([]byte{0x11, 0x22})
	require.NoError(t, err)

	dir := t.TempDir()
	path := filepath.Join(dir, "out.gb")
	require.NoError(t, writeROM(path, sections, 0x00, false, false))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	for _, b := range data {
		assert.Equal(t, byte(0x00), b)
	}
}

func TestTableSizer_AdaptsSectionTableSizeLookup(t *testing.T) {
	sections := section.NewTable(0)
	sec, err := sections.CreateSection("Data", section.TypeWRAM0, section.Normal, section.Constraint{})
	require.NoError(t, err)
	sec.Reserve(16)

	sizer := tableSizer{sections}
	size, ok := sizer.SectionSize("Data")
	require.True(t, ok)
	assert.Equal(t, uint32(16), size)

	_, ok = sizer.SectionSize("Missing")
	assert.False(t, ok)
}
