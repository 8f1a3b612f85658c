package placement

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gbdev/rgbds-go/pkg/linkscript"
	"github.com/gbdev/rgbds-go/pkg/section"
)

func romSection(t *testing.T, tbl *section.Table, name string, typ section.Type, modifier section.Modifier, c section.Constraint, size int) *section.Section {
	t.Helper()
	s, err := tbl.CreateSection(name, typ, modifier, c)
	require.NoError(t, err)
	if typ.HasData() {
		_, err := s.Emit(make([]byte, size))
		require.NoError(t, err)
	} else {
		s.Reserve(uint32(size))
	}
	return s
}

func TestPlace_FixedOrgAndBankIsReservedExactly(t *testing.T) {
	tbl := section.NewTable(0)
	romSection(t, tbl, "Header", section.TypeROM0, section.Normal, section.Constraint{OrgFixed: true, Org: 0x100}, 0x50)

	require.NoError(t, Place(tbl, nil, DefaultConfig()))

	s, _ := tbl.FindByName("Header")
	assert.True(t, s.Placed)
	assert.Equal(t, uint32(0x100), s.Org)
	assert.Equal(t, uint32(0), s.Bank)
}

func TestPlace_TwoFixedOverlappingSectionsIsAnError(t *testing.T) {
	tbl := section.NewTable(0)
	romSection(t, tbl, "A", section.TypeROM0, section.Normal, section.Constraint{OrgFixed: true, Org: 0x100}, 0x20)
	romSection(t, tbl, "B", section.TypeROM0, section.Normal, section.Constraint{OrgFixed: true, Org: 0x110}, 0x20)

	err := Place(tbl, nil, DefaultConfig())
	assert.Error(t, err)
}

func TestPlace_BankFixedOnlySectionPacksFirstFitInThatBank(t *testing.T) {
	tbl := section.NewTable(0)
	romSection(t, tbl, "Pinned", section.TypeROMX, section.Normal, section.Constraint{BankFixed: true, Bank: 5}, 0x1000)

	require.NoError(t, Place(tbl, nil, DefaultConfig()))

	s, _ := tbl.FindByName("Pinned")
	assert.Equal(t, uint32(5), s.Bank)
	assert.Equal(t, uint32(0x4000), s.Org)
}

func TestPlace_FloatingSectionsPackLargestFirstAscendingBanks(t *testing.T) {
	tbl := section.NewTable(0)
	romSection(t, tbl, "Small", section.TypeROMX, section.Normal, section.Constraint{}, 0x10)
	romSection(t, tbl, "Big", section.TypeROMX, section.Normal, section.Constraint{}, 0x3FF0)

	require.NoError(t, Place(tbl, nil, DefaultConfig()))

	big, _ := tbl.FindByName("Big")
	small, _ := tbl.FindByName("Small")
	assert.Equal(t, uint32(1), big.Bank)
	assert.Equal(t, uint32(0x4000), big.Org)
	// Small is placed second (largest-first), landing in what Big left
	// behind at the tail of bank 1 rather than spilling into bank 2.
	assert.Equal(t, uint32(1), small.Bank)
	assert.Equal(t, uint32(0x4000+0x3FF0), small.Org)
}

func TestPlace_OutOfSpaceIsAnError(t *testing.T) {
	tbl := section.NewTable(0)
	romSection(t, tbl, "TooBig", section.TypeHRAM, section.Normal, section.Constraint{}, 0x100)

	err := Place(tbl, nil, DefaultConfig())
	assert.Error(t, err)
}

func TestPlace_TinyConfigGivesROM0TheFullBank(t *testing.T) {
	tbl := section.NewTable(0)
	romSection(t, tbl, "Big", section.TypeROM0, section.Normal, section.Constraint{}, 0x7000)

	cfg := DefaultConfig()
	cfg.Tiny = true
	require.NoError(t, Place(tbl, nil, cfg))

	s, _ := tbl.FindByName("Big")
	assert.True(t, s.Placed)
}

func TestPlace_WithoutTinyROM0IsLimitedTo16K(t *testing.T) {
	tbl := section.NewTable(0)
	romSection(t, tbl, "Big", section.TypeROM0, section.Normal, section.Constraint{}, 0x7000)

	err := Place(tbl, nil, DefaultConfig())
	assert.Error(t, err)
}

func TestPlace_WRAM0FullBankConfigAllowsEightKData(t *testing.T) {
	tbl := section.NewTable(0)
	romSection(t, tbl, "Scratch", section.TypeWRAM0, section.Normal, section.Constraint{}, 0x1800)

	cfg := DefaultConfig()
	cfg.WRAM0FullBank = true
	require.NoError(t, Place(tbl, nil, cfg))
}

func TestPlace_DMGModeForbidsVRAMBank1(t *testing.T) {
	tbl := section.NewTable(0)
	romSection(t, tbl, "CGBTiles", section.TypeVRAM, section.Normal, section.Constraint{BankFixed: true, Bank: 1}, 0x10)

	cfg := DefaultConfig()
	cfg.DMGMode = true
	err := Place(tbl, nil, cfg)
	assert.Error(t, err)
}

func TestPlace_ScrambleReversesBankOrderWithinLimit(t *testing.T) {
	tbl := section.NewTable(0)
	romSection(t, tbl, "First", section.TypeROMX, section.Normal, section.Constraint{}, 0x3FF0)

	cfg := DefaultConfig()
	cfg.Scramble[section.TypeROMX] = 3 // scramble across banks 1..3

	require.NoError(t, Place(tbl, nil, cfg))
	s, _ := tbl.FindByName("First")
	assert.Equal(t, uint32(3), s.Bank) // first candidate under a 3-bank scramble is the top of the window
}

func TestPlace_LinkerScriptPlacementOverridesFreePacking(t *testing.T) {
	tbl := section.NewTable(0)
	romSection(t, tbl, "Fixed", section.TypeROM0, section.Normal, section.Constraint{}, 0x10)

	script, err := linkscript.Parse(strings.NewReader("ROM0\nORG $200\n\"Fixed\"\n"), sizerFor(tbl), nil)
	require.NoError(t, err)

	require.NoError(t, Place(tbl, script, DefaultConfig()))
	s, _ := tbl.FindByName("Fixed")
	assert.Equal(t, uint32(0x200), s.Org)
}

func TestPlace_LinkerScriptConflictingWithSectionConstraintIsAnError(t *testing.T) {
	tbl := section.NewTable(0)
	romSection(t, tbl, "Fixed", section.TypeROM0, section.Normal, section.Constraint{OrgFixed: true, Org: 0x10}, 0x10)

	script, err := linkscript.Parse(strings.NewReader("ROM0\nORG $200\n\"Fixed\"\n"), sizerFor(tbl), nil)
	require.NoError(t, err)

	err = Place(tbl, script, DefaultConfig())
	assert.Error(t, err)
}

type tableSizer struct{ tbl *section.Table }

func (t tableSizer) SectionSize(name string) (uint32, bool) {
	s, ok := t.tbl.FindByName(name)
	if !ok {
		return 0, false
	}
	return s.Size(), true
}

func sizerFor(tbl *section.Table) tableSizer { return tableSizer{tbl: tbl} }
