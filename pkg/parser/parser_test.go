package parser

import (
	"testing"

	"github.com/gbdev/rgbds-go/pkg/diag"
	"github.com/gbdev/rgbds-go/pkg/fstack"
	"github.com/gbdev/rgbds-go/pkg/section"
	"github.com/gbdev/rgbds-go/pkg/symbol"
	"github.com/stretchr/testify/require"
)

// newTestParser wires a Parser over src exactly the way cmd/rgbasm would
// for a single translation unit, with no include search path.
func newTestParser(t *testing.T, src string) *Parser {
	t.Helper()
	sink, err := diag.NewSink("")
	require.NoError(t, err)

	symbols := symbol.NewTable()
	sections := section.NewTable(0)
	fstk := fstack.NewStack(64, nil)

	lex := fstack.NewLexer(fstack.NewViewedContent([]byte(src)), 1, func() string { return "_u0" })
	p := New(lex, fstk, symbols, sections, sink, DefaultEncoder{})
	lex.SetResolvers(p.equResolver(), p.interpResolver())
	return p
}

func TestParserEquDefinesConstant(t *testing.T) {
	p := newTestParser(t, "FOO EQU 42\n")
	require.NoError(t, p.Run())

	v, ok := p.symbols.ConstantValue("FOO")
	require.True(t, ok)
	require.EqualValues(t, 42, v)
}

func TestParserSetAllowsRedefinition(t *testing.T) {
	p := newTestParser(t, "COUNT SET 1\nCOUNT SET 2\n")
	require.NoError(t, p.Run())

	v, ok := p.symbols.ConstantValue("COUNT")
	require.True(t, ok)
	require.EqualValues(t, 2, v)
}

func TestParserEqusSubstitutesBareIdentifier(t *testing.T) {
	p := newTestParser(t, "GREETING EQUS \"\\\"hi\\\"\"\nSECTION \"main\", ROM0\nDB GREETING\n")
	require.NoError(t, p.Run())

	sect, ok := p.sections.FindByName("main")
	require.True(t, ok)
	require.Equal(t, []byte("hi"), sect.Data())
}

func TestParserRedefDispatchesToEquAndEqus(t *testing.T) {
	p := newTestParser(t, "X EQU 1\nREDEF X EQU 2\nNAME EQUS \"a\"\nREDEF NAME EQUS \"b\"\n")
	require.NoError(t, p.Run())

	v, ok := p.symbols.ConstantValue("X")
	require.True(t, ok)
	require.EqualValues(t, 2, v)

	sym, ok := p.symbols.FindExact("NAME")
	require.True(t, ok)
	require.Equal(t, "b", sym.String())
}

func TestParserGlobalAndLocalLabels(t *testing.T) {
	p := newTestParser(t, "SECTION \"main\", ROM0\nStart:\n.loop:\nDB 1\n")
	require.NoError(t, p.Run())

	sym, ok := p.symbols.FindExact("Start")
	require.True(t, ok)
	sectName, offset := sym.Label()
	require.Equal(t, "main", sectName)
	require.EqualValues(t, 0, offset)

	local, ok := p.symbols.FindExact("Start.loop")
	require.True(t, ok)
	_, offset = local.Label()
	require.EqualValues(t, 0, offset)
}

func TestParserExportedLabel(t *testing.T) {
	p := newTestParser(t, "SECTION \"main\", ROM0\nStart::\n")
	require.NoError(t, p.Run())

	sym, ok := p.symbols.FindExact("Start")
	require.True(t, ok)
	require.True(t, sym.Exported())
}

func TestParserSectionFixedAddressBankAlign(t *testing.T) {
	p := newTestParser(t, "SECTION \"bank table\", ROMX[$4010], BANK[3], ALIGN[4]\nDB 0\n")
	require.NoError(t, p.Run())

	sect, ok := p.sections.FindByName("bank table")
	require.True(t, ok)
	c := sect.Constraint()
	require.True(t, c.OrgFixed)
	require.EqualValues(t, 0x4010, c.Org)
	require.True(t, c.BankFixed)
	require.EqualValues(t, 3, c.Bank)
	require.True(t, c.AlignFixed)
	require.EqualValues(t, 4, c.Align)
}

func TestParserSectionFragmentModifier(t *testing.T) {
	p := newTestParser(t, "SECTION FRAGMENT \"shared\", ROM0\nDB 1\n")
	require.NoError(t, p.Run())

	sect, ok := p.sections.FindByName("shared")
	require.True(t, ok)
	require.Equal(t, section.Fragment, sect.Modifier())
}

func TestParserSectionUnionModifierAndBlockForm(t *testing.T) {
	p := newTestParser(t, "SECTION UNION \"vars\", WRAM0\nDS 4\nNEXTU\nDS 2\nENDU\n")
	require.NoError(t, p.Run())

	sect, ok := p.sections.FindByName("vars")
	require.True(t, ok)
	require.Equal(t, section.Union, sect.Modifier())
	require.Equal(t, []uint32{4, 2}, sect.UnionMemberSizes())
}

func TestParserDataDirectivesEmitBytes(t *testing.T) {
	p := newTestParser(t, "SECTION \"main\", ROM0\nDB 1, 2, \"AB\"\nDW $1234\nDL $01020304\n")
	require.NoError(t, p.Run())

	sect, ok := p.sections.FindByName("main")
	require.True(t, ok)
	require.Equal(t, []byte{1, 2, 'A', 'B', 0x34, 0x12, 0x04, 0x03, 0x02, 0x01}, sect.Data())
}

func TestParserDataDirectiveUnknownExpressionEmitsPatch(t *testing.T) {
	p := newTestParser(t, "SECTION \"main\", ROM0\nDB Later\nLater EQU 7\n")
	require.NoError(t, p.Run())

	sect, ok := p.sections.FindByName("main")
	require.True(t, ok)
	require.Len(t, sect.Patches(), 1)
	patch := sect.Patches()[0]
	require.Equal(t, section.PatchByte, patch.Type)
	require.EqualValues(t, 0, patch.Offset)
	require.EqualValues(t, 2, patch.Source.Line)
}

func TestParserDSReservesOrFills(t *testing.T) {
	p := newTestParser(t, "SECTION \"main\", ROM0\nDS 3, $AA\nSECTION \"ram\", WRAM0\nDS 5\n")
	require.NoError(t, p.Run())

	rom, ok := p.sections.FindByName("main")
	require.True(t, ok)
	require.Equal(t, []byte{0xAA, 0xAA, 0xAA}, rom.Data())

	ram, ok := p.sections.FindByName("ram")
	require.True(t, ok)
	require.EqualValues(t, 5, ram.Size())
	require.Empty(t, ram.Data())
}

func TestParserAlignPadsToBoundary(t *testing.T) {
	p := newTestParser(t, "SECTION \"main\", ROM0\nDB 1, 2, 3\nALIGN 2\nDB 9\n")
	require.NoError(t, p.Run())

	sect, ok := p.sections.FindByName("main")
	require.True(t, ok)
	require.Equal(t, []byte{1, 2, 3, 0, 9}, sect.Data())
}

func TestParserIfElifElseSkipsDeadBranches(t *testing.T) {
	src := "SECTION \"main\", ROM0\n" +
		"IF 0\nDB 1\nELIF 0\nDB 2\nELSE\nDB 3\nENDC\n" +
		"IF 1\nDB 4\nELSE\nDB 5\nENDC\n"
	p := newTestParser(t, src)
	require.NoError(t, p.Run())

	sect, ok := p.sections.FindByName("main")
	require.True(t, ok)
	require.Equal(t, []byte{3, 4}, sect.Data())
}

func TestParserReptRepeatsBodyAndExpandsCount(t *testing.T) {
	src := "SECTION \"main\", ROM0\nREPT 3\nDB 1\nENDR\n"
	p := newTestParser(t, src)
	require.NoError(t, p.Run())

	sect, ok := p.sections.FindByName("main")
	require.True(t, ok)
	require.Equal(t, []byte{1, 1, 1}, sect.Data())
}

func TestParserForIteratesLoopVariable(t *testing.T) {
	src := "SECTION \"main\", ROM0\nFOR N, 0, 3\nDB N\nENDR\n"
	p := newTestParser(t, src)
	require.NoError(t, p.Run())

	sect, ok := p.sections.FindByName("main")
	require.True(t, ok)
	require.Equal(t, []byte{0, 1, 2}, sect.Data())
}

func TestParserMacroDefinitionAndInvocationWithArgs(t *testing.T) {
	src := "PUSHBYTE MACRO\nDB \\1\nENDM\nSECTION \"main\", ROM0\nPUSHBYTE 9\n"
	p := newTestParser(t, src)
	require.NoError(t, p.Run())

	sect, ok := p.sections.FindByName("main")
	require.True(t, ok)
	require.Equal(t, []byte{9}, sect.Data())
}

func TestParserExportAndPurge(t *testing.T) {
	p := newTestParser(t, "FOO EQU 1\nBAR EQU 2\nEXPORT FOO\nPURGE BAR\n")
	require.NoError(t, p.Run())

	sym, ok := p.symbols.FindExact("FOO")
	require.True(t, ok)
	require.True(t, sym.Exported())

	_, ok = p.symbols.FindExact("BAR")
	require.False(t, ok)
}

func TestParserExpressionPrecedenceAndFolding(t *testing.T) {
	p := newTestParser(t, "RESULT EQU 2 + 3 * 4 - 1\nPOWER EQU 2 ** 3 ** 2\nMASK EQU HIGH($1234)\n")
	require.NoError(t, p.Run())

	v, ok := p.symbols.ConstantValue("RESULT")
	require.True(t, ok)
	require.EqualValues(t, 13, v)

	v, ok = p.symbols.ConstantValue("POWER")
	require.True(t, ok)
	require.EqualValues(t, 512, v) // right-associative: 2 ** (3 ** 2)

	v, ok = p.symbols.ConstantValue("MASK")
	require.True(t, ok)
	require.EqualValues(t, 0x12, v)
}

func TestParserFixedPointBuiltinsFoldAgainstFixpointSemantics(t *testing.T) {
	p := newTestParser(t, "PRODUCT EQU MUL(2.0, 3.0)\nZERO EQU SIN(0.0)\nSTRAIGHT EQU ATAN2(0.0, 1.0)\n")
	require.NoError(t, p.Run())

	v, ok := p.symbols.ConstantValue("PRODUCT")
	require.True(t, ok)
	require.EqualValues(t, 6<<16, v) // 2.0 * 3.0 == 6.0 in Q16.16

	v, ok = p.symbols.ConstantValue("ZERO")
	require.True(t, ok)
	require.EqualValues(t, 0, v)

	v, ok = p.symbols.ConstantValue("STRAIGHT")
	require.True(t, ok)
	require.EqualValues(t, 0, v)
}

func TestParserFixedPointBuiltinRejectsNonConstantArgument(t *testing.T) {
	p := newTestParser(t, "RESULT EQU SIN(Later)\nLater EQU 0\n")
	require.NoError(t, p.Run())
	require.Equal(t, 1, p.sink.Counters().Errors)
}

func TestParserUnknownMnemonicReportsError(t *testing.T) {
	p := newTestParser(t, "SECTION \"main\", ROM0\nnop\nbogus\n")
	require.NoError(t, p.Run())
	require.Equal(t, 1, p.sink.Counters().Errors)
}
