package linkscript

import (
	"errors"
	"io"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gbdev/rgbds-go/pkg/section"
)

type fakeSizer map[string]uint32

func (f fakeSizer) SectionSize(name string) (uint32, bool) {
	v, ok := f[name]
	return v, ok
}

func TestParse_OrgThenSectionFixesAddressAndAdvancesCursor(t *testing.T) {
	script := `
ROM0
ORG $150
"Header"
"Entry"
`
	sizer := fakeSizer{"Header": 0x50, "Entry": 4}
	s, err := Parse(strings.NewReader(script), sizer, nil)
	require.NoError(t, err)
	require.Len(t, s.Placements, 2)

	header, ok := s.PlacementFor("Header")
	require.True(t, ok)
	assert.True(t, header.OrgFixed)
	assert.Equal(t, uint32(0x150), header.Org)
	assert.Equal(t, section.TypeROM0, header.Type)

	entry, ok := s.PlacementFor("Entry")
	require.True(t, ok)
	assert.True(t, entry.OrgFixed)
	assert.Equal(t, uint32(0x150+0x50), entry.Org)
}

func TestParse_FloatingSectionHasNoFixedOrg(t *testing.T) {
	script := `
ROMX 2
FLOATING
"Chunk"
`
	sizer := fakeSizer{"Chunk": 10}
	s, err := Parse(strings.NewReader(script), sizer, nil)
	require.NoError(t, err)

	p, ok := s.PlacementFor("Chunk")
	require.True(t, ok)
	assert.False(t, p.OrgFixed)
	assert.True(t, p.BankFixed)
	assert.Equal(t, uint32(2), p.Bank)
}

func TestParse_AlignAppliesToCursorAndNextPlacement(t *testing.T) {
	script := `
ROM0
ORG $101
ALIGN 4
"Aligned"
`
	sizer := fakeSizer{"Aligned": 1}
	s, err := Parse(strings.NewReader(script), sizer, nil)
	require.NoError(t, err)

	p, ok := s.PlacementFor("Aligned")
	require.True(t, ok)
	assert.Equal(t, uint32(0x110), p.Org) // $101 rounded up to the next multiple of 16
	assert.True(t, p.AlignFixed)
	assert.Equal(t, uint8(4), p.Align)
}

func TestParse_DSAdvancesFixedCursor(t *testing.T) {
	script := `
ROM0
ORG $0
DS 8
"AfterGap"
`
	sizer := fakeSizer{"AfterGap": 1}
	s, err := Parse(strings.NewReader(script), sizer, nil)
	require.NoError(t, err)

	p, ok := s.PlacementFor("AfterGap")
	require.True(t, ok)
	assert.Equal(t, uint32(8), p.Org)
}

func TestParse_DSWithoutFixedOrgIsAnError(t *testing.T) {
	script := `
ROM0
DS 8
`
	_, err := Parse(strings.NewReader(script), fakeSizer{}, nil)
	assert.Error(t, err)
}

func TestParse_DefaultBankAppliesToLaterSectionTypeLines(t *testing.T) {
	script := `
WRAMX 3
DEFAULT 3
ORG $D500
"Scratch"
WRAMX
"AlsoBank3"
`
	sizer := fakeSizer{"Scratch": 1, "AlsoBank3": 1}
	s, err := Parse(strings.NewReader(script), sizer, nil)
	require.NoError(t, err)

	p, ok := s.PlacementFor("AlsoBank3")
	require.True(t, ok)
	assert.Equal(t, uint32(3), p.Bank)
}

func TestParse_UnknownDirectiveIsAnError(t *testing.T) {
	_, err := Parse(strings.NewReader("BOGUS\n"), fakeSizer{}, nil)
	assert.Error(t, err)
}

func TestParse_SectionBeforeAnyTypeIsAnError(t *testing.T) {
	_, err := Parse(strings.NewReader(`"Oops"`+"\n"), fakeSizer{}, nil)
	assert.Error(t, err)
}

func TestParse_BankOutOfRangeForTypeIsAnError(t *testing.T) {
	_, err := Parse(strings.NewReader("ROM0 1\n"), fakeSizer{}, nil)
	assert.Error(t, err)
}

func TestParse_UnknownSectionSizeIsAnError(t *testing.T) {
	script := `
ROM0
ORG $0
"Mystery"
`
	_, err := Parse(strings.NewReader(script), fakeSizer{}, nil)
	assert.Error(t, err)
}

func TestParse_CommentsAndBlankLinesAreIgnored(t *testing.T) {
	script := `
; a comment
ROM0     ; also a comment

ORG $10
"X" ; trailing comment is not part of the section name
`
	sizer := fakeSizer{"X": 1}
	s, err := Parse(strings.NewReader(script), sizer, nil)
	require.NoError(t, err)
	require.Len(t, s.Placements, 1)
	assert.Equal(t, "X", s.Placements[0].Section)
}

type fakeIncluder struct {
	files map[string]string
}

func (f fakeIncluder) Open(path string) (io.ReadCloser, error) {
	content, ok := f.files[path]
	if !ok {
		return nil, errors.New("not found")
	}
	return io.NopCloser(strings.NewReader(content)), nil
}

func TestParse_IncludeSplicesAnotherScript(t *testing.T) {
	outer := `
ROM0
ORG $0
INCLUDE "inner.link"
"AfterInclude"
`
	inner := `"FromInner"`
	includer := fakeIncluder{files: map[string]string{"inner.link": inner}}
	sizer := fakeSizer{"FromInner": 2, "AfterInclude": 1}

	s, err := Parse(strings.NewReader(outer), sizer, includer)
	require.NoError(t, err)
	require.Len(t, s.Placements, 2)
	assert.Equal(t, "FromInner", s.Placements[0].Section)
	assert.Equal(t, "AfterInclude", s.Placements[1].Section)
	assert.Equal(t, uint32(2), s.Placements[1].Org)
}

func TestParse_IncludeWithoutIncluderIsAnError(t *testing.T) {
	script := `
ROM0
INCLUDE "whatever.link"
`
	_, err := Parse(strings.NewReader(script), fakeSizer{}, nil)
	assert.Error(t, err)
}
