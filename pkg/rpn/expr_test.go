package rpn

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type mockSymbols struct {
	constants map[string]int32
	banks     map[string]int32
	nextID    uint32
	ids       map[string]uint32
}

func newMockSymbols() *mockSymbols {
	return &mockSymbols{
		constants: map[string]int32{},
		banks:     map[string]int32{},
		ids:       map[string]uint32{},
	}
}

func (m *mockSymbols) ID(name string) uint32 {
	if id, ok := m.ids[name]; ok {
		return id
	}
	m.ids[name] = m.nextID
	m.nextID++
	return m.ids[name]
}

func (m *mockSymbols) ConstantValue(name string) (int32, bool) {
	v, ok := m.constants[name]
	return v, ok
}

func (m *mockSymbols) BankOf(name string) (int32, bool) {
	v, ok := m.banks[name]
	return v, ok
}

func TestMakeNumber_IsKnown(t *testing.T) {
	e := MakeNumber(42)
	assert.True(t, e.Known())
	assert.Equal(t, int32(42), e.Value())
}

func TestMakeSymbol_FoldsWhenConstant(t *testing.T) {
	syms := newMockSymbols()
	syms.constants["FOO"] = 7

	e := MakeSymbol("FOO", syms)
	require.True(t, e.Known())
	assert.Equal(t, int32(7), e.Value())
}

func TestMakeSymbol_UnknownProducesSymOpcode(t *testing.T) {
	syms := newMockSymbols()

	e := MakeSymbol("BAR", syms)
	require.False(t, e.Known())
	assert.Equal(t, byte(OpSym), e.RPN()[0])
	assert.Contains(t, e.Reason(), "BAR")
}

func TestMakeBinaryOp_BothKnownFolds(t *testing.T) {
	e, diags := MakeBinaryOp(MakeNumber(5), OpAdd, MakeNumber(3))
	assert.Empty(t, diags)
	require.True(t, e.Known())
	assert.Equal(t, int32(8), e.Value())
}

func TestMakeBinaryOp_OneUnknownMerges(t *testing.T) {
	syms := newMockSymbols()
	unknown := MakeSymbol("X", syms)

	e, diags := MakeBinaryOp(MakeNumber(3), OpAdd, unknown)
	assert.Empty(t, diags)
	require.False(t, e.Known())
	assert.Equal(t, unknown.Reason(), e.Reason())

	rpnBytes := e.RPN()
	assert.Equal(t, byte(OpConst), rpnBytes[0])
	assert.Equal(t, byte(OpAdd), rpnBytes[len(rpnBytes)-1])
}

func TestMakeBinaryOp_LogAndWithZeroCollapses(t *testing.T) {
	syms := newMockSymbols()
	unknown := MakeSymbol("X", syms)

	e, diags := MakeBinaryOp(MakeNumber(0), OpLogAnd, unknown)
	assert.Empty(t, diags)
	require.True(t, e.Known())
	assert.Equal(t, int32(0), e.Value())
}

func TestMakeBinaryOp_LogOrWithNonzeroCollapses(t *testing.T) {
	syms := newMockSymbols()
	unknown := MakeSymbol("X", syms)

	e, diags := MakeBinaryOp(MakeNumber(5), OpLogOr, unknown)
	assert.Empty(t, diags)
	require.True(t, e.Known())
	assert.Equal(t, int32(1), e.Value())
}

func TestFoldBinary_DivFloorsTowardNegativeInfinity(t *testing.T) {
	v, diags := foldBinary(-7, OpDiv, 2)
	assert.Empty(t, diags)
	assert.Equal(t, int32(-4), v)
}

func TestFoldBinary_ModSignMatchesDivisor(t *testing.T) {
	v, diags := foldBinary(-7, OpMod, 2)
	assert.Empty(t, diags)
	assert.Equal(t, int32(1), v)
}

func TestFoldBinary_IntMinDivNegOneWarns(t *testing.T) {
	v, diags := foldBinary(-1<<31, OpDiv, -1)
	require.Len(t, diags, 1)
	assert.Equal(t, "div", diags[0].Warning)
	assert.Equal(t, int32(-1<<31), v)
}

func TestFoldBinary_ExpNegativeIsFatal(t *testing.T) {
	_, diags := foldBinary(2, OpExp, -1)
	require.Len(t, diags, 1)
	assert.True(t, diags[0].Fatal)
}

func TestShiftLeft_SaturatesOnLargeAmount(t *testing.T) {
	v, diags := shiftLeft(1, 40)
	assert.Equal(t, int32(0), v)
	require.Len(t, diags, 1)
	assert.Equal(t, "shift-amount", diags[0].Warning)
}

func TestShiftRightArithmetic_SignExtends(t *testing.T) {
	v, diags := shiftRightArithmetic(-8, 1)
	assert.Empty(t, diags)
	assert.Equal(t, int32(-4), v)
}

func TestShiftRightLogical_DoesNotSignExtend(t *testing.T) {
	v, diags := shiftRightLogical(-8, 1)
	assert.Empty(t, diags)
	assert.True(t, v > 0)
}

func TestCheckNBit_FlagsOutOfRange(t *testing.T) {
	assert.Empty(t, checkNBit(127, 8))
	assert.NotEmpty(t, checkNBit(256, 8))
}

func TestMakeCheckRST_RejectsNonMultipleOf8(t *testing.T) {
	_, diags := MakeCheckRST(MakeNumber(10))
	require.Len(t, diags, 1)
	assert.True(t, diags[0].Fatal)
}

func TestMakeCheckBitIndex_RejectsOutOfRange(t *testing.T) {
	_, diags := MakeCheckBitIndex(MakeNumber(8), 0x40)
	require.Len(t, diags, 1)
	assert.True(t, diags[0].Fatal)
}

func TestMakeCheckBitIndex_DeferredEncodesOpcodeAndMask(t *testing.T) {
	sym := MakeSymbol("Flag", newMockSymbols())
	e, diags := MakeCheckBitIndex(sym, 0x40)
	require.Empty(t, diags)

	rpn := e.RPN()
	assert.Equal(t, byte(OpBitIndex), rpn[len(rpn)-2])
	assert.Equal(t, byte(0x40), rpn[len(rpn)-1])
}

func TestFixedPoint_RoundTrip(t *testing.T) {
	fp := NewFixedPoint(16)
	raw := fp.FromFloat(2.5)
	assert.InDelta(t, 2.5, fp.ToFloat(raw), 0.0001)
}

func TestFixedPoint_MulDiv(t *testing.T) {
	fp := NewFixedPoint(16)
	two := fp.FromFloat(2)
	three := fp.FromFloat(3)
	assert.InDelta(t, 6, fp.ToFloat(fp.Mul(two, three)), 0.001)
	assert.InDelta(t, 1.5, fp.ToFloat(fp.Div(three, two)), 0.001)
}
