package rpn

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRemapSymbolIDs_RewritesSymAndBankSym(t *testing.T) {
	syms := newMockSymbols()
	a := MakeSymbol("A", syms)
	b := MakeBankSymbol("B", syms)
	stream := append(append([]byte{}, a.RPN()...), b.RPN()...)

	remapped, err := RemapSymbolIDs(stream, func(id uint32) uint32 { return id + 100 })
	require.NoError(t, err)

	assert.Equal(t, byte(OpSym), remapped[0])
	assert.Equal(t, uint32(100), leUint32(remapped[1:5]))
	assert.Equal(t, byte(OpBankSym), remapped[5])
	assert.Equal(t, uint32(101), leUint32(remapped[6:10]))
}

func TestRemapSymbolIDs_LeavesSectionNamesAlone(t *testing.T) {
	stream := []byte{byte(OpStartofSect)}
	stream = append(stream, "ROM0"...)
	stream = append(stream, 0)
	stream = append(stream, byte(OpAdd))

	remapped, err := RemapSymbolIDs(stream, func(id uint32) uint32 { return id + 1 })
	require.NoError(t, err)
	assert.Equal(t, stream, remapped)
}

func TestRemapSymbolIDs_LeavesConstAndArithmeticAlone(t *testing.T) {
	e := MakeNumber(7)
	stream := e.RPN()

	remapped, err := RemapSymbolIDs(stream, func(id uint32) uint32 { return id + 1 })
	require.NoError(t, err)
	assert.Equal(t, stream, remapped)
}

func TestRemapSymbolIDs_BitIndexMaskByteSurvivesAndDoesntSwallowFollowingOpcode(t *testing.T) {
	stream := []byte{byte(OpConst), 3, 0, 0, 0, byte(OpBitIndex), 0x40, byte(OpAdd)}

	remapped, err := RemapSymbolIDs(stream, func(id uint32) uint32 { return id })
	require.NoError(t, err)
	assert.Equal(t, stream, remapped)
}

func TestRemapSymbolIDs_TruncatedSymIsAnError(t *testing.T) {
	stream := []byte{byte(OpSym), 1, 2}
	_, err := RemapSymbolIDs(stream, func(id uint32) uint32 { return id })
	assert.Error(t, err)
}

func TestRemapSymbolIDs_UnterminatedNameIsAnError(t *testing.T) {
	stream := []byte{byte(OpSizeofSect), 'R', 'O', 'M'}
	_, err := RemapSymbolIDs(stream, func(id uint32) uint32 { return id })
	assert.Error(t, err)
}
