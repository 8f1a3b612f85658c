package rgbasm

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gbdev/rgbds-go/pkg/symbol"
)

func TestDefaultObjectPath(t *testing.T) {
	assert.Equal(t, "main.o", defaultObjectPath("main.asm"))
	assert.Equal(t, "noext.o", defaultObjectPath("noext"))
	assert.Equal(t, "a.o", defaultObjectPath("-"))
}

func TestApplyDefines_DefaultsToOne(t *testing.T) {
	symbols := symbol.NewTable()
	require.NoError(t, applyDefines(symbols, []string{"DEBUG"}))

	sym, ok := symbols.FindExact("DEBUG")
	require.True(t, ok)
	assert.Equal(t, symbol.KindStringEqu, sym.Kind())
	assert.Equal(t, "1", sym.String())
}

func TestApplyDefines_SplitsOnFirstEquals(t *testing.T) {
	symbols := symbol.NewTable()
	require.NoError(t, applyDefines(symbols, []string{"VERSION=1=2"}))

	sym, ok := symbols.FindExact("VERSION")
	require.True(t, ok)
	assert.Equal(t, symbol.KindStringEqu, sym.Kind())
	assert.Equal(t, "1=2", sym.String())
}

func TestApplyDefines_RejectsRedefinition(t *testing.T) {
	symbols := symbol.NewTable()
	require.NoError(t, applyDefines(symbols, []string{"FOO=1"}))
	assert.Error(t, applyDefines(symbols, []string{"FOO=2"}))
}

func TestWriteDepFile_DefaultTargetIsObjectPath(t *testing.T) {
	dir := t.TempDir()
	depPath := filepath.Join(dir, "main.d")
	depTarget, depTargetQ, depPhony = "", "", false

	require.NoError(t, writeDepFile(depPath, "main.o", "main.asm"))

	contents, err := os.ReadFile(depPath)
	require.NoError(t, err)
	assert.Equal(t, "main.o: main.asm\n", string(contents))
}

func TestWriteDepFile_MQQuotesSpacesAndDollars(t *testing.T) {
	dir := t.TempDir()
	depPath := filepath.Join(dir, "main.d")
	depTarget, depPhony = "", false
	depTargetQ = "build dir/$out.o"
	defer func() { depTargetQ = "" }()

	require.NoError(t, writeDepFile(depPath, "main.o", "main.asm"))

	contents, err := os.ReadFile(depPath)
	require.NoError(t, err)
	assert.Equal(t, "build\\ dir/$$out.o: main.asm\n", string(contents))
}

func TestWriteDepFile_MPAddsPhonyRule(t *testing.T) {
	dir := t.TempDir()
	depPath := filepath.Join(dir, "main.d")
	depTarget, depTargetQ = "", ""
	depPhony = true
	defer func() { depPhony = false }()

	require.NoError(t, writeDepFile(depPath, "main.o", "main.asm"))

	contents, err := os.ReadFile(depPath)
	require.NoError(t, err)
	assert.Equal(t, "main.o: main.asm\nmain.asm:\n", string(contents))
}

func TestWriteStateDump_RendersEquEqualsAndEqus(t *testing.T) {
	dir := t.TempDir()
	dumpPath := filepath.Join(dir, "state.sym")

	symbols := symbol.NewTable()
	require.NoError(t, symbols.AddEqu("MAX_LIVES", 3, symbol.Source{}))
	require.NoError(t, symbols.AddVar("frame_count", 0, symbol.Source{}))
	require.NoError(t, symbols.AddString("GREETING", "hello", symbol.Source{}))

	require.NoError(t, writeStateDump("F="+dumpPath, symbols))

	contents, err := os.ReadFile(dumpPath)
	require.NoError(t, err)
	text := string(contents)
	assert.Contains(t, text, "def MAX_LIVES equ $3\n")
	assert.Contains(t, text, "def frame_count = $0\n")
	assert.Contains(t, text, `def GREETING equs "hello"`)
}

func TestUniqueIDGenerator_ProducesDistinctIncreasingIDs(t *testing.T) {
	next := uniqueIDGenerator()
	assert.Equal(t, "_u1", next())
	assert.Equal(t, "_u2", next())
	assert.Equal(t, "_u3", next())
}
