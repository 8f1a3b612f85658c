package fstack

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func tokens(t *testing.T, src string) []Token {
	t.Helper()
	l := NewLexer(NewViewedContent([]byte(src)), 1, nil)
	var out []Token
	for i := 0; i < 1000; i++ {
		tok, err := l.NextToken()
		require.NoError(t, err)
		out = append(out, tok)
		if tok.Kind == EOF {
			return out
		}
	}
	t.Fatal("token stream did not terminate")
	return nil
}

func TestLexerIdentifierAndKeyword(t *testing.T) {
	toks := tokens(t, "label: db 1")
	require.GreaterOrEqual(t, len(toks), 4)
	assert.Equal(t, Identifier, toks[0].Kind)
	assert.Equal(t, "label", toks[0].Text)
	assert.Equal(t, Operator, toks[1].Kind)
	assert.Equal(t, Keyword, toks[2].Kind)
	assert.Equal(t, "DB", toks[2].Text)
}

func TestLexerHexOctBinDecimal(t *testing.T) {
	toks := tokens(t, "$FF &17 %101 42")
	require.Len(t, toks, 5)
	assert.Equal(t, int64(0xFF), toks[0].Value)
	assert.Equal(t, int64(017), toks[1].Value)
	assert.Equal(t, int64(0b101), toks[2].Value)
	assert.Equal(t, int64(42), toks[3].Value)
}

func TestLexerFixedPoint(t *testing.T) {
	toks := tokens(t, "1.5")
	require.GreaterOrEqual(t, len(toks), 1)
	assert.True(t, toks[0].IsFixedPoint)
	assert.Equal(t, int32(1<<16+1<<15), toks[0].Fixed)
}

func TestLexerString(t *testing.T) {
	toks := tokens(t, `"hello\nworld"`)
	require.GreaterOrEqual(t, len(toks), 1)
	assert.Equal(t, StringToken, toks[0].Kind)
	assert.Equal(t, "hello\nworld", toks[0].Text)
}

func TestLexerGfxLiteral(t *testing.T) {
	toks := tokens(t, "`01230123")
	require.GreaterOrEqual(t, len(toks), 1)
	assert.Equal(t, Number, toks[0].Kind)
}

func TestLexerNewlineAdvancesLine(t *testing.T) {
	l := NewLexer(NewViewedContent([]byte("a\nb")), 1, nil)
	tok, err := l.NextToken()
	require.NoError(t, err)
	assert.Equal(t, 1, tok.Line)
	tok, err = l.NextToken()
	require.NoError(t, err)
	assert.Equal(t, Newline, tok.Kind)
	tok, err = l.NextToken()
	require.NoError(t, err)
	assert.Equal(t, 2, l.Line())
	assert.Equal(t, "b", tok.Text)
}

func TestLexerMacroArgExpansion(t *testing.T) {
	l := NewLexer(NewViewedContent([]byte(`\1`)), 1, nil)
	l.SetArgs(&MacroArgs{Args: []string{"foo", "bar"}})
	tok, err := l.NextToken()
	require.NoError(t, err)
	assert.Equal(t, Identifier, tok.Kind)
	assert.Equal(t, "foo", tok.Text)
}

func TestLexerUniqueIDExpansion(t *testing.T) {
	l := NewLexer(NewViewedContent([]byte(`\@`)), 1, func() string { return "_u1" })
	tok, err := l.NextToken()
	require.NoError(t, err)
	assert.Equal(t, Identifier, tok.Kind)
	assert.Equal(t, "_u1", tok.Text)
}

type fakeEqus struct{ values map[string]string }

func (f fakeEqus) ResolveEqus(name string) (string, bool) {
	v, ok := f.values[name]
	return v, ok
}

func TestLexerEqusSubstitution(t *testing.T) {
	l := NewLexer(NewViewedContent([]byte("GREETING")), 1, nil)
	l.SetResolvers(fakeEqus{values: map[string]string{"GREETING": "hello"}}, nil)
	tok, err := l.NextToken()
	require.NoError(t, err)
	assert.Equal(t, Identifier, tok.Kind)
	assert.Equal(t, "hello", tok.Text)
}

type fakeInterp struct{}

func (fakeInterp) Interpolate(spec string) (string, error) { return "X" + spec, nil }

func TestLexerInterpolation(t *testing.T) {
	l := NewLexer(NewViewedContent([]byte("{foo}bar")), 1, nil)
	l.SetResolvers(nil, fakeInterp{})
	tok, err := l.NextToken()
	require.NoError(t, err)
	assert.Equal(t, Identifier, tok.Kind)
	assert.Equal(t, "Xfoobar", tok.Text)
}

func TestLexerRawModeCommaEscapeAndTermination(t *testing.T) {
	l := NewLexer(NewViewedContent([]byte(`a\,b, c`)), 1, nil)
	l.SetMode(ModeRaw)
	tok, err := l.NextToken()
	require.NoError(t, err)
	assert.Equal(t, "a,b", tok.Text)
	tok, err = l.NextToken()
	require.NoError(t, err)
	assert.Equal(t, "c", tok.Text)
}

func TestLexerSkipToEndcSkipsNestedIf(t *testing.T) {
	src := "junk\nIF 1\nnested\nENDC\nreal\nENDC\nafter"
	l := NewLexer(NewViewedContent([]byte(src)), 1, nil)
	l.SetMode(ModeSkipToEndc)
	tok, err := l.NextToken()
	require.NoError(t, err)
	assert.Equal(t, Keyword, tok.Kind)
	assert.Equal(t, "ENDC", tok.Text)
}

func TestLexerCaptureRept(t *testing.T) {
	src := "  db 1\n  db 2\nENDR\nafter"
	l := NewLexer(NewViewedContent([]byte(src)), 1, nil)
	l.BeginCapture("ENDR")
	var body string
	for {
		chunk, done, err := l.CaptureStep()
		require.NoError(t, err)
		if done {
			body = chunk
			break
		}
	}
	assert.Equal(t, "  db 1\n  db 2\n", body)
}

func TestLexerCaptureNestedRept(t *testing.T) {
	src := "REPT 2\n  db 1\nENDR\nENDR\nafter"
	l := NewLexer(NewViewedContent([]byte(src)), 1, nil)
	l.BeginCapture("ENDR")
	var body string
	for {
		chunk, done, err := l.CaptureStep()
		require.NoError(t, err)
		if done {
			body = chunk
			break
		}
	}
	assert.Equal(t, "REPT 2\n  db 1\nENDR\n", body)
}
