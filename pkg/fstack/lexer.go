package fstack

import (
	"strings"

	"github.com/gbdev/rgbds-go/pkg/diag"
)

// Mode selects how Lexer.NextToken interprets the upcoming bytes,
// spec.md §4.1.
type Mode int

const (
	ModeNormal Mode = iota
	ModeRaw
	ModeSkipToElif
	ModeSkipToEndc
	ModeSkipToEndr
)

// keywords is the set of directive/operator names recognized as
// Keyword tokens rather than plain Identifier tokens when uppercased.
// Instruction mnemonics are deliberately absent: encoding instructions
// into opcode bytes is out of scope, per spec.md's Non-goals.
var keywords = map[string]bool{
	"IF": true, "ELIF": true, "ELSE": true, "ENDC": true,
	"REPT": true, "FOR": true, "ENDR": true,
	"MACRO": true, "ENDM": true, "SHIFT": true,
	"INCLUDE": true, "INCBIN": true,
	"EQU": true, "SET": true, "EQUS": true, "REDEF": true,
	"EXPORT": true, "PURGE": true, "UNION": true, "NEXTU": true, "ENDU": true,
	"FRAGMENT": true, "DB": true, "DW": true, "DL": true, "DS": true,
	"SECTION": true, "ALIGN": true, "ASSERT": true, "STATIC_ASSERT": true,
}

// EquResolver looks up a string-equ's replacement text for interpolation
// and bare-identifier substitution.
type EquResolver interface {
	ResolveEqus(name string) (string, bool)
}

// InterpResolver formats a `{symbol}` / `{fmt:symbol}` interpolation.
type InterpResolver interface {
	Interpolate(spec string) (string, error)
}

// Lexer ties the buffered Content, the expansion stack, the If/Elif/Else
// stack, and the current macro's argument list together, producing the
// token stream pkg/parser consumes, spec.md §4.1.
type Lexer struct {
	content    Content
	expansions *expansionStack
	Ifs        IfStack
	args       *MacroArgs

	mode   Mode
	line   int
	atLOL  bool // at (logical) line start — where raw-mode blank/comment rules and skim counters apply
	uid    func() string

	equs   EquResolver
	interp InterpResolver

	// capture state for REPT/MACRO body scanning, spec.md §4.1's
	// "Capture" paragraph: while active, bytes read at the file-content
	// level (not through expansions) are appended to buf instead of
	// tokenized, until the matching terminator keyword is seen at a
	// fresh logical line.
	capturing   bool
	captureKind string // "ENDR" or "ENDM", selects the terminator to match
	captureBuf  strings.Builder
	captureDepth int
}

// NewLexer wraps content (a file or a captured rept/macro body) starting
// at the given line number.
func NewLexer(content Content, startLine int, uniqueID func() string) *Lexer {
	return &Lexer{
		content:    content,
		expansions: newExpansionStack(100),
		line:       startLine,
		atLOL:      true,
		uid:        uniqueID,
	}
}

// SetArgs installs the macro argument list visible to `\1`..`\9`/`\#`
// inside this lexer's context (nil outside a macro body).
func (l *Lexer) SetArgs(args *MacroArgs) { l.args = args }

// SetResolvers wires the symbol-table-backed equs/interpolation
// callbacks; pkg/parser supplies these since pkg/fstack has no knowledge
// of pkg/symbol (avoiding an import cycle, the same decoupling pkg/rpn
// uses for SymbolResolver/SectionResolver).
func (l *Lexer) SetResolvers(equs EquResolver, interp InterpResolver) {
	l.equs = equs
	l.interp = interp
}

// Line reports the current 1-based source line.
func (l *Lexer) Line() int { return l.line }

// SetMode switches lexing mode; pkg/parser calls this after emitting an
// IF/ELIF whose condition is false, or at ENDR/ENDM boundaries.
func (l *Lexer) SetMode(m Mode) { l.mode = m }

// Mode reports the current lexing mode; pkg/parser uses this to notice
// when nextRaw has already reset Raw mode back to Normal at a macro
// argument list's end, per spec.md §4.1.
func (l *Lexer) Mode() Mode { return l.mode }

func (l *Lexer) peek(n int) (byte, bool) { return l.expansions.peek(n, l.content) }

// advance consumes one byte. Line accounting happens separately in
// consumeNewline, which only fires on bytes read directly from file
// content — never from inside an expansion.
func (l *Lexer) advance() { l.expansions.advance(l.content) }

// pushExpansion installs bytes as a new top-of-stack expansion.
func (l *Lexer) pushExpansion(name string, bytes []byte) error {
	return l.expansions.push(name, bytes)
}

// NextToken produces the next token, dispatching on the current Mode.
func (l *Lexer) NextToken() (Token, error) {
	switch l.mode {
	case ModeRaw:
		return l.nextRaw()
	case ModeSkipToElif:
		return l.skimTo([]string{"ELIF", "ELSE", "ENDC"}, []string{"IF"})
	case ModeSkipToEndc:
		return l.skimTo([]string{"ENDC"}, []string{"IF"})
	case ModeSkipToEndr:
		return l.skimTo([]string{"ENDR"}, []string{"REPT", "FOR"})
	default:
		return l.nextNormal()
	}
}

// nextNormal implements Normal mode: identifiers/keywords, numbers,
// strings, operators, newlines, and the three expansion triggers.
func (l *Lexer) nextNormal() (Token, error) {
	for {
		b, ok := l.peek(0)
		if !ok {
			return Token{Kind: EOF, Line: l.line}, nil
		}

		switch {
		case b == ' ' || b == '\t':
			l.advance()
			continue
		case b == ';':
			l.skipLineComment()
			continue
		case b == '\r' || b == '\n':
			l.consumeNewline()
			return Token{Kind: Newline, Line: l.line - 1}, nil
		case b == '\\':
			if handled, err := l.tryMacroExpansion(); err != nil {
				return Token{}, err
			} else if handled {
				continue
			}
			l.advance()
			return Token{Kind: Operator, Text: "\\", Line: l.line}, nil
		case b == '{':
			if err := l.expandInterpolation(); err != nil {
				return Token{}, err
			}
			continue
		case b == '"':
			return l.lexString()
		case b == '$':
			return l.lexRadix(16, isHexDigit)
		case b == '&':
			if next, ok := l.peek(1); ok && next >= '0' && next <= '7' {
				return l.lexRadix(8, isOctDigit)
			}
			l.advance()
			return Token{Kind: Operator, Text: "&", Line: l.line}, nil
		case b == '%':
			if next, ok := l.peek(1); ok && (next == '0' || next == '1') {
				return l.lexRadix(2, isBinDigit)
			}
			l.advance()
			return Token{Kind: Operator, Text: "%", Line: l.line}, nil
		case b == '`':
			return l.lexGfx()
		case isDigit(b):
			return l.lexDecimal()
		case isIdentStart(b):
			return l.lexIdentOrEqus()
		default:
			return l.lexOperator()
		}
	}
}

func (l *Lexer) skipLineComment() {
	for {
		b, ok := l.peek(0)
		if !ok || b == '\r' || b == '\n' {
			return
		}
		l.advance()
	}
}

func (l *Lexer) consumeNewline() {
	b, _ := l.peek(0)
	l.advance()
	if b == '\r' {
		if n, ok := l.peek(0); ok && n == '\n' {
			l.advance()
		}
	}
	l.line++
	l.atLOL = true
}

// tryMacroExpansion handles `\1`..`\9`, `\@`, `\#` by pushing their
// value as a fresh expansion frame and returning true, or returns false
// when the backslash isn't one of these triggers (caller treats it as a
// literal operator byte, the parser's "local label continuation" `.`
// handles the rest).
func (l *Lexer) tryMacroExpansion() (bool, error) {
	next, ok := l.peek(1)
	if !ok {
		return false, nil
	}
	switch {
	case next >= '1' && next <= '9':
		arg, found := l.args.Arg(int(next - '0'))
		l.advance()
		l.advance()
		if !found {
			return false, diag.MakeError(diag.ErrUndefined, "macro argument \\%c not provided", next)
		}
		return true, l.pushExpansion("", []byte(arg))
	case next == '#':
		l.advance()
		l.advance()
		return true, l.pushExpansion("", []byte(l.args.All()))
	case next == '@':
		l.advance()
		l.advance()
		if l.uid == nil {
			return true, nil
		}
		return true, l.pushExpansion("", []byte(l.uid()))
	default:
		return false, nil
	}
}

// expandInterpolation consumes a balanced `{...}` (which may itself
// recurse) and pushes the formatted result as a new expansion frame,
// spec.md §4.1.
func (l *Lexer) expandInterpolation() error {
	l.advance() // consume '{'
	depth := 1
	var raw strings.Builder
	for depth > 0 {
		b, ok := l.peek(0)
		if !ok {
			return diag.MakeError(diag.ErrUndefined, "unterminated symbol interpolation")
		}
		l.advance()
		if b == '{' {
			depth++
		}
		if b == '}' {
			depth--
			if depth == 0 {
				break
			}
		}
		raw.WriteByte(b)
	}
	if l.interp == nil {
		return l.pushExpansion("", []byte(""))
	}
	value, err := l.interp.Interpolate(raw.String())
	if err != nil {
		return err
	}
	return l.pushExpansion("", []byte(value))
}

func (l *Lexer) lexString() (Token, error) {
	start := l.line
	l.advance() // opening quote
	var sb strings.Builder
	for {
		b, ok := l.peek(0)
		if !ok {
			return Token{}, diag.MakeError(diag.ErrUndefined, "unterminated string")
		}
		if b == '"' {
			l.advance()
			return Token{Kind: StringToken, Text: sb.String(), Line: start}, nil
		}
		if b == '\\' {
			l.advance()
			esc, ok := l.peek(0)
			if !ok {
				return Token{}, diag.MakeError(diag.ErrUndefined, "unterminated string escape")
			}
			l.advance()
			switch esc {
			case 'n':
				sb.WriteByte('\n')
			case 't':
				sb.WriteByte('\t')
			case '"', '\\', ',':
				sb.WriteByte(esc)
			default:
				sb.WriteByte(esc)
			}
			continue
		}
		l.advance()
		sb.WriteByte(b)
	}
}

func isDigit(b byte) bool    { return b >= '0' && b <= '9' }
func isHexDigit(b byte) bool { return isDigit(b) || (b >= 'a' && b <= 'f') || (b >= 'A' && b <= 'F') }
func isOctDigit(b byte) bool { return b >= '0' && b <= '7' }
func isBinDigit(b byte) bool { return b == '0' || b == '1' }
func isIdentStart(b byte) bool {
	return b == '_' || b == '.' || (b >= 'a' && b <= 'z') || (b >= 'A' && b <= 'Z')
}
func isIdentCont(b byte) bool { return isIdentStart(b) || isDigit(b) || b == '#' || b == '@' }

func digitVal(b byte) int64 {
	switch {
	case b >= '0' && b <= '9':
		return int64(b - '0')
	case b >= 'a' && b <= 'f':
		return int64(b-'a') + 10
	case b >= 'A' && b <= 'F':
		return int64(b-'A') + 10
	default:
		return 0
	}
}

// lexRadix reads a prefixed `$hex`/`&oct`/`%bin` literal; the prefix
// byte itself has already been peeked but not consumed.
func (l *Lexer) lexRadix(radix int64, isDigit func(byte) bool) (Token, error) {
	line := l.line
	l.advance() // prefix
	var v int64
	n := 0
	for {
		b, ok := l.peek(0)
		if !ok || !isDigit(b) {
			break
		}
		v = v*radix + digitVal(b)
		l.advance()
		n++
	}
	if n == 0 {
		return Token{}, diag.MakeError(diag.ErrUndefined, "malformed numeric literal")
	}
	return Token{Kind: Number, Value: v, Line: line}, nil
}

// lexGfx reads a `` `RRGGBBAA `` style 2bpp graphics literal: up to 8
// digits 0-3, each pair of pixels packing into the usual planar byte
// layout, spec.md §4.1.
func (l *Lexer) lexGfx() (Token, error) {
	line := l.line
	l.advance() // backtick
	var lo, hi uint8
	n := 0
	for n < 8 {
		b, ok := l.peek(0)
		if !ok || b < '0' || b > '3' {
			break
		}
		bit := b - '0'
		lo = lo<<1 | (bit & 1)
		hi = hi<<1 | (bit >> 1)
		l.advance()
		n++
	}
	if n == 0 {
		return Token{}, diag.MakeError(diag.ErrUndefined, "malformed graphics literal")
	}
	for ; n < 8; n++ {
		lo <<= 1
		hi <<= 1
	}
	return Token{Kind: Number, Value: int64(hi)<<8 | int64(lo), Line: line}, nil
}

// lexDecimal reads a decimal integer or, if a `.` followed by a digit
// is found, a Q16.16 fixed-point literal.
func (l *Lexer) lexDecimal() (Token, error) {
	line := l.line
	var whole int64
	for {
		b, ok := l.peek(0)
		if !ok || !isDigit(b) {
			break
		}
		whole = whole*10 + digitVal(b)
		l.advance()
	}
	b, ok := l.peek(0)
	if !ok || b != '.' {
		return Token{Kind: Number, Value: whole, Line: line}, nil
	}
	next, ok := l.peek(1)
	if !ok || !isDigit(next) {
		return Token{Kind: Number, Value: whole, Line: line}, nil
	}
	l.advance() // '.'
	var frac int64
	scale := int64(1)
	for {
		b, ok := l.peek(0)
		if !ok || !isDigit(b) || scale >= 65536 {
			break
		}
		frac = frac*10 + digitVal(b)
		scale *= 10
		l.advance()
	}
	fixed := whole<<16 + frac*65536/scale
	return Token{Kind: Number, Fixed: int32(fixed), IsFixedPoint: true, Line: line}, nil
}

// lexIdentOrEqus reads an identifier, resolving the "identifier or
// keyword" ambiguity by uppercasing and checking the keyword set; if it
// is not a keyword and resolves to an equs, it is substituted as an
// expansion instead of returned as a token, per spec.md §4.1's third
// expansion trigger.
func (l *Lexer) lexIdentOrEqus() (Token, error) {
	line := l.line
	var sb strings.Builder
	for {
		b, ok := l.peek(0)
		if !ok || !isIdentCont(b) {
			break
		}
		sb.WriteByte(b)
		l.advance()
	}
	name := sb.String()
	upper := strings.ToUpper(name)
	if keywords[upper] {
		return Token{Kind: Keyword, Text: upper, Line: line}, nil
	}
	if l.equs != nil {
		if value, ok := l.equs.ResolveEqus(name); ok {
			if err := l.pushExpansion(name, []byte(value)); err != nil {
				return Token{}, err
			}
			return l.NextToken()
		}
	}
	return Token{Kind: Identifier, Text: name, Line: line}, nil
}

var threeCharOps = []string{">>>"}
var multiCharOps = []string{"<<", ">>", "&&", "||", "==", "!=", "<=", ">=", "::", "+=", "-=", "**"}

func (l *Lexer) lexOperator() (Token, error) {
	line := l.line
	for _, op := range threeCharOps {
		if l.matchLiteral(op) {
			return Token{Kind: Operator, Text: op, Line: line}, nil
		}
	}
	for _, op := range multiCharOps {
		if l.matchLiteral(op) {
			return Token{Kind: Operator, Text: op, Line: line}, nil
		}
	}
	b, _ := l.peek(0)
	l.advance()
	return Token{Kind: Operator, Text: string(b), Line: line}, nil
}

func (l *Lexer) matchLiteral(s string) bool {
	for i := 0; i < len(s); i++ {
		b, ok := l.peek(i)
		if !ok || b != s[i] {
			return false
		}
	}
	for range s {
		l.advance()
	}
	return true
}

// nextRaw implements Raw mode, spec.md §4.1: one STRING token per macro
// argument, blanks trimmed, `\,` an escape, comma/newline terminating.
func (l *Lexer) nextRaw() (Token, error) {
	for {
		b, ok := l.peek(0)
		if ok && (b == ' ' || b == '\t') {
			l.advance()
			continue
		}
		break
	}
	line := l.line
	var sb strings.Builder
	for {
		b, ok := l.peek(0)
		if !ok || b == '\r' || b == '\n' {
			l.mode = ModeNormal
			return Token{Kind: StringToken, Text: trimTrailingBlanks(sb.String()), Line: line}, nil
		}
		if b == ',' {
			l.advance()
			return Token{Kind: StringToken, Text: trimTrailingBlanks(sb.String()), Line: line}, nil
		}
		if b == '\\' {
			if next, ok := l.peek(1); ok && next == ',' {
				l.advance()
				l.advance()
				sb.WriteByte(',')
				continue
			}
		}
		l.advance()
		sb.WriteByte(b)
	}
}

func trimTrailingBlanks(s string) string {
	i := len(s)
	for i > 0 && (s[i-1] == ' ' || s[i-1] == '\t') {
		i--
	}
	return s[:i]
}

// skimTo implements the SkipToElif/SkipToEndc/SkipToEndr fast skimmers:
// it scans line-by-line, not interpreting content, counting nesting via
// openers until one of terminators is found unnested, spec.md §4.1.
func (l *Lexer) skimTo(terminators, openers []string) (Token, error) {
	depth := 0
	for {
		word, ok := l.peekLineLeadWord()
		if !ok {
			return Token{Kind: EOF, Line: l.line}, nil
		}
		if depth == 0 {
			for _, term := range terminators {
				if word == term {
					l.consumeWordInline(len(term))
					l.mode = ModeNormal
					return Token{Kind: Keyword, Text: word, Line: l.line}, nil
				}
			}
		}
		matched := false
		for _, op := range openers {
			if word == op {
				depth++
				matched = true
			}
		}
		if !matched {
			for _, term := range terminators {
				if term == "ENDC" && word == "ENDC" && depth > 0 {
					depth--
					matched = true
				}
				if term == "ENDR" && word == "ENDR" && depth > 0 {
					depth--
					matched = true
				}
			}
		}
		l.skipToLineEnd()
		if b, ok := l.peek(0); ok && (b == '\r' || b == '\n') {
			l.consumeNewline()
		}
	}
}

func (l *Lexer) skipToLineEnd() {
	for {
		b, ok := l.peek(0)
		if !ok || b == '\r' || b == '\n' {
			return
		}
		l.advance()
	}
}

// peekLineLeadWord reads (without permanently consuming beyond what the
// caller does via consumeWordInline) the first identifier-like word at
// the start of the current line, skipping leading blanks.
func (l *Lexer) peekLineLeadWord() (string, bool) {
	n := 0
	for {
		b, ok := l.peek(n)
		if !ok {
			return "", n > 0
		}
		if b != ' ' && b != '\t' {
			break
		}
		n++
	}
	var sb strings.Builder
	for {
		b, ok := l.peek(n)
		if !ok || !isIdentCont(b) {
			break
		}
		sb.WriteByte(b)
		n++
	}
	return strings.ToUpper(sb.String()), true
}

func (l *Lexer) consumeWordInline(n int) {
	for i := 0; i < n; {
		b, ok := l.peek(0)
		if !ok {
			return
		}
		if b == ' ' || b == '\t' {
			l.advance()
			continue
		}
		l.advance()
		i++
	}
}

// BeginCapture starts REPT/MACRO body capture: bytes are appended to an
// internal buffer instead of tokenized until the matching ENDR/ENDM is
// seen at a fresh logical line, spec.md §4.1's "Capture" paragraph.
func (l *Lexer) BeginCapture(terminator string) {
	l.capturing = true
	l.captureKind = terminator
	l.captureBuf.Reset()
	l.captureDepth = 0
}

// CaptureStep advances the capture by one line, returning the captured
// body (without the terminator line) and true once the matching
// terminator is found.
func (l *Lexer) CaptureStep() (string, bool, error) {
	if !l.capturing {
		return "", false, diag.MakeError(diag.ErrUndefined, "CaptureStep called outside an active capture")
	}
	word, ok := l.peekLineLeadWord()
	if !ok {
		return "", false, diag.MakeError(diag.ErrUndefined, "unterminated REPT/MACRO/FOR: missing %s", l.captureKind)
	}
	opensNested := (l.captureKind == "ENDR" && (word == "REPT" || word == "FOR")) ||
		(l.captureKind == "ENDM" && word == "MACRO")
	if opensNested {
		l.captureDepth++
	} else if word == l.captureKind {
		if l.captureDepth == 0 {
			l.consumeWordInline(len(word))
			if b, ok := l.peek(0); ok && (b == '\r' || b == '\n') {
				l.consumeNewline()
			}
			l.capturing = false
			return l.captureBuf.String(), true, nil
		}
		l.captureDepth--
	}
	for {
		b, ok := l.peek(0)
		if !ok {
			return "", false, diag.MakeError(diag.ErrUndefined, "unterminated REPT/MACRO/FOR: missing %s", l.captureKind)
		}
		l.captureBuf.WriteByte(b)
		l.advance()
		if b == '\n' || b == '\r' {
			if b == '\r' {
				if n, ok := l.peek(0); ok && n == '\n' {
					l.captureBuf.WriteByte(n)
					l.advance()
				}
			}
			l.line++
			l.atLOL = true
			break
		}
	}
	return "", false, nil
}
