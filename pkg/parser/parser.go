// Package parser implements the C6 token consumer of spec.md §4: it
// drives a pkg/fstack.Lexer, mutates the pkg/symbol and pkg/section
// tables as directives are recognized, and folds expressions through
// pkg/rpn, emitting data bytes and link-time patches as it goes.
package parser

import (
	"fmt"

	"github.com/gbdev/rgbds-go/pkg/diag"
	"github.com/gbdev/rgbds-go/pkg/fstack"
	"github.com/gbdev/rgbds-go/pkg/section"
	"github.com/gbdev/rgbds-go/pkg/symbol"
)

// Parser ties a lexer's token stream to the symbol/section tables and
// the diagnostic sink, implementing the semantic actions spec.md §4.1/
// §4.2/§4.4/§4.5 describe as "the parser does X".
type Parser struct {
	lex      *fstack.Lexer
	fstk     *fstack.Stack
	symbols  *symbol.Table
	sections *section.Table
	sink     *diag.Sink
	encoder  InstructionEncoder

	tok fstack.Token

	// currentModifier tracks the current SECTION modifier block so
	// NEXTU/ENDU/FRAGMENT's sibling-append rule (section.go's
	// nextUnionMember/nextFragmentPiece) is invoked at the right points.
	currentModifier section.Modifier
}

// New builds a Parser reading from lex, sharing symbols/sections across
// every file pushed onto fstk (the whole translation unit), reporting
// through sink. encoder resolves mnemonic lines; pass DefaultEncoder{}
// for the data-pseudo-op-only subset spec.md's Non-goals carve out.
func New(lex *fstack.Lexer, fstk *fstack.Stack, symbols *symbol.Table, sections *section.Table, sink *diag.Sink, encoder InstructionEncoder) *Parser {
	p := &Parser{lex: lex, fstk: fstk, symbols: symbols, sections: sections, sink: sink, encoder: encoder}
	lex.SetResolvers(p.equResolver(), p.interpResolver())
	return p
}

func (p *Parser) advance() error {
	tok, err := p.lex.NextToken()
	if err != nil {
		return err
	}
	p.tok = tok
	return nil
}

func (p *Parser) errorf(format string, args ...any) error {
	return fmt.Errorf("line %d: %s", p.tok.Line, fmt.Sprintf(format, args...))
}

func (p *Parser) report(kind diag.Kind, warningName, message string) {
	p.sink.Report(kind, warningName, message, p.currentBacktrace())
}

func (p *Parser) currentBacktrace() []diag.Frame {
	if node := p.fstk.Top(); node != nil {
		return node.Backtrace()
	}
	return nil
}

// Run lexes and interprets the whole token stream, returning the first
// fatal error encountered (diagnostics reported through sink for
// recoverable problems don't stop the loop; spec.md §5's "log and
// continue until the error cap" policy).
func (p *Parser) Run() error {
	if err := p.advance(); err != nil {
		return err
	}
	for p.tok.Kind != fstack.EOF {
		if err := p.parseLine(); err != nil {
			p.report(diag.Error, "", err.Error())
			if p.sink.Counters().ShouldAbort(100) {
				return err
			}
			if err := p.skipToNewline(); err != nil {
				return err
			}
		}
	}
	if p.fstk.Depth() != 0 {
		return fmt.Errorf("unexpected end of file inside an open context")
	}
	if p.lex.Ifs.Depth() != 0 {
		return fmt.Errorf("unterminated IF block at end of file")
	}
	return nil
}

func (p *Parser) skipToNewline() error {
	for p.tok.Kind != fstack.Newline && p.tok.Kind != fstack.EOF {
		if err := p.advance(); err != nil {
			return err
		}
	}
	if p.tok.Kind == fstack.Newline {
		return p.advance()
	}
	return nil
}

// parseLine interprets one logical line: an optional label, then at
// most one directive/pseudo-op/macro invocation, per spec.md §4.1's
// token grammar.
func (p *Parser) parseLine() error {
	if p.tok.Kind == fstack.Newline {
		return p.advance()
	}

	if p.tok.Kind == fstack.Identifier {
		return p.parseIdentifierLine()
	}

	if p.tok.Kind == fstack.Keyword {
		return p.parseKeywordLine()
	}

	return p.errorf("unexpected token %q", p.tok.Text)
}

// parseIdentifierLine resolves the "identifier or keyword" ambiguity
// spec.md §4.1 defers to the lexer one level further: an identifier at
// statement position is either a label definition (`name:`/`name::`), a
// constant/var/string/macro definition (`name EQU expr` and friends), or
// a macro invocation.
func (p *Parser) parseIdentifierLine() error {
	name := p.tok.Text
	line := p.tok.Line
	if err := p.advance(); err != nil {
		return err
	}

	if p.tok.Kind == fstack.Keyword {
		switch p.tok.Text {
		case "EQU":
			return p.parseEqu(name, line, false)
		case "SET":
			return p.parseSet(name, line)
		case "EQUS":
			return p.parseEqus(name, line, false)
		case "REDEF":
			return p.parseRedef(name, line)
		case "MACRO":
			return p.parseMacroDef(name, line)
		}
	}

	if p.tokIsOp("::") {
		if err := p.advance(); err != nil {
			return err
		}
		return p.defineLabel(name, line, true)
	}
	if p.tokIsOp(":") {
		if err := p.advance(); err != nil {
			return err
		}
		return p.defineLabel(name, line, false)
	}

	if detector, ok := p.encoder.(MnemonicDetector); ok && detector.KnownMnemonic(name) {
		return p.parseMnemonic(name)
	}

	return p.parseMacroInvocation(name, line)
}

func (p *Parser) defineLabel(name string, line int, exported bool) error {
	sect, ok := p.sections.Current()
	if !ok {
		return p.errorf("label %q defined outside any SECTION", name)
	}
	source := symbol.Source{Description: p.backtraceDescription(), Line: line, Node: p.fstk.Top()}
	if len(name) > 0 && name[0] == '.' {
		return p.symbols.AddLocalLabel(name, sect.Name(), int32(sect.CurrentOffset()), exported, source)
	}
	return p.symbols.AddLabel(name, sect.Name(), int32(sect.CurrentOffset()), exported, source)
}

func (p *Parser) backtraceDescription() string {
	if node := p.fstk.Top(); node != nil {
		return node.Describe()
	}
	return "<unknown>"
}

func (p *Parser) parseKeywordLine() error {
	switch p.tok.Text {
	case "DB":
		return p.parseDataDirective(1)
	case "DW":
		return p.parseDataDirective(2)
	case "DL":
		return p.parseDataDirective(4)
	case "DS":
		return p.parseDS()
	case "SECTION":
		return p.parseSection()
	case "UNION":
		return p.parseUnionBlock()
	case "NEXTU":
		return p.parseNextU()
	case "ENDU":
		return p.parseEndU()
	case "IF":
		return p.parseIf()
	case "ELIF":
		return p.parseElif()
	case "ELSE":
		return p.parseElse()
	case "ENDC":
		return p.parseEndc()
	case "REPT":
		return p.parseRept()
	case "FOR":
		return p.parseFor()
	case "INCLUDE":
		return p.parseInclude()
	case "INCBIN":
		return p.parseIncbin()
	case "EXPORT":
		return p.parseExport()
	case "PURGE":
		return p.parsePurge()
	case "ALIGN":
		return p.parseAlign()
	case "ASSERT", "STATIC_ASSERT":
		return p.parseAssert()
	case "REDEF":
		if err := p.advance(); err != nil {
			return err
		}
		if p.tok.Kind != fstack.Identifier {
			return p.errorf("REDEF requires a symbol name")
		}
		return p.parseRedef(p.tok.Text, p.tok.Line)
	case "SHIFT":
		return p.advance()
	default:
		return p.errorf("unexpected directive %q here", p.tok.Text)
	}
}
