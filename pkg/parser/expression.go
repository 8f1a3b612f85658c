package parser

import (
	"strings"

	"github.com/gbdev/rgbds-go/pkg/diag"
	"github.com/gbdev/rgbds-go/pkg/fstack"
	"github.com/gbdev/rgbds-go/pkg/rpn"
	"github.com/gbdev/rgbds-go/pkg/section"
)

// parseExpr parses a full expression at the lowest precedence level
// (logical or), spec.md §4.3. Each level below calls the next tighter
// one and folds via rpn.MakeBinaryOp, which itself performs the eager
// constant folding spec.md requires.
func (p *Parser) parseExpr() (rpn.Expr, error) {
	return p.parseLogOr()
}

func (p *Parser) parseLogOr() (rpn.Expr, error) {
	lhs, err := p.parseLogAnd()
	if err != nil {
		return rpn.Expr{}, err
	}
	for p.tokIsOp("||") {
		if err := p.advance(); err != nil {
			return rpn.Expr{}, err
		}
		rhs, err := p.parseLogAnd()
		if err != nil {
			return rpn.Expr{}, err
		}
		lhs, err = p.fold(lhs, rpn.OpLogOr, rhs)
		if err != nil {
			return rpn.Expr{}, err
		}
	}
	return lhs, nil
}

func (p *Parser) parseLogAnd() (rpn.Expr, error) {
	lhs, err := p.parseBitOr()
	if err != nil {
		return rpn.Expr{}, err
	}
	for p.tokIsOp("&&") {
		if err := p.advance(); err != nil {
			return rpn.Expr{}, err
		}
		rhs, err := p.parseBitOr()
		if err != nil {
			return rpn.Expr{}, err
		}
		lhs, err = p.fold(lhs, rpn.OpLogAnd, rhs)
		if err != nil {
			return rpn.Expr{}, err
		}
	}
	return lhs, nil
}

func (p *Parser) parseBitOr() (rpn.Expr, error) { return p.binaryLevel(p.parseBitXor, map[string]rpn.Opcode{"|": rpn.OpOr}) }
func (p *Parser) parseBitXor() (rpn.Expr, error) { return p.binaryLevel(p.parseBitAnd, map[string]rpn.Opcode{"^": rpn.OpXor}) }
func (p *Parser) parseBitAnd() (rpn.Expr, error) { return p.binaryLevel(p.parseEquality, map[string]rpn.Opcode{"&": rpn.OpAnd}) }

func (p *Parser) parseEquality() (rpn.Expr, error) {
	return p.binaryLevel(p.parseRelational, map[string]rpn.Opcode{"==": rpn.OpLogEq, "!=": rpn.OpLogNe})
}

func (p *Parser) parseRelational() (rpn.Expr, error) {
	return p.binaryLevel(p.parseShift, map[string]rpn.Opcode{
		"<": rpn.OpLogLt, "<=": rpn.OpLogLe, ">": rpn.OpLogGt, ">=": rpn.OpLogGe,
	})
}

func (p *Parser) parseShift() (rpn.Expr, error) {
	return p.binaryLevel(p.parseAdditive, map[string]rpn.Opcode{"<<": rpn.OpShl, ">>": rpn.OpShr, ">>>": rpn.OpUShr})
}

func (p *Parser) parseAdditive() (rpn.Expr, error) {
	return p.binaryLevel(p.parseMultiplicative, map[string]rpn.Opcode{"+": rpn.OpAdd, "-": rpn.OpSub})
}

func (p *Parser) parseMultiplicative() (rpn.Expr, error) {
	return p.binaryLevel(p.parseExponent, map[string]rpn.Opcode{"*": rpn.OpMul, "/": rpn.OpDiv, "%": rpn.OpMod})
}

func (p *Parser) parseExponent() (rpn.Expr, error) {
	lhs, err := p.parseUnary()
	if err != nil {
		return rpn.Expr{}, err
	}
	if p.tokIsOp("**") {
		if err := p.advance(); err != nil {
			return rpn.Expr{}, err
		}
		rhs, err := p.parseExponent() // right-associative
		if err != nil {
			return rpn.Expr{}, err
		}
		return p.fold(lhs, rpn.OpExp, rhs)
	}
	return lhs, nil
}

// binaryLevel is the generic left-associative "term (op term)*" shape
// shared by every precedence level above unary.
func (p *Parser) binaryLevel(next func() (rpn.Expr, error), ops map[string]rpn.Opcode) (rpn.Expr, error) {
	lhs, err := next()
	if err != nil {
		return rpn.Expr{}, err
	}
	for {
		op, ok := p.matchAnyOp(ops)
		if !ok {
			return lhs, nil
		}
		if err := p.advance(); err != nil {
			return rpn.Expr{}, err
		}
		rhs, err := next()
		if err != nil {
			return rpn.Expr{}, err
		}
		lhs, err = p.fold(lhs, op, rhs)
		if err != nil {
			return rpn.Expr{}, err
		}
	}
}

func (p *Parser) matchAnyOp(ops map[string]rpn.Opcode) (rpn.Opcode, bool) {
	if p.tok.Kind != fstack.Operator {
		return 0, false
	}
	op, ok := ops[p.tok.Text]
	return op, ok
}

func (p *Parser) tokIsOp(text string) bool {
	return p.tok.Kind == fstack.Operator && p.tok.Text == text
}

func (p *Parser) parseUnary() (rpn.Expr, error) {
	switch {
	case p.tokIsOp("-"):
		if err := p.advance(); err != nil {
			return rpn.Expr{}, err
		}
		src, err := p.parseUnary()
		if err != nil {
			return rpn.Expr{}, err
		}
		return p.foldUnary(rpn.OpNeg, src)
	case p.tokIsOp("~"):
		if err := p.advance(); err != nil {
			return rpn.Expr{}, err
		}
		src, err := p.parseUnary()
		if err != nil {
			return rpn.Expr{}, err
		}
		return p.foldUnary(rpn.OpNot, src)
	case p.tokIsOp("!"):
		if err := p.advance(); err != nil {
			return rpn.Expr{}, err
		}
		src, err := p.parseUnary()
		if err != nil {
			return rpn.Expr{}, err
		}
		return p.foldUnary(rpn.OpLogNot, src)
	case p.tokIsOp("+"):
		if err := p.advance(); err != nil {
			return rpn.Expr{}, err
		}
		return p.parseUnary()
	default:
		return p.parsePrimary()
	}
}

// knownFuncs maps a function-call-style identifier to the unary opcode
// it wraps, spec.md §4.3.
var knownFuncs = map[string]rpn.Opcode{
	"HIGH": rpn.OpHigh, "LOW": rpn.OpLow, "BITWIDTH": rpn.OpBitwidth, "TZCOUNT": rpn.OpTzCount,
}

// fixedPointUnaryFuncs maps the fixed-point trig built-ins to the
// FixedPoint method implementing them, spec.md §4.3 ("sin/cos/tan/asin/
// acos/atan/atan2 treat the full circle as 2*precisionFactor"), grounded
// on _examples/original_source/src/asm/fixpoint.c's fix_Sin/fix_Cos/...
// Unlike the plain arithmetic opcodes these have no RPN encoding: they're
// computed with floating point, so both operands must already be known.
var fixedPointUnaryFuncs = map[string]func(rpn.FixedPoint, int32) int32{
	"SIN": rpn.FixedPoint.Sin, "COS": rpn.FixedPoint.Cos, "TAN": rpn.FixedPoint.Tan,
	"ASIN": rpn.FixedPoint.Asin, "ACOS": rpn.FixedPoint.Acos, "ATAN": rpn.FixedPoint.Atan,
}

// fixedPointBinaryFuncs are MUL/DIV/ATAN2: the two-argument fixed-point
// built-ins. Plain `*`/`/` can't serve MUL/DIV here since they'd treat a
// Q16.16 operand as a bare integer, doubling or erasing its scale.
var fixedPointBinaryFuncs = map[string]func(rpn.FixedPoint, int32, int32) int32{
	"MUL": rpn.FixedPoint.Mul, "DIV": rpn.FixedPoint.Div, "ATAN2": rpn.FixedPoint.Atan2,
}

func (p *Parser) parsePrimary() (rpn.Expr, error) {
	switch p.tok.Kind {
	case fstack.Number:
		v := p.tok.Value
		if p.tok.IsFixedPoint {
			v = int64(p.tok.Fixed)
		}
		if err := p.advance(); err != nil {
			return rpn.Expr{}, err
		}
		return rpn.MakeNumber(int32(v)), nil
	case fstack.Operator:
		if p.tok.Text == "(" {
			if err := p.advance(); err != nil {
				return rpn.Expr{}, err
			}
			inner, err := p.parseExpr()
			if err != nil {
				return rpn.Expr{}, err
			}
			if !p.tokIsOp(")") {
				return rpn.Expr{}, p.errorf("expected ')'")
			}
			return inner, p.advance()
		}
		return rpn.Expr{}, p.errorf("unexpected token %q in expression", p.tok.Text)
	case fstack.Identifier:
		name := p.tok.Text
		upper := strings.ToUpper(name)
		if err := p.advance(); err != nil {
			return rpn.Expr{}, err
		}
		if p.tokIsOp("(") {
			return p.parseFuncCall(upper)
		}
		return rpn.MakeSymbol(p.symbols.Qualify(name), p.symbols), nil
	case fstack.StringToken:
		// A bare string literal in expression context is its numeric
		// length per spec.md's STRLEN-style convention, folded by the
		// caller; pkg/parser treats it as already-known.
		v := rpn.MakeNumber(int32(len(p.tok.Text)))
		return v, p.advance()
	default:
		return rpn.Expr{}, p.errorf("expected an expression")
	}
}

func (p *Parser) parseFuncCall(name string) (rpn.Expr, error) {
	if err := p.advance(); err != nil { // consume '('
		return rpn.Expr{}, err
	}
	switch name {
	case "BANK":
		if p.tok.Kind == fstack.StringToken {
			sectName := p.tok.Text
			if err := p.advance(); err != nil {
				return rpn.Expr{}, err
			}
			if err := p.expectOp(")"); err != nil {
				return rpn.Expr{}, err
			}
			return rpn.MakeBankSection(sectName, p.sections), nil
		}
		if p.tok.Kind == fstack.Operator && p.tok.Text == "@" {
			if err := p.advance(); err != nil {
				return rpn.Expr{}, err
			}
			if err := p.expectOp(")"); err != nil {
				return rpn.Expr{}, err
			}
			e, ok := rpn.MakeBankSelf(p.sections)
			if !ok {
				return rpn.Expr{}, p.errorf("BANK(@) used outside any section")
			}
			return e, nil
		}
		name := p.tok.Text
		if err := p.advance(); err != nil {
			return rpn.Expr{}, err
		}
		if err := p.expectOp(")"); err != nil {
			return rpn.Expr{}, err
		}
		return rpn.MakeBankSymbol(p.symbols.Qualify(name), p.symbols), nil
	case "SIZEOF", "STARTOF":
		if typ, ok := p.tryParseSectionTypeLiteral(); ok {
			if err := p.expectOp(")"); err != nil {
				return rpn.Expr{}, err
			}
			if name == "SIZEOF" {
				return rpn.MakeSizeOfSectionType(byte(typ), p.sections), nil
			}
			return rpn.MakeStartOfSectionType(byte(typ), p.sections), nil
		}
		sectName := p.tok.Text
		if err := p.advance(); err != nil {
			return rpn.Expr{}, err
		}
		if err := p.expectOp(")"); err != nil {
			return rpn.Expr{}, err
		}
		if name == "SIZEOF" {
			return rpn.MakeSizeOfSection(sectName, p.sections), nil
		}
		return rpn.MakeStartOfSection(sectName, p.sections), nil
	}
	if op, ok := knownFuncs[name]; ok {
		arg, err := p.parseExpr()
		if err != nil {
			return rpn.Expr{}, err
		}
		if err := p.expectOp(")"); err != nil {
			return rpn.Expr{}, err
		}
		return p.foldUnary(op, arg)
	}
	if fn, ok := fixedPointUnaryFuncs[name]; ok {
		arg, err := p.parseExpr()
		if err != nil {
			return rpn.Expr{}, err
		}
		if err := p.expectOp(")"); err != nil {
			return rpn.Expr{}, err
		}
		if !arg.Known() {
			return rpn.Expr{}, p.errorf("%s() requires a constant argument", name)
		}
		return rpn.MakeNumber(fn(p.fixedPoint(), arg.Value())), nil
	}
	if fn, ok := fixedPointBinaryFuncs[name]; ok {
		lhs, err := p.parseExpr()
		if err != nil {
			return rpn.Expr{}, err
		}
		if err := p.expectOp(","); err != nil {
			return rpn.Expr{}, err
		}
		rhs, err := p.parseExpr()
		if err != nil {
			return rpn.Expr{}, err
		}
		if err := p.expectOp(")"); err != nil {
			return rpn.Expr{}, err
		}
		if !lhs.Known() || !rhs.Known() {
			return rpn.Expr{}, p.errorf("%s() requires constant arguments", name)
		}
		return rpn.MakeNumber(fn(p.fixedPoint(), lhs.Value(), rhs.Value())), nil
	}
	return rpn.Expr{}, p.errorf("unknown function %q", name)
}

// fixedPoint returns the Q-format used by the fixed-point built-ins and
// by the lexer's `.`-literals (pkg/fstack/lexer.go's lexDecimal), both
// hardcoded to spec.md §4.3's default precision; neither currently wires
// through a `-Q` override.
func (p *Parser) fixedPoint() rpn.FixedPoint {
	return rpn.NewFixedPoint(rpn.DefaultFixedPointPrecision)
}

func (p *Parser) tryParseSectionTypeLiteral() (section.Type, bool) {
	if p.tok.Kind != fstack.Keyword && p.tok.Kind != fstack.Identifier {
		return 0, false
	}
	names := map[string]section.Type{
		"WRAM0": section.TypeWRAM0, "VRAM": section.TypeVRAM, "ROMX": section.TypeROMX,
		"ROM0": section.TypeROM0, "HRAM": section.TypeHRAM, "WRAMX": section.TypeWRAMX,
		"SRAM": section.TypeSRAM, "OAM": section.TypeOAM,
	}
	typ, ok := names[strings.ToUpper(p.tok.Text)]
	if !ok {
		return 0, false
	}
	_ = p.advance()
	return typ, true
}

func (p *Parser) expectOp(text string) error {
	if !p.tokIsOp(text) {
		return p.errorf("expected %q", text)
	}
	return p.advance()
}

// fold wraps rpn.MakeBinaryOp, translating its diagnostics through the
// parser's sink and surfacing a Go error only for Fatal ones.
func (p *Parser) fold(lhs rpn.Expr, op rpn.Opcode, rhs rpn.Expr) (rpn.Expr, error) {
	result, diags := rpn.MakeBinaryOp(lhs, op, rhs)
	return result, p.reportDiagnostics(diags)
}

func (p *Parser) foldUnary(op rpn.Opcode, src rpn.Expr) (rpn.Expr, error) {
	result, diags := rpn.MakeUnaryOp(op, src)
	return result, p.reportDiagnostics(diags)
}

func (p *Parser) reportDiagnostics(diags []rpn.Diagnostic) error {
	for _, d := range diags {
		if d.Fatal {
			p.report(diag.Fatal, "", d.Message)
			return p.errorf("%s", d.Message)
		}
		p.report(diag.Warning, d.Warning, d.Message)
	}
	return nil
}
