package parser

import (
	"fmt"
	"strings"

	"github.com/gbdev/rgbds-go/pkg/diag"
	"github.com/gbdev/rgbds-go/pkg/fstack"
	"github.com/gbdev/rgbds-go/pkg/section"
	"github.com/gbdev/rgbds-go/pkg/symbol"
)

func (p *Parser) currentSource(line int) symbol.Source {
	return symbol.Source{Description: p.backtraceDescription(), Line: line, Node: p.fstk.Top()}
}

// --- EQU / SET / EQUS / REDEF -------------------------------------------

func (p *Parser) parseEqu(name string, line int, redef bool) error {
	if err := p.advance(); err != nil {
		return err
	}
	v, err := p.parseExpr()
	if err != nil {
		return err
	}
	if !v.Known() {
		return p.errorf("EQU requires a constant expression: %s", v.Reason())
	}
	src := p.currentSource(line)
	if redef {
		return p.symbols.RedefEqu(name, v.Value(), src)
	}
	return p.symbols.AddEqu(name, v.Value(), src)
}

func (p *Parser) parseSet(name string, line int) error {
	if err := p.advance(); err != nil {
		return err
	}
	v, err := p.parseExpr()
	if err != nil {
		return err
	}
	if !v.Known() {
		return p.errorf("SET requires a constant expression: %s", v.Reason())
	}
	return p.symbols.AddVar(name, v.Value(), p.currentSource(line))
}

func (p *Parser) parseEqus(name string, line int, redef bool) error {
	if err := p.advance(); err != nil {
		return err
	}
	if p.tok.Kind != fstack.StringToken {
		return p.errorf("EQUS requires a string literal")
	}
	value := p.tok.Text
	if err := p.advance(); err != nil {
		return err
	}
	src := p.currentSource(line)
	if redef {
		return p.symbols.RedefString(name, value, src)
	}
	return p.symbols.AddString(name, value, src)
}

// parseRedef dispatches REDEF to SET/EQU/EQUS depending on what follows
// the symbol name, which the caller has already consumed: for a leading
// `REDEF name EQU expr` et al, parseKeywordLine consumes REDEF and name
// before calling here.
func (p *Parser) parseRedef(name string, line int) error {
	if err := p.advance(); err != nil {
		return err
	}
	switch p.tok.Text {
	case "EQU":
		return p.parseEqu(name, line, true)
	case "EQUS":
		return p.parseEqus(name, line, true)
	default:
		return p.parseSet(name, line)
	}
}

// --- Labels / macro invocation -------------------------------------------

// parseMacroInvocation treats `name arg1, arg2` as a call to a
// previously defined macro, switching the lexer to Raw mode for its
// argument list per spec.md §4.1.
func (p *Parser) parseMacroInvocation(name string, line int) error {
	sym, ok := p.symbols.FindExact(name)
	if !ok || sym.Kind() != symbol.KindMacro {
		return p.errorf("%q is neither a label, a directive, nor a defined macro", name)
	}

	// p.tok already holds the token right after name, lexed under Normal
	// mode's rules before the macro-invocation/mnemonic ambiguity was
	// resolved; its text (or, for an integer token, which carries no
	// text, its decimal value) is captured directly as the first
	// argument rather than lost when switching modes.
	var args []string
	if p.tok.Kind != fstack.Newline && p.tok.Kind != fstack.EOF && !p.tokIsOp(",") {
		arg := p.tok.Text
		if p.tok.Kind == fstack.Number && !p.tok.IsFixedPoint {
			arg = fmt.Sprint(p.tok.Value)
		}
		args = append(args, arg)
	}
	if p.tok.Kind != fstack.Newline && p.tok.Kind != fstack.EOF {
		p.lex.SetMode(fstack.ModeRaw)
		for {
			if err := p.advance(); err != nil {
				p.lex.SetMode(fstack.ModeNormal)
				return err
			}
			if p.tok.Kind != fstack.StringToken {
				break
			}
			if p.tok.Text != "" {
				args = append(args, p.tok.Text)
			}
			if p.lex.Mode() != fstack.ModeRaw {
				// nextRaw hit newline/EOF and reset the mode itself;
				// one more advance (now under Normal mode) fetches the
				// real terminating token the rest of the parser expects.
				if err := p.advance(); err != nil {
					return err
				}
				break
			}
		}
		p.lex.SetMode(fstack.ModeNormal)
	}

	node, err := p.fstk.RunMacro(name, line)
	if err != nil {
		return err
	}
	defer p.fstk.Pop()

	bodyBytes, startLine := sym.MacroBody()
	body := fstack.NewViewedContent(bodyBytes)
	sub := fstack.NewLexer(body, startLine, func() string { return node.UniqueID(func() string { return name }) })
	sub.SetArgs(&fstack.MacroArgs{Args: args})
	sub.SetResolvers(p.equResolver(), p.interpResolver())

	return p.runNested(sub)
}

// runNested drives a sub-lexer (a macro body, a REPT/FOR iteration) to
// completion, temporarily swapping it in as the parser's active lexer —
// Go's call stack is the recursion pkg/fstack's yywrap describes.
func (p *Parser) runNested(sub *fstack.Lexer) error {
	savedLex, savedTok := p.lex, p.tok
	p.lex = sub
	defer func() { p.lex, p.tok = savedLex, savedTok }()

	if err := p.advance(); err != nil {
		return err
	}
	for p.tok.Kind != fstack.EOF {
		if err := p.parseLine(); err != nil {
			return err
		}
	}
	return nil
}

// parseMnemonic parses a passthrough instruction line's operand list and
// asks the InstructionEncoder to turn it into bytes, spec.md §4.6A.
func (p *Parser) parseMnemonic(name string) error {
	var operands []Operand
	for p.tok.Kind != fstack.Newline && p.tok.Kind != fstack.EOF {
		indirect := false
		if p.tokIsOp("[") {
			indirect = true
			if err := p.advance(); err != nil {
				return err
			}
		}
		if p.tok.Kind == fstack.Identifier || p.tok.Kind == fstack.Number {
			raw := p.tok.Text
			expr, err := p.parseExpr()
			if err != nil {
				return err
			}
			operands = append(operands, Operand{Expr: expr, Indirect: indirect, Raw: raw})
		}
		if indirect {
			if err := p.expectOp("]"); err != nil {
				return err
			}
		}
		if !p.tokIsOp(",") {
			break
		}
		if err := p.advance(); err != nil {
			return err
		}
	}

	encoded, err := p.encoder.Encode(name, operands)
	if err != nil {
		return err
	}
	sect, ok := p.sections.Current()
	if !ok {
		return p.errorf("instruction %q used outside any SECTION", name)
	}
	_, err = sect.Emit(encoded.Bytes)
	return err
}

// --- MACRO definition -----------------------------------------------------

func (p *Parser) parseMacroDef(name string, line int) error {
	if err := p.advance(); err != nil { // consume "MACRO" keyword already matched by caller; advance past newline
		return err
	}
	p.lex.BeginCapture("ENDM")
	var body string
	for {
		chunk, done, err := p.lex.CaptureStep()
		if err != nil {
			return err
		}
		if done {
			body = chunk
			break
		}
	}
	if err := p.symbols.AddMacro(name, []byte(body), line+1, p.currentSource(line)); err != nil {
		return err
	}
	return p.advance()
}

// --- Data pseudo-ops (DB/DW/DL) -------------------------------------------

func (p *Parser) parseDataDirective(width int) error {
	if err := p.advance(); err != nil {
		return err
	}
	sect, ok := p.sections.Current()
	if !ok {
		return p.errorf("data directive used outside any SECTION")
	}
	for {
		if p.tok.Kind == fstack.StringToken {
			for i := 0; i < len(p.tok.Text); i++ {
				if _, err := sect.Emit(encodeWidth(int32(p.tok.Text[i]), width)); err != nil {
					return err
				}
			}
			if err := p.advance(); err != nil {
				return err
			}
		} else {
			exprLine := p.tok.Line
			v, err := p.parseExpr()
			if err != nil {
				return err
			}
			if v.Known() {
				if _, err := sect.Emit(encodeWidth(v.Value(), width)); err != nil {
					return err
				}
			} else {
				offset, err := sect.Emit(make([]byte, width))
				if err != nil {
					return err
				}
				if err := sect.AddPatch(patchFor(width, offset, sect.Name(), sect.CurrentOffset(), p.currentSource(exprLine), v.RPN())); err != nil {
					return err
				}
			}
		}
		if !p.tokIsOp(",") {
			break
		}
		if err := p.advance(); err != nil {
			return err
		}
	}
	return nil
}

// parseAssert implements ASSERT/STATIC_ASSERT: an optional leading
// severity keyword, a boolean condition, and an optional message,
// spec.md §3's Assertion data model. A known-constant condition is
// checked immediately; an unknown one is deferred to pkg/patch by
// registering it on the section table exactly like a Patch.
func (p *Parser) parseAssert() error {
	line := p.tok.Line
	if err := p.advance(); err != nil {
		return err
	}

	severity := "error"
	if p.tok.Kind == fstack.Identifier {
		isSeverity := true
		switch strings.ToUpper(p.tok.Text) {
		case "WARN":
			severity = "warn"
		case "ERROR":
			severity = "error"
		case "FATAL":
			severity = "fatal"
		default:
			isSeverity = false
		}
		if isSeverity {
			if err := p.advance(); err != nil {
				return err
			}
			if !p.tokIsOp(",") {
				return p.errorf("ASSERT severity must be followed by a condition")
			}
			if err := p.advance(); err != nil {
				return err
			}
		}
	}

	cond, err := p.parseExpr()
	if err != nil {
		return err
	}

	message := ""
	if p.tokIsOp(",") {
		if err := p.advance(); err != nil {
			return err
		}
		if p.tok.Kind != fstack.StringToken {
			return p.errorf("ASSERT message must be a string")
		}
		message = p.tok.Text
		if err := p.advance(); err != nil {
			return err
		}
	}

	pcSection := ""
	var pcOffset uint32
	if sect, ok := p.sections.Current(); ok {
		pcSection = sect.Name()
		pcOffset = sect.CurrentOffset()
	}

	patch := section.Patch{
		Type: section.PatchByte, PCSection: pcSection, PCOffset: pcOffset,
		Source: p.currentSource(line), RPN: cond.RPN(),
	}

	if cond.Known() {
		if cond.Value() == 0 {
			return p.reportAssertFailure(severity, message)
		}
		return nil
	}

	p.sections.AddAssertion(section.Assertion{Patch: patch, Severity: severity, Message: message})
	return nil
}

func (p *Parser) reportAssertFailure(severity, message string) error {
	text := "assertion failed"
	if message != "" {
		text = message
	}
	switch severity {
	case "warn":
		p.report(diag.Warning, "assert", text)
		return nil
	case "fatal":
		return fmt.Errorf("%s", text)
	default:
		p.report(diag.Error, "assert", text)
		return nil
	}
}

func encodeWidth(v int32, width int) []byte {
	buf := make([]byte, width)
	uv := uint32(v)
	for i := 0; i < width; i++ {
		buf[i] = byte(uv >> (8 * i))
	}
	return buf
}

func patchFor(width int, offset uint32, sectName string, pcOffset uint32, src symbol.Source, rpnBytes []byte) section.Patch {
	typ := section.PatchByte
	switch width {
	case 2:
		typ = section.PatchWord
	case 4:
		typ = section.PatchLong
	}
	return section.Patch{
		Type: typ, Offset: offset, PCSection: sectName, PCOffset: pcOffset,
		Source: section.Source{Description: src.Description, Line: src.Line, Node: src.Node}, RPN: rpnBytes,
	}
}

// --- DS --------------------------------------------------------------

func (p *Parser) parseDS() error {
	if err := p.advance(); err != nil {
		return err
	}
	count, err := p.parseExpr()
	if err != nil {
		return err
	}
	if !count.Known() {
		return p.errorf("DS requires a constant count: %s", count.Reason())
	}
	sect, ok := p.sections.Current()
	if !ok {
		return p.errorf("DS used outside any SECTION")
	}
	n := uint32(count.Value())
	if p.tokIsOp(",") {
		if err := p.advance(); err != nil {
			return err
		}
		fill, err := p.parseExpr()
		if err != nil {
			return err
		}
		if fill.Known() && sect.Type().HasData() {
			pad := make([]byte, n)
			for i := range pad {
				pad[i] = byte(fill.Value())
			}
			_, err := sect.Emit(pad)
			return err
		}
	}
	sect.Reserve(n)
	return nil
}

// --- SECTION ---------------------------------------------------------

var sectionTypeNames = map[string]section.Type{
	"WRAM0": section.TypeWRAM0, "VRAM": section.TypeVRAM, "ROMX": section.TypeROMX,
	"ROM0": section.TypeROM0, "HRAM": section.TypeHRAM, "WRAMX": section.TypeWRAMX,
	"SRAM": section.TypeSRAM, "OAM": section.TypeOAM,
}

// parseSection implements `SECTION ["FRAGMENT"] "name", TYPE[addr], BANK[n], ALIGN[n[,ofs]]`.
func (p *Parser) parseSection() error {
	if err := p.advance(); err != nil { // consume "SECTION"
		return err
	}
	modifier := section.Normal
	switch p.tok.Text {
	case "FRAGMENT":
		modifier = section.Fragment
		if err := p.advance(); err != nil {
			return err
		}
	case "UNION":
		modifier = section.Union
		if err := p.advance(); err != nil {
			return err
		}
	}
	if p.tok.Kind != fstack.StringToken {
		return p.errorf("expected a quoted section name")
	}
	name := p.tok.Text
	if err := p.advance(); err != nil {
		return err
	}
	if err := p.expectOp(","); err != nil {
		return err
	}
	typName := strings.ToUpper(p.tok.Text)
	typ, ok := sectionTypeNames[typName]
	if !ok {
		return p.errorf("unknown section type %q", p.tok.Text)
	}
	if err := p.advance(); err != nil {
		return err
	}

	var constraint section.Constraint
	if p.tokIsOp("[") {
		if err := p.advance(); err != nil {
			return err
		}
		addr, err := p.parseExpr()
		if err != nil {
			return err
		}
		if addr.Known() {
			constraint.OrgFixed = true
			constraint.Org = uint32(addr.Value())
		}
		if err := p.expectOp("]"); err != nil {
			return err
		}
	}

	for p.tokIsOp(",") {
		if err := p.advance(); err != nil {
			return err
		}
		switch strings.ToUpper(p.tok.Text) {
		case "BANK":
			if err := p.advance(); err != nil {
				return err
			}
			if err := p.expectOp("["); err != nil {
				return err
			}
			bank, err := p.parseExpr()
			if err != nil {
				return err
			}
			if bank.Known() {
				constraint.BankFixed = true
				constraint.Bank = uint32(bank.Value())
			}
			if err := p.expectOp("]"); err != nil {
				return err
			}
		case "ALIGN":
			if err := p.advance(); err != nil {
				return err
			}
			if err := p.expectOp("["); err != nil {
				return err
			}
			align, err := p.parseExpr()
			if err != nil {
				return err
			}
			if align.Known() {
				constraint.AlignFixed = true
				constraint.Align = uint8(align.Value())
			}
			if p.tokIsOp(",") {
				if err := p.advance(); err != nil {
					return err
				}
				ofs, err := p.parseExpr()
				if err != nil {
					return err
				}
				if ofs.Known() {
					constraint.AlignOfs = uint16(ofs.Value())
				}
			}
			if err := p.expectOp("]"); err != nil {
				return err
			}
		default:
			return p.errorf("unknown SECTION option %q", p.tok.Text)
		}
	}

	sect, err := p.sections.CreateSection(name, typ, modifier, constraint)
	if err != nil {
		return err
	}
	p.sections.SetCurrent(name)
	p.currentModifier = modifier
	_ = sect
	return nil
}

// --- UNION / NEXTU / ENDU block form --------------------------------------
//
// Real rgbasm also allows `UNION`/`NEXTU`/`ENDU` as a block construct
// inside an already-open SECTION, toggling union members without a
// nested SECTION redeclaration. This generalizes section.go's
// nextUnionMember onto the currently open section.

func (p *Parser) parseUnionBlock() error {
	if err := p.advance(); err != nil {
		return err
	}
	sect, ok := p.sections.Current()
	if !ok {
		return p.errorf("UNION used outside any SECTION")
	}
	p.currentModifier = section.Union
	_ = sect
	return nil
}

func (p *Parser) parseNextU() error {
	if err := p.advance(); err != nil {
		return err
	}
	sect, ok := p.sections.Current()
	if !ok {
		return p.errorf("NEXTU used outside any SECTION")
	}
	sect.NextMember()
	return nil
}

func (p *Parser) parseEndU() error {
	if err := p.advance(); err != nil {
		return err
	}
	sect, ok := p.sections.Current()
	if !ok {
		return p.errorf("ENDU used outside any SECTION")
	}
	sect.FinalizeOpenMember()
	p.currentModifier = section.Normal
	return nil
}

// --- IF / ELIF / ELSE / ENDC ----------------------------------------------

func (p *Parser) parseIf() error {
	if err := p.advance(); err != nil {
		return err
	}
	cond, err := p.parseExpr()
	if err != nil {
		return err
	}
	if !cond.Known() {
		return p.errorf("IF requires a constant expression: %s", cond.Reason())
	}
	p.lex.Ifs.Push(cond.Value() != 0)
	if cond.Value() == 0 {
		p.lex.SetMode(fstack.ModeSkipToElif)
	}
	return nil
}

func (p *Parser) parseElif() error {
	// Reached only when the lexer's SkipToElif skimmer found this ELIF
	// unnested; its condition must still be parsed and possibly entered.
	if err := p.advance(); err != nil {
		return err
	}
	cond, err := p.parseExpr()
	if err != nil {
		return err
	}
	if !cond.Known() {
		return p.errorf("ELIF requires a constant expression: %s", cond.Reason())
	}
	run, err := p.lex.Ifs.Elif(cond.Value() != 0)
	if err != nil {
		return err
	}
	if !run {
		p.lex.SetMode(fstack.ModeSkipToElif)
	}
	return nil
}

func (p *Parser) parseElse() error {
	if err := p.advance(); err != nil {
		return err
	}
	run, err := p.lex.Ifs.Else()
	if err != nil {
		return err
	}
	if !run {
		p.lex.SetMode(fstack.ModeSkipToEndc)
	}
	return nil
}

func (p *Parser) parseEndc() error {
	if err := p.lex.Ifs.Pop(); err != nil {
		return err
	}
	return p.advance()
}

// --- REPT / FOR ------------------------------------------------------

func (p *Parser) parseRept() error {
	if err := p.advance(); err != nil {
		return err
	}
	count, err := p.parseExpr()
	if err != nil {
		return err
	}
	if !count.Known() || count.Value() < 0 {
		return p.errorf("REPT requires a non-negative constant count")
	}
	startLine := p.tok.Line
	p.lex.BeginCapture("ENDR")
	var body string
	for {
		chunk, done, err := p.lex.CaptureStep()
		if err != nil {
			return err
		}
		if done {
			body = chunk
			break
		}
	}
	for i := int32(0); i < count.Value(); i++ {
		if err := p.runIteration(startLine, body, []int{int(i) + 1}); err != nil {
			return err
		}
	}
	return p.advance()
}

func (p *Parser) parseFor() error {
	if err := p.advance(); err != nil {
		return err
	}
	if p.tok.Kind != fstack.Identifier {
		return p.errorf("FOR requires a variable name")
	}
	varName := p.tok.Text
	if err := p.advance(); err != nil {
		return err
	}
	if err := p.expectOp(","); err != nil {
		return err
	}
	start, err := p.parseExpr()
	if err != nil {
		return err
	}
	if err := p.expectOp(","); err != nil {
		return err
	}
	stop, err := p.parseExpr()
	if err != nil {
		return err
	}
	step := int32(1)
	if p.tokIsOp(",") {
		if err := p.advance(); err != nil {
			return err
		}
		stepExpr, err := p.parseExpr()
		if err != nil {
			return err
		}
		if stepExpr.Known() {
			step = stepExpr.Value()
		}
	}
	if !start.Known() || !stop.Known() || step == 0 {
		return p.errorf("FOR requires constant, non-zero-step bounds")
	}

	startLine := p.tok.Line
	p.lex.BeginCapture("ENDR")
	var body string
	for {
		chunk, done, err := p.lex.CaptureStep()
		if err != nil {
			return err
		}
		if done {
			body = chunk
			break
		}
	}

	iter := 1
	for v := start.Value(); (step > 0 && v < stop.Value()) || (step < 0 && v > stop.Value()); v += step {
		if err := p.symbols.AddVar(varName, v, p.currentSource(startLine)); err != nil {
			return err
		}
		if err := p.runIteration(startLine, body, []int{iter}); err != nil {
			return err
		}
		iter++
	}
	return p.advance()
}

func (p *Parser) runIteration(startLine int, body string, iterCounts []int) error {
	node, err := p.fstk.RunRept(startLine, iterCounts)
	if err != nil {
		return err
	}
	defer p.fstk.Pop()

	sub := fstack.NewLexer(fstack.NewViewedContent([]byte(body)), startLine, func() string { return node.UniqueID(func() string { return "rept" }) })
	sub.SetResolvers(p.equResolver(), p.interpResolver())
	return p.runNested(sub)
}

// --- INCLUDE / INCBIN --------------------------------------------------

func (p *Parser) parseInclude() error {
	if err := p.advance(); err != nil {
		return err
	}
	if p.tok.Kind != fstack.StringToken {
		return p.errorf("INCLUDE requires a quoted path")
	}
	path := p.tok.Text
	line := p.tok.Line
	if err := p.advance(); err != nil {
		return err
	}
	resolved, err := p.fstk.ResolveInclude(path)
	if err != nil {
		return err
	}
	node, err := p.fstk.RunInclude(resolved, line)
	if err != nil {
		return err
	}
	defer p.fstk.Pop()

	reader, closer, err := openInclude(resolved)
	if err != nil {
		return err
	}
	defer closer()

	sub := fstack.NewLexer(fstack.NewBufferedContent(reader), 1, func() string { return node.UniqueID(func() string { return resolved }) })
	sub.SetResolvers(p.equResolver(), p.interpResolver())
	return p.runNested(sub)
}

func (p *Parser) parseIncbin() error {
	if err := p.advance(); err != nil {
		return err
	}
	if p.tok.Kind != fstack.StringToken {
		return p.errorf("INCBIN requires a quoted path")
	}
	path := p.tok.Text
	if err := p.advance(); err != nil {
		return err
	}
	sect, ok := p.sections.Current()
	if !ok {
		return p.errorf("INCBIN used outside any SECTION")
	}
	data, err := readIncbin(path)
	if err != nil {
		return err
	}
	_, err = sect.Emit(data)
	return err
}

// --- EXPORT / PURGE / ALIGN ----------------------------------------------

func (p *Parser) parseExport() error {
	if err := p.advance(); err != nil {
		return err
	}
	for {
		if p.tok.Kind != fstack.Identifier {
			return p.errorf("EXPORT requires a symbol name")
		}
		if err := p.symbols.Export(p.tok.Text); err != nil {
			return err
		}
		if err := p.advance(); err != nil {
			return err
		}
		if !p.tokIsOp(",") {
			return nil
		}
		if err := p.advance(); err != nil {
			return err
		}
	}
}

func (p *Parser) parsePurge() error {
	if err := p.advance(); err != nil {
		return err
	}
	for {
		if p.tok.Kind != fstack.Identifier {
			return p.errorf("PURGE requires a symbol name")
		}
		if err := p.symbols.Purge(p.tok.Text); err != nil {
			return err
		}
		if err := p.advance(); err != nil {
			return err
		}
		if !p.tokIsOp(",") {
			return nil
		}
		if err := p.advance(); err != nil {
			return err
		}
	}
}

func (p *Parser) parseAlign() error {
	if err := p.advance(); err != nil {
		return err
	}
	n, err := p.parseExpr()
	if err != nil {
		return err
	}
	if !n.Known() {
		return p.errorf("ALIGN requires a constant")
	}
	sect, ok := p.sections.Current()
	if !ok {
		return p.errorf("ALIGN used outside any SECTION")
	}
	mask := uint32(1)<<uint32(n.Value()) - 1
	cur := sect.CurrentOffset()
	pad := (mask + 1 - cur&mask) & mask
	sect.Reserve(pad)
	return nil
}
