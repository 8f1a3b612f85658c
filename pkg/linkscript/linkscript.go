// Package linkscript parses the tiny declarative linker-script language
// of spec.md §6/§9's C9: one directive per line, pinning or floating
// sections ahead of pkg/placement's own first-fit-decreasing pass over
// whatever the script left unplaced. Grounded on
// pkg/hw/cpu/llvm/cmake.go's small declarative directive-driven
// configuration language, generalized from CMake flags to ORG/bank
// cursors.
package linkscript

import (
	"bufio"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/gbdev/rgbds-go/pkg/section"
)

// SectionSizer supplies a section's byte size so the script's address
// cursor can advance past a placement, spec.md §6: "places the named
// section at the current cursor (advancing it by the section's size)".
// cmd/rgblink wires this to its tableSizer.
type SectionSizer interface {
	SectionSize(name string) (uint32, bool)
}

// Includer resolves an INCLUDE directive's path to readable content,
// decoupling this package from any concrete filesystem the way
// pkg/fstack's EquResolver/InterpResolver decouple the lexer from
// pkg/symbol.
type Includer interface {
	Open(path string) (io.ReadCloser, error)
}

// Placement is one explicit section assignment the script produced.
type Placement struct {
	Section    string
	Type       section.Type
	BankFixed  bool
	Bank       uint32
	OrgFixed   bool
	Org        uint32
	AlignFixed bool
	Align      uint8
	AlignOfs   uint16
}

// Constraint adapts a Placement to pkg/section.Constraint, the shape
// pkg/placement actually wants to merge against an object file's own
// declared constraint.
func (p Placement) Constraint() section.Constraint {
	return section.Constraint{
		OrgFixed:   p.OrgFixed,
		Org:        p.Org,
		BankFixed:  p.BankFixed,
		Bank:       p.Bank,
		AlignFixed: p.AlignFixed,
		Align:      p.Align,
		AlignOfs:   p.AlignOfs,
	}
}

// Script is a fully parsed linker script.
type Script struct {
	Placements []Placement
}

// PlacementFor looks up the script's placement for a section name, if
// any — most sections in a real ROM are never mentioned in the script
// and are left entirely to pkg/placement's free-space packer.
func (s *Script) PlacementFor(name string) (Placement, bool) {
	for _, p := range s.Placements {
		if p.Section == name {
			return p, true
		}
	}
	return Placement{}, false
}

const maxIncludeDepth = 20

// Parse reads a linker script. sizer supplies a placed section's size
// to advance the cursor; it may be nil if the caller only wants to
// validate ORG/ALIGN/DEFAULT bookkeeping without advancing past named
// sections (a "section-name" line under a fixed cursor, i.e. after ORG,
// then errors, since the cursor cannot advance past it; one under a
// floating cursor does not).
func Parse(r io.Reader, sizer SectionSizer, includer Includer) (*Script, error) {
	p := &parser{
		sizer:       sizer,
		includer:    includer,
		cursors:     map[cursorKey]*cursor{},
		defaultBank: map[section.Type]uint32{},
	}
	if err := p.parseFile(r, "<script>", 0); err != nil {
		return nil, err
	}
	return &Script{Placements: p.out}, nil
}

type cursorKey struct {
	typ  section.Type
	bank uint32
}

type cursor struct {
	fixed bool
	addr  uint32

	pendingAlign   bool
	pendingAlignN  uint8
	pendingAlignOf uint16
}

type parser struct {
	sizer    SectionSizer
	includer Includer

	out         []Placement
	cursors     map[cursorKey]*cursor
	defaultBank map[section.Type]uint32
	hasDefault  map[section.Type]bool

	curType  section.Type
	curBank  uint32
	haveType bool

	lineNo int
	file   string
}

func (p *parser) errf(format string, args ...any) error {
	return fmt.Errorf("linkscript: %s:%d: %s", p.file, p.lineNo, fmt.Sprintf(format, args...))
}

func (p *parser) parseFile(r io.Reader, name string, depth int) error {
	if depth > maxIncludeDepth {
		return fmt.Errorf("linkscript: INCLUDE nesting exceeds %d levels", maxIncludeDepth)
	}
	prevFile, prevLine := p.file, p.lineNo
	p.file = name
	defer func() { p.file, p.lineNo = prevFile, prevLine }()

	sc := bufio.NewScanner(r)
	for sc.Scan() {
		p.lineNo++
		line := sc.Text()
		if i := strings.IndexByte(line, ';'); i >= 0 {
			line = line[:i]
		}
		trimmed := strings.TrimSpace(line)
		if trimmed == "" {
			continue
		}
		if strings.HasPrefix(trimmed, `"`) {
			if err := p.placeSection(trimmed); err != nil {
				return err
			}
			continue
		}
		fields := strings.Fields(line)
		if len(fields) == 0 {
			continue
		}
		if err := p.dispatch(fields, depth); err != nil {
			return err
		}
	}
	return sc.Err()
}

func (p *parser) dispatch(fields []string, depth int) error {
	head := fields[0]

	switch strings.ToUpper(head) {
	case "ORG":
		return p.doOrg(fields)
	case "FLOATING":
		return p.doFloating(fields)
	case "ALIGN":
		return p.doAlign(fields)
	case "DS":
		return p.doDS(fields)
	case "DEFAULT":
		return p.doDefault(fields)
	case "INCLUDE":
		return p.doInclude(fields, depth)
	default:
		if typ, ok := sectionTypeByName(head); ok {
			return p.doSectionType(typ, fields)
		}
		return p.errf("unrecognized directive %q", head)
	}
}

func (p *parser) requireType() (*cursor, error) {
	if !p.haveType {
		return nil, p.errf("no section type selected yet (expected a line like \"ROM0\" or \"ROMX 3\" first)")
	}
	key := cursorKey{typ: p.curType, bank: p.curBank}
	c, ok := p.cursors[key]
	if !ok {
		info := section.TypeInfos[p.curType]
		c = &cursor{fixed: false, addr: info.StartAddr}
		p.cursors[key] = c
	}
	return c, nil
}

func (p *parser) doSectionType(typ section.Type, fields []string) error {
	bank := uint32(0)
	if p.hasDefault != nil && p.hasDefault[typ] {
		bank = p.defaultBank[typ]
	}
	if len(fields) >= 2 {
		v, err := parseNum(fields[1])
		if err != nil {
			return p.errf("bad bank number %q: %v", fields[1], err)
		}
		bank = uint32(v)
	}
	info := section.TypeInfos[typ]
	if bank < info.FirstBank || bank > info.LastBank {
		return p.errf("bank %d is out of range for %s (expected %d..%d)", bank, typ, info.FirstBank, info.LastBank)
	}
	p.curType = typ
	p.curBank = bank
	p.haveType = true
	return nil
}

func (p *parser) doOrg(fields []string) error {
	if len(fields) != 2 {
		return p.errf("ORG takes exactly one address")
	}
	c, err := p.requireType()
	if err != nil {
		return err
	}
	addr, err := parseNum(fields[1])
	if err != nil {
		return p.errf("bad ORG address %q: %v", fields[1], err)
	}
	c.fixed = true
	c.addr = uint32(addr)
	return nil
}

func (p *parser) doFloating(fields []string) error {
	if len(fields) != 1 {
		return p.errf("FLOATING takes no arguments")
	}
	c, err := p.requireType()
	if err != nil {
		return err
	}
	c.fixed = false
	return nil
}

func (p *parser) doAlign(fields []string) error {
	if len(fields) != 2 && len(fields) != 3 {
		return p.errf("ALIGN takes an alignment and an optional offset")
	}
	c, err := p.requireType()
	if err != nil {
		return err
	}
	n, err := parseNum(fields[1])
	if err != nil || n > 16 {
		return p.errf("bad alignment %q", fields[1])
	}
	var ofs uint64
	if len(fields) == 3 {
		ofs, err = parseNum(fields[2])
		if err != nil {
			return p.errf("bad alignment offset %q", fields[2])
		}
	}
	c.pendingAlign = true
	c.pendingAlignN = uint8(n)
	c.pendingAlignOf = uint16(ofs)
	if c.fixed {
		mask := uint32(1)<<n - 1
		base := c.addr &^ mask
		aligned := base | (uint32(ofs) & mask)
		if aligned < c.addr {
			aligned += mask + 1
		}
		c.addr = aligned
	}
	return nil
}

func (p *parser) doDS(fields []string) error {
	if len(fields) != 2 {
		return p.errf("DS takes exactly one byte count")
	}
	c, err := p.requireType()
	if err != nil {
		return err
	}
	if !c.fixed {
		return p.errf("DS requires a fixed address (set ORG first)")
	}
	n, err := parseNum(fields[1])
	if err != nil {
		return p.errf("bad DS count %q: %v", fields[1], err)
	}
	c.addr += uint32(n)
	return nil
}

func (p *parser) doDefault(fields []string) error {
	if len(fields) != 2 {
		return p.errf("DEFAULT takes exactly one bank number")
	}
	if !p.haveType {
		return p.errf("DEFAULT must follow a section-type line")
	}
	n, err := parseNum(fields[1])
	if err != nil {
		return p.errf("bad DEFAULT bank %q: %v", fields[1], err)
	}
	if p.hasDefault == nil {
		p.hasDefault = map[section.Type]bool{}
	}
	p.hasDefault[p.curType] = true
	p.defaultBank[p.curType] = uint32(n)
	p.curBank = uint32(n)
	return nil
}

func (p *parser) doInclude(fields []string, depth int) error {
	if len(fields) != 2 {
		return p.errf("INCLUDE takes exactly one path")
	}
	if p.includer == nil {
		return p.errf("INCLUDE used but no includer was configured")
	}
	path := strings.Trim(fields[1], `"`)
	f, err := p.includer.Open(path)
	if err != nil {
		return p.errf("cannot open included script %q: %v", path, err)
	}
	defer f.Close()
	return p.parseFile(f, path, depth+1)
}

func (p *parser) placeSection(line string) error {
	if len(line) < 2 || line[len(line)-1] != '"' {
		return p.errf("unterminated section name %q", line)
	}
	name := line[1 : len(line)-1]

	c, err := p.requireType()
	if err != nil {
		return err
	}

	placement := Placement{
		Section:   name,
		Type:      p.curType,
		BankFixed: true,
		Bank:      p.curBank,
	}
	if c.fixed {
		placement.OrgFixed = true
		placement.Org = c.addr
	}
	if c.pendingAlign {
		placement.AlignFixed = true
		placement.Align = c.pendingAlignN
		placement.AlignOfs = c.pendingAlignOf
		c.pendingAlign = false
	}
	p.out = append(p.out, placement)

	if c.fixed {
		if p.sizer == nil {
			return p.errf("section %q placed at a fixed address but no size source was configured", name)
		}
		size, ok := p.sizer.SectionSize(name)
		if !ok {
			return p.errf("section %q has no known size (not emitted by any linked object file)", name)
		}
		c.addr += size
	}
	return nil
}

func sectionTypeByName(name string) (section.Type, bool) {
	for t := section.Type(0); int(t) < len(section.TypeInfos); t++ {
		if t.String() == name {
			return t, true
		}
	}
	return 0, false
}

func parseNum(tok string) (uint64, error) {
	switch {
	case strings.HasPrefix(tok, "$"):
		return strconv.ParseUint(tok[1:], 16, 64)
	case strings.HasPrefix(tok, "0x"), strings.HasPrefix(tok, "0X"):
		return strconv.ParseUint(tok[2:], 16, 64)
	default:
		return strconv.ParseUint(tok, 10, 64)
	}
}
