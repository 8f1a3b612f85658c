// Package patch implements the C11 link-time patch resolver of spec.md
// §4.8/§4.9: once pkg/placement has assigned every section its final
// (bank, org), each section's recorded patches are re-evaluated against
// that layout and written back into the section's bytes. Grounded on
// pkg/hw/cpu/mc/instructionresolver.go's "keep resolving until every
// representation agrees" pipeline, narrowed here to a single pass since
// a patch has exactly one representation (an RPN byte stream) to
// resolve down to one final value.
package patch

import (
	"fmt"

	"github.com/gbdev/rgbds-go/pkg/rpn"
	"github.com/gbdev/rgbds-go/pkg/section"
	"github.com/gbdev/rgbds-go/pkg/symbol"
)

// Warning is a non-fatal patch-resolution diagnostic (an out-of-range
// byte/word/long write, truncated rather than rejected, per spec.md
// §4.8's "truncation" warning).
type Warning struct {
	Section string
	Offset  uint32
	Message string
}

// Resolve evaluates and writes back every patch recorded against sections
// that carry data (ROM0/ROMX), once sections carry their final placement.
// Returns every resolution failure found rather than stopping at the
// first one, so a single `rgblink` run reports every broken patch.
func Resolve(symtab *symbol.Table, sections *section.Table) ([]Warning, []error) {
	names := symtab.AssignedNames()
	var warnings []Warning
	var errs []error

	for _, sec := range sections.All() {
		if !sec.Type().HasData() {
			continue
		}
		data := sec.Data()
		for _, p := range sec.Patches() {
			res, err := newLinkResolver(symtab, sections, names, p.PCSection)
			if err != nil {
				errs = append(errs, fmt.Errorf("section %q: %w", sec.Name(), err))
				continue
			}
			value, err := rpn.Eval(p.RPN, res)
			if err != nil {
				errs = append(errs, fmt.Errorf("section %q, offset $%04X: %w", sec.Name(), p.Offset, err))
				continue
			}
			ws, err := writeBack(data, sections, sec.Name(), p, value)
			warnings = append(warnings, ws...)
			if err != nil {
				errs = append(errs, err)
			}
		}
	}
	return warnings, errs
}

func writeBack(data []byte, sections *section.Table, secName string, p section.Patch, value int32) ([]Warning, error) {
	switch p.Type {
	case section.PatchByte:
		var warnings []Warning
		if diags := rpn.CheckNBit(value, 8); len(diags) > 0 {
			warnings = append(warnings, Warning{Section: secName, Offset: p.Offset, Message: diags[0].Message})
		}
		data[p.Offset] = byte(value)
		return warnings, nil

	case section.PatchWord:
		var warnings []Warning
		if diags := rpn.CheckNBit(value, 16); len(diags) > 0 {
			warnings = append(warnings, Warning{Section: secName, Offset: p.Offset, Message: diags[0].Message})
		}
		data[p.Offset] = byte(value)
		data[p.Offset+1] = byte(value >> 8)
		return warnings, nil

	case section.PatchLong:
		data[p.Offset] = byte(value)
		data[p.Offset+1] = byte(value >> 8)
		data[p.Offset+2] = byte(value >> 16)
		data[p.Offset+3] = byte(value >> 24)
		return nil, nil

	case section.PatchJr:
		pcSec, ok := sections.FindByName(p.PCSection)
		if !ok || !pcSec.Placed {
			return nil, fmt.Errorf("section %q, offset $%04X: jr target's own section %q has no final address", secName, p.Offset, p.PCSection)
		}
		pc := int32(pcSec.Org) + int32(p.PCOffset) + 2
		disp := value - pc
		if disp < -128 || disp > 127 {
			return nil, fmt.Errorf("section %q, offset $%04X: jr target is out of range (displacement %d)", secName, p.Offset, disp)
		}
		data[p.Offset] = byte(int8(disp))
		return nil, nil

	default:
		return nil, fmt.Errorf("section %q, offset $%04X: unknown patch type %d", secName, p.Offset, p.Type)
	}
}

// linkResolver implements rpn.LinkResolver by reading a fully merged
// symbol table and the linker's now-placed section table. selfSection is
// the patch's own PCSection, the section BANK(@) resolves against.
type linkResolver struct {
	symtab   *symbol.Table
	sections *section.Table
	names    []string
	selfBank int32
}

func newLinkResolver(symtab *symbol.Table, sections *section.Table, names []string, selfSection string) (*linkResolver, error) {
	pcSec, ok := sections.FindByName(selfSection)
	if !ok || !pcSec.Placed {
		return nil, fmt.Errorf("patch references section %q, which has no final address", selfSection)
	}
	return &linkResolver{symtab: symtab, sections: sections, names: names, selfBank: int32(pcSec.Bank)}, nil
}

func (r *linkResolver) symbolByID(id uint32) (*symbol.Symbol, string, error) {
	if int(id) >= len(r.names) {
		return nil, "", fmt.Errorf("patch: unknown symbol id %d", id)
	}
	name := r.names[id]
	sym, ok := r.symtab.FindExact(name)
	if !ok {
		return nil, "", fmt.Errorf("patch: undefined symbol %q", name)
	}
	return sym, name, nil
}

func (r *linkResolver) SymbolValue(id uint32) (int32, error) {
	sym, name, err := r.symbolByID(id)
	if err != nil {
		return 0, err
	}
	switch sym.Kind() {
	case symbol.KindEqu, symbol.KindVar:
		return sym.Value(), nil
	case symbol.KindLabel:
		secName, offset := sym.Label()
		sec, ok := r.sections.FindByName(secName)
		if !ok || !sec.Placed {
			return 0, fmt.Errorf("patch: section %q for label %q has no final address", secName, name)
		}
		return int32(sec.Org) + offset, nil
	default:
		return 0, fmt.Errorf("patch: symbol %q has no link-time value", name)
	}
}

func (r *linkResolver) SymbolBank(id uint32) (int32, error) {
	sym, name, err := r.symbolByID(id)
	if err != nil {
		return 0, err
	}
	if sym.Kind() != symbol.KindLabel {
		return 0, fmt.Errorf("patch: BANK() requires a label, %q is not one", name)
	}
	secName, _ := sym.Label()
	sec, ok := r.sections.FindByName(secName)
	if !ok || !sec.Placed {
		return 0, fmt.Errorf("patch: section %q for label %q has no final bank", secName, name)
	}
	return int32(sec.Bank), nil
}

func (r *linkResolver) SectionBank(name string) (int32, error) {
	sec, ok := r.sections.FindByName(name)
	if !ok || !sec.Placed {
		return 0, fmt.Errorf("patch: section %q has no final bank", name)
	}
	return int32(sec.Bank), nil
}

func (r *linkResolver) SectionSize(name string) (int32, error) {
	sec, ok := r.sections.FindByName(name)
	if !ok {
		return 0, fmt.Errorf("patch: section %q does not exist", name)
	}
	return int32(sec.Size()), nil
}

func (r *linkResolver) SectionStart(name string) (int32, error) {
	sec, ok := r.sections.FindByName(name)
	if !ok || !sec.Placed {
		return 0, fmt.Errorf("patch: section %q has no final address", name)
	}
	return int32(sec.Org), nil
}

func (r *linkResolver) SectionTypeSize(sectType byte) (int32, error) {
	if int(sectType) >= len(section.TypeInfos) {
		return 0, fmt.Errorf("patch: unknown section type %d", sectType)
	}
	return int32(section.TypeInfos[sectType].Size), nil
}

func (r *linkResolver) SectionTypeStart(sectType byte) (int32, error) {
	if int(sectType) >= len(section.TypeInfos) {
		return 0, fmt.Errorf("patch: unknown section type %d", sectType)
	}
	return int32(section.TypeInfos[sectType].StartAddr), nil
}

func (r *linkResolver) SelfBank() (int32, error) {
	return r.selfBank, nil
}
