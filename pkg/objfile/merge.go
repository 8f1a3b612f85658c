package objfile

import (
	"fmt"

	"github.com/gbdev/rgbds-go/pkg/rpn"
	"github.com/gbdev/rgbds-go/pkg/section"
	"github.com/gbdev/rgbds-go/pkg/symbol"
)

// Merge folds one parsed object file (native or sdas) into the linker's
// shared symbol and section tables, spec.md §4.9: local section indices
// become section-name lookups, local symbol indices become the shared
// table's own lazily-assigned ids (so every patch's RPN keeps working
// unchanged after RemapSymbolIDs), and an Import is left as a forward
// reference for some other file's Export to resolve later.
//
// tag disambiguates a file's non-exported (SymLocal) symbols, which may
// collide by name across independently assembled files (anonymous `!N`
// labels are the common case): such symbols are registered under
// "name$tag" rather than their bare name. Exported/imported symbols are
// never renamed, since cross-file linking matches them by exact name.
func Merge(tag string, f *File, symbols *symbol.Table, sections *section.Table) error {
	m := &merger{tag: tag, file: f, symbols: symbols, sections: sections}
	return m.run()
}

type merger struct {
	tag      string
	file     *File
	symbols  *symbol.Table
	sections *section.Table

	sectionNames []string
	offsetDelta  []uint32
	globalID     []uint32
}

func (m *merger) run() error {
	if err := m.mergeSections(); err != nil {
		return err
	}
	if err := m.mergeSymbols(); err != nil {
		return err
	}
	return m.mergePatches()
}

func (m *merger) mergeSections() error {
	m.sectionNames = make([]string, len(m.file.Sections))
	m.offsetDelta = make([]uint32, len(m.file.Sections))

	for i, rec := range m.file.Sections {
		typ := section.Type(rec.TypeByte & 0x3F)
		modifier := section.Normal
		switch {
		case rec.IsUnion():
			modifier = section.Union
		case rec.IsFragment():
			modifier = section.Fragment
		}

		constraint := section.Constraint{}
		if rec.Org != FloatingAddr {
			constraint.OrgFixed, constraint.Org = true, rec.Org
		}
		if rec.Bank != FloatingBank {
			constraint.BankFixed, constraint.Bank = true, rec.Bank
		}
		if rec.Align != 0 {
			constraint.AlignFixed, constraint.Align, constraint.AlignOfs = true, rec.Align, uint16(rec.AlignOfs)
		}

		sect, err := m.sections.CreateSection(rec.Name, typ, modifier, constraint)
		if err != nil {
			return fmt.Errorf("objfile merge: section %q: %w", rec.Name, err)
		}

		var delta uint32
		if typ.HasData() {
			delta, err = sect.Emit(rec.Data)
		} else {
			delta = sect.Reserve(rec.Size)
		}
		if err != nil {
			return err
		}

		m.sectionNames[i] = rec.Name
		m.offsetDelta[i] = delta
	}
	return nil
}

func (m *merger) mergeSymbols() error {
	m.globalID = make([]uint32, len(m.file.Symbols))

	for i, rec := range m.file.Symbols {
		src := symbol.Source{Description: m.tag, Line: int(rec.LineNo)}

		switch rec.Type {
		case SymImport:
			if _, err := m.symbols.Ref(rec.Name, src); err != nil {
				return fmt.Errorf("objfile merge: %q: %w", rec.Name, err)
			}
			m.globalID[i] = m.symbols.ID(rec.Name)

		case SymExport, SymLocal:
			name := rec.Name
			if rec.Type == SymLocal {
				name = fmt.Sprintf("%s$%s", rec.Name, m.tag)
			}

			if rec.SectionID == NoSection {
				if err := m.defineConstant(name, rec, src); err != nil {
					return err
				}
			} else {
				if int(rec.SectionID) >= len(m.sectionNames) {
					return fmt.Errorf("objfile merge: symbol %q references out-of-range section #%d", rec.Name, rec.SectionID)
				}
				sectionName := m.sectionNames[rec.SectionID]
				offset := rec.Value + int32(m.offsetDelta[rec.SectionID])
				exported := rec.Type == SymExport
				if err := m.symbols.AddLabel(name, sectionName, offset, exported, src); err != nil {
					return fmt.Errorf("objfile merge: %q: %w", rec.Name, err)
				}
			}
			m.globalID[i] = m.symbols.ID(name)

		default:
			return fmt.Errorf("objfile merge: symbol %q has unknown type byte %d", rec.Name, rec.Type)
		}
	}
	return nil
}

func (m *merger) defineConstant(name string, rec Symbol, src symbol.Source) error {
	if err := m.symbols.AddEqu(name, rec.Value, src); err != nil {
		return fmt.Errorf("objfile merge: %q: %w", rec.Name, err)
	}
	return nil
}

func (m *merger) mergePatches() error {
	for i, rec := range m.file.Sections {
		sect, ok := m.sections.FindByName(m.sectionNames[i])
		if !ok {
			return fmt.Errorf("objfile merge: section %q vanished mid-merge", m.sectionNames[i])
		}
		for _, p := range rec.Patches {
			patch, err := m.translatePatch(p, i)
			if err != nil {
				return err
			}
			if err := sect.AddPatch(patch); err != nil {
				return fmt.Errorf("objfile merge: %w", err)
			}
		}
	}

	for _, a := range m.file.Assertions {
		patch, err := m.translatePatch(a.Patch, -1)
		if err != nil {
			return err
		}
		patch.Type = section.PatchByte
		m.sections.AddAssertion(section.Assertion{Patch: patch, Severity: severityFromByte(a.Patch.Type), Message: a.Message})
	}
	return nil
}

// translatePatch rewrites one object-file patch record's file-local
// section/symbol ids into the shared tables' own names/ids. pcSectionLocal
// is the patch's own containing local section index, or -1 for an
// assertion (whose pcSection comes entirely from the record itself).
func (m *merger) translatePatch(p Patch, pcSectionLocal int) (section.Patch, error) {
	if int(p.PCSectionID) >= len(m.sectionNames) {
		return section.Patch{}, fmt.Errorf("objfile merge: patch references out-of-range PC section #%d", p.PCSectionID)
	}
	pcDelta := m.offsetDelta[p.PCSectionID]

	offset := p.Offset
	if pcSectionLocal >= 0 {
		offset += m.offsetDelta[pcSectionLocal]
	}

	rpnBytes, err := rpn.RemapSymbolIDs(p.RPN, func(localID uint32) uint32 {
		if int(localID) < len(m.globalID) {
			return m.globalID[localID]
		}
		return localID
	})
	if err != nil {
		return section.Patch{}, fmt.Errorf("objfile merge: %w", err)
	}

	return section.Patch{
		Type:      section.PatchType(p.Type),
		Offset:    offset,
		PCSection: m.sectionNames[p.PCSectionID],
		PCOffset:  p.PCOffset + pcDelta,
		Source:    section.Source{Description: m.tag, Line: int(p.LineNo)},
		RPN:       rpnBytes,
	}, nil
}

func severityFromByte(b byte) string {
	return AssertionSeverity(b).String()
}

// UnresolvedImports reports every symbol still sitting at KindRef after
// every object file has been merged in: an Import with no file's Export
// to match it, spec.md §4.9's "an Import must match an Export somewhere".
func UnresolvedImports(symbols *symbol.Table) []string {
	var names []string
	for name, sym := range symbols.All() {
		if sym.Kind() == symbol.KindRef {
			names = append(names, name)
		}
	}
	return names
}
