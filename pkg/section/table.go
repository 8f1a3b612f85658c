package section

import "fmt"

// Table owns every section declared by the current compilation unit (or,
// in the linker, by all object files merged together).
type Table struct {
	sections   map[string]*Section
	order      []string
	fillByte   byte
	current    string // name of the section currently being assembled, for BANK(@)
	assertions []Assertion
}

// NewTable builds an empty section table with the given pad byte used
// for reserved-but-unwritten ROM bytes (the linker's `-p` flag).
func NewTable(fillByte byte) *Table {
	return &Table{sections: map[string]*Section{}, fillByte: fillByte}
}

// FillByte is the byte value used to pad unwritten ROM space.
func (t *Table) FillByte() byte { return t.fillByte }

// FindByName mirrors sect_FindSectionByName.
func (t *Table) FindByName(name string) (*Section, bool) {
	s, ok := t.sections[name]
	return s, ok
}

// IndexOf returns a section's position in All()'s declaration order, the
// "local to the file" section id spec.md §6's object format embeds in
// symbol and patch records.
func (t *Table) IndexOf(name string) (int, bool) {
	for i, n := range t.order {
		if n == name {
			return i, true
		}
	}
	return 0, false
}

// All returns every section in declaration order.
func (t *Table) All() []*Section {
	result := make([]*Section, 0, len(t.order))
	for _, name := range t.order {
		result = append(result, t.sections[name])
	}
	return result
}

// CreateSection implements spec.md §4.5: a first declaration creates a
// fresh section; re-declaring an existing name merges constraints (type
// and modifier must match, and Union/Fragment contribute new members
// rather than overwriting).
func (t *Table) CreateSection(name string, typ Type, modifier Modifier, constraint Constraint) (*Section, error) {
	existing, ok := t.sections[name]
	if !ok {
		s := newSection(name, typ, modifier, constraint)
		t.sections[name] = s
		t.order = append(t.order, name)
		return s, nil
	}

	if existing.typ != typ {
		return nil, fmt.Errorf("section %q already declared with type %s, cannot redeclare as %s", name, existing.typ, typ)
	}
	if existing.modifier != modifier {
		return nil, fmt.Errorf("section %q already declared as %s, cannot redeclare as %s", name, existing.modifier, modifier)
	}
	if modifier == Normal {
		return nil, fmt.Errorf("section %q already declared", name)
	}

	merged, err := merge(existing.constraint, constraint)
	if err != nil {
		return nil, fmt.Errorf("section %q: %w", name, err)
	}
	existing.constraint = merged

	switch modifier {
	case Fragment:
		existing.nextFragmentPiece()
	case Union:
		existing.nextUnionMember()
	}

	return existing, nil
}

// CheckSizes reports every section that grew past its type's maximum
// size, spec.md §4.5's emit-time/placement-time size-cap check.
func (t *Table) CheckSizes() []error {
	var errs []error
	for _, name := range t.order {
		s := t.sections[name]
		max := TypeInfos[s.typ].Size
		if s.size > max {
			errs = append(errs, fmt.Errorf("section %q grew too big (max size = 0x%X bytes, reached 0x%X)", name, max, s.size))
		}
	}
	return errs
}

// SectionBank implements rpn.SectionResolver.
func (t *Table) SectionBank(name string) (int32, bool) {
	s, ok := t.sections[name]
	if !ok || !s.Placed {
		if ok && s.constraint.BankFixed {
			return int32(s.constraint.Bank), true
		}
		return 0, false
	}
	return int32(s.Bank), true
}

// SectionSize implements rpn.SectionResolver.
func (t *Table) SectionSize(name string) (int32, bool) {
	s, ok := t.sections[name]
	if !ok {
		return 0, false
	}
	return int32(s.size), true
}

// SectionStart implements rpn.SectionResolver.
func (t *Table) SectionStart(name string) (int32, bool) {
	s, ok := t.sections[name]
	if !ok || !s.Placed {
		if ok && s.constraint.OrgFixed {
			return int32(s.constraint.Org), true
		}
		return 0, false
	}
	return int32(s.Org), true
}

// SectionTypeSize implements rpn.SectionResolver.
func (t *Table) SectionTypeSize(sectType byte) (int32, bool) {
	if int(sectType) >= len(TypeInfos) {
		return 0, false
	}
	return int32(TypeInfos[sectType].Size), true
}

// SectionTypeStart implements rpn.SectionResolver.
func (t *Table) SectionTypeStart(sectType byte) (int32, bool) {
	if int(sectType) >= len(TypeInfos) {
		return 0, false
	}
	return int32(TypeInfos[sectType].StartAddr), true
}

// SetCurrent records which section is being assembled, for BANK(@) and
// CurrentOffset-style PC bookkeeping.
func (t *Table) SetCurrent(name string) { t.current = name }

// Current returns the section currently being assembled, if any.
func (t *Table) Current() (*Section, bool) {
	if t.current == "" {
		return nil, false
	}
	s, ok := t.sections[t.current]
	return s, ok
}

// AddAssertion registers an ASSERT/STATIC_ASSERT directive's deferred
// boolean check, spec.md §3's Assertion data model.
func (t *Table) AddAssertion(a Assertion) { t.assertions = append(t.assertions, a) }

// Assertions returns every registered assertion, in declaration order.
func (t *Table) Assertions() []Assertion { return t.assertions }

// SelfBank implements rpn.SectionResolver's BANK(@): ok=false when there
// is no current section (spec's RPN_ERR_NO_SELF_BANK, a fatal error at
// the caller).
func (t *Table) SelfBank() (int32, bool) {
	s, ok := t.Current()
	if !ok {
		return 0, false
	}
	return t.SectionBank(s.name)
}
