package symbol

import (
	"fmt"

	"github.com/gbdev/rgbds-go/pkg/diag"
)

// Table is the single namespace of spec.md §3: one flat map of symbols
// plus the scope pair tracking the current global/local label prefix.
type Table struct {
	symbols   map[string]*Symbol
	purged    map[string]bool
	builtins  map[string]bool
	scope     Scope
	anonSeq   int
	anonLabel []int // monotonically increasing positions of anonymous labels, by insertion order
	ids       map[string]uint32
	nextID    uint32
}

// NewTable builds an empty table with no built-ins. Built-in thunked
// symbols (`@`, `_NARG`, `__ISO_8601_LOCAL__`, ...) are registered by
// callers through AddBuiltin, since their thunks depend on assembler
// state (current section, current macro args) that pkg/symbol does not
// itself own.
func NewTable() *Table {
	return &Table{
		symbols:  map[string]*Symbol{},
		purged:   map[string]bool{},
		builtins: map[string]bool{},
		ids:      map[string]uint32{},
	}
}

// AddBuiltin registers a built-in thunked symbol. Built-ins cannot be
// redefined or purged, per spec.md §4.4.
func (t *Table) AddBuiltin(name string, thunk func() (int32, bool)) {
	t.symbols[name] = &Symbol{name: name, kind: KindEqu, builtin: true, thunk: thunk}
	t.builtins[name] = true
}

// ID assigns (or returns the existing) stable numeric id used when
// encoding SYM/BANK_SYM RPN opcodes and when writing the object file.
// Implements rpn.SymbolResolver together with ConstantValue/BankOf.
func (t *Table) ID(name string) uint32 {
	if id, ok := t.ids[name]; ok {
		return id
	}
	id := t.nextID
	t.ids[name] = id
	t.nextID++
	return id
}

// ConstantValue implements rpn.SymbolResolver: returns a symbol's value
// if it is already a known Equ/Var/builtin constant.
func (t *Table) ConstantValue(name string) (int32, bool) {
	sym, ok := t.FindScopedValid(name)
	if !ok {
		return 0, false
	}
	switch sym.kind {
	case KindEqu, KindVar:
		return sym.Value(), true
	default:
		if sym.builtin {
			return sym.ThunkValue()
		}
		return 0, false
	}
}

// BankOf implements rpn.SymbolResolver's bank lookup. The table itself
// has no notion of section banks, so BankOf always reports unknown and
// BANK(symbol) stays a deferred expression for the linker.
func (t *Table) BankOf(name string) (int32, bool) { return 0, false }

// AssignedNames returns, in id order, every symbol name that has been
// assigned a stable numeric id via ID() — the positional array
// pkg/objfile's writer serializes as the object file's symbol table
// (spec.md §6: symbols are referenced from RPN streams purely by index).
func (t *Table) AssignedNames() []string {
	names := make([]string, t.nextID)
	for name, id := range t.ids {
		names[id] = name
	}
	return names
}

// FindExact is a raw, unqualified map lookup.
func (t *Table) FindExact(name string) (*Symbol, bool) {
	sym, ok := t.symbols[name]
	return sym, ok
}

// FindScoped qualifies an unqualified local name (a single leading dot,
// not `.`/`..`) with the current global scope before looking it up.
func (t *Table) FindScoped(name string) (*Symbol, bool) {
	return t.FindExact(t.Qualify(name))
}

// FindScopedValid is FindScoped but returns ok=false for a built-in that
// currently has no value in context (e.g. `@` outside a section).
func (t *Table) FindScopedValid(name string) (*Symbol, bool) {
	sym, ok := t.FindScoped(name)
	if !ok {
		return nil, false
	}
	if sym.builtin {
		if _, valid := sym.ThunkValue(); !valid {
			return nil, false
		}
	}
	return sym, true
}

// Qualify expands `.`/`..` to the current scope names and prefixes a bare
// local label (`.sub`) with the current global scope, per spec.md §3.
func (t *Table) Qualify(name string) string {
	switch name {
	case ".":
		return t.scope.Global
	case "..":
		return t.scope.Local
	}
	if len(name) > 1 && name[0] == '.' && name[1] != '.' {
		return t.scope.Global + name
	}
	return name
}

// Scope returns the current (global, local) pair.
func (t *Table) Scope() Scope { return t.scope }

// SetGlobalLabel updates the scope after a global label definition,
// spec.md §3: "A global label (Name) sets globalScope and clears
// localScope."
func (t *Table) SetGlobalLabel(name string) {
	t.scope = Scope{Global: name, Local: ""}
}

// SaveScope/RestoreScope bracket a section LOAD block, per spec.md §4.5.
func (t *Table) SaveScope() Scope       { return t.scope }
func (t *Table) RestoreScope(s Scope)   { t.scope = s }

func (t *Table) definitionConflict(name string, newKind Kind, allowRedef bool) (*Symbol, error) {
	if t.purged[name] {
		return nil, diag.MakeError(diag.ErrPurged, "%s was purged", name)
	}
	existing, ok := t.symbols[name]
	if !ok {
		return nil, nil
	}
	if existing.builtin {
		return nil, diag.MakeError(diag.ErrAlreadyDefined, "%s is a built-in symbol and cannot be redefined", name)
	}
	if existing.kind == KindRef {
		return existing, nil // forward ref: upgrade allowed
	}
	if allowRedef && existing.kind == newKind {
		return existing, nil // same kind + redef* used: overwrite
	}
	return nil, diag.MakeError(diag.ErrAlreadyDefined, "%s already defined as %s at %s:%d",
		name, existing.kind, existing.source.Description, existing.source.Line)
}

// AddEqu defines a new constant; fails if the name is already defined
// (other than as a forward reference).
func (t *Table) AddEqu(name string, value int32, source Source) error {
	if _, err := t.definitionConflict(name, KindEqu, false); err != nil {
		return err
	}
	t.symbols[name] = &Symbol{name: name, kind: KindEqu, intValue: value, source: source}
	return nil
}

// RedefEqu defines or overwrites a constant of the same kind.
func (t *Table) RedefEqu(name string, value int32, source Source) error {
	if _, err := t.definitionConflict(name, KindEqu, true); err != nil {
		return err
	}
	t.symbols[name] = &Symbol{name: name, kind: KindEqu, intValue: value, source: source}
	return nil
}

// AddVar defines a mutable integer; vars may always be redefined.
func (t *Table) AddVar(name string, value int32, source Source) error {
	if _, err := t.definitionConflict(name, KindVar, true); err != nil {
		return err
	}
	t.symbols[name] = &Symbol{name: name, kind: KindVar, intValue: value, source: source}
	return nil
}

// AddString defines a new string equate.
func (t *Table) AddString(name, value string, source Source) error {
	if _, err := t.definitionConflict(name, KindStringEqu, false); err != nil {
		return err
	}
	t.symbols[name] = &Symbol{name: name, kind: KindStringEqu, str: &value, source: source}
	return nil
}

// RedefString overwrites an existing string equate.
func (t *Table) RedefString(name, value string, source Source) error {
	if _, err := t.definitionConflict(name, KindStringEqu, true); err != nil {
		return err
	}
	t.symbols[name] = &Symbol{name: name, kind: KindStringEqu, str: &value, source: source}
	return nil
}

// AddMacro defines a macro from its captured body.
func (t *Table) AddMacro(name string, body []byte, startLine int, source Source) error {
	if _, err := t.definitionConflict(name, KindMacro, false); err != nil {
		return err
	}
	t.symbols[name] = &Symbol{name: name, kind: KindMacro, macroBody: body, macroLine: startLine, source: source}
	return nil
}

// AddLabel defines a global label bound to a section offset and updates
// the current scope.
func (t *Table) AddLabel(name, sectionName string, offset int32, exported bool, source Source) error {
	if _, err := t.definitionConflict(name, KindLabel, false); err != nil {
		return err
	}
	t.symbols[name] = &Symbol{name: name, kind: KindLabel, sectionName: sectionName, offset: offset, exported: exported, source: source}
	t.SetGlobalLabel(name)
	return nil
}

// AddLocalLabel defines `.sub`, qualified against the current global
// scope, without touching the scope itself.
func (t *Table) AddLocalLabel(name, sectionName string, offset int32, exported bool, source Source) error {
	qualified := t.Qualify(name)
	if _, err := t.definitionConflict(qualified, KindLabel, false); err != nil {
		return err
	}
	t.symbols[qualified] = &Symbol{name: qualified, kind: KindLabel, sectionName: sectionName, offset: offset, exported: exported, source: source}
	t.scope.Local = qualified
	return nil
}

// AddAnonLabel defines the next `!N` anonymous label.
func (t *Table) AddAnonLabel(sectionName string, offset int32, source Source) string {
	name := fmt.Sprintf("!%d", t.anonSeq)
	t.symbols[name] = &Symbol{name: name, kind: KindLabel, sectionName: sectionName, offset: offset, source: source}
	t.anonLabel = append(t.anonLabel, t.anonSeq)
	t.anonSeq++
	return name
}

// MakeAnonLabelName resolves a `:-`/`:+` reference (ofs positions back
// or forward from the current anonymous label counter) to the anonymous
// label's encoded name.
func (t *Table) MakeAnonLabelName(ofs int, neg bool) (string, bool) {
	var target int
	if neg {
		target = t.anonSeq - ofs
	} else {
		target = t.anonSeq - 1 + ofs
	}
	for _, seq := range t.anonLabel {
		if seq == target {
			return fmt.Sprintf("!%d", target), true
		}
	}
	return "", false
}

// Ref forward-declares a name with no value, the weakest possible
// definition; later Add* calls may upgrade it.
func (t *Table) Ref(name string, source Source) (*Symbol, error) {
	if existing, ok := t.symbols[name]; ok {
		return existing, nil
	}
	sym := &Symbol{name: name, kind: KindRef, source: source}
	t.symbols[name] = sym
	return sym, nil
}

// Purge erases a definition; later lookups of the same name report
// "purged" rather than "undefined". Built-ins cannot be purged.
func (t *Table) Purge(name string) error {
	sym, ok := t.symbols[name]
	if !ok {
		return diag.MakeError(diag.ErrUndefined, "%s", name)
	}
	if sym.builtin {
		return diag.MakeError(diag.ErrAlreadyDefined, "%s is a built-in symbol and cannot be purged", name)
	}
	delete(t.symbols, name)
	t.purged[name] = true
	return nil
}

// Export marks an existing label, or a forward reference, as exported;
// any other kind of symbol is rejected.
func (t *Table) Export(name string) error {
	sym, ok := t.symbols[name]
	if !ok {
		return diag.MakeError(diag.ErrUndefined, "%s", name)
	}
	if sym.kind != KindLabel && sym.kind != KindRef {
		return diag.MakeError(diag.ErrAlreadyDefined, "%s cannot be exported: not a label", name)
	}
	sym.exported = true
	return nil
}

// IsPurged reports whether a name was previously purged.
func (t *Table) IsPurged(name string) bool { return t.purged[name] }

// All returns every defined symbol, for object-file emission and map/sym
// file writers.
func (t *Table) All() map[string]*Symbol { return t.symbols }
