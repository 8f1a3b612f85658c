// Package symbol implements the single-namespace symbol table described in
// spec.md §3/§4.4: a global name map plus scoped local labels, with typed
// entries for constants, variables, labels, string equates and macros.
package symbol

import "github.com/gbdev/rgbds-go/pkg/fstack"

// Kind identifies a symbol's payload, spec.md §3's Symbol.kind.
type Kind int

const (
	KindRef Kind = iota
	KindEqu
	KindVar
	KindLabel
	KindStringEqu
	KindMacro
)

func (k Kind) String() string {
	switch k {
	case KindRef:
		return "a forward reference"
	case KindEqu:
		return "a constant"
	case KindVar:
		return "a variable"
	case KindLabel:
		return "a label"
	case KindStringEqu:
		return "a string constant"
	case KindMacro:
		return "a macro"
	default:
		return "unknown"
	}
}

// Source is a rendered source location, used for diagnostic backtraces
// and, via Node, as the object writer's file-stack DAG anchor for this
// definition (spec.md §3's FileStackNode, §6's per-symbol nodeId field).
// Node may be nil (e.g. in unit tests that build symbols directly),
// in which case the object writer synthesizes a standalone node from
// Description/Line.
type Source struct {
	Description string
	Line        int
	Node        *fstack.Node
}

// Symbol is a tagged-union value: the private payload fields are only
// meaningful for the matching Kind, and the typed accessors below panic
// on a kind mismatch — the OperandValue idiom (Kind()/typed accessor)
// this repository uses throughout.
type Symbol struct {
	name     string
	kind     Kind
	source   Source
	exported bool
	builtin  bool

	intValue    int32
	sectionName string
	offset      int32
	str         *string
	macroBody   []byte
	macroLine   int
	thunk       func() (int32, bool)
}

func (s *Symbol) Name() string      { return s.name }
func (s *Symbol) Kind() Kind        { return s.kind }
func (s *Symbol) Source() Source    { return s.source }
func (s *Symbol) Exported() bool    { return s.exported }
func (s *Symbol) Builtin() bool     { return s.builtin }

// Value returns an Equ/Var's integer value, or the value produced by a
// builtin thunk (e.g. `@`, `_NARG`). Panics for any other kind.
func (s *Symbol) Value() int32 {
	if s.thunk != nil {
		v, ok := s.thunk()
		if !ok {
			panic("symbol: built-in " + s.name + " has no value in the current context")
		}
		return v
	}
	if s.kind != KindEqu && s.kind != KindVar {
		panic("symbol: Value() called on " + s.kind.String() + " symbol " + s.name)
	}
	return s.intValue
}

// ThunkValue reports a builtin's current value without panicking,
// returning ok=false when the builtin is contextually invalid (e.g. `@`
// outside a section).
func (s *Symbol) ThunkValue() (int32, bool) {
	if s.thunk == nil {
		return 0, false
	}
	return s.thunk()
}

// Label returns a label's owning section name and in-section offset.
func (s *Symbol) Label() (section string, offset int32) {
	if s.kind != KindLabel {
		panic("symbol: Label() called on " + s.kind.String() + " symbol " + s.name)
	}
	return s.sectionName, s.offset
}

// String returns a StringEqu's value.
func (s *Symbol) String() string {
	if s.kind != KindStringEqu {
		panic("symbol: String() called on " + s.kind.String() + " symbol " + s.name)
	}
	return *s.str
}

// MacroBody returns a Macro's captured source span and the line its body
// starts at (for accurate backtraces when the macro later executes).
func (s *Symbol) MacroBody() (body []byte, startLine int) {
	if s.kind != KindMacro {
		panic("symbol: MacroBody() called on " + s.kind.String() + " symbol " + s.name)
	}
	return s.macroBody, s.macroLine
}
