package fstack

import "github.com/gbdev/rgbds-go/pkg/diag"

func errRecursionTooDeep(name string) error {
	return diag.MakeError(diag.ErrRecursionLimit, "expansion %q exceeds the configured recursion limit", name)
}

// MacroArgs is the shared list of arguments an invocation was called
// with, looked up by `\1`..`\9`; `\#` expands all of them joined by
// commas, spec.md §4.1.
type MacroArgs struct {
	Args []string
}

func (m *MacroArgs) Arg(n int) (string, bool) {
	if m == nil || n < 1 || n > len(m.Args) {
		return "", false
	}
	return m.Args[n-1], true
}

func (m *MacroArgs) All() string {
	if m == nil {
		return ""
	}
	s := ""
	for i, a := range m.Args {
		if i > 0 {
			s += ", "
		}
		s += a
	}
	return s
}

// expansion is a (contents, cursor, optional name) triple, spec.md §4.1.
// Expansions form a LIFO queue that the lexer consults before falling
// through to the underlying file content.
type expansion struct {
	name    string // empty for anonymous expansions (interpolation results, equs values)
	content *ViewedContent
}

// expansionStack implements the LIFO peek/consume-first-then-fallthrough
// discipline of spec.md §4.1, plus the recursion limit on named
// expansions (macro-arg/interpolation cycles).
type expansionStack struct {
	stack    []*expansion
	maxDepth int
}

func newExpansionStack(maxDepth int) *expansionStack {
	return &expansionStack{maxDepth: maxDepth}
}

func (e *expansionStack) push(name string, bytes []byte) error {
	if name != "" {
		named := 0
		for _, x := range e.stack {
			if x.name != "" {
				named++
			}
		}
		if e.maxDepth > 0 && named >= e.maxDepth {
			return errRecursionTooDeep(name)
		}
	}
	e.stack = append(e.stack, &expansion{name: name, content: NewViewedContent(bytes)})
	return nil
}

// peek walks the expansion stack top-down, falling through to fallback
// when every expansion is exhausted.
func (e *expansionStack) peek(n int, fallback Content) (byte, bool) {
	remaining := n
	for i := len(e.stack) - 1; i >= 0; i-- {
		x := e.stack[i]
		if b, ok := x.content.Peek(remaining); ok {
			return b, true
		}
		// This expansion doesn't have enough bytes left to satisfy the
		// peek; since expansions are consumed strictly before falling
		// through, deeper lookups only make sense once this expansion
		// itself is exhausted, which peek from the bottom-most frame
		// handles via the fallback content below.
		remaining -= remainingLen(x.content)
		if remaining < 0 {
			return 0, false
		}
	}
	return fallback.Peek(remaining)
}

func remainingLen(v *ViewedContent) int { return len(v.bytes) - v.offset }

// advance consumes one byte, preferring the top expansion frame. It
// reports whether the byte came from fallback (the real file content)
// rather than an expansion, since line numbers only advance on newlines
// read directly from file content, never from inside an expansion.
func (e *expansionStack) advance(fallback Content) (fromFallback bool) {
	for len(e.stack) > 0 {
		top := e.stack[len(e.stack)-1]
		if _, ok := top.content.Peek(0); ok {
			top.content.Advance()
			if _, ok := top.content.Peek(0); !ok {
				e.stack = e.stack[:len(e.stack)-1]
			}
			return false
		}
		e.stack = e.stack[:len(e.stack)-1]
	}
	fallback.Advance()
	return true
}

func (e *expansionStack) empty() bool { return len(e.stack) == 0 }
