package symbol

// Scope is the (globalScope, localScope) pair of spec.md §3: the name of
// the most recently defined global label, and the fully qualified name
// of the most recently defined local label under it.
type Scope struct {
	Global string
	Local  string
}
