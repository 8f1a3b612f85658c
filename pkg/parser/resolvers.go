package parser

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/gbdev/rgbds-go/pkg/symbol"
)

// equsResolver adapts pkg/symbol.Table to fstack.EquResolver: a bare
// identifier that names a string equate is substituted as an expansion
// rather than returned as an Identifier token, spec.md §4.1's third
// expansion trigger.
type equsResolver struct{ symbols *symbol.Table }

func (r equsResolver) ResolveEqus(name string) (string, bool) {
	sym, ok := r.symbols.FindScopedValid(name)
	if !ok || sym.Kind() != symbol.KindStringEqu {
		return "", false
	}
	return sym.String(), true
}

func (p *Parser) equResolver() equsResolver { return equsResolver{symbols: p.symbols} }

// interpResolver adapts pkg/symbol.Table to fstack.InterpResolver:
// `{symbol}` / `{fmt:symbol}` resolution, spec.md §4.1.
type interpResolver struct{ symbols *symbol.Table }

func (p *Parser) interpResolver() interpResolver { return interpResolver{symbols: p.symbols} }

// Interpolate formats the contents of a `{...}` span: an optional
// `fmt:` format-spec prefix, then a symbol name whose string or numeric
// value is substituted.
func (r interpResolver) Interpolate(raw string) (string, error) {
	spec := ""
	name := raw
	if idx := strings.IndexByte(raw, ':'); idx >= 0 {
		spec = raw[:idx]
		name = raw[idx+1:]
	}

	sym, ok := r.symbols.FindScopedValid(name)
	if !ok {
		return "", fmt.Errorf("interpolation references undefined symbol %q", name)
	}

	switch sym.Kind() {
	case symbol.KindStringEqu:
		return sym.String(), nil
	default:
		return formatInterpNumber(sym.Value(), spec), nil
	}
}

// formatInterpNumber renders v for a `{spec:symbol}` interpolation using
// only the spec's last character: x, X, o, b and u select lower-case hex,
// upper-case hex, octal, binary and unsigned decimal; d, s, f, any other
// character and an empty spec give signed decimal. Sign, `#`, `-` and
// `0` flags, width and `.frac` are not applied.
func formatInterpNumber(v int32, spec string) string {
	if spec == "" {
		return strconv.Itoa(int(v))
	}
	conv := spec[len(spec)-1]
	switch conv {
	case 'x':
		return fmt.Sprintf("%x", uint32(v))
	case 'X':
		return fmt.Sprintf("%X", uint32(v))
	case 'o':
		return fmt.Sprintf("%o", uint32(v))
	case 'b':
		return strconv.FormatUint(uint64(uint32(v)), 2)
	case 'u':
		return strconv.FormatUint(uint64(uint32(v)), 10)
	case 'd':
		return strconv.Itoa(int(v))
	case 's':
		return strconv.Itoa(int(v))
	default:
		return strconv.Itoa(int(v))
	}
}
