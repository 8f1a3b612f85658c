// Package rpn implements the tagged expression value and Reverse-Polish
// byte stream described in spec.md §3/§4.3: every expression is either a
// known 32-bit value or an unknown value carrying a diagnostic reason and
// a postfix byte stream to be re-evaluated once all symbols are resolved.
package rpn

import "encoding/binary"

// SymbolResolver is the collaborator pkg/rpn queries while building
// expressions that reference symbols by name. It mirrors the small,
// single-purpose interfaces the teacher's instruction resolver depends on.
type SymbolResolver interface {
	// ID returns the stable numeric id a symbol is (or will be) assigned
	// in the object file being built.
	ID(name string) uint32
	// ConstantValue returns a symbol's current value if it is already a
	// fully known Equ/Var constant, enabling eager folding.
	ConstantValue(name string) (int32, bool)
	// BankOf returns a label's bank if already known (its section is
	// bank-fixed).
	BankOf(name string) (int32, bool)
}

// SectionResolver is the collaborator for section-relative terms
// (BANK_SECT, SIZEOF_SECT, STARTOF_SECT, and their *_SECTTYPE variants).
type SectionResolver interface {
	SectionBank(name string) (int32, bool)
	SectionSize(name string) (int32, bool)
	SectionStart(name string) (int32, bool)
	SectionTypeSize(sectType byte) (int32, bool)
	SectionTypeStart(sectType byte) (int32, bool)
	// SelfBank returns the bank of the section currently being assembled,
	// or ok=false if there is no current section (makeBankSelf's
	// RPN_ERR_NO_SELF_BANK case, a fatal error at the caller).
	SelfBank() (int32, bool)
}

// Expr is either a known i32 value or an unknown RPN byte stream plus a
// diagnostic reason, exactly spec.md §3's Expression type.
type Expr struct {
	known  bool
	value  int32
	reason string
	rpn    []byte
}

// Known reports whether the expression folded to a constant.
func (e Expr) Known() bool { return e.known }

// Value returns the constant value. Panics if the expression is unknown,
// mirroring the teacher's typed-accessor idiom (operandvalue.go).
func (e Expr) Value() int32 {
	if !e.known {
		panic("rpn: Value() called on an unknown expression")
	}
	return e.value
}

// Reason explains, for diagnostics, why an expression could not be
// folded (e.g. "symbol FOO is not yet defined").
func (e Expr) Reason() string { return e.reason }

// RPN returns the encoded byte stream for an unknown expression, ready to
// be stored verbatim in a Patch and re-evaluated at link time.
func (e Expr) RPN() []byte {
	if e.known {
		return encodeConst(e.value)
	}
	return e.rpn
}

func encodeConst(v int32) []byte {
	buf := make([]byte, 5)
	buf[0] = byte(OpConst)
	binary.LittleEndian.PutUint32(buf[1:], uint32(v))
	return buf
}

// MakeNumber builds a known expression from a literal.
func MakeNumber(v int32) Expr { return Expr{known: true, value: v} }

// MakeSymbol builds an expression referencing a symbol by name, folding
// immediately if the symbol is already a known constant.
func MakeSymbol(name string, res SymbolResolver) Expr {
	if v, ok := res.ConstantValue(name); ok {
		return MakeNumber(v)
	}
	buf := make([]byte, 5)
	buf[0] = byte(OpSym)
	binary.LittleEndian.PutUint32(buf[1:], res.ID(name))
	return Expr{reason: "symbol " + name + " is not yet defined", rpn: buf}
}

// MakeBankSymbol builds BANK(symbol), folding if the symbol's section
// already has a fixed bank.
func MakeBankSymbol(name string, res SymbolResolver) Expr {
	if bank, ok := res.BankOf(name); ok {
		return MakeNumber(bank)
	}
	buf := make([]byte, 5)
	buf[0] = byte(OpBankSym)
	binary.LittleEndian.PutUint32(buf[1:], res.ID(name))
	return Expr{reason: "bank of symbol " + name + " is not yet known", rpn: buf}
}

// MakeBankSection builds BANK("section"), folding if the section is
// already bank-fixed.
func MakeBankSection(name string, res SectionResolver) Expr {
	if bank, ok := res.SectionBank(name); ok {
		return MakeNumber(bank)
	}
	return Expr{reason: "bank of section " + name + " is not yet known", rpn: encodeNameOp(OpBankSect, name)}
}

// MakeBankSelf builds BANK(@), the bank of the section currently being
// assembled. Returns ok=false when there is no current section (the
// caller should report RPN_ERR_NO_SELF_BANK as a fatal error).
func MakeBankSelf(res SectionResolver) (Expr, bool) {
	bank, ok := res.SelfBank()
	if !ok {
		return Expr{}, false
	}
	return MakeNumber(bank), true
}

// MakeSizeOfSection builds SIZEOF("section").
func MakeSizeOfSection(name string, res SectionResolver) Expr {
	if size, ok := res.SectionSize(name); ok {
		return MakeNumber(size)
	}
	return Expr{reason: "size of section " + name + " is not yet known", rpn: encodeNameOp(OpSizeofSect, name)}
}

// MakeStartOfSection builds STARTOF("section").
func MakeStartOfSection(name string, res SectionResolver) Expr {
	if start, ok := res.SectionStart(name); ok {
		return MakeNumber(start)
	}
	return Expr{reason: "start of section " + name + " is not yet known", rpn: encodeNameOp(OpStartofSect, name)}
}

// MakeSizeOfSectionType builds SIZEOF(ROM0) and friends.
func MakeSizeOfSectionType(sectType byte, res SectionResolver) Expr {
	if size, ok := res.SectionTypeSize(sectType); ok {
		return MakeNumber(size)
	}
	return Expr{reason: "size of section type is not yet known", rpn: []byte{byte(OpSizeofSectType), sectType}}
}

// MakeStartOfSectionType builds STARTOF(ROM0) and friends.
func MakeStartOfSectionType(sectType byte, res SectionResolver) Expr {
	if start, ok := res.SectionTypeStart(sectType); ok {
		return MakeNumber(start)
	}
	return Expr{reason: "start of section type is not yet known", rpn: []byte{byte(OpStartofSectType), sectType}}
}

func encodeNameOp(op Opcode, name string) []byte {
	buf := make([]byte, 0, len(name)+2)
	buf = append(buf, byte(op))
	buf = append(buf, []byte(name)...)
	buf = append(buf, 0)
	return buf
}

// MakeUnaryOp folds src through op immediately when src is known,
// otherwise produces a new unknown expression wrapping src's bytes.
func MakeUnaryOp(op Opcode, src Expr) (Expr, []Diagnostic) {
	if src.known {
		v, diags := foldUnary(op, src.value)
		return MakeNumber(v), diags
	}
	buf := append(append([]byte{}, src.rpn...), byte(op))
	return Expr{reason: src.reason, rpn: buf}, nil
}

// MakeBinaryOp folds lhs/rhs immediately when both are known. When
// exactly one side is unknown the result is a merged RPN buffer: both
// sides' bytes in operand order (the known side encoded as a CONST, the
// unknown side's bytes unchanged), then the operator byte, so link-time
// evaluation sees lhs before rhs. The result inherits the unknown
// operand's reason string.
func MakeBinaryOp(lhs Expr, op Opcode, rhs Expr) (Expr, []Diagnostic) {
	switch special, diags, ok := tryFoldSpecialCase(lhs, op, rhs); {
	case ok:
		return special, diags
	}

	if lhs.known && rhs.known {
		v, diags := foldBinary(lhs.value, op, rhs.value)
		return MakeNumber(v), diags
	}

	reason := rhs.reason
	if reason == "" {
		reason = lhs.reason
	}

	buf := append(append([]byte{}, lhs.RPN()...), rhs.RPN()...)
	buf = append(buf, byte(op))
	return Expr{reason: reason, rpn: buf}, nil
}

// tryFoldSpecialCase implements two precision-preserving shortcuts:
// LOGAND/AND with a constant zero collapses to zero, and LOGOR with a
// nonzero constant collapses to one. A SUB of two symbols belonging to
// the same section is not folded, here or by the parser; it stays a
// deferred RPN expression.
func tryFoldSpecialCase(lhs Expr, op Opcode, rhs Expr) (Expr, []Diagnostic, bool) {
	isZero := func(e Expr) bool { return e.known && e.value == 0 }
	isNonzero := func(e Expr) bool { return e.known && e.value != 0 }

	switch op {
	case OpLogAnd, OpAnd:
		if isZero(lhs) || isZero(rhs) {
			return MakeNumber(0), nil, true
		}
	case OpLogOr:
		if isNonzero(lhs) || isNonzero(rhs) {
			return MakeNumber(1), nil, true
		}
	}
	return Expr{}, nil, false
}

// MakeCheckHRAM wraps src with the HRAM opcode: the value must be in
// $FF00-$FFFF (or $00-$FF, treated as the high half implicitly), folding
// immediately to its low byte when known.
func MakeCheckHRAM(src Expr) (Expr, []Diagnostic) {
	if !src.known {
		buf := append(append([]byte{}, src.rpn...), byte(OpHRAM))
		return Expr{reason: src.reason, rpn: buf}, nil
	}
	v := src.value
	if v >= 0xFF00 {
		v -= 0xFF00
	}
	if v < 0 || v > 0xFF {
		return MakeNumber(v & 0xFF), []Diagnostic{fatal("value is not in HRAM range")}
	}
	return MakeNumber(v), nil
}

// MakeCheckRST wraps src with the RST opcode: the value must be a
// multiple of 8 in [0, 0x38].
func MakeCheckRST(src Expr) (Expr, []Diagnostic) {
	if !src.known {
		buf := append(append([]byte{}, src.rpn...), byte(OpRST))
		return Expr{reason: src.reason, rpn: buf}, nil
	}
	v := src.value
	if v < 0 || v > 0x38 || v%8 != 0 {
		return MakeNumber(v), []Diagnostic{fatal("value is not a valid rst vector")}
	}
	return MakeNumber(v), nil
}

// MakeCheckBitIndex wraps src with the BIT_INDEX opcode: the value must
// be a bit index in [0, 7], and the result is mask | (index << 3), mask
// being the instruction's encoding bits (spec.md §6.1's
// `makeCheckBitIndex(mask)`). A known index folds to that value at once;
// for a link-time-deferred one the opcode and mask byte are appended to
// the RPN stream, and Eval combines them the same way.
func MakeCheckBitIndex(src Expr, mask byte) (Expr, []Diagnostic) {
	if !src.known {
		buf := append(append([]byte{}, src.rpn...), byte(OpBitIndex), mask)
		return Expr{reason: src.reason, rpn: buf}, nil
	}
	v := src.value
	if v < 0 || v > 7 {
		return MakeNumber(v), []Diagnostic{fatal("bit index out of range [0,7]")}
	}
	return MakeNumber(int32(mask) | (v << 3)), nil
}
