package rpn

import "fmt"

// LinkResolver supplies the link-time values a compiled RPN byte stream's
// opcodes reference: resolved symbol values/banks by the numeric id a
// SYM/BANK_SYM opcode embeds (already rewritten to the linker's global
// symbol table id by pkg/objfile's merge), and section bank/size/start
// either by name or by section type. Eval queries this once per opcode
// rather than threading pkg/symbol.Table/pkg/section.Table directly
// through pkg/rpn, the same decoupling-interface idiom as SymbolResolver/
// SectionResolver in expr.go.
type LinkResolver interface {
	SymbolValue(id uint32) (int32, error)
	SymbolBank(id uint32) (int32, error)
	SectionBank(name string) (int32, error)
	SectionSize(name string) (int32, error)
	SectionStart(name string) (int32, error)
	SectionTypeSize(sectType byte) (int32, error)
	SectionTypeStart(sectType byte) (int32, error)
	SelfBank() (int32, error)
}

// Eval interprets a compiled RPN byte stream against a fully resolved
// link-time layout, spec.md §4.9's per-patch re-evaluation. Returns the
// first fatal error encountered (stack underflow, malformed stream, an
// unresolved reference, or a failed HRAM/RST/BIT_INDEX check).
func Eval(stream []byte, res LinkResolver) (int32, error) {
	var stack []int32
	push := func(v int32) { stack = append(stack, v) }
	pop := func() (int32, error) {
		if len(stack) == 0 {
			return 0, fmt.Errorf("rpn: stack underflow")
		}
		v := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		return v, nil
	}

	i := 0
	for i < len(stream) {
		op := Opcode(stream[i])
		i++

		switch op {
		case OpConst:
			if i+4 > len(stream) {
				return 0, fmt.Errorf("rpn: truncated CONST payload")
			}
			push(int32(leUint32(stream[i : i+4])))
			i += 4

		case OpSym, OpBankSym:
			if i+4 > len(stream) {
				return 0, fmt.Errorf("rpn: truncated %s payload", op)
			}
			id := leUint32(stream[i : i+4])
			i += 4
			var v int32
			var err error
			if op == OpSym {
				v, err = res.SymbolValue(id)
			} else {
				v, err = res.SymbolBank(id)
			}
			if err != nil {
				return 0, err
			}
			push(v)

		case OpBankSect, OpSizeofSect, OpStartofSect:
			name, next, err := readName(stream, i)
			if err != nil {
				return 0, err
			}
			i = next
			var v int32
			switch op {
			case OpBankSect:
				v, err = res.SectionBank(name)
			case OpSizeofSect:
				v, err = res.SectionSize(name)
			case OpStartofSect:
				v, err = res.SectionStart(name)
			}
			if err != nil {
				return 0, err
			}
			push(v)

		case OpSizeofSectType, OpStartofSectType:
			if i >= len(stream) {
				return 0, fmt.Errorf("rpn: truncated %s payload", op)
			}
			sectType := stream[i]
			i++
			var v int32
			var err error
			if op == OpSizeofSectType {
				v, err = res.SectionTypeSize(sectType)
			} else {
				v, err = res.SectionTypeStart(sectType)
			}
			if err != nil {
				return 0, err
			}
			push(v)

		case OpBankSelf:
			v, err := res.SelfBank()
			if err != nil {
				return 0, err
			}
			push(v)

		case OpNeg, OpNot, OpLogNot, OpHigh, OpLow, OpBitwidth, OpTzCount:
			v, err := pop()
			if err != nil {
				return 0, err
			}
			result, diags := foldUnary(op, v)
			if err := fatalDiag(diags); err != nil {
				return 0, err
			}
			push(result)

		case OpHRAM:
			v, err := pop()
			if err != nil {
				return 0, err
			}
			result, err := evalHRAM(v)
			if err != nil {
				return 0, err
			}
			push(result)

		case OpRST:
			v, err := pop()
			if err != nil {
				return 0, err
			}
			if v < 0 || v > 0x38 || v%8 != 0 {
				return 0, fmt.Errorf("rpn: value is not a valid rst vector")
			}
			push(v)

		case OpBitIndex:
			if i >= len(stream) {
				return 0, fmt.Errorf("rpn: truncated %s payload", op)
			}
			mask := stream[i]
			i++
			v, err := pop()
			if err != nil {
				return 0, err
			}
			if v < 0 || v > 7 {
				return 0, fmt.Errorf("rpn: bit index out of range [0,7]")
			}
			push(int32(mask) | (v << 3))

		default:
			rhs, err := pop()
			if err != nil {
				return 0, err
			}
			lhs, err := pop()
			if err != nil {
				return 0, err
			}
			result, diags := foldBinary(lhs, op, rhs)
			if err := fatalDiag(diags); err != nil {
				return 0, err
			}
			push(result)
		}
	}

	if len(stack) != 1 {
		return 0, fmt.Errorf("rpn: expression did not reduce to a single value (stack depth %d)", len(stack))
	}
	return stack[0], nil
}

func fatalDiag(diags []Diagnostic) error {
	for _, d := range diags {
		if d.Fatal {
			return fmt.Errorf("rpn: %s", d.Message)
		}
	}
	return nil
}

// evalHRAM mirrors MakeCheckHRAM's range check/low-byte fold, for a HRAM
// opcode reached only once the operand is finally known at link time.
func evalHRAM(v int32) (int32, error) {
	if v >= 0xFF00 {
		v -= 0xFF00
	}
	if v < 0 || v > 0xFF {
		return v & 0xFF, fmt.Errorf("rpn: value is not in HRAM range")
	}
	return v, nil
}

func readName(stream []byte, start int) (string, int, error) {
	i := start
	for i < len(stream) && stream[i] != 0 {
		i++
	}
	if i >= len(stream) {
		return "", 0, fmt.Errorf("rpn: unterminated name payload")
	}
	return string(stream[start:i]), i + 1, nil
}
