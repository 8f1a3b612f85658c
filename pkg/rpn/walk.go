package rpn

import "fmt"

// payloadLen reports how many bytes of fixed-width payload follow an
// opcode byte, or -1 for the NUL-terminated-name opcodes whose payload
// length is only known by scanning for the terminator. Mirrors the
// encoding table in spec.md §6 ("RPN opcodes").
func payloadLen(op Opcode) int {
	switch op {
	case OpConst, OpSym, OpBankSym:
		return 4
	case OpBankSect, OpSizeofSect, OpStartofSect:
		return -1
	case OpSizeofSectType, OpStartofSectType, OpBitIndex:
		return 1
	default:
		return 0
	}
}

// RemapSymbolIDs rewrites every SYM/BANK_SYM opcode's embedded 4-byte id
// through remap, leaving every other opcode (including the NUL-terminated
// section-name opcodes) byte-for-byte unchanged. Used by pkg/objfile's
// reader to translate a file-local symbol id into the linker's global
// symbol table id (spec.md §4.9's "rewrites patches' ... ids" rule,
// extended from sections to the symbol ids embedded in RPN streams).
func RemapSymbolIDs(stream []byte, remap func(localID uint32) uint32) ([]byte, error) {
	out := make([]byte, 0, len(stream))
	i := 0
	for i < len(stream) {
		op := Opcode(stream[i])
		out = append(out, stream[i])
		i++

		n := payloadLen(op)
		switch {
		case op == OpSym || op == OpBankSym:
			if i+4 > len(stream) {
				return nil, fmt.Errorf("rpn: truncated %s payload", op)
			}
			localID := leUint32(stream[i : i+4])
			out = appendLEUint32(out, remap(localID))
			i += 4
		case n < 0:
			start := i
			for i < len(stream) && stream[i] != 0 {
				i++
			}
			if i >= len(stream) {
				return nil, fmt.Errorf("rpn: unterminated name payload for %s", op)
			}
			out = append(out, stream[start:i+1]...)
			i++
		default:
			if i+n > len(stream) {
				return nil, fmt.Errorf("rpn: truncated %s payload", op)
			}
			out = append(out, stream[i:i+n]...)
			i += n
		}
	}
	return out, nil
}

func leUint32(b []byte) uint32 {
	return uint32(b[0]) | uint32(b[1])<<8 | uint32(b[2])<<16 | uint32(b[3])<<24
}

func appendLEUint32(buf []byte, v uint32) []byte {
	return append(buf, byte(v), byte(v>>8), byte(v>>16), byte(v>>24))
}
