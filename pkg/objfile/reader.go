package objfile

import (
	"encoding/binary"
	"fmt"
	"io"
)

// Read parses a native RGB9 object file into its in-memory File form,
// the C8 object reader's first half (spec.md §4.9): the exact inverse
// of Write, plus a revision check. Promotion into a linker's global
// symbol/section tables is Merge's job, not this function's — Read only
// decodes bytes, mirroring llvm/binaryfileparser.go's separation between
// "parse the ELF container" and "build higher-level program model".
func Read(r io.Reader) (*File, error) {
	br := &byteReader{r: r}

	magic := br.bytes(4)
	if br.err != nil {
		return nil, br.err
	}
	if string(magic) != Magic {
		return nil, fmt.Errorf("objfile: bad magic %q, expected %q", magic, Magic)
	}
	revision := br.u32()
	if br.err != nil {
		return nil, br.err
	}
	if revision != Revision {
		return nil, fmt.Errorf("objfile: unsupported revision %d (expected %d); refusing to read a forward or ancient format", revision, Revision)
	}

	nbSymbols := br.u32()
	nbSections := br.u32()
	nbNodes := br.u32()
	if br.err != nil {
		return nil, br.err
	}

	f := &File{}

	f.Nodes = make([]Node, nbNodes)
	for i := range f.Nodes {
		n, err := readNode(br)
		if err != nil {
			return nil, err
		}
		f.Nodes[i] = n
	}

	f.Symbols = make([]Symbol, nbSymbols)
	for i := range f.Symbols {
		s, err := readSymbol(br)
		if err != nil {
			return nil, err
		}
		f.Symbols[i] = s
	}

	f.Sections = make([]Section, nbSections)
	for i := range f.Sections {
		s, err := readSection(br)
		if err != nil {
			return nil, err
		}
		f.Sections[i] = s
	}

	nbAssertions := br.u32()
	if br.err != nil {
		return nil, br.err
	}
	f.Assertions = make([]Assertion, nbAssertions)
	for i := range f.Assertions {
		p, err := readPatch(br)
		if err != nil {
			return nil, err
		}
		msg, err := br.cstr()
		if err != nil {
			return nil, err
		}
		f.Assertions[i] = Assertion{Patch: p, Message: msg}
	}

	if br.err != nil && br.err != io.EOF {
		return nil, br.err
	}
	return f, nil
}

func readNode(br *byteReader) (Node, error) {
	n := Node{}
	n.ParentID = br.u32()
	n.LineNo = br.u32()
	n.Kind = NodeKind(br.u8())
	if br.err != nil {
		return n, br.err
	}
	switch n.Kind {
	case NodeFile, NodeMacro:
		name, err := br.cstr()
		if err != nil {
			return n, err
		}
		n.Name = name
	case NodeRept:
		depth := br.u32()
		if br.err != nil {
			return n, br.err
		}
		n.IterCounts = make([]uint32, depth)
		for i := range n.IterCounts {
			n.IterCounts[i] = br.u32()
		}
	default:
		return n, fmt.Errorf("objfile: unknown node type byte %d", n.Kind)
	}
	return n, br.err
}

func readSymbol(br *byteReader) (Symbol, error) {
	s := Symbol{}
	name, err := br.cstr()
	if err != nil {
		return s, err
	}
	s.Name = name
	s.Type = SymbolType(br.u8())
	if br.err != nil {
		return s, br.err
	}
	if s.Type == SymImport {
		return s, nil
	}
	s.NodeID = br.u32()
	s.LineNo = br.u32()
	s.SectionID = br.i32()
	s.Value = br.i32()
	return s, br.err
}

func readSection(br *byteReader) (Section, error) {
	s := Section{}
	name, err := br.cstr()
	if err != nil {
		return s, err
	}
	s.Name = name
	s.NodeID = br.u32()
	s.LineNo = br.u32()
	s.Size = br.u32()
	s.TypeByte = br.u8()
	s.Org = br.u32()
	s.Bank = br.u32()
	s.Align = br.u8()
	s.AlignOfs = br.u32()
	if br.err != nil {
		return s, br.err
	}
	if !s.HasData() {
		return s, nil
	}
	s.Data = br.bytes(int(s.Size))
	nbPatches := br.u32()
	if br.err != nil {
		return s, br.err
	}
	s.Patches = make([]Patch, nbPatches)
	for i := range s.Patches {
		p, err := readPatch(br)
		if err != nil {
			return s, err
		}
		s.Patches[i] = p
	}
	return s, br.err
}

func readPatch(br *byteReader) (Patch, error) {
	p := Patch{}
	p.NodeID = br.u32()
	p.LineNo = br.u32()
	p.Offset = br.u32()
	p.PCSectionID = br.u32()
	p.PCOffset = br.u32()
	p.Type = br.u8()
	rpnLen := br.u32()
	if br.err != nil {
		return p, br.err
	}
	p.RPN = br.bytes(int(rpnLen))
	return p, br.err
}

// byteReader mirrors byteWriter: it latches the first error across a
// sequence of small reads so call sites read field-by-field without an
// `if err != nil` after each one.
type byteReader struct {
	r   io.Reader
	err error
}

func (br *byteReader) bytes(n int) []byte {
	if br.err != nil {
		return nil
	}
	buf := make([]byte, n)
	if n > 0 {
		_, br.err = io.ReadFull(br.r, buf)
	}
	return buf
}

func (br *byteReader) u8() byte {
	b := br.bytes(1)
	if len(b) == 0 {
		return 0
	}
	return b[0]
}

func (br *byteReader) u32() uint32 {
	b := br.bytes(4)
	if len(b) < 4 {
		return 0
	}
	return binary.LittleEndian.Uint32(b)
}

func (br *byteReader) i32() int32 { return int32(br.u32()) }

func (br *byteReader) cstr() (string, error) {
	var buf []byte
	for {
		b := br.bytes(1)
		if br.err != nil {
			return "", br.err
		}
		if b[0] == 0 {
			return string(buf), nil
		}
		buf = append(buf, b[0])
	}
}
