package objfile

import (
	"encoding/binary"
	"fmt"
	"io"
	"sort"

	"github.com/gbdev/rgbds-go/pkg/fstack"
	"github.com/gbdev/rgbds-go/pkg/section"
	"github.com/gbdev/rgbds-go/pkg/symbol"
	"github.com/gbdev/rgbds-go/pkg/utils"
)

// WriteProgram builds the in-memory File for one assembled translation
// unit and writes it in spec.md §6's exact binary layout, the C7 object
// writer. Grounded on pkg/hw/cpu/mc/programfilewriter.go's "ordered
// write methods over one struct" idiom, adapted from text output to a
// fixed binary layout.
func WriteProgram(w io.Writer, symbols *symbol.Table, sections *section.Table) error {
	file, err := BuildFile(symbols, sections)
	if err != nil {
		return err
	}
	return Write(w, file)
}

// BuildFile assembles the serializable snapshot of a completed
// assembly unit: every symbol referenced by an RPN patch or marked
// exported, every section with its data and patches, every pending
// assertion, and the file-stack nodes any of those anchor to.
func BuildFile(symbols *symbol.Table, sections *section.Table) (*File, error) {
	b := &fileBuilder{symbols: symbols, sections: sections, nodeIDs: map[*fstack.Node]uint32{}}
	return b.build()
}

type fileBuilder struct {
	symbols *symbol.Table
	sections *section.Table

	nodeIDs  map[*fstack.Node]uint32
	nodeSeq  uint32
	nodes    []Node
}

func (b *fileBuilder) build() (*File, error) {
	// Ensure every exported symbol has an assigned RPN-reference id even
	// if no patch in this file happens to reference it, so it still gets
	// a symbol record other files' Import entries can match by name.
	// Sorted so id assignment (and thus the resulting object file bytes)
	// doesn't depend on Go's randomized map iteration order.
	all := b.symbols.All()
	names := utils.Keys(all)
	sort.Strings(names)
	for _, name := range names {
		if all[name].Exported() {
			b.symbols.ID(name)
		}
	}

	sectionIndex := map[string]int32{}
	for i, s := range b.sections.All() {
		sectionIndex[s.Name()] = int32(i)
	}

	symRecords, err := b.buildSymbols(sectionIndex)
	if err != nil {
		return nil, err
	}

	sectRecords, err := b.buildSections(sectionIndex)
	if err != nil {
		return nil, err
	}

	assertRecords, err := b.buildAssertions()
	if err != nil {
		return nil, err
	}

	return &File{Nodes: b.nodes, Symbols: symRecords, Sections: sectRecords, Assertions: assertRecords}, nil
}

// nodeIDFor returns the object-file id for n (synthesizing a standalone
// node from description/line when n is nil, e.g. in tests that build
// symbol/section records without a real file-stack node).
func (b *fileBuilder) nodeIDFor(n *fstack.Node, description string, line int) uint32 {
	if n == nil {
		synthetic := &fstack.Node{Type: fstack.NodeFile, Name: description, LineNo: line}
		return b.assignChain(synthetic)
	}
	return b.assignChain(n)
}

// assignChain assigns ids to n and every ancestor not yet seen, in
// leaf-to-root order, appending each newly-seen node to b.nodes so that
// every id indexes directly into that slice once the whole file is
// built. Parents always end up with a numerically higher id than any
// child that caused them to be visited first... except when a later,
// independent chain reaches the same parent through a different leaf;
// AssignID's "first caller wins" semantics keep this consistent however
// many chains share a prefix.
func (b *fileBuilder) assignChain(n *fstack.Node) uint32 {
	if id, ok := b.nodeIDs[n]; ok {
		return id
	}
	id := n.AssignID(func() int {
		v := int(b.nodeSeq)
		b.nodeSeq++
		return v
	})
	b.nodeIDs[n] = uint32(id)

	parentID := uint32(RootParent)
	if n.Parent != nil {
		parentID = b.assignChain(n.Parent)
	}

	rec := Node{ParentID: parentID, LineNo: uint32(n.LineNo), Kind: nodeKindOf(n.Type), Name: n.Name}
	if n.Type == fstack.NodeRept {
		rec.IterCounts = make([]uint32, len(n.IterCounts))
		for i, c := range n.IterCounts {
			rec.IterCounts[i] = uint32(c)
		}
	}
	for uint32(len(b.nodes)) <= uint32(id) {
		b.nodes = append(b.nodes, Node{})
	}
	b.nodes[id] = rec
	return uint32(id)
}

func nodeKindOf(t fstack.NodeType) NodeKind {
	switch t {
	case fstack.NodeFile:
		return NodeFile
	case fstack.NodeMacro:
		return NodeMacro
	default:
		return NodeRept
	}
}

func (b *fileBuilder) buildSymbols(sectionIndex map[string]int32) ([]Symbol, error) {
	names := b.symbols.AssignedNames()
	records := make([]Symbol, len(names))
	for id, name := range names {
		sym, ok := b.symbols.FindExact(name)
		if !ok {
			return nil, fmt.Errorf("objfile: symbol id %d (%q) has no definition", id, name)
		}

		rec := Symbol{Name: name}
		if sym.Kind() == symbol.KindRef {
			rec.Type = SymImport
			records[id] = rec
			continue
		}

		rec.Type = SymLocal
		if sym.Exported() {
			rec.Type = SymExport
		}
		rec.NodeID = b.nodeIDFor(sym.Source().Node, sym.Source().Description, sym.Source().Line)
		rec.LineNo = uint32(sym.Source().Line)

		switch sym.Kind() {
		case symbol.KindLabel:
			sectName, offset := sym.Label()
			idx, ok := sectionIndex[sectName]
			if !ok {
				return nil, fmt.Errorf("objfile: label %q references unknown section %q", name, sectName)
			}
			rec.SectionID = idx
			rec.Value = offset
		case symbol.KindEqu, symbol.KindVar:
			rec.SectionID = NoSection
			rec.Value = sym.Value()
		default:
			return nil, fmt.Errorf("objfile: symbol %q of kind %s cannot be serialized (only Equ/Var/Label/Ref are)", name, sym.Kind())
		}
		records[id] = rec
	}
	return records, nil
}

func (b *fileBuilder) buildSections(sectionIndex map[string]int32) ([]Section, error) {
	all := b.sections.All()
	records := make([]Section, len(all))
	for i, s := range all {
		rec := Section{
			Name: s.Name(),
			Size: s.Size(),
			TypeByte: encodeSectionType(s),
		}
		c := s.Constraint()
		if c.OrgFixed {
			rec.Org = c.Org
		} else {
			rec.Org = FloatingAddr
		}
		if c.BankFixed {
			rec.Bank = c.Bank
		} else {
			rec.Bank = FloatingBank
		}
		if c.AlignFixed {
			rec.Align = c.Align
			rec.AlignOfs = uint32(c.AlignOfs)
		}

		if s.Type().HasData() {
			rec.Data = s.Data()
			patches, err := b.buildPatches(s.Patches(), sectionIndex)
			if err != nil {
				return nil, err
			}
			rec.Patches = patches
		}

		// Sections are anchored to a node purely so diagnostics that
		// originate at placement/patch time can point somewhere; use
		// the first patch's node if present, else a synthetic one.
		if len(rec.Patches) > 0 {
			rec.NodeID = rec.Patches[0].NodeID
			rec.LineNo = rec.Patches[0].LineNo
		} else {
			rec.NodeID = b.nodeIDFor(nil, s.Name(), 0)
		}

		records[i] = rec
	}
	return records, nil
}

func encodeSectionType(s *section.Section) byte {
	b := byte(s.Type())
	switch s.Modifier() {
	case section.Union:
		b |= 0x80
	case section.Fragment:
		b |= 0x40
	}
	return b
}

func (b *fileBuilder) buildPatches(patches []section.Patch, sectionIndex map[string]int32) ([]Patch, error) {
	records := make([]Patch, len(patches))
	for i, p := range patches {
		pcIdx, ok := sectionIndex[p.PCSection]
		if !ok {
			return nil, fmt.Errorf("objfile: patch references unknown PC section %q", p.PCSection)
		}
		records[i] = Patch{
			NodeID:      b.nodeIDFor(p.Source.Node, p.Source.Description, p.Source.Line),
			LineNo:      uint32(p.Source.Line),
			Offset:      p.Offset,
			PCSectionID: uint32(pcIdx),
			PCOffset:    p.PCOffset,
			Type:        byte(p.Type),
			RPN:         p.RPN,
		}
	}
	return records, nil
}

func (b *fileBuilder) buildAssertions() ([]Assertion, error) {
	assertions := b.sections.Assertions()
	sectionIndex := map[string]int32{}
	for j, s := range b.sections.All() {
		sectionIndex[s.Name()] = int32(j)
	}
	records := make([]Assertion, len(assertions))
	for i, a := range assertions {
		pcIdx := int32(0)
		if idx, ok := sectionIndex[a.Patch.PCSection]; ok {
			pcIdx = idx
		}
		records[i] = Assertion{
			Patch: Patch{
				NodeID:      b.nodeIDFor(a.Patch.Source.Node, a.Patch.Source.Description, a.Patch.Source.Line),
				LineNo:      uint32(a.Patch.Source.Line),
				Offset:      a.Patch.Offset,
				PCSectionID: uint32(pcIdx),
				PCOffset:    a.Patch.PCOffset,
				Type:        byte(severityByte(a.Severity)),
				RPN:         a.Patch.RPN,
			},
			Message: a.Message,
		}
	}
	return records, nil
}

// Write serializes f in spec.md §6's exact binary layout: magic+
// revision, counts, nodes (in id order, see below), symbols, sections,
// assertions.
func Write(w io.Writer, f *File) error {
	bw := &byteWriter{w: w}
	bw.bytes([]byte(Magic))
	bw.u32(Revision)
	bw.u32(uint32(len(f.Symbols)))
	bw.u32(uint32(len(f.Sections)))
	bw.u32(uint32(len(f.Nodes)))

	// f.Nodes is indexed by the id assignChain gave each node, and
	// assignChain numbers a parent after the child it was first reached
	// through, so a single include chain is written leaf first and root
	// last. When several chains share ancestors, nodes first reached
	// through a later chain are written after the root.
	for _, n := range f.Nodes {
		writeNode(bw, n)
	}
	for _, s := range f.Symbols {
		writeSymbol(bw, s)
	}
	for _, s := range f.Sections {
		if err := writeSection(bw, s); err != nil {
			return err
		}
	}
	bw.u32(uint32(len(f.Assertions)))
	for _, a := range f.Assertions {
		writePatch(bw, a.Patch)
		bw.cstr(a.Message)
	}
	return bw.err
}

func writeNode(bw *byteWriter, n Node) {
	bw.u32(n.ParentID)
	bw.u32(n.LineNo)
	bw.u8(byte(n.Kind))
	switch n.Kind {
	case NodeFile, NodeMacro:
		bw.cstr(n.Name)
	case NodeRept:
		bw.u32(uint32(len(n.IterCounts)))
		for _, c := range n.IterCounts {
			bw.u32(c)
		}
	}
}

func writeSymbol(bw *byteWriter, s Symbol) {
	bw.cstr(s.Name)
	bw.u8(byte(s.Type))
	if s.Type == SymImport {
		return
	}
	bw.u32(s.NodeID)
	bw.u32(s.LineNo)
	bw.i32(s.SectionID)
	bw.i32(s.Value)
}

func writeSection(bw *byteWriter, s Section) error {
	bw.cstr(s.Name)
	bw.u32(s.NodeID)
	bw.u32(s.LineNo)
	bw.u32(s.Size)
	bw.u8(s.TypeByte)
	bw.u32(s.Org)
	bw.u32(s.Bank)
	bw.u8(s.Align)
	bw.u32(s.AlignOfs)
	if !s.HasData() {
		return nil
	}
	if uint32(len(s.Data)) != s.Size {
		return fmt.Errorf("objfile: section %q has %d data bytes but size %d", s.Name, len(s.Data), s.Size)
	}
	bw.bytes(s.Data)
	bw.u32(uint32(len(s.Patches)))
	for _, p := range s.Patches {
		writePatch(bw, p)
	}
	return nil
}

func writePatch(bw *byteWriter, p Patch) {
	bw.u32(p.NodeID)
	bw.u32(p.LineNo)
	bw.u32(p.Offset)
	bw.u32(p.PCSectionID)
	bw.u32(p.PCOffset)
	bw.u8(p.Type)
	bw.u32(uint32(len(p.RPN)))
	bw.bytes(p.RPN)
}

// byteWriter accumulates the first error across a sequence of small
// writes so call sites don't need an `if err != nil` after every field,
// the same "latch the first error" idiom llvm/binaryfileparser.go uses
// across its own sequence of section/symbol reads.
type byteWriter struct {
	w   io.Writer
	err error
}

func (bw *byteWriter) bytes(b []byte) {
	if bw.err != nil {
		return
	}
	_, bw.err = bw.w.Write(b)
}

func (bw *byteWriter) u8(v byte)   { bw.bytes([]byte{v}) }
func (bw *byteWriter) u32(v uint32) {
	var buf [4]byte
	binary.LittleEndian.PutUint32(buf[:], v)
	bw.bytes(buf[:])
}
func (bw *byteWriter) i32(v int32) { bw.u32(uint32(v)) }
func (bw *byteWriter) cstr(s string) {
	bw.bytes([]byte(s))
	bw.bytes([]byte{0})
}
