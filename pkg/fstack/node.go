// Package fstack implements the lexer's recursive expansion contexts and
// the file-stack DAG of spec.md §3/§4.1/§4.2: file inclusion, macro
// invocation, counted repetition, and symbol interpolation, while
// maintaining accurate source locations for diagnostics.
package fstack

import (
	"fmt"

	"github.com/gbdev/rgbds-go/pkg/diag"
)

// NodeType identifies what pushed a file-stack context.
type NodeType int

const (
	NodeRept NodeType = iota
	NodeFile
	NodeMacro
)

// Node is one entry of the file-stack DAG, spec.md §3's FileStackNode:
// parent link, line-in-parent, and a payload that differs by type. Nodes
// are ordinary Go values kept alive by references from Lexer/Stack — the
// garbage collector supplies the "reference-counted, survive until
// object write" lifecycle the spec calls for, so no manual refcounting
// is implemented.
type Node struct {
	Type     NodeType
	Parent   *Node
	LineNo   int // line in the parent this context was entered from
	Name     string // File/Macro name
	IterCounts []int // Rept: outermost first

	id       int // assigned lazily when the object writer walks the chain
	idAssigned bool

	uniqueID    string
	hasUniqueID bool
}

// Describe renders a short human string for this context, used both in
// diagnostics and as pkg/symbol.Source.Description.
func (n *Node) Describe() string {
	switch n.Type {
	case NodeFile:
		return n.Name
	case NodeMacro:
		return fmt.Sprintf("macro %s", n.Name)
	case NodeRept:
		return fmt.Sprintf("REPT/FOR (iteration %s)", formatIterCounts(n.IterCounts))
	default:
		return "<unknown>"
	}
}

func formatIterCounts(counts []int) string {
	s := ""
	for i, c := range counts {
		if i > 0 {
			s += "."
		}
		s += fmt.Sprintf("%d", c)
	}
	return s
}

// Backtrace walks the parent chain from this node to the root, producing
// the diag.Frame list a diagnostic's backtrace is built from.
func (n *Node) Backtrace() []diag.Frame {
	var frames []diag.Frame
	for cur := n; cur != nil; cur = cur.Parent {
		frames = append(frames, diag.Frame{Description: cur.Describe(), Line: cur.LineNo})
	}
	return frames
}

// UniqueID lazily generates this node's `\@` unique id. Per the resolved
// Open Question (spec.md §9), nested contexts inherit the parent's id
// only across RunInclude, never across RunMacro/RunRept — callers choose
// whether to call InheritUniqueID (INCLUDE) or leave a fresh one to be
// generated here (MACRO/REPT).
func (n *Node) UniqueID(gen func() string) string {
	if !n.hasUniqueID {
		n.uniqueID = gen()
		n.hasUniqueID = true
	}
	return n.uniqueID
}

// InheritUniqueID copies the parent's unique id onto this node (used by
// RunInclude), and back-propagates a freshly generated id to the parent
// if the parent had not generated one yet.
func (n *Node) InheritUniqueID(gen func() string) {
	if n.Parent == nil {
		return
	}
	id := n.Parent.UniqueID(gen)
	n.uniqueID = id
	n.hasUniqueID = true
}

// AssignID gives this node the next sequential id for object-file
// emission, the "global ID-indexed list" spec.md §3 describes. Safe to
// call more than once; later calls are no-ops.
func (n *Node) AssignID(next func() int) int {
	if !n.idAssigned {
		n.id = next()
		n.idAssigned = true
	}
	return n.id
}

// ID returns the previously assigned object-file id, or -1 if none was
// assigned yet.
func (n *Node) ID() int {
	if !n.idAssigned {
		return -1
	}
	return n.id
}
