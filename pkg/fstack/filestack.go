package fstack

import (
	"os"
	"path/filepath"

	"github.com/gbdev/rgbds-go/pkg/diag"
)

// Stack owns the current chain of Nodes (the "current context" the lexer
// is reading from) and enforces the recursion depth cap of spec.md §4.2.
type Stack struct {
	top         *Node
	depth       int
	maxDepth    int
	includeDirs []string
	idSeq       int
	uidSeq      int
}

// NewStack builds a Stack rooted at the top-level source, with the given
// include search path and recursion cap.
func NewStack(maxDepth int, includeDirs []string) *Stack {
	return &Stack{maxDepth: maxDepth, includeDirs: includeDirs}
}

// Top returns the node currently being read from, or nil before the
// first file is pushed.
func (s *Stack) Top() *Node { return s.top }

// Depth is the current nesting depth (0 at the top-level file).
func (s *Stack) Depth() int { return s.depth }

func (s *Stack) nextUniqueID() string {
	s.uidSeq++
	return "_u" + itoa(s.uidSeq)
}

func (s *Stack) nextNodeID() int {
	id := s.idSeq
	s.idSeq++
	return id
}

func itoa(v int) string {
	if v == 0 {
		return "0"
	}
	neg := v < 0
	if neg {
		v = -v
	}
	var buf [20]byte
	i := len(buf)
	for v > 0 {
		i--
		buf[i] = byte('0' + v%10)
		v /= 10
	}
	if neg {
		i--
		buf[i] = '-'
	}
	return string(buf[i:])
}

func (s *Stack) checkDepth() error {
	if s.maxDepth > 0 && s.depth > s.maxDepth {
		return diag.MakeError(diag.ErrRecursionLimit, "nesting depth %d exceeds the configured maximum of %d", s.depth, s.maxDepth)
	}
	return nil
}

// ResolveInclude searches the ordered include directories for path,
// returning the first match (or path itself if it is already absolute
// or exists relative to the working directory).
func (s *Stack) ResolveInclude(path string) (string, error) {
	if filepath.IsAbs(path) {
		return path, nil
	}
	if _, err := os.Stat(path); err == nil {
		return path, nil
	}
	for _, dir := range s.includeDirs {
		candidate := filepath.Join(dir, path)
		if _, err := os.Stat(candidate); err == nil {
			return candidate, nil
		}
	}
	return "", diag.MakeError(diag.ErrUndefined, "cannot locate include file %q", path)
}

// RunInclude pushes a File node for path and preserves the parent's
// unique id (`\@`), per spec.md §4.2.
func (s *Stack) RunInclude(name string, lineNo int) (*Node, error) {
	node := &Node{Type: NodeFile, Parent: s.top, LineNo: lineNo, Name: name}
	node.InheritUniqueID(s.nextUniqueID)
	s.depth++
	if err := s.checkDepth(); err != nil {
		s.depth--
		return nil, err
	}
	s.top = node
	return node, nil
}

// RunMacro pushes a Macro node. Per the resolved Open Question, macro
// invocations get a fresh `\@` id rather than inheriting the parent's.
func (s *Stack) RunMacro(name string, lineNo int) (*Node, error) {
	node := &Node{Type: NodeMacro, Parent: s.top, LineNo: lineNo, Name: name}
	s.depth++
	if err := s.checkDepth(); err != nil {
		s.depth--
		return nil, err
	}
	s.top = node
	return node, nil
}

// RunRept pushes a Rept node for the first iteration. Each iteration
// (see Node.UniqueID usage in the lexer) gets a fresh `\@` id.
func (s *Stack) RunRept(lineNo int, iterCounts []int) (*Node, error) {
	node := &Node{Type: NodeRept, Parent: s.top, LineNo: lineNo, IterCounts: append([]int{}, iterCounts...)}
	s.depth++
	if err := s.checkDepth(); err != nil {
		s.depth--
		return nil, err
	}
	s.top = node
	return node, nil
}

// RunFor is spec.md §4.2's RunFor: same as RunRept, with the iteration
// variable update left to the caller (pkg/parser owns the symbol table).
func (s *Stack) RunFor(lineNo int, iterCounts []int) (*Node, error) {
	return s.RunRept(lineNo, iterCounts)
}

// Pop returns to the parent context, called at EOF of the current
// context (the lexer's yywrap-equivalent).
func (s *Stack) Pop() {
	if s.top == nil {
		return
	}
	s.top = s.top.Parent
	s.depth--
}

// AssignObjectIDs assigns sequential ids to the nodes on each leaf's
// parent chain, leaf first, skipping nodes that already have one. With a
// single leaf the root gets the last id; with several, nodes first
// reached from a later leaf get ids after the root. Since
// Go doesn't track the full DAG centrally (each Node only points to its
// parent), callers collect the leaf set themselves (one per captured
// body/backtrace still referenced) and pass them here.
func AssignObjectIDs(leaves []*Node, next func() int) {
	seen := map[*Node]bool{}
	for _, leaf := range leaves {
		for cur := leaf; cur != nil && !seen[cur]; cur = cur.Parent {
			seen[cur] = true
		}
	}
	// Assign children before parents: walk
	// each chain from the leaf upward, assigning ids only to nodes that
	// don't have one yet, in leaf-to-root order per chain.
	for _, leaf := range leaves {
		for cur := leaf; cur != nil; cur = cur.Parent {
			cur.AssignID(next)
		}
	}
}
