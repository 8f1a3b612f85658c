package fstack

import "github.com/gbdev/rgbds-go/pkg/diag"

// ifFrame is one entry of the If/Elif/Else stack, spec.md §4.1: whether
// any branch of this if-block has run yet, and whether an `else` was
// already seen (a second `else` or an `elif` after `else` is an error).
type ifFrame struct {
	ranBlock      bool
	reachedElse   bool
}

// IfStack tracks nested IF/ELIF/ELSE/ENDC per source context.
type IfStack struct {
	frames []ifFrame
}

// Push handles `if cond`: pushes a new frame recording whether its
// branch should run.
func (s *IfStack) Push(cond bool) {
	s.frames = append(s.frames, ifFrame{ranBlock: cond})
}

// Elif handles `elif cond`, returning whether this branch should now run.
func (s *IfStack) Elif(cond bool) (bool, error) {
	if len(s.frames) == 0 {
		return false, diag.MakeError(diag.ErrUndefined, "ELIF without a matching IF")
	}
	top := &s.frames[len(s.frames)-1]
	if top.reachedElse {
		return false, diag.MakeError(diag.ErrAlreadyDefined, "ELIF after ELSE")
	}
	if top.ranBlock {
		return false, nil
	}
	if cond {
		top.ranBlock = true
		return true, nil
	}
	return false, nil
}

// Else handles `else`.
func (s *IfStack) Else() (bool, error) {
	if len(s.frames) == 0 {
		return false, diag.MakeError(diag.ErrUndefined, "ELSE without a matching IF")
	}
	top := &s.frames[len(s.frames)-1]
	if top.reachedElse {
		return false, diag.MakeError(diag.ErrAlreadyDefined, "duplicate ELSE")
	}
	top.reachedElse = true
	run := !top.ranBlock
	top.ranBlock = true
	return run, nil
}

// Pop handles `endc`.
func (s *IfStack) Pop() error {
	if len(s.frames) == 0 {
		return diag.MakeError(diag.ErrUndefined, "ENDC without a matching IF")
	}
	s.frames = s.frames[:len(s.frames)-1]
	return nil
}

// Depth reports how many nested if-blocks are still open; a non-empty
// stack at end-of-file is fatal, per spec.md §4.1.
func (s *IfStack) Depth() int { return len(s.frames) }
