package kernel

import "fmt"

// ProgrammingError marks a kernel invariant violation that spec.md §7
// classifies as fatal: "the core halts rather than silently
// miscompute." Unlike kernelerr values, which are returned to a
// caller through arg0, a ProgrammingError is never recovered from — it
// propagates out of the trap loop and crashes the process, standing in
// for the original's `PERR(...); while(1);` halt.
type ProgrammingError struct {
	Op  string
	Msg string
}

func (e *ProgrammingError) Error() string {
	return fmt.Sprintf("kernel: programming error in %s: %s", e.Op, e.Msg)
}

func fatalf(op, format string, args ...any) {
	panic(&ProgrammingError{Op: op, Msg: fmt.Sprintf(format, args...)})
}
