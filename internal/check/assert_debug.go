//go:build debug

// Package check holds invariant assertions that only fire in binaries built
// with -tags debug.
package check

import "fmt"

// Assert panics with msg when cond is false.
func Assert(cond bool, msg string) {
	if !cond {
		panic("devclean: invariant violated: " + msg)
	}
}

// Assertf is Assert with a formatted message.
func Assertf(cond bool, format string, args ...any) {
	if !cond {
		Assert(false, fmt.Sprintf(format, args...))
	}
}
