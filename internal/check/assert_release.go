//go:build !debug

// Package check holds invariant assertions that only fire in binaries built
// with -tags debug.
package check

func Assert(bool, string) {}

func Assertf(bool, string, ...any) {}
