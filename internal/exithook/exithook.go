// Package exithook runs registered cleanup functions before the process exits.
//
// os.Exit skips deferred calls, so commands exit through Exit instead of
// calling os.Exit directly. Hooks run once, newest first.
package exithook

import (
	"os"
	"sync"
)

// Registry holds cleanup hooks keyed by registration order.
type Registry struct {
	mu    sync.Mutex
	next  int
	hooks map[int]func()
	order []int
}

// NewRegistry returns an empty hook registry.
func NewRegistry() *Registry {
	return &Registry{hooks: make(map[int]func())}
}

// Default is the process-wide registry used by Register and Exit.
var Default = NewRegistry()

var osExit = os.Exit

// Register adds fn and returns a function that removes it again.
// The returned remover is safe to call more than once.
func (r *Registry) Register(fn func()) func() {
	if fn == nil {
		return func() {}
	}
	r.mu.Lock()
	id := r.next
	r.next++
	if r.hooks == nil {
		r.hooks = make(map[int]func())
	}
	r.hooks[id] = fn
	r.order = append(r.order, id)
	r.mu.Unlock()

	return func() {
		r.mu.Lock()
		delete(r.hooks, id)
		r.mu.Unlock()
	}
}

// Len reports how many hooks are still registered.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.hooks)
}

// Run invokes every registered hook, newest first, and clears the registry.
// Hooks run without the lock held so they may call their own remover.
func (r *Registry) Run() {
	r.mu.Lock()
	pending := make([]func(), 0, len(r.hooks))
	for i := len(r.order) - 1; i >= 0; i-- {
		if fn, ok := r.hooks[r.order[i]]; ok {
			pending = append(pending, fn)
		}
	}
	r.hooks = make(map[int]func())
	r.order = nil
	r.mu.Unlock()

	for _, fn := range pending {
		fn()
	}
}

// Register adds fn to the Default registry.
func Register(fn func()) func() {
	return Default.Register(fn)
}

// Exit runs the Default hooks and terminates the process with code.
func Exit(code int) {
	Default.Run()
	osExit(code)
}
