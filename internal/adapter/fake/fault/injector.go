// Package fault injects failures into fake session providers at named
// points such as "provider.execute".
package fault

import (
	"fmt"
	"strings"
	"sync"
)

// Hook inspects call arguments and returns an error to inject, or nil.
type Hook func(args ...any) error

type point struct {
	evals     int
	queued    []error
	afterN    int
	afterErr  error
	alwaysErr error
	hook      Hook
}

// Injector holds per-point faults. A nil *Injector never injects anything.
type Injector struct {
	mu     sync.Mutex
	points map[string]*point
}

func NewInjector() *Injector {
	return &Injector{points: make(map[string]*point)}
}

// FailOnce queues err for the next evaluation of name. Repeated calls queue
// further failures in order.
func (i *Injector) FailOnce(name string, err error) {
	i.update(name, err != nil, func(p *point) { p.queued = append(p.queued, err) })
}

// FailAlways injects err on every evaluation of name.
func (i *Injector) FailAlways(name string, err error) {
	i.update(name, err != nil, func(p *point) { p.alwaysErr = err })
}

// FailAfter lets the next n evaluations of name pass and fails every one
// after that, like a transport that drops mid-run.
func (i *Injector) FailAfter(name string, n int, err error) {
	i.update(name, err != nil && n >= 0, func(p *point) {
		p.afterN = p.evals + n
		p.afterErr = err
	})
}

// SetHook sets an argument-aware hook for name.
func (i *Injector) SetHook(name string, hook Hook) {
	i.update(name, hook != nil, func(p *point) { p.hook = hook })
}

// Clear removes all faults for name. Its evaluation count is kept.
func (i *Injector) Clear(name string) {
	i.update(name, true, func(p *point) {
		*p = point{evals: p.evals}
	})
}

// Evaluations reports how many times name was evaluated.
func (i *Injector) Evaluations(name string) int {
	if i == nil {
		return 0
	}
	i.mu.Lock()
	defer i.mu.Unlock()
	if p := i.points[name]; p != nil {
		return p.evals
	}
	return 0
}

// Eval decides whether this call at name fails.
// Precedence: hook, queued, after-threshold, always.
func (i *Injector) Eval(name string, args ...any) error {
	if i == nil || strings.TrimSpace(name) == "" {
		return nil
	}

	i.mu.Lock()
	p := i.ensure(name)
	p.evals++
	hook := p.hook
	var queued, after error
	if len(p.queued) > 0 {
		queued = p.queued[0]
		p.queued = p.queued[1:]
	}
	if p.afterErr != nil && p.evals > p.afterN {
		after = p.afterErr
	}
	always := p.alwaysErr
	i.mu.Unlock()

	if hook != nil {
		if err := hook(args...); err != nil {
			return fmt.Errorf("fault %s (hook): %w", name, err)
		}
	}
	switch {
	case queued != nil:
		return fmt.Errorf("fault %s (once): %w", name, queued)
	case after != nil:
		return fmt.Errorf("fault %s (after): %w", name, after)
	case always != nil:
		return fmt.Errorf("fault %s (always): %w", name, always)
	}
	return nil
}

func (i *Injector) update(name string, valid bool, fn func(*point)) {
	if i == nil || strings.TrimSpace(name) == "" || !valid {
		return
	}
	i.mu.Lock()
	defer i.mu.Unlock()
	fn(i.ensure(name))
}

func (i *Injector) ensure(name string) *point {
	p, ok := i.points[name]
	if !ok {
		p = &point{}
		i.points[name] = p
	}
	return p
}
