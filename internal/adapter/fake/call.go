package fake

import "sync"

// Call is one recorded provider method invocation.
type Call struct {
	Method string
	Args   []any
}

// CallRecorder keeps provider calls in order for assertions.
type CallRecorder struct {
	mu    sync.Mutex
	calls []Call
}

func (r *CallRecorder) record(method string, args ...any) {
	r.mu.Lock()
	r.calls = append(r.calls, Call{Method: method, Args: args})
	r.mu.Unlock()
}

// Calls returns recorded calls to method, or every call when method is "".
func (r *CallRecorder) Calls(method string) []Call {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]Call, 0, len(r.calls))
	for _, c := range r.calls {
		if method == "" || c.Method == method {
			out = append(out, c)
		}
	}
	return out
}

func (r *CallRecorder) Count(method string) int {
	return len(r.Calls(method))
}

// Commands lists the shell commands sent through Execute, in order.
func (r *CallRecorder) Commands() []string {
	var out []string
	for _, c := range r.Calls("Execute") {
		if len(c.Args) < 2 {
			continue
		}
		if cmd, ok := c.Args[1].(string); ok {
			out = append(out, cmd)
		}
	}
	return out
}

// Reset forgets all recorded calls.
func (r *CallRecorder) Reset() {
	r.mu.Lock()
	r.calls = nil
	r.mu.Unlock()
}
