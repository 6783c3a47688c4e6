package ui

import (
	"fmt"
	"io"
	"sync"
	"time"
)

var spinFrames = [...]string{"⠋", "⠙", "⠹", "⠸", "⠼", "⠴", "⠦", "⠧", "⠇", "⠏"}

// maxVisibleSteps keeps the redraw region small on devices with many apps.
const maxVisibleSteps = 12

// Checklist renders step snapshots as a live terminal checklist with a
// progress header. Only the most relevant steps are shown: running and
// failed ones first, then the latest finished.
type Checklist struct {
	out           io.Writer
	steps         []stepState
	renderedLines int
	mu            sync.Mutex
	stop          chan struct{}
	frame         int
	started       bool
	once          sync.Once
}

func NewChecklist(out io.Writer) *Checklist {
	return &Checklist{out: out, stop: make(chan struct{})}
}

func (c *Checklist) OnSnapshot(snap stepSnapshot) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.steps = snap.Steps
	c.redraw()
	if !c.started {
		c.started = true
		go c.spin()
	}
}

// Close stops the spinner and leaves the final frame on screen.
func (c *Checklist) Close() {
	c.once.Do(func() {
		close(c.stop)
	})
}

func (c *Checklist) spin() {
	ticker := time.NewTicker(80 * time.Millisecond)
	defer ticker.Stop()
	for {
		select {
		case <-c.stop:
			return
		case <-ticker.C:
			c.mu.Lock()
			c.frame = (c.frame + 1) % len(spinFrames)
			c.redraw()
			c.mu.Unlock()
		}
	}
}

// redraw reprints the checklist in place. Caller must hold c.mu.
func (c *Checklist) redraw() {
	if c.renderedLines > 0 {
		fmt.Fprintf(c.out, "\033[%dA", c.renderedLines)
	}

	finished, failed := stepSnapshot{Steps: c.steps}.counts()
	header := fmt.Sprintf("  %s %d/%d targets", Accent(spinFrames[c.frame]), finished, len(c.steps))
	if finished == len(c.steps) {
		header = fmt.Sprintf("  %s %d/%d targets", Success("✓"), finished, len(c.steps))
	}
	if failed > 0 {
		header += " " + Error(fmt.Sprintf("(%d not converged)", failed))
	}
	lines := []string{header}
	for _, s := range visibleSteps(c.steps, maxVisibleSteps) {
		icon, label := c.stepStyle(s)
		line := fmt.Sprintf("    %s %s", icon, label)
		if s.Message != "" {
			line += " " + Muted(s.Message)
		}
		lines = append(lines, line)
	}

	for _, line := range lines {
		fmt.Fprintf(c.out, "\r%s\033[K\n", line)
	}
	for i := len(lines); i < c.renderedLines; i++ {
		fmt.Fprint(c.out, "\r\033[K\n")
	}
	if c.renderedLines > len(lines) {
		fmt.Fprintf(c.out, "\033[%dA", c.renderedLines-len(lines))
	}
	c.renderedLines = len(lines)
}

func (c *Checklist) stepStyle(s stepState) (icon, label string) {
	switch s.Status {
	case stepRunning:
		return Accent(spinFrames[c.frame]), s.Title
	case stepDone:
		return Success("✓"), s.Title
	case stepFailed:
		return Error("✗"), Error(s.Title)
	default:
		return Muted("●"), Muted(s.Title)
	}
}

// visibleSteps picks at most limit steps in original order: running and
// failed steps always, then the most recently finished, then pending.
func visibleSteps(steps []stepState, limit int) []stepState {
	if len(steps) <= limit {
		return steps
	}
	keep := make(map[int]bool, limit)
	add := func(i int) {
		if len(keep) < limit {
			keep[i] = true
		}
	}
	for i, s := range steps {
		if s.Status == stepRunning || s.Status == stepFailed {
			add(i)
		}
	}
	for i := len(steps) - 1; i >= 0; i-- {
		if steps[i].Status == stepDone {
			add(i)
		}
	}
	for i, s := range steps {
		if s.Status == stepPending {
			add(i)
		}
	}
	out := make([]stepState, 0, len(keep))
	for i, s := range steps {
		if keep[i] {
			out = append(out, s)
		}
	}
	return out
}
