package ui

type stepStatus string

const (
	stepPending stepStatus = "pending"
	stepRunning stepStatus = "running"
	stepDone    stepStatus = "done"
	stepFailed  stepStatus = "failed"
)

type stepState struct {
	ID      string
	Title   string
	Status  stepStatus
	Message string
}

type stepSnapshot struct {
	Steps []stepState
}

// counts returns how many steps finished and how many of those failed.
func (s stepSnapshot) counts() (finished, failed int) {
	for _, step := range s.Steps {
		switch step.Status {
		case stepDone:
			finished++
		case stepFailed:
			finished++
			failed++
		}
	}
	return finished, failed
}
