package fake

import (
	"fmt"
	"sort"
	"strings"
	"sync"

	"devclean/internal/session"
)

type packageState struct {
	disabled bool
	hidden   bool
}

// Device simulates the Android package manager commands devclean issues.
// Packages listed in Mute accept commands but print nothing, which defeats
// output predicates while still changing state.
type Device struct {
	mu       sync.Mutex
	packages map[string]*packageState
	Mute     map[string]bool
}

// NewDevice returns a device with the given third-party packages installed.
func NewDevice(packages ...string) *Device {
	d := &Device{packages: make(map[string]*packageState), Mute: make(map[string]bool)}
	for _, p := range packages {
		d.packages[p] = &packageState{}
	}
	return d
}

// Installed reports whether pkg is still installed, hidden or not.
func (d *Device) Installed(pkg string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	_, ok := d.packages[pkg]
	return ok
}

// Disabled reports whether pkg has been disabled for user 0.
func (d *Device) Disabled(pkg string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	st, ok := d.packages[pkg]
	return ok && st.disabled
}

// Apps returns the visible packages as launcher entries, sorted by package.
func (d *Device) Apps() []session.App {
	d.mu.Lock()
	defer d.mu.Unlock()
	names := d.visible("")
	apps := make([]session.App, len(names))
	for i, name := range names {
		apps[i] = session.App{
			Name:     name,
			StartCmd: "monkey -p " + name + " -c android.intent.category.LAUNCHER 1",
		}
	}
	return apps
}

// Execute interprets one shell command.
func (d *Device) Execute(command string) session.CommandResult {
	fields := strings.Fields(command)
	if len(fields) == 0 {
		return session.CommandResult{Success: true}
	}
	if fields[0] == "echo" {
		return session.CommandResult{Success: true, Output: strings.Trim(strings.Join(fields[1:], " "), `'"`)}
	}
	if len(fields) < 2 || fields[0] != "pm" {
		return session.CommandResult{Output: fmt.Sprintf("sh: %s: not found", fields[0])}
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	args := stripUserFlag(fields[2:])
	switch fields[1] {
	case "list":
		return d.list(args)
	case "disable-user":
		return d.mutate(args, func(pkg string, st *packageState) string {
			st.disabled = true
			return fmt.Sprintf("Package %s new state: disabled-user", pkg)
		})
	case "hide":
		return d.mutate(args, func(pkg string, st *packageState) string {
			st.hidden = true
			return "Package " + pkg + " new hidden state: true"
		})
	case "uninstall":
		return d.mutate(args, func(pkg string, _ *packageState) string {
			delete(d.packages, pkg)
			return "Success"
		})
	default:
		return session.CommandResult{Output: "Unknown command: " + fields[1]}
	}
}

func (d *Device) list(args []string) session.CommandResult {
	if len(args) == 0 || args[0] != "packages" {
		return session.CommandResult{Output: "Error: unknown list type"}
	}
	filter := ""
	for _, a := range args[1:] {
		if !strings.HasPrefix(a, "-") {
			filter = a
		}
	}

	names := d.visible(filter)
	lines := make([]string, len(names))
	for i, name := range names {
		lines[i] = "package:" + name
	}
	return session.CommandResult{Success: true, Output: strings.Join(lines, "\n")}
}

func (d *Device) visible(filter string) []string {
	names := make([]string, 0, len(d.packages))
	for name, st := range d.packages {
		if st.hidden {
			continue
		}
		if filter != "" && !strings.Contains(name, filter) {
			continue
		}
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func (d *Device) mutate(args []string, apply func(pkg string, st *packageState) string) session.CommandResult {
	if len(args) == 0 {
		return session.CommandResult{Output: "Error: no package specified"}
	}
	pkg := args[len(args)-1]
	st, ok := d.packages[pkg]
	if !ok {
		return session.CommandResult{Output: "Failure [not installed for 0]"}
	}
	out := apply(pkg, st)
	if d.Mute[pkg] {
		out = ""
	}
	return session.CommandResult{Success: true, Output: out}
}

func stripUserFlag(args []string) []string {
	out := make([]string, 0, len(args))
	for i := 0; i < len(args); i++ {
		if args[i] == "--user" {
			i++
			continue
		}
		out = append(out, args[i])
	}
	return out
}
