// Package device binds convergence to the Android package manager of a
// leased mobile session.
//
// Strategies and observation are expressed as pm shell commands. Package
// names are validated before they reach a command line.
package device

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"

	"devclean/internal/converge"
	"devclean/internal/session"
)

var (
	ErrInvalidPackage  = errors.New("invalid package name")
	ErrUnknownStrategy = errors.New("unknown strategy")
)

var (
	packagePattern  = regexp.MustCompile(`^[A-Za-z0-9_]+(\.[A-Za-z0-9_]+)*$`)
	startCmdPackage = regexp.MustCompile(`-p\s+([a-zA-Z0-9_.]+)`)
)

// Executor runs shell commands on the device. *session.Session satisfies it.
type Executor interface {
	Execute(ctx context.Context, command string) (session.CommandResult, error)
}

// ValidatePackage rejects names that are not plain dotted package identifiers.
func ValidatePackage(name string) error {
	if !packagePattern.MatchString(name) {
		return fmt.Errorf("%w: %q", ErrInvalidPackage, name)
	}
	return nil
}

// ExtractPackage pulls the package name out of an app start command such as
// "monkey -p com.example.app -c android.intent.category.LAUNCHER 1".
func ExtractPackage(startCmd string) (string, bool) {
	m := startCmdPackage.FindStringSubmatch(startCmd)
	if m == nil {
		return "", false
	}
	return m[1], true
}

// Act returns a converge.ActFunc that runs a strategy's pm command.
func Act(exec Executor) converge.ActFunc {
	return func(ctx context.Context, target converge.Target, strategy converge.Strategy) (converge.ActResult, error) {
		if err := ValidatePackage(target.Key); err != nil {
			return converge.ActResult{}, err
		}
		if strategy.Command == nil {
			return converge.ActResult{}, fmt.Errorf("strategy %s has no command", strategy.Name)
		}
		res, err := exec.Execute(ctx, strategy.Command(target.Key))
		if err != nil {
			return converge.ActResult{}, err
		}
		return converge.ActResult{Success: res.Success, Output: res.Output}, nil
	}
}

// Observe returns a converge.ObserveFunc backed by "pm list packages".
// A package counts as present only when an exact "package:<key>" line is
// listed; a command the device rejects yields StateUnknown.
func Observe(exec Executor) converge.ObserveFunc {
	return func(ctx context.Context, target converge.Target) (converge.State, error) {
		if err := ValidatePackage(target.Key); err != nil {
			return converge.StateUnknown, err
		}
		res, err := exec.Execute(ctx, "pm list packages "+target.Key)
		if err != nil {
			return converge.StateUnknown, err
		}
		if !res.Success {
			return converge.StateUnknown, nil
		}
		for _, pkg := range parsePackageList(res.Output) {
			if pkg == target.Key {
				return converge.StatePresent, nil
			}
		}
		return converge.StateAbsent, nil
	}
}

func parsePackageList(output string) []string {
	var out []string
	for _, line := range strings.Split(output, "\n") {
		line = strings.TrimSpace(line)
		name, ok := strings.CutPrefix(line, "package:")
		if !ok || name == "" {
			continue
		}
		out = append(out, name)
	}
	return out
}
