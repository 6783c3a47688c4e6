// Package ssh leases devices attached to a pool of ssh hosts. A lease is a
// lock directory on the host; commands run through the system ssh client.
package ssh

import (
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strconv"
	"strings"
)

// exitTransport is the status the ssh client reserves for its own failures.
const exitTransport = 255

// Options configures how hosts are reached.
type Options struct {
	Port    int
	KeyPath string
}

// Result is the outcome of one remote script.
type Result struct {
	Output   string
	ExitCode int
}

// Runner runs script on target through sh -s. A non-nil error means the
// script could not be started or the connection failed.
type Runner func(ctx context.Context, target string, script string) (Result, error)

// NewRunner returns a Runner backed by the system ssh client.
func NewRunner(opts Options) Runner {
	return func(ctx context.Context, target string, script string) (Result, error) {
		return RunScriptOutput(ctx, target, opts, script)
	}
}

// RunScriptOutput runs script on target and returns its combined output.
// A remote non-zero exit is reported through ExitCode; exit 255 and local
// failures are errors.
func RunScriptOutput(ctx context.Context, target string, opts Options, script string) (Result, error) {
	args := []string{"-o", "BatchMode=yes", "-o", "StrictHostKeyChecking=accept-new"}
	if opts.Port > 0 {
		args = append(args, "-p", strconv.Itoa(opts.Port))
	}
	if strings.TrimSpace(opts.KeyPath) != "" {
		args = append(args, "-i", opts.KeyPath)
	}
	args = append(args, target, "sh", "-s")

	cmd := exec.CommandContext(ctx, "ssh", args...)
	cmd.Stdin = strings.NewReader(script)
	out, err := cmd.CombinedOutput()
	output := strings.TrimSpace(string(out))

	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) && exitErr.ExitCode() != exitTransport {
		return Result{Output: output, ExitCode: exitErr.ExitCode()}, nil
	}
	if err != nil {
		if output == "" {
			return Result{}, fmt.Errorf("ssh %s failed: %w", target, err)
		}
		return Result{}, fmt.Errorf("ssh %s failed: %w: %s", target, err, output)
	}
	return Result{Output: output}, nil
}

func shellQuote(s string) string {
	return "'" + strings.ReplaceAll(s, "'", "'\"'\"'") + "'"
}
