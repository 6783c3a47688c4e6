// Package sessioncmd implements the one-shot session commands "devclean
// apps" and "devclean exec".
package sessioncmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"devclean/cmd/devclean/cmdutil"
	"devclean/cmd/devclean/ui"
	"devclean/internal/device"
	"devclean/internal/session"

	"github.com/spf13/cobra"
)

// ErrCommandFailed is returned when the device rejects an exec command.
var ErrCommandFailed = errors.New("remote command failed")

func AppsCmd(contextName *string) *cobra.Command {
	return &cobra.Command{
		Use:   "apps",
		Short: "Lease a session and list its user-installed apps",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			env, err := cmdutil.Load(*contextName, cmdutil.Options{})
			if err != nil {
				return err
			}
			defer env.Close()
			return ListApps(cmd.Context(), env, env.NewGuard(), os.Stdout)
		},
	}
}

func ExecCmd(contextName *string) *cobra.Command {
	return &cobra.Command{
		Use:   "exec <command>",
		Short: "Lease a session, run one shell command, and release it",
		Example: `  devclean exec "echo hello"
  devclean exec pm list packages -3`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			env, err := cmdutil.Load(*contextName, cmdutil.Options{})
			if err != nil {
				return err
			}
			defer env.Close()
			return Exec(cmd.Context(), env, env.NewGuard(), strings.Join(args, " "), os.Stdout)
		},
	}
}

// ListApps prints the installed apps of a fresh session.
func ListApps(ctx context.Context, env *cmdutil.Env, guard *session.Guard, out io.Writer) error {
	return guard.Run(ctx, env.CreateParams(), func(ctx context.Context, s *session.Session) error {
		var apps []device.App
		err := ui.RunWithSpinner(ctx, "Listing installed apps", func(ctx context.Context) error {
			var err error
			apps, err = device.Discover(ctx, env.Provider, s)
			return err
		})
		if err != nil {
			return err
		}
		if len(apps) == 0 {
			fmt.Fprintln(out, ui.InfoMsg("No user-installed apps."))
			return nil
		}

		rows := make([][]string, 0, len(apps))
		for _, app := range apps {
			pkg := app.Package
			if pkg == "" {
				pkg, _ = device.ExtractPackage(app.StartCmd)
			}
			if pkg == "" {
				pkg = ui.Warn("unknown")
			}
			rows = append(rows, []string{app.Name, pkg, app.StartCmd})
		}
		fmt.Fprintln(out, ui.Table([]string{"NAME", "PACKAGE", "START COMMAND"}, rows))
		return nil
	})
}

// Exec runs command in a fresh session and prints its output.
func Exec(ctx context.Context, env *cmdutil.Env, guard *session.Guard, command string, out io.Writer) error {
	return guard.Run(ctx, env.CreateParams(), func(ctx context.Context, s *session.Session) error {
		res, err := s.Execute(ctx, command)
		if err != nil {
			return err
		}
		if res.Output != "" {
			fmt.Fprintln(out, res.Output)
		}
		if !res.Success {
			return fmt.Errorf("%w: %s", ErrCommandFailed, command)
		}
		return nil
	})
}
