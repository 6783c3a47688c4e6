// Package runcmd implements "devclean run".
package runcmd

import (
	"fmt"
	"os"

	"devclean/cmd/devclean/cmdutil"
	"devclean/cmd/devclean/ui"
	"devclean/config"

	"github.com/spf13/cobra"
)

func Cmd(contextName *string) *cobra.Command {
	var opts Options

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Lease a session, remove installed apps, and release it",
		Long: `Lease a session, remove every user-installed app with the configured
strategies, verify the result, and release the session. The session is
released on normal return, on error, on SIGINT/SIGTERM, and at process exit.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if opts.Passes < 0 || opts.Passes > config.MaxPasses {
				return fmt.Errorf("--passes must be between 1 and %d", config.MaxPasses)
			}

			progress, err := ui.NewProgress(cmd.Context())
			if err != nil {
				return err
			}
			defer progress.Close()

			env, err := cmdutil.Load(*contextName, cmdutil.Options{TracerProvider: progress.TracerProvider()})
			if err != nil {
				return err
			}
			defer env.Close()

			opts.Tracer = progress.Tracer("devclean/converge")
			opts.AfterConverge = progress.Close
			_, err = Clean(cmd.Context(), env, env.NewGuard(), opts, os.Stdout)
			return err
		},
	}

	cmd.Flags().IntVar(&opts.Passes, "passes", 0, "Convergence passes over pending targets (default from context, else 1)")
	cmd.Flags().StringSliceVar(&opts.Strategies, "strategy", nil, "Ranked strategies to try (uninstall-user, disable, hide, uninstall)")
	cmd.Flags().BoolVar(&opts.Hold, "hold", false, "Keep the session leased after cleaning until interrupted")
	return cmd
}
