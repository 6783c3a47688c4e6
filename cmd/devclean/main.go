package main

import (
	"fmt"
	"os"

	contextcmd "devclean/cmd/devclean/context"
	historycmd "devclean/cmd/devclean/history"
	leasescmd "devclean/cmd/devclean/leases"
	runcmd "devclean/cmd/devclean/run"
	sessioncmd "devclean/cmd/devclean/session"
	"devclean/cmd/devclean/ui"
	"devclean/internal/buildinfo"
	"devclean/internal/exithook"
	"devclean/internal/logging"

	"github.com/spf13/cobra"
)

func main() {
	var (
		debug         bool
		noInteraction bool
		contextName   string
	)
	if err := logging.Configure(logging.LevelWarn); err != nil {
		_, _ = os.Stderr.WriteString("configure logger: " + err.Error() + "\n")
		os.Exit(1)
	}

	root := &cobra.Command{
		Use:           "devclean",
		Short:         "Lease remote mobile sessions and strip their installed apps",
		Version:       buildinfo.Version,
		SilenceErrors: true,
		SilenceUsage:  true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			level := logging.LevelWarn
			if debug {
				level = logging.LevelDebug
			}
			if err := logging.Configure(level); err != nil {
				return err
			}
			ui.ConfigureInteraction(noInteraction)
			return nil
		},
	}
	root.PersistentFlags().BoolVar(&debug, "debug", false, "Enable debug logging")
	root.PersistentFlags().BoolVar(&noInteraction, "no-interaction", false, "Disable prompts, spinners and colour")
	root.PersistentFlags().StringVar(&contextName, "context", "", "Context name to use")

	root.AddCommand(runcmd.Cmd(&contextName))
	root.AddCommand(sessioncmd.AppsCmd(&contextName))
	root.AddCommand(sessioncmd.ExecCmd(&contextName))
	root.AddCommand(leasescmd.Cmd(&contextName))
	root.AddCommand(historycmd.Cmd())
	root.AddCommand(contextcmd.Cmd())

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, ui.ErrorMsg("%v", err))
		exithook.Exit(1)
	}
	exithook.Exit(0)
}
