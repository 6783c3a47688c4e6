package contextcmd

import (
	"fmt"
	"sort"
	"strings"

	"devclean/cmd/devclean/ui"
	"devclean/config"

	"github.com/spf13/cobra"
)

func listCmd() *cobra.Command {
	return &cobra.Command{
		Use:     "list",
		Short:   "List available contexts",
		Aliases: []string{"ls"},
		Args:    cobra.NoArgs,
		RunE: func(_ *cobra.Command, _ []string) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}

			if len(cfg.Contexts) == 0 {
				fmt.Println(ui.InfoMsg("No contexts configured."))
				return nil
			}

			names := make([]string, 0, len(cfg.Contexts))
			for name := range cfg.Contexts {
				names = append(names, name)
			}
			sort.Strings(names)

			rows := make([][]string, 0, len(names))
			for _, name := range names {
				c := cfg.Contexts[name]
				current := ""
				if name == cfg.CurrentContext {
					current = "*"
				}
				strategies := strings.Join(c.Strategies, ",")
				if strategies == "" {
					strategies = ui.Muted("default")
				}
				rows = append(rows, []string{current, name, c.Provider, target(c), c.ImageID(), strategies})
			}

			fmt.Println(ui.Table([]string{"", "NAME", "PROVIDER", "TARGET", "IMAGE", "STRATEGIES"}, rows))
			return nil
		},
	}
}

func target(c config.Context) string {
	if c.Provider == config.ProviderSSH {
		return strings.Join(c.Hosts, ", ")
	}
	return c.Endpoint
}
