package contextcmd

import (
	"fmt"
	"strings"

	"devclean/cmd/devclean/ui"
	"devclean/config"

	"github.com/spf13/cobra"
)

func addCmd() *cobra.Command {
	var (
		c      config.Context
		labels []string
		use    bool
	)

	cmd := &cobra.Command{
		Use:   "add <name>",
		Short: "Add or update a context",
		Example: `  devclean context add cloud --provider api --endpoint https://sessions.example.com --label project=demo
  devclean context add lab --provider ssh --host dev@lab1 --host dev@lab2 --exec-prefix "adb shell"`,
		Args: cobra.ExactArgs(1),
		RunE: func(_ *cobra.Command, args []string) error {
			name := args[0]

			parsed, err := parseLabels(labels)
			if err != nil {
				return err
			}
			c.Labels = parsed
			if err := c.Validate(); err != nil {
				return err
			}

			cfg, err := config.Load()
			if err != nil {
				return err
			}
			cfg.Set(name, c)
			if use || cfg.CurrentContext == "" {
				cfg.CurrentContext = name
			}
			if err := cfg.Save(); err != nil {
				return err
			}

			fmt.Println(ui.SuccessMsg("Context %s saved.", ui.Bold(name)))
			return nil
		},
	}

	cmd.Flags().StringVar(&c.Provider, "provider", config.ProviderAPI, "Session provider (api or ssh)")
	cmd.Flags().StringVar(&c.Endpoint, "endpoint", "", "Session service URL (api)")
	cmd.Flags().StringVar(&c.APIKeyEnv, "api-key-env", "", "Environment variable holding the API key (default "+config.EnvAPIKey+")")
	cmd.Flags().StringSliceVar(&c.Hosts, "host", nil, "SSH target such as user@host (ssh, repeatable)")
	cmd.Flags().IntVar(&c.SSHPort, "ssh-port", 0, "SSH port (ssh)")
	cmd.Flags().StringVar(&c.SSHKey, "ssh-key", "", "SSH identity file (ssh)")
	cmd.Flags().StringVar(&c.ExecPrefix, "exec-prefix", "", "Prefix for device commands, e.g. \"adb shell\" (ssh)")
	cmd.Flags().StringVar(&c.LockDir, "lock-dir", "", "Lease directory on hosts (ssh)")
	cmd.Flags().StringVar(&c.Image, "image", "", "Session image (default "+config.DefaultImage+")")
	cmd.Flags().StringArrayVar(&labels, "label", nil, "Session label key=value (repeatable)")
	cmd.Flags().StringSliceVar(&c.Strategies, "strategy", nil, "Ranked strategies to try")
	cmd.Flags().IntVar(&c.Passes, "passes", 0, "Convergence passes")
	cmd.Flags().BoolVar(&use, "use", false, "Make this the current context")
	return cmd
}

func parseLabels(raw []string) (map[string]string, error) {
	if len(raw) == 0 {
		return nil, nil
	}
	out := make(map[string]string, len(raw))
	for _, kv := range raw {
		k, v, ok := strings.Cut(kv, "=")
		k = strings.TrimSpace(k)
		if !ok || k == "" {
			return nil, fmt.Errorf("invalid label %q: want key=value", kv)
		}
		out[k] = strings.TrimSpace(v)
	}
	return out, nil
}
