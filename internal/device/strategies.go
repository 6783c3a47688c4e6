package device

import (
	"fmt"
	"strings"

	"devclean/internal/converge"
)

// Strategy names accepted in configuration.
const (
	StrategyUninstallUser = "uninstall-user"
	StrategyDisable       = "disable"
	StrategyHide          = "hide"
	StrategyUninstall     = "uninstall"
)

// DefaultStrategyNames disables rather than removes. Stronger strategies are
// opt-in through configuration.
var DefaultStrategyNames = []string{StrategyDisable}

var catalog = map[string]converge.Strategy{
	StrategyUninstallUser: {
		Name:      StrategyUninstallUser,
		Command:   pmCommand("uninstall --user 0"),
		Succeeded: converge.OutputContains("success"),
	},
	StrategyDisable: {
		Name:      StrategyDisable,
		Command:   pmCommand("disable-user --user 0"),
		Succeeded: converge.OutputContains("disabled", "new state"),
	},
	StrategyHide: {
		Name:      StrategyHide,
		Command:   pmCommand("hide --user 0"),
		Succeeded: converge.OutputContains("true", "hidden"),
	},
	StrategyUninstall: {
		Name:      StrategyUninstall,
		Command:   pmCommand("uninstall"),
		Succeeded: converge.OutputContains("success"),
	},
}

// CatalogNames lists every known strategy in conventional rank order.
func CatalogNames() []string {
	return []string{StrategyUninstallUser, StrategyDisable, StrategyHide, StrategyUninstall}
}

// Strategies resolves names into ranked strategies. An empty list yields
// the defaults.
func Strategies(names []string) ([]converge.Strategy, error) {
	if len(names) == 0 {
		names = DefaultStrategyNames
	}
	out := make([]converge.Strategy, 0, len(names))
	seen := make(map[string]bool, len(names))
	for _, raw := range names {
		name := strings.ToLower(strings.TrimSpace(raw))
		s, ok := catalog[name]
		if !ok {
			return nil, fmt.Errorf("%w %q (known: %s)", ErrUnknownStrategy, raw, strings.Join(CatalogNames(), ", "))
		}
		if seen[name] {
			return nil, fmt.Errorf("strategy %q listed twice", name)
		}
		seen[name] = true
		out = append(out, s)
	}
	return out, nil
}

func pmCommand(sub string) func(string) string {
	return func(key string) string {
		return "pm " + sub + " " + key
	}
}
