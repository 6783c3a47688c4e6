package device

import (
	"context"
	"fmt"
	"log/slog"

	"devclean/internal/converge"
	"devclean/internal/session"
)

// App is an installed application as reported by the device or provider.
type App struct {
	Name     string
	StartCmd string
	Package  string
}

// ListInstalled returns third-party packages installed on the device.
func ListInstalled(ctx context.Context, exec Executor) ([]App, error) {
	res, err := exec.Execute(ctx, "pm list packages -3")
	if err != nil {
		return nil, fmt.Errorf("list installed packages: %w", err)
	}
	if !res.Success {
		return nil, fmt.Errorf("list installed packages: device rejected command: %s", res.Output)
	}
	pkgs := parsePackageList(res.Output)
	apps := make([]App, 0, len(pkgs))
	for _, pkg := range pkgs {
		apps = append(apps, App{Name: pkg, Package: pkg})
	}
	return apps, nil
}

// FromProvider converts a provider app listing. Packages are resolved later
// by Targets.
func FromProvider(apps []session.App) []App {
	out := make([]App, len(apps))
	for i, a := range apps {
		out[i] = App{Name: a.Name, StartCmd: a.StartCmd}
	}
	return out
}

// Discover prefers the provider's own app listing and falls back to the
// device package manager.
func Discover(ctx context.Context, provider session.Provider, s *session.Session) ([]App, error) {
	if lister, ok := provider.(session.AppLister); ok {
		apps, err := lister.InstalledApps(ctx, s.ID())
		if err == nil {
			return FromProvider(apps), nil
		}
		slog.Debug("provider app listing failed, falling back to pm", "err", err)
	}
	return ListInstalled(ctx, s)
}

// Targets converts apps to convergence targets. Apps without a package are
// resolved from their start command; those that still have none, or whose
// package is invalid, are returned as skipped.
func Targets(apps []App) (targets []converge.Target, skipped []App) {
	for _, app := range apps {
		pkg := app.Package
		if pkg == "" {
			pkg, _ = ExtractPackage(app.StartCmd)
		}
		if pkg == "" || ValidatePackage(pkg) != nil {
			slog.Warn("skipping app without usable package", "app", app.Name, "start_cmd", app.StartCmd)
			skipped = append(skipped, app)
			continue
		}
		targets = append(targets, converge.Target{Name: app.Name, Key: pkg})
	}
	return targets, skipped
}
