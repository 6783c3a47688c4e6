// Package config handles devclean context configuration.
//
// Config is stored at $XDG_CONFIG_HOME/devclean/config.yaml (defaults to
// ~/.config/devclean/config.yaml) and follows the kubeconfig pattern: named
// contexts with a current-context selector.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

const (
	ProviderAPI = "api"
	ProviderSSH = "ssh"

	// EnvContext overrides current-context when set.
	EnvContext = "DEVCLEAN_CONTEXT"
	// EnvAPIKey is read for the API key unless a context names another variable.
	EnvAPIKey = "DEVCLEAN_API_KEY"

	DefaultImage  = "mobile_latest"
	DefaultPasses = 1
	MaxPasses     = 10
)

var ErrNoContext = errors.New("no context selected")

// Context describes where sessions come from and how to clean them.
type Context struct {
	Provider string `yaml:"provider"`

	// api provider
	Endpoint  string `yaml:"endpoint,omitempty"`
	APIKeyEnv string `yaml:"api-key-env,omitempty"`

	// ssh provider
	Hosts      []string `yaml:"hosts,omitempty"`
	SSHPort    int      `yaml:"ssh-port,omitempty"`
	SSHKey     string   `yaml:"ssh-key,omitempty"`
	ExecPrefix string   `yaml:"exec-prefix,omitempty"`
	LockDir    string   `yaml:"lock-dir,omitempty"`

	Image      string            `yaml:"image,omitempty"`
	Labels     map[string]string `yaml:"labels,omitempty"`
	Strategies []string          `yaml:"strategies,omitempty"`
	Passes     int               `yaml:"passes,omitempty"`
}

// Validate checks that the context names a usable provider.
func (c Context) Validate() error {
	switch c.Provider {
	case ProviderAPI:
		if strings.TrimSpace(c.Endpoint) == "" {
			return errors.New("api context requires an endpoint")
		}
	case ProviderSSH:
		if len(c.Hosts) == 0 {
			return errors.New("ssh context requires at least one host")
		}
	case "":
		return errors.New("context has no provider")
	default:
		return fmt.Errorf("unknown provider %q (want %s or %s)", c.Provider, ProviderAPI, ProviderSSH)
	}
	if c.Passes < 0 || c.Passes > MaxPasses {
		return fmt.Errorf("passes must be between 1 and %d", MaxPasses)
	}
	return nil
}

// APIKey reads the API key from the configured environment variable.
func (c Context) APIKey() (string, error) {
	name := c.APIKeyEnv
	if name == "" {
		name = EnvAPIKey
	}
	key := strings.TrimSpace(os.Getenv(name))
	if key == "" {
		return "", fmt.Errorf("API key not set: export %s", name)
	}
	return key, nil
}

// ImageID returns the session image, defaulting to DefaultImage.
func (c Context) ImageID() string {
	if strings.TrimSpace(c.Image) == "" {
		return DefaultImage
	}
	return c.Image
}

// PassCount returns the configured number of passes, defaulting to one.
func (c Context) PassCount() int {
	if c.Passes <= 0 {
		return DefaultPasses
	}
	return c.Passes
}

// Config holds named contexts and the current selection.
type Config struct {
	CurrentContext string             `yaml:"current-context"`
	Contexts       map[string]Context `yaml:"contexts"`
}

// Path returns the config file location. It respects XDG_CONFIG_HOME,
// falling back to ~/.config/devclean/config.yaml.
func Path() string {
	return filepath.Join(xdgDir("XDG_CONFIG_HOME", ".config"), "devclean", "config.yaml")
}

// StatePath returns the lease and history database location. It respects
// XDG_STATE_HOME, falling back to ~/.local/state/devclean/state.db.
func StatePath() string {
	return filepath.Join(xdgDir("XDG_STATE_HOME", filepath.Join(".local", "state")), "devclean", "state.db")
}

func xdgDir(env, fallback string) string {
	if dir := os.Getenv(env); dir != "" {
		return dir
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return fallback
	}
	return filepath.Join(home, fallback)
}

// Load reads the config file. If the file does not exist, an empty Config
// is returned (not an error).
func Load() (*Config, error) {
	data, err := os.ReadFile(Path())
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return &Config{Contexts: make(map[string]Context)}, nil
		}
		return nil, fmt.Errorf("read config: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	if cfg.Contexts == nil {
		cfg.Contexts = make(map[string]Context)
	}
	return &cfg, nil
}

// Save writes the config to disk, creating directories as needed. The file
// is private because contexts may name credentials.
func (c *Config) Save() error {
	p := Path()
	if err := os.MkdirAll(filepath.Dir(p), 0o755); err != nil {
		return fmt.Errorf("create config dir: %w", err)
	}

	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}
	if err := os.WriteFile(p, data, 0o600); err != nil {
		return fmt.Errorf("write config: %w", err)
	}
	return nil
}

// Current returns the current context name and value.
// The bool is false when no current context is set.
func (c *Config) Current() (string, Context, bool) {
	if c.CurrentContext == "" {
		return "", Context{}, false
	}
	ctx, ok := c.Contexts[c.CurrentContext]
	if !ok {
		return "", Context{}, false
	}
	return c.CurrentContext, ctx, true
}

// Resolve picks the context to use: the explicit name, then EnvContext,
// then current-context.
func (c *Config) Resolve(name string) (string, Context, error) {
	if name == "" {
		name = strings.TrimSpace(os.Getenv(EnvContext))
	}
	if name == "" {
		n, ctx, ok := c.Current()
		if !ok {
			return "", Context{}, fmt.Errorf("%w: run 'devclean context add' and 'devclean context use'", ErrNoContext)
		}
		return n, ctx, nil
	}
	ctx, ok := c.Contexts[name]
	if !ok {
		return "", Context{}, fmt.Errorf("context %q not found", name)
	}
	return name, ctx, nil
}

// Use sets the current context. It returns an error if the name doesn't exist.
func (c *Config) Use(name string) error {
	if _, ok := c.Contexts[name]; !ok {
		return fmt.Errorf("context %q not found", name)
	}
	c.CurrentContext = name
	return nil
}

// Set adds or updates a named context.
func (c *Config) Set(name string, ctx Context) {
	c.Contexts[name] = ctx
}

// Remove deletes a context. If it was the current context, current-context
// is cleared. Returns an error if the name doesn't exist.
func (c *Config) Remove(name string) error {
	if _, ok := c.Contexts[name]; !ok {
		return fmt.Errorf("context %q not found", name)
	}
	delete(c.Contexts, name)
	if c.CurrentContext == name {
		c.CurrentContext = ""
	}
	return nil
}
