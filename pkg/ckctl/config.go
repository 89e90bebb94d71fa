// Package ckctl holds the configuration of the ckctl command line tool.
package ckctl

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"time"

	"github.com/clusterkit/clusterkit/pkg/ck"
	yaml "sigs.k8s.io/yaml/goyaml.v2"
)

var ErrNoContext = errors.New("no current context")

type Config struct {
	CurrentContext string    `yaml:"currentContext"`
	Contexts       []Context `yaml:"contexts"`
}

// Context names a cluster and the defaults used when talking to it.
type Context struct {
	Name string `yaml:"name,omitempty"`

	Server    string        `yaml:"server,omitempty"`
	Namespace string        `yaml:"namespace,omitempty"`
	Timeout   time.Duration `yaml:"timeout,omitempty"`
}

// ClientConfig returns the client configuration for the context.
func (c Context) ClientConfig() ck.Config {
	return ck.Config{
		MasterURL:      c.Server,
		Namespace:      c.Namespace,
		RequestTimeout: c.Timeout,
		Name:           "ckctl",
	}
}

func (c *Config) Current() (Context, bool) {
	return c.Get(c.CurrentContext)
}

func (c *Config) Get(name string) (Context, bool) {
	for _, ctx := range c.Contexts {
		if ctx.Name == name {
			return ctx, true
		}
	}
	return Context{}, false
}

// Add adds ctx, replacing a context with the same name.
// The first context added becomes the current one.
func (c *Config) Add(ctx Context) {
	index := slices.IndexFunc(c.Contexts, func(cCtx Context) bool {
		return cCtx.Name == ctx.Name
	})
	if index == -1 {
		c.Contexts = append(c.Contexts, ctx)
		if len(c.Contexts) == 1 {
			c.CurrentContext = ctx.Name
		}
		return
	}
	c.Contexts[index] = ctx
}

// SetCurrent makes the named context current. It reports whether the config
// changed.
func (c *Config) SetCurrent(name string) (bool, error) {
	if _, ok := c.Get(name); !ok {
		return false, fmt.Errorf("context %q not found", name)
	}
	if c.CurrentContext == name {
		return false, nil
	}
	c.CurrentContext = name
	return true, nil
}

// DefaultConfigFile returns the config file path under the user's home.
func DefaultConfigFile() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("getting user home dir: %w", err)
	}
	return filepath.Join(home, ".config", "clusterkit", "config.yaml"), nil
}

// LoadConfig reads the config file. A missing file is an empty config.
func LoadConfig(path string) (Config, error) {
	var config Config
	f, err := os.Open(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return config, nil
		}
		return config, fmt.Errorf("open config file: %w", err)
	}
	defer f.Close()
	if err := yaml.NewDecoder(f).Decode(&config); err != nil {
		return config, fmt.Errorf("decode config: %w", err)
	}
	return config, nil
}

// SaveConfig writes config to path, creating its directory if needed.
func SaveConfig(path string, config Config) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("mkdir config file: %w", err)
	}
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create config file: %w", err)
	}
	defer f.Close()
	if err := yaml.NewEncoder(f).Encode(config); err != nil {
		return fmt.Errorf("encode config: %w", err)
	}
	return nil
}
