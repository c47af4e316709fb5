// Package config loads the two logical configuration documents FeatherMail
// depends on: the boot-time server config and the hot-reloadable pipeline
// config, per the directory-resolution and layering rules the server
// documents.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strings"

	"github.com/knadh/koanf"
	kyaml "github.com/knadh/koanf/parsers/yaml"
	kenv "github.com/knadh/koanf/providers/env"
	kfile "github.com/knadh/koanf/providers/file"
	kposflag "github.com/knadh/koanf/providers/posflag"
	"github.com/spf13/pflag"
)

// EnvPrefix is the prefix for environment-variable overrides of server
// config, e.g. FEATHERMAIL_PORT.
const EnvPrefix = "FEATHERMAIL_"

// SessionOptions mirrors Session's server-wide, immutable options.
type SessionOptions struct {
	TLS             string `koanf:"tls"`     // "always", "if_available", "never"
	CertFile        string `koanf:"certfile"`
	KeyFile         string `koanf:"keyfile"`
	CACerts         string `koanf:"cacerts"`
	MaxMessageSize  int    `koanf:"max_message_size"`
}

// ServerConfig is the boot-time-only configuration document: listener
// address, port, greeting name, server domain, and session options.
type ServerConfig struct {
	Name           string         `koanf:"name"`
	Address        string         `koanf:"address"`
	Port           int            `koanf:"port"`
	Domain         string         `koanf:"domain"`
	SessionOptions SessionOptions `koanf:"session_options"`
	PipelineFile   string         `koanf:"pipeline_file"`
}

const (
	// DefaultMaxMessageSize is the default DATA size cap in bytes.
	DefaultMaxMessageSize = 10485760
	// DefaultPort is the default listening port.
	DefaultPort = 2525
)

// EnsureDefaults fills in zero-valued fields with FeatherMail's defaults.
func (c *ServerConfig) EnsureDefaults() {
	if c.Name == "" {
		c.Name = "feathermail"
	}
	if c.Address == "" {
		c.Address = "0.0.0.0"
	}
	if c.Port == 0 {
		c.Port = DefaultPort
	}
	if c.Domain == "" {
		c.Domain = "localhost"
	}
	if c.SessionOptions.TLS == "" {
		c.SessionOptions.TLS = "never"
	}
	if c.SessionOptions.MaxMessageSize == 0 {
		c.SessionOptions.MaxMessageSize = DefaultMaxMessageSize
	}
	if c.PipelineFile == "" {
		c.PipelineFile = filepath.Join(ConfigDir(), "pipeline.yaml")
	}
}

// ConfigDir resolves the configuration directory per the documented order:
// $FEATHER_CONFIG_FOLDER, else /usr/local/etc/feather on BSD-family
// platforms (including darwin), else /etc/feather.
func ConfigDir() string {
	if dir := os.Getenv("FEATHER_CONFIG_FOLDER"); dir != "" {
		return dir
	}
	switch runtime.GOOS {
	case "freebsd", "darwin", "openbsd", "netbsd":
		return "/usr/local/etc/feather"
	default:
		return "/etc/feather"
	}
}

// LoadServerConfig layers configuration exactly like the CLI's flag
// composition: command-line flags, then a config file (explicit path or
// server.yaml/server.yml/server.json in the config directory), then
// FEATHERMAIL_* environment variables.
func LoadServerConfig(flags *pflag.FlagSet, explicitPath string) (*ServerConfig, error) {
	k := koanf.New(".")

	if flags != nil {
		if err := k.Load(kposflag.Provider(flags, ".", k), nil); err != nil {
			return nil, fmt.Errorf("config: loading flags: %w", err)
		}
	}

	path := explicitPath
	if path == "" {
		for _, name := range []string{"server.yaml", "server.yml", "server.json"} {
			candidate := filepath.Join(ConfigDir(), name)
			if _, err := os.Stat(candidate); err == nil {
				path = candidate
				break
			}
		}
	}
	if path != "" {
		if err := k.Load(kfile.Provider(path), kyaml.Parser()); err != nil {
			return nil, fmt.Errorf("config: loading file %s: %w", path, err)
		}
	}

	replacer := strings.NewReplacer("-", "_", ".", "_")
	if err := k.Load(kenv.Provider(EnvPrefix, "_", func(s string) string {
		return replacer.Replace(strings.ToLower(strings.TrimPrefix(s, EnvPrefix)))
	}), nil); err != nil {
		return nil, fmt.Errorf("config: loading env: %w", err)
	}

	var cfg ServerConfig
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, fmt.Errorf("config: unmarshalling: %w", err)
	}
	cfg.EnsureDefaults()
	return &cfg, nil
}
