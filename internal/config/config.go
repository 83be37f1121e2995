package config

import (
	"net/url"
	"os"
	"strings"

	"github.com/ZanzyTHEbar/errbuilder-go"
	"gopkg.in/yaml.v3"
)

const (
	DefaultVersion       = "slay-the-day-v1"
	DefaultAppName       = "Slay The Day"
	DefaultPort          = 8080
	DefaultControlPrefix = "/_offline"
	DefaultProvider      = "sqlite"
	DefaultStoragePath   = "cache.db"
)

// DefaultManifest is the app shell stored on install.
var DefaultManifest = []string{
	"/",
	"/app",
	"/deck",
	"/journal",
	"/packs",
	"/settings",
	"/manifest.json",
	"/icon-192.png",
	"/icon-256.png",
	"/icon-512.png",
}

type Config struct {
	// Version tag of the store generation to install.
	Version string `yaml:"version"`
	// Application name, shown as notification title.
	AppName string `yaml:"appName"`
	// Origin URL to proxy to.
	Origin string `yaml:"origin"`
	// Hostname of the origin, if different from the origin URL host.
	OriginHost    string   `yaml:"originHost"`
	Port          int      `yaml:"port"`
	ControlPrefix string   `yaml:"controlPrefix"`
	Storage       Storage  `yaml:"storage"`
	Manifest      []string `yaml:"manifest"`
}

type Storage struct {
	// One of sqlite, leveldb or memory.
	Provider string `yaml:"provider"`
	// Database file (sqlite) or directory (leveldb). Use "memory" for an in-memory sqlite database.
	Path string `yaml:"path"`
}

// Default returns the configuration used when no file is given.
func Default() Config {
	return Config{
		Version:       DefaultVersion,
		AppName:       DefaultAppName,
		Port:          DefaultPort,
		ControlPrefix: DefaultControlPrefix,
		Storage: Storage{
			Provider: DefaultProvider,
			Path:     DefaultStoragePath,
		},
		Manifest: append([]string(nil), DefaultManifest...),
	}
}

// Load reads the YAML file on top of the defaults.
// An empty filename returns the defaults.
func Load(filename string) (Config, error) {
	if filename == "" {
		return Default(), nil
	}
	configBytes, err := os.ReadFile(filename)
	if err != nil {
		return Config{}, errbuilder.New().
			WithCode(errbuilder.CodeInvalidArgument).
			WithMsg("failed to read config file").
			WithCause(err)
	}
	return Parse(configBytes)
}

// Parse reads YAML on top of the defaults.
func Parse(configBytes []byte) (Config, error) {
	config := Default()
	if err := yaml.Unmarshal(configBytes, &config); err != nil {
		return Config{}, errbuilder.New().
			WithCode(errbuilder.CodeInvalidArgument).
			WithMsg("failed to parse config").
			WithCause(err)
	}
	return config, nil
}

// Validate checks that the configuration can be served.
func (c Config) Validate() error {
	if strings.TrimSpace(c.Version) == "" {
		return invalid("version is required")
	}
	if _, err := c.OriginURL(); err != nil {
		return err
	}
	if c.Port <= 0 || c.Port > 65535 {
		return invalid("port out of range")
	}
	if !strings.HasPrefix(c.ControlPrefix, "/") {
		return invalid("control prefix must start with /")
	}
	switch c.Storage.Provider {
	case "sqlite", "leveldb":
		if c.Storage.Path == "" {
			return invalid("storage path is required for " + c.Storage.Provider)
		}
	case "memory":
	default:
		return invalid("unsupported storage provider: " + c.Storage.Provider)
	}
	for _, path := range c.Manifest {
		if !strings.HasPrefix(path, "/") {
			return invalid("manifest path must be absolute: " + path)
		}
		if strings.HasPrefix(path, c.ControlPrefix+"/") || path == c.ControlPrefix {
			return invalid("manifest path is below the control prefix: " + path)
		}
	}
	return nil
}

// OriginURL parses the origin.
func (c Config) OriginURL() (*url.URL, error) {
	if c.Origin == "" {
		return nil, invalid("origin is required")
	}
	u, err := url.Parse(c.Origin)
	if err != nil {
		return nil, errbuilder.New().
			WithCode(errbuilder.CodeInvalidArgument).
			WithMsg("could not parse origin").
			WithCause(err)
	}
	if u.Scheme != "http" && u.Scheme != "https" || u.Host == "" {
		return nil, invalid("origin must be an http(s) URL: " + c.Origin)
	}
	return u, nil
}

func invalid(msg string) error {
	return errbuilder.New().
		WithCode(errbuilder.CodeInvalidArgument).
		WithMsg(msg)
}
