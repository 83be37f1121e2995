package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/ZanzyTHEbar/errbuilder-go"
	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadWithoutFileReturnsDefaults(t *testing.T) {
	c, err := Load("")
	require.NoError(t, err)
	if diff := cmp.Diff(Default(), c); diff != "" {
		t.Fatalf("config mismatch (-want +got):\n%s", diff)
	}
	assert.Len(t, c.Manifest, 10)
	assert.Equal(t, "slay-the-day-v1", c.Version)
}

func TestLoadOverlaysDefaults(t *testing.T) {
	filename := filepath.Join(t.TempDir(), "offline-cache.yml")
	require.NoError(t, os.WriteFile(filename, []byte(`
version: slay-the-day-v2
origin: https://slaytheday.example
storage:
  provider: leveldb
  path: /var/lib/offline-cache
manifest:
  - /
  - /app
`), 0644))

	c, err := Load(filename)
	require.NoError(t, err)

	want := Default()
	want.Version = "slay-the-day-v2"
	want.Origin = "https://slaytheday.example"
	want.Storage = Storage{Provider: "leveldb", Path: "/var/lib/offline-cache"}
	want.Manifest = []string{"/", "/app"}
	if diff := cmp.Diff(want, c); diff != "" {
		t.Fatalf("config mismatch (-want +got):\n%s", diff)
	}
	require.NoError(t, c.Validate())
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yml"))
	require.Error(t, err)
	assert.Equal(t, errbuilder.CodeInvalidArgument, errbuilder.CodeOf(err))
}

func TestParseRejectsBadYAML(t *testing.T) {
	_, err := Parse([]byte("manifest: [unclosed"))
	require.Error(t, err)
	assert.Equal(t, errbuilder.CodeInvalidArgument, errbuilder.CodeOf(err))
}

func TestValidate(t *testing.T) {
	valid := func() Config {
		c := Default()
		c.Origin = "http://localhost:3000"
		return c
	}
	tests := []struct {
		name   string
		modify func(c *Config)
		ok     bool
	}{
		{"defaults with origin", func(c *Config) {}, true},
		{"memory provider", func(c *Config) { c.Storage = Storage{Provider: "memory"} }, true},
		{"missing origin", func(c *Config) { c.Origin = "" }, false},
		{"origin without scheme", func(c *Config) { c.Origin = "localhost:3000" }, false},
		{"empty version", func(c *Config) { c.Version = "" }, false},
		{"bad port", func(c *Config) { c.Port = 0 }, false},
		{"relative prefix", func(c *Config) { c.ControlPrefix = "_offline" }, false},
		{"unknown provider", func(c *Config) { c.Storage.Provider = "redis" }, false},
		{"sqlite without path", func(c *Config) { c.Storage.Path = "" }, false},
		{"relative manifest path", func(c *Config) { c.Manifest = []string{"app"} }, false},
		{"manifest below control prefix", func(c *Config) { c.Manifest = []string{"/_offline/status"} }, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := valid()
			tt.modify(&c)
			err := c.Validate()
			if tt.ok {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Equal(t, errbuilder.CodeInvalidArgument, errbuilder.CodeOf(err))
		})
	}
}
