package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, 8080, cfg.ListenPort)
	assert.Equal(t, "http://localhost:3000", cfg.MainAppURL)
	assert.Equal(t, 3001, cfg.PortRangeStart)
	assert.Equal(t, 4000, cfg.PortRangeEnd)
	assert.Equal(t, "/tmp/arena-workspaces", cfg.WorkspaceBase)
	assert.Equal(t, "arena-isolation", cfg.IsolationNetwork)
	assert.Equal(t, "/var/run/docker.sock", cfg.DockerSocket)
	assert.Equal(t, int64(4<<30), cfg.BuildMemoryBytes())
	assert.Equal(t, int64(2<<30), cfg.RunMemoryBytes())
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("ORCHESTRATOR_PORT", "9090")
	t.Setenv("PORT_RANGE_START", "5001")
	t.Setenv("PORT_RANGE_END", "5100")
	t.Setenv("ISOLATION_NETWORK_NAME", "test-isolation")

	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, 9090, cfg.ListenPort)
	assert.Equal(t, 5001, cfg.PortRangeStart)
	assert.Equal(t, 5100, cfg.PortRangeEnd)
	assert.Equal(t, "test-isolation", cfg.IsolationNetwork)
}

func TestYAMLFileThenEnv(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "arena.yaml")
	data := []byte("listen_port: 8888\nworkspace_base: /srv/arena\nbuild_memory: 8GiB\n")
	require.NoError(t, os.WriteFile(path, data, 0o644))

	// Env wins over file.
	t.Setenv("ORCHESTRATOR_PORT", "7070")

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, 7070, cfg.ListenPort)
	assert.Equal(t, "/srv/arena", cfg.WorkspaceBase)
	assert.Equal(t, int64(8<<30), cfg.BuildMemoryBytes())
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr bool
	}{
		{name: "defaults valid", mutate: func(c *Config) {}, wantErr: false},
		{name: "bad listen port", mutate: func(c *Config) { c.ListenPort = 0 }, wantErr: true},
		{name: "inverted port range", mutate: func(c *Config) { c.PortRangeStart = 4000; c.PortRangeEnd = 3001 }, wantErr: true},
		{name: "empty workspace base", mutate: func(c *Config) { c.WorkspaceBase = "" }, wantErr: true},
		{name: "garbage memory cap", mutate: func(c *Config) { c.BuildMemory = "lots" }, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)
			err := cfg.Validate()
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}
