// Package config loads orchestrator configuration from the environment,
// optionally overridden by a YAML file.
package config

import (
	"fmt"
	"os"
	"strconv"

	units "github.com/docker/go-units"
	"gopkg.in/yaml.v3"
)

// Config holds the full daemon configuration.
type Config struct {
	// ListenPort is the port the orchestrator HTTP surface binds.
	ListenPort int `yaml:"listen_port"`

	// MainAppURL is the base URL of the UI process for advisory PATCH
	// callbacks. The in-process store stays authoritative.
	MainAppURL string `yaml:"main_app_url"`

	// PortRangeStart / PortRangeEnd bound the host port pool (inclusive).
	PortRangeStart int `yaml:"port_range_start"`
	PortRangeEnd   int `yaml:"port_range_end"`

	// WorkspaceBase is the host directory under which per-run workspaces
	// are materialized.
	WorkspaceBase string `yaml:"workspace_base"`

	// TemplateDir is the project skeleton copied into every workspace
	// before the generated files are overlaid.
	TemplateDir string `yaml:"template_dir"`

	// IsolationNetwork is the name of the bridge network runtime
	// containers are attached to.
	IsolationNetwork string `yaml:"isolation_network"`

	// DockerSocket is the container engine socket path.
	DockerSocket string `yaml:"docker_socket"`

	// BuildImage is the image used for both build and runtime containers.
	BuildImage string `yaml:"build_image"`

	// PreviewDomain is the wildcard domain the reverse proxy serves
	// previews under; ready runs derive publicUrl from it.
	PreviewDomain string `yaml:"preview_domain"`

	// GeneratorURL / GeneratorAPIKey point at the code-generation gateway.
	// The credential is opaque to the orchestrator.
	GeneratorURL    string `yaml:"generator_url"`
	GeneratorAPIKey string `yaml:"generator_api_key"`

	// BuildMemory / RunMemory are human-readable resource caps applied to
	// the two container phases, e.g. "4GiB".
	BuildMemory string `yaml:"build_memory"`
	RunMemory   string `yaml:"run_memory"`

	LogLevel string `yaml:"log_level"`
	LogJSON  bool   `yaml:"log_json"`
}

// Default returns the built-in defaults.
func Default() *Config {
	return &Config{
		ListenPort:       8080,
		MainAppURL:       "http://localhost:3000",
		PortRangeStart:   3001,
		PortRangeEnd:     4000,
		WorkspaceBase:    "/tmp/arena-workspaces",
		TemplateDir:      "/etc/arena/template",
		IsolationNetwork: "arena-isolation",
		DockerSocket:     "/var/run/docker.sock",
		BuildImage:       "node:20-alpine",
		PreviewDomain:    "preview.localhost",
		BuildMemory:      "4GiB",
		RunMemory:        "2GiB",
		LogLevel:         "info",
		LogJSON:          true,
	}
}

// Load builds the configuration from defaults, the optional YAML file at
// path (empty path skips the file), and environment variables, in that
// order of increasing precedence.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config file: %w", err)
		}
	}

	cfg.applyEnv()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) applyEnv() {
	envInt("ORCHESTRATOR_PORT", &c.ListenPort)
	envStr("MAIN_APP_URL", &c.MainAppURL)
	envInt("PORT_RANGE_START", &c.PortRangeStart)
	envInt("PORT_RANGE_END", &c.PortRangeEnd)
	envStr("WORKSPACE_BASE", &c.WorkspaceBase)
	envStr("TEMPLATE_DIR", &c.TemplateDir)
	envStr("ISOLATION_NETWORK_NAME", &c.IsolationNetwork)
	envStr("DOCKER_SOCKET", &c.DockerSocket)
	envStr("BUILD_IMAGE", &c.BuildImage)
	envStr("PREVIEW_DOMAIN", &c.PreviewDomain)
	envStr("GENERATOR_URL", &c.GeneratorURL)
	envStr("GENERATOR_API_KEY", &c.GeneratorAPIKey)
	envStr("LOG_LEVEL", &c.LogLevel)
}

// Validate checks invariants that would otherwise surface as confusing
// runtime failures.
func (c *Config) Validate() error {
	if c.ListenPort <= 0 || c.ListenPort > 65535 {
		return fmt.Errorf("invalid listen port %d", c.ListenPort)
	}
	if c.PortRangeStart <= 0 || c.PortRangeEnd < c.PortRangeStart {
		return fmt.Errorf("invalid port range [%d, %d]", c.PortRangeStart, c.PortRangeEnd)
	}
	if c.WorkspaceBase == "" {
		return fmt.Errorf("workspace base must not be empty")
	}
	if _, err := units.RAMInBytes(c.BuildMemory); err != nil {
		return fmt.Errorf("invalid build memory %q: %w", c.BuildMemory, err)
	}
	if _, err := units.RAMInBytes(c.RunMemory); err != nil {
		return fmt.Errorf("invalid run memory %q: %w", c.RunMemory, err)
	}
	return nil
}

// BuildMemoryBytes returns the build phase memory cap in bytes.
func (c *Config) BuildMemoryBytes() int64 {
	n, _ := units.RAMInBytes(c.BuildMemory)
	return n
}

// RunMemoryBytes returns the runtime phase memory cap in bytes.
func (c *Config) RunMemoryBytes() int64 {
	n, _ := units.RAMInBytes(c.RunMemory)
	return n
}

func envStr(key string, dst *string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func envInt(key string, dst *int) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}
