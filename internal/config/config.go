// Package config handles configuration loading and management for hostagent.
// It supports XDG config paths, project-level overrides, and environment variables.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/spf13/viper"

	"github.com/parthagni22/adk-mcp-agent-lab/pkg/models"
)

// Config holds all configuration for hostagent.
type Config struct {
	Server        ServerConfig            `mapstructure:"server"`
	Workers       map[string]WorkerConfig `mapstructure:"workers"`
	Orchestration OrchestrationConfig     `mapstructure:"orchestration"`
	Transport     TransportConfig         `mapstructure:"transport"`
	Sessions      SessionsConfig          `mapstructure:"sessions"`
	Planner       PlannerConfig           `mapstructure:"planner"`
	Anthropic     AnthropicConfig         `mapstructure:"anthropic"`
	Logging       LoggingConfig           `mapstructure:"logging"`
}

// ServerConfig holds the inbound HTTP API settings.
type ServerConfig struct {
	Addr string `mapstructure:"addr"`
	// PublicURL is advertised to workers as the push-notification base.
	// Empty disables push callbacks.
	PublicURL string `mapstructure:"public_url"`
}

// WorkerConfig describes one remote worker.
type WorkerConfig struct {
	URL         string        `mapstructure:"url"`
	Description string        `mapstructure:"description"`
	Capability  string        `mapstructure:"capability"`
	Timeout     time.Duration `mapstructure:"timeout"`
}

// OrchestrationConfig holds turn and task monitoring settings.
type OrchestrationConfig struct {
	// TurnDeadline bounds a whole turn including every delegation.
	TurnDeadline time.Duration `mapstructure:"turn_deadline"`
	// TaskTimeout is the per-task deadline when a worker has no override.
	TaskTimeout    time.Duration `mapstructure:"task_timeout"`
	PollInitial    time.Duration `mapstructure:"poll_initial"`
	PollMax        time.Duration `mapstructure:"poll_max"`
	PollMultiplier float64       `mapstructure:"poll_multiplier"`
	// ProbeRetries is how many consecutive failed status probes are tolerated.
	ProbeRetries int `mapstructure:"probe_retries"`
	// CancelOnTimeout sends a best-effort cancel to the worker when a task times out.
	CancelOnTimeout bool `mapstructure:"cancel_on_timeout"`
	// HistoryTurns is how many prior turns the planner sees.
	HistoryTurns int `mapstructure:"history_turns"`
}

// TransportConfig holds HTTP transport retry settings.
type TransportConfig struct {
	RequestTimeout time.Duration `mapstructure:"request_timeout"`
	MaxAttempts    int           `mapstructure:"max_attempts"`
	InitialBackoff time.Duration `mapstructure:"initial_backoff"`
	MaxBackoff     time.Duration `mapstructure:"max_backoff"`
}

// SessionsConfig holds session registry settings.
type SessionsConfig struct {
	// Store is "sqlite" or "memory".
	Store string `mapstructure:"store"`
	// Driver is the database/sql driver: "sqlite" (pure Go) or "sqlite3" (cgo).
	Driver        string        `mapstructure:"driver"`
	Path          string        `mapstructure:"path"`
	IdleTTL       time.Duration `mapstructure:"idle_ttl"`
	PurgeInterval time.Duration `mapstructure:"purge_interval"`
}

// PlannerConfig selects the delegation planner.
type PlannerConfig struct {
	// Kind is "rules" or "anthropic".
	Kind      string `mapstructure:"kind"`
	RulesFile string `mapstructure:"rules_file"`
}

// AnthropicConfig holds Anthropic API settings.
type AnthropicConfig struct {
	APIKey     string `mapstructure:"api_key"`
	Model      string `mapstructure:"model"`
	UseBedrock bool   `mapstructure:"use_bedrock"`
	AWSRegion  string `mapstructure:"aws_region"`
	AWSProfile string `mapstructure:"aws_profile"`
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	DebugFile string `mapstructure:"debug_file"`
}

// Endpoints returns the configured workers as endpoints, sorted by name.
func (c *Config) Endpoints() []models.WorkerEndpoint {
	names := make([]string, 0, len(c.Workers))
	for name := range c.Workers {
		names = append(names, name)
	}
	sort.Strings(names)

	endpoints := make([]models.WorkerEndpoint, 0, len(names))
	for _, name := range names {
		w := c.Workers[name]
		endpoints = append(endpoints, models.WorkerEndpoint{
			Name:        name,
			URL:         w.URL,
			Description: w.Description,
			Capability:  w.Capability,
			Timeout:     w.Timeout,
			Healthy:     true,
		})
	}
	return endpoints
}

// Validate checks for settings that would make orchestration impossible.
func (c *Config) Validate() error {
	for name, w := range c.Workers {
		if w.URL == "" {
			return fmt.Errorf("worker %s: url is required", name)
		}
	}
	if c.Orchestration.TurnDeadline <= 0 {
		return fmt.Errorf("orchestration.turn_deadline must be positive")
	}
	if c.Orchestration.PollInitial <= 0 || c.Orchestration.PollMax < c.Orchestration.PollInitial {
		return fmt.Errorf("orchestration poll bounds are invalid: initial=%s max=%s",
			c.Orchestration.PollInitial, c.Orchestration.PollMax)
	}
	switch c.Sessions.Store {
	case "sqlite", "memory":
	default:
		return fmt.Errorf("sessions.store must be sqlite or memory, got %q", c.Sessions.Store)
	}
	switch c.Planner.Kind {
	case "rules", "anthropic":
	default:
		return fmt.Errorf("planner.kind must be rules or anthropic, got %q", c.Planner.Kind)
	}
	return nil
}

// Load loads configuration from XDG paths, project overrides, and environment variables.
// Precedence (highest to lowest):
// 1. Environment variables (HOSTAGENT_*, ANTHROPIC_API_KEY)
// 2. Project config (.hostagent.yaml in current directory or parent)
// 3. User config (~/.config/hostagent/config.yaml)
// 4. Built-in defaults
func Load() (*Config, error) {
	v := viper.New()

	setDefaults(v)

	userConfigDir := getUserConfigDir()
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(userConfigDir)

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("reading user config: %w", err)
		}
	}

	projectConfig := findProjectConfig()
	if projectConfig != "" {
		projectViper := viper.New()
		projectViper.SetConfigFile(projectConfig)
		if err := projectViper.ReadInConfig(); err == nil {
			if err := v.MergeConfigMap(projectViper.AllSettings()); err != nil {
				return nil, fmt.Errorf("merging project config: %w", err)
			}
		}
	}

	bindEnv(v)

	return unmarshal(v)
}

// LoadFromPath loads configuration from a specific path (for testing and reloads).
func LoadFromPath(path string) (*Config, error) {
	v := viper.New()

	setDefaults(v)

	v.SetConfigFile(path)
	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("reading config from %s: %w", path, err)
	}

	return unmarshal(v)
}

func unmarshal(v *viper.Viper) (*Config, error) {
	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unmarshaling config: %w", err)
	}

	cfg.Anthropic.APIKey = expandEnv(cfg.Anthropic.APIKey)
	for name, w := range cfg.Workers {
		w.URL = expandEnv(w.URL)
		cfg.Workers[name] = w
	}

	return cfg, nil
}

func bindEnv(v *viper.Viper) {
	v.SetEnvPrefix("HOSTAGENT")
	v.AutomaticEnv()

	v.BindEnv("anthropic.api_key", "ANTHROPIC_API_KEY")
	v.BindEnv("server.addr", "HOSTAGENT_ADDR")
	v.BindEnv("sessions.path", "HOSTAGENT_DB")
	v.BindEnv("workers.notion_agent.url", "NOTION_AGENT_A2A_URL")
	v.BindEnv("workers.elevenlabs_agent.url", "ELEVENLABS_AGENT_A2A_URL")
}

// Save writes the current configuration to the user config file.
func Save(cfg *Config) error {
	userConfigDir := getUserConfigDir()
	if err := os.MkdirAll(userConfigDir, 0700); err != nil {
		return fmt.Errorf("creating config directory: %w", err)
	}

	configPath := filepath.Join(userConfigDir, "config.yaml")

	v := viper.New()
	v.SetConfigFile(configPath)

	v.Set("server.addr", cfg.Server.Addr)
	v.Set("server.public_url", cfg.Server.PublicURL)
	for name, w := range cfg.Workers {
		v.Set("workers."+name+".url", w.URL)
		v.Set("workers."+name+".description", w.Description)
		v.Set("workers."+name+".capability", w.Capability)
		if w.Timeout > 0 {
			v.Set("workers."+name+".timeout", w.Timeout.String())
		}
	}
	v.Set("orchestration.turn_deadline", cfg.Orchestration.TurnDeadline.String())
	v.Set("orchestration.task_timeout", cfg.Orchestration.TaskTimeout.String())
	v.Set("orchestration.poll_initial", cfg.Orchestration.PollInitial.String())
	v.Set("orchestration.poll_max", cfg.Orchestration.PollMax.String())
	v.Set("orchestration.poll_multiplier", cfg.Orchestration.PollMultiplier)
	v.Set("orchestration.probe_retries", cfg.Orchestration.ProbeRetries)
	v.Set("orchestration.cancel_on_timeout", cfg.Orchestration.CancelOnTimeout)
	v.Set("orchestration.history_turns", cfg.Orchestration.HistoryTurns)
	v.Set("transport.request_timeout", cfg.Transport.RequestTimeout.String())
	v.Set("transport.max_attempts", cfg.Transport.MaxAttempts)
	v.Set("transport.initial_backoff", cfg.Transport.InitialBackoff.String())
	v.Set("transport.max_backoff", cfg.Transport.MaxBackoff.String())
	v.Set("sessions.store", cfg.Sessions.Store)
	v.Set("sessions.driver", cfg.Sessions.Driver)
	v.Set("sessions.path", cfg.Sessions.Path)
	v.Set("sessions.idle_ttl", cfg.Sessions.IdleTTL.String())
	v.Set("sessions.purge_interval", cfg.Sessions.PurgeInterval.String())
	v.Set("planner.kind", cfg.Planner.Kind)
	v.Set("planner.rules_file", cfg.Planner.RulesFile)
	v.Set("anthropic.api_key", cfg.Anthropic.APIKey)
	v.Set("anthropic.model", cfg.Anthropic.Model)
	v.Set("anthropic.use_bedrock", cfg.Anthropic.UseBedrock)
	v.Set("anthropic.aws_region", cfg.Anthropic.AWSRegion)
	v.Set("anthropic.aws_profile", cfg.Anthropic.AWSProfile)
	v.Set("logging.debug_file", cfg.Logging.DebugFile)

	return v.WriteConfig()
}

// GetUserConfigPath returns the path to the user config file.
func GetUserConfigPath() string {
	return filepath.Join(getUserConfigDir(), "config.yaml")
}

// GetProjectConfigPath returns the path to the project config file if it exists.
func GetProjectConfigPath() string {
	return findProjectConfig()
}

// ActiveConfigPath returns the highest-precedence config file that exists, or "".
func ActiveConfigPath() string {
	if p := findProjectConfig(); p != "" {
		return p
	}
	if _, err := os.Stat(GetUserConfigPath()); err == nil {
		return GetUserConfigPath()
	}
	return ""
}

// DefaultDBPath returns the session database path under the XDG data directory.
func DefaultDBPath() string {
	dataDir := os.Getenv("XDG_DATA_HOME")
	if dataDir == "" {
		home, _ := os.UserHomeDir()
		dataDir = filepath.Join(home, ".local", "share")
	}
	return filepath.Join(dataDir, "hostagent", "sessions.db")
}

// setDefaults configures default values.
func setDefaults(v *viper.Viper) {
	v.SetDefault("server.addr", ":8001")
	v.SetDefault("server.public_url", "")

	v.SetDefault("workers.notion_agent.url", "http://localhost:8002")
	v.SetDefault("workers.notion_agent.description",
		"Searches and retrieves information from Notion pages, databases, and blocks.")
	v.SetDefault("workers.notion_agent.capability", "search your Notion workspace")
	v.SetDefault("workers.elevenlabs_agent.url", "http://localhost:8003")
	v.SetDefault("workers.elevenlabs_agent.description",
		"Converts text to natural-sounding speech and returns an audio URL.")
	v.SetDefault("workers.elevenlabs_agent.capability", "convert it to audio")

	v.SetDefault("orchestration.turn_deadline", "90s")
	v.SetDefault("orchestration.task_timeout", "60s")
	v.SetDefault("orchestration.poll_initial", "500ms")
	v.SetDefault("orchestration.poll_max", "5s")
	v.SetDefault("orchestration.poll_multiplier", 2.0)
	v.SetDefault("orchestration.probe_retries", 3)
	v.SetDefault("orchestration.cancel_on_timeout", true)
	v.SetDefault("orchestration.history_turns", 10)

	v.SetDefault("transport.request_timeout", "30s")
	v.SetDefault("transport.max_attempts", 3)
	v.SetDefault("transport.initial_backoff", "200ms")
	v.SetDefault("transport.max_backoff", "2s")

	v.SetDefault("sessions.store", "sqlite")
	v.SetDefault("sessions.driver", "sqlite")
	v.SetDefault("sessions.path", "")
	v.SetDefault("sessions.idle_ttl", "24h")
	v.SetDefault("sessions.purge_interval", "10m")

	v.SetDefault("planner.kind", "rules")
	v.SetDefault("planner.rules_file", "")

	v.SetDefault("anthropic.api_key", "")
	v.SetDefault("anthropic.model", "")
	v.SetDefault("anthropic.use_bedrock", false)

	v.SetDefault("logging.debug_file", "")
}

// getUserConfigDir returns the XDG config directory for hostagent.
func getUserConfigDir() string {
	if xdgConfig := os.Getenv("XDG_CONFIG_HOME"); xdgConfig != "" {
		return filepath.Join(xdgConfig, "hostagent")
	}

	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(".", ".config", "hostagent")
	}
	return filepath.Join(home, ".config", "hostagent")
}

// findProjectConfig searches for .hostagent.yaml in the current directory and parents.
func findProjectConfig() string {
	cwd, err := os.Getwd()
	if err != nil {
		return ""
	}

	for {
		configPath := filepath.Join(cwd, ".hostagent.yaml")
		if _, err := os.Stat(configPath); err == nil {
			return configPath
		}

		parent := filepath.Dir(cwd)
		if parent == cwd {
			break
		}
		cwd = parent
	}

	return ""
}

// expandEnv expands ${VAR} references in a string.
func expandEnv(s string) string {
	return os.ExpandEnv(s)
}

// Default returns a Config with default values.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Addr: ":8001",
		},
		Workers: map[string]WorkerConfig{
			"notion_agent": {
				URL:         "http://localhost:8002",
				Description: "Searches and retrieves information from Notion pages, databases, and blocks.",
				Capability:  "search your Notion workspace",
			},
			"elevenlabs_agent": {
				URL:         "http://localhost:8003",
				Description: "Converts text to natural-sounding speech and returns an audio URL.",
				Capability:  "convert it to audio",
			},
		},
		Orchestration: OrchestrationConfig{
			TurnDeadline:    90 * time.Second,
			TaskTimeout:     60 * time.Second,
			PollInitial:     500 * time.Millisecond,
			PollMax:         5 * time.Second,
			PollMultiplier:  2.0,
			ProbeRetries:    3,
			CancelOnTimeout: true,
			HistoryTurns:    10,
		},
		Transport: TransportConfig{
			RequestTimeout: 30 * time.Second,
			MaxAttempts:    3,
			InitialBackoff: 200 * time.Millisecond,
			MaxBackoff:     2 * time.Second,
		},
		Sessions: SessionsConfig{
			Store:         "sqlite",
			Driver:        "sqlite",
			IdleTTL:       24 * time.Hour,
			PurgeInterval: 10 * time.Minute,
		},
		Planner: PlannerConfig{
			Kind: "rules",
		},
	}
}
