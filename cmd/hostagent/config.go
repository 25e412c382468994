package main

import (
	"fmt"
	"os"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/parthagni22/adk-mcp-agent-lab/internal/config"
)

var configCmd = &cobra.Command{
	Use:   "config [key] [value]",
	Short: "Manage configuration",
	Long: `View or modify hostagent configuration.

Without arguments, displays current configuration.
With one argument (key), displays the value for that key.
With two arguments (key value), sets the configuration value.

Worker settings use workers.<name>.<field>, e.g.
  hostagent config workers.notion_agent.url http://notion:8002

Configuration is stored at ~/.config/hostagent/config.yaml
Project-specific overrides can be placed in .hostagent.yaml`,
	Args: cobra.MaximumNArgs(2),
	Run: func(cmd *cobra.Command, args []string) {
		cfg, err := config.Load()
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error loading config: %v\n", err)
			os.Exit(1)
		}

		switch len(args) {
		case 0:
			displayAllConfig(cfg)
		case 1:
			displayConfigKey(cfg, args[0])
		default:
			setConfigKey(cfg, args[0], args[1])
		}
	},
}

// configKeys lists the scalar keys in display order.
var configKeys = []string{
	"server.addr",
	"server.public_url",
	"orchestration.turn_deadline",
	"orchestration.task_timeout",
	"orchestration.poll_initial",
	"orchestration.poll_max",
	"orchestration.poll_multiplier",
	"orchestration.probe_retries",
	"orchestration.cancel_on_timeout",
	"orchestration.history_turns",
	"transport.request_timeout",
	"transport.max_attempts",
	"sessions.store",
	"sessions.driver",
	"sessions.path",
	"sessions.idle_ttl",
	"planner.kind",
	"planner.rules_file",
	"anthropic.api_key",
	"anthropic.model",
	"anthropic.use_bedrock",
	"logging.debug_file",
}

// displayAllConfig prints all configuration values.
func displayAllConfig(cfg *config.Config) {
	if path := config.ActiveConfigPath(); path != "" {
		fmt.Printf("# %s\n", path)
	}
	for _, key := range configKeys {
		value, _ := getConfigValue(cfg, key)
		fmt.Printf("%s: %s\n", key, value)
	}

	names := make([]string, 0, len(cfg.Workers))
	for name := range cfg.Workers {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		w := cfg.Workers[name]
		fmt.Printf("workers.%s.url: %s\n", name, w.URL)
		if w.Capability != "" {
			fmt.Printf("workers.%s.capability: %s\n", name, w.Capability)
		}
		if w.Timeout > 0 {
			fmt.Printf("workers.%s.timeout: %s\n", name, w.Timeout)
		}
	}
}

// displayConfigKey prints a single configuration value.
func displayConfigKey(cfg *config.Config, key string) {
	value, err := getConfigValue(cfg, key)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	fmt.Println(value)
}

// setConfigKey sets a configuration value and saves the config.
func setConfigKey(cfg *config.Config, key, value string) {
	if err := setConfigValue(cfg, key, value); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}

	if err := config.Save(cfg); err != nil {
		fmt.Fprintf(os.Stderr, "Error saving config: %v\n", err)
		os.Exit(1)
	}

	if strings.EqualFold(key, "anthropic.api_key") {
		value = config.MaskAPIKey(value)
	}
	fmt.Printf("Set %s = %s\n", key, value)
}

// getConfigValue retrieves a configuration value by dot-notation key.
func getConfigValue(cfg *config.Config, key string) (string, error) {
	key = strings.ToLower(key)
	if name, field, ok := workerKey(key); ok {
		w, exists := cfg.Workers[name]
		if !exists {
			return "", fmt.Errorf("no worker named %s", name)
		}
		switch field {
		case "url":
			return w.URL, nil
		case "description":
			return w.Description, nil
		case "capability":
			return w.Capability, nil
		case "timeout":
			return w.Timeout.String(), nil
		}
		return "", fmt.Errorf("unknown worker field: %s", field)
	}

	switch key {
	case "server.addr":
		return cfg.Server.Addr, nil
	case "server.public_url":
		return cfg.Server.PublicURL, nil
	case "orchestration.turn_deadline":
		return cfg.Orchestration.TurnDeadline.String(), nil
	case "orchestration.task_timeout":
		return cfg.Orchestration.TaskTimeout.String(), nil
	case "orchestration.poll_initial":
		return cfg.Orchestration.PollInitial.String(), nil
	case "orchestration.poll_max":
		return cfg.Orchestration.PollMax.String(), nil
	case "orchestration.poll_multiplier":
		return strconv.FormatFloat(cfg.Orchestration.PollMultiplier, 'g', -1, 64), nil
	case "orchestration.probe_retries":
		return strconv.Itoa(cfg.Orchestration.ProbeRetries), nil
	case "orchestration.cancel_on_timeout":
		return strconv.FormatBool(cfg.Orchestration.CancelOnTimeout), nil
	case "orchestration.history_turns":
		return strconv.Itoa(cfg.Orchestration.HistoryTurns), nil
	case "transport.request_timeout":
		return cfg.Transport.RequestTimeout.String(), nil
	case "transport.max_attempts":
		return strconv.Itoa(cfg.Transport.MaxAttempts), nil
	case "sessions.store":
		return cfg.Sessions.Store, nil
	case "sessions.driver":
		return cfg.Sessions.Driver, nil
	case "sessions.path":
		if cfg.Sessions.Path == "" {
			return config.DefaultDBPath(), nil
		}
		return cfg.Sessions.Path, nil
	case "sessions.idle_ttl":
		return cfg.Sessions.IdleTTL.String(), nil
	case "planner.kind":
		return cfg.Planner.Kind, nil
	case "planner.rules_file":
		return cfg.Planner.RulesFile, nil
	case "anthropic.api_key":
		key, src := config.ResolveAPIKey(cfg)
		if key == "" {
			return "(not set)", nil
		}
		return fmt.Sprintf("%s (%s)", config.MaskAPIKey(key), src), nil
	case "anthropic.model":
		return cfg.Anthropic.Model, nil
	case "anthropic.use_bedrock":
		return strconv.FormatBool(cfg.Anthropic.UseBedrock), nil
	case "logging.debug_file":
		return cfg.Logging.DebugFile, nil
	default:
		return "", fmt.Errorf("unknown configuration key: %s", key)
	}
}

// setConfigValue sets a configuration value by dot-notation key.
func setConfigValue(cfg *config.Config, key, value string) error {
	key = strings.ToLower(key)
	if name, field, ok := workerKey(key); ok {
		if cfg.Workers == nil {
			cfg.Workers = make(map[string]config.WorkerConfig)
		}
		w := cfg.Workers[name]
		switch field {
		case "url":
			w.URL = value
		case "description":
			w.Description = value
		case "capability":
			w.Capability = value
		case "timeout":
			d, err := time.ParseDuration(value)
			if err != nil {
				return fmt.Errorf("invalid duration for %s: %w", key, err)
			}
			w.Timeout = d
		default:
			return fmt.Errorf("unknown worker field: %s", field)
		}
		cfg.Workers[name] = w
		return nil
	}

	switch key {
	case "server.addr":
		cfg.Server.Addr = value
	case "server.public_url":
		cfg.Server.PublicURL = value
	case "orchestration.turn_deadline":
		return setDuration(&cfg.Orchestration.TurnDeadline, key, value)
	case "orchestration.task_timeout":
		return setDuration(&cfg.Orchestration.TaskTimeout, key, value)
	case "orchestration.poll_initial":
		return setDuration(&cfg.Orchestration.PollInitial, key, value)
	case "orchestration.poll_max":
		return setDuration(&cfg.Orchestration.PollMax, key, value)
	case "orchestration.poll_multiplier":
		f, err := strconv.ParseFloat(value, 64)
		if err != nil || f < 1 {
			return fmt.Errorf("invalid value for %s: must be a number >= 1", key)
		}
		cfg.Orchestration.PollMultiplier = f
	case "orchestration.probe_retries":
		return setInt(&cfg.Orchestration.ProbeRetries, key, value)
	case "orchestration.cancel_on_timeout":
		b, err := strconv.ParseBool(value)
		if err != nil {
			return fmt.Errorf("invalid boolean for %s: %w", key, err)
		}
		cfg.Orchestration.CancelOnTimeout = b
	case "orchestration.history_turns":
		return setInt(&cfg.Orchestration.HistoryTurns, key, value)
	case "transport.request_timeout":
		return setDuration(&cfg.Transport.RequestTimeout, key, value)
	case "transport.max_attempts":
		return setInt(&cfg.Transport.MaxAttempts, key, value)
	case "sessions.store":
		cfg.Sessions.Store = value
	case "sessions.driver":
		cfg.Sessions.Driver = value
	case "sessions.path":
		cfg.Sessions.Path = value
	case "sessions.idle_ttl":
		return setDuration(&cfg.Sessions.IdleTTL, key, value)
	case "planner.kind":
		cfg.Planner.Kind = value
	case "planner.rules_file":
		cfg.Planner.RulesFile = value
	case "anthropic.api_key":
		cfg.Anthropic.APIKey = value
	case "anthropic.model":
		cfg.Anthropic.Model = value
	case "anthropic.use_bedrock":
		b, err := strconv.ParseBool(value)
		if err != nil {
			return fmt.Errorf("invalid boolean for %s: %w", key, err)
		}
		cfg.Anthropic.UseBedrock = b
	case "logging.debug_file":
		cfg.Logging.DebugFile = value
	default:
		return fmt.Errorf("unknown configuration key: %s", key)
	}
	return nil
}

// workerKey splits workers.<name>.<field>.
func workerKey(key string) (name, field string, ok bool) {
	rest, found := strings.CutPrefix(key, "workers.")
	if !found {
		return "", "", false
	}
	i := strings.LastIndex(rest, ".")
	if i <= 0 || i == len(rest)-1 {
		return "", "", false
	}
	return rest[:i], rest[i+1:], true
}

func setDuration(dst *time.Duration, key, value string) error {
	d, err := time.ParseDuration(value)
	if err != nil {
		return fmt.Errorf("invalid duration for %s: %w", key, err)
	}
	*dst = d
	return nil
}

func setInt(dst *int, key, value string) error {
	n, err := strconv.Atoi(value)
	if err != nil {
		return fmt.Errorf("invalid value for %s: %w", key, err)
	}
	*dst = n
	return nil
}
