package config

import (
	"errors"
	"os"
	"strings"
)

// ErrNoAPIKey is returned when no API key is configured.
var ErrNoAPIKey = errors.New("no Anthropic API key configured")

// KeySource represents where an API key was loaded from.
type KeySource string

const (
	KeySourceEnv     KeySource = "environment"
	KeySourceConfig  KeySource = "config_file"
	KeySourceBedrock KeySource = "bedrock"
	KeySourceNone    KeySource = "none"
)

// ResolveAPIKey returns the Anthropic API key and where it came from.
// ANTHROPIC_API_KEY wins over the config file. Unexpanded ${VAR}
// references count as unset.
func ResolveAPIKey(cfg *Config) (string, KeySource) {
	if key := os.Getenv("ANTHROPIC_API_KEY"); key != "" {
		return key, KeySourceEnv
	}
	if cfg == nil {
		return "", KeySourceNone
	}
	if key := os.ExpandEnv(cfg.Anthropic.APIKey); key != "" && !strings.HasPrefix(key, "${") {
		return key, KeySourceConfig
	}
	if cfg.Anthropic.UseBedrock {
		return "", KeySourceBedrock
	}
	return "", KeySourceNone
}

// RequireAPIKey returns the API key, or ErrNoAPIKey when the planner cannot
// authenticate. Bedrock uses AWS credentials and needs no key.
func RequireAPIKey(cfg *Config) (string, error) {
	key, src := ResolveAPIKey(cfg)
	switch src {
	case KeySourceEnv, KeySourceConfig, KeySourceBedrock:
		return key, nil
	default:
		return "", ErrNoAPIKey
	}
}

// MaskAPIKey returns a display-safe version of the key: the "sk-ant-"
// prefix and the last four characters.
func MaskAPIKey(key string) string {
	switch {
	case key == "":
		return "(not set)"
	case len(key) <= 15:
		return "***"
	default:
		return key[:7] + "..." + key[len(key)-4:]
	}
}
