package config

import (
	"os"
	"regexp"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

type Config struct {
	Server   ServerConfig   `koanf:"server"`
	Auth     AuthConfig     `koanf:"auth"`
	Research ResearchConfig `koanf:"research"`
	Chat     ChatConfig     `koanf:"chat"`
	Storage  StorageConfig  `koanf:"storage"`
}

type ServerConfig struct {
	Port int `koanf:"port"`
}

// AuthConfig sources the static user allow-list: inline names, a
// newline-delimited file, or both.
type AuthConfig struct {
	AllowedUsers     []string `koanf:"allowed_users"`
	AllowedUsersFile string   `koanf:"allowed_users_file"`
}

// ResearchConfig configures the deep-research upstream and the resumption
// behavior.
type ResearchConfig struct {
	APIKey  string `koanf:"api_key"`
	BaseURL string `koanf:"base_url"`
	Agent   string `koanf:"agent"`
	// Backoff is the fixed wait between reconnection attempts ("2s").
	// There is deliberately no growth and no retry cap.
	Backoff string `koanf:"backoff"`
	// SubscriberBuffer is the per-listener channel depth before a stalled
	// listener is dropped.
	SubscriberBuffer int `koanf:"subscriber_buffer"`
}

// ChatConfig configures the OpenAI-compatible backend of the chat proxy.
type ChatConfig struct {
	APIKey  string   `koanf:"api_key"`
	BaseURL string   `koanf:"base_url"`
	Models  []string `koanf:"models"`
}

// StorageConfig names the flat-file output directories.
type StorageConfig struct {
	ResearchDir string `koanf:"research_dir"`
	ChatDir     string `koanf:"chat_dir"`
}

// BackoffDuration parses the configured reconnection backoff, falling back
// to the 2 s reference value on absence or garbage.
func (r ResearchConfig) BackoffDuration() time.Duration {
	d, err := time.ParseDuration(r.Backoff)
	if err != nil || d <= 0 {
		return 2 * time.Second
	}
	return d
}

var envVarPattern = regexp.MustCompile(`\$\{([^}]+)\}`)

func Load() (*Config, error) {
	k := koanf.New(".")

	// Try to load from config.yaml file first
	if err := k.Load(file.Provider("config.yaml"), yaml.Parser()); err != nil {
		// File not found is OK, we'll use env vars
		if !os.IsNotExist(err) {
			return nil, err
		}
	}

	// Load environment variables (can override file config)
	if err := k.Load(env.Provider("RELAY_", ".", func(s string) string {
		return strings.Replace(strings.ToLower(strings.TrimPrefix(s, "RELAY_")), "__", ".", -1)
	}), nil); err != nil {
		return nil, err
	}

	// Default values
	if !k.Exists("server.port") {
		k.Set("server.port", 21665) // 'gpt' in base 36
	}
	if !k.Exists("research.backoff") {
		k.Set("research.backoff", "2s")
	}
	if !k.Exists("storage.research_dir") {
		k.Set("storage.research_dir", "research-outputs")
	}
	if !k.Exists("storage.chat_dir") {
		k.Set("storage.chat_dir", "outputs")
	}

	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, err
	}

	// Substitute environment variables in API keys
	cfg.Research.APIKey = substituteEnvVars(cfg.Research.APIKey)
	cfg.Chat.APIKey = substituteEnvVars(cfg.Chat.APIKey)

	return &cfg, nil
}

func substituteEnvVars(s string) string {
	return envVarPattern.ReplaceAllStringFunc(s, func(match string) string {
		// Extract variable name from ${VAR_NAME}
		varName := envVarPattern.FindStringSubmatch(match)[1]
		return os.Getenv(varName)
	})
}
