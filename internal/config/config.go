package config

import (
	"fmt"
	"strings"
)

type Config struct {
	Server  ServerConfig
	Gateway GatewayConfig
	Storage StorageConfig
	Turn    TurnConfig
	Log     LogConfig
}

type ServerConfig struct {
	Port    int
	MCPPort int
	// APIToken guards the management API when set; empty disables auth.
	APIToken string
}

type GatewayConfig struct {
	BaseURL         string
	APIKey          string
	Model           string
	Temperature     float64
	TemperatureSet  bool
	MaxOutputTokens int
}

type StorageConfig struct {
	DataDir string
}

type TurnConfig struct {
	MaxToolRounds    int
	MaxContextTokens int
}

type LogConfig struct {
	Level string
}

func defaults() Config {
	return Config{
		Server: ServerConfig{
			Port:    8080,
			MCPPort: 8081,
		},
		Gateway: GatewayConfig{
			BaseURL: "https://openrouter.ai/api/v1",
			Model:   "anthropic/claude-sonnet-4",
		},
		Storage: StorageConfig{
			DataDir: defaultDataDir(),
		},
		Turn: TurnConfig{
			MaxToolRounds:    4,
			MaxContextTokens: 6000,
		},
		Log: LogConfig{
			Level: "info",
		},
	}
}

// Load reads configuration from the platform-native backend, environment
// variables, and platform secret store.
//
// On macOS the backend is UserDefaults (domain: com.resummate.app) and the
// API key falls back to macOS Keychain. On Linux the backend is a JSON
// file at $XDG_CONFIG_HOME/resummate/config.json and the key falls back to
// a secrets file under $XDG_DATA_HOME/resummate.
//
// Environment variables (RESUMMATE_*) override backend values on all
// platforms.
func Load() (Config, error) {
	return loadWith(newPlatformBackend(), keychainReader{})
}

// keychain abstracts secret-store access for testing.
type keychain interface {
	Get(service, account string) (string, error)
}

func loadWith(b ConfigBackend, kc keychain) (Config, error) {
	cfg := defaults()

	if err := applyBackend(&cfg, b); err != nil {
		return Config{}, err
	}

	applyEnvOverrides(&cfg)

	if cfg.Gateway.APIKey == "" {
		if key, err := kc.Get("resummate", "api_key"); err == nil && key != "" {
			cfg.Gateway.APIKey = key
		}
	}

	if cfg.Gateway.APIKey == "" {
		msg := "missing required config: gateway API key. " +
			"Set it via environment variable RESUMMATE_API_KEY" +
			apiKeyHint()
		return Config{}, fmt.Errorf("%s", msg)
	}

	return cfg, nil
}

// keychainReader reads from the platform secret store.
type keychainReader struct{}

func (keychainReader) Get(service, account string) (string, error) {
	out, err := keychainGet(service, account)
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(string(out)), nil
}
