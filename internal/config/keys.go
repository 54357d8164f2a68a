package config

import (
	"fmt"
	"os"
	"strconv"
)

type keyType int

const (
	kString keyType = iota
	kInt
	kFloat
)

type keySpec struct {
	key     string
	typ     keyType
	env     string
	secret  bool
	apply   func(cfg *Config, v any)
	extract func(cfg Config) any
}

var specs = []keySpec{
	{
		key: "server.port", typ: kInt, env: "RESUMMATE_SERVER_PORT",
		apply:   func(cfg *Config, v any) { cfg.Server.Port = v.(int) },
		extract: func(cfg Config) any { return cfg.Server.Port },
	},
	{
		key: "server.mcp_port", typ: kInt, env: "RESUMMATE_SERVER_MCP_PORT",
		apply:   func(cfg *Config, v any) { cfg.Server.MCPPort = v.(int) },
		extract: func(cfg Config) any { return cfg.Server.MCPPort },
	},
	{
		key: "server.api_token", typ: kString, env: "RESUMMATE_API_TOKEN",
		secret:  true,
		apply:   func(cfg *Config, v any) { cfg.Server.APIToken = v.(string) },
		extract: func(cfg Config) any { return cfg.Server.APIToken },
	},
	{
		key: "gateway.base_url", typ: kString, env: "RESUMMATE_GATEWAY_BASE_URL",
		apply:   func(cfg *Config, v any) { cfg.Gateway.BaseURL = v.(string) },
		extract: func(cfg Config) any { return cfg.Gateway.BaseURL },
	},
	{
		key: "gateway.model", typ: kString, env: "RESUMMATE_GATEWAY_MODEL",
		apply:   func(cfg *Config, v any) { cfg.Gateway.Model = v.(string) },
		extract: func(cfg Config) any { return cfg.Gateway.Model },
	},
	{
		key: "gateway.temperature", typ: kFloat, env: "RESUMMATE_GATEWAY_TEMPERATURE",
		apply: func(cfg *Config, v any) {
			cfg.Gateway.Temperature = v.(float64)
			cfg.Gateway.TemperatureSet = true
		},
		extract: func(cfg Config) any { return cfg.Gateway.Temperature },
	},
	{
		key: "gateway.max_output_tokens", typ: kInt, env: "RESUMMATE_GATEWAY_MAX_OUTPUT_TOKENS",
		apply:   func(cfg *Config, v any) { cfg.Gateway.MaxOutputTokens = v.(int) },
		extract: func(cfg Config) any { return cfg.Gateway.MaxOutputTokens },
	},
	{
		key: "gateway.api_key", typ: kString, env: "RESUMMATE_API_KEY",
		secret:  true,
		apply:   func(cfg *Config, v any) { cfg.Gateway.APIKey = v.(string) },
		extract: func(cfg Config) any { return cfg.Gateway.APIKey },
	},
	{
		key: "storage.data_dir", typ: kString, env: "RESUMMATE_STORAGE_DATA_DIR",
		apply:   func(cfg *Config, v any) { cfg.Storage.DataDir = v.(string) },
		extract: func(cfg Config) any { return cfg.Storage.DataDir },
	},
	{
		key: "turn.max_tool_rounds", typ: kInt, env: "RESUMMATE_TURN_MAX_TOOL_ROUNDS",
		apply:   func(cfg *Config, v any) { cfg.Turn.MaxToolRounds = v.(int) },
		extract: func(cfg Config) any { return cfg.Turn.MaxToolRounds },
	},
	{
		key: "turn.max_context_tokens", typ: kInt, env: "RESUMMATE_TURN_MAX_CONTEXT_TOKENS",
		apply:   func(cfg *Config, v any) { cfg.Turn.MaxContextTokens = v.(int) },
		extract: func(cfg Config) any { return cfg.Turn.MaxContextTokens },
	},
	{
		key: "log.level", typ: kString, env: "RESUMMATE_LOG_LEVEL",
		apply:   func(cfg *Config, v any) { cfg.Log.Level = v.(string) },
		extract: func(cfg Config) any { return cfg.Log.Level },
	},
}

func applyBackend(cfg *Config, b ConfigBackend) error {
	for _, s := range specs {
		if s.secret {
			continue
		}
		switch s.typ {
		case kString:
			v, ok, err := b.GetString(s.key)
			if err != nil {
				return fmt.Errorf("reading %s: %w", s.key, err)
			}
			if ok {
				s.apply(cfg, v)
			}
		case kInt:
			v, ok, err := b.GetInt(s.key)
			if err != nil {
				return fmt.Errorf("reading %s: %w", s.key, err)
			}
			if ok {
				s.apply(cfg, v)
			}
		case kFloat:
			v, ok, err := b.GetString(s.key)
			if err != nil {
				return fmt.Errorf("reading %s: %w", s.key, err)
			}
			if ok && v != "" {
				if f, err := strconv.ParseFloat(v, 64); err == nil {
					s.apply(cfg, f)
				} else {
					fmt.Fprintf(os.Stderr, "[WARN] could not parse float from config key %s=%q: %v. Using default value.\n", s.key, v, err)
				}
			}
		}
	}
	return nil
}

func applyEnvOverrides(cfg *Config) {
	for _, s := range specs {
		if s.env == "" {
			continue
		}
		raw := os.Getenv(s.env)
		if raw == "" {
			continue
		}
		switch s.typ {
		case kString:
			s.apply(cfg, raw)
		case kInt:
			if i, err := strconv.Atoi(raw); err == nil {
				s.apply(cfg, i)
			} else {
				fmt.Fprintf(os.Stderr, "[WARN] could not parse integer from env var %s=%q: %v. Using default value.\n", s.env, raw, err)
			}
		case kFloat:
			if f, err := strconv.ParseFloat(raw, 64); err == nil {
				s.apply(cfg, f)
			} else {
				fmt.Fprintf(os.Stderr, "[WARN] could not parse float from env var %s=%q: %v. Using default value.\n", s.env, raw, err)
			}
		}
	}
}
