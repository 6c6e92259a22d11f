package config

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

var envVarPattern = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)\}`)

// Load reads and parses configuration from a file or a directory holding
// config.yaml. Values not present in the file keep their Defaults().
func Load(configPath string) (*Config, error) {
	absPath, err := resolveConfigFile(configPath)
	if err != nil {
		return nil, err
	}

	data, err := os.ReadFile(absPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read file: %w", err)
	}

	if err := verifyConfigHash(absPath); err != nil {
		return nil, err
	}

	if err := loadDotEnv(filepath.Dir(absPath)); err != nil {
		return nil, err
	}

	cfg := Defaults()
	if err := yaml.Unmarshal([]byte(interpolateEnv(string(data))), cfg); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}

	applyConfigDefaults(cfg)

	if err := validate(cfg); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// loadDotEnv exports a .env file next to the config into the process
// environment before ${VAR} interpolation. Variables already set win.
func loadDotEnv(dir string) error {
	path := filepath.Join(dir, ".env")
	if _, err := os.Stat(path); err != nil {
		return nil
	}
	if err := godotenv.Load(path); err != nil {
		return fmt.Errorf("failed to load %s: %w", path, err)
	}
	return nil
}

func resolveConfigFile(configPath string) (string, error) {
	absPath, err := filepath.Abs(configPath)
	if err != nil {
		return "", fmt.Errorf("failed to resolve config path %q: %w", configPath, err)
	}

	info, err := os.Stat(absPath)
	if err != nil {
		return "", fmt.Errorf("config file not found: %s\n"+
			"Hint: Check the path or run with --config flag", absPath)
	}

	if info.IsDir() {
		absPath = filepath.Join(absPath, "config.yaml")
		if _, err := os.Stat(absPath); err != nil {
			return "", fmt.Errorf("directory provided but config.yaml not found: %s", absPath)
		}
	}
	return absPath, nil
}

// DiscoverConfigDir finds the config location by checking standard locations.
// Priority order: $HACKSCORE_CONFIG, ~/.config/hackscore, /etc/hackscore, ./config.yaml
func DiscoverConfigDir() (string, error) {
	if dir := os.Getenv("HACKSCORE_CONFIG"); dir != "" {
		if _, err := os.Stat(dir); err == nil {
			return dir, nil
		}
	}

	if homeDir, err := os.UserHomeDir(); err == nil {
		userConfigDir := filepath.Join(homeDir, ".config", "hackscore")
		if _, err := os.Stat(userConfigDir); err == nil {
			return userConfigDir, nil
		}
	}

	systemConfigDir := "/etc/hackscore"
	if _, err := os.Stat(systemConfigDir); err == nil {
		return systemConfigDir, nil
	}

	if _, err := os.Stat("./config.yaml"); err == nil {
		return "./config.yaml", nil
	}

	return "", fmt.Errorf("no config found (checked: $HACKSCORE_CONFIG, ~/.config/hackscore, /etc/hackscore, ./config.yaml)")
}

// applyConfigDefaults fills values an explicit zero in the file would otherwise
// leave unusable.
func applyConfigDefaults(cfg *Config) {
	defaults := Defaults()

	if cfg.Service.Name == "" {
		cfg.Service.Name = defaults.Service.Name
	}
	if cfg.Service.LogLevel == "" {
		cfg.Service.LogLevel = defaults.Service.LogLevel
	}
	if cfg.Service.LogFormat == "" {
		cfg.Service.LogFormat = defaults.Service.LogFormat
	}
	if cfg.Service.HousekeepingInterval == 0 {
		cfg.Service.HousekeepingInterval = defaults.Service.HousekeepingInterval
	}
	if cfg.State.WorkspaceRetention == 0 {
		cfg.State.WorkspaceRetention = defaults.State.WorkspaceRetention
	}
	if cfg.Queue.PollInterval == 0 {
		cfg.Queue.PollInterval = defaults.Queue.PollInterval
	}
	if cfg.Queue.MaxConcurrent == 0 {
		cfg.Queue.MaxConcurrent = defaults.Queue.MaxConcurrent
	}
	if cfg.Scoring.RejudgeAllScope == "" {
		cfg.Scoring.RejudgeAllScope = defaults.Scoring.RejudgeAllScope
	}
	if cfg.Sandbox.GracePeriod == 0 {
		cfg.Sandbox.GracePeriod = defaults.Sandbox.GracePeriod
	}
	if cfg.Fetch.HTTPTimeout == 0 {
		cfg.Fetch.HTTPTimeout = defaults.Fetch.HTTPTimeout
	}
	if cfg.API.Listen == "" {
		cfg.API.Listen = defaults.API.Listen
	}
	if cfg.Webhooks != nil {
		if cfg.Webhooks.Path == "" {
			cfg.Webhooks.Path = "/hooks/submission-finalized"
		}
		if cfg.Webhooks.SignatureHeader == "" {
			cfg.Webhooks.SignatureHeader = "X-Hackscore-Signature"
		}
	}
}

// interpolateEnv replaces ${VAR} with environment variable values.
// Undefined variables are left as-is (not expanded).
func interpolateEnv(input string) string {
	return envVarPattern.ReplaceAllStringFunc(input, func(match string) string {
		varName := envVarPattern.FindStringSubmatch(match)[1]
		if value, exists := os.LookupEnv(varName); exists {
			return value
		}
		return match
	})
}

// validate performs basic validation on the configuration.
func validate(cfg *Config) error {
	validLogLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLogLevels[strings.ToLower(cfg.Service.LogLevel)] {
		return fmt.Errorf("service.log_level must be one of: debug, info, warn, error (got %q)", cfg.Service.LogLevel)
	}
	if cfg.Service.LogFormat != "json" && cfg.Service.LogFormat != "text" {
		return fmt.Errorf("service.log_format must be json or text (got %q)", cfg.Service.LogFormat)
	}

	if cfg.State.Path == "" {
		return fmt.Errorf("state.path is required")
	}

	if cfg.Queue.MaxConcurrent < 1 {
		return fmt.Errorf("queue.max_concurrent must be at least 1")
	}
	if cfg.Queue.PollInterval < 100*time.Millisecond {
		return fmt.Errorf("queue.poll_interval must be at least 100ms")
	}
	if cfg.Queue.JobCeiling < 0 {
		return fmt.Errorf("queue.job_ceiling must not be negative")
	}

	switch cfg.Scoring.RejudgeAllScope {
	case RejudgeScopeGlobal, RejudgeScopeHackathon:
	default:
		return fmt.Errorf("scoring.rejudge_all_scope must be %q or %q (got %q)",
			RejudgeScopeGlobal, RejudgeScopeHackathon, cfg.Scoring.RejudgeAllScope)
	}

	if strings.TrimSpace(cfg.Sandbox.Command) == "" {
		return fmt.Errorf("sandbox.command is required")
	}
	if err := checkUnresolved("sandbox.command", cfg.Sandbox.Command); err != nil {
		return err
	}

	if s3 := cfg.Fetch.S3; s3 != nil {
		if s3.Endpoint == "" {
			return fmt.Errorf("fetch.s3.endpoint is required")
		}
		if err := checkUnresolved("fetch.s3.access_key", s3.AccessKey); err != nil {
			return err
		}
		if err := checkUnresolved("fetch.s3.secret_key", s3.SecretKey); err != nil {
			return err
		}
	}

	if cfg.API.Enabled {
		if err := checkUnresolved("api.auth.api_key", cfg.API.Auth.APIKey); err != nil {
			return err
		}
		if cfg.API.Auth.APIKey == "" && len(cfg.API.Auth.Tokens) == 0 {
			return fmt.Errorf("api.auth requires api_key or tokens when the API is enabled")
		}
		for i, tok := range cfg.API.Auth.Tokens {
			if tok.Token == "" {
				return fmt.Errorf("api.auth.tokens[%d].token is required", i)
			}
			if err := checkUnresolved(fmt.Sprintf("api.auth.tokens[%d].token", i), tok.Token); err != nil {
				return err
			}
			if len(tok.Scopes) == 0 {
				return fmt.Errorf("api.auth.tokens[%d].scopes must be non-empty", i)
			}
		}
	}

	if wh := cfg.Webhooks; wh != nil {
		if wh.Listen == "" {
			return fmt.Errorf("webhooks.listen is required")
		}
		if wh.Secret == "" {
			return fmt.Errorf("webhooks.secret is required")
		}
		if err := checkUnresolved("webhooks.secret", wh.Secret); err != nil {
			return err
		}
	}

	return nil
}

func checkUnresolved(field, value string) error {
	matches := envVarPattern.FindStringSubmatch(value)
	if len(matches) > 1 {
		return fmt.Errorf("%s: environment variable ${%s} is not set", field, matches[1])
	}
	return nil
}

func joinDir(path, name string) string {
	return filepath.Join(filepath.Dir(path), name)
}
