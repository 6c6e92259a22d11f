package config

import "time"

// Config represents the complete hackscore configuration.
type Config struct {
	Service  ServiceConfig   `yaml:"service"`
	State    StateConfig     `yaml:"state"`
	Queue    QueueConfig     `yaml:"queue"`
	Scoring  ScoringConfig   `yaml:"scoring"`
	Sandbox  SandboxConfig   `yaml:"sandbox"`
	Fetch    FetchConfig     `yaml:"fetch"`
	API      APIConfig       `yaml:"api,omitempty"`
	Webhooks *WebhooksConfig `yaml:"webhooks,omitempty"`
}

// ServiceConfig defines core service settings.
type ServiceConfig struct {
	Name      string `yaml:"name"`
	LogLevel  string `yaml:"log_level"`
	LogFormat string `yaml:"log_format"`
	// HousekeepingInterval controls how often stale run workspaces are reaped.
	HousekeepingInterval time.Duration `yaml:"housekeeping_interval"`
}

// StateConfig defines state storage settings.
type StateConfig struct {
	Path string `yaml:"path"`
	// WorkspaceDir holds per-run staging directories. Defaults to
	// <dir of state.path>/workspaces.
	WorkspaceDir string `yaml:"workspace_dir,omitempty"`
	// WorkspaceRetention is the age after which leftover run workspaces are removed.
	WorkspaceRetention time.Duration `yaml:"workspace_retention"`
}

// QueueConfig defines scoring queue runtime parameters.
type QueueConfig struct {
	MaxConcurrent int           `yaml:"max_concurrent"`
	PollInterval  time.Duration `yaml:"poll_interval"`
	// JobCeiling is a hard upper bound on a single job. Zero disables it.
	JobCeiling time.Duration `yaml:"job_ceiling,omitempty"`
}

// ScoringConfig defines run orchestration policy.
type ScoringConfig struct {
	// RejudgeAllScope is "global" (clear every pending job) or "hackathon".
	RejudgeAllScope string `yaml:"rejudge_all_scope"`
	StaleGuard      bool   `yaml:"stale_guard"`
	KeepWorkspaces  bool   `yaml:"keep_workspaces"`
	// RecoverUnscored re-enqueues finalized, auto-scored submissions that have
	// never been scored when the service starts.
	RecoverUnscored bool `yaml:"recover_unscored"`
}

// SandboxConfig defines how the external runner is invoked.
type SandboxConfig struct {
	// Command is a shell-style command line, e.g. "docker-eval --network none".
	Command string `yaml:"command"`
	// GracePeriod is added on top of the hackathon timeout before SIGTERM.
	GracePeriod time.Duration `yaml:"grace_period"`
}

// FetchConfig defines how submission and organizer files are retrieved.
type FetchConfig struct {
	HTTPTimeout time.Duration `yaml:"http_timeout"`
	MaxRetries  uint          `yaml:"max_retries"`
	S3          *S3Config     `yaml:"s3,omitempty"`
}

// S3Config holds object storage settings for s3:// URLs.
type S3Config struct {
	Endpoint  string `yaml:"endpoint"`
	AccessKey string `yaml:"access_key"`
	SecretKey string `yaml:"secret_key"`
	UseSSL    bool   `yaml:"use_ssl"`
	// Region skips the bucket location lookup when set.
	Region string `yaml:"region,omitempty"`
}

// APIConfig defines HTTP API server settings.
type APIConfig struct {
	Enabled bool          `yaml:"enabled"`
	Listen  string        `yaml:"listen"`
	Auth    APIAuthConfig `yaml:"auth"`
}

// APIAuthConfig defines API authentication settings.
type APIAuthConfig struct {
	// APIKey is the single admin bearer token. Prefer Tokens for scoped access.
	APIKey string     `yaml:"api_key"`
	Tokens []APIToken `yaml:"tokens,omitempty"`
}

// APIToken defines a bearer token and its scopes.
type APIToken struct {
	Token  string   `yaml:"token"`
	Scopes []string `yaml:"scopes"`
}

// WebhooksConfig defines the finalization webhook listener.
type WebhooksConfig struct {
	Listen          string `yaml:"listen"`
	Path            string `yaml:"path"`
	Secret          string `yaml:"secret"`
	SignatureHeader string `yaml:"signature_header"`
	// MaxBodySize accepts bytes or a KB/MB/GB suffix, e.g. "1MB".
	MaxBodySize string `yaml:"max_body_size,omitempty"`
}

const (
	RejudgeScopeGlobal    = "global"
	RejudgeScopeHackathon = "hackathon"
)

// Defaults returns a Config with sensible defaults.
func Defaults() *Config {
	return &Config{
		Service: ServiceConfig{
			Name:                 "hackscore",
			LogLevel:             "info",
			LogFormat:            "json",
			HousekeepingInterval: 10 * time.Minute,
		},
		State: StateConfig{
			Path:               "./data/hackscore.db",
			WorkspaceRetention: 24 * time.Hour,
		},
		Queue: QueueConfig{
			MaxConcurrent: 3,
			PollInterval:  time.Second,
		},
		Scoring: ScoringConfig{
			RejudgeAllScope: RejudgeScopeGlobal,
			StaleGuard:      true,
		},
		Sandbox: SandboxConfig{
			GracePeriod: 5 * time.Second,
		},
		Fetch: FetchConfig{
			HTTPTimeout: 60 * time.Second,
			MaxRetries:  3,
		},
		API: APIConfig{
			Enabled: false,
			Listen:  "127.0.0.1:8080",
		},
	}
}

// WorkspaceBaseDir resolves the directory holding per-run workspaces.
func (c *Config) WorkspaceBaseDir() string {
	if c.State.WorkspaceDir != "" {
		return c.State.WorkspaceDir
	}
	return joinDir(c.State.Path, "workspaces")
}
