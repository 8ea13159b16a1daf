package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/platinummonkey/stargate/pkg/templates"
)

// Config holds all application configuration
type Config struct {
	GitHub  GitHubConfig
	Ledger  LedgerConfig
	Verify  VerifyConfig
	Routing RoutingConfig
	OneBot  OneBotConfig
	Server  ServerConfig

	// Templates for user-facing messages
	Templates templates.Set

	// Cron expression for the scheduled stargazer sync; empty disables it.
	SyncSchedule string
}

// GitHubConfig holds GitHub API client configuration
type GitHubConfig struct {
	Token        string
	BaseURL      string
	PageSize     int
	MaxRetries   int
	RetryBackoff time.Duration
	PageThrottle time.Duration
	ProbePageCap int
	HTTPTimeout  time.Duration
}

// LedgerConfig holds stargazer ledger storage configuration
type LedgerConfig struct {
	Driver string // sqlite3 or postgres
	DSN    string
}

// VerifyConfig holds verification state machine timing
type VerifyConfig struct {
	Window      time.Duration
	GracePeriod time.Duration
}

// RoutingConfig holds the group -> repository routing table
type RoutingConfig struct {
	DefaultRepo string
	GroupRepos  map[string]string
	// RepoOrder preserves configuration order of mapped repos for stable
	// status output.
	RepoOrder []string
}

// OneBotConfig holds chat transport configuration
type OneBotConfig struct {
	// ListenAddr is where the event callback server binds.
	ListenAddr string
	// APIEndpoint is the OneBot HTTP API base URL for outbound actions.
	APIEndpoint string
	// SelfID is the bot's own account ID, used to detect @-mentions.
	SelfID string
	// AccessToken is sent as a Bearer token on outbound action calls.
	AccessToken string
}

// ServerConfig holds the admin HTTP server configuration
type ServerConfig struct {
	Addr            string
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	ShutdownTimeout time.Duration
}

// fileConfig is the optional YAML overlay (routing table and templates).
type fileConfig struct {
	DefaultRepo string           `yaml:"default_repo"`
	GroupRepos  []groupRepoEntry `yaml:"group_repos"`
	Templates   templates.Set    `yaml:"templates"`
}

type groupRepoEntry struct {
	Group string `yaml:"group"`
	Repo  string `yaml:"repo"`
}

// LoadConfig loads configuration from environment variables and, when
// STARGATE_CONFIG_FILE is set, overlays the routing table and templates
// from that YAML file.
func LoadConfig() (*Config, error) {
	cfg := &Config{
		GitHub: GitHubConfig{
			Token:        getEnv("STARGATE_GITHUB_TOKEN", ""),
			BaseURL:      getEnv("STARGATE_GITHUB_API_URL", "https://api.github.com"),
			PageSize:     getEnvInt("STARGATE_GITHUB_PAGE_SIZE", 100),
			MaxRetries:   getEnvInt("STARGATE_GITHUB_MAX_RETRIES", 3),
			RetryBackoff: getEnvDuration("STARGATE_GITHUB_RETRY_BACKOFF", time.Second),
			PageThrottle: getEnvDuration("STARGATE_GITHUB_PAGE_THROTTLE", 100*time.Millisecond),
			ProbePageCap: getEnvInt("STARGATE_GITHUB_PROBE_PAGE_CAP", 20),
			HTTPTimeout:  getEnvDuration("STARGATE_GITHUB_HTTP_TIMEOUT", 30*time.Second),
		},
		Ledger: LedgerConfig{
			Driver: getEnv("STARGATE_DB_DRIVER", "sqlite3"),
			DSN:    getEnv("STARGATE_DB_DSN", "stargate.db"),
		},
		Verify: VerifyConfig{
			Window:      getEnvDuration("STARGATE_VERIFY_WINDOW", 5*time.Minute),
			GracePeriod: getEnvDuration("STARGATE_VERIFY_GRACE", time.Minute),
		},
		Routing: RoutingConfig{
			DefaultRepo: getEnv("STARGATE_DEFAULT_REPO", ""),
			GroupRepos:  parseGroupRepos(getEnv("STARGATE_GROUP_REPOS", "")),
		},
		OneBot: OneBotConfig{
			ListenAddr:  getEnv("STARGATE_ONEBOT_LISTEN", ":8081"),
			APIEndpoint: getEnv("STARGATE_ONEBOT_API", "http://127.0.0.1:5700"),
			SelfID:      getEnv("STARGATE_ONEBOT_SELF_ID", ""),
			AccessToken: getEnv("STARGATE_ONEBOT_TOKEN", ""),
		},
		Server: ServerConfig{
			Addr:            getEnv("STARGATE_ADMIN_ADDR", ":8080"),
			ReadTimeout:     getEnvDuration("STARGATE_READ_TIMEOUT", 15*time.Second),
			WriteTimeout:    getEnvDuration("STARGATE_WRITE_TIMEOUT", 15*time.Second),
			ShutdownTimeout: getEnvDuration("STARGATE_SHUTDOWN_TIMEOUT", 30*time.Second),
		},
		Templates:    templates.Defaults(),
		SyncSchedule: getEnv("STARGATE_SYNC_SCHEDULE", "0 4 * * *"),
	}
	cfg.Routing.RepoOrder = repoOrder(getEnv("STARGATE_GROUP_REPOS", ""))

	if path := getEnv("STARGATE_CONFIG_FILE", ""); path != "" {
		if err := cfg.overlayFile(path); err != nil {
			return nil, fmt.Errorf("failed to load config file %s: %w", path, err)
		}
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return cfg, nil
}

// overlayFile merges the YAML config file on top of env-derived settings.
func (c *Config) overlayFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}

	var fc fileConfig
	if err := yaml.Unmarshal(data, &fc); err != nil {
		return fmt.Errorf("invalid YAML: %w", err)
	}

	if fc.DefaultRepo != "" {
		c.Routing.DefaultRepo = fc.DefaultRepo
	}
	if len(fc.GroupRepos) > 0 {
		if c.Routing.GroupRepos == nil {
			c.Routing.GroupRepos = make(map[string]string)
		}
		for _, e := range fc.GroupRepos {
			if e.Group == "" || e.Repo == "" {
				continue
			}
			c.Routing.GroupRepos[e.Group] = e.Repo
			c.Routing.RepoOrder = append(c.Routing.RepoOrder, e.Repo)
		}
	}
	c.Templates = c.Templates.Merge(fc.Templates)
	return nil
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	if c.GitHub.Token == "" {
		return fmt.Errorf("GitHub token is required (STARGATE_GITHUB_TOKEN)")
	}
	if c.Routing.DefaultRepo == "" && len(c.Routing.GroupRepos) == 0 {
		return fmt.Errorf("at least one of default repo or group repo mappings is required")
	}
	if c.Verify.Window <= 0 {
		return fmt.Errorf("verification window must be positive")
	}
	if c.Verify.GracePeriod <= 0 {
		return fmt.Errorf("grace period must be positive")
	}
	switch c.Ledger.Driver {
	case "sqlite3", "postgres":
	default:
		return fmt.Errorf("invalid ledger driver: %s (must be sqlite3 or postgres)", c.Ledger.Driver)
	}
	if c.GitHub.PageSize <= 0 || c.GitHub.PageSize > 100 {
		return fmt.Errorf("GitHub page size must be 1-100")
	}
	return nil
}

// parseGroupRepos parses "group:owner/repo,group:owner/repo" mappings.
func parseGroupRepos(raw string) map[string]string {
	out := make(map[string]string)
	for _, entry := range strings.Split(raw, ",") {
		entry = strings.TrimSpace(entry)
		if entry == "" {
			continue
		}
		parts := strings.SplitN(entry, ":", 2)
		if len(parts) != 2 {
			continue
		}
		gid := strings.TrimSpace(parts[0])
		repo := strings.TrimSpace(parts[1])
		if gid != "" && repo != "" {
			out[gid] = repo
		}
	}
	return out
}

// repoOrder extracts repos from the raw mapping string, preserving order.
func repoOrder(raw string) []string {
	var order []string
	for _, entry := range strings.Split(raw, ",") {
		parts := strings.SplitN(strings.TrimSpace(entry), ":", 2)
		if len(parts) != 2 {
			continue
		}
		if repo := strings.TrimSpace(parts[1]); repo != "" {
			order = append(order, repo)
		}
	}
	return order
}

// getEnv returns an environment variable value or a default
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvInt returns an integer environment variable or a default
func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

// getEnvDuration returns a duration environment variable or a default
func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultValue
}
