package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config captures the settings required to boot the investigation engine.
type Config struct {
	Server        ServerConfig        `yaml:"server"`
	Search        SearchConfig        `yaml:"search"`
	VCS           VCSConfig           `yaml:"vcs"`
	Investigation InvestigationConfig `yaml:"investigation"`
	Logging       LoggingConfig       `yaml:"logging"`
	Knowledge     KnowledgeConfig     `yaml:"knowledge"`
}

// ServerConfig controls HTTP listener behaviour.
type ServerConfig struct {
	Address         string        `yaml:"address"`
	MetricsAddress  string        `yaml:"metricsAddress"`
	GracefulTimeout time.Duration `yaml:"gracefulTimeout"`
}

// SearchConfig configures access to the log-search backend.
type SearchConfig struct {
	BaseURL string        `yaml:"baseURL"`
	APIKey  string        `yaml:"apiKey"`
	AppKey  string        `yaml:"appKey"`
	Timeout time.Duration `yaml:"timeout"`
	// PageLimit caps entries returned per call. The backend's hard
	// maximum is 1000.
	PageLimit int `yaml:"pageLimit"`
	// QueryScope is prepended to every query to pin environment and team.
	QueryScope string `yaml:"queryScope"`
	// MaxRetries is the retry budget per call for transient failures.
	// Zero disables retries.
	MaxRetries int `yaml:"maxRetries"`
}

// VCSConfig configures access to the source-hosting API.
type VCSConfig struct {
	Token string `yaml:"token"`
	// BaseURL overrides the API endpoint, used against test doubles and
	// enterprise installs. Empty means the public API.
	BaseURL string `yaml:"baseURL"`
	// Org owns both the service repositories and the deploy repo.
	Org string `yaml:"org"`
	// DeployRepo is the repository whose commit titles record deployments.
	DeployRepo string        `yaml:"deployRepo"`
	Timeout    time.Duration `yaml:"timeout"`
	MaxRetries int           `yaml:"maxRetries"`
}

// InvestigationConfig tunes the pipeline itself.
type InvestigationConfig struct {
	// OwnedPackagePrefixes mark stack frames belonging to our own code.
	OwnedPackagePrefixes []string `yaml:"ownedPackagePrefixes"`
	// RepoFallbackSuffix is stripped from a service name when the primary
	// repository lookup 404s (for example "-jobs").
	RepoFallbackSuffix string `yaml:"repoFallbackSuffix"`
	// SessionCap bounds how many sessions the fan-out step expands.
	SessionCap int `yaml:"sessionCap"`
	// SessionConcurrency bounds parallel per-session queries.
	SessionConcurrency int `yaml:"sessionConcurrency"`
	// ServiceConcurrency bounds parallel per-service pipelines.
	ServiceConcurrency int `yaml:"serviceConcurrency"`
	// ProximityLines is the nearby-match window for line correlation.
	ProximityLines int `yaml:"proximityLines"`
	// DeploymentLookback is how far before the reference time deployment
	// commits are searched.
	DeploymentLookback time.Duration `yaml:"deploymentLookback"`
	// RunDeadline bounds one investigation end to end. Zero means no
	// deadline beyond the caller's context.
	RunDeadline time.Duration `yaml:"runDeadline"`
}

// LoggingConfig controls structured logging.
type LoggingConfig struct {
	Level string `yaml:"level"`
	JSON  bool   `yaml:"json"`
}

// KnowledgeConfig points at an optional YAML overlay extending the built-in
// per-exception knowledge base.
type KnowledgeConfig struct {
	Path string `yaml:"path"`
}

// Load initialises Config from a YAML file and optional environment overrides.
func Load(path string) (*Config, error) {
	if path == "" {
		path = os.Getenv("INQUEST_CONFIG")
	}

	cfg := defaultConfig()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return nil, fmt.Errorf("config file %s not found: %w", path, err)
			}
			return nil, fmt.Errorf("read config: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("parse config: %w", err)
		}
	}

	applyEnvOverrides(&cfg)

	if err := validate(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func defaultConfig() Config {
	return Config{
		Server: ServerConfig{
			Address:         ":8085",
			MetricsAddress:  ":2112",
			GracefulTimeout: 10 * time.Second,
		},
		Search: SearchConfig{
			Timeout:    30 * time.Second,
			PageLimit:  200,
			QueryScope: "env:prod",
			MaxRetries: 1,
		},
		VCS: VCSConfig{
			DeployRepo: "kubernetes",
			Timeout:    30 * time.Second,
			MaxRetries: 1,
		},
		Investigation: InvestigationConfig{
			RepoFallbackSuffix: "-jobs",
			SessionCap:         25,
			SessionConcurrency: 5,
			ServiceConcurrency: 5,
			ProximityLines:     5,
			DeploymentLookback: 72 * time.Hour,
		},
		Logging: LoggingConfig{Level: "info", JSON: false},
	}
}

// validate rejects settings that would make retry or concurrency policy
// undefined. Zero retries means "no retry"; negative values are refused.
func validate(cfg *Config) error {
	if cfg.Search.MaxRetries < 0 {
		return fmt.Errorf("search.maxRetries must not be negative: %d", cfg.Search.MaxRetries)
	}
	if cfg.VCS.MaxRetries < 0 {
		return fmt.Errorf("vcs.maxRetries must not be negative: %d", cfg.VCS.MaxRetries)
	}
	if cfg.Search.PageLimit <= 0 || cfg.Search.PageLimit > 1000 {
		return fmt.Errorf("search.pageLimit must be in 1..1000: %d", cfg.Search.PageLimit)
	}
	inv := cfg.Investigation
	if inv.SessionCap <= 0 {
		return fmt.Errorf("investigation.sessionCap must be positive: %d", inv.SessionCap)
	}
	if inv.SessionConcurrency <= 0 {
		return fmt.Errorf("investigation.sessionConcurrency must be positive: %d", inv.SessionConcurrency)
	}
	if inv.ServiceConcurrency <= 0 {
		return fmt.Errorf("investigation.serviceConcurrency must be positive: %d", inv.ServiceConcurrency)
	}
	if inv.ProximityLines < 0 {
		return fmt.Errorf("investigation.proximityLines must not be negative: %d", inv.ProximityLines)
	}
	return nil
}

func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("INQUEST_SERVER_ADDRESS"); v != "" {
		cfg.Server.Address = v
	}
	if v := os.Getenv("INQUEST_METRICS_ADDRESS"); v != "" {
		cfg.Server.MetricsAddress = v
	}
	if v := os.Getenv("INQUEST_SEARCH_BASE_URL"); v != "" {
		cfg.Search.BaseURL = v
	}
	if v := os.Getenv("INQUEST_SEARCH_API_KEY"); v != "" {
		cfg.Search.APIKey = v
	}
	if v := os.Getenv("INQUEST_SEARCH_APP_KEY"); v != "" {
		cfg.Search.AppKey = v
	}
	if v := os.Getenv("INQUEST_SEARCH_QUERY_SCOPE"); v != "" {
		cfg.Search.QueryScope = v
	}
	if v := os.Getenv("INQUEST_SEARCH_PAGE_LIMIT"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Search.PageLimit = n
		}
	}
	if v := os.Getenv("INQUEST_VCS_TOKEN"); v != "" {
		cfg.VCS.Token = v
	}
	if v := os.Getenv("INQUEST_VCS_BASE_URL"); v != "" {
		cfg.VCS.BaseURL = v
	}
	if v := os.Getenv("INQUEST_VCS_ORG"); v != "" {
		cfg.VCS.Org = v
	}
	if v := os.Getenv("INQUEST_VCS_DEPLOY_REPO"); v != "" {
		cfg.VCS.DeployRepo = v
	}
	if v := os.Getenv("INQUEST_OWNED_PACKAGES"); v != "" {
		parts := strings.Split(v, ",")
		prefixes := make([]string, 0, len(parts))
		for _, p := range parts {
			if p = strings.TrimSpace(p); p != "" {
				prefixes = append(prefixes, p)
			}
		}
		cfg.Investigation.OwnedPackagePrefixes = prefixes
	}
	if v := os.Getenv("INQUEST_SESSION_CAP"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Investigation.SessionCap = n
		}
	}
	if v := os.Getenv("INQUEST_SERVICE_CONCURRENCY"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Investigation.ServiceConcurrency = n
		}
	}
	if v := os.Getenv("INQUEST_RUN_DEADLINE"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Investigation.RunDeadline = d
		}
	}
	if v := os.Getenv("INQUEST_LOG_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}
	if v := os.Getenv("INQUEST_LOG_FORMAT"); v == "json" {
		cfg.Logging.JSON = true
	}
	if v := os.Getenv("INQUEST_KNOWLEDGE_PATH"); v != "" {
		cfg.Knowledge.Path = v
	}
}
