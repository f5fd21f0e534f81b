package config

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/mattjoyce/threadgate/internal/auth"
)

var envVarPattern = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)\}`)

const envConfigDir = "THREADGATE_CONFIG_DIR"

// Load reads configPath (a file, or a directory holding config.yaml),
// follows its includes, verifies checksums, applies defaults and validates.
func Load(configPath string) (*Config, error) {
	root, err := resolveConfigFile(configPath)
	if err != nil {
		return nil, err
	}

	cfg := &Config{}
	visited := map[string]bool{}
	if err := loadInto(cfg, root, visited); err != nil {
		return nil, err
	}

	if err := VerifyChecksums(cfg.SourceFiles); err != nil {
		return nil, err
	}

	applyDefaults(cfg)
	if err := validate(cfg); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// SourceFiles resolves configPath and its includes without verifying
// checksums or validating. config lock uses it to hash files that no longer
// match their manifest.
func SourceFiles(configPath string) ([]string, error) {
	root, err := resolveConfigFile(configPath)
	if err != nil {
		return nil, err
	}
	cfg := &Config{}
	if err := loadInto(cfg, root, map[string]bool{}); err != nil {
		return nil, err
	}
	return cfg.SourceFiles, nil
}

// Discover finds a config location when none was given on the command line.
// Order: $THREADGATE_CONFIG_DIR, ~/.config/threadgate, /etc/threadgate,
// ./config.yaml.
func Discover() (string, error) {
	var candidates []string
	if dir := os.Getenv(envConfigDir); dir != "" {
		candidates = append(candidates, dir)
	}
	if home, err := os.UserHomeDir(); err == nil {
		candidates = append(candidates, filepath.Join(home, ".config", "threadgate"))
	}
	candidates = append(candidates, "/etc/threadgate", "./config.yaml")

	for _, c := range candidates {
		if _, err := os.Stat(c); err == nil {
			return c, nil
		}
	}
	return "", fmt.Errorf("no config found (checked: %s)", strings.Join(candidates, ", "))
}

func resolveConfigFile(configPath string) (string, error) {
	abs, err := filepath.Abs(configPath)
	if err != nil {
		return "", fmt.Errorf("resolve config path %q: %w", configPath, err)
	}
	info, err := os.Stat(abs)
	if err != nil {
		return "", fmt.Errorf("config file not found: %s", abs)
	}
	if info.IsDir() {
		abs = filepath.Join(abs, "config.yaml")
		if _, err := os.Stat(abs); err != nil {
			return "", fmt.Errorf("directory provided but config.yaml not found: %s", abs)
		}
	}
	return abs, nil
}

// loadInto decodes path over cfg, then its includes in order. Later files
// override scalar values set by earlier ones; tokens are appended.
func loadInto(cfg *Config, path string, visited map[string]bool) error {
	if visited[path] {
		return fmt.Errorf("include cycle detected at %s", path)
	}
	visited[path] = true

	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read %s: %w", path, err)
	}
	var part Config
	if err := yaml.Unmarshal([]byte(interpolateEnv(string(data))), &part); err != nil {
		return fmt.Errorf("parse %s: %w", path, err)
	}

	merge(cfg, &part)
	cfg.SourceFiles = append(cfg.SourceFiles, path)

	for i, inc := range part.Include {
		incPath := interpolateEnv(inc)
		if !filepath.IsAbs(incPath) {
			incPath = filepath.Join(filepath.Dir(path), incPath)
		}
		if _, err := os.Stat(incPath); err != nil {
			return fmt.Errorf("include[%d] of %s: file not found: %s", i, path, incPath)
		}
		if err := loadInto(cfg, incPath, visited); err != nil {
			return err
		}
	}
	return nil
}

func merge(dst, src *Config) {
	if src.Service.Name != "" {
		dst.Service.Name = src.Service.Name
	}
	if src.Service.LogLevel != "" {
		dst.Service.LogLevel = src.Service.LogLevel
	}
	if src.State.Path != "" {
		dst.State.Path = src.State.Path
	}
	if src.API.Listen != "" {
		dst.API.Listen = src.API.Listen
	}
	dst.API.Tokens = append(dst.API.Tokens, src.API.Tokens...)

	op := src.Plugins.OperatorCode
	if op.Enabled != nil {
		dst.Plugins.OperatorCode.Enabled = op.Enabled
	}
	if op.EnableForSupervisors != nil {
		dst.Plugins.OperatorCode.EnableForSupervisors = op.EnableForSupervisors
	}

	if src.Notify.Enabled != nil {
		dst.Notify.Enabled = src.Notify.Enabled
	}
	if src.Notify.URL != "" {
		dst.Notify.URL = src.Notify.URL
	}
	if src.Notify.Exchange != "" {
		dst.Notify.Exchange = src.Notify.Exchange
	}
	if src.Notify.RoutingKey != "" {
		dst.Notify.RoutingKey = src.Notify.RoutingKey
	}
	if src.Events.Backlog != 0 {
		dst.Events.Backlog = src.Events.Backlog
	}
}

func applyDefaults(cfg *Config) {
	d := Defaults()
	if cfg.Service.Name == "" {
		cfg.Service.Name = d.Service.Name
	}
	if cfg.Service.LogLevel == "" {
		cfg.Service.LogLevel = d.Service.LogLevel
	}
	if cfg.State.Path == "" {
		cfg.State.Path = d.State.Path
	}
	if cfg.API.Listen == "" {
		cfg.API.Listen = d.API.Listen
	}
	if cfg.Notify.Exchange == "" {
		cfg.Notify.Exchange = d.Notify.Exchange
	}
	if cfg.Notify.RoutingKey == "" {
		cfg.Notify.RoutingKey = d.Notify.RoutingKey
	}
	if cfg.Events.Backlog == 0 {
		cfg.Events.Backlog = d.Events.Backlog
	}
}

// interpolateEnv replaces ${VAR} with its value. Unset variables are left
// in place so validation can name them.
func interpolateEnv(input string) string {
	return envVarPattern.ReplaceAllStringFunc(input, func(match string) string {
		name := envVarPattern.FindStringSubmatch(match)[1]
		if v, ok := os.LookupEnv(name); ok {
			return v
		}
		return match
	})
}

func unresolved(field, value string) error {
	if m := envVarPattern.FindStringSubmatch(value); len(m) > 1 {
		return fmt.Errorf("%s: environment variable ${%s} is not set", field, m[1])
	}
	return nil
}

var knownScopes = map[string]bool{
	auth.ScopeAll:       true,
	auth.ScopeThreadsRO: true,
	auth.ScopeThreadsRW: true,
	auth.ScopeEventsRO:  true,
}

func validate(cfg *Config) error {
	switch cfg.Service.LogLevel {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("service.log_level must be one of: debug, info, warn, error (got %q)", cfg.Service.LogLevel)
	}
	if cfg.State.Path == "" {
		return fmt.Errorf("state.path is required")
	}
	if cfg.Events.Backlog < 0 {
		return fmt.Errorf("events.backlog must not be negative")
	}

	seen := make(map[string]bool, len(cfg.API.Tokens))
	for i, tok := range cfg.API.Tokens {
		field := fmt.Sprintf("api.tokens[%d]", i)
		if tok.Token == "" {
			return fmt.Errorf("%s.token is required", field)
		}
		if err := unresolved(field+".token", tok.Token); err != nil {
			return err
		}
		if seen[tok.Token] {
			return fmt.Errorf("%s.token duplicates an earlier token", field)
		}
		seen[tok.Token] = true
		if tok.OperatorID < 0 {
			return fmt.Errorf("%s.operator_id must not be negative", field)
		}
		if len(tok.Scopes) == 0 {
			return fmt.Errorf("%s.scopes must be non-empty", field)
		}
		for _, s := range tok.Scopes {
			if !knownScopes[s] {
				return fmt.Errorf("%s.scopes: unknown scope %q", field, s)
			}
		}
	}

	if cfg.Notify.IsEnabled() {
		if cfg.Notify.URL == "" {
			return fmt.Errorf("notify.url is required when notify.enabled is true")
		}
		if err := unresolved("notify.url", cfg.Notify.URL); err != nil {
			return err
		}
	}
	return nil
}

// AuthTokens converts the configured tokens for the API server.
func (c *Config) AuthTokens() []auth.TokenConfig {
	out := make([]auth.TokenConfig, 0, len(c.API.Tokens))
	for _, t := range c.API.Tokens {
		out = append(out, auth.TokenConfig{Token: t.Token, OperatorID: t.OperatorID, Scopes: t.Scopes})
	}
	return out
}
