// Package config loads Batty's project configuration from .batty/config.toml.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/spf13/viper"
)

// Config holds every section of .batty/config.toml.
type Config struct {
	Defaults   DefaultsConfig   `mapstructure:"defaults"`
	Policy     PolicyConfig     `mapstructure:"policy"`
	Supervisor SupervisorConfig `mapstructure:"supervisor"`
	Detector   DetectorConfig   `mapstructure:"detector"`
	Logging    LoggingConfig    `mapstructure:"logging"`
	Observer   ObserverConfig   `mapstructure:"observer"`
}

// DefaultsConfig is the [defaults] section.
type DefaultsConfig struct {
	Agent      string `mapstructure:"agent"`
	Policy     string `mapstructure:"policy"`
	DoD        string `mapstructure:"dod"`
	MaxRetries int    `mapstructure:"max_retries"`
}

// PolicyConfig is the [policy] section; AutoAnswer is recovered in
// declaration order separately (see LoadFrom) because viper/mapstructure
// decode TOML tables into an unordered map.
type PolicyConfig struct {
	AutoAnswer OrderedAnswers `mapstructure:"-"`
}

// SupervisorConfig is the [supervisor] section (Tier-2).
type SupervisorConfig struct {
	Enabled     bool     `mapstructure:"enabled"`
	Program     string   `mapstructure:"program"`
	Args        []string `mapstructure:"args"`
	TimeoutSecs int      `mapstructure:"timeout_secs"`
	TraceIO     bool     `mapstructure:"trace_io"`
}

// Timeout returns the supervisor's invocation timeout.
func (s SupervisorConfig) Timeout() time.Duration {
	return time.Duration(s.TimeoutSecs) * time.Second
}

// DetectorConfig is the [detector] section.
type DetectorConfig struct {
	SilenceTimeoutSecs   int  `mapstructure:"silence_timeout_secs"`
	AnswerCooldownMillis int  `mapstructure:"answer_cooldown_millis"`
	UnknownRequestFallback bool `mapstructure:"unknown_request_fallback"`
	IdleInputFallback    bool `mapstructure:"idle_input_fallback"`
}

// SilenceTimeout returns the configured silence timeout as a duration.
func (d DetectorConfig) SilenceTimeout() time.Duration {
	return time.Duration(d.SilenceTimeoutSecs) * time.Second
}

// AnswerCooldown returns the configured answer cooldown as a duration.
func (d DetectorConfig) AnswerCooldown() time.Duration {
	return time.Duration(d.AnswerCooldownMillis) * time.Millisecond
}

// LoggingConfig controls the ambient structured logger.
type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// ObserverConfig controls the optional read-only HTTP/WS dashboard.
type ObserverConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Addr    string `mapstructure:"addr"`
}

// OrderedAnswers preserves TOML declaration order for [policy.auto_answer],
// which spec §4.5/§8 make an observable contract: the first key that is a
// substring of a detected prompt wins.
type OrderedAnswers []AnswerRule

// AnswerRule is one substring-to-response pair.
type AnswerRule struct {
	Pattern  string
	Response string
}

// Match returns the first rule whose Pattern is a substring of prompt.
func (a OrderedAnswers) Match(prompt string) (AnswerRule, bool) {
	for _, rule := range a {
		if strings.Contains(prompt, rule.Pattern) {
			return rule, true
		}
	}
	return AnswerRule{}, false
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("defaults.agent", "claude")
	v.SetDefault("defaults.policy", "observe")
	v.SetDefault("defaults.dod", "")
	v.SetDefault("defaults.max_retries", 3)

	v.SetDefault("supervisor.enabled", false)
	v.SetDefault("supervisor.program", "")
	v.SetDefault("supervisor.args", []string{})
	v.SetDefault("supervisor.timeout_secs", 60)
	v.SetDefault("supervisor.trace_io", false)

	v.SetDefault("detector.silence_timeout_secs", 3)
	v.SetDefault("detector.answer_cooldown_millis", 1000)
	v.SetDefault("detector.unknown_request_fallback", true)
	v.SetDefault("detector.idle_input_fallback", false)

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", detectDefaultLogFormat())

	v.SetDefault("observer.enabled", false)
	v.SetDefault("observer.addr", "127.0.0.1:4949")
}

// detectDefaultLogFormat mirrors internal/common/logger's detection so the
// two never drift: json in Kubernetes or BATTY_ENV=production, text otherwise.
func detectDefaultLogFormat() string {
	if os.Getenv("KUBERNETES_SERVICE_HOST") != "" {
		return "json"
	}
	if env := os.Getenv("BATTY_ENV"); env == "production" || env == "prod" {
		return "json"
	}
	return "text"
}

// Load discovers .batty/config.toml by walking up from the current working
// directory and loads it. It never fails solely because no config file
// exists; defaults stand in.
func Load() (*Config, error) {
	cwd, err := os.Getwd()
	if err != nil {
		return nil, fmt.Errorf("config: resolve cwd: %w", err)
	}
	return LoadFrom(cwd)
}

// LoadFrom discovers .batty/config.toml by walking up from startDir.
func LoadFrom(startDir string) (*Config, error) {
	dir, found := discoverConfigDir(startDir)

	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix("BATTY")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	var rawPath string
	if found {
		v.SetConfigName("config")
		v.SetConfigType("toml")
		v.AddConfigPath(dir)
		rawPath = filepath.Join(dir, "config.toml")
		if err := v.ReadInConfig(); err != nil {
			if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
				return nil, fmt.Errorf("config: read %s: %w", rawPath, err)
			}
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("config: unmarshal: %w", err)
	}

	if found {
		answers, err := loadOrderedAnswers(rawPath)
		if err != nil {
			return nil, fmt.Errorf("config: parse policy.auto_answer: %w", err)
		}
		cfg.Policy.AutoAnswer = answers
	}

	if err := validate(&cfg); err != nil {
		return nil, fmt.Errorf("config: validate: %w", err)
	}

	return &cfg, nil
}

// discoverConfigDir walks parents of dir looking for .batty/config.toml,
// returning the containing .batty directory. Per spec §6 the file is
// discovered by walking parents of the invocation directory.
func discoverConfigDir(dir string) (string, bool) {
	dir = filepath.Clean(dir)
	for {
		candidate := filepath.Join(dir, ".batty", "config.toml")
		if info, err := os.Stat(candidate); err == nil && !info.IsDir() {
			return filepath.Join(dir, ".batty"), true
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			return "", false
		}
		dir = parent
	}
}

// loadOrderedAnswers reads config.toml again to recover the declaration
// order of [policy.auto_answer]; toml.Decode preserves key order via
// MetaData.Keys(), which viper's mapstructure pass-through does not.
func loadOrderedAnswers(path string) (OrderedAnswers, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}

	var doc struct {
		Policy struct {
			AutoAnswer map[string]string `toml:"auto_answer"`
		} `toml:"policy"`
	}
	meta, err := toml.Decode(string(raw), &doc)
	if err != nil {
		return nil, err
	}

	var answers OrderedAnswers
	for _, key := range meta.Keys() {
		// key looks like ["policy", "auto_answer", "<pattern>"]
		parts := key
		if len(parts) != 3 || parts[0] != "policy" || parts[1] != "auto_answer" {
			continue
		}
		pattern := parts[2]
		if response, ok := doc.Policy.AutoAnswer[pattern]; ok {
			answers = append(answers, AnswerRule{Pattern: pattern, Response: response})
		}
	}
	return answers, nil
}

func validate(cfg *Config) error {
	var errs []string

	validPolicies := map[string]bool{"observe": true, "suggest": true, "act": true}
	if !validPolicies[strings.ToLower(cfg.Defaults.Policy)] {
		errs = append(errs, "defaults.policy must be one of: observe, suggest, act")
	}
	if cfg.Defaults.MaxRetries < 0 {
		errs = append(errs, "defaults.max_retries must not be negative")
	}

	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLevels[strings.ToLower(cfg.Logging.Level)] {
		errs = append(errs, "logging.level must be one of: debug, info, warn, error")
	}
	validFormats := map[string]bool{"json": true, "text": true}
	if !validFormats[strings.ToLower(cfg.Logging.Format)] {
		errs = append(errs, "logging.format must be one of: json, text")
	}

	if cfg.Supervisor.Enabled && cfg.Supervisor.Program == "" {
		errs = append(errs, "supervisor.program is required when supervisor.enabled is true")
	}

	if len(errs) > 0 {
		return fmt.Errorf("%s", strings.Join(errs, "; "))
	}
	return nil
}
