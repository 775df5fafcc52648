package config

import (
	"fmt"
	"os"
	"strings"

	"github.com/kelseyhightower/envconfig"
	"gopkg.in/yaml.v3"
)

type Config struct {
	PolicyPath       string        `yaml:"policy_path" envconfig:"POLICY_PATH"`
	SessionStorePath string        `yaml:"session_store_path" envconfig:"SESSION_STORE_PATH"`
	AuditLogPath     string        `yaml:"audit_log_path" envconfig:"AUDIT_LOG_PATH"`
	SkillsDir        string        `yaml:"skills_dir" envconfig:"SKILLS_DIR"`
	Logging          LoggingConfig `yaml:"logging"`
}

type LoggingConfig struct {
	Level string `yaml:"level" envconfig:"LOG_LEVEL"`
	Debug bool   `yaml:"debug" envconfig:"LOG_DEBUG"`
	File  string `yaml:"file" envconfig:"LOG_FILE"`
}

// Load reads the YAML config, expands ${ENV} references, then applies
// AGENTGATE_* environment overrides on top.
func Load(path string) (Config, error) {
	// #nosec G304 -- path is operator-provided config path.
	raw, err := os.ReadFile(path)
	if err != nil {
		return Config{}, err
	}

	expanded := os.ExpandEnv(string(raw))
	expanded = strings.ReplaceAll(expanded, "\r\n", "\n")

	var cfg Config
	if err := yaml.Unmarshal([]byte(expanded), &cfg); err != nil {
		return Config{}, err
	}

	if err := envconfig.Process("agentgate", &cfg); err != nil {
		return Config{}, err
	}

	return cfg, cfg.Validate()
}

func (c Config) Validate() error {
	if c.PolicyPath == "" {
		return fmt.Errorf("policy_path is required")
	}
	if c.SessionStorePath == "" {
		return fmt.Errorf("session_store_path is required")
	}

	switch strings.ToLower(c.Logging.Level) {
	case "", "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("invalid logging.level %q", c.Logging.Level)
	}

	return nil
}
