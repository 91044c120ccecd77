package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// fileConfig is the YAML layout of LBREG_CONFIG_FILE. Pointer fields tell
// "unset" apart from zero values.
type fileConfig struct {
	Registration struct {
		Enabled      *bool    `yaml:"enabled"`
		Endpoints    []string `yaml:"endpoints"`
		Upstream     string   `yaml:"upstream"`
		SelfAddr     string   `yaml:"self_addr"`
		InstanceName string   `yaml:"instance_name"`
		Timeout      string   `yaml:"timeout"`
	} `yaml:"registration"`
	Redis struct {
		Addr     string `yaml:"addr"`
		Username string `yaml:"username"`
		Password string `yaml:"password"`
		DB       *int   `yaml:"db"`
	} `yaml:"redis"`
}

func loadFile(path string) (*fileConfig, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	return parseFile(b)
}

func parseFile(b []byte) (*fileConfig, error) {
	var fc fileConfig
	if err := yaml.Unmarshal(b, &fc); err != nil {
		return nil, fmt.Errorf("yaml: %w", err)
	}
	return &fc, nil
}

// apply overrides cfg with every value set in the file.
func (fc *fileConfig) apply(cfg *Config) error {
	r := fc.Registration
	if r.Enabled != nil {
		cfg.Enabled = *r.Enabled
	}
	if r.Endpoints != nil {
		eps := make([]string, 0, len(r.Endpoints))
		for _, ep := range r.Endpoints {
			if ep = strings.TrimSpace(ep); ep != "" {
				eps = append(eps, ep)
			}
		}
		cfg.Endpoints = eps
	}
	if v := strings.TrimSpace(r.Upstream); v != "" {
		cfg.Upstream = v
	}
	if v := strings.TrimSpace(r.SelfAddr); v != "" {
		cfg.SelfAddr = v
	}
	if v := strings.TrimSpace(r.InstanceName); v != "" {
		cfg.InstanceName = v
	}
	if r.Timeout != "" {
		d, err := time.ParseDuration(r.Timeout)
		if err != nil {
			return fmt.Errorf("registration.timeout: %v", err)
		}
		cfg.ControlPlaneTimeout = d
	}

	if fc.Redis.Addr != "" {
		cfg.RedisAddr = fc.Redis.Addr
	}
	if fc.Redis.Username != "" {
		cfg.RedisUser = fc.Redis.Username
	}
	if fc.Redis.Password != "" {
		cfg.RedisPassword = fc.Redis.Password
	}
	if fc.Redis.DB != nil {
		cfg.RedisDB = *fc.Redis.DB
	}
	return nil
}
