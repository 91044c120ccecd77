package registration

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
)

// ErrConfig is matched by every configuration error returned by this package.
var ErrConfig = errors.New("invalid registration config")

// ConfigError describes a missing or invalid registration setting.
type ConfigError struct {
	Field  string
	Reason string
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("%s: %s: %s", ErrConfig, e.Field, e.Reason)
}

func (e *ConfigError) Unwrap() error { return ErrConfig }

// Config holds the settings of one Manager, i.e. one upstream group.
type Config struct {
	Enabled       bool
	Endpoints     []string // control-plane base addresses, ex: http://lb1.internal:8080/
	UpstreamGroup string   // upstream group name, identical on every endpoint
	SelfAddress   string   // host:port this instance is registered under
	InstanceName  string   // stable identity across restarts, used by the journal
}

// Validate checks the settings required at construction time.
// SelfAddress is intentionally left out: it is checked on first use.
func (c Config) Validate() error {
	if !c.Enabled {
		return nil
	}

	if len(c.Endpoints) == 0 {
		return &ConfigError{Field: "endpoints", Reason: "you need to specify at least one control-plane address"}
	}
	for i, ep := range c.Endpoints {
		if err := validateEndpoint(ep); err != nil {
			return &ConfigError{Field: fmt.Sprintf("endpoints[%d]", i), Reason: err.Error()}
		}
	}

	if strings.TrimSpace(c.UpstreamGroup) == "" {
		return &ConfigError{Field: "upstream", Reason: "you need to specify the upstream group name for the app"}
	}

	return nil
}

func validateEndpoint(raw string) error {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return errors.New("address is empty")
	}
	u, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("parse: %v", err)
	}
	if (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return errors.New("must be http(s) URL with host")
	}
	return nil
}
