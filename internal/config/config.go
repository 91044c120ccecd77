package config

import (
	"fmt"
	"log"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/MrSnakeDoc/lbreg/internal/registration"
)

type Config struct {
	ListenPort      string        // ex: ":8080"
	ShutdownTimeout time.Duration // ex: 5s

	LogLevel  string // "debug" | "info" | "warn" | "error"
	PrettyLog bool   // true => zap dev (color), false => zap prod (JSON)
	LogUID    bool   // true => tag every log line with a per-process uuid

	// Registration with the load-balancer control planes
	Enabled             bool          // false => no control-plane calls at all
	Endpoints           []string      // control-plane base addresses (ex: "http://lb1:8080/, http://lb2:8080/")
	Upstream            string        // upstream group name on every control plane
	SelfAddr            string        // host:port this instance is reachable at from the load balancer
	InstanceName        string        // stable name across restarts (default: hostname)
	ControlPlaneTimeout time.Duration // per-request timeout of control-plane calls (ex: 5s)

	// Redis registration journal (disabled when RedisAddr is empty)
	RedisAddr           string        // ex: "localhost:6379"
	RedisUser           string        // optional
	RedisPassword       string        // optional
	RedisDB             int           // Redis DB number
	RedisDT             time.Duration // Redis dial timeout (ex: 5s)
	RedisRT             time.Duration // Redis read timeout (ex: 3s)
	RedisWT             time.Duration // Redis write timeout (ex: 3s)
	RedisMaxWait        time.Duration // max wait between retries (ex: 10s)
	RedisPingTimeout    time.Duration // timeout for each ping attempt (ex: 5s)
	RedisPoolSize       int           // Redis connection pool size
	RedisConnectTimeout time.Duration // Total time to retry connecting (ex: 30s)
	RedisRetryInterval  time.Duration // Initial wait between retries (ex: 2s, grows exponentially)
	RedisWarnThreshold  int           // warn after this many attempts

	AllowedCIDRS []string // optional, restrict access to /registrations (e.g. "10.0.0.0/8, 127.0.0.1")
	TrustProxy   bool     // true => trust X-Forwarded-For headers

	ConfigFile string // optional YAML file overriding the registration settings
}

// Load reads the environment, then the YAML file at path when one is given
// (or LBREG_CONFIG_FILE when path is empty). File values win over env values.
func Load(path string) (*Config, error) {
	cfg := &Config{
		// Server settings
		ListenPort:      getenv("LBREG_LISTEN_PORT", ":8080"),
		ShutdownTimeout: mustDuration("LBREG_SHUTDOWN_TIMEOUT", 5*time.Second),

		// Logging
		LogLevel:  getenv("LBREG_LOG_LEVEL", "info"),
		PrettyLog: mustBool("LBREG_PRETTY_LOG", true),
		LogUID:    mustBool("LBREG_LOG_UID", false),

		// Registration
		Enabled:             strictBool("LBREG_ENABLED", false),
		Endpoints:           splitAndTrim(getenv("LBREG_ENDPOINTS", "")),
		Upstream:            getenv("LBREG_UPSTREAM", ""),
		SelfAddr:            getenv("LBREG_SELF_ADDR", ""),
		InstanceName:        getenv("LBREG_INSTANCE_NAME", hostname()),
		ControlPlaneTimeout: mustDuration("LBREG_CONTROL_PLANE_TIMEOUT", 5*time.Second),

		// Redis settings
		RedisAddr:           getenv("LBREG_REDIS_ADDR", ""),
		RedisUser:           getenv("LBREG_REDIS_USERNAME", ""),
		RedisPassword:       getenv("LBREG_REDIS_PASSWORD", ""),
		RedisDB:             getenvInt("LBREG_REDIS_DB", 0),
		RedisDT:             mustDuration("REDIS_DIAL_TIMEOUT", 5*time.Second),
		RedisRT:             mustDuration("REDIS_READ_TIMEOUT", 3*time.Second),
		RedisWT:             mustDuration("REDIS_WRITE_TIMEOUT", 3*time.Second),
		RedisMaxWait:        mustDuration("REDIS_MAX_WAIT", 10*time.Second),
		RedisPingTimeout:    mustDuration("REDIS_PING_TIMEOUT", 5*time.Second),
		RedisPoolSize:       getenvInt("REDIS_POOL_SIZE", 10),
		RedisConnectTimeout: mustDuration("REDIS_CONNECT_TIMEOUT", 30*time.Second),
		RedisRetryInterval:  mustDuration("REDIS_RETRY_INTERVAL", 2*time.Second),
		RedisWarnThreshold:  getenvInt("REDIS_WARN_THRESHOLD", 3),

		// Access restrictions
		AllowedCIDRS: parseAllowedIPs(getenv("LBREG_ALLOWED_CIDRS", "")),
		TrustProxy:   mustBool("LBREG_TRUST_PROXY", false),

		ConfigFile: path,
	}

	if cfg.ConfigFile == "" {
		cfg.ConfigFile = getenv("LBREG_CONFIG_FILE", "")
	}
	if cfg.ConfigFile != "" {
		fc, err := loadFile(cfg.ConfigFile)
		if err != nil {
			return nil, err
		}
		if err := fc.apply(cfg); err != nil {
			return nil, err
		}
	}

	// Log config only in debug mode with redacted sensitive fields
	if cfg.LogLevel == "debug" {
		cfgCopy := *cfg
		if cfgCopy.RedisPassword != "" {
			cfgCopy.RedisPassword = "***REDACTED***"
		}
		log.Printf("[DEBUG] cfg: %+v\n", cfgCopy)
	}

	return cfg, nil
}

// Registration returns the settings of the registration manager.
func (c *Config) Registration() registration.Config {
	return registration.Config{
		Enabled:       c.Enabled,
		Endpoints:     c.Endpoints,
		UpstreamGroup: c.Upstream,
		SelfAddress:   c.SelfAddr,
		InstanceName:  c.InstanceName,
	}
}

// JournalEnabled reports whether registrations are persisted to Redis.
func (c *Config) JournalEnabled() bool {
	return c.Enabled && c.RedisAddr != "" && c.InstanceName != ""
}

// helpers
func getenv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func requireEnvInt(key string) int {
	v := os.Getenv(key)
	if v == "" {
		panic(fmt.Sprintf("❌ FATAL: Required environment variable %s is not set", key))
	}
	i, err := strconv.Atoi(v)
	if err != nil {
		panic(fmt.Sprintf("❌ FATAL: Invalid integer value for %s: %s", key, v))
	}
	return i
}

// getenvInt panics on values that are set but not integers: a typo in a
// Redis DB number must not silently select DB 0.
func getenvInt(key string, def int) int {
	if os.Getenv(key) == "" {
		return def
	}
	return requireEnvInt(key)
}

func mustBool(key string, def bool) bool {
	if v := os.Getenv(key); v != "" {
		b, err := strconv.ParseBool(v)
		if err == nil {
			return b
		}
	}
	return def
}

// strictBool panics on values that are set but not booleans: a typo in a
// switch like LBREG_ENABLED must not silently turn registration off.
func strictBool(key string, def bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		panic(fmt.Sprintf("❌ FATAL: Invalid boolean value for %s: %s", key, v))
	}
	return b
}

func mustDuration(key string, def time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return def
}

func hostname() string {
	h, err := os.Hostname()
	if err != nil {
		return ""
	}
	return h
}

func parseAllowedIPs(allowed string) []string {
	if allowed == "" {
		return nil
	}
	ips := make([]string, 0, 4)
	for _, ip := range splitAndTrim(allowed) {
		if ip != "" {
			ips = append(ips, ip)
		}
	}
	return ips
}

func splitAndTrim(s string) []string {
	if s == "" {
		return nil
	}
	raw := strings.Split(s, ",")
	parts := make([]string, 0, len(raw))
	for _, part := range raw {
		trimmed := strings.TrimSpace(part)
		// Remove surrounding quotes if present
		trimmed = strings.Trim(trimmed, `"'`)
		if trimmed != "" {
			parts = append(parts, trimmed)
		}
	}
	return parts
}
