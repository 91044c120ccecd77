package deps

import (
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/atomic"

	"github.com/MrSnakeDoc/lbreg/internal/logger"
	"github.com/MrSnakeDoc/lbreg/internal/registration"
)

// RegistrationSource exposes the registration state to handlers.
// *registration.Manager implements it.
type RegistrationSource interface {
	Enabled() bool
	Upstream() string
	SelfAddress() (string, error)
	Registrations() []registration.Registration
}

type Deps struct {
	Logger        logger.Logger
	StartTime     time.Time
	Version       string
	Commit        string
	BuildDate     string
	GoVersion     string
	TimeNow       func() time.Time   // for testing, defaults to time.Now
	AllowedCIDRS  []string           // IPs allowed to access registrations/infra endpoints
	TrustProxy    bool               // true if running behind a trusted reverse proxy
	Ready         *atomic.Bool       // true once registration with the control planes completed
	Registrations RegistrationSource // registration manager state
	RedisClient   *redis.Client      // journal connection, nil when the journal is disabled
}
