// Package registration registers this instance as an upstream server with one
// or more load-balancer control planes and removes it again on shutdown.
//
// Start is all-or-nothing across endpoints: when any endpoint fails, every
// endpoint registered so far is rolled back before the error is returned.
// Stop is best effort: every tracked registration gets a removal attempt and
// errors are only logged.
//
// Start and Stop must not run concurrently with each other.
package registration

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/multierr"

	"github.com/MrSnakeDoc/lbreg/internal/controlplane"
	"github.com/MrSnakeDoc/lbreg/internal/logger"
)

// ErrAlreadyStarted is returned by Start while registrations are still tracked.
var ErrAlreadyStarted = errors.New("registration already started, call Stop first")

// Manager owns the registration lifecycle of one upstream group.
type Manager struct {
	cfg     Config
	cp      ControlPlane
	log     logger.Logger
	journal Journal
	now     func() time.Time

	mu            sync.RWMutex
	registrations []Registration
}

// Option customizes a Manager.
type Option func(*Manager)

// WithJournal enables persisting registrations to j.
func WithJournal(j Journal) Option {
	return func(m *Manager) { m.journal = j }
}

// WithClock overrides time.Now, for tests.
func WithClock(now func() time.Time) Option {
	return func(m *Manager) { m.now = now }
}

// New validates cfg and builds a Manager. It performs no network calls.
func New(cfg Config, cp ControlPlane, log logger.Logger, opts ...Option) (*Manager, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if cfg.Enabled && cp == nil {
		return nil, errors.New("registration: control-plane client is required")
	}

	m := &Manager{
		cfg: cfg,
		cp:  cp,
		log: log.With(logger.String("upstream", cfg.UpstreamGroup)),
		now: time.Now,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m, nil
}

// Enabled reports whether the manager does anything at all.
func (m *Manager) Enabled() bool { return m.cfg.Enabled }

// Upstream returns the configured upstream group name.
func (m *Manager) Upstream() string { return m.cfg.UpstreamGroup }

// SelfAddress returns the address this instance registers under.
func (m *Manager) SelfAddress() (string, error) {
	if m.cfg.SelfAddress == "" {
		return "", &ConfigError{Field: "self_addr", Reason: "you need to specify the address the app is registered under"}
	}
	return m.cfg.SelfAddress, nil
}

// Registrations returns a copy of the registrations currently believed live.
func (m *Manager) Registrations() []Registration {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]Registration, len(m.registrations))
	copy(out, m.registrations)
	return out
}

// Start registers this instance on every endpoint, in configured order.
// On failure it rolls back what it registered and returns the original error.
func (m *Manager) Start(ctx context.Context) error {
	if !m.cfg.Enabled {
		return nil
	}
	if len(m.Registrations()) > 0 {
		return ErrAlreadyStarted
	}

	self, err := m.SelfAddress()
	if err != nil {
		return err
	}

	m.reconcileJournal(ctx, self)

	for _, endpoint := range m.cfg.Endpoints {
		if err := m.register(ctx, endpoint, self); err != nil {
			m.log.Error("error during registration in one of the control planes, rolling back previous registrations",
				logger.String("endpoint", endpoint),
				logger.Error(err))
			// Rollback must run to completion even if the caller gave up.
			m.Stop(context.WithoutCancel(ctx))
			return err
		}
	}

	return nil
}

// Stop removes every tracked registration and forgets them, even when some
// removals fail. Calling it again is a no-op.
func (m *Manager) Stop(ctx context.Context) {
	if !m.cfg.Enabled {
		return
	}

	regs := m.Registrations()
	if len(regs) == 0 {
		return
	}

	for _, reg := range regs {
		m.deregister(ctx, reg)
	}

	m.mu.Lock()
	m.registrations = nil
	m.mu.Unlock()
}

// Cleanup removes every entry registered under the self address on every
// endpoint, without relying on tracked state. It returns the number of
// entries removed and all per-endpoint errors combined.
func (m *Manager) Cleanup(ctx context.Context) (int, error) {
	if !m.cfg.Enabled {
		return 0, nil
	}

	self, err := m.SelfAddress()
	if err != nil {
		return 0, err
	}

	m.reconcileJournal(ctx, self)

	var errs error
	total := 0
	for _, endpoint := range m.cfg.Endpoints {
		n, err := m.removeByAddress(ctx, endpoint, self)
		total += n
		if err != nil {
			errs = multierr.Append(errs, fmt.Errorf("cleanup at %q: %w", endpoint, err))
			continue
		}
		m.log.Info("cleaned up control plane",
			logger.String("endpoint", endpoint),
			logger.Int("removed", n))
		m.forget(ctx, endpoint)
	}

	return total, errs
}

func (m *Manager) register(ctx context.Context, endpoint, self string) error {
	// Nothing else registers under self, so existing entries are leftovers.
	removed, err := m.removeByAddress(ctx, endpoint, self)
	if err != nil {
		return fmt.Errorf("pre-clean at %q: %w", endpoint, err)
	}
	if removed > 0 {
		m.log.Warn("removed stale entries for this address",
			logger.String("endpoint", endpoint),
			logger.String("server", self),
			logger.Int("count", removed))
	}

	created, err := m.cp.Create(ctx, endpoint, m.cfg.UpstreamGroup, self)
	if err != nil {
		m.discardUnconfirmed(context.WithoutCancel(ctx), endpoint, self)
		return fmt.Errorf("register at %q: %w", endpoint, err)
	}

	reg := Registration{
		Endpoint:     endpoint,
		Server:       self,
		RegisteredAt: m.now(),
	}
	if created.ID != nil {
		reg.ServerID = *created.ID
		reg.HasID = true
	}

	m.mu.Lock()
	m.registrations = append(m.registrations, reg)
	m.mu.Unlock()

	m.record(ctx, reg)

	if reg.HasID {
		m.log.Info(fmt.Sprintf("Successfully registered in control plane %q with ID: %d", endpoint, reg.ServerID),
			logger.String("endpoint", endpoint),
			logger.Int64("server_id", reg.ServerID),
			logger.String("server", self))
	} else {
		m.log.Info(fmt.Sprintf("Successfully registered in control plane %q without ID", endpoint),
			logger.String("endpoint", endpoint),
			logger.String("server", self))
	}
	return nil
}

// discardUnconfirmed removes what a failed create may still have added, for
// instance when the response was lost or malformed after the entry was
// stored. Errors are only logged; the caller reports the create error.
func (m *Manager) discardUnconfirmed(ctx context.Context, endpoint, self string) {
	removed, err := m.removeByAddress(ctx, endpoint, self)
	switch {
	case err != nil:
		m.log.Warn("failed to check for an entry left by the failed registration",
			logger.String("endpoint", endpoint),
			logger.Error(err))
	case removed > 0:
		m.log.Warn("removed entry left by the failed registration",
			logger.String("endpoint", endpoint),
			logger.String("server", self),
			logger.Int("count", removed))
	}
}

func (m *Manager) deregister(ctx context.Context, reg Registration) {
	fields := []logger.Field{logger.String("endpoint", reg.Endpoint), logger.String("server", reg.Server)}

	if reg.HasID {
		fields = append(fields, logger.Int64("server_id", reg.ServerID))
		err := m.cp.Delete(ctx, reg.Endpoint, m.cfg.UpstreamGroup, reg.ServerID)
		switch {
		case controlplane.IsNotFound(err):
			m.log.Warn(fmt.Sprintf("Server entry already gone at %q", reg.Endpoint), fields...)
		case err != nil:
			m.log.Error(fmt.Sprintf("Error during deregistration at %q", reg.Endpoint), append(fields, logger.Error(err))...)
			return
		default:
			m.log.Info(fmt.Sprintf("Successfully unregistered in control plane %q", reg.Endpoint), fields...)
		}
		m.forget(ctx, reg.Endpoint)
		return
	}

	self := reg.Server
	if self == "" {
		var err error
		if self, err = m.SelfAddress(); err != nil {
			m.log.Error("cannot look up server entry", append(fields, logger.Error(err))...)
			return
		}
	}

	removed, err := m.removeByAddress(ctx, reg.Endpoint, self)
	switch {
	case err != nil:
		m.log.Error(fmt.Sprintf("Error during deregistration at %q", reg.Endpoint), append(fields, logger.Error(err))...)
		return
	case removed == 0:
		m.log.Warn(fmt.Sprintf("Failed to find ID of the upstream server at %q", reg.Endpoint), fields...)
	default:
		m.log.Info(fmt.Sprintf("Successfully unregistered in control plane %q", reg.Endpoint),
			append(fields, logger.Int("removed", removed))...)
	}
	m.forget(ctx, reg.Endpoint)
}

// removeByAddress deletes every entry of the upstream group whose server
// equals addr and returns how many were deleted. Entries that vanish between
// list and delete are not counted and are not an error.
func (m *Manager) removeByAddress(ctx context.Context, endpoint, addr string) (int, error) {
	servers, err := m.cp.List(ctx, endpoint, m.cfg.UpstreamGroup)
	if err != nil {
		return 0, err
	}

	removed := 0
	for _, s := range servers {
		if s.Server != addr || s.ID == nil {
			continue
		}
		err := m.cp.Delete(ctx, endpoint, m.cfg.UpstreamGroup, *s.ID)
		if controlplane.IsNotFound(err) {
			continue
		}
		if err != nil {
			return removed, err
		}
		removed++
	}
	return removed, nil
}

// removeOwned deletes entry id only while it still carries addr. Ids are
// reassigned when a control plane restarts, so a recorded id alone may now
// belong to another instance. A missing entry is not an error.
func (m *Manager) removeOwned(ctx context.Context, endpoint string, id int64, addr string) error {
	servers, err := m.cp.List(ctx, endpoint, m.cfg.UpstreamGroup)
	if err != nil {
		return err
	}

	for _, s := range servers {
		if s.ID == nil || *s.ID != id {
			continue
		}
		if s.Server != addr {
			m.log.Warn("recorded server id now belongs to another server, keeping it",
				logger.String("endpoint", endpoint),
				logger.Int64("server_id", id),
				logger.String("server", s.Server))
			return nil
		}
		err := m.cp.Delete(ctx, endpoint, m.cfg.UpstreamGroup, id)
		if controlplane.IsNotFound(err) {
			return nil
		}
		return err
	}
	return nil
}

// reconcileJournal removes entries a previous run of this instance recorded
// under a different address, or on an endpoint that is no longer configured.
// Entries under the current address on configured endpoints are handled by
// the pre-clean step.
func (m *Manager) reconcileJournal(ctx context.Context, self string) {
	if m.journal == nil {
		return
	}

	entries, err := m.journal.Entries(ctx)
	if err != nil {
		m.log.Warn("failed to read registration journal", logger.Error(err))
		return
	}

	for _, e := range entries {
		if e.Server == self && m.configured(e.Endpoint) {
			continue
		}

		fields := []logger.Field{
			logger.String("endpoint", e.Endpoint),
			logger.String("server", e.Server),
		}

		if e.HasID {
			fields = append(fields, logger.Int64("server_id", e.ServerID))
			err = m.removeOwned(ctx, e.Endpoint, e.ServerID, e.Server)
		} else {
			_, err = m.removeByAddress(ctx, e.Endpoint, e.Server)
		}
		if err != nil {
			m.log.Warn("failed to remove registration left by a previous run", append(fields, logger.Error(err))...)
			continue
		}

		m.log.Info("removed registration left by a previous run", fields...)
		m.forget(ctx, e.Endpoint)
	}
}

func (m *Manager) configured(endpoint string) bool {
	for _, ep := range m.cfg.Endpoints {
		if ep == endpoint {
			return true
		}
	}
	return false
}

func (m *Manager) record(ctx context.Context, reg Registration) {
	if m.journal == nil {
		return
	}
	if err := m.journal.Record(ctx, reg); err != nil {
		m.log.Warn("failed to record registration in journal",
			logger.String("endpoint", reg.Endpoint),
			logger.Error(err))
	}
}

func (m *Manager) forget(ctx context.Context, endpoint string) {
	if m.journal == nil {
		return
	}
	if err := m.journal.Forget(ctx, endpoint); err != nil {
		m.log.Warn("failed to remove registration from journal",
			logger.String("endpoint", endpoint),
			logger.Error(err))
	}
}
