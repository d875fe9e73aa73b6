// Package authrecovery implements the C9 interactive re-authentication
// flow: a periodic health probe over the alternate transport's session, and
// an admin-driven code/password exchange when that session has expired.
//
// Manager satisfies worker.Recoverer, so the large-file worker can trigger
// the same flow synchronously the moment a job's own health probe fails,
// without waiting for the next periodic tick.
package authrecovery

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/teltubby/teltubby/internal/metrics"
	"github.com/teltubby/teltubby/internal/notify"
	"github.com/teltubby/teltubby/internal/store"
	"github.com/teltubby/teltubby/internal/transport"
)

// Config tunes the probe cadence, secret lookup windows, and failure budget.
type Config struct {
	ProbeInterval  time.Duration
	PollInterval   time.Duration
	CodeWindow     time.Duration
	PasswordWindow time.Duration
	MaxFailures    int
}

func (c Config) withDefaults() Config {
	if c.ProbeInterval <= 0 {
		c.ProbeInterval = 5 * time.Minute
	}
	if c.PollInterval <= 0 {
		c.PollInterval = 2 * time.Second
	}
	if c.CodeWindow <= 0 {
		c.CodeWindow = 10 * time.Minute
	}
	if c.PasswordWindow <= 0 {
		c.PasswordWindow = 60 * time.Minute
	}
	if c.MaxFailures <= 0 {
		c.MaxFailures = 3
	}
	return c
}

// Manager drives the session-health probe and the interactive recovery
// exchange. The zero value is not usable; build one with New.
type Manager struct {
	cfg       Config
	store     *store.Store
	alt       transport.AltTransportClient
	notifier  *notify.Notifier
	metrics   *metrics.Metrics
	now       func() time.Time
	failures  int32
	simulate  int32
}

// New builds a Manager. alt must be non-nil; a Manager has nothing to
// recover if there is no alternate-transport session to begin with.
func New(cfg Config, st *store.Store, alt transport.AltTransportClient, n *notify.Notifier, m *metrics.Metrics) *Manager {
	return &Manager{
		cfg:      cfg.withDefaults(),
		store:    st,
		alt:      alt,
		notifier: n,
		metrics:  m,
		now:      time.Now,
	}
}

// Simulating reports whether the manager has exhausted its failure budget
// and considers the session permanently unhealthy until an operator
// intervenes out of band.
func (m *Manager) Simulating() bool {
	return atomic.LoadInt32(&m.simulate) == 1
}

// Run drives the periodic health probe until ctx is cancelled. On an
// unhealthy probe it invokes the same recovery flow Recover does.
func (m *Manager) Run(ctx context.Context) error {
	ticker := time.NewTicker(m.cfg.ProbeInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if m.Simulating() {
				continue
			}
			if err := m.alt.GetMe(ctx); err != nil {
				_ = m.Recover(ctx)
			}
		}
	}
}

// Recover runs the full C9 exchange: notify admins, await a code, log in,
// await a password if 2FA demands one, and report the outcome. It satisfies
// worker.Recoverer.
func (m *Manager) Recover(ctx context.Context) error {
	_ = m.notifier.Critical(ctx, "alternate transport session expired; reply with mtcode <code> to restore it")

	code, err := m.awaitSecret(ctx, store.AuthSecretCode, m.cfg.CodeWindow)
	if err != nil {
		return m.recordFailure(ctx, err)
	}

	needsPassword, err := m.alt.Login(ctx, code)
	if err != nil {
		return m.recordFailure(ctx, fmt.Errorf("authrecovery: login: %w", err))
	}

	if needsPassword {
		_ = m.notifier.Warning(ctx, "two-factor password required; reply with mtpass <password>")
		password, err := m.awaitSecret(ctx, store.AuthSecretPassword, m.cfg.PasswordWindow)
		if err != nil {
			return m.recordFailure(ctx, err)
		}
		if err := m.alt.LoginPassword(ctx, password); err != nil {
			return m.recordFailure(ctx, fmt.Errorf("authrecovery: login password: %w", err))
		}
	}

	atomic.StoreInt32(&m.failures, 0)
	atomic.StoreInt32(&m.simulate, 0)
	if m.metrics != nil {
		m.metrics.SetSimulateMode(false)
	}
	_ = m.notifier.Info(ctx, "alternate transport session restored")
	return nil
}

// awaitSecret polls the store for a secret fresher than now-window every
// PollInterval until one appears or ctx is cancelled. The store itself
// consumes (deletes) code secrets on a successful read and leaves password
// secrets in place, so they persist across re-logins.
func (m *Manager) awaitSecret(ctx context.Context, key string, window time.Duration) (string, error) {
	ticker := time.NewTicker(m.cfg.PollInterval)
	defer ticker.Stop()

	for {
		since := m.now().Add(-window)
		value, _, found, err := m.store.GetSecretSince(ctx, key, since)
		if err != nil {
			return "", fmt.Errorf("authrecovery: poll %s: %w", key, err)
		}
		if found {
			return value, nil
		}

		select {
		case <-ctx.Done():
			return "", ctx.Err()
		case <-ticker.C:
		}
	}
}

func (m *Manager) recordFailure(ctx context.Context, cause error) error {
	n := atomic.AddInt32(&m.failures, 1)
	if int(n) >= m.cfg.MaxFailures {
		atomic.StoreInt32(&m.simulate, 1)
		if m.metrics != nil {
			m.metrics.SetSimulateMode(true)
		}
		_ = m.notifier.Critical(ctx, fmt.Sprintf("auth recovery failed %d consecutive times; entering simulate mode", n))
	}
	return cause
}
