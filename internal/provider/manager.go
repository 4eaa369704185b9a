package provider

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/price-audit/internal/resilience"
)

// DefaultTimeout bounds a single provider call unless overridden.
const DefaultTimeout = 60 * time.Second

// CredentialConfigured reports whether an API key looks real. Placeholder
// values left in config templates are rejected at startup.
func CredentialConfigured(key string) bool {
	k := strings.TrimSpace(strings.ToLower(key))
	if k == "" {
		return false
	}
	if strings.HasPrefix(k, "your-") || strings.Contains(k, "placeholder") {
		return false
	}
	return true
}

// Manager sequences providers into a failover chain: preferred first when
// requested, then the configured order. The first success wins.
type Manager struct {
	providers []Provider
	timeouts  map[string]time.Duration
	retry     resilience.RetryConfig
	logger    *zap.Logger
}

// ManagerOption configures a Manager.
type ManagerOption func(*Manager)

// WithTimeouts sets per-provider call timeouts in place of the default.
func WithTimeouts(t map[string]time.Duration) ManagerOption {
	return func(m *Manager) {
		for name, d := range t {
			m.timeouts[name] = d
		}
	}
}

// WithRetry overrides the per-provider retry policy. Only transient errors
// (timeouts, resets, 429/5xx) are retried; anything else fails over at once.
func WithRetry(cfg resilience.RetryConfig) ManagerOption {
	return func(m *Manager) {
		m.retry = cfg
	}
}

// WithPrimary moves the named provider to the front of the chain.
func WithPrimary(name string) ManagerOption {
	return func(m *Manager) {
		for i, p := range m.providers {
			if p.Name() == name && i > 0 {
				reordered := append([]Provider{p}, append(append([]Provider{}, m.providers[:i]...), m.providers[i+1:]...)...)
				m.providers = reordered
				return
			}
		}
	}
}

// NewManager builds a failover chain over the given providers.
func NewManager(providers []Provider, opts ...ManagerOption) (*Manager, error) {
	if len(providers) == 0 {
		return nil, eris.New("provider manager: no providers")
	}
	m := &Manager{
		providers: append([]Provider{}, providers...),
		timeouts:  make(map[string]time.Duration),
		retry:     resilience.RetryConfig{MaxAttempts: 2},
		logger:    zap.L().Named("providers"),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m, nil
}

func (m *Manager) timeout(name string) time.Duration {
	if d, ok := m.timeouts[name]; ok {
		return d
	}
	return DefaultTimeout
}

// AvailableProviders lists the chain in failover order.
func (m *Manager) AvailableProviders() []string {
	names := make([]string, len(m.providers))
	for i, p := range m.providers {
		names[i] = p.Name()
	}
	return names
}

// Analyse runs the failover chain. A provider error or timeout moves to the
// next provider; context cancellation short-circuits the rest of the chain.
func (m *Manager) Analyse(ctx context.Context, req Request, preferred string) (*Result, error) {
	chain := m.chainFor(preferred)

	var lastErr error
	var tried []string

	for _, p := range chain {
		if err := ctx.Err(); err != nil {
			lastErr = err
			break
		}

		start := time.Now()
		res, err := m.callWithRetry(ctx, p, req)

		tried = append(tried, p.Name())
		if err == nil {
			m.logger.Info("provider succeeded",
				zap.String("provider", p.Name()),
				zap.String("material", req.MaterialName),
				zap.Duration("elapsed", time.Since(start)))
			return res, nil
		}

		lastErr = err
		m.logger.Warn("provider failed, trying next",
			zap.String("provider", p.Name()),
			zap.String("material", req.MaterialName),
			zap.Error(err))

		if ctx.Err() != nil {
			break
		}
	}

	return nil, &NoProviderSucceeded{LastError: lastErr, Tried: tried}
}

// callWithRetry runs one provider with its timeout, retrying transient
// failures before the chain moves on. A local rate-limit rejection is not
// transient here: sleeping on it would queue the call, so it fails over to
// the next provider at once.
func (m *Manager) callWithRetry(ctx context.Context, p Provider, req Request) (*Result, error) {
	cfg := m.retry
	cfg.ShouldRetry = func(err error) bool {
		return !errors.Is(err, ErrRateLimited) && resilience.IsTransient(err)
	}
	cfg.OnRetry = func(attempt int, err error) {
		m.logger.Warn("retrying provider",
			zap.String("provider", p.Name()),
			zap.Int("attempt", attempt),
			zap.Error(err))
	}
	return resilience.DoVal(ctx, cfg, func(ctx context.Context) (*Result, error) {
		callCtx, cancel := context.WithTimeout(ctx, m.timeout(p.Name()))
		defer cancel()
		return p.Analyse(callCtx, req)
	})
}

// Probe checks one provider by name with a canned query.
func (m *Manager) Probe(ctx context.Context, name string) error {
	for _, p := range m.providers {
		if p.Name() == name {
			probeCtx, cancel := context.WithTimeout(ctx, m.timeout(name))
			defer cancel()
			return p.Probe(probeCtx)
		}
	}
	return eris.Errorf("provider manager: unknown provider %q", name)
}

func (m *Manager) chainFor(preferred string) []Provider {
	if preferred == "" {
		return m.providers
	}
	for i, p := range m.providers {
		if p.Name() == preferred {
			if i == 0 {
				return m.providers
			}
			chain := make([]Provider, 0, len(m.providers))
			chain = append(chain, p)
			chain = append(chain, m.providers[:i]...)
			chain = append(chain, m.providers[i+1:]...)
			return chain
		}
	}
	return m.providers
}
