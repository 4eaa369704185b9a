package provider

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rotisserie/eris"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/price-audit/internal/model"
	"github.com/sells-group/price-audit/internal/resilience"
)

type stubProvider struct {
	name  string
	fail  bool
	calls atomic.Int64
}

func (s *stubProvider) Name() string { return s.name }

func (s *stubProvider) Analyse(ctx context.Context, _ Request) (*Result, error) {
	s.calls.Add(1)
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if s.fail {
		return nil, eris.Errorf("provider %s: boom", s.name)
	}
	return &Result{
		Provider:          s.name,
		PredictedPriceMin: model.Float64Ptr(100),
		PredictedPriceMax: model.Float64Ptr(120),
		Confidence:        0.9,
	}, nil
}

func (s *stubProvider) Probe(context.Context) error {
	if s.fail {
		return eris.Errorf("provider %s: down", s.name)
	}
	return nil
}

func TestManagerFailoverStopsAtFirstSuccess(t *testing.T) {
	t.Parallel()

	a := &stubProvider{name: "a", fail: true}
	b := &stubProvider{name: "b"}
	c := &stubProvider{name: "c"}

	m, err := NewManager([]Provider{a, b, c})
	require.NoError(t, err)

	res, err := m.Analyse(context.Background(), Request{MaterialName: "水泥"}, "")
	require.NoError(t, err)
	assert.Equal(t, "b", res.Provider)
	assert.Equal(t, int64(1), a.calls.Load())
	assert.Equal(t, int64(1), b.calls.Load())
	assert.Equal(t, int64(0), c.calls.Load(), "chain must stop at first success")
}

func TestManagerPreferredGoesFirst(t *testing.T) {
	t.Parallel()

	a := &stubProvider{name: "a"}
	b := &stubProvider{name: "b"}

	m, err := NewManager([]Provider{a, b})
	require.NoError(t, err)

	res, err := m.Analyse(context.Background(), Request{}, "b")
	require.NoError(t, err)
	assert.Equal(t, "b", res.Provider)
	assert.Equal(t, int64(0), a.calls.Load())
}

func TestManagerAllFail(t *testing.T) {
	t.Parallel()

	a := &stubProvider{name: "a", fail: true}
	b := &stubProvider{name: "b", fail: true}

	m, err := NewManager([]Provider{a, b})
	require.NoError(t, err)

	_, err = m.Analyse(context.Background(), Request{}, "")
	var nps *NoProviderSucceeded
	require.ErrorAs(t, err, &nps)
	assert.Equal(t, []string{"a", "b"}, nps.Tried)
	assert.ErrorContains(t, nps.LastError, "boom")
}

func TestManagerCancellationShortCircuits(t *testing.T) {
	t.Parallel()

	a := &stubProvider{name: "a", fail: true}
	b := &stubProvider{name: "b"}

	m, err := NewManager([]Provider{a, b})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err = m.Analyse(ctx, Request{}, "")
	require.Error(t, err)
	assert.Equal(t, int64(0), a.calls.Load())
	assert.Equal(t, int64(0), b.calls.Load())
}

// flakyProvider fails with a throttling error until succeedAfter calls.
type flakyProvider struct {
	name         string
	succeedAfter int64
	calls        atomic.Int64
}

func (f *flakyProvider) Name() string { return f.name }

func (f *flakyProvider) Analyse(context.Context, Request) (*Result, error) {
	if f.calls.Add(1) < f.succeedAfter {
		return nil, resilience.Transient(eris.New("rate limit"), 429)
	}
	return &Result{Provider: f.name}, nil
}

func (f *flakyProvider) Probe(context.Context) error { return nil }

func TestManagerRetriesTransientBeforeFailover(t *testing.T) {
	t.Parallel()

	flaky := &flakyProvider{name: "a", succeedAfter: 2}
	fallback := &stubProvider{name: "b"}

	m, err := NewManager([]Provider{flaky, fallback},
		WithRetry(resilience.RetryConfig{MaxAttempts: 2, BaseDelay: time.Millisecond}))
	require.NoError(t, err)

	res, err := m.Analyse(context.Background(), Request{}, "")
	require.NoError(t, err)
	assert.Equal(t, "a", res.Provider)
	assert.Equal(t, int64(2), flaky.calls.Load())
	assert.Equal(t, int64(0), fallback.calls.Load())
}

// throttledProvider simulates an exhausted local dispatch window.
type throttledProvider struct {
	name  string
	calls atomic.Int64
}

func (p *throttledProvider) Name() string { return p.name }

func (p *throttledProvider) Analyse(context.Context, Request) (*Result, error) {
	p.calls.Add(1)
	return nil, eris.Wrapf(ErrRateLimited, "provider %s", p.name)
}

func (p *throttledProvider) Probe(context.Context) error { return nil }

func TestManagerRateLimitedFailsOverWithoutRetry(t *testing.T) {
	t.Parallel()

	throttled := &throttledProvider{name: "a"}
	fallback := &stubProvider{name: "b"}

	m, err := NewManager([]Provider{throttled, fallback},
		WithRetry(resilience.RetryConfig{MaxAttempts: 3, BaseDelay: time.Millisecond}))
	require.NoError(t, err)

	res, err := m.Analyse(context.Background(), Request{}, "")
	require.NoError(t, err)
	assert.Equal(t, "b", res.Provider)
	assert.Equal(t, int64(1), throttled.calls.Load(), "window rejection must not be retried in place")
}

func TestManagerWithPrimary(t *testing.T) {
	t.Parallel()

	a := &stubProvider{name: "a"}
	b := &stubProvider{name: "b"}

	m, err := NewManager([]Provider{a, b}, WithPrimary("b"))
	require.NoError(t, err)
	assert.Equal(t, []string{"b", "a"}, m.AvailableProviders())
}

func TestManagerProbe(t *testing.T) {
	t.Parallel()

	m, err := NewManager([]Provider{
		&stubProvider{name: "up"},
		&stubProvider{name: "down", fail: true},
	})
	require.NoError(t, err)

	assert.NoError(t, m.Probe(context.Background(), "up"))
	assert.Error(t, m.Probe(context.Background(), "down"))
	assert.Error(t, m.Probe(context.Background(), "missing"))
}

func TestSlidingWindow(t *testing.T) {
	t.Parallel()

	now := time.Unix(1000, 0)
	w := newSlidingWindow(2, time.Minute)
	w.now = func() time.Time { return now }

	assert.True(t, w.Allow())
	assert.True(t, w.Allow())
	assert.False(t, w.Allow())

	now = now.Add(61 * time.Second)
	assert.True(t, w.Allow())
}

func TestCredentialConfigured(t *testing.T) {
	t.Parallel()

	tests := []struct {
		key  string
		want bool
	}{
		{"sk-abc123", true},
		{"", false},
		{"   ", false},
		{"your-api-key-here", false},
		{"sk-placeholder", false},
		{"YOUR-KEY", false},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.want, CredentialConfigured(tt.key), "key %q", tt.key)
	}
}

func TestBuildChainFallsBackToDemo(t *testing.T) {
	t.Parallel()

	chain := BuildChain(Credentials{DashScope: "your-dashscope-key"}, 100)
	require.Len(t, chain, 1)
	assert.Equal(t, "demo", chain[0].Name())
}

func TestDemoProviderDeterministic(t *testing.T) {
	t.Parallel()

	demo := NewDemo()
	req := Request{MaterialName: "HRB400热轧钢筋", Unit: "t", Region: "广东省广州市"}

	first, err := demo.Analyse(context.Background(), req)
	require.NoError(t, err)
	second, err := demo.Analyse(context.Background(), req)
	require.NoError(t, err)

	assert.Equal(t, *first.PredictedPriceMin, *second.PredictedPriceMin)
	assert.Equal(t, *first.PredictedPriceMax, *second.PredictedPriceMax)
	assert.Equal(t, 3400.0, *first.PredictedPriceMin)
	assert.Equal(t, 4200.0, *first.PredictedPriceMax)
	assert.NotEmpty(t, first.DataSources)
}
