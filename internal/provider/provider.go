// Package provider abstracts the LLM vendors that price materials, plus the
// manager that sequences them into a failover chain.
package provider

import (
	"context"
	"time"

	"github.com/rotisserie/eris"

	"github.com/sells-group/price-audit/internal/model"
)

// Request describes one material to price.
type Request struct {
	MaterialName  string
	Specification string
	Unit          string
	Region        string
	Context       string
	AnalysisDate  time.Time
}

// Result is a provider's pricing answer for one material.
type Result struct {
	Provider string
	Model    string

	PredictedPriceMin *float64
	PredictedPriceMax *float64
	Confidence        float64

	DataSources []model.DataSource
	Reasoning   string
	RiskFactors []string

	ReferenceURLs []string

	Prompt      string
	RawResponse string
	ParseError  bool

	Elapsed time.Duration
	Cost    float64
}

// Provider prices one material. Analyse blocks until the vendor answers or
// ctx expires; Probe runs a canned query to check availability.
type Provider interface {
	Name() string
	Analyse(ctx context.Context, req Request) (*Result, error)
	Probe(ctx context.Context) error
}

// ErrRateLimited reports the local sliding window rejected a dispatch.
var ErrRateLimited = eris.New("provider: rate limit window exhausted")

// NoProviderSucceeded carries the last failure after the whole chain failed.
type NoProviderSucceeded struct {
	LastError error
	Tried     []string
}

func (e *NoProviderSucceeded) Error() string {
	if e.LastError == nil {
		return "no provider succeeded"
	}
	return "no provider succeeded: " + e.LastError.Error()
}

func (e *NoProviderSucceeded) Unwrap() error { return e.LastError }
