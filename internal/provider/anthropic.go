package provider

import (
	"context"
	"strings"
	"time"

	"github.com/rotisserie/eris"

	"github.com/sells-group/price-audit/pkg/anthropic"
)

const anthropicModel = "claude-haiku-4-5-20251001"

// anthropicProvider prices materials through the Anthropic Messages API.
type anthropicProvider struct {
	client anthropic.Client
	window *slidingWindow
}

// NewAnthropic builds the Anthropic-backed provider.
func NewAnthropic(apiKey string, ratePerMinute int) Provider {
	return &anthropicProvider{
		client: anthropic.NewClient(apiKey),
		window: newSlidingWindow(ratePerMinute, time.Minute),
	}
}

func (p *anthropicProvider) Name() string { return "anthropic" }

func (p *anthropicProvider) Analyse(ctx context.Context, req Request) (*Result, error) {
	if !p.window.Allow() {
		return nil, eris.Wrap(ErrRateLimited, "provider anthropic")
	}

	prompt := BuildPrompt(req)
	start := time.Now()

	resp, err := p.client.CreateMessage(ctx, anthropic.MessageRequest{
		Model:     anthropicModel,
		MaxTokens: 4096,
		Messages:  []anthropic.Message{{Role: "user", Content: prompt}},
	})
	if err != nil {
		return nil, eris.Wrap(err, "provider anthropic: create message")
	}

	var text strings.Builder
	for _, block := range resp.Content {
		if block.Type == "text" {
			text.WriteString(block.Text)
		}
	}

	res := ParseResponse(text.String())
	res.Provider = p.Name()
	res.Model = anthropicModel
	res.Prompt = prompt
	res.Elapsed = time.Since(start)
	res.Cost = resp.Usage.EstimateCost(anthropicModel)
	return res, nil
}

func (p *anthropicProvider) Probe(ctx context.Context) error {
	_, err := p.client.CreateMessage(ctx, anthropic.MessageRequest{
		Model:     anthropicModel,
		MaxTokens: 8,
		Messages:  []anthropic.Message{{Role: "user", Content: "回复OK"}},
	})
	if err != nil {
		return eris.Wrap(err, "provider anthropic: probe")
	}
	return nil
}
