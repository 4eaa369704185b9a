package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	openai "github.com/sashabaranov/go-openai"
)

// chatProvider speaks the OpenAI chat-completions protocol. DashScope and
// DeepSeek expose compatible endpoints, so one implementation covers all
// three behind different base URLs.
type chatProvider struct {
	name   string
	model  string
	client *openai.Client
	window *slidingWindow

	// $ per million tokens {input, output}; zero means cost untracked
	pricing [2]float64
}

func newChatProvider(name, model, apiKey, baseURL string, ratePerMinute int, pricing [2]float64, opts ...func(*openai.ClientConfig)) *chatProvider {
	cfg := openai.DefaultConfig(apiKey)
	if baseURL != "" {
		cfg.BaseURL = baseURL
	}
	for _, opt := range opts {
		opt(&cfg)
	}
	return &chatProvider{
		name:    name,
		model:   model,
		client:  openai.NewClientWithConfig(cfg),
		window:  newSlidingWindow(ratePerMinute, time.Minute),
		pricing: pricing,
	}
}

// NewOpenAI prices materials through the OpenAI API.
func NewOpenAI(apiKey string, ratePerMinute int) Provider {
	return newChatProvider("openai", openai.GPT4oMini, apiKey, "", ratePerMinute, [2]float64{0.15, 0.60})
}

// NewDashScope prices materials through Alibaba DashScope's
// OpenAI-compatible endpoint, with web search enabled so the model can
// cite current market prices.
func NewDashScope(apiKey string, ratePerMinute int) Provider {
	return newChatProvider("dashscope", "qwen-plus", apiKey,
		"https://dashscope.aliyuncs.com/compatible-mode/v1", ratePerMinute, [2]float64{0.11, 0.28},
		func(cfg *openai.ClientConfig) {
			cfg.HTTPClient = &http.Client{Transport: &searchTransport{base: http.DefaultTransport}}
		})
}

// searchTransport adds DashScope's enable_search flag to outgoing
// chat-completion bodies. The client library only carries extra body fields
// for embedding requests, so the flag is merged at the transport layer.
type searchTransport struct {
	base http.RoundTripper
}

func (t *searchTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	if req.Body == nil || !strings.HasSuffix(req.URL.Path, "/chat/completions") {
		return t.base.RoundTrip(req)
	}

	raw, err := io.ReadAll(req.Body)
	req.Body.Close()
	if err != nil {
		return nil, err
	}
	if merged, ok := withEnableSearch(raw); ok {
		raw = merged
	}
	req.Body = io.NopCloser(bytes.NewReader(raw))
	req.ContentLength = int64(len(raw))
	req.GetBody = func() (io.ReadCloser, error) {
		return io.NopCloser(bytes.NewReader(raw)), nil
	}
	return t.base.RoundTrip(req)
}

func withEnableSearch(raw []byte) ([]byte, bool) {
	var body map[string]json.RawMessage
	if err := json.Unmarshal(raw, &body); err != nil {
		return nil, false
	}
	body["enable_search"] = json.RawMessage("true")
	merged, err := json.Marshal(body)
	if err != nil {
		return nil, false
	}
	return merged, true
}

// NewDeepSeek prices materials through the DeepSeek API.
func NewDeepSeek(apiKey string, ratePerMinute int) Provider {
	return newChatProvider("deepseek", "deepseek-chat", apiKey,
		"https://api.deepseek.com/v1", ratePerMinute, [2]float64{0.27, 1.10})
}

func (p *chatProvider) Name() string { return p.name }

func (p *chatProvider) Analyse(ctx context.Context, req Request) (*Result, error) {
	if !p.window.Allow() {
		return nil, eris.Wrapf(ErrRateLimited, "provider %s", p.name)
	}

	prompt := BuildPrompt(req)
	start := time.Now()

	resp, err := p.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model:       p.model,
		Temperature: 0.2,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleUser, Content: prompt},
		},
	})
	if err != nil {
		return nil, eris.Wrapf(err, "provider %s: chat completion", p.name)
	}
	if len(resp.Choices) == 0 {
		return nil, eris.Errorf("provider %s: empty completion", p.name)
	}

	res := ParseResponse(resp.Choices[0].Message.Content)
	res.Provider = p.name
	res.Model = p.model
	res.Prompt = prompt
	res.Elapsed = time.Since(start)
	res.Cost = p.estimateCost(resp.Usage)
	return res, nil
}

func (p *chatProvider) Probe(ctx context.Context) error {
	_, err := p.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model:     p.model,
		MaxTokens: 8,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleUser, Content: "回复OK"},
		},
	})
	if err != nil {
		return eris.Wrapf(err, "provider %s: probe", p.name)
	}
	return nil
}

func (p *chatProvider) estimateCost(u openai.Usage) float64 {
	return float64(u.PromptTokens)/1e6*p.pricing[0] +
		float64(u.CompletionTokens)/1e6*p.pricing[1]
}
