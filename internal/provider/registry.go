package provider

import (
	"go.uber.org/zap"
)

// Credentials holds one API key per vendor. Keys that fail
// CredentialConfigured are skipped at chain build time.
type Credentials struct {
	DashScope string
	OpenAI    string
	DeepSeek  string
	Anthropic string
}

// BuildChain assembles the provider list in default failover order. With no
// usable credentials the demo provider is installed as a last resort; that
// condition is logged but not fatal.
func BuildChain(creds Credentials, ratePerMinute int) []Provider {
	var chain []Provider

	if CredentialConfigured(creds.DashScope) {
		chain = append(chain, NewDashScope(creds.DashScope, ratePerMinute))
	}
	if CredentialConfigured(creds.OpenAI) {
		chain = append(chain, NewOpenAI(creds.OpenAI, ratePerMinute))
	}
	if CredentialConfigured(creds.DeepSeek) {
		chain = append(chain, NewDeepSeek(creds.DeepSeek, ratePerMinute))
	}
	if CredentialConfigured(creds.Anthropic) {
		chain = append(chain, NewAnthropic(creds.Anthropic, ratePerMinute))
	}

	if len(chain) == 0 {
		zap.L().Warn("no LLM providers configured, installing demo provider")
		chain = append(chain, NewDemo())
	}
	return chain
}
