package main

import (
	"fmt"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/sells-group/price-audit/internal/provider"
)

func initProviderManager() (*provider.Manager, error) {
	creds := provider.Credentials{
		DashScope: apiKey(cfg.Providers.DashScopeKey, "DASHSCOPE_API_KEY"),
		OpenAI:    apiKey(cfg.Providers.OpenAIKey, "OPENAI_API_KEY"),
		DeepSeek:  apiKey(cfg.Providers.DeepSeekKey, "DEEPSEEK_API_KEY"),
		Anthropic: apiKey(cfg.Providers.AnthropicKey, "ANTHROPIC_API_KEY"),
	}

	chain := provider.BuildChain(creds, cfg.Providers.RateLimitPerMinute)

	opts := []provider.ManagerOption{provider.WithTimeouts(cfg.Providers.Timeouts())}
	if cfg.Providers.Primary != "" {
		opts = append(opts, provider.WithPrimary(cfg.Providers.Primary))
	}
	return provider.NewManager(chain, opts...)
}

var providersCmd = &cobra.Command{
	Use:   "providers",
	Short: "List configured AI providers in failover order",
	RunE: func(cmd *cobra.Command, _ []string) error {
		mgr, err := initProviderManager()
		if err != nil {
			return err
		}

		for i, name := range mgr.AvailableProviders() {
			role := "fallback"
			if i == 0 {
				role = "primary"
			}
			fmt.Printf("%d. %s (%s)\n", i+1, name, role)
		}
		return nil
	},
}

var probeCmd = &cobra.Command{
	Use:   "probe [provider]",
	Short: "Run a canned query against one provider to check availability",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		mgr, err := initProviderManager()
		if err != nil {
			return err
		}

		if err := mgr.Probe(cmd.Context(), args[0]); err != nil {
			return eris.Wrapf(err, "provider %s unavailable", args[0])
		}
		fmt.Printf("%s: ok\n", args[0])
		return nil
	},
}

func init() {
	providersCmd.AddCommand(probeCmd)
	rootCmd.AddCommand(providersCmd)
}
