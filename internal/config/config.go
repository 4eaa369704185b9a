package config

import (
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/sells-group/price-audit/internal/provider"
)

// Config holds the full application configuration.
type Config struct {
	Store     StoreConfig     `yaml:"store" mapstructure:"store"`
	Providers ProvidersConfig `yaml:"providers" mapstructure:"providers"`
	Matching  MatchingConfig  `yaml:"matching" mapstructure:"matching"`
	Analysis  AnalysisConfig  `yaml:"analysis" mapstructure:"analysis"`
	Server    ServerConfig    `yaml:"server" mapstructure:"server"`
	Log       LogConfig       `yaml:"log" mapstructure:"log"`
}

// StoreConfig configures the database backend.
type StoreConfig struct {
	Driver      string `yaml:"driver" mapstructure:"driver"`
	DatabaseURL string `yaml:"database_url" mapstructure:"database_url"`
	MaxConns    int32  `yaml:"max_conns" mapstructure:"max_conns"`
	MinConns    int32  `yaml:"min_conns" mapstructure:"min_conns"`
}

// ProvidersConfig holds AI provider credentials and chain policy.
type ProvidersConfig struct {
	Primary string `yaml:"primary_provider" mapstructure:"primary_provider"`

	DashScopeKey string `yaml:"dashscope_api_key" mapstructure:"dashscope_api_key"`
	OpenAIKey    string `yaml:"openai_api_key" mapstructure:"openai_api_key"`
	DeepSeekKey  string `yaml:"deepseek_api_key" mapstructure:"deepseek_api_key"`
	AnthropicKey string `yaml:"anthropic_api_key" mapstructure:"anthropic_api_key"`

	// TimeoutSecs maps provider name to per-call timeout in seconds.
	TimeoutSecs map[string]int `yaml:"provider_timeouts" mapstructure:"provider_timeouts"`

	RateLimitPerMinute int `yaml:"rate_limit_per_minute" mapstructure:"rate_limit_per_minute"`
}

// Timeouts converts the per-provider timeout table to durations.
func (p ProvidersConfig) Timeouts() map[string]time.Duration {
	out := make(map[string]time.Duration, len(p.TimeoutSecs))
	for name, secs := range p.TimeoutSecs {
		if secs > 0 {
			out[name] = time.Duration(secs) * time.Second
		}
	}
	return out
}

// Credentials bundles the configured API keys for chain construction.
func (p ProvidersConfig) Credentials() provider.Credentials {
	return provider.Credentials{
		DashScope: p.DashScopeKey,
		OpenAI:    p.OpenAIKey,
		DeepSeek:  p.DeepSeekKey,
		Anthropic: p.AnthropicKey,
	}
}

// MatchingConfig configures the hierarchical matcher.
type MatchingConfig struct {
	AutoMatchThreshold float64 `yaml:"auto_match_threshold" mapstructure:"auto_match_threshold"`
}

// AnalysisConfig configures the AI and guided-price engines.
type AnalysisConfig struct {
	MaxConcurrentAnalyses int     `yaml:"max_concurrent_analyses" mapstructure:"max_concurrent_analyses"`
	GuidedPriceThreshold  float64 `yaml:"guided_price_threshold" mapstructure:"guided_price_threshold"`
	TopAdjustments        int     `yaml:"top_adjustments" mapstructure:"top_adjustments"`
}

// ServerConfig configures the HTTP server.
type ServerConfig struct {
	Port int `yaml:"port" mapstructure:"port"`
}

// LogConfig configures logging.
type LogConfig struct {
	Level  string `yaml:"level" mapstructure:"level"`
	Format string `yaml:"format" mapstructure:"format"`
}

// Load reads configuration from file and environment.
func Load() (*Config, error) {
	v := viper.New()

	// Config file
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")

	// Environment
	v.SetEnvPrefix("AUDIT")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Defaults
	v.SetDefault("store.driver", "postgres")
	v.SetDefault("store.max_conns", 10)
	v.SetDefault("store.min_conns", 2)
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")
	v.SetDefault("server.port", 8080)
	v.SetDefault("providers.provider_timeouts", map[string]int{"dashscope": 150})
	v.SetDefault("providers.rate_limit_per_minute", 100)
	v.SetDefault("matching.auto_match_threshold", 0.85)
	v.SetDefault("analysis.max_concurrent_analyses", 20)
	v.SetDefault("analysis.guided_price_threshold", 0.05)
	v.SetDefault("analysis.top_adjustments", 10)

	// Read config file (optional)
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, eris.Wrap(err, "config: read file")
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, eris.Wrap(err, "config: unmarshal")
	}

	return &cfg, nil
}

// Validate checks the fields a command mode depends on. Modes: "audit"
// (matching + analysis pipeline), "import" (catalogue/project ingest),
// "serve" (HTTP server).
func (c *Config) Validate(mode string) error {
	var problems []string

	requireDB := func() {
		if c.Store.Driver == "postgres" && c.Store.DatabaseURL == "" {
			problems = append(problems, "store.database_url is required for the postgres driver")
		}
	}

	switch mode {
	case "audit":
		requireDB()
		if c.Matching.AutoMatchThreshold < 0 || c.Matching.AutoMatchThreshold > 1 {
			problems = append(problems, "matching.auto_match_threshold must be in [0,1]")
		}
		if c.Analysis.MaxConcurrentAnalyses < 1 || c.Analysis.MaxConcurrentAnalyses > 100 {
			problems = append(problems, "analysis.max_concurrent_analyses must be between 1 and 100")
		}
		if c.Analysis.GuidedPriceThreshold <= 0 {
			problems = append(problems, "analysis.guided_price_threshold must be > 0")
		}
	case "import":
		requireDB()
	case "serve":
		requireDB()
		if c.Server.Port <= 0 {
			problems = append(problems, "server.port must be > 0")
		}
	default:
		return eris.Errorf("config: unknown mode %q", mode)
	}

	if len(problems) > 0 {
		return eris.New("config: " + strings.Join(problems, "; "))
	}
	return nil
}

// InitLogger initializes the global zap logger.
func InitLogger(cfg LogConfig) error {
	var zapCfg zap.Config
	if cfg.Format == "console" {
		zapCfg = zap.NewDevelopmentConfig()
	} else {
		zapCfg = zap.NewProductionConfig()
	}

	level, err := zapcore.ParseLevel(cfg.Level)
	if err != nil {
		return eris.Wrap(err, "config: parse log level")
	}
	zapCfg.Level.SetLevel(level)

	logger, err := zapCfg.Build()
	if err != nil {
		return eris.Wrap(err, "config: build logger")
	}
	zap.ReplaceGlobals(logger)

	return nil
}
