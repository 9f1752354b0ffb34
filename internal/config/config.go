package config

import (
	"strings"
	"time"

	"github.com/spf13/viper"
	"go.uber.org/zap"
)

// Config holds the resolved configuration for the queue, the worker
// and every downstream collaborator.
type Config struct {
	Port   string `mapstructure:"port"`
	Debug  bool   `mapstructure:"debug"`
	DBPath string `mapstructure:"db_path"`

	Worker WorkerConfig `mapstructure:"worker"`
	Queue  QueueConfig  `mapstructure:"queue"`
	Audio  AudioConfig  `mapstructure:"audio"`
	Payout PayoutConfig `mapstructure:"payout"`
	Mail   MailConfig   `mapstructure:"mail"`
}

type WorkerConfig struct {
	MaxBatch      int           `mapstructure:"max_batch"`
	Budget        time.Duration `mapstructure:"budget"`
	InterJobDelay time.Duration `mapstructure:"inter_job_delay"`
}

type QueueConfig struct {
	MaxRetries      int           `mapstructure:"max_retries"`
	BackoffBase     time.Duration `mapstructure:"backoff_base"`
	BackoffMax      time.Duration `mapstructure:"backoff_max"`
	StuckTimeout    time.Duration `mapstructure:"stuck_timeout"`
	RateLimitWindow time.Duration `mapstructure:"rate_limit_window"`
	RateLimitMax    int           `mapstructure:"rate_limit_max"`
}

type AudioConfig struct {
	EngineURL    string        `mapstructure:"engine_url"`
	PollInterval time.Duration `mapstructure:"poll_interval"`
	MaxPolls     int           `mapstructure:"max_polls"`
}

type PayoutConfig struct {
	ProviderURL        string `mapstructure:"provider_url"`
	APIKey             string `mapstructure:"api_key"`
	Currency           string `mapstructure:"currency"`
	MinimumCents       int64  `mapstructure:"minimum_cents"`
	PlatformFeePct     int64  `mapstructure:"platform_fee_pct"`
	ProcessingFeeCents int64  `mapstructure:"processing_fee_cents"`
}

type MailConfig struct {
	ServiceURL string `mapstructure:"service_url"`
	From       string `mapstructure:"from"`
}

// Load reads worker.yaml if present, applies WORKER_* env overrides and
// falls back to defaults.
func Load(logger *zap.Logger) (*Config, error) {
	v := viper.New()

	v.SetDefault("port", "4280")
	v.SetDefault("debug", false)
	v.SetDefault("db_path", "./data/queue.db")

	v.SetDefault("worker.max_batch", 10)
	v.SetDefault("worker.budget", 9*time.Minute)
	v.SetDefault("worker.inter_job_delay", 200*time.Millisecond)

	v.SetDefault("queue.max_retries", 3)
	v.SetDefault("queue.backoff_base", 30*time.Second)
	v.SetDefault("queue.backoff_max", time.Hour)
	v.SetDefault("queue.stuck_timeout", 10*time.Minute)
	v.SetDefault("queue.rate_limit_window", time.Minute)
	v.SetDefault("queue.rate_limit_max", 5)

	v.SetDefault("audio.engine_url", "")
	v.SetDefault("audio.poll_interval", 5*time.Second)
	v.SetDefault("audio.max_polls", 60)

	v.SetDefault("payout.provider_url", "")
	v.SetDefault("payout.api_key", "")
	v.SetDefault("payout.currency", "usd")
	v.SetDefault("payout.minimum_cents", 1000)
	v.SetDefault("payout.platform_fee_pct", 15)
	v.SetDefault("payout.processing_fee_cents", 55)

	v.SetDefault("mail.service_url", "")
	v.SetDefault("mail.from", "noreply@auralane.app")

	v.SetConfigName("worker")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.AddConfigPath("./config")

	v.SetEnvPrefix("worker")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); ok {
			logger.Warn("config file not found, using defaults")
		} else {
			return nil, err
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}
