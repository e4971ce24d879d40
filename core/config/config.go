package config

import (
	"fmt"
	"os"
	"strings"

	"github.com/kelseyhightower/envconfig"
	"gopkg.in/yaml.v3"
)

// TelegramConfig holds Telegram bot related settings that are common for all bots.
type TelegramConfig struct {
	Token    string `yaml:"token" envconfig:"BOT_TOKEN"`
	Username string `yaml:"username" envconfig:"BOT_USERNAME"`
	// AdminID is the only user allowed to run admin-only commands; 0 disables them.
	AdminID int64  `yaml:"admin_id" envconfig:"TELEGRAM_ADMIN_ID"`
	RunMode string `yaml:"run_mode" envconfig:"TELEGRAM_RUN_MODE"`
	// LongPollTimeoutSeconds defines long polling timeout; 0 -> default
	LongPollTimeoutSeconds int `yaml:"longpoll_timeout_seconds" envconfig:"TELEGRAM_LONGPOLL_TIMEOUT_SECONDS"`
}

// WebhookConfig specifies webhook settings.
type WebhookConfig struct {
	URL    string `yaml:"url" envconfig:"WEBHOOK_URL"`
	Listen string `yaml:"listen" envconfig:"WEBHOOK_LISTEN"`
	Port   int    `yaml:"port" envconfig:"WEBHOOK_PORT"`
}

// LoggingConfig defines logging related configuration.
type LoggingConfig struct {
	Level       string `yaml:"level" envconfig:"LOG_LEVEL"`
	Format      string `yaml:"format" envconfig:"LOG_FORMAT"`
	KeysOrder   string `yaml:"keys_order"`
	DebugSample string `yaml:"debug_sample"`
	Dir         string `yaml:"dir"`
	BotFile     string `yaml:"bot_file"`
	// Profile indicates environment profile such as "debug" or "prod".
	Profile string `yaml:"profile" envconfig:"LOG_PROFILE"`
}

const (
	// RunModeWebhook selects webhook mode for Telegram updates.
	RunModeWebhook = "webhook"
	// RunModeLongpoll selects long-polling mode for Telegram updates.
	RunModeLongpoll = "longpoll"
)

const (
	// UpdateCallback identifies callback updates for rate limit exclusions.
	UpdateCallback = "callback"
	// UpdateMessage identifies message updates for rate limit exclusions.
	UpdateMessage = "message"
	// UpdateInlineQuery identifies inline query updates for rate limit exclusions.
	UpdateInlineQuery = "inline_query"
)

// RateLimitConfig holds settings for inbound rate limiting.
// ExcludeUpdates accepts update types to bypass limiting:
// - "callback": Telegram callback button presses
// - "message": standard text messages
// - "inline_query": inline query updates
type RateLimitConfig struct {
	IntervalMS     int      `yaml:"interval_ms" envconfig:"RATE_LIMIT_INTERVAL_MS"`
	ExcludeUpdates []string `yaml:"exclude_updates" envconfig:"RATE_LIMIT_EXCLUDE_UPDATES"`
}

const (
	// BackendMemory keeps dialog state in process memory.
	BackendMemory = "memory"
	// BackendSQL keeps dialog state and callback contents in the SQL database.
	BackendSQL = "sql"
	// BackendRedis keeps dialog state in Redis; callback contents stay in SQL.
	BackendRedis = "redis"
)

// DefaultMaxCallbackContentsPerUser caps spilled callback payloads per user.
const DefaultMaxCallbackContentsPerUser = 20

// ChainConfig configures conversation chains and callback tokens.
type ChainConfig struct {
	// MaxCallbackContentsPerUser bounds stored callback payloads per user; -1 disables the cap.
	MaxCallbackContentsPerUser *int   `yaml:"max_callback_contents_per_user" envconfig:"CHAIN_MAX_CALLBACK_CONTENTS_PER_USER"`
	DispatchTimeoutMS          int    `yaml:"dispatch_timeout_ms" envconfig:"CHAIN_DISPATCH_TIMEOUT_MS"`
	ClearContentOnEnd          bool   `yaml:"clear_content_on_end" envconfig:"CHAIN_CLEAR_CONTENT_ON_END"`
	StateBackend               string `yaml:"state_backend" envconfig:"CHAIN_STATE_BACKEND"`
	ContentBackend             string `yaml:"content_backend" envconfig:"CHAIN_CONTENT_BACKEND"`
	RecordMessages             bool   `yaml:"record_messages" envconfig:"CHAIN_RECORD_MESSAGES"`
	StorageRetries             int    `yaml:"storage_retries" envconfig:"CHAIN_STORAGE_RETRIES"`
}

// MaxContentsPerUser returns the configured cap or the default when unset.
func (c ChainConfig) MaxContentsPerUser() int {
	if c.MaxCallbackContentsPerUser == nil {
		return DefaultMaxCallbackContentsPerUser
	}
	return *c.MaxCallbackContentsPerUser
}

// RedisConfig describes the optional Redis connection used for state and locks.
type RedisConfig struct {
	Addr      string `yaml:"addr" envconfig:"REDIS_ADDR"`
	Password  string `yaml:"password" envconfig:"REDIS_PASSWORD"`
	DB        int    `yaml:"db" envconfig:"REDIS_DB"`
	StateTTLS int    `yaml:"state_ttl_seconds" envconfig:"REDIS_STATE_TTL_SECONDS"`
	// LockTTLMS bounds how long an identity lock survives a crashed holder.
	LockTTLMS  int  `yaml:"lock_ttl_ms" envconfig:"REDIS_LOCK_TTL_MS"`
	Distribute bool `yaml:"distributed_locks" envconfig:"REDIS_DISTRIBUTED_LOCKS"`
}

// MetricsConfig exposes Prometheus metrics over HTTP when Listen is set.
type MetricsConfig struct {
	Listen string `yaml:"listen" envconfig:"METRICS_LISTEN"`
}

// Config aggregates the configuration that belongs to the reusable core.
type Config struct {
	Telegram  TelegramConfig  `yaml:"telegram"`
	Webhook   WebhookConfig   `yaml:"webhook"`
	Logging   LoggingConfig   `yaml:"logging"`
	RateLimit RateLimitConfig `yaml:"rate_limit"`
	Chain     ChainConfig     `yaml:"chain"`
	Redis     RedisConfig     `yaml:"redis"`
	Metrics   MetricsConfig   `yaml:"metrics"`
}

// Load reads configuration from a YAML file and environment variables.
func Load(path string) (*Config, error) {
	var cfg Config
	if err := LoadInto(path, &cfg); err != nil {
		return nil, err
	}
	if err := Normalize(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// LoadInto decodes YAML at path into dst and overlays environment variables.
// It lets applications embed Config into a larger structure.
func LoadInto(path string, dst any) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read config file: %w", err)
	}
	if err := yaml.Unmarshal(data, dst); err != nil {
		return fmt.Errorf("failed to parse YAML config: %w", err)
	}
	if err := envconfig.Process("", dst); err != nil {
		return fmt.Errorf("failed to process env: %w", err)
	}
	return nil
}

// Normalize performs basic validation of required configuration fields and adjusts defaults.
func Normalize(cfg *Config) error {
	if cfg == nil {
		return fmt.Errorf("nil config")
	}

	if cfg.Telegram.Token == "" {
		return fmt.Errorf("telegram token is required")
	}

	rm := strings.ToLower(strings.TrimSpace(cfg.Telegram.RunMode))
	if rm == "" {
		rm = RunModeLongpoll
	}
	if rm == "polling" { // accept alias
		rm = RunModeLongpoll
	}
	switch rm {
	case RunModeWebhook:
		if strings.TrimSpace(cfg.Webhook.URL) == "" {
			return fmt.Errorf("webhook.url is required when telegram.run_mode is 'webhook'")
		}
		if strings.TrimSpace(cfg.Webhook.Listen) == "" {
			return fmt.Errorf("webhook.listen is required when telegram.run_mode is 'webhook'")
		}
		if cfg.Webhook.Port <= 0 {
			return fmt.Errorf("webhook.port must be > 0 when telegram.run_mode is 'webhook'")
		}
	case RunModeLongpoll:
		if cfg.Telegram.LongPollTimeoutSeconds < 0 {
			return fmt.Errorf("telegram.longpoll_timeout_seconds must be >= 0")
		}
	default:
		return fmt.Errorf("invalid telegram.run_mode %q; allowed: webhook, longpoll", cfg.Telegram.RunMode)
	}
	cfg.Telegram.RunMode = rm

	allowed := map[string]struct{}{
		UpdateCallback:    {},
		UpdateMessage:     {},
		UpdateInlineQuery: {},
	}
	for i, v := range cfg.RateLimit.ExcludeUpdates {
		key := strings.ToLower(strings.TrimSpace(v))
		if key == "" {
			continue
		}
		if _, ok := allowed[key]; !ok {
			return fmt.Errorf("invalid rate_limit.exclude_updates value %q; allowed: callback, message, inline_query", v)
		}
		cfg.RateLimit.ExcludeUpdates[i] = key
	}

	return normalizeChain(cfg)
}

func normalizeChain(cfg *Config) error {
	ch := &cfg.Chain
	if n := ch.MaxContentsPerUser(); n < -1 || n == 0 {
		return fmt.Errorf("chain.max_callback_contents_per_user must be -1 or >= 1, got %d", n)
	}
	if ch.DispatchTimeoutMS < 0 {
		return fmt.Errorf("chain.dispatch_timeout_ms must be >= 0")
	}
	if ch.StorageRetries < 0 {
		return fmt.Errorf("chain.storage_retries must be >= 0")
	}

	state := strings.ToLower(strings.TrimSpace(ch.StateBackend))
	if state == "" {
		state = BackendSQL
	}
	switch state {
	case BackendMemory, BackendSQL:
	case BackendRedis:
		if strings.TrimSpace(cfg.Redis.Addr) == "" {
			return fmt.Errorf("redis.addr is required when chain.state_backend is 'redis'")
		}
	default:
		return fmt.Errorf("invalid chain.state_backend %q; allowed: memory, sql, redis", ch.StateBackend)
	}
	ch.StateBackend = state

	content := strings.ToLower(strings.TrimSpace(ch.ContentBackend))
	if content == "" {
		content = BackendSQL
		if state == BackendMemory {
			content = BackendMemory
		}
	}
	if content != BackendMemory && content != BackendSQL {
		return fmt.Errorf("invalid chain.content_backend %q; allowed: memory, sql", ch.ContentBackend)
	}
	ch.ContentBackend = content

	if cfg.Redis.Distribute && strings.TrimSpace(cfg.Redis.Addr) == "" {
		return fmt.Errorf("redis.addr is required when redis.distributed_locks is enabled")
	}
	return nil
}

// UsesSQL reports whether any chain component needs the SQL database.
func (c *Config) UsesSQL() bool {
	return c.Chain.StateBackend == BackendSQL || c.Chain.ContentBackend == BackendSQL
}

// UsesRedis reports whether a Redis client must be created.
func (c *Config) UsesRedis() bool {
	return c.Chain.StateBackend == BackendRedis || c.Redis.Distribute
}
