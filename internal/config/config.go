package config

import (
	"errors"
	"fmt"
	"log"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

const (
	configPathEnv     = "FUNDBOT_CONFIG"
	databaseDriverEnv = "DATABASE_DRIVER"
	databaseDSNEnv    = "DATABASE_DSN"
	llmAPIKeyEnv      = "LLM_API_KEY"
	openAIAPIKeyEnv   = "OPENAI_API_KEY"
	llmModelEnv       = "LLM_MODEL"
	llmEndpointEnv    = "LLM_ENDPOINT"
	webhookURLEnv     = "DISCORD_WEBHOOK_URL"
	portalsFileEnv    = "PORTALS_FILE"
	logLevelEnv       = "LOG_LEVEL"
	logFileEnv        = "LOG_FILE"
	pushgatewayEnv    = "PUSHGATEWAY_URL"
)

// ErrMissingSettings is returned by Validate when required settings are empty.
var ErrMissingSettings = errors.New("missing required settings")

// Config holds high-level settings required across the application.
type Config struct {
	Database      DatabaseConfig     `yaml:"database"`
	Scheduler     SchedulerConfig    `yaml:"scheduler"`
	Notifications NotificationConfig `yaml:"notifications"`
	LLM           LLMConfig          `yaml:"llm"`
	Fetch         FetchConfig        `yaml:"fetch"`
	Dedup         DedupConfig        `yaml:"dedup"`
	Logging       LoggingConfig      `yaml:"logging"`
	Metrics       MetricsConfig      `yaml:"metrics"`
	PortalsFile   string             `yaml:"portals_file"`
	Portals       map[string]string  `yaml:"portals"`
}

// DatabaseConfig selects the dedup store dialect and location.
type DatabaseConfig struct {
	Driver string `yaml:"driver"`
	DSN    string `yaml:"dsn"`
}

// SchedulerConfig controls the optional in-process run loop.
type SchedulerConfig struct {
	Every time.Duration `yaml:"every"`
}

// NotificationConfig encapsulates outbound channels.
type NotificationConfig struct {
	Discord DiscordConfig `yaml:"discord"`
}

// DiscordConfig wires the webhook sink.
type DiscordConfig struct {
	WebhookURL string         `yaml:"webhook_url"`
	Pacing     time.Duration  `yaml:"pacing"`
	Timeout    time.Duration  `yaml:"timeout"`
	Colors     map[string]int `yaml:"colors"`
	Retry      RetryConfig    `yaml:"retry"`
}

// LLMConfig defines how to contact the OpenAI-compatible chat API.
type LLMConfig struct {
	Endpoint     string        `yaml:"endpoint"`
	Model        string        `yaml:"model"`
	APIKey       string        `yaml:"api_key"`
	SystemPrompt string        `yaml:"system_prompt"`
	Temperature  float64       `yaml:"temperature"`
	Timeout      time.Duration `yaml:"timeout"`
	Retry        RetryConfig   `yaml:"retry"`
}

// FetchConfig controls portal page downloads.
type FetchConfig struct {
	UserAgent      string        `yaml:"user_agent"`
	Timeout        time.Duration `yaml:"timeout"`
	MaxContentSize int           `yaml:"max_content_size"`
	Retry          RetryConfig   `yaml:"retry"`
}

// RetryConfig mirrors backoff.Policy knobs in YAML form.
type RetryConfig struct {
	MaxRetries      int           `yaml:"max_retries"`
	BaseDelay       time.Duration `yaml:"base_delay"`
	MaxDelay        time.Duration `yaml:"max_delay"`
	ExponentialBase float64       `yaml:"exponential_base"`

	// maxRetriesSet records an explicit max_retries key so 0 can disable retries.
	maxRetriesSet bool
}

// UnmarshalYAML decodes the retry block and notes which keys were present.
func (r *RetryConfig) UnmarshalYAML(value *yaml.Node) error {
	type plain RetryConfig
	if err := value.Decode((*plain)(r)); err != nil {
		return err
	}
	if value.Kind == yaml.MappingNode {
		for i := 0; i+1 < len(value.Content); i += 2 {
			if value.Content[i].Value == "max_retries" {
				r.maxRetriesSet = true
			}
		}
	}
	return nil
}

// DedupConfig toggles how store read failures are treated.
type DedupConfig struct {
	Strict bool `yaml:"strict"`
}

// LoggingConfig sets the log level and an optional log file.
type LoggingConfig struct {
	Level string `yaml:"level"`
	File  string `yaml:"file"`
}

// MetricsConfig points at an optional Prometheus Pushgateway.
type MetricsConfig struct {
	PushgatewayURL string `yaml:"pushgateway_url"`
	Job            string `yaml:"job"`
}

// Load reads .env, the YAML configuration (if present) and applies environment
// overrides. A path argument takes precedence over FUNDBOT_CONFIG.
func Load(path string) Config {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		log.Printf("config: cannot load .env: %v", err)
	}

	cfg := defaultConfig()

	if path == "" {
		path = os.Getenv(configPathEnv)
	}
	if path != "" {
		if raw, err := os.ReadFile(path); err != nil {
			log.Printf("config: cannot read %s: %v (falling back to defaults)", path, err)
		} else {
			var fileCfg Config
			if err := yaml.Unmarshal(raw, &fileCfg); err != nil {
				log.Printf("config: cannot parse %s: %v (falling back to defaults)", path, err)
			} else {
				cfg = mergeConfig(cfg, fileCfg)
			}
		}
	}

	cfg.applyEnvOverrides()

	if len(cfg.Portals) == 0 {
		cfg.Portals = LoadPortals(cfg.PortalsFile)
	}

	return cfg
}

// Validate reports every required setting that is still empty.
func (c Config) Validate() error {
	var missing []string
	if strings.TrimSpace(c.LLM.APIKey) == "" {
		missing = append(missing, llmAPIKeyEnv)
	}
	if strings.TrimSpace(c.Notifications.Discord.WebhookURL) == "" {
		missing = append(missing, webhookURLEnv)
	}
	if len(missing) > 0 {
		return fmt.Errorf("%w: %s", ErrMissingSettings, strings.Join(missing, ", "))
	}
	return nil
}

// LoadPortals reads a source tag -> URL mapping from a JSON or YAML file.
// Missing or malformed files degrade to an empty mapping.
func LoadPortals(path string) map[string]string {
	if path == "" {
		return map[string]string{}
	}

	raw, err := os.ReadFile(path)
	if err != nil {
		log.Printf("config: portals file %s not found: %v", path, err)
		return map[string]string{}
	}

	var portals map[string]string
	if err := yaml.Unmarshal(raw, &portals); err != nil {
		log.Printf("config: portals file %s is malformed: %v", path, err)
		return map[string]string{}
	}
	if portals == nil {
		return map[string]string{}
	}

	return portals
}

func (c *Config) applyEnvOverrides() {
	if v := os.Getenv(databaseDriverEnv); v != "" {
		c.Database.Driver = v
	}

	if v := os.Getenv(databaseDSNEnv); v != "" {
		c.Database.DSN = v
	}

	if v := os.Getenv(openAIAPIKeyEnv); v != "" {
		c.LLM.APIKey = v
	}

	if v := os.Getenv(llmAPIKeyEnv); v != "" {
		c.LLM.APIKey = v
	}

	if v := os.Getenv(llmModelEnv); v != "" {
		c.LLM.Model = v
	}

	if v := os.Getenv(llmEndpointEnv); v != "" {
		c.LLM.Endpoint = v
	}

	if v := os.Getenv(webhookURLEnv); v != "" {
		c.Notifications.Discord.WebhookURL = v
	}

	if v := os.Getenv(portalsFileEnv); v != "" {
		c.PortalsFile = v
	}

	if v := os.Getenv(logLevelEnv); v != "" {
		c.Logging.Level = v
	}

	if v := os.Getenv(logFileEnv); v != "" {
		c.Logging.File = v
	}

	if v := os.Getenv(pushgatewayEnv); v != "" {
		c.Metrics.PushgatewayURL = v
	}
}

func mergeConfig(base, override Config) Config {
	if override.Database.Driver != "" {
		base.Database.Driver = override.Database.Driver
	}
	if override.Database.DSN != "" {
		base.Database.DSN = override.Database.DSN
	}

	if override.Scheduler.Every > 0 {
		base.Scheduler.Every = override.Scheduler.Every
	}

	discord := override.Notifications.Discord
	if discord.WebhookURL != "" {
		base.Notifications.Discord.WebhookURL = discord.WebhookURL
	}
	if discord.Pacing > 0 {
		base.Notifications.Discord.Pacing = discord.Pacing
	}
	if discord.Timeout > 0 {
		base.Notifications.Discord.Timeout = discord.Timeout
	}
	for tag, color := range discord.Colors {
		base.Notifications.Discord.Colors[tag] = color
	}
	base.Notifications.Discord.Retry = mergeRetry(base.Notifications.Discord.Retry, discord.Retry)

	if override.LLM.Endpoint != "" {
		base.LLM.Endpoint = override.LLM.Endpoint
	}
	if override.LLM.Model != "" {
		base.LLM.Model = override.LLM.Model
	}
	if override.LLM.APIKey != "" {
		base.LLM.APIKey = override.LLM.APIKey
	}
	if override.LLM.SystemPrompt != "" {
		base.LLM.SystemPrompt = override.LLM.SystemPrompt
	}
	if override.LLM.Temperature != 0 {
		base.LLM.Temperature = override.LLM.Temperature
	}
	if override.LLM.Timeout > 0 {
		base.LLM.Timeout = override.LLM.Timeout
	}
	base.LLM.Retry = mergeRetry(base.LLM.Retry, override.LLM.Retry)

	if override.Fetch.UserAgent != "" {
		base.Fetch.UserAgent = override.Fetch.UserAgent
	}
	if override.Fetch.Timeout > 0 {
		base.Fetch.Timeout = override.Fetch.Timeout
	}
	if override.Fetch.MaxContentSize > 0 {
		base.Fetch.MaxContentSize = override.Fetch.MaxContentSize
	}
	base.Fetch.Retry = mergeRetry(base.Fetch.Retry, override.Fetch.Retry)

	if override.Dedup.Strict {
		base.Dedup.Strict = true
	}

	if override.Logging.Level != "" {
		base.Logging.Level = override.Logging.Level
	}
	if override.Logging.File != "" {
		base.Logging.File = override.Logging.File
	}

	if override.Metrics.PushgatewayURL != "" {
		base.Metrics.PushgatewayURL = override.Metrics.PushgatewayURL
	}
	if override.Metrics.Job != "" {
		base.Metrics.Job = override.Metrics.Job
	}

	if override.PortalsFile != "" {
		base.PortalsFile = override.PortalsFile
	}
	if len(override.Portals) > 0 {
		base.Portals = override.Portals
	}

	return base
}

func mergeRetry(base, override RetryConfig) RetryConfig {
	if override.maxRetriesSet || override.MaxRetries > 0 {
		base.MaxRetries = override.MaxRetries
	}
	if override.BaseDelay > 0 {
		base.BaseDelay = override.BaseDelay
	}
	if override.MaxDelay > 0 {
		base.MaxDelay = override.MaxDelay
	}
	if override.ExponentialBase > 0 {
		base.ExponentialBase = override.ExponentialBase
	}
	return base
}

func defaultConfig() Config {
	return Config{
		Database: DatabaseConfig{Driver: "sqlite3", DSN: "fundbot.db"},
		Notifications: NotificationConfig{
			Discord: DiscordConfig{
				Pacing:  500 * time.Millisecond,
				Timeout: 30 * time.Second,
				Colors: map[string]int{
					"cdti":    0x1f77b4,
					"red.es":  0xff7f0e,
					"accio":   0x2ca02c,
					"default": 0x9467bd,
				},
				Retry: RetryConfig{MaxRetries: 3, BaseDelay: time.Second, MaxDelay: time.Minute, ExponentialBase: 2},
			},
		},
		LLM: LLMConfig{
			Endpoint:     "https://api.openai.com/v1/chat/completions",
			Model:        "gpt-4o-mini",
			SystemPrompt: "You help a company specialised in AI, data visualisation and dashboards find public funding.",
			Timeout:      60 * time.Second,
			Retry:        RetryConfig{MaxRetries: 2, BaseDelay: time.Second, MaxDelay: time.Minute, ExponentialBase: 2},
		},
		Fetch: FetchConfig{
			UserAgent:      "Mozilla/5.0 (compatible; FundBot/1.0)",
			Timeout:        20 * time.Second,
			MaxContentSize: 15000,
			Retry:          RetryConfig{MaxRetries: 3, BaseDelay: 2 * time.Second, MaxDelay: time.Minute, ExponentialBase: 2},
		},
		Logging:     LoggingConfig{Level: "info"},
		Metrics:     MetricsConfig{Job: "fundbot"},
		PortalsFile: "portales.json",
	}
}
