package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/go-viper/mapstructure/v2"
	"github.com/spf13/viper"
)

const EnvPrefix = "DOCINTEL"

type Config struct {
	App          AppConfig          `mapstructure:"app" yaml:"app"`
	Bus          BusConfig          `mapstructure:"bus" yaml:"bus"`
	Orchestrator OrchestratorConfig `mapstructure:"orchestrator" yaml:"orchestrator"`
	Agents       AgentsConfig       `mapstructure:"agents" yaml:"agents"`
	NLP          NLPConfig          `mapstructure:"nlp" yaml:"nlp"`
	LLM          LLMConfig          `mapstructure:"llm" yaml:"llm"`
	Store        StoreConfig        `mapstructure:"store" yaml:"store"`
	Redis        RedisConfig        `mapstructure:"redis" yaml:"redis"`
	SQLite       SQLiteConfig       `mapstructure:"sqlite" yaml:"sqlite"`
	NATS         NATSConfig         `mapstructure:"nats" yaml:"nats"`
}

type AppConfig struct {
	Port      string `mapstructure:"port" yaml:"port"`
	LogLevel  string `mapstructure:"log_level" yaml:"log_level"`
	LogFormat string `mapstructure:"log_format" yaml:"log_format"`
	NodeID    string `mapstructure:"node_id" yaml:"node_id"`
}

type BusConfig struct {
	HistorySize   int `mapstructure:"history_size" yaml:"history_size"`
	QueueCapacity int `mapstructure:"queue_capacity" yaml:"queue_capacity"`
}

type OrchestratorConfig struct {
	MaxRetries      int           `mapstructure:"max_retries" yaml:"max_retries"`
	StepTimeout     time.Duration `mapstructure:"step_timeout" yaml:"step_timeout"`
	RetryBackoff    time.Duration `mapstructure:"retry_backoff" yaml:"retry_backoff"`
	RetryBackoffMax time.Duration `mapstructure:"retry_backoff_max" yaml:"retry_backoff_max"`
}

// AgentsConfig holds replica counts per agent type.
type AgentsConfig struct {
	Curator        int           `mapstructure:"curator" yaml:"curator"`
	Analyzer       int           `mapstructure:"analyzer" yaml:"analyzer"`
	Summarizer     int           `mapstructure:"summarizer" yaml:"summarizer"`
	Query          int           `mapstructure:"query" yaml:"query"`
	HandlerTimeout time.Duration `mapstructure:"handler_timeout" yaml:"handler_timeout"`
}

type NLPConfig struct {
	ChunkSize        int   `mapstructure:"chunk_size" yaml:"chunk_size"`
	ChunkOverlap     int   `mapstructure:"chunk_overlap" yaml:"chunk_overlap"`
	MaxDocumentBytes int64 `mapstructure:"max_document_bytes" yaml:"max_document_bytes"`
	Keywords         int   `mapstructure:"keywords" yaml:"keywords"`
	Topics           int   `mapstructure:"topics" yaml:"topics"`
}

type LLMConfig struct {
	Provider  string `mapstructure:"provider" yaml:"provider"`
	Model     string `mapstructure:"model" yaml:"model"`
	APIKey    string `mapstructure:"api_key" yaml:"-" json:"-"`
	BaseURL   string `mapstructure:"base_url" yaml:"base_url"`
	MaxTokens int64  `mapstructure:"max_tokens" yaml:"max_tokens"`
}

type StoreConfig struct {
	Driver           string        `mapstructure:"driver" yaml:"driver"`
	CacheSize        int64         `mapstructure:"cache_size" yaml:"cache_size"`
	SnapshotInterval time.Duration `mapstructure:"snapshot_interval" yaml:"snapshot_interval"`
}

type RedisConfig struct {
	Addr     string        `mapstructure:"addr" yaml:"addr"`
	Password string        `mapstructure:"password" yaml:"-" json:"-"`
	DB       int           `mapstructure:"db" yaml:"db"`
	PoolSize int           `mapstructure:"pool_size" yaml:"pool_size"`
	TTL      time.Duration `mapstructure:"ttl" yaml:"ttl"`
}

type SQLiteConfig struct {
	Path string `mapstructure:"path" yaml:"path"`
}

type NATSConfig struct {
	Enabled       bool     `mapstructure:"enabled" yaml:"enabled"`
	URL           string   `mapstructure:"url" yaml:"url"`
	MaxReconnects int      `mapstructure:"max_reconnects" yaml:"max_reconnects"`
	SubjectPrefix string   `mapstructure:"subject_prefix" yaml:"subject_prefix"`
	Durable       string   `mapstructure:"durable" yaml:"durable"`
	Batch         int      `mapstructure:"batch" yaml:"batch"`
	Mirror        []string `mapstructure:"mirror" yaml:"mirror"`
}

// Loader owns one viper instance so the file can be watched after the first load.
type Loader struct {
	v *viper.Viper
}

func setDefaults(v *viper.Viper) {
	host, err := os.Hostname()
	if err != nil || host == "" {
		host = "docintel-1"
	}

	v.SetDefault("app.port", "8080")
	v.SetDefault("app.log_level", "info")
	v.SetDefault("app.log_format", "json")
	v.SetDefault("app.node_id", host)

	v.SetDefault("bus.history_size", 1000)
	v.SetDefault("bus.queue_capacity", 1000)

	v.SetDefault("orchestrator.max_retries", 3)
	v.SetDefault("orchestrator.step_timeout", "30s")
	v.SetDefault("orchestrator.retry_backoff", "500ms")
	v.SetDefault("orchestrator.retry_backoff_max", "10s")

	v.SetDefault("agents.curator", 1)
	v.SetDefault("agents.analyzer", 1)
	v.SetDefault("agents.summarizer", 1)
	v.SetDefault("agents.query", 1)
	v.SetDefault("agents.handler_timeout", "2m")

	v.SetDefault("nlp.chunk_size", 1000)
	v.SetDefault("nlp.chunk_overlap", 200)
	v.SetDefault("nlp.max_document_bytes", 50*1024*1024)
	v.SetDefault("nlp.keywords", 10)
	v.SetDefault("nlp.topics", 5)

	v.SetDefault("llm.provider", "none")
	v.SetDefault("llm.model", "")
	v.SetDefault("llm.api_key", "")
	v.SetDefault("llm.base_url", "")
	v.SetDefault("llm.max_tokens", 512)

	v.SetDefault("store.driver", "none")
	v.SetDefault("store.cache_size", 1000)
	v.SetDefault("store.snapshot_interval", "15s")

	v.SetDefault("redis.addr", "localhost:6379")
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)
	v.SetDefault("redis.pool_size", 10)
	v.SetDefault("redis.ttl", "24h")

	v.SetDefault("sqlite.path", "data/docintel.db")

	v.SetDefault("nats.enabled", false)
	v.SetDefault("nats.url", "nats://localhost:4222")
	v.SetDefault("nats.max_reconnects", 10)
	v.SetDefault("nats.subject_prefix", "docintel")
	v.SetDefault("nats.durable", "docintel-worker")
	v.SetDefault("nats.batch", 10)
	// tipos de mensagem espelhados no NATS; vazio = todos
	v.SetDefault("nats.mirror", []string{})
}

// NewLoader reads defaults, the optional config file and DOCINTEL_* variables.
// An empty path falls back to DOCINTEL_CONFIG; with neither, no file is read.
func NewLoader(path string) (*Loader, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path == "" {
		path = os.Getenv(EnvPrefix + "_CONFIG")
	}
	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
	}

	return &Loader{v: v}, nil
}

// Load is NewLoader followed by Config.
func Load(path string) (*Config, error) {
	l, err := NewLoader(path)
	if err != nil {
		return nil, err
	}
	return l.Config()
}

func (l *Loader) Config() (*Config, error) {
	var cfg Config
	err := l.v.Unmarshal(&cfg, viper.DecodeHook(mapstructure.ComposeDecodeHookFunc(
		mapstructure.StringToTimeDurationHookFunc(),
		mapstructure.StringToSliceHookFunc(","),
	)))
	if err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// File is the config file in use, empty when running on defaults and env.
func (l *Loader) File() string {
	return l.v.ConfigFileUsed()
}

// Watch calls onChange with the reloaded configuration every time the config
// file changes. Reload errors are passed with a nil config. No-op without a file.
func (l *Loader) Watch(onChange func(cfg *Config, event fsnotify.Event, err error)) {
	if l.v.ConfigFileUsed() == "" {
		return
	}
	l.v.OnConfigChange(func(e fsnotify.Event) {
		cfg, err := l.Config()
		onChange(cfg, e, err)
	})
	l.v.WatchConfig()
}

func (c *Config) Validate() error {
	switch c.Store.Driver {
	case "none", "redis", "sqlite":
	default:
		return fmt.Errorf("invalid store.driver %q", c.Store.Driver)
	}
	if c.Bus.QueueCapacity <= 0 {
		return fmt.Errorf("bus.queue_capacity must be positive")
	}
	if c.NLP.ChunkOverlap >= c.NLP.ChunkSize {
		return fmt.Errorf("nlp.chunk_overlap must be smaller than nlp.chunk_size")
	}
	if c.Orchestrator.MaxRetries <= 0 {
		return fmt.Errorf("orchestrator.max_retries must be positive")
	}
	return nil
}

// Reloadable reports which settings differ between old and next that can take
// effect without a restart, and which cannot.
func Reloadable(old, next *Config) (live, restart []string) {
	if old.App.LogLevel != next.App.LogLevel {
		live = append(live, "app.log_level")
	}
	if old.App.Port != next.App.Port {
		restart = append(restart, "app.port")
	}
	if old.Bus != next.Bus {
		restart = append(restart, "bus")
	}
	if old.Orchestrator != next.Orchestrator {
		restart = append(restart, "orchestrator")
	}
	if old.Agents != next.Agents {
		restart = append(restart, "agents")
	}
	if old.NLP != next.NLP {
		restart = append(restart, "nlp")
	}
	if old.LLM != next.LLM {
		restart = append(restart, "llm")
	}
	if old.Store != next.Store || old.Redis != next.Redis || old.SQLite != next.SQLite {
		restart = append(restart, "store")
	}
	if old.NATS.URL != next.NATS.URL || old.NATS.Enabled != next.NATS.Enabled ||
		old.NATS.SubjectPrefix != next.NATS.SubjectPrefix {
		restart = append(restart, "nats")
	}
	return live, restart
}
