package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

// Config is the validated configuration a session runs with. System is
// fixed for the life of the process; Character is replaced on switch.
type Config struct {
	System    SystemConfig    `mapstructure:"system_config"`
	Character CharacterConfig `mapstructure:"-"`

	// character holds the raw character_config tree that Character was
	// decoded from. Alternates are merged over it.
	character map[string]any
}

type SystemConfig struct {
	Host           string        `mapstructure:"host"`
	Port           int           `mapstructure:"port"`
	ReadTimeout    time.Duration `mapstructure:"read_timeout"`
	WriteTimeout   time.Duration `mapstructure:"write_timeout"`
	MaxHeaderBytes int           `mapstructure:"max_header_bytes"`
	ConfigAltsDir  string        `mapstructure:"config_alts_dir"`
	CacheDir       string        `mapstructure:"cache_dir"`
	Live2DDir      string        `mapstructure:"live2d_dir"`
	BackgroundsDir string        `mapstructure:"backgrounds_dir"`
	FrontendDir    string        `mapstructure:"frontend_dir"`

	CORS     CORSConfig     `mapstructure:"cors"`
	Log      LogConfig      `mapstructure:"log"`
	Session  SessionConfig  `mapstructure:"session"`
	LiveChat LiveChatConfig `mapstructure:"live_chat"`
	Agent    AgentConfig    `mapstructure:"agent"`
	Storage  StorageConfig  `mapstructure:"storage"`
	Metrics  MetricsConfig  `mapstructure:"metrics"`
}

type CORSConfig struct {
	AllowedOrigins   []string `mapstructure:"allowed_origins"`
	AllowedMethods   []string `mapstructure:"allowed_methods"`
	AllowedHeaders   []string `mapstructure:"allowed_headers"`
	ExposedHeaders   []string `mapstructure:"exposed_headers"`
	AllowCredentials bool     `mapstructure:"allow_credentials"`
	MaxAge           int      `mapstructure:"max_age"`
}

type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

type SessionConfig struct {
	ReadyTimeout      time.Duration `mapstructure:"ready_timeout"`
	PollInterval      time.Duration `mapstructure:"poll_interval"`
	WriteTimeout      time.Duration `mapstructure:"write_timeout"`
	OutboundQueueSize int           `mapstructure:"outbound_queue_size"`
	MaxMessageBytes   int64         `mapstructure:"max_message_bytes"`
}

type LiveChatConfig struct {
	Provider         string        `mapstructure:"provider"`
	VideoID          string        `mapstructure:"video_id"`
	APIKey           string        `mapstructure:"api_key"`
	Endpoint         string        `mapstructure:"endpoint"`
	BatchSize        int           `mapstructure:"batch_size"`
	PollInterval     time.Duration `mapstructure:"poll_interval"`
	ReconnectBackoff time.Duration `mapstructure:"reconnect_backoff"`
}

type AgentConfig struct {
	MaxConcurrent      int  `mapstructure:"max_concurrent"`
	MaxHistoryMessages int  `mapstructure:"max_history_messages"`
	LogDetail          bool `mapstructure:"log_detail"`
}

type StorageConfig struct {
	Type          string        `mapstructure:"type"`
	DataDir       string        `mapstructure:"data_dir"`
	CacheSize     int           `mapstructure:"cache_size"`
	RedisAddr     string        `mapstructure:"redis_addr"`
	RedisPassword string        `mapstructure:"redis_password"`
	RedisDB       int           `mapstructure:"redis_db"`
	HistoryTTL    time.Duration `mapstructure:"history_ttl"`
}

type MetricsConfig struct {
	Enabled   bool   `mapstructure:"enabled"`
	Namespace string `mapstructure:"namespace"`
	Path      string `mapstructure:"path"`
}

// BaseConfigName is the selector that reloads the base file's character
// section instead of an alternate.
const BaseConfigName = "conf.yaml"

func setDefaults(v *viper.Viper) {
	v.SetDefault("system_config.host", "localhost")
	v.SetDefault("system_config.port", 12393)
	v.SetDefault("system_config.read_timeout", 30*time.Second)
	v.SetDefault("system_config.write_timeout", 30*time.Second)
	v.SetDefault("system_config.max_header_bytes", 1<<20)
	v.SetDefault("system_config.config_alts_dir", "characters")
	v.SetDefault("system_config.cache_dir", "cache")
	v.SetDefault("system_config.live2d_dir", "live2d-models")
	v.SetDefault("system_config.backgrounds_dir", "backgrounds")
	v.SetDefault("system_config.frontend_dir", "frontend")

	v.SetDefault("system_config.cors.allowed_origins", []string{"*"})
	v.SetDefault("system_config.cors.allowed_methods", []string{"GET", "POST", "OPTIONS"})
	v.SetDefault("system_config.cors.allowed_headers", []string{"Origin", "Content-Type", "Accept"})

	v.SetDefault("system_config.log.level", "info")
	v.SetDefault("system_config.log.format", "text")

	v.SetDefault("system_config.session.ready_timeout", 30*time.Second)
	v.SetDefault("system_config.session.poll_interval", time.Second)
	v.SetDefault("system_config.session.write_timeout", 10*time.Second)
	v.SetDefault("system_config.session.outbound_queue_size", 64)
	v.SetDefault("system_config.session.max_message_bytes", 64*1024)

	v.SetDefault("system_config.live_chat.provider", "youtube")
	v.SetDefault("system_config.live_chat.batch_size", 3)
	v.SetDefault("system_config.live_chat.poll_interval", 100*time.Millisecond)
	v.SetDefault("system_config.live_chat.reconnect_backoff", time.Second)

	v.SetDefault("system_config.agent.max_concurrent", 4)
	v.SetDefault("system_config.agent.max_history_messages", 20)

	v.SetDefault("system_config.storage.type", "memory")
	v.SetDefault("system_config.storage.data_dir", "data")
	v.SetDefault("system_config.storage.cache_size", 100)
	v.SetDefault("system_config.storage.history_ttl", 24*time.Hour)

	v.SetDefault("system_config.metrics.enabled", true)
	v.SetDefault("system_config.metrics.namespace", "vtuber")
	v.SetDefault("system_config.metrics.path", "/metrics")
}

// Load reads the base configuration file. The character section is decoded
// and validated the same way an alternate is on switch.
func Load(configPath string) (*Config, error) {
	v := viper.New()
	v.SetConfigFile(configPath)
	v.SetConfigType("yaml")

	v.SetEnvPrefix("VTUBER")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("read config %s: %w", configPath, err)
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("decode system_config: %w", err)
	}

	if cfg.System.LiveChat.APIKey == "" {
		cfg.System.LiveChat.APIKey = os.Getenv("YOUTUBE_API_KEY")
	}

	raw, err := readCharacterFile(configPath)
	if err != nil {
		if errors.Is(err, ErrNoData) {
			return nil, fmt.Errorf("%s: %w", configPath, ErrNoData)
		}
		return nil, fmt.Errorf("read config %s: %w", configPath, err)
	}

	character, err := DecodeCharacter(raw)
	if err != nil {
		return nil, err
	}
	if err := ValidateCharacter(character); err != nil {
		return nil, err
	}

	cfg.Character = *character
	cfg.character = raw
	return cfg, nil
}

// WithCharacter returns a copy of c carrying a new character section.
func (c *Config) WithCharacter(character CharacterConfig, raw map[string]any) *Config {
	return &Config{
		System:    c.System,
		Character: character,
		character: raw,
	}
}

// CharacterMap returns a deep copy of the raw character tree.
func (c *Config) CharacterMap() map[string]any {
	return DeepMerge(c.character, nil)
}

// readCharacterFile reads the character_config section of a YAML file.
// It bypasses viper so map keys such as expression names keep their case.
func readCharacterFile(path string) (map[string]any, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var doc struct {
		Character map[string]any `yaml:"character_config"`
	}
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, err
	}
	if len(doc.Character) == 0 {
		return nil, ErrNoData
	}
	return doc.Character, nil
}
