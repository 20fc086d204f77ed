package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/tradewire/chatkit/pkg/log"
)

type Config struct {
	API    APIConfig
	Socket SocketConfig
	Media  MediaConfig
	Log    log.Config
}

type APIConfig struct {
	BaseURL string        `mapstructure:"base_url"`
	Timeout time.Duration `mapstructure:"timeout"`
}

type SocketConfig struct {
	URL               string        `mapstructure:"url"`
	PingInterval      time.Duration `mapstructure:"ping_interval"`
	PongWait          time.Duration `mapstructure:"pong_wait"`
	WriteWait         time.Duration `mapstructure:"write_wait"`
	MaxMessageSize    int64         `mapstructure:"max_message_size"`
	ReconnectAttempts int           `mapstructure:"reconnect_attempts"`
	ReconnectDelay    time.Duration `mapstructure:"reconnect_delay"`
	ReconnectMaxDelay time.Duration `mapstructure:"reconnect_max_delay"`
}

type MediaConfig struct {
	Endpoint        string `mapstructure:"endpoint"`
	Region          string `mapstructure:"region"`
	Bucket          string `mapstructure:"bucket"`
	AccessKeyID     string `mapstructure:"access_key_id"`
	SecretAccessKey string `mapstructure:"secret_access_key"`
	UsePathStyle    bool   `mapstructure:"use_path_style"`
	PublicURL       string `mapstructure:"public_url"`
}

func Load() (*Config, error) {
	v := viper.New()

	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.AddConfigPath("./config")

	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
		// No config file: rely on defaults and env vars.
	}

	// Set defaults
	v.SetDefault("api.base_url", "http://localhost:8080")
	v.SetDefault("api.timeout", "10s")
	v.SetDefault("socket.url", "ws://localhost:8080/chat/ws")
	v.SetDefault("socket.ping_interval", "30s")
	v.SetDefault("socket.pong_wait", "60s")
	v.SetDefault("socket.write_wait", "10s")
	v.SetDefault("socket.max_message_size", 4096)
	v.SetDefault("socket.reconnect_attempts", 5)
	v.SetDefault("socket.reconnect_delay", "1s")
	v.SetDefault("socket.reconnect_max_delay", "15s")
	v.SetDefault("media.region", "us-east-1")
	v.SetDefault("media.bucket", "chat-media")
	v.SetDefault("media.use_path_style", false)
	v.SetDefault("log.level", "info")
	v.SetDefault("log.pretty", false)

	// Override from environment
	v.BindEnv("api.base_url", "CHAT_API_BASE_URL")
	v.BindEnv("socket.url", "CHAT_SOCKET_URL")
	v.BindEnv("media.endpoint", "MEDIA_ENDPOINT")
	v.BindEnv("media.bucket", "MEDIA_BUCKET")
	v.BindEnv("media.access_key_id", "MEDIA_ACCESS_KEY_ID")
	v.BindEnv("media.secret_access_key", "MEDIA_SECRET_ACCESS_KEY")
	v.BindEnv("log.level", "LOG_LEVEL")

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	// Parse durations
	cfg.API.Timeout = parseDuration(v, "api.timeout", 10*time.Second)
	cfg.Socket.PingInterval = parseDuration(v, "socket.ping_interval", 30*time.Second)
	cfg.Socket.PongWait = parseDuration(v, "socket.pong_wait", 60*time.Second)
	cfg.Socket.WriteWait = parseDuration(v, "socket.write_wait", 10*time.Second)
	cfg.Socket.ReconnectDelay = parseDuration(v, "socket.reconnect_delay", time.Second)
	cfg.Socket.ReconnectMaxDelay = parseDuration(v, "socket.reconnect_max_delay", 15*time.Second)

	return &cfg, nil
}

func parseDuration(v *viper.Viper, key string, defaultVal time.Duration) time.Duration {
	str := v.GetString(key)
	d, err := time.ParseDuration(str)
	if err != nil {
		return defaultVal
	}
	return d
}
