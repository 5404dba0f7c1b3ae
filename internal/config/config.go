// Package config loads server settings from defaults, the environment
// (ROOMCAST_*, optionally seeded from a .env file) and a JSON file.
package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// EnvPrefix prefixes every environment variable the server reads.
const EnvPrefix = "ROOMCAST_"

type Config struct {
	Database  *DatabaseConfig  `json:"database"`
	HTTP      *HTTPConfig      `json:"http"`
	WebSocket *WebSocketConfig `json:"websocket"`
	Log       *LogConfig       `json:"log"`
}

type DatabaseConfig struct {
	Path    string        `json:"path"`
	Timeout time.Duration `json:"timeout"`
}

type HTTPConfig struct {
	Port         int           `json:"port"`
	ReadTimeout  time.Duration `json:"read_timeout"`
	WriteTimeout time.Duration `json:"write_timeout"`
	Host         string        `json:"host"`
}

// WebSocketConfig covers the realtime transport and inbound frame policing.
type WebSocketConfig struct {
	PingInterval    time.Duration `json:"ping_interval"`
	ReadTimeout     time.Duration `json:"read_timeout"`
	WriteTimeout    time.Duration `json:"write_timeout"`
	BufferSize      int           `json:"buffer_size"`
	MaxMessageBytes int64         `json:"max_message_bytes"`
	FramesPerSecond float64       `json:"frames_per_second"`
	FrameBurst      int           `json:"frame_burst"`
	AllowedOrigins  []string      `json:"allowed_origins"`
}

type LogConfig struct {
	Level  string `json:"level"`
	Format string `json:"format"`
}

// Addr returns host:port for the HTTP listener.
func (c *HTTPConfig) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

func DefaultConfig() *Config {
	return &Config{
		Database: &DatabaseConfig{
			Path:    "./roomcast.db",
			Timeout: 30 * time.Second,
		},
		HTTP: &HTTPConfig{
			Port:         8080,
			ReadTimeout:  30 * time.Second,
			WriteTimeout: 30 * time.Second,
			Host:         "0.0.0.0",
		},
		WebSocket: &WebSocketConfig{
			PingInterval:    30 * time.Second,
			ReadTimeout:     60 * time.Second,
			WriteTimeout:    10 * time.Second,
			BufferSize:      64,
			MaxMessageBytes: 4096,
			FramesPerSecond: 10,
			FrameBurst:      20,
		},
		Log: &LogConfig{
			Level:  "info",
			Format: "text",
		},
	}
}

func (c *Config) Validate() error {
	if c.Database == nil {
		return fmt.Errorf("database configuration is required")
	}
	if c.Database.Path == "" {
		return fmt.Errorf("database path cannot be empty")
	}
	if c.Database.Timeout <= 0 {
		return fmt.Errorf("database timeout must be positive")
	}

	if c.HTTP == nil {
		return fmt.Errorf("HTTP configuration is required")
	}
	if c.HTTP.Port <= 0 || c.HTTP.Port > 65535 {
		return fmt.Errorf("HTTP port must be between 1 and 65535")
	}
	if c.HTTP.ReadTimeout <= 0 {
		return fmt.Errorf("HTTP read timeout must be positive")
	}
	if c.HTTP.WriteTimeout <= 0 {
		return fmt.Errorf("HTTP write timeout must be positive")
	}
	if c.HTTP.Host == "" {
		return fmt.Errorf("HTTP host cannot be empty")
	}

	if c.WebSocket == nil {
		return fmt.Errorf("WebSocket configuration is required")
	}
	if c.WebSocket.PingInterval <= 0 {
		return fmt.Errorf("WebSocket ping interval must be positive")
	}
	if c.WebSocket.ReadTimeout <= c.WebSocket.PingInterval {
		return fmt.Errorf("WebSocket read timeout must exceed the ping interval")
	}
	if c.WebSocket.WriteTimeout <= 0 {
		return fmt.Errorf("WebSocket write timeout must be positive")
	}
	if c.WebSocket.BufferSize <= 0 {
		return fmt.Errorf("WebSocket buffer size must be positive")
	}
	if c.WebSocket.MaxMessageBytes <= 0 {
		return fmt.Errorf("WebSocket max message bytes must be positive")
	}
	if c.WebSocket.FramesPerSecond < 0 {
		return fmt.Errorf("WebSocket frames per second cannot be negative")
	}
	if c.WebSocket.FrameBurst <= 0 {
		return fmt.Errorf("WebSocket frame burst must be positive")
	}

	if c.Log == nil {
		return fmt.Errorf("log configuration is required")
	}
	switch strings.ToLower(c.Log.Level) {
	case "debug", "info", "warn", "warning", "error":
	default:
		return fmt.Errorf("log level must be one of debug, info, warn, error")
	}
	switch strings.ToLower(c.Log.Format) {
	case "text", "json":
	default:
		return fmt.Errorf("log format must be text or json")
	}

	return nil
}

// LoadFromEnv overlays ROOMCAST_* variables on the defaults. Unparseable
// values are ignored.
func LoadFromEnv() *Config {
	config := DefaultConfig()

	envInt("HTTP_PORT", &config.HTTP.Port)
	envString("HTTP_HOST", &config.HTTP.Host)
	envDuration("HTTP_READ_TIMEOUT", &config.HTTP.ReadTimeout)
	envDuration("HTTP_WRITE_TIMEOUT", &config.HTTP.WriteTimeout)

	envString("DATABASE_PATH", &config.Database.Path)
	envDuration("DATABASE_TIMEOUT", &config.Database.Timeout)

	envDuration("WEBSOCKET_PING_INTERVAL", &config.WebSocket.PingInterval)
	envDuration("WEBSOCKET_READ_TIMEOUT", &config.WebSocket.ReadTimeout)
	envDuration("WEBSOCKET_WRITE_TIMEOUT", &config.WebSocket.WriteTimeout)
	envInt("WEBSOCKET_BUFFER_SIZE", &config.WebSocket.BufferSize)
	if v, ok := lookup("WEBSOCKET_MAX_MESSAGE_BYTES"); ok {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			config.WebSocket.MaxMessageBytes = n
		}
	}
	if v, ok := lookup("WEBSOCKET_FRAMES_PER_SECOND"); ok {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			config.WebSocket.FramesPerSecond = f
		}
	}
	envInt("WEBSOCKET_FRAME_BURST", &config.WebSocket.FrameBurst)
	if v, ok := lookup("WEBSOCKET_ALLOWED_ORIGINS"); ok {
		config.WebSocket.AllowedOrigins = splitList(v)
	}

	envString("LOG_LEVEL", &config.Log.Level)
	envString("LOG_FORMAT", &config.Log.Format)

	return config
}

// ConfigFile is the on-disk JSON shape, with durations as strings ("30s").
type ConfigFile struct {
	Database  *DatabaseConfigFile  `json:"database"`
	HTTP      *HTTPConfigFile      `json:"http"`
	WebSocket *WebSocketConfigFile `json:"websocket"`
	Log       *LogConfig           `json:"log"`
}

type DatabaseConfigFile struct {
	Path    string `json:"path"`
	Timeout string `json:"timeout"`
}

type HTTPConfigFile struct {
	Port         int    `json:"port"`
	ReadTimeout  string `json:"read_timeout"`
	WriteTimeout string `json:"write_timeout"`
	Host         string `json:"host"`
}

type WebSocketConfigFile struct {
	PingInterval    string   `json:"ping_interval"`
	ReadTimeout     string   `json:"read_timeout"`
	WriteTimeout    string   `json:"write_timeout"`
	BufferSize      int      `json:"buffer_size"`
	MaxMessageBytes int64    `json:"max_message_bytes"`
	FramesPerSecond *float64 `json:"frames_per_second"`
	FrameBurst      int      `json:"frame_burst"`
	AllowedOrigins  []string `json:"allowed_origins"`
}

// LoadFromFile reads a JSON config file over the defaults and validates it.
func LoadFromFile(filepath string) (*Config, error) {
	config := DefaultConfig()
	if err := applyFile(config, filepath); err != nil {
		return nil, err
	}
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration in %s: %w", filepath, err)
	}
	return config, nil
}

// LoadConfigWithPrecedence resolves file > environment > defaults. A .env
// file in the working directory, when present, seeds the environment
// without overriding variables that are already set. A missing config file
// is not an error; an unreadable or invalid one is.
func LoadConfigWithPrecedence(filepath string) (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("failed to load .env: %w", err)
	}

	config := LoadFromEnv()

	if filepath != "" {
		if err := applyFile(config, filepath); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return nil, err
		}
	}

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return config, nil
}

func applyFile(config *Config, filepath string) error {
	data, err := os.ReadFile(filepath)
	if err != nil {
		return fmt.Errorf("failed to read config file %s: %w", filepath, err)
	}

	var configFile ConfigFile
	if err := json.Unmarshal(data, &configFile); err != nil {
		return fmt.Errorf("failed to parse config file %s: %w", filepath, err)
	}

	if db := configFile.Database; db != nil {
		if db.Path != "" {
			config.Database.Path = db.Path
		}
		if err := parseDuration(db.Timeout, &config.Database.Timeout); err != nil {
			return fmt.Errorf("database.timeout: %w", err)
		}
	}

	if h := configFile.HTTP; h != nil {
		if h.Port > 0 {
			config.HTTP.Port = h.Port
		}
		if h.Host != "" {
			config.HTTP.Host = h.Host
		}
		if err := parseDuration(h.ReadTimeout, &config.HTTP.ReadTimeout); err != nil {
			return fmt.Errorf("http.read_timeout: %w", err)
		}
		if err := parseDuration(h.WriteTimeout, &config.HTTP.WriteTimeout); err != nil {
			return fmt.Errorf("http.write_timeout: %w", err)
		}
	}

	if ws := configFile.WebSocket; ws != nil {
		if ws.BufferSize > 0 {
			config.WebSocket.BufferSize = ws.BufferSize
		}
		if ws.MaxMessageBytes > 0 {
			config.WebSocket.MaxMessageBytes = ws.MaxMessageBytes
		}
		if ws.FramesPerSecond != nil {
			config.WebSocket.FramesPerSecond = *ws.FramesPerSecond
		}
		if ws.FrameBurst > 0 {
			config.WebSocket.FrameBurst = ws.FrameBurst
		}
		if ws.AllowedOrigins != nil {
			config.WebSocket.AllowedOrigins = ws.AllowedOrigins
		}
		if err := parseDuration(ws.PingInterval, &config.WebSocket.PingInterval); err != nil {
			return fmt.Errorf("websocket.ping_interval: %w", err)
		}
		if err := parseDuration(ws.ReadTimeout, &config.WebSocket.ReadTimeout); err != nil {
			return fmt.Errorf("websocket.read_timeout: %w", err)
		}
		if err := parseDuration(ws.WriteTimeout, &config.WebSocket.WriteTimeout); err != nil {
			return fmt.Errorf("websocket.write_timeout: %w", err)
		}
	}

	if l := configFile.Log; l != nil {
		if l.Level != "" {
			config.Log.Level = l.Level
		}
		if l.Format != "" {
			config.Log.Format = l.Format
		}
	}

	return nil
}

func parseDuration(s string, dst *time.Duration) error {
	if s == "" {
		return nil
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return err
	}
	*dst = d
	return nil
}

func lookup(name string) (string, bool) {
	v := strings.TrimSpace(os.Getenv(EnvPrefix + name))
	return v, v != ""
}

func envString(name string, dst *string) {
	if v, ok := lookup(name); ok {
		*dst = v
	}
}

func envInt(name string, dst *int) {
	if v, ok := lookup(name); ok {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

func envDuration(name string, dst *time.Duration) {
	if v, ok := lookup(name); ok {
		if d, err := time.ParseDuration(v); err == nil {
			*dst = d
		}
	}
}

func splitList(v string) []string {
	var out []string
	for _, part := range strings.Split(v, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
