package config

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	apperrors "github.com/gmsas95/pillpal/internal/errors"
)

// Config holds all configuration for pillpal
type Config struct {
	Server    ServerConfig    `mapstructure:"server" yaml:"server"`
	Storage   StorageConfig   `mapstructure:"storage" yaml:"storage"`
	Security  SecurityConfig  `mapstructure:"security" yaml:"security"`
	Adherence AdherenceConfig `mapstructure:"adherence" yaml:"adherence"`
	Liveness  LivenessConfig  `mapstructure:"liveness" yaml:"liveness"`
	Notify    NotifyConfig    `mapstructure:"notify" yaml:"notify"`
	Breaker   BreakerConfig   `mapstructure:"breaker" yaml:"breaker"`
	Log       LogConfig       `mapstructure:"log" yaml:"log"`

	location *time.Location
}

// ServerConfig holds HTTP server settings
type ServerConfig struct {
	Address      string `mapstructure:"address" yaml:"address"`
	Port         int    `mapstructure:"port" yaml:"port"`
	ReadTimeout  int    `mapstructure:"read_timeout" yaml:"read_timeout"`
	WriteTimeout int    `mapstructure:"write_timeout" yaml:"write_timeout"`

	// RequestTimeout bounds the storage work behind one API request, in
	// seconds. Zero leaves requests without a deadline.
	RequestTimeout int `mapstructure:"request_timeout" yaml:"request_timeout"`
}

// StorageConfig holds database settings
type StorageConfig struct {
	Driver       string `mapstructure:"driver" yaml:"driver"` // sqlite or postgres
	DataDir      string `mapstructure:"data_dir" yaml:"data_dir"`
	SQLitePath   string `mapstructure:"sqlite_path" yaml:"sqlite_path"`
	PostgresDSN  string `mapstructure:"postgres_dsn" yaml:"postgres_dsn"`
	BadgerPath   string `mapstructure:"badger_path" yaml:"badger_path"`
	MaxOpenConns int    `mapstructure:"max_open_conns" yaml:"max_open_conns"`
}

// SecurityConfig holds security settings
type SecurityConfig struct {
	JWTSecret       string   `mapstructure:"jwt_secret" yaml:"jwt_secret"`
	TokenTTLMinutes int      `mapstructure:"token_ttl_minutes" yaml:"token_ttl_minutes"`
	AllowOrigins    []string `mapstructure:"allow_origins" yaml:"allow_origins"`
	DeviceRPS       float64  `mapstructure:"device_rps" yaml:"device_rps"`
	DeviceBurst     int      `mapstructure:"device_burst" yaml:"device_burst"`
}

// AdherenceConfig holds analytics settings
type AdherenceConfig struct {
	Timezone         string `mapstructure:"timezone" yaml:"timezone"`
	StreakWindowDays int    `mapstructure:"streak_window_days" yaml:"streak_window_days"`
}

// LivenessConfig holds the device liveness sweep settings
type LivenessConfig struct {
	Enabled      bool   `mapstructure:"enabled" yaml:"enabled"`
	Schedule     string `mapstructure:"schedule" yaml:"schedule"`
	OfflineAfter string `mapstructure:"offline_after" yaml:"offline_after"`
}

// NotifyConfig holds push delivery channels
type NotifyConfig struct {
	Telegram TelegramConfig `mapstructure:"telegram" yaml:"telegram"`
	Discord  DiscordConfig  `mapstructure:"discord" yaml:"discord"`
}

// TelegramConfig holds Telegram bot settings
type TelegramConfig struct {
	Enabled  bool   `mapstructure:"enabled" yaml:"enabled"`
	BotToken string `mapstructure:"bot_token" yaml:"bot_token"`

	// AdminChatID gets alerts for users who have not set a chat.
	AdminChatID int64 `mapstructure:"admin_chat_id" yaml:"admin_chat_id"`
}

// DiscordConfig holds Discord bot settings
type DiscordConfig struct {
	Enabled bool   `mapstructure:"enabled" yaml:"enabled"`
	Token   string `mapstructure:"token" yaml:"token"`

	// AdminChannelID gets alerts for users who have not set a channel.
	AdminChannelID string `mapstructure:"admin_channel_id" yaml:"admin_channel_id"`
}

// BreakerConfig holds storage circuit breaker settings
type BreakerConfig struct {
	MaxFailures    uint32 `mapstructure:"max_failures" yaml:"max_failures"`
	OpenTimeoutSec int    `mapstructure:"open_timeout_seconds" yaml:"open_timeout_seconds"`
}

// LogConfig holds logger settings
type LogConfig struct {
	Level       string `mapstructure:"level" yaml:"level"`
	Development bool   `mapstructure:"development" yaml:"development"`
}

// Load loads configuration from file, env, and defaults
func Load(configPath, dataDir string) (*Config, error) {
	v, err := newViper(configPath, dataDir)
	if err != nil {
		return nil, err
	}
	return decode(v)
}

// LoadWatched is Load plus a file watch; onChange receives every
// successfully re-decoded config.
func LoadWatched(configPath, dataDir string, onChange func(*Config)) (*Config, error) {
	v, err := newViper(configPath, dataDir)
	if err != nil {
		return nil, err
	}
	cfg, err := decode(v)
	if err != nil {
		return nil, err
	}
	if v.ConfigFileUsed() != "" {
		Watch(v, func(next *Config, err error) {
			if err == nil && onChange != nil {
				onChange(next)
			}
		})
	}
	return cfg, nil
}

// Watch re-decodes the config on every file change.
func Watch(v *viper.Viper, fn func(*Config, error)) {
	v.OnConfigChange(func(e fsnotify.Event) {
		if !e.Has(fsnotify.Write) && !e.Has(fsnotify.Create) {
			return
		}
		fn(decode(v))
	})
	v.WatchConfig()
}

func newViper(configPath, dataDir string) (*viper.Viper, error) {
	if err := LoadEnvFiles(); err != nil {
		return nil, fmt.Errorf("failed to load .env files: %w", err)
	}

	v := viper.New()
	setDefaults(v)

	if dataDir == "" {
		dataDir = GetEnvDefault("PILLPAL_STORAGE_DATA_DIR", DefaultDataDir())
	}
	if err := os.MkdirAll(dataDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}

	v.SetDefault("storage.data_dir", dataDir)
	v.SetDefault("storage.sqlite_path", filepath.Join(dataDir, "pillpal.db"))
	v.SetDefault("storage.badger_path", filepath.Join(dataDir, "badger"))

	explicit := configPath != ""
	if !explicit {
		configPath = filepath.Join(dataDir, "pillpal.yaml")
	}

	if _, err := os.Stat(configPath); err == nil {
		v.SetConfigFile(configPath)
		if err := v.ReadInConfig(); err != nil {
			return nil, apperrors.ErrConfigInvalid.WithCause(fmt.Errorf("failed to read %s: %w", configPath, err))
		}
	} else if explicit {
		return nil, apperrors.ErrConfigNotFound.WithCause(err)
	}

	// PILLPAL_SERVER_PORT, PILLPAL_ADHERENCE_TIMEZONE, ...
	v.SetEnvPrefix("PILLPAL")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	return v, nil
}

func decode(v *viper.Viper) (*Config, error) {
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	loadEnvOverrides(&cfg)

	if err := validate(&cfg); err != nil {
		return nil, apperrors.ErrConfigInvalid.WithCause(err)
	}
	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.address", "0.0.0.0")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.read_timeout", 30)
	v.SetDefault("server.write_timeout", 30)
	v.SetDefault("server.request_timeout", 15)

	v.SetDefault("storage.driver", "sqlite")
	v.SetDefault("storage.max_open_conns", 10)

	v.SetDefault("security.token_ttl_minutes", 60)
	v.SetDefault("security.allow_origins", []string{"*"})
	v.SetDefault("security.device_rps", 2.0)
	v.SetDefault("security.device_burst", 10)

	v.SetDefault("adherence.timezone", "UTC")
	v.SetDefault("adherence.streak_window_days", 30)

	v.SetDefault("liveness.enabled", true)
	v.SetDefault("liveness.schedule", "@every 1m")
	v.SetDefault("liveness.offline_after", "5m")

	v.SetDefault("breaker.max_failures", 5)
	v.SetDefault("breaker.open_timeout_seconds", 30)

	v.SetDefault("log.level", "info")
}

// DefaultDataDir is $XDG_DATA_HOME/pillpal or ~/.local/share/pillpal.
func DefaultDataDir() string {
	if xdg := os.Getenv("XDG_DATA_HOME"); xdg != "" {
		return filepath.Join(xdg, "pillpal")
	}

	home, err := os.UserHomeDir()
	if err != nil {
		return "./data"
	}

	return filepath.Join(home, ".local", "share", "pillpal")
}

// loadEnvOverrides resolves secrets that are commonly provided under
// their conventional names rather than the PILLPAL_ prefix.
func loadEnvOverrides(cfg *Config) {
	if v := ResolveEnvWithAliases("PILLPAL_SECURITY_JWT_SECRET"); v != "" {
		cfg.Security.JWTSecret = v
	}
	if v := ResolveEnvWithAliases("PILLPAL_STORAGE_POSTGRES_DSN"); v != "" {
		cfg.Storage.PostgresDSN = v
	}
	if v := ResolveEnvWithAliases("PILLPAL_NOTIFY_TELEGRAM_BOT_TOKEN"); v != "" {
		cfg.Notify.Telegram.BotToken = v
	}
	if v := ResolveEnvWithAliases("PILLPAL_NOTIFY_DISCORD_TOKEN"); v != "" {
		cfg.Notify.Discord.Token = v
	}
}

func validate(cfg *Config) error {
	switch cfg.Storage.Driver {
	case "sqlite":
	case "postgres":
		if cfg.Storage.PostgresDSN == "" {
			return fmt.Errorf("storage.postgres_dsn is required for the postgres driver")
		}
	default:
		return fmt.Errorf("unsupported storage.driver %q", cfg.Storage.Driver)
	}

	loc, err := time.LoadLocation(cfg.Adherence.Timezone)
	if err != nil {
		return fmt.Errorf("invalid adherence.timezone %q: %w", cfg.Adherence.Timezone, err)
	}
	cfg.location = loc

	if cfg.Server.RequestTimeout < 0 {
		return fmt.Errorf("server.request_timeout must not be negative")
	}

	if cfg.Adherence.StreakWindowDays <= 0 {
		return fmt.Errorf("adherence.streak_window_days must be positive")
	}

	if _, err := cfg.OfflineAfter(); err != nil {
		return err
	}

	if cfg.Notify.Telegram.Enabled && cfg.Notify.Telegram.BotToken == "" {
		return fmt.Errorf("notify.telegram.bot_token is required when telegram is enabled")
	}
	if cfg.Notify.Discord.Enabled && cfg.Notify.Discord.Token == "" {
		return fmt.Errorf("notify.discord.token is required when discord is enabled")
	}

	if cfg.Security.JWTSecret == "" {
		cfg.Security.JWTSecret = generateSecret(32)
	}

	return nil
}

func generateSecret(n int) string {
	b := make([]byte, n)
	rand.Read(b)
	return hex.EncodeToString(b)
}

// Location returns the deployment time zone used for all dose arithmetic.
func (c *Config) Location() *time.Location {
	if c.location == nil {
		return time.UTC
	}
	return c.location
}

// OfflineAfter returns the silence threshold after which a device is
// considered offline.
func (c *Config) OfflineAfter() (time.Duration, error) {
	d, err := time.ParseDuration(c.Liveness.OfflineAfter)
	if err != nil {
		return 0, fmt.Errorf("invalid liveness.offline_after %q: %w", c.Liveness.OfflineAfter, err)
	}
	if d <= 0 {
		return 0, fmt.Errorf("liveness.offline_after must be positive")
	}
	return d, nil
}

// TokenTTL returns the access token lifetime.
func (c *Config) TokenTTL() time.Duration {
	return time.Duration(c.Security.TokenTTLMinutes) * time.Minute
}

// Default returns the configuration produced by defaults alone.
func Default(dataDir string) *Config {
	return &Config{
		Server:    ServerConfig{Address: "0.0.0.0", Port: 8080, ReadTimeout: 30, WriteTimeout: 30, RequestTimeout: 15},
		Storage:   StorageConfig{Driver: "sqlite", DataDir: dataDir, SQLitePath: filepath.Join(dataDir, "pillpal.db"), BadgerPath: filepath.Join(dataDir, "badger"), MaxOpenConns: 10},
		Security:  SecurityConfig{TokenTTLMinutes: 60, AllowOrigins: []string{"*"}, DeviceRPS: 2, DeviceBurst: 10},
		Adherence: AdherenceConfig{Timezone: "UTC", StreakWindowDays: 30},
		Liveness:  LivenessConfig{Enabled: true, Schedule: "@every 1m", OfflineAfter: "5m"},
		Breaker:   BreakerConfig{MaxFailures: 5, OpenTimeoutSec: 30},
		Log:       LogConfig{Level: "info"},
		location:  time.UTC,
	}
}

// WriteDefault writes a starter YAML config to path. Existing files are
// left untouched.
func WriteDefault(path string) error {
	if _, err := os.Stat(path); err == nil {
		return fmt.Errorf("config file already exists: %s", path)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	cfg := Default(filepath.Dir(path))
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("failed to encode config: %w", err)
	}
	return os.WriteFile(path, data, 0600)
}
