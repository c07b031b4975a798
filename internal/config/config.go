package config

import (
	"crypto/rand"
	"fmt"
	"math/big"
	"os"
	"time"

	"github.com/spf13/viper"
)

// Config represents the application configuration
type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	Security  SecurityConfig  `mapstructure:"security"`
	Claim     ClaimConfig     `mapstructure:"claim"`
	RateLimit RateLimitConfig `mapstructure:"rate_limit"`
	OAuth     OAuthConfig     `mapstructure:"oauth"`
	Logging   LoggingConfig   `mapstructure:"logging"`
	Storage   StorageConfig   `mapstructure:"storage"`
}

type ServerConfig struct {
	Host         string        `mapstructure:"host"`
	Port         int           `mapstructure:"port"`
	Mode         string        `mapstructure:"mode"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
}

type SecurityConfig struct {
	// APISecret guards /validate and the admin surface (X-API-Secret header)
	APISecret      string   `mapstructure:"api_secret"`
	EnableCORS     bool     `mapstructure:"enable_cors"`
	AllowedOrigins []string `mapstructure:"allowed_origins"`
}

type ClaimConfig struct {
	// BaseURL is the externally visible address used in claim links
	BaseURL           string        `mapstructure:"base_url"`
	DefaultTTLMinutes int           `mapstructure:"default_ttl_minutes"`
	MaxTTLMinutes     int           `mapstructure:"max_ttl_minutes"`
	PruneInterval     time.Duration `mapstructure:"prune_interval"`
	PruneRetention    time.Duration `mapstructure:"prune_retention"`
}

type RateLimitConfig struct {
	IdentityWindow     time.Duration `mapstructure:"identity_window"`
	OriginWindow       time.Duration `mapstructure:"origin_window"`
	OriginMaxPerWindow int           `mapstructure:"origin_max_per_window"`

	// RedisAddr switches the limiter to shared Redis counters when set
	RedisAddr     string `mapstructure:"redis_addr"`
	RedisPassword string `mapstructure:"redis_password"`
	RedisDB       int    `mapstructure:"redis_db"`
}

type OAuthConfig struct {
	// Discord application credentials; identity verification is disabled
	// when these are empty
	ClientID     string `mapstructure:"client_id"`
	ClientSecret string `mapstructure:"client_secret"`
	CallbackURL  string `mapstructure:"callback_url"`
}

type LoggingConfig struct {
	Level         string `mapstructure:"level"`
	Format        string `mapstructure:"format"`
	Output        string `mapstructure:"output"`
	ConsoleOutput bool   `mapstructure:"console_output"`
	MaxSize       int    `mapstructure:"max_size"`
	MaxBackups    int    `mapstructure:"max_backups"`
	MaxAge        int    `mapstructure:"max_age"`
	Compress      bool   `mapstructure:"compress"`
}

type StorageConfig struct {
	DataDir string `mapstructure:"data_dir"`
	LogsDir string `mapstructure:"logs_dir"`
}

// Load loads the configuration from file and environment
func Load() (*Config, error) {
	var cfg Config

	if err := viper.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	setDefaults(&cfg)

	if err := validate(&cfg); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return &cfg, nil
}

// LoadOrCreate loads the config, creating a default one if none exists
func LoadOrCreate() (*Config, error) {
	configFile := viper.ConfigFileUsed()
	if configFile == "" {
		configFile = "./config.yaml"
	}

	if _, err := os.Stat(configFile); err == nil {
		cfg, err := Load()
		if err != nil {
			return nil, fmt.Errorf("failed to load config from %s: %w", configFile, err)
		}
		return cfg, nil
	}

	fmt.Println("\n⚠️  Config file not found, creating default config...")

	cfg := &Config{}
	setDefaults(cfg)

	// generate the shared secret instead of shipping a default one
	secret, err := generateRandomSecret(32)
	if err != nil {
		return nil, fmt.Errorf("failed to generate api secret: %w", err)
	}
	cfg.Security.APISecret = secret
	fmt.Printf("\n🔑 Generated API secret: %s\n", secret)
	fmt.Println("   ⚠️  IMPORTANT: Please save this secret!")
	fmt.Println("   It is required for /validate and all /admin endpoints.")

	if err := SaveConfig(cfg); err != nil {
		fmt.Printf("\n⚠️  Warning: Failed to save config file: %v\n", err)
		fmt.Println("   Continuing with in-memory config...")
	} else {
		fmt.Println("\n✅ Config file created: config.yaml")
	}

	return cfg, nil
}

// SaveConfig saves the configuration to file
func SaveConfig(cfg *Config) error {
	viper.Set("server", cfg.Server)
	viper.Set("security", cfg.Security)
	viper.Set("claim", cfg.Claim)
	viper.Set("rate_limit", cfg.RateLimit)
	viper.Set("oauth", cfg.OAuth)
	viper.Set("logging", cfg.Logging)
	viper.Set("storage", cfg.Storage)

	configPath := viper.ConfigFileUsed()
	if configPath == "" {
		configPath = "./config.yaml"
	}

	return viper.WriteConfigAs(configPath)
}

// generateRandomSecret returns a crypto-grade random string
func generateRandomSecret(length int) (string, error) {
	const charset = "abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"
	b := make([]byte, length)
	max := big.NewInt(int64(len(charset)))
	for i := range b {
		idx, err := rand.Int(rand.Reader, max)
		if err != nil {
			return "", err
		}
		b[i] = charset[idx.Int64()]
	}
	return string(b), nil
}

func setDefaults(cfg *Config) {
	// server
	if cfg.Server.Host == "" {
		cfg.Server.Host = "0.0.0.0"
	}
	if cfg.Server.Port == 0 {
		cfg.Server.Port = 3000
	}
	if cfg.Server.Mode == "" {
		cfg.Server.Mode = "release"
	}
	if cfg.Server.ReadTimeout == 0 {
		cfg.Server.ReadTimeout = 30 * time.Second
	}
	if cfg.Server.WriteTimeout == 0 {
		cfg.Server.WriteTimeout = 30 * time.Second
	}

	// claim flow
	if cfg.Claim.BaseURL == "" {
		cfg.Claim.BaseURL = fmt.Sprintf("http://localhost:%d", cfg.Server.Port)
	}
	if cfg.Claim.DefaultTTLMinutes == 0 {
		cfg.Claim.DefaultTTLMinutes = 10
	}
	if cfg.Claim.MaxTTLMinutes == 0 {
		cfg.Claim.MaxTTLMinutes = 60
	}
	if cfg.Claim.PruneInterval == 0 {
		cfg.Claim.PruneInterval = 10 * time.Minute
	}
	if cfg.Claim.PruneRetention == 0 {
		cfg.Claim.PruneRetention = 24 * time.Hour
	}

	// rate limiting
	if cfg.RateLimit.IdentityWindow == 0 {
		cfg.RateLimit.IdentityWindow = 5 * time.Minute
	}
	if cfg.RateLimit.OriginWindow == 0 {
		cfg.RateLimit.OriginWindow = time.Hour
	}
	if cfg.RateLimit.OriginMaxPerWindow == 0 {
		cfg.RateLimit.OriginMaxPerWindow = 20
	}

	// logging
	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
	if cfg.Logging.Format == "" {
		cfg.Logging.Format = "json"
	}
	if cfg.Logging.Output == "" {
		cfg.Logging.Output = "logs/keyserver.log"
	}
	cfg.Logging.ConsoleOutput = true
	if cfg.Logging.MaxSize == 0 {
		cfg.Logging.MaxSize = 100
	}
	if cfg.Logging.MaxBackups == 0 {
		cfg.Logging.MaxBackups = 10
	}
	if cfg.Logging.MaxAge == 0 {
		cfg.Logging.MaxAge = 30
	}

	// storage
	if cfg.Storage.DataDir == "" {
		cfg.Storage.DataDir = "./data"
	}
	if cfg.Storage.LogsDir == "" {
		cfg.Storage.LogsDir = "./logs"
	}
}

func validate(cfg *Config) error {
	if cfg.Server.Port < 1 || cfg.Server.Port > 65535 {
		return fmt.Errorf("invalid port: %d", cfg.Server.Port)
	}
	if cfg.Claim.MaxTTLMinutes < cfg.Claim.DefaultTTLMinutes {
		return fmt.Errorf("max_ttl_minutes (%d) must not be below default_ttl_minutes (%d)",
			cfg.Claim.MaxTTLMinutes, cfg.Claim.DefaultTTLMinutes)
	}
	return nil
}
