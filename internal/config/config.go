package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

const envPrefix = "LMS"

type Config struct {
	DatabaseURL string        `mapstructure:"database_url"`
	ServerPort  string        `mapstructure:"server_port"`
	JWTSecret   string        `mapstructure:"jwt_secret"`
	LogLevel    string        `mapstructure:"log_level"`
	CORS        CORSConfig    `mapstructure:"cors"`
	Storage     StorageConfig `mapstructure:"storage"`
	Redis       RedisConfig   `mapstructure:"redis"`
	Import      ImportConfig  `mapstructure:"import"`
}

type CORSConfig struct {
	AllowedOrigins []string `mapstructure:"allowed_origins"`
}

type StorageConfig struct {
	RootDir        string `mapstructure:"root_dir"`
	MaxUploadBytes int64  `mapstructure:"max_upload_bytes"`
}

// RedisConfig controls the parsed-table cache; when disabled every stage re-parses the stored file.
type RedisConfig struct {
	Enabled  bool          `mapstructure:"enabled"`
	Addr     string        `mapstructure:"addr"`
	Password string        `mapstructure:"password"`
	DB       int           `mapstructure:"db"`
	TTL      time.Duration `mapstructure:"ttl"`
}

type ImportConfig struct {
	SampleErrorLimit int `mapstructure:"sample_error_limit"`
	PreviewRows      int `mapstructure:"preview_rows"`
	CommitErrorLimit int `mapstructure:"commit_error_limit"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("database_url", "")
	v.SetDefault("server_port", "8080")
	v.SetDefault("jwt_secret", "")
	v.SetDefault("log_level", "info")
	v.SetDefault("cors.allowed_origins", []string{"http://localhost:3000"})
	v.SetDefault("storage.root_dir", "./data/imports")
	v.SetDefault("storage.max_upload_bytes", 10<<20)
	v.SetDefault("redis.enabled", false)
	v.SetDefault("redis.addr", "localhost:6379")
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)
	v.SetDefault("redis.ttl", 30*time.Minute)
	v.SetDefault("import.sample_error_limit", 20)
	v.SetDefault("import.preview_rows", 5)
	v.SetDefault("import.commit_error_limit", 100)
}

// Load reads config.yaml (or the file named by --config), applies LMS_* environment overrides
// and returns the validated configuration.
func Load(args []string) (*Config, error) {
	// A missing .env is normal outside local development.
	_ = godotenv.Load()

	flags := pflag.NewFlagSet("lms-import", pflag.ContinueOnError)
	configFile := flags.String("config", "", "path to a YAML config file")
	if err := flags.Parse(args); err != nil {
		return nil, fmt.Errorf("parse flags: %w", err)
	}

	v := viper.New()
	setDefaults(v)
	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if *configFile != "" {
		v.SetConfigFile(*configFile)
	} else {
		// Look for config in the current directory and ./config
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("./config")
	}
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) validate() error {
	if strings.TrimSpace(c.JWTSecret) == "" {
		return errors.New("jwt_secret must be set")
	}
	if c.Storage.MaxUploadBytes <= 0 {
		return fmt.Errorf("storage.max_upload_bytes must be positive, got %d", c.Storage.MaxUploadBytes)
	}
	if c.Redis.Enabled && strings.TrimSpace(c.Redis.Addr) == "" {
		return errors.New("redis.addr is required when redis is enabled")
	}
	return nil
}
