package config

import (
	"fmt"
	"os"
	"time"

	"github.com/ilyakaznacheev/cleanenv"
)

const (
	DriverMongo  = "mongo"
	DriverSQLite = "sqlite"

	defaultConfigPath = "config/local.yaml"
)

type Config struct {
	Env           string        `yaml:"env" env:"ENV" env-default:"local"`
	Storage       StorageConfig `yaml:"storage"`
	Mongo         MongoConfig   `yaml:"mongo"`
	Tokens        TokensConfig  `yaml:"tokens"`
	Mail          MailConfig    `yaml:"mail"`
	SweepInterval time.Duration `yaml:"sweep_interval" env:"SWEEP_INTERVAL" env-default:"10m"`
}

type StorageConfig struct {
	Driver         string `yaml:"driver" env:"STORAGE_DRIVER" env-default:"mongo"`
	Path           string `yaml:"path" env:"STORAGE_PATH"`
	MigrationsPath string `yaml:"migrations_path" env:"MIGRATIONS_PATH" env-default:"migrations"`
}

type MongoConfig struct {
	URI      string        `yaml:"uri" env:"MONGO_URI" env-default:"mongodb://localhost:27017"`
	Database string        `yaml:"database" env:"MONGO_DATABASE" env-default:"authtoken"`
	Timeout  time.Duration `yaml:"timeout" env:"MONGO_TIMEOUT" env-default:"10s"`
}

// TokensConfig holds the signing setup of access and refresh tokens.
type TokensConfig struct {
	Access  SignerConfig `yaml:"access" env-prefix:"ACCESS_"`
	Refresh SignerConfig `yaml:"refresh" env-prefix:"REFRESH_"`
	// SignTimeout bounds a single signing call.
	SignTimeout time.Duration `yaml:"sign_timeout" env:"SIGN_TIMEOUT" env-default:"5s"`
}

type SignerConfig struct {
	Secret    string        `yaml:"secret" env:"TOKEN_SECRET"`
	Algorithm string        `yaml:"algorithm" env:"TOKEN_ALGORITHM" env-default:"HS256"`
	TTL       time.Duration `yaml:"ttl" env:"TOKEN_TTL"`
	Issuer    string        `yaml:"issuer" env:"TOKEN_ISSUER"`
	Audience  []string      `yaml:"audience" env:"TOKEN_AUDIENCE"`
}

type MailConfig struct {
	Host      string `yaml:"host" env:"SMTP_HOST"`
	Port      int    `yaml:"port" env:"SMTP_PORT" env-default:"587"`
	Username  string `yaml:"username" env:"SMTP_USERNAME"`
	Password  string `yaml:"password" env:"SMTP_PASSWORD"`
	From      string `yaml:"from" env:"SMTP_FROM"`
	ResetURL  string `yaml:"reset_url" env:"MAIL_RESET_URL"`
	VerifyURL string `yaml:"verify_url" env:"MAIL_VERIFY_URL"`
}

// Enabled reports whether SMTP delivery is configured.
func (m MailConfig) Enabled() bool {
	return m.Host != ""
}

// MustLoad reads the config from CONFIG_PATH or config/local.yaml.
func MustLoad() *Config {
	path := os.Getenv("CONFIG_PATH")
	if path == "" {
		path = defaultConfigPath
	}
	return LoadConfig(path)
}

// LoadConfig reads the config at path and panics when it is missing or invalid.
func LoadConfig(path string) *Config {
	cfg, err := Load(path)
	if err != nil {
		panic(err.Error())
	}
	return cfg
}

func Load(path string) (*Config, error) {
	var cfg Config

	if _, err := os.Stat(path); os.IsNotExist(err) {
		return nil, fmt.Errorf("config file not found: %s", path)
	}

	if err := cleanenv.ReadConfig(path, &cfg); err != nil {
		return nil, fmt.Errorf("failed to read config: %w", err)
	}

	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return &cfg, nil
}

func (c *Config) validate() error {
	switch c.Storage.Driver {
	case DriverMongo:
		if c.Mongo.URI == "" || c.Mongo.Database == "" {
			return fmt.Errorf("mongo uri and database are required")
		}
	case DriverSQLite:
		if c.Storage.Path == "" {
			return fmt.Errorf("storage path is required for sqlite")
		}
	default:
		return fmt.Errorf("unknown storage driver %q", c.Storage.Driver)
	}

	if c.Tokens.Access.Secret == "" {
		return fmt.Errorf("access token secret is required")
	}
	if c.Tokens.Refresh.Secret == "" {
		return fmt.Errorf("refresh token secret is required")
	}
	if c.Mail.Enabled() && c.Mail.From == "" {
		return fmt.Errorf("mail sender is required when smtp is enabled")
	}

	return nil
}
