package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/ilyakaznacheev/cleanenv"
)

const (
	StoreMongo  = "mongo"
	StoreMemory = "memory"
)

type Config struct {
	Env           string `yaml:"env" env:"APP_ENV" env-default:"local"`
	ServerAddress string `yaml:"server_address" env:"SERVER_ADDRESS" env-default:":8080"`
	// PublicBaseURL is the origin used when building links sent by mail.
	PublicBaseURL string `yaml:"public_base_url" env:"PUBLIC_BASE_URL" env-default:"http://localhost:8080"`

	Log     LogConfig     `yaml:"log"`
	Store   StoreConfig   `yaml:"store"`
	Session SessionConfig `yaml:"session"`
	Redis   RedisConfig   `yaml:"redis"`
	Mail    MailConfig    `yaml:"mail"`
	Content ContentConfig `yaml:"content"`
	Uploads UploadConfig  `yaml:"uploads"`

	Firebase FirebaseConfig `yaml:"firebase"`

	CORSOrigins []string `yaml:"cors_origins" env:"CORS_ORIGINS" env-default:"*" env-separator:","`
}

type LogConfig struct {
	Mode string `yaml:"mode" env:"LOG_MODE" env-default:"dev"`
	// File enables a rolling file sink next to stdout when set.
	File       string `yaml:"file" env:"LOG_FILE"`
	MaxSizeMB  int    `yaml:"max_size_mb" env:"LOG_MAX_SIZE_MB" env-default:"100"`
	MaxBackups int    `yaml:"max_backups" env:"LOG_MAX_BACKUPS" env-default:"3"`
}

type StoreConfig struct {
	Driver   string `yaml:"driver" env:"STORE_DRIVER" env-default:"mongo"`
	MongoURI string `yaml:"mongo_uri" env:"MONGO_URI" env-default:"mongodb://localhost:27017"`
	MongoDB  string `yaml:"mongo_db" env:"MONGO_DB" env-default:"shutterfeed"`
	MongoTLS bool   `yaml:"mongo_tls" env:"MONGO_TLS" env-default:"false"`
	// DataDir holds the snapshot file of the memory driver. Empty disables persistence.
	DataDir string `yaml:"data_dir" env:"DATA_DIR"`
}

type SessionConfig struct {
	JWTSecret     string        `yaml:"jwt_secret" env:"JWT_SECRET" env-default:"your-secret-key-change-in-production"`
	JWTExpiration time.Duration `yaml:"jwt_expiration" env:"JWT_EXPIRATION" env-default:"24h"`
	CookieSecure  bool          `yaml:"cookie_secure" env:"COOKIE_SECURE" env-default:"false"`
}

type RedisConfig struct {
	Addr     string `yaml:"addr" env:"REDIS_ADDR"`
	Password string `yaml:"password" env:"REDIS_PASSWORD"`
	DB       int    `yaml:"db" env:"REDIS_DB" env-default:"0"`
}

type MailConfig struct {
	SendGridAPIKey string `yaml:"sendgrid_api_key" env:"SENDGRID_API_KEY"`
	FromEmail      string `yaml:"from_email" env:"MAIL_FROM_EMAIL" env-default:"noreply@shutterfeed.local"`
	FromName       string `yaml:"from_name" env:"MAIL_FROM_NAME" env-default:"Shutterfeed"`
}

type ContentConfig struct {
	ResetTokenTTL   time.Duration `yaml:"reset_token_ttl" env:"RESET_TOKEN_TTL" env-default:"1h"`
	BackrefAttempts int           `yaml:"backref_attempts" env:"BACKREF_ATTEMPTS" env-default:"2"`
	BackrefBackoff  time.Duration `yaml:"backref_backoff" env:"BACKREF_BACKOFF" env-default:"50ms"`
	RequestTimeout  time.Duration `yaml:"request_timeout" env:"REQUEST_TIMEOUT" env-default:"10s"`
}

type UploadConfig struct {
	Dir       string `yaml:"dir" env:"UPLOAD_DIR" env-default:"./uploads"`
	MaxSizeMB int64  `yaml:"max_size_mb" env:"MAX_UPLOAD_SIZE_MB" env-default:"5"`
}

type FirebaseConfig struct {
	ProjectID       string `yaml:"project_id" env:"FIREBASE_PROJECT_ID"`
	CredentialsJSON string `yaml:"credentials_json" env:"FIREBASE_CREDENTIALS_JSON"`
}

// Load reads CONFIG_PATH (YAML) when set and overlays the environment on top.
func Load() (*Config, error) {
	var cfg Config

	if path := os.Getenv("CONFIG_PATH"); path != "" {
		if err := cleanenv.ReadConfig(path, &cfg); err != nil {
			return nil, fmt.Errorf("config: read %q: %w", path, err)
		}
	}
	if err := cleanenv.ReadEnv(&cfg); err != nil {
		return nil, fmt.Errorf("config: read env: %w", err)
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) IsProduction() bool {
	e := strings.ToLower(c.Env)
	return e == "prod" || e == "production"
}

func (c *Config) validate() error {
	switch c.Store.Driver {
	case StoreMongo:
		if c.Store.MongoURI == "" {
			return fmt.Errorf("config: MONGO_URI is required for the mongo store")
		}
	case StoreMemory:
	default:
		return fmt.Errorf("config: unknown store driver %q", c.Store.Driver)
	}

	if c.Content.ResetTokenTTL < time.Minute {
		return fmt.Errorf("config: reset token ttl must be at least 1m")
	}
	if c.Content.BackrefAttempts < 1 {
		return fmt.Errorf("config: backref attempts must be >= 1")
	}
	if c.Uploads.MaxSizeMB <= 0 {
		return fmt.Errorf("config: max upload size must be > 0")
	}
	if c.Session.JWTExpiration <= 0 {
		return fmt.Errorf("config: jwt expiration must be > 0")
	}
	if c.IsProduction() && (c.Session.JWTSecret == "" || c.Session.JWTSecret == "your-secret-key-change-in-production") {
		return fmt.Errorf("config: JWT_SECRET must be set in production")
	}
	return nil
}
