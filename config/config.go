package config

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"branch-orders-api/logger"
	"branch-orders-api/models"
	"branch-orders-api/realtime"

	"github.com/glebarez/sqlite"
	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"
	"gopkg.in/yaml.v3"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

var DB *gorm.DB

// JWTSecret used to sign tokens. Replaced by Apply once config is loaded.
var JWTSecret = []byte(getEnv("JWT_SECRET", "branch_orders_dev_secret"))

// TokenTTL is the lifetime of issued access tokens.
var TokenTTL = 24 * time.Hour

// APIKey, when set, must accompany every request in the X-API-Key header.
var APIKey string

// Events carries order change events to feed subscribers.
var Events realtime.Broker = realtime.NewMemoryBroker()

// Config is the server configuration. Values come from an optional YAML
// file, then environment variables override them.
type Config struct {
	Port        string        `yaml:"port"`
	GinMode     string        `yaml:"gin_mode"`
	DBPath      string        `yaml:"db_path"`
	JWTSecret   string        `yaml:"jwt_secret"`
	TokenTTL    time.Duration `yaml:"token_ttl"`
	LogLevel    string        `yaml:"log_level"`
	CORSOrigins []string      `yaml:"cors_origins"`
	APIKey      string        `yaml:"api_key"`
	Redis       RedisConfig   `yaml:"redis"`
}

type RedisConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
	Prefix   string `yaml:"prefix"`
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

// Defaults returns the configuration used when nothing is set.
func Defaults() *Config {
	return &Config{
		Port:        "8080",
		GinMode:     "debug",
		DBPath:      "branch_orders.db",
		JWTSecret:   "branch_orders_dev_secret",
		TokenTTL:    24 * time.Hour,
		LogLevel:    "info",
		CORSOrigins: []string{"*"},
		Redis:       RedisConfig{Prefix: "branch-orders"},
	}
}

// Load reads .env (if present), the YAML file at path (if path is not
// empty), then applies environment overrides.
func Load(path string) (*Config, error) {
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		return nil, fmt.Errorf("failed to load .env: %w", err)
	}

	cfg := Defaults()
	if path != "" {
		raw, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		if err := yaml.Unmarshal(raw, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config file: %w", err)
		}
	}

	if err := cfg.applyEnv(); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) applyEnv() error {
	c.Port = getEnv("PORT", c.Port)
	c.GinMode = getEnv("GIN_MODE", c.GinMode)
	c.DBPath = getEnv("DB_PATH", c.DBPath)
	c.JWTSecret = getEnv("JWT_SECRET", c.JWTSecret)
	c.LogLevel = getEnv("LOG_LEVEL", c.LogLevel)
	c.APIKey = getEnv("API_KEY", c.APIKey)
	c.Redis.Addr = getEnv("REDIS_ADDR", c.Redis.Addr)

	if v := os.Getenv("TOKEN_TTL"); v != "" {
		ttl, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("invalid TOKEN_TTL %q: %w", v, err)
		}
		c.TokenTTL = ttl
	}
	if v := os.Getenv("CORS_ORIGINS"); v != "" {
		var origins []string
		for _, o := range strings.Split(v, ",") {
			if o = strings.TrimSpace(o); o != "" {
				origins = append(origins, o)
			}
		}
		c.CORSOrigins = origins
	}
	return nil
}

// Validate rejects configurations the server cannot start with.
func (c *Config) Validate() error {
	if c.Port == "" {
		return fmt.Errorf("port cannot be empty")
	}
	switch c.GinMode {
	case "debug", "release", "test":
	default:
		return fmt.Errorf("gin_mode must be debug, release or test, got %q", c.GinMode)
	}
	if c.DBPath == "" {
		return fmt.Errorf("db_path cannot be empty")
	}
	if c.JWTSecret == "" {
		return fmt.Errorf("jwt_secret cannot be empty")
	}
	if c.TokenTTL <= 0 {
		return fmt.Errorf("token_ttl must be positive")
	}
	if c.Redis.Addr != "" && c.Redis.Prefix == "" {
		return fmt.Errorf("redis.prefix cannot be empty when redis.addr is set")
	}
	return nil
}

// Apply installs the loaded configuration into the package globals.
func Apply(c *Config) {
	JWTSecret = []byte(c.JWTSecret)
	TokenTTL = c.TokenTTL
	APIKey = c.APIKey
	logger.Setup(os.Stdout, c.LogLevel)
}

// OpenDB opens the SQLite database at dsn and migrates every model.
func OpenDB(dsn string) (*gorm.DB, error) {
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: gormlogger.New(logger.For("gorm"), gormlogger.Config{
			SlowThreshold: 200 * time.Millisecond,
			LogLevel:      gormlogger.Warn,
			// Lookups that may miss (first sign-in, idempotency checks) are not errors.
			IgnoreRecordNotFoundError: true,
		}),
		TranslateError: true,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	// SQLite allows a single writer; one connection keeps transactions serialized.
	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("failed to access database handle: %w", err)
	}
	sqlDB.SetMaxOpenConns(1)

	err = db.AutoMigrate(
		&models.Branch{},
		&models.User{},
		&models.BranchSession{},
		&models.MenuCategory{},
		&models.MenuItem{},
		&models.Order{},
		&models.OrderItem{},
		&models.OrderStatusHistory{},
	)
	if err != nil {
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}
	return db, nil
}

// InitDB opens the database and installs it as DB.
func InitDB(dsn string) error {
	db, err := OpenDB(dsn)
	if err != nil {
		return err
	}
	DB = db
	logger.For("config").WithField("db_path", dsn).Info("database connected and migrated")
	return nil
}

// InitEvents selects the change event broker: Redis when an address is
// configured, in-process otherwise.
func InitEvents(ctx context.Context, c RedisConfig) error {
	if c.Addr == "" {
		Events = realtime.NewMemoryBroker()
		logger.For("config").Info("using in-process event broker")
		return nil
	}

	broker, err := realtime.NewRedisBroker(&redis.Options{
		Addr:     c.Addr,
		Password: c.Password,
		DB:       c.DB,
	}, c.Prefix)
	if err != nil {
		return err
	}
	if err := broker.Ping(ctx); err != nil {
		broker.Close()
		return fmt.Errorf("failed to reach redis at %s: %w", c.Addr, err)
	}
	Events = broker
	logger.For("config").WithField("redis_addr", c.Addr).Info("using redis event broker")
	return nil
}
