package config

import (
	"fmt"
	"log"
	"slices"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

const (
	BackendMemory    = "memory"
	BackendFile      = "file"
	BackendDirectory = "directory"
	BackendPostgres  = "postgres"
	BackendRedis     = "redis"
	BackendBadger    = "badger"
)

var backends = []string{BackendMemory, BackendFile, BackendDirectory, BackendPostgres, BackendRedis, BackendBadger}

type Config struct {
	Server   ServerConfig
	Database DatabaseConfig
	Redis    RedisConfig
	Log      LogConfig
	Store    StoreConfig
	Trust    TrustConfig
	Registry RegistryConfig
	Instance InstanceConfig
	NATS     NATSConfig
	Worker   WorkerConfig
}

type ServerConfig struct {
	Port           string        `mapstructure:"port"`
	ReadTimeout    time.Duration `mapstructure:"readTimeout"`
	WriteTimeout   time.Duration `mapstructure:"writeTimeout"`
	IdleTimeout    time.Duration `mapstructure:"idleTimeout"`
	ShutdownPeriod time.Duration `mapstructure:"shutdownPeriod"`
	// APIKeyHash is the bcrypt hash of the key guarding mutating endpoints.
	APIKeyHash  string   `mapstructure:"apiKeyHash"`
	CORSOrigins []string `mapstructure:"corsOrigins"`
}

type DatabaseConfig struct {
	URL             string        `mapstructure:"url"`
	MaxOpenConns    int           `mapstructure:"maxOpenConns"`
	MaxIdleConns    int           `mapstructure:"maxIdleConns"`
	ConnMaxLifetime time.Duration `mapstructure:"connMaxLifetime"`
}

type RedisConfig struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

type StoreConfig struct {
	Backend string `mapstructure:"backend"`
	// Path is the license file, directory or badger directory depending on Backend.
	Path         string        `mapstructure:"path"`
	RedisKey     string        `mapstructure:"redisKey"`
	Watch        bool          `mapstructure:"watch"`
	PollInterval time.Duration `mapstructure:"pollInterval"`
}

type TrustConfig struct {
	RootsFile string        `mapstructure:"rootsFile"`
	CacheSize int           `mapstructure:"cacheSize"`
	CacheTTL  time.Duration `mapstructure:"cacheTTL"`
}

type RegistryConfig struct {
	File string `mapstructure:"file"`
}

type InstanceConfig struct {
	ID string `mapstructure:"id"`
}

type NATSConfig struct {
	URL     string `mapstructure:"url"`
	Subject string `mapstructure:"subject"`
}

type WorkerConfig struct {
	Enabled        bool          `mapstructure:"enabled"`
	GCSchedule     string        `mapstructure:"gcSchedule"`
	ExpireSchedule string        `mapstructure:"expireSchedule"`
	ExpiryWindow   time.Duration `mapstructure:"expiryWindow"`
}

func LoadConfig(configPath string) (*Config, error) {
	err := godotenv.Load()
	if err != nil {
		log.Println("No .env file found or error loading it, relying on environment variables and config file")
	}

	v := viper.New()

	v.SetDefault("server.port", "8080")
	v.SetDefault("server.readTimeout", 5*time.Second)
	v.SetDefault("server.writeTimeout", 10*time.Second)
	v.SetDefault("server.idleTimeout", 120*time.Second)
	v.SetDefault("server.shutdownPeriod", 15*time.Second)
	v.SetDefault("server.corsOrigins", []string{"*"})

	v.SetDefault("database.maxOpenConns", 25)
	v.SetDefault("database.maxIdleConns", 25)
	v.SetDefault("database.connMaxLifetime", 5*time.Minute)

	v.SetDefault("redis.addr", "localhost:6379")
	v.SetDefault("redis.db", 0)

	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "console")

	v.SetDefault("store.backend", BackendDirectory)
	v.SetDefault("store.path", "licenses")
	v.SetDefault("store.redisKey", "licenses")
	v.SetDefault("store.watch", true)
	v.SetDefault("store.pollInterval", 60*time.Second)

	v.SetDefault("trust.cacheSize", 128)
	v.SetDefault("trust.cacheTTL", 10*time.Minute)

	v.SetDefault("registry.file", "registry.yaml")

	v.SetDefault("nats.subject", "licenses.changed")

	v.SetDefault("worker.enabled", true)
	v.SetDefault("worker.gcSchedule", "@every 6h")
	v.SetDefault("worker.expireSchedule", "@every 1h")
	v.SetDefault("worker.expiryWindow", 7*24*time.Hour)

	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AllowEmptyEnv(true)

	if configPath != "" {
		v.SetConfigFile(configPath)
		if err := v.ReadInConfig(); err != nil {
			log.Printf("Warning: could not read config file: %s. Error: %v\n", configPath, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func (c *Config) Validate() error {
	if !slices.Contains(backends, c.Store.Backend) {
		return fmt.Errorf("unknown store backend %q, expected one of %s", c.Store.Backend, strings.Join(backends, ", "))
	}
	switch c.Store.Backend {
	case BackendFile, BackendDirectory:
		if c.Store.Path == "" {
			return fmt.Errorf("store.path is required for the %s backend", c.Store.Backend)
		}
	case BackendPostgres:
		if c.Database.URL == "" {
			return fmt.Errorf("database.url is required for the postgres backend")
		}
	}
	if c.Trust.CacheSize < 0 {
		return fmt.Errorf("trust.cacheSize must not be negative")
	}
	return nil
}
