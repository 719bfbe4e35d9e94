package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/fjod/storefront/cart-service/internal/gateway"
	"github.com/fjod/storefront/pkg/circuitbreaker"
	"github.com/fjod/storefront/pkg/logger"
	"github.com/spf13/viper"
)

const (
	PersistenceRedis  = "redis"
	PersistenceMongo  = "mongo"
	PersistenceMemory = "memory"

	InventorySquare = "square"
	InventoryMemory = "memory"
)

var ErrInvalidConfig = errors.New("invalid configuration")

type Config struct {
	HTTP        HTTPConfig
	Persistence PersistenceConfig
	Inventory   InventoryConfig
	Kafka       KafkaConfig
	Cart        CartConfig
	Log         logger.Config
}

type HTTPConfig struct {
	Port            string
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	IdleTimeout     time.Duration
	ShutdownTimeout time.Duration
	MaxBodyBytes    int64
	SecureCookies   bool
}

type PersistenceConfig struct {
	Backend       string
	RedisAddr     string
	RedisPassword string
	RedisDB       int
	MongoURI      string
	MongoDB       string
	SnapshotTTL   time.Duration
}

type InventoryConfig struct {
	Backend string
	// Seed preloads the memory backend, "id=qty,id=qty".
	Seed    string
	Square  gateway.SquareConfig
	Breaker circuitbreaker.Config
}

type KafkaConfig struct {
	Brokers []string
	Topic   string
	GroupID string
}

func (k KafkaConfig) Enabled() bool {
	return len(k.Brokers) > 0
}

type CartConfig struct {
	IdleTTL           time.Duration
	ValidationTimeout time.Duration
	ClampQuantities   bool
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("http.port", "8080")
	v.SetDefault("http.read_timeout", 15*time.Second)
	v.SetDefault("http.write_timeout", 15*time.Second)
	v.SetDefault("http.idle_timeout", 60*time.Second)
	v.SetDefault("http.shutdown_timeout", 30*time.Second)
	v.SetDefault("http.max_body_bytes", 1<<20)
	v.SetDefault("http.secure_cookies", false)

	v.SetDefault("persistence.backend", PersistenceRedis)
	v.SetDefault("redis.addr", "localhost:6379")
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)
	v.SetDefault("mongo.uri", "mongodb://localhost:27017")
	v.SetDefault("mongo.db_name", "cartdb")
	v.SetDefault("cart.snapshot_ttl", 30*24*time.Hour)

	v.SetDefault("inventory.backend", InventoryMemory)
	v.SetDefault("inventory.seed", "")
	v.SetDefault("square.base_url", "https://connect.squareup.com")
	v.SetDefault("square.access_token", "")
	v.SetDefault("square.api_version", "2024-01-18")
	v.SetDefault("square.location_ids", "")
	v.SetDefault("square.timeout", 8*time.Second)
	v.SetDefault("breaker.max_requests", 1)
	v.SetDefault("breaker.interval", time.Minute)
	v.SetDefault("breaker.timeout", 30*time.Second)
	v.SetDefault("breaker.consecutive_failures", 5)

	v.SetDefault("kafka.brokers", "")
	v.SetDefault("kafka.topic", "checkout-outbox")
	v.SetDefault("kafka.group_id", "cart-service-consumer")

	v.SetDefault("cart.idle_ttl", 30*time.Minute)
	v.SetDefault("cart.validation_timeout", 10*time.Second)
	v.SetDefault("cart.clamp_quantities", true)

	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")
	v.SetDefault("log.output", "stdout")
	v.SetDefault("log.file_path", "logs/cart-service.log")
	v.SetDefault("log.max_size_mb", 100)
	v.SetDefault("log.max_backups", 5)
	v.SetDefault("log.max_age_days", 30)
	v.SetDefault("log.compress", true)
}

// Load reads the optional config file at path, then environment variables.
// Keys map to env by upper-casing and replacing dots, so http.port is
// HTTP_PORT and square.access_token is SQUARE_ACCESS_TOKEN.
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
	}

	cfg := &Config{
		HTTP: HTTPConfig{
			Port:            v.GetString("http.port"),
			ReadTimeout:     v.GetDuration("http.read_timeout"),
			WriteTimeout:    v.GetDuration("http.write_timeout"),
			IdleTimeout:     v.GetDuration("http.idle_timeout"),
			ShutdownTimeout: v.GetDuration("http.shutdown_timeout"),
			MaxBodyBytes:    v.GetInt64("http.max_body_bytes"),
			SecureCookies:   v.GetBool("http.secure_cookies"),
		},
		Persistence: PersistenceConfig{
			Backend:       strings.ToLower(v.GetString("persistence.backend")),
			RedisAddr:     v.GetString("redis.addr"),
			RedisPassword: v.GetString("redis.password"),
			RedisDB:       v.GetInt("redis.db"),
			MongoURI:      v.GetString("mongo.uri"),
			MongoDB:       v.GetString("mongo.db_name"),
			SnapshotTTL:   v.GetDuration("cart.snapshot_ttl"),
		},
		Inventory: InventoryConfig{
			Backend: strings.ToLower(v.GetString("inventory.backend")),
			Seed:    v.GetString("inventory.seed"),
			Square: gateway.SquareConfig{
				BaseURL:     v.GetString("square.base_url"),
				AccessToken: v.GetString("square.access_token"),
				APIVersion:  v.GetString("square.api_version"),
				LocationIDs: getList(v, "square.location_ids"),
				Timeout:     v.GetDuration("square.timeout"),
			},
			Breaker: circuitbreaker.Config{
				Name:                "square-inventory",
				MaxRequests:         v.GetUint32("breaker.max_requests"),
				Interval:            v.GetDuration("breaker.interval"),
				Timeout:             v.GetDuration("breaker.timeout"),
				ConsecutiveFailures: v.GetUint32("breaker.consecutive_failures"),
			},
		},
		Kafka: KafkaConfig{
			Brokers: getList(v, "kafka.brokers"),
			Topic:   v.GetString("kafka.topic"),
			GroupID: v.GetString("kafka.group_id"),
		},
		Cart: CartConfig{
			IdleTTL:           v.GetDuration("cart.idle_ttl"),
			ValidationTimeout: v.GetDuration("cart.validation_timeout"),
			ClampQuantities:   v.GetBool("cart.clamp_quantities"),
		},
		Log: logger.Config{
			Level:      v.GetString("log.level"),
			Format:     v.GetString("log.format"),
			Output:     v.GetString("log.output"),
			FilePath:   v.GetString("log.file_path"),
			MaxSizeMB:  v.GetInt("log.max_size_mb"),
			MaxBackups: v.GetInt("log.max_backups"),
			MaxAgeDays: v.GetInt("log.max_age_days"),
			Compress:   v.GetBool("log.compress"),
		},
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) Validate() error {
	switch c.Persistence.Backend {
	case PersistenceRedis, PersistenceMongo, PersistenceMemory:
	default:
		return fmt.Errorf("%w: unknown persistence backend %q", ErrInvalidConfig, c.Persistence.Backend)
	}

	switch c.Inventory.Backend {
	case InventoryMemory:
	case InventorySquare:
		if c.Inventory.Square.AccessToken == "" {
			return fmt.Errorf("%w: square.access_token is required for the square backend", ErrInvalidConfig)
		}
		if len(c.Inventory.Square.LocationIDs) == 0 {
			return fmt.Errorf("%w: square.location_ids is required for the square backend", ErrInvalidConfig)
		}
	default:
		return fmt.Errorf("%w: unknown inventory backend %q", ErrInvalidConfig, c.Inventory.Backend)
	}

	if c.HTTP.Port == "" {
		return fmt.Errorf("%w: http.port is empty", ErrInvalidConfig)
	}
	if c.HTTP.WriteTimeout <= 0 || c.Inventory.Square.Timeout <= 0 {
		return fmt.Errorf("%w: http.write_timeout and square.timeout must be positive", ErrInvalidConfig)
	}
	return nil
}

// getList reads either a list from a config file or a comma separated env value.
func getList(v *viper.Viper, key string) []string {
	var parts []string
	if _, ok := v.Get(key).([]interface{}); ok {
		parts = v.GetStringSlice(key)
	} else {
		parts = strings.Split(v.GetString(key), ",")
	}

	var out []string
	for _, part := range parts {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
