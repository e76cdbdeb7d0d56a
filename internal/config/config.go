package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

type Config struct {
	ServerPort int `mapstructure:"PORT"`

	StoreBackend     string `mapstructure:"STORE_BACKEND"`
	DBDriver         string `mapstructure:"DB_DRIVER"`
	DBHost           string `mapstructure:"DB_HOST"`
	DBPort           string `mapstructure:"DB_PORT"`
	DBName           string `mapstructure:"DB_DATABASE"`
	DBUser           string `mapstructure:"DB_USERNAME"`
	DBPassword       string `mapstructure:"DB_PASSWORD"`
	DBDataSourceName string `mapstructure:"DB_DSN"`
	MigrationsDir    string `mapstructure:"MIGRATIONS_DIR"`

	RedisHost     string `mapstructure:"REDIS_HOST"`
	RedisPort     string `mapstructure:"REDIS_PORT"`
	RedisPassword string `mapstructure:"REDIS_PASSWORD"`
	RedisDB       int    `mapstructure:"REDIS_DB"`
	RedisAddr     string `mapstructure:"-"`

	ReservationTTL           time.Duration `mapstructure:"RESERVATION_TTL"`
	SweepInterval            time.Duration `mapstructure:"SWEEP_INTERVAL"`
	MaxTicketsPerReservation int           `mapstructure:"MAX_TICKETS_PER_RESERVATION"`

	ProviderURL        string        `mapstructure:"PIX_PROVIDER_URL"`
	ProviderAPIKey     string        `mapstructure:"PIX_PROVIDER_API_KEY"`
	ProviderTimeout    time.Duration `mapstructure:"PROVIDER_TIMEOUT"`
	ProviderMaxRetries int           `mapstructure:"PROVIDER_MAX_RETRIES"`
	WebhookSecret      string        `mapstructure:"WEBHOOK_SECRET"`

	PollInterval time.Duration `mapstructure:"POLL_INTERVAL"`
	PollDeadline time.Duration `mapstructure:"POLL_DEADLINE"`

	LotteryFeedURL    string        `mapstructure:"LOTTERY_FEED_URL"`
	DrawCheckInterval time.Duration `mapstructure:"DRAW_CHECK_INTERVAL"`

	KafkaBrokers      []string `mapstructure:"KAFKA_BROKERS"`
	KafkaEventsTopic  string   `mapstructure:"KAFKA_EVENTS_TOPIC"`
	KafkaPaymentTopic string   `mapstructure:"KAFKA_PAYMENT_TOPIC"`
	KafkaGroupID      string   `mapstructure:"KAFKA_GROUP_ID"`

	LockBackend   string        `mapstructure:"LOCK_BACKEND"`
	LockTTL       time.Duration `mapstructure:"LOCK_TTL"`
	ETCDEndpoints []string      `mapstructure:"ETCD_ENDPOINTS"`
	ETCDTimeout   time.Duration `mapstructure:"ETCD_DIAL_TIMEOUT"`

	TelegramToken       string `mapstructure:"TELEGRAM_TOKEN"`
	TelegramAdminChatID int64  `mapstructure:"TELEGRAM_ADMIN_CHAT_ID"`

	AuthTokenSecret string `mapstructure:"AUTH_TOKEN_SECRET"`
	AdminAPIKey     string `mapstructure:"ADMIN_API_KEY"`
}

var keys = []string{
	"PORT", "STORE_BACKEND", "DB_DRIVER", "DB_HOST", "DB_PORT", "DB_DATABASE", "DB_USERNAME",
	"DB_PASSWORD", "DB_DSN", "MIGRATIONS_DIR", "REDIS_HOST", "REDIS_PORT", "REDIS_PASSWORD",
	"REDIS_DB", "RESERVATION_TTL", "SWEEP_INTERVAL", "MAX_TICKETS_PER_RESERVATION",
	"PIX_PROVIDER_URL", "PIX_PROVIDER_API_KEY", "PROVIDER_TIMEOUT", "PROVIDER_MAX_RETRIES",
	"WEBHOOK_SECRET", "POLL_INTERVAL", "POLL_DEADLINE", "LOTTERY_FEED_URL", "DRAW_CHECK_INTERVAL",
	"KAFKA_BROKERS", "KAFKA_EVENTS_TOPIC", "KAFKA_PAYMENT_TOPIC", "KAFKA_GROUP_ID",
	"LOCK_BACKEND", "LOCK_TTL", "ETCD_ENDPOINTS", "ETCD_DIAL_TIMEOUT",
	"TELEGRAM_TOKEN", "TELEGRAM_ADMIN_CHAT_ID", "AUTH_TOKEN_SECRET", "ADMIN_API_KEY",
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("PORT", 8032)
	v.SetDefault("STORE_BACKEND", "postgres")
	v.SetDefault("DB_DRIVER", "postgres")
	v.SetDefault("DB_HOST", "localhost")
	v.SetDefault("DB_PORT", "5432")
	v.SetDefault("DB_DATABASE", "rifas")
	v.SetDefault("DB_USERNAME", "root")
	v.SetDefault("DB_PASSWORD", "1234")
	v.SetDefault("MIGRATIONS_DIR", "migrations")
	v.SetDefault("REDIS_HOST", "localhost")
	v.SetDefault("REDIS_PORT", "6379")
	v.SetDefault("REDIS_DB", 0)
	v.SetDefault("RESERVATION_TTL", 15*time.Minute)
	v.SetDefault("SWEEP_INTERVAL", time.Minute)
	v.SetDefault("MAX_TICKETS_PER_RESERVATION", 100)
	v.SetDefault("PROVIDER_TIMEOUT", 10*time.Second)
	v.SetDefault("PROVIDER_MAX_RETRIES", 3)
	v.SetDefault("POLL_INTERVAL", 5*time.Second)
	v.SetDefault("POLL_DEADLINE", 15*time.Minute)
	v.SetDefault("DRAW_CHECK_INTERVAL", 30*time.Minute)
	v.SetDefault("KAFKA_EVENTS_TOPIC", "raffle.events")
	v.SetDefault("KAFKA_PAYMENT_TOPIC", "pix.payments")
	v.SetDefault("KAFKA_GROUP_ID", "rifas-pix")
	v.SetDefault("LOCK_BACKEND", "redis")
	v.SetDefault("LOCK_TTL", 30*time.Second)
	v.SetDefault("ETCD_DIAL_TIMEOUT", 5*time.Second)
}

// LoadConfig reads .env (if any), an optional CONFIG_FILE and the process
// environment, in increasing order of precedence.
func LoadConfig() (*Config, error) {
	if err := godotenv.Load(); err != nil {
		fmt.Println("Warning: could not load .env file")
	}
	return load(viper.New())
}

func load(v *viper.Viper) (*Config, error) {
	setDefaults(v)
	v.AutomaticEnv()
	for _, k := range keys {
		if err := v.BindEnv(k); err != nil {
			return nil, fmt.Errorf("failed to bind %s: %w", k, err)
		}
	}

	if file := v.GetString("CONFIG_FILE"); file != "" {
		v.SetConfigFile(file)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file %s: %w", file, err)
		}
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("failed to parse configuration: %w", err)
	}

	cfg.KafkaBrokers = splitList(cfg.KafkaBrokers)
	cfg.ETCDEndpoints = splitList(cfg.ETCDEndpoints)
	cfg.RedisAddr = fmt.Sprintf("%s:%s", cfg.RedisHost, cfg.RedisPort)
	if cfg.DBDataSourceName == "" {
		cfg.DBDataSourceName = fmt.Sprintf("postgres://%s:%s@%s:%s/%s?sslmode=disable",
			cfg.DBUser, cfg.DBPassword, cfg.DBHost, cfg.DBPort, cfg.DBName)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// splitList accepts both YAML lists and comma separated env values.
func splitList(in []string) []string {
	var out []string
	for _, item := range in {
		for _, part := range strings.Split(item, ",") {
			if p := strings.TrimSpace(part); p != "" {
				out = append(out, p)
			}
		}
	}
	return out
}

func (c *Config) Validate() error {
	durations := map[string]time.Duration{
		"RESERVATION_TTL":     c.ReservationTTL,
		"SWEEP_INTERVAL":      c.SweepInterval,
		"POLL_INTERVAL":       c.PollInterval,
		"POLL_DEADLINE":       c.PollDeadline,
		"PROVIDER_TIMEOUT":    c.ProviderTimeout,
		"DRAW_CHECK_INTERVAL": c.DrawCheckInterval,
	}
	for name, d := range durations {
		if d <= 0 {
			return fmt.Errorf("%s must be a positive duration", name)
		}
	}
	if c.MaxTicketsPerReservation <= 0 {
		return fmt.Errorf("MAX_TICKETS_PER_RESERVATION must be positive")
	}
	if c.ProviderMaxRetries < 0 {
		return fmt.Errorf("PROVIDER_MAX_RETRIES must not be negative")
	}
	switch c.StoreBackend {
	case "postgres", "memory":
	default:
		return fmt.Errorf("unknown STORE_BACKEND %q", c.StoreBackend)
	}
	switch c.LockBackend {
	case "redis", "etcd", "none":
	default:
		return fmt.Errorf("unknown LOCK_BACKEND %q", c.LockBackend)
	}
	return nil
}
