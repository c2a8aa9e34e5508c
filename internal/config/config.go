package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/mitchellh/mapstructure"
	"github.com/spf13/viper"
)

type HTTPConfig struct {
	Host         string
	Port         int
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	IdleTimeout  time.Duration
}

type PostgresConfig struct {
	DSN             string
	MaxOpen         int
	MaxIdle         int
	ConnMaxLifetime time.Duration
	AutoMigrate     bool
}

type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

type StorageConfig struct {
	Endpoint      string
	AccessKey     string
	SecretKey     string
	Bucket        string
	UseSSL        bool
	Region        string
	PublicBaseURL string
}

type SecurityConfig struct {
	JWTAccessSecret  string
	JWTRefreshSecret string
	JWTAccessTTL     time.Duration
	JWTRefreshTTL    time.Duration
	OperatorSecret   string
	MaxSessions      int
}

type PaymentConfig struct {
	SecretKey      string
	WebhookSecret  string
	SuccessURL     string
	CancelURL      string
	AllowedPrices  []string
	WebhookTimeout time.Duration
}

type UploadConfig struct {
	MaxFileSize int64
	MaxFiles    int
	Quality     int
}

type StagingConfig struct {
	ReapAfter    time.Duration
	ReapSchedule string
}

type PromotionConfig struct {
	PerFileTimeout time.Duration
	Concurrency    int
}

type CleanupConfig struct {
	RetryAttempts int
	RetryBase     time.Duration
}

type KafkaConfig struct {
	Brokers []string
	Topic   string
}

type WorkerConfig struct {
	Stream        string
	Group         string
	Consumer      string
	ClaimInterval time.Duration
}

type AppConfig struct {
	Environment      string
	HTTP             HTTPConfig
	Postgres         PostgresConfig
	Redis            RedisConfig
	Storage          StorageConfig
	Security         SecurityConfig
	Payment          PaymentConfig
	Uploads          UploadConfig
	Staging          StagingConfig
	Promotion        PromotionConfig
	Cleanup          CleanupConfig
	Kafka            KafkaConfig
	Worker           WorkerConfig
	AllowCORSOrigins []string
}

func Load() (*AppConfig, error) {
	for _, file := range []string{".env.local", ".env"} {
		_ = godotenv.Load(file)
	}

	v := viper.New()
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.AddConfigPath("./config")
	v.AddConfigPath("../config")

	v.SetEnvPrefix("BOATMARKET")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("load config file: %w", err)
		}
	}

	return decode(v)
}

func decode(v *viper.Viper) (*AppConfig, error) {
	var cfg AppConfig
	if err := v.Unmarshal(&cfg, func(dc *mapstructure.DecoderConfig) {
		dc.TagName = "mapstructure"
		dc.DecodeHook = mapstructure.ComposeDecodeHookFunc(
			mapstructure.StringToTimeDurationHookFunc(),
			mapstructure.StringToSliceHookFunc(","),
		)
	}); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	return &cfg, nil
}

// setDefaults registers every key, secrets included, so AutomaticEnv can
// resolve them during Unmarshal.
func setDefaults(v *viper.Viper) {
	v.SetDefault("environment", "development")

	v.SetDefault("http.host", "0.0.0.0")
	v.SetDefault("http.port", 8080)
	v.SetDefault("http.readtimeout", "10s")
	v.SetDefault("http.writetimeout", "30s")
	v.SetDefault("http.idletimeout", "60s")

	v.SetDefault("postgres.dsn", "")
	v.SetDefault("postgres.maxopen", 30)
	v.SetDefault("postgres.maxidle", 5)
	v.SetDefault("postgres.connmaxlifetime", "30m")
	v.SetDefault("postgres.automigrate", true)

	v.SetDefault("redis.addr", "127.0.0.1:6379")
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)

	v.SetDefault("storage.endpoint", "")
	v.SetDefault("storage.accesskey", "")
	v.SetDefault("storage.secretkey", "")
	v.SetDefault("storage.bucket", "boatmarket-images")
	v.SetDefault("storage.usessl", false)
	v.SetDefault("storage.region", "auto")
	v.SetDefault("storage.publicbaseurl", "")

	v.SetDefault("security.jwtaccesssecret", "")
	v.SetDefault("security.jwtrefreshsecret", "")
	v.SetDefault("security.jwtaccessttl", "15m")
	v.SetDefault("security.jwtrefreshttl", "720h")
	v.SetDefault("security.operatorsecret", "")
	v.SetDefault("security.maxsessions", 10)

	v.SetDefault("payment.secretkey", "")
	v.SetDefault("payment.webhooksecret", "")
	v.SetDefault("payment.successurl", "http://localhost:3000/payment-success")
	v.SetDefault("payment.cancelurl", "http://localhost:3000/")
	v.SetDefault("payment.allowedprices", []string{})
	v.SetDefault("payment.webhooktimeout", "20s")

	v.SetDefault("uploads.maxfilesize", 3*1024*1024)
	v.SetDefault("uploads.maxfiles", 10)
	v.SetDefault("uploads.quality", 80)

	v.SetDefault("staging.reapafter", "2h")
	v.SetDefault("staging.reapschedule", "0 0 * * * *")

	v.SetDefault("promotion.perfiletimeout", "10s")
	v.SetDefault("promotion.concurrency", 4)

	v.SetDefault("cleanup.retryattempts", 3)
	v.SetDefault("cleanup.retrybase", "1s")

	v.SetDefault("kafka.brokers", []string{})
	v.SetDefault("kafka.topic", "listing-events")

	v.SetDefault("worker.stream", "maintenance:tasks")
	v.SetDefault("worker.group", "maintenance-workers")
	v.SetDefault("worker.consumer", "worker-1")
	v.SetDefault("worker.claiminterval", "30s")

	v.SetDefault("allowcorsorigins", []string{})
}
