package config

import (
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

var config = viper.New()

type Config struct {
	AppEnv     string `mapstructure:"APP_ENV"`
	AppName    string `mapstructure:"APP_NAME"`
	AppVersion string `mapstructure:"APP_VERSION"`
	TLS        struct {
		Enable   bool   `mapstructure:"ENABLE"`
		CertPath string `mapstructure:"CERT_PATH"`
		KeyPath  string `mapstructure:"KEY_PATH"`
	} `mapstructure:"TLS"`
	Otel struct {
		Enable   bool   `mapstructure:"ENABLE"`
		Addr     string `mapstructure:"ADDR"`
		Protocol string `mapstructure:"PROTOCOL"` // grpc | http
	} `mapstructure:"OTEL"`
	Pyroscope struct {
		Enable bool   `mapstructure:"ENABLE"`
		Addr   string `mapstructure:"ADDR"`
	} `mapstructure:"PYROSCOPE"`
	Server struct {
		Addr         string        `mapstructure:"ADDR"`
		ReadTimeout  time.Duration `mapstructure:"READ_TIMEOUT"`
		WriteTimeout time.Duration `mapstructure:"WRITE_TIMEOUT"`
		IdleTimeout  time.Duration `mapstructure:"IDLE_TIMEOUT"`
	} `mapstructure:"HTTP_SERVER"`
	Database struct {
		Type           string `mapstructure:"TYPE"`
		Host           string `mapstructure:"HOST"`
		Port           string `mapstructure:"PORT"`
		DBNAME         string `mapstructure:"DBNAME"`
		User           string `mapstructure:"USER"`
		Password       string `mapstructure:"PASSWORD"`
		SSLMode        string `mapstructure:"SSLMODE"`
		Timezone       string `mapstructure:"TIMEZONE"`
		Metrics        bool   `mapstructure:"METRICS"`
		Tracing        bool   `mapstructure:"TRACING"`
		ConnectionPool struct {
			MaxIdleConn     int           `mapstructure:"MAX_IDLE_CONN"`
			MaxOpenConns    int           `mapstructure:"MAX_OPEN_CONNS"`
			ConnMaxLifetime time.Duration `mapstructure:"CONN_MAX_LIFETIME"`
			ConnMaxIdleTime time.Duration `mapstructure:"CONN_MAX_IDLE_TIME"`
		} `mapstructure:"CONNECTION_POOL"`
	} `mapstructure:"DATABASE"`
	Redis struct {
		Addr        string        `mapstructure:"ADDR"`
		Password    string        `mapstructure:"PASSWORD"`
		DB          int           `mapstructure:"DB"`
		PoolSize    int           `mapstructure:"POOL_SIZE"`
		PoolTimeout time.Duration `mapstructure:"POOL_TIMEOUT"`
	} `mapstructure:"REDIS"`
	Flagsmith struct {
		Addr   string `mapstructure:"ADDR"`
		ApiKey string `mapstructure:"API_KEY"`
	} `mapstructure:"FLAGSMITH"`
	Minio struct {
		Endpoint   string `mapstructure:"ENDPOINT"`
		AccessKey  string `mapstructure:"ACCESS_KEY"`
		SecretKey  string `mapstructure:"SECRET_KEY"`
		Secure     bool   `mapstructure:"SECURE"`
		BucketName string `mapstructure:"BUCKET_NAME"`
	} `mapstructure:"MINIO"`
	Import struct {
		Queue             string        `mapstructure:"QUEUE"`
		Concurrency       int           `mapstructure:"CONCURRENCY"`
		MaxRetry          int           `mapstructure:"MAX_RETRY"`
		RetryBase         time.Duration `mapstructure:"RETRY_BASE"`
		TaskTimeout       time.Duration `mapstructure:"TASK_TIMEOUT"`
		ChunkSize         int           `mapstructure:"CHUNK_SIZE"`
		CompletedMaxAge   time.Duration `mapstructure:"COMPLETED_MAX_AGE"`
		CompletedMaxCount int           `mapstructure:"COMPLETED_MAX_COUNT"`
		FailedMaxAge      time.Duration `mapstructure:"FAILED_MAX_AGE"`
		FailedMaxCount    int           `mapstructure:"FAILED_MAX_COUNT"`
		StaleAfter        time.Duration `mapstructure:"STALE_AFTER"`
	} `mapstructure:"IMPORT"`
	Diagnostics struct {
		RetentionDays int `mapstructure:"RETENTION_DAYS"`
	} `mapstructure:"DIAGNOSTICS"`
	Analytics struct {
		Concurrency int `mapstructure:"CONCURRENCY"`
		MaxFailures int `mapstructure:"MAX_FAILURES"`
	} `mapstructure:"ANALYTICS"`
}

var Module = fx.Module("config", fx.Provide(LoadConfig))

func LoadConfig() *Config {

	config.SetConfigName("config")
	config.SetConfigType("yaml")
	config.AddConfigPath(".")

	config.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	config.AutomaticEnv()

	setDefaults()

	if err := config.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			zap.L().Error("failed to read config file", zap.Error(err))
			os.Exit(1)
		}
	}

	var cfg Config
	if err := config.Unmarshal(&cfg); err != nil {
		zap.L().Error("failed to unmarshal config", zap.Error(err))
		os.Exit(1)
	}

	return &cfg
}

// setDefaults pins the queue, retention and recalculation policy so the
// binaries run with sane behavior when only connection settings are provided.
func setDefaults() {
	config.SetDefault("APP_ENV", "development")
	config.SetDefault("APP_NAME", "stockplane")

	config.SetDefault("HTTP_SERVER.ADDR", ":8080")
	config.SetDefault("HTTP_SERVER.READ_TIMEOUT", 15*time.Second)
	config.SetDefault("HTTP_SERVER.WRITE_TIMEOUT", 30*time.Second)
	config.SetDefault("HTTP_SERVER.IDLE_TIMEOUT", 60*time.Second)

	config.SetDefault("DATABASE.TYPE", "postgres")
	config.SetDefault("DATABASE.SSLMODE", "disable")
	config.SetDefault("DATABASE.TIMEZONE", "UTC")

	config.SetDefault("REDIS.ADDR", "127.0.0.1:6379")

	config.SetDefault("IMPORT.QUEUE", "imports")
	config.SetDefault("IMPORT.CONCURRENCY", 10)
	config.SetDefault("IMPORT.MAX_RETRY", 3)
	config.SetDefault("IMPORT.RETRY_BASE", 2*time.Second)
	config.SetDefault("IMPORT.TASK_TIMEOUT", 30*time.Minute)
	config.SetDefault("IMPORT.CHUNK_SIZE", 1000)
	config.SetDefault("IMPORT.COMPLETED_MAX_AGE", 24*time.Hour)
	config.SetDefault("IMPORT.COMPLETED_MAX_COUNT", 100)
	config.SetDefault("IMPORT.FAILED_MAX_AGE", 7*24*time.Hour)
	config.SetDefault("IMPORT.FAILED_MAX_COUNT", 500)
	config.SetDefault("IMPORT.STALE_AFTER", time.Hour)

	config.SetDefault("DIAGNOSTICS.RETENTION_DAYS", 30)

	config.SetDefault("ANALYTICS.CONCURRENCY", 4)
	config.SetDefault("ANALYTICS.MAX_FAILURES", 5)
}
