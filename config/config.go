package config

import (
	"strings"

	"github.com/spf13/viper"

	"payment-svc/gateway"
	"payment-svc/refund"
)

type Database struct {
	Host     string `mapstructure:"host"`
	Port     string `mapstructure:"port"`
	User     string `mapstructure:"user"`
	Password string `mapstructure:"password"`
	DBName   string `mapstructure:"dbname"`
}

type Kafka struct {
	Broker        string `mapstructure:"broker"`
	ProducerTopic string `mapstructure:"producer_topic"`
	ConsumerTopic string `mapstructure:"consumer_topic"`
}

type Redis struct {
	Host     string `mapstructure:"host"`
	Port     string `mapstructure:"port"`
	Password string `mapstructure:"password"`
}

type App struct {
	Port           int    `mapstructure:"port"`
	JWTSecret      string `mapstructure:"jwt_secret"`
	JaegerEndpoint string `mapstructure:"jaeger_endpoint"`
}

type Config struct {
	App      App            `mapstructure:"app"`
	Database Database       `mapstructure:"database"`
	Kafka    Kafka          `mapstructure:"kafka"`
	Redis    Redis          `mapstructure:"redis"`
	PayHere  gateway.Config `mapstructure:"payhere"`
	Refund   refund.Policy  `mapstructure:"refund"`
}

// Load reads config.yaml from the working directory when present, with
// environment variables (APP_PORT, DATABASE_HOST, PAYHERE_MERCHANT_SECRET, ...)
// overriding file values. Missing file is fine; defaults cover local dev.
func Load() (Config, error) {
	v := viper.New()
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	v.SetDefault("app.port", 8083)
	v.SetDefault("app.jwt_secret", "your-secret-key-change-in-production")
	v.SetDefault("app.jaeger_endpoint", "http://localhost:14268/api/traces")

	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.port", "5432")
	v.SetDefault("database.user", "postgres")
	v.SetDefault("database.password", "postgres")
	v.SetDefault("database.dbname", "paymentdb")

	v.SetDefault("kafka.broker", "localhost:9092")
	v.SetDefault("kafka.producer_topic", "payment_events")
	v.SetDefault("kafka.consumer_topic", "session_events")

	v.SetDefault("redis.host", "localhost")
	v.SetDefault("redis.port", "6379")
	v.SetDefault("redis.password", "")

	v.SetDefault("payhere.merchant_id", "")
	v.SetDefault("payhere.merchant_secret", "")
	v.SetDefault("payhere.currency", "LKR")
	v.SetDefault("payhere.return_url", "http://localhost:3000/donate/return")
	v.SetDefault("payhere.cancel_url", "http://localhost:3000/donate/cancel")
	v.SetDefault("payhere.notify_url", "http://localhost:8083/api/payments/notify")

	v.SetDefault("refund.full_window_hours", 24)
	v.SetDefault("refund.early_percent", 90)
	v.SetDefault("refund.late_percent", 60)

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return Config{}, err
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, err
	}
	return cfg, nil
}
