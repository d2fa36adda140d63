package config

import (
	"log"
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
)

type Config struct {
	Server   ServerConfig
	Stripe   StripeConfig
	PayPal   PayPalConfig
	Store    StoreConfig
	Shipping ShippingConfig
	Tracker  TrackerConfig
	Token    TokenConfig
	Redis    RedisConfig
	Kafka    KafkaConfig
	Observ   ObservabilityConfig
}

type ServerConfig struct {
	Port string
	Env  string
}

type StripeConfig struct {
	Key           string
	WebhookSecret string
}

type PayPalConfig struct {
	Env          string
	ClientID     string
	ClientSecret string
}

type StoreConfig struct {
	Domain    string
	StoreName string
}

// ShippingConfig maps shipping region codes (GB, EU, US, AU, CA) to
// provider shipping rate ids.
type ShippingConfig struct {
	Rates map[string]string
}

type TrackerConfig struct {
	Capacity int
}

type TokenConfig struct {
	MarginSeconds       int
	FetchTimeoutSeconds int
}

type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

type KafkaConfig struct {
	Brokers []string
	Topic   string
}

type ObservabilityConfig struct {
	JaegerEndpoint string
}

func Load() *Config {
	_ = godotenv.Load()

	redisDB, _ := strconv.Atoi(getEnv("REDIS_DB", "0"))
	capacity, _ := strconv.Atoi(getEnv("TRACKER_CAPACITY", "1000"))
	margin, _ := strconv.Atoi(getEnv("TOKEN_MARGIN_SECONDS", "60"))
	fetchTimeout, _ := strconv.Atoi(getEnv("TOKEN_FETCH_TIMEOUT_SECONDS", "10"))

	var brokers []string
	if raw := os.Getenv("KAFKA_BROKERS"); raw != "" {
		brokers = strings.Split(raw, ",")
	}

	cfg := &Config{
		Server: ServerConfig{
			Port: getEnv("PORT", "3000"),
			Env:  getEnv("ENV", "development"),
		},
		Stripe: StripeConfig{
			Key:           os.Getenv("STRIPE_KEY"),
			WebhookSecret: os.Getenv("STRIPE_WEBHOOK_SECRET"),
		},
		PayPal: PayPalConfig{
			Env:          getEnv("PAYPAL_ENV", "sandbox"),
			ClientID:     os.Getenv("PAYPAL_CLIENT_ID"),
			ClientSecret: os.Getenv("PAYPAL_CLIENT_SECRET"),
		},
		Store: StoreConfig{
			Domain:    getEnv("DOMAIN", "http://localhost"),
			StoreName: getEnv("STORE_NAME", "My Awesome Store"),
		},
		Shipping: ShippingConfig{
			Rates: map[string]string{
				"GB": os.Getenv("SHIPPING_RATE_GB"),
				"EU": os.Getenv("SHIPPING_RATE_EU"),
				"US": os.Getenv("SHIPPING_RATE_US"),
				"AU": os.Getenv("SHIPPING_RATE_AU"),
				"CA": os.Getenv("SHIPPING_RATE_CA"),
			},
		},
		Tracker: TrackerConfig{
			Capacity: capacity,
		},
		Token: TokenConfig{
			MarginSeconds:       margin,
			FetchTimeoutSeconds: fetchTimeout,
		},
		Redis: RedisConfig{
			Addr:     os.Getenv("REDIS_ADDR"),
			Password: os.Getenv("REDIS_PASSWORD"),
			DB:       redisDB,
		},
		Kafka: KafkaConfig{
			Brokers: brokers,
			Topic:   getEnv("KAFKA_TOPIC_CART_EVENTS", "cart-events"),
		},
		Observ: ObservabilityConfig{
			JaegerEndpoint: getEnv("JAEGER_ENDPOINT", "http://localhost:14268/api/traces"),
		},
	}

	log.Printf("Config loaded: env=%s, port=%s, paypal=%s", cfg.Server.Env, cfg.Server.Port, cfg.PayPal.Env)
	return cfg
}

func getEnv(key, defaultVal string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return defaultVal
}
