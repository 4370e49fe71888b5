package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

const (
	StoreMySQL  = "mysql"
	StoreMemory = "memory"
)

type Config struct {
	ServiceName string
	Env         string
	HTTPAddr    string
	GRPCAddr    string

	StoreDriver string
	MySQL       MySQLConfig
	RedisAddr   string

	KafkaBrokers []string
	KafkaTopic   string

	JWTSecret string

	AppURL      string
	FrontendURL string

	Card         CardConfig
	Gateway      GatewayConfig
	BankTransfer BankTransferConfig

	ProviderTimeout  time.Duration
	WebhookRateLimit float64
	OTLPEndpoint     string
}

type MySQLConfig struct {
	DSN             string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}

type CardConfig struct {
	SecretKey     string
	WebhookSecret string
	Currency      string
}

func (c CardConfig) Configured() bool { return c.SecretKey != "" }

type GatewayConfig struct {
	ClientID     string
	ClientSecret string
	Production   bool
	SecurityCode string
}

func (c GatewayConfig) Configured() bool { return c.ClientID != "" && c.ClientSecret != "" }

type BankTransferConfig struct {
	BankName      string
	AccountNumber string
	Recipient     string
	TitleFormat   string
}

// Load reads the configuration from the environment. Every malformed value is
// reported, not only the first.
func Load() (*Config, error) {
	var errs []error

	cfg := &Config{
		ServiceName: getenv("SERVICE_NAME", "storefront-orders"),
		Env:         getenv("APP_ENV", "production"),
		HTTPAddr:    getenv("HTTP_ADDR", ":8080"),
		GRPCAddr:    getenv("GRPC_ADDR", ":50051"),
		StoreDriver: getenv("STORE_DRIVER", StoreMySQL),
		MySQL: MySQLConfig{
			DSN:             getenv("MYSQL_DSN", "root:root@tcp(localhost:3306)/storefront?parseTime=true"),
			MaxOpenConns:    getInt("MYSQL_MAX_OPEN_CONNS", 50, &errs),
			MaxIdleConns:    getInt("MYSQL_MAX_IDLE_CONNS", 25, &errs),
			ConnMaxLifetime: getDuration("MYSQL_CONN_MAX_LIFETIME", 5*time.Minute, &errs),
		},
		RedisAddr:    getenv("REDIS_ADDR", ""),
		KafkaBrokers: splitCSV(getenv("KAFKA_BROKERS", "")),
		KafkaTopic:   getenv("KAFKA_TOPIC", "storefront.orders"),
		JWTSecret:    getenv("AUTH_JWT_SECRET", ""),
		AppURL:       strings.TrimRight(getenv("APP_URL", "http://localhost:8080"), "/"),
		FrontendURL:  strings.TrimRight(getenv("FRONTEND_URL", "http://localhost:3000"), "/"),
		Card: CardConfig{
			SecretKey:     getenv("CARD_SECRET_KEY", ""),
			WebhookSecret: getenv("CARD_WEBHOOK_SECRET", ""),
			Currency:      strings.ToLower(getenv("CARD_CURRENCY", "pln")),
		},
		Gateway: GatewayConfig{
			ClientID:     getenv("GATEWAY_CLIENT_ID", ""),
			ClientSecret: getenv("GATEWAY_CLIENT_SECRET", ""),
			Production:   getBool("GATEWAY_PRODUCTION", false, &errs),
			SecurityCode: getenv("GATEWAY_SECURITY_CODE", ""),
		},
		BankTransfer: BankTransferConfig{
			BankName:      getenv("BANK_NAME", ""),
			AccountNumber: getenv("BANK_ACCOUNT_NUMBER", ""),
			Recipient:     getenv("BANK_RECIPIENT", ""),
			TitleFormat:   getenv("BANK_TITLE_FORMAT", "Order no. %s"),
		},
		ProviderTimeout:  getDuration("PROVIDER_TIMEOUT", 10*time.Second, &errs),
		WebhookRateLimit: getFloat("WEBHOOK_RATE_LIMIT", 50, &errs),
		OTLPEndpoint:     getenv("OTEL_EXPORTER_OTLP_ENDPOINT", ""),
	}

	if cfg.JWTSecret == "" {
		errs = append(errs, errors.New("AUTH_JWT_SECRET is required"))
	}
	if cfg.StoreDriver != StoreMySQL && cfg.StoreDriver != StoreMemory {
		errs = append(errs, fmt.Errorf("STORE_DRIVER must be %q or %q, got %q", StoreMySQL, StoreMemory, cfg.StoreDriver))
	}
	if cfg.Card.Configured() && cfg.Card.WebhookSecret == "" {
		errs = append(errs, errors.New("CARD_WEBHOOK_SECRET is required when CARD_SECRET_KEY is set"))
	}
	if cfg.Gateway.Configured() && cfg.Gateway.SecurityCode == "" {
		errs = append(errs, errors.New("GATEWAY_SECURITY_CODE is required when the gateway client is set"))
	}
	if strings.Count(cfg.BankTransfer.TitleFormat, "%s") != 1 {
		errs = append(errs, errors.New("BANK_TITLE_FORMAT must contain exactly one %s"))
	}

	if err := errors.Join(errs...); err != nil {
		return nil, err
	}
	return cfg, nil
}

func getenv(key, def string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return def
}

func getInt(key string, def int, errs *[]error) int {
	raw := getenv(key, "")
	if raw == "" {
		return def
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		*errs = append(*errs, fmt.Errorf("%s: %w", key, err))
		return def
	}
	return v
}

func getFloat(key string, def float64, errs *[]error) float64 {
	raw := getenv(key, "")
	if raw == "" {
		return def
	}
	v, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		*errs = append(*errs, fmt.Errorf("%s: %w", key, err))
		return def
	}
	return v
}

func getBool(key string, def bool, errs *[]error) bool {
	raw := getenv(key, "")
	if raw == "" {
		return def
	}
	v, err := strconv.ParseBool(raw)
	if err != nil {
		*errs = append(*errs, fmt.Errorf("%s: %w", key, err))
		return def
	}
	return v
}

func getDuration(key string, def time.Duration, errs *[]error) time.Duration {
	raw := getenv(key, "")
	if raw == "" {
		return def
	}
	v, err := time.ParseDuration(raw)
	if err != nil {
		*errs = append(*errs, fmt.Errorf("%s: %w", key, err))
		return def
	}
	return v
}

func splitCSV(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
