package configs

import (
	"fmt"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

const EnvPrefix = "ORDERENGINE_"

type CryptoKeys struct {
	KeyID     string `koanf:"key_id"`
	AES256B64 string `koanf:"aes256_b64url"`
	RSAPubPEM string `koanf:"rsa_pub_pem"` // counterparty public key
	RSAPriPEM string `koanf:"rsa_pri_pem"` // own private key
}

type ClientConfig struct {
	ID     string   `koanf:"id"`
	Secret string   `koanf:"secret"`
	Perms  []string `koanf:"perms"`
}

type Config struct {
	App struct {
		Name     string `koanf:"name"`
		Env      string `koanf:"env"`
		HTTPAddr string `koanf:"http_addr"`
		LogLevel string `koanf:"log_level"`
		LogFile  string `koanf:"log_file"`
	} `koanf:"app"`

	HTTP struct {
		ReadTimeout     time.Duration `koanf:"read_timeout"`
		WriteTimeout    time.Duration `koanf:"write_timeout"`
		IdleTimeout     time.Duration `koanf:"idle_timeout"`
		ShutdownTimeout time.Duration `koanf:"shutdown_timeout"`
	} `koanf:"http"`

	MySQL struct {
		Driver          string        `koanf:"driver"` // mysql | sqlite
		DSN             string        `koanf:"dsn"`
		MaxOpenConns    int           `koanf:"max_open_conns"`
		MaxIdleConns    int           `koanf:"max_idle_conns"`
		ConnMaxLifetime time.Duration `koanf:"conn_max_lifetime"`
		AutoMigrate     bool          `koanf:"auto_migrate"`
	} `koanf:"mysql"`

	Redis struct {
		Addr     string `koanf:"addr"`
		Password string `koanf:"password"`
		DB       int    `koanf:"db"`
	} `koanf:"redis"`

	Idempotency struct {
		TTL     time.Duration `koanf:"ttl"`
		LockTTL time.Duration `koanf:"lock_ttl"`
	} `koanf:"idempotency"`

	Rabbit struct {
		Enabled     bool   `koanf:"enabled"`
		URL         string `koanf:"url"`
		Exchange    string `koanf:"exchange"`
		RefundQueue string `koanf:"refund_queue"`
		Prefetch    int    `koanf:"prefetch"`
	} `koanf:"rabbitmq"`

	Kafka struct {
		Enabled     bool     `koanf:"enabled"`
		Brokers     []string `koanf:"brokers"`
		GroupID     string   `koanf:"group_id"`
		TopicEvents string   `koanf:"topic_events"`
	} `koanf:"kafka"`

	Content struct {
		Target       string        `koanf:"target"`
		Timeout      time.Duration `koanf:"timeout"`
		UseTLS       bool          `koanf:"use_tls"`
		CACertPath   string        `koanf:"ca_cert_path"`
		ServerName   string        `koanf:"server_name"`
		MaxRecvBytes int           `koanf:"max_recv_bytes"`
		CacheTTL     time.Duration `koanf:"cache_ttl"`
	} `koanf:"content"`

	Security struct {
		JWTSecret string         `koanf:"jwt_secret"`
		Issuer    string         `koanf:"issuer"`
		Audience  string         `koanf:"audience"`
		TTL       time.Duration  `koanf:"ttl"`
		Clients   []ClientConfig `koanf:"clients"`
	} `koanf:"security"`

	Payments struct {
		DefaultProvider string            `koanf:"default_provider"`
		ByCurrency      map[string]string `koanf:"by_currency"`
		GatewayTimeout  time.Duration     `koanf:"gateway_timeout"`
		MaxAttempts     int               `koanf:"max_attempts"`
		RetryBackoff    time.Duration     `koanf:"retry_backoff"`
		RatePerSecond   float64           `koanf:"rate_per_second"`

		Paylink struct {
			BaseURL       string        `koanf:"base_url"`
			APIKey        string        `koanf:"api_key"`
			WebhookSecret string        `koanf:"webhook_secret"`
			Tolerance     time.Duration `koanf:"tolerance"`
		} `koanf:"paylink"`

		SecurePay struct {
			BaseURL    string     `koanf:"base_url"`
			MerchantID string     `koanf:"merchant_id"`
			Keys       CryptoKeys `koanf:"keys"`
		} `koanf:"securepay"`
	} `koanf:"payments"`

	Webhook struct {
		RatePerSecond float64 `koanf:"rate_per_second"`
		Burst         int     `koanf:"burst"`
	} `koanf:"webhook"`

	Links struct {
		TTL         time.Duration `koanf:"ttl"`
		MaxUses     int           `koanf:"max_uses"`
		FileBaseURL string        `koanf:"file_base_url"`
	} `koanf:"links"`

	Reconcile struct {
		Interval    time.Duration `koanf:"interval"`
		StaleAfter  time.Duration `koanf:"stale_after"`
		ExpireAfter time.Duration `koanf:"expire_after"`
		Batch       int           `koanf:"batch"`
		Concurrency int           `koanf:"concurrency"`
	} `koanf:"reconcile"`

	Outbox struct {
		Interval   time.Duration `koanf:"interval"`
		Batch      int           `koanf:"batch"`
		MaxRetries int           `koanf:"max_retries"`
		Backoff    time.Duration `koanf:"backoff"`
	} `koanf:"outbox"`
}

func Load(pathDir, envName string) (Config, error) {
	k := koanf.New(".")
	// 1) base
	if err := k.Load(file.Provider(fmt.Sprintf("%s/base.yaml", pathDir)), yaml.Parser()); err != nil {
		return Config{}, fmt.Errorf("load base: %w", err)
	}

	// 2) env override (dev/staging/prod). Optional: allow missing for local runs.
	_ = k.Load(file.Provider(fmt.Sprintf("%s/%s.yaml", pathDir, envName)), yaml.Parser())

	// 3) environment variables override (prefix ORDERENGINE_, nested with __)
	// e.g. ORDERENGINE_MYSQL__DSN, ORDERENGINE_PAYMENTS__PAYLINK__API_KEY
	if err := k.Load(env.Provider(EnvPrefix, ".", func(s string) string {
		s = strings.TrimPrefix(s, EnvPrefix)
		s = strings.ReplaceAll(s, "__", ".")
		return strings.ToLower(s)
	}), nil); err != nil {
		return Config{}, fmt.Errorf("env overlay: %w", err)
	}

	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshal: %w", err)
	}
	if cfg.App.Env == "" {
		cfg.App.Env = envName
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c Config) Validate() error {
	if c.App.HTTPAddr == "" {
		return fmt.Errorf("app.http_addr required")
	}
	if c.MySQL.DSN == "" {
		return fmt.Errorf("mysql.dsn required")
	}
	if c.Security.JWTSecret == "" {
		return fmt.Errorf("security.jwt_secret required")
	}
	if c.Payments.DefaultProvider == "" {
		return fmt.Errorf("payments.default_provider required")
	}
	if c.Kafka.Enabled && len(c.Kafka.Brokers) == 0 {
		return fmt.Errorf("kafka.brokers required when kafka is enabled")
	}
	if c.Rabbit.Enabled && c.Rabbit.URL == "" {
		return fmt.Errorf("rabbitmq.url required when rabbitmq is enabled")
	}
	if c.Reconcile.ExpireAfter > 0 && c.Reconcile.ExpireAfter < c.Reconcile.StaleAfter {
		return fmt.Errorf("reconcile.expire_after must not be shorter than reconcile.stale_after")
	}
	return nil
}
