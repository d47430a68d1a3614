// Package config предоставляет структуры и функции для парсинга и загрузки конфига.
// Значения читаются из YAML-файла, секреты могут быть переопределены переменными окружения.
package config

import (
	"errors"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/ilyakaznacheev/cleanenv"
	"github.com/joho/godotenv"
)

// Режимы доставки событий в кеш партнёров.
const (
	PartnerCacheDirect = "direct"
	PartnerCacheQueue  = "queue"
	PartnerCacheOff    = "off"
)

// Драйверы хранилища.
const (
	StoragePostgres = "postgres"
	StorageMemory   = "memory"
)

// Config общая структура для хранения настроек
type Config struct {
	Env          string       `yaml:"env" env:"ENV" env-default:"local"`
	HTTPServer   HTTPServer   `yaml:"http_server"`
	Storage      Storage      `yaml:"storage"`
	Redis        Redis        `yaml:"redis"`
	RabbitMQ     RabbitMQ     `yaml:"rabbitmq"`
	Ledger       Ledger       `yaml:"ledger"`
	Partners     Partners     `yaml:"partners"`
	PartnerCache PartnerCache `yaml:"partner_cache"`
	ServiceDesk  ServiceDesk  `yaml:"servicedesk"`
}

// HTTPServer структура для настройки сервера
type HTTPServer struct {
	Address     string        `yaml:"address" env:"HTTP_ADDRESS" env-default:":8000"`
	Timeout     time.Duration `yaml:"timeout" env-default:"15s"`
	IdleTimeout time.Duration `yaml:"idle_timeout" env-default:"60s"`
	RateLimit   float64       `yaml:"rate_limit" env-default:"20"`
	RateBurst   int           `yaml:"rate_burst" env-default:"40"`
}

// Storage настройки документного хранилища.
type Storage struct {
	Driver         string `yaml:"driver" env:"STORAGE_DRIVER" env-default:"postgres"`
	DSN            string `yaml:"dsn" env:"STORAGE_DSN"`
	MaxConns       int32  `yaml:"max_conns" env-default:"10"`
	TxMaxAttempts  int    `yaml:"tx_max_attempts" env-default:"5"`
	MigrationsPath string `yaml:"migrations_path" env-default:"./migrations"`
	// Shop каталог для драйвера memory, в postgres он заполняется миграциями.
	Shop []ShopItem `yaml:"shop"`
}

// ShopItem товар каталога в конфиге.
type ShopItem struct {
	ID               string `yaml:"id"`
	Name             string `yaml:"name"`
	Price            string `yaml:"price"`
	DurationDays     int    `yaml:"duration_days"`
	SubscriptionType string `yaml:"subscription_type"`
}

// Redis структура для настройки подключения к redis
type Redis struct {
	Address     string        `yaml:"address" env:"REDIS_ADDRESS"`
	Password    string        `yaml:"password" env:"REDIS_PASSWORD"`
	User        string        `yaml:"user" env:"REDIS_USER"`
	DB          int           `yaml:"db"`
	MaxRetries  int           `yaml:"max_retries" env-default:"3"`
	DialTimeout time.Duration `yaml:"dial_timeout" env-default:"5s"`
	Timeout     time.Duration `yaml:"timeout" env-default:"3s"`
	ShopTTL     time.Duration `yaml:"shop_ttl" env-default:"10m"`
}

// RabbitMQ настройки брокера для событий продления подписок.
type RabbitMQ struct {
	URL        string        `yaml:"url" env:"RABBITMQ_URL"`
	MaxRetries int           `yaml:"max_retries" env-default:"5"`
	RetryDelay time.Duration `yaml:"retry_delay" env-default:"2s"`
	Exchange   string        `yaml:"exchange" env-default:"subscriptions"`
	Queue      string        `yaml:"queue" env-default:"partner.subscriptions"`
	RoutingKey string        `yaml:"routing_key" env-default:"extended"`
	Workers    int           `yaml:"workers" env-default:"10"`
}

// Ledger константы «тающего» баланса и чекина.
type Ledger struct {
	DecayRate     string        `yaml:"decay_rate" env-default:"0.000024"`
	CheckinReward string        `yaml:"checkin_reward" env-default:"2.0736"`
	CheckinPeriod time.Duration `yaml:"checkin_period" env-default:"24h"`
}

// Partners настройки бирж-партнёров.
type Partners struct {
	Bybit  Partner `yaml:"bybit" env-prefix:"BYBIT_"`
	BingX  Partner `yaml:"bingx" env-prefix:"BINGX_"`
	Blofin Partner `yaml:"blofin" env-prefix:"BLOFIN_"`
}

// Partner настройки одной биржи и её реферального бонуса.
type Partner struct {
	Enabled    bool          `yaml:"enabled" env:"ENABLED"`
	BaseURL    string        `yaml:"base_url" env:"BASE_URL"`
	APIKey     string        `yaml:"api_key" env:"API_KEY"`
	SecretKey  string        `yaml:"secret_key" env:"SECRET_KEY"`
	Passphrase string        `yaml:"passphrase" env:"PASSPHRASE"`
	PageSize   int           `yaml:"page_size" env-default:"50"`
	MaxPages   int           `yaml:"max_pages" env-default:"200"`
	Timeout    time.Duration `yaml:"timeout" env-default:"10s"`
	RPS        float64       `yaml:"rps" env-default:"5"`
	Bonus      Bonus         `yaml:"bonus"`
}

// Bonus описывает одноразовый бонус за привязку UID.
type Bonus struct {
	Tag              string        `yaml:"tag"`
	Name             string        `yaml:"name"`
	SubscriptionType string        `yaml:"subscription_type"`
	Duration         time.Duration `yaml:"duration"`
	BotName          string        `yaml:"bot_name" env-default:"bssbot"`
	ImageURL         string        `yaml:"image_url"`
	Messages         BonusMessages `yaml:"messages"`
}

// BonusMessages тексты сообщений пользователю; пустые заменяются стандартными.
type BonusMessages struct {
	Granted        string `yaml:"granted"`
	AlreadyGranted string `yaml:"already_granted"`
	Reused         string `yaml:"reused"`
}

// PartnerCache настройки сервиса кеша подписок партнёра.
type PartnerCache struct {
	Mode      string            `yaml:"mode" env:"PARTNER_CACHE_MODE" env-default:"direct"`
	Timeout   time.Duration     `yaml:"timeout" env-default:"10s"`
	UTCOffset time.Duration     `yaml:"utc_offset" env-default:"3h"`
	Endpoints map[string]string `yaml:"endpoints"`
	BinURL    string            `yaml:"bssbin_url" env:"BSSBIN_API_URL"`
	BybURL    string            `yaml:"bssbyb_url" env:"BSSBYB_API_URL"`
}

// Routes возвращает базовый URL сервиса кеша по типу подписки.
func (p PartnerCache) Routes() map[string]string {
	routes := make(map[string]string, len(p.Endpoints)+2)
	for k, v := range p.Endpoints {
		if v != "" {
			routes[k] = v
		}
	}
	if p.BinURL != "" {
		routes["AIHermesPRO"] = p.BinURL
	}
	if p.BybURL != "" {
		routes["BybitAIHermesPRO"] = p.BybURL
	}
	return routes
}

// ServiceDesk настройки уведомлений службы поддержки.
type ServiceDesk struct {
	Bots      []string          `yaml:"bots"`
	Templates map[string]string `yaml:"templates"`
}

// MustLoad функция для загрузки конфига, путь берётся из CONFIG_PATH
func MustLoad() *Config {
	// .env не обязателен
	_ = godotenv.Load()

	configPath := os.Getenv("CONFIG_PATH")
	if configPath == "" {
		log.Fatal("CONFIG_PATH is not set")
	}

	cfg, err := Load(configPath)
	if err != nil {
		log.Fatalf("cannot read config: %s", err)
	}
	return cfg
}

// Load читает и проверяет конфиг по указанному пути.
func Load(path string) (*Config, error) {
	const op = "config.Load"

	if _, err := os.Stat(path); os.IsNotExist(err) {
		return nil, fmt.Errorf("%s: file %s does not exist", op, path)
	}

	var cfg Config
	if err := cleanenv.ReadConfig(path, &cfg); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return &cfg, nil
}

// Validate проверяет согласованность значений.
func (c *Config) Validate() error {
	switch c.Storage.Driver {
	case StoragePostgres:
		if c.Storage.DSN == "" {
			return errors.New("storage.dsn is required for postgres driver")
		}
	case StorageMemory:
	default:
		return fmt.Errorf("unknown storage driver %q", c.Storage.Driver)
	}

	switch c.PartnerCache.Mode {
	case PartnerCacheDirect, PartnerCacheOff:
	case PartnerCacheQueue:
		if c.RabbitMQ.URL == "" {
			return errors.New("rabbitmq.url is required for queue partner cache mode")
		}
	default:
		return fmt.Errorf("unknown partner_cache.mode %q", c.PartnerCache.Mode)
	}

	for name, p := range c.Partners.All() {
		if !p.Enabled {
			continue
		}
		if p.Bonus.Tag == "" || p.Bonus.SubscriptionType == "" || p.Bonus.Duration <= 0 {
			return fmt.Errorf("partner %s: bonus tag, subscription_type and duration are required", name)
		}
	}
	return nil
}

// All возвращает настройки партнёров по имени.
func (p Partners) All() map[string]Partner {
	return map[string]Partner{
		"bybit":  p.Bybit,
		"bingx":  p.BingX,
		"blofin": p.Blofin,
	}
}

func (c *Config) String() string {
	return fmt.Sprintf(
		"Env: %s\n"+
			"HTTPServer: %s (timeout %s)\n"+
			"Storage: %s (max_conns %d, tx_max_attempts %d)\n"+
			"Redis: %s\n"+
			"RabbitMQ: exchange=%s queue=%s\n"+
			"PartnerCache: %s\n",
		c.Env,
		c.HTTPServer.Address,
		c.HTTPServer.Timeout,
		c.Storage.Driver,
		c.Storage.MaxConns,
		c.Storage.TxMaxAttempts,
		c.Redis.Address,
		c.RabbitMQ.Exchange,
		c.RabbitMQ.Queue,
		c.PartnerCache.Mode,
	)
}
