package config

import (
	"errors"
	"fmt"
	"os"

	"sana/internal/models"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

type Config struct {
	App        AppConfig        `yaml:"app"`
	Database   DatabaseConfig   `yaml:"database"`
	Redis      RedisConfig      `yaml:"redis"`
	Logging    LoggingConfig    `yaml:"logging"`
	Monitoring MonitoringConfig `yaml:"monitoring"`
	API        APIConfig        `yaml:"api"`
	Booking    BookingConfig    `yaml:"booking"`
	Commission CommissionConfig `yaml:"commission"`
	Payouts    PayoutConfig     `yaml:"payouts"`
	Reminders  ReminderConfig   `yaml:"reminders"`
	Rail       RailConfig       `yaml:"payment_rail"`
	Rooms      RoomsConfig      `yaml:"rooms"`
	Telegram   TelegramConfig   `yaml:"telegram"`
	Google     GoogleConfig     `yaml:"google"`
	Exports    ExportConfig     `yaml:"exports"`
}

type AppConfig struct {
	Name        string `yaml:"name"`
	Environment string `yaml:"environment"`
	Version     string `yaml:"version"`
}

type DatabaseConfig struct {
	Path string `yaml:"path"`
}

type RedisConfig struct {
	Address  string `yaml:"address"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
	PoolSize int    `yaml:"pool_size"`
}

type LoggingConfig struct {
	Level    string `yaml:"level"`
	Format   string `yaml:"format"`
	Output   string `yaml:"output"`
	FilePath string `yaml:"file_path"`
}

type MonitoringConfig struct {
	PrometheusEnabled bool `yaml:"prometheus_enabled"`
	PrometheusPort    int  `yaml:"prometheus_port"`
}

type APIConfig struct {
	Enabled      bool               `yaml:"enabled"`
	Port         int                `yaml:"port"`
	HeaderAPIKey string             `yaml:"header_api_key"`
	APIKeys      []APIClientKey     `yaml:"api_keys"`
	RateLimit    APIRateLimitConfig `yaml:"rate_limit"`
}

type APIClientKey struct {
	Key  string `yaml:"key"`
	Name string `yaml:"name"`
}

type APIRateLimitConfig struct {
	RPS   float64 `yaml:"rps"`
	Burst int     `yaml:"burst"`
}

type BookingConfig struct {
	CancellationWindowHours int `yaml:"cancellation_window_hours"`
}

// CommissionConfig описывает тарифные планы комиссии платформы.
type CommissionConfig struct {
	BaseRates []ServiceRate    `yaml:"base_rates"`
	Tiers     []TierAdjustment `yaml:"tiers"`
}

type ServiceRate struct {
	ServiceType string  `yaml:"service_type"`
	Rate        float64 `yaml:"rate"`
}

type TierAdjustment struct {
	Tier        string  `yaml:"tier"`
	ServiceType string  `yaml:"service_type"`
	Adjustment  float64 `yaml:"adjustment"`
}

type PayoutConfig struct {
	MinAmountCents       int64  `yaml:"min_amount_cents"`
	DefaultMethod        string `yaml:"default_method"`
	LockTTLSeconds       int    `yaml:"lock_ttl_seconds"`
	BatchIntervalMinutes int    `yaml:"batch_interval_minutes"`
	MaxBatchesPerDay     int    `yaml:"max_batches_per_day"`
}

type ReminderConfig struct {
	UpcomingOffsetsMinutes []int `yaml:"upcoming_offsets_minutes"`
	ReviewDelayHours       int   `yaml:"review_delay_hours"`
}

type RailConfig struct {
	BaseURL        string  `yaml:"base_url"`
	APIKey         string  `yaml:"api_key"`
	TimeoutSeconds int     `yaml:"timeout_seconds"`
	RPS            float64 `yaml:"rps"`
	Burst          int     `yaml:"burst"`
}

type RoomsConfig struct {
	BaseURL        string `yaml:"base_url"`
	APIKey         string `yaml:"api_key"`
	TimeoutSeconds int    `yaml:"timeout_seconds"`
}

type TelegramConfig struct {
	BotToken  string `yaml:"bot_token"`
	OpsChatID int64  `yaml:"ops_chat_id"`
	Debug     bool   `yaml:"debug"`
}

type GoogleConfig struct {
	CredentialsFile     string `yaml:"credentials_file"`
	PayoutSpreadsheetID string `yaml:"payouts_spreadsheet_id"`
}

type ExportConfig struct {
	Path string `yaml:"path"`
}

func Load(configPath string) (*Config, error) {
	// .env необязателен: в проде переменные приходят из окружения
	_ = godotenv.Load(".env")

	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, err
	}

	// Предварительная замена переменных окружения в YAML
	expandedData := []byte(os.ExpandEnv(string(data)))

	var config Config
	if err := yaml.Unmarshal(expandedData, &config); err != nil {
		return nil, err
	}

	config.applyDefaults()

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return &config, nil
}

func (c *Config) Validate() error {
	if c.Database.Path == "" {
		return errors.New("database path is required")
	}

	if c.Payouts.MinAmountCents < 0 {
		return errors.New("payouts.min_amount_cents must not be negative")
	}

	return ValidateCommission(c.Commission)
}

func ValidateCommission(cc CommissionConfig) error {
	seen := make(map[string]bool)
	for _, r := range cc.BaseRates {
		if r.ServiceType == "" {
			return errors.New("commission base rate with empty service_type")
		}
		if r.Rate < 0 || r.Rate > 100 {
			return fmt.Errorf("commission rate for '%s' out of range: %v", r.ServiceType, r.Rate)
		}
		if seen[r.ServiceType] {
			return fmt.Errorf("duplicate commission base rate for '%s'", r.ServiceType)
		}
		seen[r.ServiceType] = true
	}
	return nil
}

func (c *Config) applyDefaults() {
	if c.API.Port == 0 {
		c.API.Port = 8080
	}
	if c.API.HeaderAPIKey == "" {
		c.API.HeaderAPIKey = "x-api-key"
	}
	if c.Monitoring.PrometheusEnabled && c.Monitoring.PrometheusPort == 0 {
		c.Monitoring.PrometheusPort = 9090
	}

	if c.Booking.CancellationWindowHours == 0 {
		c.Booking.CancellationWindowHours = models.DefaultCancellationWindowHours
	}

	if c.Payouts.MinAmountCents == 0 {
		c.Payouts.MinAmountCents = models.DefaultMinPayoutCents
	}
	if c.Payouts.DefaultMethod == "" {
		c.Payouts.DefaultMethod = "bank_transfer"
	}
	if c.Payouts.LockTTLSeconds == 0 {
		c.Payouts.LockTTLSeconds = models.DefaultLockTTL
	}
	if c.Payouts.BatchIntervalMinutes == 0 {
		c.Payouts.BatchIntervalMinutes = models.DefaultPayoutBatchIntervalMinutes
	}
	if c.Payouts.MaxBatchesPerDay == 0 {
		c.Payouts.MaxBatchesPerDay = models.DefaultMaxPayoutBatchesPerDay
	}

	if len(c.Reminders.UpcomingOffsetsMinutes) == 0 {
		c.Reminders.UpcomingOffsetsMinutes = []int{24 * 60, 30}
	}
	if c.Reminders.ReviewDelayHours == 0 {
		c.Reminders.ReviewDelayHours = models.DefaultReviewDelayHours
	}

	if c.Rail.TimeoutSeconds == 0 {
		c.Rail.TimeoutSeconds = 15
	}
	if c.Rail.RPS == 0 {
		c.Rail.RPS = 10
	}
	if c.Rail.Burst == 0 {
		c.Rail.Burst = 5
	}
	if c.Rooms.TimeoutSeconds == 0 {
		c.Rooms.TimeoutSeconds = 10
	}
}
