package config

import (
	"errors"
	"fmt"
	"io/fs"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	Telegram     TelegramConfig     `mapstructure:"telegram"`
	RateLimit    RateLimitConfig    `mapstructure:"ratelimit"`
	Dedup        DedupConfig        `mapstructure:"dedup"`
	Conversation ConversationConfig `mapstructure:"conversation"`
	Router       RouterConfig       `mapstructure:"router"`
	Directory    DirectoryConfig    `mapstructure:"directory"`
	Sheets       SheetsConfig       `mapstructure:"sheets"`
	Blob         BlobConfig         `mapstructure:"blob"`
	OpenAI       OpenAIConfig       `mapstructure:"openai"`
	Storage      StorageConfig      `mapstructure:"storage"`
	Database     DatabaseConfig     `mapstructure:"database"`
	Telemetry    TelemetryConfig    `mapstructure:"telemetry"`
	Schedule     ScheduleConfig     `mapstructure:"schedule"`
	Status       StatusConfig       `mapstructure:"status"`
	ContactInfo  string             `mapstructure:"contact_info"`
}

type TelegramConfig struct {
	Token     string  `mapstructure:"token"`
	SendRate  float64 `mapstructure:"send_rate"`
	SendBurst int     `mapstructure:"send_burst"`
}

type RateLimitConfig struct {
	Window time.Duration `mapstructure:"window"`
	Quota  uint          `mapstructure:"quota"`
}

type DedupConfig struct {
	TTL time.Duration `mapstructure:"ttl"`
}

type ConversationConfig struct {
	WelcomeInterval time.Duration `mapstructure:"welcome_interval"`
	GeneralInterval time.Duration `mapstructure:"general_interval"`
}

type RouterConfig struct {
	TicketTTL time.Duration `mapstructure:"ticket_ttl"`
	PrefixLen int           `mapstructure:"prefix_len"`
}

type DirectoryConfig struct {
	TTL time.Duration `mapstructure:"ttl"`
}

type SheetsConfig struct {
	CredentialsFile string `mapstructure:"credentials_file"`
	SpreadsheetID   string `mapstructure:"spreadsheet_id"`
	StaffRange      string `mapstructure:"staff_range"`
	MarketRange     string `mapstructure:"market_range"`
}

type BlobConfig struct {
	Bucket          string `mapstructure:"bucket"`
	Prefix          string `mapstructure:"prefix"`
	CredentialsFile string `mapstructure:"credentials_file"`
}

type OpenAIConfig struct {
	APIKey      string  `mapstructure:"api_key"`
	Model       string  `mapstructure:"model"`
	MaxTokens   int     `mapstructure:"max_tokens"`
	Temperature float64 `mapstructure:"temperature"`
}

type StorageConfig struct {
	Driver string `mapstructure:"driver"`
	Dir    string `mapstructure:"dir"`
}

type DatabaseConfig struct {
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	User     string `mapstructure:"user"`
	Password string `mapstructure:"password"`
	DBName   string `mapstructure:"dbname"`
	SSLMode  string `mapstructure:"sslmode"`
}

type TelemetryConfig struct {
	FlushEvery int `mapstructure:"flush_every"`
	SampleCap  int `mapstructure:"sample_cap"`
}

type ScheduleConfig struct {
	Directory  time.Duration `mapstructure:"directory"`
	Dedup      time.Duration `mapstructure:"dedup"`
	RateLimit  time.Duration `mapstructure:"ratelimit"`
	Tickets    time.Duration `mapstructure:"tickets"`
	Telemetry  time.Duration `mapstructure:"telemetry"`
	StateFlush time.Duration `mapstructure:"state_flush"`
}

type StatusConfig struct {
	Addr string `mapstructure:"addr"`
}

func parseDatabaseURL(dbURL string) (DatabaseConfig, error) {
	u, err := url.Parse(dbURL)
	if err != nil {
		return DatabaseConfig{}, err
	}
	if u.Scheme != "postgres" && u.Scheme != "postgresql" {
		return DatabaseConfig{}, fmt.Errorf("unsupported scheme %q", u.Scheme)
	}

	password, _ := u.User.Password()
	port := 5432 // default PostgreSQL port
	if u.Port() != "" {
		port, err = strconv.Atoi(u.Port())
		if err != nil {
			return DatabaseConfig{}, fmt.Errorf("invalid port %q: %w", u.Port(), err)
		}
	}

	sslMode := u.Query().Get("sslmode")
	if sslMode == "" {
		sslMode = "disable"
	}

	return DatabaseConfig{
		Host:     u.Hostname(),
		Port:     port,
		User:     u.User.Username(),
		Password: password,
		DBName:   strings.TrimPrefix(u.Path, "/"),
		SSLMode:  sslMode,
	}, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("telegram.send_rate", 25)
	v.SetDefault("telegram.send_burst", 5)

	v.SetDefault("ratelimit.window", time.Minute)
	v.SetDefault("ratelimit.quota", 15)
	v.SetDefault("dedup.ttl", time.Hour)
	v.SetDefault("conversation.welcome_interval", 24*time.Hour)
	v.SetDefault("conversation.general_interval", 5*time.Minute)
	v.SetDefault("router.ticket_ttl", 24*time.Hour)
	v.SetDefault("router.prefix_len", 50)
	v.SetDefault("directory.ttl", 5*time.Minute)

	v.SetDefault("sheets.staff_range", "Staff!A:C")
	v.SetDefault("sheets.market_range", "Market!A:F")
	v.SetDefault("blob.prefix", "reports/")

	v.SetDefault("openai.model", "gpt-3.5-turbo")
	v.SetDefault("openai.max_tokens", 150)
	v.SetDefault("openai.temperature", 0.7)

	v.SetDefault("storage.driver", "file")
	v.SetDefault("storage.dir", "data")
	v.SetDefault("database.port", 5432)
	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.user", "postgres")
	v.SetDefault("database.sslmode", "disable")

	v.SetDefault("telemetry.flush_every", 10)
	v.SetDefault("telemetry.sample_cap", 1000)

	v.SetDefault("schedule.directory", 5*time.Minute)
	v.SetDefault("schedule.dedup", 30*time.Minute)
	v.SetDefault("schedule.ratelimit", 15*time.Minute)
	v.SetDefault("schedule.tickets", time.Hour)
	v.SetDefault("schedule.telemetry", 5*time.Minute)
	v.SetDefault("schedule.state_flush", 5*time.Minute)

	v.SetDefault("status.addr", ":8080")
}

// LoadConfig reads path when it exists and applies environment overrides.
// An empty path uses defaults and the environment only.
func LoadConfig(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	// Enable environment variable support
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			if !errors.As(err, &notFound) && !errors.Is(err, fs.ErrNotExist) {
				return nil, fmt.Errorf("read config %s: %w", path, err)
			}
		}
	}

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}

	// Check for DATABASE_URL environment variable
	if dbURL := v.GetString("DATABASE_URL"); dbURL != "" {
		dbConfig, err := parseDatabaseURL(dbURL)
		if err != nil {
			return nil, fmt.Errorf("failed to parse DATABASE_URL: %w", err)
		}
		config.Database = dbConfig
	}

	if token := v.GetString("TELEGRAM_TOKEN"); token != "" {
		config.Telegram.Token = token
	}
	if apiKey := v.GetString("OPENAI_API_KEY"); apiKey != "" {
		config.OpenAI.APIKey = apiKey
	}

	if err := config.Validate(); err != nil {
		return nil, err
	}
	return &config, nil
}

func (c *Config) Validate() error {
	switch c.Storage.Driver {
	case "file", "postgres", "memory":
	default:
		return fmt.Errorf("unknown storage driver %q", c.Storage.Driver)
	}
	if c.RateLimit.Quota == 0 {
		return errors.New("ratelimit.quota must be positive")
	}
	if c.Router.PrefixLen <= 0 {
		return errors.New("router.prefix_len must be positive")
	}
	return nil
}
