package config

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// ErrInvalid marks configuration that is missing or malformed.
var ErrInvalid = errors.New("invalid configuration")

type Config struct {
	Channels     []string
	ChannelsFile string
	BaseURL      string
	HTTPTimeout  time.Duration

	Window      time.Duration
	Delay       time.Duration
	MaxChannels int
	MaxMessages int

	RawPath    string
	ReportPath string
	StorePath  string
	CachePath  string

	LogLevel  string
	LogFormat string
	LogFile   string

	DatabaseURL string
	NatsURL     string
	NatsToken   string

	Port     int
	Schedule string
}

// Load reads configuration from the environment after applying any .env
// files found. Variables already set in the environment take precedence.
func Load(envFiles ...string) (Config, error) {
	if len(envFiles) == 0 {
		envFiles = []string{".env"}
	}
	for _, f := range envFiles {
		if err := godotenv.Load(f); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return Config{}, fmt.Errorf("%w: load %s: %w", ErrInvalid, f, err)
		}
	}

	var errs []error
	cfg := Config{
		Channels:     envList("TGC_CHANNELS"),
		ChannelsFile: envStr("TGC_CHANNELS_FILE", ""),
		BaseURL:      envStr("TGC_BASE_URL", "https://t.me"),
		HTTPTimeout:  envDuration("TGC_HTTP_TIMEOUT", 15*time.Second, &errs),
		Window:       envDuration("TGC_WINDOW", 24*time.Hour, &errs),
		Delay:        envDuration("TGC_DELAY", 0, &errs),
		MaxChannels:  envInt("TGC_MAX_CHANNELS", 0, &errs),
		MaxMessages:  envInt("TGC_MAX_MESSAGES", 0, &errs),
		RawPath:      envStr("TGC_RAW_PATH", "RawText.txt"),
		ReportPath:   envStr("TGC_REPORT_PATH", "Telegram_output.txt"),
		StorePath:    envStr("TGC_STORE_PATH", "Final_Configs.txt"),
		CachePath:    envStr("TGC_CACHE_PATH", "selected_chats.json"),
		LogLevel:     envStr("LOG_LEVEL", "info"),
		LogFormat:    envStr("TGC_LOG_FORMAT", "text"),
		LogFile:      envStr("TGC_LOG_FILE", ""),
		DatabaseURL:  envStr("DATABASE_URL", ""),
		NatsURL:      envStr("NATS_URL", ""),
		NatsToken:    envStr("NATS_TOKEN", ""),
		Port:         envInt("TGC_PORT", 8760, &errs),
		Schedule:     envStr("TGC_SCHEDULE", "@every 6h"),
	}
	if len(errs) > 0 {
		return Config{}, errors.Join(errs...)
	}

	if cfg.ChannelsFile != "" {
		chans, err := LoadChannelsFile(cfg.ChannelsFile)
		if err != nil {
			return Config{}, fmt.Errorf("%w: %w", ErrInvalid, err)
		}
		cfg.Channels = append(cfg.Channels, chans...)
	}
	return cfg, nil
}

// Validate reports every problem that would stop a run before any network
// traffic happens.
func (c Config) Validate() error {
	var problems []string
	if len(c.Channels) == 0 {
		problems = append(problems, "no channels configured (set TGC_CHANNELS or TGC_CHANNELS_FILE)")
	}
	if c.Window <= 0 {
		problems = append(problems, "window must be positive")
	}
	if c.Delay < 0 {
		problems = append(problems, "delay must not be negative")
	}
	if c.MaxChannels < 0 {
		problems = append(problems, "max channels must not be negative")
	}
	if c.MaxMessages < 0 {
		problems = append(problems, "max messages must not be negative")
	}
	if c.Port <= 0 || c.Port > 65535 {
		problems = append(problems, "port must be between 1 and 65535")
	}
	if c.StorePath == "" {
		problems = append(problems, "store path is empty")
	}
	if len(problems) > 0 {
		return fmt.Errorf("%w: %s", ErrInvalid, strings.Join(problems, "; "))
	}
	return nil
}

// LoadChannelsFile reads a CSV whose first column is a channel username or
// t.me link. Blank rows, '#' comments and a "url" or "channel" header are
// skipped.
func LoadChannelsFile(path string) ([]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open channels file: %w", err)
	}
	defer f.Close()

	r := csv.NewReader(f)
	r.FieldsPerRecord = -1
	r.Comment = '#'

	var channels []string
	for {
		record, err := r.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("read channels file: %w", err)
		}
		if len(record) == 0 {
			continue
		}
		cell := strings.TrimSpace(record[0])
		if cell == "" || strings.EqualFold(cell, "url") || strings.EqualFold(cell, "channel") {
			continue
		}
		channels = append(channels, cell)
	}
	return channels, nil
}

func envStr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envInt(key string, fallback int, errs *[]error) int {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(strings.TrimSpace(v))
	if err != nil {
		*errs = append(*errs, fmt.Errorf("%w: %s=%q: not an integer", ErrInvalid, key, v))
		return fallback
	}
	return n
}

func envDuration(key string, fallback time.Duration, errs *[]error) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		*errs = append(*errs, fmt.Errorf("%w: %s=%q: %w", ErrInvalid, key, v, err))
		return fallback
	}
	return d
}

func envList(key string) []string {
	var out []string
	for _, part := range strings.Split(os.Getenv(key), ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
