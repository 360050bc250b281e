package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"go.uber.org/multierr"
)

type Config struct {
	Addr            string
	DatabaseURL     string // empty keeps everything in memory
	LogLevel        string
	LogFormat       string // "json" or "console"
	AllowedOrigins  []string
	WSReadTimeout   time.Duration
	WSPingInterval  time.Duration
	RoomEmptyTTL    time.Duration
	ChatRate        float64 // actions per second per connection
	ChatBurst       int
	RecorderQueue   int
	ShutdownTimeout time.Duration
}

func Defaults() Config {
	return Config{
		Addr:            ":8080",
		LogLevel:        "info",
		LogFormat:       "json",
		WSReadTimeout:   120 * time.Second,
		WSPingInterval:  25 * time.Second,
		RoomEmptyTTL:    30 * time.Second,
		ChatRate:        5,
		ChatBurst:       10,
		RecorderQueue:   256,
		ShutdownTimeout: 10 * time.Second,
	}
}

// Load reads a .env file when one exists, then the process environment.
func Load() (Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return Config{}, fmt.Errorf("load .env: %w", err)
	}
	return FromLookup(os.LookupEnv)
}

// FromLookup builds a Config from lookup, reporting every bad value at once.
func FromLookup(lookup func(string) (string, bool)) (Config, error) {
	c := Defaults()
	var errs error

	str := func(key string, dst *string) {
		if v, ok := lookup(key); ok && strings.TrimSpace(v) != "" {
			*dst = strings.TrimSpace(v)
		}
	}
	dur := func(key string, dst *time.Duration) {
		v, ok := lookup(key)
		if !ok || v == "" {
			return
		}
		d, err := time.ParseDuration(v)
		if err != nil || d <= 0 {
			errs = multierr.Append(errs, fmt.Errorf("%s: invalid duration %q", key, v))
			return
		}
		*dst = d
	}
	integer := func(key string, dst *int) {
		v, ok := lookup(key)
		if !ok || v == "" {
			return
		}
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			errs = multierr.Append(errs, fmt.Errorf("%s: invalid positive integer %q", key, v))
			return
		}
		*dst = n
	}

	str("ADDR", &c.Addr)
	str("DATABASE_URL", &c.DatabaseURL)
	str("LOG_LEVEL", &c.LogLevel)
	str("LOG_FORMAT", &c.LogFormat)
	if v, ok := lookup("ALLOWED_ORIGINS"); ok {
		for _, o := range strings.Split(v, ",") {
			if o = strings.TrimSpace(o); o != "" {
				c.AllowedOrigins = append(c.AllowedOrigins, o)
			}
		}
	}
	dur("WS_READ_TIMEOUT", &c.WSReadTimeout)
	dur("WS_PING_INTERVAL", &c.WSPingInterval)
	dur("ROOM_EMPTY_TTL", &c.RoomEmptyTTL)
	dur("SHUTDOWN_TIMEOUT", &c.ShutdownTimeout)
	if v, ok := lookup("CHAT_RATE"); ok && v != "" {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil || f <= 0 {
			errs = multierr.Append(errs, fmt.Errorf("CHAT_RATE: invalid rate %q", v))
		} else {
			c.ChatRate = f
		}
	}
	integer("CHAT_BURST", &c.ChatBurst)
	integer("RECORDER_QUEUE", &c.RecorderQueue)

	switch c.LogFormat {
	case "json", "console":
	default:
		errs = multierr.Append(errs, fmt.Errorf("LOG_FORMAT: must be json or console, got %q", c.LogFormat))
	}
	if c.WSPingInterval >= c.WSReadTimeout {
		errs = multierr.Append(errs, fmt.Errorf("WS_PING_INTERVAL (%s) must be shorter than WS_READ_TIMEOUT (%s)", c.WSPingInterval, c.WSReadTimeout))
	}

	if errs != nil {
		return Config{}, errs
	}
	return c, nil
}
