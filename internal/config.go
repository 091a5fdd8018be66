package internal

import (
	"fmt"
	"strings"
	"time"

	env "github.com/Netflix/go-env"
	"github.com/joho/godotenv"
)

const (
	StoreBadger   = "badger"
	StorePostgres = "postgres"
)

type Config struct {
	Host      string `env:"HOST,default=0.0.0.0"`
	Port      int    `env:"PORT,default=50051"`
	HTTPPort  int    `env:"HTTP_PORT,default=8080"`
	DebugPort int    `env:"DEBUG_PORT,default=0"`
	LogLevel  string `env:"LOG_LEVEL,default=INFO"`

	StoreDriver    string `env:"STORE_DRIVER,default=badger"`
	BadgerFilepath string `env:"BADGER_FILEPATH"`
	DatabaseURL    string `env:"DATABASE_URL"`

	JWTSecret         string        `env:"JWT_SECRET,required=true"`
	AuthTokenDuration time.Duration `env:"AUTH_TOKEN_DURATION,default=24h"`

	EditWindow           time.Duration `env:"EDIT_WINDOW,default=3m"`
	StoreTimeout         time.Duration `env:"STORE_TIMEOUT,default=5s"`
	SinkTimeout          time.Duration `env:"SINK_TIMEOUT,default=1s"`
	ConnectionBufferSize int           `env:"CONNECTION_BUFFER_SIZE,default=64"`
	BufferSize           int           `env:"BUFFER_SIZE,default=256"`
	RestartInterval      time.Duration `env:"RESTART_INTERVAL,default=1s"`
	MetricInterval       time.Duration `env:"METRIC_INTERVAL,default=15s"`
	MaxContentLength     int           `env:"MAX_CONTENT_LENGTH,default=2000"`

	CharReplacement  string `env:"CHARACTER_REPLACEMENT,default=*"`
	EnableModeration bool   `env:"ENABLE_MODERATION,default=true"`

	RateLimitRequests int           `env:"RATE_LIMIT_REQUESTS,default=100"`
	RateLimitWindow   time.Duration `env:"RATE_LIMIT_WINDOW,default=1m"`
	AllowedOrigins    string        `env:"ALLOWED_ORIGINS,default=*"`
}

// LoadConfig reads an optional .env file then the environment,
// variables already set win over the file.
func LoadConfig(files ...string) (Config, error) {
	if len(files) == 0 {
		files = []string{".env"}
	}
	for _, file := range files {
		// a missing file is fine, the environment may hold everything
		_ = godotenv.Load(file)
	}

	var config Config
	if _, err := env.UnmarshalFromEnviron(&config); err != nil {
		return Config{}, err
	}
	return config, config.Validate()
}

func (c Config) Validate() error {
	switch c.StoreDriver {
	case StoreBadger:
	case StorePostgres:
		if c.DatabaseURL == "" {
			return fmt.Errorf("DATABASE_URL is required with STORE_DRIVER=%s", StorePostgres)
		}
	default:
		return fmt.Errorf("STORE_DRIVER must be %q or %q, got %q", StoreBadger, StorePostgres, c.StoreDriver)
	}
	if len(c.JWTSecret) < 16 {
		return fmt.Errorf("JWT_SECRET must be at least 16 characters")
	}
	if c.EditWindow <= 0 || c.StoreTimeout <= 0 || c.SinkTimeout <= 0 {
		return fmt.Errorf("EDIT_WINDOW, STORE_TIMEOUT and SINK_TIMEOUT must be positive")
	}
	if c.ConnectionBufferSize <= 0 || c.BufferSize <= 0 {
		return fmt.Errorf("CONNECTION_BUFFER_SIZE and BUFFER_SIZE must be positive")
	}
	if _, err := c.CharacterRune(); err != nil {
		return err
	}
	return nil
}

func (c Config) CharacterRune() (rune, error) {
	r := []rune(c.CharReplacement)
	if len(r) != 1 {
		return 0, fmt.Errorf(
			"CHARACTER_REPLACEMENT must be a single character, got %q",
			c.CharReplacement,
		)
	}
	return r[0], nil
}

func (c Config) Origins() []string {
	var origins []string
	for _, origin := range strings.Split(c.AllowedOrigins, ",") {
		if origin = strings.TrimSpace(origin); origin != "" {
			origins = append(origins, origin)
		}
	}
	return origins
}
