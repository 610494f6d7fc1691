package config

import (
	"errors"
	"fmt"
	"io/fs"
	"net"
	"strconv"
	"strings"
	"time"

	env "github.com/Netflix/go-env"
	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
)

// Config is the relay server configuration, read from the environment
// and an optional .env file.
type Config struct {
	Host                string        `env:"HOST,default=0.0.0.0" validate:"required"`
	Port                int           `env:"PORT,default=3010" validate:"min=1,max=65535"`
	LogLevel            string        `env:"LOG_LEVEL,default=info"`
	AllowedOrigins      string        `env:"ALLOWED_ORIGINS,default=http://localhost:3000"`
	JoinLinkSecret      string        `env:"JOIN_LINK_SECRET,default=confera-dev-secret" validate:"required,min=8"`
	DefaultLinkPassword string        `env:"DEFAULT_LINK_PASSWORD,default=confera" validate:"required"`
	MaxIDAttempts       int           `env:"MAX_ID_ATTEMPTS,default=1000" validate:"min=1"`
	SendBufferSize      int           `env:"SEND_BUFFER_SIZE,default=256" validate:"min=1"`
	Codec               string        `env:"CODEC,default=json" validate:"oneof=json msgpack"`
	AdminSecret         string        `env:"ADMIN_SECRET"`
	AdminTokenTTL       time.Duration `env:"ADMIN_TOKEN_TTL,default=15m"`
	ShutdownTimeout     time.Duration `env:"SHUTDOWN_TIMEOUT,default=10s"`
}

// Load reads the given .env files (default ".env") if they exist, then
// the process environment. Real environment variables win over .env.
func Load(files ...string) (*Config, error) {
	if err := godotenv.Load(files...); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("load .env: %w", err)
	}

	var cfg Config
	if _, err := env.UnmarshalFromEnviron(&cfg); err != nil {
		return nil, fmt.Errorf("config error: %w", err)
	}
	if err := validator.New().Struct(cfg); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return &cfg, nil
}

func (c *Config) Addr() string {
	return net.JoinHostPort(c.Host, strconv.Itoa(c.Port))
}

// Origins returns the allowed CORS/websocket origins. "*" allows any.
func (c *Config) Origins() []string {
	var out []string
	for _, o := range strings.Split(c.AllowedOrigins, ",") {
		if o = strings.TrimSpace(o); o != "" {
			out = append(out, o)
		}
	}
	return out
}

// AdminEnabled reports whether the admin API is reachable.
func (c *Config) AdminEnabled() bool {
	return c.AdminSecret != ""
}
