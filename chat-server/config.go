package main

import (
	"os"
	"strings"

	env "github.com/Netflix/go-env"
	"github.com/cockroachdb/errors"
	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"github.com/samber/lo"
)

type Config struct {
	Port        int     `env:"PORT,default=3000" validate:"gte=0,lte=65535"`
	ClientURL   Origins `env:"CLIENT_URL,default=http://localhost:5174" validate:"min=1"`
	LogLevel    string  `env:"LOG_LEVEL,default=info" validate:"oneof=trace debug info warn error fatal panic disabled"`
	LogPretty   bool    `env:"LOG_PRETTY,default=false"`
	MetricsPort int     `env:"METRICS_PORT,default=-1" validate:"lte=65535"`
	ReadLimit   int     `env:"WS_READ_LIMIT,default=5242880" validate:"gt=0"`
	SendBuffer  int     `env:"WS_SEND_BUFFER,default=64" validate:"gt=0"`
}

// Origins is the websocket origin allow-list. "*" allows every origin.
type Origins []string

func (o *Origins) UnmarshalEnvironmentValue(data string) error {
	*o = parseOrigins(data)
	return nil
}

func parseOrigins(s string) Origins {
	parts := lo.Map(strings.Split(s, ","), func(p string, _ int) string {
		return strings.TrimRight(strings.TrimSpace(p), "/")
	})
	return lo.Uniq(lo.Compact(parts))
}

// Allows reports whether a handshake from origin may be upgraded. Requests
// without an Origin header are not from a browser and are let through.
func (o Origins) Allows(origin string) bool {
	if origin == "" {
		return true
	}
	origin = strings.TrimRight(origin, "/")
	return lo.ContainsBy(o, func(allowed string) bool {
		return allowed == "*" || strings.EqualFold(allowed, origin)
	})
}

// loadConfig reads an optional .env file and then the environment.
func loadConfig() (Config, error) {
	_ = godotenv.Load()
	es, err := env.EnvironToEnvSet(os.Environ())
	if err != nil {
		return Config{}, errors.Wrap(err, "read environment")
	}
	return configFromEnvSet(es)
}

func configFromEnvSet(es env.EnvSet) (Config, error) {
	var cfg Config
	if err := env.Unmarshal(es, &cfg); err != nil {
		return Config{}, errors.Wrap(err, "parse config")
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c Config) Validate() error {
	if err := validator.New().Struct(c); err != nil {
		return errors.Wrap(err, "invalid config")
	}
	return nil
}
