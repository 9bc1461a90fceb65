// Package config loads environment-tagged structs, optionally seeded from
// dotenv files.
//
//	type Config struct {
//		RedisURL string        `env:"REDIS_URL,required"`
//		Timeout  time.Duration `env:"SHUTDOWN_TIMEOUT" envDefault:"60s"`
//	}
//
//	cfg, err := config.Load[Config]()
//
// Variables already set in the environment win over dotenv values.
package config

import (
	"errors"
	"fmt"
	"io/fs"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
)

var (
	// ErrParsingConfig is returned when environment variables do not fit the struct.
	ErrParsingConfig = errors.New("config: failed to parse environment variables")

	// ErrLoadingEnvFile is returned when an explicitly named dotenv file cannot be read.
	ErrLoadingEnvFile = errors.New("config: failed to load env file")
)

// Load parses the environment into a T. Without files, a .env in the working
// directory is loaded when present; named files must exist.
func Load[T any](files ...string) (T, error) {
	var zero T

	if len(files) == 0 {
		if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return zero, errors.Join(ErrLoadingEnvFile, err)
		}
	} else if err := godotenv.Load(files...); err != nil {
		return zero, errors.Join(ErrLoadingEnvFile, err)
	}

	cfg, err := env.ParseAs[T]()
	if err != nil {
		return zero, errors.Join(ErrParsingConfig, err)
	}
	return cfg, nil
}

// MustLoad is Load that panics on error, for use in main.
func MustLoad[T any](files ...string) T {
	cfg, err := Load[T](files...)
	if err != nil {
		panic(fmt.Sprintf("config: %v", err))
	}
	return cfg
}
