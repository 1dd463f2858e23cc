// Package config provides environment-based configuration loading and validation.
//
// Usage:
//
//	type BusConfig struct {
//		ReaperInterval time.Duration `env:"BUS_REAPER_INTERVAL" env-default:"1s"`
//	}
//
//	var cfg BusConfig
//	if err := config.Load(&cfg); err != nil {
//		log.Fatal(err)
//	}
package config

import (
	"github.com/go-playground/validator/v10"
	"github.com/ilyakaznacheev/cleanenv"
	"github.com/slimbus-go/slimbus/pkg/errors"
)

// Load reads configuration from .env file or environment variables and validates it.
func Load[T any](cfg *T) error {
	if err := cleanenv.ReadConfig(".env", cfg); err != nil {
		if err := cleanenv.ReadEnv(cfg); err != nil {
			return errors.Wrap(err, "failed to read env config")
		}
	}

	validate := validator.New()
	if err := validate.Struct(cfg); err != nil {
		return errors.Wrap(err, "config validation failed")
	}

	return nil
}
