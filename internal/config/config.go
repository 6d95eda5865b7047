// Package config loads server settings from the environment, with an
// optional .env file for local development.
package config

import (
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
)

type Config struct {
	Addr           string        `env:"ADDR" envDefault:":8080"`
	DatabaseURL    string        `env:"DATABASE_URL"`
	IdleTimeout    time.Duration `env:"SESSION_IDLE_TIMEOUT" envDefault:"5m"`
	DefaultPlayers int           `env:"DEFAULT_PLAYERS" envDefault:"2"`
	DefaultWidth   uint8         `env:"DEFAULT_BOARD_WIDTH" envDefault:"4"`
	DefaultHeight  uint8         `env:"DEFAULT_BOARD_HEIGHT" envDefault:"4"`
	Debug          bool          `env:"DEBUG" envDefault:"false"`
}

func Load() (Config, error) {
	// Missing .env is fine; real deployments set the environment directly.
	_ = godotenv.Load()

	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return Config{}, err
	}
	return cfg, nil
}
