package checkout

import (
	"errors"
	"time"
)

const (
	DefaultPollInterval = 3 * time.Second
	DefaultMaxPolls     = 60
)

type Config struct {
	PollInterval time.Duration
	MaxPolls     int
}

func DefaultConfig() Config {
	return Config{
		PollInterval: DefaultPollInterval,
		MaxPolls:     DefaultMaxPolls,
	}
}

func (c Config) Validate() error {
	if c.PollInterval <= 0 {
		return errors.New("poll interval must be positive")
	}
	if c.MaxPolls <= 0 {
		return errors.New("max polls must be positive")
	}
	return nil
}
