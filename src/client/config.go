package client

import (
	"fmt"
	"time"

	"github.com/kelseyhightower/envconfig"
)

const (
	defaultRetryAttempts   = 3
	defaultRetryBaseDelay  = 200 * time.Millisecond
	defaultRetryMaxBackoff = 2 * time.Second
)

type Config struct {
	BaseURL string        `envconfig:"ENGINE_URL" default:"http://localhost:3000"`
	Timeout time.Duration `envconfig:"ENGINE_TIMEOUT" default:"15s"`
}

func GetConfig() *Config {
	var config Config
	if err := envconfig.Process("", &config); err != nil {
		panic(fmt.Errorf("error processing env config: %w", err))
	}
	return &config
}
