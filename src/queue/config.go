package queue

import (
	"fmt"
	"time"

	"github.com/kelseyhightower/envconfig"
)

type Config struct {
	Concurrency   int           `envconfig:"MAX_CONCURRENT_ORDERS" default:"10"`
	RatePerWindow int           `envconfig:"ORDERS_PER_MINUTE" default:"100"`
	RateWindow    time.Duration `envconfig:"RATE_WINDOW" default:"60s"`
	MaxAttempts   int           `envconfig:"MAX_RETRY_ATTEMPTS" default:"3"`
	BaseDelay     time.Duration `envconfig:"RETRY_BASE_DELAY" default:"2s"`
	MaxBackoff    time.Duration `envconfig:"RETRY_MAX_DELAY" default:"60s"`
	JobTTL        time.Duration `envconfig:"JOB_TTL" default:"24h"`
}

func GetConfig() Config {
	var config Config
	if err := envconfig.Process("", &config); err != nil {
		panic(fmt.Errorf("error processing env config: %w", err))
	}
	return config
}
