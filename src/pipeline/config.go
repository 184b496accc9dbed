package pipeline

import (
	"fmt"
	"time"

	"github.com/kelseyhightower/envconfig"
)

type Config struct {
	// PendingGrace gives a subscriber time to attach before routing starts.
	PendingGrace time.Duration `envconfig:"PENDING_GRACE" default:"500ms"`
	BuildDelay   time.Duration `envconfig:"BUILD_DELAY" default:"500ms"`
}

func GetConfig() Config {
	var config Config
	if err := envconfig.Process("", &config); err != nil {
		panic(fmt.Errorf("error processing env config: %w", err))
	}
	return config
}
