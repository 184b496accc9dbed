package broadcast

import (
	"fmt"
	"time"

	"github.com/kelseyhightower/envconfig"
)

type Config struct {
	HeartbeatInterval time.Duration `envconfig:"WS_HEARTBEAT_INTERVAL" default:"30s"`
	WriteWait         time.Duration `envconfig:"WS_WRITE_WAIT" default:"10s"`
	SessionTTL        time.Duration `envconfig:"SESSION_TTL" default:"24h"`
}

func GetConfig() Config {
	var config Config
	if err := envconfig.Process("", &config); err != nil {
		panic(fmt.Errorf("error processing env config: %w", err))
	}
	return config
}
