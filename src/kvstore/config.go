package kvstore

import (
	"fmt"
	"time"

	"github.com/kelseyhightower/envconfig"
)

type Config struct {
	Path       string        `envconfig:"KV_PATH" default:"data/kv"`
	JobTTL     time.Duration `envconfig:"JOB_TTL" default:"24h"`
	SessionTTL time.Duration `envconfig:"SESSION_TTL" default:"24h"`
}

func GetConfig() Config {
	var config Config
	if err := envconfig.Process("", &config); err != nil {
		panic(fmt.Errorf("error processing env config: %w", err))
	}
	return config
}
