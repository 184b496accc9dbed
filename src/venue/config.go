package venue

import (
	"fmt"
	"time"

	"github.com/kelseyhightower/envconfig"
)

type Config struct {
	QuoteDelay      time.Duration `envconfig:"MOCK_QUOTE_DELAY" default:"200ms"`
	QuoteJitter     time.Duration `envconfig:"MOCK_QUOTE_JITTER" default:"50ms"`
	ExecutionDelay  time.Duration `envconfig:"MOCK_EXECUTION_DELAY" default:"2s"`
	ExecutionJitter time.Duration `envconfig:"MOCK_EXECUTION_JITTER" default:"1s"`
	FailureRate     float64       `envconfig:"MOCK_FAILURE_RATE" default:"0.05"`
	NativeSymbol    string        `envconfig:"NATIVE_SYMBOL" default:"SOL"`
	WrapDelay       time.Duration `envconfig:"WRAP_DELAY" default:"200ms"`
	BasePrice       float64       `envconfig:"MOCK_BASE_PRICE" default:"1.0"`
}

func GetConfig() Config {
	var config Config
	if err := envconfig.Process("", &config); err != nil {
		panic(fmt.Errorf("error processing env config: %w", err))
	}
	return config
}
