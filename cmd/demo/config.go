package demo

import (
	"fmt"
	"time"

	"github.com/kelseyhightower/envconfig"
)

type Config struct {
	Orders    int           `envconfig:"DEMO_ORDERS" default:"5"`
	UserID    string        `envconfig:"DEMO_USER_ID" default:"demo-user"`
	OrderType string        `envconfig:"DEMO_ORDER_TYPE" default:"MARKET"`
	TokenIn   string        `envconfig:"DEMO_TOKEN_IN" default:"SOL"`
	TokenOut  string        `envconfig:"DEMO_TOKEN_OUT" default:"USDC"`
	AmountIn  float64       `envconfig:"DEMO_AMOUNT_IN" default:"1.5"`
	Slippage  float64       `envconfig:"DEMO_SLIPPAGE" default:"0.5"`
	Timeout   time.Duration `envconfig:"DEMO_TIMEOUT" default:"2m"`
}

func GetConfig() *Config {
	var config Config
	if err := envconfig.Process("", &config); err != nil {
		panic(fmt.Errorf("error processing env config: %w", err))
	}
	return &config
}
