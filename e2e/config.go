package e2e

import (
	"github.com/kelseyhightower/envconfig"
)

type Config struct {
	// GATEWAY_ADDR targets a running gateway; empty starts one in process
	GatewayAddr string `envconfig:"GATEWAY_ADDR"`
	// E2E_DEBUG_JSON dumps every frame received
	DebugJSON bool `envconfig:"E2E_DEBUG_JSON" default:"false"`
	// E2E_COLOURS enables colorized output for better log readability
	Colours bool `envconfig:"E2E_COLOURS" default:"true"`
}

func LoadConfig() (Config, error) {
	var cfg Config
	err := envconfig.Process("", &cfg)
	return cfg, err
}
