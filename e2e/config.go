package e2e

import (
	"github.com/kelseyhightower/envconfig"
)

// Config points the suite at a running dispatcher.
// Tokens are printed by cmd/token, e.g.
//
//	ALICE_TOKEN=$(go run ./cmd/token -user alice -groups team)
type Config struct {
	DispatcherAddr string `envconfig:"DISPATCHER_ADDR"`
	AliceToken     string `envconfig:"ALICE_TOKEN"`
	BobToken       string `envconfig:"BOB_TOKEN"`
	Group          string `envconfig:"E2E_GROUP" default:"team"`
	// E2E_DEBUG_JSON dumps every frame read or written
	DebugJSON bool `envconfig:"E2E_DEBUG_JSON" default:"false"`
	// E2E_COLOURS enables colorized output for better log readability
	Colours bool `envconfig:"E2E_COLOURS" default:"true"`
}

func LoadConfig() (Config, error) {
	var cfg Config
	err := envconfig.Process("", &cfg)
	return cfg, err
}
