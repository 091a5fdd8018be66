//go:build e2e

package e2e

import (
	"github.com/kelseyhightower/envconfig"
)

type Config struct {
	// RELAY_GRPC_ADDR points at a running relay, e.g. localhost:50051
	GrpcAddr string `envconfig:"RELAY_GRPC_ADDR" default:"localhost:50051"`
	HTTPAddr string `envconfig:"RELAY_HTTP_ADDR" default:"http://localhost:8080"`
	// E2E_DEBUG_JSON allows dumping full gRPC request/response bodies as JSON
	DebugJSON bool `envconfig:"E2E_DEBUG_JSON" default:"false"`
	// E2E_COLOURS enables colorized output for better log readability
	Colours bool `envconfig:"E2E_COLOURS" default:"true"`
}

func LoadConfig() (Config, error) {
	var cfg Config
	err := envconfig.Process("", &cfg)
	return cfg, err
}
