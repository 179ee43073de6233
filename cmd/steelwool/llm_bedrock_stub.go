//go:build !bedrock

package main

import (
	"fmt"
	"log/slog"

	"steelwool/internal/domain"
	"steelwool/internal/infra/config"
)

func createBedrockProvider(_ config.ProviderConfig, _ *slog.Logger) (domain.NamedProvider, error) {
	return nil, fmt.Errorf("bedrock provider requires build with -tags bedrock")
}
