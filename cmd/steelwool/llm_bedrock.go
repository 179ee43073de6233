//go:build bedrock

package main

import (
	"log/slog"

	"steelwool/internal/adapter/llm"
	"steelwool/internal/domain"
	"steelwool/internal/infra/config"
)

func createBedrockProvider(pc config.ProviderConfig, log *slog.Logger) (domain.NamedProvider, error) {
	p, err := llm.NewBedrockProvider(pc, log)
	if err != nil {
		return nil, err
	}
	return p, nil
}
