package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"steelwool/internal/adapter/tool"
	"steelwool/internal/adapter/transcript"
	"steelwool/internal/domain"
	"steelwool/internal/infra/config"
	"steelwool/internal/infra/logger"
	"steelwool/internal/infra/tracer"
	"steelwool/internal/usecase"
)

// cliFlags holds the global flags accepted by every command.
type cliFlags struct {
	Config   string
	Provider string
	Model    string
	Resume   string
}

// parseArgs separates global flags from positional arguments. Both
// "--flag value" and "--flag=value" forms are accepted.
func parseArgs(args []string) (cliFlags, []string, error) {
	var (
		flags cliFlags
		rest  []string
	)
	targets := map[string]*string{
		"--config":   &flags.Config,
		"--provider": &flags.Provider,
		"--model":    &flags.Model,
		"--resume":   &flags.Resume,
	}

	for i := 0; i < len(args); i++ {
		arg := args[i]
		if !strings.HasPrefix(arg, "--") {
			rest = append(rest, arg)
			continue
		}
		name, value, hasValue := strings.Cut(arg, "=")
		dst, ok := targets[name]
		if !ok {
			return flags, nil, fmt.Errorf("unknown flag: %s", name)
		}
		if !hasValue {
			if i+1 >= len(args) {
				return flags, nil, fmt.Errorf("flag %s needs a value", name)
			}
			i++
			value = args[i]
		}
		*dst = value
	}
	return flags, rest, nil
}

// configPath resolves the config file: --config, then STEELWOOL_CONFIG, then
// the default location under the data directory.
func configPath(flags cliFlags) string {
	if flags.Config != "" {
		return flags.Config
	}
	if p := os.Getenv(config.EnvPrefix + "CONFIG"); p != "" {
		return p
	}
	return config.DefaultPath()
}

// loadConfig loads the config file and applies --provider and --model.
func loadConfig(flags cliFlags) (*config.Config, error) {
	cfg, err := config.Load(configPath(flags))
	if err != nil {
		return nil, err
	}
	if err := applyFlags(cfg, flags); err != nil {
		return nil, err
	}
	return cfg, nil
}

func applyFlags(cfg *config.Config, flags cliFlags) error {
	if flags.Provider != "" {
		if _, ok := cfg.Provider(flags.Provider); !ok {
			return domain.NewDomainError("applyFlags", domain.ErrProviderNotFound,
				fmt.Sprintf("--provider %q is not configured", flags.Provider))
		}
		cfg.LLM.DefaultProvider = flags.Provider
	}
	if flags.Model != "" {
		for i := range cfg.LLM.Providers {
			if cfg.LLM.Providers[i].Name == cfg.LLM.DefaultProvider {
				cfg.LLM.Providers[i].Model = flags.Model
			}
		}
	}
	return nil
}

// app is everything a conversation command needs, assembled from config.
type app struct {
	cfg     *config.Config
	log     *slog.Logger
	llm     *LLMComponents
	tools   *tool.Registry
	conv    *usecase.Conversation
	closers []func()
}

// newApp loads config and wires logging, tracing, providers and tools.
// Interactive sessions log to a file so records do not tear the UI.
func newApp(ctx context.Context, flags cliFlags, interactive bool) (*app, error) {
	cfg, err := loadConfig(flags)
	if err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	if interactive {
		switch strings.ToLower(cfg.Logger.Output) {
		case "", "stderr", "stdout":
			cfg.Logger.Output = filepath.Join(filepath.Dir(config.DefaultPath()), "steelwool.log")
		}
	}

	a := &app{cfg: cfg}

	log, logCloser, err := logger.New(cfg.Logger)
	if err != nil {
		return nil, fmt.Errorf("logger: %w", err)
	}
	a.log = log
	a.closers = append(a.closers, func() { _ = logCloser() })

	tracerShutdown, err := tracer.Setup(ctx, cfg.Tracer)
	if err != nil {
		a.Close()
		return nil, fmt.Errorf("tracer: %w", err)
	}
	a.closers = append(a.closers, func() { _ = tracerShutdown(context.Background()) })

	a.llm, err = initLLM(cfg, log)
	if err != nil {
		a.Close()
		return nil, fmt.Errorf("llm: %w", err)
	}

	reg, toolsCleanup, err := initTools(ctx, cfg.Tools, log)
	if err != nil {
		a.Close()
		return nil, fmt.Errorf("tools: %w", err)
	}
	a.tools = reg
	a.closers = append(a.closers, toolsCleanup)

	a.conv = &usecase.Conversation{
		Provider:      a.llm.Default,
		Resolver:      reg,
		Tools:         reg.Catalog(),
		SystemMessage: cfg.Conversation.SystemPrompt,
		MaxTokens:     cfg.Conversation.MaxTokens,
		MaxDepth:      cfg.Conversation.MaxDepth,
		Stream:        cfg.Conversation.Stream,
		Logger:        log,
	}

	log.Debug("steelwool ready",
		"provider", a.llm.Default.Name(),
		"model", a.llm.Model,
		"tools", len(a.conv.Tools),
	)
	return a, nil
}

// Close releases resources in reverse order of acquisition.
func (a *app) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
	a.closers = nil
}

// openStore opens the transcript database, or returns nil when transcripts
// are disabled.
func openStore(cfg *config.Config) (*transcript.SQLiteStore, error) {
	if !cfg.Transcript.Enabled {
		return nil, nil
	}
	store, err := transcript.NewSQLiteStore(cfg.Transcript.Path)
	if err != nil {
		return nil, fmt.Errorf("transcripts: %w", err)
	}
	return store, nil
}

// transcriptStore is the part of the SQLite store a chat session writes to.
type transcriptStore interface {
	Create(ctx context.Context, title string) (string, error)
	Save(ctx context.Context, id string, h *usecase.History) error
}

// transcriptSaver persists a chat session, creating the transcript on the
// first save so that sessions without a completed turn leave no record.
type transcriptSaver struct {
	store transcriptStore
	id    string
}

func (s *transcriptSaver) Save(ctx context.Context, h *usecase.History) error {
	if s.id == "" {
		id, err := s.store.Create(ctx, titleFor(h))
		if err != nil {
			return err
		}
		s.id = id
	}
	return s.store.Save(ctx, s.id, h)
}

const maxTitleRunes = 60

// titleFor derives a transcript title from the first user message.
func titleFor(h *usecase.History) string {
	for _, m := range h.Messages() {
		if m.Role != domain.RoleUser {
			continue
		}
		title := strings.Join(strings.Fields(m.Content), " ")
		if r := []rune(title); len(r) > maxTitleRunes {
			title = string(r[:maxTitleRunes-1]) + "…"
		}
		if title != "" {
			return title
		}
	}
	return "untitled"
}
