package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"
	"text/tabwriter"

	"github.com/dustin/go-humanize"

	"steelwool/internal/adapter/llm"
	"steelwool/internal/adapter/transcript"
	"steelwool/internal/domain"
	"steelwool/internal/infra/config"
	"steelwool/internal/infra/logger"
	"steelwool/internal/usecase"
)

func newTabWriter(w io.Writer) *tabwriter.Writer {
	return tabwriter.NewWriter(w, 2, 0, 3, ' ', 0)
}

func runModels(ctx context.Context, flags cliFlags, w io.Writer) error {
	cfg, err := loadConfig(flags)
	if err != nil {
		return fmt.Errorf("config: %w", err)
	}
	log, closeLog, err := logger.New(cfg.Logger)
	if err != nil {
		return fmt.Errorf("logger: %w", err)
	}
	defer closeLog()

	pc, ok := ollamaProvider(cfg)
	if !ok {
		return domain.NewDomainError("models", domain.ErrProviderNotFound, "no ollama provider configured")
	}

	models, err := llm.NewOllamaProvider(pc, log).ListModels(ctx)
	if err != nil {
		return err
	}
	if len(models) == 0 {
		fmt.Fprintf(w, "No models installed on %s. Pull one with 'ollama pull %s'.\n", pc.Name, pc.Model)
		return nil
	}

	tw := newTabWriter(w)
	fmt.Fprintln(tw, "NAME\tSIZE\tMODIFIED\t")
	for _, m := range models {
		marker := ""
		if m.Name == pc.Model || strings.TrimSuffix(m.Name, ":latest") == pc.Model {
			marker = "*"
		}
		fmt.Fprintf(tw, "%s%s\t%s\t%s\t\n", m.Name, marker, humanize.Bytes(uint64(max(m.Size, 0))), humanize.Time(m.ModifiedAt))
	}
	return tw.Flush()
}

// ollamaProvider picks the default provider when it is an Ollama one,
// otherwise the first configured Ollama provider.
func ollamaProvider(cfg *config.Config) (config.ProviderConfig, bool) {
	if pc, ok := cfg.Provider(cfg.LLM.DefaultProvider); ok && pc.Type == "ollama" {
		return pc, true
	}
	for _, pc := range cfg.LLM.Providers {
		if pc.Type == "ollama" {
			return pc, true
		}
	}
	return config.ProviderConfig{}, false
}

func runTranscripts(ctx context.Context, flags cliFlags, args []string, w io.Writer) error {
	cfg, err := loadConfig(flags)
	if err != nil {
		return fmt.Errorf("config: %w", err)
	}
	store, err := openStore(cfg)
	if err != nil {
		return err
	}
	if store == nil {
		return fmt.Errorf("%w: transcripts are disabled (transcript.enabled: false)", domain.ErrInvalidInput)
	}
	defer store.Close()

	sub := "list"
	if len(args) > 0 {
		sub, args = args[0], args[1:]
	}

	switch sub {
	case "list":
		return listTranscripts(ctx, store, w)
	case "show":
		if len(args) != 1 {
			return fmt.Errorf("%w: usage: steelwool transcripts show ID", domain.ErrInvalidInput)
		}
		h, err := store.Load(ctx, args[0])
		if err != nil {
			return err
		}
		return printTranscript(w, h)
	case "delete", "rm":
		if len(args) != 1 {
			return fmt.Errorf("%w: usage: steelwool transcripts delete ID", domain.ErrInvalidInput)
		}
		if err := store.Delete(ctx, args[0]); err != nil {
			return err
		}
		fmt.Fprintf(w, "Deleted %s\n", args[0])
		return nil
	default:
		return fmt.Errorf("%w: unknown transcripts subcommand %q", domain.ErrInvalidInput, sub)
	}
}

func listTranscripts(ctx context.Context, store *transcript.SQLiteStore, w io.Writer) error {
	summaries, err := store.List(ctx)
	if err != nil {
		return err
	}
	if len(summaries) == 0 {
		fmt.Fprintln(w, "No saved conversations.")
		return nil
	}

	tw := newTabWriter(w)
	fmt.Fprintln(tw, "ID\tMESSAGES\tUPDATED\tTITLE\t")
	for _, s := range summaries {
		fmt.Fprintf(tw, "%s\t%d\t%s\t%s\t\n", s.ID, s.MessageCount, humanize.Time(s.UpdatedAt), s.Title)
	}
	return tw.Flush()
}

// printTranscript writes every message of h under a role heading.
func printTranscript(w io.Writer, h *usecase.History) error {
	for i, m := range h.Messages() {
		if i > 0 {
			fmt.Fprintln(w)
		}
		fmt.Fprintf(w, "[%s]\n", m.Role)
		if content := strings.TrimRight(m.Content, "\n"); content != "" {
			fmt.Fprintln(w, content)
		}
	}
	return nil
}

func runEncrypt(args []string, w io.Writer) error {
	if len(args) != 1 {
		return fmt.Errorf("%w: usage: steelwool encrypt VALUE", domain.ErrInvalidInput)
	}
	passphrase := os.Getenv(config.ConfigKeyEnv)
	if passphrase == "" {
		return fmt.Errorf("%w: set %s to the passphrase used to decrypt the config", domain.ErrInvalidInput, config.ConfigKeyEnv)
	}
	enc, err := config.EncryptValue(args[0], passphrase)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintf(w, "enc:%s\n", enc)
	return err
}
