package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"steelwool/internal/adapter/tui/chat"
	"steelwool/internal/adapter/tui/components"
	"steelwool/internal/adapter/tui/uxerror"
	"steelwool/internal/domain"
	"steelwool/internal/usecase"
)

func main() {
	if len(os.Args) >= 2 {
		switch os.Args[1] {
		case "--help", "-h", "help":
			showUsage(os.Stdout)
			return
		}
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := dispatch(ctx, os.Args[1:]); err != nil {
		fmt.Fprintln(os.Stderr, uxerror.Humanize(err).Render())
		cancel()
		os.Exit(1)
	}
}

// dispatch runs the command named by the first positional argument.
func dispatch(ctx context.Context, args []string) error {
	flags, rest, err := parseArgs(args)
	if err != nil {
		return fmt.Errorf("%w: %w", domain.ErrInvalidInput, err)
	}

	cmd := "chat"
	if len(rest) > 0 {
		cmd, rest = rest[0], rest[1:]
	}

	switch cmd {
	case "chat":
		return runChat(ctx, flags)
	case "ask":
		return runAsk(ctx, flags, rest, os.Stdout)
	case "models":
		return runModels(ctx, flags, os.Stdout)
	case "transcripts":
		return runTranscripts(ctx, flags, rest, os.Stdout)
	case "encrypt":
		return runEncrypt(rest, os.Stdout)
	case "doctor":
		return runDoctor(flags, os.Stdout)
	default:
		return fmt.Errorf("%w: unknown command %q (run 'steelwool --help')", domain.ErrInvalidInput, cmd)
	}
}

func showUsage(w io.Writer) {
	fmt.Fprintln(w, `steelwool - chat with a language model that can call tools

USAGE:
    steelwool [COMMAND] [FLAGS]

COMMANDS:
    chat                      Interactive chat (default)
    ask PROMPT                Ask a single question and print the answer
    models                    List models available on the local Ollama server
    transcripts [list]        List saved conversations
    transcripts show ID       Print a saved conversation
    transcripts delete ID     Delete a saved conversation
    encrypt VALUE             Encrypt a secret for the config file
    doctor                    Run health checks on your setup

FLAGS:
    -h, --help         Show this help message
    --config PATH      Config file (default: ~/.steelwool/config.yaml)
    --provider NAME    Use a configured provider other than the default
    --model NAME       Override the model of the selected provider
    --resume ID        Continue a saved conversation (chat only)

CONFIGURATION:
    STEELWOOL_* environment variables override the config file.
    OPENAI_API_KEY, ANTHROPIC_API_KEY and OPENROUTER_API_KEY fill empty keys.

EXAMPLES:
    steelwool
    steelwool ask "what is 17 * 23?"
    steelwool --provider anthropic --model claude-sonnet-4-5 chat
    steelwool transcripts
    steelwool --resume 01JB2ZK4X7Q0W8N6V5T3R1M9PA`)
}

func runChat(ctx context.Context, flags cliFlags) error {
	a, err := newApp(ctx, flags, true)
	if err != nil {
		return err
	}
	defer a.Close()

	store, err := openStore(a.cfg)
	if err != nil {
		return err
	}

	deps := chat.Deps{
		Conversation: a.conv,
		ProviderName: a.llm.Default.Name(),
		ModelName:    a.llm.Model,
		Logger:       a.log,
	}

	if store != nil {
		defer store.Close()
		saver := &transcriptSaver{store: store, id: flags.Resume}
		if flags.Resume != "" {
			h, err := store.Load(ctx, flags.Resume)
			if err != nil {
				return err
			}
			deps.History = h
			deps.TranscriptID = flags.Resume
		}
		deps.Save = saver.Save
	} else if flags.Resume != "" {
		return fmt.Errorf("%w: --resume needs transcripts enabled", domain.ErrInvalidInput)
	}

	_, err = chat.Run(ctx, deps)
	return err
}

// answerWidth is the wrap width for rendered one-shot answers.
const answerWidth = 80

func runAsk(ctx context.Context, flags cliFlags, args []string, w io.Writer) error {
	prompt := strings.TrimSpace(strings.Join(args, " "))
	if prompt == "" {
		return fmt.Errorf("%w: usage: steelwool ask PROMPT", domain.ErrInvalidInput)
	}

	a, err := newApp(ctx, flags, false)
	if err != nil {
		return err
	}
	defer a.Close()

	// One-shot answers are rendered whole, so the reply is not streamed.
	conv := *a.conv
	conv.Stream = false

	h, err := conv.Turn(ctx, usecase.NewHistory(), prompt, nil)
	if err != nil {
		return err
	}
	return printAnswer(w, h)
}

// printAnswer renders the last non-empty model message of h as markdown.
func printAnswer(w io.Writer, h *usecase.History) error {
	msgs := h.Messages()
	for i := len(msgs) - 1; i >= 0; i-- {
		m := msgs[i]
		if m.Role != domain.RoleModel || strings.TrimSpace(m.Content) == "" {
			continue
		}
		md := components.NewMarkdownRenderer(answerWidth)
		_, err := fmt.Fprintln(w, strings.TrimRight(md.Render(m.Content), "\n"))
		return err
	}
	return errors.New("the model did not produce an answer")
}
