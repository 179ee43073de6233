package llm

import (
	"log/slog"
	"sync"

	"github.com/pkoukk/tiktoken-go"
	tiktoken_loader "github.com/pkoukk/tiktoken-go-loader"
)

func init() {
	// Encodings ship with the binary; tiktoken otherwise downloads them on
	// first use, from inside a stream iterator.
	tiktoken.SetBpeLoader(tiktoken_loader.NewOfflineLoader())
}

// fallbackEncoding is used for models tiktoken does not know by name.
const fallbackEncoding = "cl100k_base"

// TokenEstimator counts the tokens a model would spend on text. Adapters use
// it when a provider streams a reply without reporting usage.
type TokenEstimator interface {
	Estimate(text string) int
}

// HeuristicEstimator approximates four characters per token.
type HeuristicEstimator struct{}

// Estimate implements TokenEstimator.
func (HeuristicEstimator) Estimate(text string) int {
	if text == "" {
		return 0
	}
	return (len(text) + 3) / 4
}

// TiktokenEstimator counts tokens with the BPE encoding of a model. The
// embedded encoding is parsed on first use; if it cannot be loaded the
// estimator degrades to HeuristicEstimator.
type TiktokenEstimator struct {
	model  string
	logger *slog.Logger

	once sync.Once
	enc  *tiktoken.Tiktoken
}

// NewTiktokenEstimator creates an estimator for model.
func NewTiktokenEstimator(model string, logger *slog.Logger) *TiktokenEstimator {
	return &TiktokenEstimator{model: model, logger: logger}
}

// Estimate implements TokenEstimator.
func (e *TiktokenEstimator) Estimate(text string) int {
	if text == "" {
		return 0
	}
	e.once.Do(e.load)
	if e.enc == nil {
		return HeuristicEstimator{}.Estimate(text)
	}
	return len(e.enc.Encode(text, nil, nil))
}

func (e *TiktokenEstimator) load() {
	enc, err := tiktoken.EncodingForModel(e.model)
	if err == nil {
		e.enc = enc
		return
	}
	enc, err = tiktoken.GetEncoding(fallbackEncoding)
	if err != nil {
		e.logger.Warn("token encoding unavailable, using heuristic", "model", e.model, "error", err)
		return
	}
	e.enc = enc
}
