// Package tokens estimates prompt sizes with the BPE encodings used by
// OpenAI models.
package tokens

import (
	"strings"
	"sync"

	"github.com/pkoukk/tiktoken-go"
	"go.uber.org/zap"

	"github.com/enoch-sit/tool-chatbot-boilerplate-sub004/internal/domain"
)

const (
	EncodingCL100K = "cl100k_base"
	EncodingO200K  = "o200k_base"
)

// Encoder turns text into BPE token ids.
type Encoder interface {
	Encode(text string, allowedSpecial, disallowedSpecial []string) []int
}

// Loader fetches an encoding by name.
type Loader func(encoding string) (Encoder, error)

// DefaultLoader loads encodings through tiktoken-go, which caches the BPE
// ranks under TIKTOKEN_CACHE_DIR.
func DefaultLoader(encoding string) (Encoder, error) {
	return tiktoken.GetEncoding(encoding)
}

// TiktokenEstimator counts tokens with tiktoken and falls back to the
// rune heuristic for encodings that cannot be loaded.
type TiktokenEstimator struct {
	load     Loader
	fallback domain.TokenEstimator
	logger   *zap.Logger

	mu       sync.Mutex
	encoders map[string]Encoder
	failed   map[string]bool
}

// NewTiktokenEstimator creates an estimator; a nil loader uses DefaultLoader.
func NewTiktokenEstimator(load Loader, logger *zap.Logger) *TiktokenEstimator {
	if load == nil {
		load = DefaultLoader
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &TiktokenEstimator{
		load:     load,
		fallback: domain.HeuristicEstimator{},
		logger:   logger,
		encoders: make(map[string]Encoder),
		failed:   make(map[string]bool),
	}
}

// Count implements domain.TokenEstimator.
func (e *TiktokenEstimator) Count(model string, text string) int {
	if text == "" {
		return 0
	}

	enc := e.encoder(EncodingFor(model))
	if enc == nil {
		return e.fallback.Count(model, text)
	}
	return len(enc.Encode(text, nil, nil))
}

func (e *TiktokenEstimator) encoder(name string) Encoder {
	e.mu.Lock()
	defer e.mu.Unlock()

	if enc, ok := e.encoders[name]; ok {
		return enc
	}
	if e.failed[name] {
		return nil
	}

	enc, err := e.load(name)
	if err != nil || enc == nil {
		e.failed[name] = true
		e.logger.Warn("token encoding unavailable, using heuristic",
			zap.String("encoding", name),
			zap.Error(err),
		)
		return nil
	}

	e.encoders[name] = enc
	return enc
}

// EncodingFor picks the encoding for a model id. Newer model families use
// o200k_base; everything else is approximated with cl100k_base.
func EncodingFor(model string) string {
	m := strings.ToLower(model)
	for _, prefix := range []string{"gpt-4o", "gpt-4.1", "gpt-5", "o1", "o3", "o4", "chatgpt-4o"} {
		if strings.HasPrefix(m, prefix) {
			return EncodingO200K
		}
	}
	return EncodingCL100K
}
