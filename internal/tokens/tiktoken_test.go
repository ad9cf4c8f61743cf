package tokens_test

import (
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"github.com/enoch-sit/tool-chatbot-boilerplate-sub004/internal/tokens"
)

// wordEncoder encodes one token per whitespace-separated word.
type wordEncoder struct{}

func (wordEncoder) Encode(text string, _, _ []string) []int {
	return make([]int, len(strings.Fields(text)))
}

func TestEncodingFor(t *testing.T) {
	tests := []struct {
		model string
		want  string
	}{
		{"gpt-4o-mini", tokens.EncodingO200K},
		{"GPT-4o", tokens.EncodingO200K},
		{"o3-mini", tokens.EncodingO200K},
		{"gpt-4-turbo", tokens.EncodingCL100K},
		{"gpt-3.5-turbo", tokens.EncodingCL100K},
		{"claude-3-5-sonnet", tokens.EncodingCL100K},
	}

	for _, tt := range tests {
		t.Run(tt.model, func(t *testing.T) {
			require.Equal(t, tt.want, tokens.EncodingFor(tt.model))
		})
	}
}

func TestTiktokenEstimator_UsesLoadedEncoder(t *testing.T) {
	var loads []string
	est := tokens.NewTiktokenEstimator(func(name string) (tokens.Encoder, error) {
		loads = append(loads, name)
		return wordEncoder{}, nil
	}, nil)

	require.Equal(t, 3, est.Count("gpt-4o", "one two three"))
	require.Equal(t, 1, est.Count("gpt-4o-mini", "again"))
	require.Equal(t, 0, est.Count("gpt-4o", ""))
	require.Equal(t, []string{tokens.EncodingO200K}, loads)
}

func TestTiktokenEstimator_FallsBackOnLoadError(t *testing.T) {
	core, logs := observer.New(zap.WarnLevel)
	calls := 0
	est := tokens.NewTiktokenEstimator(func(string) (tokens.Encoder, error) {
		calls++
		return nil, errors.New("offline")
	}, zap.New(core))

	// 9 runes -> ceil(9/4).
	require.Equal(t, 3, est.Count("gpt-4", "abcdefghi"))
	require.Equal(t, 1, est.Count("gpt-4", "abcd"))
	require.Equal(t, 1, calls)
	require.Equal(t, 1, logs.FilterMessage("token encoding unavailable, using heuristic").Len())
}
