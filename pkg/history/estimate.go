package history

import (
	"github.com/tiktoken-go/tokenizer"

	"aide/pkg/proto"
)

// perTurnOverhead approximates the framing tokens each turn costs on the
// wire (role markers, separators).
const perTurnOverhead = 4

// Estimator approximates token counts for compaction and rate-limit
// decisions. Claude and Gemini tokenize differently from GPT-4 but the
// estimate only has to be in the right ballpark.
type Estimator struct {
	codec tokenizer.Codec
}

// NewEstimator builds an estimator on the GPT-4 encoding. The zero-codec
// fallback (4 chars per token) keeps it usable if the encoding fails to
// load.
func NewEstimator() *Estimator {
	codec, err := tokenizer.ForModel(tokenizer.GPT4)
	if err != nil {
		return &Estimator{}
	}
	return &Estimator{codec: codec}
}

// EstimateText returns the approximate token count of one string.
func (e *Estimator) EstimateText(text string) int {
	if e.codec == nil {
		return len(text) / 4
	}
	count, err := e.codec.Count(text)
	if err != nil {
		return len(text) / 4
	}
	return count
}

// EstimateTurns returns the approximate prompt token count of a history
// snapshot.
func (e *Estimator) EstimateTurns(turns []proto.Turn) int {
	total := 0
	for _, turn := range turns {
		total += e.EstimateText(turn.Content) + perTurnOverhead
		for _, call := range turn.ToolCalls {
			total += e.EstimateText(call.Name) + perTurnOverhead
		}
	}
	return total
}
