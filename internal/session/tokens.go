package session

import (
	"fmt"

	"github.com/tiktoken-go/tokenizer"
)

// Estimator estimates the token cost of a turn's content. The window
// contract only requires a monotone function of content length applied
// consistently, so both implementations below satisfy it.
type Estimator interface {
	EstimateTokens(content string) int
}

// HeuristicEstimator is the default ceil(chars/4) estimate. It is
// deliberately rough: it under-counts code and over-counts prose.
type HeuristicEstimator struct{}

// EstimateTokens returns ceil(len(content)/4).
func (HeuristicEstimator) EstimateTokens(content string) int {
	return (len(content) + 3) / 4
}

// Cl100kEstimator counts tokens with the cl100k_base BPE vocabulary.
type Cl100kEstimator struct {
	codec tokenizer.Codec
}

// NewCl100kEstimator loads the cl100k_base codec.
func NewCl100kEstimator() (*Cl100kEstimator, error) {
	codec, err := tokenizer.Get(tokenizer.Cl100kBase)
	if err != nil {
		return nil, fmt.Errorf("load cl100k_base tokenizer: %w", err)
	}
	return &Cl100kEstimator{codec: codec}, nil
}

// EstimateTokens returns the BPE token count, falling back to the
// heuristic if encoding fails.
func (e *Cl100kEstimator) EstimateTokens(content string) int {
	ids, _, err := e.codec.Encode(content)
	if err != nil {
		return HeuristicEstimator{}.EstimateTokens(content)
	}
	return len(ids)
}

// NewEstimator builds the estimator named by the shortTerm.tokenizer
// config key. Unknown or empty names get the heuristic.
func NewEstimator(name string) (Estimator, error) {
	switch name {
	case "", "heuristic":
		return HeuristicEstimator{}, nil
	case "cl100k":
		return NewCl100kEstimator()
	default:
		return nil, fmt.Errorf("unknown tokenizer %q", name)
	}
}
