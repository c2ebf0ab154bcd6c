// Package tokens provides token counting for client-side budget displays.
// OpenAI-family models get exact tiktoken counts; everything else falls back
// to a character-based estimate.
package tokens

import (
	"fmt"
	"strings"
	"sync"

	"github.com/tiktoken-go/tokenizer"
)

// Counter counts tokens of plain text for a model family.
type Counter interface {
	CountText(model, text string) (int, error)
	SupportsModel(model string) bool
	// Estimated reports whether counts are approximations.
	Estimated() bool
}

// TiktokenCounter counts with the model's real BPE encoding.
type TiktokenCounter struct {
	prefixes []string

	cacheMu    sync.RWMutex
	codecCache map[tokenizer.Encoding]tokenizer.Codec
}

// NewTiktokenCounter creates a tiktoken-backed counter for OpenAI-family
// model names.
func NewTiktokenCounter() *TiktokenCounter {
	return &TiktokenCounter{
		prefixes:   []string{"gpt-", "chatgpt-", "o1", "o3", "o4", "text-embedding", "text-davinci"},
		codecCache: make(map[tokenizer.Encoding]tokenizer.Codec),
	}
}

// SupportsModel returns true for OpenAI-family model names.
func (c *TiktokenCounter) SupportsModel(model string) bool {
	for _, p := range c.prefixes {
		if strings.HasPrefix(model, p) {
			return true
		}
	}
	return false
}

// Estimated returns false: tiktoken counts are exact.
func (c *TiktokenCounter) Estimated() bool { return false }

// CountText counts the tokens of text under the model's encoding.
func (c *TiktokenCounter) CountText(model, text string) (int, error) {
	codec, err := c.getCodec(model)
	if err != nil {
		return 0, err
	}
	ids, _, err := codec.Encode(text)
	if err != nil {
		return 0, err
	}
	return len(ids), nil
}

func (c *TiktokenCounter) getCodec(model string) (tokenizer.Codec, error) {
	if codec, err := tokenizer.ForModel(tokenizer.Model(model)); err == nil {
		return codec, nil
	}

	encoding := modelToEncoding(model)

	c.cacheMu.RLock()
	if cached, ok := c.codecCache[encoding]; ok {
		c.cacheMu.RUnlock()
		return cached, nil
	}
	c.cacheMu.RUnlock()

	codec, err := tokenizer.Get(encoding)
	if err != nil {
		return nil, fmt.Errorf("failed to get tokenizer encoding: %w", err)
	}

	c.cacheMu.Lock()
	c.codecCache[encoding] = codec
	c.cacheMu.Unlock()

	return codec, nil
}

// modelToEncoding picks a fallback encoding for model names tiktoken does
// not know directly.
func modelToEncoding(model string) tokenizer.Encoding {
	model = strings.ToLower(model)

	switch {
	case strings.HasPrefix(model, "gpt-5"),
		strings.HasPrefix(model, "gpt-4o"),
		strings.HasPrefix(model, "gpt-4.1"),
		strings.HasPrefix(model, "chatgpt-"),
		strings.HasPrefix(model, "o1"),
		strings.HasPrefix(model, "o3"),
		strings.HasPrefix(model, "o4"):
		return tokenizer.O200kBase
	case strings.HasPrefix(model, "gpt-4"), strings.HasPrefix(model, "gpt-3.5"),
		strings.HasPrefix(model, "text-embedding"):
		return tokenizer.Cl100kBase
	case strings.HasPrefix(model, "text-davinci"):
		return tokenizer.P50kBase
	default:
		return tokenizer.O200kBase
	}
}

// Estimator approximates token counts at four characters per token. It is
// the fallback for model families without a local tokenizer.
type Estimator struct {
	CharsPerToken float64
}

// NewEstimator creates an estimator with the default ratio.
func NewEstimator() *Estimator {
	return &Estimator{CharsPerToken: 4.0}
}

// SupportsModel returns true: the estimator backs any model.
func (e *Estimator) SupportsModel(model string) bool { return true }

// Estimated returns true.
func (e *Estimator) Estimated() bool { return true }

// CountText estimates the token count of text.
func (e *Estimator) CountText(model, text string) (int, error) {
	return int(float64(len(text)) / e.CharsPerToken), nil
}

// Registry picks the right counter for a model.
type Registry struct {
	counters []Counter
	fallback Counter
}

// NewRegistry creates a registry with the estimator as fallback.
func NewRegistry() *Registry {
	return &Registry{fallback: NewEstimator()}
}

// Register adds a counter. Counters are consulted in registration order.
func (r *Registry) Register(c Counter) {
	r.counters = append(r.counters, c)
}

// CountText counts text for model and reports whether the result is an
// estimate.
func (r *Registry) CountText(model, text string) (count int, estimated bool, err error) {
	for _, c := range r.counters {
		if c.SupportsModel(model) {
			count, err = c.CountText(model, text)
			return count, c.Estimated(), err
		}
	}
	count, err = r.fallback.CountText(model, text)
	return count, r.fallback.Estimated(), err
}
