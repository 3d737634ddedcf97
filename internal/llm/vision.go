package llm

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	"github.com/raine/microstock-tagger/config"
)

// StockMetadata is the metadata generated for one image, formatted for
// microstock submission.
type StockMetadata struct {
	Title       string   `json:"title"`
	Description string   `json:"description"`
	Keywords    []string `json:"keywords"`
	Category    string   `json:"category"`
}

// JoinedKeywords returns the keywords joined the way submission forms expect them.
func (m StockMetadata) JoinedKeywords() string {
	return strings.Join(m.Keywords, ", ")
}

// Usage contains token usage and cost information.
type Usage struct {
	InputTokens  int64
	OutputTokens int64
	TotalTokens  int64
	CostUSD      float64
}

// GenerationResult contains the metadata and usage information.
type GenerationResult struct {
	Metadata *StockMetadata
	Usage    Usage
	Model    string
}

// Generator can generate stock metadata for an image.
type Generator interface {
	GenerateMetadata(ctx context.Context, image Image) (*GenerationResult, error)
}

// GeneratorOptions configures a provider client.
type GeneratorOptions struct {
	Model       string
	Temperature float64
	BaseURL     string
	HTTPClient  *http.Client
}

// NewGenerator builds the generator for the configured provider.
func NewGenerator(ctx context.Context, cfg config.AIConfig, httpClient *http.Client) (Generator, error) {
	opts := GeneratorOptions{
		Model:       cfg.Model(),
		Temperature: cfg.Temperature,
		HTTPClient:  httpClient,
	}

	switch cfg.Provider {
	case config.ProviderGemini:
		return NewGeminiGenerator(ctx, cfg.GeminiAPIKey, opts)
	case config.ProviderOpenAI:
		opts.BaseURL = cfg.OpenAIURL
		return NewOpenAIGenerator(cfg.OpenAIAPIKey, opts)
	default:
		return nil, &config.ConfigurationError{Key: "AI_PROVIDER", Reason: fmt.Sprintf("has unknown value %q", cfg.Provider)}
	}
}

// Pricing per million tokens, USD.
type modelPrice struct {
	input  float64
	output float64
}

var modelPrices = map[string]modelPrice{
	"gemini-2.5-flash":      {input: 0.30, output: 2.50},
	"gemini-2.5-flash-lite": {input: 0.10, output: 0.40},
	"gemini-2.5-pro":        {input: 1.25, output: 10.00},
	"gpt-4o-mini":           {input: 0.15, output: 0.60},
	"gpt-4o":                {input: 2.50, output: 10.00},
}

// calculateCost returns 0 for models without a known price.
func calculateCost(model string, inputTokens, outputTokens int64) float64 {
	price, ok := modelPrices[model]
	if !ok {
		return 0
	}
	inputCost := float64(inputTokens) / 1_000_000 * price.input
	outputCost := float64(outputTokens) / 1_000_000 * price.output
	return inputCost + outputCost
}
