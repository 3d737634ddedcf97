package llm

import (
	"context"
	"fmt"
	"time"

	"github.com/raine/microstock-tagger/config"
	"github.com/rs/zerolog/log"
	"google.golang.org/genai"
)

// GeminiGenerator uses Google's Gemini API with structured output.
type GeminiGenerator struct {
	client      *genai.Client
	model       string
	temperature float32
}

// NewGeminiGenerator creates a Gemini client from an explicit API key.
func NewGeminiGenerator(ctx context.Context, apiKey string, opts GeneratorOptions) (*GeminiGenerator, error) {
	if apiKey == "" {
		return nil, &config.ConfigurationError{Key: "GEMINI_API_KEY", Reason: "is not set"}
	}

	cc := &genai.ClientConfig{
		APIKey:     apiKey,
		Backend:    genai.BackendGeminiAPI,
		HTTPClient: opts.HTTPClient,
	}
	if opts.BaseURL != "" {
		cc.HTTPOptions = genai.HTTPOptions{BaseURL: opts.BaseURL}
	}

	client, err := genai.NewClient(ctx, cc)
	if err != nil {
		return nil, fmt.Errorf("failed to create Gemini client: %w", err)
	}

	model := opts.Model
	if model == "" {
		model = config.DefaultGeminiModel
	}

	return &GeminiGenerator{
		client:      client,
		model:       model,
		temperature: float32(opts.Temperature),
	}, nil
}

func metadataSchema() *genai.Schema {
	return &genai.Schema{
		Type: genai.TypeObject,
		Properties: map[string]*genai.Schema{
			"title": {
				Type:        genai.TypeString,
				Description: titleFieldDescription,
			},
			"description": {
				Type:        genai.TypeString,
				Description: descriptionFieldDescription,
			},
			"keywords": {
				Type:        genai.TypeArray,
				Items:       &genai.Schema{Type: genai.TypeString},
				Description: keywordsFieldDescription,
			},
			"category": {
				Type:        genai.TypeString,
				Description: categoryFieldDescription,
			},
		},
		Required:         metadataFields,
		PropertyOrdering: metadataFields,
	}
}

// GenerateMetadata sends the image and instruction prompt in a single request.
func (g *GeminiGenerator) GenerateMetadata(ctx context.Context, image Image) (*GenerationResult, error) {
	if image.Size() == 0 {
		return nil, &EncodingError{Err: fmt.Errorf("image is empty")}
	}

	parts := []*genai.Part{
		{InlineData: &genai.Blob{Data: image.Data, MIMEType: image.MIMEType}},
		genai.NewPartFromText(metadataPrompt),
	}
	contents := []*genai.Content{
		genai.NewContentFromParts(parts, genai.RoleUser),
	}
	cfg := &genai.GenerateContentConfig{
		ResponseMIMEType: "application/json",
		ResponseSchema:   metadataSchema(),
		Temperature:      genai.Ptr(g.temperature),
	}

	start := time.Now()
	result, err := g.client.Models.GenerateContent(ctx, g.model, contents, cfg)
	if err != nil {
		return nil, upstreamError(err)
	}

	usage := Usage{}
	if result.UsageMetadata != nil {
		usage.InputTokens = int64(result.UsageMetadata.PromptTokenCount)
		usage.OutputTokens = int64(result.UsageMetadata.CandidatesTokenCount)
		usage.TotalTokens = int64(result.UsageMetadata.TotalTokenCount)
		usage.CostUSD = calculateCost(g.model, usage.InputTokens, usage.OutputTokens)
	}

	log.Info().
		Str("model", g.model).
		Str("mimeType", image.MIMEType).
		Int("imageBytes", image.Size()).
		Int64("inputTokens", usage.InputTokens).
		Int64("outputTokens", usage.OutputTokens).
		Float64("costUSD", usage.CostUSD).
		Dur("duration", time.Since(start)).
		Msg("metadata llm call")

	meta, err := parseMetadata(result.Text())
	if err != nil {
		return nil, err
	}

	return &GenerationResult{Metadata: meta, Usage: usage, Model: g.model}, nil
}
