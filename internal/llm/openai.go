package llm

import (
	"context"
	"fmt"
	"time"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/raine/microstock-tagger/config"
	"github.com/rs/zerolog/log"
)

// OpenAIGenerator uses the OpenAI chat completions API, or any compatible
// endpoint set through BaseURL.
type OpenAIGenerator struct {
	client      openai.Client
	model       string
	temperature float64
}

// NewOpenAIGenerator creates an OpenAI client from an explicit API key.
func NewOpenAIGenerator(apiKey string, opts GeneratorOptions) (*OpenAIGenerator, error) {
	if apiKey == "" {
		return nil, &config.ConfigurationError{Key: "OPENAI_API_KEY", Reason: "is not set"}
	}

	reqOpts := []option.RequestOption{
		option.WithAPIKey(apiKey),
		option.WithMaxRetries(0),
	}
	if opts.BaseURL != "" {
		reqOpts = append(reqOpts, option.WithBaseURL(opts.BaseURL))
	}
	if opts.HTTPClient != nil {
		reqOpts = append(reqOpts, option.WithHTTPClient(opts.HTTPClient))
	}

	model := opts.Model
	if model == "" {
		model = config.DefaultOpenAIModel
	}

	return &OpenAIGenerator{
		client:      openai.NewClient(reqOpts...),
		model:       model,
		temperature: opts.Temperature,
	}, nil
}

func openAIMetadataSchema() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"title": map[string]any{
				"type":        "string",
				"description": titleFieldDescription,
			},
			"description": map[string]any{
				"type":        "string",
				"description": descriptionFieldDescription,
			},
			"keywords": map[string]any{
				"type":        "array",
				"items":       map[string]any{"type": "string"},
				"description": keywordsFieldDescription,
			},
			"category": map[string]any{
				"type":        "string",
				"description": categoryFieldDescription,
			},
		},
		"required":             metadataFields,
		"additionalProperties": false,
	}
}

// GenerateMetadata sends the image as a data URL alongside the prompt.
func (o *OpenAIGenerator) GenerateMetadata(ctx context.Context, image Image) (*GenerationResult, error) {
	if image.Size() == 0 {
		return nil, &EncodingError{Err: fmt.Errorf("image is empty")}
	}

	start := time.Now()
	resp, err := o.client.Chat.Completions.New(ctx, openai.ChatCompletionNewParams{
		Model: openai.ChatModel(o.model),
		Messages: []openai.ChatCompletionMessageParamUnion{
			openai.UserMessage([]openai.ChatCompletionContentPartUnionParam{
				openai.ImageContentPart(openai.ChatCompletionContentPartImageImageURLParam{
					URL: image.DataURL(),
				}),
				openai.TextContentPart(metadataPrompt),
			}),
		},
		Temperature: openai.Float(o.temperature),
		ResponseFormat: openai.ChatCompletionNewParamsResponseFormatUnion{
			OfJSONSchema: &openai.ResponseFormatJSONSchemaParam{
				JSONSchema: openai.ResponseFormatJSONSchemaJSONSchemaParam{
					Name:        "stock_metadata",
					Description: openai.String("Microstock title, description, keywords and category"),
					Schema:      openAIMetadataSchema(),
					Strict:      openai.Bool(true),
				},
			},
		},
	})
	if err != nil {
		return nil, upstreamError(err)
	}

	usage := Usage{
		InputTokens:  resp.Usage.PromptTokens,
		OutputTokens: resp.Usage.CompletionTokens,
		TotalTokens:  resp.Usage.TotalTokens,
		CostUSD:      calculateCost(o.model, resp.Usage.PromptTokens, resp.Usage.CompletionTokens),
	}

	log.Info().
		Str("model", o.model).
		Str("mimeType", image.MIMEType).
		Int("imageBytes", image.Size()).
		Int64("inputTokens", usage.InputTokens).
		Int64("outputTokens", usage.OutputTokens).
		Float64("costUSD", usage.CostUSD).
		Dur("duration", time.Since(start)).
		Msg("metadata llm call")

	if len(resp.Choices) == 0 {
		return nil, emptyResponseError()
	}

	meta, err := parseMetadata(resp.Choices[0].Message.Content)
	if err != nil {
		return nil, err
	}

	return &GenerationResult{Metadata: meta, Usage: usage, Model: o.model}, nil
}
