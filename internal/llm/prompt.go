package llm

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/lithammer/dedent"
)

var metadataPrompt = strings.TrimSpace(dedent.Dedent(`
	Act as a professional Microstock Keywording Expert (Shutterstock, Adobe Stock, Getty Images).
	Analyze the uploaded image and generate metadata optimized for high sales and searchability.

	Rules:
	1. All output MUST be in English (Standard for Microstock).
	2. Keywords should include singular and plural forms where relevant, concepts, emotions, and descriptive terms.
	3. The title should be catchy and descriptive.
	4. Avoid trademarked names or restricted brands.
`))

// Field descriptions shared by the provider schemas.
const (
	titleFieldDescription       = "A concise, commercially viable title for the image (max 10 words). English language."
	descriptionFieldDescription = "A detailed description of the image including action, subject, and mood. English language."
	keywordsFieldDescription    = "A list of 40-50 highly relevant, high-ranking keywords/tags for microstock SEO. Sorted by relevance. English language."
	categoryFieldDescription    = "The most suitable category (e.g., Business, Nature, Technology, Lifestyle)."
)

var metadataFields = []string{"title", "description", "keywords", "category"}

// extractJSONObject extracts a JSON object from text that may contain markdown
// code blocks or other formatting.
func extractJSONObject(text string) (string, error) {
	text = strings.TrimSpace(text)
	start := strings.Index(text, "{")
	end := strings.LastIndex(text, "}")
	if start == -1 || end == -1 || end <= start {
		return "", fmt.Errorf("no JSON object found in response: %s", text)
	}
	return text[start : end+1], nil
}

// parseMetadata decodes a model response. Every field must be present and
// non-blank; a partial result is an error.
func parseMetadata(text string) (*StockMetadata, error) {
	if strings.TrimSpace(text) == "" {
		return nil, emptyResponseError()
	}

	jsonStr, err := extractJSONObject(text)
	if err != nil {
		return nil, parseError(err)
	}

	var meta StockMetadata
	if err := json.Unmarshal([]byte(jsonStr), &meta); err != nil {
		return nil, parseError(fmt.Errorf("%w (response: %s)", err, jsonStr))
	}

	meta.Title = strings.TrimSpace(meta.Title)
	meta.Description = strings.TrimSpace(meta.Description)
	meta.Category = strings.TrimSpace(meta.Category)
	meta.Keywords = cleanKeywords(meta.Keywords)

	switch {
	case meta.Title == "":
		return nil, parseError(fmt.Errorf("missing field %q", "title"))
	case meta.Description == "":
		return nil, parseError(fmt.Errorf("missing field %q", "description"))
	case len(meta.Keywords) == 0:
		return nil, parseError(fmt.Errorf("missing field %q", "keywords"))
	case meta.Category == "":
		return nil, parseError(fmt.Errorf("missing field %q", "category"))
	}

	return &meta, nil
}

// cleanKeywords trims keywords, drops blanks and removes case-insensitive
// duplicates while keeping relevance order.
func cleanKeywords(keywords []string) []string {
	seen := make(map[string]bool, len(keywords))
	out := make([]string, 0, len(keywords))
	for _, kw := range keywords {
		kw = strings.TrimSpace(kw)
		if kw == "" {
			continue
		}
		key := strings.ToLower(kw)
		if seen[key] {
			continue
		}
		seen[key] = true
		out = append(out, kw)
	}
	return out
}
