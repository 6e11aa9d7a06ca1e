package client

import (
	"context"
	"encoding/json"
	"strings"

	"shopassist/internal/domain/entity"

	"google.golang.org/genai"
)

// GeminiExtractor classifies a shopper message into the knowledge kind it is about.
type GeminiExtractor struct {
	client *genai.Client
	model  string
}

func NewGeminiExtractor(client *genai.Client, model string) *GeminiExtractor {
	return &GeminiExtractor{client: client, model: model}
}

func (e *GeminiExtractor) ExtractHints(ctx context.Context, message string) map[string]string {
	instruction := `Classify the shopper message as a flat JSON object of strings with a single key "kind".
    Allowed values: "product", "faq", "policy", "discount", "brand".
    If none fits, return {}. Do not explain.
    Example: "Can I return shoes after 2 weeks?" -> {"kind": "policy"}`

	resp, err := e.client.Models.GenerateContent(ctx, e.model, genai.Text(instruction+"\nMessage: "+message), &genai.GenerateContentConfig{
		ResponseMIMEType: "application/json",
	})
	if err != nil {
		return nil
	}
	return parseHints(resp.Text())
}

func parseHints(text string) map[string]string {
	text = strings.TrimSpace(text)
	text = strings.TrimPrefix(text, "```json")
	text = strings.TrimSuffix(strings.TrimSpace(strings.TrimPrefix(text, "```")), "```")

	var hints map[string]string
	if err := json.Unmarshal([]byte(text), &hints); err != nil {
		return nil
	}
	kind := entity.DocKind(strings.ToLower(hints["kind"]))
	if !kind.Valid() {
		return nil
	}
	return map[string]string{"kind": string(kind)}
}
