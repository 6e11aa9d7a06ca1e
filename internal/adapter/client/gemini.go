package client

import (
	"context"
	"fmt"
	"strings"
	"time"

	"shopassist/internal/domain/entity"

	"google.golang.org/genai"
)

const (
	recommendProductsTool = "recommend_products"
	maxToolRounds         = 2
)

type GeminiClient struct {
	client *genai.Client
	model  string
}

// NewGenAIClient picks the Gemini API backend when an API key is set and Vertex AI otherwise.
func NewGenAIClient(ctx context.Context, projectID, location, apiKey string) (*genai.Client, error) {
	if apiKey != "" {
		return genai.NewClient(ctx, &genai.ClientConfig{
			APIKey:  apiKey,
			Backend: genai.BackendGeminiAPI,
		})
	}
	return genai.NewClient(ctx, &genai.ClientConfig{
		Project:  projectID,
		Location: location,
		Backend:  genai.BackendVertexAI,
	})
}

func NewGeminiClientFromClient(c *genai.Client, model string) *GeminiClient {
	return &GeminiClient{
		client: c,
		model:  model,
	}
}

func (g *GeminiClient) Generate(ctx context.Context, req entity.ModelRequest) (*entity.ModelResponse, error) {
	start := time.Now()
	contents := buildContents(req)
	cfg := g.config(req)

	var productIDs []string
	tokens := 0
	for round := 0; round < maxToolRounds; round++ {
		result, err := g.client.Models.GenerateContent(ctx, g.model, contents, cfg)
		if err != nil {
			return nil, err
		}
		tokens += tokenCount(result)

		text, calls := splitResponse(result)
		productIDs = appendProductIDs(productIDs, calls)
		if text != "" {
			return &entity.ModelResponse{
				Content:    text,
				ProductIDs: productIDs,
				Model:      g.model,
				TokenCount: tokens,
				Latency:    time.Since(start),
			}, nil
		}
		if len(calls) == 0 {
			return nil, entity.ErrEmptyModelResponse
		}
		// Tool call only: acknowledge it and ask for the written reply.
		contents = append(contents, result.Candidates[0].Content, toolAck(calls))
	}
	return nil, entity.ErrEmptyModelResponse
}

// Stream forwards text parts to onChunk as they arrive. A tool-call-only
// stream is finished with one non-streamed round whose text becomes a single chunk.
func (g *GeminiClient) Stream(ctx context.Context, req entity.ModelRequest, onChunk func(string) error) (*entity.ModelResponse, error) {
	start := time.Now()
	contents := buildContents(req)
	cfg := g.config(req)

	var (
		builder    strings.Builder
		productIDs []string
		calls      []*genai.FunctionCall
		modelParts []*genai.Part
		tokens     int
	)
	for chunk, err := range g.client.Models.GenerateContentStream(ctx, g.model, contents, cfg) {
		if err != nil {
			return nil, err
		}
		if chunk.UsageMetadata != nil {
			tokens = int(chunk.UsageMetadata.TotalTokenCount)
		}
		text, chunkCalls := splitResponse(chunk)
		calls = append(calls, chunkCalls...)
		if len(chunk.Candidates) > 0 && chunk.Candidates[0].Content != nil {
			modelParts = append(modelParts, chunk.Candidates[0].Content.Parts...)
		}
		if text == "" {
			continue
		}
		builder.WriteString(text)
		if err := onChunk(text); err != nil {
			return nil, err
		}
	}
	productIDs = appendProductIDs(productIDs, calls)

	if builder.Len() == 0 {
		if len(calls) == 0 {
			return nil, entity.ErrEmptyModelResponse
		}
		contents = append(contents, genai.NewContentFromParts(modelParts, genai.RoleModel), toolAck(calls))
		result, err := g.client.Models.GenerateContent(ctx, g.model, contents, cfg)
		if err != nil {
			return nil, err
		}
		tokens += tokenCount(result)
		text, _ := splitResponse(result)
		if text == "" {
			return nil, entity.ErrEmptyModelResponse
		}
		builder.WriteString(text)
		if err := onChunk(text); err != nil {
			return nil, err
		}
	}

	return &entity.ModelResponse{
		Content:    builder.String(),
		ProductIDs: productIDs,
		Model:      g.model,
		TokenCount: tokens,
		Latency:    time.Since(start),
	}, nil
}

func (g *GeminiClient) config(req entity.ModelRequest) *genai.GenerateContentConfig {
	cfg := &genai.GenerateContentConfig{
		SystemInstruction: genai.NewContentFromText(systemInstruction(req), genai.RoleUser),
		Tools:             []*genai.Tool{recommendTool()},
	}
	if req.Temperature > 0 {
		cfg.Temperature = genai.Ptr(req.Temperature)
	}
	return cfg
}

func recommendTool() *genai.Tool {
	return &genai.Tool{
		FunctionDeclarations: []*genai.FunctionDeclaration{{
			Name:        recommendProductsTool,
			Description: "Attach storefront products to the reply. Only use product ids that appear in the store knowledge.",
			Parameters: &genai.Schema{
				Type: genai.TypeObject,
				Properties: map[string]*genai.Schema{
					"product_ids": {
						Type:  genai.TypeArray,
						Items: &genai.Schema{Type: genai.TypeString},
					},
				},
				Required: []string{"product_ids"},
			},
		}},
	}
}

func systemInstruction(req entity.ModelRequest) string {
	if len(req.Context) == 0 {
		return req.Instructions
	}
	var b strings.Builder
	b.WriteString(req.Instructions)
	b.WriteString("\n\nStore knowledge:\n")
	for _, doc := range req.Context {
		fmt.Fprintf(&b, "- [%s %s] %s: %s\n", doc.Kind, doc.RefID, doc.Title, doc.Content)
	}
	return b.String()
}

func buildContents(req entity.ModelRequest) []*genai.Content {
	contents := make([]*genai.Content, 0, len(req.History)+1)
	for _, m := range req.History {
		switch m.Role {
		case entity.RoleUser:
			contents = append(contents, genai.NewContentFromText(m.Content, genai.RoleUser))
		case entity.RoleAssistant:
			contents = append(contents, genai.NewContentFromText(m.Content, genai.RoleModel))
		}
	}
	return append(contents, genai.NewContentFromText(req.Message, genai.RoleUser))
}

// splitResponse returns the visible text of the first candidate and its tool calls.
func splitResponse(resp *genai.GenerateContentResponse) (string, []*genai.FunctionCall) {
	if resp == nil || len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil {
		return "", nil
	}
	var (
		b     strings.Builder
		calls []*genai.FunctionCall
	)
	for _, part := range resp.Candidates[0].Content.Parts {
		if part == nil || part.Thought {
			continue
		}
		if part.FunctionCall != nil {
			calls = append(calls, part.FunctionCall)
			continue
		}
		b.WriteString(part.Text)
	}
	return b.String(), calls
}

func appendProductIDs(dst []string, calls []*genai.FunctionCall) []string {
	for _, call := range calls {
		if call.Name != recommendProductsTool {
			continue
		}
		raw, _ := call.Args["product_ids"].([]any)
		for _, v := range raw {
			if id, ok := v.(string); ok && id != "" {
				dst = append(dst, id)
			}
		}
	}
	return dst
}

func toolAck(calls []*genai.FunctionCall) *genai.Content {
	parts := make([]*genai.Part, 0, len(calls))
	for _, call := range calls {
		parts = append(parts, genai.NewPartFromFunctionResponse(call.Name, map[string]any{"output": "attached"}))
	}
	return genai.NewContentFromParts(parts, genai.RoleUser)
}

func tokenCount(resp *genai.GenerateContentResponse) int {
	if resp == nil || resp.UsageMetadata == nil {
		return 0
	}
	return int(resp.UsageMetadata.TotalTokenCount)
}
