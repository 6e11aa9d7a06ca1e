package client

import (
	"context"
	"fmt"
	"strings"

	"google.golang.org/genai"
)

// GeminiEvaluator is a yes/no judge for "does the shopper want a human".
type GeminiEvaluator struct {
	client *genai.Client
	model  string
}

func NewGeminiEvaluator(client *genai.Client, model string) *GeminiEvaluator {
	return &GeminiEvaluator{client: client, model: model}
}

func (e *GeminiEvaluator) RequestsHuman(ctx context.Context, message string) bool {
	instruction := `You are an Intent Judge for an online store chat.
    Decide whether the shopper is explicitly asking to talk to a human (staff, agent, owner, real person).
    - If they are, respond ONLY with "YES".
    - Questions about products, orders or policies are "NO".`

	prompt := fmt.Sprintf("%s\n\nMessage: %s", instruction, message)

	resp, err := e.client.Models.GenerateContent(ctx, e.model, genai.Text(prompt), nil)
	if err != nil {
		return false
	}
	return parseVerdict(resp.Text())
}

func parseVerdict(text string) bool {
	return strings.HasPrefix(strings.TrimSpace(strings.ToUpper(text)), "YES")
}
