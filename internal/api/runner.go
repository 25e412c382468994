package api

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
)

// Runner provides text-in/text-out Claude API calls.
type Runner struct {
	client    *Client
	maxTokens int64
}

// NewRunner creates a new API runner.
func NewRunner(client *Client) *Runner {
	return &Runner{client: client, maxTokens: 2048}
}

// RunWithSystem executes a prompt with a system message and returns the text response.
func (r *Runner) RunWithSystem(ctx context.Context, systemPrompt, userPrompt string) (string, error) {
	resp, err := r.client.sdk().Messages.New(ctx, anthropic.MessageNewParams{
		Model:     r.client.Model(),
		MaxTokens: r.maxTokens,
		System: []anthropic.TextBlockParam{
			{Text: systemPrompt},
		},
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(userPrompt)),
		},
	})
	if err != nil {
		return "", fmt.Errorf("API call failed: %w", err)
	}

	r.client.Tracker().Add(resp.Usage.InputTokens, resp.Usage.OutputTokens)

	var result strings.Builder
	for _, block := range resp.Content {
		if variant, ok := block.AsAny().(anthropic.TextBlock); ok {
			result.WriteString(variant.Text)
		}
	}
	return result.String(), nil
}

// RunJSON executes a prompt and parses the JSON object in the response into target.
func (r *Runner) RunJSON(ctx context.Context, systemPrompt, userPrompt string, target interface{}) error {
	response, err := r.RunWithSystem(ctx, systemPrompt, userPrompt)
	if err != nil {
		return err
	}
	return ExtractJSON(response, target)
}

// ExtractJSON finds the outermost JSON object or array in a model response
// and unmarshals it into target. Surrounding prose and code fences are ignored.
func ExtractJSON(response string, target interface{}) error {
	start := strings.IndexAny(response, "{[")
	if start == -1 {
		return fmt.Errorf("no valid JSON found in response: %s", truncate(response, 200))
	}
	closer := "}"
	if response[start] == '[' {
		closer = "]"
	}
	end := strings.LastIndex(response, closer)
	if end <= start {
		return fmt.Errorf("no valid JSON found in response: %s", truncate(response, 200))
	}

	jsonStr := response[start : end+1]
	if err := json.Unmarshal([]byte(jsonStr), target); err != nil {
		return fmt.Errorf("parse JSON: %w (response: %s)", err, truncate(jsonStr, 200))
	}
	return nil
}

func truncate(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen] + "..."
}
