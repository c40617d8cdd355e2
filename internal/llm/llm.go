package llm

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
)

// maxSubject is the longest commit subject a suggestion is cut to.
const maxSubject = 72

// maxPaths bounds how many changed paths are sent to the model.
const maxPaths = 200

// Client wraps the Anthropic API for commit message suggestions.
type Client struct {
	api   *anthropic.Client
	model anthropic.Model
}

// NewClient creates an LLM client with the given API key and model.
func NewClient(apiKey, model string, opts ...option.RequestOption) *Client {
	reqOpts := []option.RequestOption{}
	if apiKey != "" {
		reqOpts = append(reqOpts, option.WithAPIKey(apiKey))
	}
	reqOpts = append(reqOpts, opts...)
	client := anthropic.NewClient(reqOpts...)
	return &Client{
		api:   &client,
		model: anthropic.Model(model),
	}
}

// buildCommitPrompt constructs the system and user prompts for a commit message.
func buildCommitPrompt(changed []string) (system string, user string) {
	system = `You write git commit messages for changes to a model repository. The repository holds model files (for example model.xml) that users edit in a modelling tool and share through a remote.

Rules:
- Return a single line, no more than 72 characters
- Use the imperative mood ("Update pump model", not "Updated pump model")
- Mention the changed model or area when the paths make it clear
- Return the message only, no quotes, no markdown, no explanation`

	var sb strings.Builder
	sb.WriteString("Changed paths:\n")
	for i, p := range changed {
		if i == maxPaths {
			fmt.Fprintf(&sb, "... and %d more\n", len(changed)-maxPaths)
			break
		}
		sb.WriteString("- ")
		sb.WriteString(p)
		sb.WriteString("\n")
	}
	user = sb.String()
	return
}

// SuggestCommitMessage asks the model for a commit message describing changed.
func (c *Client) SuggestCommitMessage(ctx context.Context, changed []string) (string, error) {
	if len(changed) == 0 {
		return "", errors.New("no changed paths to describe")
	}
	systemPrompt, userPrompt := buildCommitPrompt(changed)

	msg, err := c.api.Messages.New(ctx, anthropic.MessageNewParams{
		Model:     c.model,
		MaxTokens: 256,
		System: []anthropic.TextBlockParam{
			{Text: systemPrompt},
		},
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(userPrompt)),
		},
	})
	if err != nil {
		return "", fmt.Errorf("anthropic API call: %w", err)
	}

	// Extract text from response
	var text string
	for _, block := range msg.Content {
		if block.Type == "text" {
			text = block.Text
			break
		}
	}

	subject := cleanSubject(text)
	if subject == "" {
		return "", fmt.Errorf("no text content in API response")
	}
	return subject, nil
}

// cleanSubject reduces a model reply to one commit subject line.
func cleanSubject(text string) string {
	text = strings.TrimSpace(text)
	text = strings.TrimPrefix(text, "```")
	for _, line := range strings.Split(text, "\n") {
		line = strings.TrimSpace(line)
		line = strings.Trim(line, "`\"'")
		if line == "" || line == "text" {
			continue
		}
		if r := []rune(line); len(r) > maxSubject {
			line = strings.TrimSpace(string(r[:maxSubject]))
		}
		return line
	}
	return ""
}
