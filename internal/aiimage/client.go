// Package aiimage wraps the OpenAI image API behind a small interface so the
// HTTP handlers can be tested without network access.
package aiimage

import (
	"context"
	"fmt"
	"time"

	openai "github.com/sashabaranov/go-openai"
)

// Generator produces an image URL from a prompt. Implementations must be safe
// for concurrent use.
type Generator interface {
	Generate(ctx context.Context, prompt string) (string, error)
}

// Client is the OpenAI-backed Generator used in production.
type Client struct {
	client  *openai.Client
	model   string
	size    string
	timeout time.Duration
}

// NewClient creates an image client. An empty apiKey disables the feature;
// callers should check with Enabled before routing requests here.
func NewClient(apiKey string) *Client {
	if apiKey == "" {
		return &Client{}
	}
	return &Client{
		client:  openai.NewClient(apiKey),
		model:   openai.CreateImageModelDallE3,
		size:    openai.CreateImageSize1024x1024,
		timeout: 60 * time.Second,
	}
}

// Enabled reports whether an API key was configured.
func (c *Client) Enabled() bool {
	return c.client != nil
}

// Generate requests one image for the prompt and returns its hosted URL.
func (c *Client) Generate(ctx context.Context, prompt string) (string, error) {
	if !c.Enabled() {
		return "", fmt.Errorf("image generation is not configured")
	}

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	resp, err := c.client.CreateImage(ctx, openai.ImageRequest{
		Model:          c.model,
		Prompt:         prompt,
		N:              1,
		Size:           c.size,
		ResponseFormat: openai.CreateImageResponseFormatURL,
	})
	if err != nil {
		return "", fmt.Errorf("image generation failed: %w", err)
	}
	if len(resp.Data) == 0 || resp.Data[0].URL == "" {
		return "", fmt.Errorf("image generation returned no result")
	}
	return resp.Data[0].URL, nil
}

// EditPrompt composes the prompt for an edit of an existing image. The source
// image is described by its URL; the model regenerates rather than patching
// pixels, which is good enough for the feed use case.
func EditPrompt(sourceURL, instruction string) string {
	return fmt.Sprintf("Edit the photo at %s: %s. Keep the original composition.", sourceURL, instruction)
}

// StylePrompt composes the prompt for a style transfer.
func StylePrompt(sourceURL, style string) string {
	return fmt.Sprintf("Recreate the photo at %s in the style of %s.", sourceURL, style)
}
