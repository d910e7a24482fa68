// Package gemini implements the creative-generation capabilities on top of
// the Gemini API: image generation with model fallback, prompt refinement,
// and the multi-step prompt agent.
package gemini

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"

	"go.uber.org/zap"
	"google.golang.org/genai"

	"slidegen/internal/generation"
)

// Default models
var (
	DefaultImageModels = []string{"gemini-3-pro-image-preview", "gemini-2.5-flash-image"}
	DefaultTextModel   = "gemini-2.5-flash"
)

const (
	aspectRatio = "16:9"

	antiTextGuard = "CRITICAL: Do not include ANY text, words, letters, numbers, brand names, logos, " +
		"watermarks, URLs, or typography of any kind in the image. The image must be completely free " +
		"of readable text or branding. Generate only visual imagery."
	qualitySuffix = "High quality, 8k, detailed, award winning."
)

// ErrAllModelsFailed is returned when no image model produced an image
var ErrAllModelsFailed = errors.New("failed to generate image after trying all available models")

// Config configures the Gemini client
type Config struct {
	APIKey      string
	ImageModels []string
	TextModel   string
	// ImageSize is passed to the first image model only, e.g. "1K"
	ImageSize string
}

// contentGenerator is the subset of *genai.Models the client calls
type contentGenerator interface {
	GenerateContent(ctx context.Context, model string, contents []*genai.Content, config *genai.GenerateContentConfig) (*genai.GenerateContentResponse, error)
}

// ImageOptions adjusts the enhanced image prompt
type ImageOptions struct {
	Topic  string
	NoText bool
}

// Client generates images and text through Gemini models
type Client struct {
	models contentGenerator
	cfg    Config
	log    *zap.Logger
}

// NewClient creates a client for the Gemini API
func NewClient(ctx context.Context, cfg Config, log *zap.Logger) (*Client, error) {
	if cfg.APIKey == "" {
		return nil, ErrNoAPIKey
	}
	gc, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  cfg.APIKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create GenAI client: %w", err)
	}
	return newClient(gc.Models, cfg, log), nil
}

func newClient(models contentGenerator, cfg Config, log *zap.Logger) *Client {
	if len(cfg.ImageModels) == 0 {
		cfg.ImageModels = DefaultImageModels
	}
	if cfg.TextModel == "" {
		cfg.TextModel = DefaultTextModel
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Client{models: models, cfg: cfg, log: log.Named("gemini")}
}

// GenerateImage renders prompt in style and returns a data URL
func (c *Client) GenerateImage(ctx context.Context, prompt, style string) (string, error) {
	return c.RenderImage(ctx, prompt, style, ImageOptions{})
}

// RenderImage tries each configured image model in order and returns the
// first inline image as a data URL
func (c *Client) RenderImage(ctx context.Context, prompt, style string, opts ImageOptions) (string, error) {
	enhanced := EnhancePrompt(prompt, style, opts)
	c.log.Debug("Generating image", zap.String("prompt", enhanced))

	for i, model := range c.cfg.ImageModels {
		imgCfg := &genai.ImageConfig{AspectRatio: aspectRatio}
		if i == 0 && c.cfg.ImageSize != "" {
			imgCfg.ImageSize = c.cfg.ImageSize
		}

		resp, err := c.models.GenerateContent(ctx, model, genai.Text(enhanced), &genai.GenerateContentConfig{
			ImageConfig: imgCfg,
		})
		if err != nil {
			if ctx.Err() != nil {
				return "", ctx.Err()
			}
			c.log.Warn("Generation failed", zap.String("model", model), zap.Error(err))
			continue
		}
		if url, ok := inlineImage(resp); ok {
			return url, nil
		}
		c.log.Warn("No image in response", zap.String("model", model))
	}
	return "", ErrAllModelsFailed
}

// EnhancePrompt builds the full image prompt from subject and style
func EnhancePrompt(prompt, style string, opts ImageOptions) string {
	var b strings.Builder
	b.WriteString(style)
	b.WriteString(" . ")
	if opts.Topic != "" {
		fmt.Fprintf(&b, "TOPIC CONTEXT: %s . ", opts.Topic)
	}
	fmt.Fprintf(&b, "SUBJECT: %s . ", prompt)
	if opts.NoText {
		b.WriteString(antiTextGuard)
		b.WriteString(" . ")
	}
	b.WriteString(qualitySuffix)
	return b.String()
}

func inlineImage(resp *genai.GenerateContentResponse) (string, bool) {
	if resp == nil || len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil {
		return "", false
	}
	for _, part := range resp.Candidates[0].Content.Parts {
		if part == nil || part.InlineData == nil || len(part.InlineData.Data) == 0 {
			continue
		}
		mime := part.InlineData.MIMEType
		if mime == "" {
			mime = "image/png"
		}
		return "data:" + mime + ";base64," + base64.StdEncoding.EncodeToString(part.InlineData.Data), true
	}
	return "", false
}

// GenerateText runs prompt against the text model. With jsonOut the model
// is asked for a JSON response.
func (c *Client) GenerateText(ctx context.Context, prompt string, jsonOut bool) (string, error) {
	var cfg *genai.GenerateContentConfig
	if jsonOut {
		cfg = &genai.GenerateContentConfig{ResponseMIMEType: "application/json"}
	}
	resp, err := c.models.GenerateContent(ctx, c.cfg.TextModel, genai.Text(prompt), cfg)
	if err != nil {
		return "", fmt.Errorf("generate text: %w", err)
	}
	return strings.TrimSpace(resp.Text()), nil
}

// RefinePrompt rewrites an image prompt towards the given focus. An empty
// model answer keeps the original prompt.
func (c *Client) RefinePrompt(ctx context.Context, prompt string, focus generation.RefinementFocus) (string, error) {
	text, err := c.GenerateText(ctx, refinePrompt(prompt, focus), false)
	if err != nil {
		return "", err
	}
	if text == "" {
		return prompt, nil
	}
	return text, nil
}
