// Package apiclient talks to the slidegen backend REST API. It provides the
// persistence and background job capabilities used by the generation
// strategies.
package apiclient

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.uber.org/zap"

	"slidegen/internal/generation"
	"slidegen/internal/models"
)

// PresentationsPrefix is the path prefix of every presentation endpoint
const PresentationsPrefix = "/api/v1/presentations"

const defaultTimeout = 30 * time.Second

// APIError is returned for non-2xx responses
type APIError struct {
	Status int
	Detail string
	Code   string
}

func (e *APIError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("api error %d (%s): %s", e.Status, e.Code, e.Detail)
	}
	return fmt.Sprintf("api error %d: %s", e.Status, e.Detail)
}

// IsNotFound reports whether err is a 404 from the backend
func IsNotFound(err error) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.Status == http.StatusNotFound
}

// Client is a backend API client
type Client struct {
	baseURL string
	token   string
	http    *http.Client
	log     *zap.Logger
}

// New creates a client for the backend at baseURL. token may be empty.
func New(baseURL, token string, log *zap.Logger) *Client {
	if log == nil {
		log = zap.NewNop()
	}
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		token:   token,
		http:    &http.Client{Timeout: defaultTimeout},
		log:     log.Named("apiclient"),
	}
}

var (
	_ generation.BatchService   = (*Client)(nil)
	_ generation.SlidePersister = (*Client)(nil)
	_ generation.SessionTokens  = (*Client)(nil)
)

// HasTokens reports whether the client carries an access token
func (c *Client) HasTokens() bool {
	return c.token != ""
}

// CreatePresentation stores a new deck. Server-assigned ids are returned.
func (c *Client) CreatePresentation(ctx context.Context, deck *models.Deck) (*models.Deck, error) {
	var out models.Deck
	if err := c.do(ctx, http.MethodPost, PresentationsPrefix, deck, &out); err != nil {
		return nil, fmt.Errorf("create presentation: %w", err)
	}
	return &out, nil
}

// GetPresentation fetches a deck by id
func (c *Client) GetPresentation(ctx context.Context, deckID string) (*models.Deck, error) {
	var out models.Deck
	if err := c.do(ctx, http.MethodGet, deckPath(deckID), nil, &out); err != nil {
		return nil, fmt.Errorf("get presentation: %w", err)
	}
	return &out, nil
}

// UpdateSlide persists a partial slide change
func (c *Client) UpdateSlide(ctx context.Context, deckID, slideID string, patch models.SlidePatch) (*models.Slide, error) {
	var out models.Slide
	if err := c.do(ctx, http.MethodPatch, slidePath(deckID, slideID), patch, &out); err != nil {
		return nil, fmt.Errorf("update slide: %w", err)
	}
	return &out, nil
}

type batchRequest struct {
	SlideIDs []string `json:"slide_ids"`
}

// SubmitBatch queues background generation for slideIDs, or for every slide
// with a prompt and no image when slideIDs is empty
func (c *Client) SubmitBatch(ctx context.Context, deckID string, slideIDs []string) (*models.BatchSubmission, error) {
	if slideIDs == nil {
		slideIDs = []string{}
	}
	var out models.BatchSubmission
	if err := c.do(ctx, http.MethodPost, deckPath(deckID)+"/generate-images", batchRequest{SlideIDs: slideIDs}, &out); err != nil {
		return nil, fmt.Errorf("submit batch: %w", err)
	}
	c.log.Debug("Batch submitted", zap.String("deck", deckID), zap.Int("tasks", out.TotalSlides))
	return &out, nil
}

// GenerateSlide queues background generation for a slide without an image
func (c *Client) GenerateSlide(ctx context.Context, deckID, slideID string) (*models.TaskSubmission, error) {
	var out models.TaskSubmission
	if err := c.do(ctx, http.MethodPost, slidePath(deckID, slideID)+"/generate-image", nil, &out); err != nil {
		return nil, fmt.Errorf("generate slide: %w", err)
	}
	return &out, nil
}

type regenerateRequest struct {
	ImagePrompt string `json:"image_prompt,omitempty"`
}

// RegenerateSlide clears a slide's image and queues a new generation. A
// non-empty prompt is stored on the slide before rendering.
func (c *Client) RegenerateSlide(ctx context.Context, deckID, slideID, prompt string) (*models.TaskSubmission, error) {
	var out models.TaskSubmission
	if err := c.do(ctx, http.MethodPost, slidePath(deckID, slideID)+"/regenerate-image", regenerateRequest{ImagePrompt: prompt}, &out); err != nil {
		return nil, fmt.Errorf("regenerate slide: %w", err)
	}
	return &out, nil
}

// BatchStatus fetches the image status snapshot of a deck
func (c *Client) BatchStatus(ctx context.Context, deckID string) (*models.BatchStatus, error) {
	var out models.BatchStatus
	if err := c.do(ctx, http.MethodGet, deckPath(deckID)+"/image-status", nil, &out); err != nil {
		return nil, fmt.Errorf("batch status: %w", err)
	}
	return &out, nil
}

// Task fetches a single image task
func (c *Client) Task(ctx context.Context, taskID string) (*models.ImageTask, error) {
	var out models.ImageTask
	if err := c.do(ctx, http.MethodGet, PresentationsPrefix+"/tasks/"+url.PathEscape(taskID), nil, &out); err != nil {
		return nil, fmt.Errorf("get task: %w", err)
	}
	return &out, nil
}

func deckPath(deckID string) string {
	return PresentationsPrefix + "/" + url.PathEscape(deckID)
}

func slidePath(deckID, slideID string) string {
	return deckPath(deckID) + "/slides/" + url.PathEscape(slideID)
}

func (c *Client) do(ctx context.Context, method, path string, body, out any) error {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		apiErr := decodeError(resp)
		c.log.Debug("Request failed",
			zap.String("method", method),
			zap.String("path", path),
			zap.Int("status", resp.StatusCode),
			zap.String("detail", apiErr.Detail))
		return apiErr
	}

	if out == nil || !strings.Contains(resp.Header.Get("Content-Type"), "application/json") {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

type errorBody struct {
	Detail    string `json:"detail"`
	Message   string `json:"message"`
	ErrorCode string `json:"error_code"`
}

func decodeError(resp *http.Response) *APIError {
	apiErr := &APIError{Status: resp.StatusCode, Detail: "An error occurred"}
	data, err := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	if err != nil || len(data) == 0 {
		return apiErr
	}
	var body errorBody
	if json.Unmarshal(data, &body) != nil {
		if text := strings.TrimSpace(string(data)); text != "" {
			apiErr.Detail = text
		}
		return apiErr
	}
	switch {
	case body.Detail != "":
		apiErr.Detail = body.Detail
	case body.Message != "":
		apiErr.Detail = body.Message
	}
	apiErr.Code = body.ErrorCode
	return apiErr
}
