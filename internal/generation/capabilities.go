// Package generation dispatches per-slide image generation through one of
// three strategies (direct calls with bounded concurrency, background jobs
// with polling, or the agent pipeline) and merges every result into the
// shared deck state.
package generation

import (
	"context"
	"errors"

	"slidegen/internal/models"
)

// Shared error messages shown on slides
const (
	MsgGenerationFailed = "Image generation failed"
	MsgBatchFailed      = "Failed to generate images"
	MsgStartFailed      = "Failed to start generation"
	MsgTaskFailed       = "Generation failed"
	MsgLostContact      = "Lost contact with generation service"
)

// ErrBusy is returned when a deck-wide operation is already running
var ErrBusy = errors.New("generation already in progress")

// ImageGenerator turns a prompt into an image reference
type ImageGenerator interface {
	GenerateImage(ctx context.Context, prompt, style string) (string, error)
}

// RefinementFocus steers prompt refinement
type RefinementFocus string

const (
	FocusAny         RefinementFocus = ""
	FocusLighting    RefinementFocus = "lighting"
	FocusCamera      RefinementFocus = "camera"
	FocusComposition RefinementFocus = "composition"
	FocusMood        RefinementFocus = "mood"
)

// RemixFocuses are picked from at random by RemixDeck
var RemixFocuses = []RefinementFocus{FocusLighting, FocusCamera, FocusComposition, FocusMood}

// PromptRefiner produces a varied version of an image prompt
type PromptRefiner interface {
	RefinePrompt(ctx context.Context, prompt string, focus RefinementFocus) (string, error)
}

// BatchService is the background job side of the generation backend
type BatchService interface {
	SubmitBatch(ctx context.Context, deckID string, slideIDs []string) (*models.BatchSubmission, error)
	// RegenerateSlide re-renders one slide; a non-empty prompt replaces the stored one
	RegenerateSlide(ctx context.Context, deckID, slideID, prompt string) (*models.TaskSubmission, error)
	BatchStatus(ctx context.Context, deckID string) (*models.BatchStatus, error)
}

// SlidePersister stores slide changes remotely
type SlidePersister interface {
	UpdateSlide(ctx context.Context, deckID, slideID string, patch models.SlidePatch) (*models.Slide, error)
}

// CredentialChecker must succeed before any direct or agent call is issued
type CredentialChecker interface {
	EnsureAPIKeySelection(ctx context.Context) error
}

// SessionTokens reports whether the session holds backend access credentials
type SessionTokens interface {
	HasTokens() bool
}

// EventSink receives the events streamed by an agent pipeline
type EventSink interface {
	Emit(ev models.AgentEvent)
}

// AgentPipeline runs the multi-step generation process over a slide list.
// Event slide indices refer to positions in req.Slides.
type AgentPipeline interface {
	Run(ctx context.Context, req models.AgentRequest, sink EventSink) (*models.AgentResult, error)
}

// AgentObserver receives progress notifications from the agent adapter.
// Every method may be called from a goroutine other than the caller's.
type AgentObserver interface {
	OnAgentStart(total int)
	OnAgentActivity(log models.AgentLog)
	OnAgentLogs(logs []models.AgentLog)
	OnAgentComplete()
	OnImageGenerated(slideIndex int, imageURL string)
}

// NopObserver ignores every notification
type NopObserver struct{}

func (NopObserver) OnAgentStart(int)                {}
func (NopObserver) OnAgentActivity(models.AgentLog) {}
func (NopObserver) OnAgentLogs([]models.AgentLog)   {}
func (NopObserver) OnAgentComplete()                {}
func (NopObserver) OnImageGenerated(int, string)    {}

// Strategy is the uniform generation contract every mode exposes.
//
// GenerateAll and GenerateSingle report per-slide failures through the deck
// state only; the returned error is reserved for failures that aborted the
// whole operation (after the affected slides have been reset).
type Strategy interface {
	GenerateAll(ctx context.Context, slides []*models.Slide, style, topic string, deckOverride *models.Deck) error
	GenerateSingle(ctx context.Context, index int, prompt, style string) error
	// Wait blocks until background work started by the strategy has settled
	Wait(ctx context.Context) error
	// Close stops background work; the strategy must not be used afterwards
	Close()
}
