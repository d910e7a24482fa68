// Package session assembles the client-side generation stack for one deck:
// the shared deck state, the three strategies behind a selector, the
// orchestrator and the reconciler that folds backend snapshots back in.
package session

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"slidegen/internal/config"
	"slidegen/internal/gemini"
	"slidegen/internal/generation"
	"slidegen/internal/models"
	"slidegen/internal/poller"
	"slidegen/internal/reconcile"
	"slidegen/internal/state"
)

// Remote is the backend as seen by a session
type Remote interface {
	generation.BatchService
	generation.SlidePersister
	generation.SessionTokens
	GetPresentation(ctx context.Context, deckID string) (*models.Deck, error)
}

// Model is the creative generation capability
type Model interface {
	generation.ImageGenerator
	generation.PromptRefiner
	gemini.TextGenerator
	gemini.ImageRenderer
}

// Deps are the collaborators of a session. Model may be nil when no API
// key is configured; direct and agent generation then fail the credential
// check and only the async transport works.
type Deps struct {
	Config   *config.Config
	Remote   Remote
	Model    Model
	Observer generation.AgentObserver
	Hooks    reconcile.Hooks
}

// Session is the generation stack of one open deck
type Session struct {
	State        *state.DeckState
	Orchestrator *generation.Orchestrator
	Reconciler   *reconcile.Reconciler
	Agent        *generation.AgentStrategy

	remote Remote
	log    *zap.Logger
}

// New wires a session from deps
func New(deps Deps, log *zap.Logger) (*Session, error) {
	if log == nil {
		log = zap.NewNop()
	}
	cfg := deps.Config
	if cfg == nil {
		cfg = config.DefaultConfig()
	}
	mode, err := generation.ParseMode(cfg.Generation.Mode)
	if err != nil {
		return nil, err
	}

	model := deps.Model
	creds := gemini.Credentials{APIKey: cfg.Gemini.APIKey}
	if model == nil {
		model = unavailable{}
		creds = gemini.Credentials{}
	}

	st := state.New(nil)
	syncStrategy := generation.NewSyncStrategy(st, model, creds, deps.Remote, cfg.Generation.Concurrency, log)
	asyncStrategy := generation.NewAsyncStrategy(st, deps.Remote, generation.AsyncConfig{
		PollInterval:       cfg.GetPollInterval(),
		SinglePollInterval: cfg.GetSinglePollInterval(),
		MaxPollInterval:    cfg.GetMaxPollInterval(),
		MaxPollErrors:      cfg.Generation.MaxPollErrors,
		Backoff:            poller.BackoffExponential,
	}, log)
	agent := gemini.NewPromptAgent(model, model, gemini.AgentConfig{
		AcceptanceThreshold: cfg.Agent.AcceptanceThreshold,
		MaxIterations:       cfg.Agent.MaxIterations,
		Sequential:          cfg.Agent.Sequential,
		ImageConcurrency:    cfg.Agent.ImageConcurrency,
	}, log)
	agentStrategy := generation.NewAgentStrategy(st, agent, creds, deps.Remote, deps.Observer, log)

	sel := generation.Selector{
		Mode:      mode,
		AgentMode: cfg.Generation.AgentMode,
		Tokens:    deps.Remote,
		Sync:      syncStrategy,
		Async:     asyncStrategy,
		Agent:     agentStrategy,
	}

	return &Session{
		State:        st,
		Orchestrator: generation.NewOrchestrator(st, sel, model, creds, log),
		Reconciler:   reconcile.New(st, cfg.Themes, deps.Hooks, log),
		Agent:        agentStrategy,
		remote:       deps.Remote,
		log:          log.Named("session"),
	}, nil
}

// Load fetches a deck from the backend and reconciles it into the state
func (s *Session) Load(ctx context.Context, deckID string) (*models.Deck, error) {
	server, err := s.remote.GetPresentation(ctx, deckID)
	if err != nil {
		return nil, fmt.Errorf("load deck: %w", err)
	}
	return s.Reconciler.Apply(server), nil
}

// Refresh refetches the open deck and reconciles it
func (s *Session) Refresh(ctx context.Context) (*models.Deck, error) {
	deck := s.State.Get()
	if deck == nil {
		return nil, nil
	}
	return s.Load(ctx, deck.ID)
}

// Follow refetches the open deck every interval until no slide of the
// local state is loading. Local loading flags survive a snapshot whose
// slide has no image yet, so this settles once the work has landed.
func (s *Session) Follow(ctx context.Context, interval time.Duration) *poller.Poller[*models.Deck] {
	return poller.Start(ctx, poller.Options[*models.Deck]{
		Fetch: s.Refresh,
		IsComplete: func(*models.Deck) bool {
			return !anyLoading(s.State.Get())
		},
		OnError: func(err error, count int) {
			s.log.Warn("Deck refresh failed", zap.Int("attempt", count), zap.Error(err))
		},
		Interval: interval,
		Delayed:  true,
	})
}

// Wait blocks until background generation has settled
func (s *Session) Wait(ctx context.Context) error {
	return s.Orchestrator.Wait(ctx)
}

// Close stops all background work
func (s *Session) Close() {
	s.Orchestrator.Close()
}

func anyLoading(deck *models.Deck) bool {
	if deck == nil {
		return false
	}
	for _, slide := range deck.Slides {
		if slide.IsImageLoading {
			return true
		}
	}
	return false
}

// unavailable stands in for the model when no API key is configured
type unavailable struct{}

func (unavailable) GenerateImage(context.Context, string, string) (string, error) {
	return "", gemini.ErrNoAPIKey
}

func (unavailable) RefinePrompt(context.Context, string, generation.RefinementFocus) (string, error) {
	return "", gemini.ErrNoAPIKey
}

func (unavailable) GenerateText(context.Context, string, bool) (string, error) {
	return "", gemini.ErrNoAPIKey
}

func (unavailable) RenderImage(context.Context, string, string, gemini.ImageOptions) (string, error) {
	return "", gemini.ErrNoAPIKey
}
