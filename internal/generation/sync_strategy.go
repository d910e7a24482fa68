package generation

import (
	"context"
	"fmt"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"slidegen/internal/models"
	"slidegen/internal/slides"
	"slidegen/internal/state"
)

// DefaultConcurrency bounds outstanding direct generation calls
const DefaultConcurrency = 3

// request is one queued unit of the sync batch
type request struct {
	slideIndex int
	prompt     string
	style      string
}

// SyncStrategy calls the image generator directly, a bounded chunk of
// slides at a time
type SyncStrategy struct {
	state       *state.DeckState
	generator   ImageGenerator
	creds       CredentialChecker
	persister   SlidePersister
	concurrency int
	log         *zap.Logger
}

// NewSyncStrategy creates a sync strategy. persister may be nil, in which
// case results are only kept locally.
func NewSyncStrategy(st *state.DeckState, gen ImageGenerator, creds CredentialChecker, persister SlidePersister, concurrency int, log *zap.Logger) *SyncStrategy {
	if concurrency <= 0 {
		concurrency = DefaultConcurrency
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &SyncStrategy{
		state:       st,
		generator:   gen,
		creds:       creds,
		persister:   persister,
		concurrency: concurrency,
		log:         log.Named("sync"),
	}
}

// GenerateAll generates an image for every slide. Chunks run strictly one
// after another; within a chunk every request settles regardless of the
// others' failures.
func (s *SyncStrategy) GenerateAll(ctx context.Context, items []*models.Slide, style, _ string, _ *models.Deck) error {
	if err := s.creds.EnsureAPIKeySelection(ctx); err != nil {
		failSlides(s.state, items, MsgBatchFailed)
		s.log.Error("Batch generation aborted", zap.Error(err))
		return fmt.Errorf("ensure api key: %w", err)
	}

	queue := make([]request, len(items))
	for i, slide := range items {
		queue[i] = request{slideIndex: i, prompt: slide.ImagePrompt, style: style}
	}

	s.log.Info("Starting batch generation",
		zap.Int("slides", len(queue)),
		zap.Int("concurrency", s.concurrency))

	for len(queue) > 0 {
		if err := ctx.Err(); err != nil {
			return err
		}

		n := min(s.concurrency, len(queue))
		chunk := queue[:n]
		queue = queue[n:]

		var g errgroup.Group
		for _, req := range chunk {
			g.Go(func() error {
				s.generate(ctx, req)
				return nil
			})
		}
		_ = g.Wait()
	}
	return nil
}

// GenerateSingle generates the image of one slide. A credential failure
// marks the slide failed without calling the generator.
func (s *SyncStrategy) GenerateSingle(ctx context.Context, index int, prompt, style string) error {
	if err := s.creds.EnsureAPIKeySelection(ctx); err != nil {
		s.state.UpdateSlideAt(index, models.ImageFailedPatch(errorMessage(err)))
		s.log.Error("Single generation aborted", zap.Int("index", index), zap.Error(err))
		return fmt.Errorf("ensure api key: %w", err)
	}
	s.generate(ctx, request{slideIndex: index, prompt: prompt, style: style})
	return nil
}

// Wait returns immediately: sync work completes before GenerateAll returns
func (s *SyncStrategy) Wait(context.Context) error { return nil }

// Close is a no-op for the sync strategy
func (s *SyncStrategy) Close() {}

func (s *SyncStrategy) generate(ctx context.Context, req request) {
	deck := s.state.UpdateSlideAt(req.slideIndex, models.LoadingPatch())
	slide := deck.SlideAt(req.slideIndex)
	if slide == nil {
		s.log.Warn("Slide index out of range", zap.Int("index", req.slideIndex))
		return
	}

	url, err := s.generator.GenerateImage(ctx, req.prompt, req.style)
	if err != nil {
		s.log.Warn("Image generation failed",
			zap.Int("index", req.slideIndex),
			zap.String("slide_id", slide.ID),
			zap.Error(err))
		s.state.UpdateSlideAt(req.slideIndex, models.ImageFailedPatch(errorMessage(err)))
		return
	}

	s.state.UpdateSlideAt(req.slideIndex, models.ImageReadyPatch(url))
	persistImage(ctx, s.persister, s.log, deck.ID, slide.ID, url)
}

// persistImage stores a generated image reference remotely.
// Failures are logged and swallowed.
func persistImage(ctx context.Context, p SlidePersister, log *zap.Logger, deckID, slideID, url string) {
	if p == nil || deckID == "" || slideID == "" {
		return
	}
	_, err := p.UpdateSlide(ctx, deckID, slideID, models.SlidePatch{ImageURL: models.String(url)})
	if err != nil {
		log.Warn("Failed to persist image URL",
			zap.String("deck_id", deckID),
			zap.String("slide_id", slideID),
			zap.Error(err))
	}
}

// failSlides resets every given slide to a non-loading errored state
func failSlides(st *state.DeckState, items []*models.Slide, msg string) {
	ids := slideIDs(items)
	st.Update(func(d *models.Deck) *models.Deck {
		return slides.UpdateByIDs(d, ids, models.ImageFailedPatch(msg))
	})
}

func errorMessage(err error) string {
	if err == nil || err.Error() == "" {
		return MsgGenerationFailed
	}
	return err.Error()
}
