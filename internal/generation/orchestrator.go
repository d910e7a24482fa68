package generation

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"slidegen/internal/models"
	"slidegen/internal/slides"
	"slidegen/internal/state"
)

// RegenerateMode selects whether a regenerated image keeps its prompt
type RegenerateMode string

const (
	RegenerateSame   RegenerateMode = "same"
	RegenerateVaried RegenerateMode = "varied"
)

// Orchestrator exposes the deck-level generation operations. It never
// depends on which strategy is active; each call asks the selector.
type Orchestrator struct {
	state    *state.DeckState
	selector Selector
	refiner  PromptRefiner
	creds    CredentialChecker
	log      *zap.Logger

	rng      *rand.Rand
	remixing atomic.Bool
}

// NewOrchestrator creates an orchestrator over st
func NewOrchestrator(st *state.DeckState, sel Selector, refiner PromptRefiner, creds CredentialChecker, log *zap.Logger) *Orchestrator {
	if log == nil {
		log = zap.NewNop()
	}
	seed := uint64(time.Now().UnixNano())
	return &Orchestrator{
		state:    st,
		selector: sel,
		refiner:  refiner,
		creds:    creds,
		log:      log.Named("orchestrator"),
		rng:      rand.New(rand.NewPCG(seed, seed>>1)),
	}
}

// Mode returns the transport the next operation will run through
func (o *Orchestrator) Mode() Mode {
	return o.selector.Resolved()
}

// GenerateAll generates images for items through the selected strategy
func (o *Orchestrator) GenerateAll(ctx context.Context, items []*models.Slide, style, topic string, deckOverride *models.Deck) error {
	return o.selector.Select().GenerateAll(ctx, items, style, topic, deckOverride)
}

// GenerateSingle generates the image of the slide at index
func (o *Orchestrator) GenerateSingle(ctx context.Context, index int, prompt, style string) error {
	return o.selector.Select().GenerateSingle(ctx, index, prompt, style)
}

// RegenerateAllImages regenerates every slide of the current deck
func (o *Orchestrator) RegenerateAllImages(ctx context.Context) error {
	deck := o.state.Get()
	if deck == nil {
		return nil
	}
	return o.GenerateAll(ctx, deck.Slides, deck.VisualStyle, deck.Topic, nil)
}

// RegenerateSlideImage regenerates the slide at index. The varied mode
// refines the prompt first and stores the new prompt on the slide.
func (o *Orchestrator) RegenerateSlideImage(ctx context.Context, index int, mode RegenerateMode) error {
	deck := o.state.Get()
	slide := deck.SlideAt(index)
	if slide == nil {
		return nil
	}
	prompt := slide.ImagePrompt

	if o.Mode() != ModeAsync {
		if err := o.creds.EnsureAPIKeySelection(ctx); err != nil {
			o.log.Error("Regenerate aborted", zap.Int("index", index), zap.Error(err))
			return fmt.Errorf("ensure api key: %w", err)
		}
	}

	if mode == RegenerateVaried {
		o.state.UpdateSlideAt(index, models.SlidePatch{IsImageLoading: models.Bool(true)})
		refined, err := o.refiner.RefinePrompt(ctx, prompt, FocusAny)
		if err != nil {
			o.log.Error("Prompt refinement failed", zap.Int("index", index), zap.Error(err))
			o.state.UpdateSlideAt(index, models.ImageFailedPatch(errorMessage(err)))
			return fmt.Errorf("refine prompt: %w", err)
		}
		prompt = refined
		o.state.UpdateSlideAt(index, models.SlidePatch{ImagePrompt: models.String(prompt)})
	}

	return o.GenerateSingle(ctx, index, prompt, deck.VisualStyle)
}

// RemixDeck rewrites every slide prompt with a random refinement focus and
// regenerates the images one slide at a time. It returns ErrBusy while
// another remix is running.
func (o *Orchestrator) RemixDeck(ctx context.Context) error {
	deck := o.state.Get()
	if deck == nil {
		return nil
	}
	if !o.remixing.CompareAndSwap(false, true) {
		return ErrBusy
	}
	defer o.remixing.Store(false)

	if err := o.creds.EnsureAPIKeySelection(ctx); err != nil {
		o.log.Error("Remix aborted", zap.Error(err))
		return fmt.Errorf("ensure api key: %w", err)
	}

	o.state.Update(func(d *models.Deck) *models.Deck {
		return slides.UpdateAll(d, func(*models.Slide, int) models.SlidePatch {
			return models.SlidePatch{IsImageLoading: models.Bool(true)}
		})
	})

	failed := 0
	for index, slide := range deck.Slides {
		if err := ctx.Err(); err != nil {
			o.state.Update(func(d *models.Deck) *models.Deck {
				return slides.UpdateWhere(d, func(_ *models.Slide, i int) bool { return i >= index },
					models.SlidePatch{IsImageLoading: models.Bool(false)})
			})
			return err
		}

		focus := RemixFocuses[o.rng.IntN(len(RemixFocuses))]
		prompt, err := o.refiner.RefinePrompt(ctx, slide.ImagePrompt, focus)
		if err != nil {
			o.log.Warn("Remix refinement failed",
				zap.Int("index", index),
				zap.String("focus", string(focus)),
				zap.Error(err))
			o.state.UpdateSlideAt(index, models.ImageFailedPatch(errorMessage(err)))
			failed++
			continue
		}

		o.state.UpdateSlideAt(index, models.SlidePatch{ImagePrompt: models.String(prompt)})
		if err := o.GenerateSingle(ctx, index, prompt, deck.VisualStyle); err != nil {
			o.log.Warn("Remix generation failed", zap.Int("index", index), zap.Error(err))
			failed++
		}
	}

	if failed > 0 {
		o.log.Info("Remix finished with errors", zap.Int("failed", failed), zap.Int("slides", len(deck.Slides)))
	}
	return nil
}

// Remixing reports whether a remix is running
func (o *Orchestrator) Remixing() bool {
	return o.remixing.Load()
}

// Wait blocks until background work of every strategy has settled
func (o *Orchestrator) Wait(ctx context.Context) error {
	var errs []error
	for _, s := range o.strategies() {
		errs = append(errs, s.Wait(ctx))
	}
	return errors.Join(errs...)
}

// Close stops background work of every strategy
func (o *Orchestrator) Close() {
	for _, s := range o.strategies() {
		s.Close()
	}
}

func (o *Orchestrator) strategies() []Strategy {
	var out []Strategy
	for _, s := range []Strategy{o.selector.Sync, o.selector.Async, o.selector.Agent} {
		if s != nil {
			out = append(out, s)
		}
	}
	return out
}
