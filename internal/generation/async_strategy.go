package generation

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"slidegen/internal/models"
	"slidegen/internal/poller"
	"slidegen/internal/slides"
	"slidegen/internal/state"
)

const (
	DefaultPollInterval       = 3 * time.Second
	DefaultSinglePollInterval = 2 * time.Second
)

// AsyncConfig tunes the background job poller
type AsyncConfig struct {
	PollInterval       time.Duration
	SinglePollInterval time.Duration
	MaxPollInterval    time.Duration
	// MaxPollErrors gives up after that many consecutive failed ticks; 0 retries forever
	MaxPollErrors int
	Backoff       poller.Backoff
}

func (c AsyncConfig) withDefaults() AsyncConfig {
	if c.PollInterval <= 0 {
		c.PollInterval = DefaultPollInterval
	}
	if c.SinglePollInterval <= 0 {
		c.SinglePollInterval = DefaultSinglePollInterval
	}
	return c
}

// AsyncStrategy submits background jobs to the backend and polls their
// status until every slide resolves. At most one poll loop is active at a
// time; starting a new one stops the previous one.
type AsyncStrategy struct {
	state *state.DeckState
	batch BatchService
	cfg   AsyncConfig
	log   *zap.Logger

	ctx    context.Context
	cancel context.CancelFunc

	mu      sync.Mutex
	current *poller.Poller[*models.BatchStatus]
	// last is the most recently started poller, kept after it stops so
	// that Wait can observe its goroutine exiting
	last   *poller.Poller[*models.BatchStatus]
	gen    uint64
	closed bool
}

// NewAsyncStrategy creates an async strategy
func NewAsyncStrategy(st *state.DeckState, batch BatchService, cfg AsyncConfig, log *zap.Logger) *AsyncStrategy {
	if log == nil {
		log = zap.NewNop()
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &AsyncStrategy{
		state:  st,
		batch:  batch,
		cfg:    cfg.withDefaults(),
		log:    log.Named("async"),
		ctx:    ctx,
		cancel: cancel,
	}
}

// GenerateAll submits one batch job for the whole deck and starts polling
func (s *AsyncStrategy) GenerateAll(ctx context.Context, _ []*models.Slide, _, _ string, deckOverride *models.Deck) error {
	deck := deckOverride
	if deck == nil {
		deck = s.state.Get()
	}
	if deck == nil {
		return nil
	}

	s.stopPolling()

	s.state.Update(func(d *models.Deck) *models.Deck {
		return slides.UpdateAll(d, func(*models.Slide, int) models.SlidePatch {
			return models.SlidePatch{IsImageLoading: models.Bool(true)}
		})
	})

	sub, err := s.batch.SubmitBatch(ctx, deck.ID, nil)
	if err != nil {
		s.log.Error("Batch generation error", zap.String("deck_id", deck.ID), zap.Error(err))
		s.state.Update(func(d *models.Deck) *models.Deck {
			return slides.UpdateAll(d, func(*models.Slide, int) models.SlidePatch {
				return models.ImageFailedPatch(MsgStartFailed)
			})
		})
		return fmt.Errorf("submit batch: %w", err)
	}

	s.log.Info("Batch submitted", zap.String("deck_id", deck.ID), zap.Int("tasks", sub.TotalSlides))
	s.startPolling(deck.ID, s.cfg.PollInterval)
	return nil
}

// GenerateSingle queues regeneration of one slide with prompt and polls the
// deck status. The backend stores prompt on the slide before rendering.
func (s *AsyncStrategy) GenerateSingle(ctx context.Context, index int, prompt, _ string) error {
	deck := s.state.Get()
	slide := deck.SlideAt(index)
	if slide == nil {
		return nil
	}

	s.state.UpdateSlideAt(index, models.LoadingPatch())

	if _, err := s.batch.RegenerateSlide(ctx, deck.ID, slide.ID, prompt); err != nil {
		s.log.Error("Single image generation error",
			zap.String("deck_id", deck.ID),
			zap.String("slide_id", slide.ID),
			zap.Error(err))
		s.state.UpdateSlideAt(index, models.ImageFailedPatch(MsgStartFailed))
		return fmt.Errorf("regenerate slide: %w", err)
	}

	s.startPolling(deck.ID, s.cfg.SinglePollInterval)
	return nil
}

// Wait blocks until the most recent poll loop has finished
func (s *AsyncStrategy) Wait(ctx context.Context) error {
	s.mu.Lock()
	p := s.last
	s.mu.Unlock()

	if p == nil {
		return nil
	}
	return p.Wait(ctx)
}

// Close stops polling for good
func (s *AsyncStrategy) Close() {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()

	s.stopPolling()
	s.cancel()
}

// Polling reports whether a poll loop is active
func (s *AsyncStrategy) Polling() bool {
	s.mu.Lock()
	p := s.current
	s.mu.Unlock()
	return p != nil && p.Active()
}

func (s *AsyncStrategy) stopPolling() {
	s.mu.Lock()
	p := s.current
	s.current = nil
	s.gen++
	s.mu.Unlock()

	if p != nil {
		p.Stop()
	}
}

func (s *AsyncStrategy) startPolling(deckID string, interval time.Duration) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	prev := s.current
	s.current = nil
	s.gen++
	gen := s.gen
	s.mu.Unlock()

	if prev != nil {
		prev.Stop()
	}

	p := poller.Start(s.ctx, poller.Options[*models.BatchStatus]{
		Fetch: func(ctx context.Context) (*models.BatchStatus, error) {
			return s.batch.BatchStatus(ctx, deckID)
		},
		OnUpdate:   s.applyStatus,
		IsComplete: func(st *models.BatchStatus) bool { return st != nil && st.AllComplete },
		OnError: func(err error, count int) {
			s.log.Warn("Poll error", zap.String("deck_id", deckID), zap.Int("consecutive", count), zap.Error(err))
		},
		OnComplete: func(last *models.BatchStatus, reason poller.Reason) {
			s.onPollComplete(gen, deckID, last, reason)
		},
		Interval:    interval,
		MaxInterval: s.cfg.MaxPollInterval,
		MaxErrors:   s.cfg.MaxPollErrors,
		Backoff:     s.cfg.Backoff,
	})

	s.mu.Lock()
	s.last = p
	if s.gen != gen || s.closed {
		s.mu.Unlock()
		p.Stop()
		return
	}
	s.current = p
	s.mu.Unlock()
}

func (s *AsyncStrategy) applyStatus(status *models.BatchStatus) {
	if status == nil {
		return
	}
	s.state.Update(func(d *models.Deck) *models.Deck {
		return ApplyBatchStatus(d, status)
	})
	s.log.Debug("Batch status",
		zap.Int("completed", status.Completed),
		zap.Int("total", status.Total),
		zap.Bool("all_complete", status.AllComplete))
}

func (s *AsyncStrategy) onPollComplete(gen uint64, deckID string, last *models.BatchStatus, reason poller.Reason) {
	s.log.Debug("Polling finished", zap.String("deck_id", deckID), zap.String("reason", string(reason)))

	s.mu.Lock()
	stale := s.gen != gen
	s.mu.Unlock()

	if reason == poller.ReasonSuccess && !stale && last != nil {
		s.settleLeftovers(deckID, last)
	}

	if reason == poller.ReasonMaxErrors && !stale {
		s.log.Error("Max poll errors reached, stopping", zap.String("deck_id", deckID))
		s.state.Update(func(d *models.Deck) *models.Deck {
			return slides.UpdateWhere(d, func(sl *models.Slide, _ int) bool { return sl.IsImageLoading },
				models.SlidePatch{
					IsImageLoading: models.Bool(false),
					ImageError:     models.String(MsgLostContact),
					ImageTaskID:    models.String(""),
				})
		})
	}
}

// settleLeftovers ends loading on slides the final snapshot left unresolved.
// Slides the backend never queued (no prompt) report NONE and simply stop
// loading; slides still reported in flight will not be polled again and
// are marked failed.
func (s *AsyncStrategy) settleLeftovers(deckID string, last *models.BatchStatus) {
	s.state.Update(func(d *models.Deck) *models.Deck {
		return slides.UpdateAll(d, func(sl *models.Slide, _ int) models.SlidePatch {
			if !sl.IsImageLoading {
				return models.SlidePatch{}
			}
			switch st := last.SlideStatuses[sl.ID]; st.Status {
			case models.TaskPending, models.TaskStarted, models.TaskRetry:
				s.log.Warn("Batch reported complete with slide in flight",
					zap.String("deck_id", deckID),
					zap.String("slide_id", sl.ID),
					zap.String("status", string(st.Status)))
				return models.SlidePatch{
					IsImageLoading: models.Bool(false),
					ImageError:     models.String(MsgTaskFailed),
					ImageTaskID:    models.String(""),
				}
			case models.TaskNone, "":
				return models.SlidePatch{IsImageLoading: models.Bool(false)}
			}
			return models.SlidePatch{}
		})
	})
}
