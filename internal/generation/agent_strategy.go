package generation

import (
	"context"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"slidegen/internal/indexmap"
	"slidegen/internal/models"
	"slidegen/internal/slides"
	"slidegen/internal/state"
)

const agentEventBuffer = 64

// AgentStrategy hands the slides still missing an image to an agent
// pipeline and merges the events it streams back into the deck
type AgentStrategy struct {
	state     *state.DeckState
	pipeline  AgentPipeline
	creds     CredentialChecker
	persister SlidePersister
	observer  AgentObserver
	log       *zap.Logger

	mu   sync.Mutex
	logs []models.AgentLog
}

// NewAgentStrategy creates an agent strategy. observer and persister may be nil.
func NewAgentStrategy(st *state.DeckState, pipeline AgentPipeline, creds CredentialChecker, persister SlidePersister, observer AgentObserver, log *zap.Logger) *AgentStrategy {
	if observer == nil {
		observer = NopObserver{}
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &AgentStrategy{
		state:     st,
		pipeline:  pipeline,
		creds:     creds,
		persister: persister,
		observer:  observer,
		log:       log.Named("agent"),
	}
}

// Logs returns the log history of the last successful run
func (s *AgentStrategy) Logs() []models.AgentLog {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]models.AgentLog(nil), s.logs...)
}

// GenerateAll runs the pipeline over the slides of items that have no image
func (s *AgentStrategy) GenerateAll(ctx context.Context, items []*models.Slide, style, topic string, deckOverride *models.Deck) error {
	deck := deckOverride
	if deck == nil {
		deck = s.state.Get()
	}
	if deck == nil {
		return nil
	}

	m := indexmap.Build(items, indexmap.NeedsImage)
	if m.Len() == 0 {
		s.log.Debug("All slides already have images, skipping generation")
		return nil
	}
	targets := m.Select(items)

	if topic == "" {
		topic = deck.Topic
	}
	req := models.AgentRequest{
		Topic:       topic,
		Slides:      make([]models.SlideDescriptor, len(targets)),
		VisualStyle: style,
		ThemeID:     deck.ThemeID,
	}
	for i, t := range targets {
		req.Slides[i] = models.SlideDescriptor{
			Title:       t.Title,
			Content:     t.Content,
			ImagePrompt: t.ImagePrompt,
		}
	}

	if err := s.creds.EnsureAPIKeySelection(ctx); err != nil {
		return s.abort(targets, fmt.Errorf("ensure api key: %w", err))
	}

	s.observer.OnAgentStart(len(targets))
	s.state.Update(func(d *models.Deck) *models.Deck {
		return slides.UpdateByIDs(d, slideIDs(targets), models.SlidePatch{IsImageLoading: models.Bool(true)})
	})

	d := &dispatcher{
		strategy: s,
		ctx:      ctx,
		deckID:   deck.ID,
		index:    m,
		targets:  targets,
	}
	sink := newChannelSink(agentEventBuffer)
	done := make(chan struct{})
	go func() {
		defer close(done)
		for ev := range sink.events {
			d.handle(ev)
		}
	}()

	result, err := s.pipeline.Run(ctx, req, sink)
	sink.close()
	<-done

	if err != nil {
		return s.abort(targets, fmt.Errorf("agent pipeline: %w", err))
	}

	var logs []models.AgentLog
	if result != nil {
		logs = result.Logs
		s.log.Info("Agent completed",
			zap.Duration("duration", result.TotalDuration),
			zap.Int("errors", len(result.Errors)))
	}

	s.mu.Lock()
	s.logs = logs
	s.mu.Unlock()

	s.observer.OnAgentLogs(logs)
	s.observer.OnAgentComplete()
	return nil
}

// GenerateSingle is not supported by the agent pipeline; callers pair the
// agent with a transport strategy for single slides
func (s *AgentStrategy) GenerateSingle(context.Context, int, string, string) error {
	return fmt.Errorf("agent strategy: single slide generation not supported")
}

// Wait returns immediately: GenerateAll settles the pipeline before returning
func (s *AgentStrategy) Wait(context.Context) error { return nil }

// Close is a no-op for the agent strategy
func (s *AgentStrategy) Close() {}

func (s *AgentStrategy) abort(targets []*models.Slide, err error) error {
	s.log.Error("Agent generation error", zap.Error(err))
	s.observer.OnAgentComplete()
	failSlides(s.state, targets, MsgBatchFailed)
	return err
}

// dispatcher is the single consumer of one run's events
type dispatcher struct {
	strategy *AgentStrategy
	ctx      context.Context
	deckID   string
	index    indexmap.Map
	targets  []*models.Slide
}

func (d *dispatcher) handle(ev models.AgentEvent) {
	s := d.strategy
	switch ev.Kind {
	case models.AgentEventLog:
		log := ev.Log
		if log.SlideIndex != models.GlobalSlideIndex {
			log.SlideIndex = d.index.Original(log.SlideIndex)
		}
		s.log.Debug("Agent activity",
			zap.Int("slide", log.SlideIndex),
			zap.String("action", string(log.Action)))
		s.observer.OnAgentActivity(log)

	case models.AgentEventImage:
		orig := d.index.Original(ev.SlideIndex)
		s.state.UpdateSlideAt(orig, models.ImageReadyPatch(ev.ImageURL))
		s.observer.OnImageGenerated(orig, ev.ImageURL)
		persistImage(d.ctx, s.persister, s.log, d.deckID, d.targets[ev.SlideIndex].ID, ev.ImageURL)

	case models.AgentEventError:
		orig := d.index.Original(ev.SlideIndex)
		s.state.UpdateSlideAt(orig, models.ImageFailedPatch(errorMessage(ev.Err)))
	}
}

// channelSink forwards events to the dispatcher. Events emitted after
// close are dropped.
type channelSink struct {
	mu     sync.RWMutex
	closed bool
	events chan models.AgentEvent
}

func newChannelSink(size int) *channelSink {
	return &channelSink{events: make(chan models.AgentEvent, size)}
}

func (c *channelSink) Emit(ev models.AgentEvent) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.closed {
		return
	}
	c.events <- ev
}

func (c *channelSink) close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.closed {
		c.closed = true
		close(c.events)
	}
}

func slideIDs(items []*models.Slide) []string {
	ids := make([]string, len(items))
	for i, s := range items {
		ids[i] = s.ID
	}
	return ids
}
