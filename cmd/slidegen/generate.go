package main

import (
	"fmt"
	"io"
	"sync"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"slidegen/internal/gemini"
	"slidegen/internal/generation"
	"slidegen/internal/models"
	"slidegen/internal/reconcile"
	"slidegen/internal/session"
)

var (
	generateMode   string
	generateAgent  bool
	generateSlide  int
	generateVaried bool
	generateRemix  bool
	generateFollow bool
)

var generateCmd = &cobra.Command{
	Use:   "generate <deck-id>",
	Short: "Generate slide images for a deck",
	Long: `Generates images for every slide of a deck, or for one slide with --slide.

The transport follows generation.mode: sync calls the model directly,
async queues background tasks on the backend and polls them, auto picks
async when an API token is configured. --agent validates and rewrites the
prompts before rendering. --follow also refreshes the whole deck from the
backend while images render, so edits made elsewhere show up.`,
	Args: cobra.ExactArgs(1),
	RunE: runGenerate,
}

func init() {
	generateCmd.Flags().StringVar(&generateMode, "mode", "", "Override generation mode (sync, async, auto)")
	generateCmd.Flags().BoolVar(&generateAgent, "agent", false, "Run deck-wide generation through the prompt agent")
	generateCmd.Flags().IntVar(&generateSlide, "slide", -1, "Regenerate only the slide at this index")
	generateCmd.Flags().BoolVar(&generateVaried, "varied", false, "Refine the slide prompt before regenerating (with --slide)")
	generateCmd.Flags().BoolVar(&generateRemix, "remix", false, "Refine every prompt and regenerate slide by slide")
	generateCmd.Flags().BoolVar(&generateFollow, "follow", false, "Refresh the deck from the backend until generation settles")
	generateCmd.MarkFlagsMutuallyExclusive("slide", "remix")
}

func runGenerate(cmd *cobra.Command, args []string) error {
	ctx, cancel := commandContext(cmd)
	defer cancel()

	if cmd.Flags().Changed("mode") {
		cfg.Generation.Mode = generateMode
	}
	if cmd.Flags().Changed("agent") {
		cfg.Generation.AgentMode = generateAgent
	}

	var model session.Model
	if cfg.Gemini.APIKey != "" {
		client, err := gemini.NewClient(ctx, gemini.Config{
			APIKey:      cfg.Gemini.APIKey,
			ImageModels: cfg.Gemini.ImageModels,
			TextModel:   cfg.Gemini.TextModel,
			ImageSize:   cfg.Gemini.ImageSize,
		}, logger)
		if err != nil {
			return fmt.Errorf("failed to create gemini client: %w", err)
		}
		model = client
	}

	out := cmd.OutOrStdout()
	progress := newProgress(out)
	s, err := session.New(session.Deps{
		Config:   cfg,
		Remote:   newAPIClient(),
		Model:    model,
		Observer: progress,
		Hooks: reconcile.Hooks{
			OnTheme: func(t models.Theme) { logger.Debug("Deck theme", zap.String("theme", t.ID)) },
		},
	}, logger)
	if err != nil {
		return err
	}
	defer s.Close()

	deck, err := s.Load(ctx, args[0])
	if err != nil {
		return err
	}
	progress.seed(deck)
	unsubscribe := s.State.Subscribe(progress.onDeck)
	defer unsubscribe()

	fmt.Fprintf(out, "%s %q, %d slides, %s mode\n",
		progress.p.header("Generating"), deck.Topic, len(deck.Slides), s.Orchestrator.Mode())

	switch {
	case generateRemix:
		err = s.Orchestrator.RemixDeck(ctx)
	case generateSlide >= 0:
		if deck.SlideAt(generateSlide) == nil {
			return fmt.Errorf("slide %d out of range (deck has %d slides)", generateSlide, len(deck.Slides))
		}
		mode := generation.RegenerateSame
		if generateVaried {
			mode = generation.RegenerateVaried
		}
		err = s.Orchestrator.RegenerateSlideImage(ctx, generateSlide, mode)
	default:
		err = s.Orchestrator.RegenerateAllImages(ctx)
	}
	if err != nil {
		return err
	}
	if generateFollow {
		follower := s.Follow(ctx, cfg.GetPollInterval())
		defer follower.Stop()
		if err := s.Wait(ctx); err != nil {
			return err
		}
		if err := follower.Wait(ctx); err != nil {
			return err
		}
	} else if err := s.Wait(ctx); err != nil {
		return err
	}

	failed := 0
	for _, slide := range s.State.Get().Slides {
		if slide.ImageError != "" {
			failed++
		}
	}
	if failed > 0 {
		return fmt.Errorf("%d of %d slides failed", failed, len(deck.Slides))
	}
	fmt.Fprintln(out, progress.p.render(doneStyle, "All images generated"))
	return nil
}

// progress prints slide transitions and agent activity as they happen
type progress struct {
	generation.NopObserver

	mu   sync.Mutex
	w    io.Writer
	p    painter
	last map[string]string
}

func newProgress(w io.Writer) *progress {
	return &progress{w: w, p: newPainter(w), last: make(map[string]string)}
}

func (pr *progress) seed(deck *models.Deck) {
	pr.mu.Lock()
	defer pr.mu.Unlock()
	for _, s := range deck.Slides {
		pr.last[s.ID] = pr.p.slideState(s)
	}
}

func (pr *progress) onDeck(deck *models.Deck) {
	if deck == nil {
		return
	}
	pr.mu.Lock()
	defer pr.mu.Unlock()
	for i, s := range deck.Slides {
		state := pr.p.slideState(s)
		if pr.last[s.ID] == state {
			continue
		}
		pr.last[s.ID] = state
		fmt.Fprintf(pr.w, "  slide %d %q: %s\n", i, s.Title, state)
	}
}

func (pr *progress) OnAgentStart(total int) {
	pr.printf("  agent: validating %d prompts\n", total)
}

func (pr *progress) OnAgentActivity(l models.AgentLog) {
	if l.SlideIndex == models.GlobalSlideIndex {
		pr.printf("  agent: %s\n", l.Action)
		return
	}
	pr.printf("  agent: slide %d %s (iteration %d)\n", l.SlideIndex, l.Action, l.Iteration)
}

func (pr *progress) OnAgentComplete() {
	pr.printf("  agent: done\n")
}

func (pr *progress) printf(format string, args ...any) {
	pr.mu.Lock()
	defer pr.mu.Unlock()
	fmt.Fprintf(pr.w, format, args...)
}
