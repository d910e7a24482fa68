package gemini

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"slidegen/internal/generation"
	"slidegen/internal/models"
)

// Agent defaults
const (
	DefaultAcceptanceThreshold = 70
	DefaultMaxIterations       = 3
	DefaultImageConcurrency    = 4

	fallbackScore = 30
)

// TextGenerator answers text prompts
type TextGenerator interface {
	GenerateText(ctx context.Context, prompt string, jsonOut bool) (string, error)
}

// ImageRenderer renders an enhanced image prompt
type ImageRenderer interface {
	RenderImage(ctx context.Context, prompt, style string, opts ImageOptions) (string, error)
}

// AgentConfig tunes the prompt agent
type AgentConfig struct {
	AcceptanceThreshold int
	MaxIterations       int
	// Sequential validates slides one after another instead of in parallel
	Sequential       bool
	ImageConcurrency int
}

func (c AgentConfig) withDefaults() AgentConfig {
	if c.AcceptanceThreshold <= 0 {
		c.AcceptanceThreshold = DefaultAcceptanceThreshold
	}
	if c.MaxIterations <= 0 {
		c.MaxIterations = DefaultMaxIterations
	}
	if c.ImageConcurrency <= 0 {
		c.ImageConcurrency = DefaultImageConcurrency
	}
	return c
}

// PromptAgent validates every slide prompt against the deck topic, rewrites
// prompts that score below the acceptance threshold, then renders all
// images. Progress is streamed to the sink as it happens.
type PromptAgent struct {
	text   TextGenerator
	images ImageRenderer
	cfg    AgentConfig
	log    *zap.Logger
}

// NewPromptAgent creates a prompt agent
func NewPromptAgent(text TextGenerator, images ImageRenderer, cfg AgentConfig, log *zap.Logger) *PromptAgent {
	if log == nil {
		log = zap.NewNop()
	}
	return &PromptAgent{
		text:   text,
		images: images,
		cfg:    cfg.withDefaults(),
		log:    log.Named("prompt_agent"),
	}
}

var _ generation.AgentPipeline = (*PromptAgent)(nil)

type keywords struct {
	Keywords       []string `json:"keywords"`
	VisualSubjects []string `json:"visualSubjects"`
	AvoidTerms     []string `json:"avoidTerms"`
}

type validation struct {
	IsValid     bool     `json:"isValid"`
	Score       int      `json:"score"`
	Issues      []string `json:"issues"`
	Suggestions []string `json:"suggestions"`
}

type rewrite struct {
	NewPrompt string `json:"newPrompt"`
	Reasoning string `json:"reasoning"`
}

type slideInput struct {
	Index   int
	Title   string
	Content []string
	Prompt  string
}

type slideOutcome struct {
	prompt     string
	iterations int
	refined    bool
	logs       []models.AgentLog
}

// run is the per-call state shared by the agent steps
type run struct {
	agent *PromptAgent
	req   models.AgentRequest
	sink  generation.EventSink
	kw    keywords

	mu sync.Mutex
}

func (r *run) emit(ev models.AgentEvent) {
	if r.sink == nil {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sink.Emit(ev)
}

// Run executes the agent over req.Slides
func (a *PromptAgent) Run(ctx context.Context, req models.AgentRequest, sink generation.EventSink) (*models.AgentResult, error) {
	start := time.Now()
	r := &run{agent: a, req: req, sink: sink}

	logs := []models.AgentLog{r.extractKeywords(ctx)}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	outcomes := make([]slideOutcome, len(req.Slides))
	if a.cfg.Sequential {
		for i := range req.Slides {
			outcomes[i] = r.processSlide(ctx, r.input(i))
		}
	} else {
		var g errgroup.Group
		for i := range req.Slides {
			g.Go(func() error {
				outcomes[i] = r.processSlide(ctx, r.input(i))
				return nil
			})
		}
		_ = g.Wait()
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	refined, iterations := 0, 0
	for _, o := range outcomes {
		logs = append(logs, o.logs...)
		iterations += o.iterations
		if o.refined {
			refined++
		}
	}
	sort.SliceStable(logs, func(i, j int) bool {
		if logs[i].SlideIndex != logs[j].SlideIndex {
			return logs[i].SlideIndex < logs[j].SlideIndex
		}
		return logs[i].Timestamp.Before(logs[j].Timestamp)
	})

	result := &models.AgentResult{
		Images: make([]string, len(req.Slides)),
		Logs:   logs,
	}
	var errMu sync.Mutex

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(a.cfg.ImageConcurrency)
	for i, o := range outcomes {
		g.Go(func() error {
			url, err := a.images.RenderImage(gctx, o.prompt, req.VisualStyle, ImageOptions{Topic: req.Topic, NoText: true})
			if err != nil {
				errMu.Lock()
				result.Errors = append(result.Errors, models.AgentSlideError{SlideIndex: i, Error: err.Error()})
				errMu.Unlock()
				r.emit(models.ErrorEvent(i, err))
				return nil
			}
			result.Images[i] = url
			r.emit(models.ImageEvent(i, url))
			return nil
		})
	}
	_ = g.Wait()

	sort.Slice(result.Errors, func(i, j int) bool { return result.Errors[i].SlideIndex < result.Errors[j].SlideIndex })
	result.TotalDuration = time.Since(start)

	a.log.Info("Prompt agent finished",
		zap.Int("slides", len(req.Slides)),
		zap.Int("refined", refined),
		zap.Int("iterations", iterations),
		zap.Int("errors", len(result.Errors)),
		zap.Duration("duration", result.TotalDuration))
	return result, nil
}

func (r *run) input(i int) slideInput {
	s := r.req.Slides[i]
	return slideInput{Index: i, Title: s.Title, Content: s.Content, Prompt: s.ImagePrompt}
}

func (r *run) extractKeywords(ctx context.Context) models.AgentLog {
	start := time.Now()
	text, err := r.agent.text.GenerateText(ctx, keywordsPrompt(r.req.Topic), true)
	if err == nil {
		r.kw, err = parseJSON[keywords](text)
	}

	entry := models.AgentLog{
		SlideIndex: models.GlobalSlideIndex,
		Action:     models.ActionExtractKeywords,
		Input:      r.req.Topic,
	}
	if err != nil {
		r.agent.log.Warn("Failed to extract topic keywords", zap.Error(err))
		r.kw = keywords{Keywords: fallbackKeywords(r.req.Topic)}
		entry.Reasoning = "Keyword extraction failed, using topic words"
	} else {
		entry.Reasoning = fmt.Sprintf("Extracted %d keywords, %d visual subjects", len(r.kw.Keywords), len(r.kw.VisualSubjects))
	}
	out, _ := json.Marshal(r.kw)
	entry.Output = string(out)
	entry.Timestamp = time.Now()
	entry.Duration = time.Since(start)

	r.emit(models.LogEvent(entry))
	return entry
}

func fallbackKeywords(topic string) []string {
	var out []string
	for _, w := range strings.Fields(topic) {
		if len(w) > 3 {
			out = append(out, w)
		}
	}
	return out
}

func (r *run) processSlide(ctx context.Context, slide slideInput) slideOutcome {
	cfg := r.agent.cfg
	o := slideOutcome{prompt: slide.Prompt}
	score := 0
	finalized := false
	iteration := 0

	record := func(entry models.AgentLog) {
		entry.SlideIndex = slide.Index
		entry.Timestamp = time.Now()
		o.logs = append(o.logs, entry)
		r.emit(models.LogEvent(entry))
	}

	for ; iteration < cfg.MaxIterations; iteration++ {
		if ctx.Err() != nil {
			break
		}

		start := time.Now()
		v := r.validate(ctx, o.prompt, slide)
		score = v.Score
		out, _ := json.Marshal(v)
		record(models.AgentLog{
			Iteration: iteration,
			Action:    models.ActionValidate,
			Input:     o.prompt,
			Output:    string(out),
			Reasoning: fmt.Sprintf("Score: %d/100", v.Score),
			Duration:  time.Since(start),
		})

		if v.IsValid && v.Score >= cfg.AcceptanceThreshold {
			record(models.AgentLog{
				Iteration: iteration,
				Action:    models.ActionFinalize,
				Input:     o.prompt,
				Output:    o.prompt,
				Reasoning: fmt.Sprintf("Accepted with score %d/100", v.Score),
			})
			finalized = true
			break
		}

		o.refined = true
		start = time.Now()
		rw, err := r.rewrite(ctx, o.prompt, v.Issues, slide)
		if err != nil {
			r.agent.log.Warn("Rewrite failed", zap.Int("slide", slide.Index), zap.Error(err))
			record(models.AgentLog{
				Iteration: iteration,
				Action:    models.ActionFinalize,
				Input:     o.prompt,
				Output:    o.prompt,
				Reasoning: "Rewrite failed, using current prompt",
				Duration:  time.Since(start),
			})
			finalized = true
			break
		}
		record(models.AgentLog{
			Iteration: iteration,
			Action:    models.ActionRewrite,
			Input:     o.prompt,
			Output:    rw.NewPrompt,
			Reasoning: rw.Reasoning,
			Duration:  time.Since(start),
		})
		o.prompt = rw.NewPrompt
	}

	if !finalized {
		record(models.AgentLog{
			Iteration: iteration,
			Action:    models.ActionFinalize,
			Input:     o.prompt,
			Output:    o.prompt,
			Reasoning: fmt.Sprintf("Max iterations (%d) reached with score %d/100", cfg.MaxIterations, score),
		})
	}
	o.iterations = min(iteration+1, cfg.MaxIterations)
	return o
}

// validate scores prompt. A failed model call counts as a low score so
// that the prompt gets rewritten.
func (r *run) validate(ctx context.Context, prompt string, slide slideInput) validation {
	text, err := r.agent.text.GenerateText(ctx, validatePrompt(prompt, r.req.Topic, slide, r.kw), true)
	var v validation
	if err == nil {
		v, err = parseJSON[validation](text)
	}
	if err != nil {
		r.agent.log.Warn("Validation failed", zap.Int("slide", slide.Index), zap.Error(err))
		return validation{
			Score:       fallbackScore,
			Issues:      []string{"Validation request failed"},
			Suggestions: []string{"Try rewriting the prompt"},
		}
	}
	v.IsValid = v.Score >= r.agent.cfg.AcceptanceThreshold
	return v
}

func (r *run) rewrite(ctx context.Context, prompt string, issues []string, slide slideInput) (rewrite, error) {
	text, err := r.agent.text.GenerateText(ctx, rewritePrompt(prompt, r.req.Topic, r.req.VisualStyle, issues, slide), true)
	if err != nil {
		return rewrite{}, err
	}
	rw, err := parseJSON[rewrite](text)
	if err != nil {
		return rewrite{}, err
	}
	if strings.TrimSpace(rw.NewPrompt) == "" {
		return rewrite{}, fmt.Errorf("empty rewritten prompt")
	}
	return rw, nil
}
