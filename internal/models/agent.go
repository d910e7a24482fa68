package models

import "time"

// AgentAction names a step of the prompt agent
type AgentAction string

const (
	ActionExtractKeywords AgentAction = "extract_keywords"
	ActionValidate        AgentAction = "validate"
	ActionRewrite         AgentAction = "rewrite"
	ActionFinalize        AgentAction = "finalize"
	ActionGenerate        AgentAction = "generate"
)

// GlobalSlideIndex marks a log entry that is not tied to a slide
const GlobalSlideIndex = -1

// AgentLog is one reasoning step recorded by the agent pipeline
type AgentLog struct {
	SlideIndex int           `json:"slideIndex"`
	Iteration  int           `json:"iteration"`
	Action     AgentAction   `json:"action"`
	Input      string        `json:"input"`
	Output     string        `json:"output"`
	Reasoning  string        `json:"reasoning"`
	Timestamp  time.Time     `json:"timestamp"`
	Duration   time.Duration `json:"duration"`
}

// SlideDescriptor is the slide data handed to the agent pipeline
type SlideDescriptor struct {
	Title       string   `json:"title"`
	Content     []string `json:"content"`
	ImagePrompt string   `json:"imagePrompt"`
}

// AgentRequest is the input of one agent pipeline run
type AgentRequest struct {
	Topic       string
	Slides      []SlideDescriptor
	VisualStyle string
	ThemeID     string
}

// AgentSlideError records a slide the pipeline could not produce an image for
type AgentSlideError struct {
	SlideIndex int    `json:"slideIndex"`
	Error      string `json:"error"`
}

// AgentResult is returned once the pipeline settles
type AgentResult struct {
	Images        []string          `json:"images"`
	Logs          []AgentLog        `json:"agentLogs"`
	Errors        []AgentSlideError `json:"errors"`
	TotalDuration time.Duration     `json:"totalDuration"`
}

// AgentEventKind discriminates AgentEvent
type AgentEventKind int

const (
	AgentEventLog AgentEventKind = iota
	AgentEventImage
	AgentEventError
)

func (k AgentEventKind) String() string {
	switch k {
	case AgentEventLog:
		return "log"
	case AgentEventImage:
		return "image"
	case AgentEventError:
		return "error"
	}
	return "unknown"
}

// AgentEvent is streamed by the pipeline while it runs. SlideIndex is the
// position in the request's slide list, not in the deck.
type AgentEvent struct {
	Kind       AgentEventKind
	SlideIndex int
	Log        AgentLog
	ImageURL   string
	Err        error
}

// LogEvent builds a log event
func LogEvent(log AgentLog) AgentEvent {
	return AgentEvent{Kind: AgentEventLog, SlideIndex: log.SlideIndex, Log: log}
}

// ImageEvent builds an image-ready event
func ImageEvent(index int, url string) AgentEvent {
	return AgentEvent{Kind: AgentEventImage, SlideIndex: index, ImageURL: url}
}

// ErrorEvent builds a per-slide error event
func ErrorEvent(index int, err error) AgentEvent {
	return AgentEvent{Kind: AgentEventError, SlideIndex: index, Err: err}
}
