package generation

import (
	"context"
	"errors"
	"fmt"

	"slidegen/internal/models"
)

// Mode is the configured generation transport
type Mode string

const (
	ModeSync  Mode = "sync"
	ModeAsync Mode = "async"
	ModeAuto  Mode = "auto"
)

// ParseMode validates a configured mode string
func ParseMode(s string) (Mode, error) {
	switch m := Mode(s); m {
	case ModeSync, ModeAsync, ModeAuto:
		return m, nil
	case "":
		return ModeAuto, nil
	}
	return "", fmt.Errorf("unknown generation mode %q", s)
}

// ResolveMode picks the transport for one operation. Explicit modes are
// honored; auto selects async only when the session holds backend tokens.
func ResolveMode(configured Mode, tokens SessionTokens) Mode {
	switch configured {
	case ModeSync, ModeAsync:
		return configured
	}
	if tokens != nil && tokens.HasTokens() {
		return ModeAsync
	}
	return ModeSync
}

// Selector chooses the strategy an operation runs through
type Selector struct {
	Mode Mode
	// AgentMode delegates deck-wide generation to Agent
	AgentMode bool
	Tokens    SessionTokens

	Sync  Strategy
	Async Strategy
	Agent Strategy
}

// Resolved returns the transport mode the next operation would use
func (s Selector) Resolved() Mode {
	mode := ResolveMode(s.Mode, s.Tokens)
	if mode == ModeAsync && s.Async == nil {
		return ModeSync
	}
	if mode == ModeSync && s.Sync == nil && s.Async != nil {
		return ModeAsync
	}
	return mode
}

// Select returns the one strategy the current operation uses
func (s Selector) Select() Strategy {
	transport := s.Sync
	if s.Resolved() == ModeAsync {
		transport = s.Async
	}
	if s.AgentMode && s.Agent != nil {
		return &agentComposite{agent: s.Agent, transport: transport}
	}
	return transport
}

// agentComposite sends deck-wide work to the agent pipeline and single
// slides through the transport strategy
type agentComposite struct {
	agent     Strategy
	transport Strategy
}

func (c *agentComposite) GenerateAll(ctx context.Context, items []*models.Slide, style, topic string, deckOverride *models.Deck) error {
	return c.agent.GenerateAll(ctx, items, style, topic, deckOverride)
}

func (c *agentComposite) GenerateSingle(ctx context.Context, index int, prompt, style string) error {
	return c.transport.GenerateSingle(ctx, index, prompt, style)
}

func (c *agentComposite) Wait(ctx context.Context) error {
	return errors.Join(c.agent.Wait(ctx), c.transport.Wait(ctx))
}

func (c *agentComposite) Close() {
	c.agent.Close()
	c.transport.Close()
}
