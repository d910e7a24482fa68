package gemini

import (
	"context"
	"errors"
)

// ErrNoAPIKey is returned when no Gemini API key is configured
var ErrNoAPIKey = errors.New("no Gemini API key configured (set GEMINI_API_KEY)")

// Credentials gates direct model calls on a configured API key
type Credentials struct {
	APIKey string
}

// EnsureAPIKeySelection fails when no key is available
func (c Credentials) EnsureAPIKeySelection(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if c.APIKey == "" {
		return ErrNoAPIKey
	}
	return nil
}
