// Package reconcile merges a freshly fetched deck into the locally held
// copy without losing images or loading state produced since the fetch
// was issued.
package reconcile

import (
	"slices"

	"go.uber.org/zap"

	"slidegen/internal/models"
	"slidegen/internal/state"
)

// Merge combines a server snapshot with the local deck. The slide list and
// deck metadata come from server. For slides known locally, a local image
// survives when the server has none, and loading stays on only while the
// local slide was loading and the server still has no image.
func Merge(local, server *models.Deck) *models.Deck {
	if server == nil {
		return local
	}
	if local == nil {
		return server
	}

	byID := make(map[string]*models.Slide, len(local.Slides))
	for _, s := range local.Slides {
		byID[s.ID] = s
	}

	out := *server
	out.Slides = make([]*models.Slide, len(server.Slides))
	for i, ss := range server.Slides {
		ls, ok := byID[ss.ID]
		if !ok {
			out.Slides[i] = ss
			continue
		}
		out.Slides[i] = mergeSlide(ls, ss)
	}
	return &out
}

func mergeSlide(local, server *models.Slide) *models.Slide {
	merged := *server
	if merged.ImageURL == "" {
		merged.ImageURL = local.ImageURL
	}
	merged.IsImageLoading = local.IsImageLoading && server.ImageURL == ""

	if equal(&merged, local) {
		return local
	}
	return &merged
}

func equal(a, b *models.Slide) bool {
	return a.ID == b.ID &&
		a.Title == b.Title &&
		slices.Equal(a.Content, b.Content) &&
		a.ImagePrompt == b.ImagePrompt &&
		a.ImageURL == b.ImageURL &&
		a.LayoutVariant == b.LayoutVariant &&
		a.IsImageLoading == b.IsImageLoading &&
		a.ImageError == b.ImageError &&
		a.ImageTaskID == b.ImageTaskID
}

// Hooks receive deck-level metadata after every reconciliation.
// Nil hooks are skipped.
type Hooks struct {
	OnTheme    func(theme models.Theme)
	OnViewMode func(mode models.ViewMode)
	OnLayout   func(layout string)
}

// Reconciler applies fetched snapshots to a deck state
type Reconciler struct {
	state  *state.DeckState
	themes map[string]models.Theme
	hooks  Hooks
	log    *zap.Logger
}

// New creates a reconciler. themes is the catalog theme ids are resolved against.
func New(st *state.DeckState, themes []models.Theme, hooks Hooks, log *zap.Logger) *Reconciler {
	if log == nil {
		log = zap.NewNop()
	}
	catalog := make(map[string]models.Theme, len(themes))
	for _, t := range themes {
		catalog[t.ID] = t
	}
	return &Reconciler{
		state:  st,
		themes: catalog,
		hooks:  hooks,
		log:    log.Named("reconcile"),
	}
}

// Apply merges server into the state and pushes its metadata to the hooks.
// It returns the merged deck.
func (r *Reconciler) Apply(server *models.Deck) *models.Deck {
	if server == nil {
		return r.state.Get()
	}

	merged := r.state.Update(func(local *models.Deck) *models.Deck {
		if local != nil && local.ID != server.ID {
			return server
		}
		return Merge(local, server)
	})

	r.log.Debug("Deck reconciled",
		zap.String("deck_id", server.ID),
		zap.Int("slides", len(server.Slides)))

	if server.ViewMode != "" && r.hooks.OnViewMode != nil {
		r.hooks.OnViewMode(server.ViewMode)
	}
	if server.Layout != "" && r.hooks.OnLayout != nil {
		r.hooks.OnLayout(server.Layout)
	}
	if server.ThemeID != "" && r.hooks.OnTheme != nil {
		if theme, ok := r.themes[server.ThemeID]; ok {
			r.hooks.OnTheme(theme)
		} else {
			r.log.Warn("Unknown theme", zap.String("theme_id", server.ThemeID))
		}
	}
	return merged
}
