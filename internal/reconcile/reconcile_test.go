package reconcile

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"slidegen/internal/models"
	"slidegen/internal/state"
)

func deckWith(slides ...*models.Slide) *models.Deck {
	return &models.Deck{ID: "d1", Topic: "t", Slides: slides}
}

func TestMerge_KeepsLocalImageWhileServerHasNone(t *testing.T) {
	local := deckWith(&models.Slide{ID: "s1", ImageURL: "local.png", IsImageLoading: true})
	server := deckWith(&models.Slide{ID: "s1"})

	out := Merge(local, server)

	require.Len(t, out.Slides, 1)
	assert.Equal(t, "local.png", out.Slides[0].ImageURL)
	assert.True(t, out.Slides[0].IsImageLoading)
}

func TestMerge_ServerImageEndsLoading(t *testing.T) {
	local := deckWith(&models.Slide{ID: "s1", ImageURL: "local.png", IsImageLoading: true})
	server := deckWith(&models.Slide{ID: "s1", ImageURL: "server.png"})

	out := Merge(local, server)

	assert.Equal(t, "server.png", out.Slides[0].ImageURL)
	assert.False(t, out.Slides[0].IsImageLoading)
}

func TestMerge_ServerLoadingFlagIgnored(t *testing.T) {
	local := deckWith(&models.Slide{ID: "s1"})
	server := deckWith(&models.Slide{ID: "s1", IsImageLoading: true})

	out := Merge(local, server)
	assert.False(t, out.Slides[0].IsImageLoading)
}

func TestMerge_ServerOnlySlidesTakenAsIs(t *testing.T) {
	fresh := &models.Slide{ID: "s2", Title: "New", ImageURL: "x.png"}
	local := deckWith(&models.Slide{ID: "s1"}, &models.Slide{ID: "gone"})
	server := deckWith(&models.Slide{ID: "s1"}, fresh)
	server.ThemeID = "noir"
	server.ViewMode = models.ViewModeGrid

	out := Merge(local, server)

	require.Len(t, out.Slides, 2)
	assert.Same(t, fresh, out.Slides[1])
	assert.Equal(t, "noir", out.ThemeID)
	assert.Equal(t, models.ViewModeGrid, out.ViewMode)
	assert.Len(t, local.Slides, 2, "input must not be mutated")
}

func TestMerge_UnchangedSlidesKeepIdentity(t *testing.T) {
	s := &models.Slide{ID: "s1", Title: "A", Content: []string{"x"}, ImageURL: "a.png"}
	local := deckWith(s)
	server := deckWith(&models.Slide{ID: "s1", Title: "A", Content: []string{"x"}, ImageURL: "a.png"})

	out := Merge(local, server)
	assert.Same(t, s, out.Slides[0])
}

func TestMerge_NilSides(t *testing.T) {
	server := deckWith(&models.Slide{ID: "s1"})
	assert.Same(t, server, Merge(nil, server))

	local := deckWith()
	assert.Same(t, local, Merge(local, nil))
}

func TestReconciler_ApplyHydratesHooks(t *testing.T) {
	st := state.New(deckWith(&models.Slide{ID: "s1", ImageURL: "local.png"}))

	var theme models.Theme
	var view models.ViewMode
	var layout string
	r := New(st, []models.Theme{{ID: "noir", Name: "Noir"}}, Hooks{
		OnTheme:    func(th models.Theme) { theme = th },
		OnViewMode: func(m models.ViewMode) { view = m },
		OnLayout:   func(l string) { layout = l },
	}, zap.NewNop())

	server := deckWith(&models.Slide{ID: "s1"})
	server.ThemeID = "noir"
	server.ViewMode = models.ViewModePresent
	server.Layout = "asymmetric"

	out := r.Apply(server)

	assert.Same(t, out, st.Get())
	assert.Equal(t, "local.png", out.Slides[0].ImageURL)
	assert.Equal(t, "Noir", theme.Name)
	assert.Equal(t, models.ViewModePresent, view)
	assert.Equal(t, "asymmetric", layout)
}

func TestReconciler_UnknownThemeNotPushed(t *testing.T) {
	st := state.New(nil)
	called := false
	r := New(st, nil, Hooks{OnTheme: func(models.Theme) { called = true }}, nil)

	server := deckWith()
	server.ThemeID = "missing"
	r.Apply(server)

	assert.False(t, called)
	assert.Same(t, server, st.Get())
}

func TestReconciler_DifferentDeckReplacesState(t *testing.T) {
	st := state.New(deckWith(&models.Slide{ID: "s1", ImageURL: "local.png"}))
	r := New(st, nil, Hooks{}, nil)

	other := &models.Deck{ID: "d2", Slides: []*models.Slide{{ID: "s1"}}}
	out := r.Apply(other)

	assert.Same(t, other, out)
	assert.Empty(t, out.Slides[0].ImageURL)
}
