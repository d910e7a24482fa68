package session_test

import (
	"context"
	"encoding/base64"
	"errors"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"slidegen/internal/apiclient"
	"slidegen/internal/config"
	"slidegen/internal/db"
	"slidegen/internal/gemini"
	"slidegen/internal/generation"
	"slidegen/internal/handlers"
	"slidegen/internal/models"
	"slidegen/internal/reconcile"
	"slidegen/internal/services"
	"slidegen/internal/session"
)

type pngGenerator struct{}

func (pngGenerator) GenerateImage(context.Context, string, string) (string, error) {
	return "data:image/png;base64," + base64.StdEncoding.EncodeToString([]byte("png")), nil
}

// fakeModel answers every model call locally
type fakeModel struct {
	mu      sync.Mutex
	refined []string
}

func (m *fakeModel) GenerateImage(_ context.Context, prompt, style string) (string, error) {
	return "img://" + prompt + "/" + style, nil
}

func (m *fakeModel) RefinePrompt(_ context.Context, prompt string, _ generation.RefinementFocus) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.refined = append(m.refined, prompt)
	return prompt + ", golden hour", nil
}

func (m *fakeModel) GenerateText(context.Context, string, bool) (string, error) {
	return "", errors.New("not scripted")
}

func (m *fakeModel) RenderImage(_ context.Context, prompt, style string, _ gemini.ImageOptions) (string, error) {
	return "img://" + prompt + "/" + style, nil
}

func newRemote(t *testing.T, token string) *apiclient.Client {
	t.Helper()
	log := zap.NewNop()
	database, err := db.Open(filepath.Join(t.TempDir(), "session.db"), log)
	require.NoError(t, err)

	dataDir := t.TempDir()
	store := services.NewPresentationStore(database, dataDir, log)
	hub := services.NewHub(log)
	tasks := services.NewImageTaskService(database, store, pngGenerator{}, hub, services.TaskServiceConfig{Workers: 2}, log)
	require.NoError(t, tasks.Start(context.Background()))

	srv := httptest.NewServer(handlers.SetupRoutes(
		handlers.NewPresentationHandler(store, log),
		handlers.NewImageHandler(tasks, log),
		handlers.NewWebSocketHandler(hub, store, log),
		dataDir,
		log,
	))
	t.Cleanup(func() {
		srv.Close()
		tasks.Stop()
		database.Close()
	})
	return apiclient.New(srv.URL, token, log)
}

func fastConfig(mode string) *config.Config {
	cfg := config.DefaultConfig()
	cfg.Generation.Mode = mode
	cfg.Generation.PollInterval = "5ms"
	cfg.Generation.SinglePollInterval = "5ms"
	cfg.Generation.MaxPollInterval = "20ms"
	return cfg
}

func createDeck(t *testing.T, remote *apiclient.Client) *models.Deck {
	t.Helper()
	deck, err := remote.CreatePresentation(context.Background(), &models.Deck{
		Topic:       "Glaciers",
		VisualStyle: "watercolor",
		ThemeID:     "noir",
		Slides: []*models.Slide{
			{Title: "Ice", ImagePrompt: "blue ice cave"},
			{Title: "Melt", ImagePrompt: "meltwater river"},
			{Title: "Summary"},
		},
	})
	require.NoError(t, err)
	return deck
}

func settle(t *testing.T, s *session.Session) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, s.Wait(ctx))
}

func TestSession_AsyncGenerateAllRoundTrip(t *testing.T) {
	remote := newRemote(t, "token")
	deck := createDeck(t, remote)

	var themes []string
	s, err := session.New(session.Deps{
		Config: fastConfig("auto"),
		Remote: remote,
		Hooks:  reconcile.Hooks{OnTheme: func(th models.Theme) { themes = append(themes, th.ID) }},
	}, zap.NewNop())
	require.NoError(t, err)
	defer s.Close()

	ctx := context.Background()
	_, err = s.Load(ctx, deck.ID)
	require.NoError(t, err)
	assert.Equal(t, []string{"noir"}, themes)
	assert.Equal(t, generation.ModeAsync, s.Orchestrator.Mode())

	require.NoError(t, s.Orchestrator.RegenerateAllImages(ctx))
	settle(t, s)

	local := s.State.Get()
	for i, slide := range local.Slides {
		assert.False(t, slide.IsImageLoading, i)
		assert.Empty(t, slide.ImageError, i)
	}
	assert.True(t, strings.HasPrefix(local.Slides[0].ImageURL, services.MediaPrefix))
	assert.True(t, strings.HasPrefix(local.Slides[1].ImageURL, services.MediaPrefix))
	assert.Empty(t, local.Slides[2].ImageURL)

	fresh, err := s.Refresh(ctx)
	require.NoError(t, err)
	assert.Equal(t, local.Slides[0].ImageURL, fresh.Slides[0].ImageURL)
}

func TestSession_SyncPersistsImages(t *testing.T) {
	remote := newRemote(t, "")
	deck := createDeck(t, remote)
	model := &fakeModel{}

	cfg := fastConfig("auto")
	cfg.Gemini.APIKey = "key"
	s, err := session.New(session.Deps{Config: cfg, Remote: remote, Model: model}, nil)
	require.NoError(t, err)
	defer s.Close()

	ctx := context.Background()
	_, err = s.Load(ctx, deck.ID)
	require.NoError(t, err)
	assert.Equal(t, generation.ModeSync, s.Orchestrator.Mode())

	require.NoError(t, s.Orchestrator.RegenerateSlideImage(ctx, 0, generation.RegenerateVaried))
	settle(t, s)

	slide := s.State.Get().Slides[0]
	assert.Equal(t, "blue ice cave, golden hour", slide.ImagePrompt)
	assert.Equal(t, "img://blue ice cave, golden hour/watercolor", slide.ImageURL)
	assert.Equal(t, []string{"blue ice cave"}, model.refined)

	require.Eventually(t, func() bool {
		stored, err := remote.GetPresentation(ctx, deck.ID)
		return err == nil && stored.Slides[0].ImageURL == slide.ImageURL
	}, 2*time.Second, 10*time.Millisecond)
}

func TestSession_NoModelFailsDirectGeneration(t *testing.T) {
	remote := newRemote(t, "")
	deck := createDeck(t, remote)

	s, err := session.New(session.Deps{Config: fastConfig("sync"), Remote: remote}, nil)
	require.NoError(t, err)
	defer s.Close()

	ctx := context.Background()
	_, err = s.Load(ctx, deck.ID)
	require.NoError(t, err)

	err = s.Orchestrator.RegenerateAllImages(ctx)
	require.ErrorIs(t, err, gemini.ErrNoAPIKey)
	for _, slide := range s.State.Get().Slides {
		assert.False(t, slide.IsImageLoading)
	}
}

func TestSession_FollowSettlesWithBackend(t *testing.T) {
	remote := newRemote(t, "token")
	deck := createDeck(t, remote)

	s, err := session.New(session.Deps{Config: fastConfig("async"), Remote: remote}, nil)
	require.NoError(t, err)
	defer s.Close()

	ctx := context.Background()
	_, err = s.Load(ctx, deck.ID)
	require.NoError(t, err)

	_, err = remote.RegenerateSlide(ctx, deck.ID, deck.Slides[1].ID, "")
	require.NoError(t, err)
	s.State.UpdateSlideAt(1, models.LoadingPatch())

	p := s.Follow(ctx, 5*time.Millisecond)
	waitCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	require.NoError(t, p.Wait(waitCtx))

	slide := s.State.Get().Slides[1]
	assert.False(t, slide.IsImageLoading)
	assert.True(t, strings.HasPrefix(slide.ImageURL, services.MediaPrefix))
}

func TestSession_RejectsUnknownMode(t *testing.T) {
	_, err := session.New(session.Deps{Config: fastConfig("turbo")}, nil)
	assert.Error(t, err)
}
