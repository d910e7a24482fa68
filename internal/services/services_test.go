package services

import (
	"context"
	"database/sql"
	"encoding/base64"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"slidegen/internal/db"
	"slidegen/internal/models"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m, goleak.IgnoreTopFunction("database/sql.(*DB).connectionOpener"))
}

func openDB(t *testing.T) *sql.DB {
	t.Helper()
	database, err := db.Open(filepath.Join(t.TempDir(), "test.db"), nil)
	require.NoError(t, err)
	t.Cleanup(func() { database.Close() })
	return database
}

func newStore(t *testing.T) *PresentationStore {
	t.Helper()
	return NewPresentationStore(openDB(t), t.TempDir(), nil)
}

func sampleDeck() *models.Deck {
	return &models.Deck{
		Topic:       "Deep sea",
		VisualStyle: "ink",
		ThemeID:     "noir",
		Slides: []*models.Slide{
			{Title: "Intro", Content: []string{"a", "b"}, ImagePrompt: "anglerfish"},
			{Title: "Middle", ImagePrompt: "vent", ImageURL: "/media/old.png"},
			{Title: "Outro"},
		},
	}
}

var pngData = "data:image/png;base64," + base64.StdEncoding.EncodeToString([]byte("png-bytes"))

type fakeGenerator struct {
	mu      sync.Mutex
	fail    map[string]bool
	gate    chan struct{}
	styles  []string
	prompts []string
}

func (f *fakeGenerator) GenerateImage(ctx context.Context, prompt, style string) (string, error) {
	if f.gate != nil {
		select {
		case <-f.gate:
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.styles = append(f.styles, style)
	f.prompts = append(f.prompts, prompt)
	if f.fail[prompt] {
		return "", errors.New("model refused")
	}
	return pngData, nil
}

type recordingHub struct {
	mu     sync.Mutex
	events []TaskEvent
}

func (h *recordingHub) Broadcast(ev TaskEvent) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.events = append(h.events, ev)
}

func (h *recordingHub) statuses(taskID string) []models.TaskStatus {
	h.mu.Lock()
	defer h.mu.Unlock()
	var out []models.TaskStatus
	for _, ev := range h.events {
		if ev.TaskID == taskID {
			out = append(out, ev.Status)
		}
	}
	return out
}

func TestPresentationStore_CreateAndGet(t *testing.T) {
	store := newStore(t)
	ctx := context.Background()

	created, err := store.Create(ctx, sampleDeck())
	require.NoError(t, err)
	require.NotEmpty(t, created.ID)
	for _, s := range created.Slides {
		assert.NotEmpty(t, s.ID)
	}

	got, err := store.Get(ctx, created.ID)
	require.NoError(t, err)
	assert.Equal(t, "Deep sea", got.Topic)
	assert.Equal(t, "noir", got.ThemeID)
	require.Len(t, got.Slides, 3)
	assert.Equal(t, []string{"Intro", "Middle", "Outro"}, []string{got.Slides[0].Title, got.Slides[1].Title, got.Slides[2].Title})
	assert.Equal(t, []string{"a", "b"}, got.Slides[0].Content)
	assert.Equal(t, []string{}, got.Slides[2].Content)
	assert.Equal(t, "/media/old.png", got.Slides[1].ImageURL)

	_, err = store.Get(ctx, "missing")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestPresentationStore_CreateAssignsIDs(t *testing.T) {
	store := newStore(t)
	ctx := context.Background()

	deck := sampleDeck()
	deck.ID = "../../escape"
	deck.Slides[0].ID = "../../../etc/passwd"
	created, err := store.Create(ctx, deck)
	require.NoError(t, err)

	assert.NotEqual(t, "../../escape", created.ID)
	_, err = uuid.Parse(created.ID)
	assert.NoError(t, err)
	assert.NotEqual(t, "../../../etc/passwd", created.Slides[0].ID)
	_, err = uuid.Parse(created.Slides[0].ID)
	assert.NoError(t, err)
}

func TestPresentationStore_UpdateSlide(t *testing.T) {
	store := newStore(t)
	ctx := context.Background()
	deck, err := store.Create(ctx, sampleDeck())
	require.NoError(t, err)
	slideID := deck.Slides[0].ID

	updated, err := store.UpdateSlide(ctx, deck.ID, slideID, models.SlidePatch{
		Title:          models.String("New title"),
		ImageURL:       &pngData,
		IsImageLoading: models.Bool(true),
		ImageError:     models.String("ignored"),
	})
	require.NoError(t, err)

	assert.Equal(t, "New title", updated.Title)
	assert.True(t, strings.HasPrefix(updated.ImageURL, MediaPrefix+"presentations/"+deck.ID+"/slides/"+slideID))
	assert.False(t, updated.IsImageLoading, "transient state is not persisted")
	assert.Empty(t, updated.ImageError)
	assert.Equal(t, "anglerfish", updated.ImagePrompt, "untouched fields survive")

	onDisk := filepath.Join(store.DataPath(), strings.TrimPrefix(updated.ImageURL, MediaPrefix))
	data, err := os.ReadFile(onDisk)
	require.NoError(t, err)
	assert.Equal(t, "png-bytes", string(data))

	got, err := store.GetSlide(ctx, deck.ID, slideID)
	require.NoError(t, err)
	assert.Equal(t, updated.ImageURL, got.ImageURL)

	_, err = store.UpdateSlide(ctx, deck.ID, "missing", models.SlidePatch{})
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestPresentationStore_UpdateMeta(t *testing.T) {
	store := newStore(t)
	ctx := context.Background()
	deck, err := store.Create(ctx, sampleDeck())
	require.NoError(t, err)

	mode := models.ViewModeGrid
	got, err := store.UpdateMeta(ctx, deck.ID, MetaPatch{ThemeID: models.String("vivid"), ViewMode: &mode})
	require.NoError(t, err)
	assert.Equal(t, "vivid", got.ThemeID)
	assert.Equal(t, models.ViewModeGrid, got.ViewMode)
	assert.Equal(t, "ink", got.VisualStyle)
}

func TestStoreGeneratedImage_RejectsBadData(t *testing.T) {
	store := newStore(t)

	d, sl := uuid.NewString(), uuid.NewString()
	_, err := store.StoreGeneratedImage(d, sl, "https://example.com/x.png")
	assert.ErrorIs(t, err, ErrInvalidImage)
	_, err = store.StoreGeneratedImage(d, sl, "data:image/png;base64,")
	assert.ErrorIs(t, err, ErrInvalidImage)
	_, err = store.StoreGeneratedImage(d, sl, "data:image/png;base64,!!!")
	assert.Error(t, err)

	url, err := store.StoreGeneratedImage(d, sl, "data:image/jpeg;base64,"+base64.StdEncoding.EncodeToString([]byte("j")))
	require.NoError(t, err)
	assert.True(t, strings.HasSuffix(url, ".jpg"))
}

func newTaskService(t *testing.T, gen *fakeGenerator) (*ImageTaskService, *PresentationStore, *recordingHub) {
	t.Helper()
	database := openDB(t)
	store := NewPresentationStore(database, t.TempDir(), nil)
	hub := &recordingHub{}
	svc := NewImageTaskService(database, store, gen, hub, TaskServiceConfig{Workers: 2}, nil)
	return svc, store, hub
}

func waitForStatus(t *testing.T, svc *ImageTaskService, deckID string, done func(*models.BatchStatus) bool) *models.BatchStatus {
	t.Helper()
	var last *models.BatchStatus
	require.Eventually(t, func() bool {
		status, err := svc.BatchStatus(context.Background(), deckID)
		if err != nil {
			return false
		}
		last = status
		return done(status)
	}, 5*time.Second, 10*time.Millisecond)
	return last
}

func TestSaveSlideImage_RejectsPathLikeIDs(t *testing.T) {
	store := newStore(t)
	id := uuid.NewString()

	for _, bad := range []string{"", "..", "../x", "a/b", "{" + id + "}", "urn:uuid:" + id} {
		_, err := store.SaveSlideImage(bad, id, "png", []byte("x"))
		assert.ErrorIs(t, err, ErrInvalidID, bad)
		_, err = store.SaveSlideImage(id, bad, "png", []byte("x"))
		assert.ErrorIs(t, err, ErrInvalidID, bad)
		_, err = store.StoreGeneratedImage(bad, id, pngData)
		assert.ErrorIs(t, err, ErrInvalidID, bad)
	}

	entries, err := os.ReadDir(store.DataPath())
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestImageTaskService_SubmitBatchDefaultsToSlidesWithoutImages(t *testing.T) {
	gen := &fakeGenerator{}
	svc, store, hub := newTaskService(t, gen)
	ctx := context.Background()
	require.NoError(t, svc.Start(ctx))
	defer svc.Stop()

	deck, err := store.Create(ctx, sampleDeck())
	require.NoError(t, err)

	sub, err := svc.SubmitBatch(ctx, deck.ID, nil)
	require.NoError(t, err)
	assert.Equal(t, 1, sub.TotalSlides)
	taskID := sub.Tasks[deck.Slides[0].ID]
	require.NotEmpty(t, taskID)

	status := waitForStatus(t, svc, deck.ID, func(s *models.BatchStatus) bool { return s.AllComplete })
	assert.Equal(t, 2, status.Total)
	assert.Equal(t, 2, status.Completed)
	assert.Equal(t, models.TaskSuccess, status.SlideStatuses[deck.Slides[0].ID].Status)
	assert.Equal(t, models.TaskComplete, status.SlideStatuses[deck.Slides[1].ID].Status)
	assert.Equal(t, models.TaskNone, status.SlideStatuses[deck.Slides[2].ID].Status)

	slide, err := store.GetSlide(ctx, deck.ID, deck.Slides[0].ID)
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(slide.ImageURL, MediaPrefix))
	assert.Equal(t, taskID, slide.ImageTaskID)

	task, err := svc.Task(ctx, taskID)
	require.NoError(t, err)
	assert.Equal(t, models.TaskSuccess, task.Status)
	assert.Equal(t, slide.ImageURL, task.ImageURL)
	assert.Equal(t, []string{"ink"}, gen.styles)

	assert.Equal(t, []models.TaskStatus{models.TaskPending, models.TaskStarted, models.TaskSuccess}, hub.statuses(taskID))
}

func TestImageTaskService_FailureCountsAsResolved(t *testing.T) {
	gen := &fakeGenerator{fail: map[string]bool{"anglerfish": true}}
	svc, store, _ := newTaskService(t, gen)
	ctx := context.Background()
	require.NoError(t, svc.Start(ctx))
	defer svc.Stop()

	deck, err := store.Create(ctx, sampleDeck())
	require.NoError(t, err)
	_, err = svc.SubmitBatch(ctx, deck.ID, nil)
	require.NoError(t, err)

	status := waitForStatus(t, svc, deck.ID, func(s *models.BatchStatus) bool { return s.AllComplete })
	first := status.SlideStatuses[deck.Slides[0].ID]
	assert.Equal(t, models.TaskFailure, first.Status)
	assert.Equal(t, "model refused", first.Error)
	assert.Equal(t, 1, status.Completed)
}

func TestImageTaskService_NoSlidesToProcess(t *testing.T) {
	svc, store, _ := newTaskService(t, &fakeGenerator{})
	ctx := context.Background()
	require.NoError(t, svc.Start(ctx))
	defer svc.Stop()

	deck, err := store.Create(ctx, &models.Deck{Slides: []*models.Slide{{Title: "no prompt"}}})
	require.NoError(t, err)

	_, err = svc.SubmitBatch(ctx, deck.ID, nil)
	assert.ErrorIs(t, err, ErrNoSlidesToProcess)
	_, err = svc.SubmitBatch(ctx, deck.ID, []string{"unknown"})
	assert.ErrorIs(t, err, ErrNoSlidesToProcess)
	_, err = svc.GenerateSlide(ctx, deck.ID, deck.Slides[0].ID)
	assert.ErrorIs(t, err, ErrNoPrompt)

	status, err := svc.BatchStatus(ctx, deck.ID)
	require.NoError(t, err)
	assert.True(t, status.AllComplete, "nothing to generate")
}

func TestImageTaskService_RegenerateClearsImage(t *testing.T) {
	gen := &fakeGenerator{gate: make(chan struct{})}
	svc, store, _ := newTaskService(t, gen)
	ctx := context.Background()
	require.NoError(t, svc.Start(ctx))
	defer svc.Stop()

	deck, err := store.Create(ctx, sampleDeck())
	require.NoError(t, err)
	slideID := deck.Slides[1].ID

	sub, err := svc.RegenerateSlide(ctx, deck.ID, slideID, "")
	require.NoError(t, err)
	assert.Equal(t, models.TaskPending, sub.Status)

	slide, err := store.GetSlide(ctx, deck.ID, slideID)
	require.NoError(t, err)
	assert.Empty(t, slide.ImageURL, "image cleared while the task runs")
	assert.Equal(t, sub.TaskID, slide.ImageTaskID)

	close(gen.gate)
	require.Eventually(t, func() bool {
		task, err := svc.Task(ctx, sub.TaskID)
		return err == nil && task.Status == models.TaskSuccess
	}, 5*time.Second, 10*time.Millisecond)
}

func TestImageTaskService_UploadedImageDoesNotCompleteBatch(t *testing.T) {
	gen := &fakeGenerator{gate: make(chan struct{})}
	svc, store, _ := newTaskService(t, gen)
	ctx := context.Background()
	require.NoError(t, svc.Start(ctx))
	defer svc.Stop()

	deck, err := store.Create(ctx, &models.Deck{
		Topic: "Deep sea",
		Slides: []*models.Slide{
			{Title: "Cover", ImageURL: "/media/upload.png"},
			{Title: "Vent", ImagePrompt: "vent"},
		},
	})
	require.NoError(t, err)
	_, err = svc.SubmitBatch(ctx, deck.ID, nil)
	require.NoError(t, err)

	status, err := svc.BatchStatus(ctx, deck.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, status.Total)
	assert.Equal(t, 1, status.Completed)
	assert.Equal(t, models.TaskComplete, status.SlideStatuses[deck.Slides[0].ID].Status)
	assert.Contains(t, []models.TaskStatus{models.TaskPending, models.TaskStarted},
		status.SlideStatuses[deck.Slides[1].ID].Status)
	assert.False(t, status.AllComplete, "an uploaded image does not resolve a pending slide")

	close(gen.gate)
	status = waitForStatus(t, svc, deck.ID, func(s *models.BatchStatus) bool { return s.AllComplete })
	assert.Equal(t, 2, status.Completed)
	assert.Equal(t, models.TaskSuccess, status.SlideStatuses[deck.Slides[1].ID].Status)
}

func TestImageTaskService_RegenerateStoresPrompt(t *testing.T) {
	gen := &fakeGenerator{}
	svc, store, _ := newTaskService(t, gen)
	ctx := context.Background()
	require.NoError(t, svc.Start(ctx))
	defer svc.Stop()

	deck, err := store.Create(ctx, sampleDeck())
	require.NoError(t, err)
	slideID := deck.Slides[0].ID

	sub, err := svc.RegenerateSlide(ctx, deck.ID, slideID, "anglerfish, glowing lure")
	require.NoError(t, err)
	require.Eventually(t, func() bool {
		task, err := svc.Task(ctx, sub.TaskID)
		return err == nil && task.Status == models.TaskSuccess
	}, 5*time.Second, 10*time.Millisecond)

	slide, err := store.GetSlide(ctx, deck.ID, slideID)
	require.NoError(t, err)
	assert.Equal(t, "anglerfish, glowing lure", slide.ImagePrompt)

	gen.mu.Lock()
	defer gen.mu.Unlock()
	assert.Equal(t, []string{"anglerfish, glowing lure"}, gen.prompts)
}

func TestImageTaskService_NotRunning(t *testing.T) {
	svc, store, _ := newTaskService(t, &fakeGenerator{})
	ctx := context.Background()
	deck, err := store.Create(ctx, sampleDeck())
	require.NoError(t, err)

	_, err = svc.GenerateSlide(ctx, deck.ID, deck.Slides[0].ID)
	assert.ErrorIs(t, err, ErrNotRunning)

	status, err := svc.BatchStatus(ctx, deck.ID)
	require.NoError(t, err)
	assert.Equal(t, models.TaskFailure, status.SlideStatuses[deck.Slides[0].ID].Status)
}

func TestImageTaskService_StartFailsInterruptedTasks(t *testing.T) {
	gen := &fakeGenerator{gate: make(chan struct{})}
	svc, store, _ := newTaskService(t, gen)
	ctx := context.Background()
	require.NoError(t, svc.Start(ctx))

	deck, err := store.Create(ctx, sampleDeck())
	require.NoError(t, err)
	sub, err := svc.GenerateSlide(ctx, deck.ID, deck.Slides[0].ID)
	require.NoError(t, err)
	svc.Stop()

	task, err := svc.Task(ctx, sub.TaskID)
	require.NoError(t, err)
	assert.True(t, task.Status.IsInFlight() || task.Status == models.TaskFailure)

	require.NoError(t, svc.Start(ctx))
	defer svc.Stop()
	task, err = svc.Task(ctx, sub.TaskID)
	require.NoError(t, err)
	assert.Equal(t, models.TaskFailure, task.Status)
}

type stubFailer struct {
	cutoff time.Time
	n      int
	err    error
}

func (s *stubFailer) FailStale(_ context.Context, cutoff time.Time) (int, error) {
	s.cutoff = cutoff
	return s.n, s.err
}

func TestTaskReaper(t *testing.T) {
	failer := &stubFailer{n: 2}
	r, err := NewTaskReaper(failer, "@every 1h", 10*time.Minute, nil)
	require.NoError(t, err)
	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	r.now = func() time.Time { return now }

	assert.Equal(t, 2, r.Reap(context.Background()))
	assert.Equal(t, now.Add(-10*time.Minute), failer.cutoff)

	failer.err = errors.New("db locked")
	assert.Equal(t, 0, r.Reap(context.Background()))

	r.Start()
	r.Stop()

	_, err = NewTaskReaper(failer, "not a schedule", time.Minute, nil)
	assert.Error(t, err)
}

func TestImageTaskService_FailStale(t *testing.T) {
	gen := &fakeGenerator{gate: make(chan struct{})}
	svc, store, _ := newTaskService(t, gen)
	ctx := context.Background()
	require.NoError(t, svc.Start(ctx))
	defer func() {
		close(gen.gate)
		svc.Stop()
	}()

	deck, err := store.Create(ctx, sampleDeck())
	require.NoError(t, err)
	sub, err := svc.GenerateSlide(ctx, deck.ID, deck.Slides[0].ID)
	require.NoError(t, err)

	n, err := svc.FailStale(ctx, time.Now().UTC().Add(-time.Hour))
	require.NoError(t, err)
	assert.Zero(t, n, "fresh tasks are left alone")

	n, err = svc.FailStale(ctx, time.Now().UTC().Add(time.Second))
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	task, err := svc.Task(ctx, sub.TaskID)
	require.NoError(t, err)
	assert.Equal(t, models.TaskFailure, task.Status)
	assert.Equal(t, "Timed out", task.Error)
}
