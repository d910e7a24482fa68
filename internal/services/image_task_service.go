package services

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"slidegen/internal/generation"
	"slidegen/internal/models"
)

var (
	// ErrNoSlidesToProcess is returned when a batch selects no slides
	ErrNoSlidesToProcess = errors.New("no slides to process")
	// ErrNoPrompt is returned when a slide without an image prompt is queued
	ErrNoPrompt = errors.New("slide has no image prompt")
	// ErrNotRunning is returned when tasks are queued before Start or after Stop
	ErrNotRunning = errors.New("task service is not running")
)

const msgServerRestarted = "Interrupted by server restart"

// TaskServiceConfig sizes the worker pool
type TaskServiceConfig struct {
	Workers   int
	QueueSize int
}

// ImageTaskService runs image generation tasks on a bounded worker pool and
// tracks their state in the image_tasks table
type ImageTaskService struct {
	database  *sql.DB
	store     *PresentationStore
	generator generation.ImageGenerator
	hub       Broadcaster
	cfg       TaskServiceConfig
	log       *zap.Logger

	mu      sync.RWMutex
	queue   chan string
	cancel  context.CancelFunc
	workers sync.WaitGroup
}

// NewImageTaskService creates an image task service. generator may be nil,
// in which case every task fails with ErrUnavailable.
func NewImageTaskService(database *sql.DB, store *PresentationStore, generator generation.ImageGenerator, hub Broadcaster, cfg TaskServiceConfig, log *zap.Logger) *ImageTaskService {
	if log == nil {
		log = zap.NewNop()
	}
	if cfg.Workers <= 0 {
		cfg.Workers = 1
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 64
	}
	return &ImageTaskService{
		database:  database,
		store:     store,
		generator: generator,
		hub:       hub,
		cfg:       cfg,
		log:       log.Named("tasks"),
	}
}

// ErrUnavailable is the task error when no image generator is configured
var ErrUnavailable = errors.New("image generation is not configured")

// Start fails tasks left in flight by a previous process and launches the
// workers
func (s *ImageTaskService) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.queue != nil {
		return nil
	}

	n, err := s.failInFlight(ctx, time.Now().UTC(), msgServerRestarted)
	if err != nil {
		return err
	}
	if n > 0 {
		s.log.Warn("Failed tasks interrupted by restart", zap.Int("tasks", n))
	}

	ctx, s.cancel = context.WithCancel(ctx)
	s.queue = make(chan string, s.cfg.QueueSize)
	for i := 0; i < s.cfg.Workers; i++ {
		s.workers.Add(1)
		go s.worker(ctx, s.queue)
	}
	s.log.Info("Task workers started", zap.Int("workers", s.cfg.Workers))
	return nil
}

// Stop cancels running tasks and waits for the workers to exit
func (s *ImageTaskService) Stop() {
	s.mu.Lock()
	if s.queue == nil {
		s.mu.Unlock()
		return
	}
	s.cancel()
	close(s.queue)
	s.queue = nil
	s.mu.Unlock()

	s.workers.Wait()
	s.log.Info("Task workers stopped")
}

// SubmitBatch queues a task per selected slide: the given ids, or every
// slide with a prompt and no image when slideIDs is empty
func (s *ImageTaskService) SubmitBatch(ctx context.Context, deckID string, slideIDs []string) (*models.BatchSubmission, error) {
	deck, err := s.store.Get(ctx, deckID)
	if err != nil {
		return nil, err
	}

	var selected []*models.Slide
	if len(slideIDs) > 0 {
		wanted := make(map[string]bool, len(slideIDs))
		for _, id := range slideIDs {
			wanted[id] = true
		}
		for _, slide := range deck.Slides {
			if wanted[slide.ID] && slide.ImagePrompt != "" {
				selected = append(selected, slide)
			}
		}
	} else {
		for _, slide := range deck.Slides {
			if slide.ImagePrompt != "" && slide.ImageURL == "" {
				selected = append(selected, slide)
			}
		}
	}
	if len(selected) == 0 {
		return nil, ErrNoSlidesToProcess
	}

	sub := &models.BatchSubmission{Tasks: make(map[string]string, len(selected))}
	for _, slide := range selected {
		task, err := s.enqueue(ctx, deckID, slide.ID, false)
		if err != nil {
			return nil, err
		}
		sub.Tasks[slide.ID] = task.ID
	}
	sub.TotalSlides = len(sub.Tasks)

	s.log.Info("Batch queued", zap.String("presentation", deckID), zap.Int("tasks", sub.TotalSlides))
	return sub, nil
}

// GenerateSlide queues a task for one slide
func (s *ImageTaskService) GenerateSlide(ctx context.Context, deckID, slideID string) (*models.TaskSubmission, error) {
	return s.single(ctx, deckID, slideID, false)
}

// RegenerateSlide clears a slide's image and queues a new task for it. A
// non-empty prompt replaces the stored image prompt first.
func (s *ImageTaskService) RegenerateSlide(ctx context.Context, deckID, slideID, prompt string) (*models.TaskSubmission, error) {
	if prompt != "" {
		if _, err := s.store.UpdateSlide(ctx, deckID, slideID, models.SlidePatch{ImagePrompt: models.String(prompt)}); err != nil {
			return nil, err
		}
	}
	return s.single(ctx, deckID, slideID, true)
}

func (s *ImageTaskService) single(ctx context.Context, deckID, slideID string, clearImage bool) (*models.TaskSubmission, error) {
	slide, err := s.store.GetSlide(ctx, deckID, slideID)
	if err != nil {
		return nil, err
	}
	if slide.ImagePrompt == "" {
		return nil, ErrNoPrompt
	}
	task, err := s.enqueue(ctx, deckID, slideID, clearImage)
	if err != nil {
		return nil, err
	}
	return &models.TaskSubmission{TaskID: task.ID, SlideID: slideID, Status: task.Status}, nil
}

func (s *ImageTaskService) enqueue(ctx context.Context, deckID, slideID string, clearImage bool) (*models.ImageTask, error) {
	now := time.Now().UTC()
	task := &models.ImageTask{
		ID:             uuid.NewString(),
		PresentationID: deckID,
		SlideID:        slideID,
		Status:         models.TaskPending,
		CreatedAt:      now,
		UpdatedAt:      now,
	}

	_, err := s.database.ExecContext(ctx, `INSERT INTO image_tasks
		(id, presentation_id, slide_id, status, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)`,
		task.ID, task.PresentationID, task.SlideID, string(task.Status), task.CreatedAt, task.UpdatedAt)
	if err != nil {
		return nil, fmt.Errorf("failed to insert task: %w", err)
	}
	if err := s.store.SetSlideTask(ctx, slideID, task.ID, clearImage); err != nil {
		return nil, err
	}

	s.publish(task)
	if err := s.push(ctx, task.ID); err != nil {
		_ = s.finish(context.WithoutCancel(ctx), task, "", err)
		return nil, err
	}
	return task, nil
}

// push hands a task id to the workers. The read lock keeps Stop from
// closing the queue mid-send; workers drain it even after cancellation.
func (s *ImageTaskService) push(ctx context.Context, id string) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.queue == nil {
		return ErrNotRunning
	}
	select {
	case s.queue <- id:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Task returns a task by id
func (s *ImageTaskService) Task(ctx context.Context, id string) (*models.ImageTask, error) {
	var task models.ImageTask
	var status string
	err := s.database.QueryRowContext(ctx, `SELECT id, presentation_id, slide_id, status, image_url, error, created_at, updated_at
		FROM image_tasks WHERE id = ?`, id).Scan(
		&task.ID,
		&task.PresentationID,
		&task.SlideID,
		&status,
		&task.ImageURL,
		&task.Error,
		&task.CreatedAt,
		&task.UpdatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("task %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query task: %w", err)
	}
	task.Status = models.TaskStatus(status)
	return &task, nil
}

// BatchStatus reports every slide's image state. Slides with an image and
// no task are COMPLETE, slides with a task carry its status, the rest are
// NONE. All slides with a prompt must be resolved for AllComplete; a failed
// task counts as resolved.
func (s *ImageTaskService) BatchStatus(ctx context.Context, deckID string) (*models.BatchStatus, error) {
	deck, err := s.store.Get(ctx, deckID)
	if err != nil {
		return nil, err
	}

	status := &models.BatchStatus{SlideStatuses: make(map[string]models.SlideTaskStatus, len(deck.Slides))}
	resolved := 0
	for _, slide := range deck.Slides {
		if slide.ImagePrompt != "" {
			status.Total++
		}

		entry := models.SlideTaskStatus{SlideID: slide.ID, Status: models.TaskNone}
		switch {
		case slide.ImageTaskID != "":
			entry.TaskID = slide.ImageTaskID
			task, err := s.Task(ctx, slide.ImageTaskID)
			if errors.Is(err, ErrNotFound) {
				entry.Status = models.TaskFailure
				entry.Error = generation.MsgTaskFailed
				break
			}
			if err != nil {
				return nil, err
			}
			entry.Status = task.Status
			entry.ImageURL = task.ImageURL
			entry.Error = task.Error
		case slide.ImageURL != "":
			entry.Status = models.TaskComplete
			entry.ImageURL = slide.ImageURL
		}

		switch entry.Status {
		case models.TaskSuccess, models.TaskComplete:
			status.Completed++
			if slide.ImagePrompt != "" {
				resolved++
			}
		case models.TaskFailure:
			if slide.ImagePrompt != "" {
				resolved++
			}
		}
		status.SlideStatuses[slide.ID] = entry
	}
	status.AllComplete = status.Total == 0 || resolved >= status.Total
	return status, nil
}

// FailStale fails tasks that have been in flight since before cutoff
func (s *ImageTaskService) FailStale(ctx context.Context, cutoff time.Time) (int, error) {
	return s.failInFlight(ctx, cutoff, "Timed out")
}

func (s *ImageTaskService) failInFlight(ctx context.Context, cutoff time.Time, msg string) (int, error) {
	rows, err := s.database.QueryContext(ctx, `SELECT id, presentation_id, slide_id FROM image_tasks
		WHERE status IN (?, ?, ?) AND updated_at < ?`,
		string(models.TaskPending), string(models.TaskStarted), string(models.TaskRetry), cutoff)
	if err != nil {
		return 0, fmt.Errorf("failed to query in-flight tasks: %w", err)
	}
	var stale []*models.ImageTask
	for rows.Next() {
		task := &models.ImageTask{}
		if err := rows.Scan(&task.ID, &task.PresentationID, &task.SlideID); err != nil {
			rows.Close()
			return 0, fmt.Errorf("failed to scan task: %w", err)
		}
		stale = append(stale, task)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return 0, err
	}

	for _, task := range stale {
		if err := s.finish(ctx, task, "", errors.New(msg)); err != nil {
			return 0, err
		}
	}
	return len(stale), nil
}

func (s *ImageTaskService) worker(ctx context.Context, queue <-chan string) {
	defer s.workers.Done()
	for id := range queue {
		if ctx.Err() != nil {
			continue
		}
		s.run(ctx, id)
	}
}

func (s *ImageTaskService) run(ctx context.Context, id string) {
	task, err := s.Task(ctx, id)
	if err != nil {
		s.log.Warn("Queued task vanished", zap.String("task", id), zap.Error(err))
		return
	}
	if task.Status.IsTerminal() {
		return
	}
	if err := s.setStatus(ctx, task, models.TaskStarted); err != nil {
		s.log.Warn("Failed to start task", zap.String("task", id), zap.Error(err))
		return
	}

	url, genErr := s.generate(ctx, task)
	if err := s.finish(context.WithoutCancel(ctx), task, url, genErr); err != nil {
		s.log.Error("Failed to record task result", zap.String("task", id), zap.Error(err))
	}
}

func (s *ImageTaskService) generate(ctx context.Context, task *models.ImageTask) (string, error) {
	if s.generator == nil {
		return "", ErrUnavailable
	}
	deck, err := s.store.Get(ctx, task.PresentationID)
	if err != nil {
		return "", err
	}
	slide, _ := deck.SlideByID(task.SlideID)
	if slide == nil {
		return "", fmt.Errorf("slide %s: %w", task.SlideID, ErrNotFound)
	}

	start := time.Now()
	image, err := s.generator.GenerateImage(ctx, slide.ImagePrompt, deck.VisualStyle)
	if err != nil {
		return "", err
	}
	url := image
	if strings.HasPrefix(image, "data:") {
		if url, err = s.store.StoreGeneratedImage(task.PresentationID, task.SlideID, image); err != nil {
			return "", err
		}
	}
	s.log.Info("Image generated",
		zap.String("task", task.ID),
		zap.String("slide", task.SlideID),
		zap.Duration("duration", time.Since(start)))
	return url, nil
}

func (s *ImageTaskService) setStatus(ctx context.Context, task *models.ImageTask, status models.TaskStatus) error {
	task.Status = status
	task.UpdatedAt = time.Now().UTC()
	if _, err := s.database.ExecContext(ctx, `UPDATE image_tasks SET status = ?, updated_at = ? WHERE id = ?`,
		string(status), task.UpdatedAt, task.ID); err != nil {
		return fmt.Errorf("failed to update task: %w", err)
	}
	s.publish(task)
	return nil
}

// finish records the terminal state of a task. A successful image is
// stored on its slide first, when the slide still points at this task.
func (s *ImageTaskService) finish(ctx context.Context, task *models.ImageTask, url string, taskErr error) error {
	task.Status = models.TaskSuccess
	task.ImageURL = url
	task.Error = ""
	if taskErr != nil {
		task.Status = models.TaskFailure
		task.Error = taskErr.Error()
		s.log.Warn("Image task failed", zap.String("task", task.ID), zap.String("slide", task.SlideID), zap.Error(taskErr))
	} else {
		slide, err := s.store.GetSlide(ctx, task.PresentationID, task.SlideID)
		if err != nil {
			return err
		}
		if slide.ImageTaskID == task.ID {
			if err := s.store.SetSlideImage(ctx, task.SlideID, url); err != nil {
				return err
			}
		}
	}
	task.UpdatedAt = time.Now().UTC()

	if _, err := s.database.ExecContext(ctx, `UPDATE image_tasks SET status = ?, image_url = ?, error = ?, updated_at = ? WHERE id = ?`,
		string(task.Status), task.ImageURL, task.Error, task.UpdatedAt, task.ID); err != nil {
		return fmt.Errorf("failed to update task: %w", err)
	}

	s.publish(task)
	return nil
}

func (s *ImageTaskService) publish(task *models.ImageTask) {
	if s.hub == nil {
		return
	}
	s.hub.Broadcast(TaskEvent{
		Type:           "image_task",
		PresentationID: task.PresentationID,
		SlideID:        task.SlideID,
		TaskID:         task.ID,
		Status:         task.Status,
		ImageURL:       task.ImageURL,
		Error:          task.Error,
	})
}
