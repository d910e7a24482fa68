package models

import "time"

// TaskStatus is the lifecycle state of a background image task
type TaskStatus string

const (
	TaskPending  TaskStatus = "PENDING"
	TaskStarted  TaskStatus = "STARTED"
	TaskRetry    TaskStatus = "RETRY"
	TaskSuccess  TaskStatus = "SUCCESS"
	TaskComplete TaskStatus = "COMPLETE"
	TaskFailure  TaskStatus = "FAILURE"
	TaskNone     TaskStatus = "NONE"
)

// IsTerminal reports whether no further transitions are expected
func (s TaskStatus) IsTerminal() bool {
	switch s {
	case TaskSuccess, TaskComplete, TaskFailure:
		return true
	}
	return false
}

// IsInFlight reports whether the task is queued or running
func (s TaskStatus) IsInFlight() bool {
	switch s {
	case TaskPending, TaskStarted, TaskRetry:
		return true
	}
	return false
}

// ImageTask represents a server-side image generation job for one slide
type ImageTask struct {
	ID             string     `json:"task_id"`
	PresentationID string     `json:"presentation_id"`
	SlideID        string     `json:"slide_id"`
	Status         TaskStatus `json:"status"`
	ImageURL       string     `json:"image_url,omitempty"`
	Error          string     `json:"error,omitempty"`
	CreatedAt      time.Time  `json:"created_at"`
	UpdatedAt      time.Time  `json:"updated_at"`
}

// SlideTaskStatus is the per-slide entry of a batch status snapshot
type SlideTaskStatus struct {
	TaskID   string     `json:"task_id"`
	Status   TaskStatus `json:"status"`
	SlideID  string     `json:"slide_id,omitempty"`
	ImageURL string     `json:"image_url,omitempty"`
	Error    string     `json:"error,omitempty"`
}

// BatchStatus is a snapshot of every slide's image task for a presentation
type BatchStatus struct {
	SlideStatuses map[string]SlideTaskStatus `json:"slide_statuses"`
	Completed     int                        `json:"completed"`
	Total         int                        `json:"total"`
	AllComplete   bool                       `json:"all_complete"`
}

// BatchSubmission is returned when a batch job is queued
type BatchSubmission struct {
	Tasks       map[string]string `json:"tasks"` // slide id -> task id
	TotalSlides int               `json:"total_slides"`
}

// TaskSubmission is returned when a single-slide job is queued
type TaskSubmission struct {
	TaskID  string     `json:"task_id"`
	SlideID string     `json:"slide_id"`
	Status  TaskStatus `json:"status"`
}
