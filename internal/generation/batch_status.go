package generation

import (
	"slidegen/internal/models"
	"slidegen/internal/slides"
)

// ApplyBatchStatus merges a batch status snapshot into deck.
// Slides that do not appear in the snapshot are left untouched.
func ApplyBatchStatus(deck *models.Deck, status *models.BatchStatus) *models.Deck {
	if deck == nil || status == nil {
		return deck
	}
	return slides.UpdateAll(deck, func(s *models.Slide, _ int) models.SlidePatch {
		st, ok := status.SlideStatuses[s.ID]
		if !ok {
			return models.SlidePatch{}
		}
		return statusPatch(s, st)
	})
}

func statusPatch(s *models.Slide, st models.SlideTaskStatus) models.SlidePatch {
	switch st.Status {
	case models.TaskSuccess, models.TaskComplete:
		url := st.ImageURL
		if url == "" {
			url = s.ImageURL
		}
		return models.SlidePatch{
			ImageURL:       models.String(url),
			IsImageLoading: models.Bool(false),
			ImageError:     models.String(""),
			ImageTaskID:    models.String(""),
		}
	case models.TaskFailure:
		msg := st.Error
		if msg == "" {
			msg = MsgTaskFailed
		}
		return models.SlidePatch{
			IsImageLoading: models.Bool(false),
			ImageError:     models.String(msg),
			ImageTaskID:    models.String(""),
		}
	case models.TaskPending, models.TaskStarted, models.TaskRetry:
		return models.SlidePatch{
			IsImageLoading: models.Bool(true),
			ImageTaskID:    models.String(st.TaskID),
		}
	}
	return models.SlidePatch{}
}
