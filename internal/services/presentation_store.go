package services

import (
	"context"
	"database/sql"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"slidegen/internal/models"
)

// MediaPrefix is the URL prefix generated images are served under
const MediaPrefix = "/media/"

var (
	// ErrNotFound is returned when a presentation, slide or task does not exist
	ErrNotFound = errors.New("not found")
	// ErrInvalidImage is returned for image payloads that are not data URLs
	ErrInvalidImage = errors.New("invalid image data")
	// ErrInvalidID is returned for deck or slide ids that are not uuids
	ErrInvalidID = errors.New("invalid id")
)

// MetaPatch is a partial change to deck-level metadata
type MetaPatch struct {
	Topic       *string          `json:"topic,omitempty"`
	VisualStyle *string          `json:"visualStyle,omitempty"`
	ThemeID     *string          `json:"themeId,omitempty"`
	Layout      *string          `json:"layout,omitempty"`
	ViewMode    *models.ViewMode `json:"viewMode,omitempty"`
}

// PresentationStore persists decks and their slides in SQLite and generated
// images on disk
type PresentationStore struct {
	database *sql.DB
	dataPath string
	log      *zap.Logger
}

// NewPresentationStore creates a presentation store
func NewPresentationStore(database *sql.DB, dataPath string, log *zap.Logger) *PresentationStore {
	if log == nil {
		log = zap.NewNop()
	}
	return &PresentationStore{
		database: database,
		dataPath: dataPath,
		log:      log.Named("store"),
	}
}

// DataPath is the directory generated images are written under
func (s *PresentationStore) DataPath() string {
	return s.dataPath
}

// Create stores a new deck. Deck and slide ids are always assigned here;
// ids sent by the caller are ignored.
func (s *PresentationStore) Create(ctx context.Context, deck *models.Deck) (*models.Deck, error) {
	if deck == nil {
		return nil, fmt.Errorf("deck is required")
	}
	out := deck.Clone()
	out.ID = uuid.NewString()
	out.UpdatedAt = time.Now().UTC()

	tx, err := s.database.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx, `INSERT INTO presentations
		(id, topic, visual_style, theme_id, layout, view_mode, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		out.ID, out.Topic, out.VisualStyle, out.ThemeID, out.Layout, string(out.ViewMode), out.UpdatedAt, out.UpdatedAt)
	if err != nil {
		return nil, fmt.Errorf("failed to insert presentation: %w", err)
	}

	for i, slide := range out.Slides {
		slide := *slide
		slide.ID = uuid.NewString()
		// Generation state is never persisted
		slide.IsImageLoading = false
		slide.ImageError = ""
		content, err := json.Marshal(nonNil(slide.Content))
		if err != nil {
			return nil, fmt.Errorf("failed to encode slide content: %w", err)
		}
		_, err = tx.ExecContext(ctx, `INSERT INTO slides
			(id, presentation_id, position, title, content, image_prompt, image_url, layout_variant, image_task_id, updated_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			slide.ID, out.ID, i, slide.Title, string(content), slide.ImagePrompt, slide.ImageURL,
			slide.LayoutVariant, slide.ImageTaskID, out.UpdatedAt)
		if err != nil {
			return nil, fmt.Errorf("failed to insert slide %d: %w", i, err)
		}
		out.Slides[i] = &slide
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit presentation: %w", err)
	}

	s.log.Info("Presentation created", zap.String("id", out.ID), zap.Int("slides", len(out.Slides)))
	return out, nil
}

// Get returns a deck with its slides in order
func (s *PresentationStore) Get(ctx context.Context, id string) (*models.Deck, error) {
	var deck models.Deck
	var viewMode string
	err := s.database.QueryRowContext(ctx, `SELECT id, topic, visual_style, theme_id, layout, view_mode, updated_at
		FROM presentations WHERE id = ?`, id).Scan(
		&deck.ID,
		&deck.Topic,
		&deck.VisualStyle,
		&deck.ThemeID,
		&deck.Layout,
		&viewMode,
		&deck.UpdatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("presentation %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query presentation: %w", err)
	}
	deck.ViewMode = models.ViewMode(viewMode)

	rows, err := s.database.QueryContext(ctx, `SELECT id, title, content, image_prompt, image_url, layout_variant, image_task_id
		FROM slides WHERE presentation_id = ? ORDER BY position`, id)
	if err != nil {
		return nil, fmt.Errorf("failed to query slides: %w", err)
	}
	defer rows.Close()

	deck.Slides = []*models.Slide{}
	for rows.Next() {
		slide, err := scanSlide(rows)
		if err != nil {
			return nil, err
		}
		deck.Slides = append(deck.Slides, slide)
	}
	return &deck, rows.Err()
}

// GetSlide returns a single slide of a deck
func (s *PresentationStore) GetSlide(ctx context.Context, deckID, slideID string) (*models.Slide, error) {
	row := s.database.QueryRowContext(ctx, `SELECT id, title, content, image_prompt, image_url, layout_variant, image_task_id
		FROM slides WHERE presentation_id = ? AND id = ?`, deckID, slideID)
	slide, err := scanSlide(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("slide %s: %w", slideID, ErrNotFound)
	}
	return slide, err
}

type scanner interface {
	Scan(dest ...any) error
}

func scanSlide(row scanner) (*models.Slide, error) {
	var slide models.Slide
	var content string
	err := row.Scan(
		&slide.ID,
		&slide.Title,
		&content,
		&slide.ImagePrompt,
		&slide.ImageURL,
		&slide.LayoutVariant,
		&slide.ImageTaskID,
	)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, err
		}
		return nil, fmt.Errorf("failed to scan slide: %w", err)
	}
	if err := json.Unmarshal([]byte(content), &slide.Content); err != nil {
		return nil, fmt.Errorf("failed to decode content of slide %s: %w", slide.ID, err)
	}
	return &slide, nil
}

// UpdateSlide applies the persistent fields of patch to a slide. An image
// given as a data URL is written to disk and replaced by its media URL.
// Loading and error state are transient and ignored.
func (s *PresentationStore) UpdateSlide(ctx context.Context, deckID, slideID string, patch models.SlidePatch) (*models.Slide, error) {
	current, err := s.GetSlide(ctx, deckID, slideID)
	if err != nil {
		return nil, err
	}

	if patch.ImageURL != nil && strings.HasPrefix(*patch.ImageURL, "data:") {
		url, err := s.StoreGeneratedImage(deckID, slideID, *patch.ImageURL)
		if err != nil {
			return nil, err
		}
		patch.ImageURL = &url
	}
	patch.IsImageLoading = nil
	patch.ImageError = nil

	updated := patch.Apply(current)
	content, err := json.Marshal(nonNil(updated.Content))
	if err != nil {
		return nil, fmt.Errorf("failed to encode slide content: %w", err)
	}

	now := time.Now().UTC()
	_, err = s.database.ExecContext(ctx, `UPDATE slides
		SET title = ?, content = ?, image_prompt = ?, image_url = ?, layout_variant = ?, image_task_id = ?, updated_at = ?
		WHERE presentation_id = ? AND id = ?`,
		updated.Title, string(content), updated.ImagePrompt, updated.ImageURL, updated.LayoutVariant,
		updated.ImageTaskID, now, deckID, slideID)
	if err != nil {
		return nil, fmt.Errorf("failed to update slide: %w", err)
	}
	if err := s.touch(ctx, deckID, now); err != nil {
		return nil, err
	}

	s.log.Debug("Slide updated", zap.String("presentation", deckID), zap.String("slide", slideID))
	return updated, nil
}

// UpdateMeta applies deck-level metadata changes
func (s *PresentationStore) UpdateMeta(ctx context.Context, id string, patch MetaPatch) (*models.Deck, error) {
	deck, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if patch.Topic != nil {
		deck.Topic = *patch.Topic
	}
	if patch.VisualStyle != nil {
		deck.VisualStyle = *patch.VisualStyle
	}
	if patch.ThemeID != nil {
		deck.ThemeID = *patch.ThemeID
	}
	if patch.Layout != nil {
		deck.Layout = *patch.Layout
	}
	if patch.ViewMode != nil {
		deck.ViewMode = *patch.ViewMode
	}
	deck.UpdatedAt = time.Now().UTC()

	_, err = s.database.ExecContext(ctx, `UPDATE presentations
		SET topic = ?, visual_style = ?, theme_id = ?, layout = ?, view_mode = ?, updated_at = ?
		WHERE id = ?`,
		deck.Topic, deck.VisualStyle, deck.ThemeID, deck.Layout, string(deck.ViewMode), deck.UpdatedAt, id)
	if err != nil {
		return nil, fmt.Errorf("failed to update presentation: %w", err)
	}
	return deck, nil
}

// SetSlideTask records the task generating a slide's image. clearImage
// drops the current image, for regeneration.
func (s *PresentationStore) SetSlideTask(ctx context.Context, slideID, taskID string, clearImage bool) error {
	query := `UPDATE slides SET image_task_id = ?, updated_at = ? WHERE id = ?`
	if clearImage {
		query = `UPDATE slides SET image_task_id = ?, image_url = '', updated_at = ? WHERE id = ?`
	}
	return s.execOne(ctx, query, taskID, time.Now().UTC(), slideID)
}

// SetSlideImage stores the image produced for a slide
func (s *PresentationStore) SetSlideImage(ctx context.Context, slideID, imageURL string) error {
	return s.execOne(ctx, `UPDATE slides SET image_url = ?, updated_at = ? WHERE id = ?`,
		imageURL, time.Now().UTC(), slideID)
}

func (s *PresentationStore) execOne(ctx context.Context, query string, args ...any) error {
	result, err := s.database.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("failed to update slide: %w", err)
	}
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return fmt.Errorf("slide: %w", ErrNotFound)
	}
	return nil
}

func (s *PresentationStore) touch(ctx context.Context, deckID string, now time.Time) error {
	if _, err := s.database.ExecContext(ctx, `UPDATE presentations SET updated_at = ? WHERE id = ?`, now, deckID); err != nil {
		return fmt.Errorf("failed to touch presentation: %w", err)
	}
	return nil
}

// SaveSlideImage writes image bytes to disk and returns the path relative
// to the data directory
func (s *PresentationStore) SaveSlideImage(deckID, slideID, ext string, data []byte) (string, error) {
	// ids become path segments
	if !validID(deckID) || !validID(slideID) {
		return "", ErrInvalidID
	}
	dirPath := filepath.Join(s.dataPath, "presentations", deckID, "slides")
	if err := os.MkdirAll(dirPath, 0755); err != nil {
		return "", fmt.Errorf("failed to create directory: %w", err)
	}

	// A fresh name per image so clients never see a cached stale file
	name := fmt.Sprintf("%s-%s.%s", slideID, uuid.NewString()[:8], ext)
	if err := os.WriteFile(filepath.Join(dirPath, name), data, 0644); err != nil {
		return "", fmt.Errorf("failed to write image file: %w", err)
	}
	return path.Join("presentations", deckID, "slides", name), nil
}

// StoreGeneratedImage decodes a base64 data URL, saves it and returns the
// media URL it is served under
func (s *PresentationStore) StoreGeneratedImage(deckID, slideID, dataURL string) (string, error) {
	if !validID(deckID) || !validID(slideID) {
		return "", ErrInvalidID
	}
	mime, payload, ok := splitDataURL(dataURL)
	if !ok {
		return "", ErrInvalidImage
	}
	data, err := base64.StdEncoding.DecodeString(payload)
	if err != nil {
		return "", fmt.Errorf("failed to decode base64: %w", err)
	}

	rel, err := s.SaveSlideImage(deckID, slideID, imageExt(mime), data)
	if err != nil {
		return "", fmt.Errorf("failed to save image: %w", err)
	}

	s.log.Debug("Stored generated image", zap.String("presentation", deckID), zap.String("slide", slideID), zap.String("path", rel))
	return MediaPrefix + rel, nil
}

// validID accepts only the canonical form Create assigns
func validID(id string) bool {
	u, err := uuid.Parse(id)
	return err == nil && u.String() == id
}

// splitDataURL parses "data:<mime>;base64,<payload>"
func splitDataURL(v string) (mime, payload string, ok bool) {
	rest, found := strings.CutPrefix(v, "data:")
	if !found {
		return "", "", false
	}
	header, payload, found := strings.Cut(rest, ",")
	if !found {
		return "", "", false
	}
	mime, found = strings.CutSuffix(header, ";base64")
	if !found || payload == "" {
		return "", "", false
	}
	return mime, payload, true
}

func imageExt(mime string) string {
	switch mime {
	case "image/jpeg":
		return "jpg"
	case "image/webp":
		return "webp"
	default:
		return "png"
	}
}

func nonNil(v []string) []string {
	if v == nil {
		return []string{}
	}
	return v
}
