package models

import "time"

// ViewMode is the editor view a presentation was last saved in
type ViewMode string

const (
	ViewModeEditor  ViewMode = "editor"
	ViewModeGrid    ViewMode = "grid"
	ViewModePresent ViewMode = "present"
)

// Theme identifies a visual theme a presentation can be rendered with
type Theme struct {
	ID   string `json:"id" yaml:"id"`
	Name string `json:"name" yaml:"name"`
}

// Slide represents a single slide of a presentation.
//
// A slide is treated as an immutable value once it is part of a Deck:
// changes go through SlidePatch.Apply, which returns a copy.
type Slide struct {
	ID            string   `json:"id"`
	Title         string   `json:"title"`
	Content       []string `json:"content"`
	ImagePrompt   string   `json:"imagePrompt"`
	ImageURL      string   `json:"imageUrl,omitempty"`
	LayoutVariant int      `json:"layoutVariant"`

	// Generation state
	IsImageLoading bool   `json:"isImageLoading"`
	ImageError     string `json:"imageError,omitempty"`
	ImageTaskID    string `json:"imageTaskId,omitempty"`
}

// HasImage reports whether the slide has a resolved image reference
func (s *Slide) HasImage() bool {
	return s != nil && s.ImageURL != ""
}

// Deck represents a presentation: deck-level metadata plus ordered slides
type Deck struct {
	ID          string    `json:"id"`
	Topic       string    `json:"topic"`
	VisualStyle string    `json:"visualStyle"`
	ThemeID     string    `json:"themeId,omitempty"`
	Layout      string    `json:"layout,omitempty"`
	ViewMode    ViewMode  `json:"viewMode,omitempty"`
	UpdatedAt   time.Time `json:"updatedAt"`
	Slides      []*Slide  `json:"slides"`
}

// Clone returns a shallow copy of the deck with its own slide slice.
// The slides themselves are shared.
func (d *Deck) Clone() *Deck {
	if d == nil {
		return nil
	}
	clone := *d
	clone.Slides = make([]*Slide, len(d.Slides))
	copy(clone.Slides, d.Slides)
	return &clone
}

// SlideByID returns the slide with the given id and its position
func (d *Deck) SlideByID(id string) (*Slide, int) {
	if d == nil {
		return nil, -1
	}
	for i, s := range d.Slides {
		if s.ID == id {
			return s, i
		}
	}
	return nil, -1
}

// SlideAt returns the slide at index, or nil when the index is out of range
func (d *Deck) SlideAt(index int) *Slide {
	if d == nil || index < 0 || index >= len(d.Slides) {
		return nil
	}
	return d.Slides[index]
}

// SlidePatch is a partial change to a slide. Nil fields are left unchanged;
// a pointer to the zero value clears the field.
type SlidePatch struct {
	Title          *string  `json:"title,omitempty"`
	Content        []string `json:"content,omitempty"`
	ImagePrompt    *string  `json:"imagePrompt,omitempty"`
	ImageURL       *string  `json:"imageUrl,omitempty"`
	LayoutVariant  *int     `json:"layoutVariant,omitempty"`
	IsImageLoading *bool    `json:"isImageLoading,omitempty"`
	ImageError     *string  `json:"imageError,omitempty"`
	ImageTaskID    *string  `json:"imageTaskId,omitempty"`
}

// IsEmpty reports whether the patch changes nothing
func (p SlidePatch) IsEmpty() bool {
	return p.Title == nil && p.Content == nil && p.ImagePrompt == nil && p.ImageURL == nil &&
		p.LayoutVariant == nil && p.IsImageLoading == nil && p.ImageError == nil && p.ImageTaskID == nil
}

// Apply returns a copy of s with the patch merged in
func (p SlidePatch) Apply(s *Slide) *Slide {
	out := *s
	if p.Title != nil {
		out.Title = *p.Title
	}
	if p.Content != nil {
		out.Content = append([]string(nil), p.Content...)
	}
	if p.ImagePrompt != nil {
		out.ImagePrompt = *p.ImagePrompt
	}
	if p.ImageURL != nil {
		out.ImageURL = *p.ImageURL
	}
	if p.LayoutVariant != nil {
		out.LayoutVariant = *p.LayoutVariant
	}
	if p.IsImageLoading != nil {
		out.IsImageLoading = *p.IsImageLoading
	}
	if p.ImageError != nil {
		out.ImageError = *p.ImageError
	}
	if p.ImageTaskID != nil {
		out.ImageTaskID = *p.ImageTaskID
	}
	return &out
}

// String returns a pointer to v, for building patches
func String(v string) *string { return &v }

// Bool returns a pointer to v, for building patches
func Bool(v bool) *bool { return &v }

// Int returns a pointer to v, for building patches
func Int(v int) *int { return &v }

// Common patches used by the generation strategies.

// LoadingPatch marks a slide as loading and clears any previous error
func LoadingPatch() SlidePatch {
	return SlidePatch{IsImageLoading: Bool(true), ImageError: String("")}
}

// ImageReadyPatch resolves a slide with an image
func ImageReadyPatch(url string) SlidePatch {
	return SlidePatch{ImageURL: String(url), IsImageLoading: Bool(false), ImageError: String("")}
}

// ImageFailedPatch resolves a slide with an error, keeping any previous image
func ImageFailedPatch(msg string) SlidePatch {
	return SlidePatch{IsImageLoading: Bool(false), ImageError: String(msg)}
}
