// Package indexmap translates positions inside a filtered slide subset back
// to positions in the full deck, and the other way round.
package indexmap

import (
	"fmt"

	"slidegen/internal/models"
)

// Map records the original deck position of every slide in a filtered view
type Map struct {
	original []int
}

// Build scans slides once, in order, keeping the position of every slide
// that satisfies pred
func Build(slides []*models.Slide, pred func(*models.Slide) bool) Map {
	m := Map{original: make([]int, 0, len(slides))}
	for i, s := range slides {
		if pred(s) {
			m.original = append(m.original, i)
		}
	}
	return m
}

// Len is the size of the filtered view
func (m Map) Len() int {
	return len(m.original)
}

// Original returns the deck position of filtered position k.
// It panics when k is out of range: a filtered index can only come from the
// slice the map was built from.
func (m Map) Original(k int) int {
	if k < 0 || k >= len(m.original) {
		panic(fmt.Sprintf("indexmap: filtered index %d out of range [0,%d)", k, len(m.original)))
	}
	return m.original[k]
}

// Filtered returns the filtered position of deck position i
func (m Map) Filtered(i int) (int, bool) {
	for k, orig := range m.original {
		if orig == i {
			return k, true
		}
		if orig > i {
			break
		}
	}
	return -1, false
}

// Select returns the filtered subset of slides, in order
func (m Map) Select(slides []*models.Slide) []*models.Slide {
	out := make([]*models.Slide, len(m.original))
	for k, i := range m.original {
		out[k] = slides[i]
	}
	return out
}

// NeedsImage selects slides that do not have an image yet
func NeedsImage(s *models.Slide) bool {
	return !s.HasImage()
}
