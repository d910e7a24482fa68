// Package slides provides pure functions that derive a new deck from an old
// one plus a change to one or many slides. Inputs are never mutated and
// untouched slides keep their pointer identity, so concurrent readers of the
// previous deck value are never affected.
package slides

import (
	"math/rand/v2"

	"slidegen/internal/models"
)

// Direction is used by Move
type Direction int

const (
	Up Direction = iota
	Down
)

// UpdateAt merges patch into the slide at index.
// An out-of-range index returns the deck unchanged.
func UpdateAt(deck *models.Deck, index int, patch models.SlidePatch) *models.Deck {
	if deck == nil {
		return nil
	}
	if index < 0 || index >= len(deck.Slides) {
		return deck
	}

	out := deck.Clone()
	out.Slides[index] = patch.Apply(deck.Slides[index])
	return out
}

// UpdateAll merges fn(slide, index) into every slide. Slides for which fn
// returns an empty patch keep their identity.
func UpdateAll(deck *models.Deck, fn func(s *models.Slide, index int) models.SlidePatch) *models.Deck {
	if deck == nil {
		return nil
	}

	out := deck.Clone()
	for i, s := range deck.Slides {
		if p := fn(s, i); !p.IsEmpty() {
			out.Slides[i] = p.Apply(s)
		}
	}
	return out
}

// UpdateWhere merges patch into every slide matching pred
func UpdateWhere(deck *models.Deck, pred func(s *models.Slide, index int) bool, patch models.SlidePatch) *models.Deck {
	if deck == nil {
		return nil
	}

	out := deck.Clone()
	for i, s := range deck.Slides {
		if pred(s, i) {
			out.Slides[i] = patch.Apply(s)
		}
	}
	return out
}

// UpdateByIDs merges patch into every slide whose id is in ids
func UpdateByIDs(deck *models.Deck, ids []string, patch models.SlidePatch) *models.Deck {
	set := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		set[id] = struct{}{}
	}
	return UpdateWhere(deck, func(s *models.Slide, _ int) bool {
		_, ok := set[s.ID]
		return ok
	}, patch)
}

// Swap exchanges the slides at i and j.
// Invalid or equal indices return the deck unchanged.
func Swap(deck *models.Deck, i, j int) *models.Deck {
	if deck == nil {
		return nil
	}
	n := len(deck.Slides)
	if i < 0 || i >= n || j < 0 || j >= n || i == j {
		return deck
	}

	out := deck.Clone()
	out.Slides[i], out.Slides[j] = out.Slides[j], out.Slides[i]
	return out
}

// Move shifts the slide at index one position up or down
func Move(deck *models.Deck, index int, dir Direction) *models.Deck {
	target := index + 1
	if dir == Up {
		target = index - 1
	}
	return Swap(deck, index, target)
}

// ShuffleLayoutVariants assigns a random layout variant to every slide.
// A nil rng uses the global source.
func ShuffleLayoutVariants(deck *models.Deck, rng *rand.Rand) *models.Deck {
	return UpdateAll(deck, func(*models.Slide, int) models.SlidePatch {
		var v int
		if rng != nil {
			v = rng.IntN(1000)
		} else {
			v = rand.IntN(1000)
		}
		return models.SlidePatch{LayoutVariant: models.Int(v)}
	})
}
