package indexmap

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"slidegen/internal/models"
)

func slidesWithImages(pattern string) []*models.Slide {
	out := make([]*models.Slide, len(pattern))
	for i, c := range pattern {
		s := &models.Slide{ID: fmt.Sprintf("s%d", i)}
		if c == 'x' {
			s.ImageURL = "img.png"
		}
		out[i] = s
	}
	return out
}

func TestBuild_PredicateHoldsAndOrderPreserved(t *testing.T) {
	patterns := []string{"", "x", ".", "x.x..x", "....", "xxxx", ".x.x.x.x."}

	for _, p := range patterns {
		t.Run(p, func(t *testing.T) {
			slides := slidesWithImages(p)
			m := Build(slides, NeedsImage)

			prev := -1
			for k := 0; k < m.Len(); k++ {
				orig := m.Original(k)
				assert.True(t, NeedsImage(slides[orig]))
				assert.Greater(t, orig, prev, "mapping must be strictly increasing")
				prev = orig
			}

			missing := 0
			for _, s := range slides {
				if NeedsImage(s) {
					missing++
				}
			}
			assert.Equal(t, missing, m.Len())
		})
	}
}

func TestOriginal_PanicsOutOfRange(t *testing.T) {
	m := Build(slidesWithImages("x.x"), NeedsImage)
	require.Equal(t, 1, m.Len())

	assert.Equal(t, 1, m.Original(0))
	assert.Panics(t, func() { m.Original(1) })
	assert.Panics(t, func() { m.Original(-1) })
}

func TestFilteredAndSelect(t *testing.T) {
	slides := slidesWithImages("x..x.")
	m := Build(slides, NeedsImage)

	k, ok := m.Filtered(2)
	assert.True(t, ok)
	assert.Equal(t, 1, k)

	_, ok = m.Filtered(0)
	assert.False(t, ok)

	sel := m.Select(slides)
	require.Len(t, sel, 3)
	assert.Same(t, slides[1], sel[0])
	assert.Same(t, slides[2], sel[1])
	assert.Same(t, slides[4], sel[2])
}
