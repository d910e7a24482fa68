package generation

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"slidegen/internal/models"
)

func TestSyncStrategy_BoundedConcurrencySettlesAll(t *testing.T) {
	st := newState(7)
	gen := &fakeGenerator{
		fail: func(prompt string) error {
			if prompt == "prompt-2" || prompt == "prompt-5" {
				return errors.New("model overloaded")
			}
			return nil
		},
	}
	gen.gate = make(chan struct{})
	go func() {
		// Release calls slowly so that whole chunks overlap.
		for i := 0; i < 7; i++ {
			time.Sleep(2 * time.Millisecond)
			gen.gate <- struct{}{}
		}
	}()

	s := NewSyncStrategy(st, gen, &fakeCreds{}, nil, DefaultConcurrency, zap.NewNop())
	err := s.GenerateAll(context.Background(), st.Get().Slides, "ink", "", nil)
	require.NoError(t, err)

	assert.Equal(t, int32(7), gen.calls.Load())
	assert.LessOrEqual(t, gen.peak.Load(), int32(3))

	for i, slide := range st.Get().Slides {
		assert.False(t, slide.IsImageLoading, "slide %d still loading", i)
		if i == 2 || i == 5 {
			assert.Equal(t, "model overloaded", slide.ImageError)
			assert.Empty(t, slide.ImageURL)
			continue
		}
		assert.Empty(t, slide.ImageError)
		assert.Equal(t, "img://"+slide.ImagePrompt+"/ink", slide.ImageURL)
	}
}

func TestSyncStrategy_CredentialFailureResetsBatch(t *testing.T) {
	st := newState(3)
	gen := &fakeGenerator{}
	s := NewSyncStrategy(st, gen, &fakeCreds{err: errors.New("no key")}, nil, 3, nil)

	err := s.GenerateAll(context.Background(), st.Get().Slides, "ink", "", nil)
	require.Error(t, err)

	assert.Zero(t, gen.calls.Load())
	for _, slide := range st.Get().Slides {
		assert.False(t, slide.IsImageLoading)
		assert.Equal(t, MsgBatchFailed, slide.ImageError)
	}
}

func TestSyncStrategy_SingleChecksCredentials(t *testing.T) {
	st := newState(2)
	gen := &fakeGenerator{}
	creds := &fakeCreds{err: errors.New("no key")}
	s := NewSyncStrategy(st, gen, creds, nil, 3, nil)

	err := s.GenerateSingle(context.Background(), 1, "p", "ink")
	require.Error(t, err)

	assert.Equal(t, int32(1), creds.calls.Load())
	assert.Zero(t, gen.calls.Load())
	slide := st.Get().Slides[1]
	assert.False(t, slide.IsImageLoading)
	assert.Equal(t, "no key", slide.ImageError)
	assert.Empty(t, st.Get().Slides[0].ImageError)
}

func TestSyncStrategy_FailureKeepsPreviousImage(t *testing.T) {
	st := newState(1)
	st.UpdateSlideAt(0, models.SlidePatch{ImageURL: models.String("old.png")})
	gen := &fakeGenerator{fail: func(string) error { return errors.New("") }}
	s := NewSyncStrategy(st, gen, &fakeCreds{}, nil, 3, nil)

	require.NoError(t, s.GenerateSingle(context.Background(), 0, "p", "ink"))

	slide := st.Get().Slides[0]
	assert.Equal(t, "old.png", slide.ImageURL)
	assert.Equal(t, MsgGenerationFailed, slide.ImageError)
	assert.False(t, slide.IsImageLoading)
}

func TestSyncStrategy_PersistsAndSwallowsPersistErrors(t *testing.T) {
	st := newState(2)
	p := &fakePersister{err: errors.New("backend down")}
	s := NewSyncStrategy(st, &fakeGenerator{}, &fakeCreds{}, p, 3, nil)

	require.NoError(t, s.GenerateAll(context.Background(), st.Get().Slides, "ink", "", nil))

	calls := p.Calls()
	require.Len(t, calls, 2)
	for _, c := range calls {
		assert.Equal(t, "deck-1", c.DeckID)
		require.NotNil(t, c.Patch.ImageURL)
	}
	for _, slide := range st.Get().Slides {
		assert.True(t, slide.HasImage())
		assert.Empty(t, slide.ImageError)
	}
}

func TestSyncStrategy_StopsBetweenChunksOnCancel(t *testing.T) {
	st := newState(6)
	ctx, cancel := context.WithCancel(context.Background())
	gen := &fakeGenerator{fail: func(string) error { cancel(); return nil }}
	s := NewSyncStrategy(st, gen, &fakeCreds{}, nil, 3, nil)

	err := s.GenerateAll(ctx, st.Get().Slides, "ink", "", nil)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, int32(3), gen.calls.Load())
}
