// Package state holds the single shared deck value that every generation
// flow and user edit writes through.
package state

import (
	"sync"

	"slidegen/internal/models"
	"slidegen/internal/slides"
)

// Listener is notified with the new deck after every change
type Listener func(deck *models.Deck)

// DeckState is a mutex-guarded cell holding the current deck. Values stored
// in it are never mutated; writers replace them with Update.
type DeckState struct {
	mu        sync.Mutex
	deck      *models.Deck
	listeners map[int]Listener
	nextID    int
}

// New creates a state cell holding deck (which may be nil)
func New(deck *models.Deck) *DeckState {
	return &DeckState{
		deck:      deck,
		listeners: make(map[int]Listener),
	}
}

// Get returns the current deck
func (s *DeckState) Get() *models.Deck {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.deck
}

// Set replaces the current deck
func (s *DeckState) Set(deck *models.Deck) {
	s.Update(func(*models.Deck) *models.Deck { return deck })
}

// Clear drops the current deck
func (s *DeckState) Clear() {
	s.Set(nil)
}

// Update atomically replaces the deck with fn(current) and returns the result.
// fn runs under the lock and must not call back into the state.
func (s *DeckState) Update(fn func(*models.Deck) *models.Deck) *models.Deck {
	s.mu.Lock()
	prev := s.deck
	next := fn(prev)
	s.deck = next
	listeners := s.snapshotListeners()
	s.mu.Unlock()

	if next != prev {
		for _, l := range listeners {
			l(next)
		}
	}
	return next
}

// UpdateSlideAt merges patch into the slide at index
func (s *DeckState) UpdateSlideAt(index int, patch models.SlidePatch) *models.Deck {
	return s.Update(func(d *models.Deck) *models.Deck {
		return slides.UpdateAt(d, index, patch)
	})
}

// Subscribe registers l and returns a function that removes it
func (s *DeckState) Subscribe(l Listener) func() {
	s.mu.Lock()
	id := s.nextID
	s.nextID++
	s.listeners[id] = l
	s.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			s.mu.Lock()
			delete(s.listeners, id)
			s.mu.Unlock()
		})
	}
}

func (s *DeckState) snapshotListeners() []Listener {
	if len(s.listeners) == 0 {
		return nil
	}
	out := make([]Listener, 0, len(s.listeners))
	for _, l := range s.listeners {
		out = append(out, l)
	}
	return out
}
