package ingest

import (
	"sync"
	"time"

	"ttufish/tank-monitor/internal/model"
)

// State holds the single process-wide Reading. Writers replace it wholesale.
type State struct {
	mu        sync.RWMutex
	reading   model.Reading
	updatedAt time.Time
}

// NewState returns a State holding the zero Reading.
func NewState() *State {
	return &State{}
}

// Set replaces the current reading.
func (s *State) Set(r model.Reading, at time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.reading = r
	s.updatedAt = at
}

// Current returns a copy of the latest reading. Before the first sensor
// message every field is zero.
func (s *State) Current() model.Reading {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.reading
}

// UpdatedAt returns when the reading was last replaced, or the zero time.
func (s *State) UpdatedAt() time.Time {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.updatedAt
}
