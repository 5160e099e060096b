package session

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/google/uuid"
	"github.com/rodline/procopt/internal/improvement"
	"github.com/rodline/procopt/pkg/logger"
	"github.com/rodline/procopt/pkg/models"
)

// Manager owns the sessions of every connected operator
type Manager struct {
	mu        sync.RWMutex
	sessions  map[string]*Session
	optimizer *improvement.Optimizer
	recorder  HistoryRecorder
	weights   models.Weights
}

// NewManager creates a manager; recorder may be nil
func NewManager(opt *improvement.Optimizer, recorder HistoryRecorder, weights models.Weights) *Manager {
	if recorder == nil {
		recorder = nopRecorder{}
	}
	if weights == (models.Weights{}) {
		weights = models.DefaultWeights
	}
	return &Manager{
		sessions:  make(map[string]*Session),
		optimizer: opt,
		recorder:  recorder,
		weights:   weights,
	}
}

// Optimizer returns the optimizer shared by all sessions
func (m *Manager) Optimizer() *improvement.Optimizer {
	return m.optimizer
}

// Create starts a new session with a fresh UUID
func (m *Manager) Create(ctx context.Context, params *models.ParameterSet, desired models.Triplet) (*Session, error) {
	id := uuid.NewString()
	s, err := New(ctx, m.optimizer, params, desired,
		WithID(id), WithWeights(m.weights), WithRecorder(m.recorder))
	if err != nil {
		return nil, err
	}

	m.mu.Lock()
	m.sessions[id] = s
	m.mu.Unlock()

	logger.Info("session created", "session_id", id)
	return s, nil
}

// Restore registers a session rebuilt from persisted history
func (m *Manager) Restore(id string, desired models.Triplet, history []Entry) (*Session, error) {
	if _, err := uuid.Parse(id); err != nil {
		return nil, fmt.Errorf("invalid session id %q: %w", id, err)
	}
	s, err := Restore(m.optimizer, desired, history,
		WithID(id), WithWeights(m.weights), WithRecorder(m.recorder))
	if err != nil {
		return nil, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.sessions[id]; exists {
		return nil, fmt.Errorf("session already exists: %s", id)
	}
	m.sessions[id] = s
	return s, nil
}

// Get returns a session by ID
func (m *Manager) Get(id string) (*Session, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.sessions[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrSessionNotFound, id)
	}
	return s, nil
}

// List returns the IDs of all sessions, sorted
func (m *Manager) List() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	ids := make([]string, 0, len(m.sessions))
	for id := range m.sessions {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Delete removes a session and its persisted history
func (m *Manager) Delete(ctx context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[id]
	if !ok {
		return fmt.Errorf("%w: %s", ErrSessionNotFound, id)
	}
	s.mu.Lock()
	busy := s.busy
	s.mu.Unlock()
	if busy {
		return ErrSessionBusy
	}
	if err := m.recorder.Delete(ctx, id); err != nil {
		return fmt.Errorf("record delete: %w", err)
	}
	delete(m.sessions, id)
	logger.Info("session deleted", "session_id", id)
	return nil
}
