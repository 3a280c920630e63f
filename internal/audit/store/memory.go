// Package store persists audit events. Both implementations expose only
// append, read and the narrow verification/retention mutations.
package store

import (
	"context"
	"slices"
	"strings"
	"sync"
	"time"

	"pharmaudit/internal/audit/models"
	id "pharmaudit/pkg/domain"
	"pharmaudit/pkg/platform/sentinel"
)

// InMemory keeps events in a mutex-guarded map. Used by tests and dev mode.
type InMemory struct {
	mu     sync.RWMutex
	events map[id.EventID]*models.AuditEvent
}

func NewInMemory() *InMemory {
	return &InMemory{events: make(map[id.EventID]*models.AuditEvent)}
}

func (s *InMemory) Append(_ context.Context, e *models.AuditEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.events[e.ID]; exists {
		return sentinel.ErrConflict
	}
	s.events[e.ID] = e.Clone()
	return nil
}

func (s *InMemory) FindByID(_ context.Context, eventID id.EventID) (*models.AuditEvent, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.events[eventID]
	if !ok {
		return nil, sentinel.ErrNotFound
	}
	return e.Clone(), nil
}

// List returns events newest first, strictly after cursor, created before
// asOf when asOf is non-zero.
func (s *InMemory) List(_ context.Context, filter models.EventFilter, cursor *models.Cursor, limit int, asOf time.Time) ([]*models.AuditEvent, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*models.AuditEvent
	for _, e := range s.events {
		if !asOf.IsZero() && !e.CreatedAt.Before(asOf) {
			continue
		}
		if cursor != nil && !cursor.After(e) {
			continue
		}
		if !filter.Matches(e) {
			continue
		}
		out = append(out, e)
	}
	slices.SortFunc(out, func(a, b *models.AuditEvent) int {
		if c := b.CreatedAt.Compare(a.CreatedAt); c != 0 {
			return c
		}
		return strings.Compare(b.ID.String(), a.ID.String())
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return cloneAll(out), nil
}

func (s *InMemory) MarkVerified(_ context.Context, eventID id.EventID, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.events[eventID]
	if !ok {
		return sentinel.ErrNotFound
	}
	e.IsVerified = true
	e.VerifiedAt = &at
	return nil
}

// ListExpired returns unarchived events whose retention window closed at or
// before asOf, oldest first, strictly after the given position.
func (s *InMemory) ListExpired(_ context.Context, asOf time.Time, after *models.Cursor, limit int) ([]*models.AuditEvent, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*models.AuditEvent
	for _, e := range s.events {
		if !e.IsExpired(asOf) {
			continue
		}
		if after != nil && !ascendingAfter(*after, e) {
			continue
		}
		out = append(out, e)
	}
	slices.SortFunc(out, func(a, b *models.AuditEvent) int {
		if c := a.CreatedAt.Compare(b.CreatedAt); c != 0 {
			return c
		}
		return strings.Compare(a.ID.String(), b.ID.String())
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return cloneAll(out), nil
}

func ascendingAfter(c models.Cursor, e *models.AuditEvent) bool {
	if e.CreatedAt.Equal(c.CreatedAt) {
		return strings.Compare(e.ID.String(), c.ID.String()) > 0
	}
	return e.CreatedAt.After(c.CreatedAt)
}

// MarkArchived flags an unarchived event. Missing or already archived
// events return ErrNotFound.
func (s *InMemory) MarkArchived(_ context.Context, eventID id.EventID, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.events[eventID]
	if !ok || e.IsArchived {
		return sentinel.ErrNotFound
	}
	e.IsArchived = true
	e.ArchivedAt = &at
	return nil
}

func (s *InMemory) Delete(_ context.Context, eventID id.EventID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.events[eventID]; !ok {
		return sentinel.ErrNotFound
	}
	delete(s.events, eventID)
	return nil
}

// Count returns the number of stored events.
func (s *InMemory) Count() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.events)
}

func cloneAll(in []*models.AuditEvent) []*models.AuditEvent {
	out := make([]*models.AuditEvent, len(in))
	for i, e := range in {
		out[i] = e.Clone()
	}
	return out
}
