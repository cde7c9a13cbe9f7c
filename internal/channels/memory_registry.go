package channels

import (
	"context"
	"sync"
	"time"
)

// MemoryRegistry is the process-lifetime Registry implementation.
type MemoryRegistry struct {
	mu            sync.RWMutex
	registrations map[string]Registration
	clock         func() time.Time
}

// NewMemoryRegistry constructs an empty registry. A nil clock defaults to time.Now.
func NewMemoryRegistry(clock func() time.Time) *MemoryRegistry {
	if clock == nil {
		clock = time.Now
	}
	return &MemoryRegistry{
		registrations: make(map[string]Registration),
		clock:         clock,
	}
}

// RegisterToken replaces any previous registration for the user.
func (r *MemoryRegistry) RegisterToken(_ context.Context, userID string, kind Kind, token string) (Registration, error) {
	id, normalized, err := validateRegistration(userID, kind, token)
	if err != nil {
		return Registration{}, err
	}
	registration := Registration{
		UserID:       id,
		Kind:         kind,
		Token:        normalized,
		RegisteredAt: r.clock().UTC(),
	}
	r.mu.Lock()
	r.registrations[id] = registration
	r.mu.Unlock()
	return registration, nil
}

// ResolveChannel returns the active registration or ErrNoChannel.
func (r *MemoryRegistry) ResolveChannel(_ context.Context, userID string) (Registration, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	registration, ok := r.registrations[lookupKey(userID)]
	if !ok {
		return Registration{}, ErrNoChannel
	}
	return registration, nil
}
