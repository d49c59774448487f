/**
 * @description
 * This file implements the platform settings service: operator flags
 * (maintenance mode, verification enabled, auto-approve enabled, fee percent)
 * read through an explicit TTL cache instead of process-global state, with an
 * explicit invalidation method for tests and admin tooling.
 */

package app

import (
	"context"
	"sync"
	"time"

	"github.com/padala/verification-service/internal/domain"
)

// SettingsSource is the persistence view the settings service reads from.
type SettingsSource interface {
	GetPlatformSettings(ctx context.Context) (*domain.PlatformSettings, error)
}

// SettingsService caches platform settings for a fixed TTL. Reads within the
// window are served from memory; a failed refresh falls back to the last good
// value rather than taking the hot path down with it.
type SettingsService struct {
	source SettingsSource
	ttl    time.Duration

	mu        sync.Mutex
	cached    *domain.PlatformSettings
	fetchedAt time.Time
}

// NewSettingsService creates a settings service with the given cache TTL.
func NewSettingsService(source SettingsSource, ttl time.Duration) *SettingsService {
	return &SettingsService{source: source, ttl: ttl}
}

// Get returns the current platform settings, refreshing from the source when
// the cached copy is older than the TTL.
func (s *SettingsService) Get(ctx context.Context) (*domain.PlatformSettings, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.cached != nil && time.Since(s.fetchedAt) < s.ttl {
		return s.cached, nil
	}

	settings, err := s.source.GetPlatformSettings(ctx)
	if err != nil {
		if s.cached != nil {
			return s.cached, nil
		}
		return nil, err
	}

	s.cached = settings
	s.fetchedAt = time.Now()
	return settings, nil
}

// Invalidate drops the cached copy so the next Get refreshes immediately.
func (s *SettingsService) Invalidate() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cached = nil
}
