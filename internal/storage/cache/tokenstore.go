// --- File: internal/storage/cache/tokenstore.go ---
package cache

import (
	"context"
	"fmt"
	"time"

	urn "github.com/tinywideclouds/go-platform/pkg/net/v1"

	"github.com/tinywideclouds/go-fanout-service/pkg/fanout"
)

// CacheClient defines the subset of Redis commands we need.
type CacheClient interface {
	// Get returns the value or a specific error if not found.
	Get(ctx context.Context, key string, dest interface{}) error
	// Set stores the value with a TTL.
	Set(ctx context.Context, key string, value interface{}, ttl time.Duration) error
	// Del removes the key.
	Del(ctx context.Context, key string) error
}

// CachedTokenStore is a Decorator that adds Read-Aside caching to any
// TokenRegistry. The fan-out reads one TokenSet per recipient per message, so
// this is the hot path; registrations invalidate their owner's key.
//
// Reconciliation prunes by token value across owners and cannot target the
// owners' keys from here; pruned tokens simply age out with the TTL.
type CachedTokenStore struct {
	realStore fanout.TokenRegistry
	cache     CacheClient
	ttl       time.Duration
}

// NewCachedTokenStore creates the decorator.
func NewCachedTokenStore(realStore fanout.TokenRegistry, cache CacheClient, ttl time.Duration) *CachedTokenStore {
	return &CachedTokenStore{
		realStore: realStore,
		cache:     cache,
		ttl:       ttl,
	}
}

// --- READ PATH (Read-Aside) ---

func (s *CachedTokenStore) TokensFor(ctx context.Context, user urn.URN) (*fanout.TokenSet, error) {
	key := s.cacheKey(user)
	var cachedSet fanout.TokenSet

	// 1. Try Cache
	err := s.cache.Get(ctx, key, &cachedSet)
	if err == nil {
		return &cachedSet, nil
	}

	// 2. Fallback to the real store (Firestore)
	freshSet, err := s.realStore.TokensFor(ctx, user)
	if err != nil {
		return nil, err
	}

	// 3. Populate Cache (Fire and Forget)
	// Caching is an optimization, not a transaction; if Redis is down we just
	// serve from the DB.
	_ = s.cache.Set(ctx, key, freshSet, s.ttl)

	return freshSet, nil
}

// --- WRITE PATHS (Invalidate-on-Write) ---

func (s *CachedTokenStore) RegisterFCM(ctx context.Context, user urn.URN, token string) error {
	if err := s.realStore.RegisterFCM(ctx, user, token); err != nil {
		return err
	}
	return s.invalidate(ctx, user)
}

func (s *CachedTokenStore) UnregisterFCM(ctx context.Context, user urn.URN, token string) error {
	// Even if the DB write succeeds, we MUST clear the cache so notifications
	// stop immediately.
	if err := s.realStore.UnregisterFCM(ctx, user, token); err != nil {
		return err
	}
	return s.invalidate(ctx, user)
}

func (s *CachedTokenStore) RegisterAPNS(ctx context.Context, user urn.URN, token string) error {
	if err := s.realStore.RegisterAPNS(ctx, user, token); err != nil {
		return err
	}
	return s.invalidate(ctx, user)
}

func (s *CachedTokenStore) UnregisterAPNS(ctx context.Context, user urn.URN, token string) error {
	if err := s.realStore.UnregisterAPNS(ctx, user, token); err != nil {
		return err
	}
	return s.invalidate(ctx, user)
}

func (s *CachedTokenStore) RegisterWeb(ctx context.Context, user urn.URN, sub fanout.WebPushSubscription) error {
	if err := s.realStore.RegisterWeb(ctx, user, sub); err != nil {
		return err
	}
	return s.invalidate(ctx, user)
}

func (s *CachedTokenStore) UnregisterWeb(ctx context.Context, user urn.URN, endpoint string) error {
	if err := s.realStore.UnregisterWeb(ctx, user, endpoint); err != nil {
		return err
	}
	return s.invalidate(ctx, user)
}

// --- Helpers ---

func (s *CachedTokenStore) invalidate(ctx context.Context, user urn.URN) error {
	// Delete the key; the next TokensFor is forced to go to Firestore.
	return s.cache.Del(ctx, s.cacheKey(user))
}

func (s *CachedTokenStore) cacheKey(user urn.URN) string {
	return fmt.Sprintf("fanout:tokens:%s", user.String())
}
