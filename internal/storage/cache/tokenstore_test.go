// --- File: internal/storage/cache/tokenstore_test.go ---
package cache_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	urn "github.com/tinywideclouds/go-platform/pkg/net/v1"

	"github.com/tinywideclouds/go-fanout-service/internal/storage/cache"
	"github.com/tinywideclouds/go-fanout-service/pkg/fanout"
)

// --- Mocks ---
type MockCache struct {
	mock.Mock
}

func (m *MockCache) Get(ctx context.Context, key string, dest interface{}) error {
	args := m.Called(ctx, key, dest)
	return args.Error(0)
}
func (m *MockCache) Set(ctx context.Context, key string, value interface{}, ttl time.Duration) error {
	return m.Called(ctx, key, value, ttl).Error(0)
}
func (m *MockCache) Del(ctx context.Context, key string) error {
	return m.Called(ctx, key).Error(0)
}

type MockRealStore struct {
	mock.Mock
}

func (m *MockRealStore) TokensFor(ctx context.Context, user urn.URN) (*fanout.TokenSet, error) {
	args := m.Called(ctx, user)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*fanout.TokenSet), args.Error(1)
}
func (m *MockRealStore) UnregisterWeb(ctx context.Context, user urn.URN, endpoint string) error {
	return m.Called(ctx, user, endpoint).Error(0)
}
func (m *MockRealStore) RegisterFCM(ctx context.Context, user urn.URN, token string) error {
	return m.Called(ctx, user, token).Error(0)
}

// (Stub other methods as needed)
func (m *MockRealStore) UnregisterFCM(context.Context, urn.URN, string) error  { return nil }
func (m *MockRealStore) RegisterAPNS(context.Context, urn.URN, string) error   { return nil }
func (m *MockRealStore) UnregisterAPNS(context.Context, urn.URN, string) error { return nil }
func (m *MockRealStore) RegisterWeb(context.Context, urn.URN, fanout.WebPushSubscription) error {
	return nil
}

func TestCachedStore_ImmediateInvalidation(t *testing.T) {
	ctx := context.Background()
	mockCache := new(MockCache)
	mockDB := new(MockRealStore)

	// Decorate the DB
	store := cache.NewCachedTokenStore(mockDB, mockCache, 1*time.Hour)
	userURN, _ := urn.Parse("urn:sm:user:annoyed-user")
	cacheKey := "fanout:tokens:urn:sm:user:annoyed-user"

	t.Run("Unregister invalidates cache immediately", func(t *testing.T) {
		endpoint := "https://old.endpoint"

		// 1. Expect DB call
		mockDB.On("UnregisterWeb", ctx, userURN, endpoint).Return(nil)

		// 2. Expect Cache DELETE (Crucial!)
		mockCache.On("Del", ctx, cacheKey).Return(nil)

		// Act
		err := store.UnregisterWeb(ctx, userURN, endpoint)

		// Assert
		require.NoError(t, err)
		mockDB.AssertExpectations(t)
		mockCache.AssertExpectations(t)
	})

	t.Run("Register invalidates cache immediately", func(t *testing.T) {
		mockDB.On("RegisterFCM", ctx, userURN, "fresh-token").Return(nil)
		mockCache.On("Del", ctx, cacheKey).Return(nil)

		err := store.RegisterFCM(ctx, userURN, "fresh-token")

		require.NoError(t, err)
		mockDB.AssertExpectations(t)
	})

	t.Run("Subsequent read hits DB (Cache Miss)", func(t *testing.T) {
		// 1. Expect Cache Miss (simulating the delete worked)
		mockCache.On("Get", ctx, cacheKey, mock.Anything).Return(assert.AnError) // Error implies miss

		// 2. Expect DB Read (Source of Truth)
		freshSet := &fanout.TokenSet{FCMTokens: []string{"fresh-token"}}
		mockDB.On("TokensFor", ctx, userURN).Return(freshSet, nil)

		// 3. Expect Cache SET (Refilling)
		mockCache.On("Set", ctx, cacheKey, freshSet, mock.Anything).Return(nil)

		// Act
		set, err := store.TokensFor(ctx, userURN)

		// Assert
		require.NoError(t, err)
		require.Equal(t, []string{"fresh-token"}, set.FCMTokens)
		mockDB.AssertExpectations(t)
	})
}

func TestCachedStore_SetFailureIsNotFatal(t *testing.T) {
	// Caching is an optimization; a Redis write failure must not surface.
	ctx := context.Background()
	mockCache := new(MockCache)
	mockDB := new(MockRealStore)
	store := cache.NewCachedTokenStore(mockDB, mockCache, 1*time.Hour)
	userURN, _ := urn.Parse("urn:sm:user:cache-down")
	cacheKey := "fanout:tokens:urn:sm:user:cache-down"

	mockCache.On("Get", ctx, cacheKey, mock.Anything).Return(assert.AnError)
	freshSet := &fanout.TokenSet{APNSTokens: []string{"ios-token"}}
	mockDB.On("TokensFor", ctx, userURN).Return(freshSet, nil)
	mockCache.On("Set", ctx, cacheKey, freshSet, mock.Anything).Return(assert.AnError)

	set, err := store.TokensFor(ctx, userURN)

	require.NoError(t, err)
	assert.Equal(t, []string{"ios-token"}, set.APNSTokens)
}
