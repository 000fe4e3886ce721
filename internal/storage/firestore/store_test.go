// --- File: internal/storage/firestore/store_test.go ---
//go:build integration

package firestore_test

import (
	"context"
	"testing"
	"time"

	"cloud.google.com/go/firestore"
	"github.com/illmade-knight/go-test/emulators"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	fs "github.com/tinywideclouds/go-fanout-service/internal/storage/firestore"
	"github.com/tinywideclouds/go-fanout-service/pkg/fanout"

	urn "github.com/tinywideclouds/go-platform/pkg/net/v1"
)

func setupSuite(t *testing.T) (context.Context, *firestore.Client, *fs.Store) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	t.Cleanup(cancel)

	projectID := "test-fanout-store"
	conn := emulators.SetupFirestoreEmulator(t, ctx, emulators.GetDefaultFirestoreConfig(projectID))
	client, err := firestore.NewClient(ctx, projectID, conn.ClientOptions...)
	require.NoError(t, err)
	t.Cleanup(func() { _ = client.Close() })

	store := fs.NewStore(client)
	return ctx, client, store
}

func TestStore_TokenLifecycle(t *testing.T) {
	ctx, _, store := setupSuite(t)
	userURN, _ := urn.Parse("urn:sm:user:test-user")

	t.Run("FCM Registration Lifecycle", func(t *testing.T) {
		// 1. Register FCM
		token := "token-android-1"
		err := store.RegisterFCM(ctx, userURN, token)
		require.NoError(t, err)

		// 2. Fetch and Verify
		set, err := store.TokensFor(ctx, userURN)
		require.NoError(t, err)

		// Assert it landed in the FCM bucket
		assert.Len(t, set.FCMTokens, 1)
		assert.Contains(t, set.FCMTokens, token)
		assert.Empty(t, set.APNSTokens)
		assert.Empty(t, set.WebSubscriptions)

		// 3. Unregister
		err = store.UnregisterFCM(ctx, userURN, token)
		require.NoError(t, err)

		// 4. Verify Gone
		setAfter, err := store.TokensFor(ctx, userURN)
		require.NoError(t, err)
		assert.Empty(t, setAfter.FCMTokens)
	})

	t.Run("APNs Registration Lifecycle", func(t *testing.T) {
		token := "token-ios-1"
		require.NoError(t, store.RegisterAPNS(ctx, userURN, token))

		set, err := store.TokensFor(ctx, userURN)
		require.NoError(t, err)
		assert.Contains(t, set.APNSTokens, token)
		assert.Empty(t, set.FCMTokens)

		require.NoError(t, store.UnregisterAPNS(ctx, userURN, token))
		setAfter, err := store.TokensFor(ctx, userURN)
		require.NoError(t, err)
		assert.Empty(t, setAfter.APNSTokens)
	})

	t.Run("Web Push Registration Lifecycle", func(t *testing.T) {
		// 1. Register Web
		sub := fanout.WebPushSubscription{
			Endpoint: "https://fcm.googleapis.com/fcm/send/abc-123",
			Keys: fanout.WebPushKeys{
				P256dh: []byte{0xDE, 0xAD, 0xBE, 0xEF},
				Auth:   []byte{0xCA, 0xFE, 0xBA, 0xBE},
			},
		}

		err := store.RegisterWeb(ctx, userURN, sub)
		require.NoError(t, err)

		// 2. Fetch and Verify
		set, err := store.TokensFor(ctx, userURN)
		require.NoError(t, err)

		// Assert it landed in the Web bucket, keys intact
		assert.Len(t, set.WebSubscriptions, 1)
		assert.Equal(t, sub.Endpoint, set.WebSubscriptions[0].Endpoint)
		assert.Equal(t, sub.Keys.P256dh, set.WebSubscriptions[0].Keys.P256dh)
		assert.Empty(t, set.FCMTokens)

		// 3. Unregister (Web uses endpoint as key)
		err = store.UnregisterWeb(ctx, userURN, sub.Endpoint)
		require.NoError(t, err)

		// 4. Verify Gone
		setAfter, err := store.TokensFor(ctx, userURN)
		require.NoError(t, err)
		assert.Empty(t, setAfter.WebSubscriptions)
	})

	t.Run("Fan-Out Fetch (Mixed Types)", func(t *testing.T) {
		mixURN, _ := urn.Parse("urn:sm:user:mix-user")
		fcmToken := "token-android-mix"
		webSub := fanout.WebPushSubscription{
			Endpoint: "https://web.push/mix",
			Keys: fanout.WebPushKeys{
				P256dh: []byte{0xDE, 0xAD, 0xBE, 0xEF},
				Auth:   []byte{0xCA, 0xFE, 0xBA, 0xBE},
			},
		}

		require.NoError(t, store.RegisterFCM(ctx, mixURN, fcmToken))
		require.NoError(t, store.RegisterWeb(ctx, mixURN, webSub))

		set, err := store.TokensFor(ctx, mixURN)
		require.NoError(t, err)

		// Assert: the store correctly sorted the mixed DB records into buckets
		assert.Len(t, set.FCMTokens, 1)
		assert.Contains(t, set.FCMTokens, fcmToken)
		assert.Len(t, set.WebSubscriptions, 1)
		assert.Equal(t, webSub.Endpoint, set.WebSubscriptions[0].Endpoint)
	})
}

func TestStore_Resolution(t *testing.T) {
	ctx, client, store := setupSuite(t)
	alice, _ := urn.Parse("urn:sm:user:alice")
	bob, _ := urn.Parse("urn:sm:user:bob")

	t.Run("Room resolves members and skips corrupt entries", func(t *testing.T) {
		_, err := client.Collection("rooms").Doc("room-1").Set(ctx, map[string]interface{}{
			"memberIds": []string{alice.String(), "not-a-urn", bob.String()},
		})
		require.NoError(t, err)

		room, err := store.Room(ctx, "room-1")
		require.NoError(t, err)
		require.Len(t, room.MemberIDs, 2)
		assert.Equal(t, alice, room.MemberIDs[0])
		assert.Equal(t, bob, room.MemberIDs[1])
	})

	t.Run("Missing room wraps ErrRoomNotFound", func(t *testing.T) {
		_, err := store.Room(ctx, "no-such-room")
		require.Error(t, err)
		assert.ErrorIs(t, err, fanout.ErrRoomNotFound)
	})

	t.Run("DisplayName falls back to empty for missing user", func(t *testing.T) {
		name, err := store.DisplayName(ctx, alice)
		require.NoError(t, err)
		assert.Empty(t, name)

		_, err = client.Collection("users").Doc(alice.String()).Set(ctx, map[string]interface{}{
			"name": "Alice",
		})
		require.NoError(t, err)

		name, err = store.DisplayName(ctx, alice)
		require.NoError(t, err)
		assert.Equal(t, "Alice", name)
	})

	t.Run("Preference is default-allow", func(t *testing.T) {
		// No document: opted in.
		enabled, err := store.NotificationsEnabled(ctx, bob)
		require.NoError(t, err)
		assert.True(t, enabled)

		// Document without the field: still opted in.
		_, err = client.Collection("user_preferences").Doc(bob.String()).Set(ctx, map[string]interface{}{
			"theme": "dark",
		})
		require.NoError(t, err)
		enabled, err = store.NotificationsEnabled(ctx, bob)
		require.NoError(t, err)
		assert.True(t, enabled)

		// Explicit false: opted out.
		_, err = client.Collection("user_preferences").Doc(bob.String()).Set(ctx, map[string]interface{}{
			"notificationsEnabled": false,
		})
		require.NoError(t, err)
		enabled, err = store.NotificationsEnabled(ctx, bob)
		require.NoError(t, err)
		assert.False(t, enabled)
	})
}

func TestStore_Reconciliation(t *testing.T) {
	ctx, client, store := setupSuite(t)
	alice, _ := urn.Parse("urn:sm:user:alice")
	bob, _ := urn.Parse("urn:sm:user:bob")

	t.Run("PruneToken deletes by value across owners", func(t *testing.T) {
		// The same stale token registered under two different users.
		require.NoError(t, store.RegisterFCM(ctx, alice, "shared-dead"))
		require.NoError(t, store.RegisterFCM(ctx, bob, "shared-dead"))
		require.NoError(t, store.RegisterFCM(ctx, bob, "bob-alive"))

		deleted, err := store.PruneToken(ctx, "shared-dead")
		require.NoError(t, err)
		assert.Equal(t, 2, deleted)

		aliceSet, err := store.TokensFor(ctx, alice)
		require.NoError(t, err)
		assert.Empty(t, aliceSet.FCMTokens)

		bobSet, err := store.TokensFor(ctx, bob)
		require.NoError(t, err)
		assert.Equal(t, []string{"bob-alive"}, bobSet.FCMTokens)
	})

	t.Run("PruneToken deletes web records by endpoint", func(t *testing.T) {
		sub := fanout.WebPushSubscription{
			Endpoint: "https://push.example/dead",
			Keys:     fanout.WebPushKeys{P256dh: []byte{0x01}, Auth: []byte{0x02}},
		}
		require.NoError(t, store.RegisterWeb(ctx, alice, sub))

		deleted, err := store.PruneToken(ctx, sub.Endpoint)
		require.NoError(t, err)
		assert.Equal(t, 1, deleted)

		set, err := store.TokensFor(ctx, alice)
		require.NoError(t, err)
		assert.Empty(t, set.WebSubscriptions)
	})

	t.Run("AppendHistory adds unread records with server timestamps", func(t *testing.T) {
		rec := fanout.HistoryRecord{
			Title: "Alice",
			Body:  "Hello there",
			Data:  map[string]string{"roomId": "room-1", "messageId": "msg-1"},
		}
		require.NoError(t, store.AppendHistory(ctx, bob, rec))
		require.NoError(t, store.AppendHistory(ctx, bob, rec))

		docs, err := client.Collection("users").Doc(bob.String()).
			Collection("notifications").Documents(ctx).GetAll()
		require.NoError(t, err)
		require.Len(t, docs, 2)

		data := docs[0].Data()
		assert.Equal(t, "Alice", data["title"])
		assert.Equal(t, false, data["isRead"])
		assert.NotNil(t, data["createdAt"])
	})
}
