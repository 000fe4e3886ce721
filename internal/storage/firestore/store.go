// --- File: internal/storage/firestore/store.go ---
package firestore

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"time"

	"cloud.google.com/go/firestore"
	"google.golang.org/api/iterator"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	urn "github.com/tinywideclouds/go-platform/pkg/net/v1"

	"github.com/tinywideclouds/go-fanout-service/pkg/fanout"
)

// Store implements the fan-out storage contracts on Google Cloud Firestore.
//
// Document layout (shared with the chat service and the clients):
//
//	rooms/{roomId}                         {memberIds: []string}
//	users/{userId}                         {name: string}
//	user_preferences/{userId}              {notificationsEnabled: bool}
//	users/{userId}/devices/{sha256(value)} deviceRecord
//	users/{userId}/notifications/{auto}    historyRecord
type Store struct {
	client *firestore.Client
}

func NewStore(client *firestore.Client) *Store {
	return &Store{client: client}
}

type roomRecord struct {
	MemberIDs []string `firestore:"memberIds"`
}

type userRecord struct {
	Name string `firestore:"name"`
}

type preferenceRecord struct {
	// Pointer so an absent field is distinguishable from an explicit false.
	NotificationsEnabled *bool `firestore:"notificationsEnabled"`
}

// deviceRecord is the internal DB representation.
// It can hold EITHER a simple token string OR a web subscription object.
type deviceRecord struct {
	Platform        string                      `firestore:"platform"`
	Token           string                      `firestore:"token,omitempty"`            // Used for Android/iOS
	WebSubscription *fanout.WebPushSubscription `firestore:"web_subscription,omitempty"` // Used for Web
	UpdatedAt       time.Time                   `firestore:"updated_at"`
}

type historyRecord struct {
	Title  string            `firestore:"title"`
	Body   string            `firestore:"body"`
	Data   map[string]string `firestore:"data"`
	IsRead bool              `firestore:"isRead"`
	// Zero value + serverTimestamp tag: Firestore assigns the write time.
	CreatedAt time.Time `firestore:"createdAt,serverTimestamp"`
}

// --- RESOLUTION READS ---

// Room returns the membership record, wrapping fanout.ErrRoomNotFound for a
// missing document. Member entries that fail URN parsing are skipped; a
// corrupt row must not block the rest of the room.
func (s *Store) Room(ctx context.Context, roomID string) (*fanout.Room, error) {
	doc, err := s.client.Collection("rooms").Doc(roomID).Get(ctx)
	if err != nil {
		if status.Code(err) == codes.NotFound {
			return nil, fmt.Errorf("room %s: %w", roomID, fanout.ErrRoomNotFound)
		}
		return nil, fmt.Errorf("room read failed: %w", err)
	}

	var record roomRecord
	if err := doc.DataTo(&record); err != nil {
		return nil, fmt.Errorf("room %s decode failed: %w", roomID, err)
	}

	room := &fanout.Room{ID: roomID, MemberIDs: make([]urn.URN, 0, len(record.MemberIDs))}
	for _, raw := range record.MemberIDs {
		member, err := urn.Parse(raw)
		if err != nil {
			continue
		}
		room.MemberIDs = append(room.MemberIDs, member)
	}
	return room, nil
}

// DisplayName returns "" for a missing user or an undecodable record; the
// caller substitutes the fallback title either way.
func (s *Store) DisplayName(ctx context.Context, user urn.URN) (string, error) {
	doc, err := s.client.Collection("users").Doc(user.String()).Get(ctx)
	if err != nil {
		if status.Code(err) == codes.NotFound {
			return "", nil
		}
		return "", fmt.Errorf("user read failed: %w", err)
	}

	var record userRecord
	if err := doc.DataTo(&record); err != nil {
		return "", nil
	}
	return record.Name, nil
}

// NotificationsEnabled is default-allow: a missing document, a missing field
// or a malformed record all read as opted-in. Only an explicit false opts out.
func (s *Store) NotificationsEnabled(ctx context.Context, user urn.URN) (bool, error) {
	doc, err := s.client.Collection("user_preferences").Doc(user.String()).Get(ctx)
	if err != nil {
		if status.Code(err) == codes.NotFound {
			return true, nil
		}
		return false, fmt.Errorf("preference read failed: %w", err)
	}

	var record preferenceRecord
	if err := doc.DataTo(&record); err != nil {
		return true, nil
	}
	return record.NotificationsEnabled == nil || *record.NotificationsEnabled, nil
}

// --- FAN-OUT (The Lookup) ---

// TokensFor sorts a user's device records into per-platform buckets.
func (s *Store) TokensFor(ctx context.Context, user urn.URN) (*fanout.TokenSet, error) {
	iter := s.devicesCollection(user).Documents(ctx)
	defer iter.Stop()

	set := &fanout.TokenSet{
		FCMTokens:        make([]string, 0),
		APNSTokens:       make([]string, 0),
		WebSubscriptions: make([]fanout.WebPushSubscription, 0),
	}

	for {
		doc, err := iter.Next()
		if err == iterator.Done {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("firestore iteration failed: %w", err)
		}

		var record deviceRecord
		if err := doc.DataTo(&record); err != nil {
			// Safe to skip corrupt rows.
			continue
		}

		switch {
		case record.Platform == "web" && record.WebSubscription != nil:
			set.WebSubscriptions = append(set.WebSubscriptions, *record.WebSubscription)
		case record.Platform == "apns" && record.Token != "":
			set.APNSTokens = append(set.APNSTokens, record.Token)
		case record.Token != "":
			// Mobile default bucket.
			set.FCMTokens = append(set.FCMTokens, record.Token)
		}
	}

	return set, nil
}

// --- REGISTRATION ---

func (s *Store) RegisterFCM(ctx context.Context, user urn.URN, token string) error {
	return s.registerToken(ctx, user, "fcm", token)
}

func (s *Store) UnregisterFCM(ctx context.Context, user urn.URN, token string) error {
	_, err := s.deviceRef(user, hashToken(token)).Delete(ctx)
	return err
}

func (s *Store) RegisterAPNS(ctx context.Context, user urn.URN, token string) error {
	return s.registerToken(ctx, user, "apns", token)
}

func (s *Store) UnregisterAPNS(ctx context.Context, user urn.URN, token string) error {
	_, err := s.deviceRef(user, hashToken(token)).Delete(ctx)
	return err
}

func (s *Store) RegisterWeb(ctx context.Context, user urn.URN, sub fanout.WebPushSubscription) error {
	// For Web, the Endpoint URL is the unique identifier.
	record := deviceRecord{
		Platform:        "web",
		WebSubscription: &sub,
		UpdatedAt:       time.Now(),
	}
	_, err := s.deviceRef(user, hashToken(sub.Endpoint)).Set(ctx, record)
	return err
}

func (s *Store) UnregisterWeb(ctx context.Context, user urn.URN, endpoint string) error {
	_, err := s.deviceRef(user, hashToken(endpoint)).Delete(ctx)
	return err
}

func (s *Store) registerToken(ctx context.Context, user urn.URN, platform, token string) error {
	// Hash of the token as Doc ID to prevent duplicates and hot-spotting.
	record := deviceRecord{
		Platform:  platform,
		Token:     token,
		UpdatedAt: time.Now(),
	}
	_, err := s.deviceRef(user, hashToken(token)).Set(ctx, record)
	return err
}

// --- RECONCILIATION WRITES ---

// PruneToken deletes every device record, across all owners, whose token
// value (or web endpoint) equals value. Returns the number of records removed.
func (s *Store) PruneToken(ctx context.Context, value string) (int, error) {
	deleted := 0
	for _, field := range []string{"token", "web_subscription.endpoint"} {
		n, err := s.pruneByField(ctx, field, value)
		deleted += n
		if err != nil {
			return deleted, err
		}
	}
	return deleted, nil
}

func (s *Store) pruneByField(ctx context.Context, field, value string) (int, error) {
	iter := s.client.CollectionGroup("devices").Where(field, "==", value).Documents(ctx)
	defer iter.Stop()

	deleted := 0
	for {
		doc, err := iter.Next()
		if err == iterator.Done {
			return deleted, nil
		}
		if err != nil {
			return deleted, fmt.Errorf("device scan failed: %w", err)
		}
		if _, err := doc.Ref.Delete(ctx); err != nil {
			return deleted, fmt.Errorf("device delete failed: %w", err)
		}
		deleted++
	}
}

// AppendHistory adds one record to the recipient's notification history with
// a server-assigned timestamp.
func (s *Store) AppendHistory(ctx context.Context, recipient urn.URN, rec fanout.HistoryRecord) error {
	record := historyRecord{
		Title:  rec.Title,
		Body:   rec.Body,
		Data:   rec.Data,
		IsRead: rec.IsRead,
	}
	_, _, err := s.client.Collection("users").Doc(recipient.String()).
		Collection("notifications").Add(ctx, record)
	if err != nil {
		return fmt.Errorf("history append failed: %w", err)
	}
	return nil
}

// --- Helpers ---

// deviceRef: users/{userID}/devices/{deviceHash}
func (s *Store) deviceRef(user urn.URN, docID string) *firestore.DocumentRef {
	return s.devicesCollection(user).Doc(docID)
}

func (s *Store) devicesCollection(user urn.URN) *firestore.CollectionRef {
	return s.client.Collection("users").Doc(user.String()).Collection("devices")
}

func hashToken(t string) string {
	sum := sha256.Sum256([]byte(t))
	return hex.EncodeToString(sum[:])
}
