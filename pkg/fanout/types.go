// --- File: pkg/fanout/types.go ---
// Package fanout contains the public domain model and storage contracts for
// the chat-message fan-out core.
package fanout

import (
	"errors"
	"time"

	urn "github.com/tinywideclouds/go-platform/pkg/net/v1"
)

// ErrRoomNotFound signals a message event referencing a room that does not
// exist. The whole fan-out aborts with no side effects.
var ErrRoomNotFound = errors.New("room not found")

// MessageEvent is the immutable input to the core: one newly created chat
// message, produced by the chat service and consumed exactly once.
type MessageEvent struct {
	RoomID    string
	MessageID string
	AuthorID  urn.URN
	Text      string
	CreatedAt time.Time
}

// Room is the read-only membership record for a chat room.
// MemberIDs preserves the stored order.
type Room struct {
	ID        string
	MemberIDs []urn.URN
}

// WebPushKeys holds the client encryption keys of a web push subscription.
type WebPushKeys struct {
	P256dh []byte `json:"p256dh"`
	Auth   []byte `json:"auth"`
}

// WebPushSubscription is a browser push registration. The Endpoint URL is the
// unique identifier, playing the same role a device token does for mobile.
type WebPushSubscription struct {
	Endpoint string      `json:"endpoint"`
	Keys     WebPushKeys `json:"keys"`
}

// TokenSet is one user's registered delivery targets, bucketed per platform.
type TokenSet struct {
	FCMTokens        []string              `json:"fcm_tokens"`
	APNSTokens       []string              `json:"apns_tokens"`
	WebSubscriptions []WebPushSubscription `json:"web_subscriptions"`
}

// Empty reports whether the set holds no targets at all.
func (s *TokenSet) Empty() bool {
	return len(s.FCMTokens) == 0 && len(s.APNSTokens) == 0 && len(s.WebSubscriptions) == 0
}

// Merge appends every target of other into s.
func (s *TokenSet) Merge(other *TokenSet) {
	s.FCMTokens = append(s.FCMTokens, other.FCMTokens...)
	s.APNSTokens = append(s.APNSTokens, other.APNSTokens...)
	s.WebSubscriptions = append(s.WebSubscriptions, other.WebSubscriptions...)
}

// AndroidHints are the fixed Android delivery hints carried by every payload.
type AndroidHints struct {
	ChannelID    string
	Priority     string
	DefaultSound bool
}

// APNSHints are the fixed Apple delivery hints carried by every payload.
type APNSHints struct {
	Badge int
	Sound string
}

// Payload is the single notification payload shared, unmodified, by every
// token in one fan-out batch. There is no per-recipient personalization.
type Payload struct {
	Title   string
	Body    string
	Data    map[string]string
	Android AndroidHints
	APNS    APNSHints
}

// HistoryRecord is one entry in a recipient's notification history. The store
// assigns the server-side creation timestamp; the core never mutates a record
// after it is appended.
type HistoryRecord struct {
	Title  string
	Body   string
	Data   map[string]string
	IsRead bool
}
