// --- File: internal/pipeline/payload.go ---
package pipeline

import (
	"github.com/tinywideclouds/go-fanout-service/pkg/fanout"
)

// Delivery constants. These are contract values shared with the mobile and
// web clients; changing them breaks notification routing on the client side.
const (
	defaultSenderName = "Someone"
	maxBodyRunes      = 100
	truncationMarker  = "..."

	clickAction      = "FLUTTER_NOTIFICATION_CLICK"
	androidChannelID = "chat_messages"
	androidPriority  = "high"
	apnsBadge        = 1
	apnsSound        = "default"
)

// BuildPayload constructs the single payload shared by every token in one
// fan-out batch. Pure function: same event in, same payload out.
func BuildPayload(senderName string, ev *fanout.MessageEvent) *fanout.Payload {
	if senderName == "" {
		senderName = defaultSenderName
	}

	return &fanout.Payload{
		Title: senderName,
		Body:  previewText(ev.Text),
		Data: map[string]string{
			"roomId":       ev.RoomID,
			"messageId":    ev.MessageID,
			"authorId":     ev.AuthorID.String(),
			"click_action": clickAction,
		},
		Android: fanout.AndroidHints{
			ChannelID:    androidChannelID,
			Priority:     androidPriority,
			DefaultSound: true,
		},
		APNS: fanout.APNSHints{
			Badge: apnsBadge,
			Sound: apnsSound,
		},
	}
}

// previewText truncates the message text for the notification body.
// Counted in runes so a multi-byte character is never split.
func previewText(text string) string {
	runes := []rune(text)
	if len(runes) <= maxBodyRunes {
		return text
	}
	return string(runes[:maxBodyRunes]) + truncationMarker
}
