// --- File: internal/pipeline/transformer.go ---
// Package pipeline contains the core message processing components for the
// fan-out service.
package pipeline

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/illmade-knight/go-dataflow/pkg/messagepipeline"
	urn "github.com/tinywideclouds/go-platform/pkg/net/v1"

	"github.com/tinywideclouds/go-fanout-service/pkg/fanout"
)

// messageEventWire mirrors the JSON the chat service publishes when a message
// document is created.
type messageEventWire struct {
	RoomID    string    `json:"roomId"`
	MessageID string    `json:"messageId"`
	AuthorID  string    `json:"authorId"`
	Text      string    `json:"text"`
	CreatedAt time.Time `json:"createdAt"`
}

// MessageEventTransformer is a dataflow Transformer that safely unmarshals
// and validates a raw message payload into a structured fanout.MessageEvent.
//
// On any failure (malformed JSON, missing identifiers, invalid author URN) it
// returns an error with skip=true so the StreamingService can handle the
// Nack/DLQ logic; a poison message must never reach the engine.
func MessageEventTransformer(
	_ context.Context,
	msg *messagepipeline.Message,
) (*fanout.MessageEvent, bool, error) {
	var wire messageEventWire
	if err := json.Unmarshal(msg.Payload, &wire); err != nil {
		return nil, true, fmt.Errorf("failed to unmarshal message event from message %s: %w", msg.ID, err)
	}

	if wire.RoomID == "" || wire.MessageID == "" || wire.AuthorID == "" {
		return nil, true, fmt.Errorf("message event %s is missing room, message or author id", msg.ID)
	}

	author, err := urn.Parse(wire.AuthorID)
	if err != nil {
		return nil, true, fmt.Errorf("failed to convert wire event to native event: %w", err)
	}

	return &fanout.MessageEvent{
		RoomID:    wire.RoomID,
		MessageID: wire.MessageID,
		AuthorID:  author,
		Text:      wire.Text,
		CreatedAt: wire.CreatedAt,
	}, false, nil
}
