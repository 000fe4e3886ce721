// --- File: internal/pipeline/processor_test.go ---
package pipeline_test

import (
	"context"
	"testing"

	"github.com/illmade-knight/go-dataflow/pkg/messagepipeline"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	urn "github.com/tinywideclouds/go-platform/pkg/net/v1"

	"github.com/tinywideclouds/go-fanout-service/internal/pipeline"
	"github.com/tinywideclouds/go-fanout-service/pkg/fanout"
)

// The processor must ack every message the transformer lets through: the
// fan-out is fire-and-forget, and a redelivery would duplicate pushes.
func TestProcessor_AlwaysAcks(t *testing.T) {
	ctx := context.Background()
	logger := newTestLogger()

	alice := mustURN(t, "urn:sm:user:alice")
	bob := mustURN(t, "urn:sm:user:bob")
	msg := messagepipeline.Message{
		MessageData: messagepipeline.MessageData{ID: "pubsub-1"},
	}

	t.Run("Acks a successful fan-out", func(t *testing.T) {
		store := new(mockStore)
		tokens := new(mockTokenReader)
		fcm := new(mockBatchDispatcher)

		store.On("Room", mock.Anything, "room-1").
			Return(&fanout.Room{ID: "room-1", MemberIDs: []urn.URN{alice, bob}}, nil)
		store.On("DisplayName", mock.Anything, alice).Return("Alice", nil)
		store.On("NotificationsEnabled", mock.Anything, bob).Return(true, nil)
		tokens.On("TokensFor", mock.Anything, bob).
			Return(&fanout.TokenSet{FCMTokens: []string{"t-bob"}}, nil)
		fcm.On("Dispatch", mock.Anything, []string{"t-bob"}, mock.Anything).
			Return(successResult("t-bob"), nil)
		store.On("AppendHistory", mock.Anything, bob, mock.Anything).Return(nil)

		engine := pipeline.NewEngine(store, tokens, fcm, nil, nil, logger)
		processor := pipeline.NewProcessor(engine, logger)

		err := processor(ctx, msg, testEvent(t, alice))
		require.NoError(t, err)
	})

	t.Run("Acks even when the room is missing", func(t *testing.T) {
		store := new(mockStore)
		tokens := new(mockTokenReader)
		fcm := new(mockBatchDispatcher)

		store.On("Room", mock.Anything, "room-1").
			Return(nil, fanout.ErrRoomNotFound)

		engine := pipeline.NewEngine(store, tokens, fcm, nil, nil, logger)
		processor := pipeline.NewProcessor(engine, logger)

		// The engine reports the abort; the processor swallows it so the
		// broker never redelivers.
		err := processor(ctx, msg, testEvent(t, alice))
		require.NoError(t, err)
	})
}
