// --- File: internal/pipeline/processor.go ---
package pipeline

import (
	"context"
	"log/slog"

	"github.com/illmade-knight/go-dataflow/pkg/messagepipeline"

	"github.com/tinywideclouds/go-fanout-service/pkg/fanout"
)

// NewProcessor adapts the fan-out engine to the streaming pipeline.
//
// Delivery is fire-and-forget per event: every engine failure is logged here
// and the message is acked regardless, so the hosting subscription never
// redelivers on our behalf. The only path back to the broker is the
// transformer's skip (poison messages, which go to the DLQ).
func NewProcessor(engine *Engine, logger *slog.Logger) messagepipeline.StreamProcessor[fanout.MessageEvent] {
	return func(ctx context.Context, original messagepipeline.Message, ev *fanout.MessageEvent) error {
		procLogger := logger.With(
			"room_id", ev.RoomID,
			"message_id", ev.MessageID,
			"pubsub_msg_id", original.ID,
		)

		disposition, err := engine.HandleMessageCreated(ctx, ev)
		if err != nil {
			procLogger.Error("Fan-out ended abnormally",
				"disposition", string(disposition), "err", err)
			return nil
		}

		procLogger.Info("Fan-out complete", "disposition", string(disposition))
		return nil
	}
}
