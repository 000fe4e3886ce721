// --- File: internal/pipeline/engine.go ---
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	urn "github.com/tinywideclouds/go-platform/pkg/net/v1"

	"github.com/tinywideclouds/go-fanout-service/pkg/dispatch"
	"github.com/tinywideclouds/go-fanout-service/pkg/fanout"
)

// Disposition is the terminal state of one message event. No state is retried.
type Disposition string

const (
	// DispositionAborted: the room could not be resolved; no side effects.
	DispositionAborted Disposition = "aborted"
	// DispositionSkipped: no eligible recipient had a token; no call was made.
	DispositionSkipped Disposition = "skipped"
	// DispositionDispatchFailed: every attempted send failed at the transport
	// level; reconciliation (pruning + history) was skipped.
	DispositionDispatchFailed Disposition = "dispatch_failed"
	// DispositionReconciled: dispatch was attempted and reconciliation ran.
	DispositionReconciled Disposition = "reconciled"
)

// Engine executes the fan-out for one message-created event:
// resolve recipients, filter by preference, collect tokens, dispatch one
// shared payload per platform bucket, then reconcile (prune dead tokens,
// append history). One Engine serves many concurrent events; it holds no
// per-event state.
type Engine struct {
	store  fanout.Store
	tokens fanout.TokenReader
	fcm    dispatch.Dispatcher
	apns   dispatch.Dispatcher    // optional
	web    dispatch.WebDispatcher // optional
	logger *slog.Logger
}

// NewEngine wires the engine. apns and web may be nil when those platforms
// are not deployed; their buckets are then dropped with a warning.
func NewEngine(
	store fanout.Store,
	tokens fanout.TokenReader,
	fcm dispatch.Dispatcher,
	apns dispatch.Dispatcher,
	web dispatch.WebDispatcher,
	logger *slog.Logger,
) *Engine {
	return &Engine{
		store:  store,
		tokens: tokens,
		fcm:    fcm,
		apns:   apns,
		web:    web,
		logger: logger.With("component", "FanoutEngine"),
	}
}

// HandleMessageCreated runs the full pipeline for one event and returns its
// terminal state. The returned error is diagnostic only; the caller logs it
// and must not let it trigger a redelivery.
func (e *Engine) HandleMessageCreated(ctx context.Context, ev *fanout.MessageEvent) (Disposition, error) {
	// 1. Resolve the room. A missing room is terminal for this event.
	room, err := e.store.Room(ctx, ev.RoomID)
	if err != nil {
		if errors.Is(err, fanout.ErrRoomNotFound) {
			return DispositionAborted, err
		}
		return DispositionAborted, fmt.Errorf("room lookup failed: %w", err)
	}

	recipients := excludeAuthor(room.MemberIDs, ev.AuthorID)

	// 2. Resolve the author's display name for the title. A failed read is
	// observably the same as a missing record: fall back to the default.
	senderName, err := e.store.DisplayName(ctx, ev.AuthorID)
	if err != nil {
		e.logger.Warn("Sender lookup failed; using fallback name",
			"author", ev.AuthorID.String(), "err", err)
		senderName = ""
	}

	// 3. Preference filter + token collection, per recipient.
	eligible, batch := e.collectTargets(ctx, recipients)

	if batch.Empty() {
		e.logger.Info("No tokens to notify; dropping event.",
			"room_id", ev.RoomID, "message_id", ev.MessageID)
		return DispositionSkipped, nil
	}

	// 4. One shared payload for the whole batch.
	p := BuildPayload(senderName, ev)

	// 5. Dispatch each platform bucket.
	outcomes, attempted := e.dispatchBatch(ctx, batch, p)
	if attempted == 0 {
		return DispositionDispatchFailed, nil
	}

	// 6. Reconcile. Both halves are per-item best effort; a failure on one
	// item never aborts its siblings.
	e.pruneInvalid(ctx, outcomes)
	e.writeHistory(ctx, eligible, p, ev)

	return DispositionReconciled, nil
}

// collectTargets applies the preference filter and gathers tokens. It returns
// the recipients that passed the filter (the history cohort) and the combined
// token batch. Lookup failures degrade per recipient, never abort the event.
func (e *Engine) collectTargets(ctx context.Context, recipients []urn.URN) ([]urn.URN, *fanout.TokenSet) {
	eligible := make([]urn.URN, 0, len(recipients))
	batch := &fanout.TokenSet{}

	for _, recipient := range recipients {
		enabled, err := e.store.NotificationsEnabled(ctx, recipient)
		if err != nil {
			// Default-allow: an unreadable preference record behaves like an
			// absent one.
			e.logger.Warn("Preference lookup failed; treating recipient as opted-in",
				"recipient", recipient.String(), "err", err)
			enabled = true
		}
		if !enabled {
			continue
		}
		eligible = append(eligible, recipient)

		set, err := e.tokens.TokensFor(ctx, recipient)
		if err != nil {
			e.logger.Warn("Token lookup failed; recipient contributes no tokens",
				"recipient", recipient.String(), "err", err)
			continue
		}
		batch.Merge(set)
	}

	return eligible, batch
}

// dispatchBatch sends the payload to each populated platform bucket and merges
// the per-token outcomes. attempted counts the buckets that produced outcomes,
// i.e. were neither empty nor transport-failed.
func (e *Engine) dispatchBatch(ctx context.Context, batch *fanout.TokenSet, p *fanout.Payload) ([]dispatch.TokenOutcome, int) {
	var outcomes []dispatch.TokenOutcome
	attempted := 0

	collect := func(platform string, res *dispatch.Result, err error) {
		switch {
		case err != nil:
			e.logger.Error("Dispatch transport failure; dropping bucket",
				"platform", platform, "err", err)
		case res.Skipped:
			// Empty bucket, no call made.
		default:
			attempted++
			outcomes = append(outcomes, res.Outcomes...)
			e.logger.Info("Dispatched",
				"platform", platform,
				"success", res.SuccessCount, "failure", res.FailureCount)
		}
	}

	res, err := e.fcm.Dispatch(ctx, batch.FCMTokens, p)
	collect("fcm", res, err)

	if e.apns != nil {
		res, err = e.apns.Dispatch(ctx, batch.APNSTokens, p)
		collect("apns", res, err)
	} else if len(batch.APNSTokens) > 0 {
		e.logger.Warn("APNs tokens collected but no APNs dispatcher configured",
			"count", len(batch.APNSTokens))
	}

	if e.web != nil {
		webRes, webErr := e.web.Dispatch(ctx, batch.WebSubscriptions, p)
		collect("web", webRes, webErr)
	} else if len(batch.WebSubscriptions) > 0 {
		e.logger.Warn("Web subscriptions collected but no web dispatcher configured",
			"count", len(batch.WebSubscriptions))
	}

	return outcomes, attempted
}

// pruneInvalid deletes every stored record matching a permanently failed
// token value. Value-based across all owners, as the same token can be
// registered under more than one user.
func (e *Engine) pruneInvalid(ctx context.Context, outcomes []dispatch.TokenOutcome) {
	seen := make(map[string]struct{})
	for _, outcome := range outcomes {
		if outcome.Success || !outcome.Kind.Permanent() {
			continue
		}
		if _, dup := seen[outcome.Token]; dup {
			continue
		}
		seen[outcome.Token] = struct{}{}

		deleted, err := e.store.PruneToken(ctx, outcome.Token)
		if err != nil {
			e.logger.Warn("Failed to prune invalid token",
				"token", outcome.Token, "err", err)
			continue
		}
		e.logger.Info("Deleted invalid token",
			"token", outcome.Token, "kind", string(outcome.Kind), "records", deleted)
	}
}

// writeHistory appends one record per eligible recipient. History reflects
// "a notification was attempted for this cohort", not per-device delivery, so
// it runs for every recipient that passed the preference filter regardless of
// that recipient's own token outcomes.
func (e *Engine) writeHistory(ctx context.Context, eligible []urn.URN, p *fanout.Payload, ev *fanout.MessageEvent) {
	rec := fanout.HistoryRecord{
		Title: p.Title,
		Body:  p.Body,
		Data: map[string]string{
			"roomId":    ev.RoomID,
			"messageId": ev.MessageID,
		},
		IsRead: false,
	}

	for _, recipient := range eligible {
		if err := e.store.AppendHistory(ctx, recipient, rec); err != nil {
			e.logger.Warn("Failed to append notification history",
				"recipient", recipient.String(), "err", err)
		}
	}
}

// excludeAuthor removes the author from the member list, preserving order.
func excludeAuthor(members []urn.URN, author urn.URN) []urn.URN {
	recipients := make([]urn.URN, 0, len(members))
	for _, member := range members {
		if member.String() == author.String() {
			continue
		}
		recipients = append(recipients, member)
	}
	return recipients
}
