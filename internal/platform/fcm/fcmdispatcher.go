// --- File: internal/platform/fcm/fcmdispatcher.go ---
package fcm

import (
	"context"
	"fmt"
	"log/slog"

	"firebase.google.com/go/v4/errorutils"
	"firebase.google.com/go/v4/messaging"

	"github.com/tinywideclouds/go-fanout-service/pkg/dispatch"
	"github.com/tinywideclouds/go-fanout-service/pkg/fanout"
)

// MessagingClient defines the subset of the Firebase Messaging API we use.
// This interface allows us to mock the client for unit testing.
type MessagingClient interface {
	SendEachForMulticast(ctx context.Context, msg *messaging.MulticastMessage) (*messaging.BatchResponse, error)
}

// Dispatcher is the batch multicast sender: one SendEachForMulticast call per
// fan-out, with independent per-token outcomes.
type Dispatcher struct {
	client MessagingClient // Changed from *messaging.Client
	logger *slog.Logger
}

// NewDispatcher accepts the concrete client but stores it as the interface.
// Note: *messaging.Client automatically satisfies this interface.
func NewDispatcher(client MessagingClient, logger *slog.Logger) *Dispatcher {
	return &Dispatcher{
		client: client,
		logger: logger.With("component", "FCMDispatcher"),
	}
}

// Dispatch sends the shared payload to the whole token batch in one call.
// An empty batch returns a Skipped result without touching the transport; a
// failed call returns an error and no outcomes.
func (d *Dispatcher) Dispatch(ctx context.Context, tokens []string, p *fanout.Payload) (*dispatch.Result, error) {
	if len(tokens) == 0 {
		return &dispatch.Result{Skipped: true}, nil
	}

	badge := p.APNS.Badge
	msg := &messaging.MulticastMessage{
		Tokens: tokens,
		Data:   p.Data,
		Notification: &messaging.Notification{
			Title: p.Title,
			Body:  p.Body,
		},
		Android: &messaging.AndroidConfig{
			Notification: &messaging.AndroidNotification{
				ChannelID:    p.Android.ChannelID,
				Priority:     androidPriority(p.Android.Priority),
				DefaultSound: p.Android.DefaultSound,
			},
		},
		APNS: &messaging.APNSConfig{
			Payload: &messaging.APNSPayload{
				Aps: &messaging.Aps{
					Badge: &badge,
					Sound: p.APNS.Sound,
				},
			},
		},
	}

	br, err := d.client.SendEachForMulticast(ctx, msg)
	if err != nil {
		return nil, fmt.Errorf("fcm transport failed: %w", err)
	}

	result := &dispatch.Result{
		SuccessCount: br.SuccessCount,
		FailureCount: br.FailureCount,
		Outcomes:     make([]dispatch.TokenOutcome, len(br.Responses)),
	}
	for idx, resp := range br.Responses {
		outcome := dispatch.TokenOutcome{Token: tokens[idx], Success: resp.Success}
		if !resp.Success {
			outcome.Kind = classify(resp.Error)
		}
		result.Outcomes[idx] = outcome
	}

	d.logger.Debug("FCM batch sent",
		"success", result.SuccessCount, "failure", result.FailureCount)
	return result, nil
}

// classify maps an FCM per-token error onto our outcome taxonomy. Only the
// two registration errors are permanent; everything else keeps the token.
func classify(err error) dispatch.ErrorKind {
	switch {
	case messaging.IsRegistrationTokenNotRegistered(err):
		return dispatch.KindNotRegistered
	case messaging.IsInvalidArgument(err):
		return dispatch.KindInvalidToken
	case errorutils.IsUnavailable(err), errorutils.IsInternal(err), errorutils.IsDeadlineExceeded(err):
		return dispatch.KindTransient
	default:
		return dispatch.KindUnknown
	}
}

func androidPriority(p string) messaging.AndroidNotificationPriority {
	if p == "high" {
		return messaging.PriorityHigh
	}
	return messaging.PriorityDefault
}
