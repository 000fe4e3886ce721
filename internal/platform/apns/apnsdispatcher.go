// --- File: internal/platform/apns/apnsdispatcher.go ---
// Package apns provides the client for the Apple Push Notification Service.
package apns

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/sideshow/apns2"
	"github.com/sideshow/apns2/payload"
	"github.com/sideshow/apns2/token"

	"github.com/tinywideclouds/go-fanout-service/pkg/dispatch"
	"github.com/tinywideclouds/go-fanout-service/pkg/fanout"
)

// APNSClient defines the subset of the apns2.Client methods we use.
// This allows mocking for unit tests.
type APNSClient interface {
	Push(n *apns2.Notification) (*apns2.Response, error)
}

type Dispatcher struct {
	client APNSClient
	topic  string // The App Bundle ID (e.g. com.tinywide.messenger)
	logger *slog.Logger
}

// Config holds the credentials required to sign APNs tokens.
type Config struct {
	KeyID    string
	TeamID   string
	BundleID string
	// P8KeyContent is the raw string content of the .p8 file
	P8KeyContent string
}

// NewDispatcher creates a configured APNS dispatcher.
// It parses the P8 key immediately to fail fast on startup if credentials are bad.
func NewDispatcher(cfg Config, logger *slog.Logger) (*Dispatcher, error) {
	authKey, err := token.AuthKeyFromBytes([]byte(cfg.P8KeyContent))
	if err != nil {
		return nil, fmt.Errorf("failed to parse APNs P8 key: %w", err)
	}

	tokenSource := &token.Token{
		AuthKey: authKey,
		KeyID:   cfg.KeyID,
		TeamID:  cfg.TeamID,
	}

	return &Dispatcher{
		client: apns2.NewTokenClient(tokenSource),
		topic:  cfg.BundleID,
		logger: logger.With("component", "APNSDispatcher"),
	}, nil
}

// Dispatch sends the shared payload to a batch of APNs tokens.
// Note: the APNs HTTP/2 API is unary (one request per token); there is no
// multicast endpoint, so we iterate and assemble the batch result ourselves.
// A per-token transport error is recorded as a transient outcome rather than
// failing the batch, since the remaining tokens can still be served.
func (d *Dispatcher) Dispatch(ctx context.Context, tokens []string, p *fanout.Payload) (*dispatch.Result, error) {
	if len(tokens) == 0 {
		return &dispatch.Result{Skipped: true}, nil
	}

	builder := payload.NewPayload().
		AlertTitle(p.Title).
		AlertBody(p.Body).
		Badge(p.APNS.Badge).
		Sound(p.APNS.Sound)
	for k, v := range p.Data {
		builder.Custom(k, v)
	}

	result := &dispatch.Result{Outcomes: make([]dispatch.TokenOutcome, 0, len(tokens))}

	for _, deviceToken := range tokens {
		n := &apns2.Notification{
			DeviceToken: deviceToken,
			Topic:       d.topic,
			Payload:     builder,
		}

		res, err := d.client.Push(n)
		if err != nil {
			d.logger.Error("APNs transport failed", "token", deviceToken, "err", err)
			result.Outcomes = append(result.Outcomes,
				dispatch.TokenOutcome{Token: deviceToken, Kind: dispatch.KindTransient})
			result.FailureCount++
			continue
		}

		if res.Sent() {
			result.Outcomes = append(result.Outcomes,
				dispatch.TokenOutcome{Token: deviceToken, Success: true})
			result.SuccessCount++
			continue
		}

		result.FailureCount++
		kind := classifyReason(res.Reason)
		if !kind.Permanent() {
			// Might be our configuration, not the token; log for the operator.
			d.logger.Warn("APNs rejected notification",
				"reason", res.Reason, "status", res.StatusCode)
		}
		result.Outcomes = append(result.Outcomes,
			dispatch.TokenOutcome{Token: deviceToken, Kind: kind})
	}

	return result, nil
}

// classifyReason maps APNs rejection reasons onto the outcome taxonomy.
// See: https://developer.apple.com/documentation/usernotifications/handling-notification-responses-from-apns
func classifyReason(reason string) dispatch.ErrorKind {
	switch reason {
	case apns2.ReasonBadDeviceToken, apns2.ReasonDeviceTokenNotForTopic:
		return dispatch.KindInvalidToken
	case apns2.ReasonUnregistered:
		return dispatch.KindNotRegistered
	case apns2.ReasonInternalServerError, apns2.ReasonServiceUnavailable,
		apns2.ReasonShutdown, apns2.ReasonTooManyRequests:
		return dispatch.KindTransient
	default:
		return dispatch.KindUnknown
	}
}
