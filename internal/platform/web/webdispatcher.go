package web

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/SherClockHolmes/webpush-go"

	"github.com/tinywideclouds/go-fanout-service/fanoutservice/config"
	"github.com/tinywideclouds/go-fanout-service/pkg/dispatch"
	"github.com/tinywideclouds/go-fanout-service/pkg/fanout"
)

type Dispatcher struct {
	subscriber string
	privateKey string
	publicKey  string
	logger     *slog.Logger
	httpClient *http.Client
}

func NewDispatcher(cfg config.VapidConfig, logger *slog.Logger) *Dispatcher {
	return &Dispatcher{
		privateKey: cfg.PrivateKey,
		publicKey:  cfg.PublicKey,
		subscriber: cfg.SubscriberEmail,
		logger:     logger.With("component", "WebPushDispatcher"),
		httpClient: &http.Client{},
	}
}

// Dispatch sends the shared payload to a batch of web push subscriptions.
// Outcomes carry the subscription endpoint as the token value, so the same
// value-based pruning applies downstream.
func (d *Dispatcher) Dispatch(ctx context.Context, subs []fanout.WebPushSubscription, p *fanout.Payload) (*dispatch.Result, error) {
	if len(subs) == 0 {
		return &dispatch.Result{Skipped: true}, nil
	}

	// Standard web notification JSON structure.
	payloadBytes, err := json.Marshal(map[string]interface{}{
		"notification": map[string]string{
			"title": p.Title,
			"body":  p.Body,
		},
		"data": p.Data,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal payload: %w", err)
	}

	result := &dispatch.Result{Outcomes: make([]dispatch.TokenOutcome, 0, len(subs))}

	for _, sub := range subs {
		s := &webpush.Subscription{
			Endpoint: sub.Endpoint,
			Keys: webpush.Keys{
				// The library wants Base64 strings, not raw bytes.
				P256dh: base64.RawURLEncoding.EncodeToString(sub.Keys.P256dh),
				Auth:   base64.RawURLEncoding.EncodeToString(sub.Keys.Auth),
			},
		}

		resp, err := webpush.SendNotification(payloadBytes, s, &webpush.Options{
			Subscriber:      d.subscriber,
			VAPIDPublicKey:  d.publicKey,
			VAPIDPrivateKey: d.privateKey,
			TTL:             60,
			HTTPClient:      d.httpClient,
		})

		outcome := dispatch.TokenOutcome{Token: sub.Endpoint}
		if err != nil {
			// Transport error (DNS, timeout): keep the subscription.
			d.logger.Error("WebPush transport error", "endpoint", sub.Endpoint, "err", err)
			outcome.Kind = dispatch.KindTransient
			result.FailureCount++
			result.Outcomes = append(result.Outcomes, outcome)
			continue
		}
		_ = resp.Body.Close()

		switch resp.StatusCode {
		case http.StatusCreated:
			outcome.Success = true
			result.SuccessCount++
		case http.StatusGone, http.StatusNotFound:
			// The subscription is dead; report it for cleanup.
			outcome.Kind = dispatch.KindNotRegistered
			result.FailureCount++
		default:
			d.logger.Warn("WebPush rejected", "status", resp.StatusCode, "endpoint", sub.Endpoint)
			outcome.Kind = dispatch.KindUnknown
			result.FailureCount++
		}
		result.Outcomes = append(result.Outcomes, outcome)
	}

	return result, nil
}
