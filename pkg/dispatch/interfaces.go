// --- File: pkg/dispatch/interfaces.go ---
// Package dispatch defines the delivery-transport contracts: a dispatcher
// sends one shared payload to a batch of targets and reports a structured
// per-target outcome, never assumed atomic across the batch.
package dispatch

import (
	"context"

	"github.com/tinywideclouds/go-fanout-service/pkg/fanout"
)

// ErrorKind classifies a per-token delivery failure.
type ErrorKind string

const (
	// KindInvalidToken: the token is structurally garbage.
	KindInvalidToken ErrorKind = "invalid_token"
	// KindNotRegistered: the token was valid once but the device is gone.
	KindNotRegistered ErrorKind = "not_registered"
	// KindTransient: the failure may not recur; keep the token.
	KindTransient ErrorKind = "transient"
	// KindUnknown: unclassified; treated like transient (keep the token).
	KindUnknown ErrorKind = "unknown"
)

// Permanent reports whether the token is proven dead and must be pruned.
func (k ErrorKind) Permanent() bool {
	return k == KindInvalidToken || k == KindNotRegistered
}

// TokenOutcome is the result for a single target of a batch. For web push the
// Token field carries the subscription endpoint.
type TokenOutcome struct {
	Token   string
	Success bool
	Kind    ErrorKind
}

// Result is the tagged outcome of one batched send attempt:
//
//	Skipped == true        -> empty batch, no external call was made
//	error (from Dispatch)  -> the whole call failed at the transport level
//	otherwise              -> sent; Outcomes holds one entry per input token,
//	                          in input order
type Result struct {
	Skipped      bool
	Outcomes     []TokenOutcome
	SuccessCount int
	FailureCount int
}

// Invalid returns the deduplicated token values with a permanent failure.
func (r *Result) Invalid() []string {
	seen := make(map[string]struct{})
	var invalid []string
	for _, o := range r.Outcomes {
		if o.Success || !o.Kind.Permanent() {
			continue
		}
		if _, dup := seen[o.Token]; dup {
			continue
		}
		seen[o.Token] = struct{}{}
		invalid = append(invalid, o.Token)
	}
	return invalid
}

// Dispatcher sends one payload to a batch of platform tokens.
type Dispatcher interface {
	Dispatch(ctx context.Context, tokens []string, p *fanout.Payload) (*Result, error)
}

// WebDispatcher sends one payload to a batch of web push subscriptions.
type WebDispatcher interface {
	Dispatch(ctx context.Context, subs []fanout.WebPushSubscription, p *fanout.Payload) (*Result, error)
}
