package api

import (
	"context"
	"encoding/json"
	"net/http"

	"log/slog"

	"github.com/tinywideclouds/go-microservice-base/pkg/middleware"
	"github.com/tinywideclouds/go-microservice-base/pkg/response"
	urn "github.com/tinywideclouds/go-platform/pkg/net/v1"

	"github.com/tinywideclouds/go-fanout-service/pkg/fanout"
)

// TokenAPI exposes device registration for the fan-out's token registry.
// One door per platform bucket: fcm, apns, web.
type TokenAPI struct {
	Store  fanout.TokenRegistry
	Logger *slog.Logger
}

func NewTokenAPI(store fanout.TokenRegistry, logger *slog.Logger) *TokenAPI {
	return &TokenAPI{
		Store:  store,
		Logger: logger,
	}
}

// TokenRequest is the body for the string-token doors (fcm, apns).
type TokenRequest struct {
	Token string `json:"token"`
}

// --- DOOR A: Mobile (FCM) ---

func (api *TokenAPI) RegisterFCM(w http.ResponseWriter, r *http.Request) {
	api.registerToken(w, r, "fcm", api.Store.RegisterFCM)
}

func (api *TokenAPI) UnregisterFCM(w http.ResponseWriter, r *http.Request) {
	api.unregisterToken(w, r, "fcm", api.Store.UnregisterFCM)
}

// --- DOOR B: Mobile (APNs direct) ---

func (api *TokenAPI) RegisterAPNS(w http.ResponseWriter, r *http.Request) {
	api.registerToken(w, r, "apns", api.Store.RegisterAPNS)
}

func (api *TokenAPI) UnregisterAPNS(w http.ResponseWriter, r *http.Request) {
	api.unregisterToken(w, r, "apns", api.Store.UnregisterAPNS)
}

// --- DOOR C: Web (VAPID) ---

func (api *TokenAPI) RegisterWeb(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	userURN, ok := api.callerURN(w, r)
	if !ok {
		return
	}

	// Decode directly into the domain object.
	var sub fanout.WebPushSubscription
	if err := json.NewDecoder(r.Body).Decode(&sub); err != nil {
		api.Logger.Error("RegisterWeb: JSON Decode failed", "err", err)
		response.WriteJSONError(w, http.StatusBadRequest, "invalid subscription json")
		return
	}

	// Validate the Web Object (the "Big JSON" keys must exist).
	if sub.Endpoint == "" || len(sub.Keys.P256dh) == 0 || len(sub.Keys.Auth) == 0 {
		api.Logger.Warn("RegisterWeb: Validation failed", "reason", "missing fields")
		response.WriteJSONError(w, http.StatusBadRequest, "incomplete subscription object")
		return
	}

	if err := api.Store.RegisterWeb(ctx, userURN, sub); err != nil {
		api.Logger.Error("failed to register web", "err", err)
		response.WriteJSONError(w, http.StatusInternalServerError, "storage failed")
		return
	}
	api.Logger.Info("RegisterWeb: Subscription registered", "user", userURN, "endpoint", sub.Endpoint)

	w.WriteHeader(http.StatusNoContent)
}

type UnregisterWebRequest struct {
	Endpoint string `json:"endpoint"`
}

func (api *TokenAPI) UnregisterWeb(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	userURN, ok := api.callerURN(w, r)
	if !ok {
		return
	}

	var req UnregisterWebRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		api.Logger.Error("UnregisterWeb: JSON Decode failed", "err", err)
		response.WriteJSONError(w, http.StatusBadRequest, "invalid json")
		return
	}

	// Only the Endpoint URL is needed to identify and delete the row.
	if req.Endpoint == "" {
		api.Logger.Warn("UnregisterWeb: Validation failed", "reason", "missing endpoint")
		response.WriteJSONError(w, http.StatusBadRequest, "missing endpoint")
		return
	}

	if err := api.Store.UnregisterWeb(ctx, userURN, req.Endpoint); err != nil {
		api.Logger.Warn("failed to unregister web", "err", err)
		response.WriteJSONError(w, http.StatusInternalServerError, "failed to unregister web")
		return
	}
	api.Logger.Info("UnregisterWeb: Subscription unregistered", "user", userURN, "endpoint", req.Endpoint)

	w.WriteHeader(http.StatusNoContent)
}

// --- Shared plumbing for the string-token doors ---

func (api *TokenAPI) registerToken(
	w http.ResponseWriter,
	r *http.Request,
	platform string,
	register func(ctx context.Context, user urn.URN, token string) error,
) {
	ctx := r.Context()
	userURN, ok := api.callerURN(w, r)
	if !ok {
		return
	}

	var req TokenRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		response.WriteJSONError(w, http.StatusBadRequest, "invalid json")
		return
	}
	if req.Token == "" {
		response.WriteJSONError(w, http.StatusBadRequest, "missing token")
		return
	}

	if err := register(ctx, userURN, req.Token); err != nil {
		api.Logger.Error("failed to register token", "platform", platform, "err", err)
		response.WriteJSONError(w, http.StatusInternalServerError, "storage failed")
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

func (api *TokenAPI) unregisterToken(
	w http.ResponseWriter,
	r *http.Request,
	platform string,
	unregister func(ctx context.Context, user urn.URN, token string) error,
) {
	ctx := r.Context()
	userURN, ok := api.callerURN(w, r)
	if !ok {
		return
	}

	var req TokenRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		response.WriteJSONError(w, http.StatusBadRequest, "invalid json")
		return
	}

	if err := unregister(ctx, userURN, req.Token); err != nil {
		// Log but don't fail hard; idempotency is preferred for unregister.
		api.Logger.Warn("failed to unregister token", "platform", platform, "err", err)
	}

	w.WriteHeader(http.StatusNoContent)
}

// callerURN resolves the authenticated caller from the request context.
func (api *TokenAPI) callerURN(w http.ResponseWriter, r *http.Request) (urn.URN, bool) {
	var zero urn.URN
	userID, ok := middleware.GetUserHandleFromContext(r.Context())
	if !ok {
		response.WriteJSONError(w, http.StatusUnauthorized, "unauthorized")
		return zero, false
	}
	userURN, err := urn.Parse(userID)
	if err != nil {
		response.WriteJSONError(w, http.StatusUnauthorized, "invalid user identity")
		return zero, false
	}
	return userURN, true
}
