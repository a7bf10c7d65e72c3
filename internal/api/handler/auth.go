package handler

import (
	"context"
	"net/http"
	"strings"

	"github.com/ayo6706/remit-board/internal/domain"
	"github.com/ayo6706/remit-board/internal/identity"
	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"
)

type AuthHandler struct {
	sessions   *identity.Sessions
	challenger *identity.Challenger
	federated  *identity.FederatedVerifier
	redirects  identity.RedirectStore
	logger     *zap.Logger
}

func NewAuthHandler(sessions *identity.Sessions, challenger *identity.Challenger, federated *identity.FederatedVerifier, redirects identity.RedirectStore) *AuthHandler {
	return &AuthHandler{
		sessions:   sessions,
		challenger: challenger,
		federated:  federated,
		redirects:  redirects,
		logger:     zap.L().Named("auth"),
	}
}

type challengeRequest struct {
	PhoneNumber string `json:"phone_number"`
	RedirectTo  string `json:"redirect_to,omitempty"`
}

type confirmRequest struct {
	Code string `json:"code"`
}

type federatedRequest struct {
	IDToken string `json:"id_token"`
	State   string `json:"state,omitempty"`
}

type redirectRequest struct {
	Target string `json:"target"`
}

type signInResponse struct {
	Token      string           `json:"token"`
	Session    identity.Session `json:"session"`
	RedirectTo string           `json:"redirect_to,omitempty"`
}

// RequestChallenge sends a one-time code to the given phone number.
func (h *AuthHandler) RequestChallenge(w http.ResponseWriter, r *http.Request) {
	var req challengeRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if req.RedirectTo != "" {
		if err := identity.ValidateRedirectTarget(req.RedirectTo); err != nil {
			RespondDomainError(w, r, err)
			return
		}
	}
	pending, err := h.challenger.RequestChallenge(r.Context(), req.PhoneNumber)
	if err != nil {
		RespondDomainError(w, r, err)
		return
	}
	if req.RedirectTo != "" {
		if err := h.redirects.Remember(r.Context(), pending.ID, strings.TrimSpace(req.RedirectTo)); err != nil {
			h.logger.Warn("remember redirect failed", zap.String("challenge_id", pending.ID), zap.Error(err))
		}
	}
	RespondJSON(w, http.StatusCreated, pending)
}

// ConfirmChallenge exchanges a correct code for a session token.
func (h *AuthHandler) ConfirmChallenge(w http.ResponseWriter, r *http.Request) {
	var req confirmRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	pending := identity.PendingChallenge{ID: chi.URLParam(r, "id")}
	session, token, err := h.challenger.ConfirmChallenge(r.Context(), pending, strings.TrimSpace(req.Code))
	if err != nil {
		RespondDomainError(w, r, err)
		return
	}
	RespondJSON(w, http.StatusOK, signInResponse{
		Token:      token,
		Session:    session,
		RedirectTo: h.consumeRedirect(r.Context(), pending.ID),
	})
}

// Federated signs in with an ID token from the configured external provider.
func (h *AuthHandler) Federated(w http.ResponseWriter, r *http.Request) {
	if h.federated == nil || !h.federated.Enabled() {
		RespondError(w, r, http.StatusNotFound, "auth/provider-disabled", "federated sign-in is not configured")
		return
	}
	var req federatedRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	session, token, err := h.federated.SignIn(r.Context(), strings.TrimSpace(req.IDToken))
	if err != nil {
		RespondDomainError(w, r, err)
		return
	}
	RespondJSON(w, http.StatusOK, signInResponse{
		Token:      token,
		Session:    session,
		RedirectTo: h.consumeRedirect(r.Context(), req.State),
	})
}

// SaveRedirect stores where to send the caller after a federated sign-in.
func (h *AuthHandler) SaveRedirect(w http.ResponseWriter, r *http.Request) {
	var req redirectRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if err := identity.ValidateRedirectTarget(req.Target); err != nil {
		RespondDomainError(w, r, err)
		return
	}
	state := identity.NewState()
	if err := h.redirects.Remember(r.Context(), state, strings.TrimSpace(req.Target)); err != nil {
		RespondDomainError(w, r, domain.WrapStore("remember redirect", err))
		return
	}
	RespondJSON(w, http.StatusCreated, map[string]string{"state": state})
}

// Session echoes the caller's verified session.
func (h *AuthHandler) Session(w http.ResponseWriter, r *http.Request) {
	session := sessionFrom(r)
	if !session.Authenticated() {
		RespondDomainError(w, r, domain.NewAuthError("no session"))
		return
	}
	RespondJSON(w, http.StatusOK, session)
}

// SignOut revokes the caller's token.
func (h *AuthHandler) SignOut(w http.ResponseWriter, r *http.Request) {
	session := sessionFrom(r)
	if !session.Authenticated() {
		RespondDomainError(w, r, domain.NewAuthError("no session"))
		return
	}
	if err := h.sessions.SignOut(r.Context(), session); err != nil {
		RespondDomainError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *AuthHandler) consumeRedirect(ctx context.Context, state string) string {
	if state == "" || h.redirects == nil {
		return ""
	}
	target, ok, err := h.redirects.Consume(ctx, state)
	if err != nil {
		h.logger.Warn("consume redirect failed", zap.Error(err))
		return ""
	}
	if !ok {
		return ""
	}
	return target
}
