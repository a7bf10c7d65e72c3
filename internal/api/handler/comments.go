package handler

import (
	"net/http"

	"github.com/ayo6706/remit-board/internal/service"
	"github.com/go-chi/chi/v5"
)

type CommentHandler struct {
	svc *service.CommentService
}

func NewCommentHandler(svc *service.CommentService) *CommentHandler {
	return &CommentHandler{svc: svc}
}

type addCommentRequest struct {
	Text string `json:"text"`
}

func (h *CommentHandler) List(w http.ResponseWriter, r *http.Request) {
	comments, err := h.svc.List(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		RespondDomainError(w, r, err)
		return
	}
	RespondJSON(w, http.StatusOK, comments)
}

func (h *CommentHandler) Add(w http.ResponseWriter, r *http.Request) {
	var req addCommentRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	c, err := h.svc.Add(r.Context(), sessionFrom(r), chi.URLParam(r, "id"), req.Text)
	if err != nil {
		RespondDomainError(w, r, err)
		return
	}
	RespondJSON(w, http.StatusCreated, c)
}

func (h *CommentHandler) Delete(w http.ResponseWriter, r *http.Request) {
	if err := h.svc.Delete(r.Context(), sessionFrom(r), chi.URLParam(r, "id")); err != nil {
		RespondDomainError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
