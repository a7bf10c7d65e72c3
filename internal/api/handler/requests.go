package handler

import (
	"net/http"
	"strconv"

	"github.com/ayo6706/remit-board/internal/livesync"
	"github.com/ayo6706/remit-board/internal/models"
	"github.com/ayo6706/remit-board/internal/service"
	"github.com/go-chi/chi/v5"
)

const (
	headerMirrorVersion = "X-Mirror-Version"
	headerMirrorStale   = "X-Mirror-Stale"
)

// RequestView is the read side the board list is served from.
type RequestView interface {
	Current() livesync.View[models.TransferRequest]
}

type RequestHandler struct {
	svc    *service.RequestService
	mirror RequestView
}

func NewRequestHandler(svc *service.RequestService, mirror RequestView) *RequestHandler {
	return &RequestHandler{svc: svc, mirror: mirror}
}

// List returns every request, newest first. It is served from the shared
// mirror once that has synced and from the store before that.
func (h *RequestHandler) List(w http.ResponseWriter, r *http.Request) {
	items, ok := h.fromMirror(w)
	if !ok {
		var err error
		items, err = h.svc.List(r.Context())
		if err != nil {
			RespondDomainError(w, r, err)
			return
		}
	}
	RespondJSON(w, http.StatusOK, items)
}

// Summary reports the request count and per-currency totals.
func (h *RequestHandler) Summary(w http.ResponseWriter, r *http.Request) {
	items, ok := h.fromMirror(w)
	if !ok {
		var err error
		items, err = h.svc.List(r.Context())
		if err != nil {
			RespondDomainError(w, r, err)
			return
		}
	}
	RespondJSON(w, http.StatusOK, service.Summarize(items))
}

func (h *RequestHandler) fromMirror(w http.ResponseWriter) ([]models.TransferRequest, bool) {
	if h.mirror == nil {
		return nil, false
	}
	view := h.mirror.Current()
	if view.Version == 0 {
		return nil, false
	}
	w.Header().Set(headerMirrorVersion, strconv.FormatUint(view.Version, 10))
	w.Header().Set(headerMirrorStale, strconv.FormatBool(view.Stale))
	return view.Items, true
}

func (h *RequestHandler) Get(w http.ResponseWriter, r *http.Request) {
	req, err := h.svc.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		RespondDomainError(w, r, err)
		return
	}
	RespondJSON(w, http.StatusOK, req)
}

func (h *RequestHandler) Create(w http.ResponseWriter, r *http.Request) {
	var fields models.RequestFields
	if !decodeJSON(w, r, &fields) {
		return
	}
	req, err := h.svc.Create(r.Context(), sessionFrom(r), fields)
	if err != nil {
		RespondDomainError(w, r, err)
		return
	}
	w.Header().Set("Location", "/v1/requests/"+req.ID)
	RespondJSON(w, http.StatusCreated, req)
}

func (h *RequestHandler) Update(w http.ResponseWriter, r *http.Request) {
	var fields models.RequestFields
	if !decodeJSON(w, r, &fields) {
		return
	}
	req, err := h.svc.Update(r.Context(), sessionFrom(r), chi.URLParam(r, "id"), fields)
	if err != nil {
		RespondDomainError(w, r, err)
		return
	}
	RespondJSON(w, http.StatusOK, req)
}

func (h *RequestHandler) Delete(w http.ResponseWriter, r *http.Request) {
	if err := h.svc.Delete(r.Context(), sessionFrom(r), chi.URLParam(r, "id")); err != nil {
		RespondDomainError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
