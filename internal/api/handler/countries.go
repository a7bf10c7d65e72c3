package handler

import (
	"net/http"

	"github.com/ayo6706/remit-board/internal/domain"
)

// Countries searches the country table by code prefix or name.
func Countries(w http.ResponseWriter, r *http.Request) {
	RespondJSON(w, http.StatusOK, domain.SearchCountries(r.URL.Query().Get("q")))
}

// Currencies lists the currencies a request may be posted in.
func Currencies(w http.ResponseWriter, r *http.Request) {
	RespondJSON(w, http.StatusOK, domain.Currencies())
}
