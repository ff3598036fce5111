package api

import (
	"errors"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/kalambet/docqa/internal/retrieval"
	"github.com/kalambet/docqa/internal/storage"
)

func handleListInteractions(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		limit := parseIntParam(r, "limit", 20, 100)
		offset := parseIntParam(r, "offset", 0, 0)

		interactions, err := deps.Store.ListInteractions(r.URL.Query().Get("session_id"), limit, offset)
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to list interactions: %v", err)
			return
		}
		if interactions == nil {
			interactions = []storage.Interaction{}
		}
		writeJSON(w, http.StatusOK, interactions)
	}
}

func handleGetInteraction(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		interaction, err := deps.Store.GetInteraction(chi.URLParam(r, "id"))
		if errors.Is(err, storage.ErrNotFound) {
			httpError(w, http.StatusNotFound, "not_found", "interaction not found")
			return
		}
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to get interaction: %v", err)
			return
		}
		writeJSON(w, http.StatusOK, interaction)
	}
}

func handleDeleteInteraction(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		err := deps.Store.DeleteInteraction(chi.URLParam(r, "id"))
		if errors.Is(err, storage.ErrNotFound) {
			httpError(w, http.StatusNotFound, "not_found", "interaction not found")
			return
		}
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to delete interaction: %v", err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"status": "deleted"})
	}
}

func handleListCollections(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		cols, err := deps.Store.ListCollections()
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to list collections: %v", err)
			return
		}
		if cols == nil {
			cols = []storage.CollectionInfo{}
		}
		writeJSON(w, http.StatusOK, cols)
	}
}

// handleQueryCollection runs a filter expression, e.g.
// /collections/nice_guidelines/query?filter=page%20%3E%3D%203&fields=source,page
func handleQueryCollection(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		name := chi.URLParam(r, "name")
		q := r.URL.Query()
		var fields []string
		if f := q.Get("fields"); f != "" {
			fields = splitFields(f)
		}
		limit := parseIntParam(r, "limit", 20, 1000)

		rows, err := deps.Vectors.Query(r.Context(), name, q.Get("filter"), fields, limit)
		switch {
		case errors.Is(err, retrieval.ErrCollectionNotFound):
			httpError(w, http.StatusNotFound, "not_found", "collection %q not found", name)
			return
		case err != nil:
			httpError(w, http.StatusBadRequest, "invalid_request_error", "%v", err)
			return
		}
		if rows == nil {
			rows = []map[string]any{}
		}
		writeJSON(w, http.StatusOK, rows)
	}
}

func splitFields(s string) []string {
	var out []string
	for _, f := range strings.Split(s, ",") {
		if f = strings.TrimSpace(f); f != "" {
			out = append(out, f)
		}
	}
	return out
}
