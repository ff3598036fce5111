// Package api exposes the question answering service over HTTP and MCP.
package api

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/kalambet/docqa/internal/conversation"
	"github.com/kalambet/docqa/internal/ingest"
	"github.com/kalambet/docqa/internal/pipeline"
	"github.com/kalambet/docqa/internal/retrieval"
	"github.com/kalambet/docqa/internal/storage"
)

const (
	maxRequestBodySize = 1 << 20  // 1MB
	maxUploadSize      = 64 << 20 // 64MB
)

// Asker answers questions within a session.
type Asker interface {
	GetResponse(ctx context.Context, sess *conversation.Session, question string) (pipeline.Response, error)
}

// Uploader runs the staged ingestion of uploaded documents.
type Uploader interface {
	NewStaging() (string, error)
	Commit(ctx context.Context, staging string) (ingest.Result, error)
	Discard(staging string) error
	DocumentsDir() string
	Pattern() string
}

// Deps holds the collaborators of the HTTP handler. Intake may be nil, in
// which case uploads are rejected.
type Deps struct {
	Chatbot    Asker
	Sessions   *conversation.Registry
	Intake     Uploader
	Store      *storage.Store
	Vectors    retrieval.VectorStore
	Collection string
	Token      string
}

// NewHandler returns the HTTP API. Everything except /health sits behind
// BearerAuth when a token is configured.
func NewHandler(deps Deps) http.Handler {
	r := chi.NewRouter()

	r.Get("/health", handleHealth)

	r.Group(func(r chi.Router) {
		r.Use(BearerAuth(deps.Token))

		r.Post("/chat", handleChat(deps))

		r.Post("/sessions", handleCreateSession(deps))
		r.Get("/sessions/{id}", handleGetSession(deps))
		r.Delete("/sessions/{id}", handleDeleteSession(deps))

		r.Get("/documents", handleListDocuments(deps))
		r.Get("/document/*", handleGetDocument(deps))
		r.Post("/upload", handleUpload(deps))

		r.Get("/interactions", handleListInteractions(deps))
		r.Get("/interactions/{id}", handleGetInteraction(deps))
		r.Delete("/interactions/{id}", handleDeleteInteraction(deps))

		r.Get("/collections", handleListCollections(deps))
		r.Get("/collections/{name}/query", handleQueryCollection(deps))
	})

	return r
}

func handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.Write([]byte(`{"status":"ok"}`))
}
