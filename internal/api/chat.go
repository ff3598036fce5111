package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/kalambet/docqa/internal/composer"
	"github.com/kalambet/docqa/internal/conversation"
)

// ChatRequest is the body of POST /chat.
type ChatRequest struct {
	Question  string `json:"question"`
	SessionID string `json:"session_id,omitempty"`
}

// ChatResponse is the body returned by POST /chat.
type ChatResponse struct {
	SessionID          string            `json:"session_id"`
	Answer             string            `json:"answer"`
	Sources            []composer.Source `json:"sources"`
	StandaloneQuestion string            `json:"standalone_question"`
}

type sessionView struct {
	ID        string              `json:"id"`
	CreatedAt time.Time           `json:"created_at"`
	State     string              `json:"state"`
	Turns     []conversation.Turn `json:"turns"`
}

func viewSession(s *conversation.Session) sessionView {
	turns := s.Turns()
	if turns == nil {
		turns = []conversation.Turn{}
	}
	return sessionView{ID: s.ID(), CreatedAt: s.CreatedAt(), State: s.State().String(), Turns: turns}
}

func handleChat(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)
		defer r.Body.Close()

		var req ChatRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "invalid request body: %v", err)
			return
		}

		sess, err := deps.Sessions.Get(req.SessionID)
		if err != nil {
			writeQueryError(w, err)
			return
		}

		resp, err := deps.Chatbot.GetResponse(r.Context(), sess, req.Question)
		if err != nil {
			writeQueryError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, ChatResponse{
			SessionID:          sess.ID(),
			Answer:             resp.Answer,
			Sources:            resp.Sources,
			StandaloneQuestion: resp.StandaloneQuestion,
		})
	}
}

func handleCreateSession(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusCreated, viewSession(deps.Sessions.Create()))
	}
}

func handleGetSession(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		sess, err := deps.Sessions.Get(chi.URLParam(r, "id"))
		if errors.Is(err, conversation.ErrSessionNotFound) {
			httpError(w, http.StatusNotFound, "not_found", "session not found")
			return
		}
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "%v", err)
			return
		}
		writeJSON(w, http.StatusOK, viewSession(sess))
	}
}

func handleDeleteSession(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		err := deps.Sessions.Delete(chi.URLParam(r, "id"))
		if errors.Is(err, conversation.ErrSessionNotFound) {
			httpError(w, http.StatusNotFound, "not_found", "session not found")
			return
		}
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "%v", err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"status": "deleted"})
	}
}
