package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/kalambet/docqa/internal/composer"
	"github.com/kalambet/docqa/internal/conversation"
	"github.com/kalambet/docqa/internal/ingest"
	"github.com/kalambet/docqa/internal/pipeline"
	"github.com/kalambet/docqa/internal/retrieval"
	"github.com/kalambet/docqa/internal/storage"
)

const testToken = "test-token-12345"

// --- mocks ---

type mockAsker struct {
	fn func(ctx context.Context, sess *conversation.Session, question string) (pipeline.Response, error)
}

func (m *mockAsker) GetResponse(ctx context.Context, sess *conversation.Session, question string) (pipeline.Response, error) {
	if m.fn != nil {
		return m.fn(ctx, sess, question)
	}
	if _, err := sess.Begin(question); err != nil {
		return pipeline.Response{}, err
	}
	if err := sess.Commit("answer to " + question); err != nil {
		return pipeline.Response{}, err
	}
	return pipeline.Response{
		Answer:             "answer to " + question,
		Sources:            []composer.Source{{SourceID: "ng136.pdf", Page: 3}},
		StandaloneQuestion: question,
	}, nil
}

type fakeProcessor struct {
	err  error
	dirs []string
}

func (f *fakeProcessor) LoadAndSplit(context.Context, string) ([]retrieval.Passage, error) {
	return nil, nil
}

func (f *fakeProcessor) ComputeAndStoreEmbeddings(_ context.Context, dir string) (ingest.Stats, error) {
	f.dirs = append(f.dirs, dir)
	if f.err != nil {
		return ingest.Stats{}, f.err
	}
	return ingest.Stats{Pages: 1, Passages: 2, Inserted: 2}, nil
}

// gatedProcessor reports each directory it is asked to ingest on entered and
// blocks until release is closed.
type gatedProcessor struct {
	entered chan string
	release chan struct{}
}

func (g *gatedProcessor) LoadAndSplit(context.Context, string) ([]retrieval.Passage, error) {
	return nil, nil
}

func (g *gatedProcessor) ComputeAndStoreEmbeddings(ctx context.Context, dir string) (ingest.Stats, error) {
	g.entered <- dir
	select {
	case <-g.release:
		return ingest.Stats{}, nil
	case <-ctx.Done():
		return ingest.Stats{}, ctx.Err()
	}
}

// --- helpers ---

type testEnv struct {
	handler   http.Handler
	store     *storage.Store
	vectors   *retrieval.SQLiteStore
	sessions  *conversation.Registry
	processor *fakeProcessor
	uploadDir string
	docsDir   string
	rebuilds  int
}

func newTestEnv(t *testing.T, token string, asker Asker) *testEnv {
	t.Helper()
	store, err := storage.Open(":memory:", "")
	if err != nil {
		t.Fatalf("Open(:memory:) failed: %v", err)
	}
	t.Cleanup(func() { store.Close() })

	root := t.TempDir()
	env := &testEnv{
		store:     store,
		vectors:   retrieval.NewSQLiteStore(store.DB()),
		sessions:  conversation.NewRegistry(),
		processor: &fakeProcessor{},
		uploadDir: filepath.Join(root, "uploads"),
		docsDir:   filepath.Join(root, "documents"),
	}
	if asker == nil {
		asker = &mockAsker{}
	}
	intake := ingest.NewIntake(env.processor, env.uploadDir, env.docsDir, "", func(context.Context) error {
		env.rebuilds++
		return nil
	})
	env.handler = NewHandler(Deps{
		Chatbot:    asker,
		Sessions:   env.sessions,
		Intake:     intake,
		Store:      store,
		Vectors:    env.vectors,
		Collection: "nice_guidelines",
		Token:      token,
	})
	return env
}

func (e *testEnv) do(t *testing.T, method, url, body string) *httptest.ResponseRecorder {
	t.Helper()
	var reader io.Reader
	if body != "" {
		reader = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, url, reader)
	rr := httptest.NewRecorder()
	e.handler.ServeHTTP(rr, req)
	return rr
}

func errorType(t *testing.T, rr *httptest.ResponseRecorder) string {
	t.Helper()
	var body struct {
		Error struct {
			Type string `json:"type"`
		} `json:"error"`
	}
	if err := json.Unmarshal(rr.Body.Bytes(), &body); err != nil {
		t.Fatalf("decoding error body %q: %v", rr.Body.String(), err)
	}
	return body.Error.Type
}

func multipartBody(t *testing.T, files map[string]string) (*bytes.Buffer, string) {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	for name, content := range files {
		fw, err := mw.CreateFormFile("file", name)
		if err != nil {
			t.Fatal(err)
		}
		fw.Write([]byte(content))
	}
	mw.Close()
	return &buf, mw.FormDataContentType()
}

func (e *testEnv) upload(t *testing.T, files map[string]string) *httptest.ResponseRecorder {
	t.Helper()
	body, ct := multipartBody(t, files)
	req := httptest.NewRequest(http.MethodPost, "/upload", body)
	req.Header.Set("Content-Type", ct)
	rr := httptest.NewRecorder()
	e.handler.ServeHTTP(rr, req)
	return rr
}

// --- health and auth ---

func TestHealth_NoAuthRequired(t *testing.T) {
	env := newTestEnv(t, testToken, nil)
	rr := env.do(t, http.MethodGet, "/health", "")
	if rr.Code != http.StatusOK || !strings.Contains(rr.Body.String(), `"ok"`) {
		t.Fatalf("health = %d %s", rr.Code, rr.Body.String())
	}
}

func TestAuth_TokenRequiredWhenConfigured(t *testing.T) {
	env := newTestEnv(t, testToken, nil)

	rr := env.do(t, http.MethodGet, "/documents", "")
	if rr.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d, want 401", rr.Code)
	}

	req := httptest.NewRequest(http.MethodGet, "/documents", nil)
	req.Header.Set("Authorization", "Bearer "+testToken)
	rr = httptest.NewRecorder()
	env.handler.ServeHTTP(rr, req)
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rr.Code)
	}
}

// --- chat and sessions ---

func TestChat_DefaultSession(t *testing.T) {
	env := newTestEnv(t, "", nil)
	rr := env.do(t, http.MethodPost, "/chat", `{"question":"What is hypertension?"}`)
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d; body = %s", rr.Code, rr.Body.String())
	}

	var resp ChatResponse
	if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
		t.Fatal(err)
	}
	if resp.SessionID != conversation.DefaultSessionID {
		t.Errorf("SessionID = %q", resp.SessionID)
	}
	if resp.Answer != "answer to What is hypertension?" {
		t.Errorf("Answer = %q", resp.Answer)
	}
	if len(resp.Sources) != 1 || resp.Sources[0].SourceID != "ng136.pdf" || resp.Sources[0].Page != 3 {
		t.Errorf("Sources = %+v", resp.Sources)
	}
	if env.sessions.Default().Len() != 2 {
		t.Errorf("default session turns = %d, want 2", env.sessions.Default().Len())
	}
}

func TestChat_ExplicitSession(t *testing.T) {
	env := newTestEnv(t, "", nil)
	sess := env.sessions.Create()

	rr := env.do(t, http.MethodPost, "/chat", `{"question":"q","session_id":"`+sess.ID()+`"}`)
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d; body = %s", rr.Code, rr.Body.String())
	}
	if sess.Len() != 2 || env.sessions.Default().Len() != 0 {
		t.Errorf("turns landed in the wrong session")
	}
}

func TestChat_Errors(t *testing.T) {
	tests := []struct {
		name     string
		body     string
		err      error
		wantCode int
		wantType string
	}{
		{"bad json", `{`, nil, http.StatusBadRequest, "invalid_request_error"},
		{"unknown session", `{"question":"q","session_id":"nope"}`, nil, http.StatusNotFound, "not_found"},
		{"empty question", `{"question":""}`, pipeline.ErrEmptyQuestion, http.StatusBadRequest, "invalid_request_error"},
		{"busy", `{"question":"q"}`, conversation.ErrBusy, http.StatusConflict, "session_conflict"},
		{"retrieval", `{"question":"q"}`, &pipeline.StageError{Stage: pipeline.StageRetrieve, Err: errors.New("db")}, http.StatusBadGateway, "retrieval_error"},
		{"generation", `{"question":"q"}`, &pipeline.StageError{Stage: pipeline.StageGenerate, Err: errors.New("503")}, http.StatusBadGateway, "generation_error"},
		{"timeout", `{"question":"q"}`, &pipeline.StageError{Stage: pipeline.StageGenerate, Err: context.DeadlineExceeded}, http.StatusGatewayTimeout, "timeout_error"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var asker Asker
			if tt.err != nil {
				asker = &mockAsker{fn: func(context.Context, *conversation.Session, string) (pipeline.Response, error) {
					return pipeline.Response{}, tt.err
				}}
			}
			env := newTestEnv(t, "", asker)
			rr := env.do(t, http.MethodPost, "/chat", tt.body)
			if rr.Code != tt.wantCode {
				t.Fatalf("status = %d, want %d; body = %s", rr.Code, tt.wantCode, rr.Body.String())
			}
			if got := errorType(t, rr); got != tt.wantType {
				t.Errorf("error type = %q, want %q", got, tt.wantType)
			}
		})
	}
}

func TestSessions_Lifecycle(t *testing.T) {
	env := newTestEnv(t, "", nil)

	rr := env.do(t, http.MethodPost, "/sessions", "")
	if rr.Code != http.StatusCreated {
		t.Fatalf("create status = %d", rr.Code)
	}
	var created sessionView
	if err := json.Unmarshal(rr.Body.Bytes(), &created); err != nil {
		t.Fatal(err)
	}
	if created.ID == "" || created.State != "idle" || len(created.Turns) != 0 {
		t.Fatalf("created = %+v", created)
	}

	env.do(t, http.MethodPost, "/chat", `{"question":"q1","session_id":"`+created.ID+`"}`)

	rr = env.do(t, http.MethodGet, "/sessions/"+created.ID, "")
	var got sessionView
	if err := json.Unmarshal(rr.Body.Bytes(), &got); err != nil {
		t.Fatal(err)
	}
	if len(got.Turns) != 2 || got.Turns[0].Role != conversation.RoleUser || got.Turns[0].Content != "q1" {
		t.Errorf("turns = %+v", got.Turns)
	}

	if rr := env.do(t, http.MethodDelete, "/sessions/"+created.ID, ""); rr.Code != http.StatusOK {
		t.Fatalf("delete status = %d", rr.Code)
	}
	if rr := env.do(t, http.MethodGet, "/sessions/"+created.ID, ""); rr.Code != http.StatusNotFound {
		t.Errorf("get after delete = %d, want 404", rr.Code)
	}
	if rr := env.do(t, http.MethodDelete, "/sessions/"+created.ID, ""); rr.Code != http.StatusNotFound {
		t.Errorf("second delete = %d, want 404", rr.Code)
	}
}

// --- documents and upload ---

func TestDocuments_ListAndGet(t *testing.T) {
	env := newTestEnv(t, "", nil)
	if err := os.MkdirAll(env.docsDir, 0o755); err != nil {
		t.Fatal(err)
	}
	os.WriteFile(filepath.Join(env.docsDir, "b.pdf"), []byte("%PDF-b"), 0o644)
	os.WriteFile(filepath.Join(env.docsDir, "a.pdf"), []byte("%PDF-a"), 0o644)
	os.WriteFile(filepath.Join(env.docsDir, "notes.txt"), []byte("skip"), 0o644)

	rr := env.do(t, http.MethodGet, "/documents", "")
	var docs []ingest.Document
	if err := json.Unmarshal(rr.Body.Bytes(), &docs); err != nil {
		t.Fatal(err)
	}
	if len(docs) != 2 || docs[0].Filename != "a.pdf" || docs[1].Filename != "b.pdf" {
		t.Fatalf("docs = %+v", docs)
	}

	rr = env.do(t, http.MethodGet, "/document/a.pdf", "")
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d", rr.Code)
	}
	if ct := rr.Header().Get("Content-Type"); ct != "application/pdf" {
		t.Errorf("Content-Type = %q", ct)
	}
	if rr.Body.String() != "%PDF-a" {
		t.Errorf("body = %q", rr.Body.String())
	}

	if rr := env.do(t, http.MethodGet, "/document/missing.pdf", ""); rr.Code != http.StatusNotFound {
		t.Errorf("missing document status = %d, want 404", rr.Code)
	}
}

func TestDocuments_EmptyStore(t *testing.T) {
	env := newTestEnv(t, "", nil)
	rr := env.do(t, http.MethodGet, "/documents", "")
	if rr.Code != http.StatusOK || strings.TrimSpace(rr.Body.String()) != "[]" {
		t.Fatalf("got %d %s", rr.Code, rr.Body.String())
	}
}

func TestUpload_Success(t *testing.T) {
	env := newTestEnv(t, "", nil)
	rr := env.upload(t, map[string]string{"ng136.pdf": "%PDF-1.4"})
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d; body = %s", rr.Code, rr.Body.String())
	}

	if _, err := os.Stat(filepath.Join(env.docsDir, "ng136.pdf")); err != nil {
		t.Errorf("document not relocated: %v", err)
	}
	entries, _ := os.ReadDir(env.uploadDir)
	if len(entries) != 0 {
		t.Errorf("upload dir not cleaned: %v", entries)
	}
	if env.rebuilds != 1 {
		t.Errorf("rebuilds = %d, want 1", env.rebuilds)
	}
	if len(env.processor.dirs) != 1 || !strings.HasPrefix(env.processor.dirs[0], env.uploadDir) {
		t.Errorf("processor ran on %v", env.processor.dirs)
	}
}

func TestUpload_IngestionFailureLeavesNothing(t *testing.T) {
	env := newTestEnv(t, "", nil)
	env.processor.err = &ingest.Error{File: "ng136.pdf", Stage: ingest.StageEmbed, Err: errors.New("rate limited")}

	rr := env.upload(t, map[string]string{"ng136.pdf": "%PDF-1.4"})
	if rr.Code != http.StatusBadGateway {
		t.Fatalf("status = %d; body = %s", rr.Code, rr.Body.String())
	}
	if got := errorType(t, rr); got != "ingestion_error" {
		t.Errorf("error type = %q", got)
	}
	if _, err := os.Stat(filepath.Join(env.docsDir, "ng136.pdf")); !os.IsNotExist(err) {
		t.Error("failed upload should not reach the document store")
	}
	entries, _ := os.ReadDir(env.uploadDir)
	if len(entries) != 0 {
		t.Errorf("staging not discarded: %v", entries)
	}
	if env.rebuilds != 0 {
		t.Error("lexical index rebuilt after failed upload")
	}
}

func TestUpload_UnreadableDocumentIsClientError(t *testing.T) {
	env := newTestEnv(t, "", nil)
	env.processor.err = &ingest.Error{File: "bad.pdf", Stage: ingest.StageLoad, Err: errors.New("malformed xref")}

	rr := env.upload(t, map[string]string{"bad.pdf": "not a pdf"})
	if rr.Code != http.StatusUnprocessableEntity {
		t.Fatalf("status = %d, want 422", rr.Code)
	}
}

func TestUpload_Validation(t *testing.T) {
	env := newTestEnv(t, "", nil)

	if rr := env.upload(t, map[string]string{"notes.txt": "x"}); rr.Code != http.StatusBadRequest {
		t.Errorf("non-pdf status = %d, want 400", rr.Code)
	}
	if rr := env.upload(t, map[string]string{".hidden.pdf": "x"}); rr.Code != http.StatusBadRequest {
		t.Errorf("hidden file status = %d, want 400", rr.Code)
	}
	if rr := env.upload(t, map[string]string{}); rr.Code != http.StatusBadRequest {
		t.Errorf("no file status = %d, want 400", rr.Code)
	}
	if len(env.processor.dirs) != 0 {
		t.Error("processor ran for rejected uploads")
	}
}

// --- interactions and collections ---

func TestInteractions_ListGetDelete(t *testing.T) {
	env := newTestEnv(t, "", nil)
	for i, sid := range []string{"s1", "s2"} {
		err := env.store.SaveInteraction(storage.Interaction{
			ID:        "int-" + sid,
			CreatedAt: time.Now().UTC().Add(time.Duration(i) * time.Second),
			SessionID: sid,
			Question:  "q " + sid,
			Answer:    "a",
		})
		if err != nil {
			t.Fatal(err)
		}
	}

	rr := env.do(t, http.MethodGet, "/interactions?session_id=s1", "")
	var list []storage.Interaction
	if err := json.Unmarshal(rr.Body.Bytes(), &list); err != nil {
		t.Fatal(err)
	}
	if len(list) != 1 || list[0].ID != "int-s1" {
		t.Fatalf("list = %+v", list)
	}

	if rr := env.do(t, http.MethodGet, "/interactions/int-s2", ""); rr.Code != http.StatusOK {
		t.Errorf("get status = %d", rr.Code)
	}
	if rr := env.do(t, http.MethodDelete, "/interactions/int-s2", ""); rr.Code != http.StatusOK {
		t.Errorf("delete status = %d", rr.Code)
	}
	if rr := env.do(t, http.MethodGet, "/interactions/int-s2", ""); rr.Code != http.StatusNotFound {
		t.Errorf("get after delete = %d, want 404", rr.Code)
	}
}

func TestCollections_ListAndQuery(t *testing.T) {
	env := newTestEnv(t, "", nil)
	ctx := context.Background()
	if _, err := env.vectors.EnsureCollection(ctx, "nice_guidelines", 2); err != nil {
		t.Fatal(err)
	}
	_, err := env.vectors.Insert(ctx, "nice_guidelines", []retrieval.Passage{
		{Content: "first", SourceID: "ng136.pdf", Page: 1, Embedding: []float32{1, 0}},
		{Content: "second", SourceID: "ng136.pdf", Page: 4, Embedding: []float32{0, 1}},
		{Content: "third", SourceID: "ng28.pdf", Page: 4, Embedding: []float32{1, 1}},
	})
	if err != nil {
		t.Fatal(err)
	}

	rr := env.do(t, http.MethodGet, "/collections", "")
	var cols []storage.CollectionInfo
	if err := json.Unmarshal(rr.Body.Bytes(), &cols); err != nil {
		t.Fatal(err)
	}
	if len(cols) != 1 || cols[0].Name != "nice_guidelines" || cols[0].Passages != 3 {
		t.Fatalf("cols = %+v", cols)
	}

	filter := `source == "ng136.pdf" and page >= 3`
	req := httptest.NewRequest(http.MethodGet, "/collections/nice_guidelines/query", nil)
	q := req.URL.Query()
	q.Set("filter", filter)
	q.Set("fields", "text, page")
	req.URL.RawQuery = q.Encode()
	rr = httptest.NewRecorder()
	env.handler.ServeHTTP(rr, req)
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d; body = %s", rr.Code, rr.Body.String())
	}
	var rows []map[string]any
	if err := json.Unmarshal(rr.Body.Bytes(), &rows); err != nil {
		t.Fatal(err)
	}
	if len(rows) != 1 || rows[0]["text"] != "second" {
		t.Fatalf("rows = %+v", rows)
	}
	if _, ok := rows[0]["source"]; ok {
		t.Error("unrequested field returned")
	}

	if rr := env.do(t, http.MethodGet, "/collections/missing/query", ""); rr.Code != http.StatusNotFound {
		t.Errorf("missing collection status = %d, want 404", rr.Code)
	}
	req = httptest.NewRequest(http.MethodGet, "/collections/nice_guidelines/query?filter=page+%3D%3D", nil)
	rr = httptest.NewRecorder()
	env.handler.ServeHTTP(rr, req)
	if rr.Code != http.StatusBadRequest {
		t.Errorf("bad filter status = %d, want 400", rr.Code)
	}
}
