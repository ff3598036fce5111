package api

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/kalambet/docqa/internal/conversation"
	"github.com/kalambet/docqa/internal/ingest"
	"github.com/kalambet/docqa/internal/pipeline"
	"github.com/kalambet/docqa/internal/storage"
)

// --- helpers ---

func newTestMCPDeps(t *testing.T) (MCPDeps, *storage.Store) {
	t.Helper()
	store, err := storage.Open(":memory:", "")
	if err != nil {
		t.Fatalf("opening store: %v", err)
	}
	t.Cleanup(func() { store.Close() })

	return MCPDeps{
		Chatbot:      &mockAsker{},
		Sessions:     conversation.NewRegistry(),
		Ingester:     newTestIntake(t, &fakeProcessor{}, nil),
		Store:        store,
		DocumentsDir: t.TempDir(),
		Pattern:      ingest.DefaultPattern,
	}, store
}

func toolText(t *testing.T, result *mcp.CallToolResult) string {
	t.Helper()
	if len(result.Content) == 0 {
		t.Fatal("no content in result")
	}
	tc, ok := result.Content[0].(mcp.TextContent)
	if !ok {
		t.Fatalf("expected TextContent, got %T", result.Content[0])
	}
	return tc.Text
}

func makeCallToolRequest(name string, args map[string]interface{}) mcp.CallToolRequest {
	return mcp.CallToolRequest{
		Params: mcp.CallToolParams{
			Name:      name,
			Arguments: args,
		},
	}
}

func makeReadResourceRequest(uri string) mcp.ReadResourceRequest {
	return mcp.ReadResourceRequest{
		Params: mcp.ReadResourceParams{
			URI: uri,
		},
	}
}

// --- tests ---

func TestMCPTool_Ask(t *testing.T) {
	deps, _ := newTestMCPDeps(t)
	handler := mcpAsk(deps)

	result, err := handler(context.Background(), makeCallToolRequest("ask", map[string]interface{}{
		"question": "What is hypertension?",
	}))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.IsError {
		t.Fatalf("unexpected error: %s", toolText(t, result))
	}

	var resp ChatResponse
	if err := json.Unmarshal([]byte(toolText(t, result)), &resp); err != nil {
		t.Fatalf("failed to parse response: %v", err)
	}
	if resp.Answer != "answer to What is hypertension?" || len(resp.Sources) != 1 {
		t.Fatalf("unexpected response: %+v", resp)
	}
	if deps.Sessions.Default().Len() != 2 {
		t.Errorf("default session turns = %d, want 2", deps.Sessions.Default().Len())
	}
}

func TestMCPTool_Ask_Errors(t *testing.T) {
	deps, _ := newTestMCPDeps(t)

	result, _ := mcpAsk(deps)(context.Background(), makeCallToolRequest("ask", map[string]interface{}{}))
	if !result.IsError {
		t.Error("expected error without question")
	}

	result, _ = mcpAsk(deps)(context.Background(), makeCallToolRequest("ask", map[string]interface{}{
		"question": "q", "session_id": "unknown",
	}))
	if !result.IsError {
		t.Error("expected error for unknown session")
	}

	deps.Chatbot = &mockAsker{fn: func(context.Context, *conversation.Session, string) (pipeline.Response, error) {
		return pipeline.Response{}, &pipeline.StageError{Stage: pipeline.StageGenerate, Err: errors.New("503")}
	}}
	result, _ = mcpAsk(deps)(context.Background(), makeCallToolRequest("ask", map[string]interface{}{"question": "q"}))
	if !result.IsError || !strings.Contains(toolText(t, result), "generate") {
		t.Errorf("expected generate stage error, got %q", toolText(t, result))
	}
}

// newTestIntake builds an Intake whose document store is a fresh temp dir.
func newTestIntake(t *testing.T, p ingest.Processor, hook func(context.Context) error) *ingest.Intake {
	t.Helper()
	root := t.TempDir()
	return ingest.NewIntake(p, filepath.Join(root, "uploads"), filepath.Join(root, "documents"), "", hook)
}

func TestMCPTool_IngestDirectory(t *testing.T) {
	deps, _ := newTestMCPDeps(t)
	proc := &fakeProcessor{}
	rebuilt := false
	deps.Ingester = newTestIntake(t, proc, func(context.Context) error { rebuilt = true; return nil })

	result, err := mcpIngestDirectory(deps)(context.Background(), makeCallToolRequest("ingest_directory", map[string]interface{}{
		"path": "/data/guidelines",
	}))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.IsError {
		t.Fatalf("unexpected error: %s", toolText(t, result))
	}
	if len(proc.dirs) != 1 || proc.dirs[0] != "/data/guidelines" {
		t.Errorf("processor dirs = %v", proc.dirs)
	}
	if !rebuilt {
		t.Error("lexical index not rebuilt")
	}
	if !strings.Contains(toolText(t, result), "2 stored") {
		t.Errorf("unexpected summary: %s", toolText(t, result))
	}
}

// The tool must go through the same lock as uploads: while an upload commit
// is running, a directory ingestion waits for it.
func TestMCPTool_IngestDirectory_WaitsForUpload(t *testing.T) {
	deps, _ := newTestMCPDeps(t)
	proc := &gatedProcessor{entered: make(chan string, 2), release: make(chan struct{})}
	intake := newTestIntake(t, proc, nil)
	deps.Ingester = intake

	staging, err := intake.NewStaging()
	if err != nil {
		t.Fatal(err)
	}
	commitDone := make(chan error, 1)
	go func() {
		_, err := intake.Commit(context.Background(), staging)
		commitDone <- err
	}()
	if got := <-proc.entered; got != staging {
		t.Fatalf("first run = %s, want the staging dir", got)
	}

	toolDone := make(chan *mcp.CallToolResult, 1)
	go func() {
		result, _ := mcpIngestDirectory(deps)(context.Background(), makeCallToolRequest("ingest_directory", map[string]interface{}{
			"path": "/data/guidelines",
		}))
		toolDone <- result
	}()

	select {
	case dir := <-proc.entered:
		t.Fatalf("ingest_directory reached the processor (%s) while a commit held the lock", dir)
	case <-time.After(50 * time.Millisecond):
	}

	close(proc.release)
	if err := <-commitDone; err != nil {
		t.Fatalf("commit: %v", err)
	}
	if got := <-proc.entered; got != "/data/guidelines" {
		t.Errorf("second run = %s", got)
	}
	if result := <-toolDone; result.IsError {
		t.Errorf("unexpected error: %s", toolText(t, result))
	}
}

func TestMCPTool_IngestDirectory_Failure(t *testing.T) {
	deps, _ := newTestMCPDeps(t)
	rebuilt := false
	proc := &fakeProcessor{err: &ingest.Error{File: "x.pdf", Stage: ingest.StageLoad, Err: errors.New("bad pdf")}}
	deps.Ingester = newTestIntake(t, proc, func(context.Context) error { rebuilt = true; return nil })

	result, _ := mcpIngestDirectory(deps)(context.Background(), makeCallToolRequest("ingest_directory", map[string]interface{}{
		"path": "/data",
	}))
	if !result.IsError {
		t.Fatal("expected error result")
	}
	if rebuilt {
		t.Error("rebuild should not run after a failed ingestion")
	}
}

func TestMCPTool_IngestDirectory_NoIngester(t *testing.T) {
	deps, _ := newTestMCPDeps(t)
	deps.Ingester = nil
	result, _ := mcpIngestDirectory(deps)(context.Background(), makeCallToolRequest("ingest_directory", map[string]interface{}{"path": "/x"}))
	if !result.IsError {
		t.Fatal("expected error when ingestion is unavailable")
	}
}

func TestMCPTool_ListDocuments(t *testing.T) {
	deps, _ := newTestMCPDeps(t)
	os.WriteFile(filepath.Join(deps.DocumentsDir, "ng136.pdf"), []byte("%PDF"), 0o644)

	result, _ := mcpListDocuments(deps)(context.Background(), makeCallToolRequest("list_documents", nil))
	if result.IsError {
		t.Fatalf("unexpected error: %s", toolText(t, result))
	}
	var docs []ingest.Document
	if err := json.Unmarshal([]byte(toolText(t, result)), &docs); err != nil {
		t.Fatal(err)
	}
	if len(docs) != 1 || docs[0].Filename != "ng136.pdf" || docs[0].Size != 4 {
		t.Fatalf("docs = %+v", docs)
	}
}

func TestMCPTool_CollectionStats_Empty(t *testing.T) {
	deps, _ := newTestMCPDeps(t)
	result, _ := mcpCollectionStats(deps)(context.Background(), makeCallToolRequest("collection_stats", nil))
	if result.IsError {
		t.Fatalf("unexpected error: %s", toolText(t, result))
	}
	if got := toolText(t, result); got != "[]" {
		t.Fatalf("expected empty array, got %s", got)
	}
}

func TestMCPServer_ConcurrentAsks(t *testing.T) {
	deps, _ := newTestMCPDeps(t)
	handler := mcpAsk(deps)

	sessions := make([]*conversation.Session, 5)
	for i := range sessions {
		sessions[i] = deps.Sessions.Create()
	}

	var wg sync.WaitGroup
	errs := make(chan error, len(sessions))
	for _, s := range sessions {
		wg.Add(1)
		go func() {
			defer wg.Done()
			res, err := handler(context.Background(), makeCallToolRequest("ask", map[string]interface{}{
				"question": "q", "session_id": s.ID(),
			}))
			if err != nil {
				errs <- err
				return
			}
			if res.IsError {
				errs <- errors.New(res.Content[0].(mcp.TextContent).Text)
			}
		}()
	}
	wg.Wait()
	close(errs)

	for err := range errs {
		t.Fatalf("concurrent call failed: %v", err)
	}
	for _, s := range sessions {
		if s.Len() != 2 {
			t.Errorf("session %s turns = %d, want 2", s.ID(), s.Len())
		}
	}
}

func TestMCPResource_Recent(t *testing.T) {
	deps, store := newTestMCPDeps(t)

	err := store.SaveInteraction(storage.Interaction{
		ID:        "int-1",
		CreatedAt: time.Now().UTC(),
		SessionID: "default",
		Question:  strings.Repeat("why ", 100),
		Answer:    "because",
	})
	if err != nil {
		t.Fatalf("saving interaction: %v", err)
	}

	contents, err := mcpResourceRecent(deps)(context.Background(), makeReadResourceRequest("docqa://interactions/recent"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	tc, ok := contents[0].(mcp.TextResourceContents)
	if !ok {
		t.Fatalf("expected TextResourceContents, got %T", contents[0])
	}

	var summaries []struct {
		ID       string `json:"id"`
		Question string `json:"question"`
	}
	if err := json.Unmarshal([]byte(tc.Text), &summaries); err != nil {
		t.Fatalf("failed to parse: %v", err)
	}
	if len(summaries) != 1 || summaries[0].ID != "int-1" {
		t.Fatalf("summaries = %+v", summaries)
	}
	if !strings.HasSuffix(summaries[0].Question, "...") || len([]rune(summaries[0].Question)) != 203 {
		t.Errorf("question not truncated: %d runes", len([]rune(summaries[0].Question)))
	}
}

func TestNewMCPServer_Builds(t *testing.T) {
	deps, _ := newTestMCPDeps(t)
	if NewMCPServer(deps) == nil {
		t.Fatal("NewMCPServer returned nil")
	}
}
