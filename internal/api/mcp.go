package api

import (
	"context"
	"encoding/json"
	"fmt"
	"time"
	"unicode/utf8"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/kalambet/docqa/internal/conversation"
	"github.com/kalambet/docqa/internal/ingest"
	"github.com/kalambet/docqa/internal/storage"
)

// DirIngester ingests a local directory in place. *ingest.Intake implements
// it, serializing the run with uploads and refreshing the lexical index.
type DirIngester interface {
	IngestDir(ctx context.Context, dir string) (ingest.Stats, error)
}

// MCPDeps holds dependencies for the MCP server. Ingester is optional;
// without it ingest_directory reports an error.
type MCPDeps struct {
	Chatbot      Asker
	Sessions     *conversation.Registry
	Ingester     DirIngester
	Store        *storage.Store
	DocumentsDir string
	Pattern      string
}

// NewMCPServer creates an MCP server with the docqa tools and resources.
func NewMCPServer(deps MCPDeps) *server.MCPServer {
	s := server.NewMCPServer(
		"docqa",
		"1.0.0",
		server.WithToolCapabilities(true),
		server.WithResourceCapabilities(false, true),
		server.WithInstructions("docqa answers questions from an indexed collection of PDF documents and cites the pages it used."),
		server.WithRecovery(),
	)

	s.AddTool(
		mcp.NewTool("ask",
			mcp.WithDescription("Ask a question about the indexed documents. Follow-up questions in the same session are interpreted against earlier turns."),
			mcp.WithString("question", mcp.Description("The question to answer"), mcp.Required()),
			mcp.WithString("session_id", mcp.Description("Conversation session id (default session when omitted)")),
		),
		mcpAsk(deps),
	)

	s.AddTool(
		mcp.NewTool("ingest_directory",
			mcp.WithDescription("Index every matching document in a local directory."),
			mcp.WithString("path", mcp.Description("Directory to ingest"), mcp.Required()),
		),
		mcpIngestDirectory(deps),
	)

	s.AddTool(
		mcp.NewTool("list_documents",
			mcp.WithDescription("List the documents in the document store."),
		),
		mcpListDocuments(deps),
	)

	s.AddTool(
		mcp.NewTool("collection_stats",
			mcp.WithDescription("Report every collection with its dimension and passage count."),
		),
		mcpCollectionStats(deps),
	)

	s.AddResource(
		mcp.NewResource(
			"docqa://interactions/recent",
			"Recent Interactions",
			mcp.WithResourceDescription("Last 10 answered questions"),
			mcp.WithMIMEType("application/json"),
		),
		mcpResourceRecent(deps),
	)

	return s
}

func mcpAsk(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		question, err := req.RequireString("question")
		if err != nil {
			return mcpError("question is required"), nil
		}
		sess, err := deps.Sessions.Get(req.GetString("session_id", ""))
		if err != nil {
			return mcpError(err.Error()), nil
		}

		resp, err := deps.Chatbot.GetResponse(ctx, sess, question)
		if err != nil {
			return mcpError(fmt.Sprintf("ask failed: %v", err)), nil
		}

		b, err := json.Marshal(ChatResponse{
			SessionID:          sess.ID(),
			Answer:             resp.Answer,
			Sources:            resp.Sources,
			StandaloneQuestion: resp.StandaloneQuestion,
		})
		if err != nil {
			return mcpError(fmt.Sprintf("failed to marshal response: %v", err)), nil
		}
		return mcpText(string(b)), nil
	}
}

func mcpIngestDirectory(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		if deps.Ingester == nil {
			return mcpError("ingestion not available"), nil
		}
		path, err := req.RequireString("path")
		if err != nil {
			return mcpError("path is required"), nil
		}

		stats, err := deps.Ingester.IngestDir(ctx, path)
		if err != nil {
			return mcpError(fmt.Sprintf("ingestion failed: %v", err)), nil
		}

		return mcpText(fmt.Sprintf("Ingested %d pages into %d passages (%d stored, %d skipped)",
			stats.Pages, stats.Passages, stats.Inserted, stats.Skipped)), nil
	}
}

func mcpListDocuments(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		docs, err := ingest.ListDocuments(deps.DocumentsDir, deps.Pattern)
		if err != nil {
			return mcpError(fmt.Sprintf("listing documents: %v", err)), nil
		}
		b, err := json.Marshal(docs)
		if err != nil {
			return mcpError(fmt.Sprintf("failed to marshal documents: %v", err)), nil
		}
		return mcpText(string(b)), nil
	}
}

func mcpCollectionStats(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		cols, err := deps.Store.ListCollections()
		if err != nil {
			return mcpError(fmt.Sprintf("listing collections: %v", err)), nil
		}
		if cols == nil {
			cols = []storage.CollectionInfo{}
		}
		b, err := json.Marshal(cols)
		if err != nil {
			return mcpError(fmt.Sprintf("failed to marshal collections: %v", err)), nil
		}
		return mcpText(string(b)), nil
	}
}

func mcpResourceRecent(deps MCPDeps) server.ResourceHandlerFunc {
	return func(ctx context.Context, req mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
		interactions, err := deps.Store.ListInteractions("", 10, 0)
		if err != nil {
			return nil, fmt.Errorf("failed to get recent interactions: %w", err)
		}

		type interactionSummary struct {
			ID        string `json:"id"`
			CreatedAt string `json:"created_at"`
			SessionID string `json:"session_id"`
			Question  string `json:"question"`
		}

		summaries := make([]interactionSummary, len(interactions))
		for i, ix := range interactions {
			q := ix.Question
			if utf8.RuneCountInString(q) > 200 {
				q = string([]rune(q)[:200]) + "..."
			}
			summaries[i] = interactionSummary{
				ID:        ix.ID,
				CreatedAt: ix.CreatedAt.Format(time.RFC3339),
				SessionID: ix.SessionID,
				Question:  q,
			}
		}

		b, err := json.Marshal(summaries)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal interactions: %w", err)
		}

		return []mcp.ResourceContents{
			mcp.TextResourceContents{
				URI:      req.Params.URI,
				MIMEType: "application/json",
				Text:     string(b),
			},
		}, nil
	}
}

func mcpText(text string) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		Content: []mcp.Content{
			mcp.TextContent{Type: "text", Text: text},
		},
	}
}

func mcpError(msg string) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		Content: []mcp.Content{
			mcp.TextContent{Type: "text", Text: msg},
		},
		IsError: true,
	}
}
