package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/mark3labs/mcp-go/server"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/kalambet/docqa/internal/api"
	"github.com/kalambet/docqa/internal/config"
	"github.com/kalambet/docqa/internal/ingest"
)

var serveCmd = &cobra.Command{
	Use:     "serve",
	Aliases: []string{"start"},
	Short:   "Run the docqa server (foreground)",
	RunE: func(cmd *cobra.Command, args []string) error {
		mcpStdio, _ := cmd.Flags().GetBool("mcp-stdio")
		watch, _ := cmd.Flags().GetBool("watch")
		return runServer(mcpStdio, watch)
	},
}

var stopCmd = &cobra.Command{
	Use:   "stop",
	Short: "Stop the running docqa server",
	RunE: func(cmd *cobra.Command, args []string) error {
		return stopServer()
	},
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show docqa system status",
	RunE: func(cmd *cobra.Command, args []string) error {
		return showStatus(cmd.Context())
	},
}

func init() {
	serveCmd.Flags().Bool("mcp-stdio", false, "also serve MCP tools over stdin/stdout")
	serveCmd.Flags().Bool("watch", true, "ingest PDFs dropped into documents.upload_dir")
}

func pidFilePath(dataDir string) string {
	return filepath.Join(dataDir, "docqa.pid")
}

func writePIDFile(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	return os.WriteFile(path, []byte(strconv.Itoa(os.Getpid())), 0o644)
}

func readPIDFile(path string) (int, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return 0, err
	}
	return strconv.Atoi(strings.TrimSpace(string(data)))
}

func removePIDFile(path string) {
	os.Remove(path)
}

func runServer(mcpStdio, watch bool) error {
	fmt.Fprintf(os.Stderr, "docqa version %s\n", version)

	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	setupLogging(cfg.Log.Level)

	pidPath := pidFilePath(cfg.Storage.DataDir)
	healthClient := &http.Client{Timeout: 2 * time.Second}
	if resp, err := healthClient.Get(fmt.Sprintf("http://127.0.0.1:%d/health", cfg.Server.Port)); err == nil {
		resp.Body.Close()
		if pid, pidErr := readPIDFile(pidPath); pidErr == nil {
			return fmt.Errorf("server already running (PID %d)", pid)
		}
		return fmt.Errorf("server already running on port %d", cfg.Server.Port)
	}
	if err := writePIDFile(pidPath); err != nil {
		return fmt.Errorf("writing PID file: %w", err)
	}
	defer removePIDFile(pidPath)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a, err := newApp(ctx, cfg, os.Stderr)
	if err != nil {
		return err
	}
	defer func() {
		if err := a.Close(); err != nil {
			fmt.Fprintf(os.Stderr, "warning: closing storage: %v\n", err)
		}
	}()

	if cfg.Server.Token == "" {
		slog.Warn("server.token is not set; the API is unauthenticated")
	}
	handler := api.NewHandler(api.Deps{
		Chatbot:    a.chatbot,
		Sessions:   a.sessions,
		Intake:     a.intake,
		Store:      a.store,
		Vectors:    a.vectors,
		Collection: cfg.Storage.Collection,
		Token:      cfg.Server.Token,
	})

	addr := fmt.Sprintf("127.0.0.1:%d", cfg.Server.Port)
	srv := &http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
		BaseContext: func(_ net.Listener) context.Context {
			return ctx
		},
	}

	g, gCtx := errgroup.WithContext(ctx)

	if watch {
		w := ingest.NewWatcher(a.intake, 0)
		g.Go(func() error {
			if err := w.Run(gCtx); err != nil && !errors.Is(err, context.Canceled) {
				slog.Error("upload watcher stopped", "error", err)
			}
			return nil
		})
		slog.Info("watching for uploads", "dir", cfg.Documents.UploadDir)
	}

	if mcpStdio {
		mcpSrv := api.NewMCPServer(api.MCPDeps{
			Chatbot:      a.chatbot,
			Sessions:     a.sessions,
			Ingester:     a.intake,
			Store:        a.store,
			DocumentsDir: cfg.Documents.Dir,
			Pattern:      cfg.Documents.Pattern,
		})
		stdioSrv := server.NewStdioServer(mcpSrv)
		// Not part of the group: a blocked stdin read must not hold up shutdown.
		go func() {
			if err := stdioSrv.Listen(gCtx, os.Stdin, os.Stdout); err != nil && !errors.Is(err, context.Canceled) {
				slog.Error("MCP stdio server error", "error", err)
			}
		}()
		slog.Info("MCP server started (stdio transport)")
	}

	g.Go(func() error {
		fmt.Fprintf(os.Stderr, "docqa listening on %s\n", addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return fmt.Errorf("server error: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		<-gCtx.Done()
		fmt.Fprintln(os.Stderr, "shutting down...")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	return g.Wait()
}

func stopServer() error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}

	pidPath := pidFilePath(cfg.Storage.DataDir)
	pid, err := readPIDFile(pidPath)
	if err != nil {
		printError("docqa is not running (no PID file)")
		return fmt.Errorf("not running: %w", err)
	}

	process, err := os.FindProcess(pid)
	if err != nil {
		printError("could not find process %d", pid)
		return err
	}

	if err := process.Signal(syscall.SIGTERM); err != nil {
		printError("could not stop docqa (PID %d): %v", pid, err)
		removePIDFile(pidPath)
		return err
	}

	printSuccess("Sent stop signal to docqa (PID %d)", pid)
	return nil
}

func showStatus(ctx context.Context) error {
	cfg, err := config.Load()
	if err != nil {
		printError("config error: %v", err)
		return nil
	}

	client := newClientFor(cfg, "")
	client.httpClient.Timeout = 2 * time.Second

	running := false
	if resp, err := client.get(ctx, "/health"); err != nil {
		printStatus("Server", "stopped")
	} else {
		resp.Body.Close()
		if resp.StatusCode == http.StatusOK {
			running = true
			printStatus("Server", "running on port %d", cfg.Server.Port)
		} else {
			printStatus("Server", "error (HTTP %d)", resp.StatusCode)
		}
	}

	printStatus("Engine", "%s at %s", cfg.Engine.Provider, cfg.Engine.BaseURL)
	printStatus("Chat model", "%s", cfg.Engine.ChatModel)
	printStatus("Embed model", "%s", cfg.Engine.EmbedModel)
	printStatus("Reranking", "%s (top %d)", cfg.Reranking.Mode, cfg.Reranking.TopN)

	if running {
		if resp, err := client.get(ctx, "/collections"); err == nil {
			var cols []struct {
				Name     string `json:"name"`
				Passages int    `json:"passages"`
			}
			if decodeJSON(resp, &cols) == nil {
				for _, c := range cols {
					printStatus("Collection", "%s (%d passages)", c.Name, c.Passages)
				}
			}
		}
		if resp, err := client.get(ctx, "/interactions?limit=100"); err == nil {
			var interactions []struct {
				ID string `json:"id"`
			}
			if decodeJSON(resp, &interactions) == nil {
				printStatus("Interactions", "%s", countLabel(len(interactions), 100))
			}
		}
	}

	printStatus("Documents", "%s", cfg.Documents.Dir)
	printStatus("Data dir", "%s", cfg.Storage.DataDir)
	return nil
}

func countLabel(count, limit int) string {
	if count >= limit {
		return fmt.Sprintf("%d+", count)
	}
	return fmt.Sprintf("%d", count)
}
