package main

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/url"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/kalambet/docqa/internal/config"
	"github.com/kalambet/docqa/internal/ingest"
)

// --- ingest ---

var ingestCmd = &cobra.Command{
	Use:   "ingest [dir]",
	Short: "Embed and index the PDFs in a directory",
	Long: `Embed and index the PDFs in a directory, in process.

The directory defaults to documents.dir. Source ids are paths relative to
documents.dir, so a subdirectory such as documents.dir/2024 yields ids like
"2024/ng136.pdf". A directory outside documents.dir is indexed with ids
relative to itself, and its PDFs cannot be downloaded from the server; copy
them into documents.dir or upload them instead.

With --watch the command keeps running and ingests PDFs dropped into
documents.upload_dir.

Examples:
  docqa ingest
  docqa ingest ./guidelines
  docqa ingest --watch`,
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		watch, _ := cmd.Flags().GetBool("watch")

		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		setupLogging(cfg.Log.Level)

		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		a, err := newApp(ctx, cfg, os.Stderr)
		if err != nil {
			return err
		}
		defer a.Close()

		if watch {
			printStep("Watching %s for new documents (Ctrl-C to stop)", cfg.Documents.UploadDir)
			if err := ingest.NewWatcher(a.intake, 0).Run(ctx); err != nil && ctx.Err() == nil {
				return err
			}
			return nil
		}

		dir := cfg.Documents.Dir
		if len(args) == 1 {
			dir = args[0]
		}
		printStep("Ingesting %s into %s", dir, cfg.Storage.Collection)
		stats, err := a.intake.IngestDir(ctx, dir)
		if err != nil {
			return err
		}
		printSuccess("Ingested %d pages as %d passages (%d inserted, %d skipped) in %s",
			stats.Pages, stats.Passages, stats.Inserted, stats.Skipped, stats.Duration.Round(time.Millisecond))
		printWarning("A running server picks up these passages after its next upload or restart")
		return nil
	},
}

func init() {
	ingestCmd.Flags().Bool("watch", false, "watch documents.upload_dir instead of ingesting once")
}

// --- upload ---

var uploadCmd = &cobra.Command{
	Use:   "upload <file.pdf>...",
	Short: "Upload PDFs to the running server",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newAPIClient(cmd)
		if err != nil {
			return err
		}

		resp, err := client.upload(cmd.Context(), "/upload", args)
		if err != nil {
			return err
		}
		var result struct {
			Files []string     `json:"files"`
			Stats ingest.Stats `json:"stats"`
		}
		if err := decodeJSON(resp, &result); err != nil {
			return err
		}

		printSuccess("Ingested %s: %d passages", strings.Join(result.Files, ", "), result.Stats.Inserted)
		return nil
	},
}

// --- documents ---

var documentsCmd = &cobra.Command{
	Use:   "documents",
	Short: "List documents in the document store",
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newAPIClient(cmd)
		if err != nil {
			return err
		}

		resp, err := client.get(cmd.Context(), "/documents")
		if err != nil {
			return err
		}
		var docs []ingest.Document
		if err := decodeJSON(resp, &docs); err != nil {
			return err
		}

		out := cmd.OutOrStdout()
		if len(docs) == 0 {
			fmt.Fprintln(out, "No documents found.")
			return nil
		}
		for _, d := range docs {
			fmt.Fprintf(out, "%s  %8d  %s\n", colorize(colorCyan, d.Filename), d.Size, d.Path)
		}
		return nil
	},
}

// --- ask / chat ---

type chatReply struct {
	SessionID          string `json:"session_id"`
	Answer             string `json:"answer"`
	StandaloneQuestion string `json:"standalone_question"`
	Sources            []struct {
		Source string `json:"source"`
		Page   int    `json:"page"`
	} `json:"sources"`
}

func ask(ctx context.Context, client *apiClient, sessionID, question string) (chatReply, error) {
	resp, err := client.post(ctx, "/chat", map[string]string{
		"question":   question,
		"session_id": sessionID,
	})
	if err != nil {
		return chatReply{}, err
	}
	var reply chatReply
	err = decodeJSON(resp, &reply)
	return reply, err
}

func printReply(w io.Writer, reply chatReply) {
	fmt.Fprintln(w, reply.Answer)
	if len(reply.Sources) == 0 {
		return
	}
	fmt.Fprintln(w, colorize(colorBold, "Sources:"))
	for _, s := range reply.Sources {
		fmt.Fprintf(w, "  - %s, page %d\n", s.Source, s.Page)
	}
}

var askCmd = &cobra.Command{
	Use:   "ask <question>",
	Short: "Ask a single question",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		sessionID, _ := cmd.Flags().GetString("session")

		client, err := newAPIClient(cmd)
		if err != nil {
			return err
		}
		reply, err := ask(cmd.Context(), client, sessionID, strings.Join(args, " "))
		if err != nil {
			return err
		}
		printReply(cmd.OutOrStdout(), reply)
		return nil
	},
}

var chatCmd = &cobra.Command{
	Use:   "chat",
	Short: "Start an interactive conversation in a new session",
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newAPIClient(cmd)
		if err != nil {
			return err
		}
		return runChat(cmd.Context(), client, cmd.InOrStdin(), cmd.OutOrStdout())
	},
}

func runChat(ctx context.Context, client *apiClient, in io.Reader, out io.Writer) error {
	resp, err := client.post(ctx, "/sessions", nil)
	if err != nil {
		return err
	}
	var sess struct {
		ID string `json:"id"`
	}
	if err := decodeJSON(resp, &sess); err != nil {
		return err
	}
	defer func() {
		if resp, err := client.delete(context.WithoutCancel(ctx), "/sessions/"+sess.ID); err == nil {
			resp.Body.Close()
		}
	}()

	fmt.Fprintln(out, "Ask a question about the documents. An empty line ends the session.")
	scanner := bufio.NewScanner(in)
	for {
		fmt.Fprint(out, colorize(colorBold, "> "))
		if !scanner.Scan() {
			return scanner.Err()
		}
		q := strings.TrimSpace(scanner.Text())
		if q == "" {
			return nil
		}
		reply, err := ask(ctx, client, sess.ID, q)
		if err != nil {
			printError("%v", err)
			continue
		}
		printReply(out, reply)
	}
}

func init() {
	askCmd.Flags().String("session", "", "session id (default: the shared default session)")
}

// --- interactions ---

var interactionsCmd = &cobra.Command{
	Use:   "interactions",
	Short: "Inspect the question and answer log",
}

var interactionsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List recent interactions",
	RunE: func(cmd *cobra.Command, args []string) error {
		limit, _ := cmd.Flags().GetInt("limit")
		sessionID, _ := cmd.Flags().GetString("session")

		client, err := newAPIClient(cmd)
		if err != nil {
			return err
		}

		q := url.Values{}
		q.Set("limit", fmt.Sprint(limit))
		if sessionID != "" {
			q.Set("session_id", sessionID)
		}
		resp, err := client.get(cmd.Context(), "/interactions?"+q.Encode())
		if err != nil {
			return err
		}

		var interactions []struct {
			ID        string `json:"id"`
			CreatedAt string `json:"created_at"`
			Question  string `json:"question"`
		}
		if err := decodeJSON(resp, &interactions); err != nil {
			return err
		}

		out := cmd.OutOrStdout()
		if len(interactions) == 0 {
			fmt.Fprintln(out, "No interactions found.")
			return nil
		}
		for _, ix := range interactions {
			question := []rune(ix.Question)
			if len(question) > 80 {
				question = append(question[:80], []rune("...")...)
			}
			fmt.Fprintf(out, "%s  %s  %s\n", colorize(colorCyan, shortID(ix.ID)), ix.CreatedAt, string(question))
		}
		return nil
	},
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

var interactionsShowCmd = &cobra.Command{
	Use:   "show <id>",
	Short: "Show a single interaction",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newAPIClient(cmd)
		if err != nil {
			return err
		}

		resp, err := client.get(cmd.Context(), "/interactions/"+url.PathEscape(args[0]))
		if err != nil {
			return err
		}

		var interaction any
		if err := decodeJSON(resp, &interaction); err != nil {
			return err
		}

		enc := json.NewEncoder(cmd.OutOrStdout())
		enc.SetIndent("", "  ")
		return enc.Encode(interaction)
	},
}

var interactionsPurgeCmd = &cobra.Command{
	Use:   "purge",
	Short: "Delete every logged interaction",
	RunE: func(cmd *cobra.Command, args []string) error {
		confirm, _ := cmd.Flags().GetBool("confirm")
		if !confirm {
			printWarning("This will delete ALL logged interactions. Use --confirm to proceed.")
			return nil
		}

		client, err := newAPIClient(cmd)
		if err != nil {
			return err
		}

		printStep("Deleting interactions...")
		failures, err := purgeEndpoint(cmd.Context(), client, "/interactions")
		if err != nil {
			return err
		}
		if failures > 0 {
			return fmt.Errorf("%d interactions could not be deleted", failures)
		}
		printSuccess("All interactions purged")
		return nil
	},
}

// purgeEndpoint deletes every item listed at path, page by page, and
// returns how many deletions failed. It stops when a page holds nothing but
// failures, so a stuck item cannot loop forever.
func purgeEndpoint(ctx context.Context, client *apiClient, path string) (int, error) {
	failures := 0
	seenFailed := make(map[string]bool)
	for {
		resp, err := client.get(ctx, path+"?limit=100")
		if err != nil {
			return failures, err
		}
		var items []struct {
			ID string `json:"id"`
		}
		if err := decodeJSON(resp, &items); err != nil {
			return failures, err
		}

		progressed := false
		for _, it := range items {
			if seenFailed[it.ID] {
				continue
			}
			resp, err := client.delete(ctx, path+"/"+url.PathEscape(it.ID))
			if err == nil {
				err = decodeJSON(resp, nil)
			}
			if err != nil {
				printError("Failed to delete %s: %v", it.ID, err)
				seenFailed[it.ID] = true
				failures++
				continue
			}
			progressed = true
		}
		if !progressed {
			return failures, nil
		}
	}
}

func init() {
	interactionsListCmd.Flags().Int("limit", 20, "maximum number of interactions to list")
	interactionsListCmd.Flags().String("session", "", "only list interactions of this session")
	interactionsPurgeCmd.Flags().Bool("confirm", false, "confirm the purge")
	interactionsCmd.AddCommand(interactionsListCmd, interactionsShowCmd, interactionsPurgeCmd)
}

// --- collections ---

var collectionsCmd = &cobra.Command{
	Use:     "collections",
	Aliases: []string{"collection"},
	Short:   "Inspect vector collections",
}

var collectionsListCmd = &cobra.Command{
	Use:     "list",
	Aliases: []string{"stats"},
	Short:   "List collections with their passage counts",
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newAPIClient(cmd)
		if err != nil {
			return err
		}
		resp, err := client.get(cmd.Context(), "/collections")
		if err != nil {
			return err
		}
		var cols []struct {
			Name      string `json:"name"`
			Dimension int    `json:"dimension"`
			Metric    string `json:"metric"`
			Passages  int    `json:"passages"`
		}
		if err := decodeJSON(resp, &cols); err != nil {
			return err
		}
		out := cmd.OutOrStdout()
		for _, c := range cols {
			fmt.Fprintf(out, "%s  dim=%d  metric=%s  passages=%d\n", colorize(colorBold, c.Name), c.Dimension, c.Metric, c.Passages)
		}
		return nil
	},
}

var collectionsQueryCmd = &cobra.Command{
	Use:   "query <collection>",
	Short: "Query passages with a filter expression",
	Long: `Query passages with a filter expression.

Examples:
  docqa collections query nice_guidelines --filter 'source == "ng136.pdf" and page >= 3'
  docqa collections query nice_guidelines --fields id,source,page --limit 5`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		filter, _ := cmd.Flags().GetString("filter")
		fields, _ := cmd.Flags().GetString("fields")
		limit, _ := cmd.Flags().GetInt("limit")

		client, err := newAPIClient(cmd)
		if err != nil {
			return err
		}

		q := url.Values{}
		if filter != "" {
			q.Set("filter", filter)
		}
		if fields != "" {
			q.Set("fields", fields)
		}
		q.Set("limit", fmt.Sprint(limit))
		resp, err := client.get(cmd.Context(), "/collections/"+url.PathEscape(args[0])+"/query?"+q.Encode())
		if err != nil {
			return err
		}

		var rows []map[string]any
		if err := decodeJSON(resp, &rows); err != nil {
			return err
		}
		enc := json.NewEncoder(cmd.OutOrStdout())
		for _, row := range rows {
			if err := enc.Encode(row); err != nil {
				return err
			}
		}
		return nil
	},
}

func init() {
	collectionsQueryCmd.Flags().String("filter", "", "filter expression over id, source, page and text")
	collectionsQueryCmd.Flags().String("fields", "id,source,page,text", "comma-separated output fields")
	collectionsQueryCmd.Flags().Int("limit", 20, "maximum number of rows")
	collectionsCmd.AddCommand(collectionsListCmd, collectionsQueryCmd)
}

// --- config ---

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Show or update configuration",
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show current configuration",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load()
		if err != nil {
			return err
		}

		out := cmd.OutOrStdout()
		for _, k := range config.ShowAll(cfg) {
			fmt.Fprintf(out, "  %s = %s\n", colorize(colorBold, k.Key), k.Value)
		}
		return nil
	},
}

var configSetCmd = &cobra.Command{
	Use:   "set <key> <value>",
	Short: "Set a configuration value",
	Long:  "Set a configuration value. Valid keys:\n  " + strings.Join(config.ValidKeys(), "\n  "),
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		key, value := args[0], args[1]

		if err := config.SetKey(key, value); err != nil {
			return err
		}

		printSuccess("Set %s", key)
		return nil
	},
}

func init() {
	configCmd.AddCommand(configShowCmd, configSetCmd)
}
