// Package pipeline wires the query path: contextualize, retrieve dense and
// lexical in parallel, fuse, rerank, synthesize, and record the turn.
package pipeline

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/kalambet/docqa/internal/composer"
	"github.com/kalambet/docqa/internal/conversation"
	"github.com/kalambet/docqa/internal/fusion"
	"github.com/kalambet/docqa/internal/lexical"
	"github.com/kalambet/docqa/internal/reranking"
	"github.com/kalambet/docqa/internal/retrieval"
	"github.com/kalambet/docqa/internal/storage"
)

const defaultTopK = 5

// Contextualizer rewrites a follow-up into a standalone question.
type Contextualizer interface {
	Standalone(ctx context.Context, history []conversation.Turn, question string) (string, error)
}

// Retriever returns the top-k candidates for a query.
type Retriever interface {
	Retrieve(ctx context.Context, query string, k int) ([]retrieval.Candidate, error)
}

// Synthesizer produces the final answer from ranked passages.
type Synthesizer interface {
	Answer(ctx context.Context, question string, passages []retrieval.Candidate, history []conversation.Turn) (composer.Answer, error)
}

// InteractionLog records completed exchanges.
type InteractionLog interface {
	SaveInteraction(i storage.Interaction) error
}

// Response is the result of one query.
type Response struct {
	Answer             string            `json:"answer"`
	Sources            []composer.Source `json:"sources"`
	StandaloneQuestion string            `json:"standalone_question"`
}

// Config tunes retrieval and ranking. Zero values select the defaults.
type Config struct {
	TopK          int
	DenseWeight   float64
	LexicalWeight float64
	TopN          int
}

// Deps are the collaborators of a Chatbot. Reranker, Interactions and
// Logger are optional.
type Deps struct {
	Contextualizer Contextualizer
	Dense          Retriever
	Lexical        *lexical.Holder
	Corpus         lexical.Corpus
	Collection     string
	Reranker       reranking.Reranker
	Synthesizer    Synthesizer
	Interactions   InteractionLog
	Logger         *slog.Logger
}

// Chatbot answers questions against the indexed documents.
type Chatbot struct {
	deps Deps
	cfg  Config
	log  *slog.Logger
}

// New validates deps and returns a Chatbot.
func New(deps Deps, cfg Config) (*Chatbot, error) {
	switch {
	case deps.Contextualizer == nil:
		return nil, fmt.Errorf("pipeline: contextualizer is required")
	case deps.Dense == nil:
		return nil, fmt.Errorf("pipeline: dense retriever is required")
	case deps.Synthesizer == nil:
		return nil, fmt.Errorf("pipeline: synthesizer is required")
	}
	if deps.Lexical == nil {
		deps.Lexical = lexical.NewHolder()
	}
	if deps.Reranker == nil {
		deps.Reranker = &reranking.NoOpReranker{}
	}
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	if cfg.TopK <= 0 {
		cfg.TopK = defaultTopK
	}
	if cfg.DenseWeight == 0 && cfg.LexicalWeight == 0 {
		cfg.DenseWeight = fusion.DefaultDenseWeight
		cfg.LexicalWeight = fusion.DefaultLexicalWeight
	}
	if cfg.TopN <= 0 {
		cfg.TopN = reranking.DefaultTopN
	}
	return &Chatbot{deps: deps, cfg: cfg, log: deps.Logger}, nil
}

// GetResponse answers question within sess. On success the question and the
// answer are appended to the session; on any failure the session is left
// exactly as it was and the error says which stage failed.
func (c *Chatbot) GetResponse(ctx context.Context, sess *conversation.Session, question string) (Response, error) {
	if strings.TrimSpace(question) == "" {
		return Response{}, ErrEmptyQuestion
	}
	start := time.Now()

	history, err := sess.Begin(question)
	if err != nil {
		return Response{}, err
	}
	committed := false
	defer func() {
		if !committed {
			sess.Abort()
		}
	}()

	standalone, err := c.deps.Contextualizer.Standalone(ctx, history, question)
	if err != nil {
		return Response{}, stageErr(StageContextualize, err)
	}

	fused, err := c.retrieve(ctx, standalone)
	if err != nil {
		return Response{}, stageErr(StageRetrieve, err)
	}

	ranked := c.rerank(ctx, standalone, fused)

	ans, err := c.deps.Synthesizer.Answer(ctx, standalone, ranked, history)
	if err != nil {
		return Response{}, stageErr(StageGenerate, err)
	}

	if err := sess.Commit(ans.Text); err != nil {
		return Response{}, err
	}
	committed = true

	resp := Response{Answer: ans.Text, Sources: ans.Sources, StandaloneQuestion: standalone}
	if resp.Sources == nil {
		resp.Sources = []composer.Source{}
	}
	c.record(sess.ID(), question, resp, time.Since(start))

	c.log.Info("query answered",
		"session_id", sess.ID(),
		"passages", len(ranked),
		"sources", len(resp.Sources),
		"duration_ms", time.Since(start).Milliseconds(),
	)
	return resp, nil
}

// retrieve runs the dense and lexical retrievers concurrently and fuses the
// results. Dense failure is fatal; lexical failure degrades to dense-only.
func (c *Chatbot) retrieve(ctx context.Context, query string) ([]retrieval.Candidate, error) {
	var dense, lex []retrieval.Candidate
	var lexErr error

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		dense, err = c.deps.Dense.Retrieve(gctx, query, c.cfg.TopK)
		return err
	})
	g.Go(func() error {
		lex, lexErr = c.deps.Lexical.Retrieve(gctx, query, c.cfg.TopK)
		return nil
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}

	switch {
	case lexErr != nil:
		c.log.Warn("lexical retrieval failed, using dense results only", "error", lexErr)
		lex = nil
	case len(lex) == 0:
		c.log.Debug("lexical retrieval returned nothing", "index_size", c.deps.Lexical.Load().Len())
	}

	return fusion.Weighted(
		[][]retrieval.Candidate{dense, lex},
		[]float64{c.cfg.DenseWeight, c.cfg.LexicalWeight},
	), nil
}

// rerank never fails the query. On error it keeps the fused order.
func (c *Chatbot) rerank(ctx context.Context, query string, fused []retrieval.Candidate) []retrieval.Candidate {
	if len(fused) == 0 {
		return nil
	}
	ranked, err := c.deps.Reranker.Rerank(ctx, query, fused)
	if err != nil {
		c.log.Warn("reranking failed, using fused order", "stage", StageRerank, "error", err)
		ranked = fused[:min(c.cfg.TopN, len(fused))]
	}
	return ranked[:min(c.cfg.TopK, len(ranked))]
}

func (c *Chatbot) record(sessionID, question string, resp Response, d time.Duration) {
	if c.deps.Interactions == nil {
		return
	}
	sources, err := json.Marshal(resp.Sources)
	if err != nil {
		c.log.Warn("encoding interaction sources", "error", err)
		sources = []byte("[]")
	}
	err = c.deps.Interactions.SaveInteraction(storage.Interaction{
		ID:                 uuid.New().String(),
		CreatedAt:          time.Now().UTC(),
		SessionID:          sessionID,
		Question:           question,
		StandaloneQuestion: resp.StandaloneQuestion,
		Answer:             resp.Answer,
		Sources:            string(sources),
		DurationMs:         d.Milliseconds(),
	})
	if err != nil {
		c.log.Warn("saving interaction", "error", err)
	}
}

// RebuildLexical replaces the lexical index with one built from the current
// contents of the collection. The previous index stays live on failure.
func (c *Chatbot) RebuildLexical(ctx context.Context) error {
	if c.deps.Corpus == nil {
		return fmt.Errorf("pipeline: no corpus configured for lexical rebuild")
	}
	n, err := c.deps.Lexical.Rebuild(ctx, c.deps.Corpus, c.deps.Collection)
	if err != nil {
		return fmt.Errorf("rebuilding lexical index: %w", err)
	}
	c.log.Info("lexical index rebuilt", "collection", c.deps.Collection, "passages", n)
	return nil
}

// Collection returns the collection queries run against.
func (c *Chatbot) Collection() string { return c.deps.Collection }
