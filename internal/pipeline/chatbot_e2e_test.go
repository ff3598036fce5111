package pipeline

import (
	"context"
	"strings"
	"testing"

	"github.com/kalambet/docqa/internal/composer"
	"github.com/kalambet/docqa/internal/condense"
	"github.com/kalambet/docqa/internal/conversation"
	"github.com/kalambet/docqa/internal/engine"
	"github.com/kalambet/docqa/internal/ingest"
	"github.com/kalambet/docqa/internal/lexical"
	"github.com/kalambet/docqa/internal/reranking"
	"github.com/kalambet/docqa/internal/retrieval"
	"github.com/kalambet/docqa/internal/storage"
)

// scriptedEngine embeds by topic keywords and answers chat requests by
// recognising which component sent them.
type scriptedEngine struct{}

func (scriptedEngine) Embed(_ context.Context, _ string, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i, t := range texts {
		t = strings.ToLower(t)
		out[i] = []float32{
			float32(strings.Count(t, "hypertension") + strings.Count(t, "blood pressure")),
			float32(strings.Count(t, "diabetes") + strings.Count(t, "hba1c")),
			float32(strings.Count(t, "asthma") + strings.Count(t, "inhaler")),
			0.1,
		}
	}
	return out, nil
}

func (scriptedEngine) Chat(_ context.Context, _ string, msgs []engine.Message, _ *engine.Schema) (string, error) {
	first, last := msgs[0].Content, msgs[len(msgs)-1].Content
	switch {
	case strings.HasPrefix(last, "Rate how well"):
		passage := last[strings.Index(last, "Passage: "):]
		switch {
		case strings.Contains(passage, "140/90"):
			return `{"score": 0.95}`, nil
		case strings.Contains(strings.ToLower(passage), "hypertension"):
			return "```json\n{\"score\": 0.8}\n```", nil
		default:
			return `{"score": 0.1}`, nil
		}
	case strings.HasPrefix(first, "You rewrite follow-up questions"):
		followUp := last[strings.Index(last, "Follow Up Input: ")+len("Follow Up Input: "):]
		followUp = strings.TrimSuffix(followUp, "\nStandalone question:")
		if strings.Contains(followUp, "drugs") {
			return "Which drugs should be offered for hypertension in adults under 55?", nil
		}
		return followUp, nil
	case strings.Contains(last, "Mars"):
		return composer.NoAnswer, nil
	case strings.Contains(last, "drugs") && strings.Contains(first, "ACE inhibitor"):
		return "Offer an ACE inhibitor or an ARB.", nil
	case strings.Contains(first, "140/90"):
		return "Hypertension is clinic blood pressure of 140/90 mmHg or higher.", nil
	}
	return composer.NoAnswer, nil
}

func (scriptedEngine) Models(context.Context) ([]string, error) { return nil, nil }

type pagesLoader []ingest.Page

func (l pagesLoader) Load(context.Context, string) ([]ingest.Page, error) { return l, nil }

func TestEndToEnd_HypertensionConversation(t *testing.T) {
	ctx := context.Background()
	db, err := storage.Open(":memory:", "")
	if err != nil {
		t.Fatalf("opening db: %v", err)
	}
	defer db.Close()

	eng := scriptedEngine{}
	store := retrieval.NewSQLiteStore(db.DB())
	embedder := retrieval.NewEmbedder(eng, "embed", 2)
	const collection = "nice_guidelines"

	proc, err := ingest.NewProcessor(ingest.KindNaive, ingest.Deps{
		Loader: pagesLoader{
			{Source: "ng136.pdf", Number: 0, Text: "Hypertension is diagnosed when clinic blood pressure is 140/90 mmHg or higher, confirmed by ambulatory monitoring."},
			{Source: "ng136.pdf", Number: 1, Text: "For adults with hypertension aged under 55, offer an ACE inhibitor or an ARB."},
			{Source: "ng28.pdf", Number: 0, Text: "Type 2 diabetes: measure HbA1c every 3 to 6 months."},
			{Source: "ng80.pdf", Number: 0, Text: "Asthma: offer a short-acting beta agonist reliever inhaler."},
		},
		Embedder:   embedder,
		Store:      store,
		Collection: collection,
		Dimension:  4,
	})
	if err != nil {
		t.Fatalf("NewProcessor: %v", err)
	}
	stats, err := proc.ComputeAndStoreEmbeddings(ctx, "unused")
	if err != nil {
		t.Fatalf("ComputeAndStoreEmbeddings: %v", err)
	}
	if stats.Inserted != 4 {
		t.Fatalf("inserted = %d, want 4", stats.Inserted)
	}

	bot, err := New(Deps{
		Contextualizer: condense.NewContextualizer(eng, "chat"),
		Dense:          retrieval.NewDenseRetriever(embedder, store, collection),
		Lexical:        lexical.NewHolder(),
		Corpus:         store,
		Collection:     collection,
		Reranker:       reranking.NewLLMReranker(eng, "chat", 3, 0),
		Synthesizer:    composer.NewSynthesizer(eng, "chat", nil),
		Interactions:   db,
	}, Config{})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if err := bot.RebuildLexical(ctx); err != nil {
		t.Fatalf("RebuildLexical: %v", err)
	}

	sess := conversation.NewSession("clinic")

	first, err := bot.GetResponse(ctx, sess, "What is hypertension?")
	if err != nil {
		t.Fatalf("first question: %v", err)
	}
	if first.StandaloneQuestion != "What is hypertension?" {
		t.Errorf("first question should pass through unchanged, got %q", first.StandaloneQuestion)
	}
	if !strings.Contains(first.Answer, "140/90") {
		t.Errorf("answer = %q", first.Answer)
	}
	if len(first.Sources) == 0 || first.Sources[0] != (composer.Source{SourceID: "ng136.pdf", Page: 0}) {
		t.Errorf("sources = %+v, want ng136.pdf page 0 first", first.Sources)
	}
	if len(first.Sources) > 3 {
		t.Errorf("sources = %d, want at most the reranked top 3", len(first.Sources))
	}

	second, err := bot.GetResponse(ctx, sess, "What drugs should I offer?")
	if err != nil {
		t.Fatalf("follow-up: %v", err)
	}
	if !strings.Contains(second.StandaloneQuestion, "hypertension") {
		t.Errorf("follow-up was not contextualized: %q", second.StandaloneQuestion)
	}
	if !strings.Contains(second.Answer, "ACE inhibitor") {
		t.Errorf("answer = %q", second.Answer)
	}

	third, err := bot.GetResponse(ctx, sess, "What is the capital of Mars?")
	if err != nil {
		t.Fatalf("unsupported question: %v", err)
	}
	if third.Answer != composer.NoAnswer {
		t.Errorf("answer = %q, want %q", third.Answer, composer.NoAnswer)
	}

	if n := sess.Len(); n != 6 {
		t.Errorf("turns = %d, want 6", n)
	}
	logged, err := db.ListInteractions("clinic", 10, 0)
	if err != nil {
		t.Fatalf("ListInteractions: %v", err)
	}
	if len(logged) != 3 {
		t.Errorf("interactions = %d, want 3", len(logged))
	}
}
