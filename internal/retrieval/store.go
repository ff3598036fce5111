package retrieval

import (
	"container/heap"
	"context"
	"database/sql"
	"encoding/binary"
	"errors"
	"fmt"
	"math"
	"regexp"
	"sort"
	"strings"
	"time"
	"unicode/utf8"
)

// Compile-time check that SQLiteStore implements VectorStore.
var _ VectorStore = (*SQLiteStore)(nil)

var collectionNamePattern = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]{0,254}$`)

// SQLiteStore provides vector storage and brute-force inner-product search
// backed by SQLite. The collections and passages tables are created by the
// storage migrations.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore wraps an existing *sql.DB for vector operations.
func NewSQLiteStore(db *sql.DB) *SQLiteStore {
	return &SQLiteStore{db: db}
}

// EnsureCollection registers the collection on first use. An existing
// collection is loaded; requesting it with a different dimension fails.
func (s *SQLiteStore) EnsureCollection(ctx context.Context, name string, dim int) (Collection, error) {
	if !collectionNamePattern.MatchString(name) {
		return Collection{}, fmt.Errorf("invalid collection name %q", name)
	}
	if dim <= 0 {
		return Collection{}, fmt.Errorf("collection %s: dimension must be positive, got %d", name, dim)
	}

	existing, err := s.collection(ctx, name)
	if err == nil {
		if existing.Dimension != dim {
			return Collection{}, fmt.Errorf("collection %s has dimension %d, requested %d: %w",
				name, existing.Dimension, dim, ErrDimensionMismatch)
		}
		return existing, nil
	}
	if !errors.Is(err, ErrCollectionNotFound) {
		return Collection{}, err
	}

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO collections (name, dimension, metric, created_at) VALUES (?, ?, 'IP', ?)
		ON CONFLICT(name) DO NOTHING`,
		name, dim, time.Now().UTC().Format(time.RFC3339))
	if err != nil {
		return Collection{}, fmt.Errorf("creating collection %s: %w", name, err)
	}
	// Re-read in case a concurrent creator won with another dimension.
	c, err := s.collection(ctx, name)
	if err != nil {
		return Collection{}, err
	}
	if c.Dimension != dim {
		return Collection{}, fmt.Errorf("collection %s has dimension %d, requested %d: %w",
			name, c.Dimension, dim, ErrDimensionMismatch)
	}
	return c, nil
}

func (s *SQLiteStore) collection(ctx context.Context, name string) (Collection, error) {
	var c Collection
	err := s.db.QueryRowContext(ctx, `SELECT name, dimension FROM collections WHERE name = ?`, name).
		Scan(&c.Name, &c.Dimension)
	if err == sql.ErrNoRows {
		return Collection{}, fmt.Errorf("%s: %w", name, ErrCollectionNotFound)
	}
	if err != nil {
		return Collection{}, fmt.Errorf("loading collection %s: %w", name, err)
	}
	return c, nil
}

// Insert adds passages to the collection in one transaction and returns the
// assigned ids. Duplicates are stored as separate rows.
func (s *SQLiteStore) Insert(ctx context.Context, collection string, passages []Passage) ([]int64, error) {
	if len(passages) == 0 {
		return nil, nil
	}
	c, err := s.collection(ctx, collection)
	if err != nil {
		return nil, err
	}
	for i, p := range passages {
		if err := validatePassage(c, p); err != nil {
			return nil, fmt.Errorf("passage %d: %w", i, err)
		}
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("beginning insert transaction: %w", err)
	}

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO passages (collection, vector, text, source, page, content_hash, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		tx.Rollback()
		return nil, fmt.Errorf("preparing insert statement: %w", err)
	}
	defer stmt.Close()

	now := time.Now().UTC().Format(time.RFC3339)
	ids := make([]int64, len(passages))
	for i, p := range passages {
		res, err := stmt.ExecContext(ctx, collection, encodeFloat32s(p.Embedding), p.Content, p.SourceID, p.Page, p.ContentHash, now)
		if err != nil {
			tx.Rollback()
			return nil, fmt.Errorf("inserting passage %d: %w", i, err)
		}
		id, err := res.LastInsertId()
		if err != nil {
			tx.Rollback()
			return nil, fmt.Errorf("reading id for passage %d: %w", i, err)
		}
		ids[i] = id
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("committing insert: %w", err)
	}
	return ids, nil
}

func validatePassage(c Collection, p Passage) error {
	if len(p.Embedding) != c.Dimension {
		return fmt.Errorf("got %d dimensions, collection %s expects %d: %w",
			len(p.Embedding), c.Name, c.Dimension, ErrDimensionMismatch)
	}
	if utf8.RuneCountInString(p.Content) > MaxTextLength {
		return fmt.Errorf("text exceeds %d characters", MaxTextLength)
	}
	if utf8.RuneCountInString(p.SourceID) > MaxSourceLength {
		return fmt.Errorf("source exceeds %d characters", MaxSourceLength)
	}
	if p.Page < math.MinInt32 || p.Page > math.MaxInt32 {
		return fmt.Errorf("page %d out of int32 range", p.Page)
	}
	return nil
}

// idScore holds only the ID and score during the scan phase of Search.
// Full record details are fetched only for top-K winners.
type idScore struct {
	ID    int64
	Score float32
}

// Search performs an exact brute-force inner-product scan, returning the
// top-k passages. Equal scores are ordered by ascending id.
func (s *SQLiteStore) Search(ctx context.Context, collection string, vector []float32, k int) ([]ScoredPassage, error) {
	if k <= 0 {
		return nil, nil
	}
	c, err := s.collection(ctx, collection)
	if err != nil {
		return nil, err
	}
	if len(vector) != c.Dimension {
		return nil, fmt.Errorf("query vector has %d dimensions, collection %s expects %d: %w",
			len(vector), c.Name, c.Dimension, ErrDimensionMismatch)
	}

	// Phase 1: scan only id + vector to find top-K candidates.
	rows, err := s.db.QueryContext(ctx, `SELECT id, vector FROM passages WHERE collection = ?`, collection)
	if err != nil {
		return nil, fmt.Errorf("querying vectors: %w", err)
	}
	defer rows.Close()

	h := &idScoreHeap{}
	heap.Init(h)

	// Reusable buffer for decoding embeddings to avoid per-row allocations.
	var buf []float32

	for rows.Next() {
		var id int64
		var blob []byte
		if err := rows.Scan(&id, &blob); err != nil {
			return nil, fmt.Errorf("scanning row: %w", err)
		}

		buf, err = decodeFloat32sInto(buf, blob)
		if err != nil {
			return nil, fmt.Errorf("decoding embedding for %d: %w", id, err)
		}

		item := idScore{ID: id, Score: innerProduct(vector, buf)}
		if h.Len() < k {
			heap.Push(h, item)
		} else if worse((*h)[0], item) {
			(*h)[0] = item
			heap.Fix(h, 0)
		}
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating rows: %w", err)
	}

	if h.Len() == 0 {
		return nil, nil
	}

	// Phase 2: fetch full records only for the top-K IDs.
	scores := make(map[int64]float32, h.Len())
	queryArgs := make([]any, 0, h.Len())
	for h.Len() > 0 {
		item := heap.Pop(h).(idScore)
		scores[item.ID] = item.Score
		queryArgs = append(queryArgs, item.ID)
	}

	fullQuery := `SELECT id, text, source, page, content_hash FROM passages
		WHERE id IN (?` + strings.Repeat(",?", len(queryArgs)-1) + `)`
	fullRows, err := s.db.QueryContext(ctx, fullQuery, queryArgs...)
	if err != nil {
		return nil, fmt.Errorf("fetching top-K passages: %w", err)
	}
	defer fullRows.Close()

	results := make([]ScoredPassage, 0, len(scores))
	for fullRows.Next() {
		var p Passage
		if err := fullRows.Scan(&p.ID, &p.Content, &p.SourceID, &p.Page, &p.ContentHash); err != nil {
			return nil, fmt.Errorf("scanning passage: %w", err)
		}
		results = append(results, ScoredPassage{Passage: p, Score: scores[p.ID]})
	}
	if err := fullRows.Err(); err != nil {
		return nil, fmt.Errorf("iterating passages: %w", err)
	}

	// IN query doesn't preserve order.
	sortByScore(results)
	return results, nil
}

// worse reports whether a ranks below b: lower score, or equal score and
// higher id.
func worse(a, b idScore) bool {
	if a.Score != b.Score {
		return a.Score < b.Score
	}
	return a.ID > b.ID
}

// sortByScore sorts by Score descending, then ID ascending.
func sortByScore(results []ScoredPassage) {
	sort.SliceStable(results, func(i, j int) bool {
		if results[i].Score != results[j].Score {
			return results[i].Score > results[j].Score
		}
		return results[i].ID < results[j].ID
	})
}

var queryableFields = []string{"id", "text", "source", "page"}

// Query returns passages matching filter, projected to fields. Requesting
// "vector" returns the decoded embedding. limit <= 0 means no limit.
func (s *SQLiteStore) Query(ctx context.Context, collection, filter string, fields []string, limit int) ([]map[string]any, error) {
	if _, err := s.collection(ctx, collection); err != nil {
		return nil, err
	}
	if len(fields) == 0 {
		fields = queryableFields
	}
	cols := make([]string, len(fields))
	for i, f := range fields {
		f = strings.ToLower(strings.TrimSpace(f))
		if f != "vector" {
			if _, ok := filterFields[f]; !ok {
				return nil, fmt.Errorf("unknown output field %q", fields[i])
			}
		}
		cols[i] = f
	}

	where, args, err := compileFilter(filter)
	if err != nil {
		return nil, err
	}

	q := `SELECT ` + strings.Join(cols, ", ") + ` FROM passages WHERE collection = ? AND ` + where + ` ORDER BY id ASC`
	args = append([]any{collection}, args...)
	if limit > 0 {
		q += ` LIMIT ?`
		args = append(args, limit)
	}

	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("querying passages: %w", err)
	}
	defer rows.Close()

	var out []map[string]any
	for rows.Next() {
		dest := make([]any, len(cols))
		for i, c := range cols {
			switch c {
			case "id", "page":
				dest[i] = new(int64)
			case "vector":
				dest[i] = new([]byte)
			default:
				dest[i] = new(string)
			}
		}
		if err := rows.Scan(dest...); err != nil {
			return nil, fmt.Errorf("scanning row: %w", err)
		}
		row := make(map[string]any, len(cols))
		for i, c := range cols {
			switch v := dest[i].(type) {
			case *int64:
				row[c] = *v
			case *string:
				row[c] = *v
			case *[]byte:
				vec, err := decodeFloat32s(*v)
				if err != nil {
					return nil, fmt.Errorf("decoding vector: %w", err)
				}
				row[c] = vec
			}
		}
		out = append(out, row)
	}
	return out, rows.Err()
}

// All returns every passage in the collection in insertion order. Embeddings
// are not loaded.
func (s *SQLiteStore) All(ctx context.Context, collection string) ([]Passage, error) {
	if _, err := s.collection(ctx, collection); err != nil {
		return nil, err
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, text, source, page, content_hash FROM passages WHERE collection = ? ORDER BY id ASC`, collection)
	if err != nil {
		return nil, fmt.Errorf("querying all passages: %w", err)
	}
	defer rows.Close()

	var passages []Passage
	for rows.Next() {
		var p Passage
		if err := rows.Scan(&p.ID, &p.Content, &p.SourceID, &p.Page, &p.ContentHash); err != nil {
			return nil, fmt.Errorf("scanning row: %w", err)
		}
		passages = append(passages, p)
	}
	return passages, rows.Err()
}

// Count returns the number of passages in the collection.
func (s *SQLiteStore) Count(ctx context.Context, collection string) (int, error) {
	if _, err := s.collection(ctx, collection); err != nil {
		return 0, err
	}
	var count int
	err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM passages WHERE collection = ?", collection).Scan(&count)
	return count, err
}

// HasContentHash reports whether a passage with the given content hash is
// already stored in the collection.
func (s *SQLiteStore) HasContentHash(ctx context.Context, collection, hash string) (bool, error) {
	if hash == "" {
		return false, nil
	}
	var n int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM passages WHERE collection = ? AND content_hash = ?`, collection, hash).Scan(&n)
	if err != nil {
		return false, fmt.Errorf("checking content hash: %w", err)
	}
	return n > 0, nil
}

// encodeFloat32s serializes a float32 slice to little-endian bytes.
func encodeFloat32s(v []float32) []byte {
	buf := make([]byte, len(v)*4)
	for i, f := range v {
		binary.LittleEndian.PutUint32(buf[i*4:], math.Float32bits(f))
	}
	return buf
}

// decodeFloat32s deserializes little-endian bytes into a new float32 slice.
// Returns an error if the byte slice length is not a multiple of 4 (indicates data corruption).
func decodeFloat32s(b []byte) ([]float32, error) {
	return decodeFloat32sInto(nil, b)
}

// decodeFloat32sInto decodes little-endian bytes into the provided buffer,
// reusing it to avoid per-row allocations during search scans.
func decodeFloat32sInto(buf []float32, b []byte) ([]float32, error) {
	if len(b)%4 != 0 {
		return nil, fmt.Errorf("byte slice length %d is not a multiple of 4", len(b))
	}
	n := len(b) / 4
	if cap(buf) < n {
		buf = make([]float32, n)
	} else {
		buf = buf[:n]
	}
	for i := range buf {
		buf[i] = math.Float32frombits(binary.LittleEndian.Uint32(b[i*4:]))
	}
	return buf, nil
}

// innerProduct returns dot(a, b). Vectors of different length score 0;
// stored rows are validated against the collection dimension on insert.
func innerProduct(a, b []float32) float32 {
	if len(a) != len(b) {
		return 0
	}
	var dot float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
	}
	return float32(dot)
}

// idScoreHeap is a min-heap of idScore keeping the worst entry at the root.
type idScoreHeap []idScore

func (h idScoreHeap) Len() int            { return len(h) }
func (h idScoreHeap) Less(i, j int) bool  { return worse(h[i], h[j]) }
func (h idScoreHeap) Swap(i, j int)       { h[i], h[j] = h[j], h[i] }
func (h *idScoreHeap) Push(x interface{}) { *h = append(*h, x.(idScore)) }
func (h *idScoreHeap) Pop() interface{} {
	old := *h
	n := len(old)
	item := old[n-1]
	*h = old[:n-1]
	return item
}
