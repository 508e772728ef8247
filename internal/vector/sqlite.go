package vector

import (
	"container/heap"
	"context"
	"database/sql"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"math"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/thillai/mandi/internal/embed"
)

// Compile-time check that SQLiteIndex implements Index.
var _ Index = (*SQLiteIndex)(nil)

// SQLiteIndex stores chunk embeddings in the entity_vectors table and
// performs brute-force cosine similarity search. Good to roughly 100K
// records; beyond that an ANN-backed implementation of Index should take
// over.
type SQLiteIndex struct {
	db       *sql.DB
	provider embed.Provider
	dims     int
}

// NewSQLiteIndex wraps an existing *sql.DB for vector operations. The
// entity_vectors table must already exist (created via migrations).
func NewSQLiteIndex(db *sql.DB, provider embed.Provider) *SQLiteIndex {
	return &SQLiteIndex{db: db, provider: provider, dims: provider.Dimensions()}
}

// Add appends one record. The embedding length must match the provider's
// dimensionality.
func (s *SQLiteIndex) Add(rec Record) error {
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("beginning insert transaction: %w", err)
	}
	if err := insertRecord(tx, rec, s.dims); err != nil {
		tx.Rollback()
		return err
	}
	return tx.Commit()
}

// AddText embeds text and appends the resulting record.
func (s *SQLiteIndex) AddText(ctx context.Context, text string, meta Meta) error {
	vec, err := s.provider.Embed(ctx, text)
	if err != nil {
		return fmt.Errorf("embedding text: %w", err)
	}
	return s.Add(Record{
		EntityID:  meta.EntityID,
		Kind:      meta.Kind,
		Seq:       meta.Seq,
		Document:  text,
		Embedding: vec,
		Extra:     meta.Extra,
	})
}

func insertRecord(tx *sql.Tx, rec Record, dims int) error {
	if len(rec.Embedding) != dims {
		return fmt.Errorf("embedding has %d dimensions, index expects %d", len(rec.Embedding), dims)
	}
	if rec.ID == "" {
		rec.ID = uuid.New().String()
	}
	if rec.Kind == "" {
		rec.Kind = "chunk"
	}
	createdAt := rec.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now().UTC()
	}
	meta := "{}"
	if len(rec.Extra) > 0 {
		b, err := json.Marshal(rec.Extra)
		if err != nil {
			return fmt.Errorf("encoding metadata: %w", err)
		}
		meta = string(b)
	}

	_, err := tx.Exec(`
		INSERT INTO entity_vectors (id, entity_id, kind, seq, document, embedding, meta, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.ID, rec.EntityID, rec.Kind, rec.Seq, rec.Document,
		encodeFloat32s(rec.Embedding), meta, createdAt.Format(time.RFC3339Nano),
	)
	if err != nil {
		return fmt.Errorf("inserting vector record %s: %w", rec.ID, err)
	}
	return nil
}

// rankedScore tracks a candidate during the scan phase: its id, score, and
// rowid for the insertion-order tie-break.
type rankedScore struct {
	ID    string
	RowID int64
	Score float32
}

// Search performs brute-force cosine similarity over all records. Results
// order by score descending; equal scores order by insertion (rowid)
// ascending so results are deterministic.
func (s *SQLiteIndex) Search(vector []float32, topK int) ([]Scored, error) {
	if topK <= 0 {
		return nil, nil
	}
	queryNorm := norm(vector)
	if queryNorm == 0 {
		return nil, nil
	}

	// Phase 1: scan only rowid + id + embedding to find top-K candidates.
	rows, err := s.db.Query(`SELECT rowid, id, embedding FROM entity_vectors ORDER BY rowid ASC`)
	if err != nil {
		return nil, fmt.Errorf("querying vectors: %w", err)
	}
	defer rows.Close()

	h := &rankedHeap{}
	heap.Init(h)

	// Reusable buffer to avoid per-row allocations.
	var buf []float32

	for rows.Next() {
		var rowid int64
		var id string
		var blob []byte
		if err := rows.Scan(&rowid, &id, &blob); err != nil {
			return nil, fmt.Errorf("scanning row: %w", err)
		}

		buf, err = decodeFloat32sInto(buf, blob)
		if err != nil {
			return nil, fmt.Errorf("decoding embedding for %s: %w", id, err)
		}

		score := cosine(vector, buf, queryNorm)
		cand := rankedScore{ID: id, RowID: rowid, Score: score}
		if h.Len() < topK {
			heap.Push(h, cand)
		} else if worseThan((*h)[0], cand) {
			(*h)[0] = cand
			heap.Fix(h, 0)
		}
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating rows: %w", err)
	}
	if h.Len() == 0 {
		return nil, nil
	}

	winners := make([]rankedScore, h.Len())
	for i := len(winners) - 1; i >= 0; i-- {
		winners[i] = heap.Pop(h).(rankedScore)
	}

	// Phase 2: fetch full records only for the winners.
	byID := make(map[string]rankedScore, len(winners))
	args := make([]any, len(winners))
	placeholders := ""
	for i, w := range winners {
		byID[w.ID] = w
		args[i] = w.ID
		if i > 0 {
			placeholders += ","
		}
		placeholders += "?"
	}

	fullRows, err := s.db.Query(`
		SELECT id, entity_id, kind, seq, document, embedding, meta, created_at
		FROM entity_vectors WHERE id IN (`+placeholders+`)`, args...)
	if err != nil {
		return nil, fmt.Errorf("fetching top-K records: %w", err)
	}
	defer fullRows.Close()

	results := make([]Scored, 0, len(winners))
	rowids := make(map[string]int64, len(winners))
	for fullRows.Next() {
		rec, err := scanRecord(fullRows)
		if err != nil {
			return nil, err
		}
		w := byID[rec.ID]
		rowids[rec.ID] = w.RowID
		results = append(results, Scored{Record: rec, Similarity: w.Score})
	}
	if err := fullRows.Err(); err != nil {
		return nil, fmt.Errorf("iterating full records: %w", err)
	}

	// The IN query does not preserve order; re-sort by score desc, rowid asc.
	sort.SliceStable(results, func(i, j int) bool {
		if results[i].Similarity != results[j].Similarity {
			return results[i].Similarity > results[j].Similarity
		}
		return rowids[results[i].ID] < rowids[results[j].ID]
	})

	return results, nil
}

// worseThan reports whether a loses to b under the ranking (lower score
// loses; equal score and later insertion loses).
func worseThan(a, b rankedScore) bool {
	if a.Score != b.Score {
		return a.Score < b.Score
	}
	return a.RowID > b.RowID
}

// SearchText embeds the query and runs Search.
func (s *SQLiteIndex) SearchText(ctx context.Context, query string, topK int) ([]Scored, error) {
	vec, err := s.provider.EmbedQuery(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("embedding query: %w", err)
	}
	return s.Search(vec, topK)
}

// DeleteWhere removes all records matching the filter. Matching zero records
// is a no-op.
func (s *SQLiteIndex) DeleteWhere(f Filter) error {
	query := "DELETE FROM entity_vectors"
	var conds []string
	var args []any
	if f.EntityID != "" {
		conds = append(conds, "entity_id = ?")
		args = append(args, f.EntityID)
	}
	if f.Kind != "" {
		conds = append(conds, "kind = ?")
		args = append(args, f.Kind)
	}
	if len(conds) == 0 {
		return fmt.Errorf("refusing to delete without a filter")
	}
	for i, c := range conds {
		if i == 0 {
			query += " WHERE " + c
		} else {
			query += " AND " + c
		}
	}
	if _, err := s.db.Exec(query, args...); err != nil {
		return fmt.Errorf("deleting vector records: %w", err)
	}
	return nil
}

// ReplaceForEntity swaps all records owned by entityID for recs in a single
// transaction, so readers never observe the entity with a partial chunk set.
func (s *SQLiteIndex) ReplaceForEntity(entityID string, recs []Record) error {
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("beginning replace transaction: %w", err)
	}
	if _, err := tx.Exec("DELETE FROM entity_vectors WHERE entity_id = ?", entityID); err != nil {
		tx.Rollback()
		return fmt.Errorf("deleting old vectors for %s: %w", entityID, err)
	}
	for _, rec := range recs {
		rec.EntityID = entityID
		if err := insertRecord(tx, rec, s.dims); err != nil {
			tx.Rollback()
			return err
		}
	}
	return tx.Commit()
}

// Count returns the number of stored records.
func (s *SQLiteIndex) Count() (int, error) {
	var count int
	err := s.db.QueryRow("SELECT COUNT(*) FROM entity_vectors").Scan(&count)
	return count, err
}

// CountForEntity returns the number of records owned by one entity.
func (s *SQLiteIndex) CountForEntity(entityID string) (int, error) {
	var count int
	err := s.db.QueryRow("SELECT COUNT(*) FROM entity_vectors WHERE entity_id = ?", entityID).Scan(&count)
	return count, err
}

func scanRecord(rows *sql.Rows) (Record, error) {
	var rec Record
	var blob []byte
	var meta, createdAt string
	if err := rows.Scan(&rec.ID, &rec.EntityID, &rec.Kind, &rec.Seq, &rec.Document, &blob, &meta, &createdAt); err != nil {
		return Record{}, fmt.Errorf("scanning record: %w", err)
	}
	embedding, err := decodeFloat32s(blob)
	if err != nil {
		return Record{}, fmt.Errorf("decoding embedding for %s: %w", rec.ID, err)
	}
	rec.Embedding = embedding
	if meta != "" && meta != "{}" {
		if err := json.Unmarshal([]byte(meta), &rec.Extra); err != nil {
			return Record{}, fmt.Errorf("decoding metadata for %s: %w", rec.ID, err)
		}
	}
	if rec.CreatedAt, err = time.Parse(time.RFC3339Nano, createdAt); err != nil {
		return Record{}, fmt.Errorf("parsing created_at for %s: %w", rec.ID, err)
	}
	return rec, nil
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
func decodeFloat32s(b []byte) ([]float32, error) {
	if len(b)%4 != 0 {
		return nil, fmt.Errorf("byte slice length %d is not a multiple of 4", len(b))
	}
	v := make([]float32, len(b)/4)
	for i := range v {
		v[i] = math.Float32frombits(binary.LittleEndian.Uint32(b[i*4:]))
	}
	return v, nil
}

// decodeFloat32sInto decodes into the provided buffer, reusing it to avoid
// per-row allocations during search scans.
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

// norm returns the L2 norm of a vector.
func norm(v []float32) float32 {
	var sum float64
	for _, f := range v {
		sum += float64(f) * float64(f)
	}
	return float32(math.Sqrt(sum))
}

// cosine computes dot(a,b) / (aNorm * |b|). aNorm is precomputed.
func cosine(a, b []float32, aNorm float32) float32 {
	if len(a) != len(b) {
		return 0
	}
	var dot, bNormSq float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		bNormSq += float64(b[i]) * float64(b[i])
	}
	bNorm := math.Sqrt(bNormSq)
	if bNorm == 0 {
		return 0
	}
	return float32(dot / (float64(aNorm) * bNorm))
}

// rankedHeap is a min-heap keeping the current top-K candidates; the root is
// the weakest candidate under the score-then-insertion-order ranking.
type rankedHeap []rankedScore

func (h rankedHeap) Len() int           { return len(h) }
func (h rankedHeap) Less(i, j int) bool { return worseThan(h[i], h[j]) }
func (h rankedHeap) Swap(i, j int)      { h[i], h[j] = h[j], h[i] }
func (h *rankedHeap) Push(x any)        { *h = append(*h, x.(rankedScore)) }
func (h *rankedHeap) Pop() any {
	old := *h
	n := len(old)
	item := old[n-1]
	*h = old[:n-1]
	return item
}
