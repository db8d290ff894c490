package store

import (
	"context"
	"database/sql"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"math"
	"strings"
	"sync"
	"time"

	_ "modernc.org/sqlite" // Pure Go SQLite driver (no CGO)
)

// SQLiteMemoryStore implements MemoryStore over a modernc.org/sqlite
// database. It owns the memories, memory_links, memory_centrality, and
// token_events tables, matching the WAL-mode, pure-Go access pattern used
// by SQLiteBM25Index for the document/code corpora.
type SQLiteMemoryStore struct {
	mu   sync.RWMutex
	db   *sql.DB
	path string
}

var _ MemoryStore = (*SQLiteMemoryStore)(nil)

// NewSQLiteMemoryStore opens (creating if necessary) a memory store at path.
// path may be ":memory:" for ephemeral/test use.
func NewSQLiteMemoryStore(path string) (*SQLiteMemoryStore, error) {
	db, err := sql.Open("sqlite", path+"?_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("memory store: open db: %w", err)
	}

	if _, err := db.Exec(`PRAGMA journal_mode=WAL`); err != nil {
		db.Close()
		return nil, fmt.Errorf("memory store: wal mode: %w", err)
	}
	if _, err := db.Exec(`PRAGMA foreign_keys=ON`); err != nil {
		db.Close()
		return nil, fmt.Errorf("memory store: foreign keys: %w", err)
	}

	s := &SQLiteMemoryStore{db: db, path: path}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("memory store: migrate: %w", err)
	}
	return s, nil
}

func (s *SQLiteMemoryStore) migrate() error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS memories (
			id                 TEXT PRIMARY KEY,
			content            TEXT NOT NULL,
			content_hash       TEXT NOT NULL,
			type               TEXT NOT NULL,
			tags               TEXT NOT NULL DEFAULT '',
			embedding          BLOB,
			quality_score      REAL NOT NULL DEFAULT 0,
			quality_factors    TEXT NOT NULL DEFAULT '{}',
			is_invariant       INTEGER NOT NULL DEFAULT 0,
			correction_count   INTEGER NOT NULL DEFAULT 0,
			invalidated_by     TEXT NOT NULL DEFAULT '',
			access_count       INTEGER NOT NULL DEFAULT 0,
			last_accessed_at   INTEGER NOT NULL DEFAULT 0,
			valid_from         INTEGER NOT NULL DEFAULT 0,
			valid_until        INTEGER NOT NULL DEFAULT 0,
			source  TEXT NOT NULL DEFAULT '',
			created_at         INTEGER NOT NULL,
			updated_at         INTEGER NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_memories_hash ON memories(content_hash)`,
		`CREATE INDEX IF NOT EXISTS idx_memories_type ON memories(type)`,
		`CREATE INDEX IF NOT EXISTS idx_memories_invalidated ON memories(invalidated_by)`,
		`CREATE TABLE IF NOT EXISTS memory_links (
			id         TEXT PRIMARY KEY,
			from_id    TEXT NOT NULL,
			to_id      TEXT NOT NULL,
			type       TEXT NOT NULL,
			weight     REAL NOT NULL DEFAULT 0,
			confidence REAL NOT NULL DEFAULT 0,
			created_at INTEGER NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_links_from ON memory_links(from_id)`,
		`CREATE INDEX IF NOT EXISTS idx_links_to ON memory_links(to_id)`,
		`CREATE TABLE IF NOT EXISTS memory_centrality (
			memory_id  TEXT PRIMARY KEY,
			score      REAL NOT NULL DEFAULT 0,
			degree     INTEGER NOT NULL DEFAULT 0,
			updated_at INTEGER NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS token_events (
			id           TEXT PRIMARY KEY,
			kind         TEXT NOT NULL,
			prompt_tok   INTEGER NOT NULL DEFAULT 0,
			complete_tok INTEGER NOT NULL DEFAULT 0,
			model        TEXT NOT NULL DEFAULT '',
			occurred_at  INTEGER NOT NULL
		)`,
	}
	for _, stmt := range stmts {
		if _, err := s.db.Exec(stmt); err != nil {
			return fmt.Errorf("exec %q: %w", stmt[:min(40, len(stmt))], err)
		}
	}
	return nil
}

// encodeEmbedding packs a float32 vector into a little-endian byte blob.
func encodeEmbedding(v []float32) []byte {
	buf := make([]byte, 4*len(v))
	for i, f := range v {
		binary.LittleEndian.PutUint32(buf[i*4:], math.Float32bits(f))
	}
	return buf
}

func decodeEmbedding(b []byte) []float32 {
	n := len(b) / 4
	if n == 0 {
		return nil
	}
	v := make([]float32, n)
	for i := range v {
		v[i] = math.Float32frombits(binary.LittleEndian.Uint32(b[i*4:]))
	}
	return v
}

func encodeTags(tags []string) string {
	return strings.Join(tags, "\x1f")
}

func decodeTags(s string) []string {
	if s == "" {
		return nil
	}
	return strings.Split(s, "\x1f")
}

func encodeQualityFactors(f map[string]float64) string {
	if len(f) == 0 {
		return "{}"
	}
	b, err := json.Marshal(f)
	if err != nil {
		return "{}"
	}
	return string(b)
}

func decodeQualityFactors(s string) map[string]float64 {
	if s == "" {
		return nil
	}
	var f map[string]float64
	if err := json.Unmarshal([]byte(s), &f); err != nil {
		return nil
	}
	return f
}

func unixOrZero(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.Unix()
}

func timeOrZero(u int64) time.Time {
	if u == 0 {
		return time.Time{}
	}
	return time.Unix(u, 0).UTC()
}

// SaveMemory inserts or replaces a memory row.
func (s *SQLiteMemoryStore) SaveMemory(ctx context.Context, m *Memory) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now().UTC()
	if m.CreatedAt.IsZero() {
		m.CreatedAt = now
	}
	m.UpdatedAt = now

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO memories (
			id, content, content_hash, type, tags, embedding, quality_score, quality_factors,
			is_invariant, correction_count, invalidated_by, access_count,
			last_accessed_at, valid_from, valid_until, source,
			created_at, updated_at
		) VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?)
		ON CONFLICT(id) DO UPDATE SET
			content=excluded.content, content_hash=excluded.content_hash,
			type=excluded.type, tags=excluded.tags, embedding=excluded.embedding,
			quality_score=excluded.quality_score, quality_factors=excluded.quality_factors,
			is_invariant=excluded.is_invariant,
			correction_count=excluded.correction_count, invalidated_by=excluded.invalidated_by,
			access_count=excluded.access_count, last_accessed_at=excluded.last_accessed_at,
			valid_from=excluded.valid_from, valid_until=excluded.valid_until,
			source=excluded.source, updated_at=excluded.updated_at`,
		m.ID, m.Content, m.ContentHash, string(m.Type), encodeTags(m.Tags),
		encodeEmbedding(m.Embedding), m.QualityScore, encodeQualityFactors(m.QualityFactors),
		boolToInt(m.IsInvariant),
		m.CorrectionCount, m.InvalidatedBy, m.AccessCount,
		unixOrZero(m.LastAccessedAt), unixOrZero(m.ValidFrom), unixOrZero(m.ValidUntil),
		m.Source, unixOrZero(m.CreatedAt), unixOrZero(m.UpdatedAt),
	)
	return err
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func scanMemory(row interface {
	Scan(dest ...any) error
}) (*Memory, error) {
	var m Memory
	var typ, tags, invalidatedBy, sourceSession, qualityFactors string
	var embedding []byte
	var isInvariant int
	var lastAccessed, validFrom, validUntil, createdAt, updatedAt int64

	err := row.Scan(
		&m.ID, &m.Content, &m.ContentHash, &typ, &tags, &embedding, &m.QualityScore, &qualityFactors,
		&isInvariant, &m.CorrectionCount, &invalidatedBy, &m.AccessCount,
		&lastAccessed, &validFrom, &validUntil, &sourceSession, &createdAt, &updatedAt,
	)
	if err != nil {
		return nil, err
	}

	m.Type = MemoryType(typ)
	m.Tags = decodeTags(tags)
	m.Embedding = decodeEmbedding(embedding)
	m.QualityFactors = decodeQualityFactors(qualityFactors)
	m.IsInvariant = isInvariant != 0
	m.InvalidatedBy = invalidatedBy
	m.Source = sourceSession
	m.LastAccessedAt = timeOrZero(lastAccessed)
	m.ValidFrom = timeOrZero(validFrom)
	m.ValidUntil = timeOrZero(validUntil)
	m.CreatedAt = timeOrZero(createdAt)
	m.UpdatedAt = timeOrZero(updatedAt)
	return &m, nil
}

const memoryColumns = `id, content, content_hash, type, tags, embedding, quality_score, quality_factors,
	is_invariant, correction_count, invalidated_by, access_count,
	last_accessed_at, valid_from, valid_until, source, created_at, updated_at`

// GetMemory fetches a single memory by ID.
func (s *SQLiteMemoryStore) GetMemory(ctx context.Context, id string) (*Memory, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	row := s.db.QueryRowContext(ctx, `SELECT `+memoryColumns+` FROM memories WHERE id = ?`, id)
	m, err := scanMemory(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return m, err
}

// FindByContentHash returns the first memory with the given content hash, if any.
func (s *SQLiteMemoryStore) FindByContentHash(ctx context.Context, hash string) (*Memory, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	row := s.db.QueryRowContext(ctx, `SELECT `+memoryColumns+` FROM memories WHERE content_hash = ? LIMIT 1`, hash)
	m, err := scanMemory(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return m, err
}

// ListMemories returns memories matching filter, newest first.
func (s *SQLiteMemoryStore) ListMemories(ctx context.Context, filter MemoryFilter, limit int) ([]*Memory, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	query := `SELECT ` + memoryColumns + ` FROM memories WHERE 1=1`
	var args []any

	if len(filter.Types) > 0 {
		placeholders := make([]string, len(filter.Types))
		for i, t := range filter.Types {
			placeholders[i] = "?"
			args = append(args, string(t))
		}
		query += ` AND type IN (` + strings.Join(placeholders, ",") + `)`
	}
	if !filter.IncludeInvalid {
		query += ` AND invalidated_by = ''`
	}
	if !filter.IncludeExpired {
		query += ` AND (valid_until = 0 OR valid_until > ?)`
		args = append(args, time.Now().UTC().Unix())
	}
	if filter.Source != "" {
		query += ` AND source = ?`
		args = append(args, filter.Source)
	}
	query += ` ORDER BY created_at DESC`
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var results []*Memory
	for rows.Next() {
		m, err := scanMemory(rows)
		if err != nil {
			return nil, err
		}
		if len(filter.Tags) > 0 && !hasAnyTag(m.Tags, filter.Tags) {
			continue
		}
		results = append(results, m)
	}
	return results, rows.Err()
}

func hasAnyTag(have, want []string) bool {
	set := make(map[string]struct{}, len(have))
	for _, t := range have {
		set[t] = struct{}{}
	}
	for _, t := range want {
		if _, ok := set[t]; ok {
			return true
		}
	}
	return false
}

// UpdateTags replaces a memory's tag set.
func (s *SQLiteMemoryStore) UpdateTags(ctx context.Context, id string, tags []string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, err := s.db.ExecContext(ctx, `UPDATE memories SET tags = ?, updated_at = ? WHERE id = ?`,
		encodeTags(tags), time.Now().UTC().Unix(), id)
	return err
}

// IncrementAccessBatch bumps access_count and last_accessed_at for a set of memories.
func (s *SQLiteMemoryStore) IncrementAccessBatch(ctx context.Context, ids []string, at time.Time) error {
	if len(ids) == 0 {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	stmt, err := tx.PrepareContext(ctx, `UPDATE memories SET access_count = access_count + 1, last_accessed_at = ? WHERE id = ?`)
	if err != nil {
		return err
	}
	defer stmt.Close()

	for _, id := range ids {
		if _, err := stmt.ExecContext(ctx, at.UTC().Unix(), id); err != nil {
			return err
		}
	}
	return tx.Commit()
}

// IncrementCorrectionCount bumps a memory's correction_count by one.
func (s *SQLiteMemoryStore) IncrementCorrectionCount(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, err := s.db.ExecContext(ctx,
		`UPDATE memories SET correction_count = correction_count + 1, updated_at = ? WHERE id = ?`,
		time.Now().UTC().Unix(), id)
	return err
}

// InvalidateMemory marks a memory superseded by another, without deleting it.
func (s *SQLiteMemoryStore) InvalidateMemory(ctx context.Context, id, supersededBy string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, err := s.db.ExecContext(ctx,
		`UPDATE memories SET invalidated_by = ?, updated_at = ? WHERE id = ?`,
		supersededBy, time.Now().UTC().Unix(), id)
	return err
}

// DeleteMemory removes a memory and its links. Callers must check Pinned()
// before calling; the store itself refuses pinned deletes as a last resort.
func (s *SQLiteMemoryStore) DeleteMemory(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	var isInvariant int
	var correctionCount int
	err := s.db.QueryRowContext(ctx, `SELECT is_invariant, correction_count FROM memories WHERE id = ?`, id).
		Scan(&isInvariant, &correctionCount)
	if err == sql.ErrNoRows {
		return nil
	}
	if err != nil {
		return err
	}
	if isInvariant != 0 || correctionCount >= 2 {
		return fmt.Errorf("memory store: memory %s is pinned", id)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, `DELETE FROM memory_links WHERE from_id = ? OR to_id = ?`, id, id); err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM memory_centrality WHERE memory_id = ?`, id); err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM memories WHERE id = ?`, id); err != nil {
		return err
	}
	return tx.Commit()
}

// AllMemoryIDs returns every memory ID (for consistency checks / reindex).
func (s *SQLiteMemoryStore) AllMemoryIDs(ctx context.Context) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx, `SELECT id FROM memories`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// linkKey normalizes a symmetric link's endpoints so (a,b) and (b,a) collide.
func linkKey(l *MemoryLink) (from, to string) {
	if SymmetricLinkTypes()[l.Type] && l.FromID > l.ToID {
		return l.ToID, l.FromID
	}
	return l.FromID, l.ToID
}

// SaveLink inserts or updates a typed edge between two memories.
func (s *SQLiteMemoryStore) SaveLink(ctx context.Context, l *MemoryLink) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	from, to := linkKey(l)
	if l.CreatedAt.IsZero() {
		l.CreatedAt = time.Now().UTC()
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO memory_links (id, from_id, to_id, type, weight, confidence, created_at)
		VALUES (?,?,?,?,?,?,?)
		ON CONFLICT(id) DO UPDATE SET weight=excluded.weight, confidence=excluded.confidence`,
		l.ID, from, to, string(l.Type), l.Weight, l.Confidence, l.CreatedAt.Unix())
	return err
}

func scanLink(row interface{ Scan(dest ...any) error }) (*MemoryLink, error) {
	var l MemoryLink
	var typ string
	var createdAt int64
	if err := row.Scan(&l.ID, &l.FromID, &l.ToID, &typ, &l.Weight, &l.Confidence, &createdAt); err != nil {
		return nil, err
	}
	l.Type = LinkType(typ)
	l.CreatedAt = timeOrZero(createdAt)
	return &l, nil
}

const linkColumns = `id, from_id, to_id, type, weight, confidence, created_at`

// GetLinks returns every edge touching memoryID.
func (s *SQLiteMemoryStore) GetLinks(ctx context.Context, memoryID string) ([]*MemoryLink, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx,
		`SELECT `+linkColumns+` FROM memory_links WHERE from_id = ? OR to_id = ?`, memoryID, memoryID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var links []*MemoryLink
	for rows.Next() {
		l, err := scanLink(rows)
		if err != nil {
			return nil, err
		}
		links = append(links, l)
	}
	return links, rows.Err()
}

// DeleteLink removes a single edge by ID.
func (s *SQLiteMemoryStore) DeleteLink(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, err := s.db.ExecContext(ctx, `DELETE FROM memory_links WHERE id = ?`, id)
	return err
}

// DeleteLinksForMemory removes every edge touching memoryID.
func (s *SQLiteMemoryStore) DeleteLinksForMemory(ctx context.Context, memoryID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, err := s.db.ExecContext(ctx, `DELETE FROM memory_links WHERE from_id = ? OR to_id = ?`, memoryID, memoryID)
	return err
}

// TransferLinks re-points every edge touching fromID onto toID, dropping any
// that would become a self-loop. Used by consolidation before a merged
// memory is deleted.
func (s *SQLiteMemoryStore) TransferLinks(ctx context.Context, fromID, toID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, `UPDATE memory_links SET from_id = ? WHERE from_id = ?`, toID, fromID); err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx, `UPDATE memory_links SET to_id = ? WHERE to_id = ?`, toID, fromID); err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM memory_links WHERE from_id = to_id`); err != nil {
		return err
	}
	return tx.Commit()
}

// AllLinks returns every edge in the graph (for centrality/community jobs).
func (s *SQLiteMemoryStore) AllLinks(ctx context.Context) ([]*MemoryLink, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx, `SELECT `+linkColumns+` FROM memory_links`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var links []*MemoryLink
	for rows.Next() {
		l, err := scanLink(rows)
		if err != nil {
			return nil, err
		}
		links = append(links, l)
	}
	return links, rows.Err()
}

// SaveCentrality upserts a batch of cached centrality scores.
func (s *SQLiteMemoryStore) SaveCentrality(ctx context.Context, scores []*CentralityScore) error {
	if len(scores) == 0 {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO memory_centrality (memory_id, score, degree, updated_at)
		VALUES (?,?,?,?)
		ON CONFLICT(memory_id) DO UPDATE SET score=excluded.score, degree=excluded.degree, updated_at=excluded.updated_at`)
	if err != nil {
		return err
	}
	defer stmt.Close()

	now := time.Now().UTC().Unix()
	for _, sc := range scores {
		if _, err := stmt.ExecContext(ctx, sc.MemoryID, sc.Score, sc.Degree, now); err != nil {
			return err
		}
	}
	return tx.Commit()
}

// GetCentrality returns the cached centrality score for a memory, or nil if unscored.
func (s *SQLiteMemoryStore) GetCentrality(ctx context.Context, memoryID string) (*CentralityScore, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var c CentralityScore
	var updatedAt int64
	err := s.db.QueryRowContext(ctx,
		`SELECT memory_id, score, degree, updated_at FROM memory_centrality WHERE memory_id = ?`, memoryID).
		Scan(&c.MemoryID, &c.Score, &c.Degree, &updatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	c.UpdatedAt = timeOrZero(updatedAt)
	return &c, nil
}

// RecordTokenEvent appends a token-usage record for cost accounting.
func (s *SQLiteMemoryStore) RecordTokenEvent(ctx context.Context, e *TokenEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if e.OccurredAt.IsZero() {
		e.OccurredAt = time.Now().UTC()
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO token_events (id, kind, prompt_tok, complete_tok, model, occurred_at)
		VALUES (?,?,?,?,?,?)`,
		e.ID, string(e.Kind), e.PromptTok, e.CompleteTok, e.Model, e.OccurredAt.Unix())
	return err
}

// Close closes the underlying database handle.
func (s *SQLiteMemoryStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.db.Close()
}
