package search

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"regexp"
	"strings"

	lru "github.com/hashicorp/golang-lru/v2"
)

// DefaultQueryCacheSize is the number of sanitized queries kept in memory.
const DefaultQueryCacheSize = 512

const defaultRebuildBatch = 200

var identifier = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

// Document is anything that can be stored in a shadow index: a stable
// integer key plus a text value per indexed column.
type Document interface {
	SearchID() int64
	SearchableText() map[string]string
}

// Source pages through every primary record for a full rebuild. It returns
// up to limit documents with a key greater than afterID, in key order.
type Source[T Document] interface {
	DocumentsAfter(ctx context.Context, afterID int64, limit int) ([]T, error)
}

// SourceFunc adapts a function to the Source interface.
type SourceFunc[T Document] func(ctx context.Context, afterID int64, limit int) ([]T, error)

func (f SourceFunc[T]) DocumentsAfter(ctx context.Context, afterID int64, limit int) ([]T, error) {
	return f(ctx, afterID, limit)
}

// Config describes the FTS5 table an Indexer maintains.
type Config struct {
	// Table is the FTS5 virtual table. Its rowid is the document key.
	Table string
	// Columns are the indexed columns, matching the keys of SearchableText.
	Columns []string
	// Primary is the table holding the records, joined on Key for scoped searches.
	Primary string
	// Key is the primary table's key column. Defaults to "id".
	Key string
	// QueryCacheSize bounds the sanitized query cache. Defaults to DefaultQueryCacheSize.
	QueryCacheSize int
}

// Filter restricts a search to primary rows where Column equals Value.
type Filter struct {
	Column string
	Value  any
}

// Hit is a single search result. Lower Rank is more relevant.
type Hit struct {
	ID   int64
	Rank float64
}

// Indexer keeps a shadow FTS5 table in step with a primary table and runs
// ranked queries against it. Index and Deindex are keyed by document ID and
// may be called concurrently for different documents.
type Indexer[T Document] struct {
	db      *sql.DB
	cfg     Config
	queries *lru.Cache[string, string]
	logger  *slog.Logger
}

// NewIndexer validates cfg and returns an Indexer over db.
func NewIndexer[T Document](db *sql.DB, cfg Config) (*Indexer[T], error) {
	if cfg.Key == "" {
		cfg.Key = "id"
	}
	if len(cfg.Columns) == 0 {
		return nil, fmt.Errorf("search index %q has no columns", cfg.Table)
	}
	names := append([]string{cfg.Table, cfg.Primary, cfg.Key}, cfg.Columns...)
	for _, n := range names {
		if !identifier.MatchString(n) {
			return nil, fmt.Errorf("invalid identifier %q in search config", n)
		}
	}
	size := cfg.QueryCacheSize
	if size <= 0 {
		size = DefaultQueryCacheSize
	}
	cache, err := lru.New[string, string](size)
	if err != nil {
		return nil, fmt.Errorf("creating query cache: %w", err)
	}
	return &Indexer[T]{
		db:      db,
		cfg:     cfg,
		queries: cache,
		logger:  slog.Default(),
	}, nil
}

// Index upserts the shadow entry for doc, replacing any previous entry.
func (ix *Indexer[T]) Index(ctx context.Context, doc T) error {
	tx, err := ix.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning index transaction: %w", err)
	}
	defer tx.Rollback()

	if err := ix.upsert(ctx, tx, doc); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing index entry %d: %w", doc.SearchID(), err)
	}
	return nil
}

func (ix *Indexer[T]) upsert(ctx context.Context, tx *sql.Tx, doc T) error {
	id := doc.SearchID()
	// FTS5 has no REPLACE on rowid, so delete then insert.
	if _, err := tx.ExecContext(ctx, `DELETE FROM `+ix.cfg.Table+` WHERE rowid = ?`, id); err != nil {
		return fmt.Errorf("clearing index entry %d: %w", id, err)
	}

	text := doc.SearchableText()
	args := make([]any, 0, len(ix.cfg.Columns)+1)
	args = append(args, id)
	for _, c := range ix.cfg.Columns {
		args = append(args, text[c])
	}
	query := `INSERT INTO ` + ix.cfg.Table + ` (rowid, ` + strings.Join(ix.cfg.Columns, ", ") + `)
		VALUES (?` + strings.Repeat(", ?", len(ix.cfg.Columns)) + `)`
	if _, err := tx.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("inserting index entry %d: %w", id, err)
	}
	return nil
}

// Deindex removes the shadow entry for id. Removing an absent entry is not an error.
func (ix *Indexer[T]) Deindex(ctx context.Context, id int64) error {
	if _, err := ix.db.ExecContext(ctx, `DELETE FROM `+ix.cfg.Table+` WHERE rowid = ?`, id); err != nil {
		return fmt.Errorf("removing index entry %d: %w", id, err)
	}
	return nil
}

// RebuildAll clears the shadow table and indexes every document from src.
// It returns the number of documents indexed.
func (ix *Indexer[T]) RebuildAll(ctx context.Context, src Source[T]) (int, error) {
	if _, err := ix.db.ExecContext(ctx, `DELETE FROM `+ix.cfg.Table); err != nil {
		return 0, fmt.Errorf("clearing index: %w", err)
	}

	var count int
	var after int64
	for {
		docs, err := src.DocumentsAfter(ctx, after, defaultRebuildBatch)
		if err != nil {
			return count, fmt.Errorf("loading documents after %d: %w", after, err)
		}
		if len(docs) == 0 {
			break
		}

		tx, err := ix.db.BeginTx(ctx, nil)
		if err != nil {
			return count, fmt.Errorf("beginning rebuild transaction: %w", err)
		}
		for _, doc := range docs {
			if err := ix.upsert(ctx, tx, doc); err != nil {
				tx.Rollback()
				return count, err
			}
		}
		if err := tx.Commit(); err != nil {
			return count, fmt.Errorf("committing rebuild batch: %w", err)
		}

		count += len(docs)
		after = docs[len(docs)-1].SearchID()
	}

	ix.logger.Info("search index rebuilt", "table", ix.cfg.Table, "documents", count)
	return count, nil
}

// Search sanitizes raw and returns matching document IDs ordered by
// ascending rank, ties broken by ID. Filters are applied to the primary
// table. A limit <= 0 returns every match. Queries the engine rejects
// produce an empty result rather than an error.
func (ix *Indexer[T]) Search(ctx context.Context, raw string, limit int, filters ...Filter) ([]Hit, error) {
	for _, f := range filters {
		if !identifier.MatchString(f.Column) {
			return nil, fmt.Errorf("invalid filter column %q", f.Column)
		}
	}

	q := ix.sanitize(raw)
	t, p := ix.cfg.Table, ix.cfg.Primary

	var where []string
	var args []any
	var score string
	if q == MatchAll {
		score = "0.0"
	} else {
		score = "bm25(" + t + ")"
		where = append(where, t+" MATCH ?")
		args = append(args, q)
	}
	for _, f := range filters {
		where = append(where, p+"."+f.Column+" = ?")
		args = append(args, f.Value)
	}

	query := `SELECT ` + t + `.rowid, ` + score + ` AS score FROM ` + t +
		` JOIN ` + p + ` ON ` + p + `.` + ix.cfg.Key + ` = ` + t + `.rowid`
	if len(where) > 0 {
		query += ` WHERE ` + strings.Join(where, " AND ")
	}
	query += ` ORDER BY score ASC, ` + t + `.rowid ASC`
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}

	rows, err := ix.db.QueryContext(ctx, query, args...)
	if err != nil {
		if isQuerySyntaxError(err) {
			ix.logger.Debug("search query rejected by index", "query", q, "error", err)
			return []Hit{}, nil
		}
		return nil, fmt.Errorf("searching %s: %w", t, err)
	}
	defer rows.Close()

	hits := []Hit{}
	for rows.Next() {
		var h Hit
		if err := rows.Scan(&h.ID, &h.Rank); err != nil {
			return nil, fmt.Errorf("scanning search hit: %w", err)
		}
		hits = append(hits, h)
	}
	if err := rows.Err(); err != nil {
		if isQuerySyntaxError(err) {
			return []Hit{}, nil
		}
		return nil, err
	}
	return hits, nil
}

// Count returns the number of entries in the shadow table.
func (ix *Indexer[T]) Count(ctx context.Context) (int, error) {
	var n int
	err := ix.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM `+ix.cfg.Table).Scan(&n)
	return n, err
}

func (ix *Indexer[T]) sanitize(raw string) string {
	if q, ok := ix.queries.Get(raw); ok {
		return q
	}
	q := Sanitize(raw)
	if len(raw) <= MaxQueryBytes {
		ix.queries.Add(raw, q)
	}
	return q
}

// isQuerySyntaxError reports whether the engine rejected the MATCH
// expression itself. Schema and I/O failures are not included.
func isQuerySyntaxError(err error) bool {
	msg := err.Error()
	return strings.Contains(msg, "fts5:") || strings.Contains(msg, "unterminated string")
}
