package persistence

import (
	"context"
	"database/sql"
	"embed"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"

	"golang.org/x/text/language"
	_ "modernc.org/sqlite"

	"github.com/lingvo-tools/tmpipeline/internal/batch"
	"github.com/lingvo-tools/tmpipeline/internal/similarity"
	"github.com/lingvo-tools/tmpipeline/internal/tm"
)

//go:embed migrations/*.sql
var migrationFiles embed.FS

// SQLiteStore backs the batch repositories and the translation memory on a
// single sqlite file.
type SQLiteStore struct {
	db *sql.DB
}

func NewSQLiteStore(path string) (*SQLiteStore, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("db path is required")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create db directory: %w", err)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	store := &SQLiteStore{db: db}
	if err := store.init(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}
	return store, nil
}

func (s *SQLiteStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *SQLiteStore) init(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, "PRAGMA journal_mode = WAL;"); err != nil {
		return fmt.Errorf("set WAL mode: %w", err)
	}
	if _, err := s.db.ExecContext(ctx, "PRAGMA busy_timeout = 5000;"); err != nil {
		return fmt.Errorf("set busy timeout: %w", err)
	}
	// Bootstrap schema_migrations table so we can track applied versions.
	if _, err := s.db.ExecContext(ctx, `CREATE TABLE IF NOT EXISTS schema_migrations (
		version INTEGER PRIMARY KEY,
		applied_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
	);`); err != nil {
		return fmt.Errorf("create schema_migrations: %w", err)
	}

	entries, err := migrationFiles.ReadDir("migrations")
	if err != nil {
		return fmt.Errorf("read migrations: %w", err)
	}
	sort.Slice(entries, func(i, j int) bool {
		return entries[i].Name() < entries[j].Name()
	})
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		version := migrationVersion(entry.Name())
		if version <= 0 {
			continue
		}
		var exists int
		if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM schema_migrations WHERE version = ?`, version).Scan(&exists); err != nil {
			return fmt.Errorf("check migration %s: %w", entry.Name(), err)
		}
		if exists > 0 {
			continue
		}
		content, err := migrationFiles.ReadFile(filepath.Join("migrations", entry.Name()))
		if err != nil {
			return fmt.Errorf("read migration %s: %w", entry.Name(), err)
		}
		if _, err := s.db.ExecContext(ctx, string(content)); err != nil {
			return fmt.Errorf("apply migration %s: %w", entry.Name(), err)
		}
		if _, err := s.db.ExecContext(ctx, `INSERT INTO schema_migrations (version) VALUES (?)`, version); err != nil {
			return fmt.Errorf("record migration %s: %w", entry.Name(), err)
		}
	}
	return nil
}

// migrationVersion extracts the leading integer from a migration filename (e.g. "001_init.sql" → 1).
func migrationVersion(name string) int {
	for i, c := range name {
		if c < '0' || c > '9' {
			if i == 0 {
				return 0
			}
			n, _ := strconv.Atoi(name[:i])
			return n
		}
	}
	n, _ := strconv.Atoi(name)
	return n
}

func (s *SQLiteStore) CreateBatch(ctx context.Context, b *batch.Batch) error {
	if b == nil {
		return fmt.Errorf("batch is nil")
	}
	now := time.Now().UTC()
	if b.CreatedAt.IsZero() {
		b.CreatedAt = now
	}
	if b.UpdatedAt.IsZero() {
		b.UpdatedAt = now
	}
	if b.Status == "" {
		b.Status = batch.StatusPending
	}
	_, err := s.db.ExecContext(
		ctx,
		`INSERT INTO batches (
			id, name, status, retry_count, total_units, successful_units, failed_units, skipped_units, created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		b.ID,
		b.Name,
		string(b.Status),
		b.RetryCount,
		b.TotalUnits,
		b.SuccessfulUnits,
		b.FailedUnits,
		b.SkippedUnits,
		b.CreatedAt,
		b.UpdatedAt,
	)
	return err
}

func (s *SQLiteStore) GetBatch(ctx context.Context, batchID string) (*batch.Batch, error) {
	row := s.db.QueryRowContext(
		ctx,
		`SELECT id, name, status, retry_count, total_units, successful_units, failed_units, skipped_units, created_at, updated_at
		 FROM batches
		 WHERE id = ?`,
		batchID,
	)
	var b batch.Batch
	var status string
	if err := row.Scan(
		&b.ID,
		&b.Name,
		&status,
		&b.RetryCount,
		&b.TotalUnits,
		&b.SuccessfulUnits,
		&b.FailedUnits,
		&b.SkippedUnits,
		&b.CreatedAt,
		&b.UpdatedAt,
	); err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, err
	}
	b.Status = batch.Status(status)
	return &b, nil
}

func (s *SQLiteStore) UpdateBatch(ctx context.Context, b *batch.Batch) error {
	if b == nil {
		return fmt.Errorf("batch is nil")
	}
	_, err := s.db.ExecContext(
		ctx,
		`UPDATE batches SET
			name = ?,
			status = ?,
			retry_count = ?,
			total_units = ?,
			successful_units = ?,
			failed_units = ?,
			skipped_units = ?,
			updated_at = ?
		 WHERE id = ?`,
		b.Name,
		string(b.Status),
		b.RetryCount,
		b.TotalUnits,
		b.SuccessfulUnits,
		b.FailedUnits,
		b.SkippedUnits,
		time.Now().UTC(),
		b.ID,
	)
	return err
}

func (s *SQLiteStore) ListBatches(ctx context.Context, ids []string, since time.Time) ([]batch.Batch, error) {
	query := `SELECT id, name, status, retry_count, total_units, successful_units, failed_units, skipped_units, created_at, updated_at
		 FROM batches`
	var (
		clauses []string
		args    []interface{}
	)
	if len(ids) > 0 {
		placeholders := strings.Repeat("?,", len(ids))
		clauses = append(clauses, fmt.Sprintf("id IN (%s)", placeholders[:len(placeholders)-1]))
		for _, id := range ids {
			args = append(args, id)
		}
	}
	if !since.IsZero() {
		clauses = append(clauses, "created_at >= ?")
		args = append(args, since.UTC())
	}
	if len(clauses) > 0 {
		query += " WHERE " + strings.Join(clauses, " AND ")
	}
	query += " ORDER BY created_at ASC"

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	ret := make([]batch.Batch, 0)
	for rows.Next() {
		var b batch.Batch
		var status string
		if err := rows.Scan(
			&b.ID,
			&b.Name,
			&status,
			&b.RetryCount,
			&b.TotalUnits,
			&b.SuccessfulUnits,
			&b.FailedUnits,
			&b.SkippedUnits,
			&b.CreatedAt,
			&b.UpdatedAt,
		); err != nil {
			return nil, err
		}
		b.Status = batch.Status(status)
		ret = append(ret, b)
	}
	return ret, rows.Err()
}

// AddUnits stores the units of a batch, preserving submission order.
func (s *SQLiteStore) AddUnits(ctx context.Context, batchID string, units []batch.TranslationUnit) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	for i, u := range units {
		if _, err = tx.ExecContext(
			ctx,
			`INSERT INTO translation_units (id, batch_id, position, unit_key, source_text, category)
			 VALUES (?, ?, ?, ?, ?, ?)
			 ON CONFLICT(batch_id, id) DO UPDATE SET
				position=excluded.position,
				unit_key=excluded.unit_key,
				source_text=excluded.source_text,
				category=excluded.category`,
			u.ID,
			batchID,
			i,
			u.Key,
			u.SourceText,
			u.Category,
		); err != nil {
			return err
		}
	}
	if _, err = tx.ExecContext(ctx, `UPDATE batches SET total_units = (
		SELECT COUNT(*) FROM translation_units WHERE batch_id = ?
	), updated_at = ? WHERE id = ?`, batchID, time.Now().UTC(), batchID); err != nil {
		return err
	}
	return tx.Commit()
}

func (s *SQLiteStore) LoadUnits(ctx context.Context, batchID string) ([]batch.TranslationUnit, error) {
	rows, err := s.db.QueryContext(
		ctx,
		`SELECT id, unit_key, source_text, category
		 FROM translation_units
		 WHERE batch_id = ?
		 ORDER BY position ASC`,
		batchID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	ret := make([]batch.TranslationUnit, 0)
	for rows.Next() {
		var u batch.TranslationUnit
		if err := rows.Scan(&u.ID, &u.Key, &u.SourceText, &u.Category); err != nil {
			return nil, err
		}
		ret = append(ret, u)
	}
	return ret, rows.Err()
}

func (s *SQLiteStore) SaveTranslations(ctx context.Context, batchID string, records []batch.TranslationRecord) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	now := time.Now().UTC()
	for _, r := range records {
		var warningsJSON []byte
		warningsJSON, err = json.Marshal(r.Warnings)
		if err != nil {
			return err
		}
		if _, err = tx.ExecContext(
			ctx,
			`INSERT INTO translations (batch_id, unit_id, source_text, target_text, target_lang, origin, similarity, warnings_json, updated_at)
			 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
			 ON CONFLICT(batch_id, unit_id) DO UPDATE SET
				source_text=excluded.source_text,
				target_text=excluded.target_text,
				target_lang=excluded.target_lang,
				origin=excluded.origin,
				similarity=excluded.similarity,
				warnings_json=excluded.warnings_json,
				updated_at=excluded.updated_at`,
			batchID,
			r.UnitID,
			r.SourceText,
			r.TargetText,
			r.TargetLanguage,
			string(r.Origin),
			r.Similarity,
			string(warningsJSON),
			now,
		); err != nil {
			return err
		}
	}
	return tx.Commit()
}

func (s *SQLiteStore) TranslatedUnitIDs(ctx context.Context, batchID string) (map[string]bool, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT unit_id FROM translations WHERE batch_id = ?`, batchID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	ret := make(map[string]bool)
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ret[id] = true
	}
	return ret, rows.Err()
}

func (s *SQLiteStore) ListTranslations(ctx context.Context, batchID string) ([]batch.TranslationRecord, error) {
	rows, err := s.db.QueryContext(
		ctx,
		`SELECT t.unit_id, t.source_text, t.target_text, t.target_lang, t.origin, t.similarity, t.warnings_json
		 FROM translations t
		 LEFT JOIN translation_units u ON u.batch_id = t.batch_id AND u.id = t.unit_id
		 WHERE t.batch_id = ?
		 ORDER BY COALESCE(u.position, 0) ASC`,
		batchID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	ret := make([]batch.TranslationRecord, 0)
	for rows.Next() {
		var r batch.TranslationRecord
		var origin string
		var warningsJSON string
		if err := rows.Scan(&r.UnitID, &r.SourceText, &r.TargetText, &r.TargetLanguage, &origin, &r.Similarity, &warningsJSON); err != nil {
			return nil, err
		}
		r.Origin = batch.TranslationOrigin(origin)
		if err := json.Unmarshal([]byte(warningsJSON), &r.Warnings); err != nil {
			return nil, err
		}
		ret = append(ret, r)
	}
	return ret, rows.Err()
}

// DeleteBatchData removes a batch together with its units and translations.
func (s *SQLiteStore) DeleteBatchData(ctx context.Context, batchID string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	if _, err = tx.ExecContext(ctx, `DELETE FROM translations WHERE batch_id = ?`, batchID); err != nil {
		return err
	}
	if _, err = tx.ExecContext(ctx, `DELETE FROM translation_units WHERE batch_id = ?`, batchID); err != nil {
		return err
	}
	if _, err = tx.ExecContext(ctx, `DELETE FROM batches WHERE id = ?`, batchID); err != nil {
		return err
	}
	return tx.Commit()
}

func (s *SQLiteStore) FindByHash(ctx context.Context, hash, targetLang string) (*tm.Entry, error) {
	row := s.db.QueryRowContext(
		ctx,
		`SELECT id, source_hash, source_text, target_text, source_lang, target_lang, category, use_count, updated_at
		 FROM tm_entries
		 WHERE source_hash = ? AND target_lang = ?`,
		hash,
		targetLang,
	)
	var e tm.Entry
	if err := row.Scan(
		&e.ID,
		&e.SourceHash,
		&e.SourceText,
		&e.TargetText,
		&e.SourceLang,
		&e.TargetLang,
		&e.Category,
		&e.UseCount,
		&e.UpdatedAt,
	); err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, err
	}
	return &e, nil
}

func (s *SQLiteStore) FetchCandidates(ctx context.Context, targetLang string, minLen, maxLen, limit int) ([]tm.Entry, error) {
	rows, err := s.db.QueryContext(
		ctx,
		`SELECT id, source_hash, source_text, target_text, source_lang, target_lang, category, use_count, updated_at
		 FROM tm_entries
		 WHERE target_lang = ? AND normalized_length BETWEEN ? AND ?
		 ORDER BY use_count DESC
		 LIMIT ?`,
		targetLang,
		minLen,
		maxLen,
		limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	ret := make([]tm.Entry, 0)
	for rows.Next() {
		var e tm.Entry
		if err := rows.Scan(
			&e.ID,
			&e.SourceHash,
			&e.SourceText,
			&e.TargetText,
			&e.SourceLang,
			&e.TargetLang,
			&e.Category,
			&e.UseCount,
			&e.UpdatedAt,
		); err != nil {
			return nil, err
		}
		ret = append(ret, e)
	}
	return ret, rows.Err()
}

func (s *SQLiteStore) Upsert(ctx context.Context, entry tm.Entry) error {
	updatedAt := entry.UpdatedAt.UTC()
	if updatedAt.IsZero() {
		updatedAt = time.Now().UTC()
	}
	normLen := utf8.RuneCountInString(similarity.Normalize(entry.SourceText))
	_, err := s.db.ExecContext(
		ctx,
		`INSERT INTO tm_entries (
			id, source_hash, source_text, target_text, source_lang, target_lang, category, normalized_length, use_count, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(source_hash, target_lang) DO UPDATE SET
			source_text=excluded.source_text,
			target_text=excluded.target_text,
			source_lang=excluded.source_lang,
			category=excluded.category,
			normalized_length=excluded.normalized_length,
			updated_at=excluded.updated_at`,
		entry.ID,
		entry.SourceHash,
		entry.SourceText,
		entry.TargetText,
		entry.SourceLang,
		entry.TargetLang,
		entry.Category,
		normLen,
		entry.UseCount,
		updatedAt,
	)
	return err
}

func (s *SQLiteStore) IncrementUseCount(ctx context.Context, entryID string) error {
	_, err := s.db.ExecContext(
		ctx,
		`UPDATE tm_entries SET use_count = use_count + 1 WHERE id = ?`,
		entryID,
	)
	return err
}

func (s *SQLiteStore) HasLanguage(ctx context.Context, code string) (bool, error) {
	var count int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM languages WHERE code = ?`, code).Scan(&count); err != nil {
		return false, err
	}
	return count > 0, nil
}

// EnsureLanguage registers a language code after canonicalizing it through
// the BCP 47 parser. Unknown codes are rejected.
func (s *SQLiteStore) EnsureLanguage(ctx context.Context, code, name string) (string, error) {
	tag, err := language.Parse(code)
	if err != nil {
		return "", fmt.Errorf("parse language %q: %w", code, err)
	}
	canonical := tag.String()
	_, err = s.db.ExecContext(
		ctx,
		`INSERT INTO languages (code, name) VALUES (?, ?)
		 ON CONFLICT(code) DO UPDATE SET name=excluded.name`,
		canonical,
		name,
	)
	if err != nil {
		return "", err
	}
	return canonical, nil
}

// TMEntryCount reports the size of the translation memory, exposed on the
// statistics endpoint.
func (s *SQLiteStore) TMEntryCount(ctx context.Context) (int64, error) {
	var count int64
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM tm_entries`).Scan(&count)
	return count, err
}
