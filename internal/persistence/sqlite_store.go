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

	_ "modernc.org/sqlite"

	"github.com/MimeLyc/doctrans/internal/docjob"
)

//go:embed migrations/*.sql
var migrationFiles embed.FS

// SQLiteStore writes each snapshot as one transaction that replaces the
// contents of all three tables.
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

func (s *SQLiteStore) Save(ctx context.Context, snap Snapshot) (err error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	for _, table := range []string{"jobs", "translation_outputs", "figures"} {
		if _, err = tx.ExecContext(ctx, "DELETE FROM "+table); err != nil {
			return err
		}
	}

	for _, job := range snap.Jobs {
		if _, err = tx.ExecContext(
			ctx,
			`INSERT INTO jobs (
				id, filename, status, source_language, page_count, master_path, error, created_at, updated_at
			) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			job.ID,
			job.Filename,
			string(job.Status),
			job.SourceLanguage,
			job.PageCount,
			job.MasterPath,
			job.Error,
			job.CreatedAt,
			job.UpdatedAt,
		); err != nil {
			return err
		}
	}

	for _, out := range snap.Outputs {
		if _, err = tx.ExecContext(
			ctx,
			`INSERT INTO translation_outputs (
				job_id, language, engine, status, output_path, error,
				duration_seconds, input_tokens, output_tokens, cost_usd, created_at, updated_at
			) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			out.JobID,
			out.Language,
			out.Engine,
			string(out.Status),
			out.OutputPath,
			out.Error,
			out.DurationSeconds,
			out.InputTokens,
			out.OutputTokens,
			out.CostUSD,
			out.CreatedAt,
			out.UpdatedAt,
		); err != nil {
			return err
		}
	}

	for _, fig := range snap.Figures {
		var bboxJSON, normJSON []byte
		if bboxJSON, err = json.Marshal(fig.BBox); err != nil {
			return err
		}
		if normJSON, err = json.Marshal(fig.NormalizedBBox); err != nil {
			return err
		}
		if _, err = tx.ExecContext(
			ctx,
			`INSERT INTO figures (
				job_id, page, fig_index, path, fig_type, caption, bbox_json, normalized_bbox_json
			) VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
			fig.JobID,
			fig.Page,
			fig.Index,
			fig.Path,
			fig.Type,
			fig.Caption,
			string(bboxJSON),
			string(normJSON),
		); err != nil {
			return err
		}
	}

	return tx.Commit()
}

func (s *SQLiteStore) Load(ctx context.Context) (Snapshot, bool, error) {
	var snap Snapshot

	rows, err := s.db.QueryContext(
		ctx,
		`SELECT id, filename, status, source_language, page_count, master_path, error, created_at, updated_at
		 FROM jobs
		 ORDER BY created_at ASC`,
	)
	if err != nil {
		return Snapshot{}, false, err
	}
	defer rows.Close()

	for rows.Next() {
		var job docjob.Job
		var status string
		if err := rows.Scan(
			&job.ID,
			&job.Filename,
			&status,
			&job.SourceLanguage,
			&job.PageCount,
			&job.MasterPath,
			&job.Error,
			&job.CreatedAt,
			&job.UpdatedAt,
		); err != nil {
			return Snapshot{}, false, err
		}
		job.Status = docjob.Status(status)
		snap.Jobs = append(snap.Jobs, job)
	}
	if err := rows.Err(); err != nil {
		return Snapshot{}, false, err
	}

	outRows, err := s.db.QueryContext(
		ctx,
		`SELECT job_id, language, engine, status, output_path, error,
		        duration_seconds, input_tokens, output_tokens, cost_usd, created_at, updated_at
		 FROM translation_outputs
		 ORDER BY created_at ASC`,
	)
	if err != nil {
		return Snapshot{}, false, err
	}
	defer outRows.Close()

	for outRows.Next() {
		var out docjob.TranslationOutput
		var status string
		if err := outRows.Scan(
			&out.JobID,
			&out.Language,
			&out.Engine,
			&status,
			&out.OutputPath,
			&out.Error,
			&out.DurationSeconds,
			&out.InputTokens,
			&out.OutputTokens,
			&out.CostUSD,
			&out.CreatedAt,
			&out.UpdatedAt,
		); err != nil {
			return Snapshot{}, false, err
		}
		out.Status = docjob.Status(status)
		snap.Outputs = append(snap.Outputs, out)
	}
	if err := outRows.Err(); err != nil {
		return Snapshot{}, false, err
	}

	figRows, err := s.db.QueryContext(
		ctx,
		`SELECT job_id, page, fig_index, path, fig_type, caption, bbox_json, normalized_bbox_json
		 FROM figures
		 ORDER BY job_id, page, fig_index ASC`,
	)
	if err != nil {
		return Snapshot{}, false, err
	}
	defer figRows.Close()

	for figRows.Next() {
		var fig docjob.Figure
		var bboxJSON, normJSON string
		if err := figRows.Scan(
			&fig.JobID,
			&fig.Page,
			&fig.Index,
			&fig.Path,
			&fig.Type,
			&fig.Caption,
			&bboxJSON,
			&normJSON,
		); err != nil {
			return Snapshot{}, false, err
		}
		if err := json.Unmarshal([]byte(bboxJSON), &fig.BBox); err != nil {
			return Snapshot{}, false, err
		}
		if err := json.Unmarshal([]byte(normJSON), &fig.NormalizedBBox); err != nil {
			return Snapshot{}, false, err
		}
		snap.Figures = append(snap.Figures, fig)
	}
	if err := figRows.Err(); err != nil {
		return Snapshot{}, false, err
	}

	populated := len(snap.Jobs) > 0 || len(snap.Outputs) > 0 || len(snap.Figures) > 0
	return snap, populated, nil
}
