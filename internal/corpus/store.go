package corpus

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	_ "modernc.org/sqlite"
)

// Store keeps the utterance index in SQLite so large corpora can be
// queried per speaker without reloading the whole table.
type Store struct {
	db  *sql.DB
	log *slog.Logger
}

// OpenStore opens (creating if needed) a SQLite-backed index at path.
func OpenStore(ctx context.Context, path string, log *slog.Logger) (*Store, error) {
	dir := filepath.Dir(path)
	if dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create index dir: %w", err)
		}
	}

	dsn := fmt.Sprintf("file:%s?_pragma=journal_mode(WAL)", path)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping sqlite: %w", err)
	}

	s := &Store{db: db, log: log}
	if err := s.initSchema(ctx); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) initSchema(ctx context.Context) error {
	ddl := `
CREATE TABLE IF NOT EXISTS utterances (
    file_name TEXT PRIMARY KEY,
    length INTEGER NOT NULL,
    speaker INTEGER NOT NULL,
    chapter INTEGER,
    utterance INTEGER,
    rms_level_vad REAL
);
CREATE INDEX IF NOT EXISTS idx_utterances_speaker ON utterances(speaker);
`
	_, err := s.db.ExecContext(ctx, ddl)
	return err
}

// Close releases the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}

// Replace swaps the stored index for the given entries in one transaction.
func (s *Store) Replace(ctx context.Context, idx Index) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() {
		if err != nil {
			tx.Rollback()
		}
	}()

	if _, err = tx.ExecContext(ctx, `DELETE FROM utterances`); err != nil {
		return err
	}
	for _, e := range idx {
		_, err = tx.ExecContext(ctx,
			`INSERT INTO utterances(file_name, length, speaker, chapter, utterance, rms_level_vad)
			 VALUES(?, ?, ?, ?, ?, ?)`,
			e.FileName, e.Length, e.Speaker, e.Chapter, e.Utterance, e.RMSLevelVAD)
		if err != nil {
			return err
		}
	}
	err = tx.Commit()
	return err
}

// All loads the whole index ordered by file name.
func (s *Store) All(ctx context.Context) (Index, error) {
	return s.query(ctx,
		`SELECT file_name, length, speaker, chapter, utterance, rms_level_vad
		 FROM utterances ORDER BY file_name ASC`)
}

// ForSpeaker loads the entries for one speaker ordered by file name.
func (s *Store) ForSpeaker(ctx context.Context, speaker int) (Index, error) {
	return s.query(ctx,
		`SELECT file_name, length, speaker, chapter, utterance, rms_level_vad
		 FROM utterances WHERE speaker = ? ORDER BY file_name ASC`, speaker)
}

func (s *Store) query(ctx context.Context, q string, args ...any) (Index, error) {
	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var idx Index
	for rows.Next() {
		var e Entry
		if err := rows.Scan(&e.FileName, &e.Length, &e.Speaker, &e.Chapter, &e.Utterance, &e.RMSLevelVAD); err != nil {
			return nil, err
		}
		idx = append(idx, e)
	}
	return idx, rows.Err()
}
