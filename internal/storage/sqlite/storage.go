// Package sqlite persists service state that must survive restarts: the
// last activated model and the usage metrics log. Transcript text is never
// stored.
package sqlite

import (
	"database/sql"
	"fmt"
	"time"

	_ "modernc.org/sqlite"

	"github.com/purestory/whisper-service/internal/transcription"
	"github.com/purestory/whisper-service/pkg/logger"
)

const lastModelKey = "last_model"

// UsageRow is one persisted usage record
type UsageRow struct {
	ID                  int64     `json:"id"`
	CreatedAt           time.Time `json:"created_at"`
	ModelSize           string    `json:"model_size"`
	Language            string    `json:"language"`
	Duration            float64   `json:"duration"`
	TotalCharacters     int       `json:"total_characters"`
	CharactersPerSecond float64   `json:"characters_per_second"`
	ProcessingMs        int64     `json:"processing_ms"`
}

// Storage is the SQLite-backed settings and usage store
type Storage struct {
	db     *sql.DB
	logger *logger.Logger
}

// NewStorage opens (or creates) the database at path and initializes the schema
func NewStorage(path string, log *logger.Logger) (*Storage, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	s := &Storage{db: db, logger: log.Named("sqlite")}
	if err := s.initDB(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

// initDB initializes the database tables
func (s *Storage) initDB() error {
	_, err := s.db.Exec(`
		CREATE TABLE IF NOT EXISTS settings (
			key TEXT PRIMARY KEY,
			value TEXT NOT NULL
		)
	`)
	if err != nil {
		return fmt.Errorf("failed to create settings table: %w", err)
	}

	_, err = s.db.Exec(`
		CREATE TABLE IF NOT EXISTS usage (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			created_at TIMESTAMP NOT NULL,
			model_size TEXT NOT NULL,
			language TEXT,
			duration REAL NOT NULL,
			total_characters INTEGER NOT NULL,
			characters_per_second REAL NOT NULL,
			processing_ms INTEGER NOT NULL
		)
	`)
	if err != nil {
		return fmt.Errorf("failed to create usage table: %w", err)
	}

	_, err = s.db.Exec(`CREATE INDEX IF NOT EXISTS idx_usage_created_at ON usage(created_at)`)
	if err != nil {
		return fmt.Errorf("failed to create usage index: %w", err)
	}

	return nil
}

// LastModel returns the persisted last activated model, or "" when unset
func (s *Storage) LastModel() (string, error) {
	var value string
	err := s.db.QueryRow(`SELECT value FROM settings WHERE key = ?`, lastModelKey).Scan(&value)
	if err == sql.ErrNoRows {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("failed to read last model: %w", err)
	}
	return value, nil
}

// SetLastModel persists the last activated model
func (s *Storage) SetLastModel(id string) error {
	_, err := s.db.Exec(
		`INSERT INTO settings (key, value) VALUES (?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value`,
		lastModelKey, id,
	)
	if err != nil {
		return fmt.Errorf("failed to persist last model: %w", err)
	}
	return nil
}

// RecordUsage appends one usage record to the metrics log
func (s *Storage) RecordUsage(rec *transcription.UsageRecord) error {
	_, err := s.db.Exec(
		`INSERT INTO usage
		(created_at, model_size, language, duration, total_characters, characters_per_second, processing_ms)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		time.Now().UTC().Format(time.RFC3339),
		rec.ModelSize,
		rec.Language,
		rec.Duration,
		rec.TotalCharacters,
		rec.CharactersPerSecond,
		rec.ProcessingMs,
	)
	if err != nil {
		return fmt.Errorf("failed to insert usage record: %w", err)
	}
	return nil
}

// GetRecentUsage returns the most recent usage records, newest first
func (s *Storage) GetRecentUsage(limit int) ([]*UsageRow, error) {
	rows, err := s.db.Query(
		`SELECT id, created_at, model_size, language, duration, total_characters, characters_per_second, processing_ms
		FROM usage
		ORDER BY id DESC
		LIMIT ?`,
		limit,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query usage: %w", err)
	}
	defer rows.Close()

	var records []*UsageRow
	for rows.Next() {
		var rec UsageRow
		var createdAt string
		var language sql.NullString

		if err := rows.Scan(
			&rec.ID,
			&createdAt,
			&rec.ModelSize,
			&language,
			&rec.Duration,
			&rec.TotalCharacters,
			&rec.CharactersPerSecond,
			&rec.ProcessingMs,
		); err != nil {
			return nil, fmt.Errorf("failed to scan usage record: %w", err)
		}

		if t, err := time.Parse(time.RFC3339, createdAt); err == nil {
			rec.CreatedAt = t
		}
		rec.Language = language.String
		records = append(records, &rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate usage records: %w", err)
	}

	return records, nil
}

// Close closes the database
func (s *Storage) Close() error {
	return s.db.Close()
}
