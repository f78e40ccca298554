package store

import (
	"database/sql"
	"encoding/json"
	"log"
	"os"
	"path/filepath"
	"strconv"

	_ "modernc.org/sqlite"
)

type Store struct {
	db *sql.DB
}

// UpdateRecord is one durably logged edit event. Payload holds the decoded
// JSON value, or the raw stored text if it no longer decodes.
type UpdateRecord struct {
	ID      string `json:"id"`
	By      string `json:"by"`
	Payload any    `json:"payload"`
	At      string `json:"at"`
}

type Form struct {
	ID         string
	Name       string
	Slug       string
	SchemaJSON string
	CreatedAt  string
}

type Submission struct {
	ID           string
	FormID       string
	DataJSON     string
	MetadataJSON string
	CreatedAt    string
}

type FieldFocus struct {
	FieldID string `json:"fieldId"`
	Count   int    `json:"focusCount"`
}

func New(dbPath string) (*Store, error) {
	// Ensure directory exists
	dir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, err
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, err
	}

	// Enable WAL mode for better concurrency
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		return nil, err
	}

	s := &Store{db: db}
	if err := s.Init(); err != nil {
		return nil, err
	}

	log.Printf("Store initialized at %s", dbPath)
	return s, nil
}

// Init creates the schema. Safe to call on every activation; a no-op when
// the tables already exist.
func (s *Store) Init() error {
	schema := `
	CREATE TABLE IF NOT EXISTS realtime_updates (
		seq INTEGER PRIMARY KEY AUTOINCREMENT,
		id TEXT NOT NULL UNIQUE,
		form_id TEXT NOT NULL,
		"by" TEXT NOT NULL,
		payload TEXT NOT NULL,
		at TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_realtime_updates_recent
		ON realtime_updates(form_id, at DESC, seq DESC);

	CREATE TABLE IF NOT EXISTS forms (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL,
		slug TEXT NOT NULL DEFAULT '',
		schema_json TEXT NOT NULL,
		created_at DATETIME DEFAULT CURRENT_TIMESTAMP
	);

	CREATE TABLE IF NOT EXISTS submissions (
		id TEXT PRIMARY KEY,
		form_id TEXT NOT NULL,
		data_json TEXT NOT NULL,
		metadata_json TEXT,
		created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
		FOREIGN KEY (form_id) REFERENCES forms(id) ON DELETE CASCADE
	);

	CREATE INDEX IF NOT EXISTS idx_submissions_form_id
		ON submissions(form_id, created_at DESC);

	CREATE TABLE IF NOT EXISTS form_events (
		id TEXT PRIMARY KEY,
		form_id TEXT NOT NULL,
		event_type TEXT NOT NULL,
		field_id TEXT,
		metadata_json TEXT,
		created_at DATETIME DEFAULT CURRENT_TIMESTAMP
	);

	CREATE INDEX IF NOT EXISTS idx_form_events_form_id
		ON form_events(form_id, event_type);
	`

	_, err := s.db.Exec(schema)
	return err
}

func (s *Store) Close() error {
	return s.db.Close()
}

// Update log operations

// AppendUpdate durably persists one accepted update. Callers must not
// broadcast the corresponding event until this returns nil.
func (s *Store) AppendUpdate(formID, id, by string, payload []byte, at string) error {
	_, err := s.db.Exec(
		"INSERT INTO realtime_updates (id, form_id, \"by\", payload, at) VALUES (?, ?, ?, ?, ?)",
		id, formID, by, string(payload), at,
	)
	return err
}

// RecentUpdates returns up to limit records for a form, newest first.
// Timestamp ties are broken by acceptance order.
func (s *Store) RecentUpdates(formID string, limit int) ([]UpdateRecord, error) {
	rows, err := s.db.Query(
		`SELECT id, "by", payload, at FROM realtime_updates WHERE form_id = ? ORDER BY at DESC, seq DESC LIMIT ?`,
		formID, limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	records := make([]UpdateRecord, 0, limit)
	for rows.Next() {
		var rec UpdateRecord
		var payload string
		if err := rows.Scan(&rec.ID, &rec.By, &payload, &rec.At); err != nil {
			return nil, err
		}
		var value any
		if err := json.Unmarshal([]byte(payload), &value); err != nil {
			// A corrupt row must not fail the whole page
			rec.Payload = payload
		} else {
			rec.Payload = value
		}
		records = append(records, rec)
	}
	return records, rows.Err()
}

func (s *Store) UpdateCount(formID string) (int, error) {
	var count int
	err := s.db.QueryRow(
		"SELECT COUNT(*) FROM realtime_updates WHERE form_id = ?",
		formID,
	).Scan(&count)
	return count, err
}

// ClampLimit parses a raw limit query value, falling back to fallback when
// absent or not a number, and clamping the result to 1..max.
func ClampLimit(raw string, fallback, max int) int {
	if raw == "" {
		return fallback
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return fallback
	}
	if n < 1 {
		return 1
	}
	if n > max {
		return max
	}
	return n
}

// Form operations

func (s *Store) CreateForm(id, name, slug, schemaJSON string) error {
	_, err := s.db.Exec(
		"INSERT INTO forms (id, name, slug, schema_json) VALUES (?, ?, ?, ?)",
		id, name, slug, schemaJSON,
	)
	return err
}

func (s *Store) GetForm(id string) (*Form, error) {
	row := s.db.QueryRow(
		"SELECT id, name, slug, schema_json, created_at FROM forms WHERE id = ?",
		id,
	)

	var f Form
	err := row.Scan(&f.ID, &f.Name, &f.Slug, &f.SchemaJSON, &f.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &f, nil
}

func (s *Store) ListForms(limit int) ([]Form, error) {
	rows, err := s.db.Query(
		"SELECT id, name, slug, schema_json, created_at FROM forms ORDER BY created_at DESC LIMIT ?",
		limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var forms []Form
	for rows.Next() {
		var f Form
		if err := rows.Scan(&f.ID, &f.Name, &f.Slug, &f.SchemaJSON, &f.CreatedAt); err != nil {
			return nil, err
		}
		forms = append(forms, f)
	}
	return forms, rows.Err()
}

// Submission operations

func (s *Store) CreateSubmission(id, formID, dataJSON, metadataJSON string) error {
	_, err := s.db.Exec(
		"INSERT INTO submissions (id, form_id, data_json, metadata_json) VALUES (?, ?, ?, ?)",
		id, formID, dataJSON, metadataJSON,
	)
	return err
}

func (s *Store) ListSubmissions(formID string, limit int) ([]Submission, error) {
	rows, err := s.db.Query(
		"SELECT id, form_id, data_json, metadata_json, created_at FROM submissions WHERE form_id = ? ORDER BY created_at DESC LIMIT ?",
		formID, limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var subs []Submission
	for rows.Next() {
		var sub Submission
		var meta sql.NullString
		if err := rows.Scan(&sub.ID, &sub.FormID, &sub.DataJSON, &meta, &sub.CreatedAt); err != nil {
			return nil, err
		}
		sub.MetadataJSON = meta.String
		subs = append(subs, sub)
	}
	return subs, rows.Err()
}

// Analytics event operations

func (s *Store) LogFormEvent(id, formID, eventType, fieldID, metadataJSON string) error {
	var field any
	if fieldID != "" {
		field = fieldID
	}
	var meta any
	if metadataJSON != "" {
		meta = metadataJSON
	}
	_, err := s.db.Exec(
		"INSERT INTO form_events (id, form_id, event_type, field_id, metadata_json) VALUES (?, ?, ?, ?, ?)",
		id, formID, eventType, field, meta,
	)
	return err
}

func (s *Store) EventCounts(formID string) (map[string]int, error) {
	rows, err := s.db.Query(
		"SELECT event_type, COUNT(*) FROM form_events WHERE form_id = ? GROUP BY event_type",
		formID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	counts := make(map[string]int)
	for rows.Next() {
		var eventType string
		var count int
		if err := rows.Scan(&eventType, &count); err != nil {
			return nil, err
		}
		counts[eventType] = count
	}
	return counts, rows.Err()
}

func (s *Store) TopFocusedFields(formID string, limit int) ([]FieldFocus, error) {
	rows, err := s.db.Query(`
		SELECT field_id, COUNT(*) as count FROM form_events
		WHERE form_id = ? AND event_type = 'field_focus' AND field_id IS NOT NULL
		GROUP BY field_id ORDER BY count DESC LIMIT ?
	`, formID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var fields []FieldFocus
	for rows.Next() {
		var f FieldFocus
		if err := rows.Scan(&f.FieldID, &f.Count); err != nil {
			return nil, err
		}
		fields = append(fields, f)
	}
	return fields, rows.Err()
}

// Stats

func (s *Store) Stats() (map[string]any, error) {
	stats := make(map[string]any)

	var formCount int
	if err := s.db.QueryRow("SELECT COUNT(*) FROM forms").Scan(&formCount); err != nil {
		return nil, err
	}
	stats["form_count"] = formCount

	var updateCount int
	if err := s.db.QueryRow("SELECT COUNT(*) FROM realtime_updates").Scan(&updateCount); err != nil {
		return nil, err
	}
	stats["update_count"] = updateCount

	var submissionCount int
	if err := s.db.QueryRow("SELECT COUNT(*) FROM submissions").Scan(&submissionCount); err != nil {
		return nil, err
	}
	stats["submission_count"] = submissionCount

	return stats, nil
}
