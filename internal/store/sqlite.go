package store

import (
	"database/sql"
	"encoding/json"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	_ "modernc.org/sqlite"

	"github.com/EmiliosRichards/phone-validation-pipeline/internal/model"
)

// SQLiteStore implements Store using modernc.org/sqlite. Claims are also
// held in memory so the first-claim check never races on the database.
type SQLiteStore struct {
	db    *sql.DB
	runID string

	mu      sync.Mutex
	claimed map[string]bool
}

// NewSQLite opens (creating if needed) the run cache database at path.
func NewSQLite(path, runID string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, eris.Wrap(err, "store: open sqlite")
	}
	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA synchronous=NORMAL",
	} {
		if _, err := db.Exec(pragma); err != nil {
			_ = db.Close()
			return nil, eris.Wrapf(err, "store: exec %s", pragma)
		}
	}

	s := &SQLiteStore{db: db, runID: runID, claimed: make(map[string]bool)}
	if err := s.migrate(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

const migration = `
CREATE TABLE IF NOT EXISTS pathful_claims (
	url        TEXT PRIMARY KEY,
	run_id     TEXT NOT NULL,
	claimed_at DATETIME NOT NULL
);

CREATE TABLE IF NOT EXISTS raw_llm_outputs (
	id         TEXT PRIMARY KEY,
	url        TEXT NOT NULL UNIQUE,
	run_id     TEXT NOT NULL,
	outputs    TEXT NOT NULL,
	created_at DATETIME NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_raw_llm_outputs_url ON raw_llm_outputs(url);
`

func (s *SQLiteStore) migrate() error {
	_, err := s.db.Exec(migration)
	return eris.Wrap(err, "store: migrate")
}

// Close closes the underlying database.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) ClaimPathful(pathfulURL string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.claimed[pathfulURL] {
		return false
	}
	s.claimed[pathfulURL] = true

	if _, err := s.db.Exec(
		`INSERT OR IGNORE INTO pathful_claims (url, run_id, claimed_at) VALUES (?, ?, ?)`,
		pathfulURL, s.runID, time.Now().UTC(),
	); err != nil {
		// The in-memory claim already guarantees single ownership; the
		// database row is bookkeeping.
		return true
	}
	return true
}

func (s *SQLiteStore) SaveRawOutputs(pathfulURL string, outputs []model.PhoneNumberLLMOutput) error {
	data, err := json.Marshal(outputs)
	if err != nil {
		return eris.Wrap(err, "store: marshal raw outputs")
	}

	_, err = s.db.Exec(
		`INSERT INTO raw_llm_outputs (id, url, run_id, outputs, created_at) VALUES (?, ?, ?, ?, ?)
		 ON CONFLICT(url) DO UPDATE SET outputs = excluded.outputs`,
		uuid.New().String(), pathfulURL, s.runID, string(data), time.Now().UTC(),
	)
	return eris.Wrapf(err, "store: save raw outputs %s", pathfulURL)
}

func (s *SQLiteStore) GetRawOutputs(pathfulURL string) ([]model.PhoneNumberLLMOutput, bool, error) {
	var data string
	err := s.db.QueryRow(
		`SELECT outputs FROM raw_llm_outputs WHERE url = ?`, pathfulURL,
	).Scan(&data)
	if err == sql.ErrNoRows {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, eris.Wrapf(err, "store: get raw outputs %s", pathfulURL)
	}

	var outputs []model.PhoneNumberLLMOutput
	if err := json.Unmarshal([]byte(data), &outputs); err != nil {
		return nil, false, eris.Wrap(err, "store: unmarshal raw outputs")
	}
	return outputs, true, nil
}

// MemoryStore is an in-memory Store for tests and dry runs.
type MemoryStore struct {
	mu      sync.Mutex
	claimed map[string]bool
	raw     map[string][]model.PhoneNumberLLMOutput
}

// NewMemory creates an empty in-memory store.
func NewMemory() *MemoryStore {
	return &MemoryStore{
		claimed: make(map[string]bool),
		raw:     make(map[string][]model.PhoneNumberLLMOutput),
	}
}

func (m *MemoryStore) ClaimPathful(pathfulURL string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.claimed[pathfulURL] {
		return false
	}
	m.claimed[pathfulURL] = true
	return true
}

func (m *MemoryStore) SaveRawOutputs(pathfulURL string, outputs []model.PhoneNumberLLMOutput) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.raw[pathfulURL] = append([]model.PhoneNumberLLMOutput(nil), outputs...)
	return nil
}

func (m *MemoryStore) GetRawOutputs(pathfulURL string) ([]model.PhoneNumberLLMOutput, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	outputs, ok := m.raw[pathfulURL]
	return outputs, ok, nil
}

func (m *MemoryStore) Close() error { return nil }
