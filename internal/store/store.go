// Package store implements SQLite persistence for journal entries, embedding
// records, conversations and per-owner AI settings. Embedding vectors live in
// a sqlite-vec vec0 virtual table; everything else is plain tables.
package store

import (
	"database/sql"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"sync"

	sqlite_vec "github.com/asg017/sqlite-vec-go-bindings/cgo"
	_ "github.com/mattn/go-sqlite3"
)

var (
	// Ensure sqlite-vec Auto() is called exactly once before any db connection
	vecAutoOnce sync.Once
)

// Store wraps the SQLite database holding all journalmind state.
type Store struct {
	db   *sql.DB
	path string

	dimMu   sync.Mutex
	vecDims int
}

// Open opens (or creates) the database at path and ensures the schema.
func Open(path string) (*Store, error) {
	// Register the sqlite-vec extension before opening any connection so
	// vec_* functions and vec0 tables are available.
	vecAutoOnce.Do(func() {
		sqlite_vec.Auto()
	})

	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create directory: %w", err)
		}
	}

	// WAL mode for concurrent reads, busy_timeout to wait for locks instead
	// of failing immediately.
	db, err := sql.Open("sqlite3", path+"?_journal_mode=WAL&_synchronous=NORMAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if _, err := db.Exec("SELECT vec_version()"); err != nil {
		db.Close()
		return nil, fmt.Errorf("sqlite-vec extension not available: %w", err)
	}

	s := &Store{db: db, path: path}
	if err := s.createSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create schema: %w", err)
	}

	if dims, err := s.storedVectorDims(); err == nil {
		s.vecDims = dims
	}

	return s, nil
}

// Close releases the database connection.
func (s *Store) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

func (s *Store) createSchema() error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS metadata (
			key TEXT PRIMARY KEY,
			value TEXT NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS diaries (
			id TEXT PRIMARY KEY,
			owner TEXT NOT NULL,
			content TEXT NOT NULL,
			date TEXT NOT NULL,
			mood TEXT,
			weather TEXT,
			updated DATETIME DEFAULT CURRENT_TIMESTAMP
		)`,
		`CREATE INDEX IF NOT EXISTS idx_diaries_owner ON diaries(owner)`,
		`CREATE TABLE IF NOT EXISTS embedding_records (
			owner TEXT NOT NULL,
			entry_id TEXT NOT NULL,
			model TEXT NOT NULL,
			content_hash TEXT NOT NULL,
			updated DATETIME DEFAULT CURRENT_TIMESTAMP,
			PRIMARY KEY (owner, entry_id, model)
		)`,
		`CREATE INDEX IF NOT EXISTS idx_embedding_records_owner ON embedding_records(owner)`,
		`CREATE TABLE IF NOT EXISTS ai_conversations (
			id TEXT PRIMARY KEY,
			owner TEXT NOT NULL,
			title TEXT,
			created DATETIME DEFAULT CURRENT_TIMESTAMP,
			updated DATETIME DEFAULT CURRENT_TIMESTAMP
		)`,
		`CREATE INDEX IF NOT EXISTS idx_ai_conversations_owner ON ai_conversations(owner)`,
		`CREATE TABLE IF NOT EXISTS ai_messages (
			id TEXT PRIMARY KEY,
			conversation TEXT NOT NULL,
			role TEXT NOT NULL,
			content TEXT NOT NULL,
			referenced_diaries TEXT,
			owner TEXT NOT NULL,
			created DATETIME DEFAULT CURRENT_TIMESTAMP
		)`,
		`CREATE INDEX IF NOT EXISTS idx_ai_messages_conversation ON ai_messages(conversation)`,
		`CREATE TABLE IF NOT EXISTS user_settings (
			owner TEXT NOT NULL,
			key TEXT NOT NULL,
			value TEXT NOT NULL,
			PRIMARY KEY (owner, key)
		)`,
	}

	for _, stmt := range stmts {
		if _, err := s.db.Exec(stmt); err != nil {
			return err
		}
	}
	return nil
}

// ensureVectorTable creates the vec0 virtual table with the given dimensions.
// A dimension change (new embedding model) drops and recreates the table; the
// index manager rebuilds records on the next full build.
func (s *Store) ensureVectorTable(dimensions int) error {
	s.dimMu.Lock()
	defer s.dimMu.Unlock()

	if s.vecDims == dimensions {
		return nil
	}

	if s.vecDims != 0 {
		if _, err := s.db.Exec("DROP TABLE IF EXISTS entry_embeddings"); err != nil {
			return err
		}
	}

	_, err := s.db.Exec(fmt.Sprintf(`
		CREATE VIRTUAL TABLE IF NOT EXISTS entry_embeddings USING vec0(
			record_key TEXT PRIMARY KEY,
			embedding float[%d]
		)
	`, dimensions))
	if err != nil {
		return fmt.Errorf("failed to create vector table: %w", err)
	}

	if _, err := s.db.Exec(
		`INSERT OR REPLACE INTO metadata (key, value) VALUES ('vector_dimensions', ?)`,
		fmt.Sprintf("%d", dimensions),
	); err != nil {
		return err
	}

	s.vecDims = dimensions
	return nil
}

// dims reads the current vector dimensionality. Readers must go through
// here: ensureVectorTable writes vecDims concurrently with queries.
func (s *Store) dims() int {
	s.dimMu.Lock()
	defer s.dimMu.Unlock()
	return s.vecDims
}

func (s *Store) storedVectorDims() (int, error) {
	row := s.db.QueryRow(`SELECT value FROM metadata WHERE key = 'vector_dimensions'`)
	var dims int
	if err := row.Scan(&dims); err != nil {
		return 0, err
	}
	return dims, nil
}

// recordKey builds the vec0 primary key for an embedding record.
func recordKey(owner, entryID, model string) string {
	return owner + "/" + entryID + "/" + model
}

// floatsToBytes converts a float32 slice to bytes for sqlite-vec.
func floatsToBytes(floats []float32) []byte {
	bytes := make([]byte, len(floats)*4)
	for i, f := range floats {
		bits := math.Float32bits(f)
		bytes[i*4] = byte(bits)
		bytes[i*4+1] = byte(bits >> 8)
		bytes[i*4+2] = byte(bits >> 16)
		bytes[i*4+3] = byte(bits >> 24)
	}
	return bytes
}

// bytesToFloats converts a sqlite-vec blob back to a float32 slice.
func bytesToFloats(b []byte) []float32 {
	floats := make([]float32, len(b)/4)
	for i := range floats {
		bits := uint32(b[i*4]) |
			uint32(b[i*4+1])<<8 |
			uint32(b[i*4+2])<<16 |
			uint32(b[i*4+3])<<24
		floats[i] = math.Float32frombits(bits)
	}
	return floats
}
