package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/spetr/journalmind/pkg/types"
)

// UpsertEmbedding stores (or replaces) the embedding record for the record's
// (owner, entry, model) triple. The write is atomic: the metadata row and the
// vector row commit together, so no partial-vector state is ever visible.
func (s *Store) UpsertEmbedding(ctx context.Context, rec *types.EmbeddingRecord) error {
	if len(rec.Vector) == 0 {
		return fmt.Errorf("embedding record has no vector")
	}
	if err := s.ensureVectorTable(len(rec.Vector)); err != nil {
		return err
	}

	if rec.Updated.IsZero() {
		rec.Updated = time.Now().UTC()
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx, `
		INSERT OR REPLACE INTO embedding_records (owner, entry_id, model, content_hash, updated)
		VALUES (?, ?, ?, ?, ?)
	`, rec.Owner, rec.EntryID, rec.Model, rec.ContentHash, rec.Updated)
	if err != nil {
		return fmt.Errorf("failed to store embedding record: %w", err)
	}

	key := recordKey(rec.Owner, rec.EntryID, rec.Model)
	if _, err := tx.ExecContext(ctx, `DELETE FROM entry_embeddings WHERE record_key = ?`, key); err != nil {
		return err
	}
	_, err = tx.ExecContext(ctx, `
		INSERT INTO entry_embeddings (record_key, embedding) VALUES (?, ?)
	`, key, floatsToBytes(rec.Vector))
	if err != nil {
		return fmt.Errorf("failed to store vector for %s: %w", rec.EntryID, err)
	}

	return tx.Commit()
}

// GetEmbeddingHash returns the stored content hash for the triple, or
// types.ErrNotFound when no record exists. The vector is not loaded; this is
// the staleness-check fast path.
func (s *Store) GetEmbeddingHash(ctx context.Context, owner, entryID, model string) (string, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT content_hash FROM embedding_records
		WHERE owner = ? AND entry_id = ? AND model = ?
	`, owner, entryID, model)

	var hash string
	err := row.Scan(&hash)
	if errors.Is(err, sql.ErrNoRows) {
		return "", types.ErrNotFound
	}
	return hash, err
}

// EmbeddingHashes returns entry_id -> content_hash for all of an owner's
// records under the given model.
func (s *Store) EmbeddingHashes(ctx context.Context, owner, model string) (map[string]string, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT entry_id, content_hash FROM embedding_records
		WHERE owner = ? AND model = ?
	`, owner, model)
	if err != nil {
		return nil, fmt.Errorf("failed to load embedding hashes: %w", err)
	}
	defer rows.Close()

	hashes := make(map[string]string)
	for rows.Next() {
		var entryID, hash string
		if err := rows.Scan(&entryID, &hash); err != nil {
			return nil, err
		}
		hashes[entryID] = hash
	}
	return hashes, rows.Err()
}

// ListEmbeddings loads all embedding records (with vectors) for an owner and
// model. An owner with no records yields an empty slice, not an error.
func (s *Store) ListEmbeddings(ctx context.Context, owner, model string) ([]*types.EmbeddingRecord, error) {
	if s.dims() == 0 {
		return nil, nil // vector table never created, cold index
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT r.entry_id, r.content_hash, r.updated, e.embedding
		FROM embedding_records r
		JOIN entry_embeddings e ON e.record_key = r.owner || '/' || r.entry_id || '/' || r.model
		WHERE r.owner = ? AND r.model = ?
	`, owner, model)
	if err != nil {
		return nil, fmt.Errorf("failed to load embeddings: %w", err)
	}
	defer rows.Close()

	var records []*types.EmbeddingRecord
	for rows.Next() {
		rec := &types.EmbeddingRecord{Owner: owner, Model: model}
		var blob []byte
		if err := rows.Scan(&rec.EntryID, &rec.ContentHash, &rec.Updated, &blob); err != nil {
			return nil, err
		}
		rec.Vector = bytesToFloats(blob)
		records = append(records, rec)
	}
	return records, rows.Err()
}

// DeleteEmbedding removes the record and vector for a single triple.
func (s *Store) DeleteEmbedding(ctx context.Context, owner, entryID, model string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `
		DELETE FROM embedding_records WHERE owner = ? AND entry_id = ? AND model = ?
	`, owner, entryID, model); err != nil {
		return err
	}
	if s.dims() != 0 {
		if _, err := tx.ExecContext(ctx,
			`DELETE FROM entry_embeddings WHERE record_key = ?`, recordKey(owner, entryID, model)); err != nil {
			return err
		}
	}
	return tx.Commit()
}
