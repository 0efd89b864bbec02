package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/spetr/journalmind/pkg/types"
)

// SaveEntry inserts or updates a journal entry. A blank ID gets a fresh one.
func (s *Store) SaveEntry(ctx context.Context, entry *types.JournalEntry) error {
	if entry.ID == "" {
		entry.ID = uuid.NewString()
	}
	entry.Updated = time.Now().UTC()

	_, err := s.db.ExecContext(ctx, `
		INSERT OR REPLACE INTO diaries (id, owner, content, date, mood, weather, updated)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`, entry.ID, entry.Owner, entry.Content, entry.Date, entry.Mood, entry.Weather, entry.Updated)
	if err != nil {
		return fmt.Errorf("failed to save entry: %w", err)
	}
	return nil
}

// GetEntry returns a single entry or types.ErrNotFound.
func (s *Store) GetEntry(ctx context.Context, owner, id string) (*types.JournalEntry, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, owner, content, date, mood, weather, updated
		FROM diaries WHERE owner = ? AND id = ?
	`, owner, id)

	entry, err := scanEntry(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, types.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return entry, nil
}

// ListEntries returns all entries for an owner, most recent date first.
func (s *Store) ListEntries(ctx context.Context, owner string) ([]*types.JournalEntry, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, owner, content, date, mood, weather, updated
		FROM diaries WHERE owner = ? ORDER BY date DESC, id
	`, owner)
	if err != nil {
		return nil, fmt.Errorf("failed to list entries: %w", err)
	}
	defer rows.Close()

	var entries []*types.JournalEntry
	for rows.Next() {
		entry, err := scanEntry(rows)
		if err != nil {
			return nil, err
		}
		entries = append(entries, entry)
	}
	return entries, rows.Err()
}

// DeleteEntry removes an entry and its embedding records.
func (s *Store) DeleteEntry(ctx context.Context, owner, id string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	// Collect the exact vector keys before the record rows go away; vec0
	// only supports point deletes on its primary key.
	rows, err := tx.QueryContext(ctx,
		`SELECT model FROM embedding_records WHERE owner = ? AND entry_id = ?`, owner, id)
	if err != nil {
		return err
	}
	var keys []string
	for rows.Next() {
		var model string
		if err := rows.Scan(&model); err != nil {
			rows.Close()
			return err
		}
		keys = append(keys, recordKey(owner, id, model))
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return err
	}

	if _, err := tx.ExecContext(ctx, `DELETE FROM diaries WHERE owner = ? AND id = ?`, owner, id); err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM embedding_records WHERE owner = ? AND entry_id = ?`, owner, id); err != nil {
		return err
	}
	for _, key := range keys {
		if _, err := tx.ExecContext(ctx, `DELETE FROM entry_embeddings WHERE record_key = ?`, key); err != nil {
			return err
		}
	}
	return tx.Commit()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanEntry(row rowScanner) (*types.JournalEntry, error) {
	var entry types.JournalEntry
	var mood, weather sql.NullString
	err := row.Scan(&entry.ID, &entry.Owner, &entry.Content, &entry.Date, &mood, &weather, &entry.Updated)
	if err != nil {
		return nil, err
	}
	entry.Mood = mood.String
	entry.Weather = weather.String
	return &entry, nil
}
