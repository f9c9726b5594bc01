package store

import (
	"time"
)

// Translated-library cache. Payloads are the already-reshaped HereSphere
// JSON documents, keyed per Jellyfin user; the translator decides freshness
// from UpdatedAt.

func (s *Store) PutIndex(userID string, payload []byte, at time.Time) error {
	_, err := execWithRetry(s.db, `
        INSERT INTO hs_index (user_id, payload, updated_at) VALUES (?, ?, ?)
        ON CONFLICT (user_id) DO UPDATE SET payload = excluded.payload, updated_at = excluded.updated_at`,
		userID, string(payload), at.UTC())
	return wrapErr(err)
}

func (s *Store) GetIndex(userID string) ([]byte, time.Time, error) {
	var payload string
	var updatedAt time.Time
	err := s.db.QueryRow(`SELECT payload, updated_at FROM hs_index WHERE user_id = ?`, userID).
		Scan(&payload, &updatedAt)
	if err != nil {
		return nil, time.Time{}, wrapErr(err)
	}
	return []byte(payload), updatedAt, nil
}

// InvalidateIndexes drops every cached index; the next listing rebuilds from
// upstream. Called when the Jellyfin socket reports a library change.
func (s *Store) InvalidateIndexes() error {
	_, err := execWithRetry(s.db, `DELETE FROM hs_index`)
	if err != nil {
		return wrapErr(err)
	}
	_, err = execWithRetry(s.db, `DELETE FROM hs_video`)
	return wrapErr(err)
}

func (s *Store) PutVideo(userID, itemID string, payload []byte, at time.Time) error {
	_, err := execWithRetry(s.db, `
        INSERT INTO hs_video (user_id, item_id, payload, updated_at) VALUES (?, ?, ?, ?)
        ON CONFLICT (user_id, item_id) DO UPDATE SET payload = excluded.payload, updated_at = excluded.updated_at`,
		userID, itemID, string(payload), at.UTC())
	return wrapErr(err)
}

func (s *Store) GetVideo(userID, itemID string) ([]byte, error) {
	var payload string
	err := s.db.QueryRow(`SELECT payload FROM hs_video WHERE user_id = ? AND item_id = ?`, userID, itemID).
		Scan(&payload)
	if err != nil {
		return nil, wrapErr(err)
	}
	return []byte(payload), nil
}
