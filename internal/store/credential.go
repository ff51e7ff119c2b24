package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/matheus3301/chatsync/internal/chat"
)

// CredentialStore persists the single credential of a profile. It satisfies
// session.CredentialStore.
type CredentialStore struct {
	db *DB
}

// NewCredentialStore returns a store backed by db.
func NewCredentialStore(db *DB) *CredentialStore {
	return &CredentialStore{db: db}
}

// Save replaces the persisted credential.
func (s *CredentialStore) Save(ctx context.Context, cred chat.Credential) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO credentials (id, token, username, saved_at)
		VALUES (1, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			token = excluded.token,
			username = excluded.username,
			saved_at = excluded.saved_at`,
		cred.Token, cred.User, time.Now().UnixMilli())
	if err != nil {
		return fmt.Errorf("save credential: %w", err)
	}
	return nil
}

// Load returns the persisted credential. ok is false when none is stored.
func (s *CredentialStore) Load(ctx context.Context) (cred chat.Credential, ok bool, err error) {
	err = s.db.QueryRowContext(ctx,
		`SELECT token, username FROM credentials WHERE id = 1`).Scan(&cred.Token, &cred.User)
	if errors.Is(err, sql.ErrNoRows) {
		return chat.Credential{}, false, nil
	}
	if err != nil {
		return chat.Credential{}, false, fmt.Errorf("load credential: %w", err)
	}
	return cred, true, nil
}

// Delete removes the persisted credential. Deleting an absent credential is not an error.
func (s *CredentialStore) Delete(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM credentials WHERE id = 1`); err != nil {
		return fmt.Errorf("delete credential: %w", err)
	}
	return nil
}
