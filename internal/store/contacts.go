package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/quietline/presencewatch/internal/model"
)

// ContactStore is a minimal sqlite-backed model.ContactDirectory.
// Contact CRUD is explicitly out of scope for the core correlation
// engine (spec.md §1), so this table and its columns are intentionally
// bare: presencewatch's own CLI needs a concrete directory to run
// against, but a real deployment is expected to supply its own
// collaborator satisfying the same interface (e.g. backed by its user
// database), matching the "assumed provided by collaborators" framing
// of spec.md §1/§6.
type ContactStore struct {
	db *sql.DB
}

// NewContactStore opens (or creates) the contacts table on the same
// database handle conventions as SQLiteStore.
func NewContactStore(path string) (*ContactStore, error) {
	db, err := sql.Open("sqlite3", fmt.Sprintf("file:%s?_foreign_keys=on", path))
	if err != nil {
		return nil, fmt.Errorf("store: open contacts: %w", err)
	}
	const schema = `
CREATE TABLE IF NOT EXISTS contacts (
	user_id               INTEGER NOT NULL,
	contact_id            INTEGER NOT NULL,
	label                 TEXT NOT NULL DEFAULT '',
	notify_email          TEXT NOT NULL DEFAULT '',
	notifications_enabled INTEGER NOT NULL DEFAULT 0,
	signal_number         TEXT NOT NULL DEFAULT '',
	whatsapp_number       TEXT NOT NULL DEFAULT '',
	PRIMARY KEY (user_id, contact_id)
);`
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("store: migrate contacts: %w", err)
	}
	return &ContactStore{db: db}, nil
}

// Upsert records or replaces one contact's directory row. Exposed for
// the CLI's "contact set" command and for tests; the core engine never writes
// through this collaborator.
func (c *ContactStore) Upsert(ctx context.Context, userID, contactID int64, label, notifyEmail string, notificationsEnabled bool, signalNumber, whatsappNumber string) error {
	_, err := c.db.ExecContext(ctx, `
INSERT INTO contacts (user_id, contact_id, label, notify_email, notifications_enabled, signal_number, whatsapp_number)
VALUES (?, ?, ?, ?, ?, ?, ?)
ON CONFLICT(user_id, contact_id) DO UPDATE SET
	label = excluded.label, notify_email = excluded.notify_email,
	notifications_enabled = excluded.notifications_enabled,
	signal_number = excluded.signal_number, whatsapp_number = excluded.whatsapp_number`,
		userID, contactID, label, notifyEmail, notificationsEnabled, signalNumber, whatsappNumber)
	return err
}

func (c *ContactStore) NotifyTarget(ctx context.Context, userID, contactID int64) (email string, enabled bool, label string, err error) {
	row := c.db.QueryRowContext(ctx, `
SELECT notify_email, notifications_enabled, label FROM contacts WHERE user_id = ? AND contact_id = ?`, userID, contactID)
	var enabledInt int
	if err := row.Scan(&email, &enabledInt, &label); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return "", false, "", nil
		}
		return "", false, "", err
	}
	return email, enabledInt != 0, label, nil
}

func (c *ContactStore) PlatformTarget(ctx context.Context, userID, contactID int64, platform model.Platform) (string, error) {
	row := c.db.QueryRowContext(ctx, `
SELECT signal_number, whatsapp_number FROM contacts WHERE user_id = ? AND contact_id = ?`, userID, contactID)
	var signalNumber, whatsappNumber string
	if err := row.Scan(&signalNumber, &whatsappNumber); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return "", fmt.Errorf("store: no contact directory entry for user=%d contact=%d", userID, contactID)
		}
		return "", err
	}

	switch platform {
	case model.PlatformSignal:
		if signalNumber == "" {
			return "", fmt.Errorf("store: contact %d has no signal_number on file", contactID)
		}
		return signalNumber, nil
	case model.PlatformWhatsApp, model.PlatformWhatsAppWeb:
		if whatsappNumber == "" {
			return "", fmt.Errorf("store: contact %d has no whatsapp_number on file", contactID)
		}
		return whatsappNumber, nil
	case model.PlatformMock:
		return "mock", nil
	default:
		return "", fmt.Errorf("store: unknown platform %q", platform)
	}
}

// Close closes the underlying database handle.
func (c *ContactStore) Close() error { return c.db.Close() }

var _ model.ContactDirectory = (*ContactStore)(nil)
