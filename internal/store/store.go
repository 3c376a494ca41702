package store

import (
	"context"
	"errors"

	"github.com/omgupta81/Smartbridge/internal/session"
)

// ErrNotFound is returned when no session record exists for a room id.
var ErrNotFound = errors.New("session not found")

// Store is the durable gateway for session records, keyed by room id. The
// in-memory room state stays authoritative for live participants; the store
// is a write-behind target, never read again once a room is populated.
type Store interface {
	// Create inserts a new record. The room id must be unique.
	Create(ctx context.Context, rec *session.Record) error

	// Get returns the record for a room, or ErrNotFound.
	Get(ctx context.Context, roomID string) (*session.Record, error)

	// ReplaceFiles swaps the room's stored file list for the given one and
	// refreshes the update timestamp. The first file's content is mirrored
	// into the legacy code field for pre-multi-file readers.
	ReplaceFiles(ctx context.Context, roomID string, files []session.File) error

	// SaveCode replaces the legacy single-code field.
	SaveCode(ctx context.Context, roomID string, code string) error

	// AppendChat appends one chat entry to the room's history.
	AppendChat(ctx context.Context, roomID string, entry session.ChatEntry) error

	Close() error
}
