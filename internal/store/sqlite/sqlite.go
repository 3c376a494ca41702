package sqlite

import (
	"context"
	"database/sql"
	"os"
	"path/filepath"

	"github.com/sirupsen/logrus"
	_ "modernc.org/sqlite"

	"github.com/omgupta81/Smartbridge/internal/session"
	"github.com/omgupta81/Smartbridge/internal/store"
)

// SQLite-backed session store
type Store struct {
	db *sql.DB
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

	if err := createTables(db); err != nil {
		return nil, err
	}

	logrus.WithField("path", dbPath).Info("SQLite store initialized")
	return &Store{db: db}, nil
}

func createTables(db *sql.DB) error {
	schema := `
	CREATE TABLE IF NOT EXISTS sessions (
		room_id TEXT PRIMARY KEY,
		owner TEXT NOT NULL DEFAULT '',
		name TEXT NOT NULL DEFAULT 'Untitled Session',
		code TEXT NOT NULL DEFAULT '',
		created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
		updated_at DATETIME DEFAULT CURRENT_TIMESTAMP
	);

	CREATE TABLE IF NOT EXISTS session_files (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		room_id TEXT NOT NULL,
		position INTEGER NOT NULL,
		name TEXT NOT NULL,
		language TEXT NOT NULL DEFAULT 'javascript',
		content TEXT NOT NULL DEFAULT '',
		FOREIGN KEY (room_id) REFERENCES sessions(room_id) ON DELETE CASCADE
	);

	CREATE INDEX IF NOT EXISTS idx_session_files_room_id ON session_files(room_id);

	CREATE TABLE IF NOT EXISTS session_chat (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		room_id TEXT NOT NULL,
		sender TEXT NOT NULL DEFAULT '',
		text TEXT NOT NULL,
		time_ms INTEGER NOT NULL,
		cid TEXT NOT NULL DEFAULT '',
		FOREIGN KEY (room_id) REFERENCES sessions(room_id) ON DELETE CASCADE
	);

	CREATE INDEX IF NOT EXISTS idx_session_chat_room_id ON session_chat(room_id);
	`

	_, err := db.Exec(schema)
	return err
}

func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) Create(ctx context.Context, rec *session.Record) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx,
		"INSERT INTO sessions (room_id, owner, name, code) VALUES (?, ?, ?, ?)",
		rec.RoomID, rec.Owner, rec.Name, rec.Code,
	); err != nil {
		return err
	}

	for i, f := range rec.Files {
		if _, err := tx.ExecContext(ctx,
			"INSERT INTO session_files (room_id, position, name, language, content) VALUES (?, ?, ?, ?, ?)",
			rec.RoomID, i, f.Name, f.Language, f.Content,
		); err != nil {
			return err
		}
	}

	return tx.Commit()
}

func (s *Store) Get(ctx context.Context, roomID string) (*session.Record, error) {
	row := s.db.QueryRowContext(ctx,
		"SELECT room_id, owner, name, code, created_at, updated_at FROM sessions WHERE room_id = ?",
		roomID,
	)

	var rec session.Record
	err := row.Scan(&rec.RoomID, &rec.Owner, &rec.Name, &rec.Code, &rec.CreatedAt, &rec.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	files, err := s.getFiles(ctx, roomID)
	if err != nil {
		return nil, err
	}
	rec.Files = files

	chat, err := s.getChat(ctx, roomID)
	if err != nil {
		return nil, err
	}
	rec.Chat = chat

	return &rec, nil
}

func (s *Store) getFiles(ctx context.Context, roomID string) ([]session.File, error) {
	rows, err := s.db.QueryContext(ctx,
		"SELECT name, language, content FROM session_files WHERE room_id = ? ORDER BY position ASC",
		roomID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var files []session.File
	for rows.Next() {
		var f session.File
		if err := rows.Scan(&f.Name, &f.Language, &f.Content); err != nil {
			return nil, err
		}
		files = append(files, f)
	}
	return files, rows.Err()
}

func (s *Store) getChat(ctx context.Context, roomID string) ([]session.ChatEntry, error) {
	rows, err := s.db.QueryContext(ctx,
		"SELECT sender, text, time_ms, cid FROM session_chat WHERE room_id = ? ORDER BY id ASC",
		roomID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var entries []session.ChatEntry
	for rows.Next() {
		var e session.ChatEntry
		if err := rows.Scan(&e.From, &e.Text, &e.Time, &e.CID); err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

func (s *Store) ReplaceFiles(ctx context.Context, roomID string, files []session.File) error {
	if err := s.ensureSession(ctx, roomID); err != nil {
		return err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx,
		"DELETE FROM session_files WHERE room_id = ?", roomID,
	); err != nil {
		return err
	}

	for i, f := range files {
		if _, err := tx.ExecContext(ctx,
			"INSERT INTO session_files (room_id, position, name, language, content) VALUES (?, ?, ?, ?, ?)",
			roomID, i, f.Name, f.Language, f.Content,
		); err != nil {
			return err
		}
	}

	// Mirror the first file into the legacy code column so readers that
	// predate multi-file support keep working.
	legacy := ""
	if len(files) > 0 {
		legacy = files[0].Content
	}
	if _, err := tx.ExecContext(ctx,
		"UPDATE sessions SET code = ?, updated_at = CURRENT_TIMESTAMP WHERE room_id = ?",
		legacy, roomID,
	); err != nil {
		return err
	}

	return tx.Commit()
}

func (s *Store) SaveCode(ctx context.Context, roomID string, code string) error {
	if err := s.ensureSession(ctx, roomID); err != nil {
		return err
	}
	_, err := s.db.ExecContext(ctx,
		"UPDATE sessions SET code = ?, updated_at = CURRENT_TIMESTAMP WHERE room_id = ?",
		code, roomID,
	)
	return err
}

func (s *Store) AppendChat(ctx context.Context, roomID string, entry session.ChatEntry) error {
	if err := s.ensureSession(ctx, roomID); err != nil {
		return err
	}
	_, err := s.db.ExecContext(ctx,
		"INSERT INTO session_chat (room_id, sender, text, time_ms, cid) VALUES (?, ?, ?, ?, ?)",
		roomID, entry.From, entry.Text, entry.Time, entry.CID,
	)
	return err
}

func (s *Store) ensureSession(ctx context.Context, roomID string) error {
	_, err := s.db.ExecContext(ctx,
		"INSERT OR IGNORE INTO sessions (room_id) VALUES (?)",
		roomID,
	)
	return err
}
