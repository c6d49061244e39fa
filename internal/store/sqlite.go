package store

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"chronicler/internal/domain"

	_ "modernc.org/sqlite"
)

// SQLiteStore implements domain.VersionStore on a single SQLite file.
// Message revisions are append-only; the only mutable state is the
// per-room cursor.
type SQLiteStore struct {
	db     *sql.DB
	logger *slog.Logger
}

func NewSQLiteStore(dbPath string, logger *slog.Logger) (*SQLiteStore, error) {
	dir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("cannot create database directory %s: %w", dir, err)
	}

	db, err := sql.Open("sqlite", dbPath+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("cannot open database: %w", err)
	}

	// Set connection pool (single connection for SQLite)
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	store := &SQLiteStore{db: db, logger: logger}

	if err := store.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("database migration failed: %w", err)
	}

	return store, nil
}

func (s *SQLiteStore) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS messages (
		message_id       INTEGER NOT NULL,
		room_id          INTEGER NOT NULL,
		guild_id         INTEGER NOT NULL DEFAULT 0,
		author_id        INTEGER NOT NULL,
		version          INTEGER NOT NULL DEFAULT 0,
		pinned           INTEGER NOT NULL DEFAULT 0,
		edited_timestamp TEXT,
		content          TEXT NOT NULL,
		attachments      TEXT NOT NULL,
		embeds           TEXT NOT NULL,
		raw              TEXT NOT NULL,
		PRIMARY KEY (message_id, version)
	);
	CREATE INDEX IF NOT EXISTS idx_messages_room ON messages(room_id, message_id);

	CREATE TABLE IF NOT EXISTS rooms (
		room_id              INTEGER PRIMARY KEY,
		last_seen_message_id INTEGER
	);
	`

	_, err := s.db.Exec(schema)
	return err
}

func (s *SQLiteStore) Append(ctx context.Context, v domain.MessageVersion) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO messages (message_id, room_id, guild_id, author_id, version, pinned, edited_timestamp, content, attachments, embeds, raw)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		v.MessageID, v.RoomID, v.GuildID, v.AuthorID, v.Version,
		boolToInt(v.Pinned), v.EditedTimestamp, v.Content,
		string(v.Attachments), string(v.Embeds), string(v.Raw),
	)
	if err != nil {
		return fmt.Errorf("append message %d version %d: %w", v.MessageID, v.Version, err)
	}
	return nil
}

func (s *SQLiteStore) Latest(ctx context.Context, messageID int64) (*domain.MessageVersion, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT message_id, room_id, guild_id, author_id, version, pinned, edited_timestamp, content, attachments, embeds, raw
		 FROM messages WHERE message_id = ?
		 ORDER BY version DESC LIMIT 1`, messageID,
	)

	var v domain.MessageVersion
	var pinned int
	var attachments, embeds, raw string
	err := row.Scan(&v.MessageID, &v.RoomID, &v.GuildID, &v.AuthorID, &v.Version,
		&pinned, &v.EditedTimestamp, &v.Content, &attachments, &embeds, &raw)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load latest version of message %d: %w", messageID, err)
	}
	v.Pinned = pinned != 0
	v.Attachments = []byte(attachments)
	v.Embeds = []byte(embeds)
	v.Raw = []byte(raw)
	return &v, nil
}

func (s *SQLiteStore) EnsureCursor(ctx context.Context, roomID int64) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT OR IGNORE INTO rooms (room_id, last_seen_message_id) VALUES (?, NULL)`, roomID,
	)
	return err
}

func (s *SQLiteStore) Cursor(ctx context.Context, roomID int64) (*int64, error) {
	var cursor sql.NullInt64
	err := s.db.QueryRowContext(ctx,
		`SELECT last_seen_message_id FROM rooms WHERE room_id = ?`, roomID,
	).Scan(&cursor)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load cursor for room %d: %w", roomID, err)
	}
	if !cursor.Valid {
		return nil, nil
	}
	return &cursor.Int64, nil
}

// AdvanceCursor moves the cursor forward. The WHERE guard on the upsert
// keeps it monotonic: a stale messageID leaves the row untouched.
func (s *SQLiteStore) AdvanceCursor(ctx context.Context, roomID, messageID int64) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO rooms (room_id, last_seen_message_id) VALUES (?, ?)
		 ON CONFLICT(room_id) DO UPDATE SET last_seen_message_id = excluded.last_seen_message_id
		 WHERE rooms.last_seen_message_id IS NULL OR rooms.last_seen_message_id <= excluded.last_seen_message_id`,
		roomID, messageID,
	)
	if err != nil {
		return fmt.Errorf("advance cursor for room %d: %w", roomID, err)
	}
	return nil
}

// Stats summarizes the archive for the status command.
type Stats struct {
	Messages int64
	Versions int64
	Rooms    int64
}

func (s *SQLiteStore) Stats(ctx context.Context) (Stats, error) {
	var st Stats
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(DISTINCT message_id), COUNT(*) FROM messages`).Scan(&st.Messages, &st.Versions); err != nil {
		return st, err
	}
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM rooms`).Scan(&st.Rooms); err != nil {
		return st, err
	}
	return st, nil
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
