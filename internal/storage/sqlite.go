package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/hyperjump/recall/internal/models"
)

// MemoryPath opens a private in-memory database.
const MemoryPath = ":memory:"

// SQLiteStorage implements Storage using SQLite.
type SQLiteStorage struct {
	db *sql.DB
}

// NewSQLiteStorage opens or creates a SQLite database at dbPath and initializes the schema.
// Parent directories are created if they do not exist.
func NewSQLiteStorage(dbPath string) (*SQLiteStorage, error) {
	if dbPath != MemoryPath {
		if dir := filepath.Dir(dbPath); dir != "." {
			if err := os.MkdirAll(dir, 0755); err != nil {
				return nil, fmt.Errorf("failed to create database directory: %w", err)
			}
		}
	}
	dsn := dbPath
	if dbPath != MemoryPath {
		// Per-connection settings go in the DSN so every pooled connection gets them.
		dsn = dbPath + "?_journal_mode=WAL&_busy_timeout=5000&_txlock=immediate"
	}
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if dbPath == MemoryPath {
		// Every connection to :memory: is a separate database.
		db.SetMaxOpenConns(1)
	}
	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err := initSchema(db); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	return &SQLiteStorage{db: db}, nil
}

func initSchema(db *sql.DB) error {
	schema := `
	CREATE TABLE IF NOT EXISTS chats (
		jid TEXT PRIMARY KEY,
		name TEXT,
		last_message_time INTEGER
	);

	CREATE TABLE IF NOT EXISTS messages (
		id TEXT NOT NULL,
		chat_jid TEXT NOT NULL,
		sender TEXT,
		sender_jid TEXT,
		content TEXT,
		timestamp INTEGER NOT NULL,
		is_from_me INTEGER NOT NULL DEFAULT 0,
		PRIMARY KEY (id)
	);

	CREATE INDEX IF NOT EXISTS idx_messages_timestamp ON messages(timestamp);
	CREATE INDEX IF NOT EXISTS idx_messages_chat ON messages(chat_jid, timestamp);
	`
	_, err := db.Exec(schema)
	return err
}

// SaveMessage upserts the chat and inserts the message in one transaction. It reports
// false when a message with the same id already exists.
func (s *SQLiteStorage) SaveMessage(ctx context.Context, msg *models.Message) (bool, error) {
	if msg.ID == "" {
		return false, fmt.Errorf("message id is required")
	}
	ts := msg.Timestamp
	if ts.IsZero() {
		ts = time.Now()
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return false, err
	}
	defer tx.Rollback()

	if msg.ChatJID != "" {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO chats (jid, name, last_message_time) VALUES (?, ?, ?)
			 ON CONFLICT(jid) DO UPDATE SET
			   name = COALESCE(NULLIF(excluded.name, ''), chats.name),
			   last_message_time = MAX(COALESCE(chats.last_message_time, 0), excluded.last_message_time)`,
			msg.ChatJID, msg.ChatName, ts.Unix(),
		); err != nil {
			return false, fmt.Errorf("failed to upsert chat: %w", err)
		}
	}

	res, err := tx.ExecContext(ctx,
		`INSERT OR IGNORE INTO messages (id, chat_jid, sender, sender_jid, content, timestamp, is_from_me)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		msg.ID, msg.ChatJID, msg.Sender, msg.SenderJID, msg.Content, ts.Unix(), msg.IsFromMe,
	)
	if err != nil {
		return false, fmt.Errorf("failed to insert message: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to insert message: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return false, err
	}
	return n > 0, nil
}

// GetMessage returns a message by ID.
func (s *SQLiteStorage) GetMessage(ctx context.Context, id string) (*models.Message, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT m.id, m.chat_jid, COALESCE(c.name, ''), COALESCE(m.sender, ''), COALESCE(m.sender_jid, ''),
		        COALESCE(m.content, ''), m.timestamp, m.is_from_me
		 FROM messages m LEFT JOIN chats c ON c.jid = m.chat_jid
		 WHERE m.id = ?`, id)
	msg, err := scanMessage(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	if err != nil {
		return nil, err
	}
	return msg, nil
}

// GetMessageContent returns "sender: content" for id. An unknown id yields "" and no error.
func (s *SQLiteStorage) GetMessageContent(ctx context.Context, id string) (string, error) {
	var sender, content string
	err := s.db.QueryRowContext(ctx,
		`SELECT COALESCE(sender, ''), COALESCE(content, '') FROM messages WHERE id = ?`, id,
	).Scan(&sender, &content)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	if err != nil {
		return "", err
	}
	msg := models.Message{Sender: sender, Content: content}
	return msg.ContextLine(), nil
}

// ListRecent returns up to limit non-empty messages ordered by timestamp, newest first.
func (s *SQLiteStorage) ListRecent(ctx context.Context, limit int) ([]*models.Message, error) {
	if limit <= 0 {
		return nil, nil
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT m.id, m.chat_jid, COALESCE(c.name, ''), COALESCE(m.sender, ''), COALESCE(m.sender_jid, ''),
		        COALESCE(m.content, ''), m.timestamp, m.is_from_me
		 FROM messages m LEFT JOIN chats c ON c.jid = m.chat_jid
		 WHERE m.content IS NOT NULL AND m.content != '' AND m.id != ''
		 ORDER BY m.timestamp DESC, m.rowid DESC
		 LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var msgs []*models.Message
	for rows.Next() {
		msg, err := scanMessage(rows)
		if err != nil {
			return nil, err
		}
		msgs = append(msgs, msg)
	}
	return msgs, rows.Err()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanMessage(sc scanner) (*models.Message, error) {
	var msg models.Message
	var ts int64
	if err := sc.Scan(&msg.ID, &msg.ChatJID, &msg.ChatName, &msg.Sender, &msg.SenderJID,
		&msg.Content, &ts, &msg.IsFromMe); err != nil {
		return nil, err
	}
	msg.Timestamp = time.Unix(ts, 0).UTC()
	return &msg, nil
}

// CountMessages returns the total number of messages.
func (s *SQLiteStorage) CountMessages(ctx context.Context) (int64, error) {
	var count int64
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM messages`).Scan(&count)
	return count, err
}

// CountChats returns the total number of chats.
func (s *SQLiteStorage) CountChats(ctx context.Context) (int64, error) {
	var count int64
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM chats`).Scan(&count)
	return count, err
}

// Close closes the database connection.
func (s *SQLiteStorage) Close() error {
	return s.db.Close()
}
