// Package history records inbound messages before they are routed.
package history

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/jmoiron/sqlx"
)

// Entry is one recorded inbound message.
type Entry struct {
	ChatID    int64     `db:"chat_id"`
	UserID    int64     `db:"user_id"`
	MessageID int       `db:"message_id"`
	Text      *string   `db:"text"`
	CreatedAt time.Time `db:"created_at"`
}

// Log stores entries and lists the most recent ones for an identity.
type Log interface {
	Record(ctx context.Context, e Entry) error
	Recent(ctx context.Context, chatID, userID int64, limit int) ([]Entry, error)
}

// MemoryLog keeps the last Capacity entries in process.
type MemoryLog struct {
	mu       sync.Mutex
	capacity int
	entries  []Entry
}

// NewMemoryLog returns a log bounded to capacity entries; capacity <= 0 means 1000.
func NewMemoryLog(capacity int) *MemoryLog {
	if capacity <= 0 {
		capacity = 1000
	}
	return &MemoryLog{capacity: capacity}
}

func (l *MemoryLog) Record(_ context.Context, e Entry) error {
	if e.CreatedAt.IsZero() {
		e.CreatedAt = time.Now().UTC()
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	l.entries = append(l.entries, e)
	if over := len(l.entries) - l.capacity; over > 0 {
		l.entries = append(l.entries[:0:0], l.entries[over:]...)
	}
	return nil
}

// Recent returns up to limit entries of the identity, newest first.
func (l *MemoryLog) Recent(_ context.Context, chatID, userID int64, limit int) ([]Entry, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	var out []Entry
	for i := len(l.entries) - 1; i >= 0 && (limit <= 0 || len(out) < limit); i-- {
		if e := l.entries[i]; e.ChatID == chatID && e.UserID == userID {
			out = append(out, e)
		}
	}
	return out, nil
}

const (
	insertMessageQuery  = `INSERT INTO telegram_messages (chat_id, user_id, message_id, text, created_at) VALUES (?, ?, ?, ?, ?)`
	selectMessagesQuery = `SELECT chat_id, user_id, message_id, text, created_at FROM telegram_messages
WHERE chat_id = ? AND user_id = ? ORDER BY id DESC LIMIT ?`
)

// SQLLog stores entries in the telegram_messages table.
type SQLLog struct {
	db *sqlx.DB
}

// NewSQLLog returns a log over db.
func NewSQLLog(db *sqlx.DB) *SQLLog {
	return &SQLLog{db: db}
}

func (l *SQLLog) Record(ctx context.Context, e Entry) error {
	if e.CreatedAt.IsZero() {
		e.CreatedAt = time.Now().UTC()
	}
	_, err := l.db.ExecContext(ctx, l.db.Rebind(insertMessageQuery), e.ChatID, e.UserID, e.MessageID, e.Text, e.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert message: %w", err)
	}
	return nil
}

// Recent returns up to limit entries of the identity, newest first; limit <= 0 means 50.
func (l *SQLLog) Recent(ctx context.Context, chatID, userID int64, limit int) ([]Entry, error) {
	if limit <= 0 {
		limit = 50
	}
	var out []Entry
	if err := l.db.SelectContext(ctx, &out, l.db.Rebind(selectMessagesQuery), chatID, userID, limit); err != nil {
		return nil, fmt.Errorf("select messages: %w", err)
	}
	return out, nil
}
