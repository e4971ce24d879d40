package state

import (
	"context"
	"fmt"
	"time"
)

// DialogState is the persisted position of one user in one chat. A nil Step
// means no chain is active; the row is kept for inspection.
type DialogState struct {
	ChatID    int64     `db:"chat_id" json:"chat_id"`
	UserID    int64     `db:"user_id" json:"user_id"`
	Step      *string   `db:"step" json:"step"`
	Content   *string   `db:"content" json:"content"`
	UpdatedAt time.Time `db:"updated_at" json:"updated_at"`
}

// Active reports whether a step is pending.
func (s *DialogState) Active() bool {
	return s != nil && s.Step != nil
}

// Store reads and upserts dialog state. Get returns (nil, nil) when no row
// exists. Save replaces step and content atomically for the identity; the
// last writer wins.
type Store interface {
	Get(ctx context.Context, chatID, userID int64) (*DialogState, error)
	Save(ctx context.Context, chatID, userID int64, step, content *string) error
}

func key(chatID, userID int64) string {
	return fmt.Sprintf("%d:%d", chatID, userID)
}

func cloneString(s *string) *string {
	if s == nil {
		return nil
	}
	v := *s
	return &v
}
