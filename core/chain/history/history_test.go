package history

import (
	"context"
	"fmt"
	"testing"

	"github.com/m3rciful/chainbot/core/database/dbtest"
)

func text(s string) *string { return &s }

func TestLogsReturnNewestFirst(t *testing.T) {
	logs := map[string]func(t *testing.T) Log{
		"memory": func(*testing.T) Log { return NewMemoryLog(0) },
		"sqlite": func(t *testing.T) Log { return NewSQLLog(dbtest.SQLite(t)) },
	}
	for name, newLog := range logs {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			l := newLog(t)
			for i := 1; i <= 3; i++ {
				if err := l.Record(ctx, Entry{ChatID: 1, UserID: 2, MessageID: i, Text: text(fmt.Sprintf("m%d", i))}); err != nil {
					t.Fatalf("record: %v", err)
				}
			}
			if err := l.Record(ctx, Entry{ChatID: 1, UserID: 3, MessageID: 9}); err != nil {
				t.Fatalf("record: %v", err)
			}
			got, err := l.Recent(ctx, 1, 2, 2)
			if err != nil {
				t.Fatalf("recent: %v", err)
			}
			if len(got) != 2 || got[0].MessageID != 3 || got[1].MessageID != 2 {
				t.Fatalf("unexpected entries %+v", got)
			}
			if got[0].Text == nil || *got[0].Text != "m3" {
				t.Fatalf("text lost: %+v", got[0])
			}
		})
	}
}

func TestMemoryLogIsBounded(t *testing.T) {
	ctx := context.Background()
	l := NewMemoryLog(2)
	for i := 1; i <= 5; i++ {
		_ = l.Record(ctx, Entry{ChatID: 1, UserID: 1, MessageID: i})
	}
	got, _ := l.Recent(ctx, 1, 1, 0)
	if len(got) != 2 || got[0].MessageID != 5 {
		t.Fatalf("unexpected entries %+v", got)
	}
}
