package store

import (
	"context"
	"fmt"

	"github.com/uptrace/bun"
)

// CreateSchema creates the tables and indexes this package owns. Safe to run
// on every startup.
func CreateSchema(ctx context.Context, db *bun.DB) error {
	models := []any{
		(*Task)(nil),
		(*Conversation)(nil),
		(*Message)(nil),
	}
	for _, model := range models {
		if _, err := db.NewCreateTable().Model(model).IfNotExists().Exec(ctx); err != nil {
			return fmt.Errorf("create table for %T: %w", model, err)
		}
	}

	indexes := []struct {
		model any
		name  string
		cols  []string
	}{
		{(*Task)(nil), "tasks_owner_id_idx", []string{"owner_id"}},
		{(*Message)(nil), "messages_conversation_id_idx", []string{"conversation_id"}},
	}
	for _, idx := range indexes {
		q := db.NewCreateIndex().Model(idx.model).Index(idx.name).IfNotExists()
		for _, col := range idx.cols {
			q = q.Column(col)
		}
		if _, err := q.Exec(ctx); err != nil {
			return fmt.Errorf("create index %s: %w", idx.name, err)
		}
	}

	return nil
}
