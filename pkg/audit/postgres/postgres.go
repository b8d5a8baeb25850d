// Package postgres persists the audit trail in a database table, for
// deployments that need it queryable beyond log retention.
package postgres

import (
	"context"
	"errors"

	"github.com/jackc/pgconn"
	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgtype"

	"github.com/opst/adminhub/pkg/audit"
	kpool "github.com/opst/adminhub/pkg/conn/db/postgres/pool"
)

type recorder struct {
	conn kpool.Queryer
}

var _ audit.Recorder = &recorder{}

func New(conn kpool.Queryer) audit.Recorder {
	return &recorder{conn: conn}
}

// Bootstrap creates the audit table when missing. Two servers booting at
// once can both attempt the create; the loser's duplicate-table error is
// not a failure.
func Bootstrap(ctx context.Context, conn kpool.Queryer) error {
	_, err := conn.Exec(
		ctx,
		`CREATE TABLE IF NOT EXISTS "audit_log" (
			"id" BIGSERIAL PRIMARY KEY,
			"created_at" TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT now(),
			"component" VARCHAR NOT NULL,
			"type" VARCHAR NOT NULL,
			"user_id" VARCHAR,
			"username" VARCHAR,
			"target" VARCHAR,
			"detail" TEXT
		)`,
	)
	if err != nil {
		pgErr := &pgconn.PgError{}
		if errors.As(err, &pgErr) && pgErr.Code == pgerrcode.DuplicateTable {
			return nil
		}
		return err
	}
	return nil
}

// nullable renders "" as SQL NULL.
func nullable(s string) pgtype.Text {
	if s == "" {
		return pgtype.Text{Status: pgtype.Null}
	}
	return pgtype.Text{String: s, Status: pgtype.Present}
}

func (r *recorder) Record(ctx context.Context, entry Entry) error {
	_, err := r.conn.Exec(
		ctx,
		`INSERT INTO "audit_log" ("component", "type", "user_id", "username", "target", "detail")
		VALUES ($1, $2, $3, $4, $5, $6)`,
		entry.Component, entry.Type,
		nullable(entry.UserID), nullable(entry.Username),
		nullable(entry.Target), nullable(entry.Detail),
	)
	return err
}

// Entry aliases the audit entry type so callers of this package need not
// import both.
type Entry = audit.Entry
