package repo

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"procline/internal/db"
	"procline/internal/domain"
)

// NewSQLite backs every collection with the documents table.
func NewSQLite(conn *sql.DB) Repo {
	r := sqliteRepo(conn)
	r.atomic = func(ctx context.Context, fn func(Repo) error) error {
		tx, err := conn.BeginTx(ctx, nil)
		if err != nil {
			return err
		}
		defer tx.Rollback()
		if err := fn(sqliteRepo(tx)); err != nil {
			return err
		}
		return tx.Commit()
	}
	return r
}

func sqliteRepo(q db.DBTX) Repo {
	return Repo{
		Users:     sqliteCollection[domain.User]{q: q, kind: kindUser},
		Teams:     sqliteCollection[domain.Team]{q: q, kind: kindTeam},
		Processes: sqliteCollection[domain.ProcessDefinition]{q: q, kind: kindProcess},
		Runs:      sqliteCollection[domain.ProcessRun]{q: q, kind: kindRun},
		Tasks:     sqliteCollection[domain.Task]{q: q, kind: kindTask},
	}
}

type sqliteCollection[T any] struct {
	q    db.DBTX
	kind string
}

func (c sqliteCollection[T]) All(ctx context.Context) ([]T, error) {
	rows, err := c.q.QueryContext(ctx, `SELECT body_json FROM documents WHERE kind=? ORDER BY rowid`, c.kind)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []T
	for rows.Next() {
		var body string
		if err := rows.Scan(&body); err != nil {
			return nil, err
		}
		var v T
		if err := json.Unmarshal([]byte(body), &v); err != nil {
			return nil, fmt.Errorf("decode %s: %w", c.kind, err)
		}
		out = append(out, v)
	}
	return out, rows.Err()
}

func (c sqliteCollection[T]) Get(ctx context.Context, id string) (T, error) {
	var v T
	var body string
	err := c.q.QueryRowContext(ctx, `SELECT body_json FROM documents WHERE kind=? AND id=?`, c.kind, id).Scan(&body)
	if err == sql.ErrNoRows {
		return v, fmt.Errorf("%s %s: %w", c.kind, id, ErrNotFound)
	}
	if err != nil {
		return v, err
	}
	if err := json.Unmarshal([]byte(body), &v); err != nil {
		return v, fmt.Errorf("decode %s %s: %w", c.kind, id, err)
	}
	return v, nil
}

func (c sqliteCollection[T]) Upsert(ctx context.Context, id string, revision int, v T) error {
	body, err := json.Marshal(v)
	if err != nil {
		return err
	}
	now := time.Now().UTC().Format(time.RFC3339Nano)
	var res sql.Result
	if revision <= 1 {
		res, err = c.q.ExecContext(ctx, `INSERT INTO documents(kind,id,revision,body_json,updated_at) VALUES (?,?,?,?,?)
ON CONFLICT(kind,id) DO NOTHING`, c.kind, id, revision, string(body), now)
	} else {
		res, err = c.q.ExecContext(ctx, `UPDATE documents SET revision=?, body_json=?, updated_at=? WHERE kind=? AND id=? AND revision=?`,
			revision, string(body), now, c.kind, id, revision-1)
	}
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		if revision > 1 {
			if _, err := c.Get(ctx, id); err != nil {
				return err
			}
		}
		return fmt.Errorf("%s %s at revision %d: %w", c.kind, id, revision, ErrStaleRevision)
	}
	return nil
}

func (c sqliteCollection[T]) Delete(ctx context.Context, id string) error {
	res, err := c.q.ExecContext(ctx, `DELETE FROM documents WHERE kind=? AND id=?`, c.kind, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("%s %s: %w", c.kind, id, ErrNotFound)
	}
	return nil
}
