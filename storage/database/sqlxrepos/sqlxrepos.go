// Package sqlxrepos implements the core repositories on top of sqlx.
// Queries are written with `?` placeholders and rebound for the driver in use (postgres or sqlite).
package sqlxrepos

import (
	"context"
	"database/sql"

	"github.com/jmoiron/sqlx"
	"github.com/pkg/errors"

	"github.com/trezcool/capstone/core"
)

// repo holds what every repository shares.
type repo struct {
	db core.DB
}

func (r repo) getExec(exec []core.DBExecutor) core.DBExecutor {
	if len(exec) > 0 {
		return exec[0]
	}
	return r.db
}

func (r repo) rebind(query string) string {
	return r.db.Rebind(query)
}

// in expands `IN (?)` clauses then rebinds the query.
func (r repo) in(query string, args ...interface{}) (string, []interface{}, error) {
	q, args, err := sqlx.In(query, args...)
	if err != nil {
		return "", nil, errors.Wrap(err, "expanding IN clause")
	}
	return r.rebind(q), args, nil
}

// withTx runs fn inside a transaction, rolling back on error.
func (r repo) withTx(ctx context.Context, fn func(tx *sqlx.Tx) error) error {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return errors.Wrap(err, "beginning transaction")
	}
	if err = fn(tx); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil && rbErr != sql.ErrTxDone {
			return errors.Wrapf(err, "rolling back: %v", rbErr)
		}
		return err
	}
	return errors.Wrap(tx.Commit(), "committing transaction")
}

// trapNoRowsErr maps sql "no rows" err to `notFound`
func trapNoRowsErr(err error, notFound error, msg string) error {
	if errors.Cause(err) == sql.ErrNoRows {
		return notFound
	}
	return errors.Wrap(err, msg)
}

func likePattern(search string) string {
	return "%" + search + "%"
}
