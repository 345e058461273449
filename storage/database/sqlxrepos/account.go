package sqlxrepos

import (
	"context"
	"strings"
	"time"

	"github.com/pkg/errors"
	"github.com/volatiletech/null/v8"

	"github.com/trezcool/capstone/core"
	"github.com/trezcool/capstone/core/user"
)

const accountColumns = `id, name, email, role, status, reviewed_by, created_at, updated_at`

type accountRow struct {
	ID         string      `db:"id"`
	Name       string      `db:"name"`
	Email      string      `db:"email"`
	Role       string      `db:"role"`
	Status     string      `db:"status"`
	ReviewedBy null.String `db:"reviewed_by"`
	CreatedAt  time.Time   `db:"created_at"`
	UpdatedAt  time.Time   `db:"updated_at"`
}

func (row accountRow) unwrap() user.Account {
	return user.Account{
		ID:         row.ID,
		Name:       row.Name,
		Email:      row.Email,
		Role:       core.Role(row.Role),
		Status:     user.Status(row.Status),
		ReviewedBy: row.ReviewedBy.String,
		CreatedAt:  row.CreatedAt.UTC(),
		UpdatedAt:  row.UpdatedAt.UTC(),
	}
}

type accountRepository struct {
	repo
}

var _ user.Repository = (*accountRepository)(nil) // interface compliance check

func NewAccountRepository(db core.DB) *accountRepository {
	return &accountRepository{repo{db: db}}
}

func (r accountRepository) CheckEmailUniqueness(ctx context.Context, email string) error {
	var count int
	if err := r.db.GetContext(ctx, &count, r.rebind(`SELECT COUNT(*) FROM accounts WHERE email = ?`), email); err != nil {
		return errors.Wrap(err, "counting accounts")
	}
	if count > 0 {
		return user.ErrEmailExists
	}
	return nil
}

func (r accountRepository) Create(ctx context.Context, acc user.Account) (user.Account, error) {
	_, err := r.db.ExecContext(ctx, r.rebind(`
		INSERT INTO accounts (`+accountColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?)`),
		acc.ID, acc.Name, acc.Email, string(acc.Role), string(acc.Status),
		null.NewString(acc.ReviewedBy, acc.ReviewedBy != ""), acc.CreatedAt.UTC(), acc.UpdatedAt.UTC(),
	)
	if err != nil {
		return user.Account{}, errors.Wrap(err, "inserting account")
	}
	return acc, nil
}

func (r accountRepository) get(ctx context.Context, where string, arg interface{}, exec ...core.DBExecutor) (user.Account, error) {
	var row accountRow
	err := r.getExec(exec).GetContext(ctx, &row, r.rebind(`SELECT `+accountColumns+` FROM accounts WHERE `+where), arg)
	if err != nil {
		return user.Account{}, trapNoRowsErr(err, user.ErrNotFound, "selecting account")
	}
	return row.unwrap(), nil
}

func (r accountRepository) GetByID(ctx context.Context, id string) (user.Account, error) {
	return r.get(ctx, "id = ?", id)
}

func (r accountRepository) GetByEmail(ctx context.Context, email string) (user.Account, error) {
	return r.get(ctx, "email = ?", email)
}

func (r accountRepository) Query(ctx context.Context, filter user.QueryFilter) ([]user.Account, error) {
	var (
		where []string
		args  []interface{}
	)
	if filter.Search != "" {
		where = append(where, "(LOWER(name) LIKE ? OR LOWER(email) LIKE ?)")
		pattern := likePattern(strings.ToLower(filter.Search))
		args = append(args, pattern, pattern)
	}
	if len(filter.Roles) > 0 {
		roles := make([]string, 0, len(filter.Roles))
		for _, role := range filter.Roles {
			roles = append(roles, string(role))
		}
		where = append(where, "role IN (?)")
		args = append(args, roles)
	}
	if len(filter.Statuses) > 0 {
		statuses := make([]string, 0, len(filter.Statuses))
		for _, st := range filter.Statuses {
			statuses = append(statuses, string(st))
		}
		where = append(where, "status IN (?)")
		args = append(args, statuses)
	}

	q := `SELECT ` + accountColumns + ` FROM accounts`
	if len(where) > 0 {
		q += " WHERE " + strings.Join(where, " AND ")
	}
	q += " ORDER BY created_at DESC, id DESC"

	q, args, err := r.in(q, args...)
	if err != nil {
		return nil, err
	}
	var rows []accountRow
	if err = r.db.SelectContext(ctx, &rows, q, args...); err != nil {
		return nil, errors.Wrap(err, "selecting accounts")
	}
	accounts := make([]user.Account, 0, len(rows))
	for _, row := range rows {
		accounts = append(accounts, row.unwrap())
	}
	return accounts, nil
}

func (r accountRepository) UpdateStatus(ctx context.Context, id string, status user.Status, reviewedBy string, at time.Time) (user.Account, error) {
	res, err := r.db.ExecContext(ctx, r.rebind(`
		UPDATE accounts SET status = ?, reviewed_by = ?, updated_at = ? WHERE id = ? AND status = ?`),
		string(status), reviewedBy, at.UTC(), id, string(user.StatusPending),
	)
	if err != nil {
		return user.Account{}, errors.Wrap(err, "updating account status")
	}
	n, err := res.RowsAffected()
	if err != nil {
		return user.Account{}, errors.Wrap(err, "updating account status")
	}
	if n == 0 {
		if _, err = r.GetByID(ctx, id); err != nil {
			return user.Account{}, err
		}
		return user.Account{}, user.ErrAlreadyDecided
	}
	return r.GetByID(ctx, id)
}
