package sqlxrepos

import (
	"context"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/pkg/errors"
	"github.com/volatiletech/null/v8"

	"github.com/trezcool/capstone/core"
	"github.com/trezcool/capstone/core/submission"
)

const submissionColumns = `id, title, document_url, student_email, adviser_email, status,
	comment, reviewed_by, version, created_at, updated_at`

var submissionOrderings = map[string]string{
	"created_at": "created_at",
	"updated_at": "updated_at",
	"title":      "title",
	"status":     "status",
}

type submissionRow struct {
	ID           string      `db:"id"`
	Title        string      `db:"title"`
	DocumentURL  string      `db:"document_url"`
	StudentEmail string      `db:"student_email"`
	AdviserEmail string      `db:"adviser_email"`
	Status       string      `db:"status"`
	Comment      null.String `db:"comment"`
	ReviewedBy   null.String `db:"reviewed_by"`
	Version      int         `db:"version"`
	CreatedAt    time.Time   `db:"created_at"`
	UpdatedAt    time.Time   `db:"updated_at"`
}

func (row submissionRow) unwrap() submission.Submission {
	return submission.Submission{
		ID:           row.ID,
		Title:        row.Title,
		DocumentURL:  row.DocumentURL,
		StudentEmail: row.StudentEmail,
		AdviserEmail: row.AdviserEmail,
		Status:       submission.Status(row.Status),
		Comment:      row.Comment.String,
		ReviewedBy:   row.ReviewedBy.String,
		Version:      row.Version,
		CreatedAt:    row.CreatedAt.UTC(),
		UpdatedAt:    row.UpdatedAt.UTC(),
	}
}

type historyRow struct {
	ID           string      `db:"id"`
	SubmissionID string      `db:"submission_id"`
	FromStatus   string      `db:"from_status"`
	ToStatus     string      `db:"to_status"`
	ActorEmail   string      `db:"actor_email"`
	ActorRole    string      `db:"actor_role"`
	Comment      null.String `db:"comment"`
	CreatedAt    time.Time   `db:"created_at"`
}

type submissionRepository struct {
	repo
}

var _ submission.Repository = (*submissionRepository)(nil) // interface compliance check

func NewSubmissionRepository(db core.DB) *submissionRepository {
	return &submissionRepository{repo{db: db}}
}

func (r submissionRepository) Create(ctx context.Context, sub submission.Submission) (submission.Submission, error) {
	_, err := r.db.ExecContext(ctx, r.rebind(`
		INSERT INTO submissions (`+submissionColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`),
		sub.ID, sub.Title, sub.DocumentURL, sub.StudentEmail, sub.AdviserEmail, string(sub.Status),
		null.NewString(sub.Comment, sub.Comment != ""), null.NewString(sub.ReviewedBy, sub.ReviewedBy != ""),
		sub.Version, sub.CreatedAt.UTC(), sub.UpdatedAt.UTC(),
	)
	if err != nil {
		return submission.Submission{}, errors.Wrap(err, "inserting submission")
	}
	return sub, nil
}

func (r submissionRepository) GetByID(ctx context.Context, id string) (submission.Submission, error) {
	return r.getByID(ctx, id)
}

func (r submissionRepository) getByID(ctx context.Context, id string, exec ...core.DBExecutor) (submission.Submission, error) {
	var row submissionRow
	err := r.getExec(exec).GetContext(ctx, &row, r.rebind(`SELECT `+submissionColumns+` FROM submissions WHERE id = ?`), id)
	if err != nil {
		return submission.Submission{}, trapNoRowsErr(err, submission.ErrNotFound, "selecting submission")
	}
	return row.unwrap(), nil
}

func (r submissionRepository) Query(ctx context.Context, filter submission.QueryFilter, ordering []core.DBOrdering) ([]submission.Submission, error) {
	var (
		where []string
		args  []interface{}
	)
	if filter.Search != "" {
		where = append(where, "LOWER(title) LIKE ?")
		args = append(args, likePattern(strings.ToLower(filter.Search)))
	}
	if filter.StudentEmail != "" {
		where = append(where, "student_email = ?")
		args = append(args, filter.StudentEmail)
	}
	if filter.AdviserEmail != "" {
		where = append(where, "adviser_email = ?")
		args = append(args, filter.AdviserEmail)
	}
	if len(filter.Statuses) > 0 {
		statuses := make([]string, 0, len(filter.Statuses))
		for _, st := range filter.Statuses {
			statuses = append(statuses, string(st))
		}
		where = append(where, "status IN (?)")
		args = append(args, statuses)
	}

	q := `SELECT ` + submissionColumns + ` FROM submissions`
	if len(where) > 0 {
		q += " WHERE " + strings.Join(where, " AND ")
	}
	q += " ORDER BY " + orderBy(ordering, submissionOrderings, "created_at DESC, id DESC")

	q, args, err := r.in(q, args...)
	if err != nil {
		return nil, err
	}
	var rows []submissionRow
	if err = r.db.SelectContext(ctx, &rows, q, args...); err != nil {
		return nil, errors.Wrap(err, "selecting submissions")
	}
	subs := make([]submission.Submission, 0, len(rows))
	for _, row := range rows {
		subs = append(subs, row.unwrap())
	}
	return subs, nil
}

// UpdateStatus is a compare-and-set on the version column.
func (r submissionRepository) UpdateStatus(ctx context.Context, sub submission.Submission, entry submission.HistoryEntry) (submission.Submission, error) {
	var updated submission.Submission
	err := r.withTx(ctx, func(tx *sqlx.Tx) error {
		res, err := tx.ExecContext(ctx, r.rebind(`
			UPDATE submissions
			SET status = ?, comment = ?, reviewed_by = ?, document_url = ?, version = version + 1, updated_at = ?
			WHERE id = ? AND version = ?`),
			string(sub.Status), null.NewString(sub.Comment, sub.Comment != ""),
			null.NewString(sub.ReviewedBy, sub.ReviewedBy != ""), sub.DocumentURL, sub.UpdatedAt.UTC(),
			sub.ID, sub.Version,
		)
		if err != nil {
			return errors.Wrap(err, "updating submission status")
		}
		n, err := res.RowsAffected()
		if err != nil {
			return errors.Wrap(err, "updating submission status")
		}
		if n == 0 {
			if _, err = r.getByID(ctx, sub.ID, tx); err != nil {
				return err
			}
			return submission.ErrConflict
		}

		_, err = tx.ExecContext(ctx, r.rebind(`
			INSERT INTO submission_history (id, submission_id, from_status, to_status, actor_email, actor_role, comment, created_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?)`),
			entry.ID, entry.SubmissionID, string(entry.From), string(entry.To), entry.Actor, string(entry.ActorRole),
			null.NewString(entry.Comment, entry.Comment != ""), entry.CreatedAt.UTC(),
		)
		if err != nil {
			return errors.Wrap(err, "inserting submission history")
		}

		updated, err = r.getByID(ctx, sub.ID, tx)
		return err
	})
	if err != nil {
		return submission.Submission{}, err
	}
	return updated, nil
}

func (r submissionRepository) History(ctx context.Context, id string) ([]submission.HistoryEntry, error) {
	var rows []historyRow
	err := r.db.SelectContext(ctx, &rows, r.rebind(`
		SELECT id, submission_id, from_status, to_status, actor_email, actor_role, comment, created_at
		FROM submission_history WHERE submission_id = ? ORDER BY created_at ASC, id ASC`), id)
	if err != nil {
		return nil, errors.Wrap(err, "selecting submission history")
	}
	entries := make([]submission.HistoryEntry, 0, len(rows))
	for _, row := range rows {
		entries = append(entries, submission.HistoryEntry{
			ID:           row.ID,
			SubmissionID: row.SubmissionID,
			From:         submission.Status(row.FromStatus),
			To:           submission.Status(row.ToStatus),
			Actor:        row.ActorEmail,
			ActorRole:    core.Role(row.ActorRole),
			Comment:      row.Comment.String,
			CreatedAt:    row.CreatedAt.UTC(),
		})
	}
	return entries, nil
}

// orderBy renders whitelisted orderings, falling back to `fallback`.
func orderBy(ordering []core.DBOrdering, allowed map[string]string, fallback string) string {
	clauses := make([]string, 0, len(ordering))
	for _, ord := range ordering {
		col, ok := allowed[ord.Field]
		if !ok {
			continue
		}
		clauses = append(clauses, core.DBOrdering{Field: col, Ascending: ord.Ascending}.String())
	}
	if len(clauses) == 0 {
		return fallback
	}
	return strings.Join(clauses, ", ")
}
