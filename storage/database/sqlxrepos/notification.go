package sqlxrepos

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/pkg/errors"
	"github.com/volatiletech/null/v8"

	"github.com/trezcool/capstone/core"
	"github.com/trezcool/capstone/core/notification"
)

const notificationColumns = `n.id, n.kind, n.address_kind, n.address, n.subject_id, n.status, n.title, n.message,
	n.comment, n.reviewed_by, n.is_read, n.is_deleted, n.created_at, n.updated_at`

// visibleClause selects the records visible to a recipient. Args: email, role, email.
const visibleClause = `(
	(n.address_kind = 'direct' AND n.address = ? AND NOT n.is_deleted)
	OR (n.address_kind = 'broadcast' AND n.address = ? AND NOT EXISTS (
		SELECT 1 FROM notification_receipts r
		WHERE r.notification_id = n.id AND r.recipient = ? AND r.deleted_at IS NOT NULL))
)`

type notificationRow struct {
	ID          string      `db:"id"`
	Kind        string      `db:"kind"`
	AddressKind string      `db:"address_kind"`
	Address     string      `db:"address"`
	SubjectID   string      `db:"subject_id"`
	Status      string      `db:"status"`
	Title       string      `db:"title"`
	Message     string      `db:"message"`
	Comment     null.String `db:"comment"`
	ReviewedBy  null.String `db:"reviewed_by"`
	IsRead      bool        `db:"is_read"`
	IsDeleted   bool        `db:"is_deleted"`
	CreatedAt   time.Time   `db:"created_at"`
	UpdatedAt   time.Time   `db:"updated_at"`
}

func (row notificationRow) unwrap() notification.Notification {
	return notification.Notification{
		ID:      row.ID,
		Kind:    notification.Kind(row.Kind),
		Address: notification.Address{Kind: notification.AddressKind(row.AddressKind), Value: row.Address},
		Payload: notification.Payload{
			Title:      row.Title,
			Message:    row.Message,
			SubjectID:  row.SubjectID,
			Status:     row.Status,
			Comment:    row.Comment.String,
			ReviewedBy: row.ReviewedBy.String,
		},
		Read:      row.IsRead,
		Deleted:   row.IsDeleted,
		CreatedAt: row.CreatedAt.UTC(),
		UpdatedAt: row.UpdatedAt.UTC(),
	}
}

type receiptRow struct {
	NotificationID string    `db:"notification_id"`
	Recipient      string    `db:"recipient"`
	ReadAt         null.Time `db:"read_at"`
	DeletedAt      null.Time `db:"deleted_at"`
}

type notificationRepository struct {
	repo
}

var _ notification.Repository = (*notificationRepository)(nil) // interface compliance check

func NewNotificationRepository(db core.DB) *notificationRepository {
	return &notificationRepository{repo{db: db}}
}

func kindStrings(kinds []notification.Kind) []string {
	ks := make([]string, 0, len(kinds))
	for _, k := range kinds {
		ks = append(ks, string(k))
	}
	return ks
}

// UpsertIfUnread is one conditional statement backed by the partial unique index on open records.
// A fresh Broadcast record supersedes the closed ones of its key, in the same transaction.
func (r notificationRepository) UpsertIfUnread(ctx context.Context, key notification.DedupKey, payload notification.Payload) (notification.Notification, error) {
	var n notification.Notification
	err := r.withTx(ctx, func(tx *sqlx.Tx) error {
		now := time.Now().UTC()
		var id string
		err := tx.GetContext(ctx, &id, r.rebind(`
			INSERT INTO notifications (id, kind, address_kind, address, subject_id, status, title, message,
				comment, reviewed_by, is_read, is_deleted, is_open, created_at, updated_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, FALSE, FALSE, TRUE, ?, ?)
			ON CONFLICT (subject_id, kind, status, address_kind, address) WHERE is_open
			DO UPDATE SET title = excluded.title, message = excluded.message, comment = excluded.comment,
				reviewed_by = excluded.reviewed_by, created_at = excluded.created_at, updated_at = excluded.updated_at
			RETURNING id`),
			uuid.New().String(), string(key.Kind), string(key.Address.Kind), key.Address.Value, key.SubjectID, key.Status,
			payload.Title, payload.Message,
			null.NewString(payload.Comment, payload.Comment != ""), null.NewString(payload.ReviewedBy, payload.ReviewedBy != ""),
			now, now,
		)
		if err != nil {
			return errors.Wrap(err, "upserting notification")
		}

		if key.Address.IsBroadcast() {
			_, err = tx.ExecContext(ctx, r.rebind(`
				UPDATE notifications SET is_read = TRUE, updated_at = ?
				WHERE subject_id = ? AND kind = ? AND status = ? AND address_kind = ? AND address = ?
					AND NOT is_open AND NOT is_read AND id <> ?`),
				now, key.SubjectID, string(key.Kind), key.Status, string(key.Address.Kind), key.Address.Value, id,
			)
			if err != nil {
				return errors.Wrap(err, "superseding broadcast notifications")
			}
		}

		n, err = r.get(ctx, tx, id)
		return err
	})
	if err != nil {
		return notification.Notification{}, err
	}
	return n, nil
}

func (r notificationRepository) Get(ctx context.Context, id string) (notification.Notification, error) {
	return r.get(ctx, r.db, id)
}

func (r notificationRepository) get(ctx context.Context, exec core.DBExecutor, id string) (notification.Notification, error) {
	var row notificationRow
	err := exec.GetContext(ctx, &row, r.rebind(`SELECT `+notificationColumns+` FROM notifications n WHERE n.id = ?`), id)
	if err != nil {
		return notification.Notification{}, trapNoRowsErr(err, notification.ErrNotFound, "selecting notification")
	}
	ns, err := r.withReceipts(ctx, exec, []notificationRow{row})
	if err != nil {
		return notification.Notification{}, err
	}
	return ns[0], nil
}

// withReceipts loads the readBy/deletedBy sets of broadcast records.
func (r notificationRepository) withReceipts(ctx context.Context, exec core.DBExecutor, rows []notificationRow) ([]notification.Notification, error) {
	ns := make([]notification.Notification, 0, len(rows))
	idx := make(map[string]int)
	var ids []string
	for i, row := range rows {
		ns = append(ns, row.unwrap())
		if row.AddressKind == string(notification.AddressBroadcast) {
			idx[row.ID] = i
			ids = append(ids, row.ID)
		}
	}
	if len(ids) == 0 {
		return ns, nil
	}

	q, args, err := r.in(`
		SELECT notification_id, recipient, read_at, deleted_at FROM notification_receipts
		WHERE notification_id IN (?) ORDER BY recipient`, ids)
	if err != nil {
		return nil, err
	}
	var receipts []receiptRow
	if err = exec.SelectContext(ctx, &receipts, q, args...); err != nil {
		return nil, errors.Wrap(err, "selecting notification receipts")
	}
	for _, rc := range receipts {
		n := &ns[idx[rc.NotificationID]]
		if rc.ReadAt.Valid {
			n.ReadBy = append(n.ReadBy, rc.Recipient)
		}
		if rc.DeletedAt.Valid {
			n.DeletedBy = append(n.DeletedBy, rc.Recipient)
		}
	}
	return ns, nil
}

func (r notificationRepository) ListVisible(ctx context.Context, recipient core.Identity, kinds []notification.Kind) ([]notification.Notification, error) {
	return r.listVisible(ctx, r.db, recipient, kinds)
}

func (r notificationRepository) listVisible(ctx context.Context, exec core.DBExecutor, recipient core.Identity, kinds []notification.Kind) ([]notification.Notification, error) {
	if len(kinds) == 0 {
		return []notification.Notification{}, nil
	}
	q, args, err := r.in(`
		SELECT `+notificationColumns+` FROM notifications n
		WHERE `+visibleClause+` AND n.kind IN (?)
		ORDER BY n.created_at DESC, n.id DESC`,
		recipient.Email, string(recipient.Role), recipient.Email, kindStrings(kinds),
	)
	if err != nil {
		return nil, err
	}
	var rows []notificationRow
	if err = exec.SelectContext(ctx, &rows, q, args...); err != nil {
		return nil, errors.Wrap(err, "selecting visible notifications")
	}
	return r.withReceipts(ctx, exec, rows)
}

// closeRecord stops dedup from updating an acknowledged record.
func (r notificationRepository) closeRecord(ctx context.Context, exec core.DBExecutor, id string) error {
	_, err := exec.ExecContext(ctx, r.rebind(`UPDATE notifications SET is_open = FALSE WHERE id = ?`), id)
	return errors.Wrap(err, "closing notification")
}

func (r notificationRepository) markBroadcastRead(ctx context.Context, exec core.DBExecutor, id, recipient string, at time.Time) error {
	_, err := exec.ExecContext(ctx, r.rebind(`
		INSERT INTO notification_receipts (notification_id, recipient, read_at) VALUES (?, ?, ?)
		ON CONFLICT (notification_id, recipient)
		DO UPDATE SET read_at = COALESCE(notification_receipts.read_at, excluded.read_at)`),
		id, recipient, at,
	)
	if err != nil {
		return errors.Wrap(err, "upserting read receipt")
	}
	return r.closeRecord(ctx, exec, id)
}

func (r notificationRepository) MarkRead(ctx context.Context, id string, recipient core.Identity) (notification.Notification, error) {
	var n notification.Notification
	err := r.withTx(ctx, func(tx *sqlx.Tx) error {
		current, err := r.get(ctx, tx, id)
		if err != nil {
			return err
		}
		if !current.Address.Matches(recipient) {
			return notification.ErrNotFound
		}

		now := time.Now().UTC()
		if current.Address.IsDirect() {
			_, err = tx.ExecContext(ctx, r.rebind(`
				UPDATE notifications SET is_read = TRUE, is_open = FALSE, updated_at = ?
				WHERE id = ? AND NOT is_read`), now, id)
			if err != nil {
				return errors.Wrap(err, "marking notification read")
			}
		} else if err = r.markBroadcastRead(ctx, tx, id, recipient.Email, now); err != nil {
			return err
		}

		n, err = r.get(ctx, tx, id)
		return err
	})
	if err != nil {
		return notification.Notification{}, err
	}
	return n, nil
}

func (r notificationRepository) MarkAllRead(ctx context.Context, recipient core.Identity, kinds []notification.Kind) ([]notification.Notification, error) {
	var ns []notification.Notification
	err := r.withTx(ctx, func(tx *sqlx.Tx) error {
		visible, err := r.listVisible(ctx, tx, recipient, kinds)
		if err != nil {
			return err
		}

		now := time.Now().UTC()
		for _, n := range visible {
			if !n.IsUnreadFor(recipient) {
				continue
			}
			if n.Address.IsDirect() {
				_, err = tx.ExecContext(ctx, r.rebind(`
					UPDATE notifications SET is_read = TRUE, is_open = FALSE, updated_at = ? WHERE id = ?`), now, n.ID)
				if err != nil {
					return errors.Wrap(err, "marking notification read")
				}
			} else if err = r.markBroadcastRead(ctx, tx, n.ID, recipient.Email, now); err != nil {
				return err
			}
		}

		ns, err = r.listVisible(ctx, tx, recipient, kinds)
		return err
	})
	if err != nil {
		return nil, err
	}
	return ns, nil
}

func (r notificationRepository) delete(ctx context.Context, exec core.DBExecutor, n notification.Notification, recipient string, at time.Time) error {
	if n.Address.IsDirect() {
		_, err := exec.ExecContext(ctx, r.rebind(`
			UPDATE notifications SET is_deleted = TRUE, is_open = FALSE, updated_at = ? WHERE id = ?`), at, n.ID)
		return errors.Wrap(err, "deleting notification")
	}
	_, err := exec.ExecContext(ctx, r.rebind(`
		INSERT INTO notification_receipts (notification_id, recipient, deleted_at) VALUES (?, ?, ?)
		ON CONFLICT (notification_id, recipient)
		DO UPDATE SET deleted_at = COALESCE(notification_receipts.deleted_at, excluded.deleted_at)`),
		n.ID, recipient, at,
	)
	if err != nil {
		return errors.Wrap(err, "upserting delete receipt")
	}
	return r.closeRecord(ctx, exec, n.ID)
}

func (r notificationRepository) Delete(ctx context.Context, id string, recipient core.Identity) error {
	return r.withTx(ctx, func(tx *sqlx.Tx) error {
		n, err := r.get(ctx, tx, id)
		if err != nil {
			return err
		}
		if !n.Address.Matches(recipient) {
			return notification.ErrNotFound
		}
		return r.delete(ctx, tx, n, recipient.Email, time.Now().UTC())
	})
}

func (r notificationRepository) DeleteAll(ctx context.Context, recipient core.Identity, kinds []notification.Kind) error {
	return r.withTx(ctx, func(tx *sqlx.Tx) error {
		visible, err := r.listVisible(ctx, tx, recipient, kinds)
		if err != nil {
			return err
		}
		now := time.Now().UTC()
		for _, n := range visible {
			if err = r.delete(ctx, tx, n, recipient.Email, now); err != nil {
				return err
			}
		}
		return nil
	})
}
