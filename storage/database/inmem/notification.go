package inmemdb

import (
	"context"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/trezcool/capstone/core"
	"github.com/trezcool/capstone/core/notification"
)

type notificationRepository struct {
	db *notificationTable
}

var _ notification.Repository = (*notificationRepository)(nil) // interface compliance check

func NewNotificationRepository(db *DB) notification.Repository {
	return &notificationRepository{db: db.notification}
}

// clone detaches the returned record from the table.
func clone(n *notification.Notification) notification.Notification {
	c := *n
	c.ReadBy = append([]string(nil), n.ReadBy...)
	c.DeletedBy = append([]string(nil), n.DeletedBy...)
	return c
}

func (repo *notificationRepository) UpsertIfUnread(_ context.Context, key notification.DedupKey, payload notification.Payload) (notification.Notification, error) {
	repo.db.Lock()
	defer repo.db.Unlock()

	now := time.Now().UTC()
	payload.SubjectID = key.SubjectID
	payload.Status = key.Status

	if id, ok := repo.db.open[key]; ok {
		n := repo.db.table[id]
		n.Payload = payload
		n.CreatedAt = now
		n.UpdatedAt = now
		return clone(n), nil
	}

	n := &notification.Notification{
		ID:        uuid.New().String(),
		Kind:      key.Kind,
		Address:   key.Address,
		Payload:   payload,
		CreatedAt: now,
		UpdatedAt: now,
	}
	repo.db.table[n.ID] = n
	repo.db.open[key] = n.ID
	if key.Address.IsBroadcast() {
		repo.supersede(n)
	}
	return clone(n), nil
}

// supersede marks the older broadcast records of the key of `n` as read for everyone.
func (repo *notificationRepository) supersede(n *notification.Notification) {
	key := n.Key()
	for _, old := range repo.db.table {
		if old.ID != n.ID && !old.Read && old.Key() == key {
			old.Read = true
			old.UpdatedAt = n.CreatedAt
		}
	}
}

func (repo *notificationRepository) Get(_ context.Context, id string) (notification.Notification, error) {
	repo.db.RLock()
	defer repo.db.RUnlock()

	if n, ok := repo.db.table[id]; ok {
		return clone(n), nil
	}
	return notification.Notification{}, notification.ErrNotFound
}

func (repo *notificationRepository) visible(recipient core.Identity, kinds []notification.Kind) []*notification.Notification {
	ns := make([]*notification.Notification, 0)
	for _, n := range repo.db.table {
		if !hasKind(kinds, n.Kind) || !n.Address.Matches(recipient) {
			continue
		}
		if n.Address.IsDirect() && n.Deleted {
			continue
		}
		if n.Address.IsBroadcast() && hasString(n.DeletedBy, recipient.Email) {
			continue
		}
		ns = append(ns, n)
	}
	sort.Slice(ns, func(i, j int) bool {
		if !ns[i].CreatedAt.Equal(ns[j].CreatedAt) {
			return ns[i].CreatedAt.After(ns[j].CreatedAt)
		}
		return ns[i].ID > ns[j].ID
	})
	return ns
}

func (repo *notificationRepository) ListVisible(_ context.Context, recipient core.Identity, kinds []notification.Kind) ([]notification.Notification, error) {
	repo.db.RLock()
	defer repo.db.RUnlock()

	return clones(repo.visible(recipient, kinds)), nil
}

// acknowledge closes the record for dedup purposes.
func (repo *notificationRepository) acknowledge(n *notification.Notification) {
	key := n.Key()
	if id, ok := repo.db.open[key]; ok && id == n.ID {
		delete(repo.db.open, key)
	}
}

func (repo *notificationRepository) markRead(n *notification.Notification, recipient string, at time.Time) {
	if n.Address.IsDirect() {
		if !n.Read {
			n.Read = true
			n.UpdatedAt = at
		}
	} else if !hasString(n.ReadBy, recipient) {
		n.ReadBy = append(n.ReadBy, recipient)
	}
	repo.acknowledge(n)
}

func (repo *notificationRepository) MarkRead(_ context.Context, id string, recipient core.Identity) (notification.Notification, error) {
	repo.db.Lock()
	defer repo.db.Unlock()

	n, ok := repo.db.table[id]
	if !ok || !n.Address.Matches(recipient) {
		return notification.Notification{}, notification.ErrNotFound
	}
	repo.markRead(n, recipient.Email, time.Now().UTC())
	return clone(n), nil
}

func (repo *notificationRepository) MarkAllRead(_ context.Context, recipient core.Identity, kinds []notification.Kind) ([]notification.Notification, error) {
	repo.db.Lock()
	defer repo.db.Unlock()

	now := time.Now().UTC()
	ns := repo.visible(recipient, kinds)
	for _, n := range ns {
		if n.IsUnreadFor(recipient) {
			repo.markRead(n, recipient.Email, now)
		}
	}
	return clones(ns), nil
}

func (repo *notificationRepository) delete(n *notification.Notification, recipient string, at time.Time) {
	if n.Address.IsDirect() {
		n.Deleted = true
		n.UpdatedAt = at
	} else if !hasString(n.DeletedBy, recipient) {
		n.DeletedBy = append(n.DeletedBy, recipient)
	}
	repo.acknowledge(n)
}

func (repo *notificationRepository) Delete(_ context.Context, id string, recipient core.Identity) error {
	repo.db.Lock()
	defer repo.db.Unlock()

	n, ok := repo.db.table[id]
	if !ok || !n.Address.Matches(recipient) {
		return notification.ErrNotFound
	}
	repo.delete(n, recipient.Email, time.Now().UTC())
	return nil
}

func (repo *notificationRepository) DeleteAll(_ context.Context, recipient core.Identity, kinds []notification.Kind) error {
	repo.db.Lock()
	defer repo.db.Unlock()

	now := time.Now().UTC()
	for _, n := range repo.visible(recipient, kinds) {
		repo.delete(n, recipient.Email, now)
	}
	return nil
}

func clones(ns []*notification.Notification) []notification.Notification {
	out := make([]notification.Notification, 0, len(ns))
	for _, n := range ns {
		out = append(out, clone(n))
	}
	return out
}

func hasKind(kinds []notification.Kind, kind notification.Kind) bool {
	for _, k := range kinds {
		if k == kind {
			return true
		}
	}
	return false
}

func hasString(list []string, s string) bool {
	for _, item := range list {
		if item == s {
			return true
		}
	}
	return false
}
