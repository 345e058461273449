package notification

import (
	"context"
	"errors"

	"github.com/trezcool/capstone/core"
)

var ErrNotFound = errors.New("notification not found")

type (
	Repository interface {
		// UpsertIfUnread atomically updates the open record matching `key` (refreshing its payload & createdAt)
		// or inserts a new one. payload.SubjectID & payload.Status are taken from `key`.
		UpsertIfUnread(ctx context.Context, key DedupKey, payload Payload) (Notification, error)
		Get(ctx context.Context, id string) (Notification, error)
		// ListVisible returns the records visible to `recipient` restricted to `kinds`, newest first.
		ListVisible(ctx context.Context, recipient core.Identity, kinds []Kind) ([]Notification, error)
		MarkRead(ctx context.Context, id string, recipient core.Identity) (Notification, error)
		// MarkAllRead atomically marks every visible record as read and returns the visible set.
		MarkAllRead(ctx context.Context, recipient core.Identity, kinds []Kind) ([]Notification, error)
		Delete(ctx context.Context, id string, recipient core.Identity) error
		DeleteAll(ctx context.Context, recipient core.Identity, kinds []Kind) error
	}

	// Service is the recipient-facing side of the notification store.
	Service interface {
		List(ctx context.Context, recipient core.Identity, kinds ...Kind) (Listing, error)
		MarkRead(ctx context.Context, id string, recipient core.Identity) (View, error)
		MarkAllRead(ctx context.Context, recipient core.Identity) (Listing, error)
		Delete(ctx context.Context, id string, recipient core.Identity) error
		DeleteAll(ctx context.Context, recipient core.Identity) error
		UnreadCount(ctx context.Context, recipient core.Identity) (int, error)
	}

	service struct {
		repo Repository
	}
)

var _ Service = (*service)(nil)

func NewService(repo Repository) Service {
	return &service{repo: repo}
}

func (svc *service) List(ctx context.Context, recipient core.Identity, kinds ...Kind) (Listing, error) {
	allowed := KindsFor(recipient.Role, kinds...)
	if len(allowed) == 0 {
		return NewListing(recipient, nil), nil
	}
	ns, err := svc.repo.ListVisible(ctx, recipient, allowed)
	if err != nil {
		return Listing{}, err
	}
	return NewListing(recipient, ns), nil
}

func (svc *service) UnreadCount(ctx context.Context, recipient core.Identity) (int, error) {
	lst, err := svc.List(ctx, recipient)
	if err != nil {
		return 0, err
	}
	return lst.Unread, nil
}

// getVisible hides records of kinds the recipient's role may not see.
func (svc *service) getVisible(ctx context.Context, id string, recipient core.Identity) (Notification, error) {
	n, err := svc.repo.Get(ctx, id)
	if err != nil {
		return Notification{}, err
	}
	if !n.IsVisibleTo(recipient) {
		return Notification{}, ErrNotFound
	}
	return n, nil
}

func (svc *service) MarkRead(ctx context.Context, id string, recipient core.Identity) (View, error) {
	if _, err := svc.getVisible(ctx, id, recipient); err != nil {
		return View{}, err
	}
	n, err := svc.repo.MarkRead(ctx, id, recipient)
	if err != nil {
		return View{}, err
	}
	return n.ViewFor(recipient), nil
}

func (svc *service) MarkAllRead(ctx context.Context, recipient core.Identity) (Listing, error) {
	ns, err := svc.repo.MarkAllRead(ctx, recipient, KindsFor(recipient.Role))
	if err != nil {
		return Listing{}, err
	}
	return NewListing(recipient, ns), nil
}

func (svc *service) Delete(ctx context.Context, id string, recipient core.Identity) error {
	if _, err := svc.getVisible(ctx, id, recipient); err != nil {
		return err
	}
	return svc.repo.Delete(ctx, id, recipient)
}

func (svc *service) DeleteAll(ctx context.Context, recipient core.Identity) error {
	return svc.repo.DeleteAll(ctx, recipient, KindsFor(recipient.Role))
}
