package user

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/trezcool/capstone/core"
	"github.com/trezcool/capstone/core/notification"
)

var (
	// errors
	ErrNotFound       = errors.New("account not found")
	ErrEmailExists    = errors.New("an account with this email already exists")
	ErrForbidden      = errors.New("permission denied")
	ErrAlreadyDecided = errors.New("account has already been reviewed")
)

const defaultReminderMessage = "Please complete your profile so your adviser can review your capstone."

type (
	Repository interface {
		CheckEmailUniqueness(ctx context.Context, email string) error
		Create(ctx context.Context, acc Account) (Account, error)
		GetByID(ctx context.Context, id string) (Account, error)
		GetByEmail(ctx context.Context, email string) (Account, error)
		Query(ctx context.Context, filter QueryFilter) ([]Account, error)
		// UpdateStatus sets the status of a pending account only.
		UpdateStatus(ctx context.Context, id string, status Status, reviewedBy string, at time.Time) (Account, error)
	}

	EventRouter interface {
		Route(ctx context.Context, ev notification.Event) []notification.Notification
	}

	Service interface {
		CheckUniqueness(email string) error
		Register(ctx context.Context, na NewAccount) (Account, error)
		GetByID(ctx context.Context, id string) (Account, error)
		GetByEmail(ctx context.Context, email string) (Account, error)
		Query(ctx context.Context, actor core.Identity, filter QueryFilter) ([]Account, error)
		Decide(ctx context.Context, actor core.Identity, id string, status Status) (Account, error)
		Remind(ctx context.Context, actor core.Identity, rr ReminderRequest) ([]notification.Notification, error)
	}

	service struct {
		repo   Repository
		router EventRouter
	}
)

var _ Service = (*service)(nil)

func NewService(repo Repository, router EventRouter) Service {
	return &service{repo: repo, router: router}
}

func (svc *service) CheckUniqueness(email string) error {
	if err := svc.repo.CheckEmailUniqueness(context.Background(), email); err != nil {
		if err == ErrEmailExists {
			return core.NewValidationError(err, core.FieldError{Field: "email", Error: err.Error()})
		}
		return err
	}
	return nil
}

// Register stores a pending account and announces it to the admins.
func (svc *service) Register(ctx context.Context, na NewAccount) (Account, error) {
	now := time.Now().UTC()
	acc, err := svc.repo.Create(ctx, Account{
		ID:        uuid.New().String(),
		Name:      na.Name,
		Email:     na.Email,
		Role:      na.Role,
		Status:    StatusPending,
		CreatedAt: now,
		UpdatedAt: now,
	})
	if err != nil {
		return Account{}, core.NewPersistenceError("creating account", err)
	}

	svc.router.Route(ctx, notification.Event{
		Kind:      notification.KindAdminEvent,
		Subject:   notification.SubjectAccount,
		SubjectID: acc.ID,
		Status:    string(acc.Status),
		Title:     "New account registration",
		Message:   fmt.Sprintf("%s (%s) registered as %s and awaits approval.", acc.Name, acc.Email, acc.Role),
		Actor:     acc.Identity(),
		Recipient: acc.Email,
	})
	return acc, nil
}

func (svc *service) GetByID(ctx context.Context, id string) (Account, error) {
	return svc.repo.GetByID(ctx, id)
}

func (svc *service) GetByEmail(ctx context.Context, email string) (Account, error) {
	return svc.repo.GetByEmail(ctx, core.CleanString(email, true /* lower */))
}

func (svc *service) Query(ctx context.Context, actor core.Identity, filter QueryFilter) ([]Account, error) {
	if !actor.IsAdmin() {
		return nil, ErrForbidden
	}
	filter.Clean()
	return svc.repo.Query(ctx, filter)
}

// Decide approves or rejects a pending account and notifies its holder.
func (svc *service) Decide(ctx context.Context, actor core.Identity, id string, status Status) (Account, error) {
	if !actor.IsAdmin() {
		return Account{}, ErrForbidden
	}
	acc, err := svc.repo.UpdateStatus(ctx, id, status, actor.Email, time.Now().UTC())
	if err != nil {
		return Account{}, err
	}

	msg := "Your account has been approved. You can now sign in."
	if status == StatusRejected {
		msg = "Your account registration has been rejected. Contact the administration for details."
	}
	svc.router.Route(ctx, notification.Event{
		Kind:      notification.KindStatusUpdate,
		Subject:   notification.SubjectAccount,
		SubjectID: acc.ID,
		Status:    string(acc.Status),
		Title:     "Account " + string(acc.Status),
		Message:   msg,
		Actor:     actor,
		Recipient: acc.Email,
	})
	return acc, nil
}

// Remind sends a profile reminder to a single account holder.
func (svc *service) Remind(ctx context.Context, actor core.Identity, rr ReminderRequest) ([]notification.Notification, error) {
	if !actor.IsAdmin() {
		return nil, ErrForbidden
	}
	acc, err := svc.GetByEmail(ctx, rr.Email)
	if err != nil {
		return nil, err
	}
	msg := rr.Message
	if msg == "" {
		msg = defaultReminderMessage
	}
	return svc.router.Route(ctx, notification.Event{
		Kind:      notification.KindProfileReminder,
		Subject:   notification.SubjectAccount,
		SubjectID: acc.ID,
		Title:     "Complete your profile",
		Message:   msg,
		Actor:     actor,
		Recipient: acc.Email,
	}), nil
}
