package submission

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	pkgerrors "github.com/pkg/errors"

	"github.com/trezcool/capstone/core"
	"github.com/trezcool/capstone/core/notification"
)

var (
	// errors
	ErrNotFound          = errors.New("submission not found")
	ErrForbidden         = errors.New("permission denied")
	ErrInvalidTransition = errors.New("invalid status transition")
	// ErrConflict is returned by Repository.UpdateStatus when the stored version moved on.
	ErrConflict = errors.New("submission was modified concurrently")
)

// maxCASAttempts bounds the re-read/re-validate loop of a contended transition.
const maxCASAttempts = 5

type (
	Repository interface {
		Create(ctx context.Context, sub Submission) (Submission, error)
		GetByID(ctx context.Context, id string) (Submission, error)
		Query(ctx context.Context, filter QueryFilter, ordering []core.DBOrdering) ([]Submission, error)
		// UpdateStatus persists `sub` (status, comment, reviewer, document) if the stored version
		// still equals sub.Version, bumps the version & appends `entry` to the history as one unit.
		UpdateStatus(ctx context.Context, sub Submission, entry HistoryEntry) (Submission, error)
		History(ctx context.Context, id string) ([]HistoryEntry, error)
	}

	// EventRouter is the fan-out side of transitions.
	EventRouter interface {
		Route(ctx context.Context, ev notification.Event) []notification.Notification
	}

	Service interface {
		Submit(ctx context.Context, actor core.Identity, ns NewSubmission) (Submission, error)
		Get(ctx context.Context, actor core.Identity, id string) (Submission, error)
		Query(ctx context.Context, actor core.Identity, filter QueryFilter, ordering []core.DBOrdering) ([]Submission, error)
		History(ctx context.Context, actor core.Identity, id string) ([]HistoryEntry, error)
		Transition(ctx context.Context, actor core.Identity, id string, target Status, comment string) (Submission, error)
		Reopen(ctx context.Context, actor core.Identity, id string, comment string) (Submission, error)
		Resubmit(ctx context.Context, actor core.Identity, id string, rr ResubmitRequest) (Submission, error)
		Comment(ctx context.Context, actor core.Identity, id string, comment string) (Submission, error)
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

func (svc *service) Submit(ctx context.Context, actor core.Identity, ns NewSubmission) (Submission, error) {
	if !actor.IsStudent() {
		return Submission{}, ErrForbidden
	}
	now := time.Now().UTC()
	sub, err := svc.repo.Create(ctx, Submission{
		ID:           uuid.New().String(),
		Title:        ns.Title,
		DocumentURL:  ns.DocumentURL,
		StudentEmail: actor.Email,
		AdviserEmail: ns.AdviserEmail,
		Status:       StatusPending,
		Version:      1,
		CreatedAt:    now,
		UpdatedAt:    now,
	})
	if err != nil {
		return Submission{}, core.NewPersistenceError("creating submission", err)
	}

	svc.router.Route(ctx, notification.Event{
		Kind:      notification.KindSubmission,
		Subject:   notification.SubjectSubmission,
		SubjectID: sub.ID,
		Status:    string(sub.Status),
		Title:     "New capstone submission",
		Message:   fmt.Sprintf("%s submitted %q for review.", sub.StudentEmail, sub.Title),
		Actor:     actor,
		Student:   sub.StudentEmail,
		Adviser:   sub.AdviserEmail,
	})
	return sub, nil
}

func (svc *service) Get(ctx context.Context, actor core.Identity, id string) (Submission, error) {
	sub, err := svc.repo.GetByID(ctx, id)
	if err != nil {
		return Submission{}, err
	}
	if !sub.CanView(actor) {
		return Submission{}, ErrNotFound
	}
	return sub, nil
}

func (svc *service) Query(ctx context.Context, actor core.Identity, filter QueryFilter, ordering []core.DBOrdering) ([]Submission, error) {
	filter.Clean()
	filter.Scope(actor)
	return svc.repo.Query(ctx, filter, ordering)
}

func (svc *service) History(ctx context.Context, actor core.Identity, id string) ([]HistoryEntry, error) {
	if _, err := svc.Get(ctx, actor, id); err != nil {
		return nil, err
	}
	return svc.repo.History(ctx, id)
}

// guard decides whether `actor` may move `sub` to `target`. Authority is checked before reachability.
type guard func(sub Submission, actor core.Identity, target Status) error

func reviewGuard(sub Submission, actor core.Identity, target Status) error {
	if !sub.CanReview(actor) {
		return ErrForbidden
	}
	if !sub.Status.CanTransition(target) {
		return ErrInvalidTransition
	}
	return nil
}

// reopenGuard is the admin-only override out of a terminal status.
func reopenGuard(sub Submission, actor core.Identity, target Status) error {
	if !actor.IsAdmin() {
		return ErrForbidden
	}
	if !sub.Status.IsTerminal() || target != StatusPending {
		return ErrInvalidTransition
	}
	return nil
}

// resubmitGuard lets the owning student send a revision back for review.
func resubmitGuard(sub Submission, actor core.Identity, target Status) error {
	if !(actor.IsStudent() && actor.Email == sub.StudentEmail) {
		return ErrForbidden
	}
	if sub.Status != StatusRevision || target != StatusPending {
		return ErrInvalidTransition
	}
	return nil
}

// apply runs the read / validate / compare-and-set loop. A loser of a concurrent race
// re-reads the submission and re-validates against the new status.
func (svc *service) apply(
	ctx context.Context,
	actor core.Identity,
	id string,
	target Status,
	check guard,
	mutate func(sub *Submission),
) (Submission, Status, error) {
	for attempt := 0; attempt < maxCASAttempts; attempt++ {
		sub, err := svc.repo.GetByID(ctx, id)
		if err != nil {
			return Submission{}, "", err
		}
		if err = check(sub, actor, target); err != nil {
			return Submission{}, "", err
		}

		from := sub.Status
		now := time.Now().UTC()
		sub.Status = target
		sub.UpdatedAt = now
		mutate(&sub)

		entry := HistoryEntry{
			ID:           uuid.New().String(),
			SubmissionID: sub.ID,
			From:         from,
			To:           target,
			Actor:        actor.Email,
			ActorRole:    actor.Role,
			Comment:      sub.Comment,
			CreatedAt:    now,
		}
		updated, err := svc.repo.UpdateStatus(ctx, sub, entry)
		if err == nil {
			return updated, from, nil
		}
		if pkgerrors.Cause(err) != ErrConflict {
			return Submission{}, "", core.NewPersistenceError("updating submission status", err)
		}
	}
	return Submission{}, "", ErrConflict
}

func (svc *service) Transition(ctx context.Context, actor core.Identity, id string, target Status, comment string) (Submission, error) {
	sub, _, err := svc.apply(ctx, actor, id, target, reviewGuard, func(sub *Submission) {
		sub.ReviewedBy = actor.Email
		sub.Comment = comment
	})
	if err != nil {
		return Submission{}, err
	}
	svc.routeStatusUpdate(ctx, actor, sub)
	return sub, nil
}

func (svc *service) Reopen(ctx context.Context, actor core.Identity, id string, comment string) (Submission, error) {
	sub, _, err := svc.apply(ctx, actor, id, StatusPending, reopenGuard, func(sub *Submission) {
		sub.ReviewedBy = actor.Email
		sub.Comment = comment
	})
	if err != nil {
		return Submission{}, err
	}
	svc.routeStatusUpdate(ctx, actor, sub)
	return sub, nil
}

func (svc *service) Resubmit(ctx context.Context, actor core.Identity, id string, rr ResubmitRequest) (Submission, error) {
	// the reviewer of the revision request stays on record
	sub, _, err := svc.apply(ctx, actor, id, StatusPending, resubmitGuard, func(sub *Submission) {
		sub.DocumentURL = rr.DocumentURL
		sub.Comment = rr.Note
	})
	if err != nil {
		return Submission{}, err
	}

	svc.router.Route(ctx, notification.Event{
		Kind:      notification.KindReviewUpdate,
		Subject:   notification.SubjectSubmission,
		SubjectID: sub.ID,
		Status:    string(sub.Status),
		Title:     "Revised submission",
		Message:   fmt.Sprintf("%s resubmitted %q after revision.", sub.StudentEmail, sub.Title),
		Comment:   rr.Note,
		Actor:     actor,
		Student:   sub.StudentEmail,
		Adviser:   sub.AdviserEmail,
	})
	return sub, nil
}

// Comment sends reviewer feedback without changing the status.
func (svc *service) Comment(ctx context.Context, actor core.Identity, id string, comment string) (Submission, error) {
	sub, err := svc.repo.GetByID(ctx, id)
	if err != nil {
		return Submission{}, err
	}
	if !sub.CanReview(actor) {
		return Submission{}, ErrForbidden
	}

	svc.router.Route(ctx, notification.Event{
		Kind:      notification.KindFeedback,
		Subject:   notification.SubjectSubmission,
		SubjectID: sub.ID,
		Status:    string(sub.Status),
		Title:     "New feedback on your submission",
		Message:   fmt.Sprintf("%s left feedback on %q.", actor.Email, sub.Title),
		Comment:   comment,
		Actor:     actor,
		Student:   sub.StudentEmail,
		Adviser:   sub.AdviserEmail,
	})
	return sub, nil
}

func (svc *service) routeStatusUpdate(ctx context.Context, actor core.Identity, sub Submission) {
	svc.router.Route(ctx, notification.Event{
		Kind:      notification.KindStatusUpdate,
		Subject:   notification.SubjectSubmission,
		SubjectID: sub.ID,
		Status:    string(sub.Status),
		Title:     "Submission " + string(sub.Status),
		Message:   fmt.Sprintf("%q is now %s.", sub.Title, sub.Status),
		Comment:   sub.Comment,
		Actor:     actor,
		Student:   sub.StudentEmail,
		Adviser:   sub.AdviserEmail,
	})
}
