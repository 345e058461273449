package submission_test

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/trezcool/capstone/core"
	"github.com/trezcool/capstone/core/notification"
	"github.com/trezcool/capstone/core/submission"
	inmemdb "github.com/trezcool/capstone/storage/database/inmem"
	"github.com/trezcool/capstone/tests"
)

var (
	student  = core.Identity{Email: "std@test.cd", Role: core.RoleStudent}
	student2 = core.Identity{Email: "std2@test.cd", Role: core.RoleStudent}
	adviser  = core.Identity{Email: "adv@test.cd", Role: core.RoleTeacher}
	teacher2 = core.Identity{Email: "tch2@test.cd", Role: core.RoleTeacher}
	admin    = core.Identity{Email: "admin@test.cd", Role: core.RoleAdmin}
)

type routerMock struct {
	mu     sync.Mutex
	events []notification.Event
}

func (r *routerMock) Route(_ context.Context, ev notification.Event) []notification.Notification {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
	return nil
}

func (r *routerMock) Events() []notification.Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]notification.Event(nil), r.events...)
}

func (r *routerMock) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = nil
}

func setup() (submission.Service, submission.Repository, *routerMock) {
	repo := inmemdb.NewSubmissionRepository(inmemdb.Open())
	router := new(routerMock)
	return submission.NewService(repo, router), repo, router
}

func TestService_Submit(t *testing.T) {
	svc, _, router := setup()
	ctx := context.Background()
	ns := submission.NewSubmission{Title: "Thesis", DocumentURL: "https://docs.test.cd/t.pdf", AdviserEmail: adviser.Email}

	for _, actor := range []core.Identity{adviser, admin} {
		_, err := svc.Submit(ctx, actor, ns)
		assert.Equal(t, submission.ErrForbidden, err)
	}
	assert.Empty(t, router.Events())

	sub, err := svc.Submit(ctx, student, ns)
	require.NoError(t, err)
	assert.Equal(t, submission.StatusPending, sub.Status)
	assert.Equal(t, student.Email, sub.StudentEmail)
	assert.Equal(t, 1, sub.Version)

	events := router.Events()
	require.Len(t, events, 1)
	assert.Equal(t, notification.KindSubmission, events[0].Kind)
	assert.Equal(t, sub.ID, events[0].SubjectID)
	assert.Equal(t, adviser.Email, events[0].Adviser)
}

func TestService_Transition_table(t *testing.T) {
	svc, repo, router := setup()
	ctx := context.Background()

	for _, from := range submission.Statuses {
		for _, to := range submission.Statuses {
			name := fmt.Sprintf("%s -> %s", from, to)
			t.Run(name, func(t *testing.T) {
				router.Reset()
				sub := testutil.CreateSubmission(t, repo, name, student.Email, adviser.Email, from)

				updated, err := svc.Transition(ctx, adviser, sub.ID, to, "noted")
				history, herr := repo.History(ctx, sub.ID)
				require.NoError(t, herr)

				if !from.CanTransition(to) {
					assert.Equal(t, submission.ErrInvalidTransition, err)
					assert.Empty(t, router.Events(), "rejected transitions emit nothing")
					assert.Empty(t, history)

					stored, err := repo.GetByID(ctx, sub.ID)
					require.NoError(t, err)
					assert.Equal(t, from, stored.Status)
					return
				}

				require.NoError(t, err)
				assert.Equal(t, to, updated.Status)
				assert.Equal(t, "noted", updated.Comment)
				assert.Equal(t, adviser.Email, updated.ReviewedBy)
				assert.Equal(t, sub.Version+1, updated.Version)

				require.Len(t, history, 1)
				assert.Equal(t, from, history[0].From)
				assert.Equal(t, to, history[0].To)
				assert.Equal(t, core.RoleTeacher, history[0].ActorRole)

				events := router.Events()
				require.Len(t, events, 1, "exactly one event per transition")
				assert.Equal(t, notification.KindStatusUpdate, events[0].Kind)
				assert.Equal(t, string(to), events[0].Status)
				assert.Equal(t, adviser, events[0].Actor)
			})
		}
	}
}

func TestService_Transition_checks(t *testing.T) {
	svc, repo, router := setup()
	ctx := context.Background()
	pending := testutil.CreateSubmission(t, repo, "Pending", student.Email, adviser.Email, submission.StatusPending)
	approved := testutil.CreateSubmission(t, repo, "Approved", student.Email, adviser.Email, submission.StatusApproved)

	tests := []struct {
		name    string
		actor   core.Identity
		id      string
		target  submission.Status
		wantErr error
	}{
		{name: "unknown submission", actor: adviser, id: "unknown", target: submission.StatusApproved, wantErr: submission.ErrNotFound},
		{name: "owning student", actor: student, id: pending.ID, target: submission.StatusApproved, wantErr: submission.ErrForbidden},
		{name: "other student", actor: student2, id: pending.ID, target: submission.StatusApproved, wantErr: submission.ErrForbidden},
		{name: "other teacher", actor: teacher2, id: pending.ID, target: submission.StatusRevision, wantErr: submission.ErrForbidden},
		{name: "forbidden wins over invalid", actor: teacher2, id: approved.ID, target: submission.StatusPending, wantErr: submission.ErrForbidden},
		{name: "terminal status", actor: admin, id: approved.ID, target: submission.StatusRejected, wantErr: submission.ErrInvalidTransition},
		{name: "same status", actor: admin, id: pending.ID, target: submission.StatusPending, wantErr: submission.ErrInvalidTransition},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := svc.Transition(ctx, tt.actor, tt.id, tt.target, "")
			assert.Equal(t, tt.wantErr, err)
		})
	}
	assert.Empty(t, router.Events(), "failed transitions emit nothing")

	t.Run("admin may review any submission", func(t *testing.T) {
		updated, err := svc.Transition(ctx, admin, pending.ID, submission.StatusApproved, "")
		require.NoError(t, err)
		assert.Equal(t, submission.StatusApproved, updated.Status)
		assert.Len(t, router.Events(), 1)
	})
}

func TestService_Transition_forbiddenStoresNothing(t *testing.T) {
	db := inmemdb.Open()
	repo := inmemdb.NewSubmissionRepository(db)
	notifRepo := inmemdb.NewNotificationRepository(db)
	router := notification.NewRouter(notification.RouterOptions{Repo: notifRepo, Logger: testutil.NewLogger()})
	svc := submission.NewService(repo, router)
	ctx := context.Background()

	sub := testutil.CreateSubmission(t, repo, "Thesis", student.Email, adviser.Email, submission.StatusPending)
	_, err := svc.Transition(ctx, teacher2, sub.ID, submission.StatusApproved, "")
	require.Equal(t, submission.ErrForbidden, err)

	for _, id := range []core.Identity{student, adviser, teacher2, admin} {
		ns, err := notifRepo.ListVisible(ctx, id, notification.KindsFor(id.Role))
		require.NoError(t, err)
		assert.Empty(t, ns, id.Email)
	}
}

func TestService_Transition_concurrent(t *testing.T) {
	svc, repo, router := setup()
	ctx := context.Background()
	sub := testutil.CreateSubmission(t, repo, "Thesis", student.Email, adviser.Email, submission.StatusPending)

	targets := []submission.Status{submission.StatusApproved, submission.StatusRejected}
	const workers = 10

	var wg sync.WaitGroup
	errs := make(chan error, workers)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(target submission.Status) {
			defer wg.Done()
			_, err := svc.Transition(ctx, adviser, sub.ID, target, "")
			errs <- err
		}(targets[i%len(targets)])
	}
	wg.Wait()
	close(errs)

	wins := 0
	for err := range errs {
		if err == nil {
			wins++
			continue
		}
		// losers re-read a terminal status
		assert.Equal(t, submission.ErrInvalidTransition, err)
	}
	assert.Equal(t, 1, wins)
	assert.Len(t, router.Events(), 1, "one winner, one event")

	history, err := repo.History(ctx, sub.ID)
	require.NoError(t, err)
	assert.Len(t, history, 1)
}

// conflictingRepo loses every compare-and-set.
type conflictingRepo struct {
	submission.Repository
	err   error
	calls int
}

func (r *conflictingRepo) UpdateStatus(context.Context, submission.Submission, submission.HistoryEntry) (submission.Submission, error) {
	r.calls++
	return submission.Submission{}, r.err
}

func TestService_Transition_storeFailures(t *testing.T) {
	inner := inmemdb.NewSubmissionRepository(inmemdb.Open())
	sub := testutil.CreateSubmission(t, inner, "Thesis", student.Email, adviser.Email, submission.StatusPending)
	ctx := context.Background()

	t.Run("endless conflicts", func(t *testing.T) {
		repo := &conflictingRepo{Repository: inner, err: submission.ErrConflict}
		router := new(routerMock)
		_, err := submission.NewService(repo, router).Transition(ctx, adviser, sub.ID, submission.StatusApproved, "")
		assert.Equal(t, submission.ErrConflict, err)
		assert.Equal(t, 5, repo.calls)
		assert.Empty(t, router.Events())
	})

	t.Run("write failure", func(t *testing.T) {
		repo := &conflictingRepo{Repository: inner, err: errors.New("disk full")}
		router := new(routerMock)
		_, err := submission.NewService(repo, router).Transition(ctx, adviser, sub.ID, submission.StatusApproved, "")
		require.Error(t, err)
		assert.True(t, core.IsPersistence(err))
		assert.Equal(t, 1, repo.calls)
		assert.Empty(t, router.Events())
	})

	stored, err := inner.GetByID(ctx, sub.ID)
	require.NoError(t, err)
	assert.Equal(t, submission.StatusPending, stored.Status)
}

func TestService_Reopen(t *testing.T) {
	svc, repo, router := setup()
	ctx := context.Background()
	approved := testutil.CreateSubmission(t, repo, "Approved", student.Email, adviser.Email, submission.StatusApproved)
	pending := testutil.CreateSubmission(t, repo, "Pending", student.Email, adviser.Email, submission.StatusPending)

	_, err := svc.Reopen(ctx, adviser, approved.ID, "")
	assert.Equal(t, submission.ErrForbidden, err)
	_, err = svc.Reopen(ctx, admin, pending.ID, "")
	assert.Equal(t, submission.ErrInvalidTransition, err)
	assert.Empty(t, router.Events())

	reopened, err := svc.Reopen(ctx, admin, approved.ID, "appeal granted")
	require.NoError(t, err)
	assert.Equal(t, submission.StatusPending, reopened.Status)
	assert.Equal(t, "appeal granted", reopened.Comment)

	events := router.Events()
	require.Len(t, events, 1)
	assert.Equal(t, notification.KindStatusUpdate, events[0].Kind)
	assert.Equal(t, string(submission.StatusPending), events[0].Status)
}

func TestService_Resubmit(t *testing.T) {
	svc, repo, router := setup()
	ctx := context.Background()
	revision := testutil.CreateSubmission(t, repo, "Revision", student.Email, adviser.Email, submission.StatusRevision)
	pending := testutil.CreateSubmission(t, repo, "Pending", student.Email, adviser.Email, submission.StatusPending)
	rr := submission.ResubmitRequest{DocumentURL: "https://docs.test.cd/v2.pdf", Note: "fixed chapter 3"}

	_, err := svc.Resubmit(ctx, student2, revision.ID, rr)
	assert.Equal(t, submission.ErrForbidden, err)
	_, err = svc.Resubmit(ctx, adviser, revision.ID, rr)
	assert.Equal(t, submission.ErrForbidden, err)
	_, err = svc.Resubmit(ctx, student, pending.ID, rr)
	assert.Equal(t, submission.ErrInvalidTransition, err)
	assert.Empty(t, router.Events())

	sub, err := svc.Resubmit(ctx, student, revision.ID, rr)
	require.NoError(t, err)
	assert.Equal(t, submission.StatusPending, sub.Status)
	assert.Equal(t, rr.DocumentURL, sub.DocumentURL)

	events := router.Events()
	require.Len(t, events, 1)
	assert.Equal(t, notification.KindReviewUpdate, events[0].Kind)
	assert.Equal(t, "fixed chapter 3", events[0].Comment)
}

func TestService_Resubmit_keepsReviewer(t *testing.T) {
	svc, repo, _ := setup()
	ctx := context.Background()
	sub := testutil.CreateSubmission(t, repo, "Thesis", student.Email, adviser.Email, submission.StatusPending)

	revised, err := svc.Transition(ctx, adviser, sub.ID, submission.StatusRevision, "more data")
	require.NoError(t, err)
	require.Equal(t, adviser.Email, revised.ReviewedBy)

	resubmitted, err := svc.Resubmit(ctx, student, sub.ID, submission.ResubmitRequest{DocumentURL: "https://docs.test.cd/v2.pdf"})
	require.NoError(t, err)
	assert.Equal(t, adviser.Email, resubmitted.ReviewedBy)

	stored, err := repo.GetByID(ctx, sub.ID)
	require.NoError(t, err)
	assert.Equal(t, adviser.Email, stored.ReviewedBy)

	history, err := repo.History(ctx, sub.ID)
	require.NoError(t, err)
	require.Len(t, history, 2)
	assert.Equal(t, student.Email, history[1].Actor, "the resubmission is still attributed to the student")
}

func TestService_Comment(t *testing.T) {
	svc, repo, router := setup()
	ctx := context.Background()
	sub := testutil.CreateSubmission(t, repo, "Thesis", student.Email, adviser.Email, submission.StatusPending)

	_, err := svc.Comment(ctx, teacher2, sub.ID, "meh")
	assert.Equal(t, submission.ErrForbidden, err)
	_, err = svc.Comment(ctx, adviser, "unknown", "meh")
	assert.Equal(t, submission.ErrNotFound, err)
	assert.Empty(t, router.Events())

	same, err := svc.Comment(ctx, adviser, sub.ID, "check the references")
	require.NoError(t, err)
	assert.Equal(t, submission.StatusPending, same.Status, "comments do not change the status")

	events := router.Events()
	require.Len(t, events, 1)
	assert.Equal(t, notification.KindFeedback, events[0].Kind)
	assert.Equal(t, "check the references", events[0].Comment)
}

func TestService_GetAndQuery(t *testing.T) {
	svc, repo, _ := setup()
	ctx := context.Background()
	mine := testutil.CreateSubmission(t, repo, "Mine", student.Email, adviser.Email, submission.StatusPending)
	theirs := testutil.CreateSubmission(t, repo, "Theirs", student2.Email, teacher2.Email, submission.StatusPending)

	_, err := svc.Get(ctx, student, theirs.ID)
	assert.Equal(t, submission.ErrNotFound, err, "hidden submissions are not found")
	got, err := svc.Get(ctx, adviser, mine.ID)
	require.NoError(t, err)
	assert.Equal(t, mine.ID, got.ID)

	subs, err := svc.Query(ctx, student, submission.QueryFilter{StudentEmail: student2.Email}, nil)
	require.NoError(t, err)
	require.Len(t, subs, 1)
	assert.Equal(t, mine.ID, subs[0].ID, "students are scoped to their own submissions")

	subs, err = svc.Query(ctx, admin, submission.QueryFilter{}, nil)
	require.NoError(t, err)
	assert.Len(t, subs, 2)

	_, err = svc.History(ctx, teacher2, mine.ID)
	assert.Equal(t, submission.ErrNotFound, err)
}
