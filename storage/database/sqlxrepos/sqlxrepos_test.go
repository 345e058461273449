package sqlxrepos_test

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/trezcool/capstone/core"
	"github.com/trezcool/capstone/core/notification"
	"github.com/trezcool/capstone/core/submission"
	"github.com/trezcool/capstone/core/user"
	"github.com/trezcool/capstone/storage/database/sqlxrepos"
	"github.com/trezcool/capstone/tests"
)

var (
	student = core.Identity{Email: "std@test.cd", Role: core.RoleStudent}
	admin   = core.Identity{Email: "admin@test.cd", Role: core.RoleAdmin}
	admin2  = core.Identity{Email: "admin2@test.cd", Role: core.RoleAdmin}
)

func TestAccountRepository(t *testing.T) {
	repo := sqlxrepos.NewAccountRepository(testutil.OpenDB(t))
	ctx := context.Background()
	now := time.Now()

	ada := testutil.CreateAccount(t, repo, "Ada Lovelace", "ada@test.cd", core.RoleStudent, user.StatusPending, now.Add(-time.Hour))
	bob := testutil.CreateAccount(t, repo, "Bob", "bob@test.cd", core.RoleTeacher, user.StatusApproved, now)

	assert.Equal(t, user.ErrEmailExists, repo.CheckEmailUniqueness(ctx, ada.Email))
	assert.NoError(t, repo.CheckEmailUniqueness(ctx, "new@test.cd"))

	got, err := repo.GetByEmail(ctx, bob.Email)
	require.NoError(t, err)
	assert.Equal(t, bob.ID, got.ID)
	_, err = repo.GetByID(ctx, "unknown")
	assert.Equal(t, user.ErrNotFound, err)

	tests := []struct {
		name   string
		filter user.QueryFilter
		want   []string
	}{
		{"all", user.QueryFilter{}, []string{bob.ID, ada.ID}},
		{"search", user.QueryFilter{Search: "lovelace"}, []string{ada.ID}},
		{"role", user.QueryFilter{Roles: []core.Role{core.RoleTeacher}}, []string{bob.ID}},
		{"status", user.QueryFilter{Statuses: []user.Status{user.StatusPending}}, []string{ada.ID}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			accs, err := repo.Query(ctx, tt.filter)
			require.NoError(t, err)
			ids := make([]string, 0, len(accs))
			for _, acc := range accs {
				ids = append(ids, acc.ID)
			}
			assert.Equal(t, tt.want, ids)
		})
	}

	t.Run("update status", func(t *testing.T) {
		acc, err := repo.UpdateStatus(ctx, ada.ID, user.StatusApproved, admin.Email, time.Now())
		require.NoError(t, err)
		assert.Equal(t, user.StatusApproved, acc.Status)
		assert.Equal(t, admin.Email, acc.ReviewedBy)

		_, err = repo.UpdateStatus(ctx, ada.ID, user.StatusRejected, admin.Email, time.Now())
		assert.Equal(t, user.ErrAlreadyDecided, err)
		_, err = repo.UpdateStatus(ctx, "unknown", user.StatusRejected, admin.Email, time.Now())
		assert.Equal(t, user.ErrNotFound, err)
	})
}

func TestSubmissionRepository(t *testing.T) {
	repo := sqlxrepos.NewSubmissionRepository(testutil.OpenDB(t))
	ctx := context.Background()

	sub := testutil.CreateSubmission(t, repo, "Thesis", student.Email, "adv@test.cd", submission.StatusPending)
	_ = testutil.CreateSubmission(t, repo, "Other", "std2@test.cd", "adv@test.cd", submission.StatusApproved)

	subs, err := repo.Query(ctx, submission.QueryFilter{StudentEmail: student.Email}, nil)
	require.NoError(t, err)
	require.Len(t, subs, 1)
	assert.Equal(t, sub.ID, subs[0].ID)

	subs, err = repo.Query(ctx, submission.QueryFilter{Statuses: []submission.Status{submission.StatusApproved}}, nil)
	require.NoError(t, err)
	require.Len(t, subs, 1)
	assert.Equal(t, "Other", subs[0].Title)

	entry := func(to submission.Status) submission.HistoryEntry {
		return submission.HistoryEntry{
			ID: uuid.New().String(), SubmissionID: sub.ID, From: submission.StatusPending, To: to,
			Actor: "adv@test.cd", ActorRole: core.RoleTeacher, CreatedAt: time.Now(),
		}
	}

	next := sub
	next.Status = submission.StatusRevision
	next.Comment = "fix chapter 2"
	next.UpdatedAt = time.Now()
	updated, err := repo.UpdateStatus(ctx, next, entry(submission.StatusRevision))
	require.NoError(t, err)
	assert.Equal(t, submission.StatusRevision, updated.Status)
	assert.Equal(t, "fix chapter 2", updated.Comment)
	assert.Equal(t, sub.Version+1, updated.Version)

	// stale version
	next.Status = submission.StatusApproved
	_, err = repo.UpdateStatus(ctx, next, entry(submission.StatusApproved))
	assert.Equal(t, submission.ErrConflict, err)

	missing := next
	missing.ID = "unknown"
	_, err = repo.UpdateStatus(ctx, missing, entry(submission.StatusApproved))
	assert.Equal(t, submission.ErrNotFound, err)

	history, err := repo.History(ctx, sub.ID)
	require.NoError(t, err)
	require.Len(t, history, 1, "a lost race writes no history")
	assert.Equal(t, submission.StatusRevision, history[0].To)
	assert.Equal(t, core.RoleTeacher, history[0].ActorRole)
}

func upsert(t *testing.T, repo notification.Repository, subjectID, status string, addr notification.Address) notification.Notification {
	t.Helper()
	n, err := repo.UpsertIfUnread(context.Background(),
		notification.DedupKey{SubjectID: subjectID, Kind: notification.KindStatusUpdate, Status: status, Address: addr},
		notification.Payload{Title: "Status update", Message: subjectID + " is " + status},
	)
	require.NoError(t, err)
	return n
}

func TestNotificationRepository_dedup(t *testing.T) {
	repo := sqlxrepos.NewNotificationRepository(testutil.OpenDB(t))
	ctx := context.Background()
	addr := notification.Direct(student.Email)

	first := upsert(t, repo, "s1", "revision", addr)
	assert.Equal(t, "s1", first.Payload.SubjectID)
	assert.Equal(t, addr, first.Address)
	assert.False(t, first.Read)

	again, err := repo.UpsertIfUnread(ctx,
		notification.DedupKey{SubjectID: "s1", Kind: notification.KindStatusUpdate, Status: "revision", Address: addr},
		notification.Payload{Title: "Status update", Message: "updated", Comment: "see chapter 3"},
	)
	require.NoError(t, err)
	assert.Equal(t, first.ID, again.ID)
	assert.Equal(t, "updated", again.Payload.Message)
	assert.Equal(t, "see chapter 3", again.Payload.Comment)

	assert.NotEqual(t, first.ID, upsert(t, repo, "s1", "approved", addr).ID)
	assert.NotEqual(t, first.ID, upsert(t, repo, "s1", "revision", notification.Broadcast(core.RoleAdmin)).ID)

	_, err = repo.MarkRead(ctx, first.ID, student)
	require.NoError(t, err)
	fresh := upsert(t, repo, "s1", "revision", addr)
	assert.NotEqual(t, first.ID, fresh.ID, "read records are closed")

	require.NoError(t, repo.Delete(ctx, fresh.ID, student))
	assert.NotEqual(t, fresh.ID, upsert(t, repo, "s1", "revision", addr).ID, "deleted records are closed")
}

func TestNotificationRepository_receipts(t *testing.T) {
	repo := sqlxrepos.NewNotificationRepository(testutil.OpenDB(t))
	ctx := context.Background()
	kinds := notification.KindsFor(core.RoleAdmin)

	bcast := upsert(t, repo, "s1", "pending", notification.Broadcast(core.RoleAdmin))
	direct := upsert(t, repo, "s2", "approved", notification.Direct(student.Email))

	_, err := repo.MarkRead(ctx, direct.ID, admin)
	assert.Equal(t, notification.ErrNotFound, err)
	_, err = repo.MarkRead(ctx, "unknown", admin)
	assert.Equal(t, notification.ErrNotFound, err)

	n, err := repo.MarkRead(ctx, bcast.ID, admin)
	require.NoError(t, err)
	assert.Equal(t, []string{admin.Email}, n.ReadBy)
	assert.False(t, n.IsUnreadFor(admin))
	assert.True(t, n.IsUnreadFor(admin2))

	// reading twice keeps a single receipt
	n, err = repo.MarkRead(ctx, bcast.ID, admin)
	require.NoError(t, err)
	assert.Len(t, n.ReadBy, 1)

	ns, err := repo.MarkAllRead(ctx, admin2, kinds)
	require.NoError(t, err)
	require.Len(t, ns, 1)
	assert.ElementsMatch(t, []string{admin.Email, admin2.Email}, ns[0].ReadBy)

	require.NoError(t, repo.Delete(ctx, bcast.ID, admin))
	ns, err = repo.ListVisible(ctx, admin, kinds)
	require.NoError(t, err)
	assert.Empty(t, ns)
	ns, err = repo.ListVisible(ctx, admin2, kinds)
	require.NoError(t, err)
	require.Len(t, ns, 1)
	assert.Equal(t, []string{admin.Email}, ns[0].DeletedBy)

	require.NoError(t, repo.DeleteAll(ctx, student, notification.KindsFor(core.RoleStudent)))
	stored, err := repo.Get(ctx, direct.ID)
	require.NoError(t, err)
	assert.True(t, stored.Deleted)
	ns, err = repo.ListVisible(ctx, student, notification.KindsFor(core.RoleStudent))
	require.NoError(t, err)
	assert.Empty(t, ns)
}

func TestNotificationRepository_ListVisible(t *testing.T) {
	repo := sqlxrepos.NewNotificationRepository(testutil.OpenDB(t))
	ctx := context.Background()

	older := upsert(t, repo, "s1", "approved", notification.Direct(student.Email))
	time.Sleep(5 * time.Millisecond)
	newer := upsert(t, repo, "s2", "rejected", notification.Direct(student.Email))
	_ = upsert(t, repo, "s3", "approved", notification.Direct("std2@test.cd"))

	ns, err := repo.ListVisible(ctx, student, notification.KindsFor(core.RoleStudent))
	require.NoError(t, err)
	require.Len(t, ns, 2)
	assert.Equal(t, newer.ID, ns[0].ID)
	assert.Equal(t, older.ID, ns[1].ID)

	ns, err = repo.ListVisible(ctx, student, []notification.Kind{notification.KindFeedback})
	require.NoError(t, err)
	assert.Empty(t, ns)

	ns, err = repo.ListVisible(ctx, student, nil)
	require.NoError(t, err)
	assert.Empty(t, ns)
}

func unreadFor(t *testing.T, repo notification.Repository, id core.Identity) []notification.Notification {
	t.Helper()
	ns, err := repo.ListVisible(context.Background(), id, notification.KindsFor(id.Role))
	require.NoError(t, err)
	unread := make([]notification.Notification, 0, len(ns))
	for _, n := range ns {
		if n.IsUnreadFor(id) {
			unread = append(unread, n)
		}
	}
	return unread
}

func TestNotificationRepository_supersede(t *testing.T) {
	repo := sqlxrepos.NewNotificationRepository(testutil.OpenDB(t))
	ctx := context.Background()
	addr := notification.Broadcast(core.RoleAdmin)

	first := upsert(t, repo, "s1", "pending", addr)
	_, err := repo.MarkRead(ctx, first.ID, admin)
	require.NoError(t, err)

	fresh := upsert(t, repo, "s1", "pending", addr)
	assert.NotEqual(t, first.ID, fresh.ID, "a read broadcast is closed")

	unread := unreadFor(t, repo, admin)
	require.Len(t, unread, 1)
	assert.Equal(t, fresh.ID, unread[0].ID)

	unread = unreadFor(t, repo, admin2)
	require.Len(t, unread, 1, "one unread record per key")
	assert.Equal(t, fresh.ID, unread[0].ID)

	old, err := repo.Get(ctx, first.ID)
	require.NoError(t, err)
	assert.True(t, old.Read)
	assert.Equal(t, []string{admin.Email}, old.ReadBy)

	// a delete receipt closes the record too
	require.NoError(t, repo.Delete(ctx, fresh.ID, admin2))
	latest := upsert(t, repo, "s1", "pending", addr)
	assert.NotEqual(t, fresh.ID, latest.ID)
	unread = unreadFor(t, repo, admin)
	require.Len(t, unread, 1)
	assert.Equal(t, latest.ID, unread[0].ID)

	// other keys are left alone
	other := upsert(t, repo, "s2", "pending", addr)
	assert.Len(t, unreadFor(t, repo, admin2), 2)
	stored, err := repo.Get(ctx, latest.ID)
	require.NoError(t, err)
	assert.False(t, stored.Read)
	assert.NotEqual(t, latest.ID, other.ID)
}

func TestNotificationRepository_concurrency(t *testing.T) {
	repo := sqlxrepos.NewNotificationRepository(testutil.OpenFileDB(t))
	ctx := context.Background()
	addr := notification.Direct(student.Email)
	key := notification.DedupKey{SubjectID: "s1", Kind: notification.KindStatusUpdate, Status: "revision", Address: addr}

	const workers = 40
	var (
		wg   sync.WaitGroup
		mu   sync.Mutex
		errs []error
	)
	record := func(err error) {
		if err != nil {
			mu.Lock()
			errs = append(errs, err)
			mu.Unlock()
		}
	}
	for i := 0; i < workers; i++ {
		wg.Add(2)
		go func(i int) {
			defer wg.Done()
			_, err := repo.UpsertIfUnread(ctx, key, notification.Payload{Title: "Status update", Message: fmt.Sprintf("event %d", i)})
			record(err)
		}(i)
		go func() {
			defer wg.Done()
			_, err := repo.MarkAllRead(ctx, student, notification.KindsFor(core.RoleStudent))
			record(err)
		}()
	}
	wg.Wait()
	require.Empty(t, errs)
	assert.LessOrEqual(t, len(unreadFor(t, repo, student)), 1)

	ns, err := repo.MarkAllRead(ctx, student, notification.KindsFor(core.RoleStudent))
	require.NoError(t, err)
	for _, n := range ns {
		assert.False(t, n.IsUnreadFor(student))
	}

	t.Run("concurrent upserts share one record", func(t *testing.T) {
		bkey := notification.DedupKey{SubjectID: "s2", Kind: notification.KindSubmission, Address: notification.Broadcast(core.RoleAdmin)}
		ids := make(chan string, workers)
		var wg sync.WaitGroup
		for i := 0; i < workers; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				n, err := repo.UpsertIfUnread(ctx, bkey, notification.Payload{Title: "New submission", Message: "s2"})
				record(err)
				ids <- n.ID
			}()
		}
		wg.Wait()
		close(ids)
		require.Empty(t, errs)

		seen := make(map[string]struct{})
		for id := range ids {
			seen[id] = struct{}{}
		}
		assert.Len(t, seen, 1)
	})
}
