package tests

import (
	"context"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/trezcool/capstone/core"
	"github.com/trezcool/capstone/core/notification"
	"github.com/trezcool/capstone/core/submission"
	"github.com/trezcool/capstone/tests"
)

var (
	student  = core.Identity{Email: "student@test.cd", Role: core.RoleStudent}
	student2 = core.Identity{Email: "student2@test.cd", Role: core.RoleStudent}
	adviser  = core.Identity{Email: "adviser@test.cd", Role: core.RoleTeacher}
	teacher2 = core.Identity{Email: "teacher2@test.cd", Role: core.RoleTeacher}
	admin    = core.Identity{Email: "admin@test.cd", Role: core.RoleAdmin}
)

func Test_submissionApi_create(t *testing.T) {
	app := setup(t)
	path := "/v1/submissions"

	t.Run("unauthenticated", func(t *testing.T) {
		req, rec := newRequest(http.MethodPost, path)
		app.ServeHTTP(rec, req)
		checkCodeAndData(t, httpTest{wantCode: http.StatusUnauthorized, wantData: marchallObj(t, errMissingToken)}, rec)
	})

	runHTTPTests(t, app, []httpTest{
		{
			name:     "teachers cannot submit",
			method:   http.MethodPost,
			path:     path,
			body:     []byte(`{"title": "AI", "document_url": "https://docs.test.cd/ai.pdf", "adviser_email": "adviser@test.cd"}`),
			token:    getToken(t, app.conf, adviser),
			wantCode: http.StatusForbidden,
			wantData: marchallObj(t, httpErr{Error: submission.ErrForbidden.Error()}),
		},
		{
			name:     "invalid data",
			method:   http.MethodPost,
			path:     path,
			body:     []byte(`{"title": "  ", "document_url": "not a url", "adviser_email": "nope"}`),
			token:    getToken(t, app.conf, student),
			wantCode: http.StatusBadRequest,
			wantData: marchallObj(t, map[string]string{
				"title":         "this field is required",
				"document_url":  "document_url must be a valid URL",
				"adviser_email": "adviser_email must be a valid email address",
			}),
		},
	})

	t.Run("student submits", func(t *testing.T) {
		body := []byte(`{"title": " Smart Farming ", "document_url": "https://docs.test.cd/farm.pdf", "adviser_email": "Adviser@Test.cd"}`)
		req, rec := newAuthRequest(http.MethodPost, path, getToken(t, app.conf, student), body)
		app.ServeHTTP(rec, req)
		require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

		var sub submission.Submission
		unmarshal(t, rec, &sub)
		assert.Equal(t, "Smart Farming", sub.Title)
		assert.Equal(t, student.Email, sub.StudentEmail)
		assert.Equal(t, adviser.Email, sub.AdviserEmail)
		assert.Equal(t, submission.StatusPending, sub.Status)

		// adviser (Direct) & admins (Broadcast) are told
		lst, err := app.notifRepo.ListVisible(context.Background(), adviser, notification.KindsFor(adviser.Role))
		require.NoError(t, err)
		require.Len(t, lst, 1)
		assert.Equal(t, notification.KindSubmission, lst[0].Kind)
		assert.Equal(t, sub.ID, lst[0].Payload.SubjectID)

		lst, err = app.notifRepo.ListVisible(context.Background(), admin, notification.KindsFor(admin.Role))
		require.NoError(t, err)
		require.Len(t, lst, 1)
		assert.True(t, lst[0].Address.IsBroadcast())

		lst, err = app.notifRepo.ListVisible(context.Background(), student, notification.KindsFor(student.Role))
		require.NoError(t, err)
		assert.Empty(t, lst)
	})
}

func Test_submissionApi_queryAndRetrieve(t *testing.T) {
	app := setup(t)

	sub1 := testutil.CreateSubmission(t, app.subRepo, "Alpha", student.Email, adviser.Email, submission.StatusPending)
	sub2 := testutil.CreateSubmission(t, app.subRepo, "Beta", student2.Email, adviser.Email, submission.StatusRevision)
	sub3 := testutil.CreateSubmission(t, app.subRepo, "Gamma", student2.Email, teacher2.Email, submission.StatusApproved)

	get := func(id string) submission.Submission {
		sub, err := app.subRepo.GetByID(context.Background(), id)
		require.NoError(t, err)
		return sub
	}
	s1, s2, s3 := get(sub1.ID), get(sub2.ID), get(sub3.ID)

	runHTTPTests(t, app, []httpTest{
		{
			name:     "student sees own submissions",
			method:   http.MethodGet,
			path:     "/v1/submissions",
			token:    getToken(t, app.conf, student2),
			wantCode: http.StatusOK,
			wantData: marchallList(t, s2, s3),
		},
		{
			name:     "adviser sees assigned submissions",
			method:   http.MethodGet,
			path:     "/v1/submissions?ordering=title",
			token:    getToken(t, app.conf, adviser),
			wantCode: http.StatusOK,
			wantData: marchallList(t, s1, s2),
		},
		{
			name:     "admin filters by status",
			method:   http.MethodGet,
			path:     "/v1/submissions?status=approved&status=revision",
			token:    getToken(t, app.conf, admin),
			wantCode: http.StatusOK,
			wantData: marchallList(t, s2, s3),
		},
		{
			name:     "admin searches",
			method:   http.MethodGet,
			path:     "/v1/submissions?search=alp",
			token:    getToken(t, app.conf, admin),
			wantCode: http.StatusOK,
			wantData: marchallList(t, s1),
		},
		{
			name:     "retrieve own",
			method:   http.MethodGet,
			path:     "/v1/submissions/" + sub1.ID,
			token:    getToken(t, app.conf, student),
			wantCode: http.StatusOK,
			wantData: marchallObj(t, s1),
		},
		{
			name:     "retrieve other's",
			method:   http.MethodGet,
			path:     "/v1/submissions/" + sub3.ID,
			token:    getToken(t, app.conf, student),
			wantCode: http.StatusNotFound,
			wantData: marchallObj(t, httpErr{Error: submission.ErrNotFound.Error()}),
		},
		{
			name:     "retrieve unknown",
			method:   http.MethodGet,
			path:     "/v1/submissions/unknown",
			token:    getToken(t, app.conf, admin),
			wantCode: http.StatusNotFound,
			wantData: marchallObj(t, httpErr{Error: submission.ErrNotFound.Error()}),
		},
	})
}

func Test_submissionApi_transition(t *testing.T) {
	app := setup(t)
	ctx := context.Background()

	path := func(id string) string { return "/v1/submissions/" + id + "/transition" }

	t.Run("adviser approves", func(t *testing.T) {
		sub := testutil.CreateSubmission(t, app.subRepo, "Approve me", student.Email, adviser.Email, submission.StatusPending)

		req, rec := newAuthRequest(http.MethodPost, path(sub.ID), getToken(t, app.conf, adviser),
			[]byte(`{"status": "approved", "comment": "good work"}`))
		app.ServeHTTP(rec, req)
		require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

		var got submission.Submission
		unmarshal(t, rec, &got)
		assert.Equal(t, submission.StatusApproved, got.Status)
		assert.Equal(t, "good work", got.Comment)
		assert.Equal(t, adviser.Email, got.ReviewedBy)

		// student: one Direct unread status_update
		stdLst, err := app.notifRepo.ListVisible(ctx, student, notification.KindsFor(student.Role))
		require.NoError(t, err)
		require.Len(t, stdLst, 1)
		n := stdLst[0]
		assert.Equal(t, notification.KindStatusUpdate, n.Kind)
		assert.Equal(t, notification.Direct(student.Email), n.Address)
		assert.Equal(t, "approved", n.Payload.Status)
		assert.Equal(t, "good work", n.Payload.Comment)
		assert.True(t, n.IsUnreadFor(student))

		// admins: one Broadcast unread record for the same submission
		admLst, err := app.notifRepo.ListVisible(ctx, admin, []notification.Kind{notification.KindStatusUpdate})
		require.NoError(t, err)
		require.Len(t, admLst, 1)
		assert.Equal(t, notification.Broadcast(core.RoleAdmin), admLst[0].Address)
		assert.Equal(t, sub.ID, admLst[0].Payload.SubjectID)

		// emailed to the student
		sent := app.mailSvc.Sent()
		require.Len(t, sent, 1)
		assert.Equal(t, student.Email, sent[0].To[0].Address)
		assert.Contains(t, sent[0].TextContent, "good work")

		// history
		hist, err := app.subRepo.History(ctx, sub.ID)
		require.NoError(t, err)
		require.Len(t, hist, 1)
		assert.Equal(t, submission.StatusPending, hist[0].From)
		assert.Equal(t, submission.StatusApproved, hist[0].To)
	})

	t.Run("admin approval is not broadcast to admins", func(t *testing.T) {
		sub := testutil.CreateSubmission(t, app.subRepo, "Admin approve", student2.Email, adviser.Email, submission.StatusPending)

		req, rec := newAuthRequest(http.MethodPost, path(sub.ID), getToken(t, app.conf, admin), []byte(`{"status": "approved"}`))
		app.ServeHTTP(rec, req)
		require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

		stdLst, err := app.notifRepo.ListVisible(ctx, student2, notification.KindsFor(student2.Role))
		require.NoError(t, err)
		require.Len(t, stdLst, 1)

		admLst, err := app.notifRepo.ListVisible(ctx, admin, []notification.Kind{notification.KindStatusUpdate})
		require.NoError(t, err)
		for _, n := range admLst {
			assert.NotEqual(t, sub.ID, n.Payload.SubjectID)
		}
	})

	sub := testutil.CreateSubmission(t, app.subRepo, "Guarded", student.Email, adviser.Email, submission.StatusPending)
	approved := testutil.CreateSubmission(t, app.subRepo, "Done", student.Email, adviser.Email, submission.StatusApproved)

	runHTTPTests(t, app, []httpTest{
		{
			name:     "other teacher is forbidden",
			method:   http.MethodPost,
			path:     path(sub.ID),
			body:     []byte(`{"status": "approved"}`),
			token:    getToken(t, app.conf, teacher2),
			wantCode: http.StatusForbidden,
			wantData: marchallObj(t, httpErr{Error: submission.ErrForbidden.Error()}),
		},
		{
			name:     "owner student is forbidden",
			method:   http.MethodPost,
			path:     path(sub.ID),
			body:     []byte(`{"status": "approved"}`),
			token:    getToken(t, app.conf, student),
			wantCode: http.StatusForbidden,
			wantData: marchallObj(t, httpErr{Error: submission.ErrForbidden.Error()}),
		},
		{
			name:     "terminal status",
			method:   http.MethodPost,
			path:     path(approved.ID),
			body:     []byte(`{"status": "rejected"}`),
			token:    getToken(t, app.conf, adviser),
			wantCode: http.StatusConflict,
			wantData: marchallObj(t, httpErr{Error: submission.ErrInvalidTransition.Error()}),
		},
		{
			name:     "unknown status",
			method:   http.MethodPost,
			path:     path(sub.ID),
			body:     []byte(`{"status": "archived"}`),
			token:    getToken(t, app.conf, adviser),
			wantCode: http.StatusBadRequest,
			wantData: marchallObj(t, map[string]string{"status": "status must be one of [pending approved rejected revision]"}),
		},
		{
			name:     "unknown submission",
			method:   http.MethodPost,
			path:     path("unknown"),
			body:     []byte(`{"status": "approved"}`),
			token:    getToken(t, app.conf, adviser),
			wantCode: http.StatusNotFound,
			wantData: marchallObj(t, httpErr{Error: submission.ErrNotFound.Error()}),
		},
	})

	t.Run("failed attempts emit nothing", func(t *testing.T) {
		lst, err := app.notifRepo.ListVisible(ctx, student, []notification.Kind{notification.KindStatusUpdate})
		require.NoError(t, err)
		for _, n := range lst {
			assert.NotEqual(t, sub.ID, n.Payload.SubjectID)
			assert.NotEqual(t, approved.ID, n.Payload.SubjectID)
		}
	})
}

func Test_submissionApi_reviewFlow(t *testing.T) {
	app := setup(t)
	ctx := context.Background()

	sub := testutil.CreateSubmission(t, app.subRepo, "Flow", student.Email, adviser.Email, submission.StatusPending)
	base := "/v1/submissions/" + sub.ID

	do := func(method, path string, id core.Identity, body string) (int, submission.Submission) {
		req, rec := newAuthRequest(method, path, getToken(t, app.conf, id), []byte(body))
		app.ServeHTTP(rec, req)
		var got submission.Submission
		if rec.Code == http.StatusOK {
			unmarshal(t, rec, &got)
		}
		return rec.Code, got
	}

	// adviser asks for a revision, with feedback
	code, got := do(http.MethodPost, base+"/transition", adviser, `{"status": "revision", "comment": "add references"}`)
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, submission.StatusRevision, got.Status)

	code, _ = do(http.MethodPost, base+"/comments", adviser, `{"comment": "see chapter 2"}`)
	require.Equal(t, http.StatusOK, code)

	code, _ = do(http.MethodPost, base+"/comments", student, `{"comment": "thanks"}`)
	assert.Equal(t, http.StatusForbidden, code)

	// only the owner resubmits
	code, _ = do(http.MethodPost, base+"/resubmit", student2, `{"document_url": "https://docs.test.cd/v2.pdf"}`)
	assert.Equal(t, http.StatusForbidden, code)

	code, got = do(http.MethodPost, base+"/resubmit", student, `{"document_url": "https://docs.test.cd/v2.pdf", "note": "done"}`)
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, submission.StatusPending, got.Status)
	assert.Equal(t, "https://docs.test.cd/v2.pdf", got.DocumentURL)

	code, got = do(http.MethodPost, base+"/transition", adviser, `{"status": "rejected"}`)
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, submission.StatusRejected, got.Status)

	// reopen is admin only
	code, _ = do(http.MethodPost, base+"/reopen", adviser, `{}`)
	assert.Equal(t, http.StatusForbidden, code)

	code, got = do(http.MethodPost, base+"/reopen", admin, `{"comment": "appeal accepted"}`)
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, submission.StatusPending, got.Status)

	code, _ = do(http.MethodPost, base+"/reopen", admin, `{}`)
	assert.Equal(t, http.StatusConflict, code)

	// history
	req, rec := newAuthRequest(http.MethodGet, base+"/history", getToken(t, app.conf, student))
	app.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)
	var hist []submission.HistoryEntry
	unmarshal(t, rec, &hist)
	require.Len(t, hist, 4)
	wantSteps := [][2]submission.Status{
		{submission.StatusPending, submission.StatusRevision},
		{submission.StatusRevision, submission.StatusPending},
		{submission.StatusPending, submission.StatusRejected},
		{submission.StatusRejected, submission.StatusPending},
	}
	for i, step := range wantSteps {
		assert.Equal(t, step[0], hist[i].From, "step %d", i)
		assert.Equal(t, step[1], hist[i].To, "step %d", i)
	}

	// adviser got the review_update, student the feedback
	advLst, err := app.notifRepo.ListVisible(ctx, adviser, []notification.Kind{notification.KindReviewUpdate})
	require.NoError(t, err)
	require.Len(t, advLst, 1)
	assert.Equal(t, "done", advLst[0].Payload.Comment)

	stdLst, err := app.notifRepo.ListVisible(ctx, student, []notification.Kind{notification.KindFeedback})
	require.NoError(t, err)
	require.Len(t, stdLst, 1)
	assert.Equal(t, "see chapter 2", stdLst[0].Payload.Comment)
}
