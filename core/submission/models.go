package submission

import (
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/trezcool/capstone/core"
)

type Status string

const (
	StatusPending  Status = "pending"
	StatusApproved Status = "approved"
	StatusRejected Status = "rejected"
	StatusRevision Status = "revision"
)

var Statuses = []Status{StatusPending, StatusApproved, StatusRejected, StatusRevision}

// transitions is the review table. approved & rejected are terminal; only Reopen leaves them.
var transitions = map[Status][]Status{
	StatusPending:  {StatusApproved, StatusRejected, StatusRevision},
	StatusRevision: {StatusPending, StatusApproved, StatusRejected},
}

func (s Status) IsValid() bool {
	for _, st := range Statuses {
		if s == st {
			return true
		}
	}
	return false
}

func (s Status) IsTerminal() bool {
	return s == StatusApproved || s == StatusRejected
}

// CanTransition reports whether `to` is reachable from `s`.
func (s Status) CanTransition(to Status) bool {
	for _, st := range transitions[s] {
		if st == to {
			return true
		}
	}
	return false
}

type Submission struct {
	ID           string    `json:"id"`
	Title        string    `json:"title"`
	DocumentURL  string    `json:"document_url"`
	StudentEmail string    `json:"student_email"`
	AdviserEmail string    `json:"adviser_email"`
	Status       Status    `json:"status"`
	Comment      string    `json:"comment,omitempty"`
	ReviewedBy   string    `json:"reviewed_by,omitempty"`
	Version      int       `json:"version"`
	CreatedAt    time.Time `json:"created_at"` // UTC
	UpdatedAt    time.Time `json:"updated_at"` // UTC
}

// CanReview reports whether `actor` may move the submission through the review table.
func (s Submission) CanReview(actor core.Identity) bool {
	return actor.IsAdmin() || (actor.IsTeacher() && actor.Email == s.AdviserEmail)
}

// CanView reports whether `actor` may read the submission.
func (s Submission) CanView(actor core.Identity) bool {
	return actor.IsAdmin() || actor.Email == s.StudentEmail || actor.Email == s.AdviserEmail
}

// HistoryEntry is an append-only record of one status change.
type HistoryEntry struct {
	ID           string    `json:"id"`
	SubmissionID string    `json:"submission_id"`
	From         Status    `json:"from"`
	To           Status    `json:"to"`
	Actor        string    `json:"actor"`
	ActorRole    core.Role `json:"actor_role"`
	Comment      string    `json:"comment,omitempty"`
	CreatedAt    time.Time `json:"created_at"` // UTC
}

// NewSubmission contains information needed to submit a new document.
type NewSubmission struct {
	Title        string `json:"title" validate:"required,notblank,max=255"`
	DocumentURL  string `json:"document_url" validate:"required,url"`
	AdviserEmail string `json:"adviser_email" validate:"required,email"`
}

func (ns *NewSubmission) Validate(validate *validator.Validate) error {
	ns.Title = core.CleanString(ns.Title)
	ns.DocumentURL = core.CleanString(ns.DocumentURL)
	ns.AdviserEmail = core.CleanString(ns.AdviserEmail, true /* lower */)
	return validate.Struct(ns)
}

type TransitionRequest struct {
	Status  Status `json:"status" validate:"required,oneof=pending approved rejected revision"`
	Comment string `json:"comment" validate:"max=2000"`
}

func (tr *TransitionRequest) Validate(validate *validator.Validate) error {
	tr.Status = Status(core.CleanString(string(tr.Status), true /* lower */))
	tr.Comment = core.CleanString(tr.Comment)
	return validate.Struct(tr)
}

type ResubmitRequest struct {
	DocumentURL string `json:"document_url" validate:"required,url"`
	Note        string `json:"note" validate:"max=2000"`
}

func (rr *ResubmitRequest) Validate(validate *validator.Validate) error {
	rr.DocumentURL = core.CleanString(rr.DocumentURL)
	rr.Note = core.CleanString(rr.Note)
	return validate.Struct(rr)
}

type CommentRequest struct {
	Comment string `json:"comment" validate:"required,notblank,max=2000"`
}

func (cr *CommentRequest) Validate(validate *validator.Validate) error {
	cr.Comment = core.CleanString(cr.Comment)
	return validate.Struct(cr)
}

type QueryFilter struct {
	Search       string   `query:"search"`
	Statuses     []Status `query:"status"`
	StudentEmail string   `query:"student"`
	AdviserEmail string   `query:"adviser"`
}

func (qf *QueryFilter) Clean() {
	qf.Search = core.CleanString(qf.Search)
	qf.StudentEmail = core.CleanString(qf.StudentEmail, true /* lower */)
	qf.AdviserEmail = core.CleanString(qf.AdviserEmail, true /* lower */)
}

// Scope restricts the filter to what `actor` may see.
func (qf *QueryFilter) Scope(actor core.Identity) {
	switch actor.Role {
	case core.RoleStudent:
		qf.StudentEmail = actor.Email
	case core.RoleTeacher:
		qf.AdviserEmail = actor.Email
	}
}
