package notification

import (
	"context"
	"fmt"
	"net/mail"

	"github.com/pkg/errors"

	"github.com/trezcool/capstone/core"
)

// Subject is the kind of record an Event is about.
type Subject string

const (
	SubjectSubmission Subject = "submission"
	SubjectAccount    Subject = "account"
)

// Event is a domain event produced by a lifecycle transition.
type Event struct {
	Kind      Kind
	Subject   Subject
	SubjectID string
	Status    string
	Title     string
	Message   string
	Comment   string
	Actor     core.Identity // who triggered the event; empty for system events

	Student   string // owning student (submissions)
	Adviser   string // assigned adviser (submissions)
	Recipient string // account holder / reminder target
}

// Publisher pushes persisted records to connected sessions.
type Publisher interface {
	Publish(ns ...Notification)
}

// Targets resolves the addresses an Event fans out to.
func Targets(ev Event) []Address {
	var targets []Address
	switch ev.Kind {
	case KindStatusUpdate:
		if ev.Subject == SubjectAccount {
			targets = append(targets, Direct(ev.Recipient))
			break
		}
		targets = append(targets, Direct(ev.Student))
		// admin-performed approvals are not re-announced to admins
		if !(ev.Actor.IsAdmin() && ev.Status == "approved") {
			targets = append(targets, Broadcast(core.RoleAdmin))
		}
	case KindSubmission:
		targets = append(targets, Direct(ev.Adviser), Broadcast(core.RoleAdmin))
	case KindReviewUpdate:
		targets = append(targets, Direct(ev.Adviser))
	case KindFeedback:
		targets = append(targets, Direct(ev.Student))
	case KindProfileReminder:
		targets = append(targets, Direct(ev.Recipient))
	case KindAdminEvent:
		targets = append(targets, Broadcast(core.RoleAdmin))
	}

	// drop unaddressable targets
	valid := targets[:0]
	for _, t := range targets {
		if t.Value != "" {
			valid = append(valid, t)
		}
	}
	return valid
}

type RouterOptions struct {
	Repo      Repository
	Publisher Publisher         // optional
	MailSvc   core.EmailService // optional
	MailKinds []Kind            // Direct kinds mirrored by email
	Logger    core.Logger
}

// Router persists one record per Event target, then publishes what was stored.
type Router struct {
	repo      Repository
	publisher Publisher
	mailSvc   core.EmailService
	mailKinds []Kind
	logger    core.Logger
}

func NewRouter(opts RouterOptions) *Router {
	return &Router{
		repo:      opts.Repo,
		publisher: opts.Publisher,
		mailSvc:   opts.MailSvc,
		mailKinds: opts.MailKinds,
		logger:    opts.Logger,
	}
}

// Route fans `ev` out to its targets. A target whose write fails twice is logged and skipped;
// the returned records are the ones actually created/updated.
// The fan-out outlives `ctx`: it runs after the transition committed, even if the caller went away.
func (r *Router) Route(ctx context.Context, ev Event) []Notification {
	ctx = context.WithoutCancel(ctx)
	targets := Targets(ev)
	records := make([]Notification, 0, len(targets))
	for _, addr := range targets {
		key := DedupKey{SubjectID: ev.SubjectID, Kind: ev.Kind, Status: ev.Status, Address: addr}
		payload := Payload{
			Title:      ev.Title,
			Message:    ev.Message,
			Comment:    ev.Comment,
			ReviewedBy: ev.Actor.Email,
		}

		n, err := r.persist(ctx, key, payload)
		if err != nil {
			r.logger.Error(
				fmt.Sprintf("routing %s for %s to %s: giving up", ev.Kind, ev.SubjectID, addr),
				errors.Wrap(err, "persisting notification"),
				ev.Actor,
			)
			continue
		}
		records = append(records, n)
	}

	if r.publisher != nil && len(records) > 0 {
		r.publisher.Publish(records...)
	}
	r.mail(records)
	return records
}

// persist retries a failed write once.
func (r *Router) persist(ctx context.Context, key DedupKey, payload Payload) (Notification, error) {
	n, err := r.repo.UpsertIfUnread(ctx, key, payload)
	if err == nil {
		return n, nil
	}
	r.logger.Warn(fmt.Sprintf("persisting %s for %s: retrying", key.Kind, key.Address), err)
	n, err = r.repo.UpsertIfUnread(ctx, key, payload)
	if err != nil {
		return Notification{}, core.NewPersistenceError("upserting notification", err)
	}
	return n, nil
}

func (r *Router) mail(records []Notification) {
	if r.mailSvc == nil || len(r.mailKinds) == 0 {
		return
	}
	msgs := make([]*core.EmailMessage, 0, len(records))
	for _, n := range records {
		if !n.Address.IsDirect() || !r.mirrored(n.Kind) {
			continue
		}
		msgs = append(msgs, &core.EmailMessage{
			To:           []mail.Address{{Address: n.Address.Value}},
			Subject:      n.Payload.Title,
			TemplateName: "notification",
			TemplateData: n.Payload,
		})
	}
	if len(msgs) > 0 {
		r.mailSvc.SendMessages(msgs...)
	}
}

func (r *Router) mirrored(kind Kind) bool {
	for _, k := range r.mailKinds {
		if k == kind {
			return true
		}
	}
	return false
}
