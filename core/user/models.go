package user

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
)

// Account is a registered portal account awaiting (or past) admin approval.
type Account struct {
	ID         string    `json:"id"`
	Name       string    `json:"name"`
	Email      string    `json:"email"`
	Role       core.Role `json:"role"`
	Status     Status    `json:"status"`
	ReviewedBy string    `json:"reviewed_by,omitempty"`
	CreatedAt  time.Time `json:"created_at"` // UTC
	UpdatedAt  time.Time `json:"updated_at"` // UTC
}

func (a Account) Identity() core.Identity {
	return core.Identity{Email: a.Email, Role: a.Role}
}

// NewAccount contains information needed to register an Account.
type NewAccount struct {
	Name  string    `json:"name" validate:"required,notblank,max=255"`
	Email string    `json:"email" validate:"required,email"`
	Role  core.Role `json:"role" validate:"required,oneof=student teacher"`
}

func (na *NewAccount) Validate(validate *validator.Validate, svc Service) error {
	na.Name = core.CleanString(na.Name)
	na.Email = core.CleanString(na.Email, true /* lower */)
	na.Role = core.Role(core.CleanString(string(na.Role), true /* lower */))

	if err := validate.Struct(na); err != nil {
		return err
	}
	return svc.CheckUniqueness(na.Email)
}

type DecisionRequest struct {
	Status Status `json:"status" validate:"required,oneof=approved rejected"`
}

func (dr *DecisionRequest) Validate(validate *validator.Validate) error {
	dr.Status = Status(core.CleanString(string(dr.Status), true /* lower */))
	return validate.Struct(dr)
}

type ReminderRequest struct {
	Email   string `json:"email" validate:"required,email"`
	Message string `json:"message" validate:"max=2000"`
}

func (rr *ReminderRequest) Validate(validate *validator.Validate) error {
	rr.Email = core.CleanString(rr.Email, true /* lower */)
	rr.Message = core.CleanString(rr.Message)
	return validate.Struct(rr)
}

type QueryFilter struct {
	Search   string      `query:"search"`
	Roles    []core.Role `query:"role"`
	Statuses []Status    `query:"status"`
}

func (qf *QueryFilter) Clean() {
	qf.Search = core.CleanString(qf.Search)
}
