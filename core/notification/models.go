package notification

import (
	"time"

	"github.com/trezcool/capstone/core"
)

// Kind is the closed set of notification kinds.
type Kind string

const (
	KindSubmission      Kind = "submission"
	KindFeedback        Kind = "feedback"
	KindReviewUpdate    Kind = "review_update"
	KindProfileReminder Kind = "profile_reminder"
	KindStatusUpdate    Kind = "status_update"
	KindAdminEvent      Kind = "admin_event"
)

var AllKinds = []Kind{
	KindSubmission, KindFeedback, KindReviewUpdate, KindProfileReminder, KindStatusUpdate, KindAdminEvent,
}

func (k Kind) IsValid() bool {
	for _, kind := range AllKinds {
		if k == kind {
			return true
		}
	}
	return false
}

var roleKinds = map[core.Role][]Kind{
	core.RoleStudent: {KindFeedback, KindReviewUpdate, KindStatusUpdate, KindProfileReminder},
	core.RoleTeacher: {KindSubmission, KindFeedback, KindReviewUpdate, KindStatusUpdate, KindProfileReminder},
	core.RoleAdmin:   AllKinds,
}

// KindsFor returns the kinds a role may see, narrowed to `filter` when given.
func KindsFor(role core.Role, filter ...Kind) []Kind {
	allowed := roleKinds[role]
	if len(filter) == 0 {
		return append([]Kind(nil), allowed...)
	}
	kinds := make([]Kind, 0, len(filter))
	for _, k := range filter {
		if VisibleKind(role, k) {
			kinds = append(kinds, k)
		}
	}
	return kinds
}

func VisibleKind(role core.Role, kind Kind) bool {
	for _, k := range roleKinds[role] {
		if k == kind {
			return true
		}
	}
	return false
}

type AddressKind string

const (
	AddressDirect    AddressKind = "direct"
	AddressBroadcast AddressKind = "broadcast"
)

// Address is either Direct(email) or Broadcast(role).
type Address struct {
	Kind  AddressKind `json:"kind"`
	Value string      `json:"value"`
}

func Direct(email string) Address {
	return Address{Kind: AddressDirect, Value: core.CleanString(email, true /* lower */)}
}

func Broadcast(role core.Role) Address {
	return Address{Kind: AddressBroadcast, Value: string(role)}
}

func (a Address) IsDirect() bool    { return a.Kind == AddressDirect }
func (a Address) IsBroadcast() bool { return a.Kind == AddressBroadcast }

// Matches reports whether `id` is a recipient of `a`.
func (a Address) Matches(id core.Identity) bool {
	switch a.Kind {
	case AddressDirect:
		return a.Value == id.Email
	case AddressBroadcast:
		return a.Value == string(id.Role)
	}
	return false
}

func (a Address) String() string { return string(a.Kind) + "(" + a.Value + ")" }

type Payload struct {
	Title      string `json:"title"`
	Message    string `json:"message"`
	SubjectID  string `json:"subject_id"`
	Status     string `json:"status,omitempty"`
	Comment    string `json:"comment,omitempty"`
	ReviewedBy string `json:"reviewed_by,omitempty"`
}

// Notification is a stored record. Direct records track Read/Deleted,
// Broadcast records track the recipients that read/deleted them. A Broadcast record is Read
// once a newer record for the same key supersedes it.
type Notification struct {
	ID        string    `json:"id"`
	Kind      Kind      `json:"kind"`
	Address   Address   `json:"address"`
	Payload   Payload   `json:"payload"`
	Read      bool      `json:"read"`
	Deleted   bool      `json:"deleted"`
	ReadBy    []string  `json:"read_by,omitempty"`
	DeletedBy []string  `json:"deleted_by,omitempty"`
	CreatedAt time.Time `json:"created_at"` // UTC
	UpdatedAt time.Time `json:"updated_at"` // UTC
}

func (n Notification) Key() DedupKey {
	return DedupKey{SubjectID: n.Payload.SubjectID, Kind: n.Kind, Status: n.Payload.Status, Address: n.Address}
}

func (n Notification) IsUnreadFor(id core.Identity) bool {
	if n.Address.IsDirect() {
		return !n.Read
	}
	return !n.Read && !contains(n.ReadBy, id.Email)
}

func (n Notification) IsVisibleTo(id core.Identity) bool {
	if !n.Address.Matches(id) || !VisibleKind(id.Role, n.Kind) {
		return false
	}
	if n.Address.IsDirect() {
		return !n.Deleted
	}
	return !contains(n.DeletedBy, id.Email)
}

// ViewFor projects the record as seen by one recipient.
func (n Notification) ViewFor(id core.Identity) View {
	return View{
		ID:        n.ID,
		Kind:      n.Kind,
		Address:   n.Address,
		Payload:   n.Payload,
		Read:      !n.IsUnreadFor(id),
		CreatedAt: n.CreatedAt,
	}
}

// View is a Notification from the point of view of a single recipient.
type View struct {
	ID      string  `json:"id"`
	Kind    Kind    `json:"kind"`
	Address Address `json:"address"`
	Payload
	Read      bool      `json:"read"`
	CreatedAt time.Time `json:"created_at"`
}

// Listing is what a recipient gets back when listing its notifications.
type Listing struct {
	Notifications []View `json:"notifications"`
	Unread        int    `json:"unread"`
}

func NewListing(id core.Identity, ns []Notification) Listing {
	lst := Listing{Notifications: make([]View, 0, len(ns))}
	for _, n := range ns {
		v := n.ViewFor(id)
		if !v.Read {
			lst.Unread++
		}
		lst.Notifications = append(lst.Notifications, v)
	}
	return lst
}

func contains(list []string, s string) bool {
	for _, item := range list {
		if item == s {
			return true
		}
	}
	return false
}
