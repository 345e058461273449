package notification

// DedupKey identifies one logical event for one address.
// At most one open (unacknowledged) record exists per key: a new event for an open key
// updates that record in place, while an acknowledged record lets the next event create a fresh one.
type DedupKey struct {
	SubjectID string
	Kind      Kind
	Status    string
	Address   Address
}
