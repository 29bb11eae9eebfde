package model

import "context"

// ContactDirectory is the collaborator that resolves a (user, contact)
// pair to the platform address a probe is sent to, and to the
// notification target for that contact. Contact CRUD itself is out of
// scope (spec.md §1, "Out of scope: contact CRUD") — this is the narrow
// slice the Adapter factories and NotifyEdgeDetector need from it.
type ContactDirectory interface {
	// NotifyTarget reports whether notifications are enabled for this
	// contact, and if so, the email address and display label to use.
	NotifyTarget(ctx context.Context, userID, contactID int64) (email string, enabled bool, label string, err error)

	// PlatformTarget resolves the contact's address on platform (a phone
	// number for Signal/WhatsApp, unused by the mock), the identifier
	// SendProbe is addressed to.
	PlatformTarget(ctx context.Context, userID, contactID int64, platform Platform) (target string, err error)
}
