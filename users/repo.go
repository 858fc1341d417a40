package users

import "time"

type Repo interface {
	// UpsertByProvider creates or refreshes the user owning profile.Subject.
	// Concurrent calls for the same subject must resolve to the same User ID.
	UpsertByProvider(profile Profile, loginTime time.Time) (*User, error)
	GetByID(id string) (*User, error)
}
