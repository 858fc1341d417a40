package users

import (
	"time"
)

// User is an account known through an external identity provider.
// ProviderSubject is the provider's stable "sub" claim and is the upsert key.
type User struct {
	ID              string    `json:"id,omitempty"`
	ProviderSubject string    `json:"provider_subject,omitempty"`
	Email           string    `json:"email,omitempty"`
	Name            string    `json:"name,omitempty"`
	DateJoined      time.Time `json:"date_joined,omitempty"`
	LastLogin       time.Time `json:"last_login,omitempty"`
}

// Profile is the identity returned by the provider's userinfo endpoint.
type Profile struct {
	Subject string
	Email   string
	Name    string
}
