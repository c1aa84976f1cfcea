// Package directory reads and updates the recipient directory.
package directory

import "time"

// Role is a recipient's membership role in the directory.
type Role string

const (
	RoleAdmin  Role = "admin"
	RoleMentor Role = "mentor"
)

// Recipient is a directory entry eligible to receive broadcast email.
type Recipient struct {
	ID              string     `json:"id"`
	Email           string     `json:"email"`
	NameEN          *string    `json:"name_en,omitempty"`
	NameLocal       *string    `json:"name_local,omitempty"`
	Role            Role       `json:"role"`
	EmailSubscribed bool       `json:"email_subscribed"`
	UnsubscribedAt  *time.Time `json:"unsubscribed_at,omitempty"`
	IsActive        bool       `json:"is_active"`
}
