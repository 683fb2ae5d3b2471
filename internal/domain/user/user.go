// Package user provides the User domain entity.
package user

import "time"

// User represents a participant who may submit track requests.
type User struct {
	Username      string    `db:"username" json:"username"`            // Stable identifier (login alias)
	DisplayName   string    `db:"display_name" json:"displayName"`     // Display name
	CreatedAt     time.Time `db:"created_at" json:"createdAt"`         // Account creation time
	AccessGranted bool      `db:"access_granted" json:"accessGranted"` // Operator-controlled gate
	Served        bool      `db:"served" json:"served"`                // Already served in the current scheduling cycle
}

// New creates a new user. Access is not granted until an operator does so.
func New(username, displayName string) *User {
	if displayName == "" {
		displayName = username
	}
	return &User{
		Username:    username,
		DisplayName: displayName,
		CreatedAt:   time.Now(),
	}
}
