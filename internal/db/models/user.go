// Package models - user.go defines the User model keyed by the external
// platform user id, plus the user-with-roles view used by permission checks.
package models

import "time"

// User is a platform account known to Orbit. UserID is the external numeric id.
type User struct {
	UserID     int64     `db:"user_id" json:"userId,string"`
	Username   *string   `db:"username" json:"username,omitempty"`
	Picture    *string   `db:"picture" json:"picture,omitempty"`
	Registered bool      `db:"registered" json:"registered"`
	CreatedAt  time.Time `db:"created_at" json:"createdAt"`
	UpdatedAt  time.Time `db:"updated_at" json:"updatedAt"`
}

// UserWithRoles is a user together with the roles they hold in one workspace.
type UserWithRoles struct {
	User
	Roles []*Role
}

// TopRole returns the role consulted for permission checks: the owner role
// when held, else the first role in the slice's order.
func (u *UserWithRoles) TopRole() *Role {
	return SelectTopRole(u.Roles)
}

// HoldsOwnerRole reports whether any of the user's roles is an owner role.
func (u *UserWithRoles) HoldsOwnerRole() bool {
	for _, r := range u.Roles {
		if r.IsOwnerRole {
			return true
		}
	}
	return false
}
