package auth

import "time"

const (
	RoleOwner = "owner"
	RoleStaff = "staff"
)

// User is the account row as stored. PasswordHash and CurrentRefreshToken
// never leave the server; see Profile.
type User struct {
	ID                  string
	Name                string
	Phone               string
	Address             string
	Email               string
	Role                string
	PasswordHash        string
	CurrentRefreshToken *string
	LastLoginAt         *time.Time
	CreatedAt           time.Time
	UpdatedAt           time.Time
}

// Profile is the client-visible projection of a User.
type Profile struct {
	ID      string `json:"id"`
	Name    string `json:"name"`
	Phone   string `json:"phone"`
	Address string `json:"address"`
	Email   string `json:"email"`
	Role    string `json:"role"`
}

func (u User) Profile() Profile {
	return Profile{
		ID:      u.ID,
		Name:    u.Name,
		Phone:   u.Phone,
		Address: u.Address,
		Email:   u.Email,
		Role:    u.Role,
	}
}

func (u User) IsOwner() bool {
	return u.Role == RoleOwner
}

// LoginAttempt tracks failed logins per email, including emails with no
// account, so a brute-force probe cannot tell the two apart.
type LoginAttempt struct {
	Email          string
	FailedAttempts int
	LockedUntil    *time.Time
}
