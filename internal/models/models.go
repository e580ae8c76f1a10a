package models

import (
	"strings"
	"time"
)

type Role string

const (
	RoleUser  Role = "USER"
	RoleAdmin Role = "ADMIN"
)

// ParseRole accepts either casing; the empty string maps to RoleUser.
func ParseRole(v string) (Role, bool) {
	switch strings.ToUpper(strings.TrimSpace(v)) {
	case "", string(RoleUser):
		return RoleUser, true
	case string(RoleAdmin):
		return RoleAdmin, true
	default:
		return "", false
	}
}

// User is the directory's view of an account. Passwords are write-only and
// never decoded into this type.
type User struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	Email     string    `json:"email"`
	Role      Role      `json:"role"`
	Status    string    `json:"status,omitempty"`
	CreatedAt time.Time `json:"createdAt"`
}

type UserDraft struct {
	Name     string `json:"name"`
	Email    string `json:"email"`
	Role     Role   `json:"role"`
	Password string `json:"password,omitempty"`
}

// EmptyUserDraft is the reset value of the add and edit forms.
func EmptyUserDraft() UserDraft {
	return UserDraft{Role: RoleUser}
}

// DraftFrom copies the editable fields of u. Password stays blank.
func DraftFrom(u User) UserDraft {
	return UserDraft{Name: u.Name, Email: u.Email, Role: u.Role}
}

type PasswordDraft struct {
	NewPassword     string `json:"new_password"`
	ConfirmPassword string `json:"confirm_password"`
}

type SessionUser struct {
	Name  string `json:"name"`
	Email string `json:"email"`
}

func (u SessionUser) IsZero() bool {
	return strings.TrimSpace(u.Name) == "" && strings.TrimSpace(u.Email) == ""
}

type Stats struct {
	Total    int `json:"total"`
	Active   int `json:"active"`
	Inactive int `json:"inactive"`
	Admins   int `json:"admins"`
}

type AuditEntry struct {
	ID        string    `json:"id"`
	Action    string    `json:"action"`
	Target    string    `json:"target"`
	Outcome   string    `json:"outcome"`
	Message   string    `json:"message,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

type AuditQuery struct {
	Action string
	Limit  int
	Offset int
}
